package transfer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/congo-pay/paymentwall/internal/currency"
	"github.com/congo-pay/paymentwall/internal/ledger"
	"github.com/congo-pay/paymentwall/internal/limits"
	"github.com/congo-pay/paymentwall/internal/middleware"
	"github.com/congo-pay/paymentwall/internal/notification"
	"github.com/congo-pay/paymentwall/internal/wallet"
)

const (
	defaultMaxRetries    = 3
	defaultFinishTimeout = 5 * time.Second
	compensationAttempts = 10
	maxAmountScale       = 4
)

// ErrTransferNotFound is returned by Lookup for unknown or foreign transfers.
var ErrTransferNotFound = errors.New("transfer not found")

// State is a step of the transfer state machine.
type State int

const (
	StateValidating State = iota + 1
	StateLimitChecking
	StateDebiting
	StateCrediting
	StateRetrying
	StateRecording
	StateCommitted
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateValidating:
		return "validating"
	case StateLimitChecking:
		return "limit_checking"
	case StateDebiting:
		return "debiting"
	case StateCrediting:
		return "crediting"
	case StateRetrying:
		return "retrying"
	case StateRecording:
		return "recording"
	case StateCommitted:
		return "committed"
	case StateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Metrics receives transfer outcomes.
type Metrics interface {
	TransferFinished(outcome, currency string, elapsed time.Duration)
	Retried()
	Compensated(ok bool)
}

type nopMetrics struct{}

func (nopMetrics) TransferFinished(string, string, time.Duration) {}
func (nopMetrics) Retried()                                       {}
func (nopMetrics) Compensated(bool)                               {}

// LimitChecker evaluates a transfer against the active limit policy.
type LimitChecker interface {
	Check(ctx context.Context, userID string, amount decimal.Decimal, currency string, now time.Time) error
}

// Options tunes a Coordinator. Zero values select defaults.
type Options struct {
	// MaxRetries bounds re-reads after a version conflict on one leg.
	MaxRetries int
	// Timeout bounds a whole transfer and the detached finishing work.
	Timeout  time.Duration
	Clock    Clock
	Logger   *logrus.Logger
	Notifier notification.Notifier
	Metrics  Metrics
	Claims   ClaimStore
}

// Request asks to move Amount from the initiating user's wallet in the
// recipient's currency to RecipientWalletID. A nil TransferID is generated.
type Request struct {
	TransferID        uuid.UUID
	InitiatingUserID  string
	RecipientWalletID int64
	Amount            decimal.Decimal
}

// Result describes a committed transfer.
type Result struct {
	TransferID        uuid.UUID
	SenderUserID      string
	SenderWalletID    int64
	RecipientUserID   string
	RecipientWalletID int64
	Amount            decimal.Decimal
	Currency          string
	SenderBalance     decimal.Decimal
	OccurredAt        time.Time
	// Replayed is set when the transfer had already been committed earlier.
	Replayed bool
}

// Coordinator validates, limits, applies and records transfers.
type Coordinator struct {
	wallets       wallet.Store
	ledger        ledger.Recorder
	limits        LimitChecker
	currencies    *currency.Directory
	maxRetries    int
	timeout       time.Duration
	finishTimeout time.Duration
	clock         Clock
	logger        *logrus.Logger
	notifier      notification.Notifier
	metrics       Metrics
	claims        ClaimStore
}

// NewCoordinator wires a coordinator over its stores.
func NewCoordinator(wallets wallet.Store, recorder ledger.Recorder, checker LimitChecker, currencies *currency.Directory, opts Options) *Coordinator {
	c := &Coordinator{
		wallets:       wallets,
		ledger:        recorder,
		limits:        checker,
		currencies:    currencies,
		maxRetries:    opts.MaxRetries,
		timeout:       opts.Timeout,
		finishTimeout: opts.Timeout,
		clock:         opts.Clock,
		logger:        opts.Logger,
		notifier:      opts.Notifier,
		metrics:       opts.Metrics,
		claims:        opts.Claims,
	}
	if c.maxRetries <= 0 {
		c.maxRetries = defaultMaxRetries
	}
	if c.finishTimeout <= 0 {
		c.finishTimeout = defaultFinishTimeout
	}
	if c.clock == nil {
		c.clock = systemClock{}
	}
	if c.logger == nil {
		c.logger = logrus.StandardLogger()
	}
	if c.metrics == nil {
		c.metrics = nopMetrics{}
	}
	if c.claims == nil {
		c.claims = NewMemoryClaims()
	}
	return c
}

type leg struct {
	state   State
	wallet  wallet.Wallet
	delta   decimal.Decimal
	after   wallet.Wallet
	applied bool
}

// Execute runs one transfer to completion. Every failure is a *Error.
func (c *Coordinator) Execute(ctx context.Context, req Request) (Result, error) {
	start := c.clock.Now()
	if req.TransferID == uuid.Nil {
		req.TransferID = uuid.New()
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	log := c.logger.WithFields(logrus.Fields{
		"transfer_id":         req.TransferID.String(),
		"user_id":             req.InitiatingUserID,
		"recipient_wallet_id": req.RecipientWalletID,
		"amount":              req.Amount.String(),
	})
	if rid := middleware.RequestIDFromContext(ctx); rid != "" {
		log = log.WithField("request_id", rid)
	}

	res, err := c.execute(ctx, req, log)

	outcome := StateCommitted.String()
	switch {
	case err != nil:
		outcome = KindOf(err).String()
		entry := log.WithFields(logrus.Fields{"state": StateRejected.String(), "reason": outcome}).WithError(err)
		if KindOf(err) == KindInternal {
			entry.Error("transfer.rejected")
		} else {
			entry.Info("transfer.rejected")
		}
	case res.Replayed:
		outcome = "replayed"
		log.Info("transfer.replayed")
	}
	c.metrics.TransferFinished(outcome, res.Currency, c.clock.Now().Sub(start))
	return res, err
}

func (c *Coordinator) execute(ctx context.Context, req Request, log *logrus.Entry) (Result, error) {
	c.enter(log, StateValidating)
	if err := validateRequest(req); err != nil {
		return Result{}, err
	}

	held, err := c.claims.Acquire(ctx, req.TransferID)
	if err != nil {
		return Result{}, internal("claim transfer", err)
	}
	if !held {
		return Result{}, newError(KindConflict, errors.New("transfer already in progress"))
	}
	defer c.release(ctx, req.TransferID, log)

	existing, err := c.ledger.ByTransfer(ctx, req.TransferID)
	if err != nil {
		return Result{}, internal("read ledger", err)
	}
	if len(existing) > 0 {
		return replay(req, existing)
	}

	sender, recipient, err := c.resolve(ctx, req)
	if err != nil {
		return Result{}, err
	}
	log = log.WithFields(logrus.Fields{"sender_wallet_id": sender.ID, "currency": recipient.Currency})

	c.enter(log, StateLimitChecking)
	if err := c.limits.Check(ctx, req.InitiatingUserID, req.Amount, recipient.Currency, c.clock.Now()); err != nil {
		var v *limits.Violation
		if errors.As(err, &v) {
			return Result{}, &Error{Kind: KindLimitViolation, LimitKind: v.Kind, Err: err}
		}
		return Result{}, internal("check limits", err)
	}

	if sender.Balance.LessThan(req.Amount) {
		return Result{}, &Error{Kind: KindInsufficientFunds, WalletID: sender.ID}
	}

	debitLeg := &leg{state: StateDebiting, wallet: sender, delta: req.Amount.Neg()}
	creditLeg := &leg{state: StateCrediting, wallet: recipient, delta: req.Amount}
	legs := []*leg{debitLeg, creditLeg}
	// Lower wallet id first so opposing transfers touch wallets in the same order.
	sort.Slice(legs, func(i, j int) bool { return legs[i].wallet.ID < legs[j].wallet.ID })

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.finishTimeout)
	defer cancel()

	// Balance writes run on finishCtx; the caller's deadline is checked between legs.
	applied := make([]*leg, 0, len(legs))
	for _, l := range legs {
		if err := ctx.Err(); err != nil {
			c.compensate(finishCtx, applied, log)
			return Result{}, internal("transfer deadline", err)
		}
		c.enter(log, l.state)
		err := c.apply(finishCtx, l, log)
		if l.applied {
			applied = append(applied, l)
		}
		if err != nil {
			c.compensate(finishCtx, applied, log)
			return Result{}, err
		}
	}

	c.enter(log, StateRecording)
	debit, credit := buildEntries(req.Amount, debitLeg.after, creditLeg.after, c.clock.Now())
	recorded, err := c.ledger.Append(finishCtx, req.TransferID, debit, credit)
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrDuplicateTransfer):
		// Another submission of this transfer id recorded first.
		c.compensate(finishCtx, applied, log)
		return replay(req, recorded)
	default:
		stored, lookupErr := c.ledger.ByTransfer(finishCtx, req.TransferID)
		if lookupErr != nil || len(stored) == 0 {
			c.compensate(finishCtx, applied, log)
			return Result{}, internal("record ledger entries", err)
		}
		if !recordedBy(stored, debit) {
			c.compensate(finishCtx, applied, log)
			return replay(req, stored)
		}
		log.WithError(err).Warn("transfer.append_reported_error_but_recorded")
		recorded = stored
	}

	res, err := resultFrom(recorded, false)
	if err != nil {
		return Result{}, err
	}
	c.enter(log, StateCommitted)
	log.WithField("sender_balance", res.SenderBalance.String()).Info("transfer.committed")
	c.notify(finishCtx, res, log)
	return res, nil
}

// Lookup returns a committed transfer visible to userID. Only the sender
// sees the resulting sender balance.
func (c *Coordinator) Lookup(ctx context.Context, userID string, transferID uuid.UUID) (Result, error) {
	entries, err := c.ledger.ByTransfer(ctx, transferID)
	if err != nil {
		return Result{}, err
	}
	debit, credit, ok := split(entries)
	if !ok || (debit.UserID != userID && credit.UserID != userID) {
		return Result{}, ErrTransferNotFound
	}
	res, err := resultFrom(entries, false)
	if err != nil {
		return Result{}, err
	}
	if debit.UserID != userID {
		res.SenderBalance = decimal.Zero
	}
	return res, nil
}

func (c *Coordinator) enter(log *logrus.Entry, s State) {
	log.WithField("state", s.String()).Debug("transfer.state")
}

func (c *Coordinator) release(ctx context.Context, transferID uuid.UUID, log *logrus.Entry) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.finishTimeout)
	defer cancel()
	if err := c.claims.Release(releaseCtx, transferID); err != nil {
		log.WithError(err).Warn("transfer.claim_release_failed")
	}
}

func validateRequest(req Request) error {
	if strings.TrimSpace(req.InitiatingUserID) == "" {
		return invalid("initiating user is required")
	}
	if req.RecipientWalletID <= 0 {
		return invalid("recipient wallet id is required")
	}
	if !req.Amount.IsPositive() {
		return invalid("amount must be greater than zero")
	}
	if !req.Amount.Equal(req.Amount.Truncate(maxAmountScale)) {
		return invalid("amount supports at most %d decimal places", maxAmountScale)
	}
	return nil
}

func (c *Coordinator) resolve(ctx context.Context, req Request) (wallet.Wallet, wallet.Wallet, error) {
	recipient, err := c.wallets.Get(ctx, req.RecipientWalletID)
	if err != nil {
		if errors.Is(err, wallet.ErrNotFound) {
			return wallet.Wallet{}, wallet.Wallet{}, &Error{Kind: KindWalletNotFound, WalletID: req.RecipientWalletID}
		}
		return wallet.Wallet{}, wallet.Wallet{}, internal("load recipient", err)
	}
	if !recipient.Active() {
		return wallet.Wallet{}, wallet.Wallet{}, invalid("recipient wallet %d is %s", recipient.ID, recipient.Status)
	}
	if !c.currencies.Supported(recipient.Currency) {
		return wallet.Wallet{}, wallet.Wallet{}, invalid("currency %s is not supported", recipient.Currency)
	}

	sender, err := c.wallets.FindByOwnerCurrency(ctx, req.InitiatingUserID, recipient.Currency)
	if err != nil {
		if !errors.Is(err, wallet.ErrNotFound) {
			return wallet.Wallet{}, wallet.Wallet{}, internal("load sender", err)
		}
		owned, listErr := c.wallets.ListByOwner(ctx, req.InitiatingUserID)
		if listErr != nil {
			return wallet.Wallet{}, wallet.Wallet{}, internal("list sender wallets", listErr)
		}
		if len(owned) > 0 {
			return wallet.Wallet{}, wallet.Wallet{}, newError(KindCurrencyMismatch,
				fmt.Errorf("sender holds no %s wallet", recipient.Currency))
		}
		return wallet.Wallet{}, wallet.Wallet{}, newError(KindWalletNotFound, errors.New("sender has no wallet"))
	}
	if !sender.Active() {
		return wallet.Wallet{}, wallet.Wallet{}, invalid("sender wallet %d is %s", sender.ID, sender.Status)
	}
	if sender.ID == recipient.ID {
		return wallet.Wallet{}, wallet.Wallet{}, invalid("cannot transfer to the sending wallet")
	}
	return sender, recipient, nil
}

// apply performs one leg, re-reading the wallet after each version conflict
// up to maxRetries times. l.applied is set whenever the balance changed, even
// if an error is returned.
func (c *Coordinator) apply(ctx context.Context, l *leg, log *logrus.Entry) error {
	current := l.wallet
	for retries := 0; ; retries++ {
		updated, err := c.wallets.ApplyDelta(ctx, current.ID, l.delta, current.Version)
		if err == nil {
			l.after, l.applied = updated, true
			return nil
		}
		switch {
		case errors.Is(err, wallet.ErrVersionConflict):
		case errors.Is(err, wallet.ErrInsufficientFunds):
			return &Error{Kind: KindInsufficientFunds, WalletID: current.ID}
		case errors.Is(err, wallet.ErrNotFound):
			return &Error{Kind: KindWalletNotFound, WalletID: current.ID}
		default:
			if c.landed(ctx, l, current) {
				log.WithError(err).WithField("wallet_id", current.ID).Warn("transfer.apply_reported_error_but_landed")
			}
			return internal("apply balance change", err)
		}

		if retries >= c.maxRetries {
			return &Error{Kind: KindConflict, WalletID: current.ID, Err: errors.New("retry budget exhausted")}
		}
		c.metrics.Retried()
		log.WithFields(logrus.Fields{"state": StateRetrying.String(), "wallet_id": current.ID, "retry": retries + 1}).Debug("transfer.state")

		current, err = c.wallets.Get(ctx, current.ID)
		if err != nil {
			return internal("reload wallet", err)
		}
		if !current.Active() {
			return invalid("wallet %d is %s", current.ID, current.Status)
		}
	}
}

// landed re-reads the wallet after an ApplyDelta of unknown outcome and marks
// the leg applied when exactly this delta was written on top of before.
func (c *Coordinator) landed(ctx context.Context, l *leg, before wallet.Wallet) bool {
	got, err := c.wallets.Get(ctx, before.ID)
	if err != nil {
		return false
	}
	if got.Version != before.Version+1 || !got.Balance.Equal(before.Balance.Add(l.delta)) {
		return false
	}
	l.after, l.applied = got, true
	return true
}

// compensate reverses applied legs, newest first.
func (c *Coordinator) compensate(ctx context.Context, applied []*leg, log *logrus.Entry) {
	for i := len(applied) - 1; i >= 0; i-- {
		l := applied[i]
		err := c.reverse(ctx, l)
		c.metrics.Compensated(err == nil)
		entry := log.WithFields(logrus.Fields{"wallet_id": l.after.ID, "delta": l.delta.Neg().String()})
		if err != nil {
			entry.WithError(err).Error("transfer.compensation_failed")
			continue
		}
		entry.Warn("transfer.compensated")
	}
}

func (c *Coordinator) reverse(ctx context.Context, l *leg) error {
	current := l.after
	for attempt := 0; attempt < compensationAttempts; attempt++ {
		_, err := c.wallets.ApplyDelta(ctx, current.ID, l.delta.Neg(), current.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, wallet.ErrVersionConflict) {
			return err
		}
		if current, err = c.wallets.Get(ctx, current.ID); err != nil {
			return err
		}
	}
	return fmt.Errorf("reverse wallet %d: %w", current.ID, wallet.ErrVersionConflict)
}

func (c *Coordinator) notify(ctx context.Context, res Result, log *logrus.Entry) {
	if c.notifier == nil {
		return
	}
	msg, err := notification.NewTransferMessage(notification.TransferEvent{
		TransferID:        res.TransferID.String(),
		SenderUserID:      res.SenderUserID,
		SenderWalletID:    res.SenderWalletID,
		RecipientUserID:   res.RecipientUserID,
		RecipientWalletID: res.RecipientWalletID,
		Amount:            res.Amount,
		Currency:          res.Currency,
		OccurredAt:        res.OccurredAt,
	})
	if err == nil {
		err = c.notifier.Send(ctx, msg)
	}
	if err != nil {
		log.WithError(err).Warn("transfer.notification_failed")
	}
}

func buildEntries(amount decimal.Decimal, sender, recipient wallet.Wallet, at time.Time) (ledger.Entry, ledger.Entry) {
	debit := ledger.Entry{
		WalletID:             sender.ID,
		UserID:               sender.OwnerID,
		CounterpartyWalletID: recipient.ID,
		CounterpartyUserID:   recipient.OwnerID,
		Amount:               amount.Neg(),
		BalanceAfter:         sender.Balance,
		Currency:             sender.Currency,
		OccurredAt:           at,
	}
	credit := ledger.Entry{
		WalletID:             recipient.ID,
		UserID:               recipient.OwnerID,
		CounterpartyWalletID: sender.ID,
		CounterpartyUserID:   sender.OwnerID,
		Amount:               amount,
		BalanceAfter:         recipient.Balance,
		Currency:             recipient.Currency,
		OccurredAt:           at,
	}
	return debit, credit
}

// recordedBy reports whether stored entries are the ones this attempt wrote.
func recordedBy(stored []ledger.Entry, debit ledger.Entry) bool {
	d, _, ok := split(stored)
	return ok && d.WalletID == debit.WalletID &&
		d.BalanceAfter.Equal(debit.BalanceAfter) &&
		d.OccurredAt.Equal(debit.OccurredAt.UTC().Truncate(time.Microsecond))
}

func replay(req Request, entries []ledger.Entry) (Result, error) {
	debit, credit, ok := split(entries)
	if !ok {
		return Result{}, internal("replay", fmt.Errorf("transfer %s has malformed ledger entries", req.TransferID))
	}
	if debit.UserID != req.InitiatingUserID || credit.WalletID != req.RecipientWalletID || !credit.Amount.Equal(req.Amount) {
		return Result{}, invalid("transfer id %s was already used for a different transfer", req.TransferID)
	}
	return resultFrom(entries, true)
}

func resultFrom(entries []ledger.Entry, replayed bool) (Result, error) {
	debit, credit, ok := split(entries)
	if !ok {
		return Result{}, internal("build result", errors.New("unexpected ledger entries"))
	}
	return Result{
		TransferID:        debit.TransferID,
		SenderUserID:      debit.UserID,
		SenderWalletID:    debit.WalletID,
		RecipientUserID:   credit.UserID,
		RecipientWalletID: credit.WalletID,
		Amount:            credit.Amount,
		Currency:          credit.Currency,
		SenderBalance:     debit.BalanceAfter,
		OccurredAt:        debit.OccurredAt,
		Replayed:          replayed,
	}, nil
}

func split(entries []ledger.Entry) (debit, credit ledger.Entry, ok bool) {
	if len(entries) != 2 {
		return ledger.Entry{}, ledger.Entry{}, false
	}
	debit, credit = entries[0], entries[1]
	if credit.Debit() {
		debit, credit = credit, debit
	}
	return debit, credit, debit.Debit() && !credit.Debit()
}

func internal(op string, err error) *Error {
	return newError(KindInternal, fmt.Errorf("%s: %w", op, err))
}
