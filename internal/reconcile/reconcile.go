package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/congo-pay/paymentwall/internal/ledger"
	"github.com/congo-pay/paymentwall/internal/wallet"
)

const (
	defaultConcurrency = 8
	entryPageSize      = 500
	runTimeout         = 10 * time.Minute
)

// Kind classifies a reconciliation finding.
type Kind string

const (
	BalanceMismatch    Kind = "balance_mismatch"
	NegativeBalance    Kind = "negative_balance"
	UnbalancedTransfer Kind = "unbalanced_transfer"
	ChecksumMismatch   Kind = "checksum_mismatch"
)

// Finding is one inconsistency between wallets and the ledger.
type Finding struct {
	Kind       Kind
	WalletID   int64
	TransferID uuid.UUID
	EntryID    string
	Expected   decimal.Decimal
	Actual     decimal.Decimal
}

func (f Finding) String() string {
	switch f.Kind {
	case BalanceMismatch:
		return fmt.Sprintf("wallet %d balance %s, ledger sum %s", f.WalletID, f.Actual, f.Expected)
	case NegativeBalance:
		return fmt.Sprintf("wallet %d balance %s is negative", f.WalletID, f.Actual)
	case UnbalancedTransfer:
		return fmt.Sprintf("transfer %s entries do not net to zero", f.TransferID)
	default:
		return fmt.Sprintf("entry %s of wallet %d fails checksum", f.EntryID, f.WalletID)
	}
}

// Report summarises one run.
type Report struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Checked    int
	// Skipped counts wallets that changed while being checked.
	Skipped  int
	Findings []Finding
}

// Counts groups findings by kind, listing every kind so gauges reset to zero.
func (r Report) Counts() map[string]int {
	counts := map[string]int{
		string(BalanceMismatch):    0,
		string(NegativeBalance):    0,
		string(UnbalancedTransfer): 0,
		string(ChecksumMismatch):   0,
	}
	for _, f := range r.Findings {
		counts[string(f.Kind)]++
	}
	return counts
}

// Clean reports whether the run found nothing.
func (r Report) Clean() bool {
	return len(r.Findings) == 0
}

// Sink receives finding counts after each run.
type Sink interface {
	ReconcileFindings(counts map[string]int)
}

// Options tunes a Reconciler.
type Options struct {
	Concurrency int
	Logger      *logrus.Logger
	Sink        Sink
}

// Reconciler compares wallet balances against the ledger.
type Reconciler struct {
	wallets     wallet.Store
	ledger      ledger.Recorder
	concurrency int
	logger      *logrus.Logger
	sink        Sink
	now         func() time.Time
}

func New(wallets wallet.Store, recorder ledger.Recorder, opts Options) *Reconciler {
	r := &Reconciler{
		wallets:     wallets,
		ledger:      recorder,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
		sink:        opts.Sink,
		now:         time.Now,
	}
	if r.concurrency <= 0 {
		r.concurrency = defaultConcurrency
	}
	if r.logger == nil {
		r.logger = logrus.StandardLogger()
	}
	return r
}

// Run checks every wallet and every transfer once.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	report := Report{StartedAt: r.now()}

	wallets, err := r.wallets.List(ctx)
	if err != nil {
		return report, fmt.Errorf("list wallets: %w", err)
	}

	var mu sync.Mutex
	record := func(findings []Finding, skipped bool) {
		mu.Lock()
		defer mu.Unlock()
		report.Checked++
		if skipped {
			report.Skipped++
		}
		report.Findings = append(report.Findings, findings...)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, w := range wallets {
		g.Go(func() error {
			findings, skipped, err := r.checkWallet(gctx, w.ID)
			if err != nil {
				return fmt.Errorf("wallet %d: %w", w.ID, err)
			}
			record(findings, skipped)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	unbalanced, err := r.ledger.UnbalancedTransfers(ctx)
	if err != nil {
		return report, fmt.Errorf("unbalanced transfers: %w", err)
	}
	for _, id := range unbalanced {
		report.Findings = append(report.Findings, Finding{Kind: UnbalancedTransfer, TransferID: id})
	}

	report.FinishedAt = r.now()
	r.publish(report)
	return report, nil
}

// checkWallet compares one balance with its ledger sum. A wallet whose version
// moves during the check is skipped, since a transfer may sit between its
// balance update and its ledger append.
func (r *Reconciler) checkWallet(ctx context.Context, id int64) ([]Finding, bool, error) {
	before, err := r.wallets.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	sum, err := r.ledger.WalletSum(ctx, id)
	if err != nil {
		return nil, false, err
	}
	findings, err := r.verifyEntries(ctx, id)
	if err != nil {
		return nil, false, err
	}
	after, err := r.wallets.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}

	if after.Balance.IsNegative() {
		findings = append(findings, Finding{Kind: NegativeBalance, WalletID: id, Actual: after.Balance})
	}
	if after.Version != before.Version {
		return findings, true, nil
	}
	if !sum.Equal(after.Balance) {
		findings = append(findings, Finding{Kind: BalanceMismatch, WalletID: id, Expected: sum, Actual: after.Balance})
	}
	return findings, false, nil
}

func (r *Reconciler) verifyEntries(ctx context.Context, walletID int64) ([]Finding, error) {
	var findings []Finding
	for offset := 0; ; offset += entryPageSize {
		page, err := r.ledger.List(ctx, ledger.Filter{WalletID: walletID, Limit: entryPageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		for _, e := range page {
			if !e.Verify() {
				findings = append(findings, Finding{Kind: ChecksumMismatch, WalletID: walletID, TransferID: e.TransferID, EntryID: e.ID})
			}
		}
		if len(page) < entryPageSize {
			return findings, nil
		}
	}
}

func (r *Reconciler) publish(report Report) {
	if r.sink != nil {
		r.sink.ReconcileFindings(report.Counts())
	}
	log := r.logger.WithFields(logrus.Fields{
		"checked":  report.Checked,
		"skipped":  report.Skipped,
		"findings": len(report.Findings),
		"elapsed":  report.FinishedAt.Sub(report.StartedAt).String(),
	})
	if report.Clean() {
		log.Info("reconcile.completed")
		return
	}
	for _, f := range report.Findings {
		r.logger.WithField("kind", string(f.Kind)).Error("reconcile.finding: " + f.String())
	}
	log.Warn("reconcile.completed_with_findings")
}

// Schedule runs the reconciler on a cron spec such as "@every 15m" and
// returns the started scheduler. Overlapping runs are skipped.
func (r *Reconciler) Schedule(spec string) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		if _, err := r.Run(ctx); err != nil {
			r.logger.WithError(err).Error("reconcile.failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule reconcile %q: %w", spec, err)
	}
	c.Start()
	r.logger.WithField("schedule", spec).Info("reconcile.scheduled")
	return c, nil
}
