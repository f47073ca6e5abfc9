package limits

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/congo-pay/paymentwall/internal/ledger"
)

const (
	dailyWindow   = 24 * time.Hour
	monthlyWindow = 30 * 24 * time.Hour
)

// WindowReader is the slice of the ledger the engine needs.
type WindowReader interface {
	OutgoingWindow(ctx context.Context, userID, currency string, from, to time.Time) (ledger.Window, error)
}

// Engine evaluates transfers against the current limit policy.
type Engine struct {
	store   Store
	windows WindowReader
}

// NewEngine builds an engine reading policies from store and history from windows.
func NewEngine(store Store, windows WindowReader) *Engine {
	return &Engine{store: store, windows: windows}
}

// Check returns nil when the transfer is allowed, a *Violation when it breaks
// the policy, or any other error when the policy or history cannot be read.
// Checks run in a fixed order and the first failure wins.
func (e *Engine) Check(ctx context.Context, userID string, amount decimal.Decimal, currency string, now time.Time) error {
	policy, ok, err := e.store.Current(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if set(policy.MaxTransfer) && amount.GreaterThan(policy.MaxTransfer) {
		return &Violation{Kind: MaxTransferExceeded}
	}
	if set(policy.MinTransfer) && amount.LessThan(policy.MinTransfer) {
		return &Violation{Kind: BelowMinTransfer}
	}

	needDaily := set(policy.DailyMaxTransfer) || policy.DailyMaxTransferCount > 0
	var daily ledger.Window
	if needDaily {
		daily, err = e.windows.OutgoingWindow(ctx, userID, currency, now.Add(-dailyWindow), now)
		if err != nil {
			return err
		}
	}

	if set(policy.DailyMaxTransfer) && daily.Sum.Add(amount).GreaterThan(policy.DailyMaxTransfer) {
		return &Violation{Kind: DailyMaxExceeded}
	}
	if set(policy.MonthlyMaxTransfer) {
		monthly, err := e.windows.OutgoingWindow(ctx, userID, currency, now.Add(-monthlyWindow), now)
		if err != nil {
			return err
		}
		if monthly.Sum.Add(amount).GreaterThan(policy.MonthlyMaxTransfer) {
			return &Violation{Kind: MonthlyMaxExceeded}
		}
	}
	if policy.DailyMaxTransferCount > 0 && daily.Count >= policy.DailyMaxTransferCount {
		return &Violation{Kind: DailyCountExceeded}
	}
	return nil
}

// Service manages the policy history.
type Service struct {
	store  Store
	logger *logrus.Logger
}

// NewService builds a policy management service.
func NewService(store Store, logger *logrus.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Publish validates and stores a new policy, which becomes current.
func (s *Service) Publish(ctx context.Context, policy Policy) (Policy, error) {
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	stored, err := s.store.Insert(ctx, policy)
	if err != nil {
		return Policy{}, err
	}
	s.logger.WithFields(logrus.Fields{
		"policy_id":     stored.ID,
		"min":           stored.MinTransfer.String(),
		"max":           stored.MaxTransfer.String(),
		"daily_max":     stored.DailyMaxTransfer.String(),
		"monthly_max":   stored.MonthlyMaxTransfer.String(),
		"daily_max_cnt": stored.DailyMaxTransferCount,
	}).Info("limits.policy_published")
	return stored, nil
}

// Current returns the active policy, if any.
func (s *Service) Current(ctx context.Context) (Policy, bool, error) {
	return s.store.Current(ctx)
}
