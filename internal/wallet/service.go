package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/congo-pay/paymentwall/internal/currency"
	"github.com/congo-pay/paymentwall/internal/ledger"
)

const (
	maxIDAttempts = 10
	recentEntries = 5
)

// Service exposes wallet lifecycle and read operations.
type Service struct {
	store      Store
	entries    ledger.Recorder
	currencies *currency.Directory
	logger     *logrus.Logger
	newID      func() int64
	now        func() time.Time
}

// NewService builds a wallet service instance.
func NewService(store Store, entries ledger.Recorder, currencies *currency.Directory, logger *logrus.Logger) *Service {
	return &Service{
		store:      store,
		entries:    entries,
		currencies: currencies,
		logger:     logger,
		newID:      randomID,
		now:        time.Now,
	}
}

// CreateInput captures data required to create a wallet.
type CreateInput struct {
	OwnerID  string
	Currency string
}

// Details is a wallet together with its most recent ledger activity.
type Details struct {
	Wallet Wallet
	Recent []ledger.Entry
}

// Create opens an empty, active wallet for the owner in the requested currency.
func (s *Service) Create(ctx context.Context, input CreateInput) (Wallet, error) {
	if input.OwnerID == "" {
		return Wallet{}, errors.New("owner id is required")
	}
	code := currency.Normalize(input.Currency)
	if !s.currencies.Supported(code) {
		return Wallet{}, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, input.Currency)
	}

	if _, err := s.store.FindByOwnerCurrency(ctx, input.OwnerID, code); err == nil {
		return Wallet{}, ErrDuplicateCurrency
	} else if !errors.Is(err, ErrNotFound) {
		return Wallet{}, err
	}

	now := s.now().UTC()
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		w := Wallet{
			ID:        s.newID(),
			OwnerID:   input.OwnerID,
			Balance:   decimal.Zero,
			Currency:  code,
			Status:    StatusActive,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err := s.store.Create(ctx, w)
		if err == nil {
			s.logger.WithFields(logrus.Fields{
				"wallet_id": w.ID,
				"owner_id":  w.OwnerID,
				"currency":  w.Currency,
			}).Info("wallet.created")
			return w, nil
		}
		if !errors.Is(err, ErrExists) {
			return Wallet{}, err
		}
	}
	return Wallet{}, fmt.Errorf("allocate wallet id: %w", ErrExists)
}

// Get retrieves a wallet by id.
func (s *Service) Get(ctx context.Context, id int64) (Wallet, error) {
	return s.store.Get(ctx, id)
}

// ListByOwner returns the owner's wallets.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]Wallet, error) {
	return s.store.ListByOwner(ctx, ownerID)
}

// Details returns the owner's wallet with its latest entries. Wallets owned
// by someone else are reported as not found.
func (s *Service) Details(ctx context.Context, ownerID string, id int64) (Details, error) {
	w, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return Details{}, err
	}
	recent, err := s.entries.List(ctx, ledger.Filter{WalletID: id, Limit: recentEntries})
	if err != nil {
		return Details{}, err
	}
	return Details{Wallet: w, Recent: recent}, nil
}

// History pages through the ledger entries of an owned wallet.
func (s *Service) History(ctx context.Context, ownerID string, id int64, filter ledger.Filter) ([]ledger.Entry, error) {
	if _, err := s.owned(ctx, ownerID, id); err != nil {
		return nil, err
	}
	filter.WalletID = id
	filter.UserID = ""
	return s.entries.List(ctx, filter.Normalize(s.now().UTC()))
}

// Summary totals the owner's income and expense per currency. Zero bounds
// default to the last 30 days.
func (s *Service) Summary(ctx context.Context, ownerID string, from, to time.Time) ([]ledger.Summary, error) {
	window := ledger.Filter{From: from, To: to}.Normalize(s.now().UTC())
	return ledger.Summarize(ctx, s.entries, ownerID, window.From, window.To)
}

// SetStatus moves a wallet between active and suspended.
func (s *Service) SetStatus(ctx context.Context, id int64, status Status) (Wallet, error) {
	if status != StatusActive && status != StatusSuspended {
		return Wallet{}, fmt.Errorf("invalid status %s", status)
	}
	w, err := s.store.SetStatus(ctx, id, status)
	if err != nil {
		return Wallet{}, err
	}
	s.logger.WithFields(logrus.Fields{
		"wallet_id": id,
		"status":    status.String(),
	}).Info("wallet.status_changed")
	return w, nil
}

func (s *Service) owned(ctx context.Context, ownerID string, id int64) (Wallet, error) {
	w, err := s.store.Get(ctx, id)
	if err != nil {
		return Wallet{}, err
	}
	if w.OwnerID != ownerID {
		return Wallet{}, ErrNotFound
	}
	return w, nil
}

func randomID() int64 {
	return minWalletID + rand.Int64N(maxWalletID-minWalletID+1)
}
