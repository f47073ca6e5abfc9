package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrDuplicateTransfer indicates entries already exist for the transfer id
	// and therefore the operation should be treated as idempotent.
	ErrDuplicateTransfer = errors.New("duplicate transfer")

	// ErrUnbalanced is returned when a debit/credit pair does not net to zero
	// or mixes currencies.
	ErrUnbalanced = errors.New("ledger entries are not balanced")
)

const (
	// DefaultWindow is the look-back applied to listings without an explicit range.
	DefaultWindow = 30 * 24 * time.Hour
	// MaxPageSize caps the number of entries returned by a single listing.
	MaxPageSize = 50
)

// Window aggregates a user's outgoing entries over a time range.
type Window struct {
	Sum   decimal.Decimal
	Count int
}

// Filter narrows an entry listing. Zero values mean "no constraint", except
// Limit which falls back to MaxPageSize after Normalize.
type Filter struct {
	WalletID int64
	UserID   string
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// Normalize applies the listing defaults relative to now: a thirty day range
// when no bounds are set and a page size within (0, MaxPageSize].
func (f Filter) Normalize(now time.Time) Filter {
	if f.To.IsZero() {
		f.To = now
	}
	if f.From.IsZero() {
		f.From = f.To.Add(-DefaultWindow)
	}
	if f.Limit <= 0 || f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Recorder defines the contract implemented by ledger backends (e.g. Postgres).
type Recorder interface {
	// Append stores the debit/credit pair for transferID in one atomic write.
	// If entries already exist for the transfer they are returned together with
	// ErrDuplicateTransfer.
	Append(ctx context.Context, transferID uuid.UUID, debit, credit Entry) ([]Entry, error)
	// ByTransfer returns the entries recorded for transferID, or none.
	ByTransfer(ctx context.Context, transferID uuid.UUID) ([]Entry, error)
	// OutgoingWindow sums the user's debits in currency with OccurredAt in [from, to).
	OutgoingWindow(ctx context.Context, userID, currency string, from, to time.Time) (Window, error)
	// WalletSum returns the sum of every entry posted to the wallet.
	WalletSum(ctx context.Context, walletID int64) (decimal.Decimal, error)
	// List returns entries matching the filter, newest first.
	List(ctx context.Context, filter Filter) ([]Entry, error)
	// UnbalancedTransfers returns transfer ids whose entries do not form a
	// balanced single-currency pair.
	UnbalancedTransfers(ctx context.Context) ([]uuid.UUID, error)
}

func validatePair(debit, credit Entry) error {
	if !debit.Amount.IsNegative() || !credit.Amount.IsPositive() {
		return ErrUnbalanced
	}
	if !debit.Amount.Add(credit.Amount).IsZero() {
		return ErrUnbalanced
	}
	if debit.Currency == "" || debit.Currency != credit.Currency {
		return ErrUnbalanced
	}
	return nil
}

// prepare fills the generated fields of an entry about to be written.
func prepare(e Entry, transferID uuid.UUID, now time.Time) Entry {
	e.TransferID = transferID
	if e.OccurredAt.IsZero() {
		e.OccurredAt = now
	}
	e.OccurredAt = e.OccurredAt.UTC().Truncate(time.Microsecond)
	e.ID = newEntryID(e.OccurredAt)
	e.Checksum = e.ComputeChecksum()
	return e
}
