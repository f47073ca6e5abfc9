package wallet

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no wallet exists for the requested identifier.
	ErrNotFound = errors.New("wallet not found")

	// ErrVersionConflict indicates the wallet changed since the caller read it.
	ErrVersionConflict = errors.New("wallet version conflict")

	// ErrInsufficientFunds occurs when applying a delta would drive the balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrExists is returned when a wallet id is already taken.
	ErrExists = errors.New("wallet exists")

	// ErrDuplicateCurrency indicates the owner already holds a wallet in the currency.
	ErrDuplicateCurrency = errors.New("owner already has a wallet in this currency")

	// ErrStatusUnchanged is returned when a status update would not change anything.
	ErrStatusUnchanged = errors.New("wallet already has this status")

	// ErrUnsupportedCurrency is returned for currencies outside the directory.
	ErrUnsupportedCurrency = errors.New("unsupported currency")
)

// Status is the lifecycle state of a wallet.
type Status int

const (
	StatusActive Status = iota + 1
	StatusSuspended
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusSuspended:
		return "suspended"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ParseStatus converts the textual form produced by String back to a Status.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active":
		return StatusActive, nil
	case "suspended":
		return StatusSuspended, nil
	default:
		return 0, fmt.Errorf("unknown wallet status %q", raw)
	}
}

// Wallet represents a single-currency stored value account.
type Wallet struct {
	ID        int64
	OwnerID   string
	Balance   decimal.Decimal
	Currency  string
	Status    Status
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the wallet may take part in transfers.
func (w Wallet) Active() bool {
	return w.Status == StatusActive
}

const (
	minWalletID int64 = 10_000_000
	maxWalletID int64 = 99_999_999
)

// ValidID reports whether id lies in the eight digit wallet number range.
func ValidID(id int64) bool {
	return id >= minWalletID && id <= maxWalletID
}
