package limits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies which bound of the policy a transfer violated.
type Kind int

const (
	MaxTransferExceeded Kind = iota + 1
	BelowMinTransfer
	DailyMaxExceeded
	MonthlyMaxExceeded
	DailyCountExceeded
)

func (k Kind) String() string {
	switch k {
	case MaxTransferExceeded:
		return "max_transfer_exceeded"
	case BelowMinTransfer:
		return "below_min_transfer"
	case DailyMaxExceeded:
		return "daily_max_exceeded"
	case MonthlyMaxExceeded:
		return "monthly_max_exceeded"
	case DailyCountExceeded:
		return "daily_count_exceeded"
	default:
		return fmt.Sprintf("limit_kind(%d)", int(k))
	}
}

// Violation is returned by Engine.Check when a transfer breaks the policy.
type Violation struct {
	Kind Kind
}

func (v *Violation) Error() string {
	return "transfer limit violated: " + v.Kind.String()
}

// ErrInvalidPolicy is returned when a policy has inconsistent bounds.
var ErrInvalidPolicy = errors.New("invalid limit policy")

// Policy is a snapshot of the transfer limits. A zero bound disables the
// corresponding check.
type Policy struct {
	ID                    int64
	MinTransfer           decimal.Decimal
	MaxTransfer           decimal.Decimal
	DailyMaxTransfer      decimal.Decimal
	MonthlyMaxTransfer    decimal.Decimal
	DailyMaxTransferCount int
	CreatedAt             time.Time
}

// Validate checks that bounds are non-negative and min does not exceed max.
func (p Policy) Validate() error {
	for name, v := range map[string]decimal.Decimal{
		"min_transfer":         p.MinTransfer,
		"max_transfer":         p.MaxTransfer,
		"daily_max_transfer":   p.DailyMaxTransfer,
		"monthly_max_transfer": p.MonthlyMaxTransfer,
	} {
		if v.IsNegative() {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidPolicy, name)
		}
	}
	if p.DailyMaxTransferCount < 0 {
		return fmt.Errorf("%w: daily_max_transfer_count must not be negative", ErrInvalidPolicy)
	}
	if set(p.MinTransfer) && set(p.MaxTransfer) && p.MinTransfer.GreaterThan(p.MaxTransfer) {
		return fmt.Errorf("%w: min_transfer exceeds max_transfer", ErrInvalidPolicy)
	}
	return nil
}

func set(d decimal.Decimal) bool {
	return d.IsPositive()
}

// Store persists limit policies. The most recently inserted policy is current.
type Store interface {
	Current(ctx context.Context) (Policy, bool, error)
	Insert(ctx context.Context, policy Policy) (Policy, error)
}
