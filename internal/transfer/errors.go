package transfer

import (
	"errors"
	"fmt"

	"github.com/congo-pay/paymentwall/internal/limits"
)

// Kind classifies why a transfer did not commit.
type Kind int

const (
	KindInvalidRequest Kind = iota + 1
	KindWalletNotFound
	KindCurrencyMismatch
	KindInsufficientFunds
	KindLimitViolation
	KindConflict
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindWalletNotFound:
		return "wallet_not_found"
	case KindCurrencyMismatch:
		return "currency_mismatch"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindLimitViolation:
		return "limit_violation"
	case KindConflict:
		return "conflict"
	case KindInternal:
		return "internal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinels for errors.Is checks against a *Error of the same kind.
var (
	ErrInvalidRequest    = &Error{Kind: KindInvalidRequest}
	ErrWalletNotFound    = &Error{Kind: KindWalletNotFound}
	ErrCurrencyMismatch  = &Error{Kind: KindCurrencyMismatch}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds}
	ErrLimitViolation    = &Error{Kind: KindLimitViolation}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrInternal          = &Error{Kind: KindInternal}
)

// Error is the single error type returned by Coordinator.Execute.
type Error struct {
	Kind Kind
	// LimitKind is set for KindLimitViolation.
	LimitKind limits.Kind
	// WalletID names the wallet that could not be found, when known.
	WalletID int64
	Err      error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Kind == KindLimitViolation && e.LimitKind != 0 {
		msg += ": " + e.LimitKind.String()
	}
	if e.WalletID != 0 {
		msg += fmt.Sprintf(" (wallet %d)", e.WalletID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Retryable reports whether resubmitting the same request may succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindInternal || e.Kind == KindConflict
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func invalid(format string, args ...any) *Error {
	return newError(KindInvalidRequest, fmt.Errorf(format, args...))
}

// KindOf extracts the Kind of a transfer error, or KindInternal for anything else.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindInternal
}
