package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// IssuanceWalletID is the off-book account that funds opening balances in tests.
	IssuanceWalletID int64 = 0
	// IssuanceUserID owns the issuance account.
	IssuanceUserID = "issuance"
)

// SeedOpening is a test helper that records a balanced opening credit for a
// wallet, debiting the issuance account so every transfer still nets to zero.
func SeedOpening(r Recorder, walletID int64, userID string, amount decimal.Decimal, currency string) error {
	debit := Entry{
		WalletID:             IssuanceWalletID,
		UserID:               IssuanceUserID,
		CounterpartyWalletID: walletID,
		CounterpartyUserID:   userID,
		Amount:               amount.Neg(),
		BalanceAfter:         decimal.Zero,
		Currency:             currency,
	}
	credit := Entry{
		WalletID:             walletID,
		UserID:               userID,
		CounterpartyWalletID: IssuanceWalletID,
		CounterpartyUserID:   IssuanceUserID,
		Amount:               amount,
		BalanceAfter:         amount,
		Currency:             currency,
	}
	_, err := r.Append(context.Background(), uuid.New(), debit, credit)
	return err
}
