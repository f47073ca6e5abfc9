package ledger

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"
)

// Entry is one immutable, signed leg of a transfer. Debits carry a negative
// Amount and credits a positive one.
type Entry struct {
	ID                   string
	TransferID           uuid.UUID
	WalletID             int64
	UserID               string
	CounterpartyWalletID int64
	CounterpartyUserID   string
	Amount               decimal.Decimal
	BalanceAfter         decimal.Decimal
	Currency             string
	OccurredAt           time.Time
	Checksum             string
}

// Debit reports whether the entry moves funds out of its wallet.
func (e Entry) Debit() bool {
	return e.Amount.IsNegative()
}

// ComputeChecksum returns the hex blake2b-256 digest of the entry's content.
func (e Entry) ComputeChecksum() string {
	parts := []string{
		e.ID,
		e.TransferID.String(),
		strconv.FormatInt(e.WalletID, 10),
		e.UserID,
		strconv.FormatInt(e.CounterpartyWalletID, 10),
		e.CounterpartyUserID,
		e.Amount.StringFixed(4),
		e.BalanceAfter.StringFixed(4),
		e.Currency,
		strconv.FormatInt(e.OccurredAt.UTC().UnixMicro(), 10),
	}
	sum := blake2b.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether the stored checksum matches the entry content.
func (e Entry) Verify() bool {
	return e.Checksum != "" && e.Checksum == e.ComputeChecksum()
}

func newEntryID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String()
}
