package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresLedger persists ledger entries in PostgreSQL ensuring double-entry balance.
type PostgresLedger struct {
	db  *pgxpool.Pool
	now func() time.Time
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db, now: time.Now}
}

const entryColumns = `id, transfer_id, wallet_id, user_id, counterparty_wallet_id, counterparty_user_id,
        amount::text, balance_after::text, currency, occurred_at, checksum`

// Append records a balanced pair of entries for the transfer.
func (l *PostgresLedger) Append(ctx context.Context, transferID uuid.UUID, debit, credit Entry) ([]Entry, error) {
	if err := validatePair(debit, credit); err != nil {
		return nil, err
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	now := l.now()
	tag, err := tx.Exec(ctx, `INSERT INTO ledger_transfers (transfer_id, currency, created_at)
        VALUES ($1, $2, $3) ON CONFLICT (transfer_id) DO NOTHING`, transferID, debit.Currency, now.UTC())
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		if err := tx.Rollback(ctx); err != nil {
			return nil, err
		}
		existing, err := l.ByTransfer(ctx, transferID)
		if err != nil {
			return nil, err
		}
		return existing, ErrDuplicateTransfer
	}

	debit = prepare(debit, transferID, now)
	credit = prepare(credit, transferID, now)
	for _, e := range []Entry{debit, credit} {
		if _, err := tx.Exec(ctx, `INSERT INTO ledger_entries (id, transfer_id, wallet_id, user_id,
            counterparty_wallet_id, counterparty_user_id, amount, balance_after, currency, occurred_at, checksum)
            VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9, $10, $11)`,
			e.ID, e.TransferID, e.WalletID, e.UserID, e.CounterpartyWalletID, e.CounterpartyUserID,
			e.Amount.String(), e.BalanceAfter.String(), e.Currency, e.OccurredAt, e.Checksum); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return []Entry{debit, credit}, nil
}

// ByTransfer returns the entries recorded for the transfer, debit first.
func (l *PostgresLedger) ByTransfer(ctx context.Context, transferID uuid.UUID) ([]Entry, error) {
	return l.query(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE transfer_id = $1 ORDER BY amount ASC`, transferID)
}

// OutgoingWindow sums the user's debits in the currency within [from, to).
func (l *PostgresLedger) OutgoingWindow(ctx context.Context, userID, currency string, from, to time.Time) (Window, error) {
	const query = `
        SELECT COALESCE(SUM(-amount), 0)::text, COUNT(*)
        FROM ledger_entries
        WHERE user_id = $1 AND currency = $2 AND amount < 0
          AND occurred_at >= $3 AND occurred_at < $4`
	var (
		sum   string
		count int
	)
	if err := l.db.QueryRow(ctx, query, userID, currency, from.UTC(), to.UTC()).Scan(&sum, &count); err != nil {
		return Window{}, err
	}
	amount, err := decimal.NewFromString(sum)
	if err != nil {
		return Window{}, fmt.Errorf("parse outgoing sum: %w", err)
	}
	return Window{Sum: amount, Count: count}, nil
}

// WalletSum returns the summed entries for the wallet.
func (l *PostgresLedger) WalletSum(ctx context.Context, walletID int64) (decimal.Decimal, error) {
	var sum string
	if err := l.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0)::text FROM ledger_entries WHERE wallet_id = $1`, walletID).Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(sum)
}

// List returns entries matching the filter, newest first.
func (l *PostgresLedger) List(ctx context.Context, filter Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.WalletID != 0 {
		add("wallet_id = $%d", filter.WalletID)
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if !filter.From.IsZero() {
		add("occurred_at >= $%d", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		add("occurred_at < $%d", filter.To.UTC())
	}

	query := `SELECT ` + entryColumns + ` FROM ledger_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY occurred_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return l.query(ctx, query, args...)
}

// UnbalancedTransfers lists transfers whose entries do not net to zero in a single currency.
func (l *PostgresLedger) UnbalancedTransfers(ctx context.Context) ([]uuid.UUID, error) {
	const query = `
        SELECT t.transfer_id
        FROM ledger_transfers t
        LEFT JOIN ledger_entries e ON e.transfer_id = t.transfer_id
        GROUP BY t.transfer_id
        HAVING COUNT(e.id) <> 2
            OR COALESCE(SUM(e.amount), 0) <> 0
            OR COUNT(DISTINCT e.currency) <> 1
        ORDER BY t.transfer_id`
	rows, err := l.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (l *PostgresLedger) query(ctx context.Context, sql string, args ...any) ([]Entry, error) {
	rows, err := l.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			e            Entry
			amount       string
			balanceAfter string
		)
		if err := rows.Scan(&e.ID, &e.TransferID, &e.WalletID, &e.UserID, &e.CounterpartyWalletID,
			&e.CounterpartyUserID, &amount, &balanceAfter, &e.Currency, &e.OccurredAt, &e.Checksum); err != nil {
			return nil, err
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse amount for entry %s: %w", e.ID, err)
		}
		if e.BalanceAfter, err = decimal.NewFromString(balanceAfter); err != nil {
			return nil, fmt.Errorf("parse balance for entry %s: %w", e.ID, err)
		}
		e.OccurredAt = e.OccurredAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
