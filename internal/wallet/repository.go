package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Store persists wallets and applies balance mutations atomically.
type Store interface {
	Create(ctx context.Context, wallet Wallet) error
	Get(ctx context.Context, id int64) (Wallet, error)
	FindByOwnerCurrency(ctx context.Context, ownerID, currency string) (Wallet, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Wallet, error)
	List(ctx context.Context) ([]Wallet, error)
	// ApplyDelta adds delta to the balance when the stored version equals
	// expectedVersion and the result stays non-negative, bumping the version.
	ApplyDelta(ctx context.Context, id int64, delta decimal.Decimal, expectedVersion int64) (Wallet, error)
	SetStatus(ctx context.Context, id int64, status Status) (Wallet, error)
}

// PostgresStore stores wallets in PostgreSQL.
type PostgresStore struct {
	db  *pgxpool.Pool
	now func() time.Time
}

// NewPostgresStore builds a store backed by PostgreSQL.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

const walletColumns = `id, owner_id, balance::text, currency, status, version, created_at, updated_at`

// Create inserts a wallet record.
func (s *PostgresStore) Create(ctx context.Context, wallet Wallet) error {
	_, err := s.db.Exec(ctx, `INSERT INTO wallets (id, owner_id, balance, currency, status, version, created_at, updated_at)
        VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8)`,
		wallet.ID, wallet.OwnerID, wallet.Balance.String(), wallet.Currency, int(wallet.Status),
		wallet.Version, wallet.CreatedAt.UTC(), wallet.UpdatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == "wallets_owner_currency_key" {
				return ErrDuplicateCurrency
			}
			return ErrExists
		}
		return err
	}
	return nil
}

// Get fetches a wallet by identifier.
func (s *PostgresStore) Get(ctx context.Context, id int64) (Wallet, error) {
	row := s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id)
	return scanWallet(row)
}

// FindByOwnerCurrency returns the owner's wallet in the given currency.
func (s *PostgresStore) FindByOwnerCurrency(ctx context.Context, ownerID, currency string) (Wallet, error) {
	row := s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE owner_id = $1 AND currency = $2`, ownerID, currency)
	return scanWallet(row)
}

// ListByOwner returns every wallet held by the owner ordered by id.
func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID string) ([]Wallet, error) {
	return s.query(ctx, `SELECT `+walletColumns+` FROM wallets WHERE owner_id = $1 ORDER BY id`, ownerID)
}

// List returns all wallets ordered by id.
func (s *PostgresStore) List(ctx context.Context) ([]Wallet, error) {
	return s.query(ctx, `SELECT `+walletColumns+` FROM wallets ORDER BY id`)
}

// ApplyDelta performs the conditional balance update in a single statement.
func (s *PostgresStore) ApplyDelta(ctx context.Context, id int64, delta decimal.Decimal, expectedVersion int64) (Wallet, error) {
	const query = `
        UPDATE wallets
        SET balance = balance + $1::numeric,
            version = version + 1,
            updated_at = $4
        WHERE id = $2 AND version = $3 AND balance + $1::numeric >= 0
        RETURNING ` + walletColumns

	row := s.db.QueryRow(ctx, query, delta.String(), id, expectedVersion, s.now().UTC())
	w, err := scanWallet(row)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Wallet{}, err
	}

	// No row matched: work out which guard rejected the update.
	current, err := s.Get(ctx, id)
	if err != nil {
		return Wallet{}, err
	}
	if current.Version != expectedVersion {
		return Wallet{}, ErrVersionConflict
	}
	return Wallet{}, ErrInsufficientFunds
}

// SetStatus updates the wallet status and bumps its version.
func (s *PostgresStore) SetStatus(ctx context.Context, id int64, status Status) (Wallet, error) {
	const query = `
        UPDATE wallets
        SET status = $1, version = version + 1, updated_at = $3
        WHERE id = $2 AND status <> $1
        RETURNING ` + walletColumns

	row := s.db.QueryRow(ctx, query, int(status), id, s.now().UTC())
	w, err := scanWallet(row)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Wallet{}, err
	}
	if _, err := s.Get(ctx, id); err != nil {
		return Wallet{}, err
	}
	return Wallet{}, ErrStatusUnchanged
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...any) ([]Wallet, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var (
		w       Wallet
		balance string
		status  int
	)
	if err := row.Scan(&w.ID, &w.OwnerID, &balance, &w.Currency, &status, &w.Version, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, err
	}
	amount, err := decimal.NewFromString(balance)
	if err != nil {
		return Wallet{}, fmt.Errorf("parse balance for wallet %d: %w", w.ID, err)
	}
	w.Balance = amount
	w.Status = Status(status)
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, nil
}
