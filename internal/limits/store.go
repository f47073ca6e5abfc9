package limits

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type memoryStore struct {
	mu       sync.RWMutex
	policies []Policy
}

// NewMemoryStore constructs an in-memory policy store.
func NewMemoryStore() Store {
	return &memoryStore{}
}

func (s *memoryStore) Current(_ context.Context) (Policy, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.policies) == 0 {
		return Policy{}, false, nil
	}
	return s.policies[len(s.policies)-1], true, nil
}

func (s *memoryStore) Insert(_ context.Context, policy Policy) (Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	policy.ID = int64(len(s.policies) + 1)
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = time.Now().UTC()
	}
	s.policies = append(s.policies, policy)
	return policy, nil
}

// PostgresStore keeps the policy history in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore builds a policy store backed by PostgreSQL.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Current returns the newest policy, if any.
func (s *PostgresStore) Current(ctx context.Context) (Policy, bool, error) {
	const query = `
        SELECT id, min_transfer::text, max_transfer::text, daily_max_transfer::text,
               monthly_max_transfer::text, daily_max_transfer_count, created_at
        FROM limit_policies
        ORDER BY id DESC
        LIMIT 1`
	var (
		p                        Policy
		minT, maxT, daily, month string
	)
	err := s.db.QueryRow(ctx, query).Scan(&p.ID, &minT, &maxT, &daily, &month, &p.DailyMaxTransferCount, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Policy{}, false, nil
		}
		return Policy{}, false, err
	}
	for _, f := range []struct {
		raw string
		dst *decimal.Decimal
	}{{minT, &p.MinTransfer}, {maxT, &p.MaxTransfer}, {daily, &p.DailyMaxTransfer}, {month, &p.MonthlyMaxTransfer}} {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return Policy{}, false, fmt.Errorf("parse policy %d: %w", p.ID, err)
		}
		*f.dst = v
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, true, nil
}

// Insert stores a new policy which becomes current.
func (s *PostgresStore) Insert(ctx context.Context, policy Policy) (Policy, error) {
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRow(ctx, `INSERT INTO limit_policies (min_transfer, max_transfer, daily_max_transfer,
            monthly_max_transfer, daily_max_transfer_count, created_at)
        VALUES ($1::numeric, $2::numeric, $3::numeric, $4::numeric, $5, $6)
        RETURNING id`,
		policy.MinTransfer.String(), policy.MaxTransfer.String(), policy.DailyMaxTransfer.String(),
		policy.MonthlyMaxTransfer.String(), policy.DailyMaxTransferCount, policy.CreatedAt.UTC()).Scan(&policy.ID)
	if err != nil {
		return Policy{}, err
	}
	return policy, nil
}
