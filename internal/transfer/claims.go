package transfer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ClaimStore marks a transfer id as in flight so concurrent submissions of
// the same transfer cannot both mutate balances.
type ClaimStore interface {
	Acquire(ctx context.Context, transferID uuid.UUID) (bool, error)
	Release(ctx context.Context, transferID uuid.UUID) error
}

type memoryClaims struct {
	mu     sync.Mutex
	active map[uuid.UUID]struct{}
}

// NewMemoryClaims returns a process-local claim store.
func NewMemoryClaims() ClaimStore {
	return &memoryClaims{active: make(map[uuid.UUID]struct{})}
}

func (m *memoryClaims) Acquire(_ context.Context, transferID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.active[transferID]; held {
		return false, nil
	}
	m.active[transferID] = struct{}{}
	return true, nil
}

func (m *memoryClaims) Release(_ context.Context, transferID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, transferID)
	return nil
}

const claimPrefix = "transfer:claim:"

// RedisClaims shares claims between service instances. Claims expire after
// ttl so a crashed holder cannot block its transfer forever.
type RedisClaims struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClaims builds a Redis-backed claim store.
func NewRedisClaims(client *redis.Client, ttl time.Duration) *RedisClaims {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisClaims{client: client, ttl: ttl}
}

// Acquire reserves the transfer id with SETNX.
func (r *RedisClaims) Acquire(ctx context.Context, transferID uuid.UUID) (bool, error) {
	return r.client.SetNX(ctx, claimPrefix+transferID.String(), "1", r.ttl).Result()
}

// Release drops the reservation.
func (r *RedisClaims) Release(ctx context.Context, transferID uuid.UUID) error {
	return r.client.Del(ctx, claimPrefix+transferID.String()).Err()
}
