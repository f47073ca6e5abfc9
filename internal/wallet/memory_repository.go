package wallet

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type memoryStore struct {
	mu      sync.RWMutex
	storage map[int64]Wallet
	now     func() time.Time
}

// NewMemoryStore constructs an in-memory store for tests and development.
func NewMemoryStore() Store {
	return &memoryStore{storage: make(map[int64]Wallet), now: time.Now}
}

func (s *memoryStore) Create(_ context.Context, wallet Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.storage[wallet.ID]; exists {
		return ErrExists
	}
	for _, w := range s.storage {
		if w.OwnerID == wallet.OwnerID && w.Currency == wallet.Currency {
			return ErrDuplicateCurrency
		}
	}
	s.storage[wallet.ID] = wallet
	return nil
}

func (s *memoryStore) Get(_ context.Context, id int64) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wallet, ok := s.storage[id]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return wallet, nil
}

func (s *memoryStore) FindByOwnerCurrency(_ context.Context, ownerID, currency string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.storage {
		if w.OwnerID == ownerID && w.Currency == currency {
			return w, nil
		}
	}
	return Wallet{}, ErrNotFound
}

func (s *memoryStore) ListByOwner(_ context.Context, ownerID string) ([]Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Wallet
	for _, w := range s.storage {
		if w.OwnerID == ownerID {
			out = append(out, w)
		}
	}
	sortByID(out)
	return out, nil
}

func (s *memoryStore) List(_ context.Context) ([]Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Wallet, 0, len(s.storage))
	for _, w := range s.storage {
		out = append(out, w)
	}
	sortByID(out)
	return out, nil
}

func (s *memoryStore) ApplyDelta(_ context.Context, id int64, delta decimal.Decimal, expectedVersion int64) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.storage[id]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	if w.Version != expectedVersion {
		return Wallet{}, ErrVersionConflict
	}
	next := w.Balance.Add(delta)
	if next.IsNegative() {
		return Wallet{}, ErrInsufficientFunds
	}
	w.Balance = next
	w.Version++
	w.UpdatedAt = s.now().UTC()
	s.storage[id] = w
	return w, nil
}

func (s *memoryStore) SetStatus(_ context.Context, id int64, status Status) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.storage[id]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	if w.Status == status {
		return Wallet{}, ErrStatusUnchanged
	}
	w.Status = status
	w.Version++
	w.UpdatedAt = s.now().UTC()
	s.storage[id] = w
	return w, nil
}

func sortByID(wallets []Wallet) {
	sort.Slice(wallets, func(i, j int) bool { return wallets[i].ID < wallets[j].ID })
}
