package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type inMemoryLedger struct {
	mu         sync.RWMutex
	entries    []Entry
	byTransfer map[uuid.UUID][]int
	now        func() time.Time
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests.
func NewInMemory() Recorder {
	return &inMemoryLedger{
		byTransfer: make(map[uuid.UUID][]int),
		now:        time.Now,
	}
}

func (l *inMemoryLedger) Append(_ context.Context, transferID uuid.UUID, debit, credit Entry) ([]Entry, error) {
	if err := validatePair(debit, credit); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if idx, exists := l.byTransfer[transferID]; exists {
		return l.collect(idx), ErrDuplicateTransfer
	}

	now := l.now()
	debit = prepare(debit, transferID, now)
	credit = prepare(credit, transferID, now)

	l.entries = append(l.entries, debit, credit)
	n := len(l.entries)
	l.byTransfer[transferID] = []int{n - 2, n - 1}
	return []Entry{debit, credit}, nil
}

func (l *inMemoryLedger) ByTransfer(_ context.Context, transferID uuid.UUID) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.collect(l.byTransfer[transferID]), nil
}

func (l *inMemoryLedger) OutgoingWindow(_ context.Context, userID, currency string, from, to time.Time) (Window, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	w := Window{Sum: decimal.Zero}
	for _, e := range l.entries {
		if e.UserID != userID || e.Currency != currency || !e.Debit() {
			continue
		}
		if e.OccurredAt.Before(from) || !e.OccurredAt.Before(to) {
			continue
		}
		w.Sum = w.Sum.Add(e.Amount.Neg())
		w.Count++
	}
	return w, nil
}

func (l *inMemoryLedger) WalletSum(_ context.Context, walletID int64) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	sum := decimal.Zero
	for _, e := range l.entries {
		if e.WalletID == walletID {
			sum = sum.Add(e.Amount)
		}
	}
	return sum, nil
}

func (l *inMemoryLedger) List(_ context.Context, filter Filter) ([]Entry, error) {
	l.mu.RLock()
	matched := make([]Entry, 0)
	for _, e := range l.entries {
		if filter.WalletID != 0 && e.WalletID != filter.WalletID {
			continue
		}
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		if !filter.From.IsZero() && e.OccurredAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !e.OccurredAt.Before(filter.To) {
			continue
		}
		matched = append(matched, e)
	}
	l.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].OccurredAt.Equal(matched[j].OccurredAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].OccurredAt.After(matched[j].OccurredAt)
	})

	if filter.Offset >= len(matched) {
		return []Entry{}, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (l *inMemoryLedger) UnbalancedTransfers(_ context.Context) ([]uuid.UUID, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []uuid.UUID
	for id, idx := range l.byTransfer {
		if !balanced(l.collect(idx)) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (l *inMemoryLedger) collect(idx []int) []Entry {
	out := make([]Entry, 0, len(idx))
	for _, i := range idx {
		out = append(out, l.entries[i])
	}
	return out
}

func balanced(entries []Entry) bool {
	if len(entries) != 2 {
		return false
	}
	sum := decimal.Zero
	for _, e := range entries {
		if e.Currency != entries[0].Currency {
			return false
		}
		sum = sum.Add(e.Amount)
	}
	return sum.IsZero()
}
