package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func pair(from, to int64, fromUser, toUser string, amount string, at time.Time) (Entry, Entry) {
	amt := decimal.RequireFromString(amount)
	debit := Entry{
		WalletID: from, UserID: fromUser,
		CounterpartyWalletID: to, CounterpartyUserID: toUser,
		Amount: amt.Neg(), Currency: "CHF", OccurredAt: at,
	}
	credit := Entry{
		WalletID: to, UserID: toUser,
		CounterpartyWalletID: from, CounterpartyUserID: fromUser,
		Amount: amt, Currency: "CHF", OccurredAt: at,
	}
	return debit, credit
}

func TestInMemoryLedger_AppendAndByTransfer(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	id := uuid.New()

	debit, credit := pair(10000001, 10000002, "alice", "bob", "25.50", time.Now())
	entries, err := l.Append(ctx, id, debit, credit)
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.ID == "" || e.TransferID != id {
			t.Fatalf("entry not stamped: %+v", e)
		}
		if !e.Verify() {
			t.Fatalf("checksum does not verify for %s", e.ID)
		}
	}

	stored, err := l.ByTransfer(ctx, id)
	if err != nil {
		t.Fatalf("by transfer: %v", err)
	}
	if len(stored) != 2 || !stored[0].Debit() || stored[1].Debit() {
		t.Fatalf("unexpected stored entries: %+v", stored)
	}

	none, err := l.ByTransfer(ctx, uuid.New())
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no entries for unknown transfer, got %v %v", none, err)
	}
}

func TestInMemoryLedger_DuplicateTransfer(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	id := uuid.New()

	debit, credit := pair(10000001, 10000002, "alice", "bob", "5", time.Now())
	first, err := l.Append(ctx, id, debit, credit)
	if err != nil {
		t.Fatalf("initial append failed: %v", err)
	}
	again, err := l.Append(ctx, id, debit, credit)
	if !errors.Is(err, ErrDuplicateTransfer) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if len(again) != 2 || again[0].ID != first[0].ID {
		t.Fatalf("expected original entries on duplicate, got %+v", again)
	}
}

func TestInMemoryLedger_RejectsUnbalancedPair(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	debit, credit := pair(10000001, 10000002, "alice", "bob", "5", time.Now())
	credit.Amount = decimal.RequireFromString("4.99")
	if _, err := l.Append(ctx, uuid.New(), debit, credit); !errors.Is(err, ErrUnbalanced) {
		t.Fatalf("expected unbalanced error, got %v", err)
	}

	debit, credit = pair(10000001, 10000002, "alice", "bob", "5", time.Now())
	credit.Currency = "USD"
	if _, err := l.Append(ctx, uuid.New(), debit, credit); !errors.Is(err, ErrUnbalanced) {
		t.Fatalf("expected currency mismatch to be rejected, got %v", err)
	}
}

func TestInMemoryLedger_OutgoingWindow(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	for _, at := range []time.Time{now.Add(-2 * time.Hour), now.Add(-23 * time.Hour), now.Add(-25 * time.Hour)} {
		debit, credit := pair(10000001, 10000002, "alice", "bob", "10", at)
		if _, err := l.Append(ctx, uuid.New(), debit, credit); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	// incoming funds must not count towards alice's outgoing window
	debit, credit := pair(10000002, 10000001, "bob", "alice", "99", now.Add(-time.Hour))
	if _, err := l.Append(ctx, uuid.New(), debit, credit); err != nil {
		t.Fatalf("append: %v", err)
	}

	w, err := l.OutgoingWindow(ctx, "alice", "CHF", now.Add(-24*time.Hour), now)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if w.Count != 2 || !w.Sum.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected 2 transfers totalling 20, got %d/%s", w.Count, w.Sum)
	}

	w, err = l.OutgoingWindow(ctx, "alice", "USD", now.Add(-24*time.Hour), now)
	if err != nil || w.Count != 0 {
		t.Fatalf("expected empty USD window, got %+v %v", w, err)
	}
}

func TestInMemoryLedger_ListAndSummarize(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := SeedOpening(l, 10000001, "alice", decimal.NewFromInt(100), "CHF"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	for i := 0; i < 3; i++ {
		debit, credit := pair(10000001, 10000002, "alice", "bob", "7.25", now.Add(time.Duration(i)*time.Second))
		if _, err := l.Append(ctx, uuid.New(), debit, credit); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	page, err := l.List(ctx, Filter{WalletID: 10000001, Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].OccurredAt.Before(page[1].OccurredAt) {
		t.Fatalf("expected newest-first page of 2, got %+v", page)
	}

	sum, err := l.WalletSum(ctx, 10000001)
	if err != nil {
		t.Fatalf("wallet sum: %v", err)
	}
	if !sum.Equal(decimal.RequireFromString("78.25")) {
		t.Fatalf("expected wallet sum 78.25, got %s", sum)
	}

	summary, err := Summarize(ctx, l, "alice", now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if len(summary) != 1 {
		t.Fatalf("expected one currency, got %+v", summary)
	}
	s := summary[0]
	if !s.Income.Equal(decimal.NewFromInt(100)) || !s.Expense.Equal(decimal.RequireFromString("21.75")) || !s.Net.Equal(decimal.RequireFromString("78.25")) {
		t.Fatalf("unexpected summary: %+v", s)
	}
}

func TestInMemoryLedger_ConcurrentAppends(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	id := uuid.New()

	const workers = 10
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		duplicates int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			debit, credit := pair(10000001, 10000002, "alice", "bob", "1", time.Now())
			_, err := l.Append(ctx, id, debit, credit)
			if errors.Is(err, ErrDuplicateTransfer) {
				mu.Lock()
				duplicates++
				mu.Unlock()
			} else if err != nil {
				t.Errorf("append failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if duplicates != workers-1 {
		t.Fatalf("expected %d duplicates, got %d", workers-1, duplicates)
	}
	unbalanced, err := l.UnbalancedTransfers(ctx)
	if err != nil || len(unbalanced) != 0 {
		t.Fatalf("expected balanced ledger, got %v %v", unbalanced, err)
	}
}

func TestFilterNormalize(t *testing.T) {
	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	f := Filter{Limit: 500}.Normalize(now)
	if f.Limit != MaxPageSize {
		t.Fatalf("expected limit capped at %d, got %d", MaxPageSize, f.Limit)
	}
	if !f.To.Equal(now) || !f.From.Equal(now.Add(-DefaultWindow)) {
		t.Fatalf("unexpected range %s..%s", f.From, f.To)
	}
}

func TestEntryChecksumDetectsTampering(t *testing.T) {
	l := NewInMemory()
	debit, credit := pair(10000001, 10000002, "alice", "bob", "3", time.Now())
	entries, err := l.Append(context.Background(), uuid.New(), debit, credit)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	tampered := entries[1]
	tampered.Amount = decimal.NewFromInt(300)
	if tampered.Verify() {
		t.Fatalf("expected tampered entry to fail verification")
	}
}
