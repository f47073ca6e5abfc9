package reconcile

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/paymentwall/internal/ledger"
	"github.com/congo-pay/paymentwall/internal/logging"
	"github.com/congo-pay/paymentwall/internal/wallet"
)

func openWallet(t *testing.T, store wallet.Store, recorder ledger.Recorder, id int64, owner, balance string) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), wallet.Wallet{
		ID: id, OwnerID: owner, Balance: decimal.Zero, Currency: "USD", Status: wallet.StatusActive, Version: 1,
	}))
	amount := decimal.RequireFromString(balance)
	wallet.SeedBalance(store, id, amount)
	require.NoError(t, ledger.SeedOpening(recorder, id, owner, amount, "USD"))
}

type sinkRecorder struct {
	counts map[string]int
}

func (s *sinkRecorder) ReconcileFindings(counts map[string]int) { s.counts = counts }

func TestRunCleanLedger(t *testing.T) {
	store := wallet.NewMemoryStore()
	recorder := ledger.NewInMemory()
	for i := int64(0); i < 20; i++ {
		openWallet(t, store, recorder, 10000001+i, fmt.Sprintf("user-%d", i), "10")
	}
	sink := &sinkRecorder{}

	report, err := New(store, recorder, Options{Concurrency: 3, Logger: logging.Discard(), Sink: sink}).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.Equal(t, 20, report.Checked)
	assert.Zero(t, report.Skipped)
	assert.Equal(t, 0, sink.counts[string(BalanceMismatch)])
	assert.Len(t, sink.counts, 4)
}

func TestRunDetectsBalanceDrift(t *testing.T) {
	store := wallet.NewMemoryStore()
	recorder := ledger.NewInMemory()
	openWallet(t, store, recorder, 10000001, "alice", "100")
	openWallet(t, store, recorder, 10000002, "bob", "5")
	wallet.SeedBalance(store, 10000002, decimal.RequireFromString("7"))
	sink := &sinkRecorder{}

	report, err := New(store, recorder, Options{Logger: logging.Discard(), Sink: sink}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Findings, 1)
	f := report.Findings[0]
	assert.Equal(t, BalanceMismatch, f.Kind)
	assert.Equal(t, int64(10000002), f.WalletID)
	assert.True(t, f.Expected.Equal(decimal.RequireFromString("5")))
	assert.True(t, f.Actual.Equal(decimal.RequireFromString("7")))
	assert.Equal(t, 1, sink.counts[string(BalanceMismatch)])
}

// tamperedLedger corrupts listed entries and reports a fixed unbalanced transfer.
type tamperedLedger struct {
	ledger.Recorder
	unbalanced uuid.UUID
}

func (l tamperedLedger) List(ctx context.Context, filter ledger.Filter) ([]ledger.Entry, error) {
	entries, err := l.Recorder.List(ctx, filter)
	for i := range entries {
		entries[i].Amount = entries[i].Amount.Add(decimal.NewFromInt(1))
	}
	return entries, err
}

func (l tamperedLedger) UnbalancedTransfers(context.Context) ([]uuid.UUID, error) {
	return []uuid.UUID{l.unbalanced}, nil
}

func TestRunDetectsTamperingAndUnbalancedTransfers(t *testing.T) {
	store := wallet.NewMemoryStore()
	recorder := ledger.NewInMemory()
	openWallet(t, store, recorder, 10000001, "alice", "100")
	bad := uuid.New()

	report, err := New(store, tamperedLedger{Recorder: recorder, unbalanced: bad}, Options{Logger: logging.Discard()}).Run(context.Background())
	require.NoError(t, err)

	counts := report.Counts()
	assert.Equal(t, 1, counts[string(ChecksumMismatch)])
	assert.Equal(t, 1, counts[string(UnbalancedTransfer)])
	assert.Equal(t, 0, counts[string(BalanceMismatch)])
	for _, f := range report.Findings {
		if f.Kind == UnbalancedTransfer {
			assert.Equal(t, bad, f.TransferID)
		}
	}
}

// busyStore bumps the version between the two reads of a check.
type busyStore struct {
	wallet.Store
	reads int
}

func (s *busyStore) Get(ctx context.Context, id int64) (wallet.Wallet, error) {
	s.reads++
	w, err := s.Store.Get(ctx, id)
	if s.reads == 2 {
		w.Version++
		w.Balance = w.Balance.Add(decimal.NewFromInt(3))
	}
	return w, err
}

func TestRunSkipsWalletsInFlight(t *testing.T) {
	inner := wallet.NewMemoryStore()
	recorder := ledger.NewInMemory()
	openWallet(t, inner, recorder, 10000001, "alice", "100")

	report, err := New(&busyStore{Store: inner}, recorder, Options{Concurrency: 1, Logger: logging.Discard()}).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.Equal(t, 1, report.Skipped)
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	r := New(wallet.NewMemoryStore(), ledger.NewInMemory(), Options{Logger: logging.Discard()})
	_, err := r.Schedule("not a schedule")
	assert.Error(t, err)

	c, err := r.Schedule("@every 1h")
	require.NoError(t, err)
	ctx := c.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
