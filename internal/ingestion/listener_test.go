package ingestion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"dex-candles/internal/domain"
	"dex-candles/internal/storage/memory"
)

type forwarded struct {
	mu  sync.Mutex
	txs []*domain.Transaction
}

func (f *forwarded) add(tx *domain.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs = append(f.txs, tx)
}

func (f *forwarded) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.txs)
}

func (f *forwarded) keys() []domain.TransactionKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.TransactionKey, len(f.txs))
	for i, tx := range f.txs {
		out[i] = tx.Key()
	}
	return out
}

func newTestListener(t *testing.T, gw *fakeGateway) (*Listener, *memory.TransactionStore, *forwarded) {
	t.Helper()
	store := memory.NewTransactionStore()
	fwd := &forwarded{}
	l := NewListener(ListenerOptions{
		Pool:         testPool(),
		EventID:      swapTopic,
		Gateway:      gw,
		Normalizer:   newTestNormalizer(t),
		Timestamps:   newTestResolver(t, gw),
		Transactions: store,
		Forward:      fwd.add,
	})
	return l, store, fwd
}

func TestListener_BuffersUntilReconciled(t *testing.T) {
	gw := newFakeGateway(0)
	l, store, fwd := newTestListener(t, gw)
	ctx := context.Background()

	l.Deliver(ctx, txAt(500, 2))
	l.Deliver(ctx, txAt(500, 4))
	l.Deliver(ctx, txAt(501, 0))

	assert.False(t, l.Synced())
	assert.Equal(t, 3, l.Buffered())
	assert.Zero(t, store.Count(testPoolAddr), "nothing persisted before reconciliation")
	assert.Zero(t, fwd.len())

	marker := &BoundaryMarker{Block: 500, LogIndexes: map[uint]bool{1: true, 2: true, 3: true}}
	kept, err := l.Reconcile(ctx, marker)
	require.NoError(t, err)
	assert.Equal(t, 2, kept)
	assert.True(t, l.Synced())
	assert.Zero(t, l.Buffered())
	assert.Equal(t, 2, store.Count(testPoolAddr))
	assert.Equal(t, []domain.TransactionKey{txAt(500, 4).Key(), txAt(501, 0).Key()}, fwd.keys())

	// pass-through afterwards
	l.Deliver(ctx, txAt(502, 0))
	assert.Equal(t, 3, store.Count(testPoolAddr))
	assert.Equal(t, 3, fwd.len())
}

func TestListener_DuplicateAfterSyncIsNotForwarded(t *testing.T) {
	gw := newFakeGateway(0)
	l, store, fwd := newTestListener(t, gw)
	ctx := context.Background()

	_, err := l.Reconcile(ctx, nil)
	require.NoError(t, err)

	l.Deliver(ctx, txAt(10, 0))
	l.Deliver(ctx, txAt(10, 0))

	assert.Equal(t, 1, store.Count(testPoolAddr))
	assert.Equal(t, 1, fwd.len())
}

func TestListener_ReconcileSkipsStoredRows(t *testing.T) {
	gw := newFakeGateway(0)
	l, store, fwd := newTestListener(t, gw)
	ctx := context.Background()

	// Row already persisted by backfill but outside the marker block.
	require.NoError(t, store.Insert(ctx, txAt(600, 0)))
	l.Deliver(ctx, txAt(600, 0))
	l.Deliver(ctx, txAt(601, 0))

	kept, err := l.Reconcile(ctx, &BoundaryMarker{Block: 599, LogIndexes: map[uint]bool{}})
	require.NoError(t, err)
	assert.Equal(t, 2, kept)
	assert.Equal(t, 2, store.Count(testPoolAddr))
	assert.Equal(t, 2, fwd.len())
}

func TestListener_DisableReturnsToBuffering(t *testing.T) {
	gw := newFakeGateway(0)
	l, store, _ := newTestListener(t, gw)
	ctx := context.Background()

	_, err := l.Reconcile(ctx, nil)
	require.NoError(t, err)
	l.Disable()

	l.Deliver(ctx, txAt(1, 0))
	assert.False(t, l.Synced())
	assert.Equal(t, 1, l.Buffered())
	assert.Zero(t, store.Count(testPoolAddr))
}

func TestListener_RunNormalizesSubscribedLogs(t *testing.T) {
	gw := newFakeGateway(0)
	l, store, fwd := newTestListener(t, gw)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, l.Subscribe(ctx))
	_, err := l.Reconcile(ctx, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	removed := swapLog(700, 0, 10, 10)
	removed.Removed = true
	gw.sub <- removed
	gw.sub <- swapLog(700, 1, 0, 10) // degenerate
	gw.sub <- swapLog(701, 0, 30, 10)

	require.Eventually(t, func() bool { return fwd.len() == 1 }, 2*time.Second, 5*time.Millisecond)
	txs, err := store.GetFromBlock(ctx, testPoolAddr, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, uint64(701), txs[0].BlockNumber)
	assert.Equal(t, 3.0, txs[0].Price)
	assert.Equal(t, blockTime(701), txs[0].Timestamp)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestListener_RunReportsClosedSubscription(t *testing.T) {
	gw := newFakeGateway(0)
	l, _, _ := newTestListener(t, gw)
	ctx := context.Background()

	require.NoError(t, l.Subscribe(ctx))
	close(gw.sub)

	assert.ErrorIs(t, l.Run(ctx), ErrSubscriptionClosed)
}

func TestListener_RunWithoutSubscribe(t *testing.T) {
	l, _, _ := newTestListener(t, newFakeGateway(0))
	assert.Error(t, l.Run(context.Background()))
}

func TestListener_InterruptedTimestampIsLogged(t *testing.T) {
	gw := newFakeGateway(0)
	core, recorded := observer.New(zapcore.DebugLevel)
	l := NewListener(ListenerOptions{
		Pool:         testPool(),
		EventID:      swapTopic,
		Gateway:      gw,
		Normalizer:   newTestNormalizer(t),
		Timestamps:   newTestResolver(t, gw),
		Transactions: memory.NewTransactionStore(),
		Logger:       zap.New(core),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.handleLog(ctx, swapLog(120, 3, 10, 10))

	assert.Zero(t, l.Buffered())
	entries := recorded.FilterMessage("dropping live log, timestamp resolution interrupted").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.EqualValues(t, 120, entries[0].ContextMap()["block"])
}
