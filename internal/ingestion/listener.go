package ingestion

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"dex-candles/internal/domain"
	"dex-candles/internal/observability"
	"dex-candles/internal/storage"
)

// Listener subscribes to a pool's swap logs. Until Reconcile is called it only
// buffers normalized transactions in arrival order; afterwards every
// transaction is persisted and forwarded.
type Listener struct {
	pool         domain.Pool
	contract     common.Address
	eventID      common.Hash
	gateway      ChainGateway
	normalizer   *TransactionNormalizer
	timestamps   *TimestampResolver
	transactions storage.TransactionStore
	forward      func(*domain.Transaction)
	logger       *zap.Logger

	mu     sync.Mutex
	synced bool
	buffer []*domain.Transaction
	logs   <-chan types.Log
}

// ListenerOptions contains configuration for creating a Listener.
type ListenerOptions struct {
	Pool         domain.Pool
	EventID      common.Hash
	Gateway      ChainGateway
	Normalizer   *TransactionNormalizer
	Timestamps   *TimestampResolver
	Transactions storage.TransactionStore
	Forward      func(*domain.Transaction) // receives every persisted live transaction
	Logger       *zap.Logger
}

// NewListener creates a new live event listener.
func NewListener(opts ListenerOptions) *Listener {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	forward := opts.Forward
	if forward == nil {
		forward = func(*domain.Transaction) {}
	}

	return &Listener{
		pool:         opts.Pool,
		contract:     common.HexToAddress(opts.Pool.PoolContract),
		eventID:      opts.EventID,
		gateway:      opts.Gateway,
		normalizer:   opts.Normalizer,
		timestamps:   opts.Timestamps,
		transactions: opts.Transactions,
		forward:      forward,
		logger:       logger.With(zap.String("pool", opts.Pool.PoolContract)),
	}
}

// Subscribe opens the live subscription. Call before backfill starts so no
// block falls between the two sources.
func (l *Listener) Subscribe(ctx context.Context) error {
	ch, err := l.gateway.Subscribe(ctx, l.contract, l.eventID)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.logs = ch
	l.mu.Unlock()
	l.logger.Info("subscribed to live swaps")
	return nil
}

// Run consumes the subscription until it closes or ctx is done.
// Returns ErrSubscriptionClosed when the provider side ends.
func (l *Listener) Run(ctx context.Context) error {
	l.mu.Lock()
	ch := l.logs
	l.mu.Unlock()
	if ch == nil {
		return errors.New("listener not subscribed")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case lg, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				l.logger.Warn("live subscription closed")
				return ErrSubscriptionClosed
			}
			l.handleLog(ctx, lg)
		}
	}
}

// handleLog normalizes one log and routes it by synchronization state.
func (l *Listener) handleLog(ctx context.Context, lg types.Log) {
	if lg.Removed {
		l.logger.Info("skipping removed log",
			zap.Uint64("block", lg.BlockNumber), zap.Uint("log_index", lg.Index))
		return
	}

	tx, ok := l.normalizer.NormalizeOne(lg)
	if !ok {
		observability.RecordTransactionsDropped(l.pool.PoolContract, "normalize", 1)
		return
	}

	resolved, err := l.timestamps.Resolve(ctx, []*domain.Transaction{tx})
	if err != nil {
		l.logger.Debug("dropping live log, timestamp resolution interrupted",
			zap.Uint64("block", lg.BlockNumber), zap.Uint("log_index", lg.Index), zap.Error(err))
		observability.RecordTransactionsDropped(l.pool.PoolContract, "timestamp", 1)
		return
	}
	if len(resolved) == 0 {
		observability.RecordTransactionsDropped(l.pool.PoolContract, "timestamp", 1)
		return
	}

	l.Deliver(ctx, resolved[0])
}

// Deliver routes a normalized, timestamped transaction.
func (l *Listener) Deliver(ctx context.Context, tx *domain.Transaction) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.synced {
		l.buffer = append(l.buffer, tx)
		observability.UpdateLiveBufferSize(l.pool.PoolContract, len(l.buffer))
		return
	}

	if err := l.transactions.Insert(ctx, tx); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			observability.RecordDuplicatesSkipped(l.pool.PoolContract, 1)
			return
		}
		l.logger.Error("failed to store live transaction",
			zap.Uint64("block", tx.BlockNumber), zap.Uint("log_index", tx.LogIndex), zap.Error(err))
		return
	}
	observability.RecordTransactionsStored(l.pool.PoolContract, "live", 1)
	l.forward(tx)
}

// Reconcile drops buffered transactions covered by marker, persists and
// forwards the rest, then switches to pass-through mode. It runs once, under
// the same lock as Deliver, so no live transaction is interleaved.
func (l *Listener) Reconcile(ctx context.Context, marker *BoundaryMarker) (kept int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	survivors, discarded := Reconcile(marker, l.buffer)
	stored, dupes, err := storeTransactions(ctx, l.transactions, survivors)
	if err != nil {
		return 0, err
	}
	for _, tx := range survivors {
		l.forward(tx)
	}

	l.buffer = nil
	l.synced = true
	observability.UpdateLiveBufferSize(l.pool.PoolContract, 0)
	observability.RecordTransactionsStored(l.pool.PoolContract, "live", stored)
	observability.RecordDuplicatesSkipped(l.pool.PoolContract, dupes)

	l.logger.Info("live buffer reconciled",
		zap.Int("kept", len(survivors)), zap.Int("discarded", discarded),
		zap.Int("stored", stored), zap.Int("duplicates", dupes))
	return len(survivors), nil
}

// Disable returns the listener to buffering mode and drops the buffer.
func (l *Listener) Disable() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.synced = false
	l.buffer = nil
	observability.UpdateLiveBufferSize(l.pool.PoolContract, 0)
}

// Synced reports whether live transactions are persisted directly.
func (l *Listener) Synced() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.synced
}

// Buffered returns the number of transactions waiting for reconciliation.
func (l *Listener) Buffered() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buffer)
}
