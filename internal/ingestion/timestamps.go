package ingestion

import (
	"context"
	"errors"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"dex-candles/internal/domain"
)

// DefaultTimestampWorkers bounds concurrent block lookups.
const DefaultTimestampWorkers = 8

// defaultTimestampCacheLimit caps the block time cache before it is cleared.
const defaultTimestampCacheLimit = 10_000

// TimestampResolver fills in block timestamps for normalized transactions.
// Lookups for distinct blocks run concurrently on a bounded pool; every block
// that fails the first pass is retried once sequentially.
type TimestampResolver struct {
	gateway    BlockTimestamper
	pool       pond.Pool
	cache      *xsync.Map[uint64, int64]
	cacheLimit int
	logger     *zap.Logger
}

// TimestampResolverOptions contains configuration for creating a TimestampResolver.
type TimestampResolverOptions struct {
	Gateway    BlockTimestamper
	Workers    int // Default: 8
	CacheLimit int // Default: 10000 blocks
	Logger     *zap.Logger
}

// NewTimestampResolver creates a resolver with its own worker pool.
func NewTimestampResolver(opts TimestampResolverOptions) *TimestampResolver {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultTimestampWorkers
	}
	cacheLimit := opts.CacheLimit
	if cacheLimit <= 0 {
		cacheLimit = defaultTimestampCacheLimit
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TimestampResolver{
		gateway:    opts.Gateway,
		pool:       pond.NewPool(workers),
		cache:      xsync.NewMap[uint64, int64](),
		cacheLimit: cacheLimit,
		logger:     logger,
	}
}

// Resolve sets Timestamp on every transaction and returns those that could be
// resolved, preserving input order. Unresolvable transactions are dropped with
// a warning. Only context cancellation is returned as an error.
func (r *TimestampResolver) Resolve(ctx context.Context, txs []*domain.Transaction) ([]*domain.Transaction, error) {
	if len(txs) == 0 {
		return txs, nil
	}

	resolved := make(map[uint64]int64)
	var pending []uint64
	for _, tx := range txs {
		if _, ok := resolved[tx.BlockNumber]; ok {
			continue
		}
		if ts, ok := r.cache.Load(tx.BlockNumber); ok {
			resolved[tx.BlockNumber] = ts
			continue
		}
		resolved[tx.BlockNumber] = -1
		pending = append(pending, tx.BlockNumber)
	}

	if len(pending) > 0 {
		failed := r.resolveAll(ctx, pending, resolved)
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Second chance, one block at a time.
		for _, block := range failed {
			ts, err := r.gateway.BlockTimestamp(ctx, block)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				r.logger.Warn("block timestamp unresolved, dropping its transactions",
					zap.Uint64("block", block), zap.Error(err))
				continue
			}
			resolved[block] = ts
		}

		if r.cache.Size()+len(pending) > r.cacheLimit {
			r.cache.Clear()
		}
		for _, block := range pending {
			if ts := resolved[block]; ts >= 0 {
				r.cache.Store(block, ts)
			}
		}
	}

	out := make([]*domain.Transaction, 0, len(txs))
	for _, tx := range txs {
		ts := resolved[tx.BlockNumber]
		if ts < 0 {
			continue
		}
		tx.Timestamp = ts
		out = append(out, tx)
	}
	return out, nil
}

// resolveAll looks up every block concurrently, records successes in resolved
// and returns the blocks that failed.
func (r *TimestampResolver) resolveAll(ctx context.Context, blocks []uint64, resolved map[uint64]int64) []uint64 {
	var mu sync.Mutex

	group := r.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, block := range blocks {
		b := block
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}
			ts, err := r.gateway.BlockTimestamp(groupCtx, b)
			if err != nil {
				return
			}
			mu.Lock()
			resolved[b] = ts
			mu.Unlock()
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		r.logger.Warn("timestamp group encountered error", zap.Error(err))
	}

	mu.Lock()
	defer mu.Unlock()
	var failed []uint64
	for _, b := range blocks {
		if resolved[b] < 0 {
			failed = append(failed, b)
		}
	}
	return failed
}

// Close stops the worker pool and waits for running lookups.
func (r *TimestampResolver) Close() {
	r.pool.StopAndWait()
}
