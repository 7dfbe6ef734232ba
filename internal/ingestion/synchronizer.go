package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"dex-candles/internal/domain"
	"dex-candles/internal/observability"
	"dex-candles/internal/storage"
)

// Defaults for SynchronizerOptions.
const (
	DefaultBatchSize            = 100
	DefaultBlockNotFoundRetries = 5
	DefaultRetryDelay           = 2 * time.Second
)

// Synchronizer backfills the historical swaps of one pool from its resume
// block up to the chain head in bounded batches.
type Synchronizer struct {
	pool         domain.Pool
	contract     common.Address
	eventID      common.Hash
	gateway      ChainGateway
	normalizer   *TransactionNormalizer
	timestamps   *TimestampResolver
	transactions storage.TransactionStore
	candles      storage.CandleStore
	intervals    []domain.Interval
	batchSize    uint64
	retries      int
	retryDelay   time.Duration
	logger       *zap.Logger
}

// SynchronizerOptions contains configuration for creating a Synchronizer.
type SynchronizerOptions struct {
	Pool                 domain.Pool
	EventID              common.Hash // topic0 of the pool's swap event
	Gateway              ChainGateway
	Normalizer           *TransactionNormalizer
	Timestamps           *TimestampResolver
	Transactions         storage.TransactionStore
	Candles              storage.CandleStore
	Intervals            []domain.Interval
	BatchSize            uint64        // Default: 100 blocks
	BlockNotFoundRetries int           // Default: 5
	RetryDelay           time.Duration // Default: 2s
	Logger               *zap.Logger
}

// NewSynchronizer creates a new block range synchronizer.
func NewSynchronizer(opts SynchronizerOptions) *Synchronizer {
	batchSize := opts.BatchSize
	if batchSize == 0 {
		batchSize = DefaultBatchSize
	}
	retries := opts.BlockNotFoundRetries
	if retries == 0 {
		retries = DefaultBlockNotFoundRetries
	}
	retryDelay := opts.RetryDelay
	if retryDelay == 0 {
		retryDelay = DefaultRetryDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Synchronizer{
		pool:         opts.Pool,
		contract:     common.HexToAddress(opts.Pool.PoolContract),
		eventID:      opts.EventID,
		gateway:      opts.Gateway,
		normalizer:   opts.Normalizer,
		timestamps:   opts.Timestamps,
		transactions: opts.Transactions,
		candles:      opts.Candles,
		intervals:    opts.Intervals,
		batchSize:    batchSize,
		retries:      retries,
		retryDelay:   retryDelay,
		logger:       logger.With(zap.String("pool", opts.Pool.PoolContract)),
	}
}

// SyncResult contains statistics from a synchronization run.
type SyncResult struct {
	FromBlock         uint64 // first block queried
	ToBlock           uint64 // chain head at start
	Batches           int
	AbandonedRanges   int // sub-ranges skipped after exhausting recovery
	Stored            int
	DuplicatesSkipped int
	Marker            *BoundaryMarker // nil when neither this run nor storage has a transaction
	Duration          time.Duration
}

// ResumeBlock returns max(last stored transaction block, min over intervals of
// the last closed candle block or the pool's genesis block).
func (s *Synchronizer) ResumeBlock(ctx context.Context) (uint64, *domain.Transaction, error) {
	resume := s.pool.FromBlock
	for i, iv := range s.intervals {
		block := s.pool.FromBlock
		last, err := s.candles.GetLastClosed(ctx, s.pool.PoolContract, iv.Name)
		switch {
		case err == nil:
			block = last.BlockNumber
		case errors.Is(err, storage.ErrNotFound):
		default:
			return 0, nil, fmt.Errorf("last closed candle %s: %w", iv.Name, err)
		}
		if i == 0 || block < resume {
			resume = block
		}
	}

	lastTx, err := s.transactions.GetLast(ctx, s.pool.PoolContract)
	switch {
	case err == nil:
		if lastTx.BlockNumber > resume {
			resume = lastTx.BlockNumber
		}
	case errors.Is(err, storage.ErrNotFound):
		lastTx = nil
	default:
		return 0, nil, fmt.Errorf("last transaction: %w", err)
	}
	return resume, lastTx, nil
}

// Run backfills [resume+1, head]. Any returned error is pool-fatal and is a *SyncError.
func (s *Synchronizer) Run(ctx context.Context) (*SyncResult, error) {
	start := time.Now()

	oldest, lastTx, err := s.ResumeBlock(ctx)
	if err != nil {
		return nil, s.fatal(err)
	}

	latest, err := s.gateway.LatestBlockNumber(ctx)
	if err != nil {
		return nil, s.fatal(err)
	}
	if latest < oldest {
		return nil, s.fatal(fmt.Errorf("%w: head %d, resume block %d", ErrChainBehind, latest, oldest))
	}

	result := &SyncResult{FromBlock: oldest + 1, ToBlock: latest}
	s.logger.Info("starting backfill",
		zap.Uint64("from_block", result.FromBlock), zap.Uint64("to_block", latest),
		zap.Uint64("batch_size", s.batchSize))

	var marker *BoundaryMarker
	for from := oldest + 1; from <= latest; from += s.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, s.fatal(err)
		}
		to := from + s.batchSize - 1
		if to > latest || to < from {
			to = latest
		}

		txs, skipped, err := s.syncBatch(ctx, from, to)
		result.Batches++
		if err != nil {
			return nil, s.fatal(err)
		}
		for _, r := range skipped {
			result.AbandonedRanges++
			observability.RecordSyncBatch(s.pool.PoolContract, "abandoned")
			s.logger.Warn("block range abandoned",
				zap.Uint64("from_block", r.from), zap.Uint64("to_block", r.to), zap.Error(r.err))
		}
		if len(skipped) == 0 {
			observability.RecordSyncBatch(s.pool.PoolContract, "ok")
		}

		stored, dupes, err := storeTransactions(ctx, s.transactions, txs)
		if err != nil {
			return nil, s.fatal(fmt.Errorf("store blocks %d-%d: %w", from, to, err))
		}
		result.Stored += stored
		result.DuplicatesSkipped += dupes
		observability.RecordTransactionsStored(s.pool.PoolContract, "backfill", stored)
		observability.RecordDuplicatesSkipped(s.pool.PoolContract, dupes)
		observability.UpdateSyncedBlock(s.pool.PoolContract, to)

		if m := NewBoundaryMarker(txs); m != nil {
			marker = m
		}

		if len(txs) > 0 {
			s.logger.Debug("batch stored",
				zap.Uint64("from_block", from), zap.Uint64("to_block", to),
				zap.Int("stored", stored), zap.Int("duplicates", dupes))
		}
	}

	// Storage is authoritative for the marker block: it also holds rows
	// persisted by earlier runs.
	if marker == nil && lastTx != nil {
		marker = &BoundaryMarker{Block: lastTx.BlockNumber, LogIndexes: make(map[uint]bool)}
	}
	if marker != nil {
		inBlock, err := s.transactions.GetInBlock(ctx, s.pool.PoolContract, marker.Block)
		if err != nil {
			return nil, s.fatal(fmt.Errorf("load boundary block %d: %w", marker.Block, err))
		}
		for _, tx := range inBlock {
			marker.Add(tx)
		}
	}
	result.Marker = marker
	result.Duration = time.Since(start)

	s.logger.Info("backfill complete",
		zap.Int("batches", result.Batches), zap.Int("abandoned", result.AbandonedRanges),
		zap.Int("stored", result.Stored), zap.Int("duplicates", result.DuplicatesSkipped),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// syncBatch fetches, normalizes and timestamps the swaps of [from, to]. The
// transactions of every sub-range that could be fetched are returned even when
// other sub-ranges were skipped.
func (s *Synchronizer) syncBatch(ctx context.Context, from, to uint64) ([]*domain.Transaction, []skippedRange, error) {
	logs, skipped, err := s.fetchBatch(ctx, from, to)
	if err != nil {
		return nil, nil, err
	}
	if len(logs) == 0 {
		return nil, skipped, nil
	}

	txs := s.normalizer.Normalize(logs)
	observability.RecordTransactionsDropped(s.pool.PoolContract, "normalize", len(logs)-len(txs))

	resolved, err := s.timestamps.Resolve(ctx, txs)
	if err != nil {
		return nil, nil, err
	}
	observability.RecordTransactionsDropped(s.pool.PoolContract, "timestamp", len(txs)-len(resolved))

	SortTransactions(resolved)
	return resolved, skipped, nil
}

type blockRange struct {
	from, to uint64
}

// skippedRange is a sub-range given up on, with the error that ended it.
type skippedRange struct {
	blockRange
	err error
}

// fetchBatch queries [from, to] using a worklist: oversized ranges are split in
// halves (lower half first) and ranges shortened by a missing block get their
// remainder queued next, so results stay in block order. A sub-range that
// cannot be recovered is skipped without discarding what was already fetched.
// Only non-recoverable gateway errors are returned.
func (s *Synchronizer) fetchBatch(ctx context.Context, from, to uint64) ([]types.Log, []skippedRange, error) {
	stack := []blockRange{{from, to}}
	var (
		out     []types.Log
		skipped []skippedRange
	)

	for len(stack) > 0 {
		r := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		logs, reached, err := s.fetchWithLag(ctx, r)
		switch {
		case errors.Is(err, ErrResultTooLarge) && r.from == r.to:
			skipped = append(skipped, skippedRange{r, fmt.Errorf("%w: block %d", ErrRangeIrreducible, r.from)})
			continue
		case errors.Is(err, ErrResultTooLarge):
			observability.RecordRangeBisection(s.pool.PoolContract)
			mid := r.from + (r.to-r.from)/2
			stack = append(stack, blockRange{mid + 1, r.to}, blockRange{r.from, mid})
			continue
		case errors.Is(err, ErrBlockNotFound):
			skipped = append(skipped, skippedRange{r, err})
			continue
		case err != nil:
			return nil, nil, err
		}

		out = append(out, logs...)
		if reached < r.to {
			stack = append(stack, blockRange{reached + 1, r.to})
		}
	}
	return out, skipped, nil
}

// fetchWithLag queries r, retrying while the provider reports a missing block:
// the upper bound drops by one per attempt, and a single-block range is
// retried as is. Returns the upper bound actually covered.
func (s *Synchronizer) fetchWithLag(ctx context.Context, r blockRange) ([]types.Log, uint64, error) {
	to := r.to
	for attempt := 0; ; attempt++ {
		logs, err := s.gateway.HistoricalEvents(ctx, s.contract, s.eventID, r.from, to)
		if err == nil {
			return logs, to, nil
		}
		if !errors.Is(err, ErrBlockNotFound) {
			return nil, 0, err
		}
		if attempt >= s.retries {
			return nil, 0, fmt.Errorf("blocks %d-%d after %d retries: %w", r.from, to, attempt, err)
		}
		if to > r.from {
			to--
		}

		s.logger.Warn("block not found, retrying",
			zap.Uint64("from_block", r.from), zap.Uint64("to_block", to), zap.Int("attempt", attempt+1))
		observability.RecordBlockNotFoundRetry(s.pool.PoolContract)

		if err := sleep(ctx, s.retryDelay); err != nil {
			return nil, 0, err
		}
	}
}

func (s *Synchronizer) fatal(err error) error {
	s.logger.Error("synchronization failed", zap.Error(err))
	return &SyncError{Pool: s.pool.PoolContract, Err: err}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
