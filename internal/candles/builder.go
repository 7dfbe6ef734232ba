package candles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dex-candles/internal/domain"
	"dex-candles/internal/observability"
	"dex-candles/internal/storage"
)

// AggregationError aborts one aggregation pass of one interval.
type AggregationError struct {
	Pool     string
	Interval string
	Err      error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("aggregation %s/%s: %v", e.Pool, e.Interval, e.Err)
}

func (e *AggregationError) Unwrap() error {
	return e.Err
}

// Notifier receives every closed candle after it is persisted.
type Notifier interface {
	PublishCandle(ctx context.Context, c *domain.Candlestick) error
}

// BuildResult describes one aggregation pass.
type BuildResult struct {
	Interval   string
	OpenTime   int64                 // start of the still-open bucket
	LastClosed *domain.Candlestick   // last candle closed by this pass, nil if none
	Previous   *domain.Candlestick   // most recent closed candle overall, nil if the pool has none
	Pending    []*domain.Transaction // transactions of the open bucket
	Closed     int
	Late       int
}

// Builder aggregates one pool's stored transactions into closed candles.
type Builder struct {
	pool         domain.Pool
	transactions storage.TransactionStore
	candles      storage.CandleStore
	notifier     Notifier
	now          func() time.Time
	logger       *zap.Logger
}

// BuilderOptions contains configuration for creating a Builder.
type BuilderOptions struct {
	Pool         domain.Pool
	Transactions storage.TransactionStore
	Candles      storage.CandleStore
	Notifier     Notifier         // optional
	Clock        func() time.Time // Default: time.Now
	Logger       *zap.Logger
}

// NewBuilder creates a new candlestick builder.
func NewBuilder(opts BuilderOptions) *Builder {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Builder{
		pool:         opts.Pool,
		transactions: opts.Transactions,
		candles:      opts.Candles,
		notifier:     opts.Notifier,
		now:          clock,
		logger:       logger.With(zap.String("pool", opts.Pool.PoolContract)),
	}
}

// Build closes every finished bucket of iv since the last stored candle, taking
// the bucket open at the builder's clock as the current one.
func (b *Builder) Build(ctx context.Context, iv domain.Interval) (*BuildResult, error) {
	return b.BuildAt(ctx, iv, iv.OpenTime(b.now().Unix()))
}

// BuildAt closes every bucket of iv that ends at or before openTime, the start
// of the bucket treated as open. The open bucket is reported, never persisted.
// Errors are *AggregationError.
func (b *Builder) BuildAt(ctx context.Context, iv domain.Interval, openTime int64) (*BuildResult, error) {
	start := time.Now()
	res, err := b.build(ctx, iv, iv.OpenTime(openTime))
	observability.RecordAggregation(b.pool.PoolContract, iv.Name, time.Since(start).Seconds(), err)
	if err != nil {
		return nil, &AggregationError{Pool: b.pool.PoolContract, Interval: iv.Name, Err: err}
	}
	return res, nil
}

func (b *Builder) build(ctx context.Context, iv domain.Interval, current int64) (*BuildResult, error) {
	res := &BuildResult{Interval: iv.Name, OpenTime: current}

	lastClosed, err := b.candles.GetLastClosed(ctx, b.pool.PoolContract, iv.Name)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		lastClosed = nil
	default:
		return nil, fmt.Errorf("last closed candle: %w", err)
	}
	res.Previous = lastClosed

	fromBlock := b.pool.FromBlock
	if lastClosed != nil {
		fromBlock = lastClosed.BlockNumber + 1
	}
	txs, err := b.transactions.GetFromBlock(ctx, b.pool.PoolContract, fromBlock)
	if err != nil {
		return nil, fmt.Errorf("transactions from block %d: %w", fromBlock, err)
	}

	var first *domain.Transaction
	if len(txs) > 0 {
		first = txs[0]
	}
	openTimes := OpenTimes(LastRecordedOpenTime(lastClosed, first, current, iv.Seconds), current, iv.Seconds)
	if len(openTimes) == 0 {
		return res, nil
	}

	buckets, late := Batch(openTimes, iv.Seconds, txs)
	res.Late = late
	if late > 0 {
		observability.RecordLateTransactions(b.pool.PoolContract, iv.Name, late)
		b.logger.Info("late transactions folded into first bucket",
			zap.String("interval", iv.Name), zap.Int("count", late))
	}

	closed := make([]*domain.Candlestick, 0, len(buckets)-1)
	prev := lastClosed
	var traded, flat int
	for _, bucket := range buckets[:len(buckets)-1] {
		c, err := BuildCandle(b.pool, iv.Name, bucket, prev)
		if err != nil {
			return nil, fmt.Errorf("bucket %d: %w", bucket.OpenTime, err)
		}
		if len(bucket.Txs) == 0 {
			flat++
		} else {
			traded++
		}
		closed = append(closed, c)
		prev = c
	}
	res.Pending = buckets[len(buckets)-1].Txs

	if err := b.persist(ctx, closed); err != nil {
		return nil, err
	}
	observability.RecordCandlesClosed(b.pool.PoolContract, iv.Name, "traded", traded)
	observability.RecordCandlesClosed(b.pool.PoolContract, iv.Name, "flat", flat)

	if len(closed) > 0 {
		res.LastClosed = closed[len(closed)-1]
		res.Previous = res.LastClosed
		res.Closed = len(closed)
		b.logger.Info("candles closed",
			zap.String("interval", iv.Name), zap.Int("closed", len(closed)),
			zap.Int("flat", flat), zap.Int64("open_time", current))
	}
	return res, nil
}

// persist writes closed candles in one bulk insert, falling back to single
// inserts that skip existing rows, then notifies.
func (b *Builder) persist(ctx context.Context, closed []*domain.Candlestick) error {
	if len(closed) == 0 {
		return nil
	}

	err := b.candles.InsertBulk(ctx, closed)
	if errors.Is(err, storage.ErrDuplicateKey) {
		err = nil
		for _, c := range closed {
			if ierr := b.candles.Insert(ctx, c); ierr != nil && !errors.Is(ierr, storage.ErrDuplicateKey) {
				err = ierr
				break
			}
		}
	}
	if err != nil {
		return fmt.Errorf("store candles: %w", err)
	}

	if b.notifier == nil {
		return nil
	}
	for _, c := range closed {
		if err := b.notifier.PublishCandle(ctx, c); err != nil {
			b.logger.Warn("failed to publish closed candle",
				zap.String("interval", c.Interval), zap.Int64("open_time", c.OpenTime), zap.Error(err))
		}
	}
	return nil
}
