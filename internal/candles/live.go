package candles

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"dex-candles/internal/domain"
	"dex-candles/internal/observability"
	"dex-candles/internal/storage"
)

// DefaultTickInterval is how often buffered live transactions are merged.
const DefaultTickInterval = 10 * time.Second

// liveBucket tracks the open bucket of one interval. applied holds what was
// already merged into the stored row, pending what is waiting for the next tick.
type liveBucket struct {
	interval domain.Interval
	openTime int64
	applied  []*domain.Transaction
	pending  []*domain.Transaction
	seen     map[domain.TransactionKey]bool
}

func newLiveBucket(iv domain.Interval, openTime int64) *liveBucket {
	return &liveBucket{interval: iv, openTime: openTime, seen: make(map[domain.TransactionKey]bool)}
}

func (b *liveBucket) add(tx *domain.Transaction) bool {
	if tx.Timestamp < b.openTime || b.seen[tx.Key()] {
		return false
	}
	b.seen[tx.Key()] = true
	b.pending = append(b.pending, tx)
	return true
}

// LiveState keeps the open candle of every interval of one pool up to date.
// Ticks and reseeds are serialized so a merge never lands on a reseeded row.
type LiveState struct {
	pool         domain.Pool
	store        storage.LiveCandleStore
	tickInterval time.Duration
	allowed      func(interval string) bool
	now          func() time.Time
	logger       *zap.Logger

	mu      sync.Mutex
	buckets map[string]*liveBucket
	order   []string
}

// LiveStateOptions contains configuration for creating a LiveState.
type LiveStateOptions struct {
	Pool         domain.Pool
	Intervals    []domain.Interval
	Store        storage.LiveCandleStore
	TickInterval time.Duration    // Default: 10s
	Clock        func() time.Time // Default: time.Now
	// Allowed gates merges per interval. A closed interval keeps its queue
	// until it is reopened or reseeded. Default: always open.
	Allowed func(interval string) bool
	Logger  *zap.Logger
}

// NewLiveState creates the live candle state of one pool.
func NewLiveState(opts LiveStateOptions) *LiveState {
	tick := opts.TickInterval
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := opts.Allowed
	if allowed == nil {
		allowed = func(string) bool { return true }
	}

	s := &LiveState{
		pool:         opts.Pool,
		store:        opts.Store,
		tickInterval: tick,
		allowed:      allowed,
		now:          clock,
		logger:       logger.With(zap.String("pool", opts.Pool.PoolContract)),
		buckets:      make(map[string]*liveBucket, len(opts.Intervals)),
	}
	for _, iv := range opts.Intervals {
		s.buckets[iv.Name] = newLiveBucket(iv, iv.OpenTime(clock().Unix()))
		s.order = append(s.order, iv.Name)
	}
	return s
}

// Init writes one zero row per interval at the current bucket start.
func (s *LiveState) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().Unix()
	for _, name := range s.order {
		b := s.buckets[name]
		b.openTime = b.interval.OpenTime(now)
		row := &domain.LiveCandlestick{PoolContract: s.pool.PoolContract, Interval: name, OpenTime: b.openTime}
		if err := s.store.Upsert(ctx, row); err != nil {
			return fmt.Errorf("init live candle %s: %w", name, err)
		}
	}
	s.logger.Info("live candles initialized", zap.Int("intervals", len(s.order)))
	return nil
}

// Add queues a live transaction for every interval whose open bucket it belongs to.
func (s *LiveState) Add(tx *domain.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range s.order {
		s.buckets[name].add(tx)
	}
}

// Tick merges queued transactions of the open bucket into each stored row.
// Transactions of a later bucket stay queued until the reseed. A failed merge
// keeps its batch for the next tick, and so does an interval whose gate is closed.
func (s *LiveState) Tick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range s.order {
		b := s.buckets[name]
		if len(b.pending) == 0 {
			continue
		}
		if !s.allowed(name) {
			s.logger.Debug("live candle merge skipped, aggregation disabled",
				zap.String("interval", name), zap.Int("queued", len(b.pending)))
			continue
		}

		sortByOrder(b.pending)
		end := b.openTime + b.interval.Seconds
		var batch, later []*domain.Transaction
		for _, tx := range b.pending {
			if tx.Timestamp < end {
				batch = append(batch, tx)
			} else {
				later = append(later, tx)
			}
		}

		m, ok := MergeOf(batch)
		if !ok {
			continue
		}
		if err := s.store.Merge(ctx, s.pool.PoolContract, name, b.openTime, m); err != nil {
			s.logger.Warn("live candle merge failed",
				zap.String("interval", name), zap.Int64("open_time", b.openTime), zap.Error(err))
			continue
		}
		observability.RecordLiveMerge(s.pool.PoolContract, name)
		s.logger.Debug("live candle merged",
			zap.String("interval", name), zap.Int("transactions", len(batch)), zap.Float64("close", m.Close))

		b.applied = append(b.applied, batch...)
		b.pending = later
	}
}

// Reseed moves an interval to the bucket starting at openTime. The row starts
// flat at prev's close, or all zero when prev is nil. Queued and applied
// transactions of the new bucket are requeued together with pending, the open
// bucket transactions reported by the builder.
func (s *LiveState) Reseed(ctx context.Context, interval string, openTime int64, prev *domain.Candlestick, pending []*domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[interval]
	if !ok {
		return fmt.Errorf("unknown interval %q", interval)
	}

	row := &domain.LiveCandlestick{PoolContract: s.pool.PoolContract, Interval: interval, OpenTime: openTime}
	if prev != nil {
		row.Open, row.High, row.Low, row.Close = prev.Close, prev.Close, prev.Close, prev.Close
	}
	if err := s.store.Upsert(ctx, row); err != nil {
		return fmt.Errorf("reseed live candle %s: %w", interval, err)
	}

	carry := make([]*domain.Transaction, 0, len(pending)+len(b.applied)+len(b.pending))
	carry = append(carry, pending...)
	carry = append(carry, b.applied...)
	carry = append(carry, b.pending...)

	next := newLiveBucket(b.interval, openTime)
	for _, tx := range carry {
		next.add(tx)
	}
	sortByOrder(next.pending)
	s.buckets[interval] = next

	s.logger.Debug("live candle reseeded",
		zap.String("interval", interval), zap.Int64("open_time", openTime), zap.Int("carried", len(next.pending)))
	return nil
}

// Queued returns the number of transactions waiting for a merge on interval.
func (s *LiveState) Queued(interval string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buckets[interval]; ok {
		return len(b.pending)
	}
	return 0
}

// Run ticks until ctx is done.
func (s *LiveState) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

func sortByOrder(txs []*domain.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		return domain.CompareTransactions(txs[i], txs[j]) < 0
	})
}
