// Package pipeline wires ingestion and aggregation of one pool into a single
// lifecycle, and runs every configured pool as a service.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"dex-candles/internal/candles"
	"dex-candles/internal/domain"
	"dex-candles/internal/ingestion"
	"dex-candles/internal/observability"
	"dex-candles/internal/protocol"
	"dex-candles/internal/scheduler"
	"dex-candles/internal/storage"
)

// ErrNotLive is returned by HandleClose before the pipeline has synchronized.
var ErrNotLive = errors.New("pipeline is not live")

// Stores groups the persistence a pipeline writes to.
type Stores struct {
	Transactions storage.TransactionStore
	Candles      storage.CandleStore
	LiveCandles  storage.LiveCandleStore
}

// SyncSettings tunes backfill.
type SyncSettings struct {
	BatchSize            uint64
	BlockNotFoundRetries int
	RetryDelay           time.Duration
}

// CloseSource hands out candle close notifications per interval.
type CloseSource interface {
	Subscribe(interval string) (<-chan scheduler.Event, error)
}

// Pipeline runs backfill, reconciliation, aggregation and live updates of one
// pool. State moves Idle, Backfilling, Reconciling, Live; any pool-fatal
// error moves it to Failed, where it stays.
type Pipeline struct {
	pool      domain.Pool
	intervals []domain.Interval

	synchronizer *ingestion.Synchronizer
	listener     *ingestion.Listener
	builder      *candles.Builder
	live         *candles.LiveState
	now          func() time.Time
	logger       *zap.Logger

	state   atomic.Int32
	failure atomic.Pointer[error]

	mu    sync.Mutex
	gates map[string]bool // interval name -> allowed to aggregate
}

// Options contains configuration for creating a Pipeline.
type Options struct {
	Pool         domain.Pool
	Intervals    []domain.Interval
	Gateway      ingestion.ChainGateway
	Timestamps   *ingestion.TimestampResolver
	Stores       Stores
	Notifier     candles.Notifier // optional
	Sync         SyncSettings
	TickInterval time.Duration
	Clock        func() time.Time
	Logger       *zap.Logger
}

// New creates the pipeline of one pool.
func New(opts Options) (*Pipeline, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	n, err := protocol.New(opts.Pool)
	if err != nil {
		return nil, fmt.Errorf("pool %s: %w", opts.Pool.PoolContract, err)
	}
	normalizer := ingestion.NewTransactionNormalizer(opts.Pool, n, logger)

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	p := &Pipeline{
		pool:      opts.Pool,
		intervals: opts.Intervals,
		now:       clock,
		logger:    logger.With(zap.String("pool", opts.Pool.PoolContract), zap.String("symbol", opts.Pool.Symbol())),
		gates:     make(map[string]bool, len(opts.Intervals)),
	}

	p.synchronizer = ingestion.NewSynchronizer(ingestion.SynchronizerOptions{
		Pool:                 opts.Pool,
		EventID:              n.EventID(),
		Gateway:              opts.Gateway,
		Normalizer:           normalizer,
		Timestamps:           opts.Timestamps,
		Transactions:         opts.Stores.Transactions,
		Candles:              opts.Stores.Candles,
		Intervals:            opts.Intervals,
		BatchSize:            opts.Sync.BatchSize,
		BlockNotFoundRetries: opts.Sync.BlockNotFoundRetries,
		RetryDelay:           opts.Sync.RetryDelay,
		Logger:               logger,
	})
	p.builder = candles.NewBuilder(candles.BuilderOptions{
		Pool:         opts.Pool,
		Transactions: opts.Stores.Transactions,
		Candles:      opts.Stores.Candles,
		Notifier:     opts.Notifier,
		Clock:        opts.Clock,
		Logger:       logger,
	})
	p.live = candles.NewLiveState(candles.LiveStateOptions{
		Pool:         opts.Pool,
		Intervals:    opts.Intervals,
		Store:        opts.Stores.LiveCandles,
		TickInterval: opts.TickInterval,
		Clock:        opts.Clock,
		Allowed:      p.AggregationAllowed,
		Logger:       logger,
	})
	p.listener = ingestion.NewListener(ingestion.ListenerOptions{
		Pool:         opts.Pool,
		EventID:      n.EventID(),
		Gateway:      opts.Gateway,
		Normalizer:   normalizer,
		Timestamps:   opts.Timestamps,
		Transactions: opts.Stores.Transactions,
		Forward:      p.live.Add,
		Logger:       logger,
	})

	p.setState(StateIdle)
	return p, nil
}

// Pool returns the pool this pipeline serves.
func (p *Pipeline) Pool() domain.Pool {
	return p.pool
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Err returns the error that failed the pipeline, or nil.
func (p *Pipeline) Err() error {
	if e := p.failure.Load(); e != nil {
		return *e
	}
	return nil
}

// AggregationAllowed reports whether interval's last aggregation pass succeeded.
func (p *Pipeline) AggregationAllowed(interval string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gates[interval]
}

// Run subscribes to live swaps, backfills, reconciles, aggregates every
// interval and then follows closes from src until ctx is done or the pool fails.
func (p *Pipeline) Run(ctx context.Context, src CloseSource) error {
	closes := make(map[string]<-chan scheduler.Event, len(p.intervals))
	for _, iv := range p.intervals {
		ch, err := src.Subscribe(iv.Name)
		if err != nil {
			return p.fail(err)
		}
		closes[iv.Name] = ch
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.setState(StateBackfilling)
	if err := p.live.Init(ctx); err != nil {
		return p.fail(err)
	}
	if err := p.listener.Subscribe(ctx); err != nil {
		return p.fail(fmt.Errorf("subscribe: %w", err))
	}

	listenErr := make(chan error, 1)
	go func() { listenErr <- p.listener.Run(ctx) }()

	res, err := p.synchronizer.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return p.fail(err)
	}

	p.setState(StateReconciling)
	if _, err := p.listener.Reconcile(ctx, res.Marker); err != nil {
		return p.fail(fmt.Errorf("reconcile: %w", err))
	}

	for _, iv := range p.intervals {
		_ = p.aggregate(ctx, iv, iv.OpenTime(p.now().Unix()))
	}
	p.setState(StateLive)
	p.logger.Info("pipeline live")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = p.live.Run(ctx)
	}()
	for _, iv := range p.intervals {
		ch := closes[iv.Name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.followCloses(ctx, ch)
		}()
	}
	defer func() {
		cancel()
		wg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-listenErr:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return p.fail(fmt.Errorf("live subscription: %w", err))
	}
}

// RunOnce backfills and aggregates every interval a single time, without a
// live subscription.
func (p *Pipeline) RunOnce(ctx context.Context) error {
	p.setState(StateBackfilling)
	if _, err := p.synchronizer.Run(ctx); err != nil {
		return p.fail(err)
	}

	var errs []error
	for _, iv := range p.intervals {
		if err := p.aggregate(ctx, iv, iv.OpenTime(p.now().Unix())); err != nil {
			errs = append(errs, err)
		}
	}
	p.setState(StateIdle)
	return errors.Join(errs...)
}

// HandleClose runs the aggregation pass of one interval close, treating the
// event's bucket as the open one.
func (p *Pipeline) HandleClose(ctx context.Context, ev scheduler.Event) error {
	if p.State() != StateLive {
		p.logger.Debug("candle close ignored", zap.String("interval", ev.Interval), zap.Stringer("state", p.State()))
		return ErrNotLive
	}
	iv, ok := p.interval(ev.Interval)
	if !ok {
		return fmt.Errorf("unknown interval %q", ev.Interval)
	}
	// A closed gate does not skip the pass: the pass is what reopens it.
	return p.aggregate(ctx, iv, ev.CurrentOpenTime)
}

func (p *Pipeline) followCloses(ctx context.Context, ch <-chan scheduler.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			_ = p.HandleClose(ctx, ev)
		}
	}
}

// aggregate builds iv up to the bucket starting at openTime and reseeds its
// live candle. A failure closes the interval's gate until a later pass succeeds.
func (p *Pipeline) aggregate(ctx context.Context, iv domain.Interval, openTime int64) error {
	res, err := p.builder.BuildAt(ctx, iv, openTime)
	if err == nil {
		err = p.live.Reseed(ctx, iv.Name, res.OpenTime, res.Previous, res.Pending)
	}

	p.mu.Lock()
	wasOpen := p.gates[iv.Name]
	p.gates[iv.Name] = err == nil
	p.mu.Unlock()

	if err != nil {
		p.logger.Error("aggregation failed", zap.String("interval", iv.Name), zap.Error(err))
		return err
	}
	if !wasOpen {
		p.logger.Info("aggregation enabled", zap.String("interval", iv.Name))
	}
	return nil
}

func (p *Pipeline) interval(name string) (domain.Interval, bool) {
	for _, iv := range p.intervals {
		if iv.Name == name {
			return iv, true
		}
	}
	return domain.Interval{}, false
}

func (p *Pipeline) setState(s State) {
	p.state.Store(int32(s))
	observability.SetPipelineState(p.pool.PoolContract, s.String(), stateNames())
}

// fail disables the listener, closes every gate and parks the pipeline in Failed.
func (p *Pipeline) fail(err error) error {
	p.listener.Disable()
	p.mu.Lock()
	for name := range p.gates {
		p.gates[name] = false
	}
	p.mu.Unlock()

	p.failure.Store(&err)
	p.setState(StateFailed)
	observability.RecordPipelineFailure(p.pool.PoolContract)
	p.logger.Error("pipeline failed", zap.Error(err))
	return err
}
