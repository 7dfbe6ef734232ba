package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"dex-candles/internal/candles"
	"dex-candles/internal/domain"
	"dex-candles/internal/ingestion"
	"dex-candles/internal/scheduler"
	"dex-candles/internal/storage"
)

// Service runs one Pipeline per pool, sharing the gateway, stores and the
// interval scheduler.
type Service struct {
	pools     []domain.Pool
	intervals []domain.Interval
	catalog   storage.CatalogStore
	pipelines *xsync.Map[string, *Pipeline]
	logger    *zap.Logger
}

// ServiceOptions contains configuration for creating a Service.
type ServiceOptions struct {
	Pools        []domain.Pool
	Intervals    []domain.Interval
	Gateway      ingestion.ChainGateway
	Timestamps   *ingestion.TimestampResolver
	Stores       Stores
	Catalog      storage.CatalogStore // nil skips the catalog refresh
	Notifier     candles.Notifier
	Sync         SyncSettings
	TickInterval time.Duration
	Clock        func() time.Time
	Logger       *zap.Logger
}

// NewService builds the pipelines of every pool.
func NewService(opts ServiceOptions) (*Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		pools:     opts.Pools,
		intervals: opts.Intervals,
		catalog:   opts.Catalog,
		pipelines: xsync.NewMap[string, *Pipeline](),
		logger:    logger,
	}
	for _, pool := range opts.Pools {
		p, err := New(Options{
			Pool:         pool,
			Intervals:    opts.Intervals,
			Gateway:      opts.Gateway,
			Timestamps:   opts.Timestamps,
			Stores:       opts.Stores,
			Notifier:     opts.Notifier,
			Sync:         opts.Sync,
			TickInterval: opts.TickInterval,
			Clock:        opts.Clock,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		if _, loaded := s.pipelines.LoadOrStore(pool.PoolContract, p); loaded {
			return nil, fmt.Errorf("duplicate pool %s", pool.PoolContract)
		}
	}
	return s, nil
}

// Pipeline returns the pipeline of pool.
func (s *Service) Pipeline(pool string) (*Pipeline, bool) {
	return s.pipelines.Load(domain.NormalizeAddress(pool))
}

// States returns the state of every pipeline keyed by pool.
func (s *Service) States() map[string]State {
	out := make(map[string]State, s.pipelines.Size())
	s.pipelines.Range(func(pool string, p *Pipeline) bool {
		out[pool] = p.State()
		return true
	})
	return out
}

// Ready reports whether every pipeline is live.
func (s *Service) Ready() bool {
	ready := s.pipelines.Size() > 0
	s.pipelines.Range(func(_ string, p *Pipeline) bool {
		if p.State() != StateLive {
			ready = false
			return false
		}
		return true
	})
	return ready
}

// RefreshCatalog replaces the catalog tables with the configured intervals,
// pools and protocols.
func (s *Service) RefreshCatalog(ctx context.Context) error {
	if s.catalog == nil {
		return nil
	}
	if err := s.catalog.ReplaceIntervals(ctx, s.intervals); err != nil {
		return fmt.Errorf("refresh intervals: %w", err)
	}
	if err := s.catalog.ReplacePools(ctx, s.pools); err != nil {
		return fmt.Errorf("refresh pools: %w", err)
	}
	if err := s.catalog.ReplaceProtocols(ctx, domain.SupportedProtocols); err != nil {
		return fmt.Errorf("refresh protocols: %w", err)
	}
	s.logger.Info("catalog refreshed",
		zap.Int("intervals", len(s.intervals)), zap.Int("pools", len(s.pools)))
	return nil
}

// Run refreshes the catalog, starts the scheduler and runs every pipeline
// until ctx is done. A failed pool does not stop the others.
func (s *Service) Run(ctx context.Context) error {
	if err := s.RefreshCatalog(ctx); err != nil {
		return err
	}

	sched, err := scheduler.New(scheduler.Options{Intervals: s.intervals, Logger: s.logger})
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, pool := range s.sortedPools() {
		p, _ := s.pipelines.Load(pool)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Run(ctx, sched); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("pool stopped", zap.String("pool", pool), zap.Error(err))
			}
		}()
	}

	sched.Start()
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sched.Stop(stopCtx)
	wg.Wait()
	s.logger.Info("service stopped")
	return nil
}

// Backfill synchronizes and aggregates every pool once, concurrently.
func (s *Service) Backfill(ctx context.Context) error {
	if err := s.RefreshCatalog(ctx); err != nil {
		return err
	}

	pool := pond.NewPool(len(s.pools) + 1)
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	var mu sync.Mutex
	var errs []error
	for _, addr := range s.sortedPools() {
		p, _ := s.pipelines.Load(addr)
		group.Submit(func() {
			if err := p.RunOnce(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("pool %s: %w", addr, err))
				mu.Unlock()
			}
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Service) sortedPools() []string {
	var out []string
	s.pipelines.Range(func(pool string, _ *Pipeline) bool {
		out = append(out, pool)
		return true
	})
	sort.Strings(out)
	return out
}
