// Command candles ingests DEX swap logs and maintains OHLCV candlesticks per pool.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"dex-candles/internal/config"
	"dex-candles/internal/evm"
	"dex-candles/internal/ingestion"
	"dex-candles/internal/logging"
	"dex-candles/internal/observability"
	"dex-candles/internal/pipeline"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config (defaults apply when empty)")
	mode := flag.String("mode", "run", "Mode: run, backfill, or migrate")
	autoMigrate := flag.Bool("auto-migrate", false, "Apply embedded migrations before starting")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Encoding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, initiating graceful shutdown", zap.String("signal", sig.String()))
		case <-done:
			return
		}
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing immediate shutdown", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Error("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	switch *mode {
	case "migrate":
		err = runMigrations(ctx, cfg, logger)
	case "backfill":
		err = runBackfill(ctx, cfg, logger, *autoMigrate)
	case "run":
		err = runService(ctx, cfg, logger, *autoMigrate)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}

	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("exiting with error", zap.Error(err))
		logger.Sync() //nolint:errcheck
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// runService runs every pool live until ctx is cancelled.
func runService(ctx context.Context, cfg *config.Config, logger *zap.Logger, autoMigrate bool) error {
	if cfg.RPC.WSEndpoint == "" {
		return errors.New("rpc.ws_endpoint is required in run mode")
	}

	b, err := openBackends(ctx, cfg, logger, autoMigrate)
	if err != nil {
		return err
	}
	defer b.Close()

	wsCfg := evm.DefaultSubscriberConfig()
	wsCfg.Logger = logger.Named("ws")
	ws, err := evm.DialSubscriber(ctx, cfg.RPC.WSEndpoint, wsCfg)
	if err != nil {
		return fmt.Errorf("create websocket client: %w", err)
	}
	defer ws.Close()

	rpc, err := dialRPC(ctx, cfg)
	if err != nil {
		return err
	}
	defer rpc.Close()

	gateway := ingestion.NewRPCGateway(rpc, ws)
	svc, closeSvc, err := newService(cfg, b, gateway, logger)
	if err != nil {
		return err
	}
	defer closeSvc()

	ops := observability.NewServer(observability.ServerOptions{
		Addr:   cfg.MetricsAddr,
		Ready:  svc.Ready,
		Status: func() map[string]string { return stateNames(svc.States()) },
		Logger: logger,
	})
	go func() {
		if err := ops.Run(ctx); err != nil {
			logger.Error("ops server failed", zap.Error(err))
		}
	}()

	return svc.Run(ctx)
}

// runBackfill synchronizes and aggregates every pool once, then exits.
func runBackfill(ctx context.Context, cfg *config.Config, logger *zap.Logger, autoMigrate bool) error {
	b, err := openBackends(ctx, cfg, logger, autoMigrate)
	if err != nil {
		return err
	}
	defer b.Close()

	rpc, err := dialRPC(ctx, cfg)
	if err != nil {
		return err
	}
	defer rpc.Close()

	gateway := ingestion.NewRPCGateway(rpc, nil)
	svc, closeSvc, err := newService(cfg, b, gateway, logger)
	if err != nil {
		return err
	}
	defer closeSvc()

	start := time.Now()
	if err := svc.Backfill(ctx); err != nil {
		return err
	}
	logger.Info("backfill complete",
		zap.Int("pools", len(cfg.Pools)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func dialRPC(ctx context.Context, cfg *config.Config) (*evm.Client, error) {
	c, err := evm.Dial(ctx, cfg.RPC.HTTPEndpoint,
		evm.WithTimeout(cfg.RPC.Timeout),
		evm.WithMaxRetries(cfg.RPC.MaxRetries),
		evm.WithLatencyObserver(func(method string, d time.Duration) {
			observability.RecordRPCLatency(method, d.Seconds())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create rpc client: %w", err)
	}
	return c, nil
}

// newService wires the stores, timestamp resolver and pipelines.
// The returned func releases the resolver's workers.
func newService(cfg *config.Config, b *backends, gateway ingestion.ChainGateway, logger *zap.Logger) (*pipeline.Service, func(), error) {
	stores, err := b.stores(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	timestamps := ingestion.NewTimestampResolver(ingestion.TimestampResolverOptions{
		Gateway: gateway,
		Workers: cfg.Sync.TimestampWorkers,
		Logger:  logger,
	})

	svc, err := pipeline.NewService(pipeline.ServiceOptions{
		Pools:      cfg.DomainPools(),
		Intervals:  cfg.DomainIntervals(),
		Gateway:    gateway,
		Timestamps: timestamps,
		Stores:     stores,
		Catalog:    b.catalog(cfg),
		Notifier:   b.notifier(cfg),
		Sync: pipeline.SyncSettings{
			BatchSize:            cfg.Sync.BatchSize,
			BlockNotFoundRetries: cfg.Sync.BlockNotFoundRetries,
			RetryDelay:           cfg.Sync.RetryDelay,
		},
		TickInterval: cfg.Live.TickInterval,
		Logger:       logger,
	})
	if err != nil {
		timestamps.Close()
		return nil, nil, err
	}
	return svc, timestamps.Close, nil
}

func stateNames(states map[string]pipeline.State) map[string]string {
	out := make(map[string]string, len(states))
	for pool, s := range states {
		out[pool] = s.String()
	}
	return out
}
