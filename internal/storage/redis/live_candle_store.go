package redis

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"dex-candles/internal/domain"
	"dex-candles/internal/observability"
	"dex-candles/internal/storage"
)

//go:embed lua/merge_live.lua
var mergeLiveScript string

var mergeLive = redis.NewScript(mergeLiveScript)

// LiveCandleStore implements storage.LiveCandleStore with one hash per (pool, interval).
// Merges run as a Lua script so they are atomic against concurrent writers.
type LiveCandleStore struct {
	client *Client
}

// NewLiveCandleStore creates a new LiveCandleStore.
func NewLiveCandleStore(client *Client) *LiveCandleStore {
	return &LiveCandleStore{client: client}
}

// Compile-time interface check.
var _ storage.LiveCandleStore = (*LiveCandleStore)(nil)

func liveKey(pool, interval string) string {
	return "live:" + pool + ":" + interval
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Upsert overwrites every field of the row, creating it if missing.
func (s *LiveCandleStore) Upsert(ctx context.Context, c *domain.LiveCandlestick) (err error) {
	defer observe("upsert_live_candle", time.Now(), &err)

	err = s.client.client.HSet(ctx, liveKey(c.PoolContract, c.Interval), map[string]any{
		"open_time": strconv.FormatInt(c.OpenTime, 10),
		"open":      formatFloat(c.Open),
		"high":      formatFloat(c.High),
		"low":       formatFloat(c.Low),
		"close":     formatFloat(c.Close),
		"volume":    formatFloat(c.Volume),
	}).Err()
	if err != nil {
		return fmt.Errorf("upsert live candle: %w", err)
	}
	return nil
}

// Merge atomically folds m into the row whose open_time equals openTime.
func (s *LiveCandleStore) Merge(ctx context.Context, pool, interval string, openTime int64, m domain.LiveCandleMerge) (err error) {
	defer observe("merge_live_candle", time.Now(), &err)

	applied, err := mergeLive.Run(ctx, s.client.client,
		[]string{liveKey(pool, interval)},
		strconv.FormatInt(openTime, 10),
		formatFloat(m.Open),
		formatFloat(m.High),
		formatFloat(m.Low),
		formatFloat(m.Close),
		formatFloat(m.VolumeDelta),
	).Int()
	if err != nil {
		return fmt.Errorf("merge live candle: %w", err)
	}
	if applied == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Get returns the row. Returns ErrNotFound if it was never seeded.
func (s *LiveCandleStore) Get(ctx context.Context, pool, interval string) (_ *domain.LiveCandlestick, err error) {
	defer observe("get_live_candle", time.Now(), &err)

	fields, err := s.client.client.HGetAll(ctx, liveKey(pool, interval)).Result()
	if err != nil {
		return nil, fmt.Errorf("get live candle: %w", err)
	}
	if len(fields) == 0 {
		return nil, storage.ErrNotFound
	}

	c := &domain.LiveCandlestick{PoolContract: pool, Interval: interval}
	if c.OpenTime, err = strconv.ParseInt(fields["open_time"], 10, 64); err != nil {
		return nil, fmt.Errorf("parse open_time: %w", err)
	}
	for name, dst := range map[string]*float64{
		"open":   &c.Open,
		"high":   &c.High,
		"low":    &c.Low,
		"close":  &c.Close,
		"volume": &c.Volume,
	} {
		if *dst, err = strconv.ParseFloat(fields[name], 64); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
	}
	return c, nil
}

// observe records the duration and outcome of a command.
func observe(operation string, start time.Time, errp *error) {
	observability.RecordDBQuery("redis", operation, time.Since(start).Seconds(), *errp)
}
