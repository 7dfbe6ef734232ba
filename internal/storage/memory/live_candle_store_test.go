package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-candles/internal/domain"
	"dex-candles/internal/storage"
)

func TestLiveCandleStore_UpsertAndMerge(t *testing.T) {
	store := NewLiveCandleStore()
	ctx := context.Background()

	err := store.Merge(ctx, testPool, "5m", 300, domain.LiveCandleMerge{})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.Upsert(ctx, &domain.LiveCandlestick{
		PoolContract: testPool, Interval: "5m", OpenTime: 300,
		Open: 2, High: 2, Low: 2, Close: 2,
	}))

	require.NoError(t, store.Merge(ctx, testPool, "5m", 300, domain.LiveCandleMerge{
		Open: 2.1, High: 2.4, Low: 1.9, Close: 2.2, VolumeDelta: 5,
	}))

	row, err := store.Get(ctx, testPool, "5m")
	require.NoError(t, err)
	assert.Equal(t, 2.0, row.Open)
	assert.Equal(t, 2.4, row.High)
	assert.Equal(t, 1.9, row.Low)
	assert.Equal(t, 2.2, row.Close)
	assert.Equal(t, 5.0, row.Volume)
}

func TestLiveCandleStore_MergeRejectsStaleOpenTime(t *testing.T) {
	store := NewLiveCandleStore()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, &domain.LiveCandlestick{PoolContract: testPool, Interval: "5m", OpenTime: 600}))

	err := store.Merge(ctx, testPool, "5m", 300, domain.LiveCandleMerge{High: 1, Low: 1, Close: 1})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	row, err := store.Get(ctx, testPool, "5m")
	require.NoError(t, err)
	assert.True(t, row.IsEmpty())
}

func TestLiveCandleStore_ConcurrentMerges(t *testing.T) {
	store := NewLiveCandleStore()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, &domain.LiveCandlestick{PoolContract: testPool, Interval: "5m", OpenTime: 0}))

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(p float64) {
			defer wg.Done()
			_ = store.Merge(ctx, testPool, "5m", 0, domain.LiveCandleMerge{Open: p, High: p, Low: p, Close: p, VolumeDelta: 1})
		}(float64(i))
	}
	wg.Wait()

	row, err := store.Get(ctx, testPool, "5m")
	require.NoError(t, err)
	assert.Equal(t, 50.0, row.Volume)
	assert.Equal(t, 50.0, row.High)
	assert.Equal(t, 1.0, row.Low)
}
