package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-candles/internal/domain"
)

func countRows(t *testing.T, pool *Pool, table string) int {
	t.Helper()

	var n int
	require.NoError(t, pool.QueryRow(context.Background(), "SELECT count(*) FROM "+table).Scan(&n))
	return n
}

func TestCatalogStore_ReplaceIsIdempotent(t *testing.T) {
	pool := setupTestDB(t)

	ctx := context.Background()
	store := NewCatalogStore(pool)

	pools := []domain.Pool{{
		Protocol:      domain.ProtocolUniswapV2,
		PoolRatio:     "50:50",
		PoolContract:  testPoolContract,
		TokenName:     "DEA",
		TokenDecimals: 18,
		PairName:      "USDC",
		PairDecimals:  6,
		FromBlock:     10_000_000,
	}}

	for i := 0; i < 2; i++ {
		require.NoError(t, store.ReplaceIntervals(ctx, domain.SupportedIntervals))
		require.NoError(t, store.ReplacePools(ctx, pools))
		require.NoError(t, store.ReplaceProtocols(ctx, domain.SupportedProtocols))
	}

	assert.Equal(t, len(domain.SupportedIntervals), countRows(t, pool, "intervals"))
	assert.Equal(t, 1, countRows(t, pool, "pools"))
	assert.Equal(t, len(domain.SupportedProtocols), countRows(t, pool, "protocols"))

	var minutes []int32
	require.NoError(t, pool.QueryRow(ctx, "SELECT minutes FROM intervals WHERE name = '15m'").Scan(&minutes))
	assert.Equal(t, []int32{0, 15, 30, 45}, minutes)

	require.NoError(t, store.ReplacePools(ctx, nil))
	assert.Equal(t, 0, countRows(t, pool, "pools"))
}
