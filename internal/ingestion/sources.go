package ingestion

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainGateway supplies swap logs and block data. Implementations are expected
// to be unreliable and rate-limited.
type ChainGateway interface {
	// LatestBlockNumber returns the chain head.
	LatestBlockNumber(ctx context.Context) (uint64, error)

	// HistoricalEvents returns logs of event emitted by contract in [from, to],
	// ordered by (block, log index). Fails with ErrResultTooLarge or ErrBlockNotFound
	// as recoverable kinds.
	HistoricalEvents(ctx context.Context, contract common.Address, event common.Hash, from, to uint64) ([]types.Log, error)

	// Subscribe pushes new logs of event emitted by contract. The channel is
	// closed when the subscription ends.
	Subscribe(ctx context.Context, contract common.Address, event common.Hash) (<-chan types.Log, error)

	// BlockTimestamp returns the block time in Unix seconds.
	BlockTimestamp(ctx context.Context, block uint64) (int64, error)
}

// BlockTimestamper is the subset of ChainGateway used for timestamp resolution.
type BlockTimestamper interface {
	BlockTimestamp(ctx context.Context, block uint64) (int64, error)
}
