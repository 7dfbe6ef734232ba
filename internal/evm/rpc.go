package evm

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

// RPCClient is the JSON-RPC surface used for backfill and block timestamps.
type RPCClient interface {
	// BlockNumber returns the number of the most recent block.
	BlockNumber(ctx context.Context) (uint64, error)

	// FilterLogs returns logs matching q. Providers reject oversized result
	// sets with an error matching ErrResultTooLarge.
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)

	// HeaderByNumber retrieves a block header. Returns ErrBlockNotFound if the
	// node does not know the block yet.
	HeaderByNumber(ctx context.Context, number uint64) (*types.Header, error)
}

// LogSubscriber streams new logs over eth_subscribe.
type LogSubscriber interface {
	// SubscribeLogs subscribes to logs matching q. The returned channel is
	// closed when ctx is done or the subscription ends, including on
	// connection loss. There is no resubscription.
	SubscribeLogs(ctx context.Context, q ethereum.FilterQuery) (<-chan types.Log, error)

	// Close closes the connection and ends every subscription.
	Close()
}
