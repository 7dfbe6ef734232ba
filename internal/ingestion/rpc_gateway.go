package ingestion

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"dex-candles/internal/evm"
)

// RPCGateway implements ChainGateway on top of the JSON-RPC HTTP client and
// the WebSocket log subscriber.
type RPCGateway struct {
	rpc evm.RPCClient
	ws  evm.LogSubscriber
}

// NewRPCGateway creates a gateway. ws may be nil for backfill-only runs.
func NewRPCGateway(rpc evm.RPCClient, ws evm.LogSubscriber) *RPCGateway {
	return &RPCGateway{rpc: rpc, ws: ws}
}

// LatestBlockNumber returns eth_blockNumber.
func (g *RPCGateway) LatestBlockNumber(ctx context.Context) (uint64, error) {
	n, err := g.rpc.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("latest block: %w", err)
	}
	return n, nil
}

// HistoricalEvents runs eth_getLogs and maps provider errors to gateway kinds.
func (g *RPCGateway) HistoricalEvents(ctx context.Context, contract common.Address, event common.Hash, from, to uint64) ([]types.Log, error) {
	logs, err := g.rpc.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{contract},
		Topics:    [][]common.Hash{{event}},
	})
	if err != nil {
		return nil, classify(err)
	}
	return logs, nil
}

// Subscribe opens an eth_subscribe logs stream. The channel closes when the
// connection is lost.
func (g *RPCGateway) Subscribe(ctx context.Context, contract common.Address, event common.Hash) (<-chan types.Log, error) {
	if g.ws == nil {
		return nil, errors.New("no websocket client configured")
	}
	ch, err := g.ws.SubscribeLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{contract},
		Topics:    [][]common.Hash{{event}},
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe logs: %w", err)
	}
	return ch, nil
}

// BlockTimestamp returns the header time of block.
func (g *RPCGateway) BlockTimestamp(ctx context.Context, block uint64) (int64, error) {
	h, err := g.rpc.HeaderByNumber(ctx, block)
	if err != nil {
		return 0, classify(err)
	}
	return int64(h.Time), nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, evm.ErrResultTooLarge):
		return fmt.Errorf("%w: %v", ErrResultTooLarge, err)
	case errors.Is(err, evm.ErrBlockNotFound):
		return fmt.Errorf("%w: %v", ErrBlockNotFound, err)
	}
	return err
}

// Compile-time interface check.
var _ ChainGateway = (*RPCGateway)(nil)
