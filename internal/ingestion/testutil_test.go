package ingestion

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"dex-candles/internal/domain"
	"dex-candles/internal/protocol"
)

const testPoolAddr = "0xa478c2975ab1ea89e8196811f51a7b7ade33eb11"

var swapTopic = crypto.Keccak256Hash([]byte("Swap(address,uint256,uint256,uint256,uint256,address)"))

func testPool() domain.Pool {
	return domain.Pool{
		Protocol:      domain.ProtocolUniswapV2,
		PoolContract:  testPoolAddr,
		TokenName:     "TKN",
		TokenDecimals: 0,
		PairName:      "PAIR",
		PairDecimals:  0,
		FromBlock:     100,
	}
}

func blockTime(block uint64) int64 {
	return 1_700_000_000 + int64(block)*12
}

func word(v int64) []byte {
	return common.LeftPadBytes(big.NewInt(v).Bytes(), 32)
}

// swapLog builds a Uniswap V2 sell of token for pair at (block, index).
func swapLog(block uint64, index uint, token, pair int64) types.Log {
	var data []byte
	data = append(data, word(token)...)
	data = append(data, word(0)...)
	data = append(data, word(0)...)
	data = append(data, word(pair)...)
	return types.Log{
		Address:     common.HexToAddress(testPoolAddr),
		Topics:      []common.Hash{swapTopic, {}, {}},
		Data:        data,
		BlockNumber: block,
		Index:       index,
	}
}

// fakeGateway is an in-memory ChainGateway with injectable provider failures.
type fakeGateway struct {
	mu sync.Mutex

	head       uint64
	logs       []types.Log
	maxResults int    // more matching logs than this fails with ErrResultTooLarge
	indexedTo  uint64 // queries above this block fail with ErrBlockNotFound (0 disables)
	catchUpAt  int    // indexedTo is cleared once this many queries were served (0 never)
	tsFailures map[uint64]int
	headErr    error

	queries [][2]uint64
	sub     chan types.Log
}

func newFakeGateway(head uint64, logs ...types.Log) *fakeGateway {
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})
	return &fakeGateway{
		head:       head,
		logs:       logs,
		tsFailures: make(map[uint64]int),
		sub:        make(chan types.Log, 64),
	}
}

func (g *fakeGateway) LatestBlockNumber(context.Context) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.head, g.headErr
}

func (g *fakeGateway) HistoricalEvents(_ context.Context, _ common.Address, _ common.Hash, from, to uint64) ([]types.Log, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.queries = append(g.queries, [2]uint64{from, to})
	if g.catchUpAt > 0 && len(g.queries) > g.catchUpAt {
		g.indexedTo = 0
	}
	if g.indexedTo > 0 && to > g.indexedTo {
		return nil, fmt.Errorf("%w: block %d", ErrBlockNotFound, to)
	}

	var out []types.Log
	for _, lg := range g.logs {
		if lg.BlockNumber >= from && lg.BlockNumber <= to {
			out = append(out, lg)
		}
	}
	if g.maxResults > 0 && len(out) > g.maxResults {
		return nil, ErrResultTooLarge
	}
	return out, nil
}

func (g *fakeGateway) Subscribe(context.Context, common.Address, common.Hash) (<-chan types.Log, error) {
	return g.sub, nil
}

func (g *fakeGateway) BlockTimestamp(_ context.Context, block uint64) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n := g.tsFailures[block]; n != 0 {
		if n > 0 {
			g.tsFailures[block] = n - 1
		}
		return 0, fmt.Errorf("block %d unavailable", block)
	}
	return blockTime(block), nil
}

func (g *fakeGateway) Queries() [][2]uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([][2]uint64(nil), g.queries...)
}

func newTestNormalizer(t *testing.T) *TransactionNormalizer {
	t.Helper()
	n, err := protocol.New(testPool())
	require.NoError(t, err)
	return NewTransactionNormalizer(testPool(), n, nil)
}

func newTestResolver(t *testing.T, gw BlockTimestamper) *TimestampResolver {
	t.Helper()
	r := NewTimestampResolver(TimestampResolverOptions{Gateway: gw, Workers: 4})
	t.Cleanup(r.Close)
	return r
}

func txAt(block uint64, index uint) *domain.Transaction {
	return &domain.Transaction{
		Protocol:     domain.ProtocolUniswapV2,
		PoolContract: testPoolAddr,
		BlockNumber:  block,
		LogIndex:     index,
		Timestamp:    blockTime(block),
		Price:        1,
		Volume:       1,
	}
}
