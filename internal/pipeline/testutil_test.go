package pipeline

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"dex-candles/internal/domain"
	"dex-candles/internal/ingestion"
	"dex-candles/internal/scheduler"
	"dex-candles/internal/storage/memory"
)

const (
	poolA = "0xa478c2975ab1ea89e8196811f51a7b7ade33eb11"
	poolB = "0x92330d8818e8a3b50f027c819fa46a1e3c2e3c50"
)

var swapTopic = crypto.Keccak256Hash([]byte("Swap(address,uint256,uint256,uint256,uint256,address)"))

func uniswapPool(addr string) domain.Pool {
	return domain.Pool{
		Protocol:     domain.ProtocolUniswapV2,
		PoolContract: addr,
		TokenName:    "TKN",
		PairName:     "PAIR",
		FromBlock:    100,
	}
}

func blockTime(block uint64) int64 {
	return 1_700_000_000 + int64(block)*12
}

func clockAt(unix int64) func() time.Time {
	return func() time.Time { return time.Unix(unix, 0) }
}

func word(v int64) []byte {
	return common.LeftPadBytes(big.NewInt(v).Bytes(), 32)
}

func swapLog(pool string, block uint64, index uint, token, pair int64) types.Log {
	var data []byte
	data = append(data, word(token)...)
	data = append(data, word(0)...)
	data = append(data, word(0)...)
	data = append(data, word(pair)...)
	return types.Log{
		Address:     common.HexToAddress(pool),
		Topics:      []common.Hash{swapTopic, {}, {}},
		Data:        data,
		BlockNumber: block,
		Index:       index,
	}
}

type fakeGateway struct {
	mu   sync.Mutex
	head uint64
	logs []types.Log
	subs map[common.Address]chan types.Log
}

func newFakeGateway(head uint64, logs ...types.Log) *fakeGateway {
	return &fakeGateway{head: head, logs: logs, subs: make(map[common.Address]chan types.Log)}
}

func (g *fakeGateway) LatestBlockNumber(context.Context) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.head, nil
}

func (g *fakeGateway) HistoricalEvents(_ context.Context, contract common.Address, _ common.Hash, from, to uint64) ([]types.Log, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []types.Log
	for _, lg := range g.logs {
		if lg.Address == contract && lg.BlockNumber >= from && lg.BlockNumber <= to {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (g *fakeGateway) Subscribe(_ context.Context, contract common.Address, _ common.Hash) (<-chan types.Log, error) {
	return g.sub(contract), nil
}

func (g *fakeGateway) BlockTimestamp(_ context.Context, block uint64) (int64, error) {
	return blockTime(block), nil
}

func (g *fakeGateway) sub(contract common.Address) chan types.Log {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.subs[contract]
	if !ok {
		ch = make(chan types.Log, 16)
		g.subs[contract] = ch
	}
	return ch
}

// closeSource is a CloseSource fed by hand.
type closeSource struct {
	mu    sync.Mutex
	chans map[string]chan scheduler.Event
}

func newCloseSource() *closeSource {
	return &closeSource{chans: make(map[string]chan scheduler.Event)}
}

func (c *closeSource) Subscribe(interval string) (<-chan scheduler.Event, error) {
	return c.ch(interval), nil
}

func (c *closeSource) ch(interval string) chan scheduler.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.chans[interval]
	if !ok {
		ch = make(chan scheduler.Event, 4)
		c.chans[interval] = ch
	}
	return ch
}

type memoryStores struct {
	transactions *memory.TransactionStore
	candles      *memory.CandleStore
	live         *memory.LiveCandleStore
}

func newMemoryStores() *memoryStores {
	return &memoryStores{
		transactions: memory.NewTransactionStore(),
		candles:      memory.NewCandleStore(),
		live:         memory.NewLiveCandleStore(),
	}
}

func (m *memoryStores) stores() Stores {
	return Stores{Transactions: m.transactions, Candles: m.candles, LiveCandles: m.live}
}

func newTestResolver(t *testing.T, gw ingestion.BlockTimestamper) *ingestion.TimestampResolver {
	t.Helper()
	r := ingestion.NewTimestampResolver(ingestion.TimestampResolverOptions{Gateway: gw, Workers: 2})
	t.Cleanup(r.Close)
	return r
}
