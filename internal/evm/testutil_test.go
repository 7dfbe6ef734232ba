package evm

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"
)

var (
	testPool  = common.HexToAddress("0x83973dcaa04a6786ecc0628cc494a089c1aee947")
	testTopic = common.HexToHash("0xd78ad95fa46c994b6551d0da85fc275fe613ce37657fb8d5e3d130840159d822")
)

func testLog(block uint64, index uint) types.Log {
	return types.Log{
		Address:     testPool,
		Topics:      []common.Hash{testTopic},
		Data:        []byte{},
		BlockNumber: block,
		TxHash:      common.HexToHash("0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"),
		Index:       index,
	}
}

// logFilter is the eth_getLogs and eth_subscribe filter object as sent by ethclient.
type logFilter struct {
	FromBlock string           `json:"fromBlock"`
	ToBlock   string           `json:"toBlock"`
	Address   []common.Address `json:"address"`
	Topics    [][]common.Hash  `json:"topics"`
}

// fakeNode serves the eth namespace subset the service calls.
type fakeNode struct {
	mu      sync.Mutex
	head    uint64
	logs    []types.Log
	times   map[uint64]uint64
	logsErr error
	filters []logFilter
	feed    chan types.Log
}

func newFakeNode(head uint64, logs ...types.Log) *fakeNode {
	return &fakeNode{head: head, logs: logs, times: make(map[uint64]uint64), feed: make(chan types.Log, 16)}
}

func (n *fakeNode) BlockNumber() hexutil.Uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return hexutil.Uint64(n.head)
}

func (n *fakeNode) GetLogs(crit logFilter) ([]types.Log, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.filters = append(n.filters, crit)
	if n.logsErr != nil {
		return nil, n.logsErr
	}
	from, err := hexutil.DecodeUint64(crit.FromBlock)
	if err != nil {
		return nil, err
	}
	to, err := hexutil.DecodeUint64(crit.ToBlock)
	if err != nil {
		return nil, err
	}
	out := []types.Log{}
	for _, lg := range n.logs {
		if lg.BlockNumber >= from && lg.BlockNumber <= to {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (n *fakeNode) GetBlockByNumber(number hexutil.Uint64, _ bool) (*types.Header, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ts, ok := n.times[uint64(number)]
	if !ok {
		return nil, nil
	}
	return &types.Header{
		Number:     new(big.Int).SetUint64(uint64(number)),
		Difficulty: big.NewInt(0),
		Time:       ts,
	}, nil
}

func (n *fakeNode) Logs(ctx context.Context, crit logFilter) (*rpc.Subscription, error) {
	notifier, ok := rpc.NotifierFromContext(ctx)
	if !ok {
		return nil, rpc.ErrNotificationsUnsupported
	}
	n.mu.Lock()
	n.filters = append(n.filters, crit)
	n.mu.Unlock()

	sub := notifier.CreateSubscription()
	go func() {
		for {
			select {
			case lg := <-n.feed:
				if err := notifier.Notify(sub.ID, lg); err != nil {
					return
				}
			case <-sub.Err():
				return
			}
		}
	}()
	return sub, nil
}

func (n *fakeNode) lastFilter() logFilter {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.filters[len(n.filters)-1]
}

func (n *fakeNode) filterCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.filters)
}

// serve starts an RPC server for n. wrap, when set, sits in front of the
// HTTP handler.
func (n *fakeNode) serve(t *testing.T, wrap func(http.Handler) http.Handler) (*rpc.Server, *httptest.Server) {
	t.Helper()
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("eth", n))

	var h http.Handler = srv
	if wrap != nil {
		h = wrap(h)
	}
	hs := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Stop()
		hs.Close()
	})
	return srv, hs
}

// serveWS starts a WebSocket RPC server for n and returns its ws:// URL.
func (n *fakeNode) serveWS(t *testing.T) (*rpc.Server, string) {
	t.Helper()
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("eth", n))

	hs := httptest.NewServer(srv.WebsocketHandler([]string{"*"}))
	t.Cleanup(func() {
		srv.Stop()
		hs.Close()
	})
	return srv, "ws" + strings.TrimPrefix(hs.URL, "http")
}
