package evm

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialTestSubscriber(t *testing.T, url string) *Subscriber {
	t.Helper()
	s, err := DialSubscriber(context.Background(), url, DefaultSubscriberConfig())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func swapQuery() ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{testPool},
		Topics:    [][]common.Hash{{testTopic}},
	}
}

func receive(t *testing.T, ch <-chan types.Log) types.Log {
	t.Helper()
	select {
	case lg, ok := <-ch:
		require.True(t, ok, "channel closed")
		return lg
	case <-time.After(5 * time.Second):
		t.Fatal("no log received")
		return types.Log{}
	}
}

func requireClosed(t *testing.T, ch <-chan types.Log) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed")
		}
	}
}

func TestSubscriber_DeliversLogs(t *testing.T) {
	node := newFakeNode(100)
	_, url := node.serveWS(t)
	s := dialTestSubscriber(t, url)

	ch, err := s.SubscribeLogs(context.Background(), swapQuery())
	require.NoError(t, err)

	f := node.lastFilter()
	assert.Equal(t, []common.Address{testPool}, f.Address)
	assert.Equal(t, [][]common.Hash{{testTopic}}, f.Topics)

	node.feed <- testLog(101, 0)
	node.feed <- testLog(101, 3)

	first := receive(t, ch)
	assert.Equal(t, uint64(101), first.BlockNumber)
	assert.Equal(t, testPool, first.Address)
	assert.Equal(t, uint(3), receive(t, ch).Index)
}

func TestSubscriber_ConnectionLossClosesChannel(t *testing.T) {
	node := newFakeNode(100)
	srv, url := node.serveWS(t)
	s := dialTestSubscriber(t, url)

	ch, err := s.SubscribeLogs(context.Background(), swapQuery())
	require.NoError(t, err)

	srv.Stop()
	requireClosed(t, ch)
}

func TestSubscriber_ContextCancelClosesChannel(t *testing.T) {
	node := newFakeNode(100)
	_, url := node.serveWS(t)
	s := dialTestSubscriber(t, url)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := s.SubscribeLogs(ctx, swapQuery())
	require.NoError(t, err)

	cancel()
	requireClosed(t, ch)
}

func TestSubscriber_CloseEndsSubscriptions(t *testing.T) {
	node := newFakeNode(100)
	_, url := node.serveWS(t)
	s := dialTestSubscriber(t, url)

	ch, err := s.SubscribeLogs(context.Background(), swapQuery())
	require.NoError(t, err)

	s.Close()
	requireClosed(t, ch)
}

func TestDialSubscriber_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := DialSubscriber(ctx, "ws://127.0.0.1:1", DefaultSubscriberConfig())
	assert.Error(t, err)
}
