package evm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// SubscriberConfig configures the WebSocket connection of a Subscriber.
type SubscriberConfig struct {
	// HandshakeTimeout bounds the WebSocket opening handshake.
	HandshakeTimeout time.Duration
	// ReadBufferSize and WriteBufferSize size the connection's I/O buffers.
	ReadBufferSize  int
	WriteBufferSize int
	// MessageSizeLimit caps a single incoming message, in bytes.
	MessageSizeLimit int64
	// Buffer is the capacity of each subscription channel.
	Buffer int
	// Logger receives subscription lifecycle events. Defaults to a no-op logger.
	Logger *zap.Logger
}

// DefaultSubscriberConfig returns default WebSocket configuration.
func DefaultSubscriberConfig() SubscriberConfig {
	return SubscriberConfig{
		HandshakeTimeout: 45 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		MessageSizeLimit: 32 * 1024 * 1024,
		Buffer:           256,
	}
}

// Subscriber implements LogSubscriber over an ethclient WebSocket connection.
type Subscriber struct {
	eth    *ethclient.Client
	buffer int
	logger *zap.Logger
}

// DialSubscriber opens a WebSocket connection to endpoint.
func DialSubscriber(ctx context.Context, endpoint string, cfg SubscriberConfig) (*Subscriber, error) {
	def := DefaultSubscriberConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.MessageSizeLimit <= 0 {
		cfg.MessageSizeLimit = def.MessageSizeLimit
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
		ReadBufferSize:   cfg.ReadBufferSize,
		WriteBufferSize:  cfg.WriteBufferSize,
	}
	rc, err := rpc.DialOptions(ctx, endpoint,
		rpc.WithWebsocketDialer(dialer),
		rpc.WithWebsocketMessageSizeLimit(cfg.MessageSizeLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	cfg.Logger.Info("websocket connected", zap.String("endpoint", endpoint))

	return &Subscriber{
		eth:    ethclient.NewClient(rc),
		buffer: cfg.Buffer,
		logger: cfg.Logger,
	}, nil
}

// SubscribeLogs subscribes to logs matching q.
func (s *Subscriber) SubscribeLogs(ctx context.Context, q ethereum.FilterQuery) (<-chan types.Log, error) {
	in := make(chan types.Log, s.buffer)
	sub, err := s.eth.SubscribeFilterLogs(ctx, q, in)
	if err != nil {
		return nil, fmt.Errorf("eth_subscribe logs: %w", err)
	}

	out := make(chan types.Log, s.buffer)
	go s.forward(ctx, sub, in, out)
	return out, nil
}

// forward copies logs from in to out until ctx is done or sub ends, then
// closes out so the consumer sees the end of the stream.
func (s *Subscriber) forward(ctx context.Context, sub ethereum.Subscription, in <-chan types.Log, out chan<- types.Log) {
	defer close(out)
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-sub.Err():
			if err != nil {
				s.logger.Warn("log subscription lost", zap.Error(err))
			} else {
				s.logger.Info("log subscription closed")
			}
			return
		case lg := <-in:
			select {
			case out <- lg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Close closes the connection and ends every subscription.
func (s *Subscriber) Close() {
	s.eth.Close()
}

// Compile-time interface check.
var _ LogSubscriber = (*Subscriber)(nil)
