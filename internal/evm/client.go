package evm

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// LatencyObserver receives the duration of every JSON-RPC call, retries included.
type LatencyObserver func(method string, d time.Duration)

// Client implements RPCClient on ethclient with retries and exponential
// backoff for transport failures.
type Client struct {
	eth         *ethclient.Client
	httpClient  *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	observe     LatencyObserver
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithLatencyObserver registers a callback invoked after every call.
func WithLatencyObserver(fn LatencyObserver) ClientOption {
	return func(c *Client) {
		c.observe = fn
	}
}

// Dial creates a client for an HTTP JSON-RPC endpoint. No request is sent
// until the first call.
func Dial(ctx context.Context, endpoint string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		httpClient:  &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}

	rc, err := rpc.DialOptions(ctx, endpoint, rpc.WithHTTPClient(c.httpClient))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	c.eth = ethclient.NewClient(rc)
	return c, nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.eth.Close()
}

// BlockNumber returns the number of the most recent block.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := c.call(ctx, "eth_blockNumber", func(ctx context.Context) (err error) {
		n, err = c.eth.BlockNumber(ctx)
		return err
	})
	return n, err
}

// FilterLogs returns logs matching q, in the node's (block, log index) order.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := c.call(ctx, "eth_getLogs", func(ctx context.Context) (err error) {
		logs, err = c.eth.FilterLogs(ctx, q)
		return err
	})
	return logs, err
}

// HeaderByNumber retrieves a block header. A null result maps to ErrBlockNotFound.
func (c *Client) HeaderByNumber(ctx context.Context, number uint64) (*types.Header, error) {
	var h *types.Header
	err := c.call(ctx, "eth_getBlockByNumber", func(ctx context.Context) (err error) {
		h, err = c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", number, err)
	}
	return h, nil
}

// call runs fn with retries. Transport failures and 429/5xx responses are
// retried; answers from the node are classified and returned at once.
func (c *Client) call(ctx context.Context, method string, fn func(context.Context) error) error {
	if c.observe != nil {
		start := time.Now()
		defer func() { c.observe(method, time.Since(start)) }()
	}

	delay := c.retryDelay
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retryable(err) {
			return classify(err)
		}
		if attempt >= c.maxRetries {
			return fmt.Errorf("%s: max retries exceeded: %w", method, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * c.backoffMult)
		if delay > c.maxDelay {
			delay = c.maxDelay
		}
	}
}

// Compile-time interface check.
var _ RPCClient = (*Client)(nil)
