package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"dex-candles/internal/candles"
	"dex-candles/internal/domain"
)

// CandleMessage is the Pub/Sub payload of a closed candle.
type CandleMessage struct {
	Protocol     string  `json:"protocol"`
	TokenName    string  `json:"token_name"`
	PairName     string  `json:"pair_name"`
	PoolContract string  `json:"pool_contract"`
	Interval     string  `json:"interval"`
	BlockNumber  uint64  `json:"block_number"`
	OpenTime     int64   `json:"open_time"`
	Open         float64 `json:"open"`
	High         float64 `json:"high"`
	Low          float64 `json:"low"`
	Close        float64 `json:"close"`
	Volume       float64 `json:"volume"`
}

// Publisher announces closed candles on channel candles:<pool>:<interval>.
type Publisher struct {
	client *Client
}

// NewPublisher creates a new Publisher.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// Compile-time interface check.
var _ candles.Notifier = (*Publisher)(nil)

// CandleChannel returns the channel closed candles of a pool and interval are published on.
func CandleChannel(pool, interval string) string {
	return "candles:" + pool + ":" + interval
}

// PublishCandle publishes c as JSON.
func (p *Publisher) PublishCandle(ctx context.Context, c *domain.Candlestick) error {
	payload, err := json.Marshal(CandleMessage{
		Protocol:     string(c.Protocol),
		TokenName:    c.TokenName,
		PairName:     c.PairName,
		PoolContract: c.PoolContract,
		Interval:     c.Interval,
		BlockNumber:  c.BlockNumber,
		OpenTime:     c.OpenTime,
		Open:         c.Open,
		High:         c.High,
		Low:          c.Low,
		Close:        c.Close,
		Volume:       c.Volume,
	})
	if err != nil {
		return fmt.Errorf("encode candle: %w", err)
	}

	channel := CandleChannel(c.PoolContract, c.Interval)
	if err := p.client.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}
