// Package protocol turns protocol-native swap logs into normalized transactions.
package protocol

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"dex-candles/internal/domain"
)

var (
	// ErrUnsupportedProtocol is returned for pools whose protocol has no normalizer.
	ErrUnsupportedProtocol = errors.New("unsupported protocol")

	// ErrMalformedEvent is returned when a log is not the expected swap event.
	ErrMalformedEvent = errors.New("malformed swap event")
)

// Amounts is the protocol-independent reading of one swap: how much of the
// pool's token and pair asset changed hands, already scaled by decimals.
type Amounts struct {
	TokenAmount decimal.Decimal
	PairAmount  decimal.Decimal
	BlockNumber uint64
	LogIndex    uint
}

// Normalizer extracts swap amounts from one protocol's swap event.
type Normalizer interface {
	// Protocol returns the protocol tag this normalizer handles.
	Protocol() domain.Protocol

	// EventName returns the swap event name, e.g. "Swap".
	EventName() string

	// EventID returns topic0 of the swap event, used as the log filter.
	EventID() common.Hash

	// ExtractAmounts decodes a swap log. Returns ErrMalformedEvent for foreign logs.
	ExtractAmounts(lg types.Log) (Amounts, error)
}

// New returns the normalizer for the pool's protocol.
func New(pool domain.Pool) (Normalizer, error) {
	switch pool.Protocol {
	case domain.ProtocolUniswapV2:
		return NewUniswapV2(pool)
	case domain.ProtocolBalancer:
		return NewBalancer(pool)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, pool.Protocol)
	}
}

// scaled converts a raw integer token amount to whole units.
func scaled(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}
