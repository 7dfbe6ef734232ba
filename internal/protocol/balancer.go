package protocol

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"dex-candles/internal/domain"
)

// balancerLogSwapABI is the LOG_SWAP event of a Balancer V1 weighted pool.
const balancerLogSwapABI = `[{
	"anonymous": false,
	"name": "LOG_SWAP",
	"type": "event",
	"inputs": [
		{"indexed": true,  "name": "caller",         "type": "address"},
		{"indexed": true,  "name": "tokenIn",        "type": "address"},
		{"indexed": true,  "name": "tokenOut",       "type": "address"},
		{"indexed": false, "name": "tokenAmountIn",  "type": "uint256"},
		{"indexed": false, "name": "tokenAmountOut", "type": "uint256"}
	]
}]`

type balancerLogSwap struct {
	TokenAmountIn  *big.Int
	TokenAmountOut *big.Int
}

// Balancer normalizes weighted pool swaps. The swap side is decided by comparing
// the indexed tokenIn with the pool's token contract.
type Balancer struct {
	pool  domain.Pool
	token common.Address
	abi   abi.ABI
	event abi.Event
}

// NewBalancer creates a Balancer normalizer for pool.
func NewBalancer(pool domain.Pool) (*Balancer, error) {
	if !common.IsHexAddress(pool.TokenContract) {
		return nil, fmt.Errorf("balancer pool %s: invalid token contract %q", pool.PoolContract, pool.TokenContract)
	}
	parsed, err := abi.JSON(strings.NewReader(balancerLogSwapABI))
	if err != nil {
		return nil, fmt.Errorf("parse balancer abi: %w", err)
	}
	return &Balancer{
		pool:  pool,
		token: common.HexToAddress(pool.TokenContract),
		abi:   parsed,
		event: parsed.Events["LOG_SWAP"],
	}, nil
}

func (b *Balancer) Protocol() domain.Protocol { return domain.ProtocolBalancer }

func (b *Balancer) EventName() string { return "LOG_SWAP" }

func (b *Balancer) EventID() common.Hash { return b.event.ID }

// ExtractAmounts reads a LOG_SWAP log. Topics are [id, caller, tokenIn, tokenOut].
func (b *Balancer) ExtractAmounts(lg types.Log) (Amounts, error) {
	if len(lg.Topics) != 4 || lg.Topics[0] != b.event.ID {
		return Amounts{}, fmt.Errorf("%w: unexpected topics in block %d log %d", ErrMalformedEvent, lg.BlockNumber, lg.Index)
	}

	var ev balancerLogSwap
	if err := b.abi.UnpackIntoInterface(&ev, "LOG_SWAP", lg.Data); err != nil {
		return Amounts{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	// Address comparison is byte-wise, so hex casing does not matter.
	tokenIn := common.BytesToAddress(lg.Topics[2].Bytes())

	out := Amounts{BlockNumber: lg.BlockNumber, LogIndex: lg.Index}
	if tokenIn == b.token {
		out.TokenAmount = scaled(ev.TokenAmountIn, b.pool.TokenDecimals)
		out.PairAmount = scaled(ev.TokenAmountOut, b.pool.PairDecimals)
	} else {
		out.TokenAmount = scaled(ev.TokenAmountOut, b.pool.TokenDecimals)
		out.PairAmount = scaled(ev.TokenAmountIn, b.pool.PairDecimals)
	}
	return out, nil
}

// Compile-time interface check.
var _ Normalizer = (*Balancer)(nil)
