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

// uniswapV2SwapABI is the Swap event of a Uniswap V2 pair.
const uniswapV2SwapABI = `[{
	"anonymous": false,
	"name": "Swap",
	"type": "event",
	"inputs": [
		{"indexed": true,  "name": "sender",     "type": "address"},
		{"indexed": false, "name": "amount0In",  "type": "uint256"},
		{"indexed": false, "name": "amount1In",  "type": "uint256"},
		{"indexed": false, "name": "amount0Out", "type": "uint256"},
		{"indexed": false, "name": "amount1Out", "type": "uint256"},
		{"indexed": true,  "name": "to",         "type": "address"}
	]
}]`

// uniswapV2Swap holds the non-indexed Swap fields.
type uniswapV2Swap struct {
	Amount0In  *big.Int
	Amount1In  *big.Int
	Amount0Out *big.Int
	Amount1Out *big.Int
}

// UniswapV2 normalizes constant-product pair swaps. The pool's token is token0
// and its pair asset is token1.
type UniswapV2 struct {
	pool  domain.Pool
	abi   abi.ABI
	event abi.Event
}

// NewUniswapV2 creates a Uniswap V2 normalizer for pool.
func NewUniswapV2(pool domain.Pool) (*UniswapV2, error) {
	parsed, err := abi.JSON(strings.NewReader(uniswapV2SwapABI))
	if err != nil {
		return nil, fmt.Errorf("parse uniswap v2 abi: %w", err)
	}
	return &UniswapV2{pool: pool, abi: parsed, event: parsed.Events["Swap"]}, nil
}

func (u *UniswapV2) Protocol() domain.Protocol { return domain.ProtocolUniswapV2 }

func (u *UniswapV2) EventName() string { return "Swap" }

func (u *UniswapV2) EventID() common.Hash { return u.event.ID }

// ExtractAmounts reads a Swap log. A zero amount1In means token0 was sold for token1.
func (u *UniswapV2) ExtractAmounts(lg types.Log) (Amounts, error) {
	if len(lg.Topics) == 0 || lg.Topics[0] != u.event.ID {
		return Amounts{}, fmt.Errorf("%w: unexpected topic in block %d log %d", ErrMalformedEvent, lg.BlockNumber, lg.Index)
	}

	var ev uniswapV2Swap
	if err := u.abi.UnpackIntoInterface(&ev, "Swap", lg.Data); err != nil {
		return Amounts{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	out := Amounts{BlockNumber: lg.BlockNumber, LogIndex: lg.Index}
	if ev.Amount1In == nil || ev.Amount1In.Sign() == 0 {
		out.TokenAmount = scaled(ev.Amount0In, u.pool.TokenDecimals)
		out.PairAmount = scaled(ev.Amount1Out, u.pool.PairDecimals)
	} else {
		out.TokenAmount = scaled(ev.Amount0Out, u.pool.TokenDecimals)
		out.PairAmount = scaled(ev.Amount1In, u.pool.PairDecimals)
	}
	return out, nil
}

// Compile-time interface check.
var _ Normalizer = (*UniswapV2)(nil)
