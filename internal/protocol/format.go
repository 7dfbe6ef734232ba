package protocol

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"dex-candles/internal/domain"
)

// PriceDecimals is the fixed rounding applied to transaction prices.
const PriceDecimals = 10

// ErrDegenerateTransaction marks a swap with a zero amount on either side.
// Such swaps carry no price information and are dropped, not failed.
var ErrDegenerateTransaction = errors.New("degenerate transaction: zero swap amount")

// FormatTransaction derives price and quote volume from swap amounts.
// Price is token/pair, or pair/token for pools with InversePrice, rounded to
// PriceDecimals. Volume is the pair amount. The timestamp is left for the caller
// to resolve.
func FormatTransaction(pool domain.Pool, a Amounts) (*domain.Transaction, error) {
	if a.TokenAmount.IsZero() || a.PairAmount.IsZero() {
		return nil, fmt.Errorf("%w: block %d log %d", ErrDegenerateTransaction, a.BlockNumber, a.LogIndex)
	}

	var price decimal.Decimal
	if pool.InversePrice {
		price = a.PairAmount.DivRound(a.TokenAmount, PriceDecimals)
	} else {
		price = a.TokenAmount.DivRound(a.PairAmount, PriceDecimals)
	}

	return &domain.Transaction{
		Protocol:     pool.Protocol,
		PoolContract: pool.PoolContract,
		BlockNumber:  a.BlockNumber,
		LogIndex:     a.LogIndex,
		Price:        price.InexactFloat64(),
		Volume:       a.PairAmount.InexactFloat64(),
	}, nil
}
