// Package candles turns ordered transaction streams into OHLCV candlesticks
// and maintains the open candle between closes.
package candles

import (
	"errors"

	"dex-candles/internal/domain"
)

// ErrMissingPreviousCandle is returned when an empty bucket has no candle to carry forward.
var ErrMissingPreviousCandle = errors.New("empty bucket without a previous candle")

// Bucket is one time window of a Batch result. Txs aliases the input slice.
type Bucket struct {
	OpenTime int64
	Txs      []*domain.Transaction
}

// OpenTimes returns the bucket starts after lastRecorded up to and including
// current, ascending and spaced width apart. The last element is the open bucket.
// Returns nil when lastRecorded >= current.
func OpenTimes(lastRecorded, current, width int64) []int64 {
	if width <= 0 || lastRecorded >= current {
		return nil
	}

	n := (current - lastRecorded + width - 1) / width
	times := make([]int64, 0, n)
	for t := current; t > lastRecorded; t -= width {
		times = append(times, t)
	}
	for i, j := 0, len(times)-1; i < j; i, j = i+1, j-1 {
		times[i], times[j] = times[j], times[i]
	}
	return times
}

// LastRecordedOpenTime picks the bucket start preceding the first one to build:
// the last closed candle's, the bucket before the first transaction's, or
// current when there is neither.
func LastRecordedOpenTime(lastClosed *domain.Candlestick, first *domain.Transaction, current, width int64) int64 {
	switch {
	case lastClosed != nil:
		return lastClosed.OpenTime
	case first != nil:
		return domain.FloorOpenTime(first.Timestamp, width) - width
	default:
		return current
	}
}

// Batch partitions txs over openTimes with a cursor: each bucket takes the
// leading transactions with timestamp < start+width. txs must be ordered.
// Transactions before the first start fold into the first bucket and are
// counted as late; transactions past the last bucket are left out.
func Batch(openTimes []int64, width int64, txs []*domain.Transaction) (buckets []Bucket, late int) {
	buckets = make([]Bucket, 0, len(openTimes))
	cursor := 0
	for i, start := range openTimes {
		end := cursor
		for end < len(txs) && txs[end].Timestamp < start+width {
			if i == 0 && txs[end].Timestamp < start {
				late++
			}
			end++
		}
		buckets = append(buckets, Bucket{OpenTime: start, Txs: txs[cursor:end:end]})
		cursor = end
	}
	return buckets, late
}

// BuildCandle derives the closed candle of one bucket. An empty bucket repeats
// prev's close with zero volume.
func BuildCandle(pool domain.Pool, interval string, b Bucket, prev *domain.Candlestick) (*domain.Candlestick, error) {
	c := &domain.Candlestick{
		Protocol:     pool.Protocol,
		TokenName:    pool.TokenName,
		PairName:     pool.PairName,
		PoolContract: pool.PoolContract,
		Interval:     interval,
		OpenTime:     b.OpenTime,
	}

	if len(b.Txs) == 0 {
		if prev == nil {
			return nil, ErrMissingPreviousCandle
		}
		c.Open, c.High, c.Low, c.Close = prev.Close, prev.Close, prev.Close, prev.Close
		c.BlockNumber = prev.BlockNumber
		return c, nil
	}

	first, last := b.Txs[0], b.Txs[len(b.Txs)-1]
	c.Open, c.High, c.Low, c.Close = first.Price, first.Price, first.Price, last.Price
	for _, tx := range b.Txs {
		if tx.Price > c.High {
			c.High = tx.Price
		}
		if tx.Price < c.Low {
			c.Low = tx.Price
		}
		c.Volume += tx.Volume
	}
	c.BlockNumber = last.BlockNumber
	return c, nil
}

// MergeOf summarizes ordered transactions as a live candle merge.
// ok is false for an empty slice.
func MergeOf(txs []*domain.Transaction) (m domain.LiveCandleMerge, ok bool) {
	if len(txs) == 0 {
		return m, false
	}
	m.Open, m.High, m.Low = txs[0].Price, txs[0].Price, txs[0].Price
	for _, tx := range txs {
		if tx.Price > m.High {
			m.High = tx.Price
		}
		if tx.Price < m.Low {
			m.Low = tx.Price
		}
		m.VolumeDelta += tx.Volume
	}
	m.Close = txs[len(txs)-1].Price
	return m, true
}
