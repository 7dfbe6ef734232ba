package domain

// Candlestick is a closed OHLCV bucket. Never mutated after insertion.
// Unique per (PoolContract, Interval, OpenTime).
type Candlestick struct {
	Protocol     Protocol // AMM family of the pool
	TokenName    string   // base asset symbol
	PairName     string   // quote asset symbol
	PoolContract string   // pool address
	Interval     string   // interval name, e.g. "5m"
	BlockNumber  uint64   // block of the last transaction included
	OpenTime     int64    // bucket start, Unix seconds, UTC-aligned
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       float64 // quote asset volume
}

// LiveCandlestick is the single mutable row holding the open bucket
// of a (PoolContract, Interval).
type LiveCandlestick struct {
	PoolContract string
	Interval     string
	OpenTime     int64
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       float64
}

// IsEmpty reports whether the row has not seen a trade since it was seeded at zero.
func (c *LiveCandlestick) IsEmpty() bool {
	return c.Open == 0 && c.Volume == 0
}

// LiveCandleMerge is an incremental update folded into a LiveCandlestick:
// High and Low are max/min merged, Close overwrites, VolumeDelta is added.
// Open only applies to an empty row.
type LiveCandleMerge struct {
	Open        float64
	High        float64
	Low         float64
	Close       float64
	VolumeDelta float64
}

// Apply folds m into c in place using the merge semantics.
func (c *LiveCandlestick) Apply(m LiveCandleMerge) {
	if c.IsEmpty() {
		c.Open = m.Open
		c.High = m.High
		c.Low = m.Low
	} else {
		if m.High > c.High {
			c.High = m.High
		}
		if m.Low < c.Low {
			c.Low = m.Low
		}
	}
	c.Close = m.Close
	c.Volume += m.VolumeDelta
}
