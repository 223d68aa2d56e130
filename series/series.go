// Package series provides OHLCV time series and the historical window clamp.
package series

import (
	"sort"
	"time"
)

// Candle is one OHLCV sample.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Series is a sequence of candles in ascending timestamp order.
type Series []Candle

// Clamp restricts s to samples with Timestamp <= asOf.
//
// This is the load-bearing correctness primitive of the whole system: every
// indicator, support/resistance level or leverage recommendation computed for
// decision time T must derive exclusively from Clamp(s, T). Computing from the
// unclamped series silently manufactures levels that could not have been known
// at T - a price that only exists after T shows up as a "support level" below
// the then-current price.
//
// Clamp is pure and allocation-free: the result shares s's backing array.
func Clamp(s Series, asOf time.Time) Series {
	// First index strictly after asOf; everything before it is admissible.
	n := sort.Search(len(s), func(i int) bool {
		return s[i].Timestamp.After(asOf)
	})
	return s[:n]
}

// Sorted reports whether s is in ascending timestamp order.
// Clamp assumes this; stores that cannot guarantee ordering should check.
func (s Series) Sorted() bool {
	return sort.SliceIsSorted(s, func(i, j int) bool {
		return s[i].Timestamp.Before(s[j].Timestamp)
	})
}

// Start returns the timestamp of the first candle, zero when empty.
func (s Series) Start() time.Time {
	if len(s) == 0 {
		return time.Time{}
	}
	return s[0].Timestamp
}

// End returns the timestamp of the last candle, zero when empty.
func (s Series) End() time.Time {
	if len(s) == 0 {
		return time.Time{}
	}
	return s[len(s)-1].Timestamp
}
