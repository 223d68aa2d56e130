package series

// SMA returns the simple moving average of the closes over the last period
// candles. Returns 0 when fewer than period candles are available.
func SMA(s Series, period int) float64 {
	if period <= 0 || len(s) < period {
		return 0
	}
	sum := 0.0
	for _, c := range s[len(s)-period:] {
		sum += c.Close
	}
	return sum / float64(period)
}

// SupportLevel returns the lowest low over the last lookback candles.
// Returns 0 when the series is empty. With lookback <= 0 the whole series
// is scanned.
//
// Callers must pass a clamped series: a support level derived from unclamped
// data can sit below prices that had not traded yet at decision time.
func SupportLevel(s Series, lookback int) float64 {
	window := tail(s, lookback)
	if len(window) == 0 {
		return 0
	}
	low := window[0].Low
	for _, c := range window[1:] {
		if c.Low < low {
			low = c.Low
		}
	}
	return low
}

// ResistanceLevel returns the highest high over the last lookback candles,
// with the same contract as SupportLevel.
func ResistanceLevel(s Series, lookback int) float64 {
	window := tail(s, lookback)
	if len(window) == 0 {
		return 0
	}
	high := window[0].High
	for _, c := range window[1:] {
		if c.High > high {
			high = c.High
		}
	}
	return high
}

func tail(s Series, lookback int) Series {
	if lookback <= 0 || lookback >= len(s) {
		return s
	}
	return s[len(s)-lookback:]
}
