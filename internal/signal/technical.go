package signal

import "signal-trader/internal/indicators"

// minSamples is the shortest series that gives a meaningful RSI and MACD.
const minSamples = 35

// TechnicalFrom fills technical readings from an indicator snapshot. Volume
// and order-book readings are not derivable from prices and stay zero. With
// too few samples it returns a neutral reading.
func TechnicalFrom(s indicators.Snapshot) Technical {
	if s.Samples < minSamples {
		return Technical{RSI: 50}
	}
	return Technical{RSI: s.RSI, MACD: s.MACD}
}
