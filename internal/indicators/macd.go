package indicators

import "math"

// MACD returns the latest MACD line, signal line and histogram.
// ok is false when there are fewer than slow+signal-1 values.
func MACD(values []float64, fast, slow, signal int) (line, sig, hist float64, ok bool) {
	if fast <= 0 || slow <= fast || signal <= 0 || len(values) < slow+signal-1 {
		return 0, 0, 0, false
	}
	fastEMA := EMA(values, fast)
	slowEMA := EMA(values, slow)
	offset := len(fastEMA) - len(slowEMA)
	lines := make([]float64, len(slowEMA))
	for i := range slowEMA {
		lines[i] = fastEMA[i+offset] - slowEMA[i]
	}
	sigs := EMA(lines, signal)
	line = lines[len(lines)-1]
	sig = sigs[len(sigs)-1]
	return line, sig, line - sig, true
}

// MACDStrength scales the 12/26/9 histogram to [-100,100], where one basis
// point of the last price is one unit.
func MACDStrength(values []float64) float64 {
	_, _, hist, ok := MACD(values, 12, 26, 9)
	if !ok || len(values) == 0 || values[len(values)-1] == 0 {
		return 0
	}
	v := hist / values[len(values)-1] * 10000
	return math.Max(-100, math.Min(100, v))
}
