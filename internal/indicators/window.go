package indicators

import (
	"strings"
	"sync"
)

// Snapshot is the indicator state for one symbol.
type Snapshot struct {
	Symbol   string  `json:"symbol"`
	Samples  int     `json:"samples"`
	Last     float64 `json:"last"`
	SMAShort float64 `json:"smaShort"`
	SMALong  float64 `json:"smaLong"`
	RSI      float64 `json:"rsi"`
	MACD     float64 `json:"macd"`
}

// Window keeps a bounded series of closes per symbol.
type Window struct {
	mu        sync.Mutex
	prices    map[string][]float64
	size      int
	shortMA   int
	longMA    int
	rsiPeriod int
}

// NewWindow builds a window; size grows to fit the longest lookback.
func NewWindow(shortMA, longMA, rsiPeriod, size int) *Window {
	if size < longMA {
		size = longMA
	}
	if size < 35 {
		size = 35 // MACD 12/26/9
	}
	return &Window{
		prices:    make(map[string][]float64),
		size:      size,
		shortMA:   shortMA,
		longMA:    longMA,
		rsiPeriod: rsiPeriod,
	}
}

// Seed replaces the series for symbol, e.g. with kline closes.
func (w *Window) Seed(symbol string, closes []float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(closes) > w.size {
		closes = closes[len(closes)-w.size:]
	}
	w.prices[strings.ToUpper(symbol)] = append([]float64(nil), closes...)
}

// Add appends price to symbol's series.
func (w *Window) Add(symbol string, price float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	sym := strings.ToUpper(symbol)
	arr := append(w.prices[sym], price)
	if len(arr) > w.size {
		arr = arr[len(arr)-w.size:]
	}
	w.prices[sym] = arr
}

// Snapshot computes indicators over the current series.
func (w *Window) Snapshot(symbol string) Snapshot {
	w.mu.Lock()
	sym := strings.ToUpper(symbol)
	arr := append([]float64(nil), w.prices[sym]...)
	w.mu.Unlock()

	s := Snapshot{
		Symbol:   sym,
		Samples:  len(arr),
		SMAShort: SMA(arr, w.shortMA),
		SMALong:  SMA(arr, w.longMA),
		RSI:      RSI(arr, w.rsiPeriod),
		MACD:     MACDStrength(arr),
	}
	if len(arr) > 0 {
		s.Last = arr[len(arr)-1]
	}
	return s
}
