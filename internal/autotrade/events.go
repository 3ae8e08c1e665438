package autotrade

import (
	"time"

	"signal-trader/internal/order"
	"signal-trader/internal/risk"
)

// TradeEvent is the payload of EventTradeExecuted and EventTradeClosed.
type TradeEvent struct {
	UserID string               `json:"userId"`
	Trade  order.TradeExecution `json:"trade"`
}

// Rejection is the payload of EventTradeRejected.
type Rejection struct {
	UserID     string      `json:"userId"`
	Symbol     string      `json:"symbol"`
	Action     string      `json:"action"`
	Confidence string      `json:"confidence"`
	Reason     risk.Reason `json:"reason"`
	At         time.Time   `json:"at"`
}

// Recorder receives counters from the trading path. monitor.SystemMetrics
// implements it.
type Recorder interface {
	SignalReceived()
	Rejected(reason string)
	OrderPlaced(latency time.Duration)
	OrderFailed()
	TradeClosed(reason string)
}

type nopRecorder struct{}

func (nopRecorder) SignalReceived()           {}
func (nopRecorder) Rejected(string)           {}
func (nopRecorder) OrderPlaced(time.Duration) {}
func (nopRecorder) OrderFailed()              {}
func (nopRecorder) TradeClosed(string)        {}
