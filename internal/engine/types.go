package engine

import (
	"signal-trader/internal/autotrade"
	"signal-trader/internal/monitor"
	"signal-trader/internal/order"
	"signal-trader/internal/reconciliation"
	"signal-trader/internal/risk"
	"signal-trader/internal/signal"
	"signal-trader/pkg/cache"
	"signal-trader/pkg/exchanges/common"
)

// Envelope is embedded in every result.
type Envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func ok() Envelope { return Envelope{Success: true} }

func fail(msg string) Envelope { return Envelope{Error: msg} }

type ConnectResult struct {
	Envelope
	Exchange common.Exchange `json:"exchange"`
	Message  string          `json:"message,omitempty"`
}

type OrderResult struct {
	Envelope
	Order *common.OrderResponse `json:"order,omitempty"`
}

type BalanceResult struct {
	Envelope
	Balance []common.Balance `json:"balance,omitempty"`
}

type PositionsResult struct {
	Envelope
	Positions []common.Position `json:"positions"`
	// Supported is false when the venue integration cannot read positions.
	Supported bool `json:"supported"`
}

type ConfigResult struct {
	Envelope
	Config  *risk.AutoTradingConfig `json:"config,omitempty"`
	Message string                  `json:"message,omitempty"`
}

type ToggleResult struct {
	Envelope
	Enabled bool   `json:"enabled"`
	Message string `json:"message,omitempty"`
}

type StatsResult struct {
	Envelope
	Stats   *autotrade.Stats `json:"stats,omitempty"`
	Metrics *risk.Metrics    `json:"riskMetrics,omitempty"`
}

type TradesResult struct {
	Envelope
	Trades []order.TradeExecution `json:"trades"`
}

type TradeResult struct {
	Envelope
	Trade   *order.TradeExecution `json:"trade,omitempty"`
	Message string                `json:"message,omitempty"`
}

type CloseResult struct {
	Envelope
	Symbol  string `json:"symbol"`
	Message string `json:"message,omitempty"`
}

type SignalResult struct {
	Envelope
	Signal *signal.TradeSignal `json:"signal,omitempty"`
}

type ScoreResult struct {
	Envelope
	Score *signal.Score `json:"score,omitempty"`
}

type MetricsResult struct {
	Envelope
	Metrics monitor.MetricsSnapshot `json:"metrics"`
	Prices  cache.Stats             `json:"prices"`

	Reconciliation *reconciliation.Report `json:"reconciliation,omitempty"`
}
