// Package engine is the facade the HTTP layer talks to. Every operation
// returns a JSON envelope with a success flag; errors are reduced to messages
// that never carry key material.
package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"signal-trader/internal/risk"
	"signal-trader/internal/signal"
	"signal-trader/pkg/exchanges/common"
)

// Service defines the operations exposed to the API layer.
type Service interface {
	// Exchange connector
	ConnectExchange(ctx context.Context, userID string, creds common.Credentials) ConnectResult
	PlaceOrder(ctx context.Context, userID string, ex common.Exchange, req common.OrderRequest) OrderResult
	GetBalance(ctx context.Context, userID string, ex common.Exchange) BalanceResult
	GetPositions(ctx context.Context, userID string, ex common.Exchange) PositionsResult

	// Auto-trading
	GetAutoTradingConfig(ctx context.Context, userID string) ConfigResult
	UpdateAutoTradingConfig(ctx context.Context, userID string, patch risk.ConfigPatch) ConfigResult
	ToggleAutoTrading(ctx context.Context, userID string, enabled bool) ToggleResult
	GetTradingStats(ctx context.Context, userID string) StatsResult
	GetTradeHistory(ctx context.Context, userID string) TradesResult
	GetOpenTrades(ctx context.Context, userID string) TradesResult
	ProcessSignal(ctx context.Context, userID string, sig signal.TradeSignal) TradeResult
	ExecuteManualTrade(ctx context.Context, userID string, req ManualTradeRequest) TradeResult
	ClosePosition(ctx context.Context, userID, symbol string) CloseResult

	// Signals
	IngestSignal(ctx context.Context, sig signal.TradeSignal) SignalResult
	ScoreSignal(ctx context.Context, in signal.Inputs, publish bool) ScoreResult
	LatestSignal(ctx context.Context, symbol string) SignalResult

	// System
	Metrics(ctx context.Context) MetricsResult
}

// ManualTradeRequest is the body of a manual trade.
type ManualTradeRequest struct {
	Symbol     string          `json:"symbol"`
	Side       common.Side     `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	Leverage   int             `json:"leverage,omitempty"`
}
