package autotrade

import (
	"context"

	"github.com/shopspring/decimal"

	"signal-trader/internal/order"
	"signal-trader/internal/risk"
	"signal-trader/pkg/exchanges/common"
)

// Stats summarises a trade history. Trades without a realized P&L count
// towards TotalTrades only.
type Stats struct {
	TotalTrades   int             `json:"totalTrades"`
	WinningTrades int             `json:"winningTrades"`
	LosingTrades  int             `json:"losingTrades"`
	TotalPnL      decimal.Decimal `json:"totalPnL"`
	AvgPnL        decimal.Decimal `json:"avgPnL"`
	// WinRate is a percentage.
	WinRate decimal.Decimal `json:"winRate"`
}

var hundred = decimal.NewFromInt(100)

// ComputeStats is pure; it is zero-valued for an empty history.
func ComputeStats(history []order.TradeExecution) Stats {
	s := Stats{TotalTrades: len(history), TotalPnL: decimal.Zero, AvgPnL: decimal.Zero, WinRate: decimal.Zero}
	for _, t := range history {
		if t.PnL == nil {
			continue
		}
		switch t.PnL.Sign() {
		case 1:
			s.WinningTrades++
		case -1:
			s.LosingTrades++
		}
		s.TotalPnL = s.TotalPnL.Add(*t.PnL)
	}
	if s.TotalTrades > 0 {
		n := decimal.NewFromInt(int64(s.TotalTrades))
		s.AvgPnL = s.TotalPnL.Div(n)
		s.WinRate = decimal.NewFromInt(int64(s.WinningTrades)).Div(n).Mul(hundred)
	}
	return s
}

func (e *Engine) TradingStats(ctx context.Context) (Stats, error) {
	h, err := e.store.History(ctx)
	if err != nil {
		return Stats{}, err
	}
	return ComputeStats(h), nil
}

// TradeHistory returns every trade this engine executed, oldest first.
func (e *Engine) TradeHistory(ctx context.Context) ([]order.TradeExecution, error) {
	return e.store.History(ctx)
}

// OpenTrades lists open trades with the stop currently armed, which differs
// from the entry stop once a trailing stop has moved.
func (e *Engine) OpenTrades(ctx context.Context) ([]order.TradeExecution, error) {
	open, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range open {
		if pos, ok := e.stops.GetPosition(open[i].Symbol); ok {
			open[i].StopLoss = pos.StopLoss
		}
	}
	return open, nil
}

// Config returns a copy of the current policy.
func (e *Engine) Config() risk.AutoTradingConfig {
	return e.risk.GetConfig()
}

// RiskMetrics returns realized-risk counters since the last daily reset.
func (e *Engine) RiskMetrics() risk.Metrics {
	return e.risk.GetMetrics()
}

// ResetDailyMetrics starts a new risk day.
func (e *Engine) ResetDailyMetrics() {
	e.risk.ResetDailyMetrics()
}

// UpdateConfig merges patch. It takes effect on the next signal; open trades
// keep their levels.
func (e *Engine) UpdateConfig(ctx context.Context, patch risk.ConfigPatch) (risk.AutoTradingConfig, error) {
	cfg, err := e.risk.UpdateConfig(patch)
	if err != nil {
		return cfg, err
	}
	e.persist(ctx, cfg)
	return cfg, nil
}

// ToggleAutoTrading flips the enabled flag and returns the new config.
func (e *Engine) ToggleAutoTrading(ctx context.Context, enabled bool) risk.AutoTradingConfig {
	cfg := e.risk.SetEnabled(enabled)
	e.persist(ctx, cfg)
	return cfg
}

func (e *Engine) persist(ctx context.Context, cfg risk.AutoTradingConfig) {
	if e.configs == nil {
		return
	}
	if err := e.configs.SaveConfig(ctx, e.userID, cfg); err != nil {
		e.log.WithError(err).Error("persist auto-trading config failed")
	}
}

// Positions reads the venue's open positions. Venues without position
// support return an UnsupportedOperationError.
func (e *Engine) Positions(ctx context.Context) ([]common.Position, error) {
	if !common.SupportsPositions(e.client) {
		return nil, &common.UnsupportedOperationError{Exchange: e.client.Exchange(), Operation: "positions"}
	}
	return e.client.GetPositions(ctx)
}
