// Package risk holds the auto-trading policy, the admission gates, position
// sizing, protective levels and stop tracking.
package risk

import (
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"signal-trader/pkg/logging"
)

// Metrics tracks realized results since the last daily reset.
type Metrics struct {
	DailyPnL         decimal.Decimal `json:"dailyPnl"`
	DailyTrades      int             `json:"dailyTrades"`
	DailyLosses      decimal.Decimal `json:"dailyLosses"`
	TotalRealizedPnL decimal.Decimal `json:"totalRealizedPnl"`
	MaxProfit        decimal.Decimal `json:"maxProfit"`
	MaxDrawdown      decimal.Decimal `json:"maxDrawdown"`
}

// TradeResult is a closed trade's realized outcome.
type TradeResult struct {
	Symbol string
	Side   string
	PnL    decimal.Decimal
}

// Manager owns one user's config and realized-risk metrics. GetConfig
// returns a copy, so updates only affect later evaluations.
type Manager struct {
	mu      sync.RWMutex
	config  AutoTradingConfig
	metrics Metrics
	log     logrus.FieldLogger
}

// NewManager validates cfg and falls back to DefaultConfig when it is invalid.
func NewManager(cfg AutoTradingConfig, log logrus.FieldLogger) *Manager {
	log = logging.OrDiscard(log).WithField("component", "risk")
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Warn("invalid auto-trading config, using defaults")
		cfg = DefaultConfig()
	}
	return &Manager{config: cfg.Clone(), log: log}
}

// GetConfig returns a copy of the current config.
func (m *Manager) GetConfig() AutoTradingConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Clone()
}

// UpdateConfig merges patch and returns the new config.
func (m *Manager) UpdateConfig(patch ConfigPatch) (AutoTradingConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := patch.Apply(m.config)
	if err != nil {
		return m.config.Clone(), err
	}
	m.config = next
	m.log.WithFields(logrus.Fields{
		"enabled":            next.Enabled,
		"max_open_positions": next.MaxOpenPositions,
		"min_confidence":     next.MinConfidence.String(),
	}).Info("auto-trading config updated")
	return next.Clone(), nil
}

// SetEnabled toggles auto-trading.
func (m *Manager) SetEnabled(enabled bool) AutoTradingConfig {
	cfg, _ := m.UpdateConfig(ConfigPatch{Enabled: &enabled})
	return cfg
}

// Evaluate runs the gates against the current config.
func (m *Manager) Evaluate(c Candidate, book Book) Decision {
	return Evaluate(m.GetConfig(), c, book)
}

// UpdateMetrics folds a realized result into the running metrics.
func (m *Manager) UpdateMetrics(trade TradeResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.metrics.DailyTrades++
	m.metrics.DailyPnL = m.metrics.DailyPnL.Add(trade.PnL)
	if trade.PnL.IsNegative() {
		m.metrics.DailyLosses = m.metrics.DailyLosses.Add(trade.PnL.Neg())
	}
	m.metrics.TotalRealizedPnL = m.metrics.TotalRealizedPnL.Add(trade.PnL)
	if m.metrics.TotalRealizedPnL.GreaterThan(m.metrics.MaxProfit) {
		m.metrics.MaxProfit = m.metrics.TotalRealizedPnL
	}
	if dd := m.metrics.MaxProfit.Sub(m.metrics.TotalRealizedPnL); dd.GreaterThan(m.metrics.MaxDrawdown) {
		m.metrics.MaxDrawdown = dd
	}
}

// ResetDailyMetrics clears the daily counters.
func (m *Manager) ResetDailyMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log.WithFields(logrus.Fields{
		"daily_pnl":    m.metrics.DailyPnL.String(),
		"daily_trades": m.metrics.DailyTrades,
	}).Info("daily risk metrics reset")
	m.metrics.DailyPnL = decimal.Zero
	m.metrics.DailyTrades = 0
	m.metrics.DailyLosses = decimal.Zero
}

// GetMetrics returns a snapshot.
func (m *Manager) GetMetrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}
