package risk

import (
	"sync"

	"github.com/shopspring/decimal"

	"signal-trader/pkg/exchanges/common"
)

// CloseReason explains why a trade was closed.
type CloseReason string

const (
	CloseStopLoss   CloseReason = "STOP_LOSS"
	CloseTakeProfit CloseReason = "TAKE_PROFIT"
	CloseManual     CloseReason = "MANUAL"
)

// StopLossManager tracks protective levels per symbol and reports when a
// price crosses one.
type StopLossManager struct {
	mu        sync.RWMutex
	positions map[string]*StopLossPosition
}

// StopLossPosition is one tracked open trade. A positive TrailingPercent
// moves the stop behind the best price seen.
type StopLossPosition struct {
	Symbol          string
	Side            common.Side
	EntryPrice      decimal.Decimal
	CurrentPrice    decimal.Decimal
	StopLoss        decimal.Decimal
	TakeProfit      decimal.Decimal
	TrailingPercent decimal.Decimal
	HighWaterMark   decimal.Decimal
}

// StopLossDecision is emitted when a level is hit.
type StopLossDecision struct {
	Symbol string
	Reason CloseReason
	Price  decimal.Decimal
}

func NewStopLossManager() *StopLossManager {
	return &StopLossManager{positions: make(map[string]*StopLossPosition)}
}

// AddPosition starts tracking pos, replacing any previous entry for its symbol.
func (m *StopLossManager) AddPosition(pos StopLossPosition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos.HighWaterMark = pos.EntryPrice
	pos.CurrentPrice = pos.EntryPrice
	m.positions[pos.Symbol] = &pos
}

// UpdatePrice records price and returns a decision when a level triggers.
// The stop is checked before the take-profit.
func (m *StopLossManager) UpdatePrice(symbol string, price decimal.Decimal) *StopLossDecision {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[symbol]
	if !ok {
		return nil
	}
	pos.CurrentPrice = price
	if pos.TrailingPercent.IsPositive() {
		trail(pos)
	}

	long := pos.Side != common.SideSell
	switch {
	case pos.StopLoss.IsPositive() && crossed(long, price, pos.StopLoss, false):
		return &StopLossDecision{Symbol: symbol, Reason: CloseStopLoss, Price: price}
	case pos.TakeProfit.IsPositive() && crossed(long, price, pos.TakeProfit, true):
		return &StopLossDecision{Symbol: symbol, Reason: CloseTakeProfit, Price: price}
	}
	return nil
}

// crossed reports whether price reached level. For longs a stop triggers at or
// below the level and a target at or above it; shorts are mirrored.
func crossed(long bool, price, level decimal.Decimal, target bool) bool {
	if long == target {
		return price.GreaterThanOrEqual(level)
	}
	return price.LessThanOrEqual(level)
}

func trail(pos *StopLossPosition) {
	offset := pos.TrailingPercent.Div(hundred)
	one := decimal.NewFromInt(1)
	if pos.Side == common.SideSell {
		if pos.CurrentPrice.LessThan(pos.HighWaterMark) {
			pos.HighWaterMark = pos.CurrentPrice
			if next := pos.HighWaterMark.Mul(one.Add(offset)); next.LessThan(pos.StopLoss) {
				pos.StopLoss = next
			}
		}
		return
	}
	if pos.CurrentPrice.GreaterThan(pos.HighWaterMark) {
		pos.HighWaterMark = pos.CurrentPrice
		if next := pos.HighWaterMark.Mul(one.Sub(offset)); next.GreaterThan(pos.StopLoss) {
			pos.StopLoss = next
		}
	}
}

func (m *StopLossManager) RemovePosition(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, symbol)
}

// GetPosition returns a copy of the tracked entry.
func (m *StopLossManager) GetPosition(symbol string) (StopLossPosition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[symbol]
	if !ok {
		return StopLossPosition{}, false
	}
	return *pos, true
}
