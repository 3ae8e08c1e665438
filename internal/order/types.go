// Package order holds trade execution records, order submission with a
// bounded timeout, realized P&L and the paper-trading client used in dry runs.
package order

import (
	"time"

	"github.com/shopspring/decimal"

	"signal-trader/pkg/db"
	"signal-trader/pkg/exchanges/common"
)

// TradeStatus is the lifecycle state of an auto-trading execution.
type TradeStatus string

const (
	StatusPending  TradeStatus = "PENDING"
	StatusExecuted TradeStatus = "EXECUTED"
	StatusFailed   TradeStatus = "FAILED"
	StatusClosed   TradeStatus = "CLOSED"
)

// TradeExecution is one trade opened by the engine. Once CLOSED it is never
// modified again.
type TradeExecution struct {
	ID          string           `json:"id"`
	Symbol      string           `json:"symbol"`
	Action      common.Side      `json:"action"`
	Quantity    decimal.Decimal  `json:"quantity"`
	EntryPrice  decimal.Decimal  `json:"entryPrice"`
	StopLoss    decimal.Decimal  `json:"stopLoss"`
	TakeProfit  decimal.Decimal  `json:"takeProfit"`
	Leverage    int              `json:"leverage"`
	ExecutedAt  time.Time        `json:"executedAt"`
	OrderID     string           `json:"orderId,omitempty"`
	Status      TradeStatus      `json:"status"`
	PnL         *decimal.Decimal `json:"pnl,omitempty"`
	ClosedAt    *time.Time       `json:"closedAt,omitempty"`
	ExitPrice   *decimal.Decimal `json:"exitPrice,omitempty"`
	CloseReason string           `json:"closeReason,omitempty"`
}

// Clone copies the optional pointer fields so callers cannot mutate shared state.
func (t TradeExecution) Clone() TradeExecution {
	if t.PnL != nil {
		v := *t.PnL
		t.PnL = &v
	}
	if t.ExitPrice != nil {
		v := *t.ExitPrice
		t.ExitPrice = &v
	}
	if t.ClosedAt != nil {
		v := *t.ClosedAt
		t.ClosedAt = &v
	}
	return t
}

// ToRecord maps the execution onto its storage row.
func (t TradeExecution) ToRecord(userID string) db.TradeRecord {
	c := t.Clone()
	return db.TradeRecord{
		ID:          c.ID,
		UserID:      userID,
		Symbol:      c.Symbol,
		Action:      string(c.Action),
		Quantity:    c.Quantity,
		EntryPrice:  c.EntryPrice,
		StopLoss:    c.StopLoss,
		TakeProfit:  c.TakeProfit,
		Leverage:    c.Leverage,
		OrderID:     c.OrderID,
		Status:      string(c.Status),
		PnL:         c.PnL,
		ExitPrice:   c.ExitPrice,
		CloseReason: c.CloseReason,
		ExecutedAt:  c.ExecutedAt,
		ClosedAt:    c.ClosedAt,
	}
}

// FromRecord is the inverse of ToRecord.
func FromRecord(r db.TradeRecord) TradeExecution {
	return TradeExecution{
		ID:          r.ID,
		Symbol:      r.Symbol,
		Action:      common.Side(r.Action),
		Quantity:    r.Quantity,
		EntryPrice:  r.EntryPrice,
		StopLoss:    r.StopLoss,
		TakeProfit:  r.TakeProfit,
		Leverage:    r.Leverage,
		ExecutedAt:  r.ExecutedAt,
		OrderID:     r.OrderID,
		Status:      TradeStatus(r.Status),
		PnL:         r.PnL,
		ClosedAt:    r.ClosedAt,
		ExitPrice:   r.ExitPrice,
		CloseReason: r.CloseReason,
	}.Clone()
}
