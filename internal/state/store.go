// Package state keeps the registry of open auto-trading executions and the
// history of every executed trade.
package state

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"signal-trader/internal/order"
	"signal-trader/pkg/db"
)

var (
	ErrSymbolOpen = db.ErrSymbolOpen
	ErrCapacity   = db.ErrCapacity
	ErrNotOpen    = errors.New("no open trade for symbol")
)

// Closing carries the outcome recorded when a trade is closed.
type Closing struct {
	ExitPrice decimal.Decimal
	PnL       decimal.Decimal
	Reason    string
	ClosedAt  time.Time
}

// OpenTradeStore is the open-trade registry plus trade history.
//
// Open is a conditional insert: it fails with ErrSymbolOpen when the symbol
// already has an open trade and with ErrCapacity when max trades are open.
type OpenTradeStore interface {
	Open(ctx context.Context, trade order.TradeExecution, max int) error
	// Close removes the symbol from the registry and returns the closed record.
	Close(ctx context.Context, symbol string, c Closing) (order.TradeExecution, error)
	Get(ctx context.Context, symbol string) (order.TradeExecution, bool, error)
	List(ctx context.Context) ([]order.TradeExecution, error)
	Count(ctx context.Context) (int, error)
	// History returns every executed trade, open or closed, oldest first.
	History(ctx context.Context) ([]order.TradeExecution, error)
}

func closeTrade(t order.TradeExecution, c Closing) order.TradeExecution {
	t = t.Clone()
	exit, pnl, at := c.ExitPrice, c.PnL, c.ClosedAt
	t.Status = order.StatusClosed
	t.ExitPrice = &exit
	t.PnL = &pnl
	t.ClosedAt = &at
	t.CloseReason = c.Reason
	return t
}
