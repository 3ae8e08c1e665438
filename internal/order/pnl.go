package order

import (
	"github.com/shopspring/decimal"

	"signal-trader/pkg/exchanges/common"
)

// CalculatePnL computes realized P&L for flattening a trade. BUY earns
// (exit - entry) * qty and SELL earns (entry - exit) * qty, less fee.
func CalculatePnL(side common.Side, qty, entry, exit, fee decimal.Decimal) decimal.Decimal {
	q := qty.Abs()
	if q.IsZero() {
		return decimal.Zero
	}
	var pnl decimal.Decimal
	if side == common.SideSell {
		pnl = entry.Sub(exit).Mul(q)
	} else {
		pnl = exit.Sub(entry).Mul(q)
	}
	return pnl.Sub(fee)
}
