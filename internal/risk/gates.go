package risk

import (
	"errors"

	"github.com/shopspring/decimal"

	"signal-trader/pkg/exchanges/common"
)

// Reason is the machine-readable code attached to a gate rejection.
type Reason string

const (
	ReasonDisabled       Reason = "DISABLED"
	ReasonLowConfidence  Reason = "LOW_CONFIDENCE"
	ReasonPairNotAllowed Reason = "PAIR_NOT_ALLOWED"
	ReasonHoldSignal     Reason = "HOLD_SIGNAL"
	ReasonMaxPositions   Reason = "MAX_POSITIONS"
	ReasonAlreadyOpen    Reason = "ALREADY_OPEN"
)

// Reasons lists every gate code in evaluation order.
var Reasons = []Reason{
	ReasonDisabled,
	ReasonLowConfidence,
	ReasonPairNotAllowed,
	ReasonHoldSignal,
	ReasonMaxPositions,
	ReasonAlreadyOpen,
}

// Decision is the outcome of the admission gates. A rejection is a value,
// not an error.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason,omitempty"`
}

func reject(r Reason) Decision { return Decision{Reason: r} }

// Candidate is what the gates need to know about an incoming signal.
type Candidate struct {
	Symbol            string
	Action            string // BUY, SELL or HOLD
	ConfidencePercent decimal.Decimal
}

// Book is the open-trade state the gates read.
type Book struct {
	OpenCount  int
	SymbolOpen bool
}

// Evaluate runs the gates in order and stops at the first failure.
func Evaluate(cfg AutoTradingConfig, c Candidate, book Book) Decision {
	switch {
	case !cfg.Enabled:
		return reject(ReasonDisabled)
	case c.ConfidencePercent.LessThan(cfg.MinConfidence):
		return reject(ReasonLowConfidence)
	case !cfg.AllowsPair(c.Symbol):
		return reject(ReasonPairNotAllowed)
	case c.Action == "HOLD":
		return reject(ReasonHoldSignal)
	case book.OpenCount >= cfg.MaxOpenPositions:
		return reject(ReasonMaxPositions)
	case book.SymbolOpen:
		return reject(ReasonAlreadyOpen)
	}
	return Decision{Allowed: true}
}

// QuantityPlaces is the precision order quantities are truncated to.
const QuantityPlaces = 6

var (
	hundred      = decimal.NewFromInt(100)
	riskFraction = decimal.RequireFromString("0.02")

	ErrNonPositivePrice   = errors.New("price must be positive")
	ErrNonPositiveBalance = errors.New("balance must be positive")
)

// PositionSize risks 2% of balance, capped at maxNotional when it is
// positive, and converts the notional into a base quantity at price,
// truncated to QuantityPlaces. A notional too small for one unit at that
// precision yields a zero quantity.
func PositionSize(balance, price, maxNotional decimal.Decimal) (notional, qty decimal.Decimal, err error) {
	if !price.IsPositive() {
		return decimal.Zero, decimal.Zero, ErrNonPositivePrice
	}
	if !balance.IsPositive() {
		return decimal.Zero, decimal.Zero, ErrNonPositiveBalance
	}
	notional = balance.Mul(riskFraction)
	if maxNotional.IsPositive() && notional.GreaterThan(maxNotional) {
		notional = maxNotional
	}
	return notional, notional.Div(price).Truncate(QuantityPlaces), nil
}

// Levels returns protective prices for an entry. BUY stops below and takes
// profit above; SELL is mirrored.
func Levels(side common.Side, entry, stopLossPct, takeProfitPct decimal.Decimal) (stopLoss, takeProfit decimal.Decimal) {
	sl := stopLossPct.Div(hundred)
	tp := takeProfitPct.Div(hundred)
	one := decimal.NewFromInt(1)
	if side == common.SideSell {
		return entry.Mul(one.Add(sl)), entry.Mul(one.Sub(tp))
	}
	return entry.Mul(one.Sub(sl)), entry.Mul(one.Add(tp))
}
