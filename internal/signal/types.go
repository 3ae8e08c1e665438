// Package signal defines the scored trade signal the auto-trader consumes,
// the hub that distributes them and the weighted multi-factor scorer.
package signal

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Action is the direction a signal recommends.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// ParseAction accepts any case.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToUpper(strings.TrimSpace(s))); a {
	case ActionBuy, ActionSell, ActionHold:
		return a, nil
	}
	return "", fmt.Errorf("unknown signal action %q", s)
}

// Confidence is a signal's certainty on the 0-1 scale.
type Confidence float64

var hundred = decimal.NewFromInt(100)

// Percent converts to the 0-100 scale used by the confidence gate.
func (c Confidence) Percent() decimal.Decimal {
	return decimal.NewFromFloat(float64(c)).Mul(hundred)
}

// Valid reports whether c is a finite value in [0,1].
func (c Confidence) Valid() bool {
	f := float64(c)
	return !math.IsNaN(f) && f >= 0 && f <= 1
}

var ErrInvalidSignal = errors.New("invalid signal")

// TradeSignal is an immutable scored recommendation for one symbol.
type TradeSignal struct {
	Symbol         string     `json:"symbol"`
	Action         Action     `json:"action"`
	Confidence     Confidence `json:"confidence"`
	TechnicalScore float64    `json:"technicalScore"`
	OnChainScore   float64    `json:"onChainScore"`
	SentimentScore float64    `json:"sentimentScore"`
	MacroScore     float64    `json:"macroScore"`
	Reasoning      string     `json:"reasoning"`
	Timestamp      time.Time  `json:"timestamp"`
}

// Normalize upper-cases the symbol and action and checks ranges.
func (s TradeSignal) Normalize() (TradeSignal, error) {
	s.Symbol = strings.ToUpper(strings.TrimSpace(s.Symbol))
	if s.Symbol == "" {
		return s, fmt.Errorf("%w: symbol is required", ErrInvalidSignal)
	}
	a, err := ParseAction(string(s.Action))
	if err != nil {
		return s, fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}
	s.Action = a
	if !s.Confidence.Valid() {
		return s, fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidSignal, float64(s.Confidence))
	}
	return s, nil
}
