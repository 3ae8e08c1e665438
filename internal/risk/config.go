package risk

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidConfig = errors.New("invalid auto-trading config")

// AutoTradingConfig is one user's auto-trading policy.
type AutoTradingConfig struct {
	Enabled bool `json:"enabled"`
	// MaxPositionSize caps the notional of one trade, in quote currency.
	MaxPositionSize   decimal.Decimal `json:"maxPositionSize"`
	MaxLeverage       int             `json:"maxLeverage"`
	StopLossPercent   decimal.Decimal `json:"stopLossPercent"`
	TakeProfitPercent decimal.Decimal `json:"takeProfitPercent"`
	RiskRewardRatio   decimal.Decimal `json:"riskRewardRatio"`
	MaxOpenPositions  int             `json:"maxOpenPositions"`
	// MinConfidence is on the 0-100 scale.
	MinConfidence decimal.Decimal `json:"minConfidence"`
	TradingPairs  []string        `json:"tradingPairs"`
	// TrailingStopPercent, when positive, trails the stop this far behind the
	// best price seen. Zero keeps stops fixed.
	TrailingStopPercent decimal.Decimal `json:"trailingStopPercent"`
}

// DefaultConfig returns the out-of-the-box policy. Auto-trading starts off.
func DefaultConfig() AutoTradingConfig {
	return AutoTradingConfig{
		Enabled:           false,
		MaxPositionSize:   decimal.NewFromInt(1000),
		MaxLeverage:       5,
		StopLossPercent:   decimal.NewFromInt(2),
		TakeProfitPercent: decimal.NewFromInt(5),
		RiskRewardRatio:   decimal.RequireFromString("0.4"),
		MaxOpenPositions:  5,
		MinConfidence:     decimal.NewFromInt(60),
		TradingPairs:      []string{"BTCUSDT", "ETHUSDT"},
	}
}

// Clone deep-copies the pair list.
func (c AutoTradingConfig) Clone() AutoTradingConfig {
	c.TradingPairs = append([]string(nil), c.TradingPairs...)
	return c
}

// AllowsPair reports whether symbol is in TradingPairs.
func (c AutoTradingConfig) AllowsPair(symbol string) bool {
	for _, p := range c.TradingPairs {
		if p == symbol {
			return true
		}
	}
	return false
}

// Validate checks value ranges.
func (c AutoTradingConfig) Validate() error {
	switch {
	case c.MaxPositionSize.IsNegative():
		return fmt.Errorf("%w: maxPositionSize must not be negative", ErrInvalidConfig)
	case c.MaxLeverage < 1:
		return fmt.Errorf("%w: maxLeverage must be at least 1", ErrInvalidConfig)
	case !c.StopLossPercent.IsPositive() || c.StopLossPercent.GreaterThanOrEqual(hundred):
		return fmt.Errorf("%w: stopLossPercent must be in (0,100)", ErrInvalidConfig)
	case !c.TakeProfitPercent.IsPositive():
		return fmt.Errorf("%w: takeProfitPercent must be positive", ErrInvalidConfig)
	case c.RiskRewardRatio.IsNegative():
		return fmt.Errorf("%w: riskRewardRatio must not be negative", ErrInvalidConfig)
	case c.MaxOpenPositions < 0:
		return fmt.Errorf("%w: maxOpenPositions must not be negative", ErrInvalidConfig)
	case c.MinConfidence.IsNegative() || c.MinConfidence.GreaterThan(hundred):
		return fmt.Errorf("%w: minConfidence must be in [0,100]", ErrInvalidConfig)
	case c.TrailingStopPercent.IsNegative() || c.TrailingStopPercent.GreaterThanOrEqual(hundred):
		return fmt.Errorf("%w: trailingStopPercent must be in [0,100)", ErrInvalidConfig)
	}
	return nil
}

// ConfigPatch is a partial update; nil fields are left unchanged.
type ConfigPatch struct {
	Enabled           *bool            `json:"enabled,omitempty"`
	MaxPositionSize   *decimal.Decimal `json:"maxPositionSize,omitempty"`
	MaxLeverage       *int             `json:"maxLeverage,omitempty"`
	StopLossPercent   *decimal.Decimal `json:"stopLossPercent,omitempty"`
	TakeProfitPercent *decimal.Decimal `json:"takeProfitPercent,omitempty"`
	RiskRewardRatio   *decimal.Decimal `json:"riskRewardRatio,omitempty"`
	MaxOpenPositions  *int             `json:"maxOpenPositions,omitempty"`
	MinConfidence     *decimal.Decimal `json:"minConfidence,omitempty"`
	TradingPairs      []string         `json:"tradingPairs,omitempty"`

	TrailingStopPercent *decimal.Decimal `json:"trailingStopPercent,omitempty"`
}

// Apply merges p into c and validates the result. c is not modified on error.
func (p ConfigPatch) Apply(c AutoTradingConfig) (AutoTradingConfig, error) {
	out := c.Clone()
	if p.Enabled != nil {
		out.Enabled = *p.Enabled
	}
	if p.MaxPositionSize != nil {
		out.MaxPositionSize = *p.MaxPositionSize
	}
	if p.MaxLeverage != nil {
		out.MaxLeverage = *p.MaxLeverage
	}
	if p.StopLossPercent != nil {
		out.StopLossPercent = *p.StopLossPercent
	}
	if p.TakeProfitPercent != nil {
		out.TakeProfitPercent = *p.TakeProfitPercent
	}
	if p.RiskRewardRatio != nil {
		out.RiskRewardRatio = *p.RiskRewardRatio
	}
	if p.MaxOpenPositions != nil {
		out.MaxOpenPositions = *p.MaxOpenPositions
	}
	if p.MinConfidence != nil {
		out.MinConfidence = *p.MinConfidence
	}
	if p.TrailingStopPercent != nil {
		out.TrailingStopPercent = *p.TrailingStopPercent
	}
	if p.TradingPairs != nil {
		pairs := make([]string, 0, len(p.TradingPairs))
		seen := make(map[string]bool, len(p.TradingPairs))
		for _, s := range p.TradingPairs {
			s = strings.ToUpper(strings.TrimSpace(s))
			if s != "" && !seen[s] {
				seen[s] = true
				pairs = append(pairs, s)
			}
		}
		out.TradingPairs = pairs
	}
	if err := out.Validate(); err != nil {
		return c, err
	}
	return out, nil
}

// Empty reports whether the patch sets nothing.
func (p ConfigPatch) Empty() bool {
	return p.Enabled == nil && p.MaxPositionSize == nil && p.MaxLeverage == nil &&
		p.StopLossPercent == nil && p.TakeProfitPercent == nil && p.RiskRewardRatio == nil &&
		p.MaxOpenPositions == nil && p.MinConfidence == nil && p.TradingPairs == nil &&
		p.TrailingStopPercent == nil
}
