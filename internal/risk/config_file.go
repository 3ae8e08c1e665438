package risk

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the YAML layout of the auto-trading defaults file:
//
//	auto_trading:
//	  enabled: false
//	  max_position_size: 1000
//	  trading_pairs: [BTCUSDT, ETHUSDT]
type fileConfig struct {
	AutoTrading struct {
		Enabled           *bool    `yaml:"enabled"`
		MaxPositionSize   *float64 `yaml:"max_position_size"`
		MaxLeverage       *int     `yaml:"max_leverage"`
		StopLossPercent   *float64 `yaml:"stop_loss_percent"`
		TakeProfitPercent *float64 `yaml:"take_profit_percent"`
		RiskRewardRatio   *float64 `yaml:"risk_reward_ratio"`
		MaxOpenPositions  *int     `yaml:"max_open_positions"`
		MinConfidence     *float64 `yaml:"min_confidence"`
		TradingPairs      []string `yaml:"trading_pairs"`
		TrailingStop      *float64 `yaml:"trailing_stop_percent"`
	} `yaml:"auto_trading"`
}

func decPtr(f *float64) *decimal.Decimal {
	if f == nil {
		return nil
	}
	d := decimal.NewFromFloat(*f)
	return &d
}

// ParseConfigYAML overlays the YAML document on base.
func ParseConfigYAML(data []byte, base AutoTradingConfig) (AutoTradingConfig, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return base, fmt.Errorf("parse auto-trading config: %w", err)
	}
	a := fc.AutoTrading
	patch := ConfigPatch{
		Enabled:           a.Enabled,
		MaxPositionSize:   decPtr(a.MaxPositionSize),
		MaxLeverage:       a.MaxLeverage,
		StopLossPercent:   decPtr(a.StopLossPercent),
		TakeProfitPercent: decPtr(a.TakeProfitPercent),
		RiskRewardRatio:   decPtr(a.RiskRewardRatio),
		MaxOpenPositions:  a.MaxOpenPositions,
		MinConfidence:     decPtr(a.MinConfidence),
		TradingPairs:      a.TradingPairs,

		TrailingStopPercent: decPtr(a.TrailingStop),
	}
	return patch.Apply(base)
}

// LoadConfigFile reads path and overlays it on DefaultConfig. An empty path
// or a missing file yields the defaults.
func LoadConfigFile(path string) (AutoTradingConfig, error) {
	def := DefaultConfig()
	if path == "" {
		return def, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseConfigYAML(data, def)
}
