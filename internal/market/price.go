package market

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"signal-trader/pkg/cache"
	"signal-trader/pkg/exchanges/common"
	"signal-trader/pkg/logging"
)

// PriceProvider answers the current price of a symbol.
type PriceProvider interface {
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// TickerSource is a one-shot REST price lookup.
type TickerSource interface {
	TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Prices serves from the cache while the quote is younger than MaxAge, and
// otherwise asks REST. A REST hit refreshes the cache.
type Prices struct {
	Cache  *cache.PriceCache
	REST   TickerSource
	MaxAge time.Duration

	log logrus.FieldLogger
}

func NewPrices(c *cache.PriceCache, rest TickerSource, maxAge time.Duration, log logrus.FieldLogger) *Prices {
	return &Prices{Cache: c, REST: rest, MaxAge: maxAge, log: logging.OrDiscard(log).WithField("component", "prices")}
}

func (p *Prices) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if p.Cache != nil {
		if price, ok := p.Cache.Fresh(symbol, p.MaxAge); ok {
			return price, nil
		}
	}
	if p.REST == nil {
		return decimal.Zero, &common.DataUnavailableError{Source: "price_cache", Symbol: symbol, Reason: "no fresh price"}
	}

	price, err := p.REST.TickerPrice(ctx, symbol)
	if err != nil {
		p.log.WithError(err).WithField("symbol", symbol).Warn("ticker fallback failed")
		return decimal.Zero, &common.DataUnavailableError{Source: "price_rest", Symbol: symbol, Reason: err.Error()}
	}
	if !price.IsPositive() {
		return decimal.Zero, &common.DataUnavailableError{Source: "price_rest", Symbol: symbol, Reason: "non-positive price"}
	}
	if p.Cache != nil {
		p.Cache.Set(symbol, price)
	}
	return price, nil
}
