package market

import (
	"context"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"signal-trader/internal/events"
	"signal-trader/pkg/cache"
	"signal-trader/pkg/logging"
)

// MockFeed generates random-walk ticks for local development and dry runs.
type MockFeed struct {
	Cache       *cache.PriceCache
	Bus         *events.Bus
	Symbols     []string
	StartPrices map[string]decimal.Decimal
	// Step is the largest relative move per tick, e.g. 0.001 = 0.1%.
	Step     float64
	Interval time.Duration

	log logrus.FieldLogger
	rnd *rand.Rand
}

var defaultStartPrices = map[string]decimal.Decimal{
	"BTCUSDT": decimal.NewFromInt(43000),
	"ETHUSDT": decimal.NewFromInt(2300),
}

func NewMockFeed(c *cache.PriceCache, bus *events.Bus, symbols []string, log logrus.FieldLogger) *MockFeed {
	return &MockFeed{
		Cache:    c,
		Bus:      bus,
		Symbols:  symbols,
		Step:     0.001,
		Interval: time.Second,
		log:      logging.OrDiscard(log).WithField("component", "mock_feed"),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start seeds the cache immediately, then ticks every Interval until ctx ends.
func (m *MockFeed) Start(ctx context.Context) {
	if m.Cache == nil {
		m.log.Warn("mock feed: cache not set")
		return
	}
	if len(m.Symbols) == 0 {
		m.Symbols = []string{"BTCUSDT"}
	}
	if m.Interval <= 0 {
		m.Interval = time.Second
	}
	prices := make(map[string]decimal.Decimal, len(m.Symbols))
	for _, sym := range m.Symbols {
		prices[sym] = m.startPrice(sym)
		m.emit(sym, prices[sym])
	}

	go func() {
		t := time.NewTicker(m.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				for _, sym := range m.Symbols {
					prices[sym] = m.step(prices[sym])
					m.emit(sym, prices[sym])
				}
			}
		}
	}()
}

func (m *MockFeed) startPrice(sym string) decimal.Decimal {
	if p, ok := m.StartPrices[sym]; ok && p.IsPositive() {
		return p
	}
	if p, ok := defaultStartPrices[sym]; ok {
		return p
	}
	return decimal.NewFromInt(100)
}

func (m *MockFeed) step(p decimal.Decimal) decimal.Decimal {
	move := (m.rnd.Float64()*2 - 1) * m.Step
	next := p.Mul(decimal.NewFromFloat(1 + move)).Round(8)
	if !next.IsPositive() {
		return p
	}
	return next
}

func (m *MockFeed) emit(sym string, price decimal.Decimal) {
	now := time.Now()
	m.Cache.SetAt(sym, price, now)
	if m.Bus != nil {
		m.Bus.Publish(events.EventPriceTick, Tick{Symbol: sym, Price: price, Time: now, Source: "mock"})
	}
}
