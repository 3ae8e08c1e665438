package gateway

import (
	"fmt"
	"sync"

	"signal-trader/pkg/exchanges/binance"
	"signal-trader/pkg/exchanges/bitget"
	"signal-trader/pkg/exchanges/bybit"
	exchange "signal-trader/pkg/exchanges/common"
	"signal-trader/pkg/exchanges/huobi"
	"signal-trader/pkg/exchanges/kucoin"
	"signal-trader/pkg/exchanges/okx"
)

// Registry maps each exchange to the factory that builds its client.
// Supporting a new venue is one Register call.
type Registry struct {
	mu        sync.RWMutex
	factories map[exchange.Exchange]exchange.Factory
	opts      exchange.Options
}

// NewRegistry creates an empty registry. opts is passed to every factory.
func NewRegistry(opts exchange.Options) *Registry {
	return &Registry{
		factories: make(map[exchange.Exchange]exchange.Factory),
		opts:      opts,
	}
}

// DefaultRegistry registers all six live connectors.
func DefaultRegistry(opts exchange.Options) *Registry {
	r := NewRegistry(opts)
	r.Register(exchange.Binance, binance.New)
	r.Register(exchange.Bybit, bybit.New)
	r.Register(exchange.Bitget, bitget.New)
	r.Register(exchange.KuCoin, kucoin.New)
	r.Register(exchange.OKX, okx.New)
	r.Register(exchange.Huobi, huobi.New)
	return r
}

// Register sets or replaces the factory for an exchange.
func (r *Registry) Register(ex exchange.Exchange, f exchange.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[ex] = f
}

// New validates creds and builds a client for creds.Exchange.
func (r *Registry) New(creds exchange.Credentials) (exchange.ExchangeClient, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	f, ok := r.factories[creds.Exchange]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported exchange type: %s", creds.Exchange)
	}
	return f(creds, r.opts)
}

// Supported lists registered exchanges in declaration order.
func (r *Registry) Supported() []exchange.Exchange {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]exchange.Exchange, 0, len(r.factories))
	for _, ex := range exchange.Exchanges {
		if _, ok := r.factories[ex]; ok {
			out = append(out, ex)
		}
	}
	return out
}
