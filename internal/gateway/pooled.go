package gateway

import (
	"context"
	"errors"

	exchange "signal-trader/pkg/exchanges/common"
)

// PooledClient resolves the user's client from the pool on every call and
// feeds the outcome into the circuit breaker. Reconnecting with new keys takes
// effect on the next call.
type PooledClient struct {
	Pool   *Manager
	UserID string
	Venue  exchange.Exchange
}

func NewPooledClient(pool *Manager, userID string, ex exchange.Exchange) *PooledClient {
	return &PooledClient{Pool: pool, UserID: userID, Venue: ex}
}

func (p *PooledClient) Exchange() exchange.Exchange { return p.Venue }

func (p *PooledClient) client(ctx context.Context) (exchange.ExchangeClient, error) {
	return p.Pool.GetOrCreate(ctx, p.UserID, p.Venue)
}

func (p *PooledClient) record(err error) {
	// Input rejections do not count against venue health.
	if err == nil || exchange.IsUnsupported(err) || errors.Is(err, exchange.ErrInvalidOrder) {
		p.Pool.RecordSuccess(p.UserID, p.Venue)
		return
	}
	p.Pool.RecordFailure(p.UserID, p.Venue)
}

func (p *PooledClient) ValidateCredentials(ctx context.Context) bool {
	c, err := p.client(ctx)
	if err != nil {
		return false
	}
	return c.ValidateCredentials(ctx)
}

func (p *PooledClient) GetBalance(ctx context.Context) ([]exchange.Balance, error) {
	c, err := p.client(ctx)
	if err != nil {
		return nil, err
	}
	out, err := c.GetBalance(ctx)
	p.record(err)
	return out, err
}

func (p *PooledClient) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	c, err := p.client(ctx)
	if err != nil {
		return nil, err
	}
	out, err := c.GetPositions(ctx)
	p.record(err)
	return out, err
}

func (p *PooledClient) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResponse, error) {
	c, err := p.client(ctx)
	if err != nil {
		return exchange.OrderResponse{}, err
	}
	resp, err := c.PlaceOrder(ctx, req)
	p.record(err)
	return resp, err
}

func (p *PooledClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	c, err := p.client(ctx)
	if err != nil {
		return err
	}
	err = c.CancelOrder(ctx, symbol, orderID)
	p.record(err)
	return err
}

// SupportsPositions reports the capability of the underlying client.
func (p *PooledClient) SupportsPositions() bool {
	c, err := p.client(context.Background())
	if err != nil {
		return true
	}
	return exchange.SupportsPositions(c)
}
