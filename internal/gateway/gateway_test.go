package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"signal-trader/pkg/db"
	exchange "signal-trader/pkg/exchanges/common"
)

type fakeClient struct {
	ex       exchange.Exchange
	valid    atomic.Bool
	orderErr error
}

func (f *fakeClient) Exchange() exchange.Exchange { return f.ex }
func (f *fakeClient) ValidateCredentials(context.Context) bool {
	return f.valid.Load()
}
func (f *fakeClient) GetBalance(context.Context) ([]exchange.Balance, error) {
	return []exchange.Balance{{Asset: "USDT", Free: decimal.NewFromInt(1), Total: decimal.NewFromInt(1)}}, nil
}
func (f *fakeClient) GetPositions(context.Context) ([]exchange.Position, error) { return nil, nil }
func (f *fakeClient) PlaceOrder(context.Context, exchange.OrderRequest) (exchange.OrderResponse, error) {
	return exchange.OrderResponse{}, f.orderErr
}
func (f *fakeClient) CancelOrder(context.Context, string, string) error { return nil }

type memCreds map[string]*db.ExchangeCredential

func (m memCreds) GetCredential(_ context.Context, userID, ex string) (*db.ExchangeCredential, error) {
	if c, ok := m[userID+":"+ex]; ok {
		return c, nil
	}
	return nil, db.ErrNotFound
}

// plainOpener stores key material unencrypted.
type plainOpener struct{}

func (plainOpener) OpenCredentials(row db.ExchangeCredential) (exchange.Credentials, error) {
	ex, err := exchange.ParseExchange(row.Exchange)
	if err != nil {
		return exchange.Credentials{}, err
	}
	return exchange.Credentials{Exchange: ex, APIKey: row.APIKeyEncrypted, SecretKey: row.SecretKeyEncrypted, Passphrase: row.PassphraseEncrypted}, nil
}

func testRegistry(built *int32) *Registry {
	r := NewRegistry(exchange.Options{})
	for _, ex := range exchange.Exchanges {
		r.Register(ex, func(c exchange.Credentials, _ exchange.Options) (exchange.ExchangeClient, error) {
			atomic.AddInt32(built, 1)
			fc := &fakeClient{ex: c.Exchange}
			fc.valid.Store(true)
			return fc, nil
		})
	}
	return r
}

func TestRegistryNew(t *testing.T) {
	var built int32
	r := testRegistry(&built)

	if _, err := r.New(exchange.Credentials{Exchange: exchange.Binance, APIKey: "k", SecretKey: "s"}); err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := r.New(exchange.Credentials{Exchange: exchange.OKX, APIKey: "k", SecretKey: "s"}); !exchange.IsCredentialError(err) {
		t.Fatalf("err=%v, expected credential error for missing passphrase", err)
	}
	if built != 1 {
		t.Fatalf("built=%d, expected 1", built)
	}

	empty := NewRegistry(exchange.Options{})
	if _, err := empty.New(exchange.Credentials{Exchange: exchange.Binance, APIKey: "k", SecretKey: "s"}); err == nil {
		t.Fatal("expected error for unregistered exchange")
	}
}

func TestDefaultRegistrySupportsAllSix(t *testing.T) {
	got := DefaultRegistry(exchange.Options{}).Supported()
	if len(got) != len(exchange.Exchanges) {
		t.Fatalf("Supported=%v, expected %v", got, exchange.Exchanges)
	}
	for i, ex := range exchange.Exchanges {
		if got[i] != ex {
			t.Fatalf("Supported[%d]=%s, expected %s", i, got[i], ex)
		}
	}
}

func TestManagerGetOrCreate(t *testing.T) {
	var built int32
	creds := memCreds{"u1:bybit": {UserID: "u1", Exchange: "bybit", APIKeyEncrypted: "k", SecretKeyEncrypted: "s"}}
	m := NewManager(creds, plainOpener{}, testRegistry(&built), DefaultConfig(), nil)
	ctx := context.Background()

	c1, err := m.GetOrCreate(ctx, "u1", exchange.Bybit)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	c2, _ := m.GetOrCreate(ctx, "u1", exchange.Bybit)
	if c1 != c2 || built != 1 {
		t.Fatalf("expected cached client, built=%d", built)
	}
	if _, err := m.GetOrCreate(ctx, "u2", exchange.Bybit); !errors.Is(err, ErrConnectionNotFound) {
		t.Fatalf("err=%v, expected ErrConnectionNotFound", err)
	}
}

func TestManagerCircuitBreaker(t *testing.T) {
	var built int32
	cfg := DefaultConfig()
	cfg.FailureThreshold = 2
	m := NewManager(nil, nil, testRegistry(&built), cfg, nil)
	m.Put("u1", &fakeClient{ex: exchange.Binance})

	m.RecordFailure("u1", exchange.Binance)
	if _, err := m.GetOrCreate(context.Background(), "u1", exchange.Binance); err != nil {
		t.Fatalf("one failure should not trip the breaker: %v", err)
	}
	m.RecordFailure("u1", exchange.Binance)
	if _, err := m.GetOrCreate(context.Background(), "u1", exchange.Binance); !errors.Is(err, ErrGatewayUnhealthy) {
		t.Fatalf("err=%v, expected ErrGatewayUnhealthy", err)
	}
	if s := m.Stats(); s.UnhealthyCount != 1 {
		t.Fatalf("UnhealthyCount=%d, expected 1", s.UnhealthyCount)
	}
	m.RecordSuccess("u1", exchange.Binance)
	if _, err := m.GetOrCreate(context.Background(), "u1", exchange.Binance); err != nil {
		t.Fatalf("expected recovery after success: %v", err)
	}
}

func TestManagerLRUEviction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSize = 2
	m := NewManager(nil, nil, NewRegistry(exchange.Options{}), cfg, nil)
	m.Put("u1", &fakeClient{ex: exchange.Binance})
	m.Put("u2", &fakeClient{ex: exchange.Binance})
	_, _ = m.GetOrCreate(context.Background(), "u1", exchange.Binance)
	m.Put("u3", &fakeClient{ex: exchange.Binance})

	if _, err := m.GetOrCreate(context.Background(), "u2", exchange.Binance); !errors.Is(err, ErrConnectionNotFound) {
		t.Fatalf("err=%v, expected u2 evicted", err)
	}
	stats := m.Stats()
	if stats.TotalClients != 2 || stats.ByExchange["binance"] != 2 {
		t.Fatalf("stats=%+v", stats)
	}
}

func TestManagerRemoveAndIdleCleanup(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTimeout = time.Millisecond
	m := NewManager(nil, nil, NewRegistry(exchange.Options{}), cfg, nil)
	m.Put("u1", &fakeClient{ex: exchange.Binance})
	m.Put("u1", &fakeClient{ex: exchange.OKX})
	m.Put("u2", &fakeClient{ex: exchange.OKX})

	m.Remove("u2", exchange.OKX)
	if m.Stats().TotalClients != 2 {
		t.Fatalf("TotalClients=%d, expected 2", m.Stats().TotalClients)
	}
	m.RemoveByUser("u1")
	if m.Stats().TotalClients != 0 {
		t.Fatalf("TotalClients=%d, expected 0", m.Stats().TotalClients)
	}

	m.Put("u3", &fakeClient{ex: exchange.Bitget})
	time.Sleep(5 * time.Millisecond)
	m.cleanupIdle()
	if m.Stats().TotalClients != 0 {
		t.Fatal("expected idle client to be cleaned up")
	}
}

func TestHealthCheckRecordsFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	m := NewManager(nil, nil, NewRegistry(exchange.Options{}), cfg, nil)
	bad := &fakeClient{ex: exchange.KuCoin}
	m.Put("u1", bad)

	m.healthCheckAll(context.Background())
	if m.Stats().UnhealthyCount != 1 {
		t.Fatal("expected failed validation to mark the client unhealthy")
	}
	bad.valid.Store(true)
	m.healthCheckAll(context.Background())
	if m.Stats().UnhealthyCount != 0 {
		t.Fatal("expected successful validation to clear the failure count")
	}
}

func TestPooledClientFeedsCircuitBreaker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 2
	m := NewManager(nil, nil, nil, cfg, nil)
	fc := &fakeClient{ex: exchange.Binance}
	fc.valid.Store(true)
	m.Put("u1", fc)

	p := NewPooledClient(m, "u1", exchange.Binance)
	ctx := context.Background()
	if p.Exchange() != exchange.Binance || !p.ValidateCredentials(ctx) {
		t.Fatal("expected pooled client to delegate")
	}
	if _, err := p.GetBalance(ctx); err != nil {
		t.Fatalf("GetBalance err=%v", err)
	}

	fc.orderErr = fmt.Errorf("%w: quantity must be positive", exchange.ErrInvalidOrder)
	for i := 0; i < 3; i++ {
		p.PlaceOrder(ctx, exchange.OrderRequest{})
	}
	if m.Stats().UnhealthyCount != 0 {
		t.Fatal("invalid orders must not trip the breaker")
	}

	fc.orderErr = &exchange.TransportError{Exchange: exchange.Binance, Status: 502}
	p.PlaceOrder(ctx, exchange.OrderRequest{})
	p.PlaceOrder(ctx, exchange.OrderRequest{})
	if _, err := p.PlaceOrder(ctx, exchange.OrderRequest{}); !errors.Is(err, ErrGatewayUnhealthy) {
		t.Fatalf("err=%v, expected ErrGatewayUnhealthy", err)
	}
}
