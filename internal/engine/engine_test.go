package engine

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"signal-trader/internal/events"
	"signal-trader/internal/gateway"
	"signal-trader/internal/indicators"
	"signal-trader/internal/order"
	"signal-trader/internal/risk"
	"signal-trader/internal/signal"
	"signal-trader/pkg/crypto"
	"signal-trader/pkg/db"
	"signal-trader/pkg/exchanges/common"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeClient struct {
	ex        common.Exchange
	valid     bool
	positions bool

	mu     sync.Mutex
	orders []common.OrderRequest
}

func (f *fakeClient) Exchange() common.Exchange                { return f.ex }
func (f *fakeClient) ValidateCredentials(context.Context) bool { return f.valid }
func (f *fakeClient) GetBalance(context.Context) ([]common.Balance, error) {
	return []common.Balance{{Asset: "USDT", Free: d("10000"), Total: d("10000")}}, nil
}
func (f *fakeClient) GetPositions(context.Context) ([]common.Position, error) {
	if !f.positions {
		return nil, &common.UnsupportedOperationError{Exchange: f.ex, Operation: "positions"}
	}
	return []common.Position{{Symbol: "BTCUSDT", PositionAmt: d("0.1")}}, nil
}
func (f *fakeClient) PlaceOrder(_ context.Context, req common.OrderRequest) (common.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, req)
	return common.OrderResponse{
		OrderID:  "o-1",
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: req.Quantity,
		Price:    req.Price,
		Status:   common.StatusFilled,
		Exchange: f.ex,
	}, nil
}
func (f *fakeClient) CancelOrder(context.Context, string, string) error { return nil }

func (f *fakeClient) placed() []common.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]common.OrderRequest(nil), f.orders...)
}

type fixedPrices map[string]decimal.Decimal

func (p fixedPrices) CurrentPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	if v, ok := p[symbol]; ok {
		return v, nil
	}
	return decimal.Zero, &common.DataUnavailableError{Source: "test", Symbol: symbol, Reason: "no price"}
}

type harness struct {
	svc    *Impl
	db     *db.Database
	client *fakeClient
}

func newHarness(t *testing.T, valid bool, mutate func(*Config)) *harness {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
	vault, err := crypto.NewVault(map[int][]byte{1: bytes.Repeat([]byte{7}, 32)})
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}

	h := &harness{db: database}
	reg := gateway.NewRegistry(common.Options{})
	for _, ex := range common.Exchanges {
		reg.Register(ex, func(c common.Credentials, _ common.Options) (common.ExchangeClient, error) {
			h.client = &fakeClient{ex: c.Exchange, valid: valid}
			return h.client, nil
		})
	}
	pool := gateway.NewManager(database.Credentials(), vault, reg, gateway.DefaultConfig(), nil)
	bus := events.NewBus()

	cfg := Config{
		DB:         database,
		Vault:      vault,
		Registry:   reg,
		Pool:       pool,
		Bus:        bus,
		Prices:     fixedPrices{"BTCUSDT": d("50000")},
		Signals:    signal.NewHub(bus, nil),
		Window:     indicators.NewWindow(7, 25, 14, 100),
		BaseConfig: risk.DefaultConfig(),
		InstanceID: "test",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.svc = New(cfg)
	return h
}

func binanceCreds() common.Credentials {
	return common.Credentials{Exchange: common.Binance, APIKey: "apikey-123456", SecretKey: "supersecret-xyz"}
}

func TestConnectExchangeStoresEncryptedCredentials(t *testing.T) {
	h := newHarness(t, true, nil)
	ctx := context.Background()

	res := h.svc.ConnectExchange(ctx, "u1", binanceCreds())
	if !res.Success {
		t.Fatalf("connect failed: %s", res.Error)
	}
	if res.Message != "Successfully connected to binance" {
		t.Fatalf("message=%q, expected success message", res.Message)
	}

	row, err := h.db.Credentials().GetCredential(ctx, "u1", "binance")
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	if strings.Contains(row.SecretKeyEncrypted, "supersecret") || strings.Contains(row.APIKeyEncrypted, "apikey-123456") {
		t.Fatalf("credentials stored in plaintext")
	}
	if st := h.svc.cfg.Pool.Stats(); st.TotalClients != 1 {
		t.Fatalf("pool clients=%d, expected 1", st.TotalClients)
	}
}

func TestConnectExchangeRejectsBadCredentials(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
		creds common.Credentials
	}{
		{"venue rejects", false, binanceCreds()},
		{"missing secret", true, common.Credentials{Exchange: common.Binance, APIKey: "k"}},
		{"missing passphrase", true, common.Credentials{Exchange: common.OKX, APIKey: "k", SecretKey: "supersecret-xyz"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.valid, nil)
			res := h.svc.ConnectExchange(context.Background(), "u1", tc.creds)
			if res.Success {
				t.Fatalf("success=true, expected failure")
			}
			if res.Error != CredentialMessage {
				t.Fatalf("error=%q, expected %q", res.Error, CredentialMessage)
			}
			if strings.Contains(res.Error, "supersecret") {
				t.Fatalf("secret leaked in error")
			}
			if _, err := h.db.Credentials().GetCredential(context.Background(), "u1", string(tc.creds.Exchange)); err == nil {
				t.Fatalf("rejected credentials were stored")
			}
		})
	}
}

func TestConnectExchangeUnknownExchange(t *testing.T) {
	h := newHarness(t, true, nil)
	res := h.svc.ConnectExchange(context.Background(), "u1", common.Credentials{Exchange: "ftx", APIKey: "k", SecretKey: "s"})
	if res.Success || res.Error == "" {
		t.Fatalf("res=%+v, expected failure", res)
	}
}

func TestPlaceOrderAndPositions(t *testing.T) {
	h := newHarness(t, true, nil)
	ctx := context.Background()

	if res := h.svc.PlaceOrder(ctx, "u1", common.Binance, common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy, Quantity: d("0.01")}); res.Success {
		t.Fatalf("order before connect succeeded")
	} else if res.Error != "Exchange not connected" {
		t.Fatalf("error=%q, expected not connected", res.Error)
	}

	h.svc.ConnectExchange(ctx, "u1", binanceCreds())
	res := h.svc.PlaceOrder(ctx, "u1", common.Binance, common.OrderRequest{Symbol: "btcusdt", Side: common.SideBuy, Quantity: d("0.01")})
	if !res.Success {
		t.Fatalf("place failed: %s", res.Error)
	}
	if res.Order.OrderID != "o-1" {
		t.Fatalf("orderID=%q, expected o-1", res.Order.OrderID)
	}
	placed := h.client.placed()
	if len(placed) != 1 || placed[0].Symbol != "BTCUSDT" || placed[0].Type != common.OrderTypeMarket {
		t.Fatalf("placed=%+v, expected normalized MARKET order", placed)
	}

	bad := h.svc.PlaceOrder(ctx, "u1", common.Binance, common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy})
	if bad.Success {
		t.Fatalf("zero quantity order succeeded")
	}

	pos := h.svc.GetPositions(ctx, "u1", common.Binance)
	if !pos.Success || pos.Supported || len(pos.Positions) != 0 {
		t.Fatalf("positions=%+v, expected unsupported and empty", pos)
	}
	h.client.positions = true
	pos = h.svc.GetPositions(ctx, "u1", common.Binance)
	if !pos.Success || !pos.Supported || len(pos.Positions) != 1 {
		t.Fatalf("positions=%+v, expected one supported position", pos)
	}

	bal := h.svc.GetBalance(ctx, "u1", common.Binance)
	if !bal.Success || len(bal.Balance) != 1 {
		t.Fatalf("balance=%+v, expected one entry", bal)
	}
}

func TestConfigWithoutConnection(t *testing.T) {
	h := newHarness(t, true, nil)
	ctx := context.Background()

	got := h.svc.GetAutoTradingConfig(ctx, "u1")
	if !got.Success || got.Config.Enabled {
		t.Fatalf("config=%+v, expected disabled defaults", got)
	}

	lev := 10
	upd := h.svc.UpdateAutoTradingConfig(ctx, "u1", risk.ConfigPatch{MaxLeverage: &lev})
	if !upd.Success || upd.Config.MaxLeverage != 10 {
		t.Fatalf("update=%+v, expected leverage 10", upd)
	}
	bad := 0
	if res := h.svc.UpdateAutoTradingConfig(ctx, "u1", risk.ConfigPatch{MaxLeverage: &bad}); res.Success {
		t.Fatalf("leverage 0 accepted")
	}

	tog := h.svc.ToggleAutoTrading(ctx, "u1", true)
	if !tog.Success || !tog.Enabled || tog.Message != "Auto-trading enabled" {
		t.Fatalf("toggle=%+v, expected enabled", tog)
	}
	got = h.svc.GetAutoTradingConfig(ctx, "u1")
	if !got.Config.Enabled || got.Config.MaxLeverage != 10 {
		t.Fatalf("config=%+v, expected persisted leverage and enabled flag", got.Config)
	}

	if tr := h.svc.GetOpenTrades(ctx, "u1"); !tr.Success || len(tr.Trades) != 0 {
		t.Fatalf("open=%+v, expected empty", tr)
	}
	if st := h.svc.GetTradingStats(ctx, "u1"); !st.Success || st.Stats.TotalTrades != 0 {
		t.Fatalf("stats=%+v, expected zero trades", st)
	}
}

func TestSignalToTradeAndClose(t *testing.T) {
	h := newHarness(t, true, nil)
	ctx := context.Background()
	h.svc.ConnectExchange(ctx, "u1", binanceCreds())
	h.svc.ToggleAutoTrading(ctx, "u1", true)

	res := h.svc.ProcessSignal(ctx, "u1", signal.TradeSignal{Symbol: "BTCUSDT", Action: signal.ActionBuy, Confidence: 0.8})
	if !res.Success || res.Trade == nil {
		t.Fatalf("process=%+v, expected trade", res)
	}
	if !res.Trade.Quantity.Equal(d("0.004")) {
		t.Fatalf("qty=%s, expected 0.004", res.Trade.Quantity)
	}

	again := h.svc.ProcessSignal(ctx, "u1", signal.TradeSignal{Symbol: "BTCUSDT", Action: signal.ActionBuy, Confidence: 0.8})
	if !again.Success || again.Trade != nil {
		t.Fatalf("second=%+v, expected no trade for open symbol", again)
	}

	if open := h.svc.GetOpenTrades(ctx, "u1"); len(open.Trades) != 1 {
		t.Fatalf("open=%d, expected 1", len(open.Trades))
	}

	cl := h.svc.ClosePosition(ctx, "u1", "btcusdt")
	if !cl.Success {
		t.Fatalf("close failed: %s", cl.Error)
	}
	if cl := h.svc.ClosePosition(ctx, "u1", "BTCUSDT"); cl.Success {
		t.Fatalf("second close succeeded")
	}

	hist := h.svc.GetTradeHistory(ctx, "u1")
	if len(hist.Trades) != 1 || hist.Trades[0].Status != order.StatusClosed {
		t.Fatalf("history=%+v, expected one closed trade", hist.Trades)
	}
	orders := h.client.placed()
	if len(orders) != 2 || orders[1].Side != common.SideSell {
		t.Fatalf("orders=%+v, expected entry and opposite close", orders)
	}

	malformed := h.svc.ProcessSignal(ctx, "u1", signal.TradeSignal{Symbol: "BTCUSDT", Action: "MOON", Confidence: 0.8})
	if malformed.Success {
		t.Fatalf("malformed signal accepted")
	}
}

func TestManualTrade(t *testing.T) {
	h := newHarness(t, true, nil)
	ctx := context.Background()
	h.svc.ConnectExchange(ctx, "u1", binanceCreds())

	res := h.svc.ExecuteManualTrade(ctx, "u1", ManualTradeRequest{Symbol: "ETHUSDT", Side: common.SideSell, Quantity: d("1"), EntryPrice: d("2000")})
	if !res.Success {
		t.Fatalf("manual failed: %s", res.Error)
	}
	if res.Trade.Leverage != 1 {
		t.Fatalf("leverage=%d, expected 1", res.Trade.Leverage)
	}
	bad := h.svc.ExecuteManualTrade(ctx, "u1", ManualTradeRequest{Symbol: "ETHUSDT", Side: common.SideSell, Quantity: d("0"), EntryPrice: d("2000")})
	if bad.Success {
		t.Fatalf("zero quantity manual trade succeeded")
	}
}

func TestDryRunUsesPaperAccount(t *testing.T) {
	h := newHarness(t, true, func(c *Config) {
		c.DryRun = true
		c.Paper = order.PaperConfig{InitialBalance: d("1000"), Asset: "USDT"}
	})
	ctx := context.Background()

	res := h.svc.PlaceOrder(ctx, "u1", common.Binance, common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy, Quantity: d("0.001")})
	if !res.Success {
		t.Fatalf("paper order failed: %s", res.Error)
	}
	if h.client != nil {
		t.Fatalf("live client was built in dry run")
	}
	bal := h.svc.GetBalance(ctx, "u1", common.Binance)
	if !bal.Success || len(bal.Balance) == 0 {
		t.Fatalf("balance=%+v, expected paper balance", bal)
	}
}

func TestScoreSignalPublishes(t *testing.T) {
	h := newHarness(t, true, nil)
	ctx := context.Background()

	res := h.svc.ScoreSignal(ctx, signal.Inputs{
		Symbol:    "btcusdt",
		Technical: signal.Technical{RSI: 20, MACD: 100, VolumeChange: 100, OrderBookImbalance: 100},
		OnChain:   signal.OnChain{WhaleActivity: 100, StablecoinFlow: 100, ExchangeFlow: 100},
	}, true)
	if !res.Success {
		t.Fatalf("score failed: %s", res.Error)
	}
	if res.Score.Signal.Action != signal.ActionBuy {
		t.Fatalf("action=%s, expected BUY", res.Score.Signal.Action)
	}
	latest := h.svc.LatestSignal(ctx, "BTCUSDT")
	if !latest.Success || latest.Signal.Action != signal.ActionBuy {
		t.Fatalf("latest=%+v, expected published BUY", latest)
	}

	if res := h.svc.ScoreSignal(ctx, signal.Inputs{}, false); res.Success {
		t.Fatalf("empty symbol scored")
	}
}

func TestMetricsSnapshot(t *testing.T) {
	h := newHarness(t, true, nil)
	ctx := context.Background()
	h.svc.ConnectExchange(ctx, "u1", binanceCreds())
	h.svc.GetAutoTradingConfig(ctx, "u1")

	m := h.svc.Metrics(ctx)
	if !m.Success || m.Metrics.ActiveUsers != 1 {
		t.Fatalf("metrics=%+v, expected one active user", m.Metrics)
	}
}

func TestUserMessageHidesDetails(t *testing.T) {
	err := &common.CredentialError{Exchange: common.Binance, Reason: "signature for key abc invalid"}
	if got := userMessage(err); got != CredentialMessage {
		t.Fatalf("userMessage=%q, expected %q", got, CredentialMessage)
	}
	if got := userMessage(gateway.ErrGatewayUnhealthy); !strings.Contains(got, "unavailable") {
		t.Fatalf("userMessage=%q, expected unavailable text", got)
	}
}

func TestRestoreEnginesAfterRestart(t *testing.T) {
	h := newHarness(t, true, nil)
	ctx := context.Background()
	if res := h.svc.ConnectExchange(ctx, "u1", binanceCreds()); !res.Success {
		t.Fatalf("connect failed: %s", res.Error)
	}
	if res := h.svc.ToggleAutoTrading(ctx, "u1", true); !res.Success {
		t.Fatalf("toggle failed: %s", res.Error)
	}
	if res := h.svc.ProcessSignal(ctx, "u1", signal.TradeSignal{Symbol: "BTCUSDT", Action: signal.ActionBuy, Confidence: 0.9}); res.Trade == nil {
		t.Fatalf("res=%+v, expected trade", res)
	}
	// Enabled but never connected: cannot be restored.
	if res := h.svc.ToggleAutoTrading(ctx, "u2", true); !res.Success {
		t.Fatalf("toggle failed: %s", res.Error)
	}
	// Connected but disabled: stays lazy.
	h.svc.ConnectExchange(ctx, "u3", binanceCreds())
	h.svc.ToggleAutoTrading(ctx, "u3", false)

	restarted := New(h.svc.cfg)
	n, err := restarted.RestoreEngines(ctx)
	if err != nil || n != 1 {
		t.Fatalf("restored=%d err=%v, expected 1", n, err)
	}
	engines := restarted.Users().Engines()
	if len(engines) != 1 || engines[0].UserID() != "u1" || !engines[0].Config().Enabled {
		t.Fatalf("engines=%d, expected only u1 running", len(engines))
	}
	open, err := engines[0].OpenTrades(ctx)
	if err != nil || len(open) != 1 || open[0].Symbol != "BTCUSDT" {
		t.Fatalf("open=%v err=%v, expected BTCUSDT carried over", open, err)
	}
}
