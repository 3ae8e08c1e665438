package bybit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"signal-trader/pkg/exchanges/common"
)

const fixedMs = int64(1700000000000)

func TestSignGolden(t *testing.T) {
	tests := []struct {
		query, want string
	}{
		{"category=linear&orderType=Market&qty=0.01&side=Buy&symbol=BTCUSDT", "8f0d1e2beeb17716cad2a369239f49cb363237c4b8152c54836aca252e13a1e0"},
		{"accountType=UNIFIED", "cc6beab87ff58b6f05612e03316846ad09d6336bda1a3c292570b580f2696d48"},
	}
	for _, tt := range tests {
		if got := Sign("1700000000000", "bybit-key", tt.query, "bybit-secret"); got != tt.want {
			t.Fatalf("Sign(%q)=%s, expected %s", tt.query, got, tt.want)
		}
	}
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts := r.Header.Get("X-BAPI-TIMESTAMP")
		if ts != "1700000000000" || r.Header.Get("X-BAPI-RECV-WINDOW") != "5000" || r.Header.Get("X-BAPI-API-KEY") != "bybit-key" {
			t.Errorf("unexpected auth headers %v", r.Header)
		}
		if got, want := r.Header.Get("X-BAPI-SIGN"), Sign(ts, "bybit-key", r.URL.RawQuery, "bybit-secret"); got != want {
			t.Errorf("signature=%s, expected %s", got, want)
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	c, err := NewClient(common.Credentials{APIKey: "bybit-key", SecretKey: "bybit-secret"}, common.Options{
		BaseURL: srv.URL,
		Now:     func() time.Time { return time.UnixMilli(fixedMs) },
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestGetBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[{"coin":[
			{"coin":"USDT","walletBalance":"100","availableToWithdraw":"80"}]}]}}`))
	})
	balances, err := c.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if len(balances) != 1 || !balances[0].Locked.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("balances=%+v, expected USDT locked 20", balances)
	}
	if !c.ValidateCredentials(context.Background()) {
		t.Fatal("expected credentials to validate")
	}
}

func TestGetPositions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("category") != "linear" {
			t.Errorf("category=%s", r.URL.Query().Get("category"))
		}
		_, _ = w.Write([]byte(`{"retCode":0,"result":{"list":[
			{"symbol":"BTCUSDT","side":"Buy","size":"0.5","avgPrice":"40000","markPrice":"41000","unrealisedPnl":"500"},
			{"symbol":"ETHUSDT","side":"","size":"0","avgPrice":"0","markPrice":"2000","unrealisedPnl":"0"}]}}`))
	})
	positions, err := c.GetPositions(context.Background())
	if err != nil {
		t.Fatalf("GetPositions: %v", err)
	}
	if len(positions) != 1 || positions[0].Symbol != "BTCUSDT" {
		t.Fatalf("positions=%+v", positions)
	}
}

func TestPlaceOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v5/order/create" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.URL.RawQuery != "category=linear&orderType=Market&qty=0.01&side=Buy&symbol=BTCUSDT" {
			t.Errorf("query=%s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"retCode":0,"result":{"orderId":"bb-1"}}`))
	})
	resp, err := c.PlaceOrder(context.Background(), common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy, Quantity: decimal.RequireFromString("0.01")})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if resp.OrderID != "bb-1" || resp.Status != common.StatusPending || resp.Timestamp != fixedMs {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestEnvelopeErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v5/order/cancel" {
			_, _ = w.Write([]byte(`{"retCode":110001,"retMsg":"order not exists"}`))
			return
		}
		_, _ = w.Write([]byte(`{"retCode":10003,"retMsg":"API key is invalid."}`))
	})
	if _, err := c.GetBalance(context.Background()); !common.IsCredentialError(err) {
		t.Fatalf("err=%v, expected CredentialError", err)
	}
	err := c.CancelOrder(context.Background(), "BTCUSDT", "x")
	var te *common.TransportError
	if !errors.As(err, &te) || te.Code != "110001" {
		t.Fatalf("err=%v, expected code 110001", err)
	}
}
