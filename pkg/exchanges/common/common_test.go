package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"signal-trader/pkg/logging"
)

func TestSignGolden(t *testing.T) {
	payload := "symbol=BTCUSDT&timestamp=1700000000000"
	if got := SignHex("secret", payload); got != goldenHex {
		t.Fatalf("SignHex=%s, expected %s", got, goldenHex)
	}
	if got := SignBase64("secret", payload); got != goldenB64 {
		t.Fatalf("SignBase64=%s, expected %s", got, goldenB64)
	}
}

func TestCredentialsNeverRenderSecrets(t *testing.T) {
	c := Credentials{Exchange: OKX, APIKey: "abcdefgh", SecretKey: "topsecret", Passphrase: "pass-phrase"}
	b, _ := c.MarshalJSON()
	for _, out := range []string{c.String(), fmt.Sprintf("%v", c), fmt.Sprintf("%+v", c), fmt.Sprintf("%#v", c), string(b)} {
		if strings.Contains(out, "topsecret") || strings.Contains(out, "pass-phrase") {
			t.Fatalf("secret leaked in %q", out)
		}
	}
}

func TestCredentialsValidate(t *testing.T) {
	tests := []struct {
		name  string
		creds Credentials
		ok    bool
	}{
		{"binance complete", Credentials{Exchange: Binance, APIKey: "k", SecretKey: "s"}, true},
		{"missing secret", Credentials{Exchange: Binance, APIKey: "k"}, false},
		{"okx without passphrase", Credentials{Exchange: OKX, APIKey: "k", SecretKey: "s"}, false},
		{"kucoin with passphrase", Credentials{Exchange: KuCoin, APIKey: "k", SecretKey: "s", Passphrase: "p"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.creds.Validate()
			if (err == nil) != tt.ok {
				t.Fatalf("Validate()=%v, expected ok=%v", err, tt.ok)
			}
			if err != nil && !IsCredentialError(err) {
				t.Fatalf("expected CredentialError, got %T", err)
			}
		})
	}
}

func TestOrderRequestNormalize(t *testing.T) {
	d := decimal.RequireFromString
	tests := []struct {
		name     string
		req      OrderRequest
		wantType OrderType
		wantErr  bool
	}{
		{"no price is market", OrderRequest{Symbol: "btcusdt", Side: "buy", Quantity: d("0.1")}, OrderTypeMarket, false},
		{"price implies limit", OrderRequest{Symbol: "BTCUSDT", Side: SideSell, Quantity: d("1"), Price: d("100")}, OrderTypeLimit, false},
		{"limit without price", OrderRequest{Symbol: "BTCUSDT", Side: SideBuy, Quantity: d("1"), Type: OrderTypeLimit}, "", true},
		{"zero quantity", OrderRequest{Symbol: "BTCUSDT", Side: SideBuy}, "", true},
		{"unknown side", OrderRequest{Symbol: "BTCUSDT", Side: "HOLD", Quantity: d("1")}, "", true},
		{"empty symbol", OrderRequest{Side: SideBuy, Quantity: d("1")}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.req.Normalize()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidOrder) {
					t.Fatalf("err=%v, expected ErrInvalidOrder", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Type != tt.wantType {
				t.Fatalf("Type=%s, expected %s", got.Type, tt.wantType)
			}
			if got.Symbol != strings.ToUpper(got.Symbol) {
				t.Fatalf("symbol not normalized: %s", got.Symbol)
			}
		})
	}
}

func TestNewBalanceFromTotalClamps(t *testing.T) {
	b, clamped := NewBalanceFromTotal("USDT", decimal.NewFromInt(80), decimal.NewFromInt(100))
	if clamped || !b.Locked.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("locked=%s clamped=%v, expected 20 false", b.Locked, clamped)
	}
	b, clamped = NewBalanceFromTotal("USDT", decimal.NewFromInt(120), decimal.NewFromInt(100))
	if !clamped || !b.Locked.IsZero() {
		t.Fatalf("locked=%s clamped=%v, expected 0 true", b.Locked, clamped)
	}
}

func TestPositionPercentage(t *testing.T) {
	got := PositionPercentage(decimal.NewFromInt(50), decimal.NewFromInt(-2), decimal.NewFromInt(500))
	if !got.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("percentage=%s, expected 5", got)
	}
	if !PositionPercentage(decimal.NewFromInt(1), decimal.Zero, decimal.NewFromInt(1)).IsZero() {
		t.Fatal("expected zero percentage for zero notional")
	}
}

func TestTransportStatusMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth":
			w.WriteHeader(http.StatusUnauthorized)
		case "/boom":
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"msg":"upstream"}`))
		case "/slow":
			time.Sleep(200 * time.Millisecond)
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	tr := NewTransport(Binance, Options{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}.WithDefaults(""), nil)
	ctx := context.Background()

	if _, err := tr.Do(ctx, Request{Method: http.MethodGet, Path: "/ok?x=1"}); err != nil {
		t.Fatalf("ok: %v", err)
	}
	if _, err := tr.Do(ctx, Request{Method: http.MethodGet, Path: "/auth"}); !IsCredentialError(err) {
		t.Fatalf("auth: expected CredentialError, got %v", err)
	}

	_, err := tr.Do(ctx, Request{Method: http.MethodGet, Path: "/boom?signature=abc"})
	var te *TransportError
	if !errors.As(err, &te) || te.Status != http.StatusBadGateway || te.Endpoint != "/boom" {
		t.Fatalf("boom: unexpected error %v", err)
	}
	if strings.Contains(err.Error(), "signature") {
		t.Fatalf("query leaked into error: %v", err)
	}

	_, err = tr.Do(ctx, Request{Method: http.MethodGet, Path: "/slow"})
	if !errors.As(err, &te) || te.Message != "timeout" {
		t.Fatalf("slow: expected timeout, got %v", err)
	}
}

func TestRateLimiterUsage(t *testing.T) {
	rl := NewRateLimiter(100, 10, 1000, time.Minute, discardLog())
	rl.UpdateFromHeader("950")
	if !rl.ShouldDelay() {
		t.Fatal("expected delay at 95% usage")
	}
	rl.UpdateFromHeader("100")
	used, limit, _ := rl.GetUsage()
	if used != 100 || limit != 1000 {
		t.Fatalf("usage=%d/%d, expected 100/1000", used, limit)
	}
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestTimeSyncOffset(t *testing.T) {
	local := time.UnixMilli(1_000_000)
	ts := NewTimeSync(func(context.Context) (int64, error) { return 1_000_500, nil },
		func() time.Time { return local }, discardLog())
	if !ts.Stale() {
		t.Fatal("expected stale before first sync")
	}
	if err := ts.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if ts.Offset() != 500 || ts.Now() != 1_000_500 {
		t.Fatalf("offset=%d now=%d", ts.Offset(), ts.Now())
	}
	if ts.Stale() {
		t.Fatal("expected fresh after sync")
	}
}

const (
	goldenHex = "6244d11c958f45ac56733152cb3cb1831d23a2b3709b3a88b8b42a072aceb410"
	goldenB64 = "YkTRHJWPRaxWczFSyzyxgx0jorNwmzqIuLQqByrOtBA="
)

func discardLog() logrus.FieldLogger { return logging.Discard() }
