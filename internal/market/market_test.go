package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"signal-trader/internal/events"
	"signal-trader/pkg/cache"
	"signal-trader/pkg/exchanges/common"
	"signal-trader/pkg/market/binance"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 3 * time.Second},
		{1, 3 * time.Second},
		{2, 6 * time.Second},
		{3, 12 * time.Second},
		{5, 48 * time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(DefaultBaseDelay, tt.attempt); got != tt.want {
			t.Fatalf("Backoff(%d)=%v, expected %v", tt.attempt, got, tt.want)
		}
	}
}

type stubTicker struct {
	price decimal.Decimal
	err   error
	calls int
}

func (s *stubTicker) TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	s.calls++
	return s.price, s.err
}

func TestPricesCurrentPrice(t *testing.T) {
	c := cache.NewPriceCache()
	rest := &stubTicker{price: decimal.NewFromInt(101)}
	p := NewPrices(c, rest, time.Minute, nil)

	c.Set("BTCUSDT", decimal.NewFromInt(100))
	got, err := p.CurrentPrice(context.Background(), "btcusdt")
	if err != nil || !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("price=%s err=%v, expected cached 100", got, err)
	}
	if rest.calls != 0 {
		t.Fatalf("rest calls=%d, expected 0", rest.calls)
	}

	got, err = p.CurrentPrice(context.Background(), "ETHUSDT")
	if err != nil || !got.Equal(decimal.NewFromInt(101)) {
		t.Fatalf("price=%s err=%v, expected rest 101", got, err)
	}
	if q, ok := c.Get("ETHUSDT"); !ok || !q.Price.Equal(decimal.NewFromInt(101)) {
		t.Fatal("expected REST price to refresh cache")
	}
}

func TestPricesStaleFallsBackToREST(t *testing.T) {
	c := cache.NewPriceCache()
	c.SetAt("BTCUSDT", decimal.NewFromInt(100), time.Now().Add(-time.Hour))
	rest := &stubTicker{price: decimal.NewFromInt(105)}
	p := NewPrices(c, rest, time.Minute, nil)

	got, err := p.CurrentPrice(context.Background(), "BTCUSDT")
	if err != nil || !got.Equal(decimal.NewFromInt(105)) {
		t.Fatalf("price=%s err=%v, expected 105", got, err)
	}
}

func TestPricesUnavailable(t *testing.T) {
	tests := []struct {
		name string
		rest TickerSource
	}{
		{"no rest", nil},
		{"rest error", &stubTicker{err: errors.New("boom")}},
		{"rest zero", &stubTicker{price: decimal.Zero}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPrices(cache.NewPriceCache(), tt.rest, time.Minute, nil)
			_, err := p.CurrentPrice(context.Background(), "BTCUSDT")
			if !common.IsDataUnavailable(err) {
				t.Fatalf("err=%v, expected DataUnavailableError", err)
			}
		})
	}
}

func TestFeedGivesUpAndPublishesFeedDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	bus := events.NewBus()
	down, unsub := bus.Subscribe(events.EventFeedDown, 1)
	defer unsub()

	f := NewFeed(binance.NewStreamClient(wsURL, nil), cache.NewPriceCache(), bus, []string{"BTCUSDT"}, nil)
	f.BaseDelay = time.Millisecond
	f.MaxAttempts = 3

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f.Run(ctx)

	select {
	case msg := <-down:
		fd, ok := msg.(FeedDown)
		if !ok || fd.Attempts != 3 {
			t.Fatalf("payload=%#v, expected FeedDown with 3 attempts", msg)
		}
	default:
		t.Fatal("expected EventFeedDown")
	}
}

func TestFeedWritesCacheAndPublishesTicks(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"stream":"btcusdt@aggTrade","data":{"e":"aggTrade","a":1,"s":"BTCUSDT","p":"42000.5","q":"1","T":1700000000000,"m":false}}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	bus := events.NewBus()
	ticks, unsub := bus.Subscribe(events.EventPriceTick, 4)
	defer unsub()

	c := cache.NewPriceCache()
	f := NewFeed(binance.NewStreamClient("ws"+strings.TrimPrefix(srv.URL, "http"), nil), c, bus, []string{"BTCUSDT"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)

	select {
	case msg := <-ticks:
		tick := msg.(Tick)
		if tick.Symbol != "BTCUSDT" || tick.Price.String() != "42000.5" {
			t.Fatalf("tick=%+v", tick)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for tick")
	}
	q, ok := c.Get("BTCUSDT")
	if !ok || q.Price.String() != "42000.5" {
		t.Fatalf("cache=%+v ok=%v", q, ok)
	}
}

func TestMockFeedSeedsCache(t *testing.T) {
	c := cache.NewPriceCache()
	m := NewMockFeed(c, nil, []string{"BTCUSDT", "FOOUSDT"}, nil)
	m.StartPrices = map[string]decimal.Decimal{"FOOUSDT": decimal.NewFromInt(7)}
	m.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	if q, ok := c.Get("BTCUSDT"); !ok || !q.Price.Equal(decimal.NewFromInt(43000)) {
		t.Fatalf("BTCUSDT=%+v ok=%v", q, ok)
	}
	if q, ok := c.Get("FOOUSDT"); !ok || !q.Price.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("FOOUSDT=%+v ok=%v", q, ok)
	}
}

func TestMockFeedStepStaysPositive(t *testing.T) {
	m := NewMockFeed(cache.NewPriceCache(), nil, nil, nil)
	p := decimal.NewFromInt(100)
	for i := 0; i < 1000; i++ {
		p = m.step(p)
		if !p.IsPositive() {
			t.Fatalf("price=%s at step %d", p, i)
		}
	}
}
