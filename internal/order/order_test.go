package order

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"signal-trader/internal/events"
	"signal-trader/pkg/exchanges/common"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixedPrices map[string]decimal.Decimal

func (f fixedPrices) CurrentPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	p, ok := f[symbol]
	if !ok {
		return decimal.Zero, &common.DataUnavailableError{Source: "test", Symbol: symbol, Reason: "no price"}
	}
	return p, nil
}

func TestCalculatePnL(t *testing.T) {
	tests := []struct {
		name     string
		side     common.Side
		qty      string
		entry    string
		exit     string
		fee      string
		expected string
	}{
		{"buy profit", common.SideBuy, "0.5", "100", "110", "0", "5"},
		{"buy loss", common.SideBuy, "2", "100", "95", "0", "-10"},
		{"sell profit", common.SideSell, "1", "100", "90", "0", "10"},
		{"sell loss with fee", common.SideSell, "1", "100", "105", "0.1", "-5.1"},
		{"zero qty", common.SideBuy, "0", "100", "200", "1", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculatePnL(tt.side, d(tt.qty), d(tt.entry), d(tt.exit), d(tt.fee))
			if !got.Equal(d(tt.expected)) {
				t.Fatalf("CalculatePnL=%s, expected %s", got, tt.expected)
			}
		})
	}
}

func TestTradeRecordRoundTrip(t *testing.T) {
	pnl := d("12.5")
	exit := d("105")
	closed := time.UnixMilli(1700000100000).UTC()
	tr := TradeExecution{
		ID: "t1", Symbol: "BTCUSDT", Action: common.SideBuy, Quantity: d("0.1"), EntryPrice: d("100"),
		StopLoss: d("98"), TakeProfit: d("105"), Leverage: 5, ExecutedAt: time.UnixMilli(1700000000000).UTC(),
		OrderID: "o1", Status: StatusClosed, PnL: &pnl, ExitPrice: &exit, ClosedAt: &closed, CloseReason: "MANUAL",
	}
	rec := tr.ToRecord("u1")
	if rec.UserID != "u1" || rec.Status != "CLOSED" || rec.Action != "BUY" {
		t.Fatalf("record=%+v", rec)
	}
	back := FromRecord(rec)
	if back.ID != tr.ID || !back.PnL.Equal(pnl) || !back.ClosedAt.Equal(closed) || back.Status != StatusClosed {
		t.Fatalf("round trip=%+v", back)
	}
	*back.PnL = d("0")
	if !tr.PnL.Equal(d("12.5")) {
		t.Fatal("FromRecord must not alias pointer fields")
	}
}

type failingClient struct{ *PaperClient }

func (f *failingClient) PlaceOrder(ctx context.Context, _ common.OrderRequest) (common.OrderResponse, error) {
	<-ctx.Done()
	return common.OrderResponse{}, &common.TransportError{Exchange: common.Binance, Message: "timeout", Err: ctx.Err()}
}

func TestExecutorTimeoutPublishesFailure(t *testing.T) {
	bus := events.NewBus()
	failures, unsub := bus.Subscribe(events.EventOrderFailed, 1)
	defer unsub()

	exec := NewExecutor(20*time.Millisecond, bus, nil)
	client := &failingClient{PaperClient: NewPaperClient(common.Binance, fixedPrices{}, PaperConfig{}, nil)}
	_, err := exec.Submit(context.Background(), client, common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy, Quantity: d("1")})
	var te *common.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err=%v, expected TransportError", err)
	}
	select {
	case v := <-failures:
		if f, ok := v.(Failure); !ok || f.Request.Symbol != "BTCUSDT" {
			t.Fatalf("unexpected failure payload %#v", v)
		}
	default:
		t.Fatal("expected EventOrderFailed")
	}
}

func TestPaperClientRoundTrip(t *testing.T) {
	prices := fixedPrices{"BTCUSDT": d("100")}
	p := NewPaperClient(common.Bybit, prices, PaperConfig{InitialBalance: d("1000")}, nil)
	p.newID = func() string { return "paper-1" }
	ctx := context.Background()

	if !p.ValidateCredentials(ctx) {
		t.Fatal("paper account should validate")
	}
	resp, err := p.PlaceOrder(ctx, common.OrderRequest{Symbol: "btcusdt", Side: common.SideBuy, Quantity: d("2"), Leverage: 2})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	if resp.Status != common.StatusFilled || !resp.Price.Equal(d("100")) || resp.Exchange != common.Bybit || resp.OrderID != "paper-1" {
		t.Fatalf("resp=%+v", resp)
	}

	bal, _ := p.GetBalance(ctx)
	if !bal[0].Locked.Equal(d("100")) || !bal[0].Free.Equal(d("900")) {
		t.Fatalf("balance=%+v", bal[0])
	}

	prices["BTCUSDT"] = d("110")
	pos, _ := p.GetPositions(ctx)
	if len(pos) != 1 || !pos[0].UnrealizedProfit.Equal(d("20")) {
		t.Fatalf("positions=%+v", pos)
	}

	if _, err := p.PlaceOrder(ctx, common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideSell, Quantity: d("2")}); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	bal, _ = p.GetBalance(ctx)
	if !bal[0].Total.Equal(d("1020")) || !bal[0].Locked.IsZero() {
		t.Fatalf("balance after close=%+v", bal[0])
	}
	if pos, _ := p.GetPositions(ctx); len(pos) != 0 {
		t.Fatalf("expected flat book, got %+v", pos)
	}
}

func TestPaperClientRejects(t *testing.T) {
	p := NewPaperClient(common.Binance, fixedPrices{"BTCUSDT": d("100")}, PaperConfig{InitialBalance: d("50"), FeeRate: d("0.001")}, nil)
	ctx := context.Background()

	if _, err := p.PlaceOrder(ctx, common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy, Quantity: d("1")}); !errors.Is(err, ErrInsufficientMargin) {
		t.Fatalf("err=%v, expected ErrInsufficientMargin", err)
	}
	if _, err := p.PlaceOrder(ctx, common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy, Quantity: d("1"), Type: common.OrderTypeLimit}); !errors.Is(err, common.ErrInvalidOrder) {
		t.Fatalf("err=%v, expected ErrInvalidOrder", err)
	}
	if _, err := p.PlaceOrder(ctx, common.OrderRequest{Symbol: "ETHUSDT", Side: common.SideBuy, Quantity: d("0.01")}); !common.IsDataUnavailable(err) {
		t.Fatalf("err=%v, expected DataUnavailableError", err)
	}
	resp, err := p.PlaceOrder(ctx, common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideSell, Quantity: d("0.1"), Price: d("120")})
	if err != nil || !resp.Price.Equal(d("120")) {
		t.Fatalf("limit fill=%+v %v", resp, err)
	}
	bal, _ := p.GetBalance(ctx)
	if !bal[0].Total.Equal(d("49.988")) {
		t.Fatalf("Total=%s, expected 49.988 after fee", bal[0].Total)
	}
	if err := p.CancelOrder(ctx, "BTCUSDT", "x"); err == nil || !strings.Contains(err.Error(), "filled") {
		t.Fatalf("CancelOrder err=%v", err)
	}
}
