package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

func TestQueriesRequireUserID(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	t.Run("GetCredential requires userID", func(t *testing.T) {
		if _, err := database.Credentials().GetCredential(ctx, "", "binance"); err != ErrUserIDRequired {
			t.Errorf("expected ErrUserIDRequired, got %v", err)
		}
	})
	t.Run("ListTrades requires userID", func(t *testing.T) {
		if _, err := database.Trades().ListTrades(ctx, "", 0); err != ErrUserIDRequired {
			t.Errorf("expected ErrUserIDRequired, got %v", err)
		}
	})
	t.Run("LoadConfig requires userID", func(t *testing.T) {
		if _, err := database.Configs().LoadConfig(ctx, ""); err != ErrUserIDRequired {
			t.Errorf("expected ErrUserIDRequired, got %v", err)
		}
	})
}

func TestCredentialUpsertAndIsolation(t *testing.T) {
	database := newTestDB(t)
	q := database.Credentials()
	ctx := context.Background()

	cred := ExchangeCredential{UserID: "u1", Exchange: "okx", APIKeyEncrypted: "ENC[v1]:a", SecretKeyEncrypted: "ENC[v1]:b", PassphraseEncrypted: "ENC[v1]:c"}
	if err := q.UpsertCredential(ctx, cred); err != nil {
		t.Fatalf("UpsertCredential: %v", err)
	}
	cred.SecretKeyEncrypted = "ENC[v1]:b2"
	if err := q.UpsertCredential(ctx, cred); err != nil {
		t.Fatalf("UpsertCredential (replace): %v", err)
	}

	got, err := q.GetCredential(ctx, "u1", "okx")
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	if got.SecretKeyEncrypted != "ENC[v1]:b2" || got.PassphraseEncrypted != "ENC[v1]:c" {
		t.Fatalf("got=%+v", got)
	}
	if _, err := q.GetCredential(ctx, "u2", "okx"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other user: expected ErrNotFound, got %v", err)
	}

	exchanges, err := q.ListExchanges(ctx, "u1")
	if err != nil || len(exchanges) != 1 || exchanges[0] != "okx" {
		t.Fatalf("exchanges=%v err=%v", exchanges, err)
	}
	if err := q.DeactivateCredential(ctx, "u1", "okx"); err != nil {
		t.Fatalf("DeactivateCredential: %v", err)
	}
	if _, err := q.GetCredential(ctx, "u1", "okx"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("after deactivate: expected ErrNotFound, got %v", err)
	}
}

func TestTradeHistoryRoundTrip(t *testing.T) {
	database := newTestDB(t)
	q := database.Trades()
	ctx := context.Background()
	executed := time.UnixMilli(1700000000000)

	rec := TradeRecord{
		ID: "t1", UserID: "u1", Symbol: "BTCUSDT", Action: "BUY",
		Quantity: decimal.RequireFromString("0.01"), EntryPrice: decimal.NewFromInt(50000),
		StopLoss: decimal.NewFromInt(49000), TakeProfit: decimal.NewFromInt(52500),
		Leverage: 5, OrderID: "o1", Status: "EXECUTED", ExecutedAt: executed,
	}
	if err := q.InsertTrade(ctx, rec); err != nil {
		t.Fatalf("InsertTrade: %v", err)
	}
	if err := q.AdmitOpenTrade(ctx, OpenTradeRow{UserID: "u1", Symbol: "BTCUSDT", TradeID: "t1", Owner: "node-a", OpenedAt: executed}, 5); err != nil {
		t.Fatalf("AdmitOpenTrade: %v", err)
	}
	if err := q.CloseTrade(ctx, "u1", "BTCUSDT", "t1", decimal.NewFromInt(51000), decimal.NewFromInt(10), "MANUAL", executed.Add(time.Hour)); err != nil {
		t.Fatalf("CloseTrade: %v", err)
	}

	trades, err := q.ListTrades(ctx, "u1", 0)
	if err != nil || len(trades) != 1 {
		t.Fatalf("trades=%v err=%v", trades, err)
	}
	got := trades[0]
	if got.Status != "CLOSED" || got.PnL == nil || !got.PnL.Equal(decimal.NewFromInt(10)) || got.ClosedAt == nil {
		t.Fatalf("got=%+v", got)
	}
	if !got.Quantity.Equal(rec.Quantity) || !got.ExecutedAt.Equal(executed) {
		t.Fatalf("quantity=%s executedAt=%v", got.Quantity, got.ExecutedAt)
	}

	if _, err := q.GetTrade(ctx, "u2", "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other user, got %v", err)
	}
	if open, _ := q.ListOpenTrades(ctx, "u1"); len(open) != 0 {
		t.Fatalf("open=%v, expected slot released", open)
	}
}

func TestCloseTradeIsAtomic(t *testing.T) {
	database := newTestDB(t)
	q := database.Trades()
	ctx := context.Background()
	executed := time.UnixMilli(1700000000000)

	rec := TradeRecord{
		ID: "t1", UserID: "u1", Symbol: "ETHUSDT", Action: "SELL",
		Quantity: decimal.RequireFromString("0.5"), EntryPrice: decimal.NewFromInt(2500),
		Status: "EXECUTED", ExecutedAt: executed,
	}
	if err := q.InsertTrade(ctx, rec); err != nil {
		t.Fatalf("InsertTrade: %v", err)
	}

	// No slot row: the history update must roll back.
	err := q.CloseTrade(ctx, "u1", "ETHUSDT", "t1", decimal.NewFromInt(2400), decimal.NewFromInt(50), "MANUAL", executed.Add(time.Minute))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, expected ErrNotFound", err)
	}
	got, err := q.GetTrade(ctx, "u1", "t1")
	if err != nil {
		t.Fatalf("GetTrade: %v", err)
	}
	if got.Status != "EXECUTED" || got.PnL != nil || got.ClosedAt != nil {
		t.Fatalf("trade=%+v, expected unchanged", got)
	}

	// A slot held by another trade id is not released.
	if err := q.AdmitOpenTrade(ctx, OpenTradeRow{UserID: "u1", Symbol: "ETHUSDT", TradeID: "t2", Owner: "node-a", OpenedAt: executed}, 5); err != nil {
		t.Fatalf("AdmitOpenTrade: %v", err)
	}
	if err := q.CloseTrade(ctx, "u1", "ETHUSDT", "t1", decimal.NewFromInt(2400), decimal.NewFromInt(50), "MANUAL", executed); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, expected ErrNotFound", err)
	}
	if open, _ := q.ListOpenTrades(ctx, "u1"); len(open) != 1 || open[0].TradeID != "t2" {
		t.Fatalf("open=%v, expected t2 slot kept", open)
	}
}

func TestAdmitOpenTrade(t *testing.T) {
	database := newTestDB(t)
	q := database.Trades()
	ctx := context.Background()
	row := func(symbol, id string) OpenTradeRow {
		return OpenTradeRow{UserID: "u1", Symbol: symbol, TradeID: id, Owner: "node-a", OpenedAt: time.Now()}
	}

	if err := q.AdmitOpenTrade(ctx, row("BTCUSDT", "t1"), 2); err != nil {
		t.Fatalf("first admit: %v", err)
	}
	if err := q.AdmitOpenTrade(ctx, row("BTCUSDT", "t2"), 2); !errors.Is(err, ErrSymbolOpen) {
		t.Fatalf("same symbol: expected ErrSymbolOpen, got %v", err)
	}
	if err := q.AdmitOpenTrade(ctx, row("ETHUSDT", "t3"), 2); err != nil {
		t.Fatalf("second symbol: %v", err)
	}
	if err := q.AdmitOpenTrade(ctx, row("SOLUSDT", "t4"), 2); !errors.Is(err, ErrCapacity) {
		t.Fatalf("over limit: expected ErrCapacity, got %v", err)
	}

	open, err := q.ListOpenTrades(ctx, "u1")
	if err != nil || len(open) != 2 || open[0].Owner != "node-a" {
		t.Fatalf("open=%v err=%v", open, err)
	}
	if err := q.ReleaseOpenTrade(ctx, "u1", "BTCUSDT"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := q.AdmitOpenTrade(ctx, row("SOLUSDT", "t4"), 2); err != nil {
		t.Fatalf("after release: %v", err)
	}
}

func TestConfigSaveLoad(t *testing.T) {
	database := newTestDB(t)
	q := database.Configs()
	ctx := context.Background()

	if _, err := q.LoadConfig(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := q.SaveConfig(ctx, "u1", `{"enabled":true}`); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	if err := q.SaveConfig(ctx, "u1", `{"enabled":false}`); err != nil {
		t.Fatalf("SaveConfig replace: %v", err)
	}
	got, err := q.LoadConfig(ctx, "u1")
	if err != nil || got != `{"enabled":false}` {
		t.Fatalf("got=%s err=%v", got, err)
	}
}
