package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"signal-trader/internal/order"
	"signal-trader/pkg/db"
	"signal-trader/pkg/exchanges/common"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func trade(id, symbol string, at int64) order.TradeExecution {
	return order.TradeExecution{
		ID: id, Symbol: symbol, Action: common.SideBuy, Quantity: d("0.1"), EntryPrice: d("100"),
		StopLoss: d("98"), TakeProfit: d("105"), Leverage: 5, Status: order.StatusExecuted,
		ExecutedAt: time.UnixMilli(at),
	}
}

func newDurable(t *testing.T) *DurableStore {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return NewDurableStore(database, "u1", "instance-a", nil)
}

func stores(t *testing.T) map[string]OpenTradeStore {
	return map[string]OpenTradeStore{
		"memory":  NewMemoryStore(),
		"durable": newDurable(t),
	}
}

func TestStoreLifecycle(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Open(ctx, trade("t1", "BTCUSDT", 1000), 2); err != nil {
				t.Fatalf("Open t1: %v", err)
			}
			if err := s.Open(ctx, trade("t2", "BTCUSDT", 2000), 2); !errors.Is(err, ErrSymbolOpen) {
				t.Fatalf("err=%v, expected ErrSymbolOpen", err)
			}
			if err := s.Open(ctx, trade("t3", "ETHUSDT", 3000), 2); err != nil {
				t.Fatalf("Open t3: %v", err)
			}
			if err := s.Open(ctx, trade("t4", "SOLUSDT", 4000), 2); !errors.Is(err, ErrCapacity) {
				t.Fatalf("err=%v, expected ErrCapacity", err)
			}
			if n, _ := s.Count(ctx); n != 2 {
				t.Fatalf("Count=%d, expected 2", n)
			}

			got, ok, err := s.Get(ctx, "BTCUSDT")
			if err != nil || !ok || got.ID != "t1" {
				t.Fatalf("Get=%+v,%v,%v", got, ok, err)
			}

			closed, err := s.Close(ctx, "BTCUSDT", Closing{ExitPrice: d("110"), PnL: d("1"), Reason: "MANUAL", ClosedAt: time.UnixMilli(5000)})
			if err != nil {
				t.Fatalf("Close: %v", err)
			}
			if closed.Status != order.StatusClosed || !closed.PnL.Equal(d("1")) || !closed.ExitPrice.Equal(d("110")) {
				t.Fatalf("closed=%+v", closed)
			}
			if _, err := s.Close(ctx, "BTCUSDT", Closing{}); !errors.Is(err, ErrNotOpen) {
				t.Fatalf("err=%v, expected ErrNotOpen", err)
			}
			if _, ok, _ := s.Get(ctx, "BTCUSDT"); ok {
				t.Fatal("closed trade must leave the registry")
			}

			open, _ := s.List(ctx)
			if len(open) != 1 || open[0].ID != "t3" {
				t.Fatalf("List=%+v", open)
			}
			hist, _ := s.History(ctx)
			if len(hist) != 2 || hist[0].ID != "t1" || hist[0].Status != order.StatusClosed || hist[1].Status != order.StatusExecuted {
				t.Fatalf("History=%+v", hist)
			}

			if err := s.Open(ctx, trade("t5", "BTCUSDT", 6000), 2); err != nil {
				t.Fatalf("reopen after close: %v", err)
			}
		})
	}
}

func TestStoreCapacityUnderConcurrency(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const max = 3
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				admitted int
			)
			for i := 0; i < 12; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					err := s.Open(ctx, trade(fmt.Sprintf("t%d", i), fmt.Sprintf("SYM%dUSDT", i), int64(i)), max)
					if err == nil {
						mu.Lock()
						admitted++
						mu.Unlock()
					} else if !errors.Is(err, ErrCapacity) {
						t.Errorf("unexpected error: %v", err)
					}
				}(i)
			}
			wg.Wait()
			if admitted != max {
				t.Fatalf("admitted=%d, expected %d", admitted, max)
			}
			if n, _ := s.Count(ctx); n != max {
				t.Fatalf("Count=%d, expected %d", n, max)
			}
		})
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Open(ctx, trade("t1", "BTCUSDT", 1), 1)
	closed, _ := s.Close(ctx, "BTCUSDT", Closing{ExitPrice: d("1"), PnL: d("2"), ClosedAt: time.Unix(0, 0)})
	*closed.PnL = d("999")
	hist, _ := s.History(ctx)
	if !hist[0].PnL.Equal(d("2")) {
		t.Fatal("closed trade in history must be immutable")
	}
}
