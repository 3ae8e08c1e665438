package market

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"signal-trader/internal/events"
	"signal-trader/pkg/cache"
	"signal-trader/pkg/logging"
	"signal-trader/pkg/market/binance"
)

const (
	DefaultBaseDelay   = 3 * time.Second
	DefaultMaxAttempts = 5
)

// Backoff returns base * 2^(attempt-1) for attempt >= 1.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// Feed streams Binance aggTrades for Symbols into Cache and onto Bus.
type Feed struct {
	Stream      *binance.StreamClient
	Cache       *cache.PriceCache
	Bus         *events.Bus
	Symbols     []string
	BaseDelay   time.Duration
	MaxAttempts int

	log logrus.FieldLogger
}

func NewFeed(stream *binance.StreamClient, c *cache.PriceCache, bus *events.Bus, symbols []string, log logrus.FieldLogger) *Feed {
	return &Feed{
		Stream:      stream,
		Cache:       c,
		Bus:         bus,
		Symbols:     symbols,
		BaseDelay:   DefaultBaseDelay,
		MaxAttempts: DefaultMaxAttempts,
		log:         logging.OrDiscard(log).WithField("component", "market_feed"),
	}
}

// Start runs the feed in the background until ctx ends or reconnects are exhausted.
func (f *Feed) Start(ctx context.Context) {
	go f.Run(ctx)
}

// Run blocks. The attempt counter resets after every successful connect;
// once MaxAttempts consecutive reconnects fail it publishes EventFeedDown and
// returns.
func (f *Feed) Run(ctx context.Context) {
	if f.Stream == nil || f.Cache == nil || len(f.Symbols) == 0 {
		f.log.Warn("market feed not fully configured; skipping start")
		return
	}
	attempts := 0
	for {
		err := f.session(ctx, &attempts)
		if ctx.Err() != nil {
			return
		}
		if attempts >= f.MaxAttempts {
			f.log.WithError(err).WithField("attempts", attempts).Error("market feed giving up")
			if f.Bus != nil {
				down := FeedDown{Symbols: f.Symbols, Attempts: attempts}
				if err != nil {
					down.Error = err.Error()
				}
				f.Bus.Publish(events.EventFeedDown, down)
			}
			return
		}
		attempts++
		delay := Backoff(f.BaseDelay, attempts)
		f.log.WithError(err).WithFields(logrus.Fields{"attempt": attempts, "delay": delay}).Warn("market feed reconnecting")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (f *Feed) session(ctx context.Context, attempts *int) error {
	stream, err := f.Stream.SubscribeAggTrades(ctx, f.Symbols)
	if err != nil {
		return err
	}
	defer stream.Close()
	*attempts = 0
	f.log.WithField("symbols", f.Symbols).Info("market feed connected")

	for trade := range stream.C {
		at := time.UnixMilli(trade.TradeTime)
		if trade.TradeTime == 0 {
			at = time.Now()
		}
		f.Cache.SetAt(trade.Symbol, trade.Price, at)
		if f.Bus != nil {
			f.Bus.Publish(events.EventPriceTick, Tick{Symbol: trade.Symbol, Price: trade.Price, Time: at, Source: "binance"})
		}
	}
	if err := stream.Err(); err != nil {
		return err
	}
	return fmt.Errorf("stream closed")
}
