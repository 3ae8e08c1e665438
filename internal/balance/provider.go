// Package balance answers how much quote currency the engine may size
// positions against. Balances are read live on every call.
package balance

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"signal-trader/pkg/exchanges/common"
	"signal-trader/pkg/logging"
)

// Provider returns the free balance available for new positions.
type Provider interface {
	AvailableBalance(ctx context.Context) (decimal.Decimal, error)
}

// ExchangeBalance reads the free amount of Asset from an exchange client.
type ExchangeBalance struct {
	Client common.ExchangeClient
	Asset  string

	log logrus.FieldLogger
}

func NewExchangeBalance(client common.ExchangeClient, asset string, log logrus.FieldLogger) *ExchangeBalance {
	if asset == "" {
		asset = "USDT"
	}
	return &ExchangeBalance{
		Client: client,
		Asset:  strings.ToUpper(asset),
		log:    logging.OrDiscard(log).WithField("component", "balance"),
	}
}

func (b *ExchangeBalance) AvailableBalance(ctx context.Context) (decimal.Decimal, error) {
	if b.Client == nil {
		return decimal.Zero, &common.DataUnavailableError{Source: "balance", Symbol: b.Asset, Reason: "no exchange client"}
	}
	balances, err := b.Client.GetBalance(ctx)
	if err != nil {
		b.log.WithError(err).WithField("exchange", b.Client.Exchange()).Warn("balance fetch failed")
		return decimal.Zero, &common.DataUnavailableError{Source: "balance", Symbol: b.Asset, Reason: err.Error()}
	}
	for _, bal := range balances {
		if !strings.EqualFold(bal.Asset, b.Asset) {
			continue
		}
		if !bal.Free.IsPositive() {
			return decimal.Zero, &common.DataUnavailableError{Source: "balance", Symbol: b.Asset, Reason: "no free balance"}
		}
		return bal.Free, nil
	}
	return decimal.Zero, &common.DataUnavailableError{Source: "balance", Symbol: b.Asset, Reason: "asset not held"}
}

// Static is a fixed balance, for tests and tooling.
type Static decimal.Decimal

func (s Static) AvailableBalance(context.Context) (decimal.Decimal, error) {
	d := decimal.Decimal(s)
	if !d.IsPositive() {
		return decimal.Zero, &common.DataUnavailableError{Source: "balance", Reason: "static balance not positive"}
	}
	return d, nil
}
