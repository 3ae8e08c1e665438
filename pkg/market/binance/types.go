// Package binance reads public Binance spot market data: REST tickers and
// klines, and the combined aggTrade websocket stream.
package binance

import "github.com/shopspring/decimal"

// Kline is one candlestick. Indicator math runs on float64.
type Kline struct {
	Symbol      string
	OpenTime    int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	CloseTime   int64
	QuoteVolume float64
	Trades      int
}

// AggTrade is one aggregated trade from the <symbol>@aggTrade stream.
type AggTrade struct {
	ID        int64
	Symbol    string
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	TradeTime int64 // ms
	// BuyerMaker is true when the buyer was the resting order.
	BuyerMaker bool
}
