// Package market turns exchange trade streams into cached prices and bus
// events, and answers "what is the price of X right now" for the engine.
package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick is the payload of events.EventPriceTick.
type Tick struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Time   time.Time       `json:"time"`
	Source string          `json:"source"`
}

// FeedDown is the payload of events.EventFeedDown.
type FeedDown struct {
	Symbols  []string `json:"symbols"`
	Attempts int      `json:"attempts"`
	Error    string   `json:"error,omitempty"`
}
