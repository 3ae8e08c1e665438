package db

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExchangeCredential is one user's encrypted API access for one exchange.
type ExchangeCredential struct {
	UserID              string
	Exchange            string
	APIKeyEncrypted     string
	SecretKeyEncrypted  string
	PassphraseEncrypted string
	KeyVersion          int
	IsActive            bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// TradeRecord is a persisted auto-trading execution. Zero-valued optional
// fields (PnL, ExitPrice, ClosedAt) mean "not set".
type TradeRecord struct {
	ID          string
	UserID      string
	Symbol      string
	Action      string
	Quantity    decimal.Decimal
	EntryPrice  decimal.Decimal
	StopLoss    decimal.Decimal
	TakeProfit  decimal.Decimal
	Leverage    int
	OrderID     string
	Status      string
	PnL         *decimal.Decimal
	ExitPrice   *decimal.Decimal
	CloseReason string
	ExecutedAt  time.Time
	ClosedAt    *time.Time
}

// OpenTradeRow is one admitted open trade, stamped with the owning instance.
type OpenTradeRow struct {
	UserID   string
	Symbol   string
	TradeID  string
	Owner    string
	OpenedAt time.Time
}
