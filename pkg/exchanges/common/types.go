package common

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Exchange identifies a supported venue.
type Exchange string

const (
	Binance Exchange = "binance"
	Bybit   Exchange = "bybit"
	Bitget  Exchange = "bitget"
	KuCoin  Exchange = "kucoin"
	OKX     Exchange = "okx"
	Huobi   Exchange = "huobi"
)

// Exchanges lists every supported venue.
var Exchanges = []Exchange{Binance, Bybit, Bitget, KuCoin, OKX, Huobi}

// ParseExchange normalizes a user supplied exchange name.
func ParseExchange(s string) (Exchange, error) {
	e := Exchange(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Exchanges {
		if e == known {
			return e, nil
		}
	}
	return "", fmt.Errorf("unsupported exchange %q", s)
}

// RequiresPassphrase reports whether the venue signs with a passphrase.
func (e Exchange) RequiresPassphrase() bool {
	switch e {
	case OKX, Bitget, KuCoin:
		return true
	}
	return false
}

// Credentials holds API access for one exchange. SecretKey and Passphrase are
// never rendered by String, GoString or MarshalJSON.
type Credentials struct {
	Exchange   Exchange `json:"exchange"`
	APIKey     string   `json:"apiKey"`
	SecretKey  string   `json:"secretKey"`
	Passphrase string   `json:"passphrase,omitempty"`
}

// Validate checks that all fields the exchange signs with are present.
func (c Credentials) Validate() error {
	if c.APIKey == "" || c.SecretKey == "" {
		return &CredentialError{Exchange: c.Exchange, Reason: "API key and secret required"}
	}
	if c.Exchange.RequiresPassphrase() && c.Passphrase == "" {
		return &CredentialError{Exchange: c.Exchange, Reason: "passphrase required"}
	}
	return nil
}

func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{exchange=%s apiKey=%s}", c.Exchange, MaskKey(c.APIKey))
}

func (c Credentials) GoString() string { return c.String() }

func (c Credentials) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`{"exchange":%q,"apiKey":%q}`, c.Exchange, MaskKey(c.APIKey))), nil
}

// MaskKey keeps the first four characters of a key.
func MaskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts BUY/SELL in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	}
	return "", fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, s)
}

// Opposite returns the closing side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes the supported order types.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusOpen      OrderStatus = "OPEN"
	StatusFilled    OrderStatus = "FILLED"
	StatusPartial   OrderStatus = "PARTIALLY_FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
	StatusExpired   OrderStatus = "EXPIRED"
	StatusUnknown   OrderStatus = "UNKNOWN"
)

// OrderRequest captures an order intent to be sent to an exchange.
// A zero Price means no price; without a price the order is MARKET.
type OrderRequest struct {
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Type       OrderType       `json:"orderType"`
	Leverage   int             `json:"leverage,omitempty"`
	StopLoss   decimal.Decimal `json:"stopLoss"`
	TakeProfit decimal.Decimal `json:"takeProfit"`
}

// Normalize fills the implied order type and validates the request. It runs
// before any network call.
func (r OrderRequest) Normalize() (OrderRequest, error) {
	r.Symbol = strings.ToUpper(strings.TrimSpace(r.Symbol))
	if r.Symbol == "" {
		return r, fmt.Errorf("%w: symbol required", ErrInvalidOrder)
	}
	side, err := ParseSide(string(r.Side))
	if err != nil {
		return r, err
	}
	r.Side = side
	if !r.Quantity.IsPositive() {
		return r, fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	if r.Price.IsNegative() {
		return r, fmt.Errorf("%w: price must be positive", ErrInvalidOrder)
	}
	if r.Leverage < 0 {
		return r, fmt.Errorf("%w: leverage must be positive", ErrInvalidOrder)
	}
	switch OrderType(strings.ToUpper(string(r.Type))) {
	case "":
		r.Type = OrderTypeMarket
		if r.Price.IsPositive() {
			r.Type = OrderTypeLimit
		}
	case OrderTypeMarket:
		r.Type = OrderTypeMarket
	case OrderTypeLimit:
		r.Type = OrderTypeLimit
		if !r.Price.IsPositive() {
			return r, fmt.Errorf("%w: LIMIT order requires price", ErrInvalidOrder)
		}
	default:
		return r, fmt.Errorf("%w: unknown order type %q", ErrInvalidOrder, r.Type)
	}
	return r, nil
}

// HasPrice reports whether the request carries a limit price.
func (r OrderRequest) HasPrice() bool { return r.Price.IsPositive() }

// OrderResponse is the normalized exchange ack.
type OrderResponse struct {
	OrderID   string          `json:"orderId"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Status    OrderStatus     `json:"status"`
	Timestamp int64           `json:"timestamp"`
	Exchange  Exchange        `json:"exchange"`
}

// Balance is one asset of an account.
type Balance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
	Total  decimal.Decimal `json:"total"`
}

// NewBalanceFromTotal derives Locked as total-free. A negative difference is
// clamped to zero and reported through clamped.
func NewBalanceFromTotal(asset string, free, total decimal.Decimal) (b Balance, clamped bool) {
	locked := total.Sub(free)
	if locked.IsNegative() {
		locked = decimal.Zero
		clamped = true
	}
	return Balance{Asset: asset, Free: free, Locked: locked, Total: total}, clamped
}

// Position is an open derivatives position.
type Position struct {
	Symbol           string          `json:"symbol"`
	PositionAmt      decimal.Decimal `json:"positionAmt"`
	EntryPrice       decimal.Decimal `json:"entryPrice"`
	MarkPrice        decimal.Decimal `json:"markPrice"`
	UnrealizedProfit decimal.Decimal `json:"unRealizedProfit"`
	Percentage       decimal.Decimal `json:"percentage"`
}

var hundred = decimal.NewFromInt(100)

// PositionPercentage is unrealized P&L over notional at entry, in percent.
func PositionPercentage(upnl, amt, entry decimal.Decimal) decimal.Decimal {
	notional := amt.Abs().Mul(entry)
	if notional.IsZero() {
		return decimal.Zero
	}
	return upnl.Div(notional).Mul(hundred)
}

// Dec parses an exchange numeric string. Malformed numbers decode as zero.
func Dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
