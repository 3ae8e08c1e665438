// Package binance implements the Binance USDT-M futures connector.
package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"signal-trader/pkg/exchanges/common"
)

const (
	BaseURL    = "https://fapi.binance.com"
	TestnetURL = "https://testnet.binancefuture.com"

	recvWindow   = "5000"
	weightHeader = "X-MBX-USED-WEIGHT-1M"
)

// Client handles Binance USDT-M futures.
type Client struct {
	creds    common.Credentials
	http     *common.Transport
	timeSync *common.TimeSync
	log      logrus.FieldLogger
	now      func() time.Time
}

// New creates a USDT-M futures client.
func New(creds common.Credentials, opts common.Options) (common.ExchangeClient, error) {
	return NewClient(creds, opts)
}

// NewClient is New returning the concrete type.
func NewClient(creds common.Credentials, opts common.Options) (*Client, error) {
	creds.Exchange = common.Binance
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	opts = opts.WithDefaults(BaseURL)
	// 2400 weight/min for futures
	limiter := common.NewRateLimiter(20, 40, 2400, time.Minute, opts.Logger)
	c := &Client{
		creds: creds,
		http:  common.NewTransport(common.Binance, opts, limiter),
		log:   opts.Logger.WithField("exchange", common.Binance),
		now:   opts.Now,
	}
	c.http.WeightHeader = weightHeader
	c.timeSync = common.NewTimeSync(c.GetServerTime, opts.Now, opts.Logger)
	return c, nil
}

func (c *Client) Exchange() common.Exchange { return common.Binance }

// ValidateCredentials reports whether a balance read succeeds.
func (c *Client) ValidateCredentials(ctx context.Context) bool {
	return common.ValidateByBalance(ctx, c, c.log)
}

// GetBalance returns futures wallet balances.
func (c *Client) GetBalance(ctx context.Context) ([]common.Balance, error) {
	const path = "/fapi/v2/account"
	body, err := c.doSigned(ctx, http.MethodGet, path, url.Values{})
	if err != nil {
		return nil, err
	}
	var info accountInfo
	if err := c.http.Decode(http.MethodGet, path, body, &info); err != nil {
		return nil, err
	}
	out := make([]common.Balance, 0, len(info.Assets))
	for _, a := range info.Assets {
		b, clamped := common.NewBalanceFromTotal(a.Asset, common.Dec(a.AvailableBalance), common.Dec(a.WalletBalance))
		if clamped {
			c.log.WithField("asset", a.Asset).Warn("available balance exceeds wallet balance, locked clamped to zero")
		}
		out = append(out, b)
	}
	return out, nil
}

// GetPositions returns non-zero positions from the position risk view.
func (c *Client) GetPositions(ctx context.Context) ([]common.Position, error) {
	const path = "/fapi/v2/positionRisk"
	body, err := c.doSigned(ctx, http.MethodGet, path, url.Values{})
	if err != nil {
		return nil, err
	}
	var risks []positionRisk
	if err := c.http.Decode(http.MethodGet, path, body, &risks); err != nil {
		return nil, err
	}
	out := make([]common.Position, 0, len(risks))
	for _, p := range risks {
		amt := common.Dec(p.PositionAmt)
		if amt.IsZero() {
			continue
		}
		entry := common.Dec(p.EntryPrice)
		upnl := common.Dec(p.UnRealizedProfit)
		out = append(out, common.Position{
			Symbol:           p.Symbol,
			PositionAmt:      amt,
			EntryPrice:       entry,
			MarkPrice:        common.Dec(p.MarkPrice),
			UnrealizedProfit: upnl,
			Percentage:       common.PositionPercentage(upnl, amt, entry),
		})
	}
	return out, nil
}

// PlaceOrder submits a MARKET or LIMIT order. Leverage, when set, is applied
// to the symbol first.
func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResponse, error) {
	req, err := req.Normalize()
	if err != nil {
		return common.OrderResponse{}, err
	}
	if req.Leverage > 0 {
		if err := c.SetLeverage(ctx, req.Symbol, req.Leverage); err != nil {
			return common.OrderResponse{}, err
		}
	}

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))
	params.Set("quantity", req.Quantity.String())
	if req.Type == common.OrderTypeLimit {
		params.Set("price", req.Price.String())
		params.Set("timeInForce", "GTC")
	}

	const path = "/fapi/v1/order"
	body, err := c.doSigned(ctx, http.MethodPost, path, params)
	if err != nil {
		return common.OrderResponse{}, err
	}
	var resp orderResp
	if err := c.http.Decode(http.MethodPost, path, body, &resp); err != nil {
		return common.OrderResponse{}, err
	}

	price := common.Dec(resp.Price)
	if !price.IsPositive() {
		price = common.Dec(resp.AvgPrice)
	}
	if !price.IsPositive() {
		price = req.Price
	}
	qty := common.Dec(resp.OrigQty)
	if !qty.IsPositive() {
		qty = req.Quantity
	}
	ts := resp.UpdateTime
	if ts == 0 {
		ts = c.now().UnixMilli()
	}
	return common.OrderResponse{
		OrderID:   resp.OrderID.String(),
		Symbol:    req.Symbol,
		Side:      req.Side,
		Quantity:  qty,
		Price:     price,
		Status:    mapStatus(resp.Status),
		Timestamp: ts,
		Exchange:  common.Binance,
	}, nil
}

// CancelOrder cancels an order by symbol and ID.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("orderId", orderID)
	_, err := c.doSigned(ctx, http.MethodDelete, "/fapi/v1/order", params)
	return err
}

// SetLeverage sets leverage for a symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	_, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/leverage", params)
	return err
}

// GetServerTime fetches futures server time.
func (c *Client) GetServerTime(ctx context.Context) (int64, error) {
	const path = "/fapi/v1/time"
	body, err := c.http.Do(ctx, common.Request{Method: http.MethodGet, Path: path})
	if err != nil {
		return 0, err
	}
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := c.http.Decode(http.MethodGet, path, body, &res); err != nil {
		return 0, err
	}
	return res.ServerTime, nil
}

// Sign returns the hex signature of an encoded query string.
func Sign(query, secret string) string {
	return common.SignHex(secret, query)
}

// doSigned handles signing and sending requests.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if c.timeSync.Stale() {
		if err := c.timeSync.Sync(ctx); err != nil {
			c.log.WithError(err).Warn("time sync failed, using local clock")
		}
	}
	params.Set("timestamp", strconv.FormatInt(c.timeSync.Now(), 10))
	params.Set("recvWindow", recvWindow)
	query := params.Encode()
	encoded := query + "&signature=" + Sign(query, c.creds.SecretKey)

	req := common.Request{Method: method, Header: http.Header{}}
	req.Header.Set("X-MBX-APIKEY", c.creds.APIKey)
	switch method {
	case http.MethodGet, http.MethodDelete:
		req.Path = path + "?" + encoded
	default:
		req.Path = path
		req.Body = []byte(encoded)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	body, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	var apiErr struct {
		Code *int   `json:"code"`
		Msg  string `json:"msg"`
	}
	if len(body) > 0 && body[0] == '{' && json.Unmarshal(body, &apiErr) == nil && apiErr.Code != nil && *apiErr.Code < 0 {
		return nil, c.http.APIError(method, path, strconv.Itoa(*apiErr.Code), apiErr.Msg)
	}
	return body, nil
}

type orderResp struct {
	Symbol     string      `json:"symbol"`
	OrderID    json.Number `json:"orderId"`
	Side       string      `json:"side"`
	OrigQty    string      `json:"origQty"`
	Price      string      `json:"price"`
	AvgPrice   string      `json:"avgPrice"`
	Status     string      `json:"status"`
	UpdateTime int64       `json:"updateTime"`
}

type accountInfo struct {
	Assets []struct {
		Asset            string `json:"asset"`
		WalletBalance    string `json:"walletBalance"`
		AvailableBalance string `json:"availableBalance"`
	} `json:"assets"`
}

type positionRisk struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
}

func mapStatus(s string) common.OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW":
		return common.StatusOpen
	case "PARTIALLY_FILLED":
		return common.StatusPartial
	case "FILLED":
		return common.StatusFilled
	case "CANCELED":
		return common.StatusCancelled
	case "REJECTED":
		return common.StatusRejected
	case "EXPIRED":
		return common.StatusExpired
	default:
		return common.StatusUnknown
	}
}

var _ common.ExchangeClient = (*Client)(nil)
