package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"signal-trader/pkg/exchanges/common"
)

const DefaultRESTURL = "https://api.binance.com"

// Client reads public REST market data.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient builds a client; an empty baseURL selects production.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultRESTURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTPClient: &http.Client{Timeout: timeout}}
}

// TickerPrice returns the last traded price of symbol.
func (c *Client) TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	body, err := c.get(ctx, "/api/v3/ticker/price", url.Values{"symbol": {strings.ToUpper(symbol)}})
	if err != nil {
		return decimal.Zero, err
	}
	var resp struct {
		Symbol string          `json:"symbol"`
		Price  decimal.Decimal `json:"price"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("decode ticker price: %w", err)
	}
	if !resp.Price.IsPositive() {
		return decimal.Zero, &common.DataUnavailableError{Source: "binance_rest", Symbol: symbol, Reason: "non-positive price"}
	}
	return resp.Price, nil
}

// Klines fetches the most recent candles. limit <= 0 uses the venue default.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("interval", interval)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.get(ctx, "/api/v3/klines", params)
	if err != nil {
		return nil, err
	}

	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	klines := make([]Kline, 0, len(raw))
	for _, item := range raw {
		if len(item) < 9 {
			continue
		}
		klines = append(klines, Kline{
			Symbol:      strings.ToUpper(symbol),
			OpenTime:    rawInt(item[0]),
			Open:        rawFloat(item[1]),
			High:        rawFloat(item[2]),
			Low:         rawFloat(item[3]),
			Close:       rawFloat(item[4]),
			Volume:      rawFloat(item[5]),
			CloseTime:   rawInt(item[6]),
			QuoteVolume: rawFloat(item[7]),
			Trades:      int(rawInt(item[8])),
		})
	}
	return klines, nil
}

// ServerTime returns Binance server time in milliseconds.
func (c *Client) ServerTime(ctx context.Context) (int64, error) {
	body, err := c.get(ctx, "/api/v3/time", nil)
	if err != nil {
		return 0, err
	}
	var resp struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode server time: %w", err)
	}
	return resp.ServerTime, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &common.TransportError{Exchange: common.Binance, Method: http.MethodGet, Endpoint: path, Message: "request failed", Err: err}
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode >= 300 {
		return nil, &common.TransportError{Exchange: common.Binance, Method: http.MethodGet, Endpoint: path, Status: res.StatusCode, Message: common.Snippet(body)}
	}
	return body, nil
}

func rawFloat(m json.RawMessage) float64 {
	s := strings.Trim(string(m), `"`)
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func rawInt(m json.RawMessage) int64 {
	s := strings.Trim(string(m), `"`)
	i, _ := strconv.ParseInt(s, 10, 64)
	return i
}
