// Package bybit implements the Bybit v5 linear connector.
package bybit

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
	BaseURL = "https://api.bybit.com"

	recvWindow = "5000"
)

// Client talks to Bybit v5. Parameters travel in the query string for every
// method and the signed payload is timestamp + key + recv window + query.
type Client struct {
	creds common.Credentials
	http  *common.Transport
	log   logrus.FieldLogger
	now   func() time.Time
}

func New(creds common.Credentials, opts common.Options) (common.ExchangeClient, error) {
	return NewClient(creds, opts)
}

func NewClient(creds common.Credentials, opts common.Options) (*Client, error) {
	creds.Exchange = common.Bybit
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	opts = opts.WithDefaults(BaseURL)
	return &Client{
		creds: creds,
		http:  common.NewTransport(common.Bybit, opts, common.NewRateLimiter(10, 20, 0, time.Minute, opts.Logger)),
		log:   opts.Logger.WithField("exchange", common.Bybit),
		now:   opts.Now,
	}, nil
}

func (c *Client) Exchange() common.Exchange { return common.Bybit }

func (c *Client) ValidateCredentials(ctx context.Context) bool {
	return common.ValidateByBalance(ctx, c, c.log)
}

func (c *Client) GetBalance(ctx context.Context) ([]common.Balance, error) {
	params := url.Values{}
	params.Set("accountType", "UNIFIED")
	var result struct {
		List []struct {
			Coin []struct {
				Coin                string `json:"coin"`
				WalletBalance       string `json:"walletBalance"`
				AvailableToWithdraw string `json:"availableToWithdraw"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := c.call(ctx, http.MethodGet, "/v5/account/wallet-balance", params, &result); err != nil {
		return nil, err
	}
	if len(result.List) == 0 {
		return []common.Balance{}, nil
	}
	out := make([]common.Balance, 0, len(result.List[0].Coin))
	for _, coin := range result.List[0].Coin {
		b, clamped := common.NewBalanceFromTotal(coin.Coin, common.Dec(coin.AvailableToWithdraw), common.Dec(coin.WalletBalance))
		if clamped {
			c.log.WithField("asset", coin.Coin).Warn("available balance exceeds wallet balance, locked clamped to zero")
		}
		out = append(out, b)
	}
	return out, nil
}

func (c *Client) GetPositions(ctx context.Context) ([]common.Position, error) {
	params := url.Values{}
	params.Set("category", "linear")
	params.Set("settleCoin", "USDT")
	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			MarkPrice     string `json:"markPrice"`
			UnrealizedPnl string `json:"unrealisedPnl"`
		} `json:"list"`
	}
	if err := c.call(ctx, http.MethodGet, "/v5/position/list", params, &result); err != nil {
		return nil, err
	}
	out := make([]common.Position, 0, len(result.List))
	for _, p := range result.List {
		amt := common.Dec(p.Size)
		if amt.IsZero() {
			continue
		}
		if strings.EqualFold(p.Side, "Sell") {
			amt = amt.Neg()
		}
		entry := common.Dec(p.AvgPrice)
		upnl := common.Dec(p.UnrealizedPnl)
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

func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResponse, error) {
	req, err := req.Normalize()
	if err != nil {
		return common.OrderResponse{}, err
	}
	params := url.Values{}
	params.Set("category", "linear")
	params.Set("symbol", req.Symbol)
	params.Set("side", titleCase(string(req.Side)))
	params.Set("orderType", titleCase(string(req.Type)))
	params.Set("qty", req.Quantity.String())
	if req.Type == common.OrderTypeLimit {
		params.Set("price", req.Price.String())
	}

	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := c.call(ctx, http.MethodPost, "/v5/order/create", params, &result); err != nil {
		return common.OrderResponse{}, err
	}
	return common.OrderResponse{
		OrderID:   result.OrderID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Quantity:  req.Quantity,
		Price:     req.Price,
		Status:    common.StatusPending,
		Timestamp: c.now().UnixMilli(),
		Exchange:  common.Bybit,
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("category", "linear")
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("orderId", orderID)
	return c.call(ctx, http.MethodPost, "/v5/order/cancel", params, nil)
}

// Sign returns the hex signature of ts + apiKey + recvWindow + query.
func Sign(ts, apiKey, query, secret string) string {
	return common.SignHex(secret, ts+apiKey+recvWindow+query)
}

// call signs params, sends them and unwraps the v5 envelope into out.
func (c *Client) call(ctx context.Context, method, path string, params url.Values, out any) error {
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	query := params.Encode()

	req := common.Request{Method: method, Path: path, Header: http.Header{}}
	if query != "" {
		req.Path += "?" + query
	}
	req.Header.Set("X-BAPI-SIGN", Sign(ts, c.creds.APIKey, query, c.creds.SecretKey))
	req.Header.Set("X-BAPI-API-KEY", c.creds.APIKey)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)

	body, err := c.http.Do(ctx, req)
	if err != nil {
		return err
	}
	var env struct {
		RetCode int             `json:"retCode"`
		RetMsg  string          `json:"retMsg"`
		Result  json.RawMessage `json:"result"`
	}
	if err := c.http.Decode(method, path, body, &env); err != nil {
		return err
	}
	switch env.RetCode {
	case 0:
	case 10003, 10004, 10005, 33004:
		return &common.CredentialError{Exchange: common.Bybit, Reason: env.RetMsg}
	default:
		return c.http.APIError(method, path, strconv.Itoa(env.RetCode), env.RetMsg)
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	return c.http.Decode(method, path, env.Result, out)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

var _ common.ExchangeClient = (*Client)(nil)
