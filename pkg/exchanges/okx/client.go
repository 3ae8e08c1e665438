// Package okx implements the OKX v5 connector (cash trading). Positions and
// cancel are not wired for this venue.
package okx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"signal-trader/pkg/exchanges/common"
)

const (
	BaseURL = "https://www.okx.com"

	isoMillis = "2006-01-02T15:04:05.000Z"
)

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
	creds.Exchange = common.OKX
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	opts = opts.WithDefaults(BaseURL)
	return &Client{
		creds: creds,
		http:  common.NewTransport(common.OKX, opts, common.NewRateLimiter(10, 20, 0, time.Minute, opts.Logger)),
		log:   opts.Logger.WithField("exchange", common.OKX),
		now:   opts.Now,
	}, nil
}

func (c *Client) Exchange() common.Exchange { return common.OKX }

func (c *Client) SupportsPositions() bool { return false }

func (c *Client) ValidateCredentials(ctx context.Context) bool {
	return common.ValidateByBalance(ctx, c, c.log)
}

// GetBalance reads the first account's per-currency details. Total is cash
// plus frozen balance.
func (c *Client) GetBalance(ctx context.Context) ([]common.Balance, error) {
	var data []struct {
		Details []struct {
			Ccy       string `json:"ccy"`
			AvailBal  string `json:"availBal"`
			FrozenBal string `json:"frozenBal"`
			CashBal   string `json:"cashBal"`
		} `json:"details"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v5/account/balance", nil, &data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return []common.Balance{}, nil
	}
	out := make([]common.Balance, 0, len(data[0].Details))
	for _, d := range data[0].Details {
		frozen := common.Dec(d.FrozenBal)
		out = append(out, common.Balance{
			Asset:  d.Ccy,
			Free:   common.Dec(d.AvailBal),
			Locked: frozen,
			Total:  common.Dec(d.CashBal).Add(frozen),
		})
	}
	return out, nil
}

func (c *Client) GetPositions(ctx context.Context) ([]common.Position, error) {
	return []common.Position{}, nil
}

type orderBody struct {
	InstID  string `json:"instId"`
	TdMode  string `json:"tdMode"`
	Side    string `json:"side"`
	OrdType string `json:"ordType"`
	Sz      string `json:"sz"`
	Px      string `json:"px,omitempty"`
}

func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResponse, error) {
	req, err := req.Normalize()
	if err != nil {
		return common.OrderResponse{}, err
	}
	body := orderBody{
		InstID:  req.Symbol,
		TdMode:  "cash",
		Side:    strings.ToLower(string(req.Side)),
		OrdType: strings.ToLower(string(req.Type)),
		Sz:      req.Quantity.String(),
	}
	if req.Type == common.OrderTypeLimit {
		body.Px = req.Price.String()
	}
	var data []struct {
		OrdID string `json:"ordId"`
		SCode string `json:"sCode"`
		SMsg  string `json:"sMsg"`
	}
	const path = "/api/v5/trade/order"
	if err := c.call(ctx, http.MethodPost, path, body, &data); err != nil {
		return common.OrderResponse{}, err
	}
	if len(data) == 0 {
		return common.OrderResponse{}, c.http.APIError(http.MethodPost, path, "", "empty order ack")
	}
	if data[0].SCode != "" && data[0].SCode != "0" {
		return common.OrderResponse{}, c.http.APIError(http.MethodPost, path, data[0].SCode, data[0].SMsg)
	}
	return common.OrderResponse{
		OrderID:   data[0].OrdID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Quantity:  req.Quantity,
		Price:     req.Price,
		Status:    common.StatusPending,
		Timestamp: c.now().UnixMilli(),
		Exchange:  common.OKX,
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return &common.UnsupportedOperationError{Exchange: common.OKX, Operation: "cancelOrder"}
}

// Sign returns the base64 signature of isoTs + method + requestPath + body.
func Sign(isoTs, method, requestPath, body, secret string) string {
	return common.SignBase64(secret, isoTs+method+requestPath+body)
}

func (c *Client) call(ctx context.Context, method, path string, payload any, out any) error {
	var raw []byte
	if payload != nil {
		var err error
		if raw, err = json.Marshal(payload); err != nil {
			return err
		}
	}
	ts := c.now().UTC().Format(isoMillis)

	req := common.Request{Method: method, Path: path, Body: raw, Header: http.Header{}}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OK-ACCESS-KEY", c.creds.APIKey)
	req.Header.Set("OK-ACCESS-SIGN", Sign(ts, method, path, string(raw), c.creds.SecretKey))
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.creds.Passphrase)

	body, err := c.http.Do(ctx, req)
	if err != nil {
		return err
	}
	var env struct {
		Code string          `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := c.http.Decode(method, path, body, &env); err != nil {
		return err
	}
	switch env.Code {
	case "0":
	case "50101", "50102", "50103", "50104", "50105", "50111", "50113":
		return &common.CredentialError{Exchange: common.OKX, Reason: env.Msg}
	default:
		// Batch-style failures carry per-item codes in data.
		if out != nil && len(env.Data) > 0 && env.Code == "1" {
			if err := c.http.Decode(method, path, env.Data, out); err == nil {
				return nil
			}
		}
		return c.http.APIError(method, path, env.Code, env.Msg)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return c.http.Decode(method, path, env.Data, out)
}

var (
	_ common.ExchangeClient   = (*Client)(nil)
	_ common.PositionReporter = (*Client)(nil)
)
