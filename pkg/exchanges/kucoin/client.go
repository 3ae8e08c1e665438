// Package kucoin implements the KuCoin spot connector. Positions and cancel
// are not wired for this venue.
package kucoin

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"signal-trader/pkg/exchanges/common"
)

const (
	BaseURL = "https://api.kucoin.com"

	successCode = "200000"
)

type Client struct {
	creds common.Credentials
	http  *common.Transport
	log   logrus.FieldLogger
	now   func() time.Time
	newID func() string
}

func New(creds common.Credentials, opts common.Options) (common.ExchangeClient, error) {
	return NewClient(creds, opts)
}

func NewClient(creds common.Credentials, opts common.Options) (*Client, error) {
	creds.Exchange = common.KuCoin
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	opts = opts.WithDefaults(BaseURL)
	return &Client{
		creds: creds,
		http:  common.NewTransport(common.KuCoin, opts, common.NewRateLimiter(10, 20, 0, time.Minute, opts.Logger)),
		log:   opts.Logger.WithField("exchange", common.KuCoin),
		now:   opts.Now,
		newID: uuid.NewString,
	}, nil
}

func (c *Client) Exchange() common.Exchange { return common.KuCoin }

func (c *Client) SupportsPositions() bool { return false }

func (c *Client) ValidateCredentials(ctx context.Context) bool {
	return common.ValidateByBalance(ctx, c, c.log)
}

// GetBalance returns the trade accounts only.
func (c *Client) GetBalance(ctx context.Context) ([]common.Balance, error) {
	var accounts []struct {
		Currency  string `json:"currency"`
		Type      string `json:"type"`
		Balance   string `json:"balance"`
		Available string `json:"available"`
		Holds     string `json:"holds"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/accounts", nil, &accounts); err != nil {
		return nil, err
	}
	out := make([]common.Balance, 0, len(accounts))
	for _, a := range accounts {
		if a.Type != "trade" {
			continue
		}
		out = append(out, common.Balance{
			Asset:  a.Currency,
			Free:   common.Dec(a.Available),
			Locked: common.Dec(a.Holds),
			Total:  common.Dec(a.Balance),
		})
	}
	return out, nil
}

func (c *Client) GetPositions(ctx context.Context) ([]common.Position, error) {
	return []common.Position{}, nil
}

type orderBody struct {
	ClientOid string `json:"clientOid"`
	Side      string `json:"side"`
	Symbol    string `json:"symbol"`
	Type      string `json:"type"`
	Size      string `json:"size"`
	Price     string `json:"price,omitempty"`
}

func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResponse, error) {
	req, err := req.Normalize()
	if err != nil {
		return common.OrderResponse{}, err
	}
	body := orderBody{
		ClientOid: c.newID(),
		Side:      strings.ToLower(string(req.Side)),
		Symbol:    req.Symbol,
		Type:      strings.ToLower(string(req.Type)),
		Size:      req.Quantity.String(),
	}
	if req.Type == common.OrderTypeLimit {
		body.Price = req.Price.String()
	}
	var data struct {
		OrderID string `json:"orderId"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/v1/orders", body, &data); err != nil {
		return common.OrderResponse{}, err
	}
	return common.OrderResponse{
		OrderID:   data.OrderID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Quantity:  req.Quantity,
		Price:     req.Price,
		Status:    common.StatusPending,
		Timestamp: c.now().UnixMilli(),
		Exchange:  common.KuCoin,
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return &common.UnsupportedOperationError{Exchange: common.KuCoin, Operation: "cancelOrder"}
}

// Sign returns the base64 signature of ts + method + endpoint + body.
func Sign(ts, method, endpoint, body, secret string) string {
	return common.SignBase64(secret, ts+method+endpoint+body)
}

func (c *Client) call(ctx context.Context, method, path string, payload any, out any) error {
	var raw []byte
	if payload != nil {
		var err error
		if raw, err = json.Marshal(payload); err != nil {
			return err
		}
	}
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)

	req := common.Request{Method: method, Path: path, Body: raw, Header: http.Header{}}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("KC-API-SIGN", Sign(ts, method, path, string(raw), c.creds.SecretKey))
	req.Header.Set("KC-API-TIMESTAMP", ts)
	req.Header.Set("KC-API-KEY", c.creds.APIKey)
	req.Header.Set("KC-API-PASSPHRASE", c.creds.Passphrase)

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
	case successCode:
	case "400001", "400002", "400003", "400004", "400005", "411100":
		return &common.CredentialError{Exchange: common.KuCoin, Reason: env.Msg}
	default:
		return c.http.APIError(method, path, env.Code, env.Msg)
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	return c.http.Decode(method, path, env.Data, out)
}

var (
	_ common.ExchangeClient   = (*Client)(nil)
	_ common.PositionReporter = (*Client)(nil)
)
