// Package bitget implements the Bitget connector (spot assets, USDT-M mix
// positions and orders).
package bitget

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"signal-trader/pkg/exchanges/common"
)

const (
	BaseURL = "https://api.bitget.com"

	productType = "umcbl"
	marginCoin  = "USDT"
	successCode = "00000"
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
	creds.Exchange = common.Bitget
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	opts = opts.WithDefaults(BaseURL)
	return &Client{
		creds: creds,
		http:  common.NewTransport(common.Bitget, opts, common.NewRateLimiter(10, 20, 0, time.Minute, opts.Logger)),
		log:   opts.Logger.WithField("exchange", common.Bitget),
		now:   opts.Now,
	}, nil
}

func (c *Client) Exchange() common.Exchange { return common.Bitget }

func (c *Client) ValidateCredentials(ctx context.Context) bool {
	return common.ValidateByBalance(ctx, c, c.log)
}

func (c *Client) GetBalance(ctx context.Context) ([]common.Balance, error) {
	var assets []struct {
		CoinName  string `json:"coinName"`
		Available string `json:"available"`
		Frozen    string `json:"frozen"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/spot/v1/account/assets", nil, &assets); err != nil {
		return nil, err
	}
	out := make([]common.Balance, 0, len(assets))
	for _, a := range assets {
		free, frozen := common.Dec(a.Available), common.Dec(a.Frozen)
		out = append(out, common.Balance{Asset: a.CoinName, Free: free, Locked: frozen, Total: free.Add(frozen)})
	}
	return out, nil
}

func (c *Client) GetPositions(ctx context.Context) ([]common.Position, error) {
	var list []struct {
		Symbol       string `json:"symbol"`
		HoldSide     string `json:"holdSide"`
		Total        string `json:"total"`
		AveragePrice string `json:"averageOpenPrice"`
		MarkPrice    string `json:"marketPrice"`
		UnrealizedPL string `json:"unrealizedPL"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/mix/v1/position/allPosition?productType="+productType, nil, &list); err != nil {
		return nil, err
	}
	out := make([]common.Position, 0, len(list))
	for _, p := range list {
		amt := common.Dec(p.Total)
		if amt.IsZero() {
			continue
		}
		if strings.EqualFold(p.HoldSide, "short") {
			amt = amt.Neg()
		}
		entry, upnl := common.Dec(p.AveragePrice), common.Dec(p.UnrealizedPL)
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

type placeOrderBody struct {
	Symbol      string `json:"symbol"`
	MarginCoin  string `json:"marginCoin"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Size        string `json:"size"`
	Price       string `json:"price,omitempty"`
	ProductType string `json:"productType"`
}

func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResponse, error) {
	req, err := req.Normalize()
	if err != nil {
		return common.OrderResponse{}, err
	}
	body := placeOrderBody{
		Symbol:      req.Symbol,
		MarginCoin:  marginCoin,
		Side:        strings.ToLower(string(req.Side)),
		OrderType:   strings.ToLower(string(req.Type)),
		Size:        req.Quantity.String(),
		ProductType: productType,
	}
	if req.Type == common.OrderTypeLimit {
		body.Price = req.Price.String()
	}
	var data struct {
		OrderID string `json:"orderId"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/mix/v1/order/placeOrder", body, &data); err != nil {
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
		Exchange:  common.Bitget,
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]string{
		"symbol":      strings.ToUpper(symbol),
		"marginCoin":  marginCoin,
		"orderId":     orderID,
		"productType": productType,
	}
	return c.call(ctx, http.MethodPost, "/api/mix/v1/order/cancel-order", body, nil)
}

// Sign returns the base64 signature of ts + method + requestPath + body.
func Sign(ts, method, requestPath, body, secret string) string {
	return common.SignBase64(secret, ts+method+requestPath+body)
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
	req.Header.Set("ACCESS-KEY", c.creds.APIKey)
	req.Header.Set("ACCESS-SIGN", Sign(ts, method, path, string(raw), c.creds.SecretKey))
	req.Header.Set("ACCESS-TIMESTAMP", ts)
	req.Header.Set("ACCESS-PASSPHRASE", c.creds.Passphrase)

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
	case "40002", "40003", "40006", "40009", "40012", "40037":
		return &common.CredentialError{Exchange: common.Bitget, Reason: env.Msg}
	default:
		return c.http.APIError(method, path, env.Code, env.Msg)
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	return c.http.Decode(method, path, env.Data, out)
}

var _ common.ExchangeClient = (*Client)(nil)
