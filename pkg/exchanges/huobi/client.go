// Package huobi implements the Huobi spot connector. Only balance reads are
// wired; order placement and cancel report UnsupportedOperationError.
package huobi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"signal-trader/pkg/exchanges/common"
)

const (
	BaseURL = "https://api.huobi.pro"

	timestampLayout = "2006-01-02T15:04:05"
)

type Client struct {
	creds common.Credentials
	host  string
	http  *common.Transport
	log   logrus.FieldLogger
	now   func() time.Time
}

func New(creds common.Credentials, opts common.Options) (common.ExchangeClient, error) {
	return NewClient(creds, opts)
}

func NewClient(creds common.Credentials, opts common.Options) (*Client, error) {
	creds.Exchange = common.Huobi
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	opts = opts.WithDefaults(BaseURL)
	host, err := signingHost(opts.BaseURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		creds: creds,
		host:  host,
		http:  common.NewTransport(common.Huobi, opts, common.NewRateLimiter(10, 20, 0, time.Minute, opts.Logger)),
		log:   opts.Logger.WithField("exchange", common.Huobi),
		now:   opts.Now,
	}, nil
}

func (c *Client) Exchange() common.Exchange { return common.Huobi }

func (c *Client) SupportsPositions() bool { return false }

func (c *Client) ValidateCredentials(ctx context.Context) bool {
	return common.ValidateByBalance(ctx, c, c.log)
}

// GetBalance resolves the first account and folds its trade and frozen rows
// into one balance per currency.
func (c *Client) GetBalance(ctx context.Context) ([]common.Balance, error) {
	var accounts []struct {
		ID   int64  `json:"id"`
		Type string `json:"type"`
	}
	if err := c.call(ctx, http.MethodGet, "/v1/account/accounts", &accounts); err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return []common.Balance{}, nil
	}

	var balance struct {
		List []struct {
			Currency string `json:"currency"`
			Type     string `json:"type"`
			Balance  string `json:"balance"`
		} `json:"list"`
	}
	path := fmt.Sprintf("/v1/account/accounts/%d/balance", accounts[0].ID)
	if err := c.call(ctx, http.MethodGet, path, &balance); err != nil {
		return nil, err
	}

	index := make(map[string]int)
	out := make([]common.Balance, 0, len(balance.List))
	for _, row := range balance.List {
		i, ok := index[row.Currency]
		if !ok {
			i = len(out)
			index[row.Currency] = i
			out = append(out, common.Balance{Asset: row.Currency})
		}
		amount := common.Dec(row.Balance)
		if row.Type == "frozen" {
			out[i].Locked = out[i].Locked.Add(amount)
		} else {
			out[i].Free = out[i].Free.Add(amount)
		}
		out[i].Total = out[i].Free.Add(out[i].Locked)
	}
	return out, nil
}

func (c *Client) GetPositions(ctx context.Context) ([]common.Position, error) {
	return []common.Position{}, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResponse, error) {
	return common.OrderResponse{}, &common.UnsupportedOperationError{Exchange: common.Huobi, Operation: "placeOrder"}
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return &common.UnsupportedOperationError{Exchange: common.Huobi, Operation: "cancelOrder"}
}

// Sign returns the base64 signature of METHOD\nhost\npath\nsortedQuery.
func Sign(method, host, path, sortedQuery, secret string) string {
	return common.SignBase64(secret, method+"\n"+host+"\n"+path+"\n"+sortedQuery)
}

// signingHost is the lower-cased host[:port] of the configured endpoint; the
// signed payload must name the host the request is sent to.
func signingHost(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("huobi: invalid base url %q", baseURL)
	}
	return strings.ToLower(u.Host), nil
}

// SignedQuery injects the auth parameters, sorts and encodes them, and appends
// the Signature parameter.
func SignedQuery(method, host, path string, params url.Values, apiKey, secret string, now time.Time) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("AccessKeyId", apiKey)
	params.Set("SignatureMethod", "HmacSHA256")
	params.Set("SignatureVersion", "2")
	params.Set("Timestamp", now.UTC().Format(timestampLayout))
	sorted := params.Encode()
	return sorted + "&Signature=" + url.QueryEscape(Sign(method, host, path, sorted, secret))
}

func (c *Client) call(ctx context.Context, method, path string, out any) error {
	query := SignedQuery(method, c.host, path, nil, c.creds.APIKey, c.creds.SecretKey, c.now())
	body, err := c.http.Do(ctx, common.Request{Method: method, Path: path + "?" + query})
	if err != nil {
		return err
	}
	var env struct {
		Status  string          `json:"status"`
		ErrCode string          `json:"err-code"`
		ErrMsg  string          `json:"err-msg"`
		Data    json.RawMessage `json:"data"`
	}
	if err := c.http.Decode(method, path, body, &env); err != nil {
		return err
	}
	if env.Status != "ok" {
		switch env.ErrCode {
		case "api-signature-not-valid", "invalid-access-key", "api-key-invalid", "login-required":
			return &common.CredentialError{Exchange: common.Huobi, Reason: env.ErrMsg}
		}
		return c.http.APIError(method, path, env.ErrCode, env.ErrMsg)
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
