package common

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"signal-trader/pkg/logging"
)

// ExchangeClient is the uniform surface every venue implements.
type ExchangeClient interface {
	Exchange() Exchange
	// ValidateCredentials is true iff GetBalance succeeds with at least one
	// asset. It never returns an error.
	ValidateCredentials(ctx context.Context) bool
	GetBalance(ctx context.Context) ([]Balance, error)
	// GetPositions filters out zero-size positions.
	GetPositions(ctx context.Context) ([]Position, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResponse, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
}

// PositionReporter is implemented by clients whose GetPositions always
// returns an empty list because the venue integration has no positions read.
type PositionReporter interface {
	SupportsPositions() bool
}

// SupportsPositions distinguishes "no open positions" from "not wired".
func SupportsPositions(c ExchangeClient) bool {
	if p, ok := c.(PositionReporter); ok {
		return p.SupportsPositions()
	}
	return true
}

// Factory builds a client for validated credentials.
type Factory func(creds Credentials, opts Options) (ExchangeClient, error)

// DefaultTimeout bounds each exchange call.
const DefaultTimeout = 15 * time.Second

// Options carries the shared knobs of every connector.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     logrus.FieldLogger
	// Now overrides the signing clock.
	Now func() time.Time
}

// WithDefaults fills unset fields.
func (o Options) WithDefaults(baseURL string) Options {
	if o.BaseURL == "" {
		o.BaseURL = baseURL
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.Timeout}
	}
	o.Logger = logging.OrDiscard(o.Logger)
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// ValidateByBalance implements ValidateCredentials on top of GetBalance.
func ValidateByBalance(ctx context.Context, c ExchangeClient, log logrus.FieldLogger) bool {
	balances, err := c.GetBalance(ctx)
	if err != nil {
		log.WithField("exchange", c.Exchange()).WithError(err).Warn("credential validation failed")
		return false
	}
	return len(balances) > 0
}
