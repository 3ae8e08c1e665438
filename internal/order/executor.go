package order

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"signal-trader/internal/events"
	"signal-trader/pkg/exchanges/common"
	"signal-trader/pkg/logging"
)

// Failure is published on EventOrderFailed. Err holds the sanitized message.
type Failure struct {
	Exchange common.Exchange     `json:"exchange"`
	Request  common.OrderRequest `json:"request"`
	Err      string              `json:"error"`
	At       time.Time           `json:"at"`
}

// Executor submits one order to a client under a deadline. It never retries:
// a timed-out order may still have reached the venue.
type Executor struct {
	Timeout time.Duration
	Bus     *events.Bus
	log     logrus.FieldLogger
}

func NewExecutor(timeout time.Duration, bus *events.Bus, log logrus.FieldLogger) *Executor {
	if timeout <= 0 {
		timeout = common.DefaultTimeout
	}
	return &Executor{
		Timeout: timeout,
		Bus:     bus,
		log:     logging.OrDiscard(log).WithField("component", "executor"),
	}
}

// Submit places req on client.
func (e *Executor) Submit(ctx context.Context, client common.ExchangeClient, req common.OrderRequest) (common.OrderResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := client.PlaceOrder(ctx, req)
	fields := logrus.Fields{
		"exchange":   client.Exchange(),
		"symbol":     req.Symbol,
		"side":       req.Side,
		"order_type": req.Type,
		"quantity":   req.Quantity.String(),
		"latency_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		e.log.WithFields(fields).WithError(err).Error("order placement failed")
		if e.Bus != nil {
			e.Bus.Publish(events.EventOrderFailed, Failure{
				Exchange: client.Exchange(),
				Request:  req,
				Err:      err.Error(),
				At:       time.Now(),
			})
		}
		return common.OrderResponse{}, err
	}
	fields["order_id"] = resp.OrderID
	e.log.WithFields(fields).Info("order placed")
	return resp, nil
}
