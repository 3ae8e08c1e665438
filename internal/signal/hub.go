package signal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"signal-trader/internal/events"
	"signal-trader/pkg/logging"
)

var ErrNoSignal = errors.New("no signal for symbol")

// Provider supplies signals to consumers.
type Provider interface {
	LatestSignal(ctx context.Context, symbol string) (TradeSignal, error)
	// Subscribe streams every accepted signal until cancel is called.
	Subscribe(buffer int) (<-chan TradeSignal, func())
}

// Hub keeps the latest signal per symbol and fans accepted signals out over
// the event bus.
type Hub struct {
	mu     sync.RWMutex
	latest map[string]TradeSignal
	bus    *events.Bus
	now    func() time.Time
	log    logrus.FieldLogger
}

// NewHub creates a hub publishing on bus.
func NewHub(bus *events.Bus, log logrus.FieldLogger) *Hub {
	if bus == nil {
		bus = events.NewBus()
	}
	return &Hub{
		latest: make(map[string]TradeSignal),
		bus:    bus,
		now:    time.Now,
		log:    logging.OrDiscard(log).WithField("component", "signal_hub"),
	}
}

// Publish validates sig, records it as the latest for its symbol and emits
// EventSignal.
func (h *Hub) Publish(sig TradeSignal) (TradeSignal, error) {
	sig, err := sig.Normalize()
	if err != nil {
		return sig, err
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = h.now()
	}
	h.mu.Lock()
	h.latest[sig.Symbol] = sig
	h.mu.Unlock()

	h.log.WithFields(logrus.Fields{
		"symbol":     sig.Symbol,
		"action":     sig.Action,
		"confidence": float64(sig.Confidence),
	}).Debug("signal accepted")
	h.bus.Publish(events.EventSignal, sig)
	return sig, nil
}

// LatestSignal returns the most recent signal for symbol.
func (h *Hub) LatestSignal(ctx context.Context, symbol string) (TradeSignal, error) {
	if err := ctx.Err(); err != nil {
		return TradeSignal{}, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	sig, ok := h.latest[symbol]
	if !ok {
		return TradeSignal{}, ErrNoSignal
	}
	return sig, nil
}

// Subscribe implements Provider on top of the bus.
func (h *Hub) Subscribe(buffer int) (<-chan TradeSignal, func()) {
	raw, unsub := h.bus.Subscribe(events.EventSignal, buffer)
	out := make(chan TradeSignal, buffer)
	go func() {
		defer close(out)
		for v := range raw {
			if sig, ok := v.(TradeSignal); ok {
				select {
				case out <- sig:
				default:
				}
			}
		}
	}()
	return out, unsub
}
