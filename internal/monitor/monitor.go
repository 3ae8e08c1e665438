// Package monitor counts what the trading path does and raises alerts when
// market data or order placement breaks.
package monitor

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"signal-trader/internal/events"
	"signal-trader/pkg/logging"
)

// Monitor follows the bus: price ticks feed the tick counter, feed outages
// and order failures raise alerts.
type Monitor struct {
	Bus     *events.Bus
	Metrics *SystemMetrics
	Sink    AlertSink

	log logrus.FieldLogger
}

func New(bus *events.Bus, metrics *SystemMetrics, sink AlertSink, log logrus.FieldLogger) *Monitor {
	log = logging.OrDiscard(log).WithField("component", "monitor")
	if sink == nil {
		sink = LogSink{Log: log}
	}
	return &Monitor{Bus: bus, Metrics: metrics, Sink: sink, log: log}
}

func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Metrics == nil {
		m.log.Warn("monitor not fully configured; skipping")
		return
	}
	ticks, unsubTicks := m.Bus.Subscribe(events.EventPriceTick, 256)
	down, unsubDown := m.Bus.Subscribe(events.EventFeedDown, 4)
	failed, unsubFailed := m.Bus.Subscribe(events.EventOrderFailed, 64)

	go func() {
		defer unsubTicks()
		defer unsubDown()
		defer unsubFailed()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ticks:
				if !ok {
					return
				}
				m.Metrics.TickProcessed()
			case msg, ok := <-down:
				if !ok {
					return
				}
				m.Metrics.FeedDown()
				m.alert(fmt.Sprintf("market feed down: %+v", msg))
			case msg, ok := <-failed:
				if !ok {
					return
				}
				m.alert(fmt.Sprintf("order failed: %+v", msg))
			}
		}
	}()
}

func (m *Monitor) alert(msg string) {
	if err := m.Sink.Send(msg); err != nil {
		m.log.WithError(err).Error("alert delivery failed")
	}
}
