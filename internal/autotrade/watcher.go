package autotrade

import (
	"context"

	"github.com/sirupsen/logrus"

	"signal-trader/internal/events"
	"signal-trader/internal/market"
	"signal-trader/internal/signal"
	"signal-trader/pkg/logging"
)

// EngineSet lists the engines currently active.
type EngineSet interface {
	Engines() []*Engine
}

// Watcher fans price ticks and incoming signals out to every active engine.
type Watcher struct {
	Engines EngineSet
	Bus     *events.Bus
	Signals signal.Provider

	log logrus.FieldLogger
}

func NewWatcher(engines EngineSet, bus *events.Bus, signals signal.Provider, log logrus.FieldLogger) *Watcher {
	return &Watcher{
		Engines: engines,
		Bus:     bus,
		Signals: signals,
		log:     logging.OrDiscard(log).WithField("component", "watcher"),
	}
}

func (w *Watcher) Start(ctx context.Context) {
	if w.Engines == nil || w.Bus == nil {
		w.log.Warn("watcher not fully configured; skipping")
		return
	}
	ticks, unsubTicks := w.Bus.Subscribe(events.EventPriceTick, 512)
	var sigs <-chan signal.TradeSignal
	unsubSigs := func() {}
	if w.Signals != nil {
		sigs, unsubSigs = w.Signals.Subscribe(64)
	}

	go func() {
		defer unsubTicks()
		defer unsubSigs()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ticks:
				if !ok {
					return
				}
				tick, ok := msg.(market.Tick)
				if !ok {
					continue
				}
				for _, e := range w.Engines.Engines() {
					e.OnTick(ctx, tick)
				}
			case sig, ok := <-sigs:
				if !ok {
					sigs = nil
					continue
				}
				w.dispatch(ctx, sig)
			}
		}
	}()
}

func (w *Watcher) dispatch(ctx context.Context, sig signal.TradeSignal) {
	for _, e := range w.Engines.Engines() {
		go func(e *Engine) {
			if _, err := e.ProcessSignal(ctx, sig); err != nil {
				w.log.WithError(err).WithFields(logrus.Fields{"user_id": e.UserID(), "symbol": sig.Symbol}).Warn("signal not processed")
			}
		}(e)
	}
}
