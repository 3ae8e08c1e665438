// Package autotrade turns trade signals into risk-gated exchange orders for
// one user, tracks the resulting open trades and closes them on request or
// when a protective level is hit.
package autotrade

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"signal-trader/internal/balance"
	"signal-trader/internal/events"
	"signal-trader/internal/market"
	"signal-trader/internal/order"
	"signal-trader/internal/risk"
	"signal-trader/internal/signal"
	"signal-trader/internal/state"
	"signal-trader/pkg/exchanges/common"
	"signal-trader/pkg/logging"
)

// manualCapacity lifts the open-trade cap for manual trades; the store still
// enforces one trade per symbol.
const manualCapacity = math.MaxInt32

// ErrInvalidManualTrade is returned for manual trade input that can never
// become an order.
var ErrInvalidManualTrade = errors.New("invalid manual trade")

// ConfigSaver persists a user's config after each change.
type ConfigSaver interface {
	SaveConfig(ctx context.Context, userID string, cfg risk.AutoTradingConfig) error
}

// Deps wires one engine. Client, Prices, Balance and Store are required.
type Deps struct {
	UserID   string
	Client   common.ExchangeClient
	Prices   market.PriceProvider
	Balance  balance.Provider
	Store    state.OpenTradeStore
	Risk     *risk.Manager
	Executor *order.Executor
	Stops    *risk.StopLossManager
	Bus      *events.Bus
	Metrics  Recorder
	Configs  ConfigSaver
	Log      logrus.FieldLogger
}

// Engine is one user's auto-trading engine. All operations on one symbol are
// serialized; different symbols proceed in parallel.
type Engine struct {
	userID   string
	client   common.ExchangeClient
	prices   market.PriceProvider
	balance  balance.Provider
	store    state.OpenTradeStore
	risk     *risk.Manager
	executor *order.Executor
	stops    *risk.StopLossManager
	bus      *events.Bus
	metrics  Recorder
	configs  ConfigSaver
	log      logrus.FieldLogger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	// reserved counts slots taken by orders in flight, so concurrent signals
	// for different symbols cannot overshoot maxOpenPositions.
	slotsMu  sync.Mutex
	reserved int

	closingMu sync.Mutex
	closing   map[string]bool

	now   func() time.Time
	newID func() string
}

func NewEngine(d Deps) *Engine {
	if d.Risk == nil {
		d.Risk = risk.NewManager(risk.DefaultConfig(), d.Log)
	}
	if d.Executor == nil {
		d.Executor = order.NewExecutor(common.DefaultTimeout, d.Bus, d.Log)
	}
	if d.Stops == nil {
		d.Stops = risk.NewStopLossManager()
	}
	if d.Metrics == nil {
		d.Metrics = nopRecorder{}
	}
	return &Engine{
		userID:   d.UserID,
		client:   d.Client,
		prices:   d.Prices,
		balance:  d.Balance,
		store:    d.Store,
		risk:     d.Risk,
		executor: d.Executor,
		stops:    d.Stops,
		bus:      d.Bus,
		metrics:  d.Metrics,
		configs:  d.Configs,
		log:      logging.OrDiscard(d.Log).WithFields(logrus.Fields{"component": "autotrade", "user_id": d.UserID}),
		locks:    make(map[string]*sync.Mutex),
		closing:  make(map[string]bool),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// UserID returns the owner of this engine.
func (e *Engine) UserID() string { return e.userID }

// Exchange returns the venue this engine trades on.
func (e *Engine) Exchange() common.Exchange { return e.client.Exchange() }

func (e *Engine) lock(symbol string) func() {
	e.locksMu.Lock()
	mu, ok := e.locks[symbol]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[symbol] = mu
	}
	e.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// reserveSlot re-reads the open count under slotsMu so a trade that was just
// admitted and released is never missed.
func (e *Engine) reserveSlot(ctx context.Context, max int) (bool, error) {
	e.slotsMu.Lock()
	defer e.slotsMu.Unlock()
	open, err := e.store.Count(ctx)
	if err != nil {
		return false, err
	}
	if open+e.reserved >= max {
		return false, nil
	}
	e.reserved++
	return true, nil
}

func (e *Engine) releaseSlot() {
	e.slotsMu.Lock()
	e.reserved--
	e.slotsMu.Unlock()
}

func (e *Engine) inFlight() int {
	e.slotsMu.Lock()
	defer e.slotsMu.Unlock()
	return e.reserved
}

func (e *Engine) publish(ev events.Event, payload any) {
	if e.bus != nil {
		e.bus.Publish(ev, payload)
	}
}

func (e *Engine) reject(sig signal.TradeSignal, pct decimal.Decimal, reason risk.Reason) {
	e.log.WithFields(logrus.Fields{
		"symbol":     sig.Symbol,
		"action":     sig.Action,
		"confidence": pct.String(),
		"reason":     reason,
	}).Info("signal rejected")
	e.metrics.Rejected(string(reason))
	e.publish(events.EventTradeRejected, Rejection{
		UserID:     e.userID,
		Symbol:     sig.Symbol,
		Action:     string(sig.Action),
		Confidence: pct.String(),
		Reason:     reason,
		At:         e.now(),
	})
}

func sideOf(a signal.Action) common.Side {
	if a == signal.ActionSell {
		return common.SideSell
	}
	return common.SideBuy
}

// ProcessSignal runs the gates and, when they pass, opens a MARKET trade.
// Rejections and failures are logged and yield nil, nil; only a malformed
// signal returns an error.
func (e *Engine) ProcessSignal(ctx context.Context, sig signal.TradeSignal) (*order.TradeExecution, error) {
	sig, err := sig.Normalize()
	if err != nil {
		return nil, err
	}
	e.metrics.SignalReceived()
	unlock := e.lock(sig.Symbol)
	defer unlock()

	cfg := e.risk.GetConfig()
	pct := sig.Confidence.Percent()

	count, err := e.store.Count(ctx)
	if err != nil {
		e.log.WithError(err).Error("open trade count failed")
		return nil, nil
	}
	_, open, err := e.store.Get(ctx, sig.Symbol)
	if err != nil {
		e.log.WithError(err).WithField("symbol", sig.Symbol).Error("open trade lookup failed")
		return nil, nil
	}

	decision := e.risk.Evaluate(risk.Candidate{
		Symbol:            sig.Symbol,
		Action:            string(sig.Action),
		ConfidencePercent: pct,
	}, risk.Book{OpenCount: count + e.inFlight(), SymbolOpen: open})
	if !decision.Allowed {
		e.reject(sig, pct, decision.Reason)
		return nil, nil
	}
	reserved, err := e.reserveSlot(ctx, cfg.MaxOpenPositions)
	if err != nil {
		e.log.WithError(err).Error("open trade count failed")
		return nil, nil
	}
	if !reserved {
		e.reject(sig, pct, risk.ReasonMaxPositions)
		return nil, nil
	}
	defer e.releaseSlot()

	fields := logrus.Fields{"symbol": sig.Symbol, "action": sig.Action}
	price, err := e.prices.CurrentPrice(ctx, sig.Symbol)
	if err != nil {
		e.log.WithFields(fields).WithError(err).Warn("no price, signal dropped")
		return nil, nil
	}
	bal, err := e.balance.AvailableBalance(ctx)
	if err != nil {
		e.log.WithFields(fields).WithError(err).Warn("no balance, signal dropped")
		return nil, nil
	}
	_, qty, err := risk.PositionSize(bal, price, cfg.MaxPositionSize)
	if err != nil || !qty.IsPositive() {
		e.log.WithFields(fields).WithError(err).Warn("position size not computable")
		return nil, nil
	}

	side := sideOf(sig.Action)
	sl, tp := risk.Levels(side, price, cfg.StopLossPercent, cfg.TakeProfitPercent)
	trade, ok := e.submit(ctx, common.OrderRequest{
		Symbol:     sig.Symbol,
		Side:       side,
		Type:       common.OrderTypeMarket,
		Quantity:   qty,
		Leverage:   cfg.MaxLeverage,
		StopLoss:   sl,
		TakeProfit: tp,
	}, price)
	if !ok {
		return nil, nil
	}

	if err := e.store.Open(ctx, trade, cfg.MaxOpenPositions); err != nil {
		e.log.WithFields(fields).WithError(err).Error("order filled but trade not admitted, flattening")
		e.flatten(ctx, trade)
		return nil, nil
	}
	e.opened(trade)
	return &trade, nil
}

// ExecuteManualTrade places a LIMIT order at entryPrice without running the
// gates. leverage <= 0 means 1. It returns nil, nil when the symbol already
// has an open trade or the order fails. A placed order the store refuses to
// record is offset and reported as an error.
func (e *Engine) ExecuteManualTrade(ctx context.Context, symbol string, side common.Side, qty, entryPrice decimal.Decimal, leverage int) (*order.TradeExecution, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	side, err := common.ParseSide(string(side))
	switch {
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalidManualTrade, err)
	case symbol == "":
		return nil, fmt.Errorf("%w: symbol required", ErrInvalidManualTrade)
	case !qty.IsPositive():
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidManualTrade)
	case !entryPrice.IsPositive():
		return nil, fmt.Errorf("%w: entry price must be positive", ErrInvalidManualTrade)
	}
	if leverage <= 0 {
		leverage = 1
	}

	unlock := e.lock(symbol)
	defer unlock()

	fields := logrus.Fields{"symbol": symbol, "side": side}
	if _, open, err := e.store.Get(ctx, symbol); err != nil {
		e.log.WithFields(fields).WithError(err).Error("open trade lookup failed")
		return nil, nil
	} else if open {
		e.log.WithFields(fields).Info("manual trade skipped, symbol already has an open trade")
		return nil, nil
	}

	cfg := e.risk.GetConfig()
	sl, tp := risk.Levels(side, entryPrice, cfg.StopLossPercent, cfg.TakeProfitPercent)
	trade, ok := e.submit(ctx, common.OrderRequest{
		Symbol:     symbol,
		Side:       side,
		Type:       common.OrderTypeLimit,
		Quantity:   qty,
		Price:      entryPrice,
		Leverage:   leverage,
		StopLoss:   sl,
		TakeProfit: tp,
	}, entryPrice)
	if !ok {
		return nil, nil
	}
	if err := e.store.Open(ctx, trade, manualCapacity); err != nil {
		e.log.WithFields(fields).WithError(err).Error("manual order placed but trade not recorded, flattening")
		e.flatten(ctx, trade)
		return nil, fmt.Errorf("record manual trade %s: %w", symbol, err)
	}
	e.opened(trade)
	return &trade, nil
}

func (e *Engine) submit(ctx context.Context, req common.OrderRequest, entry decimal.Decimal) (order.TradeExecution, bool) {
	start := time.Now()
	resp, err := e.executor.Submit(ctx, e.client, req)
	if err != nil {
		e.metrics.OrderFailed()
		return order.TradeExecution{}, false
	}
	e.metrics.OrderPlaced(time.Since(start))
	return order.TradeExecution{
		ID:         e.newID(),
		Symbol:     req.Symbol,
		Action:     req.Side,
		Quantity:   req.Quantity,
		EntryPrice: entry,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Leverage:   req.Leverage,
		ExecutedAt: e.now(),
		OrderID:    resp.OrderID,
		Status:     order.StatusExecuted,
	}, true
}

func (e *Engine) opened(trade order.TradeExecution) {
	e.track(trade)
	e.log.WithFields(logrus.Fields{
		"trade_id":    trade.ID,
		"symbol":      trade.Symbol,
		"action":      trade.Action,
		"quantity":    trade.Quantity.String(),
		"entry_price": trade.EntryPrice.String(),
		"stop_loss":   trade.StopLoss.String(),
		"take_profit": trade.TakeProfit.String(),
	}).Info("trade executed")
	e.publish(events.EventTradeExecuted, TradeEvent{UserID: e.userID, Trade: trade})
}

func (e *Engine) track(trade order.TradeExecution) {
	e.stops.AddPosition(risk.StopLossPosition{
		Symbol:          trade.Symbol,
		Side:            trade.Action,
		EntryPrice:      trade.EntryPrice,
		StopLoss:        trade.StopLoss,
		TakeProfit:      trade.TakeProfit,
		TrailingPercent: e.risk.GetConfig().TrailingStopPercent,
	})
}

// exitRequest offsets trade. Leverage stays unset so the venue keeps the
// setting made when the trade was opened.
func exitRequest(trade order.TradeExecution) common.OrderRequest {
	return common.OrderRequest{
		Symbol:   trade.Symbol,
		Side:     trade.Action.Opposite(),
		Type:     common.OrderTypeMarket,
		Quantity: trade.Quantity,
	}
}

// flatten offsets a fill that the store refused to record.
func (e *Engine) flatten(ctx context.Context, trade order.TradeExecution) {
	if _, err := e.executor.Submit(ctx, e.client, exitRequest(trade)); err != nil {
		e.metrics.OrderFailed()
		e.log.WithField("symbol", trade.Symbol).WithError(err).Error("flatten failed, position is untracked")
	}
}

// ClosePosition closes the open trade for symbol with an opposite MARKET
// order. It returns false, without calling the exchange, when nothing is
// open, and false when the price or the order is unavailable.
func (e *Engine) ClosePosition(ctx context.Context, symbol string, reason risk.CloseReason) bool {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if reason == "" {
		reason = risk.CloseManual
	}
	unlock := e.lock(symbol)
	defer unlock()

	fields := logrus.Fields{"symbol": symbol, "reason": reason}
	trade, open, err := e.store.Get(ctx, symbol)
	if err != nil {
		e.log.WithFields(fields).WithError(err).Error("open trade lookup failed")
		return false
	}
	if !open {
		return false
	}
	fields["trade_id"] = trade.ID

	exit, err := e.prices.CurrentPrice(ctx, symbol)
	if err != nil {
		e.log.WithFields(fields).WithError(err).Warn("no price, close aborted")
		return false
	}
	if _, ok := e.closeOrder(ctx, trade); !ok {
		return false
	}

	pnl := order.CalculatePnL(trade.Action, trade.Quantity, trade.EntryPrice, exit, decimal.Zero)
	closed, err := e.store.Close(ctx, symbol, state.Closing{
		ExitPrice: exit,
		PnL:       pnl,
		Reason:    string(reason),
		ClosedAt:  e.now(),
	})
	if err != nil {
		e.log.WithFields(fields).WithError(err).Error("position closed on exchange but not recorded")
		return false
	}
	e.stops.RemovePosition(symbol)
	e.risk.UpdateMetrics(risk.TradeResult{Symbol: symbol, Side: string(trade.Action), PnL: pnl})
	e.metrics.TradeClosed(string(reason))

	fields["exit_price"] = exit.String()
	fields["pnl"] = pnl.String()
	e.log.WithFields(fields).Info("trade closed")
	e.publish(events.EventTradeClosed, TradeEvent{UserID: e.userID, Trade: closed})
	return true
}

func (e *Engine) closeOrder(ctx context.Context, trade order.TradeExecution) (common.OrderResponse, bool) {
	start := time.Now()
	resp, err := e.executor.Submit(ctx, e.client, exitRequest(trade))
	if err != nil {
		e.metrics.OrderFailed()
		return common.OrderResponse{}, false
	}
	e.metrics.OrderPlaced(time.Since(start))
	return resp, true
}

// OnTick checks protective levels and closes in the background when one is
// hit. At most one stop-triggered close runs per symbol.
func (e *Engine) OnTick(ctx context.Context, tick market.Tick) {
	d := e.stops.UpdatePrice(strings.ToUpper(tick.Symbol), tick.Price)
	if d == nil {
		return
	}
	e.closingMu.Lock()
	if e.closing[d.Symbol] {
		e.closingMu.Unlock()
		return
	}
	e.closing[d.Symbol] = true
	e.closingMu.Unlock()

	e.log.WithFields(logrus.Fields{"symbol": d.Symbol, "reason": d.Reason, "price": d.Price.String()}).Info("protective level hit")
	go func() {
		defer func() {
			e.closingMu.Lock()
			delete(e.closing, d.Symbol)
			e.closingMu.Unlock()
		}()
		e.ClosePosition(ctx, d.Symbol, d.Reason)
	}()
}

// RestoreStops re-arms protective levels for trades already open in the
// store, e.g. after a restart with the durable store.
func (e *Engine) RestoreStops(ctx context.Context) error {
	open, err := e.store.List(ctx)
	if err != nil {
		return err
	}
	for _, t := range open {
		e.track(t)
	}
	return nil
}
