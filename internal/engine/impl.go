package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"signal-trader/internal/autotrade"
	"signal-trader/internal/events"
	"signal-trader/internal/gateway"
	"signal-trader/internal/indicators"
	"signal-trader/internal/market"
	"signal-trader/internal/monitor"
	"signal-trader/internal/order"
	"signal-trader/internal/reconciliation"
	"signal-trader/internal/risk"
	"signal-trader/internal/signal"
	"signal-trader/pkg/cache"
	"signal-trader/pkg/crypto"
	"signal-trader/pkg/db"
	"signal-trader/pkg/exchanges/common"
	"signal-trader/pkg/logging"
)

// Config bundles the modules the facade dispatches to. DB may be nil, in
// which case trades and configs live in memory only.
type Config struct {
	DB       *db.Database
	Vault    *crypto.Vault
	Registry *gateway.Registry
	Pool     *gateway.Manager
	Bus      *events.Bus
	Prices   market.PriceProvider
	Cache    *cache.PriceCache
	Signals  *signal.Hub
	Window   *indicators.Window
	Metrics  *monitor.SystemMetrics

	BaseConfig      risk.AutoTradingConfig
	BalanceAsset    string
	ExchangeTimeout time.Duration
	InstanceID      string

	// DryRun routes every order and balance read through a per-user paper
	// account instead of the venue.
	DryRun bool
	Paper  order.PaperConfig

	Log logrus.FieldLogger
}

// Impl is the default Service implementation.
type Impl struct {
	// Reconciler, when set, contributes its last report to Metrics.
	Reconciler *reconciliation.Service

	cfg     Config
	users   *autotrade.MultiUserManager
	configs *autotrade.ConfigStore
	scorer  signal.Scorer
	log     logrus.FieldLogger

	mu    sync.Mutex
	paper map[string]*order.PaperClient
	venue map[string]common.Exchange // last connected exchange per user
}

var _ Service = (*Impl)(nil)

// New builds the facade. Start must be called to feed the indicator window.
func New(cfg Config) *Impl {
	if cfg.ExchangeTimeout <= 0 {
		cfg.ExchangeTimeout = common.DefaultTimeout
	}
	if cfg.BalanceAsset == "" {
		cfg.BalanceAsset = "USDT"
	}
	if cfg.Metrics == nil {
		cfg.Metrics = monitor.NewSystemMetrics()
	}
	s := &Impl{
		cfg:   cfg,
		log:   logging.OrDiscard(cfg.Log).WithField("component", "engine"),
		paper: make(map[string]*order.PaperClient),
		venue: make(map[string]common.Exchange),
	}
	if cfg.DB != nil {
		s.configs = autotrade.NewConfigStore(cfg.DB.Configs())
	}
	s.users = autotrade.NewMultiUserManager(s.newUserEngine, cfg.Log)
	return s
}

// Accounts adapts the active engines for reconciliation.
func (s *Impl) Accounts() []reconciliation.Account {
	engines := s.users.Engines()
	out := make([]reconciliation.Account, 0, len(engines))
	for _, e := range engines {
		out = append(out, e)
	}
	return out
}

// Users exposes the per-user engines to the watcher and idle cleanup.
func (s *Impl) Users() *autotrade.MultiUserManager { return s.users }

// Start records every price tick in the indicator window until ctx ends.
func (s *Impl) Start(ctx context.Context) {
	if s.cfg.Bus == nil || s.cfg.Window == nil {
		return
	}
	ticks, unsub := s.cfg.Bus.Subscribe(events.EventPriceTick, 256)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ticks:
				if !ok {
					return
				}
				if t, ok := msg.(market.Tick); ok {
					s.cfg.Window.Add(t.Symbol, t.Price.InexactFloat64())
				}
			}
		}
	}()
}

// clientFor resolves the client orders for (userID, ex) go through.
func (s *Impl) clientFor(userID string, ex common.Exchange) (common.ExchangeClient, error) {
	if s.cfg.DryRun {
		return s.paperFor(userID, ex), nil
	}
	if s.cfg.Pool == nil {
		return nil, gateway.ErrConnectionNotFound
	}
	return gateway.NewPooledClient(s.cfg.Pool, userID, ex), nil
}

func (s *Impl) paperFor(userID string, ex common.Exchange) *order.PaperClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.paper[userID]
	if !ok {
		p = order.NewPaperClient(ex, s.cfg.Prices, s.cfg.Paper, s.cfg.Log)
		s.paper[userID] = p
	}
	return p
}

func (s *Impl) ConnectExchange(ctx context.Context, userID string, creds common.Credentials) ConnectResult {
	res := ConnectResult{Exchange: creds.Exchange}
	log := s.log.WithFields(logrus.Fields{"user_id": userID, "exchange": creds.Exchange})

	ex, err := common.ParseExchange(string(creds.Exchange))
	if err != nil {
		res.Envelope = fail(err.Error())
		return res
	}
	creds.Exchange = ex
	res.Exchange = ex
	if err := creds.Validate(); err != nil {
		res.Envelope = fail(userMessage(err))
		return res
	}
	if s.cfg.Registry == nil {
		res.Envelope = fail("no exchange registry configured")
		return res
	}
	client, err := s.cfg.Registry.New(creds)
	if err != nil {
		res.Envelope = fail(userMessage(err))
		return res
	}

	vctx, cancel := context.WithTimeout(ctx, s.cfg.ExchangeTimeout)
	valid := client.ValidateCredentials(vctx)
	cancel()
	if !valid {
		log.Warn("credential validation failed")
		res.Envelope = fail(CredentialMessage)
		return res
	}

	if s.cfg.DB != nil && s.cfg.Vault != nil {
		row, err := s.cfg.Vault.SealCredentials(userID, creds)
		if err != nil {
			log.WithError(err).Error("seal credentials failed")
			res.Envelope = fail("failed to store credentials")
			return res
		}
		if err := s.cfg.DB.Credentials().UpsertCredential(ctx, row); err != nil {
			log.WithError(err).Error("store credentials failed")
			res.Envelope = fail("failed to store credentials")
			return res
		}
	}
	if s.cfg.Pool != nil {
		s.cfg.Pool.Put(userID, client)
	}
	s.mu.Lock()
	s.venue[userID] = ex
	s.mu.Unlock()
	s.rebindEngine(ctx, userID, ex)

	log.Info("exchange connected")
	res.Envelope = ok()
	res.Message = fmt.Sprintf("Successfully connected to %s", ex)
	return res
}

// rebindEngine drops an idle engine bound to another venue so the next
// access rebuilds it against the newly connected one.
func (s *Impl) rebindEngine(ctx context.Context, userID string, ex common.Exchange) {
	eng, ok := s.users.Get(userID)
	if !ok || eng.Exchange() == ex {
		return
	}
	open, err := eng.OpenTrades(ctx)
	if err != nil || len(open) > 0 {
		return
	}
	s.users.Remove(userID)
}

func (s *Impl) PlaceOrder(ctx context.Context, userID string, ex common.Exchange, req common.OrderRequest) OrderResult {
	client, err := s.clientFor(userID, ex)
	if err != nil {
		return OrderResult{Envelope: fail(userMessage(err))}
	}
	req, err = req.Normalize()
	if err != nil {
		return OrderResult{Envelope: fail(userMessage(err))}
	}
	started := time.Now()
	resp, err := client.PlaceOrder(ctx, req)
	if err != nil {
		s.cfg.Metrics.OrderFailed()
		s.log.WithFields(logrus.Fields{"user_id": userID, "exchange": ex, "symbol": req.Symbol}).WithError(err).Warn("order rejected")
		return OrderResult{Envelope: fail(userMessage(err))}
	}
	s.cfg.Metrics.OrderPlaced(time.Since(started))
	return OrderResult{Envelope: ok(), Order: &resp}
}

func (s *Impl) GetBalance(ctx context.Context, userID string, ex common.Exchange) BalanceResult {
	client, err := s.clientFor(userID, ex)
	if err != nil {
		return BalanceResult{Envelope: fail(userMessage(err))}
	}
	bals, err := client.GetBalance(ctx)
	if err != nil {
		return BalanceResult{Envelope: fail(userMessage(err))}
	}
	return BalanceResult{Envelope: ok(), Balance: bals}
}

func (s *Impl) GetPositions(ctx context.Context, userID string, ex common.Exchange) PositionsResult {
	client, err := s.clientFor(userID, ex)
	if err != nil {
		return PositionsResult{Envelope: fail(userMessage(err)), Positions: []common.Position{}}
	}
	if !common.SupportsPositions(client) {
		return PositionsResult{Envelope: ok(), Positions: []common.Position{}}
	}
	positions, err := client.GetPositions(ctx)
	if common.IsUnsupported(err) {
		return PositionsResult{Envelope: ok(), Positions: []common.Position{}}
	}
	if err != nil {
		return PositionsResult{Envelope: fail(userMessage(err)), Positions: []common.Position{}, Supported: true}
	}
	if positions == nil {
		positions = []common.Position{}
	}
	return PositionsResult{Envelope: ok(), Positions: positions, Supported: true}
}

func (s *Impl) IngestSignal(ctx context.Context, sig signal.TradeSignal) SignalResult {
	if s.cfg.Signals == nil {
		return SignalResult{Envelope: fail("signal hub not configured")}
	}
	out, err := s.cfg.Signals.Publish(sig)
	if err != nil {
		return SignalResult{Envelope: fail(userMessage(err))}
	}
	return SignalResult{Envelope: ok(), Signal: &out}
}

// ScoreSignal scores in. When no technical readings are supplied they come
// from the live indicator window. publish forwards the result to the hub.
func (s *Impl) ScoreSignal(ctx context.Context, in signal.Inputs, publish bool) ScoreResult {
	in.Symbol = strings.ToUpper(strings.TrimSpace(in.Symbol))
	if in.Symbol == "" {
		return ScoreResult{Envelope: fail(signal.ErrInvalidSignal.Error() + ": symbol is required")}
	}
	if in.Technical == (signal.Technical{}) && s.cfg.Window != nil {
		in.Technical = signal.TechnicalFrom(s.cfg.Window.Snapshot(in.Symbol))
	}
	score := s.scorer.Evaluate(in)
	if publish {
		res := s.IngestSignal(ctx, score.Signal)
		if !res.Success {
			return ScoreResult{Envelope: res.Envelope, Score: &score}
		}
		score.Signal = *res.Signal
	}
	return ScoreResult{Envelope: ok(), Score: &score}
}

func (s *Impl) LatestSignal(ctx context.Context, symbol string) SignalResult {
	if s.cfg.Signals == nil {
		return SignalResult{Envelope: fail("signal hub not configured")}
	}
	sig, err := s.cfg.Signals.LatestSignal(ctx, symbol)
	if err != nil {
		return SignalResult{Envelope: fail(err.Error())}
	}
	return SignalResult{Envelope: ok(), Signal: &sig}
}

func (s *Impl) Metrics(ctx context.Context) MetricsResult {
	if s.cfg.Pool != nil {
		s.cfg.Metrics.SetGatewayPoolStats(s.cfg.Pool.Stats())
	}
	s.cfg.Metrics.SetActiveUsers(s.users.UserCount())
	res := MetricsResult{Envelope: ok(), Metrics: s.cfg.Metrics.GetSnapshot()}
	if s.cfg.Bus != nil {
		res.Metrics.EventsDropped = s.cfg.Bus.Dropped()
	}
	if s.cfg.Cache != nil {
		res.Prices = s.cfg.Cache.Stats()
	}
	if s.Reconciler != nil {
		r := s.Reconciler.LastReport()
		res.Reconciliation = &r
	}
	return res
}

func isNotConnected(err error) bool {
	return errors.Is(err, gateway.ErrConnectionNotFound)
}
