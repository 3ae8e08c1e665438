package engine

import (
	"context"
	"fmt"
	"strings"

	"signal-trader/internal/autotrade"
	"signal-trader/internal/balance"
	"signal-trader/internal/gateway"
	"signal-trader/internal/order"
	"signal-trader/internal/risk"
	"signal-trader/internal/signal"
	"signal-trader/internal/state"
	"signal-trader/pkg/exchanges/common"
)

// userVenue picks the exchange a user's engine trades on: the one connected
// most recently in this process, else the first stored one.
func (s *Impl) userVenue(ctx context.Context, userID string) (common.Exchange, error) {
	s.mu.Lock()
	ex, ok := s.venue[userID]
	s.mu.Unlock()
	if ok {
		return ex, nil
	}
	if s.cfg.DB != nil {
		names, err := s.cfg.DB.Credentials().ListExchanges(ctx, userID)
		if err != nil {
			return "", err
		}
		for _, n := range names {
			if ex, err := common.ParseExchange(n); err == nil {
				return ex, nil
			}
		}
	}
	if s.cfg.DryRun {
		return common.Binance, nil
	}
	return "", gateway.ErrConnectionNotFound
}

// newUserEngine is the autotrade.EngineFactory for this facade.
func (s *Impl) newUserEngine(ctx context.Context, userID string) (*autotrade.Engine, error) {
	ex, err := s.userVenue(ctx, userID)
	if err != nil {
		return nil, err
	}
	client, err := s.clientFor(userID, ex)
	if err != nil {
		return nil, err
	}

	var store state.OpenTradeStore = state.NewMemoryStore()
	if s.cfg.DB != nil {
		store = state.NewDurableStore(s.cfg.DB, userID, s.cfg.InstanceID, s.cfg.Log)
	}
	cfg, err := s.loadConfig(ctx, userID)
	if err != nil {
		return nil, err
	}
	var saver autotrade.ConfigSaver
	if s.configs != nil {
		saver = s.configs
	}

	eng := autotrade.NewEngine(autotrade.Deps{
		UserID:   userID,
		Client:   client,
		Prices:   s.cfg.Prices,
		Balance:  balance.NewExchangeBalance(client, s.cfg.BalanceAsset, s.cfg.Log),
		Store:    store,
		Risk:     risk.NewManager(cfg, s.cfg.Log),
		Executor: order.NewExecutor(s.cfg.ExchangeTimeout, s.cfg.Bus, s.cfg.Log),
		Bus:      s.cfg.Bus,
		Metrics:  s.cfg.Metrics,
		Configs:  saver,
		Log:      s.cfg.Log,
	})
	if err := eng.RestoreStops(ctx); err != nil {
		return nil, fmt.Errorf("restore stops: %w", err)
	}
	s.log.WithField("user_id", userID).WithField("exchange", ex).Info("auto-trading engine ready")
	return eng, nil
}

// RestoreEngines builds an engine for every user whose stored config has
// auto-trading enabled, so signals reach them without prior API activity.
// Users whose engine cannot be built are logged and skipped. It returns the
// number of engines running afterwards for those users.
func (s *Impl) RestoreEngines(ctx context.Context) (int, error) {
	if s.configs == nil {
		return 0, nil
	}
	ids, err := s.configs.EnabledUsers(ctx, s.cfg.BaseConfig)
	if err != nil {
		return 0, fmt.Errorf("list enabled users: %w", err)
	}
	restored := 0
	for _, id := range ids {
		if _, err := s.users.GetOrCreate(ctx, id); err != nil {
			s.log.WithError(err).WithField("user_id", id).Warn("auto-trading engine not restored")
			continue
		}
		restored++
	}
	s.log.WithField("restored", restored).WithField("enabled", len(ids)).Info("auto-trading engines restored")
	return restored, nil
}

func (s *Impl) loadConfig(ctx context.Context, userID string) (risk.AutoTradingConfig, error) {
	if s.configs == nil {
		return s.cfg.BaseConfig.Clone(), nil
	}
	cfg, _, err := s.configs.LoadConfig(ctx, userID, s.cfg.BaseConfig)
	return cfg, err
}

func (s *Impl) saveConfig(ctx context.Context, userID string, cfg risk.AutoTradingConfig) error {
	if s.configs == nil {
		return nil
	}
	return s.configs.SaveConfig(ctx, userID, cfg)
}

// engineFor returns the user's engine. A user without a connected exchange
// yields gateway.ErrConnectionNotFound.
func (s *Impl) engineFor(ctx context.Context, userID string) (*autotrade.Engine, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id required")
	}
	return s.users.GetOrCreate(ctx, userID)
}

func (s *Impl) GetAutoTradingConfig(ctx context.Context, userID string) ConfigResult {
	eng, err := s.engineFor(ctx, userID)
	if isNotConnected(err) {
		cfg, err := s.loadConfig(ctx, userID)
		if err != nil {
			return ConfigResult{Envelope: fail(userMessage(err))}
		}
		return ConfigResult{Envelope: ok(), Config: &cfg}
	}
	if err != nil {
		return ConfigResult{Envelope: fail(userMessage(err))}
	}
	cfg := eng.Config()
	return ConfigResult{Envelope: ok(), Config: &cfg}
}

func (s *Impl) UpdateAutoTradingConfig(ctx context.Context, userID string, patch risk.ConfigPatch) ConfigResult {
	const msg = "Auto-trading configuration updated"
	eng, err := s.engineFor(ctx, userID)
	if isNotConnected(err) {
		cfg, err := s.loadConfig(ctx, userID)
		if err != nil {
			return ConfigResult{Envelope: fail(userMessage(err))}
		}
		if cfg, err = patch.Apply(cfg); err != nil {
			return ConfigResult{Envelope: fail(userMessage(err))}
		}
		if err := s.saveConfig(ctx, userID, cfg); err != nil {
			return ConfigResult{Envelope: fail(userMessage(err))}
		}
		return ConfigResult{Envelope: ok(), Config: &cfg, Message: msg}
	}
	if err != nil {
		return ConfigResult{Envelope: fail(userMessage(err))}
	}
	cfg, err := eng.UpdateConfig(ctx, patch)
	if err != nil {
		return ConfigResult{Envelope: fail(userMessage(err))}
	}
	return ConfigResult{Envelope: ok(), Config: &cfg, Message: msg}
}

func (s *Impl) ToggleAutoTrading(ctx context.Context, userID string, enabled bool) ToggleResult {
	msg := "Auto-trading disabled"
	if enabled {
		msg = "Auto-trading enabled"
	}
	eng, err := s.engineFor(ctx, userID)
	if isNotConnected(err) {
		cfg, err := s.loadConfig(ctx, userID)
		if err != nil {
			return ToggleResult{Envelope: fail(userMessage(err))}
		}
		cfg.Enabled = enabled
		if err := s.saveConfig(ctx, userID, cfg); err != nil {
			return ToggleResult{Envelope: fail(userMessage(err))}
		}
		return ToggleResult{Envelope: ok(), Enabled: enabled, Message: msg}
	}
	if err != nil {
		return ToggleResult{Envelope: fail(userMessage(err))}
	}
	cfg := eng.ToggleAutoTrading(ctx, enabled)
	return ToggleResult{Envelope: ok(), Enabled: cfg.Enabled, Message: msg}
}

// history reads stored trades for users whose engine cannot be built.
func (s *Impl) history(ctx context.Context, userID string) ([]order.TradeExecution, error) {
	if s.cfg.DB == nil {
		return nil, nil
	}
	recs, err := s.cfg.DB.Trades().ListTrades(ctx, userID, 0)
	if err != nil {
		return nil, err
	}
	out := make([]order.TradeExecution, 0, len(recs))
	for _, r := range recs {
		out = append(out, order.FromRecord(r))
	}
	return out, nil
}

func (s *Impl) GetTradingStats(ctx context.Context, userID string) StatsResult {
	eng, err := s.engineFor(ctx, userID)
	if isNotConnected(err) {
		h, err := s.history(ctx, userID)
		if err != nil {
			return StatsResult{Envelope: fail(userMessage(err))}
		}
		st := autotrade.ComputeStats(h)
		return StatsResult{Envelope: ok(), Stats: &st}
	}
	if err != nil {
		return StatsResult{Envelope: fail(userMessage(err))}
	}
	st, err := eng.TradingStats(ctx)
	if err != nil {
		return StatsResult{Envelope: fail(userMessage(err))}
	}
	m := eng.RiskMetrics()
	return StatsResult{Envelope: ok(), Stats: &st, Metrics: &m}
}

func (s *Impl) GetTradeHistory(ctx context.Context, userID string) TradesResult {
	var (
		trades []order.TradeExecution
		err    error
	)
	eng, engErr := s.engineFor(ctx, userID)
	switch {
	case isNotConnected(engErr):
		trades, err = s.history(ctx, userID)
	case engErr != nil:
		err = engErr
	default:
		trades, err = eng.TradeHistory(ctx)
	}
	if err != nil {
		return TradesResult{Envelope: fail(userMessage(err)), Trades: []order.TradeExecution{}}
	}
	if trades == nil {
		trades = []order.TradeExecution{}
	}
	return TradesResult{Envelope: ok(), Trades: trades}
}

func (s *Impl) GetOpenTrades(ctx context.Context, userID string) TradesResult {
	eng, err := s.engineFor(ctx, userID)
	if isNotConnected(err) {
		return TradesResult{Envelope: ok(), Trades: []order.TradeExecution{}}
	}
	if err != nil {
		return TradesResult{Envelope: fail(userMessage(err)), Trades: []order.TradeExecution{}}
	}
	trades, err := eng.OpenTrades(ctx)
	if err != nil {
		return TradesResult{Envelope: fail(userMessage(err)), Trades: []order.TradeExecution{}}
	}
	if trades == nil {
		trades = []order.TradeExecution{}
	}
	return TradesResult{Envelope: ok(), Trades: trades}
}

// ProcessSignal runs sig through the user's engine directly, bypassing the
// hub. A rejected or failed signal is still a successful call.
func (s *Impl) ProcessSignal(ctx context.Context, userID string, sig signal.TradeSignal) TradeResult {
	eng, err := s.engineFor(ctx, userID)
	if err != nil {
		return TradeResult{Envelope: fail(userMessage(err))}
	}
	trade, err := eng.ProcessSignal(ctx, sig)
	if err != nil {
		return TradeResult{Envelope: fail(userMessage(err))}
	}
	if trade == nil {
		return TradeResult{Envelope: ok(), Message: "Signal did not result in a trade"}
	}
	return TradeResult{Envelope: ok(), Trade: trade, Message: "Trade executed"}
}

func (s *Impl) ExecuteManualTrade(ctx context.Context, userID string, req ManualTradeRequest) TradeResult {
	eng, err := s.engineFor(ctx, userID)
	if err != nil {
		return TradeResult{Envelope: fail(userMessage(err))}
	}
	trade, err := eng.ExecuteManualTrade(ctx, req.Symbol, req.Side, req.Quantity, req.EntryPrice, req.Leverage)
	if err != nil {
		return TradeResult{Envelope: fail(userMessage(err))}
	}
	if trade == nil {
		return TradeResult{Envelope: fail("Trade not executed")}
	}
	return TradeResult{Envelope: ok(), Trade: trade, Message: "Trade executed"}
}

func (s *Impl) ClosePosition(ctx context.Context, userID, symbol string) CloseResult {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	res := CloseResult{Symbol: symbol}
	eng, err := s.engineFor(ctx, userID)
	if err != nil {
		res.Envelope = fail(userMessage(err))
		return res
	}
	if !eng.ClosePosition(ctx, symbol, risk.CloseManual) {
		res.Envelope = fail("Failed to close position for " + symbol)
		return res
	}
	res.Envelope = ok()
	res.Message = "Position closed"
	return res
}
