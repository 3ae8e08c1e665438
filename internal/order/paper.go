package order

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"signal-trader/pkg/exchanges/common"
	"signal-trader/pkg/logging"
)

// PriceSource quotes the last traded price.
type PriceSource interface {
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// PaperConfig tunes the simulated account.
type PaperConfig struct {
	InitialBalance decimal.Decimal
	Asset          string
	FeeRate        decimal.Decimal // 0.0004 = 4 bps
	SlippageBps    float64
}

var ErrInsufficientMargin = errors.New("insufficient paper margin")

type paperPosition struct {
	amt      decimal.Decimal // signed: long > 0
	entry    decimal.Decimal
	leverage int
}

// PaperClient is an ExchangeClient that fills every order immediately at the
// quoted price. Balances move by realized P&L and fees only.
type PaperClient struct {
	ex     common.Exchange
	prices PriceSource
	cfg    PaperConfig

	mu        sync.Mutex
	balance   decimal.Decimal
	positions map[string]*paperPosition
	rng       *rand.Rand

	newID func() string
	now   func() time.Time
	log   logrus.FieldLogger
}

// NewPaperClient simulates ex on top of prices.
func NewPaperClient(ex common.Exchange, prices PriceSource, cfg PaperConfig, log logrus.FieldLogger) *PaperClient {
	if cfg.Asset == "" {
		cfg.Asset = "USDT"
	}
	return &PaperClient{
		ex:        ex,
		prices:    prices,
		cfg:       cfg,
		balance:   cfg.InitialBalance,
		positions: make(map[string]*paperPosition),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		newID:     func() string { return "paper-" + uuid.NewString() },
		now:       time.Now,
		log:       logging.OrDiscard(log).WithFields(logrus.Fields{"component": "paper", "exchange": ex}),
	}
}

func (p *PaperClient) Exchange() common.Exchange { return p.ex }

func (p *PaperClient) ValidateCredentials(ctx context.Context) bool {
	return common.ValidateByBalance(ctx, p, p.log)
}

func (p *PaperClient) marginLocked() decimal.Decimal {
	total := decimal.Zero
	for _, pos := range p.positions {
		lev := decimal.NewFromInt(int64(max(pos.leverage, 1)))
		total = total.Add(pos.amt.Abs().Mul(pos.entry).Div(lev))
	}
	return total
}

func (p *PaperClient) GetBalance(ctx context.Context) ([]common.Balance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	locked := p.marginLocked()
	free := p.balance.Sub(locked)
	if free.IsNegative() {
		free = decimal.Zero
	}
	return []common.Balance{{Asset: p.cfg.Asset, Free: free, Locked: locked, Total: p.balance}}, nil
}

func (p *PaperClient) GetPositions(ctx context.Context) ([]common.Position, error) {
	p.mu.Lock()
	symbols := make([]string, 0, len(p.positions))
	snap := make(map[string]paperPosition, len(p.positions))
	for sym, pos := range p.positions {
		symbols = append(symbols, sym)
		snap[sym] = *pos
	}
	p.mu.Unlock()
	sort.Strings(symbols)

	out := make([]common.Position, 0, len(symbols))
	for _, sym := range symbols {
		pos := snap[sym]
		mark, err := p.prices.CurrentPrice(ctx, sym)
		if err != nil {
			mark = pos.entry
		}
		upnl := mark.Sub(pos.entry).Mul(pos.amt)
		out = append(out, common.Position{
			Symbol:           sym,
			PositionAmt:      pos.amt,
			EntryPrice:       pos.entry,
			MarkPrice:        mark,
			UnrealizedProfit: upnl,
			Percentage:       common.PositionPercentage(upnl, pos.amt, pos.entry),
		})
	}
	return out, nil
}

func (p *PaperClient) fillPrice(ctx context.Context, req common.OrderRequest) (decimal.Decimal, error) {
	price := req.Price
	if req.Type == common.OrderTypeMarket {
		quote, err := p.prices.CurrentPrice(ctx, req.Symbol)
		if err != nil {
			return decimal.Zero, err
		}
		price = quote
	}
	if p.cfg.SlippageBps > 0 {
		noise := decimal.NewFromFloat(p.rng.Float64() * p.cfg.SlippageBps / 10000)
		if req.Side == common.SideBuy {
			price = price.Mul(decimal.NewFromInt(1).Add(noise))
		} else {
			price = price.Mul(decimal.NewFromInt(1).Sub(noise))
		}
	}
	return price, nil
}

func (p *PaperClient) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResponse, error) {
	req, err := req.Normalize()
	if err != nil {
		return common.OrderResponse{}, err
	}
	price, err := p.fillPrice(ctx, req)
	if err != nil {
		return common.OrderResponse{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	delta := req.Quantity
	if req.Side == common.SideSell {
		delta = delta.Neg()
	}
	pos := p.positions[req.Symbol]
	opening := pos == nil || pos.amt.Sign() == delta.Sign()
	if opening {
		lev := decimal.NewFromInt(int64(max(req.Leverage, 1)))
		need := req.Quantity.Mul(price).Div(lev)
		if free := p.balance.Sub(p.marginLocked()); need.GreaterThan(free) {
			return common.OrderResponse{}, fmt.Errorf("%w: need %s, free %s", ErrInsufficientMargin, need.StringFixed(2), free.StringFixed(2))
		}
	}

	fee := req.Quantity.Mul(price).Mul(p.cfg.FeeRate)
	p.balance = p.balance.Sub(fee)
	p.apply(req.Symbol, delta, price, req.Leverage)

	resp := common.OrderResponse{
		OrderID:   p.newID(),
		Symbol:    req.Symbol,
		Side:      req.Side,
		Quantity:  req.Quantity,
		Price:     price,
		Status:    common.StatusFilled,
		Timestamp: p.now().UnixMilli(),
		Exchange:  p.ex,
	}
	p.log.WithFields(logrus.Fields{
		"symbol":   req.Symbol,
		"side":     req.Side,
		"quantity": req.Quantity.String(),
		"price":    price.String(),
		"balance":  p.balance.StringFixed(2),
	}).Info("paper order filled")
	return resp, nil
}

// apply folds a signed fill into the position book, realizing P&L on the
// reduced part.
func (p *PaperClient) apply(symbol string, delta, price decimal.Decimal, leverage int) {
	pos, ok := p.positions[symbol]
	if !ok {
		p.positions[symbol] = &paperPosition{amt: delta, entry: price, leverage: leverage}
		return
	}
	if pos.amt.Sign() == delta.Sign() {
		notional := pos.amt.Mul(pos.entry).Add(delta.Mul(price))
		pos.amt = pos.amt.Add(delta)
		pos.entry = notional.Div(pos.amt)
		return
	}

	side := common.SideBuy
	if pos.amt.IsNegative() {
		side = common.SideSell
	}
	closing := decimal.Min(pos.amt.Abs(), delta.Abs())
	p.balance = p.balance.Add(CalculatePnL(side, closing, pos.entry, price, decimal.Zero))

	remaining := pos.amt.Add(delta)
	switch {
	case remaining.IsZero():
		delete(p.positions, symbol)
	case remaining.Sign() != pos.amt.Sign():
		p.positions[symbol] = &paperPosition{amt: remaining, entry: price, leverage: leverage}
	default:
		pos.amt = remaining
	}
}

// CancelOrder always fails: paper orders fill on placement.
func (p *PaperClient) CancelOrder(_ context.Context, _, orderID string) error {
	return fmt.Errorf("paper order %s already filled", orderID)
}
