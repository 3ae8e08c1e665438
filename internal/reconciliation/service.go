// Package reconciliation compares each user's open trades with the positions
// the venue reports and raises an alert on drift. It never mutates trades.
package reconciliation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"signal-trader/internal/order"
	"signal-trader/pkg/exchanges/common"
	"signal-trader/pkg/logging"
)

// Account is one user's trading view.
type Account interface {
	UserID() string
	OpenTrades(ctx context.Context) ([]order.TradeExecution, error)
	Positions(ctx context.Context) ([]common.Position, error)
}

// AccountSet lists the accounts to check.
type AccountSet interface {
	Accounts() []Account
}

// Alerter receives a message per report with drift.
type Alerter interface {
	Send(message string) error
}

// DiffKind classifies a mismatch.
type DiffKind string

const (
	// DiffMissingOnExchange: an open trade with no venue position.
	DiffMissingOnExchange DiffKind = "MISSING_ON_EXCHANGE"
	// DiffUntracked: a venue position no open trade accounts for.
	DiffUntracked DiffKind = "UNTRACKED"
	DiffQuantity  DiffKind = "QTY_MISMATCH"
)

// PositionDiff represents a position difference
type PositionDiff struct {
	UserID      string          `json:"userId"`
	Symbol      string          `json:"symbol"`
	Kind        DiffKind        `json:"kind"`
	LocalQty    decimal.Decimal `json:"localQty"`
	ExchangeQty decimal.Decimal `json:"exchangeQty"`
}

// Report is the result of one pass over every account.
type Report struct {
	Timestamp time.Time      `json:"timestamp"`
	Checked   int            `json:"checked"`
	Skipped   int            `json:"skipped"`
	Diffs     []PositionDiff `json:"diffs"`
}

func (r Report) HasDiffs() bool { return len(r.Diffs) > 0 }

// Service handles periodic reconciliation
type Service struct {
	Accounts  AccountSet
	Alerts    Alerter
	Interval  time.Duration
	Tolerance decimal.Decimal

	mu   sync.Mutex
	last Report
	log  logrus.FieldLogger
}

func NewService(accounts AccountSet, alerts Alerter, interval time.Duration, log logrus.FieldLogger) *Service {
	return &Service{
		Accounts:  accounts,
		Alerts:    alerts,
		Interval:  interval,
		Tolerance: decimal.RequireFromString("0.0001"),
		log:       logging.OrDiscard(log).WithField("component", "reconciliation"),
	}
}

// Start begins periodic reconciliation
func (s *Service) Start(ctx context.Context) {
	if s.Accounts == nil || s.Interval <= 0 {
		s.log.Warn("reconciliation not configured; skipping")
		return
	}
	go func() {
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.handleReport(s.Reconcile(ctx))
			}
		}
	}()
	s.log.WithField("interval", s.Interval).Info("reconciliation started")
}

// Reconcile checks every account once. Accounts whose venue cannot report
// positions, or whose reads fail, are counted as skipped.
func (s *Service) Reconcile(ctx context.Context) Report {
	report := Report{Timestamp: time.Now(), Diffs: []PositionDiff{}}
	for _, acct := range s.Accounts.Accounts() {
		diffs, err := s.reconcileAccount(ctx, acct)
		if err != nil {
			if !common.IsUnsupported(err) {
				s.log.WithError(err).WithField("user_id", acct.UserID()).Warn("reconciliation read failed")
			}
			report.Skipped++
			continue
		}
		report.Checked++
		report.Diffs = append(report.Diffs, diffs...)
	}

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
	return report
}

func (s *Service) reconcileAccount(ctx context.Context, acct Account) ([]PositionDiff, error) {
	positions, err := acct.Positions(ctx)
	if err != nil {
		return nil, err
	}
	trades, err := acct.OpenTrades(ctx)
	if err != nil {
		return nil, err
	}

	venue := make(map[string]decimal.Decimal, len(positions))
	for _, p := range positions {
		if !p.PositionAmt.IsZero() {
			venue[p.Symbol] = venue[p.Symbol].Add(p.PositionAmt)
		}
	}

	var diffs []PositionDiff
	for _, t := range trades {
		local := signedQty(t)
		ex, ok := venue[t.Symbol]
		delete(venue, t.Symbol)
		switch {
		case !ok:
			diffs = append(diffs, PositionDiff{UserID: acct.UserID(), Symbol: t.Symbol, Kind: DiffMissingOnExchange, LocalQty: local, ExchangeQty: decimal.Zero})
		case local.Sub(ex).Abs().GreaterThan(s.Tolerance):
			diffs = append(diffs, PositionDiff{UserID: acct.UserID(), Symbol: t.Symbol, Kind: DiffQuantity, LocalQty: local, ExchangeQty: ex})
		}
	}
	for sym, ex := range venue {
		diffs = append(diffs, PositionDiff{UserID: acct.UserID(), Symbol: sym, Kind: DiffUntracked, LocalQty: decimal.Zero, ExchangeQty: ex})
	}
	return diffs, nil
}

func signedQty(t order.TradeExecution) decimal.Decimal {
	if t.Action == common.SideSell {
		return t.Quantity.Neg()
	}
	return t.Quantity
}

// LastReport returns the most recent pass.
func (s *Service) LastReport() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Service) handleReport(report Report) {
	if !report.HasDiffs() {
		s.log.WithField("checked", report.Checked).Debug("reconciliation ok")
		return
	}
	for _, d := range report.Diffs {
		s.log.WithFields(logrus.Fields{
			"user_id":      d.UserID,
			"symbol":       d.Symbol,
			"kind":         d.Kind,
			"local_qty":    d.LocalQty.String(),
			"exchange_qty": d.ExchangeQty.String(),
		}).Warn("position drift")
	}
	if s.Alerts != nil {
		if err := s.Alerts.Send(fmt.Sprintf("reconciliation: %d position differences across %d accounts", len(report.Diffs), report.Checked)); err != nil {
			s.log.WithError(err).Error("send reconciliation alert")
		}
	}
}
