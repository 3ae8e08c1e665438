package reconciliation

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/shopspring/decimal"

	"signal-trader/internal/order"
	"signal-trader/pkg/exchanges/common"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeAccount struct {
	id        string
	trades    []order.TradeExecution
	positions []common.Position
	posErr    error
}

func (a fakeAccount) UserID() string { return a.id }
func (a fakeAccount) OpenTrades(context.Context) ([]order.TradeExecution, error) {
	return a.trades, nil
}
func (a fakeAccount) Positions(context.Context) ([]common.Position, error) {
	return a.positions, a.posErr
}

type accounts []Account

func (a accounts) Accounts() []Account { return a }

type captureAlerts struct{ msgs []string }

func (c *captureAlerts) Send(m string) error {
	c.msgs = append(c.msgs, m)
	return nil
}

func TestReconcileClassifiesDrift(t *testing.T) {
	acct := fakeAccount{
		id: "u1",
		trades: []order.TradeExecution{
			{Symbol: "BTCUSDT", Action: common.SideBuy, Quantity: d("0.004")},
			{Symbol: "ETHUSDT", Action: common.SideSell, Quantity: d("1")},
			{Symbol: "SOLUSDT", Action: common.SideBuy, Quantity: d("10")},
		},
		positions: []common.Position{
			{Symbol: "BTCUSDT", PositionAmt: d("0.004")},
			{Symbol: "ETHUSDT", PositionAmt: d("-0.5")},
			{Symbol: "XRPUSDT", PositionAmt: d("100")},
			{Symbol: "DOGEUSDT", PositionAmt: d("0")},
		},
	}
	s := NewService(accounts{acct}, nil, 0, nil)
	report := s.Reconcile(context.Background())

	if report.Checked != 1 || report.Skipped != 0 {
		t.Fatalf("checked=%d skipped=%d, expected 1/0", report.Checked, report.Skipped)
	}
	got := map[string]DiffKind{}
	for _, diff := range report.Diffs {
		got[diff.Symbol] = diff.Kind
	}
	expected := map[string]DiffKind{
		"ETHUSDT": DiffQuantity,
		"SOLUSDT": DiffMissingOnExchange,
		"XRPUSDT": DiffUntracked,
	}
	if len(got) != len(expected) {
		keys := make([]string, 0, len(got))
		for k := range got {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		t.Fatalf("diffs=%v, expected %v", keys, expected)
	}
	for sym, kind := range expected {
		if got[sym] != kind {
			t.Fatalf("%s kind=%s, expected %s", sym, got[sym], kind)
		}
	}
	if !s.LastReport().HasDiffs() {
		t.Fatalf("last report not stored")
	}
}

func TestReconcileSkipsUnsupportedAndFailing(t *testing.T) {
	s := NewService(accounts{
		fakeAccount{id: "a", posErr: &common.UnsupportedOperationError{Exchange: common.KuCoin, Operation: "positions"}},
		fakeAccount{id: "b", posErr: errors.New("timeout")},
		fakeAccount{id: "c"},
	}, nil, 0, nil)
	report := s.Reconcile(context.Background())
	if report.Checked != 1 || report.Skipped != 2 || report.HasDiffs() {
		t.Fatalf("report=%+v, expected 1 checked, 2 skipped, no diffs", report)
	}
}

func TestHandleReportAlertsOnlyOnDrift(t *testing.T) {
	alerts := &captureAlerts{}
	s := NewService(accounts{}, alerts, 0, nil)

	s.handleReport(Report{Checked: 2})
	if len(alerts.msgs) != 0 {
		t.Fatalf("alerts=%d, expected none for clean report", len(alerts.msgs))
	}
	s.handleReport(Report{Checked: 1, Diffs: []PositionDiff{{Symbol: "BTCUSDT", Kind: DiffUntracked}}})
	if len(alerts.msgs) != 1 {
		t.Fatalf("alerts=%d, expected 1", len(alerts.msgs))
	}
}
