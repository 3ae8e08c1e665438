package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"signal-trader/internal/order"
	"signal-trader/pkg/db"
	"signal-trader/pkg/logging"
)

// DurableStore keeps one user's registry and history in sqlite. Every open
// row is stamped with the owning instance so a restarted or second process
// can tell whose trades it is looking at.
type DurableStore struct {
	trades *db.TradeQueries
	userID string
	owner  string
	now    func() time.Time
	log    logrus.FieldLogger
}

func NewDurableStore(database *db.Database, userID, owner string, log logrus.FieldLogger) *DurableStore {
	return &DurableStore{
		trades: database.Trades(),
		userID: userID,
		owner:  owner,
		now:    time.Now,
		log:    logging.OrDiscard(log).WithFields(logrus.Fields{"component": "trade_store", "user_id": userID}),
	}
}

func (s *DurableStore) Open(ctx context.Context, trade order.TradeExecution, max int) error {
	err := s.trades.AdmitOpenTrade(ctx, db.OpenTradeRow{
		UserID:   s.userID,
		Symbol:   trade.Symbol,
		TradeID:  trade.ID,
		Owner:    s.owner,
		OpenedAt: s.now(),
	}, max)
	if err != nil {
		return err
	}
	if err := s.trades.InsertTrade(ctx, trade.ToRecord(s.userID)); err != nil {
		if relErr := s.trades.ReleaseOpenTrade(ctx, s.userID, trade.Symbol); relErr != nil {
			s.log.WithError(relErr).WithField("symbol", trade.Symbol).Error("release slot after failed insert")
		}
		return err
	}
	return nil
}

func (s *DurableStore) openRow(ctx context.Context, symbol string) (*db.OpenTradeRow, error) {
	rows, err := s.trades.ListOpenTrades(ctx, s.userID)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].Symbol == symbol {
			return &rows[i], nil
		}
	}
	return nil, nil
}

func (s *DurableStore) Close(ctx context.Context, symbol string, c Closing) (order.TradeExecution, error) {
	row, err := s.openRow(ctx, symbol)
	if err != nil {
		return order.TradeExecution{}, err
	}
	if row == nil {
		return order.TradeExecution{}, ErrNotOpen
	}
	rec, err := s.trades.GetTrade(ctx, s.userID, row.TradeID)
	if err != nil {
		return order.TradeExecution{}, fmt.Errorf("load trade %s: %w", row.TradeID, err)
	}
	if err := s.trades.CloseTrade(ctx, s.userID, symbol, row.TradeID, c.ExitPrice, c.PnL, c.Reason, c.ClosedAt); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return order.TradeExecution{}, ErrNotOpen
		}
		return order.TradeExecution{}, err
	}
	return closeTrade(order.FromRecord(*rec), c), nil
}

func (s *DurableStore) Get(ctx context.Context, symbol string) (order.TradeExecution, bool, error) {
	row, err := s.openRow(ctx, symbol)
	if err != nil || row == nil {
		return order.TradeExecution{}, false, err
	}
	rec, err := s.trades.GetTrade(ctx, s.userID, row.TradeID)
	if err != nil {
		return order.TradeExecution{}, false, err
	}
	return order.FromRecord(*rec), true, nil
}

func (s *DurableStore) List(ctx context.Context) ([]order.TradeExecution, error) {
	rows, err := s.trades.ListOpenTrades(ctx, s.userID)
	if err != nil {
		return nil, err
	}
	out := make([]order.TradeExecution, 0, len(rows))
	for _, row := range rows {
		if row.Owner != s.owner {
			s.log.WithFields(logrus.Fields{"symbol": row.Symbol, "owner": row.Owner}).Debug("open trade held by another instance")
		}
		rec, err := s.trades.GetTrade(ctx, s.userID, row.TradeID)
		if err != nil {
			return nil, fmt.Errorf("load trade %s: %w", row.TradeID, err)
		}
		out = append(out, order.FromRecord(*rec))
	}
	return out, nil
}

func (s *DurableStore) Count(ctx context.Context) (int, error) {
	rows, err := s.trades.ListOpenTrades(ctx, s.userID)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (s *DurableStore) History(ctx context.Context) ([]order.TradeExecution, error) {
	recs, err := s.trades.ListTrades(ctx, s.userID, 0)
	if err != nil {
		return nil, err
	}
	out := make([]order.TradeExecution, 0, len(recs))
	for _, r := range recs {
		out = append(out, order.FromRecord(r))
	}
	return out, nil
}
