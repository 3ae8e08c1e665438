package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrSymbolOpen means the user already holds an open trade on the symbol.
	ErrSymbolOpen = errors.New("open trade already exists for symbol")
	// ErrCapacity means the user is at the open-trade limit.
	ErrCapacity = errors.New("open trade limit reached")
)

// TradeQueries persists trade history and the set of admitted open trades.
type TradeQueries struct {
	db *sql.DB
}

func NewTradeQueries(db *sql.DB) *TradeQueries {
	return &TradeQueries{db: db}
}

// ----------------------------------------
// Trade History
// ----------------------------------------

// InsertTrade appends a trade to the history.
func (q *TradeQueries) InsertTrade(ctx context.Context, t TradeRecord) error {
	if t.UserID == "" {
		return ErrUserIDRequired
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO trade_history (
			id, user_id, symbol, action, quantity, entry_price, stop_loss, take_profit,
			leverage, order_id, status, pnl, exit_price, close_reason, executed_at, closed_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.UserID, t.Symbol, t.Action, t.Quantity.String(), t.EntryPrice.String(),
		t.StopLoss.String(), t.TakeProfit.String(), t.Leverage, t.OrderID, t.Status,
		optDecimal(t.PnL), optDecimal(t.ExitPrice), t.CloseReason, t.ExecutedAt.UnixMilli(), optTime(t.ClosedAt))
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// CloseTrade records the exit of an open trade and frees its open-trade slot
// in one transaction. It returns ErrNotFound, and changes nothing, when the
// trade or its slot is missing.
func (q *TradeQueries) CloseTrade(ctx context.Context, userID, symbol, id string, exit, pnl decimal.Decimal, reason string, closedAt time.Time) error {
	if userID == "" {
		return ErrUserIDRequired
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin close: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE trade_history
		SET status = 'CLOSED', exit_price = ?, pnl = ?, close_reason = ?, closed_at = ?
		WHERE id = ? AND user_id = ?
	`, exit.String(), pnl.String(), reason, closedAt.UnixMilli(), id, userID)
	if err != nil {
		return fmt.Errorf("close trade: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	res, err = tx.ExecContext(ctx,
		`DELETE FROM open_trades WHERE user_id = ? AND symbol = ? AND trade_id = ?`, userID, symbol, id)
	if err != nil {
		return fmt.Errorf("release open trade: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// ListTrades returns a user's trades, oldest first. limit <= 0 means all.
func (q *TradeQueries) ListTrades(ctx context.Context, userID string, limit int) ([]TradeRecord, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	query := `
		SELECT id, user_id, symbol, action, quantity, entry_price, stop_loss, take_profit,
		       leverage, order_id, status, pnl, exit_price, close_reason, executed_at, closed_at
		FROM trade_history
		WHERE user_id = ?
		ORDER BY executed_at ASC, rowid ASC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTrade returns one trade of a user.
func (q *TradeQueries) GetTrade(ctx context.Context, userID, id string) (*TradeRecord, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	row := q.db.QueryRowContext(ctx, `
		SELECT id, user_id, symbol, action, quantity, entry_price, stop_loss, take_profit,
		       leverage, order_id, status, pnl, exit_price, close_reason, executed_at, closed_at
		FROM trade_history
		WHERE user_id = ? AND id = ?
	`, userID, id)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(s scanner) (TradeRecord, error) {
	var (
		t                             TradeRecord
		qty, entry, sl, tp, pnl, exit string
		executedAt, closedAt          int64
	)
	if err := s.Scan(&t.ID, &t.UserID, &t.Symbol, &t.Action, &qty, &entry, &sl, &tp,
		&t.Leverage, &t.OrderID, &t.Status, &pnl, &exit, &t.CloseReason, &executedAt, &closedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, err
		}
		return t, fmt.Errorf("scan trade: %w", err)
	}
	t.Quantity = parseDecimal(qty)
	t.EntryPrice = parseDecimal(entry)
	t.StopLoss = parseDecimal(sl)
	t.TakeProfit = parseDecimal(tp)
	t.PnL = parseOptDecimal(pnl)
	t.ExitPrice = parseOptDecimal(exit)
	t.ExecutedAt = time.UnixMilli(executedAt)
	if closedAt > 0 {
		ct := time.UnixMilli(closedAt)
		t.ClosedAt = &ct
	}
	return t, nil
}

// ----------------------------------------
// Open Trades
// ----------------------------------------

// AdmitOpenTrade records an open trade only if the user has no open trade on
// the symbol and holds fewer than max open trades. The check and the insert
// run in one transaction.
func (q *TradeQueries) AdmitOpenTrade(ctx context.Context, row OpenTradeRow, max int) error {
	if row.UserID == "" {
		return ErrUserIDRequired
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin admit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO open_trades (user_id, symbol, trade_id, owner, opened_at)
		SELECT ?, ?, ?, ?, ?
		WHERE (SELECT COUNT(*) FROM open_trades WHERE user_id = ?) < ?
		ON CONFLICT(user_id, symbol) DO NOTHING
	`, row.UserID, row.Symbol, row.TradeID, row.Owner, row.OpenedAt.UnixMilli(), row.UserID, max)
	if err != nil {
		return fmt.Errorf("admit open trade: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM open_trades WHERE user_id = ? AND symbol = ?`,
			row.UserID, row.Symbol).Scan(&exists); err != nil {
			return fmt.Errorf("check open trade: %w", err)
		}
		if exists > 0 {
			return ErrSymbolOpen
		}
		return ErrCapacity
	}
	return tx.Commit()
}

// ReleaseOpenTrade removes the open-trade slot of a symbol.
func (q *TradeQueries) ReleaseOpenTrade(ctx context.Context, userID, symbol string) error {
	if userID == "" {
		return ErrUserIDRequired
	}
	res, err := q.db.ExecContext(ctx, `DELETE FROM open_trades WHERE user_id = ? AND symbol = ?`, userID, symbol)
	if err != nil {
		return fmt.Errorf("release open trade: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListOpenTrades returns a user's admitted open trades.
func (q *TradeQueries) ListOpenTrades(ctx context.Context, userID string) ([]OpenTradeRow, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT user_id, symbol, trade_id, owner, opened_at
		FROM open_trades WHERE user_id = ?
		ORDER BY opened_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query open trades: %w", err)
	}
	defer rows.Close()

	var out []OpenTradeRow
	for rows.Next() {
		var (
			r        OpenTradeRow
			openedAt int64
		)
		if err := rows.Scan(&r.UserID, &r.Symbol, &r.TradeID, &r.Owner, &openedAt); err != nil {
			return nil, fmt.Errorf("scan open trade: %w", err)
		}
		r.OpenedAt = time.UnixMilli(openedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func optDecimal(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func optTime(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixMilli()
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseOptDecimal(s string) *decimal.Decimal {
	if s == "" {
		return nil
	}
	d := parseDecimal(s)
	return &d
}
