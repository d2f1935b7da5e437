package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"quantbt/internal/backtest"
	"quantbt/internal/errors"
)

// RunSummary is the listing row of one persisted run. Headline metrics
// are lifted into columns so listings never unpack the metrics blob.
type RunSummary struct {
	RunID          string    `json:"run_id"`
	Strategy       string    `json:"strategy"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	Periods        int       `json:"periods"`
	InitialCapital float64   `json:"initial_capital"`
	FinalEquity    float64   `json:"final_equity"`
	TotalReturn    float64   `json:"total_return"`
	MaxDrawdown    float64   `json:"max_drawdown"`
	SharpeRatio    float64   `json:"sharpe_ratio"`
	TradeCount     int       `json:"trade_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists and serves completed backtest results.
type Store struct {
	db         *DB
	queryTimer func(queryType string, elapsed time.Duration)
}

// NewStore creates a result store over an open warehouse connection.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// SetQueryTimer installs a per-query latency callback.
func (s *Store) SetQueryTimer(f func(queryType string, elapsed time.Duration)) {
	s.queryTimer = f
}

func (s *Store) observe(queryType string, started time.Time) {
	if s.queryTimer != nil {
		s.queryTimer(queryType, time.Since(started))
	}
}

// SaveResult persists one run atomically: the run row, then bulk-copied
// trades and equity points.
func (s *Store) SaveResult(ctx context.Context, result *backtest.Result) error {
	defer s.observe("save_result", time.Now())

	metricsJSON, err := json.Marshal(result.Metrics)
	if err != nil {
		return errors.NewAppError(errors.ErrCodeDBQuery, "序列化指标失败", err)
	}
	diagnosticsJSON, err := json.Marshal(result.Diagnostics)
	if err != nil {
		return errors.NewAppError(errors.ErrCodeDBQuery, "序列化诊断记录失败", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewAppError(errors.ErrCodeDBQuery, "开启事务失败", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, strategy, start_date, end_date, periods,
			initial_capital, final_equity, total_return, max_drawdown,
			sharpe_ratio, trade_count, metrics, diagnostics
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		result.RunID, result.Strategy, result.StartDate, result.EndDate,
		result.Periods, result.InitialCapital, result.FinalEquity,
		result.Metrics.TotalReturn, result.Metrics.MaxDrawdown,
		result.Metrics.SharpeRatio, len(result.Trades),
		metricsJSON, diagnosticsJSON)
	if err != nil {
		return errors.NewAppError(errors.ErrCodeDBQuery, "写入运行记录失败", err)
	}

	if err := s.copyTrades(ctx, tx, result.RunID, result.Trades); err != nil {
		return err
	}
	if err := s.copyEquityCurve(ctx, tx, result.RunID, result.EquityCurve); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.NewAppError(errors.ErrCodeDBQuery, "提交事务失败", err)
	}

	s.db.log.Info("运行结果已持久化",
		"run_id", result.RunID,
		"strategy", result.Strategy,
		"trades", len(result.Trades),
		"periods", result.Periods)
	return nil
}

func (s *Store) copyTrades(ctx context.Context, tx *sql.Tx, runID string, trades []backtest.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("trades",
		"run_id", "seq", "trade_date", "symbol", "side", "price",
		"quantity", "notional", "commission", "slippage", "reason",
		"pnl", "pnl_pct", "holding_days"))
	if err != nil {
		return errors.NewAppError(errors.ErrCodeDBQuery, "准备成交批量写入失败", err)
	}

	for _, trade := range trades {
		if _, err := stmt.ExecContext(ctx,
			runID, trade.Seq, trade.Date, trade.Symbol, trade.Side,
			trade.Price, trade.Quantity, trade.Notional, trade.Commission,
			trade.Slippage, trade.Reason, trade.PnL, trade.PnLPct,
			trade.HoldingDays); err != nil {
			stmt.Close()
			return errors.NewAppError(errors.ErrCodeDBQuery, "写入成交记录失败", err)
		}
	}
	// 空Exec冲刷COPY缓冲
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return errors.NewAppError(errors.ErrCodeDBQuery, "冲刷成交记录失败", err)
	}
	return stmt.Close()
}

func (s *Store) copyEquityCurve(ctx context.Context, tx *sql.Tx, runID string, curve []backtest.EquityPoint) error {
	if len(curve) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("equity_curve",
		"run_id", "point_date", "equity", "cash", "positions_value",
		"period_return", "cum_return", "benchmark_value",
		"benchmark_return", "excess_return"))
	if err != nil {
		return errors.NewAppError(errors.ErrCodeDBQuery, "准备净值批量写入失败", err)
	}

	for _, point := range curve {
		if _, err := stmt.ExecContext(ctx,
			runID, point.Date, point.Equity, point.Cash,
			point.PositionsValue, point.Return, point.CumReturn,
			point.BenchmarkValue, point.BenchmarkReturn,
			point.ExcessReturn); err != nil {
			stmt.Close()
			return errors.NewAppError(errors.ErrCodeDBQuery, "写入净值记录失败", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return errors.NewAppError(errors.ErrCodeDBQuery, "冲刷净值记录失败", err)
	}
	return stmt.Close()
}

// GetResult loads one complete run: run row, trade log and equity curve.
func (s *Store) GetResult(ctx context.Context, runID string) (*backtest.Result, error) {
	defer s.observe("get_result", time.Now())

	result := &backtest.Result{RunID: runID}
	var metricsJSON, diagnosticsJSON []byte

	err := s.db.QueryRowContext(ctx, `
		SELECT strategy, start_date, end_date, periods, initial_capital,
		       final_equity, metrics, diagnostics
		FROM runs WHERE run_id = $1`, runID).Scan(
		&result.Strategy, &result.StartDate, &result.EndDate,
		&result.Periods, &result.InitialCapital, &result.FinalEquity,
		&metricsJSON, &diagnosticsJSON)
	if err == sql.ErrNoRows {
		return nil, errors.NewAppError(errors.ErrCodeRunNotFound, "run "+runID+" not found", nil)
	}
	if err != nil {
		return nil, errors.NewAppError(errors.ErrCodeDBQuery, "查询运行记录失败", err)
	}

	if err := json.Unmarshal(metricsJSON, &result.Metrics); err != nil {
		return nil, errors.NewAppError(errors.ErrCodeDBQuery, "解析指标失败", err)
	}
	if len(diagnosticsJSON) > 0 {
		if err := json.Unmarshal(diagnosticsJSON, &result.Diagnostics); err != nil {
			return nil, errors.NewAppError(errors.ErrCodeDBQuery, "解析诊断记录失败", err)
		}
	}

	if result.Trades, err = s.GetTrades(ctx, runID); err != nil {
		return nil, err
	}
	if result.EquityCurve, err = s.GetEquityCurve(ctx, runID); err != nil {
		return nil, err
	}
	return result, nil
}

// ListRuns returns persisted run summaries newest first, optionally
// filtered by strategy.
func (s *Store) ListRuns(ctx context.Context, strategy string, limit, offset int) ([]*RunSummary, error) {
	defer s.observe("list_runs", time.Now())

	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT run_id, strategy, start_date, end_date, periods,
		       initial_capital, final_equity, total_return, max_drawdown,
		       sharpe_ratio, trade_count, created_at
		FROM runs`
	args := []interface{}{}
	if strategy != "" {
		query += " WHERE strategy = $1"
		args = append(args, strategy)
	}
	query += " ORDER BY created_at DESC, run_id"
	if strategy != "" {
		query += " LIMIT $2 OFFSET $3"
	} else {
		query += " LIMIT $1 OFFSET $2"
	}
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrCodeDBQuery, "查询运行列表失败", err)
	}
	defer rows.Close()

	summaries := make([]*RunSummary, 0)
	for rows.Next() {
		var rs RunSummary
		if err := rows.Scan(&rs.RunID, &rs.Strategy, &rs.StartDate,
			&rs.EndDate, &rs.Periods, &rs.InitialCapital, &rs.FinalEquity,
			&rs.TotalReturn, &rs.MaxDrawdown, &rs.SharpeRatio,
			&rs.TradeCount, &rs.CreatedAt); err != nil {
			return nil, errors.NewAppError(errors.ErrCodeDBQuery, "扫描运行列表失败", err)
		}
		summaries = append(summaries, &rs)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewAppError(errors.ErrCodeDBQuery, "遍历运行列表失败", err)
	}
	return summaries, nil
}

// HasRun reports whether a run row exists without loading it.
func (s *Store) HasRun(ctx context.Context, runID string) (bool, error) {
	defer s.observe("has_run", time.Now())

	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE run_id = $1`, runID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewAppError(errors.ErrCodeDBQuery, "查询运行记录失败", err)
	}
	return true, nil
}

// GetTrades returns a run's trade log in execution order.
func (s *Store) GetTrades(ctx context.Context, runID string) ([]backtest.Trade, error) {
	defer s.observe("get_trades", time.Now())

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, trade_date, symbol, side, price, quantity, notional,
		       commission, slippage, reason, pnl, pnl_pct, holding_days
		FROM trades WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrCodeDBQuery, "查询成交记录失败", err)
	}
	defer rows.Close()

	trades := make([]backtest.Trade, 0)
	for rows.Next() {
		var t backtest.Trade
		if err := rows.Scan(&t.Seq, &t.Date, &t.Symbol, &t.Side, &t.Price,
			&t.Quantity, &t.Notional, &t.Commission, &t.Slippage,
			&t.Reason, &t.PnL, &t.PnLPct, &t.HoldingDays); err != nil {
			return nil, errors.NewAppError(errors.ErrCodeDBQuery, "扫描成交记录失败", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewAppError(errors.ErrCodeDBQuery, "遍历成交记录失败", err)
	}
	return trades, nil
}

// GetEquityCurve returns a run's equity curve in date order.
func (s *Store) GetEquityCurve(ctx context.Context, runID string) ([]backtest.EquityPoint, error) {
	defer s.observe("get_equity_curve", time.Now())

	rows, err := s.db.QueryContext(ctx, `
		SELECT point_date, equity, cash, positions_value, period_return,
		       cum_return, benchmark_value, benchmark_return, excess_return
		FROM equity_curve WHERE run_id = $1 ORDER BY point_date`, runID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrCodeDBQuery, "查询净值曲线失败", err)
	}
	defer rows.Close()

	curve := make([]backtest.EquityPoint, 0)
	for rows.Next() {
		var p backtest.EquityPoint
		if err := rows.Scan(&p.Date, &p.Equity, &p.Cash, &p.PositionsValue,
			&p.Return, &p.CumReturn, &p.BenchmarkValue,
			&p.BenchmarkReturn, &p.ExcessReturn); err != nil {
			return nil, errors.NewAppError(errors.ErrCodeDBQuery, "扫描净值曲线失败", err)
		}
		curve = append(curve, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewAppError(errors.ErrCodeDBQuery, "遍历净值曲线失败", err)
	}
	return curve, nil
}

// DeleteRun removes one run and its dependent rows.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	defer s.observe("delete_run", time.Now())

	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = $1`, runID)
	if err != nil {
		return errors.NewAppError(errors.ErrCodeDBQuery, "删除运行记录失败", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.NewAppError(errors.ErrCodeDBQuery, "删除运行记录失败", err)
	}
	if affected == 0 {
		return errors.NewAppError(errors.ErrCodeRunNotFound, "run "+runID+" not found", nil)
	}

	s.db.log.Info("运行记录已删除", "run_id", runID)
	return nil
}
