package backtest

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"

	"quantbt/internal/config"
	"quantbt/internal/errors"
	"quantbt/internal/factor"
	"quantbt/internal/logger"
	"quantbt/internal/market"
	"quantbt/internal/regime"
	"quantbt/internal/risk"
	"quantbt/internal/selector"
	"quantbt/internal/sizer"
)

// minTradeWeight suppresses dust orders caused by mark drift between
// periods; weight deltas at or below this fraction of equity do not trade.
const minTradeWeight = 1e-4

// ProgressFunc receives per-period progress while a run executes.
type ProgressFunc func(done, total int, date time.Time)

// Engine drives the simulation strictly sequentially over trading dates:
// regime update, factor computation, selection, sizing, risk gating and
// execution at the date-t close. Period t+1 sees only state committed at
// the end of period t.
type Engine struct {
	cfg     *config.StrategyConfig
	ds      *market.Dataset
	calc    *factor.Calculator
	scorer  *factor.Scorer
	sel     *selector.Selector
	siz     *sizer.Sizer
	risk    *risk.Manager
	workers int
	log     logger.Logger

	// Progress, when set, is invoked after every committed period.
	Progress ProgressFunc
}

// runState carries everything mutable within one run, so an engine can
// execute multiple runs without state bleeding between them.
type runState struct {
	portfolio *Portfolio
	detector  *regime.Detector
	log       logger.Logger

	equities []float64
	curve    []EquityPoint
	trades   []Trade
	diags    []PeriodDiagnostics

	benchValue float64
	prevBench  float64
	halted     bool // 组合回撤止损后停止后续调仓
	seq        int
}

// NewEngine validates the configuration against the dataset and wires the
// pipeline components.
func NewEngine(cfg *config.StrategyConfig, ds *market.Dataset) (*Engine, error) {
	if cfg == nil {
		return nil, errors.NewConfigurationError("strategy config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.NewConfigurationError(err.Error())
	}
	if ds == nil || len(ds.Benchmark) == 0 {
		return nil, errors.NewBenchmarkError("benchmark series is required", nil)
	}
	if err := ds.Benchmark.Validate("benchmark"); err != nil {
		return nil, errors.NewBenchmarkError("benchmark series is invalid", err)
	}
	scorer, err := factor.NewScorer(cfg.Scoring)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:     cfg,
		ds:      ds,
		calc:    factor.NewCalculator(cfg.Factors, cfg.Backtest.TradingDaysPerYear),
		scorer:  scorer,
		sel:     selector.NewSelector(cfg.Selection, cfg.Scoring.Ascending),
		siz:     sizer.NewSizer(cfg.Sizing),
		risk:    risk.NewManager(cfg.Risk),
		workers: runtime.NumCPU(),
		log:     logger.GetGlobalLogger().WithField("module", "backtest"),
	}, nil
}

// Run executes the full benchmark calendar.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	return e.RunBetween(ctx, time.Time{}, time.Time{})
}

// RunBetween executes the benchmark calendar clipped to [start, end].
// Zero bounds are open-ended. Cancellation is honored between periods
// only, so a stopped run never leaves a half-applied period behind.
func (e *Engine) RunBetween(ctx context.Context, start, end time.Time) (*Result, error) {
	return e.RunWithID(ctx, uuid.New().String(), start, end)
}

// RunWithID executes like RunBetween under a caller-supplied run
// identifier, letting callers track the run before it completes.
func (e *Engine) RunWithID(ctx context.Context, runID string, start, end time.Time) (*Result, error) {
	dates := e.ds.CalendarBetween(start, end)
	if len(dates) == 0 {
		return nil, errors.NewDataError("benchmark", "no trading dates in range")
	}

	run := &runState{
		portfolio:  NewPortfolio(e.cfg.Backtest.InitialCapital),
		detector:   regime.NewDetector(e.cfg.Regime),
		log:        e.log.WithField("run_id", runID),
		benchValue: e.cfg.Backtest.InitialCapital,
	}

	started := time.Now()
	run.log.Info("回测开始",
		"strategy", e.cfg.Name,
		"periods", len(dates),
		"start", dates[0].Format("2006-01-02"),
		"end", dates[len(dates)-1].Format("2006-01-02"),
		"initial_capital", e.cfg.Backtest.InitialCapital)

	for i, t := range dates {
		select {
		case <-ctx.Done():
			run.log.Warn("回测被取消", "date", t.Format("2006-01-02"), "done", i, "total", len(dates))
			return nil, ctx.Err()
		default:
		}
		e.step(run, i, t)
		if e.Progress != nil {
			e.Progress(i+1, len(dates), t)
		}
	}

	final := run.portfolio.Equity()
	result := &Result{
		RunID:          runID,
		Strategy:       e.cfg.Name,
		StartDate:      dates[0],
		EndDate:        dates[len(dates)-1],
		Periods:        len(dates),
		InitialCapital: e.cfg.Backtest.InitialCapital,
		FinalEquity:    final,
		Metrics:        computeMetrics(run.curve, run.trades, e.cfg.Backtest.InitialCapital, e.cfg.Backtest, run.log),
		EquityCurve:    run.curve,
		Trades:         run.trades,
		Diagnostics:    run.diags,
	}

	run.log.Info("回测完成",
		"final_equity", final,
		"total_return", result.Metrics.TotalReturn,
		"max_drawdown", result.Metrics.MaxDrawdown,
		"trades", len(run.trades),
		"duration", time.Since(started).String())

	return result, nil
}

// step executes one period: mark to market, regime update, mandatory
// exits, rebalancing on cadence, then the equity commit.
func (e *Engine) step(run *runState, i int, t time.Time) {
	run.portfolio.Mark(e.ds, t)
	run.equities = append(run.equities, run.portfolio.Equity())

	diag := PeriodDiagnostics{Date: t}

	var bundle config.StageConfig
	haveBundle := false
	if e.cfg.Regime.Enabled {
		stage, _ := run.detector.Update(e.ds, t)
		diag.Stage = stage
		bundle, haveBundle = run.detector.Bundle()
	}

	rebalance := i%e.cfg.Backtest.RebalanceEvery == 0 && !run.halted

	// 组合级回撤止损：全部持仓强平，此后不再调仓
	if !run.halted {
		if dd, breached := e.risk.DrawdownStop(run.equities); breached {
			diag.Stops = append(diag.Stops, e.liquidate(run, t, dd)...)
			run.halted = true
			rebalance = false
			run.log.Error("组合回撤触发强制清仓",
				"date", t.Format("2006-01-02"),
				"drawdown", dd,
				"threshold", e.cfg.Risk.DrawdownStop)
		}
	}

	if e.cfg.Risk.ExitsFirst {
		diag.Stops = append(diag.Stops, e.applyStops(run, t)...)
	}
	if rebalance {
		e.rebalance(run, t, bundle, haveBundle, &diag)
	}
	if !e.cfg.Risk.ExitsFirst {
		diag.Stops = append(diag.Stops, e.applyStops(run, t)...)
	}

	e.commit(run, t, &diag)
}

// commit finalizes the period: overwrite the provisional equity mark with
// the post-trade value, append the curve point and run post-trade alerts.
func (e *Engine) commit(run *runState, t time.Time, diag *PeriodDiagnostics) {
	equity := run.portfolio.Equity()
	run.equities[len(run.equities)-1] = equity

	initial := e.cfg.Backtest.InitialCapital
	prev := initial
	if len(run.curve) > 0 {
		prev = run.curve[len(run.curve)-1].Equity
	}
	ret := 0.0
	if prev > 0 {
		ret = equity/prev - 1
	}

	benchReturn := 0.0
	if bar, ok := e.ds.BenchmarkThrough(t).Last(); ok {
		if run.prevBench > 0 {
			benchReturn = bar.Close/run.prevBench - 1
		}
		run.prevBench = bar.Close
	}
	run.benchValue *= 1 + benchReturn

	cumReturn := equity/initial - 1
	run.curve = append(run.curve, EquityPoint{
		Date:            t,
		Equity:          equity,
		Cash:            run.portfolio.Cash(),
		PositionsValue:  run.portfolio.PositionsValue(),
		Return:          ret,
		CumReturn:       cumReturn,
		BenchmarkValue:  run.benchValue,
		BenchmarkReturn: benchReturn,
		ExcessReturn:    cumReturn - (run.benchValue/initial - 1),
	})

	diag.Alerts = e.risk.PostTradeAlerts(run.equities, run.portfolio.Weights(), e.cfg.Backtest.TradingDaysPerYear)
	run.diags = append(run.diags, *diag)
}

// applyStops evaluates the mandatory exit rules for every open position
// and sells the full position of each triggered one at the date-t close.
// Halted instruments are skipped until they trade again.
func (e *Engine) applyStops(run *runState, t time.Time) []risk.StopSignal {
	var signals []risk.StopSignal
	for _, symbol := range run.portfolio.Symbols() {
		pos, _ := run.portfolio.Position(symbol)
		bar, ok := e.ds.BarOn(symbol, t)
		if !ok {
			run.log.Warn("持仓当日无行情，跳过止损检查", "symbol", symbol, "date", t.Format("2006-01-02"))
			continue
		}
		atrPct, atrOK := e.calc.ATRPercent(e.ds.BarsThrough(symbol, t))
		signal, triggered := e.risk.CheckStops(risk.Position{
			Symbol:     symbol,
			EntryPrice: pos.EntryPrice,
			HighWater:  pos.HighWater,
		}, bar.Close, atrPct*bar.Close, atrOK)
		if !triggered {
			continue
		}
		e.executeSell(run, t, symbol, pos.Quantity, bar.Close, signal.Rule)
		signals = append(signals, signal)
		run.log.Info("触发强制平仓",
			"symbol", symbol,
			"rule", signal.Rule,
			"date", t.Format("2006-01-02"),
			"reason", signal.Reason)
	}
	return signals
}

// liquidate force-sells every position after a portfolio drawdown breach.
// Halted instruments are cleared at their last mark so the book empties.
func (e *Engine) liquidate(run *runState, t time.Time, drawdown float64) []risk.StopSignal {
	reason := fmt.Sprintf("组合回撤%.1f%%触及止损线%.1f%%", -drawdown*100, e.cfg.Risk.DrawdownStop*100)
	var signals []risk.StopSignal
	for _, symbol := range run.portfolio.Symbols() {
		pos, _ := run.portfolio.Position(symbol)
		price, ok := e.ds.CloseOn(symbol, t)
		if !ok {
			price, _ = run.portfolio.LastClose(symbol)
		}
		if price <= 0 {
			continue
		}
		e.executeSell(run, t, symbol, pos.Quantity, price, risk.StopRuleDrawdown)
		signals = append(signals, risk.StopSignal{
			Symbol:  symbol,
			Rule:    risk.StopRuleDrawdown,
			Trigger: price,
			Reason:  reason,
		})
	}
	return signals
}

// rebalance runs the full pipeline for one period and executes the
// approved orders, sells before buys so freed cash funds the buys.
func (e *Engine) rebalance(run *runState, t time.Time, bundle config.StageConfig, haveBundle bool, diag *PeriodDiagnostics) {
	frame := e.calc.Compute(e.ds, t, e.workers)

	scorer := e.scorer
	var ov selector.Overrides
	exposure := 0.0
	if haveBundle {
		scorer = scorer.WithBias(bundle.FactorBias)
		ov = selector.Overrides{
			Limit:            bundle.MaxPositions,
			MaxBeta:          bundle.MaxBeta,
			PreferredSectors: bundle.PreferredSectors,
		}
		exposure = bundle.TargetExposure
	}

	scores := scorer.ScoreFrame(frame)
	report := e.sel.Select(e.ds, frame, scores, t, ov)
	diag.Selection = report

	targets := e.siz.Weights(report.Candidates, exposure)

	equity := run.portfolio.Equity()
	orders := e.buildOrders(run, t, report.Candidates, targets, equity)
	gate := e.risk.PreTradeGate(orders)
	diag.Rejections = gate.Rejected

	for _, o := range gate.Approved {
		if o.Side == risk.SideSell {
			e.executeRebalanceSell(run, t, o, equity)
		}
	}
	for _, o := range gate.Approved {
		if o.Side == risk.SideBuy {
			e.executeBuy(run, t, o, equity)
		}
	}
}

// buildOrders diffs target weights against current holdings. Sells come
// from held symbols in deterministic order; buys follow the candidate
// ranking, so higher-ranked names claim the risk budget first.
func (e *Engine) buildOrders(run *runState, t time.Time, candidates []selector.Candidate, targets map[string]float64, equity float64) []risk.Order {
	if equity <= 0 {
		return nil
	}
	weights := run.portfolio.Weights()

	var orders []risk.Order
	for _, symbol := range run.portfolio.Symbols() {
		if _, ok := e.ds.BarOn(symbol, t); !ok {
			run.log.Warn("持仓当日无行情，跳过调仓", "symbol", symbol, "date", t.Format("2006-01-02"))
			continue
		}
		target := targets[symbol]
		delta := target - weights[symbol]
		if delta < -minTradeWeight {
			pos, _ := run.portfolio.Position(symbol)
			orders = append(orders, risk.Order{
				Symbol: symbol,
				Sector: pos.Sector,
				Side:   risk.SideSell,
				Delta:  -delta,
				Target: target,
			})
		}
	}
	for _, c := range candidates {
		target := targets[c.Symbol]
		if target <= 0 {
			continue
		}
		if _, ok := e.ds.BarOn(c.Symbol, t); !ok {
			run.log.Warn("候选当日无行情，跳过买入", "symbol", c.Symbol, "date", t.Format("2006-01-02"))
			continue
		}
		delta := target - weights[c.Symbol]
		if delta > minTradeWeight {
			orders = append(orders, risk.Order{
				Symbol: c.Symbol,
				Sector: c.Sector,
				Side:   risk.SideBuy,
				Delta:  delta,
				Target: target,
			})
		}
	}
	return orders
}

// executeRebalanceSell converts an approved sell's weight delta into
// quantity at the date-t close. A sell down to zero target clears the
// whole position so no fractional residue survives.
func (e *Engine) executeRebalanceSell(run *runState, t time.Time, o risk.Order, equity float64) {
	pos, ok := run.portfolio.Position(o.Symbol)
	if !ok {
		return
	}
	price, ok := e.ds.CloseOn(o.Symbol, t)
	if !ok || price <= 0 {
		return
	}
	qty := o.Delta * equity / price
	if o.Target < minTradeWeight || qty > pos.Quantity {
		qty = pos.Quantity
	}
	e.executeSell(run, t, o.Symbol, qty, price, ReasonRebalance)
}

// executeSell fills a sell at the given price, crediting net proceeds and
// recording the trade with realized pnl.
func (e *Engine) executeSell(run *runState, t time.Time, symbol string, qty, price float64, reason string) {
	pos, ok := run.portfolio.Position(symbol)
	if !ok || qty <= 0 || price <= 0 {
		return
	}
	if qty > pos.Quantity {
		qty = pos.Quantity
	}
	holdingDays := int(t.Sub(pos.EntryDate).Hours() / 24)

	value := qty * price
	commission := value * e.cfg.Cost.CommissionRate
	slippage := value * e.cfg.Cost.SlippageRate
	pnl, pnlPct := run.portfolio.Sell(symbol, qty, value-commission-slippage)

	run.seq++
	run.trades = append(run.trades, Trade{
		Seq:         run.seq,
		Date:        t,
		Symbol:      symbol,
		Side:        risk.SideSell,
		Price:       price,
		Quantity:    qty,
		Notional:    value,
		Commission:  commission,
		Slippage:    slippage,
		Reason:      reason,
		PnL:         pnl,
		PnLPct:      pnlPct,
		HoldingDays: holdingDays,
	})
}

// executeBuy fills an approved buy at the date-t close. The quantity is
// grossed down by the combined cost rate so the total debit equals the
// intended spend and cash never goes negative.
func (e *Engine) executeBuy(run *runState, t time.Time, o risk.Order, equity float64) {
	price, ok := e.ds.CloseOn(o.Symbol, t)
	if !ok || price <= 0 {
		return
	}
	spend := o.Delta * equity
	if cash := run.portfolio.Cash(); spend > cash {
		spend = cash
	}
	costRate := e.cfg.Cost.CommissionRate + e.cfg.Cost.SlippageRate
	qty := spend / price / (1 + costRate)
	if qty <= quantityEpsilon {
		return
	}
	value := qty * price
	commission := value * e.cfg.Cost.CommissionRate
	slippage := value * e.cfg.Cost.SlippageRate
	run.portfolio.Buy(o.Symbol, o.Sector, t, qty, price, value+commission+slippage)

	run.seq++
	run.trades = append(run.trades, Trade{
		Seq:        run.seq,
		Date:       t,
		Symbol:     o.Symbol,
		Side:       risk.SideBuy,
		Price:      price,
		Quantity:   qty,
		Notional:   value,
		Commission: commission,
		Slippage:   slippage,
		Reason:     ReasonRebalance,
	})
}
