package backtest

import (
	"time"

	"quantbt/internal/regime"
	"quantbt/internal/risk"
	"quantbt/internal/selector"
)

// ReasonRebalance tags trades produced by regular rebalancing. Mandatory
// exits carry the triggering stop rule instead.
const ReasonRebalance = "rebalance"

// Trade is one immutable execution record. Seq is the run-scoped order of
// execution, so identical runs produce identical trade logs. PnL fields
// are populated on sells only, net of sell-side costs against average
// entry cost.
type Trade struct {
	Seq         int       `json:"seq"`
	Date        time.Time `json:"date"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Price       float64   `json:"price"`
	Quantity    float64   `json:"quantity"`
	Notional    float64   `json:"notional"`
	Commission  float64   `json:"commission"`
	Slippage    float64   `json:"slippage"`
	Reason      string    `json:"reason"`
	PnL         float64   `json:"pnl,omitempty"`
	PnLPct      float64   `json:"pnl_pct,omitempty"`
	HoldingDays int       `json:"holding_days,omitempty"`
}

// EquityPoint is one committed period of the equity curve.
type EquityPoint struct {
	Date            time.Time `json:"date"`
	Equity          float64   `json:"equity"`
	Cash            float64   `json:"cash"`
	PositionsValue  float64   `json:"positions_value"`
	Return          float64   `json:"return"`
	CumReturn       float64   `json:"cum_return"`
	BenchmarkValue  float64   `json:"benchmark_value"`
	BenchmarkReturn float64   `json:"benchmark_return"`
	ExcessReturn    float64   `json:"excess_return"`
}

// PeriodDiagnostics collects what the pipeline decided in one period:
// the effective market stage, the selection report when the period
// rebalanced, rejected orders, triggered stops and post-trade alerts.
type PeriodDiagnostics struct {
	Date       time.Time         `json:"date"`
	Stage      regime.Stage      `json:"stage,omitempty"`
	Selection  *selector.Report  `json:"selection,omitempty"`
	Rejections []risk.Rejection  `json:"rejections,omitempty"`
	Stops      []risk.StopSignal `json:"stops,omitempty"`
	Alerts     []risk.Alert      `json:"alerts,omitempty"`
}

// Result is the complete output of one run: identity, equity curve,
// trade log, per-period diagnostics and the derived performance metrics.
type Result struct {
	RunID          string              `json:"run_id"`
	Strategy       string              `json:"strategy"`
	StartDate      time.Time           `json:"start_date"`
	EndDate        time.Time           `json:"end_date"`
	Periods        int                 `json:"periods"`
	InitialCapital float64             `json:"initial_capital"`
	FinalEquity    float64             `json:"final_equity"`
	Metrics        PerformanceMetrics  `json:"metrics"`
	EquityCurve    []EquityPoint       `json:"equity_curve"`
	Trades         []Trade             `json:"trades"`
	Diagnostics    []PeriodDiagnostics `json:"diagnostics"`
}
