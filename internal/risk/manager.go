// Package risk implements the three risk-control tiers around rebalancing:
// the pre-trade order gate, mandatory per-position stop rules, and post-trade
// portfolio alerts. Every check is a pure function of its inputs; the
// backtest engine applies the returned decisions, this package never touches
// portfolio state.
package risk

import (
	"fmt"
	"math"
	"sort"

	"quantbt/internal/config"
	"quantbt/internal/errors"
	"quantbt/internal/logger"
)

// Order sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Stop rule identifiers, used as trade reason tags.
const (
	StopRuleTrailing   = "atr_trailing"
	StopRuleHardStop   = "hard_stop"
	StopRuleTakeProfit = "take_profit"
	StopRuleDrawdown   = "drawdown_stop"
)

// Alert types and severities.
const (
	AlertVolatility    = "volatility"
	AlertDrawdown      = "drawdown"
	AlertConcentration = "concentration"

	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// rollingVolWindow is the trailing return count for the post-trade
// volatility alert.
const rollingVolWindow = 20

// concentrationTopN is how many of the largest positions the concentration
// alert sums.
const concentrationTopN = 3

// capTolerance absorbs float noise when weights sit exactly on a limit.
const capTolerance = 1e-9

// Order is one rebalancing instruction submitted to the pre-trade gate.
// Delta is the traded weight fraction, Target the resulting portfolio weight.
type Order struct {
	Symbol string  `json:"symbol"`
	Sector string  `json:"sector"`
	Side   string  `json:"side"`
	Delta  float64 `json:"delta"`
	Target float64 `json:"target"`
}

// Rejection pairs a refused order with the limit it breached.
type Rejection struct {
	Order  Order  `json:"order"`
	Reason string `json:"reason"`
}

// GateResult splits a rebalance into executable and refused orders.
type GateResult struct {
	Approved []Order     `json:"approved"`
	Rejected []Rejection `json:"rejected,omitempty"`
}

// Position is the held-lot view the stop rules evaluate.
type Position struct {
	Symbol     string
	EntryPrice float64
	HighWater  float64 // 入场后最高价
}

// StopSignal is a mandatory exit decision for one position.
type StopSignal struct {
	Symbol  string  `json:"symbol"`
	Rule    string  `json:"rule"`
	Trigger float64 `json:"trigger"` // 触发价位
	Reason  string  `json:"reason"`
}

// Alert is a non-fatal portfolio risk notification.
type Alert struct {
	Type      string  `json:"type"`
	Severity  string  `json:"severity"`
	Message   string  `json:"message"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

// Manager evaluates the configured limits.
type Manager struct {
	cfg config.RiskConfig
	log logger.Logger
}

func NewManager(cfg config.RiskConfig) *Manager {
	return &Manager{
		cfg: cfg,
		log: logger.GetGlobalLogger().WithField("module", "risk"),
	}
}

// PreTradeGate screens rebalancing orders against the single-instrument cap,
// the sector cap and the per-period turnover budget. Sells always pass: the
// gate must never block risk reduction. Buys are checked in submission order
// and sector exposure and turnover accumulate as orders are approved, so
// when a budget binds it cuts off the lowest-ranked candidates first.
func (m *Manager) PreTradeGate(orders []Order) GateResult {
	var res GateResult

	turnover := 0.0
	for _, o := range orders {
		if o.Side == SideSell {
			turnover += o.Delta
			res.Approved = append(res.Approved, o)
		}
	}

	sectorTargets := map[string]float64{}
	for _, o := range orders {
		if o.Side == SideSell {
			continue
		}
		reason := ""
		switch {
		case m.cfg.MaxSingleWeight > 0 && o.Target > m.cfg.MaxSingleWeight+capTolerance:
			reason = fmt.Sprintf("目标权重%.4f超过单股上限%.4f", o.Target, m.cfg.MaxSingleWeight)
		case m.cfg.MaxSectorWeight > 0 && sectorTargets[o.Sector]+o.Target > m.cfg.MaxSectorWeight+capTolerance:
			reason = fmt.Sprintf("板块%s合计权重%.4f超过上限%.4f", o.Sector, sectorTargets[o.Sector]+o.Target, m.cfg.MaxSectorWeight)
		case m.cfg.MaxTurnover > 0 && turnover+o.Delta > m.cfg.MaxTurnover+capTolerance:
			reason = fmt.Sprintf("单期换手%.4f超过预算%.4f", turnover+o.Delta, m.cfg.MaxTurnover)
		}
		if reason != "" {
			breach := errors.NewRiskBreach(o.Symbol, reason)
			m.log.Warn("事前风控拒单", "symbol", o.Symbol, "error", breach.Error())
			res.Rejected = append(res.Rejected, Rejection{Order: o, Reason: reason})
			continue
		}
		sectorTargets[o.Sector] += o.Target
		turnover += o.Delta
		res.Approved = append(res.Approved, o)
	}

	return res
}

// CheckStops evaluates the mandatory exit rules for one position at the
// current price. atrOK reports whether atr carries a defined trailing ATR;
// without it the trailing rule falls back to the fixed retracement fraction.
// The hard stop is checked first so a crash through several lines is tagged
// with the most severe rule.
func (m *Manager) CheckStops(pos Position, price, atr float64, atrOK bool) (StopSignal, bool) {
	if pos.EntryPrice <= 0 || price <= 0 {
		return StopSignal{}, false
	}
	pnl := price/pos.EntryPrice - 1

	if m.cfg.StopLoss > 0 && pnl <= -m.cfg.StopLoss {
		line := pos.EntryPrice * (1 - m.cfg.StopLoss)
		return StopSignal{
			Symbol:  pos.Symbol,
			Rule:    StopRuleHardStop,
			Trigger: line,
			Reason:  fmt.Sprintf("亏损%.1f%%触发固定止损线%.1f%%", -pnl*100, m.cfg.StopLoss*100),
		}, true
	}
	if m.cfg.TakeProfit > 0 && pnl >= m.cfg.TakeProfit {
		line := pos.EntryPrice * (1 + m.cfg.TakeProfit)
		return StopSignal{
			Symbol:  pos.Symbol,
			Rule:    StopRuleTakeProfit,
			Trigger: line,
			Reason:  fmt.Sprintf("盈利%.1f%%触发止盈线%.1f%%", pnl*100, m.cfg.TakeProfit*100),
		}, true
	}

	hwm := math.Max(pos.HighWater, pos.EntryPrice)
	var line float64
	switch {
	case atrOK && m.cfg.ATRMultiplier > 0:
		line = hwm - m.cfg.ATRMultiplier*atr
	case m.cfg.TrailingStop > 0:
		line = hwm * (1 - m.cfg.TrailingStop)
	default:
		return StopSignal{}, false
	}
	if price <= line {
		return StopSignal{
			Symbol:  pos.Symbol,
			Rule:    StopRuleTrailing,
			Trigger: line,
			Reason:  fmt.Sprintf("价格%.2f跌破跟踪止损线%.2f(峰值%.2f)", price, line, hwm),
		}, true
	}
	return StopSignal{}, false
}

// DrawdownStop reports the current equity drawdown and whether it breaches
// the portfolio liquidation line. The engine treats a breach as a mandatory
// exit of every position.
func (m *Manager) DrawdownStop(equity []float64) (float64, bool) {
	current, _ := Drawdown(equity)
	if m.cfg.DrawdownStop > 0 && -current >= m.cfg.DrawdownStop {
		return current, true
	}
	return current, false
}

// PostTradeAlerts computes the rolling-volatility, drawdown and concentration
// alerts for the committed portfolio. tradingDays annualizes the volatility.
// Alerts are informational; the engine records and logs them but only the
// drawdown stop line (see DrawdownStop) forces action.
func (m *Manager) PostTradeAlerts(equity []float64, weights map[string]float64, tradingDays int) []Alert {
	var alerts []Alert

	if vol, ok := rollingVolatility(equity, rollingVolWindow, tradingDays); ok {
		if m.cfg.VolatilityCeiling > 0 && vol > m.cfg.VolatilityCeiling {
			alerts = append(alerts, Alert{
				Type:      AlertVolatility,
				Severity:  SeverityWarning,
				Message:   fmt.Sprintf("组合年化波动率%.1f%%超过上限%.1f%%", vol*100, m.cfg.VolatilityCeiling*100),
				Value:     vol,
				Threshold: m.cfg.VolatilityCeiling,
			})
		}
	}

	current, _ := Drawdown(equity)
	switch {
	case m.cfg.DrawdownStop > 0 && -current >= m.cfg.DrawdownStop:
		alerts = append(alerts, Alert{
			Type:      AlertDrawdown,
			Severity:  SeverityCritical,
			Message:   fmt.Sprintf("回撤%.1f%%触及止损线%.1f%%", -current*100, m.cfg.DrawdownStop*100),
			Value:     current,
			Threshold: -m.cfg.DrawdownStop,
		})
	case m.cfg.DrawdownWarning > 0 && -current >= m.cfg.DrawdownWarning:
		alerts = append(alerts, Alert{
			Type:      AlertDrawdown,
			Severity:  SeverityWarning,
			Message:   fmt.Sprintf("回撤%.1f%%接近止损线%.1f%%", -current*100, m.cfg.DrawdownStop*100),
			Value:     current,
			Threshold: -m.cfg.DrawdownWarning,
		})
	}

	if top := topConcentration(weights, concentrationTopN); m.cfg.ConcentrationAlert > 0 && top > m.cfg.ConcentrationAlert {
		alerts = append(alerts, Alert{
			Type:      AlertConcentration,
			Severity:  SeverityWarning,
			Message:   fmt.Sprintf("前%d大持仓合计%.1f%%超过告警阈值%.1f%%", concentrationTopN, top*100, m.cfg.ConcentrationAlert*100),
			Value:     top,
			Threshold: m.cfg.ConcentrationAlert,
		})
	}

	return alerts
}

// Drawdown returns the current and maximum peak-to-trough decline of an
// equity series, both as fractions <= 0.
func Drawdown(equity []float64) (current, max float64) {
	peak := math.Inf(-1)
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := v/peak - 1
			current = dd
			if dd < max {
				max = dd
			}
		}
	}
	return current, max
}

func rollingVolatility(equity []float64, window, tradingDays int) (float64, bool) {
	if len(equity) < 3 || tradingDays <= 0 {
		return 0, false
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] <= 0 {
			return 0, false
		}
		returns = append(returns, equity[i]/equity[i-1]-1)
	}
	if len(returns) > window {
		returns = returns[len(returns)-window:]
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)

	return math.Sqrt(variance) * math.Sqrt(float64(tradingDays)), true
}

// topConcentration sums the n largest weights. Values are sorted before
// summing so the result does not depend on map order.
func topConcentration(weights map[string]float64, n int) float64 {
	values := make([]float64, 0, len(weights))
	for _, w := range weights {
		values = append(values, w)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(values)))
	if len(values) > n {
		values = values[:n]
	}
	total := 0.0
	for _, w := range values {
		total += w
	}
	return total
}
