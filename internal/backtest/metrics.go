package backtest

import (
	"math"

	"quantbt/internal/config"
	"quantbt/internal/errors"
	"quantbt/internal/factor"
	"quantbt/internal/logger"
	"quantbt/internal/risk"
)

// PerformanceMetrics summarizes a completed run. Returns and ratios are
// annualized with the configured trading-day count; drawdowns are
// negative fractions.
type PerformanceMetrics struct {
	TotalReturn      float64   `json:"total_return"`
	AnnualizedReturn float64   `json:"annualized_return"`
	MonthlyReturns   []float64 `json:"monthly_returns"`

	Volatility          float64 `json:"volatility"`
	MaxDrawdown         float64 `json:"max_drawdown"`
	MaxDrawdownDuration int     `json:"max_drawdown_duration"`

	SharpeRatio      float64 `json:"sharpe_ratio"`
	SortinoRatio     float64 `json:"sortino_ratio"`
	CalmarRatio      float64 `json:"calmar_ratio"`
	InformationRatio float64 `json:"information_ratio"`

	TotalTrades  int     `json:"total_trades"`
	WinRate      float64 `json:"win_rate"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
	ProfitFactor float64 `json:"profit_factor"`

	AvgPositionDays float64 `json:"avg_position_days"`
	TurnoverRate    float64 `json:"turnover_rate"`
}

// computeMetrics derives the full metric set from the committed equity
// curve and trade log. The period count fed into annualization is the
// actual curve length, never an assumed constant.
func computeMetrics(curve []EquityPoint, trades []Trade, initialCapital float64, cfg config.BacktestConfig, log logger.Logger) PerformanceMetrics {
	m := PerformanceMetrics{TotalTrades: len(trades)}
	if len(curve) == 0 {
		return m
	}

	ppy := float64(cfg.TradingDaysPerYear)
	annualize := math.Sqrt(ppy)

	// 净值序列以期初资金打头，收益率与曲线点一一对应
	values := make([]float64, 0, len(curve)+1)
	values = append(values, initialCapital)
	returns := make([]float64, 0, len(curve))
	for _, pt := range curve {
		values = append(values, pt.Equity)
		returns = append(returns, pt.Return)
	}

	final := curve[len(curve)-1].Equity
	m.TotalReturn = final/initialCapital - 1

	annualized, err := factor.CAGR(values, len(curve), cfg.TradingDaysPerYear)
	if err != nil {
		log.Warn("年化收益不可计算", "error", err)
	} else {
		m.AnnualizedReturn = annualized
	}

	m.MonthlyReturns = monthlyReturns(curve)
	m.Volatility = sampleStdDev(returns) * annualize

	_, maxDD := risk.Drawdown(values)
	m.MaxDrawdown = maxDD
	m.MaxDrawdownDuration = drawdownDuration(values)

	rfPeriod := cfg.RiskFreeRate / ppy
	meanRet := sampleMean(returns)
	stdRet := sampleStdDev(returns)
	if stdRet > 0 {
		m.SharpeRatio = (meanRet - rfPeriod) / stdRet * annualize
	} else if len(returns) > 1 {
		degErr := errors.NewNumericDegeneracy("return series variance below epsilon", 0)
		log.Warn("收益序列波动率退化，夏普比率置零", "error", degErr)
	}

	downside := make([]float64, 0, len(returns))
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if downsideStd := sampleStdDev(downside); downsideStd > 0 {
		m.SortinoRatio = (meanRet - rfPeriod) / downsideStd * annualize
	}

	if maxDD < 0 {
		m.CalmarRatio = m.AnnualizedReturn / math.Abs(maxDD)
	}

	// 信息比率：相对基准的超额日收益
	excess := make([]float64, len(curve))
	for i, pt := range curve {
		excess[i] = pt.Return - pt.BenchmarkReturn
	}
	if excessStd := sampleStdDev(excess); excessStd > 0 {
		m.InformationRatio = sampleMean(excess) / excessStd * annualize
	}

	fillTradeStats(&m, trades)

	// 换手率：年化的成交额对平均净值之比
	avgEquity := 0.0
	for _, pt := range curve {
		avgEquity += pt.Equity
	}
	avgEquity /= float64(len(curve))
	totalVolume := 0.0
	for _, t := range trades {
		totalVolume += t.Notional
	}
	if avgEquity > 0 {
		m.TurnoverRate = totalVolume / avgEquity / float64(len(curve)) * ppy
	}

	return m
}

// fillTradeStats computes win/loss statistics from realized sell pnl.
func fillTradeStats(m *PerformanceMetrics, trades []Trade) {
	wins, losses := 0, 0
	grossProfit, grossLoss := 0.0, 0.0
	holdingDays, sells := 0, 0
	for _, t := range trades {
		if t.Side != risk.SideSell {
			continue
		}
		sells++
		holdingDays += t.HoldingDays
		switch {
		case t.PnL > 0:
			wins++
			grossProfit += t.PnL
		case t.PnL < 0:
			losses++
			grossLoss -= t.PnL
		}
	}
	if sells == 0 {
		return
	}
	m.WinRate = float64(wins) / float64(sells)
	if wins > 0 {
		m.AvgWin = grossProfit / float64(wins)
	}
	if losses > 0 {
		m.AvgLoss = -grossLoss / float64(losses)
	}
	switch {
	case grossLoss > 0:
		m.ProfitFactor = grossProfit / grossLoss
	case grossProfit > 0:
		m.ProfitFactor = grossProfit
	}
	m.AvgPositionDays = float64(holdingDays) / float64(sells)
}

// monthlyReturns compounds per-period returns within each calendar month,
// in date order.
func monthlyReturns(curve []EquityPoint) []float64 {
	var out []float64
	month := ""
	acc := 1.0
	for _, pt := range curve {
		key := pt.Date.Format("2006-01")
		if key != month {
			if month != "" {
				out = append(out, acc-1)
			}
			month = key
			acc = 1
		}
		acc *= 1 + pt.Return
	}
	if month != "" {
		out = append(out, acc-1)
	}
	return out
}

// drawdownDuration returns the longest run of consecutive periods spent
// below the running peak.
func drawdownDuration(values []float64) int {
	peak := math.Inf(-1)
	longest, current := 0, 0
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if v < peak {
			current++
			if current > longest {
				longest = current
			}
		} else {
			current = 0
		}
	}
	return longest
}

func sampleMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func sampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := sampleMean(values)
	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(values) - 1)
	return math.Sqrt(variance)
}
