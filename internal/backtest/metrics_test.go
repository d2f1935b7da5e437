package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"quantbt/internal/config"
	"quantbt/internal/logger"
	"quantbt/internal/risk"
)

func point(t time.Time, equity, ret float64) EquityPoint {
	return EquityPoint{Date: t, Equity: equity, Return: ret}
}

func TestComputeMetricsBasics(t *testing.T) {
	cfg := config.DefaultStrategyConfig().Backtest
	curve := []EquityPoint{
		point(day(0), 1100, 0.1),
		point(day(1), 990, -0.1),
		point(day(2), 1089, 0.1),
	}

	m := computeMetrics(curve, nil, 1000, cfg, logger.GetGlobalLogger())

	assert.InDelta(t, 0.089, m.TotalReturn, 1e-9)
	assert.InEpsilon(t, math.Pow(1.089, 252.0/3)-1, m.AnnualizedReturn, 1e-9)
	assert.InDelta(t, -0.1, m.MaxDrawdown, 1e-9)
	assert.Equal(t, 2, m.MaxDrawdownDuration)

	annualize := math.Sqrt(252.0)
	mean := (0.1 - 0.1 + 0.1) / 3
	std := math.Sqrt((2*math.Pow(0.1-mean, 2) + math.Pow(-0.1-mean, 2)) / 2)
	assert.InEpsilon(t, std*annualize, m.Volatility, 1e-9)
	assert.InEpsilon(t, (mean-0.03/252)/std*annualize, m.SharpeRatio, 1e-9)

	// 单个下行收益样本方差退化，索提诺比率置零
	assert.Zero(t, m.SortinoRatio)
	assert.InEpsilon(t, m.AnnualizedReturn/0.1, m.CalmarRatio, 1e-9)
	// 基准收益为零时信息比率退化为不含无风险利率的夏普
	assert.InEpsilon(t, mean/std*annualize, m.InformationRatio, 1e-9)
}

func TestComputeMetricsFlatCurve(t *testing.T) {
	cfg := config.DefaultStrategyConfig().Backtest
	curve := []EquityPoint{
		point(day(0), 1000, 0),
		point(day(1), 1000, 0),
		point(day(2), 1000, 0),
	}

	m := computeMetrics(curve, nil, 1000, cfg, logger.GetGlobalLogger())

	assert.Zero(t, m.TotalReturn)
	assert.Zero(t, m.AnnualizedReturn)
	assert.Zero(t, m.Volatility)
	assert.Zero(t, m.SharpeRatio)
	assert.Zero(t, m.MaxDrawdown)
	assert.Zero(t, m.CalmarRatio)
}

func TestComputeMetricsEmptyCurve(t *testing.T) {
	cfg := config.DefaultStrategyConfig().Backtest
	m := computeMetrics(nil, nil, 1000, cfg, logger.GetGlobalLogger())
	assert.Equal(t, PerformanceMetrics{}, m)
}

func TestComputeMetricsTurnover(t *testing.T) {
	cfg := config.DefaultStrategyConfig().Backtest
	curve := []EquityPoint{
		point(day(0), 1000, 0),
		point(day(1), 1000, 0),
	}
	trades := []Trade{
		{Side: risk.SideBuy, Notional: 100},
		{Side: risk.SideSell, Notional: 150},
	}

	m := computeMetrics(curve, trades, 1000, cfg, logger.GetGlobalLogger())

	assert.Equal(t, 2, m.TotalTrades)
	// 成交额250对平均净值1000，两期年化到252期
	assert.InDelta(t, 250.0/1000/2*252, m.TurnoverRate, 1e-9)
}

func TestFillTradeStats(t *testing.T) {
	trades := []Trade{
		{Side: risk.SideBuy, Notional: 1000},
		{Side: risk.SideSell, PnL: 100, HoldingDays: 10},
		{Side: risk.SideSell, PnL: -50, HoldingDays: 20},
		{Side: risk.SideSell, PnL: 60, HoldingDays: 30},
	}

	var m PerformanceMetrics
	fillTradeStats(&m, trades)

	assert.InDelta(t, 2.0/3, m.WinRate, 1e-9)
	assert.InDelta(t, 80, m.AvgWin, 1e-9)
	assert.InDelta(t, -50, m.AvgLoss, 1e-9)
	assert.InDelta(t, 3.2, m.ProfitFactor, 1e-9)
	assert.InDelta(t, 20, m.AvgPositionDays, 1e-9)
}

func TestFillTradeStatsNoLosses(t *testing.T) {
	trades := []Trade{
		{Side: risk.SideSell, PnL: 100, HoldingDays: 5},
		{Side: risk.SideSell, PnL: 20, HoldingDays: 15},
	}

	var m PerformanceMetrics
	fillTradeStats(&m, trades)

	assert.InDelta(t, 1.0, m.WinRate, 1e-9)
	// 无亏损时以总盈利充当盈亏比，避免除零
	assert.InDelta(t, 120, m.ProfitFactor, 1e-9)
	assert.Zero(t, m.AvgLoss)
}

func TestMonthlyReturnsCompoundWithinMonth(t *testing.T) {
	curve := []EquityPoint{
		point(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), 0, 0.1),
		point(time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), 0, 0.1),
		point(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), 0, -0.05),
		point(time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC), 0, 0),
	}

	months := monthlyReturns(curve)
	assert.Len(t, months, 2)
	assert.InDelta(t, 0.21, months[0], 1e-9)
	assert.InDelta(t, -0.05, months[1], 1e-9)
}

func TestDrawdownDuration(t *testing.T) {
	assert.Equal(t, 0, drawdownDuration([]float64{100, 101, 102}))
	assert.Equal(t, 3, drawdownDuration([]float64{100, 90, 95, 101, 98, 97, 99, 102}))
	assert.Equal(t, 2, drawdownDuration([]float64{100, 90, 95}))
}
