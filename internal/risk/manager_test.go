package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantbt/internal/config"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxSingleWeight:    0.10,
		MaxSectorWeight:    0.35,
		MaxTurnover:        2.0,
		StopLoss:           0.10,
		TakeProfit:         0.50,
		ATRMultiplier:      2.0,
		TrailingStop:       0.05,
		VolatilityCeiling:  0.45,
		DrawdownWarning:    0.15,
		DrawdownStop:       0.20,
		ConcentrationAlert: 0.50,
		ExitsFirst:         true,
	}
}

func buy(symbol, sector string, delta, target float64) Order {
	return Order{Symbol: symbol, Sector: sector, Side: SideBuy, Delta: delta, Target: target}
}

func sell(symbol, sector string, delta float64) Order {
	return Order{Symbol: symbol, Sector: sector, Side: SideSell, Delta: delta, Target: 0}
}

func TestPreTradeGateApprovesWithinLimits(t *testing.T) {
	m := NewManager(testRiskConfig())

	res := m.PreTradeGate([]Order{
		sell("600000", "金融", 0.08),
		buy("600010", "消费", 0.09, 0.09),
		buy("600020", "医药", 0.10, 0.10),
	})

	assert.Len(t, res.Approved, 3)
	assert.Empty(t, res.Rejected)
}

func TestPreTradeGateRejectsSingleWeightBreach(t *testing.T) {
	m := NewManager(testRiskConfig())

	res := m.PreTradeGate([]Order{
		buy("600010", "消费", 0.15, 0.15),
		buy("600020", "医药", 0.08, 0.08),
	})

	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "600010", res.Rejected[0].Order.Symbol)
	assert.Contains(t, res.Rejected[0].Reason, "单股上限")
	assert.Len(t, res.Approved, 1)
}

func TestPreTradeGateSectorBudgetKeepsEarlierOrders(t *testing.T) {
	m := NewManager(testRiskConfig())

	// 提交顺序即候选排名：板块预算耗尽时先拒排名靠后的
	res := m.PreTradeGate([]Order{
		buy("600000", "金融", 0.10, 0.10),
		buy("600010", "金融", 0.10, 0.10),
		buy("600020", "金融", 0.10, 0.10),
		buy("600030", "金融", 0.10, 0.10),
	})

	assert.Len(t, res.Approved, 3)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "600030", res.Rejected[0].Order.Symbol)
	assert.Contains(t, res.Rejected[0].Reason, "板块")
}

func TestPreTradeGateTurnoverBudget(t *testing.T) {
	cfg := testRiskConfig()
	cfg.MaxTurnover = 0.50
	cfg.MaxSectorWeight = 0 // 关闭板块上限，单测换手预算
	m := NewManager(cfg)

	res := m.PreTradeGate([]Order{
		sell("600000", "金融", 0.30),
		buy("600010", "消费", 0.10, 0.10),
		buy("600020", "医药", 0.10, 0.10),
		buy("600030", "科技", 0.10, 0.10),
	})

	// 卖单0.30先占预算，买单依次消耗，第三笔0.60超出0.50被拒
	assert.Len(t, res.Approved, 3)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "600030", res.Rejected[0].Order.Symbol)
	assert.Contains(t, res.Rejected[0].Reason, "换手")
}

func TestPreTradeGateSellsNeverBlocked(t *testing.T) {
	cfg := testRiskConfig()
	cfg.MaxTurnover = 0.10
	m := NewManager(cfg)

	res := m.PreTradeGate([]Order{
		sell("600000", "金融", 0.90),
		sell("600010", "消费", 0.50),
	})

	assert.Len(t, res.Approved, 2)
	assert.Empty(t, res.Rejected)
}

func TestCheckStopsHardStopAtBoundary(t *testing.T) {
	m := NewManager(testRiskConfig())
	// ATR放大让跟踪止损线(85)低于固定止损线(90)，单测固定止损边界
	pos := Position{Symbol: "600000", EntryPrice: 100, HighWater: 105}

	sig, ok := m.CheckStops(pos, 90, 10, true)
	require.True(t, ok)
	assert.Equal(t, StopRuleHardStop, sig.Rule)
	assert.InDelta(t, 90, sig.Trigger, 1e-9)

	_, ok = m.CheckStops(pos, 90.01, 10, true)
	assert.False(t, ok)
}

func TestCheckStopsTakeProfit(t *testing.T) {
	m := NewManager(testRiskConfig())
	pos := Position{Symbol: "600000", EntryPrice: 100, HighWater: 151}

	sig, ok := m.CheckStops(pos, 150, 10, true)
	require.True(t, ok)
	assert.Equal(t, StopRuleTakeProfit, sig.Rule)
}

func TestCheckStopsTrailingATR(t *testing.T) {
	// 峰值120、ATR=3、k=2：价格跌到114及以下触发
	m := NewManager(testRiskConfig())
	pos := Position{Symbol: "600000", EntryPrice: 100, HighWater: 120}

	_, ok := m.CheckStops(pos, 114.5, 3, true)
	assert.False(t, ok)

	sig, ok := m.CheckStops(pos, 114, 3, true)
	require.True(t, ok)
	assert.Equal(t, StopRuleTrailing, sig.Rule)
	assert.InDelta(t, 114, sig.Trigger, 1e-9)
}

func TestCheckStopsTrailingFallbackWithoutATR(t *testing.T) {
	m := NewManager(testRiskConfig())
	pos := Position{Symbol: "600000", EntryPrice: 150, HighWater: 200}

	// ATR缺失时按峰值回撤5%：线位190
	sig, ok := m.CheckStops(pos, 189, 0, false)
	require.True(t, ok)
	assert.Equal(t, StopRuleTrailing, sig.Rule)
	assert.InDelta(t, 190, sig.Trigger, 1e-9)

	_, ok = m.CheckStops(pos, 191, 0, false)
	assert.False(t, ok)
}

func TestCheckStopsHardStopTakesPrecedence(t *testing.T) {
	m := NewManager(testRiskConfig())
	pos := Position{Symbol: "600000", EntryPrice: 100, HighWater: 120}

	// 85同时跌破跟踪止损线114和固定止损线90，标记最严重的规则
	sig, ok := m.CheckStops(pos, 85, 3, true)
	require.True(t, ok)
	assert.Equal(t, StopRuleHardStop, sig.Rule)
}

func TestCheckStopsFreshPositionUsesEntryAsPeak(t *testing.T) {
	m := NewManager(testRiskConfig())
	pos := Position{Symbol: "600000", EntryPrice: 100, HighWater: 0}

	sig, ok := m.CheckStops(pos, 93, 3, true)
	require.True(t, ok)
	assert.Equal(t, StopRuleTrailing, sig.Rule)
	assert.InDelta(t, 94, sig.Trigger, 1e-9)
}

func TestDrawdown(t *testing.T) {
	current, max := Drawdown([]float64{100, 120, 90, 110})
	assert.InDelta(t, -1.0/12.0, current, 1e-9)
	assert.InDelta(t, -0.25, max, 1e-9)

	current, max = Drawdown([]float64{100, 110, 120})
	assert.InDelta(t, 0, current, 1e-9)
	assert.InDelta(t, 0, max, 1e-9)
}

func TestDrawdownStop(t *testing.T) {
	m := NewManager(testRiskConfig())

	dd, breached := m.DrawdownStop([]float64{100, 120, 90})
	assert.True(t, breached)
	assert.InDelta(t, -0.25, dd, 1e-9)

	_, breached = m.DrawdownStop([]float64{100, 120, 110})
	assert.False(t, breached)
}

func TestPostTradeAlertsQuietPortfolio(t *testing.T) {
	m := NewManager(testRiskConfig())
	equity := []float64{100, 100.1, 100.2, 100.3}
	weights := map[string]float64{"600000": 0.1, "600010": 0.1, "600020": 0.1}

	assert.Empty(t, m.PostTradeAlerts(equity, weights, 252))
}

func TestPostTradeAlertsVolatility(t *testing.T) {
	m := NewManager(testRiskConfig())
	// 日波动±10%，年化约159%
	equity := []float64{100, 110, 99, 108.9, 98, 107.8}

	alerts := m.PostTradeAlerts(equity, nil, 252)
	require.NotEmpty(t, alerts)
	assert.Equal(t, AlertVolatility, alerts[0].Type)
	assert.Equal(t, SeverityWarning, alerts[0].Severity)
}

func TestPostTradeAlertsDrawdownSeverity(t *testing.T) {
	m := NewManager(testRiskConfig())

	alerts := m.PostTradeAlerts([]float64{100, 100.2, 100.1, 84}, nil, 252)
	found := false
	for _, a := range alerts {
		if a.Type == AlertDrawdown {
			found = true
			assert.Equal(t, SeverityWarning, a.Severity)
		}
	}
	assert.True(t, found, "16%% drawdown must raise a warning")

	alerts = m.PostTradeAlerts([]float64{100, 100.2, 100.1, 75}, nil, 252)
	found = false
	for _, a := range alerts {
		if a.Type == AlertDrawdown {
			found = true
			assert.Equal(t, SeverityCritical, a.Severity)
		}
	}
	assert.True(t, found, "25%% drawdown must raise a critical alert")
}

func TestPostTradeAlertsConcentration(t *testing.T) {
	m := NewManager(testRiskConfig())
	weights := map[string]float64{
		"600000": 0.30, "600010": 0.25, "600020": 0.20, "600030": 0.05,
	}

	alerts := m.PostTradeAlerts([]float64{100, 100.1, 100.2}, weights, 252)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertConcentration, alerts[0].Type)
	assert.InDelta(t, 0.75, alerts[0].Value, 1e-9)
}
