package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantbt/internal/market"
)

func TestPortfolioBuyBlendsEntryPrice(t *testing.T) {
	p := NewPortfolio(100_000)
	p.Buy("600010", "金融", day(0), 100, 10, 1000)
	p.Buy("600010", "金融", day(1), 100, 20, 2000)

	pos, ok := p.Position("600010")
	require.True(t, ok)
	assert.InDelta(t, 200, pos.Quantity, 1e-9)
	// 加仓后入场价按数量加权：(100*10+100*20)/200
	assert.InDelta(t, 15, pos.EntryPrice, 1e-9)
	assert.Equal(t, day(0), pos.EntryDate)
	assert.InDelta(t, 20, pos.HighWater, 1e-9)
	assert.InDelta(t, 97_000, p.Cash(), 1e-9)
}

func TestPortfolioSellRealizesPnLAgainstAverageCost(t *testing.T) {
	p := NewPortfolio(100_000)
	p.Buy("600010", "金融", day(0), 100, 10, 1000)

	pnl, pnlPct := p.Sell("600010", 40, 480)
	assert.InDelta(t, 80, pnl, 1e-9)
	assert.InDelta(t, 0.2, pnlPct, 1e-9)

	pos, ok := p.Position("600010")
	require.True(t, ok)
	assert.InDelta(t, 60, pos.Quantity, 1e-9)
	assert.InDelta(t, 10, pos.EntryPrice, 1e-9)

	pnl, _ = p.Sell("600010", 60, 540)
	assert.InDelta(t, -60, pnl, 1e-9)
	_, ok = p.Position("600010")
	assert.False(t, ok)
	assert.Zero(t, p.NumPositions())
	assert.InDelta(t, 100_000-1000+480+540, p.Cash(), 1e-9)
}

func TestPortfolioSellClampsToHeldQuantity(t *testing.T) {
	p := NewPortfolio(10_000)
	p.Buy("600010", "金融", day(0), 100, 10, 1000)

	pnl, _ := p.Sell("600010", 150, 1200)
	assert.InDelta(t, 200, pnl, 1e-9)
	_, ok := p.Position("600010")
	assert.False(t, ok)
}

func TestPortfolioMarkKeepsLastCloseWhenSuspended(t *testing.T) {
	bars := market.Bars{
		bar(day(0), 10, 0.1),
		bar(day(1), 12, 0.1),
		// day(2)停牌无行情
		bar(day(3), 9, 0.1),
	}
	ds := &market.Dataset{Bars: map[string]market.Bars{"600010": bars}}

	p := NewPortfolio(100_000)
	p.Buy("600010", "金融", day(0), 100, 10, 1000)

	assert.InDelta(t, 1200, p.Mark(ds, day(1)), 1e-9)
	pos, _ := p.Position("600010")
	assert.InDelta(t, 12, pos.HighWater, 1e-9)

	// 停牌日沿用前收盘
	assert.InDelta(t, 1200, p.Mark(ds, day(2)), 1e-9)

	// 复牌下跌不回撤高水位
	assert.InDelta(t, 900, p.Mark(ds, day(3)), 1e-9)
	assert.InDelta(t, 12, pos.HighWater, 1e-9)

	last, ok := p.LastClose("600010")
	require.True(t, ok)
	assert.InDelta(t, 9, last, 1e-9)
}

func TestPortfolioWeights(t *testing.T) {
	ds := &market.Dataset{Bars: map[string]market.Bars{
		"600010": {bar(day(0), 2, 0.1)},
		"600030": {bar(day(0), 4, 0.1)},
	}}

	p := NewPortfolio(1000)
	p.Buy("600010", "金融", day(0), 100, 2, 200)
	p.Buy("600030", "医药", day(0), 25, 4, 100)
	p.Mark(ds, day(0))

	assert.InDelta(t, 1000, p.Equity(), 1e-9)
	weights := p.Weights()
	assert.InDelta(t, 0.2, weights["600010"], 1e-9)
	assert.InDelta(t, 0.1, weights["600030"], 1e-9)

	total := 0.0
	for _, w := range weights {
		total += w
	}
	assert.InDelta(t, 1, total+p.Cash()/p.Equity(), 1e-9)
}

func TestPortfolioSymbolsSorted(t *testing.T) {
	p := NewPortfolio(10_000)
	now := time.Now()
	p.Buy("600070", "金融", now, 1, 1, 1)
	p.Buy("600010", "金融", now, 1, 1, 1)
	p.Buy("600030", "医药", now, 1, 1, 1)

	assert.Equal(t, []string{"600010", "600030", "600070"}, p.Symbols())
}
