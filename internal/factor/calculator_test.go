package factor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantbt/internal/config"
	"quantbt/internal/market"
)

func testFactorsConfig() config.FactorsConfig {
	return config.FactorsConfig{
		VolatilityWindow: 10,
		BetaWindow:       5,
		ATRWindow:        3,
		MomentumWindow:   2,
		RSWindow:         2,
		RSIWindow:        5,
		MACDFast:         3,
		MACDSlow:         5,
		MACDSignal:       2,
	}
}

func day(i int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
}

func seriesOf(t *testing.T, startDay int, vals ...float64) *market.Series {
	t.Helper()
	dates := make([]time.Time, len(vals))
	for i := range vals {
		dates[i] = day(startDay + i)
	}
	s, err := market.NewSeries(dates, vals)
	require.NoError(t, err)
	return s
}

func TestVolatility(t *testing.T) {
	calc := NewCalculator(testFactorsConfig(), 252)

	// 近10个交易日±1%交替：样本标准差0.01*sqrt(10/9)，年化×sqrt(252)
	vals := make([]float64, 10)
	for i := range vals {
		if i%2 == 0 {
			vals[i] = 0.01
		} else {
			vals[i] = -0.01
		}
	}
	v, ok := calc.Volatility(seriesOf(t, 0, vals...))
	require.True(t, ok)
	assert.InDelta(t, 0.16733, v, 5e-4)

	_, ok = calc.Volatility(seriesOf(t, 0, 0.01))
	assert.False(t, ok, "single observation must be undefined")
}

func TestVolatilityUsesTrailingWindow(t *testing.T) {
	calc := NewCalculator(testFactorsConfig(), 252)

	// 前段剧烈波动，窗口内平稳：结果只反映窗口内数据
	vals := make([]float64, 30)
	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			vals[i] = 0.10
		} else {
			vals[i] = -0.10
		}
	}
	for i := 20; i < 30; i++ {
		if i%2 == 0 {
			vals[i] = 0.01
		} else {
			vals[i] = -0.01
		}
	}
	v, ok := calc.Volatility(seriesOf(t, 0, vals...))
	require.True(t, ok)
	assert.InDelta(t, 0.16733, v, 5e-4)
}

func TestBetaInnerJoinsByDate(t *testing.T) {
	calc := NewCalculator(testFactorsConfig(), 252)

	benchVals := []float64{0.5, 0.01, -0.02, 0.015, 0.03, -0.01}
	bench := seriesOf(t, 0, benchVals...)

	// 个股缺首日：内连接后逐日对齐，beta恰为1.5。
	// 按位置对齐会把0.5错配进来，结果远离1.5。
	instVals := make([]float64, 5)
	for i, b := range benchVals[1:] {
		instVals[i] = 1.5 * b
	}
	inst := seriesOf(t, 1, instVals...)

	beta, ok := calc.Beta(inst, bench)
	require.True(t, ok)
	assert.InDelta(t, 1.5, beta, 1e-9)
}

func TestBetaDegenerateBenchmark(t *testing.T) {
	calc := NewCalculator(testFactorsConfig(), 252)

	bench := seriesOf(t, 0, 0.01, 0.01, 0.01, 0.01, 0.01)
	inst := seriesOf(t, 0, 0.02, -0.01, 0.03, 0.00, 0.01)

	_, ok := calc.Beta(inst, bench)
	assert.False(t, ok, "zero benchmark variance must be undefined")
}

func TestATRPercent(t *testing.T) {
	calc := NewCalculator(testFactorsConfig(), 252)

	// 每日高低点±0.5、收盘不变：真实波幅恒为1，ATR%=1/10
	bars := make(market.Bars, 5)
	for i := range bars {
		bars[i] = market.Bar{
			Date: day(i), Open: 10, High: 10.5, Low: 9.5, Close: 10,
			Volume: 1e6, Turnover: 1e7,
		}
	}
	v, ok := calc.ATRPercent(bars)
	require.True(t, ok)
	assert.InDelta(t, 0.1, v, 1e-9)

	_, ok = calc.ATRPercent(bars[:3])
	assert.False(t, ok, "needs window+1 bars")
}

func TestATRPercentGapDay(t *testing.T) {
	calc := NewCalculator(testFactorsConfig(), 252)

	// 跳空日真实波幅取|high-prevClose|
	bars := market.Bars{
		{Date: day(0), Open: 10, High: 10, Low: 10, Close: 10, Volume: 1e6},
		{Date: day(1), Open: 12, High: 12, Low: 12, Close: 12, Volume: 1e6},
		{Date: day(2), Open: 12, High: 12, Low: 12, Close: 12, Volume: 1e6},
		{Date: day(3), Open: 12, High: 12, Low: 12, Close: 12, Volume: 1e6},
	}
	v, ok := calc.ATRPercent(bars)
	require.True(t, ok)
	// TR = {2, 0, 0}，均值2/3，除以收盘12
	assert.InDelta(t, (2.0/3.0)/12.0, v, 1e-9)
}

func TestMomentumCompounded(t *testing.T) {
	calc := NewCalculator(testFactorsConfig(), 252)

	// +10%后-10%：复利(1.1*0.9-1)=-1%，单利求和则为0
	v, ok := calc.Momentum(seriesOf(t, 0, 100, 110, 99))
	require.True(t, ok)
	assert.InDelta(t, -0.01, v, 1e-9)

	_, ok = calc.Momentum(seriesOf(t, 0, 100, 110))
	assert.False(t, ok, "needs window+1 closes")
}

func TestRelativeStrength(t *testing.T) {
	calc := NewCalculator(testFactorsConfig(), 252)

	inst := seriesOf(t, 0, 100, 110, 121)
	bench := seriesOf(t, 0, 100, 100, 110)

	// (1.21)/(1.10)
	v, ok := calc.RelativeStrength(inst, bench)
	require.True(t, ok)
	assert.InDelta(t, 1.1, v, 1e-9)
}

func TestRelativeStrengthAcrossGap(t *testing.T) {
	cfg := testFactorsConfig()
	cfg.RSWindow = 1
	calc := NewCalculator(cfg, 252)

	// 个股停牌一日：内连接后两侧都按共同日期复利，比值为1
	instDates := []time.Time{day(0), day(2)}
	instSeries, err := market.NewSeries(instDates, []float64{100, 121})
	require.NoError(t, err)
	bench := seriesOf(t, 0, 100, 110, 121)

	v, ok := calc.RelativeStrength(instSeries, bench)
	require.True(t, ok)
	assert.InDelta(t, 1.0, v, 1e-9)
}

func TestMACD(t *testing.T) {
	calc := NewCalculator(testFactorsConfig(), 252)

	flat := make([]float64, 40)
	for i := range flat {
		flat[i] = 50
	}
	dif, dea, hist, ok := calc.MACD(seriesOf(t, 0, flat...))
	require.True(t, ok)
	assert.InDelta(t, 0, dif, 1e-9)
	assert.InDelta(t, 0, dea, 1e-9)
	assert.InDelta(t, 0, hist, 1e-9)

	rising := make([]float64, 40)
	for i := range rising {
		rising[i] = 50 + float64(i)
	}
	dif, _, _, ok = calc.MACD(seriesOf(t, 0, rising...))
	require.True(t, ok)
	assert.Greater(t, dif, 0.0, "uptrend must have positive dif")

	_, _, _, ok = calc.MACD(seriesOf(t, 0, flat[:5]...))
	assert.False(t, ok, "needs slow+signal closes")
}

func TestRSI(t *testing.T) {
	calc := NewCalculator(testFactorsConfig(), 252)

	rising := make([]float64, 20)
	for i := range rising {
		rising[i] = 50 + float64(i)
	}
	v, ok := calc.RSI(seriesOf(t, 0, rising...))
	require.True(t, ok)
	assert.Greater(t, v, 70.0)

	falling := make([]float64, 20)
	for i := range falling {
		falling[i] = 50 - float64(i)
	}
	v, ok = calc.RSI(seriesOf(t, 0, falling...))
	require.True(t, ok)
	assert.Less(t, v, 30.0)

	_, ok = calc.RSI(seriesOf(t, 0, rising[:4]...))
	assert.False(t, ok)
}

func TestCAGR(t *testing.T) {
	values := make([]float64, 253)
	for i := range values {
		values[i] = 100 + float64(i)*100.0/252.0
	}
	values[252] = 200

	v, err := CAGR(values, 252, 252)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, v, 1e-9)

	_, err = CAGR(values, 100, 252)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disagrees")

	_, err = CAGR([]float64{100}, 0, 252)
	assert.Error(t, err)

	_, err = CAGR([]float64{100, -5}, 1, 252)
	assert.Error(t, err, "non-positive values cannot be annualized")
}

func TestCAGRResamplingInvariance(t *testing.T) {
	// 同样的总收益与同样的经过时长，日频与周频年化结果一致
	daily := make([]float64, 505)
	for i := range daily {
		daily[i] = 100 * (1 + float64(i)/504)
	}
	weekly := make([]float64, 105)
	for i := range weekly {
		weekly[i] = 100 * (1 + float64(i)/104)
	}

	d, err := CAGR(daily, 504, 252)
	require.NoError(t, err)
	w, err := CAGR(weekly, 104, 52)
	require.NoError(t, err)
	assert.InDelta(t, d, w, 1e-9)
}

func TestQualityScore(t *testing.T) {
	inst := &market.Instrument{ROE: 0.15, ProfitGrowth: 0.10, DebtRatio: 0.60}
	// 0.4*15 + 0.3*10 + 0.3*(100-60)
	assert.InDelta(t, 21.0, QualityScore(inst), 1e-9)

	// 未披露的字段按中性50计
	assert.InDelta(t, 50.0, QualityScore(&market.Instrument{}), 1e-9)

	heavy := &market.Instrument{ROE: 0.15, ProfitGrowth: 0.10, DebtRatio: 1.5}
	// 负债率超100%按20分
	assert.InDelta(t, 0.4*15+0.3*10+0.3*20, QualityScore(heavy), 1e-9)
}

func testDataset(days int) *market.Dataset {
	mk := func(base, step float64) market.Bars {
		bars := make(market.Bars, days)
		for i := range bars {
			px := base + step*float64(i)
			bars[i] = market.Bar{
				Date: day(i), Open: px, High: px * 1.02, Low: px * 0.98, Close: px,
				Volume: 1e6, Turnover: px * 1e6,
			}
		}
		return bars
	}
	return &market.Dataset{
		Instruments: map[string]*market.Instrument{
			"600000": {Symbol: "600000", Sector: "Financials", ListingDate: day(-500), ROE: 0.11, ProfitGrowth: 0.05, DebtRatio: 0.62, PE: 8.5},
			"600519": {Symbol: "600519", Sector: "Consumer", ListingDate: day(-500), ROE: 0.28, ProfitGrowth: 0.15, DebtRatio: 0.20, PE: 32},
		},
		Bars: map[string]market.Bars{
			"600000": mk(10, 0.1),
			"600519": mk(1700, -2),
		},
		Benchmark: mk(100, 1),
		Excluded:  map[string]string{},
	}
}

func TestComputeFrameNoLookahead(t *testing.T) {
	calc := NewCalculator(testFactorsConfig(), 252)
	evalDate := day(30)

	frame := calc.Compute(testDataset(40), evalDate, 4)
	require.Len(t, frame.Values, 2)

	// 篡改评估日之后的数据不得影响评估日因子
	altered := testDataset(40)
	for _, symbol := range []string{"600000", "600519"} {
		bars := altered.Bars[symbol]
		for i := range bars {
			if bars[i].Date.After(evalDate) {
				bars[i].Close = 1e6
				bars[i].High = 2e6
				bars[i].Low = 1
			}
		}
	}
	for i := range altered.Benchmark {
		if altered.Benchmark[i].Date.After(evalDate) {
			altered.Benchmark[i].Close = 1e6
		}
	}

	frameAltered := calc.Compute(altered, evalDate, 4)
	assert.Equal(t, frame.Values, frameAltered.Values)
}

func TestComputeFrameDeterministic(t *testing.T) {
	calc := NewCalculator(testFactorsConfig(), 252)
	ds := testDataset(40)

	a := calc.Compute(ds, day(39), 8)
	b := calc.Compute(ds, day(39), 8)
	assert.Equal(t, a.Values, b.Values)
}

func TestComputeFrameSkipsEmptyHistory(t *testing.T) {
	calc := NewCalculator(testFactorsConfig(), 252)
	ds := testDataset(40)
	ds.Instruments["000001"] = &market.Instrument{Symbol: "000001", Sector: "Tech"}
	ds.Bars["000001"] = market.Bars{}

	frame := calc.Compute(ds, day(39), 4)
	_, present := frame.Values["000001"]
	assert.False(t, present, "symbol without bars must be excluded")

	vals := frame.Values["600000"]
	require.NotNil(t, vals)
	for _, name := range []string{NameVolatility, NameBeta, NameATRPercent, NameMomentum, NameRSI, NameMACDHist, NameRelativeStrength, NameQuality} {
		_, ok := vals[name]
		assert.True(t, ok, "factor %s should be defined with full history", name)
	}
}
