package factor

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"

	"quantbt/internal/config"
	"quantbt/internal/errors"
	"quantbt/internal/logger"
	"quantbt/internal/market"
)

// Factor names used as scoring weight keys and frame columns.
const (
	NameVolatility       = "volatility"
	NameBeta             = "beta"
	NameATRPercent       = "atr_percent"
	NameMomentum         = "momentum"
	NameRSI              = "rsi"
	NameMACDHist         = "macd_hist"
	NameRelativeStrength = "relative_strength"
	NameQuality          = "quality"
)

// VarianceEpsilon is the variance floor below which a denominator is
// treated as degenerate.
const VarianceEpsilon = 1e-12

// Calculator computes per-instrument factors from price history.
// Methods window internally from the tail of the supplied history, so
// callers pass series truncated to the evaluation date and never
// anything after it.
type Calculator struct {
	cfg         config.FactorsConfig
	tradingDays int
	log         logger.Logger
}

// NewCalculator returns a calculator using the configured factor windows.
// tradingDays sets the annualization base for volatility.
func NewCalculator(cfg config.FactorsConfig, tradingDays int) *Calculator {
	if tradingDays <= 0 {
		tradingDays = 252
	}
	return &Calculator{
		cfg:         cfg,
		tradingDays: tradingDays,
		log:         logger.GetGlobalLogger().WithField("module", "factor"),
	}
}

// Volatility returns the annualized standard deviation of the trailing
// daily returns. Undefined with fewer than two return observations.
func (c *Calculator) Volatility(returns *market.Series) (float64, bool) {
	r := returns.Tail(c.cfg.VolatilityWindow)
	if r.Len() < 2 {
		return 0, false
	}
	return sampleStdDev(r.Values) * math.Sqrt(float64(c.tradingDays)), true
}

// Beta returns the covariance of instrument returns with benchmark
// returns divided by the benchmark variance, over the trailing window.
// The two series are inner-joined by date first, so missing days on
// either side never shift the pairing. Undefined when fewer than two
// joined observations remain or the benchmark variance degenerates.
func (c *Calculator) Beta(returns, benchmark *market.Series) (float64, bool) {
	ri, rb := market.InnerJoin(returns, benchmark)
	ri = ri.Tail(c.cfg.BetaWindow)
	rb = rb.Tail(c.cfg.BetaWindow)
	if ri.Len() < 2 {
		return 0, false
	}
	varB := sampleVariance(rb.Values)
	if varB < VarianceEpsilon {
		return 0, false
	}
	return sampleCovariance(ri.Values, rb.Values) / varB, true
}

// ATRPercent returns the mean true range over the window divided by the
// latest close. Needs window+1 bars so every true range has a previous
// close.
func (c *Calculator) ATRPercent(bars market.Bars) (float64, bool) {
	window := c.cfg.ATRWindow
	if len(bars) < window+1 {
		return 0, false
	}
	sma := trend.NewSmaWithPeriod[float64](window)
	smoothed := helper.ChanToSlice(sma.Compute(helper.SliceToChan(trueRanges(bars))))
	if len(smoothed) == 0 {
		return 0, false
	}
	last, _ := bars.Last()
	if last.Close <= 0 {
		return 0, false
	}
	return smoothed[len(smoothed)-1] / last.Close, true
}

// Momentum returns the compounded return over the trailing window.
func (c *Calculator) Momentum(closes *market.Series) (float64, bool) {
	return compoundedReturn(closes, c.cfg.MomentumWindow)
}

// RelativeStrength returns the ratio of compounded cumulative returns of
// the instrument against the benchmark over the trailing window. Both
// price series are inner-joined by date, so the compounding covers the
// same trading days on both sides even across sampling gaps.
func (c *Calculator) RelativeStrength(closes, benchmark *market.Series) (float64, bool) {
	pi, pb := market.InnerJoin(closes, benchmark)
	ri, ok := compoundedReturn(pi, c.cfg.RSWindow)
	if !ok {
		return 0, false
	}
	rb, ok := compoundedReturn(pb, c.cfg.RSWindow)
	if !ok {
		return 0, false
	}
	denom := 1 + rb
	if math.Abs(denom) < VarianceEpsilon {
		return 0, false
	}
	return (1 + ri) / denom, true
}

// MACD returns the EMA difference (dif), its signal line (dea) and the
// histogram 2*(dif-dea) at the latest date.
func (c *Calculator) MACD(closes *market.Series) (dif, dea, hist float64, ok bool) {
	if closes.Len() < c.cfg.MACDSlow+c.cfg.MACDSignal {
		return 0, 0, 0, false
	}
	macd := trend.NewMacdWithPeriod[float64](c.cfg.MACDFast, c.cfg.MACDSlow, c.cfg.MACDSignal)
	difCh, deaCh := macd.Compute(helper.SliceToChan(closes.Values))
	difs := helper.ChanToSlice(difCh)
	deas := helper.ChanToSlice(deaCh)
	if len(difs) == 0 || len(deas) == 0 {
		return 0, 0, 0, false
	}
	dif = difs[len(difs)-1]
	dea = deas[len(deas)-1]
	return dif, dea, 2 * (dif - dea), true
}

// RSI returns the Wilder relative strength index at the latest date.
func (c *Calculator) RSI(closes *market.Series) (float64, bool) {
	if closes.Len() < c.cfg.RSIWindow+1 {
		return 0, false
	}
	rsi := momentum.NewRsiWithPeriod[float64](c.cfg.RSIWindow)
	out := helper.ChanToSlice(rsi.Compute(helper.SliceToChan(closes.Values)))
	if len(out) == 0 {
		return 0, false
	}
	return out[len(out)-1], true
}

// CAGR annualizes the total growth of a value series. periods is the
// caller's elapsed period count and must agree with the series length;
// a mismatch means the caller's bookkeeping has drifted, which is a
// configuration fault rather than something to paper over.
func CAGR(values []float64, periods, periodsPerYear int) (float64, error) {
	if len(values) < 2 {
		return 0, errors.NewConfigurationError("CAGR needs at least two values")
	}
	if periods != len(values)-1 {
		return 0, errors.NewConfigurationError(fmt.Sprintf(
			"CAGR period count %d disagrees with series length %d", periods, len(values)))
	}
	if periodsPerYear <= 0 {
		return 0, errors.NewConfigurationError("periods per year must be positive")
	}
	first := values[0]
	last := values[len(values)-1]
	if first <= 0 || last <= 0 {
		return 0, errors.NewConfigurationError("CAGR requires positive start and end values")
	}
	return math.Pow(last/first, float64(periodsPerYear)/float64(periods)) - 1, nil
}

// QualityScore composes fundamentals into a 0-100 score, higher is
// better. ROE and profit growth count positively, debt ratio negatively,
// each linearly clamped. Zero-valued fields mean unreported and score a
// neutral 50, so thin metadata cannot sink an instrument.
func QualityScore(inst *market.Instrument) float64 {
	roe := clampScore(inst.ROE*100, 1)
	growth := clampScore(inst.ProfitGrowth*100, 1)
	debt := clampScore(inst.DebtRatio*100, -1)
	return 0.4*roe + 0.3*growth + 0.3*debt
}

func clampScore(pct float64, direction int) float64 {
	if pct == 0 || math.IsNaN(pct) || math.IsInf(pct, 0) {
		return 50
	}
	if direction < 0 {
		// 反向指标，越低越好
		if pct < 0 {
			return 80
		}
		if pct > 100 {
			return 20
		}
		return 100 - pct
	}
	return math.Max(0, math.Min(100, pct))
}

// Values holds one instrument's raw factor values on a date. Factors the
// history cannot support are absent from the map, never zero-filled.
type Values map[string]float64

// Frame is the factor cross-section for one evaluation date.
type Frame struct {
	Date   time.Time
	Values map[string]Values
}

// Symbols returns the frame's instruments sorted for deterministic
// iteration.
func (f *Frame) Symbols() []string {
	symbols := make([]string, 0, len(f.Values))
	for symbol := range f.Values {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// CrossSection pivots one factor across all instruments in the frame.
func (f *Frame) CrossSection(name string) map[string]float64 {
	section := make(map[string]float64, len(f.Values))
	for symbol, vals := range f.Values {
		if v, ok := vals[name]; ok {
			section[symbol] = v
		}
	}
	return section
}

// Compute derives the factor cross-section for every dataset symbol at
// date t, using history through t only. Instruments run concurrently up
// to the worker bound; each works on read-only history and results are
// collected under a lock, so the frame is identical regardless of
// scheduling. Instruments without usable history are skipped.
func (c *Calculator) Compute(ds *market.Dataset, t time.Time, workers int) *Frame {
	if workers < 1 {
		workers = 1
	}

	benchCloses := ds.BenchmarkThrough(t).CloseSeries()
	benchReturns := benchCloses.Returns()

	frame := &Frame{Date: t, Values: make(map[string]Values)}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, workers)
	)
	for _, symbol := range ds.Symbols() {
		wg.Add(1)
		sem <- struct{}{}
		go func(symbol string) {
			defer wg.Done()
			defer func() { <-sem }()

			vals := c.computeOne(ds, symbol, t, benchCloses, benchReturns)
			if len(vals) == 0 {
				c.log.Debug("该日期无可用历史，剔除", "symbol", symbol, "date", t.Format("2006-01-02"))
				return
			}
			mu.Lock()
			frame.Values[symbol] = vals
			mu.Unlock()
		}(symbol)
	}
	wg.Wait()

	return frame
}

func (c *Calculator) computeOne(ds *market.Dataset, symbol string, t time.Time, benchCloses, benchReturns *market.Series) Values {
	bars := ds.BarsThrough(symbol, t)
	if len(bars) == 0 {
		return nil
	}
	closes := bars.CloseSeries()
	returns := closes.Returns()

	vals := make(Values, 8)
	if v, ok := c.Volatility(returns); ok {
		vals[NameVolatility] = v
	}
	if v, ok := c.Beta(returns, benchReturns); ok {
		vals[NameBeta] = v
	}
	if v, ok := c.ATRPercent(bars); ok {
		vals[NameATRPercent] = v
	}
	if v, ok := c.Momentum(closes); ok {
		vals[NameMomentum] = v
	}
	if v, ok := c.RSI(closes); ok {
		vals[NameRSI] = v
	}
	if _, _, hist, ok := c.MACD(closes); ok {
		vals[NameMACDHist] = hist
	}
	if v, ok := c.RelativeStrength(closes, benchCloses); ok {
		vals[NameRelativeStrength] = v
	}
	if inst, ok := ds.Instrument(symbol); ok {
		vals[NameQuality] = QualityScore(inst)
	}
	return vals
}

// trueRanges computes max(high-low, |high-prevClose|, |prevClose-low|)
// per bar, starting from the second bar.
func trueRanges(bars market.Bars) []float64 {
	tr := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		h, l, pc := bars[i].High, bars[i].Low, bars[i-1].Close
		tr = append(tr, math.Max(h-l, math.Max(math.Abs(h-pc), math.Abs(pc-l))))
	}
	return tr
}

// compoundedReturn computes the product of (1+daily return) minus one
// over the last window returns. Needs the full window.
func compoundedReturn(closes *market.Series, window int) (float64, bool) {
	r := closes.Returns().Tail(window)
	if r.Len() < window {
		return 0, false
	}
	prod := 1.0
	for _, v := range r.Values {
		prod *= 1 + v
	}
	return prod - 1, true
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

func sampleVariance(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := sampleMean(values)
	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	return variance / float64(len(values)-1)
}

func sampleStdDev(values []float64) float64 {
	return math.Sqrt(sampleVariance(values))
}

func sampleCovariance(a, b []float64) float64 {
	if len(a) != len(b) || len(a) < 2 {
		return 0
	}
	meanA := sampleMean(a)
	meanB := sampleMean(b)
	cov := 0.0
	for i := range a {
		cov += (a[i] - meanA) * (b[i] - meanB)
	}
	return cov / float64(len(a)-1)
}
