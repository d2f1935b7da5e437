package regime

import (
	"math"
	"time"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"

	"quantbt/internal/config"
	"quantbt/internal/logger"
	"quantbt/internal/market"
)

// Stage identifies the bull-market phase of the broad market.
type Stage string

const (
	StageStartup     Stage = "startup"     // 启动期
	StageMainTrend   Stage = "main_trend"  // 主升期
	StageDiffusion   Stage = "diffusion"   // 扩散期
	StageTermination Stage = "termination" // 终结期
	StageUnknown     Stage = "unknown"
)

// stageOrder fixes vote iteration so argmax ties break the same way on
// every run.
var stageOrder = []Stage{StageStartup, StageMainTrend, StageDiffusion, StageTermination}

// Classification thresholds for the four-stage vote.
const (
	maShort  = 5
	maMedium = 20
	maLong   = 60

	volumeBaseMultiplier  = 1.5
	volumeAccelerateRatio = 2.0

	momentumMain      = 0.15
	momentumDiffusion = 0.10
	momentumStartup   = 0.05

	breadthMain        = 0.75
	breadthStartup     = 0.55
	breadthTermination = 0.25

	turnoverSlowInflow = 0.05

	volExpansionRatio   = 1.5
	volContractionRatio = 0.8
)

// minHistory is the shortest index history that supports every
// indicator (60-day momentum needs 61 closes).
const minHistory = maLong + 1

// Indicators is the per-date snapshot the classification is derived
// from, kept for diagnostics and logging.
type Indicators struct {
	VolumeRatio     float64           `json:"volume_ratio"`
	VolumeTrend     string            `json:"volume_trend"`
	MAStatus        string            `json:"ma_status"`
	Momentum20      float64           `json:"momentum_20"`
	Momentum60      float64           `json:"momentum_60"`
	Breadth         float64           `json:"breadth"`
	TurnoverGrowth  float64           `json:"turnover_growth"`
	VolatilityRatio float64           `json:"volatility_ratio"`
	Scores          map[Stage]float64 `json:"scores"`
	Confidence      float64           `json:"confidence"`
}

// Detector classifies the market stage from index history and smooths
// transitions with a minimum-duration rule so a single noisy period
// cannot flip the regime.
type Detector struct {
	cfg config.RegimeConfig
	log logger.Logger

	current Stage
	pending Stage
	streak  int
}

// NewDetector returns a detector in the unknown stage. The first
// classification is adopted immediately; later switches require
// MinDuration consecutive conflicting periods.
func NewDetector(cfg config.RegimeConfig) *Detector {
	return &Detector{
		cfg:     cfg,
		log:     logger.GetGlobalLogger().WithField("module", "regime"),
		current: StageUnknown,
	}
}

// Current returns the effective smoothed stage.
func (d *Detector) Current() Stage {
	return d.current
}

// Bundle returns the configuration bundle for the effective stage.
func (d *Detector) Bundle() (config.StageConfig, bool) {
	sc, ok := d.cfg.Stages[string(d.current)]
	return sc, ok
}

// Update classifies the period ending at t and advances the smoothed
// stage. It returns the effective stage and the raw indicators.
func (d *Detector) Update(ds *market.Dataset, t time.Time) (Stage, *Indicators) {
	raw, ind := d.Classify(ds, t)

	switch {
	case raw == StageUnknown:
		// 历史不足时维持现状
		d.pending = StageUnknown
		d.streak = 0
	case d.current == StageUnknown:
		d.current = raw
		d.pending = StageUnknown
		d.streak = 0
	case raw == d.current:
		d.pending = StageUnknown
		d.streak = 0
	default:
		if raw == d.pending {
			d.streak++
		} else {
			d.pending = raw
			d.streak = 1
		}
		if d.cfg.MinDuration <= 1 || d.streak >= d.cfg.MinDuration {
			d.log.Info("市场阶段切换",
				"from", string(d.current),
				"to", string(raw),
				"streak", d.streak,
				"date", t.Format("2006-01-02"))
			d.current = raw
			d.pending = StageUnknown
			d.streak = 0
		}
	}

	return d.current, ind
}

// Classify computes the raw stage vote for the window ending at t. It
// never mutates detector state, so callers can probe hypothetical dates.
func (d *Detector) Classify(ds *market.Dataset, t time.Time) (Stage, *Indicators) {
	bars := ds.BenchmarkThrough(t)
	if len(bars) < minHistory {
		return StageUnknown, nil
	}

	ind := d.computeIndicators(ds, bars, t)
	stage := d.vote(ind)
	return stage, ind
}

func (d *Detector) computeIndicators(ds *market.Dataset, bars market.Bars, t time.Time) *Indicators {
	closes := bars.CloseSeries().Values
	volumes := bars.VolumeSeries().Values
	turnovers := bars.TurnoverSeries().Values
	returns := bars.CloseSeries().Returns()

	ind := &Indicators{VolumeRatio: 1, VolatilityRatio: 1}

	// 成交量
	volMA5 := lastSMA(volumes, maShort)
	volMA20 := lastSMA(volumes, maMedium)
	if volMA20 > 0 {
		ind.VolumeRatio = volumes[len(volumes)-1] / volMA20
	}
	switch {
	case volMA5 > volMA20*1.2:
		ind.VolumeTrend = "increasing"
	case volMA5 < volMA20*0.8:
		ind.VolumeTrend = "decreasing"
	default:
		ind.VolumeTrend = "stable"
	}

	// 均线排列
	ma5 := smaSeries(closes, maShort)
	ma20 := smaSeries(closes, maMedium)
	ma60 := smaSeries(closes, maLong)
	last5 := ma5[len(ma5)-1]
	last20 := ma20[len(ma20)-1]
	last60 := ma60[len(ma60)-1]
	switch {
	case last5 > last20 && last20 > last60:
		ind.MAStatus = "bullish"
	case last5 < last20 && last20 < last60:
		ind.MAStatus = "bearish"
	default:
		ind.MAStatus = "neutral"
	}

	// 动量（复利口径）
	ind.Momentum20 = compounded(returns.Values, maMedium)
	ind.Momentum60 = compounded(returns.Values, maLong)

	// 市场宽度：近5日上涨家数占比
	ind.Breadth = breadth(ds, t)

	// 成交额扩张
	toMA5 := lastSMA(turnovers, maShort)
	toMA20 := lastSMA(turnovers, maMedium)
	if toMA20 > 0 {
		ind.TurnoverGrowth = toMA5/toMA20 - 1
	}

	// 波动率区制：短期/长期实际波动
	shortVol := stdDevTail(returns.Values, maMedium)
	longVol := stdDevTail(returns.Values, maLong)
	if longVol > 0 {
		ind.VolatilityRatio = shortVol / longVol
	}

	return ind
}

// vote accumulates the weighted stage votes and picks the argmax.
func (d *Detector) vote(ind *Indicators) Stage {
	scores := map[Stage]float64{
		StageStartup:     0,
		StageMainTrend:   0,
		StageDiffusion:   0,
		StageTermination: 0,
	}

	// 成交量 (权重25)
	if ind.VolumeTrend == "increasing" {
		switch {
		case ind.VolumeRatio > volumeAccelerateRatio:
			scores[StageMainTrend] += 20
			scores[StageDiffusion] += 15
		case ind.VolumeRatio > volumeBaseMultiplier:
			scores[StageStartup] += 15
			scores[StageMainTrend] += 15
		default:
			scores[StageStartup] += 10
		}
	} else {
		scores[StageTermination] += 15
	}

	// 均线排列 (权重25)
	switch ind.MAStatus {
	case "bullish":
		scores[StageMainTrend] += 20
		scores[StageDiffusion] += 15
		scores[StageStartup] += 10
	case "bearish":
		scores[StageTermination] += 20
	default:
		scores[StageStartup] += 10
	}

	// 动量 (权重25)，阈值从高到低判定
	switch {
	case ind.Momentum20 > momentumMain:
		scores[StageMainTrend] += 20
		scores[StageDiffusion] += 15
	case ind.Momentum20 > momentumDiffusion:
		scores[StageDiffusion] += 20
	case ind.Momentum20 > momentumStartup:
		scores[StageStartup] += 15
		scores[StageMainTrend] += 10
	case ind.Momentum20 > 0:
		scores[StageTermination] += 10
	default:
		scores[StageTermination] += 20
	}

	// 市场宽度 (权重15)
	switch {
	case ind.Breadth > breadthMain:
		scores[StageMainTrend] += 15
		scores[StageDiffusion] += 10
	case ind.Breadth > breadthStartup:
		scores[StageStartup] += 10
		scores[StageMainTrend] += 5
	case ind.Breadth < breadthTermination:
		scores[StageTermination] += 15
	default:
		scores[StageDiffusion] += 10
	}

	// 资金流入（成交额扩张代理，权重10）
	switch {
	case ind.TurnoverGrowth > turnoverSlowInflow:
		scores[StageMainTrend] += 10
		scores[StageDiffusion] += 5
	case ind.TurnoverGrowth > 0:
		scores[StageStartup] += 5
	default:
		scores[StageTermination] += 10
	}

	// 波动率区制 (权重10)
	switch {
	case ind.VolatilityRatio > volExpansionRatio:
		scores[StageTermination] += 10
		scores[StageDiffusion] += 5
	case ind.VolatilityRatio < volContractionRatio:
		scores[StageStartup] += 5
	default:
		scores[StageMainTrend] += 5
	}

	ind.Scores = scores

	total := 0.0
	for _, stage := range stageOrder {
		total += scores[stage]
	}
	if total <= 0 {
		ind.Confidence = 0
		return StageUnknown
	}

	best := StageUnknown
	top, second := 0.0, 0.0
	for _, stage := range stageOrder {
		s := scores[stage]
		if s > top {
			second = top
			top = s
			best = stage
		} else if s > second {
			second = s
		}
	}
	ind.Confidence = (top - second) / total * 100

	return best
}

// breadth returns the fraction of instruments whose close rose over the
// last five trading days of their own history through t. Neutral 0.5
// when nothing is countable.
func breadth(ds *market.Dataset, t time.Time) float64 {
	counted, advancing := 0, 0
	for _, symbol := range ds.Symbols() {
		bars := ds.BarsThrough(symbol, t)
		if len(bars) < maShort+1 {
			continue
		}
		counted++
		if bars[len(bars)-1].Close > bars[len(bars)-1-maShort].Close {
			advancing++
		}
	}
	if counted == 0 {
		return 0.5
	}
	return float64(advancing) / float64(counted)
}

// smaSeries computes the simple moving average and returns the emitted
// values (the leading idle period is dropped by the indicator).
func smaSeries(values []float64, period int) []float64 {
	sma := trend.NewSmaWithPeriod[float64](period)
	return helper.ChanToSlice(sma.Compute(helper.SliceToChan(values)))
}

func lastSMA(values []float64, period int) float64 {
	out := smaSeries(values, period)
	if len(out) == 0 {
		return 0
	}
	return out[len(out)-1]
}

func compounded(returns []float64, window int) float64 {
	if len(returns) < window {
		return 0
	}
	prod := 1.0
	for _, r := range returns[len(returns)-window:] {
		prod *= 1 + r
	}
	return prod - 1
}

func stdDevTail(values []float64, window int) float64 {
	if len(values) < window {
		return 0
	}
	tail := values[len(values)-window:]
	mean := 0.0
	for _, v := range tail {
		mean += v
	}
	mean /= float64(len(tail))
	variance := 0.0
	for _, v := range tail {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(tail) - 1)
	return math.Sqrt(variance)
}
