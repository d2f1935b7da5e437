// Package selector implements the three-stage candidate filter that turns a
// scored factor cross-section into a ranked buy list. Every instrument in the
// universe ends up either in the candidate list or in the exclusion map with
// the stage that removed it, so a report always accounts for the full
// universe.
package selector

import (
	"fmt"
	"sort"
	"time"

	"quantbt/internal/config"
	"quantbt/internal/factor"
	"quantbt/internal/logger"
	"quantbt/internal/market"
)

// Filter stage identifiers recorded in exclusion diagnostics.
const (
	StageLiquidity   = "liquidity"   // 流动性与上市时间
	StageFundamental = "fundamental" // 财务质量
	StageRisk        = "risk"        // 波动率与Beta上限
	StageScore       = "score"       // 综合评分缺失
)

// liquidityWindow is the trailing bar count behind the average daily
// turnover test.
const liquidityWindow = 20

// Exclusion records why an instrument fell out of the pipeline.
type Exclusion struct {
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// Candidate is one ranked survivor. Volatility and beta are carried along so
// sizing and risk checks do not recompute them.
type Candidate struct {
	Symbol     string  `json:"symbol"`
	Score      float64 `json:"score"`
	Volatility float64 `json:"volatility"`
	Beta       float64 `json:"beta"`
	Sector     string  `json:"sector"`
}

// StageCounts tracks survivor counts through the pipeline.
type StageCounts struct {
	Universe         int `json:"universe"`
	AfterLiquidity   int `json:"after_liquidity"`
	AfterFundamental int `json:"after_fundamental"`
	AfterRisk        int `json:"after_risk"`
}

// Report is the full outcome of one selection run.
type Report struct {
	Date       time.Time            `json:"date"`
	Counts     StageCounts          `json:"counts"`
	Candidates []Candidate          `json:"candidates"`
	Excluded   map[string]Exclusion `json:"excluded,omitempty"`
}

// Overrides carries the active regime bundle's per-period adjustments. Zero
// values fall back to the configured thresholds.
type Overrides struct {
	Limit            int      // 候选数上限
	MaxBeta          float64  // 贝塔上限
	PreferredSectors []string // 优先配置板块
}

// Selector applies the configured thresholds stage by stage.
type Selector struct {
	cfg       config.SelectionConfig
	ascending bool
	log       logger.Logger
}

// NewSelector creates a selector. ascending controls the final ranking
// direction and mirrors the scoring configuration: true keeps the lowest
// composite scores.
func NewSelector(cfg config.SelectionConfig, ascending bool) *Selector {
	return &Selector{
		cfg:       cfg,
		ascending: ascending,
		log:       logger.GetGlobalLogger().WithField("module", "selector"),
	}
}

// Select runs the pipeline over every loaded instrument as of t. The regime
// bundle's position limit, beta ceiling and sector preference arrive through
// ov. Fewer than the limit candidates are returned without padding when
// fewer survive.
func (s *Selector) Select(ds *market.Dataset, frame *factor.Frame, scores map[string]float64, t time.Time, ov Overrides) *Report {
	limit := ov.Limit
	if limit < 1 {
		limit = s.cfg.TopN
	}
	maxBeta := s.cfg.MaxBeta
	if ov.MaxBeta > 0 {
		maxBeta = ov.MaxBeta
	}
	preferred := map[string]bool{}
	for _, sector := range ov.PreferredSectors {
		preferred[sector] = true
	}
	report := &Report{
		Date:     t,
		Excluded: map[string]Exclusion{},
	}

	// 第一步：流动性与上市时间
	var survivors []string
	for _, symbol := range ds.Symbols() {
		report.Counts.Universe++
		if reason := s.checkLiquidity(ds, symbol, t); reason != "" {
			report.Excluded[symbol] = Exclusion{Stage: StageLiquidity, Reason: reason}
			continue
		}
		survivors = append(survivors, symbol)
	}
	report.Counts.AfterLiquidity = len(survivors)

	// 第二步：财务质量
	next := survivors[:0]
	for _, symbol := range survivors {
		if reason := s.checkFundamental(ds, symbol); reason != "" {
			report.Excluded[symbol] = Exclusion{Stage: StageFundamental, Reason: reason}
			continue
		}
		next = append(next, symbol)
	}
	survivors = next
	report.Counts.AfterFundamental = len(survivors)

	// 第三步：风险画像上限
	next = survivors[:0]
	for _, symbol := range survivors {
		if reason := s.checkRisk(frame, symbol, maxBeta); reason != "" {
			report.Excluded[symbol] = Exclusion{Stage: StageRisk, Reason: reason}
			continue
		}
		next = append(next, symbol)
	}
	survivors = next
	report.Counts.AfterRisk = len(survivors)

	candidates := make([]Candidate, 0, len(survivors))
	for _, symbol := range survivors {
		score, ok := scores[symbol]
		if !ok {
			report.Excluded[symbol] = Exclusion{Stage: StageScore, Reason: "composite score unavailable"}
			continue
		}
		vals := frame.Values[symbol]
		candidates = append(candidates, Candidate{
			Symbol:     symbol,
			Score:      score,
			Volatility: vals[factor.NameVolatility],
			Beta:       vals[factor.NameBeta],
			Sector:     ds.Sector(symbol),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		// 当期阶段的优先板块排在最前
		if pa, pb := preferred[a.Sector], preferred[b.Sector]; pa != pb {
			return pa
		}
		if a.Score != b.Score {
			if s.ascending {
				return a.Score < b.Score
			}
			return a.Score > b.Score
		}
		// 评分相同时按代码排序，保证可复现
		return a.Symbol < b.Symbol
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	report.Candidates = candidates

	s.log.Debug("选股完成",
		"date", t.Format("2006-01-02"),
		"universe", report.Counts.Universe,
		"selected", len(candidates),
		"excluded", len(report.Excluded))

	return report
}

func (s *Selector) checkLiquidity(ds *market.Dataset, symbol string, t time.Time) string {
	inst, ok := ds.Instrument(symbol)
	if !ok {
		return "no instrument metadata"
	}
	if days := inst.ListingDays(t); days < s.cfg.MinListingDays {
		return fmt.Sprintf("listed %d days, minimum %d", days, s.cfg.MinListingDays)
	}
	bars := ds.BarsThrough(symbol, t)
	if len(bars) == 0 {
		return "no price history"
	}
	turnover := bars.Tail(liquidityWindow).TurnoverSeries()
	avg := 0.0
	for _, v := range turnover.Values {
		avg += v
	}
	avg /= float64(turnover.Len())
	if avg < s.cfg.MinTurnover {
		return fmt.Sprintf("average turnover %.0f below minimum %.0f", avg, s.cfg.MinTurnover)
	}
	return ""
}

func (s *Selector) checkFundamental(ds *market.Dataset, symbol string) string {
	inst, ok := ds.Instrument(symbol)
	if !ok {
		return "no instrument metadata"
	}
	if s.cfg.MaxPE > 0 && (inst.PE <= 0 || inst.PE > s.cfg.MaxPE) {
		return fmt.Sprintf("PE %.1f outside (0, %.1f]", inst.PE, s.cfg.MaxPE)
	}
	if inst.ROE < s.cfg.MinROE {
		return fmt.Sprintf("ROE %.2f below minimum %.2f", inst.ROE, s.cfg.MinROE)
	}
	if inst.ProfitGrowth < s.cfg.MinProfitGrowth {
		return fmt.Sprintf("profit growth %.2f below minimum %.2f", inst.ProfitGrowth, s.cfg.MinProfitGrowth)
	}
	return ""
}

func (s *Selector) checkRisk(frame *factor.Frame, symbol string, maxBeta float64) string {
	vals, ok := frame.Values[symbol]
	if !ok {
		return "insufficient history for factor computation"
	}
	vol, ok := vals[factor.NameVolatility]
	if !ok {
		return "volatility undefined"
	}
	if vol > s.cfg.MaxVolatility {
		return fmt.Sprintf("volatility %.2f exceeds cap %.2f", vol, s.cfg.MaxVolatility)
	}
	beta, ok := vals[factor.NameBeta]
	if !ok {
		return "beta undefined"
	}
	if beta > maxBeta {
		return fmt.Sprintf("beta %.2f exceeds cap %.2f", beta, maxBeta)
	}
	return ""
}
