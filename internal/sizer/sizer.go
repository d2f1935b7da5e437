// Package sizer converts a ranked candidate list into target portfolio
// weights. Weights are fractions of total portfolio value; whatever the caps
// leave undeployed stays in cash rather than being redistributed.
package sizer

import (
	"fmt"
	"math"

	"quantbt/internal/config"
	"quantbt/internal/logger"
	"quantbt/internal/selector"
)

// Sizing modes.
const (
	ModeEqual      = "equal"
	ModeInverseVol = "inverse_vol"
)

// volEpsilon keeps the inverse-volatility weight finite for near-zero
// volatility candidates.
const volEpsilon = 1e-8

// deployTolerance is the slack below target exposure before the sizer warns
// about idle capital.
const deployTolerance = 1e-9

// Sizer allocates exposure across candidates under per-instrument and
// per-sector caps.
type Sizer struct {
	cfg config.SizingConfig
	log logger.Logger
}

func NewSizer(cfg config.SizingConfig) *Sizer {
	return &Sizer{
		cfg: cfg,
		log: logger.GetGlobalLogger().WithField("module", "sizer"),
	}
}

// Weights computes target weights for the candidates. targetExposure
// overrides the configured gross exposure when positive; the regime bundle
// passes its per-stage exposure through here. The result may sum to less
// than the target when caps bind, and the gap is logged, never
// redistributed.
func (s *Sizer) Weights(candidates []selector.Candidate, targetExposure float64) map[string]float64 {
	exposure := s.cfg.TargetExposure
	if targetExposure > 0 {
		exposure = targetExposure
	}
	weights := map[string]float64{}
	if len(candidates) == 0 || exposure <= 0 {
		return weights
	}

	switch s.cfg.Mode {
	case ModeInverseVol:
		weights = s.inverseVolWeights(candidates, exposure)
	default:
		weights = s.equalWeights(candidates, exposure)
	}
	if len(weights) == 0 {
		return weights
	}

	// 先执行个股上限，再按比例压缩超标行业
	if s.cfg.MaxSingleWeight > 0 {
		for symbol, w := range weights {
			if w > s.cfg.MaxSingleWeight {
				weights[symbol] = s.cfg.MaxSingleWeight
			}
		}
	}
	if s.cfg.MaxSectorWeight > 0 {
		s.applySectorCap(candidates, weights)
	}

	deployed := 0.0
	for _, c := range candidates {
		deployed += weights[c.Symbol]
	}
	if deployed < exposure-deployTolerance {
		s.log.Warn("仓位上限导致目标敞口未满配，剩余留存现金",
			"target_exposure", fmt.Sprintf("%.4f", exposure),
			"deployed", fmt.Sprintf("%.4f", deployed),
			"undeployed", fmt.Sprintf("%.4f", exposure-deployed))
	}

	return weights
}

func (s *Sizer) equalWeights(candidates []selector.Candidate, exposure float64) map[string]float64 {
	weights := make(map[string]float64, len(candidates))
	per := exposure / float64(len(candidates))
	for _, c := range candidates {
		weights[c.Symbol] = per
	}
	return weights
}

func (s *Sizer) inverseVolWeights(candidates []selector.Candidate, exposure float64) map[string]float64 {
	inv := make(map[string]float64, len(candidates))
	total := 0.0
	for _, c := range candidates {
		if math.IsNaN(c.Volatility) || c.Volatility < 0 {
			s.log.Warn("候选股票波动率无效，剔除出仓位分配", "symbol", c.Symbol)
			continue
		}
		w := 1.0 / (c.Volatility + volEpsilon)
		inv[c.Symbol] = w
		total += w
	}
	if total <= 0 {
		return map[string]float64{}
	}
	weights := make(map[string]float64, len(inv))
	for _, c := range candidates {
		if w, ok := inv[c.Symbol]; ok {
			weights[c.Symbol] = w / total * exposure
		}
	}
	return weights
}

// applySectorCap scales every member of an over-cap sector by the same
// factor. Scaling only shrinks weights, so the single-instrument cap applied
// before it stays satisfied.
func (s *Sizer) applySectorCap(candidates []selector.Candidate, weights map[string]float64) {
	sectorTotals := map[string]float64{}
	for _, c := range candidates {
		sectorTotals[c.Sector] += weights[c.Symbol]
	}
	for _, c := range candidates {
		total := sectorTotals[c.Sector]
		if total > s.cfg.MaxSectorWeight {
			weights[c.Symbol] *= s.cfg.MaxSectorWeight / total
		}
	}
}
