package factor

import (
	"fmt"
	"math"
	"sort"

	"quantbt/internal/config"
	"quantbt/internal/errors"
	"quantbt/internal/logger"
)

// higherIsBetter lists factors whose larger raw values mark the more
// attractive instrument. With an ascending composite (low score wins)
// they enter inverted so good instruments still land at the low end;
// with a descending composite the lower-is-better factors invert
// instead.
var higherIsBetter = map[string]bool{
	NameQuality:          true,
	NameMomentum:         true,
	NameRSI:              true,
	NameMACDHist:         true,
	NameRelativeStrength: true,
}

// Scorer combines normalized factor cross-sections into one composite
// score per instrument. Weights are fixed at construction.
type Scorer struct {
	cfg   config.ScoringConfig
	names []string
	log   logger.Logger
}

// NewScorer validates the scoring configuration and returns a scorer.
// Weights must be non-negative and sum to 1 within tolerance; a bad
// table aborts here rather than producing silently skewed scores.
func NewScorer(cfg config.ScoringConfig) (*Scorer, error) {
	if len(cfg.Weights) == 0 {
		return nil, errors.NewConfigurationError("scoring weights must not be empty")
	}
	sum := 0.0
	names := make([]string, 0, len(cfg.Weights))
	for name, w := range cfg.Weights {
		if w < 0 {
			return nil, errors.NewConfigurationError(fmt.Sprintf("scoring weight %q is negative", name))
		}
		sum += w
		names = append(names, name)
	}
	if math.Abs(sum-1) > config.WeightSumTolerance {
		return nil, errors.NewConfigurationError(fmt.Sprintf("scoring weights sum to %.6f, expected 1", sum))
	}
	switch cfg.Method {
	case MethodZScore, MethodMinMax:
	default:
		return nil, errors.NewConfigurationError(fmt.Sprintf("unknown scoring method %q", cfg.Method))
	}
	switch cfg.FillMissing {
	case FillSkip, FillNeutral:
	default:
		return nil, errors.NewConfigurationError(fmt.Sprintf("unknown fill policy %q", cfg.FillMissing))
	}
	// 固定遍历顺序，保证浮点求和可复现
	sort.Strings(names)
	return &Scorer{
		cfg:   cfg,
		names: names,
		log:   logger.GetGlobalLogger().WithField("module", "scorer"),
	}, nil
}

// Weights exposes a copy of the effective weight table.
func (s *Scorer) Weights() map[string]float64 {
	out := make(map[string]float64, len(s.cfg.Weights))
	for name, w := range s.cfg.Weights {
		out[name] = w
	}
	return out
}

// Ascending reports whether lower composite scores rank first.
func (s *Scorer) Ascending() bool {
	return s.cfg.Ascending
}

// WithBias returns a scorer whose weights are multiplied by the given
// per-factor bias and re-normalized to sum to 1. Factors absent from the
// bias keep their weight. An empty bias or a bias that zeroes the whole
// table returns the receiver unchanged.
func (s *Scorer) WithBias(bias map[string]float64) *Scorer {
	if len(bias) == 0 {
		return s
	}
	weights := make(map[string]float64, len(s.cfg.Weights))
	sum := 0.0
	for name, w := range s.cfg.Weights {
		if b, ok := bias[name]; ok && b >= 0 {
			w *= b
		}
		weights[name] = w
		sum += w
	}
	if sum <= 0 {
		s.log.Warn("因子权重偏置将全部权重清零，保持原权重")
		return s
	}
	for name := range weights {
		weights[name] /= sum
	}
	cfg := s.cfg
	cfg.Weights = weights
	return &Scorer{cfg: cfg, names: s.names, log: s.log}
}

// ScoreFrame normalizes each weighted factor cross-section and combines
// them into composite scores. Instruments missing a weighted factor on
// the date are excluded from the result unless the neutral fill policy
// is configured. A degenerate cross-section scores neutral for every
// instrument and is logged, never divided through.
func (s *Scorer) ScoreFrame(frame *Frame) map[string]float64 {
	normalized := make(map[string]map[string]float64, len(s.names))
	for _, name := range s.names {
		if s.cfg.Weights[name] == 0 {
			continue
		}
		norm, degenerate := Normalize(frame.CrossSection(name), s.cfg.Method, s.cfg.ClipLow, s.cfg.ClipHigh)
		if degenerate {
			degErr := errors.NewNumericDegeneracy(
				fmt.Sprintf("factor %s cross-section variance below epsilon", name),
				NeutralValue(s.cfg.Method))
			s.log.Warn("因子截面退化，使用中性常数",
				"factor", name,
				"date", frame.Date.Format("2006-01-02"),
				"error", degErr)
		}
		normalized[name] = norm
	}

	scores := make(map[string]float64, len(frame.Values))
	for _, symbol := range frame.Symbols() {
		total := 0.0
		scorable := true
		for _, name := range s.names {
			w := s.cfg.Weights[name]
			if w == 0 {
				continue
			}
			v, ok := normalized[name][symbol]
			if !ok {
				if s.cfg.FillMissing != FillNeutral {
					scorable = false
					break
				}
				v = NeutralValue(s.cfg.Method)
			}
			if invertFactor(name, s.cfg.Ascending) {
				v = invertValue(v, s.cfg.Method)
			}
			total += w * v
		}
		if scorable {
			scores[symbol] = total
		}
	}
	return scores
}

// invertFactor reports whether a factor enters the composite with its
// orientation flipped, given the composite's sort direction.
func invertFactor(name string, ascending bool) bool {
	if higherIsBetter[name] {
		return ascending
	}
	return !ascending
}

func invertValue(v float64, method string) float64 {
	if method == MethodMinMax {
		return 1 - v
	}
	return -v
}
