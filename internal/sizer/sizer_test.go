package sizer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantbt/internal/config"
	"quantbt/internal/selector"
)

func testSizingConfig() config.SizingConfig {
	return config.SizingConfig{
		Mode:            ModeEqual,
		MaxSingleWeight: 0.50,
		MaxSectorWeight: 0.80,
		TargetExposure:  0.90,
	}
}

func candidate(symbol, sector string, vol float64) selector.Candidate {
	return selector.Candidate{Symbol: symbol, Sector: sector, Volatility: vol}
}

func TestEqualWeights(t *testing.T) {
	s := NewSizer(testSizingConfig())
	weights := s.Weights([]selector.Candidate{
		candidate("600000", "金融", 0.2),
		candidate("600010", "消费", 0.2),
		candidate("600020", "医药", 0.2),
	}, 0)

	require.Len(t, weights, 3)
	for symbol, w := range weights {
		assert.InDelta(t, 0.3, w, 1e-9, symbol)
	}
}

func TestEqualWeightSingleCapLeavesIdleCash(t *testing.T) {
	cfg := testSizingConfig()
	cfg.MaxSingleWeight = 0.10
	s := NewSizer(cfg)

	weights := s.Weights([]selector.Candidate{
		candidate("600000", "金融", 0.2),
		candidate("600010", "消费", 0.2),
	}, 0)

	// 超出上限的部分留存现金，不回填给其他股票
	total := 0.0
	for _, w := range weights {
		assert.InDelta(t, 0.10, w, 1e-9)
		total += w
	}
	assert.InDelta(t, 0.20, total, 1e-9)
}

func TestInverseVolWeights(t *testing.T) {
	cfg := testSizingConfig()
	cfg.Mode = ModeInverseVol
	s := NewSizer(cfg)

	weights := s.Weights([]selector.Candidate{
		candidate("600000", "金融", 0.10),
		candidate("600010", "消费", 0.20),
	}, 0)

	// 权重与波动率成反比：(1/0.1):(1/0.2) = 2:1
	require.Len(t, weights, 2)
	assert.InDelta(t, 0.60, weights["600000"], 1e-6)
	assert.InDelta(t, 0.30, weights["600010"], 1e-6)
}

func TestInverseVolZeroVolatilityStaysFinite(t *testing.T) {
	cfg := testSizingConfig()
	cfg.Mode = ModeInverseVol
	cfg.MaxSingleWeight = 0
	s := NewSizer(cfg)

	weights := s.Weights([]selector.Candidate{
		candidate("600000", "金融", 0),
		candidate("600010", "消费", 0.20),
	}, 0)

	require.Len(t, weights, 2)
	assert.False(t, math.IsInf(weights["600000"], 1))
	assert.Greater(t, weights["600000"], weights["600010"])
}

func TestInverseVolInvalidVolatilityExcluded(t *testing.T) {
	cfg := testSizingConfig()
	cfg.Mode = ModeInverseVol
	s := NewSizer(cfg)

	weights := s.Weights([]selector.Candidate{
		candidate("600000", "金融", math.NaN()),
		candidate("600010", "消费", 0.20),
		candidate("600020", "医药", 0.20),
	}, 0)

	require.Len(t, weights, 2)
	assert.NotContains(t, weights, "600000")
	assert.InDelta(t, 0.45, weights["600010"], 1e-6)
}

func TestSectorCapScalesMembersProportionally(t *testing.T) {
	cfg := testSizingConfig()
	cfg.MaxSectorWeight = 0.35
	s := NewSizer(cfg)

	weights := s.Weights([]selector.Candidate{
		candidate("600000", "金融", 0.2),
		candidate("600010", "金融", 0.2),
		candidate("600020", "医药", 0.2),
	}, 0)

	// 金融板块0.6超过0.35上限，按0.35/0.6等比例压缩
	assert.InDelta(t, 0.175, weights["600000"], 1e-9)
	assert.InDelta(t, 0.175, weights["600010"], 1e-9)
	assert.InDelta(t, 0.30, weights["600020"], 1e-9)
}

func TestSingleCapAppliedBeforeSectorCap(t *testing.T) {
	cfg := testSizingConfig()
	cfg.Mode = ModeInverseVol
	cfg.MaxSingleWeight = 0.30
	cfg.MaxSectorWeight = 0.35
	s := NewSizer(cfg)

	weights := s.Weights([]selector.Candidate{
		candidate("600000", "金融", 0.10),
		candidate("600010", "金融", 0.40),
		candidate("600020", "医药", 0.20),
	}, 0)

	// 个股上限先把600000从0.514压到0.30，板块压缩作用于压缩后的合计
	assert.InDelta(t, 0.245, weights["600000"], 1e-6)
	assert.InDelta(t, 0.105, weights["600010"], 1e-6)
	assert.InDelta(t, 0.2571429, weights["600020"], 1e-6)
}

func TestRegimeExposureOverride(t *testing.T) {
	s := NewSizer(testSizingConfig())

	weights := s.Weights([]selector.Candidate{
		candidate("600000", "金融", 0.2),
		candidate("600010", "消费", 0.2),
	}, 0.50)

	assert.InDelta(t, 0.25, weights["600000"], 1e-9)
	assert.InDelta(t, 0.25, weights["600010"], 1e-9)
}

func TestNoCandidatesMeansAllCash(t *testing.T) {
	s := NewSizer(testSizingConfig())
	assert.Empty(t, s.Weights(nil, 0))
}

func TestZeroExposureMeansAllCash(t *testing.T) {
	cfg := testSizingConfig()
	cfg.TargetExposure = 0
	s := NewSizer(cfg)
	assert.Empty(t, s.Weights([]selector.Candidate{candidate("600000", "金融", 0.2)}, 0))
}
