package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// StrategyConfig represents a complete strategy definition: factor windows,
// scoring weights, selection thresholds, sizing rules, risk limits, regime
// bundles and the cost model. It is loaded from its own YAML file and passed
// by value into each pipeline component at construction.
type StrategyConfig struct {
	Name      string          `yaml:"name"`
	Factors   FactorsConfig   `yaml:"factors"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Selection SelectionConfig `yaml:"selection"`
	Sizing    SizingConfig    `yaml:"sizing"`
	Risk      RiskConfig      `yaml:"risk"`
	Regime    RegimeConfig    `yaml:"regime"`
	Cost      CostConfig      `yaml:"cost"`
	Backtest  BacktestConfig  `yaml:"backtest"`
}

// FactorsConfig represents factor window configuration
type FactorsConfig struct {
	VolatilityWindow int `yaml:"volatility_window"`
	BetaWindow       int `yaml:"beta_window"`
	ATRWindow        int `yaml:"atr_window"`
	MomentumWindow   int `yaml:"momentum_window"`
	RSWindow         int `yaml:"rs_window"`
	RSIWindow        int `yaml:"rsi_window"`
	MACDFast         int `yaml:"macd_fast"`
	MACDSlow         int `yaml:"macd_slow"`
	MACDSignal       int `yaml:"macd_signal"`
}

// ScoringConfig represents composite scoring configuration
type ScoringConfig struct {
	Weights     map[string]float64 `yaml:"weights"` // 必须和为1
	Method      string             `yaml:"method"`  // zscore或minmax
	ClipLow     float64            `yaml:"clip_low"`
	ClipHigh    float64            `yaml:"clip_high"`
	FillMissing string             `yaml:"fill_missing"` // skip或neutral
	Ascending   bool               `yaml:"ascending"`    // true表示分数越低越好
}

// SelectionConfig represents the three-stage filter thresholds
type SelectionConfig struct {
	TopN            int     `yaml:"top_n"`
	MinTurnover     float64 `yaml:"min_turnover"`     // 日均成交额下限
	MinListingDays  int     `yaml:"min_listing_days"` // 上市天数下限
	MaxPE           float64 `yaml:"max_pe"`
	MinROE          float64 `yaml:"min_roe"`
	MinProfitGrowth float64 `yaml:"min_profit_growth"`
	MaxVolatility   float64 `yaml:"max_volatility"`
	MaxBeta         float64 `yaml:"max_beta"`
}

// SizingConfig represents position sizing configuration
type SizingConfig struct {
	Mode            string  `yaml:"mode"` // equal或inverse_vol
	MaxSingleWeight float64 `yaml:"max_single_weight"`
	MaxSectorWeight float64 `yaml:"max_sector_weight"`
	TargetExposure  float64 `yaml:"target_exposure"`
}

// RiskConfig represents risk limits and mandatory exit rules
type RiskConfig struct {
	MaxSingleWeight    float64 `yaml:"max_single_weight"`
	MaxSectorWeight    float64 `yaml:"max_sector_weight"`
	MaxTurnover        float64 `yaml:"max_turnover"` // 单期换手上限(占净值比例)
	StopLoss           float64 `yaml:"stop_loss"`    // 固定止损比例
	TakeProfit         float64 `yaml:"take_profit"`
	ATRMultiplier      float64 `yaml:"atr_multiplier"` // 跟踪止损k倍ATR
	TrailingStop       float64 `yaml:"trailing_stop"`  // ATR缺失时的回撤比例退路
	VolatilityCeiling  float64 `yaml:"volatility_ceiling"`
	DrawdownWarning    float64 `yaml:"drawdown_warning"`
	DrawdownStop       float64 `yaml:"drawdown_stop"`
	ConcentrationAlert float64 `yaml:"concentration_alert"` // 前三大持仓权重告警阈值
	ExitsFirst         bool    `yaml:"exits_first"`         // 强制平仓先于常规调仓
}

// RegimeConfig represents market stage detection configuration
type RegimeConfig struct {
	Enabled     bool                   `yaml:"enabled"`
	Window      int                    `yaml:"window"`
	MinDuration int                    `yaml:"min_duration"` // 防抖动最小持续期数
	Stages      map[string]StageConfig `yaml:"stages"`
}

// StageConfig represents the per-regime configuration bundle
type StageConfig struct {
	TargetExposure   float64            `yaml:"target_exposure"`
	MaxPositions     int                `yaml:"max_positions"`
	MaxBeta          float64            `yaml:"max_beta"`
	FactorBias       map[string]float64 `yaml:"factor_bias"`
	PreferredSectors []string           `yaml:"preferred_sectors"`
}

// CostConfig represents the execution cost model
type CostConfig struct {
	CommissionRate float64 `yaml:"commission_rate"`
	SlippageRate   float64 `yaml:"slippage_rate"`
}

// BacktestConfig represents backtest run parameters
type BacktestConfig struct {
	InitialCapital     float64 `yaml:"initial_capital"`
	RebalanceEvery     int     `yaml:"rebalance_every"`
	RiskFreeRate       float64 `yaml:"risk_free_rate"`
	TradingDaysPerYear int     `yaml:"trading_days_per_year"`
}

// WeightSumTolerance 权重和校验容差
const WeightSumTolerance = 1e-6

// LoadStrategyConfig loads a strategy configuration from file
func LoadStrategyConfig(configPath string) (*StrategyConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategy config file: %w", err)
	}

	config := DefaultStrategyConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse strategy config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// DefaultStrategyConfig returns the low-volatility profile defaults
func DefaultStrategyConfig() *StrategyConfig {
	return &StrategyConfig{
		Name: "lowvol",
		Factors: FactorsConfig{
			VolatilityWindow: 60,
			BetaWindow:       120,
			ATRWindow:        14,
			MomentumWindow:   20,
			RSWindow:         20,
			RSIWindow:        14,
			MACDFast:         12,
			MACDSlow:         26,
			MACDSignal:       9,
		},
		Scoring: ScoringConfig{
			Weights: map[string]float64{
				"volatility":  0.40,
				"atr_percent": 0.25,
				"beta":        0.20,
				"quality":     0.15,
			},
			Method:      "zscore",
			ClipLow:     0.01,
			ClipHigh:    0.99,
			FillMissing: "skip",
			Ascending:   true,
		},
		Selection: SelectionConfig{
			TopN:            10,
			MinTurnover:     20_000_000,
			MinListingDays:  250,
			MaxPE:           50,
			MinROE:          0.08,
			MinProfitGrowth: 0,
			MaxVolatility:   0.45,
			MaxBeta:         1.8,
		},
		Sizing: SizingConfig{
			Mode:            "equal",
			MaxSingleWeight: 0.10,
			MaxSectorWeight: 0.35,
			TargetExposure:  0.90,
		},
		Risk: RiskConfig{
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
		},
		Regime: RegimeConfig{
			Enabled:     false,
			Window:      60,
			MinDuration: 3,
			Stages:      DefaultStages(),
		},
		Cost: CostConfig{
			CommissionRate: 0.001,
			SlippageRate:   0.001,
		},
		Backtest: BacktestConfig{
			InitialCapital:     1_000_000,
			RebalanceEvery:     1,
			RiskFreeRate:       0.03,
			TradingDaysPerYear: 252,
		},
	}
}

// DefaultStages returns the default regime configuration bundles
func DefaultStages() map[string]StageConfig {
	return map[string]StageConfig{
		"startup": {
			TargetExposure: 0.70,
			MaxPositions:   8,
			MaxBeta:        1.8,
		},
		"main_trend": {
			TargetExposure: 0.90,
			MaxPositions:   12,
			MaxBeta:        2.5,
		},
		"diffusion": {
			TargetExposure: 0.70,
			MaxPositions:   8,
			MaxBeta:        1.8,
		},
		"termination": {
			TargetExposure: 0.40,
			MaxPositions:   5,
			MaxBeta:        1.1,
		},
	}
}

// Validate validates the strategy configuration
func (c *StrategyConfig) Validate() error {
	f := c.Factors
	if f.VolatilityWindow < 2 {
		return fmt.Errorf("volatility_window must be at least 2")
	}
	if f.BetaWindow < 2 {
		return fmt.Errorf("beta_window must be at least 2")
	}
	if f.ATRWindow < 1 {
		return fmt.Errorf("atr_window must be positive")
	}
	if f.MomentumWindow < 1 || f.RSWindow < 1 || f.RSIWindow < 1 {
		return fmt.Errorf("momentum_window, rs_window and rsi_window must be positive")
	}
	if f.MACDFast <= 0 || f.MACDSlow <= 0 || f.MACDSignal <= 0 {
		return fmt.Errorf("macd periods must be positive")
	}
	if f.MACDFast >= f.MACDSlow {
		return fmt.Errorf("macd_fast (%d) must be less than macd_slow (%d)", f.MACDFast, f.MACDSlow)
	}

	if len(c.Scoring.Weights) == 0 {
		return fmt.Errorf("scoring weights must not be empty")
	}
	sum := 0.0
	for name, w := range c.Scoring.Weights {
		if w < 0 {
			return fmt.Errorf("scoring weight %s must not be negative", name)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > WeightSumTolerance {
		return fmt.Errorf("scoring weights must sum to 1, got %.6f", sum)
	}
	switch c.Scoring.Method {
	case "zscore", "minmax":
	default:
		return fmt.Errorf("invalid scoring method: %s", c.Scoring.Method)
	}
	if c.Scoring.ClipLow < 0 || c.Scoring.ClipHigh > 1 || c.Scoring.ClipLow >= c.Scoring.ClipHigh {
		return fmt.Errorf("clip quantiles must satisfy 0 <= clip_low < clip_high <= 1")
	}
	switch c.Scoring.FillMissing {
	case "", "skip", "neutral":
	default:
		return fmt.Errorf("invalid fill_missing policy: %s", c.Scoring.FillMissing)
	}

	if c.Selection.TopN <= 0 {
		return fmt.Errorf("top_n must be positive")
	}
	if c.Selection.MaxVolatility <= 0 {
		return fmt.Errorf("max_volatility must be positive")
	}
	if c.Selection.MaxBeta <= 0 {
		return fmt.Errorf("max_beta must be positive")
	}

	switch c.Sizing.Mode {
	case "equal", "inverse_vol":
	default:
		return fmt.Errorf("invalid sizing mode: %s", c.Sizing.Mode)
	}
	if c.Sizing.MaxSingleWeight <= 0 || c.Sizing.MaxSingleWeight > 1 {
		return fmt.Errorf("max_single_weight must be in (0, 1]")
	}
	if c.Sizing.MaxSectorWeight <= 0 || c.Sizing.MaxSectorWeight > 1 {
		return fmt.Errorf("max_sector_weight must be in (0, 1]")
	}
	if c.Sizing.TargetExposure <= 0 || c.Sizing.TargetExposure > 1 {
		return fmt.Errorf("target_exposure must be in (0, 1]")
	}

	if c.Risk.MaxSingleWeight <= 0 || c.Risk.MaxSingleWeight > 1 {
		return fmt.Errorf("risk max_single_weight must be in (0, 1]")
	}
	if c.Risk.MaxSectorWeight <= 0 || c.Risk.MaxSectorWeight > 1 {
		return fmt.Errorf("risk max_sector_weight must be in (0, 1]")
	}
	if c.Risk.StopLoss <= 0 || c.Risk.StopLoss >= 1 {
		return fmt.Errorf("stop_loss must be in (0, 1)")
	}
	if c.Risk.ATRMultiplier <= 0 {
		return fmt.Errorf("atr_multiplier must be positive")
	}
	if c.Risk.DrawdownStop <= c.Risk.DrawdownWarning {
		return fmt.Errorf("drawdown_stop must exceed drawdown_warning")
	}

	if c.Regime.Enabled {
		if c.Regime.Window < 2 {
			return fmt.Errorf("regime window must be at least 2")
		}
		if c.Regime.MinDuration < 1 {
			return fmt.Errorf("regime min_duration must be at least 1")
		}
		for name, stage := range c.Regime.Stages {
			if stage.TargetExposure <= 0 || stage.TargetExposure > 1 {
				return fmt.Errorf("stage %s target_exposure must be in (0, 1]", name)
			}
			if stage.MaxPositions <= 0 {
				return fmt.Errorf("stage %s max_positions must be positive", name)
			}
		}
	}

	if c.Cost.CommissionRate < 0 || c.Cost.CommissionRate >= 1 {
		return fmt.Errorf("commission_rate must be in [0, 1)")
	}
	if c.Cost.SlippageRate < 0 || c.Cost.SlippageRate >= 1 {
		return fmt.Errorf("slippage_rate must be in [0, 1)")
	}

	if c.Backtest.InitialCapital <= 0 {
		return fmt.Errorf("initial_capital must be positive")
	}
	if c.Backtest.RebalanceEvery < 1 {
		return fmt.Errorf("rebalance_every must be at least 1")
	}
	if c.Backtest.TradingDaysPerYear <= 0 {
		return fmt.Errorf("trading_days_per_year must be positive")
	}

	return nil
}
