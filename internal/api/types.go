package api

import (
	"sort"
	"time"

	"quantbt/internal/config"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// LoginRequest represents an operator login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse represents an authentication response
type AuthResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	Username    string    `json:"username"`
}

// RunRequest represents a backtest run request. Strategy names an entry
// from the loaded catalog; the optional fields override catalog values
// for this run only.
type RunRequest struct {
	Strategy       string  `json:"strategy" binding:"required"`
	StartDate      string  `json:"start_date"` // 2006-01-02, 省略时取数据集首日
	EndDate        string  `json:"end_date"`   // 省略时取数据集末日
	InitialCapital float64 `json:"initial_capital"`
	RebalanceEvery int     `json:"rebalance_every"`
	TopN           int     `json:"top_n"`
	RegimeEnabled  *bool   `json:"regime_enabled"`
}

// RunAccepted is returned once a run has been launched.
type RunAccepted struct {
	RunID    string `json:"run_id"`
	Strategy string `json:"strategy"`
	Status   string `json:"status"`
}

// ResolveAlertRequest optionally names who resolved an alert; the token
// subject is used when absent.
type ResolveAlertRequest struct {
	ResolvedBy string `json:"resolved_by"`
}

// StrategyInfo summarizes one catalog entry for listings.
type StrategyInfo struct {
	Name          string   `json:"name"`
	ScoringMethod string   `json:"scoring_method"`
	Factors       []string `json:"factors"`
	TopN          int      `json:"top_n"`
	SizingMode    string   `json:"sizing_mode"`
	RegimeEnabled bool     `json:"regime_enabled"`
}

// StrategyDetail exposes the tunable surface of one catalog entry.
type StrategyDetail struct {
	Name            string             `json:"name"`
	Weights         map[string]float64 `json:"weights"`
	ScoringMethod   string             `json:"scoring_method"`
	Ascending       bool               `json:"ascending"`
	TopN            int                `json:"top_n"`
	SizingMode      string             `json:"sizing_mode"`
	TargetExposure  float64            `json:"target_exposure"`
	MaxSingleWeight float64            `json:"max_single_weight"`
	MaxSectorWeight float64            `json:"max_sector_weight"`
	StopLoss        float64            `json:"stop_loss"`
	TakeProfit      float64            `json:"take_profit"`
	ATRMultiplier   float64            `json:"atr_multiplier"`
	DrawdownStop    float64            `json:"drawdown_stop"`
	RegimeEnabled   bool               `json:"regime_enabled"`
	CommissionRate  float64            `json:"commission_rate"`
	SlippageRate    float64            `json:"slippage_rate"`
	InitialCapital  float64            `json:"initial_capital"`
	RebalanceEvery  int                `json:"rebalance_every"`
}

func newStrategyInfo(cfg *config.StrategyConfig) StrategyInfo {
	factors := make([]string, 0, len(cfg.Scoring.Weights))
	for name := range cfg.Scoring.Weights {
		factors = append(factors, name)
	}
	sort.Strings(factors)

	return StrategyInfo{
		Name:          cfg.Name,
		ScoringMethod: cfg.Scoring.Method,
		Factors:       factors,
		TopN:          cfg.Selection.TopN,
		SizingMode:    cfg.Sizing.Mode,
		RegimeEnabled: cfg.Regime.Enabled,
	}
}

func newStrategyDetail(cfg *config.StrategyConfig) StrategyDetail {
	weights := make(map[string]float64, len(cfg.Scoring.Weights))
	for name, w := range cfg.Scoring.Weights {
		weights[name] = w
	}

	return StrategyDetail{
		Name:            cfg.Name,
		Weights:         weights,
		ScoringMethod:   cfg.Scoring.Method,
		Ascending:       cfg.Scoring.Ascending,
		TopN:            cfg.Selection.TopN,
		SizingMode:      cfg.Sizing.Mode,
		TargetExposure:  cfg.Sizing.TargetExposure,
		MaxSingleWeight: cfg.Sizing.MaxSingleWeight,
		MaxSectorWeight: cfg.Sizing.MaxSectorWeight,
		StopLoss:        cfg.Risk.StopLoss,
		TakeProfit:      cfg.Risk.TakeProfit,
		ATRMultiplier:   cfg.Risk.ATRMultiplier,
		DrawdownStop:    cfg.Risk.DrawdownStop,
		RegimeEnabled:   cfg.Regime.Enabled,
		CommissionRate:  cfg.Cost.CommissionRate,
		SlippageRate:    cfg.Cost.SlippageRate,
		InitialCapital:  cfg.Backtest.InitialCapital,
		RebalanceEvery:  cfg.Backtest.RebalanceEvery,
	}
}
