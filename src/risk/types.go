package risk

import "time"

// Metrics is a point-in-time snapshot of the manager's account state.
// CurrentDrawdown is measured against the running peak and is always <= 0.
type Metrics struct {
	AccountBalance  float64   `json:"account_balance"`
	CurrentDrawdown float64   `json:"current_drawdown"`
	DailyPnL        float64   `json:"daily_pnl"`
	OpenPositions   int       `json:"open_positions"`
	TotalExposure   float64   `json:"total_exposure"`
	RiskPerTrade    float64   `json:"risk_per_trade"`
	LastResetTime   time.Time `json:"last_reset_time"`
}

// Assessment is the structured outcome of a trade risk check. Approval is
// binary: a rejected assessment always carries at least one restriction.
type Assessment struct {
	Approved     bool     `json:"approved"`
	RiskScore    float64  `json:"risk_score"`
	Warnings     []string `json:"warnings"`
	Restrictions []string `json:"restrictions"`
}

// SizingResult reports both the recommended and the maximum allowed
// position size, plus human-readable reasoning.
type SizingResult struct {
	RecommendedSize float64  `json:"recommended_size"`
	MaxAllowedSize  float64  `json:"max_allowed_size"`
	RiskAmount      float64  `json:"risk_amount"`
	Reasoning       []string `json:"reasoning"`
}
