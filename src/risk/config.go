package risk

import "fmt"

// Config bounds the account-level risk the manager will approve.
// Fractions are of account balance, e.g. MaxRiskPerTrade 0.02 risks 2%.
type Config struct {
	MaxRiskPerTrade        float64 `json:"max_risk_per_trade" yaml:"max_risk_per_trade"`
	MaxDailyDrawdown       float64 `json:"max_daily_drawdown" yaml:"max_daily_drawdown"`
	MaxOpenPositions       int     `json:"max_open_positions" yaml:"max_open_positions"`
	MaxCorrelatedPositions int     `json:"max_correlated_positions" yaml:"max_correlated_positions"`
	MinRiskRewardRatio     float64 `json:"min_risk_reward_ratio" yaml:"min_risk_reward_ratio"`
	MaxLeverage            float64 `json:"max_leverage" yaml:"max_leverage"`
	EmergencyStopLoss      float64 `json:"emergency_stop_loss" yaml:"emergency_stop_loss"`
	CooldownMinutes        int     `json:"cooldown_minutes" yaml:"cooldown_minutes"`

	// MaxAllowedSizeFraction caps a single position's notional as a
	// fraction of account balance.
	MaxAllowedSizeFraction float64 `json:"max_allowed_size_fraction" yaml:"max_allowed_size_fraction"`
}

func DefaultConfig() Config {
	return Config{
		MaxRiskPerTrade:        0.02,
		MaxDailyDrawdown:       0.05,
		MaxOpenPositions:       3,
		MaxCorrelatedPositions: 2,
		MinRiskRewardRatio:     1.5,
		MaxLeverage:            3.0,
		EmergencyStopLoss:      0.10,
		CooldownMinutes:        30,
		MaxAllowedSizeFraction: 0.25,
	}
}

func (c *Config) Validate() error {
	if c.MaxRiskPerTrade <= 0 || c.MaxRiskPerTrade > 1 {
		return fmt.Errorf("max_risk_per_trade must be in (0,1], got %f", c.MaxRiskPerTrade)
	}

	if c.MaxLeverage <= 0 {
		return fmt.Errorf("max_leverage must be positive, got %f", c.MaxLeverage)
	}

	if c.EmergencyStopLoss <= 0 || c.EmergencyStopLoss > 1 {
		return fmt.Errorf("emergency_stop_loss must be in (0,1], got %f", c.EmergencyStopLoss)
	}

	if c.MaxAllowedSizeFraction <= 0 || c.MaxAllowedSizeFraction > 1 {
		return fmt.Errorf("max_allowed_size_fraction must be in (0,1], got %f", c.MaxAllowedSizeFraction)
	}

	return nil
}
