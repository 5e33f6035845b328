package strategy

import "fmt"

// Config describes one rule-based strategy.
type Config struct {
	Name               string   `json:"name" yaml:"name"`
	Symbol             string   `json:"symbol" yaml:"symbol"`
	Timeframe          string   `json:"timeframe" yaml:"timeframe"`
	MinConfidence      float64  `json:"min_confidence" yaml:"min_confidence"`
	MaxSignalsPerHour  int      `json:"max_signals_per_hour" yaml:"max_signals_per_hour"`
	RiskRewardRatio    float64  `json:"risk_reward_ratio" yaml:"risk_reward_ratio"`
	StopLossPct        float64  `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	TakeProfitPct      float64  `json:"take_profit_pct" yaml:"take_profit_pct"`
	RequiredIndicators []string `json:"required_indicators" yaml:"required_indicators"`
	Rules              []Rule   `json:"rules" yaml:"rules"`
}

func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("strategy name is required")
	}

	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be in [0,1], got %f", c.MinConfidence)
	}

	if len(c.Rules) == 0 {
		return fmt.Errorf("strategy %s has no rules", c.Name)
	}

	for i := range c.Rules {
		if err := c.Rules[i].Validate(); err != nil {
			return fmt.Errorf("strategy %s: %w", c.Name, err)
		}
	}

	return nil
}
