package eventmodels

import "time"

type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
	DirectionHold  Direction = "HOLD"
)

type SignalStrength string

const (
	SignalStrengthWeak     SignalStrength = "WEAK"
	SignalStrengthModerate SignalStrength = "MODERATE"
	SignalStrengthStrong   SignalStrength = "STRONG"
)

// SignalStrengthFromConfidence classifies confidence into strength buckets:
// STRONG >= 0.75, MODERATE >= 0.5, else WEAK.
func SignalStrengthFromConfidence(confidence float64) SignalStrength {
	if confidence >= 0.75 {
		return SignalStrengthStrong
	}

	if confidence >= 0.5 {
		return SignalStrengthModerate
	}

	return SignalStrengthWeak
}

// SignalMetadata carries the trade parameters attached to a strategy signal.
type SignalMetadata struct {
	Symbol     string   `json:"symbol"`
	Timeframe  string   `json:"timeframe"`
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`
	RiskReward *float64 `json:"risk_reward,omitempty"`
}

// StrategySignal is a directional trade recommendation produced by the
// strategy evaluator for a single candle.
type StrategySignal struct {
	Direction  Direction                  `json:"direction"`
	Strength   SignalStrength             `json:"strength"`
	Confidence float64                    `json:"confidence"`
	Price      float64                    `json:"price"`
	Timestamp  time.Time                  `json:"timestamp"`
	Reasoning  []string                   `json:"reasoning"`
	Indicators map[string]IndicatorSignal `json:"indicators"`
	Metadata   SignalMetadata             `json:"metadata"`
}
