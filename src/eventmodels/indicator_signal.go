package eventmodels

import "time"

type IndicatorAction string

const (
	IndicatorActionBuy     IndicatorAction = "buy"
	IndicatorActionSell    IndicatorAction = "sell"
	IndicatorActionNeutral IndicatorAction = "neutral"
)

// IndicatorSignal is the per-candle snapshot of one technical indicator,
// supplied by the external indicator collaborator. Indicator names are
// opaque strings keyed to strategy rule requirements.
type IndicatorSignal struct {
	Name      string             `json:"name"`
	Value     float64            `json:"value"`
	Values    map[string]float64 `json:"values,omitempty"`
	Action    IndicatorAction    `json:"action"`
	Timestamp time.Time          `json:"timestamp"`
}

func NewIndicatorSignal(name string, value float64, action IndicatorAction, timestamp time.Time) IndicatorSignal {
	return IndicatorSignal{
		Name:      name,
		Value:     value,
		Action:    action,
		Timestamp: timestamp,
	}
}
