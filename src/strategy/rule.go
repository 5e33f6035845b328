package strategy

import (
	"fmt"
	"math"

	"github.com/simtrade/engine/src/eventmodels"
)

type RuleKind string

const (
	// RuleKindIndicatorFollow votes with the indicator's own discrete
	// buy/sell action.
	RuleKindIndicatorFollow RuleKind = "indicator_follow"

	// RuleKindThresholdCross votes LONG when the indicator value is at or
	// below the lower bound and SHORT at or above the upper bound, e.g. RSI
	// oversold/overbought.
	RuleKindThresholdCross RuleKind = "threshold_cross"

	// RuleKindCandleMomentum votes with the direction of the candle body,
	// scaled by the body's share of the full range.
	RuleKindCandleMomentum RuleKind = "candle_momentum"
)

// RuleParams holds the typed parameters for each rule kind. Only the fields
// the kind uses are read.
type RuleParams struct {
	Indicator  string  `json:"indicator,omitempty" yaml:"indicator,omitempty"`
	LowerBound float64 `json:"lower_bound,omitempty" yaml:"lower_bound,omitempty"`
	UpperBound float64 `json:"upper_bound,omitempty" yaml:"upper_bound,omitempty"`
	Confidence float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

// Rule is one weighted voting rule of a strategy. Rules are data, not
// closures, so strategy configs can cross serialization boundaries.
type Rule struct {
	Name   string     `json:"name" yaml:"name"`
	Kind   RuleKind   `json:"kind" yaml:"kind"`
	Weight float64    `json:"weight" yaml:"weight"`
	Params RuleParams `json:"params" yaml:"params"`
}

// Vote is a single rule's directional opinion for one candle.
type Vote struct {
	Direction  eventmodels.Direction
	Confidence float64
	Reasoning  string
}

func neutralVote(reason string) Vote {
	return Vote{
		Direction:  eventmodels.DirectionHold,
		Confidence: 0,
		Reasoning:  reason,
	}
}

func (r *Rule) Validate() error {
	if r.Weight <= 0 || r.Weight > 1 {
		return fmt.Errorf("rule %s: weight must be in (0,1], got %f", r.Name, r.Weight)
	}

	switch r.Kind {
	case RuleKindIndicatorFollow, RuleKindThresholdCross:
		if r.Params.Indicator == "" {
			return fmt.Errorf("rule %s: kind %s requires an indicator name", r.Name, r.Kind)
		}
	case RuleKindCandleMomentum:
	default:
		return fmt.Errorf("rule %s: unknown rule kind %q", r.Name, r.Kind)
	}

	return nil
}

// Evaluate runs the rule against the latest indicator snapshot and candle.
// A rule referencing an indicator that has not reported yet votes neutral,
// never errors.
func (r *Rule) Evaluate(signals map[string]eventmodels.IndicatorSignal, candle *eventmodels.Candle) Vote {
	switch r.Kind {
	case RuleKindIndicatorFollow:
		return r.evaluateIndicatorFollow(signals)
	case RuleKindThresholdCross:
		return r.evaluateThresholdCross(signals)
	case RuleKindCandleMomentum:
		return r.evaluateCandleMomentum(candle)
	default:
		return neutralVote(fmt.Sprintf("%s: unknown rule kind %q", r.Name, r.Kind))
	}
}

func (r *Rule) evaluateIndicatorFollow(signals map[string]eventmodels.IndicatorSignal) Vote {
	signal, found := signals[r.Params.Indicator]
	if !found {
		return neutralVote(fmt.Sprintf("%s: indicator %s has not reported", r.Name, r.Params.Indicator))
	}

	confidence := r.Params.Confidence
	if confidence <= 0 {
		confidence = 1.0
	}

	switch signal.Action {
	case eventmodels.IndicatorActionBuy:
		return Vote{
			Direction:  eventmodels.DirectionLong,
			Confidence: confidence,
			Reasoning:  fmt.Sprintf("%s: %s signals buy at %.4f", r.Name, signal.Name, signal.Value),
		}
	case eventmodels.IndicatorActionSell:
		return Vote{
			Direction:  eventmodels.DirectionShort,
			Confidence: confidence,
			Reasoning:  fmt.Sprintf("%s: %s signals sell at %.4f", r.Name, signal.Name, signal.Value),
		}
	default:
		return neutralVote(fmt.Sprintf("%s: %s is neutral", r.Name, signal.Name))
	}
}

func (r *Rule) evaluateThresholdCross(signals map[string]eventmodels.IndicatorSignal) Vote {
	signal, found := signals[r.Params.Indicator]
	if !found {
		return neutralVote(fmt.Sprintf("%s: indicator %s has not reported", r.Name, r.Params.Indicator))
	}

	if signal.Value <= r.Params.LowerBound {
		// confidence grows as the value sinks further below the bound
		confidence := 0.5
		if r.Params.LowerBound > 0 {
			confidence = math.Min(1.0, 0.5+(r.Params.LowerBound-signal.Value)/r.Params.LowerBound)
		}

		return Vote{
			Direction:  eventmodels.DirectionLong,
			Confidence: confidence,
			Reasoning:  fmt.Sprintf("%s: %s %.4f at or below lower bound %.4f", r.Name, signal.Name, signal.Value, r.Params.LowerBound),
		}
	}

	if signal.Value >= r.Params.UpperBound {
		confidence := 0.5
		if r.Params.UpperBound > 0 {
			confidence = math.Min(1.0, 0.5+(signal.Value-r.Params.UpperBound)/r.Params.UpperBound)
		}

		return Vote{
			Direction:  eventmodels.DirectionShort,
			Confidence: confidence,
			Reasoning:  fmt.Sprintf("%s: %s %.4f at or above upper bound %.4f", r.Name, signal.Name, signal.Value, r.Params.UpperBound),
		}
	}

	return neutralVote(fmt.Sprintf("%s: %s %.4f inside bounds", r.Name, signal.Name, signal.Value))
}

func (r *Rule) evaluateCandleMomentum(candle *eventmodels.Candle) Vote {
	if candle == nil {
		return neutralVote(fmt.Sprintf("%s: no candle", r.Name))
	}

	body := candle.Close - candle.Open
	candleRange := candle.High - candle.Low
	if candleRange <= 0 || body == 0 {
		return neutralVote(fmt.Sprintf("%s: no candle momentum", r.Name))
	}

	confidence := math.Min(1.0, math.Abs(body)/candleRange)

	direction := eventmodels.DirectionLong
	if body < 0 {
		direction = eventmodels.DirectionShort
	}

	return Vote{
		Direction:  direction,
		Confidence: confidence,
		Reasoning:  fmt.Sprintf("%s: candle body %.4f over range %.4f", r.Name, body, candleRange),
	}
}
