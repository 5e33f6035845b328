package strategy

import (
	"fmt"
	"math"
	"time"

	"github.com/kataras/go-events"
	log "github.com/sirupsen/logrus"

	"github.com/simtrade/engine/src/eventmodels"
)

// EventSignal is emitted on the evaluator's emitter with a
// *eventmodels.StrategySignal payload, once per evaluated candle.
const EventSignal events.EventName = "strategy:signal"

const rateLimitWindow = time.Hour

// Evaluator converts candles plus the latest indicator snapshot into
// strategy signals. It is owned by a single session and is not safe for
// concurrent use.
type Evaluator struct {
	config  Config
	signals map[string]eventmodels.IndicatorSignal

	// timestamps of non-HOLD signals emitted inside the rolling window,
	// measured in candle time so historical replays rate-limit correctly
	emitted []time.Time

	emitter events.EventEmmiter
}

func NewEvaluator(config Config) *Evaluator {
	return &Evaluator{
		config:  config,
		signals: make(map[string]eventmodels.IndicatorSignal),
		emitter: events.New(),
	}
}

func (e *Evaluator) SetConfig(config Config) {
	e.config = config
}

func (e *Evaluator) Config() Config {
	return e.config
}

// Events exposes the evaluator's own emitter for signal subscribers.
func (e *Evaluator) Events() events.EventEmmiter {
	return e.emitter
}

func (e *Evaluator) UpdateIndicatorSignal(name string, signal eventmodels.IndicatorSignal) {
	signal.Name = name
	e.signals[name] = signal
}

func (e *Evaluator) missingIndicators() []string {
	var missing []string
	for _, name := range e.config.RequiredIndicators {
		if _, found := e.signals[name]; !found {
			missing = append(missing, name)
		}
	}

	return missing
}

// UpdateCandle evaluates the rule set against the given candle and the
// latest indicator snapshot. It returns nil while required indicators have
// not all reported at least once; otherwise it returns exactly one signal
// per candle (possibly HOLD) and emits it on the evaluator's emitter.
func (e *Evaluator) UpdateCandle(candle *eventmodels.Candle) *eventmodels.StrategySignal {
	if missing := e.missingIndicators(); len(missing) > 0 {
		log.Debugf("evaluator %s: suppressing evaluation, missing indicators: %v", e.config.Name, missing)
		return nil
	}

	var reasoning []string
	longScore := 0.0
	shortScore := 0.0

	for i := range e.config.Rules {
		rule := &e.config.Rules[i]
		vote := rule.Evaluate(e.signals, candle)

		if vote.Reasoning != "" {
			reasoning = append(reasoning, vote.Reasoning)
		}

		switch vote.Direction {
		case eventmodels.DirectionLong:
			longScore += vote.Confidence * rule.Weight
		case eventmodels.DirectionShort:
			shortScore += vote.Confidence * rule.Weight
		}
	}

	direction := eventmodels.DirectionHold
	confidence := 0.0

	if longScore > shortScore && longScore >= e.config.MinConfidence {
		direction = eventmodels.DirectionLong
		confidence = math.Min(1.0, longScore)
	} else if shortScore > longScore && shortScore >= e.config.MinConfidence {
		direction = eventmodels.DirectionShort
		confidence = math.Min(1.0, shortScore)
	}

	// rate limiting degrades overflow signals to HOLD; the rule evaluation
	// above still ran so the reasoning remains auditable
	if direction != eventmodels.DirectionHold {
		if e.isRateLimited(candle.Timestamp) {
			reasoning = append(reasoning, fmt.Sprintf("rate limit: %d signals per hour reached, degrading %s to HOLD", e.config.MaxSignalsPerHour, direction))
			log.Warnf("evaluator %s: rate limit reached, degrading %s signal to HOLD", e.config.Name, direction)
			direction = eventmodels.DirectionHold
			confidence = 0
		} else {
			e.emitted = append(e.emitted, candle.Timestamp)
		}
	}

	signal := &eventmodels.StrategySignal{
		Direction:  direction,
		Strength:   eventmodels.SignalStrengthFromConfidence(confidence),
		Confidence: confidence,
		Price:      candle.Close,
		Timestamp:  candle.Timestamp,
		Reasoning:  reasoning,
		Indicators: e.snapshotIndicators(),
		Metadata: eventmodels.SignalMetadata{
			Symbol:    e.config.Symbol,
			Timeframe: e.config.Timeframe,
		},
	}

	if direction != eventmodels.DirectionHold {
		e.attachTradeLevels(signal, candle.Close)
	}

	e.emitter.Emit(EventSignal, signal)

	return signal
}

func (e *Evaluator) isRateLimited(now time.Time) bool {
	if e.config.MaxSignalsPerHour <= 0 {
		return false
	}

	cutoff := now.Add(-rateLimitWindow)

	// drop entries that fell out of the rolling window
	kept := e.emitted[:0]
	for _, t := range e.emitted {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	e.emitted = kept

	return len(e.emitted) >= e.config.MaxSignalsPerHour
}

func (e *Evaluator) attachTradeLevels(signal *eventmodels.StrategySignal, price float64) {
	if e.config.StopLossPct <= 0 || e.config.TakeProfitPct <= 0 {
		return
	}

	var stopLoss, takeProfit float64
	if signal.Direction == eventmodels.DirectionLong {
		stopLoss = price * (1 - e.config.StopLossPct)
		takeProfit = price * (1 + e.config.TakeProfitPct)
	} else {
		stopLoss = price * (1 + e.config.StopLossPct)
		takeProfit = price * (1 - e.config.TakeProfitPct)
	}

	riskReward := e.config.TakeProfitPct / e.config.StopLossPct

	signal.Metadata.StopLoss = &stopLoss
	signal.Metadata.TakeProfit = &takeProfit
	signal.Metadata.RiskReward = &riskReward
}

func (e *Evaluator) snapshotIndicators() map[string]eventmodels.IndicatorSignal {
	snapshot := make(map[string]eventmodels.IndicatorSignal, len(e.signals))
	for name, signal := range e.signals {
		snapshot[name] = signal
	}

	return snapshot
}
