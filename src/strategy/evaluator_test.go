package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simtrade/engine/src/eventmodels"
)

func testConfig() Config {
	return Config{
		Name:               "rsi-follow",
		Symbol:             "BTC/USDT",
		Timeframe:          "1h",
		MinConfidence:      0.5,
		MaxSignalsPerHour:  10,
		StopLossPct:        0.02,
		TakeProfitPct:      0.04,
		RequiredIndicators: []string{"rsi"},
		Rules: []Rule{
			{
				Name:   "follow-rsi",
				Kind:   RuleKindIndicatorFollow,
				Weight: 1.0,
				Params: RuleParams{Indicator: "rsi", Confidence: 0.8},
			},
		},
	}
}

func candleAt(t time.Time, close float64) *eventmodels.Candle {
	return eventmodels.NewCandle(t, close, close+1, close-1, close, 100)
}

func TestEvaluator(t *testing.T) {
	startTime := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

	t.Run("suppresses evaluation until required indicators report", func(t *testing.T) {
		evaluator := NewEvaluator(testConfig())

		signal := evaluator.UpdateCandle(candleAt(startTime, 100))
		assert.Nil(t, signal)

		evaluator.UpdateIndicatorSignal("rsi", eventmodels.NewIndicatorSignal("rsi", 25, eventmodels.IndicatorActionBuy, startTime))

		signal = evaluator.UpdateCandle(candleAt(startTime.Add(time.Minute), 100))
		require.NotNil(t, signal)
		assert.Equal(t, eventmodels.DirectionLong, signal.Direction)
	})

	t.Run("emits LONG with confidence from weighted rule votes", func(t *testing.T) {
		evaluator := NewEvaluator(testConfig())
		evaluator.UpdateIndicatorSignal("rsi", eventmodels.NewIndicatorSignal("rsi", 25, eventmodels.IndicatorActionBuy, startTime))

		signal := evaluator.UpdateCandle(candleAt(startTime, 100))
		require.NotNil(t, signal)

		assert.Equal(t, eventmodels.DirectionLong, signal.Direction)
		assert.InDelta(t, 0.8, signal.Confidence, 1e-9)
		assert.Equal(t, eventmodels.SignalStrengthStrong, signal.Strength)
		assert.NotEmpty(t, signal.Reasoning)
	})

	t.Run("emits HOLD below the confidence threshold", func(t *testing.T) {
		config := testConfig()
		config.Rules[0].Params.Confidence = 0.3

		evaluator := NewEvaluator(config)
		evaluator.UpdateIndicatorSignal("rsi", eventmodels.NewIndicatorSignal("rsi", 25, eventmodels.IndicatorActionBuy, startTime))

		signal := evaluator.UpdateCandle(candleAt(startTime, 100))
		require.NotNil(t, signal)
		assert.Equal(t, eventmodels.DirectionHold, signal.Direction)
	})

	t.Run("emits HOLD on a neutral indicator", func(t *testing.T) {
		evaluator := NewEvaluator(testConfig())
		evaluator.UpdateIndicatorSignal("rsi", eventmodels.NewIndicatorSignal("rsi", 50, eventmodels.IndicatorActionNeutral, startTime))

		signal := evaluator.UpdateCandle(candleAt(startTime, 100))
		require.NotNil(t, signal)
		assert.Equal(t, eventmodels.DirectionHold, signal.Direction)
	})

	t.Run("attaches stop loss and take profit metadata", func(t *testing.T) {
		evaluator := NewEvaluator(testConfig())
		evaluator.UpdateIndicatorSignal("rsi", eventmodels.NewIndicatorSignal("rsi", 25, eventmodels.IndicatorActionBuy, startTime))

		signal := evaluator.UpdateCandle(candleAt(startTime, 100))
		require.NotNil(t, signal)

		require.NotNil(t, signal.Metadata.StopLoss)
		require.NotNil(t, signal.Metadata.TakeProfit)
		require.NotNil(t, signal.Metadata.RiskReward)
		assert.InDelta(t, 98.0, *signal.Metadata.StopLoss, 1e-9)
		assert.InDelta(t, 104.0, *signal.Metadata.TakeProfit, 1e-9)
		assert.InDelta(t, 2.0, *signal.Metadata.RiskReward, 1e-9)
	})

	t.Run("short signals mirror the trade levels", func(t *testing.T) {
		evaluator := NewEvaluator(testConfig())
		evaluator.UpdateIndicatorSignal("rsi", eventmodels.NewIndicatorSignal("rsi", 80, eventmodels.IndicatorActionSell, startTime))

		signal := evaluator.UpdateCandle(candleAt(startTime, 100))
		require.NotNil(t, signal)

		assert.Equal(t, eventmodels.DirectionShort, signal.Direction)
		assert.InDelta(t, 102.0, *signal.Metadata.StopLoss, 1e-9)
		assert.InDelta(t, 96.0, *signal.Metadata.TakeProfit, 1e-9)
	})

	t.Run("rate limiting degrades overflow signals to HOLD", func(t *testing.T) {
		evaluator := NewEvaluator(testConfig())
		evaluator.UpdateIndicatorSignal("rsi", eventmodels.NewIndicatorSignal("rsi", 25, eventmodels.IndicatorActionBuy, startTime))

		longCount := 0
		holdCount := 0

		// 20 qualifying candles inside one hour
		for i := 0; i < 20; i++ {
			signal := evaluator.UpdateCandle(candleAt(startTime.Add(time.Duration(i)*time.Minute), 100))
			require.NotNil(t, signal)

			switch signal.Direction {
			case eventmodels.DirectionLong:
				longCount++
			case eventmodels.DirectionHold:
				holdCount++
			}
		}

		assert.Equal(t, 10, longCount)
		assert.Equal(t, 10, holdCount)
	})

	t.Run("rate limit window rolls forward", func(t *testing.T) {
		config := testConfig()
		config.MaxSignalsPerHour = 1

		evaluator := NewEvaluator(config)
		evaluator.UpdateIndicatorSignal("rsi", eventmodels.NewIndicatorSignal("rsi", 25, eventmodels.IndicatorActionBuy, startTime))

		first := evaluator.UpdateCandle(candleAt(startTime, 100))
		require.NotNil(t, first)
		assert.Equal(t, eventmodels.DirectionLong, first.Direction)

		capped := evaluator.UpdateCandle(candleAt(startTime.Add(30*time.Minute), 100))
		require.NotNil(t, capped)
		assert.Equal(t, eventmodels.DirectionHold, capped.Direction)

		later := evaluator.UpdateCandle(candleAt(startTime.Add(2*time.Hour), 100))
		require.NotNil(t, later)
		assert.Equal(t, eventmodels.DirectionLong, later.Direction)
	})

	t.Run("signal events fire on the evaluator's own emitter", func(t *testing.T) {
		evaluator := NewEvaluator(testConfig())
		evaluator.UpdateIndicatorSignal("rsi", eventmodels.NewIndicatorSignal("rsi", 25, eventmodels.IndicatorActionBuy, startTime))

		var received *eventmodels.StrategySignal
		evaluator.Events().On(EventSignal, func(payload ...interface{}) {
			received = payload[0].(*eventmodels.StrategySignal)
		})

		signal := evaluator.UpdateCandle(candleAt(startTime, 100))
		require.NotNil(t, signal)
		assert.Equal(t, signal, received)
	})
}

func TestRules(t *testing.T) {
	now := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

	t.Run("missing indicator votes neutral", func(t *testing.T) {
		rule := Rule{Name: "r", Kind: RuleKindThresholdCross, Weight: 1, Params: RuleParams{Indicator: "rsi", LowerBound: 30, UpperBound: 70}}

		vote := rule.Evaluate(map[string]eventmodels.IndicatorSignal{}, candleAt(now, 100))
		assert.Equal(t, eventmodels.DirectionHold, vote.Direction)
		assert.Zero(t, vote.Confidence)
	})

	t.Run("threshold cross votes long below the lower bound", func(t *testing.T) {
		rule := Rule{Name: "r", Kind: RuleKindThresholdCross, Weight: 1, Params: RuleParams{Indicator: "rsi", LowerBound: 30, UpperBound: 70}}
		signals := map[string]eventmodels.IndicatorSignal{
			"rsi": eventmodels.NewIndicatorSignal("rsi", 20, eventmodels.IndicatorActionNeutral, now),
		}

		vote := rule.Evaluate(signals, candleAt(now, 100))
		assert.Equal(t, eventmodels.DirectionLong, vote.Direction)
		assert.Greater(t, vote.Confidence, 0.5)
	})

	t.Run("threshold cross votes short above the upper bound", func(t *testing.T) {
		rule := Rule{Name: "r", Kind: RuleKindThresholdCross, Weight: 1, Params: RuleParams{Indicator: "rsi", LowerBound: 30, UpperBound: 70}}
		signals := map[string]eventmodels.IndicatorSignal{
			"rsi": eventmodels.NewIndicatorSignal("rsi", 85, eventmodels.IndicatorActionNeutral, now),
		}

		vote := rule.Evaluate(signals, candleAt(now, 100))
		assert.Equal(t, eventmodels.DirectionShort, vote.Direction)
	})

	t.Run("candle momentum follows the body direction", func(t *testing.T) {
		rule := Rule{Name: "r", Kind: RuleKindCandleMomentum, Weight: 1}

		up := eventmodels.NewCandle(now, 100, 110, 99, 108, 10)
		vote := rule.Evaluate(nil, up)
		assert.Equal(t, eventmodels.DirectionLong, vote.Direction)

		down := eventmodels.NewCandle(now, 108, 109, 98, 100, 10)
		vote = rule.Evaluate(nil, down)
		assert.Equal(t, eventmodels.DirectionShort, vote.Direction)
	})

	t.Run("rule validation rejects bad weights and kinds", func(t *testing.T) {
		badWeight := Rule{Name: "r", Kind: RuleKindCandleMomentum, Weight: 1.5}
		assert.Error(t, badWeight.Validate())

		badKind := Rule{Name: "r", Kind: "made_up", Weight: 0.5}
		assert.Error(t, badKind.Validate())

		missingIndicator := Rule{Name: "r", Kind: RuleKindIndicatorFollow, Weight: 0.5}
		assert.Error(t, missingIndicator.Validate())
	})
}
