package backtester

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simtrade/engine/src/eventmodels"
	"github.com/simtrade/engine/src/eventpubsub"
	"github.com/simtrade/engine/src/execution"
	"github.com/simtrade/engine/src/risk"
	"github.com/simtrade/engine/src/strategy"
)

var replayStart = time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

func testStrategyConfig() strategy.Config {
	return strategy.Config{
		Name:               "trend-follow",
		Symbol:             "BTC/USDT",
		Timeframe:          "1m",
		MinConfidence:      0.5,
		MaxSignalsPerHour:  100,
		StopLossPct:        0.02,
		TakeProfitPct:      0.04,
		RequiredIndicators: []string{"trend"},
		Rules: []strategy.Rule{
			{
				Name:   "follow-trend",
				Kind:   strategy.RuleKindIndicatorFollow,
				Weight: 1.0,
				Params: strategy.RuleParams{Indicator: "trend", Confidence: 0.8},
			},
		},
	}
}

func testDriverConfig(indicators IndicatorFunc) Config {
	return Config{
		Symbol:         "BTC/USDT",
		Timeframe:      "1m",
		InitialBalance: 10000,
		Strategy:       testStrategyConfig(),
		Risk:           risk.DefaultConfig(),
		Execution:      execution.Config{},
		Indicators:     indicators,
	}
}

// trendAt drives the "trend" indicator: buy exactly at the given candle
// times, neutral everywhere else.
func trendAt(buyTimes ...time.Time) IndicatorFunc {
	return trendActionsAt(map[time.Time]eventmodels.IndicatorAction{}, buyTimes...)
}

func trendActionsAt(overrides map[time.Time]eventmodels.IndicatorAction, buyTimes ...time.Time) IndicatorFunc {
	return func(candle *eventmodels.Candle) []eventmodels.IndicatorSignal {
		action := eventmodels.IndicatorActionNeutral

		if override, found := overrides[candle.Timestamp]; found {
			action = override
		}

		for _, at := range buyTimes {
			if candle.Timestamp.Equal(at) {
				action = eventmodels.IndicatorActionBuy
			}
		}

		return []eventmodels.IndicatorSignal{
			eventmodels.NewIndicatorSignal("trend", 1, action, candle.Timestamp),
		}
	}
}

func sumTradePnL(result *Result) float64 {
	sum := 0.0
	for _, trade := range result.Trades {
		sum += trade.PnL
	}

	return sum
}

func TestDriverReplay(t *testing.T) {
	ctx := context.Background()

	t.Run("a winning long trade exits at exactly the take profit level", func(t *testing.T) {
		driver, err := NewDriver(testDriverConfig(trendAt(replayStart)))
		require.NoError(t, err)

		err = driver.LoadCandles(eventmodels.Candles{
			eventmodels.NewCandle(replayStart, 100, 100.5, 99.5, 100, 1000),
			eventmodels.NewCandle(replayStart.Add(time.Minute), 100, 105, 99, 103, 1000),
		})
		require.NoError(t, err)

		result, err := driver.Start(ctx)
		require.NoError(t, err)

		require.Equal(t, 1, result.TotalTrades)
		assert.Equal(t, 1, result.WinningTrades)
		assert.Zero(t, result.LosingTrades)

		trade := result.Trades[0]
		assert.Equal(t, eventmodels.DirectionLong, trade.Side)
		assert.Equal(t, ExitReasonTakeProfit, trade.ExitReason)
		assert.InDelta(t, 100.0, trade.EntryPrice, 1e-9)
		assert.InDelta(t, 104.0, trade.ExitPrice, 1e-9)

		// 2% risk of 10000 over a stop distance of 2 is 100 units, capped to
		// 25% of balance notional = 25 units; 25 units * 4 = 100 pnl
		assert.InDelta(t, 25.0, trade.Quantity, 1e-9)
		assert.InDelta(t, 100.0, trade.PnL, 1e-9)

		assert.InDelta(t, 10100.0, result.FinalEquity, 1e-9)
		assert.InDelta(t, result.InitialBalance+sumTradePnL(result), result.FinalEquity, 1e-6)
	})

	t.Run("a losing trade exits at exactly the stop loss level", func(t *testing.T) {
		driver, err := NewDriver(testDriverConfig(trendAt(replayStart)))
		require.NoError(t, err)

		err = driver.LoadCandles(eventmodels.Candles{
			eventmodels.NewCandle(replayStart, 100, 100.5, 99.5, 100, 1000),
			eventmodels.NewCandle(replayStart.Add(time.Minute), 100, 101, 97, 100, 1000),
		})
		require.NoError(t, err)

		result, err := driver.Start(ctx)
		require.NoError(t, err)

		require.Equal(t, 1, result.TotalTrades)
		assert.Equal(t, 1, result.LosingTrades)

		trade := result.Trades[0]
		assert.Equal(t, ExitReasonStopLoss, trade.ExitReason)
		assert.InDelta(t, 98.0, trade.ExitPrice, 1e-9)
		assert.InDelta(t, -50.0, trade.PnL, 1e-9)

		assert.InDelta(t, 9950.0, result.FinalEquity, 1e-9)
		assert.InDelta(t, result.InitialBalance+sumTradePnL(result), result.FinalEquity, 1e-6)
	})

	t.Run("trades still open at the last candle are force closed", func(t *testing.T) {
		config := testDriverConfig(trendAt(replayStart))
		config.Strategy.TakeProfitPct = 0.5 // far out of reach

		driver, err := NewDriver(config)
		require.NoError(t, err)

		err = driver.LoadCandles(eventmodels.Candles{
			eventmodels.NewCandle(replayStart, 100, 100.5, 99.5, 100, 1000),
			eventmodels.NewCandle(replayStart.Add(time.Minute), 100, 103, 99, 102, 1000),
		})
		require.NoError(t, err)

		result, err := driver.Start(ctx)
		require.NoError(t, err)

		require.Equal(t, 1, result.TotalTrades)

		trade := result.Trades[0]
		assert.Equal(t, ExitReasonEndOfBacktest, trade.ExitReason)
		assert.Equal(t, TradeStatusClosed, trade.Status)
		assert.InDelta(t, 102.0, trade.ExitPrice, 1e-9)
		assert.InDelta(t, 50.0, trade.PnL, 1e-9)

		assert.InDelta(t, result.InitialBalance+sumTradePnL(result), result.FinalEquity, 1e-6)
	})

	t.Run("max hold duration closes a stalled trade at the close", func(t *testing.T) {
		config := testDriverConfig(trendAt(replayStart))
		config.Strategy.TakeProfitPct = 0.5
		config.MaxHoldDuration = time.Minute

		driver, err := NewDriver(config)
		require.NoError(t, err)

		err = driver.LoadCandles(eventmodels.Candles{
			eventmodels.NewCandle(replayStart, 100, 100.5, 99.5, 100, 1000),
			eventmodels.NewCandle(replayStart.Add(time.Minute), 100, 103, 99, 101, 1000),
		})
		require.NoError(t, err)

		result, err := driver.Start(ctx)
		require.NoError(t, err)

		require.Equal(t, 1, result.TotalTrades)
		assert.Equal(t, ExitReasonTimeExit, result.Trades[0].ExitReason)
		assert.InDelta(t, 101.0, result.Trades[0].ExitPrice, 1e-9)
	})

	t.Run("opposing signals against an open position are skipped", func(t *testing.T) {
		second := replayStart.Add(time.Minute)

		config := testDriverConfig(trendActionsAt(map[time.Time]eventmodels.IndicatorAction{
			second: eventmodels.IndicatorActionSell,
		}, replayStart))
		config.Strategy.TakeProfitPct = 0.5

		driver, err := NewDriver(config)
		require.NoError(t, err)

		err = driver.LoadCandles(eventmodels.Candles{
			eventmodels.NewCandle(replayStart, 100, 100.5, 99.5, 100, 1000),
			eventmodels.NewCandle(second, 100, 103, 99, 102, 1000),
			eventmodels.NewCandle(replayStart.Add(2*time.Minute), 102, 103, 99, 101, 1000),
		})
		require.NoError(t, err)

		result, err := driver.Start(ctx)
		require.NoError(t, err)

		require.Equal(t, 1, result.TotalTrades)
		assert.Equal(t, eventmodels.DirectionLong, result.Trades[0].Side)
	})

	t.Run("stop mid-replay yields a partial but consistent result", func(t *testing.T) {
		driver, err := NewDriver(testDriverConfig(trendAt())) // never signals
		require.NoError(t, err)

		candles := make(eventmodels.Candles, 0, 10)
		for i := 0; i < 10; i++ {
			candles = append(candles, eventmodels.NewCandle(replayStart.Add(time.Duration(i)*time.Minute), 100, 101, 99, 100, 1000))
		}
		require.NoError(t, driver.LoadCandles(candles))

		driver.Events().On(EventProgress, func(payload ...interface{}) {
			if progress := payload[0].(Progress); progress.Processed == 3 {
				driver.Stop()
			}
		})

		result, err := driver.Start(ctx)
		require.NoError(t, err)

		assert.Len(t, result.EquityCurve, 3)
		assert.Zero(t, result.TotalTrades)
		assert.Equal(t, replayStart.Add(2*time.Minute), result.EndTime)
		assert.InDelta(t, 10000.0, result.FinalEquity, 1e-9)
	})

	t.Run("emitted signals are published on the notification bus", func(t *testing.T) {
		eventpubsub.Init()

		signals := make(chan *eventmodels.StrategySignal, 8)
		handler := func(signal *eventmodels.StrategySignal) {
			signals <- signal
		}

		require.NoError(t, eventpubsub.Subscribe(eventpubsub.TopicStrategySignal, handler))
		defer eventpubsub.Unsubscribe(eventpubsub.TopicStrategySignal, handler)

		driver, err := NewDriver(testDriverConfig(trendAt(replayStart)))
		require.NoError(t, err)

		err = driver.LoadCandles(eventmodels.Candles{
			eventmodels.NewCandle(replayStart, 100, 100.5, 99.5, 100, 1000),
			eventmodels.NewCandle(replayStart.Add(time.Minute), 100, 105, 99, 103, 1000),
		})
		require.NoError(t, err)

		result, err := driver.Start(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, result.TotalTrades)

		select {
		case signal := <-signals:
			assert.Equal(t, eventmodels.DirectionLong, signal.Direction)
			assert.InDelta(t, 100.0, signal.Price, 1e-9)
		case <-time.After(time.Second):
			t.Fatal("expected a strategy signal on the bus")
		}
	})

	t.Run("starting without data fails", func(t *testing.T) {
		driver, err := NewDriver(testDriverConfig(nil))
		require.NoError(t, err)

		_, err = driver.Start(ctx)
		assert.ErrorIs(t, err, ErrNoDataLoaded)
	})
}

func TestDriverLoadCandles(t *testing.T) {
	t.Run("skips invalid candles and sorts the rest", func(t *testing.T) {
		driver, err := NewDriver(testDriverConfig(nil))
		require.NoError(t, err)

		err = driver.LoadCandles(eventmodels.Candles{
			eventmodels.NewCandle(replayStart.Add(time.Minute), 100, 101, 99, 100, 1000),
			eventmodels.NewCandle(replayStart, 100, 98, 99, 100, 1000), // high < low
			eventmodels.NewCandle(replayStart, 100, 101, 99, 100, 1000),
		})
		require.NoError(t, err)

		assert.Len(t, driver.candles, 2)
		assert.Equal(t, replayStart, driver.candles[0].Timestamp)
	})

	t.Run("rejects duplicate timestamps", func(t *testing.T) {
		driver, err := NewDriver(testDriverConfig(nil))
		require.NoError(t, err)

		err = driver.LoadCandles(eventmodels.Candles{
			eventmodels.NewCandle(replayStart, 100, 101, 99, 100, 1000),
			eventmodels.NewCandle(replayStart, 100, 101, 99, 100, 1000),
		})
		assert.Error(t, err)
	})

	t.Run("applies the configured date window", func(t *testing.T) {
		config := testDriverConfig(nil)
		config.StartDate = replayStart.Add(time.Minute)
		config.EndDate = replayStart.Add(2 * time.Minute)

		driver, err := NewDriver(config)
		require.NoError(t, err)

		candles := make(eventmodels.Candles, 0, 5)
		for i := 0; i < 5; i++ {
			candles = append(candles, eventmodels.NewCandle(replayStart.Add(time.Duration(i)*time.Minute), 100, 101, 99, 100, 1000))
		}

		require.NoError(t, driver.LoadCandles(candles))
		assert.Len(t, driver.candles, 2)
	})

	t.Run("a window containing no candles is an error", func(t *testing.T) {
		config := testDriverConfig(nil)
		config.StartDate = replayStart.Add(time.Hour)

		driver, err := NewDriver(config)
		require.NoError(t, err)

		err = driver.LoadCandles(eventmodels.Candles{
			eventmodels.NewCandle(replayStart, 100, 101, 99, 100, 1000),
		})
		assert.ErrorIs(t, err, ErrNoValidCandles)
	})
}

func TestNewDriverValidation(t *testing.T) {
	t.Run("rejects an invalid strategy", func(t *testing.T) {
		config := testDriverConfig(nil)
		config.Strategy.Rules = nil

		_, err := NewDriver(config)
		assert.Error(t, err)
	})

	t.Run("rejects a non-positive balance", func(t *testing.T) {
		config := testDriverConfig(nil)
		config.InitialBalance = 0

		_, err := NewDriver(config)
		assert.Error(t, err)
	})
}
