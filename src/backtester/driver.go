package backtester

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kataras/go-events"
	log "github.com/sirupsen/logrus"

	"github.com/simtrade/engine/src/eventmodels"
	"github.com/simtrade/engine/src/eventpubsub"
	"github.com/simtrade/engine/src/execution"
	"github.com/simtrade/engine/src/risk"
	"github.com/simtrade/engine/src/strategy"
)

// EventProgress is emitted on the driver's emitter once per processed
// candle with a Progress payload.
const EventProgress events.EventName = "backtester:progress"

type Progress struct {
	Processed   int       `json:"processed"`
	Total       int       `json:"total"`
	CurrentTime time.Time `json:"current_time"`
	Equity      float64   `json:"equity"`
}

var (
	ErrNoDataLoaded   = fmt.Errorf("no data loaded")
	ErrAlreadyRunning = fmt.Errorf("backtest already running")
)

// IndicatorFunc supplies the per-candle indicator snapshot during replay,
// standing in for the live indicator collaborator.
type IndicatorFunc func(candle *eventmodels.Candle) []eventmodels.IndicatorSignal

// Config describes one backtest session.
type Config struct {
	Symbol         string    `json:"symbol" yaml:"symbol"`
	Timeframe      string    `json:"timeframe" yaml:"timeframe"`
	InitialBalance float64   `json:"initial_balance" yaml:"initial_balance"`
	StartDate      time.Time `json:"start_date" yaml:"start_date"`
	EndDate        time.Time `json:"end_date" yaml:"end_date"`

	// ReplaySpeed throttles the loop with a per-candle delay of
	// 1/ReplaySpeed seconds; 0 replays at full speed.
	ReplaySpeed float64 `json:"replay_speed" yaml:"replay_speed"`

	// MaxHoldDuration closes trades still open after this long; 0 disables
	// the time exit.
	MaxHoldDuration time.Duration `json:"max_hold_duration" yaml:"max_hold_duration"`

	Strategy  strategy.Config  `json:"strategy" yaml:"strategy"`
	Risk      risk.Config      `json:"risk" yaml:"risk"`
	Execution execution.Config `json:"execution" yaml:"execution"`

	// Indicators is optional; strategies built purely on candle rules run
	// without it.
	Indicators IndicatorFunc `json:"-" yaml:"-"`
}

// Driver orchestrates a full historical replay: candles feed the strategy
// evaluator, signals route through the risk manager and the execution
// simulator, open trades are checked for exits every candle, and an equity
// curve and trade ledger accumulate. A driver runs one session on a single
// logical thread of control.
type Driver struct {
	config Config

	candles     eventmodels.Candles
	evaluator   *strategy.Evaluator
	riskManager *risk.Manager
	executor    *execution.PaperExecutor

	timeMu      sync.RWMutex
	currentTime time.Time

	paused  atomic.Bool
	stopped atomic.Bool
	running atomic.Bool

	equityCurve []EquityPoint
	trades      []*Trade
	openTrades  []*Trade

	emitter events.EventEmmiter
}

func NewDriver(config Config) (*Driver, error) {
	if err := config.Strategy.Validate(); err != nil {
		return nil, fmt.Errorf("NewDriver: invalid strategy config: %w", err)
	}

	if err := config.Risk.Validate(); err != nil {
		return nil, fmt.Errorf("NewDriver: invalid risk config: %w", err)
	}

	if config.InitialBalance <= 0 {
		return nil, fmt.Errorf("NewDriver: initial balance must be positive")
	}

	quote := execution.QuoteCurrency(config.Symbol)

	d := &Driver{
		config:      config,
		evaluator:   strategy.NewEvaluator(config.Strategy),
		riskManager: risk.NewManager(config.Risk, config.InitialBalance),
		executor: execution.NewPaperExecutor(config.Execution, map[string]float64{
			quote: config.InitialBalance,
		}),
		emitter: events.New(),
	}

	d.riskManager.SetTimeFunc(d.now)
	d.riskManager.OnEmergency(func(drawdown float64) {
		eventpubsub.Publish(eventpubsub.TopicRiskAlert, fmt.Sprintf("emergency mode entered: drawdown %.4f", drawdown))
	})

	return d, nil
}

// Events exposes the driver's emitter for progress subscribers.
func (d *Driver) Events() events.EventEmmiter {
	return d.emitter
}

// Executor exposes the session's execution simulator, e.g. for event stream
// subscriptions.
func (d *Driver) Executor() *execution.PaperExecutor {
	return d.executor
}

// RiskManager exposes the session's risk manager.
func (d *Driver) RiskManager() *risk.Manager {
	return d.riskManager
}

func (d *Driver) now() time.Time {
	d.timeMu.RLock()
	defer d.timeMu.RUnlock()

	if d.currentTime.IsZero() {
		return time.Now()
	}

	return d.currentTime
}

func (d *Driver) setCurrentTime(t time.Time) {
	d.timeMu.Lock()
	d.currentTime = t
	d.timeMu.Unlock()
}

// LoadCandles installs a pre-built candle sequence, skipping invalid
// candles with a warning and filtering to the configured date window.
func (d *Driver) LoadCandles(candles eventmodels.Candles) error {
	valid := make(eventmodels.Candles, 0, len(candles))
	for i, candle := range candles {
		if err := candle.Validate(); err != nil {
			log.Warnf("LoadCandles: skipping candle %d: %v", i, err)
			continue
		}

		valid = append(valid, candle)
	}

	valid.SortByTimestamp()
	valid = FilterCandlesByDate(valid, d.config.StartDate, d.config.EndDate)

	if len(valid) == 0 {
		return fmt.Errorf("LoadCandles: %w", ErrNoValidCandles)
	}

	if err := valid.ValidateSequence(); err != nil {
		return fmt.Errorf("LoadCandles: %w", err)
	}

	d.candles = valid

	log.Infof("LoadCandles: loaded %d candles [%s - %s]", len(valid), valid[0].Timestamp.Format(time.RFC3339), valid[len(valid)-1].Timestamp.Format(time.RFC3339))

	return nil
}

// LoadCSV parses raw delimited text and installs the result.
func (d *Driver) LoadCSV(text string) error {
	candles, err := LoadCandlesFromCSV(text)
	if err != nil {
		return fmt.Errorf("LoadCSV: %w", err)
	}

	return d.LoadCandles(candles)
}

// Pause sets a flag the replay loop polls before each candle; while paused
// the loop yields without consuming candles.
func (d *Driver) Pause() {
	d.paused.Store(true)
}

func (d *Driver) Resume() {
	d.paused.Store(false)
}

// Stop takes effect cooperatively at the next iteration boundary; any order
// submitted for the in-flight candle resolves first. A stopped run still
// returns a result derived from the partial equity curve.
func (d *Driver) Stop() {
	d.stopped.Store(true)
}

// Start runs the replay loop to completion, cancellation or Stop, then
// derives statistics. The returned result always has a fully reconciled
// ledger: any trade still open is force-closed at the final processed
// candle's close.
func (d *Driver) Start(ctx context.Context) (*Result, error) {
	if len(d.candles) == 0 {
		return nil, ErrNoDataLoaded
	}

	if !d.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer d.running.Store(false)

	startWall := time.Now()
	throttle := d.throttleDelay()

	var lastProcessed *eventmodels.Candle

	log.Infof("backtest %s: starting replay of %d candles", d.config.Strategy.Name, len(d.candles))

	for i, candle := range d.candles {
		if d.stopped.Load() || ctx.Err() != nil {
			log.Infof("backtest %s: stopped after %d candles", d.config.Strategy.Name, i)
			break
		}

		if err := d.waitWhilePaused(ctx); err != nil {
			break
		}

		d.setCurrentTime(candle.Timestamp)
		d.executor.SetMarkPrice(d.config.Symbol, candle.Close, candle.Timestamp)

		d.checkExits(candle)

		if d.config.Indicators != nil {
			for _, signal := range d.config.Indicators(candle) {
				d.evaluator.UpdateIndicatorSignal(signal.Name, signal)
			}
		}

		if signal := d.evaluator.UpdateCandle(candle); signal != nil && signal.Direction != eventmodels.DirectionHold {
			eventpubsub.Publish(eventpubsub.TopicStrategySignal, signal)
			d.handleSignal(ctx, signal, candle)
		}

		equity := d.currentEquity()
		d.equityCurve = append(d.equityCurve, EquityPoint{Timestamp: candle.Timestamp, Value: equity})

		d.emitter.Emit(EventProgress, Progress{
			Processed:   i + 1,
			Total:       len(d.candles),
			CurrentTime: candle.Timestamp,
			Equity:      equity,
		})

		lastProcessed = candle

		if throttle > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(throttle):
			}
		}
	}

	if lastProcessed == nil {
		return nil, fmt.Errorf("backtest stopped before processing any candle")
	}

	// force-close whatever is still open so the ledger and equity curve are
	// always reconciled
	if len(d.openTrades) > 0 {
		for _, trade := range append([]*Trade{}, d.openTrades...) {
			d.closeTrade(trade, lastProcessed.Close, lastProcessed.Timestamp, ExitReasonEndOfBacktest)
		}

		d.equityCurve = append(d.equityCurve, EquityPoint{Timestamp: lastProcessed.Timestamp, Value: d.currentEquity()})
	}

	result := computeResult(
		d.config.InitialBalance,
		d.equityCurve,
		d.trades,
		d.candles[0].Timestamp,
		lastProcessed.Timestamp,
		time.Since(startWall),
	)

	log.Infof("backtest %s: finished, %d trades, final equity %.2f", d.config.Strategy.Name, result.TotalTrades, result.FinalEquity)

	return result, nil
}

func (d *Driver) throttleDelay() time.Duration {
	if d.config.ReplaySpeed <= 0 {
		return 0
	}

	return time.Duration(float64(time.Second) / d.config.ReplaySpeed)
}

func (d *Driver) waitWhilePaused(ctx context.Context) error {
	for d.paused.Load() && !d.stopped.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}

	return ctx.Err()
}

// currentEquity is the account value marked at the latest mark price: cash
// plus reserved margin plus unrealized PnL of open positions.
func (d *Driver) currentEquity() float64 {
	equity := 0.0
	for _, balance := range d.executor.GetBalances() {
		equity += balance.Total
	}

	for _, position := range d.executor.GetPositions() {
		equity += position.UnrealizedPnL
	}

	return equity
}

// checkExits closes any open trade whose stop-loss, take-profit or maximum
// hold time triggered on this candle. Stops and targets exit at exactly the
// level price, never the close; only the candle's own range is consulted.
func (d *Driver) checkExits(candle *eventmodels.Candle) {
	for _, trade := range append([]*Trade{}, d.openTrades...) {
		price, reason, triggered := exitTrigger(trade, candle, d.config.MaxHoldDuration)
		if !triggered {
			continue
		}

		d.closeTrade(trade, price, candle.Timestamp, reason)
	}
}

func exitTrigger(trade *Trade, candle *eventmodels.Candle, maxHold time.Duration) (float64, ExitReason, bool) {
	if trade.Side == eventmodels.DirectionLong {
		if trade.StopLoss > 0 && candle.Low <= trade.StopLoss {
			return trade.StopLoss, ExitReasonStopLoss, true
		}

		if trade.TakeProfit > 0 && candle.High >= trade.TakeProfit {
			return trade.TakeProfit, ExitReasonTakeProfit, true
		}
	} else {
		if trade.StopLoss > 0 && candle.High >= trade.StopLoss {
			return trade.StopLoss, ExitReasonStopLoss, true
		}

		if trade.TakeProfit > 0 && candle.Low <= trade.TakeProfit {
			return trade.TakeProfit, ExitReasonTakeProfit, true
		}
	}

	if maxHold > 0 && candle.Timestamp.Sub(trade.EntryTime) >= maxHold {
		return candle.Close, ExitReasonTimeExit, true
	}

	return 0, "", false
}

func (d *Driver) closeTrade(trade *Trade, price float64, at time.Time, reason ExitReason) {
	side := execution.SideSell
	if trade.Side == eventmodels.DirectionShort {
		side = execution.SideBuy
	}

	exitPrice := price
	intent := execution.NewOrderIntent(trade.Symbol, side, trade.Quantity, at)
	intent.Price = &exitPrice

	order, err := d.executor.ExecuteOrder(context.Background(), intent)
	if err != nil {
		log.Errorf("closeTrade: error executing exit order: %v", err)
		return
	}

	exitCommission := 0.0
	if order.Status.IsFilled() {
		exitCommission = order.Fees
	} else {
		log.Warnf("closeTrade: exit order for trade %s not filled (%s): %s", trade.ID, order.Status, order.Error)
	}

	trade.close(price, at, reason, exitCommission)

	d.removeOpenTrade(trade)
	d.trades = append(d.trades, trade)

	d.riskManager.UpdateAfterTrade(trade.Symbol, trade.Side, trade.Quantity, price, &trade.PnL)

	eventpubsub.Publish(eventpubsub.TopicTradeClosed, trade)

	log.Infof("closed trade %s: %s %s %.6f @ %.4f -> %.4f, pnl %.2f (%s)", trade.ID, trade.Side, trade.Symbol, trade.Quantity, trade.EntryPrice, price, trade.PnL, reason)
}

func (d *Driver) removeOpenTrade(trade *Trade) {
	for i, t := range d.openTrades {
		if t.ID == trade.ID {
			d.openTrades = append(d.openTrades[:i], d.openTrades[i+1:]...)
			return
		}
	}
}

// handleSignal sizes and risk-checks a non-HOLD signal, then submits it to
// the execution simulator. Rejections are logged and otherwise ignored.
func (d *Driver) handleSignal(ctx context.Context, signal *eventmodels.StrategySignal, candle *eventmodels.Candle) {
	if signal.Metadata.StopLoss == nil {
		log.Warnf("handleSignal: %s signal without stop-loss, skipping", signal.Direction)
		return
	}

	// an opposing entry would silently reduce the open position instead of
	// opening a new one; skip it rather than corrupt the ledger
	if position, found := d.executor.GetPosition(d.config.Symbol); found {
		opposing := position.Side == execution.PositionSideLong && signal.Direction == eventmodels.DirectionShort ||
			position.Side == execution.PositionSideShort && signal.Direction == eventmodels.DirectionLong
		if opposing {
			log.Warnf("handleSignal: skipping %s signal against open %s position", signal.Direction, position.Side)
			return
		}
	}

	metrics := d.riskManager.GetRiskMetrics()

	sizing := d.riskManager.CalculatePositionSize(metrics.AccountBalance, signal.Price, *signal.Metadata.StopLoss, d.config.Symbol, nil)
	if sizing.RecommendedSize <= 0 {
		log.Warnf("handleSignal: zero position size, skipping: %v", sizing.Reasoning)
		return
	}

	assessment := d.riskManager.AssessTradeRisk(d.config.Symbol, signal.Direction, sizing.RecommendedSize, signal.Price, *signal.Metadata.StopLoss, signal.Metadata.TakeProfit)
	if !assessment.Approved {
		log.Warnf("handleSignal: trade rejected (score %.0f): %v", assessment.RiskScore, assessment.Restrictions)
		return
	}

	side := execution.SideBuy
	if signal.Direction == eventmodels.DirectionShort {
		side = execution.SideSell
	}

	intent := execution.NewOrderIntent(d.config.Symbol, side, sizing.RecommendedSize, candle.Timestamp)
	intent.Signal = signal
	intent.StopLoss = signal.Metadata.StopLoss
	intent.TakeProfit = signal.Metadata.TakeProfit

	order, err := d.executor.ExecuteOrder(ctx, intent)
	if err != nil {
		log.Errorf("handleSignal: error executing order: %v", err)
		return
	}

	if !order.Status.IsFilled() {
		log.Warnf("handleSignal: order %s not filled (%s): %s", order.ID, order.Status, order.Error)
		return
	}

	trade := &Trade{
		ID:         uuid.New(),
		Symbol:     d.config.Symbol,
		Side:       signal.Direction,
		EntryTime:  candle.Timestamp,
		EntryPrice: order.ExecutedPrice,
		Quantity:   order.ExecutedAmount,
		Commission: order.Fees,
		Status:     TradeStatusOpen,
	}

	if signal.Metadata.StopLoss != nil {
		trade.StopLoss = *signal.Metadata.StopLoss
	}

	if signal.Metadata.TakeProfit != nil {
		trade.TakeProfit = *signal.Metadata.TakeProfit
	}

	d.openTrades = append(d.openTrades, trade)

	d.riskManager.UpdateAfterTrade(trade.Symbol, trade.Side, trade.Quantity, trade.EntryPrice, nil)

	eventpubsub.Publish(eventpubsub.TopicTradeExecuted, trade)

	log.Infof("opened trade %s: %s %s %.6f @ %.4f (sl %.4f, tp %.4f)", trade.ID, trade.Side, trade.Symbol, trade.Quantity, trade.EntryPrice, trade.StopLoss, trade.TakeProfit)
}
