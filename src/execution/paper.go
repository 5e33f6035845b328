package execution

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kataras/go-events"
	log "github.com/sirupsen/logrus"
)

// Event names emitted on the executor's own emitter. Payloads are *Order,
// *Position, *Balance and error respectively.
const (
	EventOrderUpdate    events.EventName = "execution:order"
	EventPositionUpdate events.EventName = "execution:position"
	EventBalanceUpdate  events.EventName = "execution:balance"
	EventError          events.EventName = "execution:error"
)

// Config tunes the paper fill model.
type Config struct {
	SlippageTolerance float64 `json:"slippage_tolerance" yaml:"slippage_tolerance"`
	FeeRate           float64 `json:"fee_rate" yaml:"fee_rate"`

	// Orders whose notional exceeds LargeOrderNotional fill partially with
	// PartialFillProbability, at 30-70% of the requested amount.
	PartialFillProbability float64 `json:"partial_fill_probability" yaml:"partial_fill_probability"`
	LargeOrderNotional     float64 `json:"large_order_notional" yaml:"large_order_notional"`

	MinLatency time.Duration `json:"min_latency" yaml:"min_latency"`
	MaxLatency time.Duration `json:"max_latency" yaml:"max_latency"`

	EnableStopLoss   bool `json:"enable_stop_loss" yaml:"enable_stop_loss"`
	EnableTakeProfit bool `json:"enable_take_profit" yaml:"enable_take_profit"`

	// Seed fixes the partial-fill RNG for reproducible runs; 0 seeds from
	// the wall clock.
	Seed int64 `json:"seed" yaml:"seed"`
}

func DefaultConfig() Config {
	return Config{
		SlippageTolerance:      0.001,
		FeeRate:                0.001,
		PartialFillProbability: 0.1,
		LargeOrderNotional:     50_000,
		EnableStopLoss:         true,
		EnableTakeProfit:       true,
	}
}

const (
	minPartialFillRatio = 0.3
	maxPartialFillRatio = 0.7
)

// PaperExecutor simulates order execution against an internal ledger. It
// exclusively owns its balance and position maps; callers only ever see
// copies. The contract is identical to a live exchange adapter from the
// caller's perspective: same Order shape, same event streams.
type PaperExecutor struct {
	mu sync.Mutex

	config Config

	balances     map[string]*Balance
	positions    map[string]*Position
	markPrices   map[string]float64
	orders       map[uuid.UUID]*Order
	conditionals []*ConditionalOrder

	emitter events.EventEmmiter
	rng     *rand.Rand
}

// NewPaperExecutor creates an executor funded with the given per-currency
// free balances.
func NewPaperExecutor(config Config, initialBalances map[string]float64) *PaperExecutor {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	balances := make(map[string]*Balance, len(initialBalances))
	for currency, amount := range initialBalances {
		balances[currency] = &Balance{
			Currency: currency,
			Free:     amount,
			Total:    amount,
		}
	}

	return &PaperExecutor{
		config:     config,
		balances:   balances,
		positions:  make(map[string]*Position),
		markPrices: make(map[string]float64),
		orders:     make(map[uuid.UUID]*Order),
		emitter:    events.New(),
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// Events exposes the executor's own emitter; each instance owns its
// channels, there is no global bus.
func (e *PaperExecutor) Events() events.EventEmmiter {
	return e.emitter
}

// SetMarkPrice updates the simulated mark price for a symbol and re-marks
// any open position.
func (e *PaperExecutor) SetMarkPrice(symbol string, price float64, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.markPrices[symbol] = price

	if position, found := e.positions[symbol]; found {
		position.Mark(price, at)
		e.emitter.Emit(EventPositionUpdate, clonePosition(position))
	}
}

// ExecuteOrder turns an intent into a filled, partially filled or rejected
// order. Business failures (insufficient balance, invalid order) surface as
// a rejected order with a populated Error, never as a returned error; the
// returned error is reserved for cancellation of the latency wait.
func (e *PaperExecutor) ExecuteOrder(ctx context.Context, intent *OrderIntent) (*Order, error) {
	order := newOrder(intent)

	e.mu.Lock()
	e.orders[order.ID] = order
	e.mu.Unlock()

	if err := e.simulateLatency(ctx); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if intent.Amount <= 0 {
		return e.rejectLocked(order, ErrInvalidOrderAmount.Error()), nil
	}

	if intent.Price != nil && *intent.Price <= 0 {
		return e.rejectLocked(order, ErrInvalidOrderPrice.Error()), nil
	}

	price, ok := e.effectivePriceLocked(intent)
	if !ok {
		return e.rejectLocked(order, ErrNoPriceAvailable.Error()), nil
	}

	fillAmount := e.fillAmountLocked(intent, price)

	if err := e.applyFillLocked(order, price, fillAmount, intent.Timestamp); err != nil {
		return e.rejectLocked(order, err.Error()), nil
	}

	if fillAmount < intent.Amount {
		order.setStatus(OrderStatusPartiallyFilled, intent.Timestamp)
	} else {
		order.setStatus(OrderStatusFilled, intent.Timestamp)
	}

	e.registerConditionalsLocked(order)

	e.emitter.Emit(EventOrderUpdate, order)

	return order, nil
}

// CancelOrder cancels a pending order. Orders that already reached a
// terminal status are not cancellable.
func (e *PaperExecutor) CancelOrder(id uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, found := e.orders[id]
	if !found {
		log.Warnf("paper executor: cancel %s: %v", id, ErrOrderNotFound)
		return false
	}

	if order.Status != OrderStatusPending {
		return false
	}

	order.setStatus(OrderStatusCancelled, time.Now().UTC())
	e.emitter.Emit(EventOrderUpdate, order)

	return true
}

// GetBalance returns a snapshot of one currency's ledger entry.
func (e *PaperExecutor) GetBalance(currency string) Balance {
	e.mu.Lock()
	defer e.mu.Unlock()

	if balance, found := e.balances[currency]; found {
		return *balance
	}

	return Balance{Currency: currency}
}

func (e *PaperExecutor) GetBalances() map[string]Balance {
	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot := make(map[string]Balance, len(e.balances))
	for currency, balance := range e.balances {
		snapshot[currency] = *balance
	}

	return snapshot
}

func (e *PaperExecutor) GetPosition(symbol string) (Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	position, found := e.positions[symbol]
	if !found {
		return Position{}, false
	}

	return *position, true
}

func (e *PaperExecutor) GetPositions() map[string]Position {
	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot := make(map[string]Position, len(e.positions))
	for symbol, position := range e.positions {
		snapshot[symbol] = *position
	}

	return snapshot
}

// ConditionalOrders returns the active reduce-only companions for a symbol.
func (e *PaperExecutor) ConditionalOrders(symbol string) []*ConditionalOrder {
	e.mu.Lock()
	defer e.mu.Unlock()

	var active []*ConditionalOrder
	for _, c := range e.conditionals {
		if c.Active && c.Symbol == symbol {
			copied := *c
			active = append(active, &copied)
		}
	}

	return active
}

// EvaluateConditionals checks the registered companions against a candle's
// range and executes any triggered reduce at exactly the trigger price.
// Triggering one companion deactivates its sibling for the same parent.
func (e *PaperExecutor) EvaluateConditionals(symbol string, high, low float64, at time.Time) []*Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	var executed []*Order

	for _, c := range e.conditionals {
		if c.Symbol != symbol || !c.isTriggered(high, low) {
			continue
		}

		c.Active = false
		e.deactivateSiblingLocked(c)

		price := c.TriggerPrice
		intent := &OrderIntent{
			ID:        uuid.New(),
			Symbol:    c.Symbol,
			Side:      c.ReduceSide,
			Amount:    c.Amount,
			Price:     &price,
			Timestamp: at,
		}

		order := newOrder(intent)
		e.orders[order.ID] = order

		if err := e.applyFillLocked(order, price, c.Amount, at); err != nil {
			e.rejectLocked(order, err.Error())
			continue
		}

		order.setStatus(OrderStatusFilled, at)
		e.emitter.Emit(EventOrderUpdate, order)

		executed = append(executed, order)
	}

	return executed
}

func (e *PaperExecutor) deactivateConditionalsLocked(symbol string) {
	for _, c := range e.conditionals {
		if c.Symbol == symbol {
			c.Active = false
		}
	}
}

func (e *PaperExecutor) deactivateSiblingLocked(triggered *ConditionalOrder) {
	for _, c := range e.conditionals {
		if c.ParentOrderID == triggered.ParentOrderID && c.ID != triggered.ID {
			c.Active = false
		}
	}
}

func (e *PaperExecutor) simulateLatency(ctx context.Context) error {
	if e.config.MaxLatency <= 0 {
		return nil
	}

	delay := e.config.MinLatency
	if spread := e.config.MaxLatency - e.config.MinLatency; spread > 0 {
		e.mu.Lock()
		delay += time.Duration(e.rng.Int63n(int64(spread)))
		e.mu.Unlock()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// effectivePriceLocked resolves the execution price: the limit price as-is,
// or the mark price adjusted by slippage in the side's unfavorable
// direction.
func (e *PaperExecutor) effectivePriceLocked(intent *OrderIntent) (float64, bool) {
	if intent.Price != nil {
		return *intent.Price, true
	}

	mark, found := e.markPrices[intent.Symbol]
	if !found || mark <= 0 {
		return 0, false
	}

	if intent.Side == SideBuy {
		return mark * (1 + e.config.SlippageTolerance), true
	}

	return mark * (1 - e.config.SlippageTolerance), true
}

func (e *PaperExecutor) fillAmountLocked(intent *OrderIntent, price float64) float64 {
	notional := intent.Amount * price
	if e.config.PartialFillProbability <= 0 || notional <= e.config.LargeOrderNotional {
		return intent.Amount
	}

	if e.rng.Float64() >= e.config.PartialFillProbability {
		return intent.Amount
	}

	ratio := minPartialFillRatio + e.rng.Float64()*(maxPartialFillRatio-minPartialFillRatio)
	return intent.Amount * ratio
}

// applyFillLocked validates funding and mutates balances and the position
// atomically: both legs of the trade move together or not at all.
func (e *PaperExecutor) applyFillLocked(order *Order, price, amount float64, at time.Time) error {
	symbol := order.Intent.Symbol
	quote := QuoteCurrency(symbol)

	balance, found := e.balances[quote]
	if !found {
		balance = &Balance{Currency: quote}
		e.balances[quote] = balance
	}

	fee := amount * price * e.config.FeeRate

	position := e.positions[symbol]
	fillSide := positionSideForOrder(order.Intent.Side)

	closingAmount := 0.0
	openingAmount := amount
	if position != nil && position.Side != fillSide {
		closingAmount = math.Min(position.Amount, amount)
		openingAmount = amount - closingAmount
	}

	// opening margin is reserved at the fill price; the closing portion
	// releases margin instead of consuming it
	required := fee + openingAmount*price
	released := 0.0
	pnl := 0.0

	if closingAmount > 0 {
		released = closingAmount * position.EntryPrice
		if position.Side == PositionSideLong {
			pnl = (price - position.EntryPrice) * closingAmount
		} else {
			pnl = (position.EntryPrice - price) * closingAmount
		}
	}

	if balance.Free+released+pnl < required {
		e.emitter.Emit(EventError, ErrInsufficientBalance)
		return ErrInsufficientBalance
	}

	// balances: release closed margin and realized pnl, reserve new margin,
	// pay the fee
	balance.Free += released + pnl - required
	balance.Used += openingAmount*price - released
	balance.sync()

	// position bookkeeping
	if closingAmount > 0 {
		position.RealizedPnL += pnl
		position.Amount -= closingAmount

		// the position this fill just emptied is gone; its stops and targets
		// must not fire against a later position
		if position.Amount <= 1e-12 {
			e.deactivateConditionalsLocked(symbol)
		}
	}

	if openingAmount > 0 {
		if position == nil || position.Amount == 0 && position.Side != fillSide {
			// new position, or a flip carrying the residual at the fill price
			realized := 0.0
			if position != nil {
				realized = position.RealizedPnL
			}

			position = &Position{
				Symbol:      symbol,
				Side:        fillSide,
				Amount:      openingAmount,
				EntryPrice:  price,
				RealizedPnL: realized,
			}
			e.positions[symbol] = position
		} else {
			// adding to an existing same-side position: volume-weighted
			// average entry
			totalAmount := position.Amount + openingAmount
			position.EntryPrice = (position.EntryPrice*position.Amount + price*openingAmount) / totalAmount
			position.Amount = totalAmount
		}
	}

	if position != nil {
		if position.Amount <= 1e-12 {
			delete(e.positions, symbol)
			position.Amount = 0
			position.Mark(price, at)
		} else {
			position.Mark(price, at)
		}
		e.emitter.Emit(EventPositionUpdate, clonePosition(position))
	}

	order.addFill(Fill{
		Price:     price,
		Amount:    amount,
		Fee:       fee,
		Timestamp: at,
	})

	e.emitter.Emit(EventBalanceUpdate, &Balance{
		Currency: balance.Currency,
		Free:     balance.Free,
		Used:     balance.Used,
		Total:    balance.Total,
	})

	return nil
}

func (e *PaperExecutor) registerConditionalsLocked(order *Order) {
	intent := order.Intent
	if !order.Status.IsFilled() || intent.Signal == nil && intent.StopLoss == nil && intent.TakeProfit == nil {
		return
	}

	reduceSide := SideSell
	if intent.Side == SideSell {
		reduceSide = SideBuy
	}

	if e.config.EnableStopLoss && intent.StopLoss != nil {
		e.conditionals = append(e.conditionals, &ConditionalOrder{
			ID:            uuid.New(),
			ParentOrderID: order.ID,
			Symbol:        intent.Symbol,
			Kind:          ConditionalKindStopLoss,
			TriggerPrice:  *intent.StopLoss,
			ReduceSide:    reduceSide,
			Amount:        order.ExecutedAmount,
			Active:        true,
		})
	}

	if e.config.EnableTakeProfit && intent.TakeProfit != nil {
		e.conditionals = append(e.conditionals, &ConditionalOrder{
			ID:            uuid.New(),
			ParentOrderID: order.ID,
			Symbol:        intent.Symbol,
			Kind:          ConditionalKindTakeProfit,
			TriggerPrice:  *intent.TakeProfit,
			ReduceSide:    reduceSide,
			Amount:        order.ExecutedAmount,
			Active:        true,
		})
	}
}

func (e *PaperExecutor) rejectLocked(order *Order, reason string) *Order {
	order.Error = reason
	order.setStatus(OrderStatusRejected, time.Now().UTC())

	log.Warnf("paper executor: rejecting order %s: %s", order.ID, reason)
	e.emitter.Emit(EventOrderUpdate, order)

	return order
}

func positionSideForOrder(side Side) PositionSide {
	if side == SideBuy {
		return PositionSideLong
	}

	return PositionSideShort
}

func clonePosition(p *Position) *Position {
	copied := *p
	return &copied
}

// QuoteCurrency extracts the settlement currency from a symbol like
// BTC/USDT; bare symbols settle in USD.
func QuoteCurrency(symbol string) string {
	if i := strings.LastIndexAny(symbol, "/-"); i >= 0 && i < len(symbol)-1 {
		return symbol[i+1:]
	}

	return "USD"
}
