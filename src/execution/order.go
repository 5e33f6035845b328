package execution

import (
	"time"

	"github.com/google/uuid"

	"github.com/simtrade/engine/src/eventmodels"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
)

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected || s == OrderStatusExpired
}

func (s OrderStatus) IsFilled() bool {
	return s == OrderStatusFilled || s == OrderStatusPartiallyFilled
}

// OrderIntent is a request to trade, produced by the driver from an
// approved strategy signal.
type OrderIntent struct {
	ID         uuid.UUID                   `json:"id"`
	Signal     *eventmodels.StrategySignal `json:"signal,omitempty"`
	Symbol     string                      `json:"symbol"`
	Side       Side                        `json:"side"`
	Amount     float64                     `json:"amount"`
	Price      *float64                    `json:"price,omitempty"`
	StopLoss   *float64                    `json:"stop_loss,omitempty"`
	TakeProfit *float64                    `json:"take_profit,omitempty"`
	Timestamp  time.Time                   `json:"timestamp"`
}

func NewOrderIntent(symbol string, side Side, amount float64, timestamp time.Time) *OrderIntent {
	return &OrderIntent{
		ID:        uuid.New(),
		Symbol:    symbol,
		Side:      side,
		Amount:    amount,
		Timestamp: timestamp,
	}
}

type Fill struct {
	Price     float64   `json:"price"`
	Amount    float64   `json:"amount"`
	Fee       float64   `json:"fee"`
	Timestamp time.Time `json:"timestamp"`
}

// Order is the simulator's record of an intent's execution. Its status
// lifecycle is strictly forward: pending -> {filled | partially_filled ->
// filled | cancelled | rejected | expired}; it never returns to pending.
type Order struct {
	ID              uuid.UUID    `json:"id"`
	Intent          *OrderIntent `json:"intent"`
	Status          OrderStatus  `json:"status"`
	ExecutedAmount  float64      `json:"executed_amount"`
	ExecutedPrice   float64      `json:"executed_price"`
	RemainingAmount float64      `json:"remaining_amount"`
	Fees            float64      `json:"fees"`
	Fills           []Fill       `json:"fills"`
	Error           string       `json:"error,omitempty"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// setStatus enforces the forward-only lifecycle; a terminal order keeps its
// status and an order never regresses to pending.
func (o *Order) setStatus(status OrderStatus, at time.Time) {
	if o.Status.IsTerminal() {
		return
	}

	if status == OrderStatusPending && o.Status != OrderStatusPending {
		return
	}

	o.Status = status
	o.UpdatedAt = at
}

func (o *Order) addFill(fill Fill) {
	o.Fills = append(o.Fills, fill)

	totalAmount := 0.0
	totalNotional := 0.0
	for _, f := range o.Fills {
		totalAmount += f.Amount
		totalNotional += f.Amount * f.Price
		o.UpdatedAt = f.Timestamp
	}

	o.ExecutedAmount = totalAmount
	if totalAmount > 0 {
		o.ExecutedPrice = totalNotional / totalAmount
	}
	o.RemainingAmount = o.Intent.Amount - totalAmount
	o.Fees += fill.Fee
}

func newOrder(intent *OrderIntent) *Order {
	return &Order{
		ID:              uuid.New(),
		Intent:          intent,
		Status:          OrderStatusPending,
		RemainingAmount: intent.Amount,
		Fills:           []Fill{},
		UpdatedAt:       intent.Timestamp,
	}
}
