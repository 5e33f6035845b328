package backtester

import (
	"time"

	"github.com/google/uuid"

	"github.com/simtrade/engine/src/eventmodels"
)

type ExitReason string

const (
	ExitReasonStopLoss      ExitReason = "stop_loss"
	ExitReasonTakeProfit    ExitReason = "take_profit"
	ExitReasonTimeExit      ExitReason = "time_exit"
	ExitReasonEndOfBacktest ExitReason = "end_of_backtest"
)

type TradeStatus string

const (
	TradeStatusOpen   TradeStatus = "open"
	TradeStatusClosed TradeStatus = "closed"
)

// Trade is one entry in the backtest ledger. It is created on fill,
// finalized exactly once on exit, and never mutated after closing.
type Trade struct {
	ID         uuid.UUID             `json:"id"`
	Symbol     string                `json:"symbol"`
	Side       eventmodels.Direction `json:"side"`
	EntryTime  time.Time             `json:"entry_time"`
	ExitTime   time.Time             `json:"exit_time,omitempty"`
	EntryPrice float64               `json:"entry_price"`
	ExitPrice  float64               `json:"exit_price,omitempty"`
	Quantity   float64               `json:"quantity"`
	Commission float64               `json:"commission"`
	PnL        float64               `json:"pnl"`
	StopLoss   float64               `json:"stop_loss,omitempty"`
	TakeProfit float64               `json:"take_profit,omitempty"`
	ExitReason ExitReason            `json:"exit_reason,omitempty"`
	Duration   time.Duration         `json:"duration"`
	Status     TradeStatus           `json:"status"`
}

// close finalizes the trade. PnL is post-commission.
func (t *Trade) close(price float64, at time.Time, reason ExitReason, exitCommission float64) {
	if t.Status == TradeStatusClosed {
		return
	}

	t.ExitTime = at
	t.ExitPrice = price
	t.Commission += exitCommission
	t.ExitReason = reason
	t.Duration = at.Sub(t.EntryTime)
	t.Status = TradeStatusClosed

	gross := (price - t.EntryPrice) * t.Quantity
	if t.Side == eventmodels.DirectionShort {
		gross = (t.EntryPrice - price) * t.Quantity
	}

	t.PnL = gross - t.Commission
}
