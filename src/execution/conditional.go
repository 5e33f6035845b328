package execution

import (
	"github.com/google/uuid"
)

type ConditionalKind string

const (
	ConditionalKindStopLoss   ConditionalKind = "stop_loss"
	ConditionalKindTakeProfit ConditionalKind = "take_profit"
)

// ConditionalOrder is a reduce-only companion registered when a filled
// parent order carried stop-loss/take-profit levels. In paper mode it is
// tracked for exit-condition checking rather than placed on a real book.
type ConditionalOrder struct {
	ID            uuid.UUID       `json:"id"`
	ParentOrderID uuid.UUID       `json:"parent_order_id"`
	Symbol        string          `json:"symbol"`
	Kind          ConditionalKind `json:"kind"`
	TriggerPrice  float64         `json:"trigger_price"`
	ReduceSide    Side            `json:"reduce_side"`
	Amount        float64         `json:"amount"`
	Active        bool            `json:"active"`
}

// isTriggered reports whether the candle's high/low range crossed the
// trigger level.
func (c *ConditionalOrder) isTriggered(high, low float64) bool {
	if !c.Active {
		return false
	}

	// a long position reduces by selling: stops trigger on the way down,
	// take profits on the way up; shorts are symmetric
	if c.ReduceSide == SideSell {
		if c.Kind == ConditionalKindStopLoss {
			return low <= c.TriggerPrice
		}
		return high >= c.TriggerPrice
	}

	if c.Kind == ConditionalKindStopLoss {
		return high >= c.TriggerPrice
	}
	return low <= c.TriggerPrice
}
