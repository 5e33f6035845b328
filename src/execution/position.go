package execution

import "time"

type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Position is the simulator's net exposure for one symbol. Amount is always
// >= 0; a position with amount 0 is closed and removed. EntryPrice is the
// volume-weighted average of opening fills.
type Position struct {
	Symbol        string       `json:"symbol"`
	Side          PositionSide `json:"side"`
	Amount        float64      `json:"amount"`
	EntryPrice    float64      `json:"entry_price"`
	MarkPrice     float64      `json:"mark_price"`
	UnrealizedPnL float64      `json:"unrealized_pnl"`
	RealizedPnL   float64      `json:"realized_pnl"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Mark updates the mark price and recomputes unrealized PnL.
func (p *Position) Mark(price float64, at time.Time) {
	p.MarkPrice = price
	p.UpdatedAt = at

	if p.Side == PositionSideLong {
		p.UnrealizedPnL = (price - p.EntryPrice) * p.Amount
	} else {
		p.UnrealizedPnL = (p.EntryPrice - price) * p.Amount
	}
}

// Balance is a per-currency ledger entry. Total always equals Free + Used
// and no leg goes negative.
type Balance struct {
	Currency string  `json:"currency"`
	Free     float64 `json:"free"`
	Used     float64 `json:"used"`
	Total    float64 `json:"total"`
}

func (b *Balance) sync() {
	b.Total = b.Free + b.Used
}
