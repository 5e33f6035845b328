package eventmodels

import (
	"fmt"
	"sort"
	"time"
)

// Candle is one OHLCV bar for a fixed time bucket. Candles are immutable
// once produced.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

func (c *Candle) Validate() error {
	if c.Timestamp.IsZero() {
		return fmt.Errorf("candle timestamp is zero")
	}

	if c.High < c.Low {
		return fmt.Errorf("candle high %.8f is below low %.8f", c.High, c.Low)
	}

	if c.Open <= 0 || c.Close <= 0 {
		return fmt.Errorf("candle open/close must be positive")
	}

	return nil
}

type Candles []*Candle

func (c Candles) SortByTimestamp() {
	sort.Slice(c, func(i, j int) bool {
		return c[i].Timestamp.Before(c[j].Timestamp)
	})
}

// ValidateSequence requires timestamps to be strictly increasing.
func (c Candles) ValidateSequence() error {
	for i := 1; i < len(c); i++ {
		if !c[i].Timestamp.After(c[i-1].Timestamp) {
			return fmt.Errorf("candle sequence not monotonically increasing at index %d: %s >= %s", i, c[i-1].Timestamp, c[i].Timestamp)
		}
	}

	return nil
}

func NewCandle(timestamp time.Time, open, high, low, close, volume float64) *Candle {
	return &Candle{
		Timestamp: timestamp,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
	}
}
