package backtester

import (
	"math"
	"time"
)

type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type DailyReturn struct {
	Date   time.Time `json:"date"`
	Return float64   `json:"return"`
}

// Result is the full statistics snapshot of a completed (or stopped) run.
// It is a plain data value handed outward; the engine does not persist it.
type Result struct {
	InitialBalance float64 `json:"initial_balance"`
	FinalEquity    float64 `json:"final_equity"`

	TotalReturn    float64 `json:"total_return"`
	TotalReturnPct float64 `json:"total_return_pct"`

	SharpeRatio  float64 `json:"sharpe_ratio"`
	SortinoRatio float64 `json:"sortino_ratio"`
	CalmarRatio  float64 `json:"calmar_ratio"`

	// MaxDrawdown and MaxDrawdownPct are <= 0, measured against the running
	// peak of the equity curve.
	MaxDrawdown    float64 `json:"max_drawdown"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`

	WinRate      float64 `json:"win_rate"`
	ProfitFactor float64 `json:"profit_factor"`

	TotalTrades   int `json:"total_trades"`
	WinningTrades int `json:"winning_trades"`
	LosingTrades  int `json:"losing_trades"`

	AvgWin      float64 `json:"avg_win"`
	AvgLoss     float64 `json:"avg_loss"`
	LargestWin  float64 `json:"largest_win"`
	LargestLoss float64 `json:"largest_loss"`

	LongestWinStreak  int `json:"longest_win_streak"`
	LongestLossStreak int `json:"longest_loss_streak"`

	TimeInMarketPct float64 `json:"time_in_market_pct"`

	EquityCurve  []EquityPoint `json:"equity_curve"`
	Trades       []*Trade      `json:"trades"`
	DailyReturns []DailyReturn `json:"daily_returns"`

	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
}

// Sanitize replaces non-finite ratios with the largest representable value
// so the result can cross a JSON boundary.
func (r *Result) Sanitize() {
	for _, f := range []*float64{&r.ProfitFactor, &r.SharpeRatio, &r.SortinoRatio, &r.CalmarRatio} {
		if math.IsInf(*f, 1) {
			*f = math.MaxFloat64
		} else if math.IsInf(*f, -1) {
			*f = -math.MaxFloat64
		} else if math.IsNaN(*f) {
			*f = 0
		}
	}
}
