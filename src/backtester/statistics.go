package backtester

import (
	"math"
	"sort"
	"time"

	"github.com/montanaflynn/stats"
)

// 252-trading-day annualization convention.
const tradingDaysPerYear = 252

// computeResult derives the full statistics set from the equity curve and
// the closed trade ledger. The ledger must contain no open trades.
func computeResult(initialBalance float64, equityCurve []EquityPoint, trades []*Trade, start, end time.Time, executionTime time.Duration) *Result {
	result := &Result{
		InitialBalance:  initialBalance,
		FinalEquity:     initialBalance,
		EquityCurve:     equityCurve,
		Trades:          trades,
		StartTime:       start,
		EndTime:         end,
		ExecutionTimeMs: executionTime.Milliseconds(),
	}

	if len(equityCurve) > 0 {
		result.FinalEquity = equityCurve[len(equityCurve)-1].Value
	}

	result.TotalReturn = result.FinalEquity - initialBalance
	if initialBalance > 0 {
		result.TotalReturnPct = result.TotalReturn / initialBalance * 100
	}

	result.MaxDrawdown, result.MaxDrawdownPct = maxDrawdown(equityCurve)

	computeTradeStats(result, trades)

	result.DailyReturns = dailyReturns(equityCurve)
	result.SharpeRatio = sharpeRatio(result.DailyReturns)
	result.SortinoRatio = sortinoRatio(result.DailyReturns)
	result.CalmarRatio = calmarRatio(result.TotalReturnPct, result.MaxDrawdownPct, start, end)

	if span := end.Sub(start); span > 0 {
		inMarket := time.Duration(0)
		for _, trade := range trades {
			inMarket += trade.Duration
		}
		result.TimeInMarketPct = math.Min(100, float64(inMarket)/float64(span)*100)
	}

	return result
}

// maxDrawdown returns the deepest decline from the running peak, absolute
// and fractional percent; both are <= 0.
func maxDrawdown(equityCurve []EquityPoint) (float64, float64) {
	maxDD := 0.0
	maxDDPct := 0.0
	peak := math.Inf(-1)

	for _, point := range equityCurve {
		if point.Value > peak {
			peak = point.Value
		}

		dd := point.Value - peak
		if dd < maxDD {
			maxDD = dd
			if peak > 0 {
				maxDDPct = dd / peak * 100
			}
		}
	}

	return maxDD, maxDDPct
}

func computeTradeStats(result *Result, trades []*Trade) {
	result.TotalTrades = len(trades)

	totalWins := 0.0
	totalLosses := 0.0
	winStreak, lossStreak := 0, 0

	for _, trade := range trades {
		switch {
		case trade.PnL > 0:
			result.WinningTrades++
			totalWins += trade.PnL
			if trade.PnL > result.LargestWin {
				result.LargestWin = trade.PnL
			}

			winStreak++
			lossStreak = 0
			if winStreak > result.LongestWinStreak {
				result.LongestWinStreak = winStreak
			}
		case trade.PnL < 0:
			result.LosingTrades++
			totalLosses += trade.PnL
			if trade.PnL < result.LargestLoss {
				result.LargestLoss = trade.PnL
			}

			lossStreak++
			winStreak = 0
			if lossStreak > result.LongestLossStreak {
				result.LongestLossStreak = lossStreak
			}
		default:
			// break-even trades count in neither bucket and break streaks
			winStreak, lossStreak = 0, 0
		}
	}

	if result.TotalTrades > 0 {
		result.WinRate = float64(result.WinningTrades) / float64(result.TotalTrades) * 100
	}

	if result.WinningTrades > 0 {
		result.AvgWin = totalWins / float64(result.WinningTrades)
	}

	if result.LosingTrades > 0 {
		result.AvgLoss = totalLosses / float64(result.LosingTrades)
	}

	switch {
	case totalLosses != 0:
		result.ProfitFactor = totalWins / math.Abs(totalLosses)
	case totalWins > 0:
		result.ProfitFactor = math.Inf(1)
	default:
		result.ProfitFactor = 0
	}
}

// dailyReturns buckets the equity curve by calendar day (last value per
// day) and computes day-over-day returns.
func dailyReturns(equityCurve []EquityPoint) []DailyReturn {
	if len(equityCurve) == 0 {
		return []DailyReturn{}
	}

	lastPerDay := make(map[time.Time]float64)
	var days []time.Time

	for _, point := range equityCurve {
		day := point.Timestamp.UTC().Truncate(24 * time.Hour)
		if _, found := lastPerDay[day]; !found {
			days = append(days, day)
		}
		lastPerDay[day] = point.Value
	}

	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	returns := make([]DailyReturn, 0, len(days))
	for i := 1; i < len(days); i++ {
		prev := lastPerDay[days[i-1]]
		if prev == 0 {
			continue
		}

		returns = append(returns, DailyReturn{
			Date:   days[i],
			Return: (lastPerDay[days[i]] - prev) / prev,
		})
	}

	return returns
}

func sharpeRatio(dailyReturns []DailyReturn) float64 {
	values := returnValues(dailyReturns)
	if len(values) < 2 {
		return 0
	}

	mean, err := stats.Mean(values)
	if err != nil {
		return 0
	}

	stdDev, err := stats.StandardDeviation(values)
	if err != nil || stdDev == 0 {
		return 0
	}

	return mean / stdDev * math.Sqrt(tradingDaysPerYear)
}

func sortinoRatio(dailyReturns []DailyReturn) float64 {
	values := returnValues(dailyReturns)
	if len(values) < 2 {
		return 0
	}

	mean, err := stats.Mean(values)
	if err != nil {
		return 0
	}

	// downside deviation over all observations, losses only
	sumSquares := 0.0
	for _, v := range values {
		if v < 0 {
			sumSquares += v * v
		}
	}

	downside := math.Sqrt(sumSquares / float64(len(values)))
	if downside == 0 {
		if mean > 0 {
			return math.Inf(1)
		}
		return 0
	}

	return mean / downside * math.Sqrt(tradingDaysPerYear)
}

func calmarRatio(totalReturnPct, maxDrawdownPct float64, start, end time.Time) float64 {
	if maxDrawdownPct == 0 {
		if totalReturnPct > 0 {
			return math.Inf(1)
		}
		return 0
	}

	years := end.Sub(start).Hours() / (24 * 365.25)
	if years <= 0 {
		return 0
	}

	annualizedPct := totalReturnPct / years

	return annualizedPct / math.Abs(maxDrawdownPct)
}

func returnValues(dailyReturns []DailyReturn) []float64 {
	values := make([]float64, 0, len(dailyReturns))
	for _, r := range dailyReturns {
		values = append(values, r.Return)
	}

	return values
}
