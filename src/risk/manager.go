package risk

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/simtrade/engine/src/eventmodels"
)

// Risk score penalties per triggered condition. The score is capped at 100
// and is reported alongside the approval decision; thresholds elsewhere
// depend on these exact values, so change them deliberately.
const (
	scorePenaltyRiskReward    = 25
	scorePenaltyOpenPositions = 30
	scorePenaltyCorrelated    = 20
	scorePenaltyLeverage      = 35
	scorePenaltyCooldown      = 15
	scoreMax                  = 100
)

// Manager tracks account-level risk state for one session: balance, running
// peak, drawdown, daily PnL, open position counts and the emergency latch.
// It only ever reads balance snapshots handed to it; it never mutates
// execution state.
type Manager struct {
	mu sync.RWMutex

	config Config

	balance       float64
	peakBalance   float64
	dailyPnL      float64
	drawdown      float64
	totalExposure float64

	openPositions map[string]int // symbol -> open count

	emergencyMode bool
	cooldownUntil time.Time
	lastResetTime time.Time

	// nowFn supplies the manager's notion of time so historical replays can
	// drive cooldown with candle time instead of wall time.
	nowFn func() time.Time

	// onEmergency, if set, is invoked once when the emergency latch trips.
	onEmergency func(drawdown float64)
}

func NewManager(config Config, initialBalance float64) *Manager {
	return &Manager{
		config:        config,
		balance:       initialBalance,
		peakBalance:   initialBalance,
		openPositions: make(map[string]int),
		lastResetTime: time.Now().UTC(),
		nowFn:         time.Now,
	}
}

// SetTimeFunc overrides the manager's clock. The backtest driver points this
// at the replay's current candle time.
func (m *Manager) SetTimeFunc(nowFn func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nowFn = nowFn
}

// OnEmergency registers a callback fired when the emergency latch trips.
func (m *Manager) OnEmergency(fn func(drawdown float64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEmergency = fn
}

// CalculatePositionSize sizes a position from the configured risk fraction
// and the stop distance. A zero or negative stop distance yields size 0, not
// an error; the caller must treat zero size as no trade.
func (m *Manager) CalculatePositionSize(balance, entryPrice, stopLossPrice float64, symbol string, atr *float64) SizingResult {
	m.mu.RLock()
	config := m.config
	m.mu.RUnlock()

	riskAmount := balance * config.MaxRiskPerTrade
	stopDistance := math.Abs(entryPrice - stopLossPrice)

	reasoning := []string{
		fmt.Sprintf("risk amount: %.2f (%.1f%% of balance %.2f)", riskAmount, config.MaxRiskPerTrade*100, balance),
	}

	maxAllowedSize := 0.0
	if entryPrice > 0 {
		maxAllowedSize = balance * config.MaxAllowedSizeFraction / entryPrice
	}

	if stopDistance <= 0 {
		reasoning = append(reasoning, "stop distance is zero: no trade")
		return SizingResult{
			RecommendedSize: 0,
			MaxAllowedSize:  maxAllowedSize,
			RiskAmount:      riskAmount,
			Reasoning:       reasoning,
		}
	}

	size := riskAmount / stopDistance
	reasoning = append(reasoning, fmt.Sprintf("base size: %.6f (risk %.2f / stop distance %.4f)", size, riskAmount, stopDistance))

	// ATR adjustment: scale the raw size down as volatility increases to
	// avoid over-risking in volatile regimes
	if atr != nil && *atr > 0 && entryPrice > 0 {
		volatility := *atr / entryPrice
		adjustment := 1.0 / (1.0 + volatility*10)
		size *= adjustment
		reasoning = append(reasoning, fmt.Sprintf("ATR adjustment: x%.3f (atr %.4f, volatility %.4f)", adjustment, *atr, volatility))
	}

	if size > maxAllowedSize {
		reasoning = append(reasoning, fmt.Sprintf("capped at max allowed size %.6f (%.1f%% of balance notional)", maxAllowedSize, config.MaxAllowedSizeFraction*100))
		size = maxAllowedSize
	}

	return SizingResult{
		RecommendedSize: size,
		MaxAllowedSize:  maxAllowedSize,
		RiskAmount:      riskAmount,
		Reasoning:       reasoning,
	}
}

// AssessTradeRisk scores a trade intent against the configured limits.
// Approval is the absence of restrictions; warnings alone do not reject.
func (m *Manager) AssessTradeRisk(symbol string, side eventmodels.Direction, size, entryPrice, stopLossPrice float64, takeProfitPrice *float64) Assessment {
	m.mu.RLock()
	defer m.mu.RUnlock()

	assessment := Assessment{
		Warnings:     []string{},
		Restrictions: []string{},
	}
	score := 0.0

	if m.emergencyMode {
		assessment.Restrictions = append(assessment.Restrictions, "Emergency mode active")
		assessment.RiskScore = scoreMax
		assessment.Approved = false
		return assessment
	}

	// risk/reward
	if takeProfitPrice != nil {
		stopDistance := math.Abs(entryPrice - stopLossPrice)
		rewardDistance := math.Abs(*takeProfitPrice - entryPrice)
		if stopDistance > 0 {
			ratio := rewardDistance / stopDistance
			if ratio < m.config.MinRiskRewardRatio {
				score += scorePenaltyRiskReward
				assessment.Warnings = append(assessment.Warnings, fmt.Sprintf("risk/reward ratio %.2f below minimum %.2f", ratio, m.config.MinRiskRewardRatio))
			}
		}
	}

	// open position limits
	if m.openPositionCount() >= m.config.MaxOpenPositions {
		score += scorePenaltyOpenPositions
		assessment.Restrictions = append(assessment.Restrictions, fmt.Sprintf("maximum open positions reached (%d)", m.config.MaxOpenPositions))
	}

	if correlated := m.correlatedPositionCount(symbol); correlated >= m.config.MaxCorrelatedPositions {
		score += scorePenaltyCorrelated
		assessment.Restrictions = append(assessment.Restrictions, fmt.Sprintf("maximum correlated positions reached (%d) for %s", m.config.MaxCorrelatedPositions, symbol))
	}

	// leverage
	if m.balance > 0 {
		leverage := (size*entryPrice + m.totalExposure) / m.balance
		if leverage > m.config.MaxLeverage {
			score += scorePenaltyLeverage
			assessment.Restrictions = append(assessment.Restrictions, fmt.Sprintf("leverage %.2f exceeds maximum %.2f", leverage, m.config.MaxLeverage))
		}
	}

	// cooldown
	if now := m.nowFn(); now.Before(m.cooldownUntil) {
		score += scorePenaltyCooldown
		assessment.Restrictions = append(assessment.Restrictions, fmt.Sprintf("cooldown active until %s", m.cooldownUntil.Format(time.RFC3339)))
	}

	assessment.RiskScore = math.Min(score, scoreMax)
	assessment.Approved = len(assessment.Restrictions) == 0

	return assessment
}

// UpdateAfterTrade records an executed transaction. A non-nil pnl marks a
// closing transaction; a nil pnl marks an opening one.
func (m *Manager) UpdateAfterTrade(symbol string, side eventmodels.Direction, amount, price float64, pnl *float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	notional := math.Abs(amount) * price

	if pnl == nil {
		m.openPositions[symbol]++
		m.totalExposure += notional
		return
	}

	m.dailyPnL += *pnl
	m.balance += *pnl

	if m.balance > m.peakBalance {
		m.peakBalance = m.balance
	}

	m.recomputeDrawdownLocked()

	if count := m.openPositions[symbol]; count > 1 {
		m.openPositions[symbol] = count - 1
	} else {
		delete(m.openPositions, symbol)
	}

	m.totalExposure = math.Max(0, m.totalExposure-notional)

	if *pnl < 0 && m.config.CooldownMinutes > 0 {
		m.cooldownUntil = m.nowFn().Add(time.Duration(m.config.CooldownMinutes) * time.Minute)
	}

	if !m.emergencyMode && m.drawdown <= -m.config.EmergencyStopLoss {
		m.emergencyMode = true
		log.Warnf("risk manager: drawdown %.4f breached emergency stop loss %.4f, entering emergency mode", m.drawdown, m.config.EmergencyStopLoss)

		if m.onEmergency != nil {
			go m.onEmergency(m.drawdown)
		}
	}
}

func (m *Manager) UpdateAccountBalance(balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.balance = balance
	if balance > m.peakBalance {
		m.peakBalance = balance
	}

	m.recomputeDrawdownLocked()
}

// SetEmergencyMode sets or clears the emergency latch. The latch never
// auto-clears on recovered drawdown: re-engagement must be deliberate.
func (m *Manager) SetEmergencyMode(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.emergencyMode = enabled
	if !enabled {
		log.Infof("risk manager: emergency mode cleared manually")
	}
}

func (m *Manager) IsEmergencyMode() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.emergencyMode
}

// ResetDaily zeroes the daily PnL counter, e.g. at session rollover.
func (m *Manager) ResetDaily() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dailyPnL = 0
	m.lastResetTime = m.nowFn().UTC()
}

func (m *Manager) GetRiskMetrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Metrics{
		AccountBalance:  m.balance,
		CurrentDrawdown: m.drawdown,
		DailyPnL:        m.dailyPnL,
		OpenPositions:   m.openPositionCount(),
		TotalExposure:   m.totalExposure,
		RiskPerTrade:    m.balance * m.config.MaxRiskPerTrade,
		LastResetTime:   m.lastResetTime,
	}
}

func (m *Manager) recomputeDrawdownLocked() {
	if m.peakBalance <= 0 {
		m.drawdown = 0
		return
	}

	m.drawdown = math.Min(0, (m.balance-m.peakBalance)/m.peakBalance)
}

func (m *Manager) openPositionCount() int {
	count := 0
	for _, n := range m.openPositions {
		count += n
	}

	return count
}

// correlatedPositionCount counts open positions sharing the symbol's base
// currency, e.g. BTC/USDT and BTC/EUR.
func (m *Manager) correlatedPositionCount(symbol string) int {
	base := baseCurrency(symbol)

	count := 0
	for open, n := range m.openPositions {
		if baseCurrency(open) == base {
			count += n
		}
	}

	return count
}

func baseCurrency(symbol string) string {
	if i := strings.IndexAny(symbol, "/-"); i > 0 {
		return symbol[:i]
	}

	return symbol
}
