package eventpubsub

// Topics the engine publishes for the notification collaborator. Delivery
// beyond the bus (email/chat/webhook) is entirely external.
const (
	TopicStrategySignal = "engine:strategy_signal"
	TopicTradeExecuted  = "engine:trade_executed"
	TopicTradeClosed    = "engine:trade_closed"
	TopicRiskAlert      = "engine:risk_alert"
)
