package event

// 事件类型常量
const (
	// 行情事件
	EventTick = "market.tick"
	EventBar  = "market.bar"

	// 订单与成交事件
	EventOrder = "order.updated"
	EventTrade = "trade.executed"

	// 资金与持仓事件
	EventPosition = "position.updated"
	EventAccount  = "account.updated"
	EventContract = "contract.updated"

	// 引擎事件
	EventTimer  = "engine.timer"
	EventLog    = "engine.log"
	EventSignal = "signal.received"

	// 连接事件
	EventConnected    = "gateway.connected"
	EventDisconnected = "gateway.disconnected"
)
