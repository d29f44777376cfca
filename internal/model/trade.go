package model

import (
	"time"
)

// Direction 买卖方向
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Status defines the lifecycle status of an order.
type Status string

const (
	StatusSubmitting Status = "submitting" // 已提交，未收到交易所确认
	StatusNotTraded  Status = "nottraded"  // 已挂单，未成交
	StatusPartTraded Status = "parttraded" // 部分成交
	StatusAllTraded  Status = "alltraded"  // 全部成交
	StatusCancelled  Status = "cancelled"  // 已撤单
	StatusRejected   Status = "rejected"   // 已拒绝
)

// IsActive reports whether an order in this status can still trade.
func (s Status) IsActive() bool {
	switch s {
	case StatusSubmitting, StatusNotTraded, StatusPartTraded:
		return true
	}
	return false
}

// IsTerminal reports whether no further updates are expected for this status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusAllTraded, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// OrderType defines how an order is priced.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// Order represents the latest known snapshot of an order.
// 订单快照由网关推送或主动查询返回，统一经过 Reconciler 比对后才对外发布。
type Order struct {
	ID uint `gorm:"primaryKey" json:"ID"`

	// OrderRef is the client order id generated locally; OrderSysID is
	// assigned by the exchange once the order is accepted.
	OrderRef   string `gorm:"uniqueIndex" json:"OrderRef"`
	OrderSysID string `gorm:"index" json:"OrderSysID"`

	Symbol    string    `gorm:"index;not null" json:"Symbol"`
	Exchange  string    `json:"Exchange"`
	Direction Direction `gorm:"type:varchar(8)" json:"Direction"`
	Type      OrderType `gorm:"type:varchar(8)" json:"Type"`

	Price  float64 `json:"Price"`
	Volume float64 `json:"Volume"`
	// Traded is the cumulative filled volume reported by the exchange.
	Traded float64 `json:"Traded"`
	// TradedPrice is the exchange-reported average fill price, zero when
	// the venue does not report one.
	TradedPrice float64 `json:"TradedPrice"`

	Status    Status    `gorm:"type:varchar(12);index" json:"Status"`
	StatusMsg string    `json:"StatusMsg"`
	Strategy  string    `gorm:"index" json:"Strategy"`
	UpdatedAt time.Time `json:"UpdatedAt"`
}

// Trade represents a single execution. Immutable once created.
type Trade struct {
	ID        uint      `gorm:"primaryKey" json:"ID"`
	TradeID   string    `gorm:"uniqueIndex" json:"TradeID"`
	OrderRef  string    `gorm:"index" json:"OrderRef"`
	Symbol    string    `gorm:"index" json:"Symbol"`
	Exchange  string    `json:"Exchange"`
	Direction Direction `gorm:"type:varchar(8)" json:"Direction"`
	Price     float64   `json:"Price"`
	Volume    float64   `json:"Volume"` // always > 0
	Timestamp time.Time `json:"Timestamp"`
}

// SignedVolume returns +Volume for long fills and -Volume for short fills.
func (t Trade) SignedVolume() float64 {
	if t.Direction == DirectionShort {
		return -t.Volume
	}
	return t.Volume
}

// Position represents the net holding per symbol and direction context.
// 持仓只能通过成交增量更新，不允许用订单快照直接覆盖。
type Position struct {
	Symbol    string    `gorm:"primaryKey" json:"Symbol"`
	Direction Direction `gorm:"primaryKey;type:varchar(8)" json:"Direction"`
	Volume    float64   `json:"Volume"`
	Price     float64   `json:"Price"` // average entry price
	PnL       float64   `json:"PnL"`
	UpdatedAt time.Time `json:"UpdatedAt"`
}

// Account holds balance information pushed by the gateway.
type Account struct {
	AccountID string    `gorm:"primaryKey" json:"AccountID"`
	Balance   float64   `json:"Balance"`
	Frozen    float64   `json:"Frozen"`
	UpdatedAt time.Time `json:"UpdatedAt"`
}

// Available returns the balance not locked by open orders.
func (a Account) Available() float64 {
	return a.Balance - a.Frozen
}

// OrderRequest is the outgoing side of an order, before any exchange ack.
type OrderRequest struct {
	Symbol    string    `json:"Symbol"`
	Exchange  string    `json:"Exchange"`
	Direction Direction `json:"Direction"`
	Type      OrderType `json:"Type"`
	Price     float64   `json:"Price"`
	Volume    float64   `json:"Volume"`
	Strategy  string    `json:"Strategy"`
}

// NewOrder converts the request into an initial submitting snapshot.
func (r OrderRequest) NewOrder(orderRef string, now time.Time) Order {
	return Order{
		OrderRef:  orderRef,
		Symbol:    r.Symbol,
		Exchange:  r.Exchange,
		Direction: r.Direction,
		Type:      r.Type,
		Price:     r.Price,
		Volume:    r.Volume,
		Status:    StatusSubmitting,
		Strategy:  r.Strategy,
		UpdatedAt: now,
	}
}
