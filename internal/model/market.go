package model

import "time"

// Tick 表示一次行情快照：最新价加上盘口一档
type Tick struct {
	Symbol    string    `json:"Symbol"`
	Exchange  string    `json:"Exchange"`
	LastPrice float64   `json:"LastPrice"`
	BidPrice  float64   `json:"BidPrice"`
	BidVolume float64   `json:"BidVolume"`
	AskPrice  float64   `json:"AskPrice"`
	AskVolume float64   `json:"AskVolume"`
	Volume    float64   `json:"Volume"`
	Timestamp time.Time `json:"Timestamp"`
}

// Bar is an OHLCV candle for one interval.
type Bar struct {
	ID        uint      `gorm:"primaryKey" json:"ID"`
	Symbol    string    `gorm:"index:idx_bar_symbol_time" json:"Symbol"`
	Exchange  string    `json:"Exchange"`
	Interval  string    `gorm:"type:varchar(8)" json:"Interval"`
	Open      float64   `json:"Open"`
	High      float64   `json:"High"`
	Low       float64   `json:"Low"`
	Close     float64   `json:"Close"`
	Volume    float64   `json:"Volume"`
	Timestamp time.Time `gorm:"index:idx_bar_symbol_time" json:"Timestamp"`
}

// Contract 表示系统中的可交易合约
type Contract struct {
	Symbol    string  `gorm:"primaryKey" json:"Symbol"`
	Exchange  string  `json:"Exchange"`
	Name      string  `gorm:"index" json:"Name"`
	PriceTick float64 `json:"PriceTick"`
	Size      float64 `json:"Size"` // contract multiplier
	MinVolume float64 `json:"MinVolume"`
	IsActive  bool    `gorm:"default:true" json:"IsActive"`
}
