package model

import (
	"encoding/json"
	"time"
)

// BacktestRequest 一次回测的输入
type BacktestRequest struct {
	ClassName string          `json:"ClassName"`
	Symbol    string          `json:"Symbol"`
	Interval  string          `json:"Interval"`
	Limit     int             `json:"Limit"`  // 回放的K线数量
	Params    json.RawMessage `json:"Params"` // 策略参数
}

// BacktestRecord 回测结果的持久化记录，Report 存完整绩效报告
type BacktestRecord struct {
	ID        uint            `gorm:"primaryKey" json:"ID"`
	ClassName string          `gorm:"index" json:"ClassName"`
	Symbol    string          `gorm:"index" json:"Symbol"`
	Interval  string          `json:"Interval"`
	Params    json.RawMessage `gorm:"type:jsonb" json:"Params"`
	Report    json.RawMessage `gorm:"type:jsonb" json:"Report"`
	CreatedAt time.Time       `json:"CreatedAt"`
}
