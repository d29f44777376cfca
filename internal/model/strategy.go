package model

import (
	"encoding/json"
	"time"
)

// StrategyStatus defines the lifecycle status of a strategy instance.
type StrategyStatus string

const (
	StrategyStatusCreated     StrategyStatus = "created"
	StrategyStatusInitialized StrategyStatus = "initialized"
	StrategyStatusRunning     StrategyStatus = "running"
	StrategyStatusStopped     StrategyStatus = "stopped"
)

// StrategySetting 策略配置：策略类名 + 合约 + 参数
// 由配置加载创建，只有在策略停止后才允许修改参数。
type StrategySetting struct {
	Name      string          `gorm:"primaryKey" json:"Name"`
	ClassName string          `gorm:"index" json:"ClassName"`
	Symbol    string          `gorm:"index" json:"Symbol"`
	Params    json.RawMessage `gorm:"type:jsonb" json:"Params"`
	CreatedAt time.Time       `json:"CreatedAt"`
	UpdatedAt time.Time       `json:"UpdatedAt"`
}

// StrategyState is the per-strategy checkpoint written after every
// position-affecting event. It is the source of truth when the process
// restarts, so it is never cleared automatically.
type StrategyState struct {
	Name      string          `gorm:"primaryKey" json:"Name"`
	Pos       float64         `json:"Pos"`
	Variables json.RawMessage `gorm:"type:jsonb" json:"Variables"`
	UpdatedAt time.Time       `json:"UpdatedAt"`
}

// StrategyInfo 策略实例的对外快照，供 API 查询
type StrategyInfo struct {
	Name      string          `json:"Name"`
	ClassName string          `json:"ClassName"`
	Symbol    string          `json:"Symbol"`
	Status    StrategyStatus  `json:"Status"`
	Pos       float64         `json:"Pos"`
	Params    json.RawMessage `json:"Params"`
	Variables json.RawMessage `json:"Variables"`
}

// SignalAction 外部信号要求的动作
type SignalAction string

const (
	SignalActionLong  SignalAction = "long"
	SignalActionShort SignalAction = "short"
	SignalActionExit  SignalAction = "exit"
)

// Signal is a normalized external trading signal, validated once at the
// ingestion boundary before it enters the event bus.
type Signal struct {
	TargetID string       `json:"TargetID"`
	Action   SignalAction `json:"Action"`
	Symbol   string       `json:"Symbol"`
	Volume   float64      `json:"Volume,omitempty"` // optional, 0 means strategy default
}

// Validate checks the required fields of an incoming signal.
func (s Signal) Validate() error {
	if s.TargetID == "" {
		return ErrSignalTarget
	}
	if s.Symbol == "" {
		return ErrSignalSymbol
	}
	switch s.Action {
	case SignalActionLong, SignalActionShort, SignalActionExit:
	default:
		return ErrSignalAction
	}
	if s.Volume < 0 {
		return ErrSignalVolume
	}
	return nil
}
