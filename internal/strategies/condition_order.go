package strategies

import (
	"encoding/json"
	"fmt"

	"hqtrade.com/internal/model"
	"hqtrade.com/internal/runtime"
)

// ConditionOrderParams 条件单参数
type ConditionOrderParams struct {
	// Operator 支持 > >= < <=
	Operator     string  `json:"Operator"`
	TriggerPrice float64 `json:"TriggerPrice"`
	// Direction 触发后的下单方向
	Direction model.Direction `json:"Direction"`
	// Price 委托价，0 表示市价
	Price  float64 `json:"Price"`
	Volume float64 `json:"Volume"`
}

// ConditionOrderStrategy 条件单：最新价满足条件时触发一笔委托，
// 只触发一次，防止重复下单。
type ConditionOrderStrategy struct {
	runtime.BaseStrategy
	params    ConditionOrderParams
	triggered bool
}

// NewConditionOrderStrategy 解析参数并创建实例
func NewConditionOrderStrategy(params json.RawMessage) (runtime.Strategy, error) {
	s := &ConditionOrderStrategy{}
	if err := json.Unmarshal(params, &s.params); err != nil {
		return nil, fmt.Errorf("failed to parse condition order params: %w", err)
	}
	switch s.params.Operator {
	case ">", ">=", "<", "<=":
	default:
		return nil, fmt.Errorf("invalid operator: %q", s.params.Operator)
	}
	if s.params.Volume <= 0 {
		return nil, fmt.Errorf("volume must be positive")
	}
	return s, nil
}

func init() {
	runtime.Register("ConditionOrder", NewConditionOrderStrategy)
}

// OnTick 每次行情更新判断一次触发条件
func (s *ConditionOrderStrategy) OnTick(ctx runtime.Context, tick *model.Tick) {
	if s.triggered {
		return
	}

	match := false
	switch s.params.Operator {
	case ">":
		match = tick.LastPrice > s.params.TriggerPrice
	case ">=":
		match = tick.LastPrice >= s.params.TriggerPrice
	case "<":
		match = tick.LastPrice < s.params.TriggerPrice
	case "<=":
		match = tick.LastPrice <= s.params.TriggerPrice
	}
	if !match {
		return
	}

	s.triggered = true
	ctx.Log("触发! 当前价: %.2f %s 触发价: %.2f",
		tick.LastPrice, s.params.Operator, s.params.TriggerPrice)

	var err error
	if s.params.Direction == model.DirectionShort {
		_, err = ctx.Sell(s.params.Price, s.params.Volume)
	} else {
		_, err = ctx.Buy(s.params.Price, s.params.Volume)
	}
	if err != nil {
		// 下单失败允许下一个行情重试
		s.triggered = false
		ctx.Log("order failed: %v", err)
	}
}

// Variables 触发标记随检查点落盘，重启后不会重复触发
func (s *ConditionOrderStrategy) Variables() json.RawMessage {
	data, _ := json.Marshal(map[string]bool{"triggered": s.triggered})
	return data
}

func (s *ConditionOrderStrategy) Restore(vars json.RawMessage) error {
	if len(vars) == 0 {
		return nil
	}
	var saved struct {
		Triggered bool `json:"triggered"`
	}
	if err := json.Unmarshal(vars, &saved); err != nil {
		return err
	}
	s.triggered = saved.Triggered
	return nil
}
