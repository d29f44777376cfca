package service

import (
	"context"
	"encoding/json"
	"log"

	"hqtrade.com/internal/domain"
	"hqtrade.com/internal/model"
	"hqtrade.com/internal/runtime"
)

// StrategyServiceImpl 实现 domain.StrategyService 接口
// 策略的生命周期由 runtime 管理，这里补上行情订阅的联动：
// 创建即订阅合约，删除时退订。
type StrategyServiceImpl struct {
	runtime *runtime.Runtime
	gateway domain.Gateway
}

// NewStrategyService 创建策略服务
func NewStrategyService(rt *runtime.Runtime, gateway domain.Gateway) *StrategyServiceImpl {
	return &StrategyServiceImpl{
		runtime: rt,
		gateway: gateway,
	}
}

var _ domain.StrategyService = (*StrategyServiceImpl)(nil)

// CreateStrategy 创建策略实例并订阅其合约行情
func (s *StrategyServiceImpl) CreateStrategy(ctx context.Context, setting model.StrategySetting) error {
	if err := s.runtime.AddStrategy(ctx, setting); err != nil {
		return err
	}
	if err := s.gateway.Subscribe(ctx, setting.Symbol); err != nil {
		// 订阅失败不回滚策略，重连后 resync 会补订
		log.Printf("StrategyService: Subscribe %s failed: %v", setting.Symbol, err)
	}
	return nil
}

// InitStrategy 初始化策略 (加载历史 K 线预热)
func (s *StrategyServiceImpl) InitStrategy(ctx context.Context, name string) error {
	return s.runtime.InitStrategy(ctx, name)
}

// StartStrategy 启动策略
func (s *StrategyServiceImpl) StartStrategy(ctx context.Context, name string) error {
	return s.runtime.StartStrategy(ctx, name)
}

// StopStrategy 停止策略并撤销其活动委托
func (s *StrategyServiceImpl) StopStrategy(ctx context.Context, name string) error {
	return s.runtime.StopStrategy(ctx, name)
}

// RemoveStrategy 删除策略，保留历史 checkpoint 之外的配置将被清除
func (s *StrategyServiceImpl) RemoveStrategy(ctx context.Context, name string) error {
	info, err := s.runtime.GetInfo(name)
	if err != nil {
		return err
	}
	if err := s.runtime.RemoveStrategy(ctx, name); err != nil {
		return err
	}
	// 其它策略可能还在用同一合约，只有无人引用时才退订
	if !s.symbolInUse(info.Symbol) {
		if err := s.gateway.Unsubscribe(ctx, info.Symbol); err != nil {
			log.Printf("StrategyService: Unsubscribe %s failed: %v", info.Symbol, err)
		}
	}
	return nil
}

// UpdateParams 修改策略参数，要求策略处于停止状态
func (s *StrategyServiceImpl) UpdateParams(ctx context.Context, name string, params json.RawMessage) error {
	return s.runtime.EditStrategyParams(ctx, name, params)
}

// StartAll 启动全部已初始化策略
func (s *StrategyServiceImpl) StartAll(ctx context.Context) {
	s.runtime.StartAll(ctx)
}

// StopAll 停止全部运行中策略
func (s *StrategyServiceImpl) StopAll(ctx context.Context) {
	s.runtime.StopAll(ctx)
}

// GetStrategy 查询单个策略状态
func (s *StrategyServiceImpl) GetStrategy(name string) (*runtime.Info, error) {
	return s.runtime.GetInfo(name)
}

// ListStrategies 查询全部策略状态
func (s *StrategyServiceImpl) ListStrategies() []runtime.Info {
	return s.runtime.ListInfo()
}

// ListClasses 查询已注册的策略类名
func (s *StrategyServiceImpl) ListClasses() []string {
	return runtime.Classes()
}

func (s *StrategyServiceImpl) symbolInUse(symbol string) bool {
	for _, info := range s.runtime.ListInfo() {
		if info.Symbol == symbol {
			return true
		}
	}
	return false
}
