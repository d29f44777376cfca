package runtime

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"hqtrade.com/internal/domain"
	"hqtrade.com/internal/model"
)

// Context 策略通过它访问运行时：下单、撤单、读持仓、取历史K线。
// 所有方法只在策略自己的回调里调用，运行时保证同一策略的回调串行。
type Context interface {
	// Name 策略实例名
	Name() string
	// Symbol 策略绑定的合约
	Symbol() string
	// Pos 当前持仓，由成交事件驱动，正数为多头
	Pos() float64
	// Buy 买入开多，limit 价格为 0 时按市价
	Buy(price, volume float64) (string, error)
	// Sell 卖出开空/平多
	Sell(price, volume float64) (string, error)
	// CancelOrder 撤指定订单
	CancelOrder(orderRef string) error
	// CancelAll 撤掉本策略全部活动订单
	CancelAll() error
	// ActiveOrders 本策略尚未完结的订单号
	ActiveOrders() []string
	// LoadBars 加载最近 n 根K线用于预热
	LoadBars(interval string, n int) ([]model.Bar, error)
	// Log 带策略名前缀的日志
	Log(format string, args ...interface{})
}

// Strategy 策略回调集合。实现方嵌入 BaseStrategy 即可只覆盖需要的回调。
// 回调内禁止阻塞，耗时操作应自行起协程。
type Strategy interface {
	OnInit(ctx Context) error
	OnStart(ctx Context) error
	OnStop(ctx Context) error
	OnTick(ctx Context, tick *model.Tick)
	OnBar(ctx Context, bar *model.Bar)
	OnOrder(ctx Context, order *model.Order)
	OnTrade(ctx Context, trade *model.Trade)
	OnTimer(ctx Context)
	OnSignal(ctx Context, sig *model.Signal)

	// Variables 返回需要随持仓一起落盘的内部状态
	Variables() json.RawMessage
	// Restore 进程重启后、OnInit 之前恢复内部状态
	Restore(vars json.RawMessage) error
}

// BaseStrategy 提供全部回调的空实现
type BaseStrategy struct{}

func (BaseStrategy) OnInit(Context) error                 { return nil }
func (BaseStrategy) OnStart(Context) error                { return nil }
func (BaseStrategy) OnStop(Context) error                 { return nil }
func (BaseStrategy) OnTick(Context, *model.Tick)          {}
func (BaseStrategy) OnBar(Context, *model.Bar)            {}
func (BaseStrategy) OnOrder(Context, *model.Order)        {}
func (BaseStrategy) OnTrade(Context, *model.Trade)        {}
func (BaseStrategy) OnTimer(Context)                      {}
func (BaseStrategy) OnSignal(Context, *model.Signal)      {}
func (BaseStrategy) Variables() json.RawMessage           { return nil }
func (BaseStrategy) Restore(json.RawMessage) error        { return nil }

// Factory 按参数构造一个策略实例
type Factory func(params json.RawMessage) (Strategy, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register 注册策略类，通常在包 init 里调用
func Register(className string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[className]; exists {
		panic(fmt.Sprintf("strategy class %s registered twice", className))
	}
	registry[className] = factory
}

// Create 按类名和参数实例化策略
func Create(className string, params json.RawMessage) (Strategy, error) {
	registryMu.RLock()
	factory, ok := registry[className]
	registryMu.RUnlock()
	if !ok {
		return nil, domain.NewBadRequestError(fmt.Sprintf("unknown strategy class: %s", className))
	}
	return factory(params)
}

// Classes 返回已注册的策略类名
func Classes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
