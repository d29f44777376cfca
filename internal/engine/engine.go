package engine

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"hqtrade.com/internal/config"
	"hqtrade.com/internal/domain"
	"hqtrade.com/internal/event"
	"hqtrade.com/internal/gateway"
	"hqtrade.com/internal/infra"
	"hqtrade.com/internal/model"
	"hqtrade.com/internal/runtime"
)

// Engine 是一个轻量级协调器，负责：
// 1. 组装事件总线、网关、策略运行时与持久化
// 2. 将回报流落库并推送给 WebSocket 客户端
// 3. 挂接定时补查与重连后的对账
type Engine struct {
	cfg *config.Config

	bus     *event.Bus
	bridge  *gateway.Bridge
	resync  *gateway.Resyncer
	runtime *runtime.Runtime

	strategyStore domain.StrategyStore
	tradeStore    domain.TradeStore
	barStore      domain.BarStore
	reportStore   domain.ReportStore

	wsManager *infra.WsManager

	ctx    context.Context
	cancel context.CancelFunc
}

// NewEngine 组装引擎，不启动任何后台进程
func NewEngine(cfg *config.Config, pg *infra.PostgresClient, rdb *redis.Client, wsManager *infra.WsManager) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	bus := event.NewBus(event.Config{
		Workers:       cfg.EventBus.Workers,
		BufferSize:    cfg.EventBus.BufferSize,
		TimerInterval: time.Duration(cfg.EventBus.TimerInterval) * time.Second,
	})

	gwName := cfg.Gateway.Name
	if gwName == "" {
		gwName = "bridge"
	}
	bridge := gateway.NewBridge(gwName, rdb, gateway.AsyncPublisher(bus))

	strategyStore := infra.NewGormStrategyStore(pg.DB)
	tradeStore := infra.NewGormTradeStore(pg.DB)
	barStore := infra.NewGormBarStore(pg.DB)
	reportStore := infra.NewGormReportStore(pg.DB)

	rt := runtime.NewRuntime(bus, bridge, strategyStore, barStore)

	resync := gateway.NewResyncer(gateway.ResyncConfig{
		OrderInterval:   cfg.Gateway.OrderSyncInterval,
		TimeInterval:    cfg.Gateway.TimeSyncInterval,
		AccountInterval: cfg.Gateway.AccountSyncInterval,
	}, bridge)

	e := &Engine{
		cfg:           cfg,
		bus:           bus,
		bridge:        bridge,
		resync:        resync,
		runtime:       rt,
		strategyStore: strategyStore,
		tradeStore:    tradeStore,
		barStore:      barStore,
		reportStore:   reportStore,
		wsManager:     wsManager,
		ctx:           ctx,
		cancel:        cancel,
	}

	// 重连成功后立即全量对账，对齐失败则继续重连
	bridge.SetOnReconnected(func(ctx context.Context) error {
		log.Println("Engine: reconnected, forcing full resync")
		return e.resync.ResyncNow(ctx)
	})

	e.registerHandlers()
	return e
}

// registerHandlers 注册引擎自身关心的事件
func (e *Engine) registerHandlers() {
	e.bus.Subscribe(event.EventTimer, e.resync.OnTimer)
	e.bus.Subscribe(event.EventTick, e.onTick)
	e.bus.Subscribe(event.EventOrder, e.onOrder)
	e.bus.Subscribe(event.EventTrade, e.onTrade)
	e.bus.Subscribe(event.EventPosition, e.onPosition)
	e.bus.Subscribe(event.EventAccount, e.onAccount)
}

// Start 启动引擎后台进程
func (e *Engine) Start(ctx context.Context) error {
	log.Println("Engine: Starting...")

	go e.wsManager.Start()
	e.bus.Start()

	if err := e.bridge.Connect(ctx, domain.Credentials{
		Key:    e.cfg.Gateway.Key,
		Secret: e.cfg.Gateway.Secret,
	}); err != nil {
		return err
	}

	// 加载已保存的策略并恢复仓位
	if err := e.runtime.LoadAll(ctx); err != nil {
		log.Printf("Engine: LoadAll: %v", err)
	}
	for _, info := range e.runtime.ListInfo() {
		if err := e.bridge.Subscribe(ctx, info.Symbol); err != nil {
			log.Printf("Engine: Failed to subscribe %s: %v", info.Symbol, err)
		}
	}

	log.Println("Engine: Started successfully")
	return nil
}

// Stop 优雅关停：先停策略，再断网关，最后排干事件总线
func (e *Engine) Stop() {
	log.Println("Engine: Stopping...")
	e.runtime.StopAll(e.ctx)
	if err := e.bridge.Close(); err != nil {
		log.Printf("Engine: bridge close: %v", err)
	}
	e.bus.Stop()
	e.cancel()
	log.Println("Engine: Stopped")
}

// ===========================
// 组件访问器，供 main 组装服务层
// ===========================

func (e *Engine) Bus() *event.Bus                     { return e.bus }
func (e *Engine) Gateway() domain.Gateway             { return e.bridge }
func (e *Engine) Runtime() *runtime.Runtime           { return e.runtime }
func (e *Engine) TradeStore() domain.TradeStore       { return e.tradeStore }
func (e *Engine) BarStore() domain.BarStore           { return e.barStore }
func (e *Engine) StrategyStore() domain.StrategyStore { return e.strategyStore }
func (e *Engine) ReportStore() domain.ReportStore     { return e.reportStore }
func (e *Engine) Config() *config.Config              { return e.cfg }

// ===========================
// 事件处理：落库 + 推送
// ===========================

func (e *Engine) onTick(ctx context.Context, ev event.Event) error {
	tick, ok := ev.Data.(*model.Tick)
	if !ok {
		return nil
	}
	e.wsManager.BroadcastSymbol(tick.Symbol, map[string]interface{}{
		"Type": "tick",
		"Data": tick,
	})
	return nil
}

func (e *Engine) onOrder(ctx context.Context, ev event.Event) error {
	order, ok := ev.Data.(*model.Order)
	if !ok {
		return nil
	}
	if err := e.tradeStore.SaveOrder(ctx, *order); err != nil {
		log.Printf("Engine: Failed to save order %s: %v", order.OrderRef, err)
	}
	e.wsManager.BroadcastToAll(map[string]interface{}{
		"Type": "order",
		"Data": order,
	})
	return nil
}

func (e *Engine) onTrade(ctx context.Context, ev event.Event) error {
	trade, ok := ev.Data.(*model.Trade)
	if !ok {
		return nil
	}
	if err := e.tradeStore.SaveTrade(ctx, *trade); err != nil {
		log.Printf("Engine: Failed to save trade %s: %v", trade.TradeID, err)
	}
	e.wsManager.BroadcastToAll(map[string]interface{}{
		"Type": "trade",
		"Data": trade,
	})
	return nil
}

func (e *Engine) onPosition(ctx context.Context, ev event.Event) error {
	pos, ok := ev.Data.(*model.Position)
	if !ok {
		return nil
	}
	if err := e.tradeStore.SavePosition(ctx, *pos); err != nil {
		log.Printf("Engine: Failed to save position %s: %v", pos.Symbol, err)
	}
	e.wsManager.BroadcastToAll(map[string]interface{}{
		"Type": "position",
		"Data": pos,
	})
	return nil
}

func (e *Engine) onAccount(ctx context.Context, ev event.Event) error {
	account, ok := ev.Data.(*model.Account)
	if !ok {
		return nil
	}
	e.wsManager.BroadcastToAll(map[string]interface{}{
		"Type": "account",
		"Data": account,
	})
	return nil
}
