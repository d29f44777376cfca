package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"hqtrade.com/internal/domain"
	"hqtrade.com/internal/event"
	"hqtrade.com/internal/model"
)

// Runtime 管理所有策略实例的生命周期，并把总线事件路由给它们。
//
// 持仓是策略的权威状态，只在成交事件里更新：先改 pos，再回调 OnTrade，
// 最后落盘检查点。进程重启后从检查点恢复，而不是从交易所重算。
type Runtime struct {
	bus   *event.Bus
	gw    domain.Gateway
	store domain.StrategyStore
	bars  domain.BarStore

	mu        sync.RWMutex
	instances map[string]*instance

	ordersMu   sync.Mutex
	orderOwner map[string]string // OrderRef -> strategy name

	signalMu      sync.RWMutex
	signalTargets map[string][]string // TargetID -> strategy names
}

// instance 一个运行中的策略及其状态，回调通过 mu 串行
type instance struct {
	rt       *Runtime
	strategy Strategy
	setting  model.StrategySetting

	mu      sync.Mutex
	status  model.StrategyStatus
	trading bool
	pos     float64
	active  map[string]bool // OrderRefs still working
}

// signalTarget 从策略参数里取出的信号路由标识
type signalTarget struct {
	TargetID string `json:"TargetID"`
}

// NewRuntime 创建策略运行时并注册事件处理器
func NewRuntime(bus *event.Bus, gw domain.Gateway, store domain.StrategyStore, bars domain.BarStore) *Runtime {
	rt := &Runtime{
		bus:           bus,
		gw:            gw,
		store:         store,
		bars:          bars,
		instances:     make(map[string]*instance),
		orderOwner:    make(map[string]string),
		signalTargets: make(map[string][]string),
	}

	bus.Subscribe(event.EventTick, rt.onTick)
	bus.Subscribe(event.EventBar, rt.onBar)
	bus.Subscribe(event.EventTrade, rt.onTrade)
	bus.Subscribe(event.EventOrder, rt.onOrder)
	bus.Subscribe(event.EventTimer, rt.onTimer)
	bus.Subscribe(event.EventSignal, rt.onSignal)
	return rt
}

// ===========================
// 生命周期操作
// ===========================

// AddStrategy 创建策略实例并持久化配置。
// 若存在历史检查点则恢复持仓与内部状态。
func (rt *Runtime) AddStrategy(ctx context.Context, setting model.StrategySetting) error {
	if setting.Name == "" || setting.ClassName == "" || setting.Symbol == "" {
		return domain.NewBadRequestError("strategy name, class and symbol are required")
	}

	rt.mu.Lock()
	if _, exists := rt.instances[setting.Name]; exists {
		rt.mu.Unlock()
		return domain.NewConflictError(fmt.Sprintf("strategy %s already exists", setting.Name))
	}
	rt.mu.Unlock()

	strategy, err := Create(setting.ClassName, setting.Params)
	if err != nil {
		return err
	}

	inst := &instance{
		rt:       rt,
		strategy: strategy,
		setting:  setting,
		status:   model.StrategyStatusCreated,
		active:   make(map[string]bool),
	}

	if state, err := rt.store.LoadState(ctx, setting.Name); err != nil {
		log.Printf("Runtime: load state for %s failed: %v", setting.Name, err)
	} else if state != nil {
		inst.pos = state.Pos
		if err := strategy.Restore(state.Variables); err != nil {
			log.Printf("Runtime: restore variables for %s failed: %v", setting.Name, err)
		}
		log.Printf("Runtime: restored %s, pos=%.4f", setting.Name, state.Pos)
	}

	if setting.CreatedAt.IsZero() {
		setting.CreatedAt = time.Now()
	}
	setting.UpdatedAt = time.Now()
	if err := rt.store.SaveSetting(ctx, setting); err != nil {
		return domain.NewInternalError("failed to persist strategy setting", err)
	}

	rt.mu.Lock()
	rt.instances[setting.Name] = inst
	rt.mu.Unlock()

	rt.registerSignalTarget(setting)
	log.Printf("Runtime: strategy %s (%s on %s) added", setting.Name, setting.ClassName, setting.Symbol)
	return nil
}

// InitStrategy 初始化策略（预热），整个生命周期只执行一次，
// 只允许在 created 状态调用
func (rt *Runtime) InitStrategy(ctx context.Context, name string) error {
	inst, err := rt.get(name)
	if err != nil {
		return err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.status != model.StrategyStatusCreated {
		return domain.ErrStrategyState
	}
	if !inst.call("OnInit", func() error { return inst.strategy.OnInit(inst) }) {
		return domain.NewInternalError(fmt.Sprintf("strategy %s init failed", name), nil)
	}
	inst.status = model.StrategyStatusInitialized
	log.Printf("Runtime: strategy %s initialized", name)
	return nil
}

// StartStrategy 启动策略，要求已初始化；停止后可直接重启，不重复预热
func (rt *Runtime) StartStrategy(ctx context.Context, name string) error {
	inst, err := rt.get(name)
	if err != nil {
		return err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	switch inst.status {
	case model.StrategyStatusRunning:
		return domain.ErrStrategyRunning
	case model.StrategyStatusInitialized, model.StrategyStatusStopped:
	default:
		return domain.ErrStrategyState
	}
	if !inst.call("OnStart", func() error { return inst.strategy.OnStart(inst) }) {
		return domain.NewInternalError(fmt.Sprintf("strategy %s start failed", name), nil)
	}
	inst.status = model.StrategyStatusRunning
	inst.trading = true
	log.Printf("Runtime: strategy %s started", name)
	return nil
}

// StopStrategy 停止策略：先停交易，再撤掉全部活动订单，最后落盘检查点
func (rt *Runtime) StopStrategy(ctx context.Context, name string) error {
	inst, err := rt.get(name)
	if err != nil {
		return err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.status != model.StrategyStatusRunning {
		return domain.ErrStrategyState
	}
	inst.trading = false
	inst.call("OnStop", func() error { return inst.strategy.OnStop(inst) })
	inst.cancelAllLocked(ctx)
	inst.status = model.StrategyStatusStopped
	rt.checkpoint(ctx, inst)
	log.Printf("Runtime: strategy %s stopped", name)
	return nil
}

// RemoveStrategy 删除策略配置，要求已停止。
// 检查点数据保留，便于同名策略重建后恢复。
func (rt *Runtime) RemoveStrategy(ctx context.Context, name string) error {
	inst, err := rt.get(name)
	if err != nil {
		return err
	}

	inst.mu.Lock()
	if inst.status == model.StrategyStatusRunning {
		inst.mu.Unlock()
		return domain.ErrStrategyRunning
	}
	inst.mu.Unlock()

	if err := rt.store.RemoveSetting(ctx, name); err != nil {
		return domain.NewInternalError("failed to remove strategy setting", err)
	}

	rt.mu.Lock()
	delete(rt.instances, name)
	rt.mu.Unlock()
	rt.unregisterSignalTarget(name)
	log.Printf("Runtime: strategy %s removed", name)
	return nil
}

// EditStrategyParams 修改策略参数，只允许在停止状态下进行。
// 重建策略实例，持仓从检查点继承。
func (rt *Runtime) EditStrategyParams(ctx context.Context, name string, params json.RawMessage) error {
	inst, err := rt.get(name)
	if err != nil {
		return err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.status == model.StrategyStatusRunning {
		return domain.ErrStrategyRunning
	}

	strategy, err := Create(inst.setting.ClassName, params)
	if err != nil {
		return err
	}
	if state, err := rt.store.LoadState(ctx, name); err == nil && state != nil {
		if err := strategy.Restore(state.Variables); err != nil {
			log.Printf("Runtime: restore variables for %s failed: %v", name, err)
		}
	}

	inst.setting.Params = params
	inst.setting.UpdatedAt = time.Now()
	if err := rt.store.SaveSetting(ctx, inst.setting); err != nil {
		return domain.NewInternalError("failed to persist strategy setting", err)
	}
	inst.strategy = strategy
	inst.status = model.StrategyStatusCreated

	rt.unregisterSignalTarget(name)
	rt.registerSignalTarget(inst.setting)
	log.Printf("Runtime: strategy %s params updated", name)
	return nil
}

// LoadAll 启动时从存储恢复全部策略配置
func (rt *Runtime) LoadAll(ctx context.Context) error {
	settings, err := rt.store.LoadSettings(ctx)
	if err != nil {
		return domain.NewInternalError("failed to load strategy settings", err)
	}
	for _, setting := range settings {
		if err := rt.AddStrategy(ctx, setting); err != nil {
			log.Printf("Runtime: restore strategy %s failed: %v", setting.Name, err)
		}
	}
	log.Printf("Runtime: loaded %d strategies", len(settings))
	return nil
}

// StartAll 初始化并启动全部策略，已初始化或已停止的直接重启
func (rt *Runtime) StartAll(ctx context.Context) {
	for _, name := range rt.Names() {
		if err := rt.InitStrategy(ctx, name); err != nil && !errors.Is(err, domain.ErrStrategyState) {
			log.Printf("Runtime: init %s failed: %v", name, err)
			continue
		}
		if err := rt.StartStrategy(ctx, name); err != nil && !errors.Is(err, domain.ErrStrategyRunning) {
			log.Printf("Runtime: start %s failed: %v", name, err)
		}
	}
}

// StopAll 停止全部运行中的策略，未运行的直接跳过
func (rt *Runtime) StopAll(ctx context.Context) {
	for _, name := range rt.Names() {
		if err := rt.StopStrategy(ctx, name); err != nil && !errors.Is(err, domain.ErrStrategyState) {
			log.Printf("Runtime: stop %s failed: %v", name, err)
		}
	}
}

// ===========================
// 查询
// ===========================

// Info 策略实例的对外快照
type Info = model.StrategyInfo

// Names 全部策略名
func (rt *Runtime) Names() []string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	names := make([]string, 0, len(rt.instances))
	for name := range rt.instances {
		names = append(names, name)
	}
	return names
}

// GetInfo 单个策略快照
func (rt *Runtime) GetInfo(name string) (*Info, error) {
	inst, err := rt.get(name)
	if err != nil {
		return nil, err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return &Info{
		Name:      inst.setting.Name,
		ClassName: inst.setting.ClassName,
		Symbol:    inst.setting.Symbol,
		Status:    inst.status,
		Pos:       inst.pos,
		Params:    inst.setting.Params,
		Variables: inst.strategy.Variables(),
	}, nil
}

// ListInfo 全部策略快照
func (rt *Runtime) ListInfo() []Info {
	infos := make([]Info, 0)
	for _, name := range rt.Names() {
		if info, err := rt.GetInfo(name); err == nil {
			infos = append(infos, *info)
		}
	}
	return infos
}

func (rt *Runtime) get(name string) (*instance, error) {
	rt.mu.RLock()
	inst, ok := rt.instances[name]
	rt.mu.RUnlock()
	if !ok {
		return nil, domain.NewNotFoundError(fmt.Sprintf("strategy %s not found", name))
	}
	return inst, nil
}

// ===========================
// 事件路由
// ===========================

func (rt *Runtime) onTick(ctx context.Context, e event.Event) error {
	tick, ok := e.Data.(*model.Tick)
	if !ok {
		return nil
	}
	for _, inst := range rt.snapshot() {
		if inst.setting.Symbol != tick.Symbol {
			continue
		}
		inst.mu.Lock()
		if inst.trading {
			inst.call("OnTick", func() error { inst.strategy.OnTick(inst, tick); return nil })
		}
		inst.mu.Unlock()
	}
	return nil
}

func (rt *Runtime) onBar(ctx context.Context, e event.Event) error {
	bar, ok := e.Data.(*model.Bar)
	if !ok {
		return nil
	}
	for _, inst := range rt.snapshot() {
		if inst.setting.Symbol != bar.Symbol {
			continue
		}
		inst.mu.Lock()
		if inst.trading {
			inst.call("OnBar", func() error { inst.strategy.OnBar(inst, bar); return nil })
		}
		inst.mu.Unlock()
	}
	return nil
}

// onTrade 成交回调：更新持仓、回调策略、落盘检查点，整个过程持实例锁
func (rt *Runtime) onTrade(ctx context.Context, e event.Event) error {
	trade, ok := e.Data.(*model.Trade)
	if !ok {
		return nil
	}
	inst := rt.ownerOf(trade.OrderRef)
	if inst == nil {
		return nil
	}

	inst.mu.Lock()
	inst.pos += trade.SignedVolume()
	inst.call("OnTrade", func() error { inst.strategy.OnTrade(inst, trade); return nil })
	rt.checkpoint(ctx, inst)
	inst.mu.Unlock()
	return nil
}

// onOrder 订单回调：终态订单移出活动集合后仍然投递给策略
func (rt *Runtime) onOrder(ctx context.Context, e event.Event) error {
	order, ok := e.Data.(*model.Order)
	if !ok {
		return nil
	}
	inst := rt.ownerOf(order.OrderRef)
	if inst == nil {
		return nil
	}

	inst.mu.Lock()
	if order.Status.IsTerminal() {
		delete(inst.active, order.OrderRef)
	}
	inst.call("OnOrder", func() error { inst.strategy.OnOrder(inst, order); return nil })
	inst.mu.Unlock()

	if order.Status.IsTerminal() {
		rt.ordersMu.Lock()
		delete(rt.orderOwner, order.OrderRef)
		rt.ordersMu.Unlock()
	}
	return nil
}

func (rt *Runtime) onTimer(ctx context.Context, e event.Event) error {
	for _, inst := range rt.snapshot() {
		inst.mu.Lock()
		if inst.trading {
			inst.call("OnTimer", func() error { inst.strategy.OnTimer(inst); return nil })
		}
		inst.mu.Unlock()
	}
	return nil
}

// onSignal 外部信号按 TargetID 路由，只投给运行中的策略
func (rt *Runtime) onSignal(ctx context.Context, e event.Event) error {
	sig, ok := e.Data.(*model.Signal)
	if !ok {
		return nil
	}

	rt.signalMu.RLock()
	names := append([]string(nil), rt.signalTargets[sig.TargetID]...)
	rt.signalMu.RUnlock()
	if len(names) == 0 {
		log.Printf("Runtime: signal for unknown target %s dropped", sig.TargetID)
		return nil
	}

	for _, name := range names {
		inst, err := rt.get(name)
		if err != nil {
			continue
		}
		inst.mu.Lock()
		if inst.trading {
			inst.call("OnSignal", func() error { inst.strategy.OnSignal(inst, sig); return nil })
		}
		inst.mu.Unlock()
	}
	return nil
}

func (rt *Runtime) snapshot() []*instance {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]*instance, 0, len(rt.instances))
	for _, inst := range rt.instances {
		out = append(out, inst)
	}
	return out
}

func (rt *Runtime) ownerOf(orderRef string) *instance {
	rt.ordersMu.Lock()
	name, ok := rt.orderOwner[orderRef]
	rt.ordersMu.Unlock()
	if !ok {
		return nil
	}
	inst, err := rt.get(name)
	if err != nil {
		return nil
	}
	return inst
}

// checkpoint 写入 {pos, variables} 检查点，失败重试一次后告警。
// 调用方必须已持有实例锁。
func (rt *Runtime) checkpoint(ctx context.Context, inst *instance) {
	state := model.StrategyState{
		Name:      inst.setting.Name,
		Pos:       inst.pos,
		Variables: inst.strategy.Variables(),
		UpdatedAt: time.Now(),
	}
	err := rt.store.SaveState(ctx, state)
	if err != nil {
		err = rt.store.SaveState(ctx, state)
	}
	if err != nil {
		log.Printf("Runtime: Warning - checkpoint for %s failed, position may be stale on restart: %v",
			inst.setting.Name, err)
	}
}

func (rt *Runtime) registerSignalTarget(setting model.StrategySetting) {
	var target signalTarget
	if len(setting.Params) == 0 {
		return
	}
	if err := json.Unmarshal(setting.Params, &target); err != nil || target.TargetID == "" {
		return
	}
	rt.signalMu.Lock()
	rt.signalTargets[target.TargetID] = append(rt.signalTargets[target.TargetID], setting.Name)
	rt.signalMu.Unlock()
	log.Printf("Runtime: strategy %s listens to signal target %s", setting.Name, target.TargetID)
}

func (rt *Runtime) unregisterSignalTarget(name string) {
	rt.signalMu.Lock()
	defer rt.signalMu.Unlock()
	for target, names := range rt.signalTargets {
		kept := names[:0]
		for _, n := range names {
			if n != name {
				kept = append(kept, n)
			}
		}
		if len(kept) == 0 {
			delete(rt.signalTargets, target)
		} else {
			rt.signalTargets[target] = kept
		}
	}
}

// ===========================
// instance: Context 实现
// ===========================

func (in *instance) Name() string   { return in.setting.Name }
func (in *instance) Symbol() string { return in.setting.Symbol }

func (in *instance) Pos() float64 { return in.pos }

func (in *instance) Buy(price, volume float64) (string, error) {
	return in.sendOrder(model.DirectionLong, price, volume)
}

func (in *instance) Sell(price, volume float64) (string, error) {
	return in.sendOrder(model.DirectionShort, price, volume)
}

func (in *instance) sendOrder(direction model.Direction, price, volume float64) (string, error) {
	if !in.trading {
		return "", domain.ErrStrategyState
	}
	orderType := model.OrderTypeLimit
	if price == 0 {
		orderType = model.OrderTypeMarket
	}
	req := model.OrderRequest{
		Symbol:    in.setting.Symbol,
		Direction: direction,
		Type:      orderType,
		Price:     price,
		Volume:    volume,
		Strategy:  in.setting.Name,
	}

	orderRef, err := in.rt.gw.SendOrder(context.Background(), req)
	if err != nil {
		return "", err
	}
	in.rt.ordersMu.Lock()
	in.rt.orderOwner[orderRef] = in.setting.Name
	in.rt.ordersMu.Unlock()
	in.active[orderRef] = true
	return orderRef, nil
}

func (in *instance) CancelOrder(orderRef string) error {
	return in.rt.gw.CancelOrder(context.Background(), orderRef)
}

func (in *instance) CancelAll() error {
	in.cancelAllLocked(context.Background())
	return nil
}

// cancelAllLocked 撤掉全部活动订单，调用方已持有实例锁
func (in *instance) cancelAllLocked(ctx context.Context) {
	for orderRef := range in.active {
		if err := in.rt.gw.CancelOrder(ctx, orderRef); err != nil {
			log.Printf("Runtime: cancel %s for %s failed: %v", orderRef, in.setting.Name, err)
		}
	}
}

func (in *instance) ActiveOrders() []string {
	refs := make([]string, 0, len(in.active))
	for orderRef := range in.active {
		refs = append(refs, orderRef)
	}
	return refs
}

func (in *instance) LoadBars(interval string, n int) ([]model.Bar, error) {
	if in.rt.bars == nil {
		return nil, nil
	}
	return in.rt.bars.LoadBars(context.Background(), in.setting.Symbol, interval, n)
}

func (in *instance) Log(format string, args ...interface{}) {
	log.Printf("Strategy[%s]: %s", in.setting.Name, fmt.Sprintf(format, args...))
}

// call 执行策略回调并兜住 panic。
// 策略抛出异常后立即停止交易，等待人工介入，返回 false。
func (in *instance) call(method string, fn func() error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			in.trading = false
			in.status = model.StrategyStatusStopped
			log.Printf("Runtime: strategy %s panicked in %s, trading disabled: %v",
				in.setting.Name, method, r)
			ok = false
		}
	}()
	if err := fn(); err != nil {
		log.Printf("Runtime: strategy %s %s returned error: %v", in.setting.Name, method, err)
		return false
	}
	return true
}
