package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"hqtrade.com/internal/domain"
	"hqtrade.com/internal/event"
	"hqtrade.com/internal/gateway"
	"hqtrade.com/internal/infra"
	"hqtrade.com/internal/model"
	"hqtrade.com/internal/runtime"
)

// Config 回测参数
type Config struct {
	Symbol         string
	Interval       string
	Capital        float64 // 初始资金
	Slippage       float64 // 单边滑点，直接计入成交价
	CommissionRate float64 // 手续费率，按成交额收取
	Size           float64 // 合约乘数
}

func (c *Config) normalize() {
	if c.Capital <= 0 {
		c.Capital = 1_000_000
	}
	if c.Size <= 0 {
		c.Size = 1
	}
	if c.Interval == "" {
		c.Interval = "1d"
	}
}

// Simulator 历史回放撮合器。实现 domain.Gateway，订单状态变化一律
// 走 Reconciler 发布，策略面对的事件流和实盘完全一致。
//
// 撮合规则按K线穿越判断：买单在 bar.Low <= 限价时成交，卖单在
// bar.High >= 限价时成交，成交价取限价与开盘价中对己方不利的一侧，
// 再加滑点。市价单按开盘价加滑点成交。
type Simulator struct {
	cfg Config
	rec *gateway.Reconciler

	mu            sync.Mutex
	seq           int64
	pendingNew    []model.Order
	pendingCancel []string
	active        map[string]model.Order
}

// NewSimulator 创建模拟撮合网关
func NewSimulator(cfg Config, pub gateway.Publisher) *Simulator {
	cfg.normalize()
	return &Simulator{
		cfg:    cfg,
		rec:    gateway.NewReconciler("SIM", pub),
		active: make(map[string]model.Order),
	}
}

func (s *Simulator) Name() string { return "SIM" }

func (s *Simulator) Connect(context.Context, domain.Credentials) error { return nil }
func (s *Simulator) Subscribe(context.Context, string) error           { return nil }
func (s *Simulator) Unsubscribe(context.Context, string) error         { return nil }
func (s *Simulator) QueryOrders(context.Context) error                 { return nil }
func (s *Simulator) QueryPositions(context.Context) error              { return nil }
func (s *Simulator) QueryAccount(context.Context) error                { return nil }
func (s *Simulator) Close() error                                      { return nil }

// SendOrder 只登记订单，状态推送延迟到下一根K线，和真实交易所的
// 异步回报一致，也避免在策略回调里重入事件分发。
func (s *Simulator) SendOrder(_ context.Context, req model.OrderRequest) (string, error) {
	if req.Volume <= 0 {
		return "", domain.NewBadRequestError("order volume must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	orderRef := fmt.Sprintf("sim-%d", s.seq)
	s.pendingNew = append(s.pendingNew, req.NewOrder(orderRef, time.Time{}))
	return orderRef, nil
}

// CancelOrder 登记撤单请求，下一根K线生效
func (s *Simulator) CancelOrder(_ context.Context, orderRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[orderRef]; !ok {
		found := false
		for _, order := range s.pendingNew {
			if order.OrderRef == orderRef {
				found = true
				break
			}
		}
		if !found {
			return domain.NewNotFoundError(fmt.Sprintf("order %s unknown", orderRef))
		}
	}
	s.pendingCancel = append(s.pendingCancel, orderRef)
	return nil
}

// ActiveOrderCount 当前挂单数量
func (s *Simulator) ActiveOrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active) + len(s.pendingNew)
}

// ProcessBar 用一根K线驱动撮合：先处理撤单，再挂新单，最后穿越判价。
// 产生的全部快照同步过 Reconciler，所以事件在本K线分发给策略之前完成。
func (s *Simulator) ProcessBar(ctx context.Context, bar *model.Bar) error {
	s.mu.Lock()

	var snapshots []model.Order

	// 撤单
	for _, orderRef := range s.pendingCancel {
		if order, ok := s.active[orderRef]; ok {
			delete(s.active, orderRef)
			order.Status = model.StatusCancelled
			order.UpdatedAt = bar.Timestamp
			snapshots = append(snapshots, order)
			continue
		}
		kept := s.pendingNew[:0]
		for _, order := range s.pendingNew {
			if order.OrderRef == orderRef {
				order.Status = model.StatusCancelled
				order.UpdatedAt = bar.Timestamp
				snapshots = append(snapshots, order)
			} else {
				kept = append(kept, order)
			}
		}
		s.pendingNew = kept
	}
	s.pendingCancel = s.pendingCancel[:0]

	// 新单挂入
	for _, order := range s.pendingNew {
		order.Status = model.StatusNotTraded
		order.UpdatedAt = bar.Timestamp
		s.active[order.OrderRef] = order
		snapshots = append(snapshots, order)
	}
	s.pendingNew = s.pendingNew[:0]

	// 穿越撮合
	for orderRef, order := range s.active {
		fillPrice, crossed := s.cross(order, bar)
		if !crossed {
			continue
		}
		delete(s.active, orderRef)
		order.Traded = order.Volume
		order.TradedPrice = fillPrice
		order.Status = model.StatusAllTraded
		order.UpdatedAt = bar.Timestamp
		snapshots = append(snapshots, order)
	}
	s.mu.Unlock()

	for i := range snapshots {
		if err := s.rec.OnSnapshot(ctx, &snapshots[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulator) cross(order model.Order, bar *model.Bar) (float64, bool) {
	if order.Type == model.OrderTypeMarket {
		if order.Direction == model.DirectionLong {
			return bar.Open + s.cfg.Slippage, true
		}
		return bar.Open - s.cfg.Slippage, true
	}

	if order.Direction == model.DirectionLong {
		if bar.Low > order.Price {
			return 0, false
		}
		price := order.Price
		if bar.Open < price {
			price = bar.Open
		}
		return price + s.cfg.Slippage, true
	}

	if bar.High < order.Price {
		return 0, false
	}
	price := order.Price
	if bar.Open > price {
		price = bar.Open
	}
	return price - s.cfg.Slippage, true
}

// Engine 回测引擎：独立的同步事件管线 + 模拟撮合 + 策略运行时。
// 每次回测都新建一套，互不共享状态，可以安全并行跑参数寻优。
type Engine struct {
	cfg Config

	bus   *event.Bus
	sim   *Simulator
	rt    *runtime.Runtime
	store *infra.MemStrategyStore

	trades []model.Trade
	bars   []model.Bar
}

// NewEngine 创建回测引擎
func NewEngine(cfg Config) *Engine {
	cfg.normalize()
	// 总线不启动，全部事件走同步分发，保证回放确定性
	bus := event.NewBus(event.Config{Workers: 1, BufferSize: 1})
	sim := NewSimulator(cfg, gateway.SyncPublisher(bus))

	e := &Engine{
		cfg:   cfg,
		bus:   bus,
		sim:   sim,
		store: infra.NewMemStrategyStore(),
	}
	e.rt = runtime.NewRuntime(bus, sim, e.store, infra.NewMemBarStore())

	bus.Subscribe(event.EventTrade, func(_ context.Context, ev event.Event) error {
		if trade, ok := ev.Data.(*model.Trade); ok {
			e.trades = append(e.trades, *trade)
		}
		return nil
	})
	return e
}

// AddStrategy 把一个策略实例加入回测
func (e *Engine) AddStrategy(ctx context.Context, name, className string, params json.RawMessage) error {
	return e.rt.AddStrategy(ctx, model.StrategySetting{
		Name:      name,
		ClassName: className,
		Symbol:    e.cfg.Symbol,
		Params:    params,
	})
}

// SetBars 设置回放的历史K线，必须按时间升序
func (e *Engine) SetBars(bars []model.Bar) {
	e.bars = bars
}

// Run 执行回测并生成绩效报告
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	if len(e.bars) == 0 {
		return nil, domain.NewBadRequestError("no bars loaded")
	}

	names := e.rt.Names()
	if len(names) == 0 {
		return nil, domain.NewBadRequestError("no strategy added")
	}
	for _, name := range names {
		if err := e.rt.InitStrategy(ctx, name); err != nil {
			return nil, err
		}
		if err := e.rt.StartStrategy(ctx, name); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	for i := range e.bars {
		bar := &e.bars[i]
		if err := e.sim.ProcessBar(ctx, bar); err != nil {
			return nil, err
		}
		if err := e.bus.PublishSync(ctx, event.Event{
			Type: event.EventBar, Source: "SIM", Data: bar,
		}); err != nil {
			return nil, err
		}
	}
	e.rt.StopAll(ctx)
	log.Printf("Backtest: replayed %d bars, %d trades in %s",
		len(e.bars), len(e.trades), time.Since(start).Round(time.Millisecond))

	report := CalculateStatistics(e.cfg, e.bars, e.trades)
	return report, nil
}

// Trades 回测产生的全部成交
func (e *Engine) Trades() []model.Trade {
	return e.trades
}

// StrategyInfo 读取某个策略的回测后快照
func (e *Engine) StrategyInfo(name string) (*runtime.Info, error) {
	return e.rt.GetInfo(name)
}
