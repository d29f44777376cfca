package gateway

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"hqtrade.com/internal/event"
	"hqtrade.com/internal/model"
)

// Publisher 事件发布出口。实盘用异步总线，回放用同步分发。
type Publisher interface {
	Publish(ctx context.Context, e event.Event) error
}

type asyncPublisher struct{ bus *event.Bus }

func (p asyncPublisher) Publish(_ context.Context, e event.Event) error {
	return p.bus.Publish(e)
}

type syncPublisher struct{ bus *event.Bus }

func (p syncPublisher) Publish(ctx context.Context, e event.Event) error {
	return p.bus.PublishSync(ctx, e)
}

// AsyncPublisher 将事件异步入队
func AsyncPublisher(bus *event.Bus) Publisher { return asyncPublisher{bus: bus} }

// SyncPublisher 在调用协程内同步分发事件
func SyncPublisher(bus *event.Bus) Publisher { return syncPublisher{bus: bus} }

// Reconciler 把网关推送的订单快照对账成增量成交。
//
// 交易所只给全量快照（累计成交量）。首次快照只建立基线并发布
// 订单事件，之后跟已知状态做差：
//   - 差值 > 0  先合成并发布成交，再发布订单更新
//   - 差值 < 0  视为乱序的陈旧快照，丢弃且不更新已知状态
//   - 差值 = 0  且状态未变则抑制，避免重复事件
//
// 订单进入终态后停止对账，后续快照一律忽略。
type Reconciler struct {
	source string // 事件来源标识，即网关名
	pub    Publisher

	mu        sync.Mutex
	lastKnown map[string]*model.Order
	fillSeq   map[string]int64      // 合成成交的序号，按订单递增
	locks     map[string]*sync.Mutex

	staleDropped atomic.Int64
}

// NewReconciler 创建订单对账器
func NewReconciler(source string, pub Publisher) *Reconciler {
	return &Reconciler{
		source:    source,
		pub:       pub,
		lastKnown: make(map[string]*model.Order),
		fillSeq:   make(map[string]int64),
		locks:     make(map[string]*sync.Mutex),
	}
}

// OnSnapshot 处理一条订单快照，由网关每次收到订单推送或查询结果时调用
func (r *Reconciler) OnSnapshot(ctx context.Context, cur *model.Order) error {
	if cur == nil || cur.OrderRef == "" {
		return nil
	}

	lock := r.orderLock(cur.OrderRef)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	last := r.lastKnown[cur.OrderRef]
	r.mu.Unlock()

	if last != nil && last.Status.IsTerminal() {
		return nil
	}

	// 首次见到的订单没有基线可比，只记录快照并发布订单事件。
	// 重启后补查回来的历史成交已含在检查点持仓里，再合成会重复计仓。
	if last == nil {
		return r.store(ctx, cur)
	}

	delta := cur.Traded - last.Traded

	if delta < 0 {
		n := r.staleDropped.Add(1)
		log.Printf("Reconciler: Stale snapshot for order %s dropped (traded %.8f < %.8f, total dropped %d)",
			cur.OrderRef, cur.Traded, last.Traded, n)
		return nil
	}

	if delta == 0 {
		if cur.Status == last.Status {
			return nil // nothing changed
		}
		return r.store(ctx, cur)
	}

	// 成交事件必须先于订单更新发布，策略依赖这个顺序更新持仓
	trade := r.synthesizeTrade(cur, delta)
	if err := r.pub.Publish(ctx, event.Event{
		Type:   event.EventTrade,
		Source: r.source,
		Data:   trade,
	}); err != nil {
		return err
	}
	return r.store(ctx, cur)
}

// Forget 丢弃某个订单的已知状态（仅测试和会话重置使用）
func (r *Reconciler) Forget(orderRef string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lastKnown, orderRef)
	delete(r.fillSeq, orderRef)
}

// LastKnown 返回某个订单最近一次接受的快照
func (r *Reconciler) LastKnown(orderRef string) *model.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastKnown[orderRef]
}

// StaleDropped 返回被丢弃的陈旧快照数量
func (r *Reconciler) StaleDropped() int64 {
	return r.staleDropped.Load()
}

func (r *Reconciler) store(ctx context.Context, cur *model.Order) error {
	snapshot := *cur
	r.mu.Lock()
	r.lastKnown[cur.OrderRef] = &snapshot
	r.mu.Unlock()

	return r.pub.Publish(ctx, event.Event{
		Type:   event.EventOrder,
		Source: r.source,
		Data:   cur,
	})
}

func (r *Reconciler) synthesizeTrade(cur *model.Order, delta float64) *model.Trade {
	r.mu.Lock()
	r.fillSeq[cur.OrderRef]++
	seq := r.fillSeq[cur.OrderRef]
	r.mu.Unlock()

	price := cur.TradedPrice
	if price == 0 {
		price = cur.Price
	}
	return &model.Trade{
		TradeID:   fmt.Sprintf("%s-%d", cur.OrderRef, seq),
		OrderRef:  cur.OrderRef,
		Symbol:    cur.Symbol,
		Exchange:  cur.Exchange,
		Direction: cur.Direction,
		Price:     price,
		Volume:    delta,
		Timestamp: cur.UpdatedAt,
	}
}

func (r *Reconciler) orderLock(orderRef string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[orderRef]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[orderRef] = lock
	}
	return lock
}
