package event

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Event 表示系统中的一个事件
type Event struct {
	Type      string      // 事件类型
	Source    string      // 事件来源 (网关名/引擎名)
	Data      interface{} // 事件数据
	Timestamp time.Time   // 时间戳
}

// Handler 事件处理函数
type Handler func(ctx context.Context, event Event) error

var (
	ErrBusClosed = errors.New("event bus is closed")
	ErrBusFull   = errors.New("event queue is full")
)

// Config 事件总线配置
type Config struct {
	Workers       int           // 工作协程数，默认 1（保证全局顺序）
	BufferSize    int           // 队列缓冲大小
	TimerInterval time.Duration // 定时事件周期，<=0 表示关闭定时器
	DrainTimeout  time.Duration // Stop 时等待在途事件的上限
}

func (c *Config) normalize() {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 5 * time.Second
	}
}

// Bus 事件总线，用于解耦系统各个组件
//
// 多个 worker 从同一个有序队列取事件。单个事件的 handler 按注册顺序串行执行，
// 不同事件在 worker 之间可能交错；需要严格顺序的调用方依赖 Reconciler 的
// 预排序（先 Trade 后 Order），而不是总线本身。
type Bus struct {
	cfg Config

	mu       sync.RWMutex
	handlers map[string][]Handler
	general  []Handler // SubscribeAll 注册的处理器

	queue    chan Event
	inflight sync.WaitGroup

	closeMu sync.RWMutex
	closed  bool
	started bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	timerBusy atomic.Bool
	timerDone chan struct{}
}

// NewBus 创建新的事件总线
func NewBus(cfg Config) *Bus {
	cfg.normalize()
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		cfg:      cfg,
		handlers: make(map[string][]Handler),
		queue:    make(chan Event, cfg.BufferSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Subscribe 订阅事件类型，同一类型的处理器按注册顺序调用
func (b *Bus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll 订阅所有事件，处理器在类型处理器之后调用
func (b *Bus) SubscribeAll(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.general = append(b.general, handler)
}

// Start 启动工作协程与定时器
func (b *Bus) Start() {
	b.closeMu.Lock()
	if b.started || b.closed {
		b.closeMu.Unlock()
		return
	}
	b.started = true
	b.closeMu.Unlock()

	for i := 0; i < b.cfg.Workers; i++ {
		b.wg.Add(1)
		go b.runWorker()
	}

	if b.cfg.TimerInterval > 0 {
		b.timerDone = make(chan struct{})
		b.wg.Add(1)
		go b.runTimer()
	}
}

// Publish 发布事件（异步入队）
func (b *Bus) Publish(event Event) error {
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.inflight.Add(1)
	select {
	case b.queue <- event:
		return nil
	default:
		b.inflight.Done()
		log.Printf("EventBus: Warning - event queue full, dropping event: %s", event.Type)
		return ErrBusFull
	}
}

// PublishSync 同步发布事件（立即在调用协程内处理）
// 模拟器回放依赖该方法获得确定性的事件顺序。
func (b *Bus) PublishSync(ctx context.Context, event Event) error {
	b.closeMu.RLock()
	if b.closed {
		b.closeMu.RUnlock()
		return ErrBusClosed
	}
	b.closeMu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return b.dispatch(ctx, event)
}

// runWorker 处理事件的后台协程
func (b *Bus) runWorker() {
	defer b.wg.Done()

	for {
		select {
		case event := <-b.queue:
			if err := b.dispatch(b.ctx, event); err != nil {
				log.Printf("EventBus: Error processing event %s: %v", event.Type, err)
			}
			if event.Type == EventTimer {
				b.timerBusy.Store(false)
			}
			b.inflight.Done()
		case <-b.ctx.Done():
			return
		}
	}
}

// runTimer 周期性入队定时事件。
// 上一个定时事件尚未处理完时跳过本次触发，绝不补发。
func (b *Bus) runTimer() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.TimerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !b.timerBusy.CompareAndSwap(false, true) {
				continue // previous tick still in flight
			}
			if err := b.Publish(Event{Type: EventTimer, Source: "eventbus"}); err != nil {
				b.timerBusy.Store(false)
			}
		case <-b.timerDone:
			return
		case <-b.ctx.Done():
			return
		}
	}
}

// dispatch 分发事件：先类型处理器（注册顺序），再全局处理器
func (b *Bus) dispatch(ctx context.Context, event Event) error {
	b.mu.RLock()
	handlers := b.handlers[event.Type]
	general := b.general
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			log.Printf("EventBus: Handler error for event %s: %v", event.Type, err)
		}
	}
	for _, handler := range general {
		if err := handler(ctx, event); err != nil {
			log.Printf("EventBus: Handler error for event %s: %v", event.Type, err)
		}
	}
	return nil
}

// Stop 关闭事件总线：先停止接收新事件，在限定时间内排空在途事件，
// 再停掉工作协程。
func (b *Bus) Stop() {
	b.closeMu.Lock()
	if b.closed {
		b.closeMu.Unlock()
		return
	}
	b.closed = true
	b.closeMu.Unlock()

	if b.timerDone != nil {
		close(b.timerDone)
	}

	drained := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(b.cfg.DrainTimeout):
		log.Printf("EventBus: Warning - drain timeout after %s, pending events dropped", b.cfg.DrainTimeout)
	}

	b.cancel()
	b.wg.Wait()
}

// GetSubscriberCount 获取某个事件类型的订阅者数量（用于调试）
func (b *Bus) GetSubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}
