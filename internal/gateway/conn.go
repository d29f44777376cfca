package gateway

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"hqtrade.com/internal/event"
)

// ConnState 连接状态
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Backoff 指数退避，带随机抖动避免重连风暴
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter bool
}

// DefaultBackoff 常用的重连退避参数
func DefaultBackoff() Backoff {
	return Backoff{Min: time.Second, Max: time.Minute, Factor: 2, Jitter: true}
}

// Next 计算第 attempt 次重试前的等待时间，attempt 从 0 开始
func (b Backoff) Next(attempt int) time.Duration {
	d := float64(b.Min)
	for i := 0; i < attempt; i++ {
		d *= b.Factor
		if d >= float64(b.Max) {
			d = float64(b.Max)
			break
		}
	}
	if b.Jitter {
		d = d/2 + rand.Float64()*d/2
	}
	if d < float64(b.Min) {
		d = float64(b.Min)
	}
	return time.Duration(d)
}

// ConnMonitor 维护网关连接状态并在掉线后自动重连。
// 重连成功后调用 onReconnected 做计划外全量补查，
// 补查失败视为本次重连失败，继续退避重试。
type ConnMonitor struct {
	name    string
	pub     Publisher
	backoff Backoff

	connect       func(ctx context.Context) error
	onReconnected func(ctx context.Context) error

	state  atomic.Int32
	mu     sync.Mutex // serializes reconnect loops
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConnMonitor 创建连接监视器
func NewConnMonitor(name string, pub Publisher, backoff Backoff,
	connect func(ctx context.Context) error, onReconnected func(ctx context.Context) error) *ConnMonitor {

	ctx, cancel := context.WithCancel(context.Background())
	return &ConnMonitor{
		name:          name,
		pub:           pub,
		backoff:       backoff,
		connect:       connect,
		onReconnected: onReconnected,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// State 当前连接状态
func (m *ConnMonitor) State() ConnState {
	return ConnState(m.state.Load())
}

// MarkConnected 网关首次连接成功后调用
func (m *ConnMonitor) MarkConnected(ctx context.Context) {
	m.state.Store(int32(StateConnected))
	_ = m.pub.Publish(ctx, event.Event{Type: event.EventConnected, Source: m.name, Data: m.name})
	log.Printf("Gateway: %s connected", m.name)
}

// MarkDisconnected 网关检测到连接断开后调用，会启动后台重连
func (m *ConnMonitor) MarkDisconnected(ctx context.Context) {
	if !m.state.CompareAndSwap(int32(StateConnected), int32(StateReconnecting)) {
		return // already reconnecting or never connected
	}
	_ = m.pub.Publish(ctx, event.Event{Type: event.EventDisconnected, Source: m.name, Data: m.name})
	log.Printf("Gateway: %s disconnected, starting reconnect", m.name)

	m.wg.Add(1)
	go m.reconnectLoop()
}

// Close 停止重连并释放资源
func (m *ConnMonitor) Close() {
	m.cancel()
	m.wg.Wait()
	m.state.Store(int32(StateDisconnected))
}

func (m *ConnMonitor) reconnectLoop() {
	defer m.wg.Done()
	m.mu.Lock()
	defer m.mu.Unlock()

	for attempt := 0; ; attempt++ {
		wait := m.backoff.Next(attempt)
		select {
		case <-m.ctx.Done():
			return
		case <-time.After(wait):
		}

		if err := m.connect(m.ctx); err != nil {
			log.Printf("Gateway: %s reconnect attempt %d failed: %v", m.name, attempt+1, err)
			continue
		}

		// 先做计划外补查，补查成功后才恢复 Connected，
		// 避免在状态对齐前放行新委托
		if m.onReconnected != nil {
			if err := m.onReconnected(m.ctx); err != nil {
				log.Printf("Gateway: %s resync after reconnect failed: %v", m.name, err)
				continue
			}
		}
		m.state.Store(int32(StateConnected))
		_ = m.pub.Publish(m.ctx, event.Event{Type: event.EventConnected, Source: m.name, Data: m.name})
		log.Printf("Gateway: %s reconnected after %d attempts", m.name, attempt+1)
		return
	}
}
