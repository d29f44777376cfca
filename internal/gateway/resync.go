package gateway

import (
	"context"
	"log"
	"sync"
	"time"

	"hqtrade.com/internal/domain"
	"hqtrade.com/internal/event"
)

// ResyncConfig 周期性补查的间隔，单位秒
type ResyncConfig struct {
	OrderInterval   int // 活动订单全量查询周期
	TimeInterval    int // 服务器时间校准周期
	AccountInterval int // 账户与持仓查询周期
}

// DefaultResyncConfig 周期默认值
func DefaultResyncConfig() ResyncConfig {
	return ResyncConfig{OrderInterval: 600, TimeInterval: 300, AccountInterval: 120}
}

func (c *ResyncConfig) normalize() {
	if c.OrderInterval <= 0 {
		c.OrderInterval = 600
	}
	if c.TimeInterval <= 0 {
		c.TimeInterval = 300
	}
	if c.AccountInterval <= 0 {
		c.AccountInterval = 120
	}
}

// TimeSyncer 服务器时间校准接口，网关可选实现
type TimeSyncer interface {
	SyncServerTime(ctx context.Context) (time.Duration, error)
}

// Resyncer 挂在定时事件上，按各自周期触发订单、时间、账户补查。
// 推送可能丢失，周期性查询兜底；查询结果照常走 Reconciler 去重，
// 所以重复补查不会产生重复事件。
type Resyncer struct {
	cfg ResyncConfig
	gw  domain.Gateway

	mu           sync.Mutex
	orderCount   int
	timeCount    int
	accountCount int
	running      bool

	timeOffset time.Duration
}

// NewResyncer 创建补查调度器
func NewResyncer(cfg ResyncConfig, gw domain.Gateway) *Resyncer {
	cfg.normalize()
	return &Resyncer{cfg: cfg, gw: gw}
}

// OnTimer 定时事件处理器，注册到事件总线的 EventTimer 上
func (r *Resyncer) OnTimer(ctx context.Context, _ event.Event) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil // previous sweep still running
	}
	r.orderCount++
	r.timeCount++
	r.accountCount++

	syncOrders := r.orderCount >= r.cfg.OrderInterval
	syncTime := r.timeCount >= r.cfg.TimeInterval
	syncAccount := r.accountCount >= r.cfg.AccountInterval
	if syncOrders {
		r.orderCount = 0
	}
	if syncTime {
		r.timeCount = 0
	}
	if syncAccount {
		r.accountCount = 0
	}
	if !syncOrders && !syncTime && !syncAccount {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			r.running = false
			r.mu.Unlock()
		}()
		if syncOrders {
			if err := r.gw.QueryOrders(ctx); err != nil {
				log.Printf("Resync: %s order query failed: %v", r.gw.Name(), err)
			}
		}
		if syncTime {
			r.syncTime(ctx)
		}
		if syncAccount {
			if err := r.gw.QueryAccount(ctx); err != nil {
				log.Printf("Resync: %s account query failed: %v", r.gw.Name(), err)
			}
			if err := r.gw.QueryPositions(ctx); err != nil {
				log.Printf("Resync: %s position query failed: %v", r.gw.Name(), err)
			}
		}
	}()
	return nil
}

// ResyncNow 计划外的全量补查，重连成功后调用。
// 任一查询失败即返回错误，调用方据此判定状态尚未对齐。
func (r *Resyncer) ResyncNow(ctx context.Context) error {
	log.Printf("Resync: %s full resync after reconnect", r.gw.Name())
	var firstErr error
	if err := r.gw.QueryOrders(ctx); err != nil {
		log.Printf("Resync: %s order query failed: %v", r.gw.Name(), err)
		firstErr = err
	}
	if err := r.gw.QueryAccount(ctx); err != nil {
		log.Printf("Resync: %s account query failed: %v", r.gw.Name(), err)
		if firstErr == nil {
			firstErr = err
		}
	}
	if err := r.gw.QueryPositions(ctx); err != nil {
		log.Printf("Resync: %s position query failed: %v", r.gw.Name(), err)
		if firstErr == nil {
			firstErr = err
		}
	}
	// 时钟校准失败不影响状态对齐
	r.syncTime(ctx)

	if firstErr != nil {
		return firstErr
	}
	r.mu.Lock()
	r.orderCount, r.timeCount, r.accountCount = 0, 0, 0
	r.mu.Unlock()
	return nil
}

// TimeOffset 最近一次校准得到的本地与服务器时钟差
func (r *Resyncer) TimeOffset() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timeOffset
}

func (r *Resyncer) syncTime(ctx context.Context) {
	ts, ok := r.gw.(TimeSyncer)
	if !ok {
		return
	}
	offset, err := ts.SyncServerTime(ctx)
	if err != nil {
		log.Printf("Resync: %s server time sync failed: %v", r.gw.Name(), err)
		return
	}
	r.mu.Lock()
	r.timeOffset = offset
	r.mu.Unlock()
	if offset > time.Second || offset < -time.Second {
		log.Printf("Resync: %s clock offset %s exceeds 1s", r.gw.Name(), offset)
	}
}
