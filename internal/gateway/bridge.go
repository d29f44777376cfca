package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"hqtrade.com/internal/domain"
	"hqtrade.com/internal/event"
	"hqtrade.com/internal/model"
)

const (
	CommandQueueKey  = "gw_command_queue"  // Go -> connector (RPUSH -> LPOP)
	ResponseQueueKey = "gw_response_queue" // connector -> Go (LPUSH -> BRPOP)
	MarketPattern    = "market.*"          // connector publishes ticks per symbol
)

// Command 发往行情/交易连接器的指令
type Command struct {
	Type      string      `json:"type"` // "LOGIN", "INSERT_ORDER", "CANCEL_ORDER", "SUBSCRIBE" ...
	Payload   interface{} `json:"payload"`
	RequestID string      `json:"request_id"`
}

// Response 连接器的回报
type Response struct {
	Type      string          `json:"type"` // "RTN_ORDER", "RTN_ACCOUNT", "RTN_POSITIONS" ...
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
}

// Bridge 通过 Redis 桥接到外部交易连接器进程。
// 指令走列表队列，回报走另一个列表的阻塞弹出，行情走 pub/sub。
// 所有订单回报统一进 Reconciler，不直接对外发事件。
type Bridge struct {
	name string
	rdb  *redis.Client
	pub  Publisher
	rec  *Reconciler

	monitor *ConnMonitor
	creds   domain.Credentials

	mu         sync.Mutex
	subscribed map[string]bool

	orderSeq  atomic.Int64
	sessionID string

	timeMu   sync.Mutex
	timeWait chan time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBridge 创建 Redis 桥接网关
func NewBridge(name string, rdb *redis.Client, pub Publisher) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		name:       name,
		rdb:        rdb,
		pub:        pub,
		rec:        NewReconciler(name, pub),
		subscribed: make(map[string]bool),
		sessionID:  time.Now().Format("20060102150405"),
		ctx:        ctx,
		cancel:     cancel,
	}
	b.monitor = NewConnMonitor(name, pub, DefaultBackoff(), b.reconnect, nil)
	return b
}

// SetOnReconnected 注册重连成功后的补查回调，返回错误则继续重连
func (b *Bridge) SetOnReconnected(fn func(ctx context.Context) error) {
	b.monitor.onReconnected = fn
}

// Reconciler 返回该网关使用的对账器
func (b *Bridge) Reconciler() *Reconciler { return b.rec }

// Name implements domain.Gateway.
func (b *Bridge) Name() string { return b.name }

// Connect 登录并启动回报与行情监听循环
func (b *Bridge) Connect(ctx context.Context, creds domain.Credentials) error {
	b.creds = creds
	if err := b.login(ctx); err != nil {
		return err
	}

	b.wg.Add(2)
	go b.responseLoop()
	go b.marketLoop()

	b.monitor.MarkConnected(ctx)
	return nil
}

func (b *Bridge) login(ctx context.Context) error {
	return b.sendCommand(ctx, Command{
		Type: "LOGIN",
		Payload: map[string]interface{}{
			"Key":    b.creds.Key,
			"Secret": b.creds.Secret,
			"Extra":  b.creds.Extra,
		},
		RequestID: "login-" + b.sessionID,
	})
}

// reconnect 重新登录并恢复之前的行情订阅
func (b *Bridge) reconnect(ctx context.Context) error {
	if err := b.login(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	symbols := make([]string, 0, len(b.subscribed))
	for s := range b.subscribed {
		symbols = append(symbols, s)
	}
	b.mu.Unlock()

	for _, s := range symbols {
		if err := b.Subscribe(ctx, s); err != nil {
			log.Printf("Gateway: %s resubscribe %s failed: %v", b.name, s, err)
		}
	}
	return nil
}

// Subscribe implements domain.Gateway.
func (b *Bridge) Subscribe(ctx context.Context, symbol string) error {
	if err := b.sendCommand(ctx, Command{
		Type:      "SUBSCRIBE",
		Payload:   map[string]interface{}{"Symbol": symbol},
		RequestID: fmt.Sprintf("sub-%s-%s", symbol, time.Now().Format("20060102150405")),
	}); err != nil {
		return err
	}
	b.mu.Lock()
	b.subscribed[symbol] = true
	b.mu.Unlock()
	return nil
}

// Unsubscribe implements domain.Gateway.
func (b *Bridge) Unsubscribe(ctx context.Context, symbol string) error {
	if err := b.sendCommand(ctx, Command{
		Type:      "UNSUBSCRIBE",
		Payload:   map[string]interface{}{"Symbol": symbol},
		RequestID: fmt.Sprintf("unsub-%s-%s", symbol, time.Now().Format("20060102150405")),
	}); err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.subscribed, symbol)
	b.mu.Unlock()
	return nil
}

// SendOrder 下单。先把本地 submitting 快照喂给 Reconciler，
// 再把指令推给连接器，保证策略总能看到自己的订单。
func (b *Bridge) SendOrder(ctx context.Context, req model.OrderRequest) (string, error) {
	if b.monitor.State() != StateConnected {
		return "", domain.ErrNotConnected
	}
	orderRef := fmt.Sprintf("%s-%d", b.sessionID, b.orderSeq.Add(1))

	order := req.NewOrder(orderRef, time.Now())
	if err := b.rec.OnSnapshot(ctx, &order); err != nil {
		return "", err
	}

	err := b.sendCommand(ctx, Command{
		Type: "INSERT_ORDER",
		Payload: map[string]interface{}{
			"Symbol":    req.Symbol,
			"Exchange":  req.Exchange,
			"OrderRef":  orderRef,
			"Direction": string(req.Direction),
			"Type":      string(req.Type),
			"Price":     req.Price,
			"Volume":    req.Volume,
		},
		RequestID: orderRef, // OrderRef doubles as RequestID for traceability
	})
	if err != nil {
		rejected := order
		rejected.Status = model.StatusRejected
		rejected.StatusMsg = err.Error()
		rejected.UpdatedAt = time.Now()
		_ = b.rec.OnSnapshot(ctx, &rejected)
		return "", err
	}
	return orderRef, nil
}

// CancelOrder implements domain.Gateway.
func (b *Bridge) CancelOrder(ctx context.Context, orderRef string) error {
	last := b.rec.LastKnown(orderRef)
	if last == nil {
		return domain.NewNotFoundError(fmt.Sprintf("order %s unknown", orderRef))
	}
	if last.Status.IsTerminal() {
		return domain.ErrOrderTerminal
	}
	return b.sendCommand(ctx, Command{
		Type: "CANCEL_ORDER",
		Payload: map[string]interface{}{
			"Symbol":     last.Symbol,
			"OrderRef":   orderRef,
			"OrderSysID": last.OrderSysID,
		},
		RequestID: "cancel-" + orderRef,
	})
}

// QueryOrders implements domain.Gateway.
func (b *Bridge) QueryOrders(ctx context.Context) error {
	return b.sendCommand(ctx, Command{
		Type:      "QUERY_ORDERS",
		Payload:   map[string]interface{}{},
		RequestID: "query-orders-" + time.Now().Format("20060102150405"),
	})
}

// QueryPositions implements domain.Gateway.
func (b *Bridge) QueryPositions(ctx context.Context) error {
	return b.sendCommand(ctx, Command{
		Type:      "QUERY_POSITIONS",
		Payload:   map[string]interface{}{},
		RequestID: "query-pos-" + time.Now().Format("20060102150405"),
	})
}

// QueryAccount implements domain.Gateway.
func (b *Bridge) QueryAccount(ctx context.Context) error {
	return b.sendCommand(ctx, Command{
		Type:      "QUERY_ACCOUNT",
		Payload:   map[string]interface{}{},
		RequestID: "query-acc-" + time.Now().Format("20060102150405"),
	})
}

// SyncServerTime 请求服务器时间并计算本地时钟偏移
func (b *Bridge) SyncServerTime(ctx context.Context) (time.Duration, error) {
	b.timeMu.Lock()
	wait := make(chan time.Time, 1)
	b.timeWait = wait
	b.timeMu.Unlock()

	sent := time.Now()
	if err := b.sendCommand(ctx, Command{
		Type:      "QUERY_TIME",
		Payload:   map[string]interface{}{},
		RequestID: "query-time-" + sent.Format("20060102150405.000"),
	}); err != nil {
		return 0, err
	}

	select {
	case serverTime := <-wait:
		rtt := time.Since(sent)
		return time.Until(serverTime.Add(rtt / 2)) * -1, nil
	case <-time.After(5 * time.Second):
		return 0, domain.NewInternalError("server time query timed out", nil)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close implements domain.Gateway.
func (b *Bridge) Close() error {
	b.cancel()
	b.monitor.Close()
	b.wg.Wait()
	return nil
}

func (b *Bridge) sendCommand(ctx context.Context, cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}
	if err := b.rdb.RPush(ctx, CommandQueueKey, data).Err(); err != nil {
		return fmt.Errorf("failed to push command to redis: %w", err)
	}
	return nil
}

// responseLoop 阻塞消费连接器回报队列
func (b *Bridge) responseLoop() {
	defer b.wg.Done()
	log.Printf("Gateway: %s response loop started", b.name)

	for {
		select {
		case <-b.ctx.Done():
			return
		default:
		}

		result, err := b.rdb.BRPop(b.ctx, 2*time.Second, ResponseQueueKey).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if b.ctx.Err() != nil {
				return
			}
			log.Printf("Gateway: %s response pop failed: %v", b.name, err)
			b.monitor.MarkDisconnected(b.ctx)
			time.Sleep(time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var resp Response
		if err := json.Unmarshal([]byte(result[1]), &resp); err != nil {
			log.Printf("Gateway: %s invalid response: %v", b.name, err)
			continue
		}
		b.processResponse(resp)
	}
}

func (b *Bridge) processResponse(resp Response) {
	switch resp.Type {
	case "RTN_ORDER":
		var order model.Order
		if err := json.Unmarshal(resp.Payload, &order); err != nil {
			log.Printf("Gateway: %s bad order payload: %v", b.name, err)
			return
		}
		if order.UpdatedAt.IsZero() {
			order.UpdatedAt = time.Now()
		}
		if err := b.rec.OnSnapshot(b.ctx, &order); err != nil {
			log.Printf("Gateway: %s reconcile order %s failed: %v", b.name, order.OrderRef, err)
		}

	case "ERR_ORDER":
		var payload struct {
			OrderRef string `json:"OrderRef"`
			ErrorMsg string `json:"ErrorMsg"`
		}
		if err := json.Unmarshal(resp.Payload, &payload); err != nil {
			return
		}
		ref := payload.OrderRef
		if ref == "" {
			ref = resp.RequestID
		}
		last := b.rec.LastKnown(ref)
		if last == nil {
			return
		}
		rejected := *last
		rejected.Status = model.StatusRejected
		rejected.StatusMsg = payload.ErrorMsg
		rejected.UpdatedAt = time.Now()
		_ = b.rec.OnSnapshot(b.ctx, &rejected)

	case "QRY_ORDERS_RSP":
		var orders []model.Order
		if err := json.Unmarshal(resp.Payload, &orders); err != nil {
			log.Printf("Gateway: %s bad orders payload: %v", b.name, err)
			return
		}
		for i := range orders {
			if orders[i].UpdatedAt.IsZero() {
				orders[i].UpdatedAt = time.Now()
			}
			_ = b.rec.OnSnapshot(b.ctx, &orders[i])
		}
		log.Printf("Gateway: %s synchronized %d orders", b.name, len(orders))

	case "RTN_POSITIONS", "QRY_POS_RSP":
		var positions []model.Position
		if err := json.Unmarshal(resp.Payload, &positions); err != nil {
			return
		}
		for i := range positions {
			_ = b.pub.Publish(b.ctx, event.Event{
				Type: event.EventPosition, Source: b.name, Data: &positions[i],
			})
		}

	case "RTN_ACCOUNT", "QRY_ACCOUNT_RSP":
		var account model.Account
		if err := json.Unmarshal(resp.Payload, &account); err != nil {
			return
		}
		_ = b.pub.Publish(b.ctx, event.Event{
			Type: event.EventAccount, Source: b.name, Data: &account,
		})

	case "QRY_CONTRACTS_RSP":
		var contracts []model.Contract
		if err := json.Unmarshal(resp.Payload, &contracts); err != nil {
			return
		}
		for i := range contracts {
			_ = b.pub.Publish(b.ctx, event.Event{
				Type: event.EventContract, Source: b.name, Data: &contracts[i],
			})
		}
		log.Printf("Gateway: %s synchronized %d contracts", b.name, len(contracts))

	case "QRY_TIME_RSP":
		var payload struct {
			ServerTime time.Time `json:"ServerTime"`
		}
		if err := json.Unmarshal(resp.Payload, &payload); err != nil {
			return
		}
		b.timeMu.Lock()
		if b.timeWait != nil {
			select {
			case b.timeWait <- payload.ServerTime:
			default:
			}
			b.timeWait = nil
		}
		b.timeMu.Unlock()

	case "DISCONNECTED":
		b.monitor.MarkDisconnected(b.ctx)

	default:
		log.Printf("Gateway: %s unknown response type %s", b.name, resp.Type)
	}
}

// marketLoop 订阅行情频道并转成 Tick 事件
func (b *Bridge) marketLoop() {
	defer b.wg.Done()

	pubsub := b.rdb.PSubscribe(b.ctx, MarketPattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(b.ctx); err != nil {
		if b.ctx.Err() == nil {
			log.Printf("Gateway: %s market subscribe failed: %v", b.name, err)
		}
		return
	}
	log.Printf("Gateway: %s market data loop started", b.name)

	ch := pubsub.Channel()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			symbol := strings.TrimPrefix(msg.Channel, "market.")
			var tick model.Tick
			if err := json.Unmarshal([]byte(msg.Payload), &tick); err != nil {
				log.Printf("Gateway: %s bad tick for %s: %v", b.name, symbol, err)
				continue
			}
			if tick.Symbol == "" {
				tick.Symbol = symbol
			}
			if tick.Timestamp.IsZero() {
				tick.Timestamp = time.Now()
			}
			_ = b.pub.Publish(b.ctx, event.Event{
				Type: event.EventTick, Source: b.name, Data: &tick,
			})
		}
	}
}
