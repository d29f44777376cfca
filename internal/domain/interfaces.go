package domain

import (
	"context"

	"hqtrade.com/internal/model"
)

// ===========================
// 交易网关接口
// ===========================

// Credentials 网关连接凭证
type Credentials struct {
	Key    string
	Secret string
	Extra  map[string]string
}

// Gateway is the capability set every execution backend exposes, whether it
// is a live exchange bridge or the historical simulator. Raw pushes are
// normalized into model.Order snapshots and fed through the Reconciler, so
// consumers never see backend-specific payloads.
type Gateway interface {
	// Name 网关名称，用于日志与事件来源标记
	Name() string
	// Connect 建立连接并完成首次鉴权
	Connect(ctx context.Context, creds Credentials) error
	// Subscribe 订阅合约行情
	Subscribe(ctx context.Context, symbol string) error
	// Unsubscribe 取消订阅
	Unsubscribe(ctx context.Context, symbol string) error
	// SendOrder 下单，返回本地 OrderRef
	SendOrder(ctx context.Context, req model.OrderRequest) (string, error)
	// CancelOrder 撤单
	CancelOrder(ctx context.Context, orderRef string) error
	// QueryOrders 主动查询未完结订单（轮询兜底）
	QueryOrders(ctx context.Context) error
	// QueryPositions 主动查询持仓
	QueryPositions(ctx context.Context) error
	// QueryAccount 主动查询账户资金
	QueryAccount(ctx context.Context) error
	// Close 关闭连接
	Close() error
}

// ===========================
// 持久化接口
// ===========================

// StrategyStore persists strategy settings and runtime checkpoints.
// settings 与 runtimeState 两份文档，启动时加载，变更时重写。
type StrategyStore interface {
	SaveSetting(ctx context.Context, setting model.StrategySetting) error
	LoadSettings(ctx context.Context) ([]model.StrategySetting, error)
	RemoveSetting(ctx context.Context, name string) error

	SaveState(ctx context.Context, state model.StrategyState) error
	LoadState(ctx context.Context, name string) (*model.StrategyState, error)
	ClearState(ctx context.Context, name string) error
}

// TradeStore persists the order/trade/position history produced by the
// reconciled event stream.
type TradeStore interface {
	SaveOrder(ctx context.Context, order model.Order) error
	SaveTrade(ctx context.Context, trade model.Trade) error
	SavePosition(ctx context.Context, pos model.Position) error
	GetOrders(ctx context.Context, symbol string, page, pageSize int) ([]model.Order, int64, error)
	GetTrades(ctx context.Context, symbol string, page, pageSize int) ([]model.Trade, int64, error)
	GetPositions(ctx context.Context) ([]model.Position, error)
}

// BarStore loads historical candles for strategy warmup and backtesting.
type BarStore interface {
	SaveBars(ctx context.Context, bars []model.Bar) error
	LoadBars(ctx context.Context, symbol, interval string, limit int) ([]model.Bar, error)
}

// ReportStore persists backtest results.
type ReportStore interface {
	SaveReport(ctx context.Context, rec *model.BacktestRecord) error
	GetReport(ctx context.Context, id uint) (*model.BacktestRecord, error)
	ListReports(ctx context.Context, page, pageSize int) ([]model.BacktestRecord, int64, error)
}

// ===========================
// 推送接口
// ===========================

// Notifier 定义推送通知的接口
type Notifier interface {
	// 广播消息给所有连接的客户端 (用于系统通知/交易回报)
	BroadcastToAll(data interface{})
}
