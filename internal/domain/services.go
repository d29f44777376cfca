package domain

import (
	"context"
	"encoding/json"

	"hqtrade.com/internal/model"
)

// StrategyService 策略管理的业务接口，API 层只依赖它
type StrategyService interface {
	CreateStrategy(ctx context.Context, setting model.StrategySetting) error
	InitStrategy(ctx context.Context, name string) error
	StartStrategy(ctx context.Context, name string) error
	StopStrategy(ctx context.Context, name string) error
	RemoveStrategy(ctx context.Context, name string) error
	UpdateParams(ctx context.Context, name string, params json.RawMessage) error
	StartAll(ctx context.Context)
	StopAll(ctx context.Context)
	GetStrategy(name string) (*model.StrategyInfo, error)
	ListStrategies() []model.StrategyInfo
	ListClasses() []string
}

// TradingService 人工交易与查询接口
type TradingService interface {
	PlaceOrder(ctx context.Context, req model.OrderRequest) (string, error)
	CancelOrder(ctx context.Context, orderRef string) error
	GetOrders(ctx context.Context, symbol string, page, pageSize int) ([]model.Order, int64, error)
	GetTrades(ctx context.Context, symbol string, page, pageSize int) ([]model.Trade, int64, error)
	GetPositions(ctx context.Context) ([]model.Position, error)
}

// BacktestService 回测执行与报告查询接口
type BacktestService interface {
	RunBacktest(ctx context.Context, req model.BacktestRequest) (*model.BacktestRecord, error)
	GetReport(ctx context.Context, id uint) (*model.BacktestRecord, error)
	ListReports(ctx context.Context, page, pageSize int) ([]model.BacktestRecord, int64, error)
}

// MarketService 行情订阅与历史数据接口
type MarketService interface {
	Subscribe(ctx context.Context, symbol string) error
	Unsubscribe(ctx context.Context, symbol string) error
	GetBars(ctx context.Context, symbol, interval string, limit int) ([]model.Bar, error)
}
