package service

import (
	"context"
	"log"

	"hqtrade.com/internal/domain"
	"hqtrade.com/internal/model"
)

// MarketServiceImpl 实现 domain.MarketService 接口
type MarketServiceImpl struct {
	gateway domain.Gateway
	bars    domain.BarStore
}

// NewMarketService 创建行情服务
func NewMarketService(gateway domain.Gateway, bars domain.BarStore) *MarketServiceImpl {
	return &MarketServiceImpl{
		gateway: gateway,
		bars:    bars,
	}
}

var _ domain.MarketService = (*MarketServiceImpl)(nil)

// Subscribe 订阅合约 Tick 行情
func (s *MarketServiceImpl) Subscribe(ctx context.Context, symbol string) error {
	if symbol == "" {
		return domain.NewBadRequestError("symbol is required")
	}
	if err := s.gateway.Subscribe(ctx, symbol); err != nil {
		return err
	}
	log.Printf("MarketService: Subscribed %s", symbol)
	return nil
}

// Unsubscribe 取消订阅
func (s *MarketServiceImpl) Unsubscribe(ctx context.Context, symbol string) error {
	if symbol == "" {
		return domain.NewBadRequestError("symbol is required")
	}
	if err := s.gateway.Unsubscribe(ctx, symbol); err != nil {
		return err
	}
	log.Printf("MarketService: Unsubscribed %s", symbol)
	return nil
}

// GetBars 查询历史 K 线，按时间升序返回
func (s *MarketServiceImpl) GetBars(ctx context.Context, symbol, interval string, limit int) ([]model.Bar, error) {
	if symbol == "" {
		return nil, domain.NewBadRequestError("symbol is required")
	}
	if interval == "" {
		interval = "1m"
	}
	if limit <= 0 || limit > 5000 {
		limit = 500
	}
	return s.bars.LoadBars(ctx, symbol, interval, limit)
}
