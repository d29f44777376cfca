package service

import (
	"context"
	"log"

	"hqtrade.com/internal/domain"
	"hqtrade.com/internal/model"
)

// TradingServiceImpl 实现 domain.TradingService 接口
// 人工下单直接走网关，持久化由事件总线上的回报流负责，
// 这里只做参数校验与查询。
type TradingServiceImpl struct {
	gateway domain.Gateway
	trades  domain.TradeStore
}

// NewTradingService 创建交易服务
func NewTradingService(gateway domain.Gateway, trades domain.TradeStore) *TradingServiceImpl {
	return &TradingServiceImpl{
		gateway: gateway,
		trades:  trades,
	}
}

var _ domain.TradingService = (*TradingServiceImpl)(nil)

// PlaceOrder 下单，返回网关分配的 OrderRef
func (s *TradingServiceImpl) PlaceOrder(ctx context.Context, req model.OrderRequest) (string, error) {
	if req.Symbol == "" {
		return "", domain.NewBadRequestError("symbol is required")
	}
	if req.Volume <= 0 {
		return "", domain.NewBadRequestError("volume must be positive")
	}
	if req.Direction != model.DirectionLong && req.Direction != model.DirectionShort {
		return "", domain.NewBadRequestError("direction must be long or short")
	}
	if req.Type == model.OrderTypeLimit && req.Price <= 0 {
		return "", domain.NewBadRequestError("limit order requires a positive price")
	}

	// 发送到网关 (低延迟优先)，订单快照由回报流异步落库
	orderRef, err := s.gateway.SendOrder(ctx, req)
	if err != nil {
		return "", err
	}

	log.Printf("TradingService: Order %s sent to gateway %s", orderRef, s.gateway.Name())
	return orderRef, nil
}

// CancelOrder 撤单
func (s *TradingServiceImpl) CancelOrder(ctx context.Context, orderRef string) error {
	if orderRef == "" {
		return domain.NewBadRequestError("orderRef is required")
	}
	if err := s.gateway.CancelOrder(ctx, orderRef); err != nil {
		return err
	}
	log.Printf("TradingService: Cancel request sent for order %s", orderRef)
	return nil
}

// GetOrders 获取订单列表
func (s *TradingServiceImpl) GetOrders(ctx context.Context, symbol string, page, pageSize int) ([]model.Order, int64, error) {
	return s.trades.GetOrders(ctx, symbol, page, pageSize)
}

// GetTrades 获取成交列表
func (s *TradingServiceImpl) GetTrades(ctx context.Context, symbol string, page, pageSize int) ([]model.Trade, int64, error) {
	return s.trades.GetTrades(ctx, symbol, page, pageSize)
}

// GetPositions 查询持仓
func (s *TradingServiceImpl) GetPositions(ctx context.Context) ([]model.Position, error) {
	return s.trades.GetPositions(ctx)
}
