package api

import (
	"github.com/gofiber/fiber/v2"
	"hqtrade.com/internal/domain"
	"hqtrade.com/internal/model"
)

// TradeHandler 处理人工交易与查询的 HTTP 请求
type TradeHandler struct {
	tradingSvc domain.TradingService
}

// NewTradeHandler 创建交易处理器
func NewTradeHandler(tradingSvc domain.TradingService) *TradeHandler {
	return &TradeHandler{tradingSvc: tradingSvc}
}

// InsertOrder 人工下单
// POST /api/trade/order
func (h *TradeHandler) InsertOrder(c *fiber.Ctx) error {
	var req model.OrderRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"Error": "Invalid request body"})
	}
	if req.Type == "" {
		req.Type = model.OrderTypeLimit
	}

	orderRef, err := h.tradingSvc.PlaceOrder(c.Context(), req)
	if err != nil {
		return handleError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"OrderRef": orderRef})
}

// CancelOrder 撤单
// POST /api/trade/order/:ref/cancel
func (h *TradeHandler) CancelOrder(c *fiber.Ctx) error {
	if err := h.tradingSvc.CancelOrder(c.Context(), c.Params("ref")); err != nil {
		return handleError(c, err)
	}
	return c.JSON(fiber.Map{"Message": "cancel request sent"})
}

// GetOrders 获取订单列表，支持按 symbol 过滤
// GET /api/orders?symbol=&page=&pageSize=
func (h *TradeHandler) GetOrders(c *fiber.Ctx) error {
	page, pageSize := parsePageQuery(c)
	orders, total, err := h.tradingSvc.GetOrders(c.Context(), c.Query("symbol"), page, pageSize)
	if err != nil {
		return handleError(c, err)
	}
	return SendPaginatedResponse(c, orders, page, pageSize, total)
}

// GetTrades 获取成交列表
// GET /api/trades?symbol=&page=&pageSize=
func (h *TradeHandler) GetTrades(c *fiber.Ctx) error {
	page, pageSize := parsePageQuery(c)
	trades, total, err := h.tradingSvc.GetTrades(c.Context(), c.Query("symbol"), page, pageSize)
	if err != nil {
		return handleError(c, err)
	}
	return SendPaginatedResponse(c, trades, page, pageSize, total)
}

// GetPositions 查询持仓
// GET /api/positions
func (h *TradeHandler) GetPositions(c *fiber.Ctx) error {
	positions, err := h.tradingSvc.GetPositions(c.Context())
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(positions)
}
