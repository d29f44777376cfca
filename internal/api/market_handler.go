package api

import (
	"github.com/gofiber/fiber/v2"
	"hqtrade.com/internal/domain"
)

// MarketHandler 处理行情订阅与历史数据的 HTTP 请求
type MarketHandler struct {
	marketSvc domain.MarketService
}

// NewMarketHandler 创建行情处理器
func NewMarketHandler(marketSvc domain.MarketService) *MarketHandler {
	return &MarketHandler{marketSvc: marketSvc}
}

// Subscribe 订阅合约行情
// POST /api/market/subscriptions
func (h *MarketHandler) Subscribe(c *fiber.Ctx) error {
	var req struct {
		Symbol string `json:"Symbol"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"Error": "Invalid request body"})
	}
	if err := h.marketSvc.Subscribe(c.Context(), req.Symbol); err != nil {
		return handleError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"Message": "subscribed", "Symbol": req.Symbol})
}

// Unsubscribe 取消订阅
// DELETE /api/market/subscriptions/:symbol
func (h *MarketHandler) Unsubscribe(c *fiber.Ctx) error {
	if err := h.marketSvc.Unsubscribe(c.Context(), c.Params("symbol")); err != nil {
		return handleError(c, err)
	}
	return c.JSON(fiber.Map{"Message": "unsubscribed"})
}

// GetBars 查询历史 K 线
// GET /api/market/bars?symbol=&interval=&limit=
func (h *MarketHandler) GetBars(c *fiber.Ctx) error {
	bars, err := h.marketSvc.GetBars(
		c.Context(),
		c.Query("symbol"),
		c.Query("interval", "1m"),
		c.QueryInt("limit", 500),
	)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(bars)
}
