package api

import (
	"github.com/gofiber/fiber/v2"
	"hqtrade.com/internal/domain"
	"hqtrade.com/internal/model"
)

// BacktestHandler 处理回测相关的 HTTP 请求
type BacktestHandler struct {
	backtestSvc domain.BacktestService
}

// NewBacktestHandler 创建回测处理器
func NewBacktestHandler(backtestSvc domain.BacktestService) *BacktestHandler {
	return &BacktestHandler{backtestSvc: backtestSvc}
}

// RunBacktest 同步执行一次回测并返回报告
// POST /api/backtest
func (h *BacktestHandler) RunBacktest(c *fiber.Ctx) error {
	var req model.BacktestRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"Error": "Invalid request body"})
	}

	rec, err := h.backtestSvc.RunBacktest(c.Context(), req)
	if err != nil {
		return handleError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(rec)
}

// ListReports 查询历史回测报告
// GET /api/backtest?page=&pageSize=
func (h *BacktestHandler) ListReports(c *fiber.Ctx) error {
	page, pageSize := parsePageQuery(c)
	records, total, err := h.backtestSvc.ListReports(c.Context(), page, pageSize)
	if err != nil {
		return handleError(c, err)
	}
	return SendPaginatedResponse(c, records, page, pageSize, total)
}

// GetReport 查询单份回测报告
// GET /api/backtest/:id
func (h *BacktestHandler) GetReport(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"Error": "Invalid report id"})
	}

	rec, err := h.backtestSvc.GetReport(c.Context(), uint(id))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(rec)
}
