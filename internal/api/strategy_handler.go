package api

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"hqtrade.com/internal/domain"
	"hqtrade.com/internal/model"
)

// StrategyHandler 处理策略相关的 HTTP 请求
type StrategyHandler struct {
	strategySvc domain.StrategyService
}

// NewStrategyHandler 创建策略处理器
func NewStrategyHandler(strategySvc domain.StrategyService) *StrategyHandler {
	return &StrategyHandler{strategySvc: strategySvc}
}

// CreateStrategy 创建策略
// POST /api/strategies
func (h *StrategyHandler) CreateStrategy(c *fiber.Ctx) error {
	var req struct {
		Name      string          `json:"Name"`
		ClassName string          `json:"ClassName"`
		Symbol    string          `json:"Symbol"`
		Params    json.RawMessage `json:"Params"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"Error": "Invalid request body"})
	}

	setting := model.StrategySetting{
		Name:      req.Name,
		ClassName: req.ClassName,
		Symbol:    req.Symbol,
		Params:    req.Params,
	}

	if err := h.strategySvc.CreateStrategy(c.Context(), setting); err != nil {
		return handleError(c, err)
	}

	info, err := h.strategySvc.GetStrategy(req.Name)
	if err != nil {
		return handleError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(info)
}

// GetStrategies 获取策略列表
// GET /api/strategies
func (h *StrategyHandler) GetStrategies(c *fiber.Ctx) error {
	return c.JSON(h.strategySvc.ListStrategies())
}

// GetClasses 获取已注册的策略类名
// GET /api/strategies/classes
func (h *StrategyHandler) GetClasses(c *fiber.Ctx) error {
	return c.JSON(h.strategySvc.ListClasses())
}

// GetStrategy 获取单个策略
// GET /api/strategies/:name
func (h *StrategyHandler) GetStrategy(c *fiber.Ctx) error {
	info, err := h.strategySvc.GetStrategy(c.Params("name"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(info)
}

// InitStrategy 初始化策略
// POST /api/strategies/:name/init
func (h *StrategyHandler) InitStrategy(c *fiber.Ctx) error {
	if err := h.strategySvc.InitStrategy(c.Context(), c.Params("name")); err != nil {
		return handleError(c, err)
	}
	return c.JSON(fiber.Map{"Message": "strategy initialized"})
}

// StartStrategy 启动策略
// POST /api/strategies/:name/start
func (h *StrategyHandler) StartStrategy(c *fiber.Ctx) error {
	if err := h.strategySvc.StartStrategy(c.Context(), c.Params("name")); err != nil {
		return handleError(c, err)
	}
	return c.JSON(fiber.Map{"Message": "strategy started"})
}

// StopStrategy 停止策略
// POST /api/strategies/:name/stop
func (h *StrategyHandler) StopStrategy(c *fiber.Ctx) error {
	if err := h.strategySvc.StopStrategy(c.Context(), c.Params("name")); err != nil {
		return handleError(c, err)
	}
	return c.JSON(fiber.Map{"Message": "strategy stopped"})
}

// DeleteStrategy 删除策略
// DELETE /api/strategies/:name
func (h *StrategyHandler) DeleteStrategy(c *fiber.Ctx) error {
	if err := h.strategySvc.RemoveStrategy(c.Context(), c.Params("name")); err != nil {
		return handleError(c, err)
	}
	return c.JSON(fiber.Map{"Message": "strategy removed"})
}

// UpdateParams 修改策略参数 (需先停止策略，改完需重新 init)
// PUT /api/strategies/:name/params
func (h *StrategyHandler) UpdateParams(c *fiber.Ctx) error {
	var req struct {
		Params json.RawMessage `json:"Params"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"Error": "Invalid request body"})
	}

	if err := h.strategySvc.UpdateParams(c.Context(), c.Params("name"), req.Params); err != nil {
		return handleError(c, err)
	}
	return c.JSON(fiber.Map{"Message": "params updated, re-init required"})
}

// StartAll 启动全部策略
// POST /api/strategies/start-all
func (h *StrategyHandler) StartAll(c *fiber.Ctx) error {
	h.strategySvc.StartAll(c.Context())
	return c.JSON(fiber.Map{"Message": "start-all dispatched"})
}

// StopAll 停止全部策略
// POST /api/strategies/stop-all
func (h *StrategyHandler) StopAll(c *fiber.Ctx) error {
	h.strategySvc.StopAll(c.Context())
	return c.JSON(fiber.Map{"Message": "stop-all dispatched"})
}
