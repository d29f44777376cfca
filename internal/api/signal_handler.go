package api

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"hqtrade.com/internal/event"
	"hqtrade.com/internal/model"
)

// SignalHandler 接收外部信号 (如 TradingView webhook)，
// 校验后转成事件投递到总线，由策略运行时按 TargetID 路由。
type SignalHandler struct {
	bus *event.Bus
}

// NewSignalHandler 创建信号处理器
func NewSignalHandler(bus *event.Bus) *SignalHandler {
	return &SignalHandler{bus: bus}
}

// ReceiveSignal 接收信号
// POST /api/signal
func (h *SignalHandler) ReceiveSignal(c *fiber.Ctx) error {
	var sig model.Signal
	if err := c.BodyParser(&sig); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"Error": "Invalid request body"})
	}

	// 非法信号在边界就拒绝，不进入总线
	if err := sig.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"Error": err.Error()})
	}

	if err := h.bus.Publish(event.Event{
		Type:   event.EventSignal,
		Source: "webhook",
		Data:   &sig,
	}); err != nil {
		log.Printf("SignalHandler: publish failed: %v", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"Error": "signal bus unavailable"})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"Message": "signal accepted", "TargetID": sig.TargetID})
}
