package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"hqtrade.com/internal/config"
	"hqtrade.com/internal/engine"
	"hqtrade.com/internal/infra"
	"hqtrade.com/internal/service"
)

func NewServer(cfg *config.Config, eng *engine.Engine, wsManager *infra.WsManager) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: cfg.Server.AppName,
	})

	app.Use(logger.New())
	app.Use(cors.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status":  "ok",
			"message": "Service is healthy",
		})
	})

	strategySvc := service.NewStrategyService(eng.Runtime(), eng.Gateway())
	tradingSvc := service.NewTradingService(eng.Gateway(), eng.TradeStore())
	marketSvc := service.NewMarketService(eng.Gateway(), eng.BarStore())
	backtestSvc := service.NewBacktestService(cfg.Backtest, eng.BarStore(), eng.ReportStore())

	// Initialize WebSocket
	InitWebsocket(app, wsManager, marketSvc)

	strategyHandler := NewStrategyHandler(strategySvc)
	tradeHandler := NewTradeHandler(tradingSvc)
	marketHandler := NewMarketHandler(marketSvc)
	signalHandler := NewSignalHandler(eng.Bus())
	backtestHandler := NewBacktestHandler(backtestSvc)

	api := app.Group("/api")

	// Strategy Routes
	api.Post("/strategies", strategyHandler.CreateStrategy)
	api.Get("/strategies", strategyHandler.GetStrategies)
	api.Get("/strategies/classes", strategyHandler.GetClasses)
	api.Post("/strategies/start-all", strategyHandler.StartAll)
	api.Post("/strategies/stop-all", strategyHandler.StopAll)
	api.Get("/strategies/:name", strategyHandler.GetStrategy)
	api.Delete("/strategies/:name", strategyHandler.DeleteStrategy)
	api.Post("/strategies/:name/init", strategyHandler.InitStrategy)
	api.Post("/strategies/:name/start", strategyHandler.StartStrategy)
	api.Post("/strategies/:name/stop", strategyHandler.StopStrategy)
	api.Put("/strategies/:name/params", strategyHandler.UpdateParams)

	// Trade Routes
	api.Post("/trade/order", tradeHandler.InsertOrder)
	api.Post("/trade/order/:ref/cancel", tradeHandler.CancelOrder)
	api.Get("/orders", tradeHandler.GetOrders)
	api.Get("/trades", tradeHandler.GetTrades)
	api.Get("/positions", tradeHandler.GetPositions)

	// Market Routes
	api.Post("/market/subscriptions", marketHandler.Subscribe)
	api.Delete("/market/subscriptions/:symbol", marketHandler.Unsubscribe)
	api.Get("/market/bars", marketHandler.GetBars)

	// Backtest Routes
	api.Post("/backtest", backtestHandler.RunBacktest)
	api.Get("/backtest", backtestHandler.ListReports)
	api.Get("/backtest/:id", backtestHandler.GetReport)

	// Signal Webhook
	api.Post("/signal", signalHandler.ReceiveSignal)
	app.Post("/webhook/signal", signalHandler.ReceiveSignal)

	return app
}
