package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"hqtrade.com/internal/api"
	"hqtrade.com/internal/config"
	"hqtrade.com/internal/engine"
	"hqtrade.com/internal/infra"
	_ "hqtrade.com/internal/strategies" // 注册内置策略
)

func main() {
	// 1. 加载配置
	cfg := config.LoadConfig()

	// 2. 初始化基础设施
	// Postgres
	pg, err := infra.NewPostgresClient(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Redis
	rdb := infra.NewRedisClient(cfg.Redis)
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}

	// 3. 初始化 WebSocket 管理器
	wsHub := infra.NewWsManager()

	// 4. 初始化引擎
	eng := engine.NewEngine(cfg, pg, rdb, wsHub)

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}

	// 5. 设置 Fiber 服务器
	app := api.NewServer(cfg, eng, wsHub)

	// 6. 优雅关停：先停 HTTP，再停引擎（停策略 → 断网关 → 排干总线）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Println("Shutdown signal received")
		if err := app.Shutdown(); err != nil {
			log.Printf("Server shutdown: %v", err)
		}
	}()

	// 7. 启动服务器
	log.Printf("Server starting on port %s", cfg.Server.Port)
	if err := app.Listen(cfg.Server.Port); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}

	eng.Stop()
}
