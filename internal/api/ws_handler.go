package api

import (
	"context"
	"log"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"hqtrade.com/internal/domain"
	"hqtrade.com/internal/infra"
)

// WsRequest 客户端订阅指令
type WsRequest struct {
	Action string `json:"Action"`
	Symbol string `json:"Symbol"`
}

// InitWebsocket 注册 /ws 路由
// 客户端通过 subscribe/unsubscribe 控制行情推送，交易回报全员广播。
func InitWebsocket(app *fiber.App, wsManager *infra.WsManager, marketSvc domain.MarketService) {
	// Middleware to force upgrade
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws", websocket.New(func(c *websocket.Conn) {
		log.Println("New WS connection")

		wsManager.Register <- c

		localSubs := make(map[string]bool)

		defer func() {
			wsManager.Unregister <- c
		}()

		// Read Loop
		var msg WsRequest
		for {
			if err := c.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Println("ws read error:", err)
				}
				break
			}

			switch msg.Action {
			case "subscribe":
				wsManager.Subscribe <- infra.Subscription{Conn: c, Symbol: msg.Symbol}
				if !localSubs[msg.Symbol] {
					localSubs[msg.Symbol] = true
					// 向网关补订，已订阅的品种网关侧是幂等的
					if err := marketSvc.Subscribe(context.Background(), msg.Symbol); err != nil {
						log.Printf("WS: Failed to subscribe %s: %v", msg.Symbol, err)
					}
				}
			case "unsubscribe":
				wsManager.Unsubscribe <- infra.Subscription{Conn: c, Symbol: msg.Symbol}
				delete(localSubs, msg.Symbol)
			default:
				log.Println("Unexpected type:", msg.Action)
			}
		}
	}))
}
