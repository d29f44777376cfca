package infra

import (
	"log"
	"sync"

	"github.com/gofiber/contrib/websocket"
)

// WsManager manages WebSocket connections and per-symbol subscriptions.
// 行情按订阅的品种推送，交易回报广播给所有连接。
type WsManager struct {
	clients       map[*websocket.Conn]bool
	subscriptions map[string]map[*websocket.Conn]bool

	mu sync.RWMutex

	Register    chan *websocket.Conn
	Unregister  chan *websocket.Conn
	Subscribe   chan Subscription
	Unsubscribe chan Subscription

	// sendChannels stores a buffered channel for each client.
	// This helps avoid blocking the engine loop if one client is slow.
	sendChannels map[*websocket.Conn]chan interface{}
}

type Subscription struct {
	Conn   *websocket.Conn
	Symbol string
}

func NewWsManager() *WsManager {
	return &WsManager{
		clients:       make(map[*websocket.Conn]bool),
		subscriptions: make(map[string]map[*websocket.Conn]bool),
		sendChannels:  make(map[*websocket.Conn]chan interface{}),
		Register:      make(chan *websocket.Conn),
		Unregister:    make(chan *websocket.Conn),
		Subscribe:     make(chan Subscription),
		Unsubscribe:   make(chan Subscription),
	}
}

func (manager *WsManager) Start() {
	log.Println("Starting WebSocket Manager...")
	for {
		select {
		case conn := <-manager.Register:
			manager.mu.Lock()
			manager.clients[conn] = true

			sendCh := make(chan interface{}, 256)
			manager.sendChannels[conn] = sendCh

			// Dedicated writer goroutine per connection
			go func(conn *websocket.Conn, ch chan interface{}) {
				for msg := range ch {
					if err := conn.WriteJSON(msg); err != nil {
						log.Printf("WS WriteLoop error: %v", err)
						conn.Close()
						return
					}
				}
			}(conn, sendCh)
			manager.mu.Unlock()
			log.Println("New WebSocket client connected")

		case conn := <-manager.Unregister:
			manager.mu.Lock()
			if _, ok := manager.clients[conn]; ok {
				delete(manager.clients, conn)

				if ch, exists := manager.sendChannels[conn]; exists {
					close(ch)
					delete(manager.sendChannels, conn)
				}

				for symbol, clients := range manager.subscriptions {
					delete(clients, conn)
					if len(clients) == 0 {
						delete(manager.subscriptions, symbol)
					}
				}
			}
			manager.mu.Unlock()
			log.Println("WebSocket client disconnected")

		case sub := <-manager.Subscribe:
			manager.mu.Lock()
			if manager.subscriptions[sub.Symbol] == nil {
				manager.subscriptions[sub.Symbol] = make(map[*websocket.Conn]bool)
			}
			manager.subscriptions[sub.Symbol][sub.Conn] = true
			manager.mu.Unlock()
			log.Printf("Client subscribed to %s", sub.Symbol)

		case sub := <-manager.Unsubscribe:
			manager.mu.Lock()
			if clients, ok := manager.subscriptions[sub.Symbol]; ok {
				delete(clients, sub.Conn)
				if len(clients) == 0 {
					delete(manager.subscriptions, sub.Symbol)
				}
			}
			manager.mu.Unlock()
			log.Printf("Client unsubscribed from %s", sub.Symbol)
		}
	}
}

// BroadcastSymbol sends a message to subscribers of one symbol.
func (manager *WsManager) BroadcastSymbol(symbol string, msg interface{}) {
	manager.mu.RLock()
	defer manager.mu.RUnlock()

	for conn := range manager.subscriptions[symbol] {
		if ch, exists := manager.sendChannels[conn]; exists {
			select {
			case ch <- msg:
			default:
				// Buffer full: drop message for this specific slow client
			}
		}
	}
}

// BroadcastToAll implements domain.Notifier for trade and order pushes.
func (manager *WsManager) BroadcastToAll(data interface{}) {
	manager.mu.RLock()
	defer manager.mu.RUnlock()

	for conn := range manager.clients {
		if ch, exists := manager.sendChannels[conn]; exists {
			select {
			case ch <- data:
			default:
			}
		}
	}
}
