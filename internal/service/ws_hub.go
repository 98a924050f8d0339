package service

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"perpbot/internal/model"
	"perpbot/pkg/logger"
	"perpbot/pkg/redis"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsSendBuffer = 256
)

// WSClient is a dashboard connection following bot events.
// An empty BotID receives every bot.
type WSClient struct {
	hub   *WSHub
	conn  *websocket.Conn
	BotID string
	send  chan []byte
}

// WSHub fans lifecycle events out to WebSocket clients
type WSHub struct {
	clients    map[*WSClient]bool
	register   chan *WSClient
	unregister chan *WSClient
	broadcast  chan wsFrame
	done       chan struct{}
	mu         sync.RWMutex

	log *logger.Logger
}

type wsFrame struct {
	botID string
	data  []byte
}

func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		broadcast:  make(chan wsFrame, 64),
		done:       make(chan struct{}),
		log:        logger.GetLogger().WithField("component", "ws_hub"),
	}
}

// Run serves registrations and broadcasts until ctx is done
func (h *WSHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Debugf("WS client registered (bot=%q)", client.BotID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case frame := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if client.BotID != "" && client.BotID != frame.botID {
					continue
				}
				select {
				case client.send <- frame.data:
				default:
					// slow reader
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount returns the number of connected clients
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues ev for every interested client. It never blocks the caller.
func (h *WSHub) Broadcast(ev model.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Errorf("Failed to marshal WS event: %v", err)
		return
	}
	select {
	case h.broadcast <- wsFrame{botID: ev.BotID, data: data}:
	case <-h.done:
	default:
		h.log.Warnf("WS broadcast queue full, dropping %s", ev.Type)
	}
}

// StartPubSubListener bridges the redis event channel to WebSocket clients
func (h *WSHub) StartPubSubListener(ctx context.Context, redisClient *redis.Client) {
	pubsub := redisClient.Subscribe(ctx, redis.ChannelBotEvents)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev model.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				h.log.Warnf("Dropping malformed event payload: %v", err)
				continue
			}
			h.Broadcast(ev)
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the control API has no browser sessions to protect
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS handles GET /api/v1/ws?bot_id=
func (h *WSHub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Errorf("Failed to upgrade websocket: %v", err)
		return
	}

	client := &WSClient{
		hub:   h,
		conn:  conn,
		BotID: c.Query("bot_id"),
		send:  make(chan []byte, wsSendBuffer),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump only services control frames
func (c *WSClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warnf("WS read error: %v", err)
			}
			return
		}
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
