package service

import (
	"encoding/json"
	"sync"

	"dealerchat-backend/internal/metrics"
	"dealerchat-backend/internal/model"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"
)

// WSClient is one joined live-channel session. Identity is set by the join
// handshake; the hub routes by it.
type WSClient struct {
	Conn     *websocket.Conn
	Identity model.Identity
	Send     chan []byte
}

// Hub tracks joined sessions and fans events out by identity. Users receive
// only their own topic; admins receive every conversation's events.
type Hub struct {
	clients    map[*WSClient]bool
	register   chan *WSClient
	unregister chan *WSClient
	done       chan struct{}
	mu         sync.RWMutex
	log        zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*WSClient]bool),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		done:       make(chan struct{}),
		log:        log,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			metrics.SessionsOnline.Set(float64(n))
			h.log.Info().Str("identity", client.Identity.ID).Str("role", string(client.Identity.Role)).Int("online", n).Msg("session joined")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.SessionsOnline.Set(float64(n))
			h.log.Info().Str("identity", client.Identity.ID).Int("online", n).Msg("session left")

		case <-h.done:
			return
		}
	}
}

func (h *Hub) Shutdown() {
	close(h.done)
}

func (h *Hub) Register(client *WSClient) {
	h.register <- client
}

func (h *Hub) Unregister(client *WSClient) {
	h.unregister <- client
}

// SendToUser delivers an event to every session joined as the given user.
func (h *Hub) SendToUser(userID string, event *model.WSEvent) {
	h.send(event, func(c *WSClient) bool {
		return c.Identity.Role == model.RoleUser && c.Identity.ID == userID
	})
}

// SendToAdmins delivers an event to every admin session.
func (h *Hub) SendToAdmins(event *model.WSEvent) {
	h.send(event, func(c *WSClient) bool {
		return c.Identity.Role == model.RoleAdmin
	})
}

func (h *Hub) send(event *model.WSEvent, match func(*WSClient) bool) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if !match(client) {
			continue
		}
		select {
		case client.Send <- data:
		default:
			// Slow consumer: drop rather than block the hub. The client
			// reconciles from history on its next fetch.
		}
	}
}

func (h *Hub) OnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
