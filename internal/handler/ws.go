package handler

import (
	"context"
	"encoding/json"
	"time"

	"dealerchat-backend/internal/middleware"
	"dealerchat-backend/internal/model"
	"dealerchat-backend/internal/service"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

const readDeadline = 60 * time.Second

type WSHandler struct {
	hub       *service.Hub
	chatSvc   *service.ChatService
	jwtSecret string
	log       zerolog.Logger
}

func NewWSHandler(hub *service.Hub, chatSvc *service.ChatService, jwtSecret string, log zerolog.Logger) *WSHandler {
	return &WSHandler{hub: hub, chatSvc: chatSvc, jwtSecret: jwtSecret, log: log}
}

func (h *WSHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		// Validate JWT from query param
		token := c.Query("token")
		if token == "" {
			return c.Status(401).JSON(fiber.Map{"error": "token required"})
		}

		identity, err := middleware.ParseIdentity(token, h.jwtSecret)
		if err != nil {
			return c.Status(401).JSON(fiber.Map{"error": "invalid token"})
		}

		c.Locals("identity", identity)
		return websocket.New(h.handleConnection)(c)
	}
	return fiber.ErrUpgradeRequired
}

func (h *WSHandler) handleConnection(c *websocket.Conn) {
	identity, _ := c.Locals("identity").(model.Identity)

	client := &service.WSClient{
		Conn:     c,
		Identity: identity,
		Send:     make(chan []byte, 256),
	}

	// Writer goroutine
	go func() {
		defer c.Close()
		for msg := range client.Send {
			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// The client must complete the join handshake before any message
	// traffic is accepted; until then nothing is routed to this session.
	joined := false
	defer func() {
		if joined {
			h.hub.Unregister(client)
		} else {
			close(client.Send)
		}
	}()

	c.SetReadDeadline(time.Now().Add(readDeadline))
	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			return
		}
		c.SetReadDeadline(time.Now().Add(readDeadline))

		var event model.WSEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			continue
		}

		switch event.Type {
		case model.EventPing:
			h.reply(client, model.MustEvent(model.EventPong, nil))

		case model.EventJoin:
			var join model.WSJoin
			if err := json.Unmarshal(event.Data, &join); err != nil || join.Identity != identity {
				h.reply(client, model.MustEvent(model.EventConnectionError, model.WSError{Reason: "join identity mismatch"}))
				return
			}
			if !joined {
				joined = true
				h.hub.Register(client)
			}
			h.reply(client, model.MustEvent(model.EventConnected, identity))

		case model.EventSend:
			if !joined {
				h.reply(client, model.MustEvent(model.EventConnectionError, model.WSError{Reason: "join required before sending"}))
				continue
			}
			var send model.WSSend
			if err := json.Unmarshal(event.Data, &send); err != nil {
				h.reply(client, model.MustEvent(model.EventConnectionError, model.WSError{Reason: "malformed send event"}))
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_, err := h.chatSvc.Send(ctx, identity, send.ConversationTargetID, send.Body)
			cancel()
			if err != nil {
				h.reply(client, model.MustEvent(model.EventConnectionError, model.WSError{Reason: err.Error()}))
			}

		default:
			h.log.Debug().Str("type", event.Type).Str("identity", identity.ID).Msg("unknown ws event")
		}
	}
}

func (h *WSHandler) reply(client *service.WSClient, event *model.WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}
