package handler

import (
	"errors"

	"dealerchat-backend/internal/middleware"
	"dealerchat-backend/internal/model"
	"dealerchat-backend/internal/service"

	"github.com/gofiber/fiber/v2"
)

type ChatHandler struct {
	chatSvc *service.ChatService
}

func NewChatHandler(chatSvc *service.ChatService) *ChatHandler {
	return &ChatHandler{chatSvc: chatSvc}
}

// Send appends a message over the request/response path. This is the
// fallback for a degraded live channel and the entry point for an admin's
// first message to a user.
// POST /api/v1/chat/messages
func (h *ChatHandler) Send(c *fiber.Ctx) error {
	identity := middleware.IdentityFromCtx(c)

	var req model.SendRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	msg, err := h.chatSvc.Send(c.Context(), identity, req.ReceiverID, req.Body)
	if err != nil {
		return chatError(c, err)
	}
	return c.Status(201).JSON(msg)
}

// History returns a conversation's full message log in timestamp order.
// Users always get their own thread; admins address one by conversation or
// user id.
// GET /api/v1/chat/history?conversationId=...&userId=...
func (h *ChatHandler) History(c *fiber.Ctx) error {
	identity := middleware.IdentityFromCtx(c)

	var (
		msgs []model.Message
		err  error
	)
	if identity.Role == model.RoleUser {
		msgs, err = h.chatSvc.HistoryForUser(c.Context(), identity.ID)
	} else if conversationID := c.Query("conversationId"); conversationID != "" {
		msgs, err = h.chatSvc.History(c.Context(), conversationID)
	} else if userID := c.Query("userId"); userID != "" {
		msgs, err = h.chatSvc.HistoryForUser(c.Context(), userID)
	} else {
		return c.Status(400).JSON(fiber.Map{"error": "conversationId or userId is required"})
	}
	if err != nil {
		return chatError(c, err)
	}

	if msgs == nil {
		msgs = []model.Message{}
	}
	return c.JSON(fiber.Map{"messages": msgs})
}

// MarkRead stamps the counterparty's messages in the conversation as read.
// PUT /api/v1/chat/conversations/:id/read
func (h *ChatHandler) MarkRead(c *fiber.Ctx) error {
	identity := middleware.IdentityFromCtx(c)

	if err := h.chatSvc.MarkRead(c.Context(), c.Params("id"), identity); err != nil {
		return chatError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

// ListConversations returns the back-office directory, freshest first.
// GET /api/v1/chat/conversations
func (h *ChatHandler) ListConversations(c *fiber.Ctx) error {
	convs, err := h.chatSvc.ListConversations(c.Context())
	if err != nil {
		return chatError(c, err)
	}

	if convs == nil {
		convs = []model.Conversation{}
	}
	return c.JSON(fiber.Map{"conversations": convs})
}

// DeleteConversation removes a thread and everything in it. One-shot: a
// repeat call gets 404.
// DELETE /api/v1/chat/conversations/:id
func (h *ChatHandler) DeleteConversation(c *fiber.Ctx) error {
	if err := h.chatSvc.DeleteConversation(c.Context(), c.Params("id")); err != nil {
		return chatError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func chatError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return c.Status(404).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, service.ErrEmptyBody),
		errors.Is(err, service.ErrNoRecipient),
		errors.Is(err, service.ErrInvalidRole):
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	default:
		return c.Status(500).JSON(fiber.Map{"error": "internal error"})
	}
}
