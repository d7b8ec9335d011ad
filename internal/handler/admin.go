package handler

import (
	"dealerchat-backend/internal/repository"
	"dealerchat-backend/internal/service"

	"github.com/gofiber/fiber/v2"
)

type AdminHandler struct {
	chatRepo      *repository.ChatRepository
	hub           *service.Hub
	retentionDays int
}

func NewAdminHandler(chatRepo *repository.ChatRepository, hub *service.Hub, retentionDays int) *AdminHandler {
	return &AdminHandler{chatRepo: chatRepo, hub: hub, retentionDays: retentionDays}
}

// Stats reports the back-office dashboard counters.
// GET /api/v1/chat/admin/stats
func (h *AdminHandler) Stats(c *fiber.Ctx) error {
	conversations, _ := h.chatRepo.CountConversations(c.Context())
	online := h.hub.OnlineCount()

	return c.JSON(fiber.Map{
		"conversations_total": conversations,
		"sessions_online":     online,
	})
}

// Sweep prunes messages past the retention window.
// POST /api/v1/chat/admin/sweep
func (h *AdminHandler) Sweep(c *fiber.Ctx) error {
	deleted, err := h.chatRepo.DeleteOlderThan(c.Context(), h.retentionDays)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "sweep failed"})
	}
	return c.JSON(fiber.Map{"ok": true, "deleted": deleted})
}
