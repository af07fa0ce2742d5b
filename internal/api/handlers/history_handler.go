package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/postpilot-app/postpilot/internal/repository"
)

type HistoryHandler struct {
	ph repository.PostingHistoryRepository
}

func NewHistoryHandler(ph repository.PostingHistoryRepository) *HistoryHandler {
	return &HistoryHandler{ph: ph}
}

func (h *HistoryHandler) ListHistory(c *fiber.Ctx) error {
	userId := GetUserID(c)

	history, err := h.ph.GetByUserID(c.Context(), userId)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to list posting history",
		})
	}

	return c.Status(fiber.StatusOK).JSON(history)
}
