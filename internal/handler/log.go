package handler

import (
	"github.com/gofiber/fiber/v2"
)

func (h *Handler) HandleGetLogs(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	pageSize := c.QueryInt("page_size", 10)

	logs, total, err := h.logs.List(c.UserContext(), page, pageSize)
	if err != nil {
		return h.internalError(c, "operation logs", err)
	}

	return c.JSON(fiber.Map{
		"logs":  logs,
		"total": total,
		"page":  page,
	})
}
