package handler

import (
	"github.com/gofiber/fiber/v2"
)

// HandleLicenseStatistics returns issued / redeemed counts for the admin dashboard.
func (h *Handler) HandleLicenseStatistics(c *fiber.Ctx) error {
	stats, err := h.licenses.Statistics(c.UserContext())
	if err != nil {
		return h.internalError(c, "license statistics", err)
	}

	return c.JSON(fiber.Map{
		"statistics":      stats,
		"redemption_rate": stats.GetRedemptionRate(),
	})
}
