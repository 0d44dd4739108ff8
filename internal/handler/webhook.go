package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update)
}

// WebhookPath derives the update endpoint from the bot token so the token
// itself never shows up in request logs.
func WebhookPath(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "/webhook/" + hex.EncodeToString(sum[:])[:32]
}

// RegisterWebhook mounts the Telegram update intake at path.
func RegisterWebhook(app *fiber.App, path string, bot UpdateHandler, log zerolog.Logger) {
	app.Post(path, func(c *fiber.Ctx) error {
		var update tgbotapi.Update
		if err := json.Unmarshal(c.Body(), &update); err != nil {
			log.Warn().Err(err).Msg("malformed telegram update")
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid update",
			})
		}

		bot.HandleUpdate(c.UserContext(), update)
		return c.SendStatus(fiber.StatusOK)
	})
}
