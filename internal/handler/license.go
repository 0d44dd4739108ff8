package handler

import (
	"context"
	"errors"
	"strings"

	"license-gate/internal/database"
	"license-gate/internal/model"
	"license-gate/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

type LicenseService interface {
	Issue(ctx context.Context, actor, email string, meta map[string]interface{}) (*service.IssuedLicense, error)
	Lookup(ctx context.Context, code string) (*model.License, error)
	List(ctx context.Context, limit int) ([]model.License, error)
	Statistics(ctx context.Context) (*model.LicenseStatistics, error)
}

type OperationLogReader interface {
	List(ctx context.Context, page, pageSize int) ([]model.OperationLog, int64, error)
}

type Handler struct {
	licenses LicenseService
	logs     OperationLogReader
	log      zerolog.Logger
}

func New(licenses LicenseService, logs OperationLogReader, log zerolog.Logger) *Handler {
	return &Handler{licenses: licenses, logs: logs, log: log}
}

type CreateLicenseInput struct {
	Email string                 `json:"email"`
	Meta  map[string]interface{} `json:"meta"`
}

type LookupLicenseInput struct {
	Code string `json:"code"`
}

func HandleHealth(c *fiber.Ctx) error {
	return c.SendString("ok")
}

// HandleCreateLicense issues a new license. The plaintext code is only ever in this response.
func (h *Handler) HandleCreateLicense(c *fiber.Ctx) error {
	input := new(CreateLicenseInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	issued, err := h.licenses.Issue(c.UserContext(), actorOf(c), input.Email, input.Meta)
	switch {
	case errors.Is(err, service.ErrInvalidOwner):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "email required",
		})
	case errors.Is(err, service.ErrInvalidMeta):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "meta must be a JSON object",
		})
	case err != nil:
		return h.internalError(c, "create license", err)
	}

	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.JSON(fiber.Map{
		"status": "ok",
		"id":     issued.ID,
		"email":  issued.Email,
		"code":   issued.Code,
	})
}

// HandleListLicenses lists the newest licenses; limit is clamped into [1, 200].
func (h *Handler) HandleListLicenses(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", database.DefaultListLimit)

	licenses, err := h.licenses.List(c.UserContext(), database.ClampLimit(limit))
	if err != nil {
		return h.internalError(c, "list licenses", err)
	}
	if licenses == nil {
		licenses = []model.License{}
	}

	return c.JSON(fiber.Map{
		"items": licenses,
	})
}

// HandleLookupLicense resolves a plaintext code to its record for support requests.
func (h *Handler) HandleLookupLicense(c *fiber.Ctx) error {
	input := new(LookupLicenseInput)
	if err := c.BodyParser(input); err != nil || strings.TrimSpace(input.Code) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "code required",
		})
	}

	lic, err := h.licenses.Lookup(c.UserContext(), input.Code)
	if err != nil {
		return h.internalError(c, "lookup license", err)
	}
	if lic == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "license not found",
		})
	}

	return c.JSON(lic)
}

func (h *Handler) internalError(c *fiber.Ctx, op string, err error) error {
	ev := h.log.Error().Err(err).Str("op", op)
	if errors.Is(err, database.ErrStore) {
		ev = ev.Bool("store", true)
	}
	ev.Msg("request failed")

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "internal error",
	})
}

func actorOf(c *fiber.Ctx) string {
	if actor, ok := c.Locals("actor").(string); ok && actor != "" {
		return actor
	}
	return "unknown"
}
