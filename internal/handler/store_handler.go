package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-portal/internal/dto"
	"github.com/noah-isme/gema-portal/internal/service"
	"github.com/noah-isme/gema-portal/internal/store"
	"github.com/noah-isme/gema-portal/internal/utils"
)

// StoreHandler serves the whole-table read and the full-collection save.
type StoreHandler struct {
	service   service.StoreService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewStoreHandler constructs a StoreHandler.
func NewStoreHandler(service service.StoreService, validator *validator.Validate, logger zerolog.Logger) *StoreHandler {
	return &StoreHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "store_handler").Logger(),
	}
}

// Register binds GET /db and POST /save. Guards run in front of save only.
func (h *StoreHandler) Register(router fiber.Router, guards ...fiber.Handler) {
	router.Get("/db", h.readAll)

	saveChain := append(append([]fiber.Handler{}, guards...), h.save)
	router.Post("/save", saveChain...)
}

func (h *StoreHandler) readAll(c *fiber.Ctx) error {
	snapshot, err := h.service.Snapshot(requestContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(snapshot)
}

func (h *StoreHandler) save(c *fiber.Ctx) error {
	var payload dto.SaveRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendStoreError(c, fiber.StatusBadRequest, "Invalid request body")
	}

	if err := h.service.Save(requestContext(c), actorFromContext(c), payload); err != nil {
		return h.handleError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(dto.SaveResponse{Success: true})
}

func (h *StoreHandler) handleError(c *fiber.Ctx, err error) error {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.Is(err, store.ErrInvalidKey):
		return utils.SendStoreError(c, fiber.StatusBadRequest, "Invalid key")
	case errors.Is(err, store.ErrInvalidRecords):
		return utils.SendStoreError(c, fiber.StatusBadRequest, "Data must be an array")
	case errors.As(err, &validationErrs):
		for _, fieldErr := range validationErrs {
			if fieldErr.Field() == "Key" {
				return utils.SendStoreError(c, fiber.StatusBadRequest, "Invalid key")
			}
		}
		return utils.SendStoreError(c, fiber.StatusBadRequest, "Data must be an array")
	case errors.Is(err, context.Canceled):
		return utils.SendStoreError(c, fiber.StatusServiceUnavailable, "Request cancelled")
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("storage unavailable")
		return utils.SendStoreError(c, fiber.StatusServiceUnavailable, "Storage unavailable")
	}
}
