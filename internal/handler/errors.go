package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-portal/internal/utils"
)

// ErrorHandler renders errors that escape route handlers, such as unknown
// routes or oversized bodies, in the common response envelope.
func ErrorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	message := "internal server error"

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		status = fiberErr.Code
		message = fiberErr.Message
	}

	return utils.SendError(c, status, message)
}
