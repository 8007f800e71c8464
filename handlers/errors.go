package handlers

import (
	"errors"
	"strings"

	"github.com/fenilmodi00/vin-backend/shared"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/sirupsen/logrus"
)

var validate = validator.New()

// bindAndValidate parses the request body into dst and validates it.
func bindAndValidate(c *fiber.Ctx, dst interface{}) error {
	if err := c.BodyParser(dst); err != nil {
		return shared.InvalidInput("HTTP", "BodyParser", "invalid request body")
	}
	if err := validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			fields := make([]string, 0, len(ve))
			for _, fe := range ve {
				fields = append(fields, fe.Field()+" "+fe.Tag())
			}
			return shared.InvalidInput("HTTP", "Validate", "validation failed: "+strings.Join(fields, ", "))
		}
		return shared.InvalidInput("HTTP", "Validate", err.Error())
	}
	return nil
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, shared.ErrInvalidInput):
		return fiber.StatusBadRequest
	case errors.Is(err, shared.ErrDuplicateVIN), errors.Is(err, shared.ErrEnrollmentPending):
		return fiber.StatusConflict
	case errors.Is(err, shared.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, shared.ErrLookupFailed):
		return fiber.StatusBadGateway
	case errors.Is(err, shared.ErrQueueUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// ErrorHandler centralizes error responses and keeps messages sanitized.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{
			"success": false,
			"error":   fe.Message,
			"code":    strings.ToUpper(strings.ReplaceAll(utils.StatusMessage(fe.Code), " ", "_")),
		})
	}

	var se *shared.ServiceError
	if !errors.As(err, &se) {
		logrus.WithFields(logrus.Fields{
			"method": c.Method(),
			"path":   c.Path(),
		}).WithError(err).Error("Request failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "internal server error",
			"code":    shared.ErrorCode(err),
		})
	}

	status := errorStatus(err)
	if status >= fiber.StatusInternalServerError {
		se.LogError()
	}

	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   se.Message,
		"code":    shared.ErrorCode(err),
	})
}
