package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// PromotionRunner runs one status promotion pass.
type PromotionRunner interface {
	Run(ctx context.Context) (int64, error)
}

type AdminHandler struct {
	Promoter    PromotionRunner
	Enrollments EnrollmentAPI
}

func NewAdminHandler(promoter PromotionRunner, enrollments EnrollmentAPI) *AdminHandler {
	return &AdminHandler{
		Promoter:    promoter,
		Enrollments: enrollments,
	}
}

// RunPromotions manually triggers the status promotion job
func (h *AdminHandler) RunPromotions(c *fiber.Ctx) error {
	logrus.Info("Manual status promotion triggered via admin endpoint")

	startTime := time.Now()
	promoted, err := h.Promoter.Run(c.UserContext())
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":   true,
		"promoted":  promoted,
		"duration":  time.Since(startTime).String(),
		"timestamp": time.Now(),
	})
}

// FailEnrollment moves an in_progress enrollment to failed so its VIN can be enrolled again.
func (h *AdminHandler) FailEnrollment(c *fiber.Ctx) error {
	id, err := parseEnrollmentID(c)
	if err != nil {
		return err
	}

	if err := h.Enrollments.Fail(c.UserContext(), id); err != nil {
		return err
	}

	logrus.WithField("enrollment_id", id).Info("Enrollment failed via admin endpoint")
	return c.JSON(fiber.Map{
		"success":      true,
		"enrollmentId": id,
		"status":       "failed",
	})
}
