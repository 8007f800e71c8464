package handlers

import (
	"context"

	"github.com/fenilmodi00/vin-backend/models"
	"github.com/fenilmodi00/vin-backend/shared"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// EnrollmentAPI is the enrollment service as seen by HTTP.
type EnrollmentAPI interface {
	Enroll(ctx context.Context, vin string, details models.DecodedDetails) (uuid.UUID, error)
	Status(ctx context.Context, id uuid.UUID) (models.EnrollmentStatus, error)
	Lookup(ctx context.Context, vin string) (*models.VehicleRecord, error)
	Fail(ctx context.Context, id uuid.UUID) error
}

type EnrollmentHandler struct {
	Enrollments EnrollmentAPI
}

func NewEnrollmentHandler(enrollments EnrollmentAPI) *EnrollmentHandler {
	return &EnrollmentHandler{Enrollments: enrollments}
}

type enrollRequest struct {
	VIN            string                `json:"vin" validate:"required"`
	DecodedDetails models.DecodedDetails `json:"decodedDetails" validate:"required,min=1"`
}

func (h *EnrollmentHandler) Enroll(c *fiber.Ctx) error {
	var req enrollRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	id, err := h.Enrollments.Enroll(c.UserContext(), req.VIN, req.DecodedDetails)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success":      true,
		"enrollmentId": id,
	})
}

func (h *EnrollmentHandler) GetStatus(c *fiber.Ctx) error {
	id, err := parseEnrollmentID(c)
	if err != nil {
		return err
	}

	status, err := h.Enrollments.Status(c.UserContext(), id)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":      true,
		"enrollmentId": id,
		"status":       status,
	})
}

func (h *EnrollmentHandler) GetVehicle(c *fiber.Ctx) error {
	record, err := h.Enrollments.Lookup(c.UserContext(), c.Params("vin"))
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":        true,
		"vin":            record.VIN,
		"decodedDetails": record.DecodedDetails,
	})
}

func parseEnrollmentID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("enrollmentId"))
	if err != nil {
		return uuid.Nil, shared.InvalidInput("HTTP", "ParseEnrollmentID", "enrollmentId must be a UUID")
	}
	return id, nil
}
