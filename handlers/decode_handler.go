package handlers

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/fenilmodi00/vin-backend/queue"
	"github.com/fenilmodi00/vin-backend/services"
	"github.com/fenilmodi00/vin-backend/shared"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const maxDecodeBatch = 100

// VINProcessor decodes and enrolls a single VIN.
type VINProcessor interface {
	ProcessVIN(ctx context.Context, raw string) (services.PipelineResult, error)
}

// DecodeHandler exposes the pipeline synchronously and feeds the queue from
// CSV uploads.
type DecodeHandler struct {
	Pipeline  VINProcessor
	Publisher queue.Publisher
	Topic     string
}

func NewDecodeHandler(pipeline VINProcessor, publisher queue.Publisher, topic string) *DecodeHandler {
	return &DecodeHandler{
		Pipeline:  pipeline,
		Publisher: publisher,
		Topic:     topic,
	}
}

type decodeRequest struct {
	VINs []string `json:"vins" validate:"required,min=1,max=100"`
}

// Decode runs each VIN through the pipeline in order and reports per-VIN outcomes.
func (h *DecodeHandler) Decode(c *fiber.Ctx) error {
	var req decodeRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	results := make([]services.PipelineResult, 0, len(req.VINs))
	for _, vin := range req.VINs {
		result, err := h.Pipeline.ProcessVIN(c.UserContext(), vin)
		if err != nil {
			return err
		}
		if result.Outcome == services.PipelineSkipped {
			continue
		}
		results = append(results, result)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"results": results,
		"count":   len(results),
	})
}

// Upload reads the VIN column of a CSV file and publishes one message per row.
func (h *DecodeHandler) Upload(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return shared.InvalidInput("DecodeHandler", "Upload", "no file uploaded")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return shared.InvalidInput("DecodeHandler", "Upload", "uploaded file cannot be read")
	}
	defer file.Close()

	vins, err := readVINColumn(file)
	if err != nil {
		return err
	}

	ctx := c.UserContext()
	for _, vin := range vins {
		err := h.Publisher.Publish(ctx, &queue.Message{
			Topic: h.Topic,
			Value: []byte(vin),
		})
		if err != nil {
			return shared.WrapError(err, shared.ErrQueueUnavailable, shared.ErrorCategoryQueue,
				"QUEUE_UNAVAILABLE", "DecodeHandler", "Upload", true)
		}
	}

	logrus.WithFields(logrus.Fields{
		"file":   fileHeader.Filename,
		"queued": len(vins),
		"topic":  h.Topic,
	}).Info("VIN file queued for decoding")

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success": true,
		"queued":  len(vins),
	})
}

// readVINColumn returns the non-blank values of the header column named VIN.
func readVINColumn(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, shared.InvalidInput("DecodeHandler", "Upload", "file is empty")
	}
	if err != nil {
		return nil, shared.InvalidInput("DecodeHandler", "Upload", "malformed CSV: "+err.Error())
	}

	column := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")), "VIN") {
			column = i
			break
		}
	}
	if column < 0 {
		return nil, shared.InvalidInput("DecodeHandler", "Upload", "CSV has no VIN column")
	}

	var vins []string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, shared.InvalidInput("DecodeHandler", "Upload", "malformed CSV: "+err.Error())
		}
		if column >= len(record) {
			continue
		}
		if vin := strings.TrimSpace(record[column]); vin != "" {
			vins = append(vins, vin)
		}
	}
	return vins, nil
}
