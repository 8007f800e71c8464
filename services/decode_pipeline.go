package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/fenilmodi00/vin-backend/models"
	"github.com/fenilmodi00/vin-backend/queue"
	"github.com/fenilmodi00/vin-backend/shared"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const decodePipelineTag = "DecodePipeline"

type PipelineOutcome string

const (
	PipelineSkipped      PipelineOutcome = "skipped"
	PipelineInvalid      PipelineOutcome = "invalid"
	PipelineUndecodable  PipelineOutcome = "undecodable"
	PipelineEnrolled     PipelineOutcome = "enrolled"
	PipelineDuplicate    PipelineOutcome = "duplicate"
	PipelineDeadLettered PipelineOutcome = "dead_lettered"
)

// PipelineResult describes what happened to one VIN.
type PipelineResult struct {
	VIN          string          `json:"vin"`
	Outcome      PipelineOutcome `json:"outcome"`
	EnrollmentID *uuid.UUID      `json:"enrollmentId,omitempty"`
	Attempts     int             `json:"attempts,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Enroller is the part of EnrollmentService the pipeline needs.
type Enroller interface {
	Enroll(ctx context.Context, vin string, details models.DecodedDetails) (uuid.UUID, error)
}

// DecodePipeline turns raw VINs into enrollments. Each message moves through
// pending, retrying(n) and then either a settled outcome or the dead-letter
// topic. Errors are returned only when the message must be redelivered.
type DecodePipeline struct {
	Decoder         Decoder
	Enrollments     Enroller
	DeadLetters     queue.Publisher
	DeadLetterTopic string
	MaxAttempts     int
	RetryBackoff    time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDecodePipeline(decoder Decoder, enrollments Enroller, deadLetters queue.Publisher, deadLetterTopic string, maxAttempts int, retryBackoff time.Duration) *DecodePipeline {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &DecodePipeline{
		Decoder:         decoder,
		Enrollments:     enrollments,
		DeadLetters:     deadLetters,
		DeadLetterTopic: deadLetterTopic,
		MaxAttempts:     maxAttempts,
		RetryBackoff:    retryBackoff,
		now:             time.Now,
		sleep:           shared.SleepContext,
	}
}

// Handle implements queue.Handler.
func (p *DecodePipeline) Handle(ctx context.Context, msg *queue.Message) error {
	result, err := p.ProcessVIN(ctx, string(msg.Value))
	if err != nil {
		shared.PipelineMessages.WithLabelValues("redeliver").Inc()
		return err
	}
	shared.PipelineMessages.WithLabelValues(string(result.Outcome)).Inc()
	return nil
}

// ProcessVIN decodes and enrolls one VIN.
func (p *DecodePipeline) ProcessVIN(ctx context.Context, raw string) (PipelineResult, error) {
	vin := models.NormalizeVIN(raw)
	result := PipelineResult{VIN: vin}

	logger := logrus.WithFields(logrus.Fields{
		"component": decodePipelineTag,
		"vin":       vin,
	})

	if vin == "" || strings.EqualFold(vin, "VIN") {
		result.Outcome = PipelineSkipped
		return result, nil
	}
	if err := models.ValidateVIN(vin); err != nil {
		logger.WithError(err).Warn("Skipping malformed VIN")
		result.Outcome = PipelineInvalid
		result.Error = err.Error()
		return result, nil
	}

	decoded, attempts, lastErr, err := p.decodeWithRetry(ctx, vin)
	result.Attempts = attempts
	if err != nil {
		return result, err
	}

	if lastErr != nil {
		if err := p.deadLetter(ctx, vin, attempts, lastErr); err != nil {
			return result, err
		}
		result.Outcome = PipelineDeadLettered
		result.Error = lastErr.Error()
		return result, nil
	}

	if decoded.Outcome == OutcomeUndecodable {
		result.Outcome = PipelineUndecodable
		return result, nil
	}

	id, err := p.Enrollments.Enroll(ctx, vin, decoded.Details)
	switch {
	case err == nil:
		result.Outcome = PipelineEnrolled
		result.EnrollmentID = &id
		logger.WithField("enrollment_id", id).Info("VIN decoded and enrolled")
		return result, nil
	case errors.Is(err, shared.ErrDuplicateVIN):
		logger.Info("VIN already enrolled, skipping")
		result.Outcome = PipelineDuplicate
		result.Error = err.Error()
		return result, nil
	case errors.Is(err, shared.ErrInvalidInput):
		logger.WithError(err).Warn("Decoded details rejected by enrollment")
		result.Outcome = PipelineInvalid
		result.Error = err.Error()
		return result, nil
	default:
		logger.WithError(err).Error("Enrollment failed, message will be redelivered")
		return result, err
	}
}

// decodeWithRetry returns the decode result, the attempts made, and the last
// lookup failure when every attempt failed. err is set only for failures that
// are not lookup failures, such as cancellation.
func (p *DecodePipeline) decodeWithRetry(ctx context.Context, vin string) (DecodeResult, int, error, error) {
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		decoded, err := p.Decoder.Decode(ctx, vin)
		if err == nil {
			return decoded, attempt, nil, nil
		}
		if !errors.Is(err, shared.ErrLookupFailed) {
			return DecodeResult{}, attempt, nil, err
		}

		lastErr = err
		if attempt == p.MaxAttempts {
			break
		}

		delay := shared.RetryBackoff(p.RetryBackoff, attempt)
		shared.PipelineRetries.Inc()
		logrus.WithFields(logrus.Fields{
			"component": decodePipelineTag,
			"vin":       vin,
			"attempt":   attempt,
			"retry_in":  delay,
		}).WithError(err).Warn("Registry lookup failed, retrying")

		if err := p.sleep(ctx, delay); err != nil {
			return DecodeResult{}, attempt, nil, err
		}
	}

	return DecodeResult{}, p.MaxAttempts, lastErr, nil
}

func (p *DecodePipeline) deadLetter(ctx context.Context, vin string, attempts int, lastErr error) error {
	letter := models.DeadLetter{
		VIN:        vin,
		ErrorClass: models.ErrorClassLookupFailed,
		LastError:  lastErr.Error(),
		Attempts:   attempts,
		FailedAt:   p.now().UTC(),
	}
	payload, err := json.Marshal(letter)
	if err != nil {
		return err
	}

	err = p.DeadLetters.Publish(ctx, &queue.Message{
		Topic:   p.DeadLetterTopic,
		Key:     []byte(vin),
		Value:   payload,
		Headers: map[string]string{"error_class": letter.ErrorClass},
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"component": decodePipelineTag,
			"vin":       vin,
		}).WithError(err).Error("Failed to publish dead letter, message will be redelivered")
		return err
	}

	shared.DeadLetters.Inc()
	logrus.WithFields(logrus.Fields{
		"component": decodePipelineTag,
		"vin":       vin,
		"attempts":  attempts,
	}).WithError(lastErr).Error("VIN dead-lettered after exhausting registry lookups")
	return nil
}
