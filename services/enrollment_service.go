package services

import (
	"context"
	"errors"
	"time"

	"github.com/fenilmodi00/vin-backend/models"
	"github.com/fenilmodi00/vin-backend/shared"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	enrollmentServiceTag = "EnrollmentService"
	maxIDAttempts        = 3
)

// EnrollmentStore is the durable record of enrollment attempts. Lookups
// return (nil, nil) when nothing matches.
type EnrollmentStore interface {
	Insert(ctx context.Context, enrollment *models.Enrollment) error
	FindSucceededByVIN(ctx context.Context, vin string) (*models.Enrollment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Enrollment, error)
	LatestByVIN(ctx context.Context, vin string) (*models.Enrollment, error)
	PromoteEligible(ctx context.Context, cutoff time.Time) (int64, error)
	MarkFailed(ctx context.Context, id uuid.UUID) (bool, error)
}

// EnrollmentCache is advisory: a miss is always valid and errors are never
// fatal to the caller.
type EnrollmentCache interface {
	GetByVIN(ctx context.Context, vin string) (*models.VehicleRecord, error)
	GetStatus(ctx context.Context, id uuid.UUID) (models.EnrollmentStatus, bool, error)
	PutVehicle(ctx context.Context, record *models.VehicleRecord, ttl time.Duration) error
	PutStatus(ctx context.Context, id uuid.UUID, status models.EnrollmentStatus, ttl time.Duration) error
	InvalidateAll(ctx context.Context) error
}

// EnrollmentService owns enroll, status and lookup. The store arbitrates VIN
// uniqueness; the cache only short-circuits reads.
type EnrollmentService struct {
	Store    EnrollmentStore
	Cache    EnrollmentCache
	CacheTTL time.Duration

	now   func() time.Time
	newID func() uuid.UUID
}

func NewEnrollmentService(store EnrollmentStore, cache EnrollmentCache, cacheTTL time.Duration) *EnrollmentService {
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	return &EnrollmentService{
		Store:    store,
		Cache:    cache,
		CacheTTL: cacheTTL,
		now:      time.Now,
		newID:    uuid.New,
	}
}

// Enroll records a new in_progress enrollment for vin and returns its id.
func (s *EnrollmentService) Enroll(ctx context.Context, vin string, details models.DecodedDetails) (uuid.UUID, error) {
	vin = models.NormalizeVIN(vin)
	if err := models.ValidateVIN(vin); err != nil {
		return uuid.Nil, shared.InvalidInput(enrollmentServiceTag, "Enroll", err.Error())
	}
	if err := details.Validate(); err != nil {
		return uuid.Nil, shared.InvalidInput(enrollmentServiceTag, "Enroll", err.Error())
	}

	logger := logrus.WithFields(logrus.Fields{
		"component": enrollmentServiceTag,
		"vin":       vin,
	})

	if record, err := s.Cache.GetByVIN(ctx, vin); err != nil {
		s.logCacheError("GetByVIN", err)
	} else if record != nil {
		shared.CacheLookups.WithLabelValues("vehicle", "hit").Inc()
		return uuid.Nil, shared.DuplicateVIN(enrollmentServiceTag, "Enroll", vin)
	}

	existing, err := s.Store.FindSucceededByVIN(ctx, vin)
	if err != nil {
		return uuid.Nil, err
	}
	if existing != nil {
		s.putVehicle(ctx, existing)
		return uuid.Nil, shared.DuplicateVIN(enrollmentServiceTag, "Enroll", vin)
	}

	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		enrollment := &models.Enrollment{
			ID:             s.newID(),
			VIN:            vin,
			DecodedDetails: details.Clone(),
			Status:         models.StatusInProgress,
			CreatedAt:      s.now().UTC(),
		}

		err := s.Store.Insert(ctx, enrollment)
		switch {
		case err == nil:
			shared.EnrollmentsCreated.Inc()
			if cacheErr := s.Cache.PutStatus(ctx, enrollment.ID, models.StatusInProgress, s.CacheTTL); cacheErr != nil {
				s.logCacheError("PutStatus", cacheErr)
			}
			logger.WithField("enrollment_id", enrollment.ID).Info("Enrollment created")
			return enrollment.ID, nil
		case errors.Is(err, shared.ErrDuplicateKey):
			logger.WithField("attempt", attempt).Warn("Generated enrollment id collided, regenerating")
			continue
		case errors.Is(err, shared.ErrDuplicateVIN):
			return uuid.Nil, shared.DuplicateVIN(enrollmentServiceTag, "Enroll", vin)
		default:
			return uuid.Nil, err
		}
	}

	return uuid.Nil, shared.DuplicateKey(enrollmentServiceTag, "Enroll", nil)
}

// Status returns the current status of an enrollment. A cached terminal status
// is final; a cached in_progress is re-read because promotion may have moved it.
func (s *EnrollmentService) Status(ctx context.Context, id uuid.UUID) (models.EnrollmentStatus, error) {
	status, found, err := s.Cache.GetStatus(ctx, id)
	if err != nil {
		s.logCacheError("GetStatus", err)
	} else if found && status.IsTerminal() {
		shared.CacheLookups.WithLabelValues("enrollment", "hit").Inc()
		return status, nil
	}
	shared.CacheLookups.WithLabelValues("enrollment", "miss").Inc()

	enrollment, err := s.Store.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if enrollment == nil {
		return "", shared.NotFound(enrollmentServiceTag, "Status", "enrollment not found")
	}

	if err := s.Cache.PutStatus(ctx, id, enrollment.Status, s.CacheTTL); err != nil {
		s.logCacheError("PutStatus", err)
	}
	return enrollment.Status, nil
}

// Lookup returns the decoded record for a VIN whose enrollment succeeded.
func (s *EnrollmentService) Lookup(ctx context.Context, vin string) (*models.VehicleRecord, error) {
	vin = models.NormalizeVIN(vin)
	if err := models.ValidateVIN(vin); err != nil {
		return nil, shared.InvalidInput(enrollmentServiceTag, "Lookup", err.Error())
	}

	if record, err := s.Cache.GetByVIN(ctx, vin); err != nil {
		s.logCacheError("GetByVIN", err)
	} else if record != nil {
		shared.CacheLookups.WithLabelValues("vehicle", "hit").Inc()
		return record, nil
	}
	shared.CacheLookups.WithLabelValues("vehicle", "miss").Inc()

	enrollment, err := s.Store.LatestByVIN(ctx, vin)
	if err != nil {
		return nil, err
	}
	if enrollment == nil {
		return nil, shared.NotFound(enrollmentServiceTag, "Lookup", "vehicle not found")
	}

	switch enrollment.Status {
	case models.StatusInProgress:
		return nil, shared.EnrollmentPending(enrollmentServiceTag, "Lookup", vin)
	case models.StatusSucceeded:
		return s.putVehicle(ctx, enrollment), nil
	default:
		return nil, shared.NotFound(enrollmentServiceTag, "Lookup", "vehicle not found")
	}
}

// Fail moves an in_progress enrollment to failed, releasing its VIN.
func (s *EnrollmentService) Fail(ctx context.Context, id uuid.UUID) error {
	changed, err := s.Store.MarkFailed(ctx, id)
	if err != nil {
		return err
	}

	if !changed {
		enrollment, err := s.Store.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if enrollment == nil {
			return shared.NotFound(enrollmentServiceTag, "Fail", "enrollment not found")
		}
		return shared.InvalidInput(enrollmentServiceTag, "Fail",
			"enrollment is already "+string(enrollment.Status))
	}

	if err := s.Cache.PutStatus(ctx, id, models.StatusFailed, s.CacheTTL); err != nil {
		s.logCacheError("PutStatus", err)
	}

	logrus.WithFields(logrus.Fields{
		"component":     enrollmentServiceTag,
		"enrollment_id": id,
	}).Info("Enrollment marked failed")
	return nil
}

func (s *EnrollmentService) putVehicle(ctx context.Context, enrollment *models.Enrollment) *models.VehicleRecord {
	record := &models.VehicleRecord{
		VIN:            enrollment.VIN,
		DecodedDetails: enrollment.DecodedDetails,
	}
	if err := s.Cache.PutVehicle(ctx, record, s.CacheTTL); err != nil {
		s.logCacheError("PutVehicle", err)
	}
	return record
}

func (s *EnrollmentService) logCacheError(operation string, err error) {
	logrus.WithFields(logrus.Fields{
		"component": enrollmentServiceTag,
		"operation": operation,
	}).WithError(err).Warn("Enrollment cache unavailable, falling back to store")
}
