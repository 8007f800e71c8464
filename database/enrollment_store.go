package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/fenilmodi00/vin-backend/models"
	"github.com/fenilmodi00/vin-backend/shared"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const (
	uniqueViolationCode        = "23505"
	enrollmentPrimaryKey       = "enrollments_pkey"
	enrollmentActiveVINIndex   = "uq_enrollments_active_vin"
	postgresEnrollmentStoreTag = "PostgresEnrollmentStore"
)

const enrollmentColumns = `id, vin, decoded_details, status, created_at`

// PostgresEnrollmentStore persists enrollments in Postgres. VIN uniqueness among
// active rows is enforced by uq_enrollments_active_vin.
type PostgresEnrollmentStore struct {
	DB *sql.DB
}

func NewPostgresEnrollmentStore(db *sql.DB) *PostgresEnrollmentStore {
	return &PostgresEnrollmentStore{DB: db}
}

func (s *PostgresEnrollmentStore) Insert(ctx context.Context, enrollment *models.Enrollment) error {
	query := `
		INSERT INTO enrollments (id, vin, decoded_details, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.DB.ExecContext(ctx, query,
		enrollment.ID,
		enrollment.VIN,
		enrollment.DecodedDetails,
		string(enrollment.Status),
		enrollment.CreatedAt.UTC(),
	)
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolationCode {
		switch pqErr.Constraint {
		case enrollmentPrimaryKey:
			return shared.DuplicateKey(postgresEnrollmentStoreTag, "Insert", err)
		case enrollmentActiveVINIndex:
			return shared.DuplicateVIN(postgresEnrollmentStoreTag, "Insert", enrollment.VIN)
		}
	}

	return shared.StoreUnavailable(postgresEnrollmentStoreTag, "Insert", err)
}

func (s *PostgresEnrollmentStore) FindSucceededByVIN(ctx context.Context, vin string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE vin = $1 AND status = $2 LIMIT 1`
	return s.queryOne(ctx, "FindSucceededByVIN", query, vin, string(models.StatusSucceeded))
}

func (s *PostgresEnrollmentStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1`
	return s.queryOne(ctx, "GetByID", query, id)
}

func (s *PostgresEnrollmentStore) LatestByVIN(ctx context.Context, vin string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE vin = $1 ORDER BY (status <> 'failed') DESC, created_at DESC, id DESC LIMIT 1`
	return s.queryOne(ctx, "LatestByVIN", query, vin)
}

// PromoteEligible moves every in_progress row created at or before cutoff to
// succeeded in a single statement.
func (s *PostgresEnrollmentStore) PromoteEligible(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE enrollments
		SET status = $1
		WHERE status = $2 AND created_at <= $3
	`

	result, err := s.DB.ExecContext(ctx, query, string(models.StatusSucceeded), string(models.StatusInProgress), cutoff.UTC())
	if err != nil {
		return 0, shared.StoreUnavailable(postgresEnrollmentStoreTag, "PromoteEligible", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, shared.StoreUnavailable(postgresEnrollmentStoreTag, "PromoteEligible", err)
	}

	logrus.WithFields(logrus.Fields{
		"component": postgresEnrollmentStoreTag,
		"cutoff":    cutoff,
		"promoted":  count,
	}).Debug("Promoted eligible enrollments")

	return count, nil
}

// MarkFailed moves one in_progress row to failed. It reports false when the row
// is missing or already terminal.
func (s *PostgresEnrollmentStore) MarkFailed(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `UPDATE enrollments SET status = $1 WHERE id = $2 AND status = $3`

	result, err := s.DB.ExecContext(ctx, query, string(models.StatusFailed), id, string(models.StatusInProgress))
	if err != nil {
		return false, shared.StoreUnavailable(postgresEnrollmentStoreTag, "MarkFailed", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return false, shared.StoreUnavailable(postgresEnrollmentStoreTag, "MarkFailed", err)
	}
	return count == 1, nil
}

// Ping checks connectivity for the health endpoint.
func (s *PostgresEnrollmentStore) Ping(ctx context.Context) error {
	return HealthCheck(ctx, s.DB)
}

func (s *PostgresEnrollmentStore) queryOne(ctx context.Context, operation, query string, args ...interface{}) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	var status string

	err := s.DB.QueryRowContext(ctx, query, args...).Scan(
		&enrollment.ID,
		&enrollment.VIN,
		&enrollment.DecodedDetails,
		&status,
		&enrollment.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, shared.StoreUnavailable(postgresEnrollmentStoreTag, operation, err)
	}

	enrollment.Status = models.EnrollmentStatus(status)
	enrollment.CreatedAt = enrollment.CreatedAt.UTC()
	return &enrollment, nil
}
