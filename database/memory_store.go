package database

import (
	"context"
	"sync"
	"time"

	"github.com/fenilmodi00/vin-backend/models"
	"github.com/fenilmodi00/vin-backend/shared"
	"github.com/google/uuid"
)

const memoryEnrollmentStoreTag = "MemoryEnrollmentStore"

// MemoryEnrollmentStore keeps enrollments in process memory and enforces the
// same constraints as the Postgres schema: unique ids, and at most one
// in_progress or succeeded row per VIN.
type MemoryEnrollmentStore struct {
	mutex     sync.RWMutex
	rows      map[uuid.UUID]*models.Enrollment
	activeVIN map[string]uuid.UUID
}

func NewMemoryEnrollmentStore() *MemoryEnrollmentStore {
	return &MemoryEnrollmentStore{
		rows:      make(map[uuid.UUID]*models.Enrollment),
		activeVIN: make(map[string]uuid.UUID),
	}
}

func (s *MemoryEnrollmentStore) Insert(ctx context.Context, enrollment *models.Enrollment) error {
	if err := ctx.Err(); err != nil {
		return shared.StoreUnavailable(memoryEnrollmentStoreTag, "Insert", err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.rows[enrollment.ID]; exists {
		return shared.DuplicateKey(memoryEnrollmentStoreTag, "Insert", nil)
	}
	if enrollment.Status != models.StatusFailed {
		if _, exists := s.activeVIN[enrollment.VIN]; exists {
			return shared.DuplicateVIN(memoryEnrollmentStoreTag, "Insert", enrollment.VIN)
		}
		s.activeVIN[enrollment.VIN] = enrollment.ID
	}

	s.rows[enrollment.ID] = copyEnrollment(enrollment)
	return nil
}

func (s *MemoryEnrollmentStore) FindSucceededByVIN(ctx context.Context, vin string) (*models.Enrollment, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	id, exists := s.activeVIN[vin]
	if !exists {
		return nil, nil
	}
	row := s.rows[id]
	if row.Status != models.StatusSucceeded {
		return nil, nil
	}
	return copyEnrollment(row), nil
}

func (s *MemoryEnrollmentStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Enrollment, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	row, exists := s.rows[id]
	if !exists {
		return nil, nil
	}
	return copyEnrollment(row), nil
}

func (s *MemoryEnrollmentStore) LatestByVIN(ctx context.Context, vin string) (*models.Enrollment, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var latest *models.Enrollment
	for _, row := range s.rows {
		if row.VIN != vin {
			continue
		}
		if latest == nil || newerForLookup(row, latest) {
			latest = row
		}
	}
	if latest == nil {
		return nil, nil
	}
	return copyEnrollment(latest), nil
}

// newerForLookup orders active rows ahead of failed ones, then by creation
// time, matching the Postgres ORDER BY.
func newerForLookup(row, current *models.Enrollment) bool {
	rowActive := row.Status != models.StatusFailed
	currentActive := current.Status != models.StatusFailed
	if rowActive != currentActive {
		return rowActive
	}
	return row.CreatedAt.After(current.CreatedAt)
}

func (s *MemoryEnrollmentStore) PromoteEligible(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, shared.StoreUnavailable(memoryEnrollmentStoreTag, "PromoteEligible", err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	var count int64
	for _, row := range s.rows {
		if row.Status == models.StatusInProgress && !row.CreatedAt.After(cutoff) {
			row.Status = models.StatusSucceeded
			count++
		}
	}
	return count, nil
}

func (s *MemoryEnrollmentStore) MarkFailed(ctx context.Context, id uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, shared.StoreUnavailable(memoryEnrollmentStoreTag, "MarkFailed", err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	row, exists := s.rows[id]
	if !exists || row.Status != models.StatusInProgress {
		return false, nil
	}
	row.Status = models.StatusFailed
	delete(s.activeVIN, row.VIN)
	return true, nil
}

// Ping always succeeds.
func (s *MemoryEnrollmentStore) Ping(ctx context.Context) error {
	return nil
}

// Len returns the number of stored rows.
func (s *MemoryEnrollmentStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.rows)
}

func copyEnrollment(e *models.Enrollment) *models.Enrollment {
	out := *e
	out.DecodedDetails = e.DecodedDetails.Clone()
	return &out
}
