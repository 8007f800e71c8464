package services

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/fenilmodi00/vin-backend/cache"
	"github.com/fenilmodi00/vin-backend/database"
	"github.com/fenilmodi00/vin-backend/models"
	"github.com/fenilmodi00/vin-backend/shared"
	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hondaVIN = "1HGCM82633A004352"

func hondaDetails() models.DecodedDetails {
	return models.DecodedDetails{
		models.AttrMake:      "HONDA",
		models.AttrModel:     "Accord",
		models.AttrModelYear: "2003",
	}
}

func newTestService() (*EnrollmentService, *database.MemoryEnrollmentStore, *cache.MemoryEnrollmentCache) {
	store := database.NewMemoryEnrollmentStore()
	c := cache.NewMemoryEnrollmentCache(100, "test")
	return NewEnrollmentService(store, c, time.Minute), store, c
}

// brokenCache fails every call.
type brokenCache struct{}

var errCacheDown = errors.New("cache down")

func (brokenCache) GetByVIN(ctx context.Context, vin string) (*models.VehicleRecord, error) {
	return nil, errCacheDown
}
func (brokenCache) GetStatus(ctx context.Context, id uuid.UUID) (models.EnrollmentStatus, bool, error) {
	return "", false, errCacheDown
}
func (brokenCache) PutVehicle(ctx context.Context, record *models.VehicleRecord, ttl time.Duration) error {
	return errCacheDown
}
func (brokenCache) PutStatus(ctx context.Context, id uuid.UUID, status models.EnrollmentStatus, ttl time.Duration) error {
	return errCacheDown
}
func (brokenCache) InvalidateAll(ctx context.Context) error { return errCacheDown }

func TestEnrollThenStatusIsInProgress(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	id, err := svc.Enroll(ctx, hondaVIN, hondaDetails())
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	status, err := svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, status)
}

func TestEnrollNormalizesVIN(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	id, err := svc.Enroll(ctx, "  1hgcm82633a004352 ", hondaDetails())
	require.NoError(t, err)

	enrollment, err := store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, hondaVIN, enrollment.VIN)
}

func TestEnrollRejectsInvalidInput(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Enroll(ctx, "SHORT", hondaDetails())
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = svc.Enroll(ctx, hondaVIN, models.DecodedDetails{})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = svc.Enroll(ctx, hondaVIN, models.DecodedDetails{"Colour": "red"})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	assert.Equal(t, 0, store.Len())
}

func TestEnrollRejectsSecondActiveEnrollment(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Enroll(ctx, hondaVIN, hondaDetails())
	require.NoError(t, err)

	_, err = svc.Enroll(ctx, hondaVIN, hondaDetails())
	assert.ErrorIs(t, err, shared.ErrDuplicateVIN)
	assert.Equal(t, "DUPLICATE_VIN", shared.ErrorCode(err))
}

func TestConcurrentEnrollOfSameVINHasOneWinner(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	const callers = 16
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Enroll(ctx, hondaVIN, hondaDetails())
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, shared.ErrDuplicateVIN)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, store.Len())
}

func TestEnrollAfterSucceededIsDuplicateAndWarmsCache(t *testing.T) {
	svc, store, c := newTestService()
	ctx := context.Background()

	_, err := svc.Enroll(ctx, hondaVIN, hondaDetails())
	require.NoError(t, err)
	_, err = store.PromoteEligible(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = svc.Enroll(ctx, hondaVIN, hondaDetails())
	assert.ErrorIs(t, err, shared.ErrDuplicateVIN)

	record, err := c.GetByVIN(ctx, hondaVIN)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "HONDA", record.DecodedDetails[models.AttrMake])
}

func TestEnrollRegeneratesCollidingID(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	taken := uuid.New()
	require.NoError(t, store.Insert(ctx, &models.Enrollment{
		ID:             taken,
		VIN:            "2T1BURHE0JC000001",
		DecodedDetails: hondaDetails(),
		Status:         models.StatusInProgress,
		CreatedAt:      time.Now(),
	}))

	fresh := uuid.New()
	ids := []uuid.UUID{taken, fresh}
	svc.newID = func() uuid.UUID {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	id, err := svc.Enroll(ctx, hondaVIN, hondaDetails())
	require.NoError(t, err)
	assert.Equal(t, fresh, id)
}

func TestEnrollGivesUpAfterRepeatedIDCollisions(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	taken := uuid.New()
	require.NoError(t, store.Insert(ctx, &models.Enrollment{
		ID:             taken,
		VIN:            "2T1BURHE0JC000001",
		DecodedDetails: hondaDetails(),
		Status:         models.StatusInProgress,
		CreatedAt:      time.Now(),
	}))
	svc.newID = func() uuid.UUID { return taken }

	_, err := svc.Enroll(ctx, hondaVIN, hondaDetails())
	assert.ErrorIs(t, err, shared.ErrDuplicateKey)
}

func TestStatusUnknownIDIsNotFound(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.Status(context.Background(), uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestStatusSeesPromotionDespiteCachedInProgress(t *testing.T) {
	svc, store, c := newTestService()
	ctx := context.Background()

	id, err := svc.Enroll(ctx, hondaVIN, hondaDetails())
	require.NoError(t, err)

	cached, found, err := c.GetStatus(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.StatusInProgress, cached)

	// Promote without touching the cache.
	_, err = store.PromoteEligible(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)

	status, err := svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, status)
}

func TestStatusTrustsCachedTerminalStatus(t *testing.T) {
	svc, _, c := newTestService()
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, c.PutStatus(ctx, id, models.StatusSucceeded, time.Minute))

	status, err := svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, status)
}

func TestLookupLifecycle(t *testing.T) {
	svc, store, c := newTestService()
	ctx := context.Background()

	_, err := svc.Lookup(ctx, hondaVIN)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Enroll(ctx, hondaVIN, hondaDetails())
	require.NoError(t, err)

	_, err = svc.Lookup(ctx, hondaVIN)
	assert.ErrorIs(t, err, shared.ErrEnrollmentPending)

	_, err = store.PromoteEligible(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)

	record, err := svc.Lookup(ctx, hondaVIN)
	require.NoError(t, err)
	assert.Equal(t, hondaVIN, record.VIN)
	assert.Equal(t, hondaDetails(), record.DecodedDetails)

	cached, err := c.GetByVIN(ctx, hondaVIN)
	require.NoError(t, err)
	assert.NotNil(t, cached)
}

func TestLookupRejectsMalformedVIN(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.Lookup(context.Background(), "NOT-A-VIN")
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestFailReleasesVIN(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	first, err := svc.Enroll(ctx, hondaVIN, hondaDetails())
	require.NoError(t, err)

	require.NoError(t, svc.Fail(ctx, first))

	status, err := svc.Status(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, status)

	_, err = svc.Lookup(ctx, hondaVIN)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	second, err := svc.Enroll(ctx, hondaVIN, hondaDetails())
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestLookupAfterReenrollWithFrozenClockIsPending(t *testing.T) {
	frozen := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		svc, _, _ := newTestService()
		svc.now = func() time.Time { return frozen }
		ctx := context.Background()

		first, err := svc.Enroll(ctx, hondaVIN, hondaDetails())
		require.NoError(t, err)
		require.NoError(t, svc.Fail(ctx, first))

		_, err = svc.Enroll(ctx, hondaVIN, hondaDetails())
		require.NoError(t, err)

		_, err = svc.Lookup(ctx, hondaVIN)
		assert.ErrorIs(t, err, shared.ErrEnrollmentPending)
	}
}

func TestFailRejectsUnknownOrSettledEnrollment(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	assert.ErrorIs(t, svc.Fail(ctx, uuid.New()), shared.ErrNotFound)

	id, err := svc.Enroll(ctx, hondaVIN, hondaDetails())
	require.NoError(t, err)
	_, err = store.PromoteEligible(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)

	err = svc.Fail(ctx, id)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
	assert.Contains(t, err.Error(), "succeeded")
}

func TestServiceWorksWithoutCache(t *testing.T) {
	store := database.NewMemoryEnrollmentStore()
	svc := NewEnrollmentService(store, brokenCache{}, time.Minute)
	ctx := context.Background()

	id, err := svc.Enroll(ctx, hondaVIN, hondaDetails())
	require.NoError(t, err)

	status, err := svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, status)

	_, err = store.PromoteEligible(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)

	record, err := svc.Lookup(ctx, hondaVIN)
	require.NoError(t, err)
	assert.Equal(t, hondaVIN, record.VIN)

	_, err = svc.Enroll(ctx, hondaVIN, hondaDetails())
	assert.ErrorIs(t, err, shared.ErrDuplicateVIN)
}

func TestStoreFailureSurfaces(t *testing.T) {
	svc, _, _ := newTestService()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Enroll(ctx, hondaVIN, hondaDetails())
	assert.ErrorIs(t, err, shared.ErrStoreUnavailable)
}

func TestEnrollLookupRoundTripAfterPromotion(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()
	details := models.DecodedDetails{
		models.AttrMake:      "Toyota",
		models.AttrModel:     "Camry",
		models.AttrModelYear: "2020",
	}

	_, err := svc.Enroll(ctx, hondaVIN, details)
	require.NoError(t, err)
	_, err = store.PromoteEligible(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)

	record, err := svc.Lookup(ctx, hondaVIN)
	require.NoError(t, err)
	assert.Equal(t, details, record.DecodedDetails)

	// Second read is served from the cache and must be identical too.
	record, err = svc.Lookup(ctx, hondaVIN)
	require.NoError(t, err)
	assert.Equal(t, details, record.DecodedDetails)
}

func TestEnrollLookupRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("lookup after promotion returns the enrolled details", prop.ForAll(
		func(manufacturer, model, series string, year int) bool {
			svc, store, _ := newTestService()
			ctx := context.Background()
			details := models.DecodedDetails{
				models.AttrMake:      manufacturer,
				models.AttrModel:     model,
				models.AttrModelYear: strconv.Itoa(year),
				models.AttrSeries:    series,
			}

			if _, err := svc.Enroll(ctx, hondaVIN, details); err != nil {
				return false
			}
			if _, err := store.PromoteEligible(ctx, time.Now().Add(time.Hour)); err != nil {
				return false
			}
			record, err := svc.Lookup(ctx, hondaVIN)
			return err == nil && reflect.DeepEqual(details, record.DecodedDetails)
		},
		gen.Identifier(),
		gen.Identifier(),
		gen.Identifier(),
		gen.IntRange(1981, 2030),
	))

	properties.TestingRun(t)
}
