package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fenilmodi00/vin-backend/models"
	"github.com/fenilmodi00/vin-backend/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// enrollmentStore is the method set both store implementations share.
type enrollmentStore interface {
	Insert(ctx context.Context, enrollment *models.Enrollment) error
	FindSucceededByVIN(ctx context.Context, vin string) (*models.Enrollment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Enrollment, error)
	LatestByVIN(ctx context.Context, vin string) (*models.Enrollment, error)
	PromoteEligible(ctx context.Context, cutoff time.Time) (int64, error)
	MarkFailed(ctx context.Context, id uuid.UUID) (bool, error)
}

func newEnrollment(vin string, createdAt time.Time) *models.Enrollment {
	return &models.Enrollment{
		ID:  uuid.New(),
		VIN: vin,
		DecodedDetails: models.DecodedDetails{
			models.AttrMake:      "HONDA",
			models.AttrModel:     "Accord",
			models.AttrModelYear: "2003",
		},
		Status:    models.StatusInProgress,
		CreatedAt: createdAt.UTC().Truncate(time.Microsecond),
	}
}

// runEnrollmentStoreContract exercises the behavior every store must provide.
// uniqueVIN returns a VIN that no earlier call has produced.
func runEnrollmentStoreContract(t *testing.T, store enrollmentStore, uniqueVIN func() string) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("insert then read back", func(t *testing.T) {
		e := newEnrollment(uniqueVIN(), now)
		require.NoError(t, store.Insert(ctx, e))

		got, err := store.GetByID(ctx, e.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, e.VIN, got.VIN)
		assert.Equal(t, models.StatusInProgress, got.Status)
		assert.Equal(t, e.DecodedDetails, got.DecodedDetails)
		assert.True(t, e.CreatedAt.Equal(got.CreatedAt))

		missing, err := store.GetByID(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("duplicate id is DuplicateKey", func(t *testing.T) {
		e := newEnrollment(uniqueVIN(), now)
		require.NoError(t, store.Insert(ctx, e))

		clash := newEnrollment(uniqueVIN(), now)
		clash.ID = e.ID
		err := store.Insert(ctx, clash)
		assert.True(t, errors.Is(err, shared.ErrDuplicateKey), "got %v", err)
	})

	t.Run("second active row for a vin is DuplicateVin", func(t *testing.T) {
		vin := uniqueVIN()
		require.NoError(t, store.Insert(ctx, newEnrollment(vin, now)))

		err := store.Insert(ctx, newEnrollment(vin, now))
		assert.True(t, errors.Is(err, shared.ErrDuplicateVIN), "got %v", err)
	})

	t.Run("concurrent inserts for one vin leave exactly one row", func(t *testing.T) {
		vin := uniqueVIN()
		var wg sync.WaitGroup
		results := make([]error, 8)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = store.Insert(ctx, newEnrollment(vin, now))
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range results {
			if err == nil {
				succeeded++
				continue
			}
			assert.True(t, errors.Is(err, shared.ErrDuplicateVIN), "got %v", err)
		}
		assert.Equal(t, 1, succeeded)
	})

	t.Run("promote eligible respects cutoff and is monotonic", func(t *testing.T) {
		old := newEnrollment(uniqueVIN(), now.Add(-10*time.Minute))
		fresh := newEnrollment(uniqueVIN(), now)
		require.NoError(t, store.Insert(ctx, old))
		require.NoError(t, store.Insert(ctx, fresh))

		count, err := store.PromoteEligible(ctx, now.Add(-2*time.Minute))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, count, int64(1))

		got, err := store.GetByID(ctx, old.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusSucceeded, got.Status)

		got, err = store.GetByID(ctx, fresh.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusInProgress, got.Status)

		succeeded, err := store.FindSucceededByVIN(ctx, old.VIN)
		require.NoError(t, err)
		require.NotNil(t, succeeded)
		assert.Equal(t, old.ID, succeeded.ID)

		pending, err := store.FindSucceededByVIN(ctx, fresh.VIN)
		require.NoError(t, err)
		assert.Nil(t, pending)

		ok, err := store.MarkFailed(ctx, old.ID)
		require.NoError(t, err)
		assert.False(t, ok, "succeeded rows never leave their terminal state")
	})

	t.Run("mark failed releases the vin", func(t *testing.T) {
		vin := uniqueVIN()
		first := newEnrollment(vin, now.Add(-time.Minute))
		require.NoError(t, store.Insert(ctx, first))

		ok, err := store.MarkFailed(ctx, first.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.MarkFailed(ctx, first.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = store.MarkFailed(ctx, uuid.New())
		require.NoError(t, err)
		assert.False(t, ok)

		second := newEnrollment(vin, now)
		require.NoError(t, store.Insert(ctx, second))

		latest, err := store.LatestByVIN(ctx, vin)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, second.ID, latest.ID)

		none, err := store.LatestByVIN(ctx, uniqueVIN())
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("latest prefers the active row over a failed one with the same timestamp", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			vin := uniqueVIN()
			failed := newEnrollment(vin, now)
			require.NoError(t, store.Insert(ctx, failed))
			ok, err := store.MarkFailed(ctx, failed.ID)
			require.NoError(t, err)
			require.True(t, ok)

			active := newEnrollment(vin, now)
			require.NoError(t, store.Insert(ctx, active))

			latest, err := store.LatestByVIN(ctx, vin)
			require.NoError(t, err)
			require.NotNil(t, latest)
			assert.Equal(t, active.ID, latest.ID)
		}
	})

	t.Run("latest prefers the active row even when the clock stepped back", func(t *testing.T) {
		vin := uniqueVIN()
		failed := newEnrollment(vin, now.Add(time.Hour))
		require.NoError(t, store.Insert(ctx, failed))
		ok, err := store.MarkFailed(ctx, failed.ID)
		require.NoError(t, err)
		require.True(t, ok)

		active := newEnrollment(vin, now)
		require.NoError(t, store.Insert(ctx, active))

		latest, err := store.LatestByVIN(ctx, vin)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, active.ID, latest.ID)
	})
}
