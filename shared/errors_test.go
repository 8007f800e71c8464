package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServiceErrorMatchesKind(t *testing.T) {
	err := DuplicateVIN("EnrollmentService", "Enroll", "1HGCM82633A004352")

	assert.True(t, errors.Is(err, ErrDuplicateVIN))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "DUPLICATE_VIN", ErrorCode(err))

	wrapped := fmt.Errorf("pipeline: %w", err)
	assert.True(t, errors.Is(wrapped, ErrDuplicateVIN))
	assert.Equal(t, "DUPLICATE_VIN", ErrorCode(wrapped))
}

func TestServiceErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := StoreUnavailable("PostgresEnrollmentStore", "Insert", cause)

	assert.True(t, errors.Is(err, ErrStoreUnavailable))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "connection refused")
	assert.True(t, IsRetryableError(err))
}

func TestWrapErrorKeepsExistingServiceError(t *testing.T) {
	original := NotFound("EnrollmentService", "Status", "enrollment not found")
	wrapped := WrapError(original, ErrStoreUnavailable, ErrorCategoryDatabase, "X", "Handler", "GetStatus", true)

	assert.Same(t, original, wrapped)
	assert.Equal(t, "Handler", wrapped.ServiceName)
	assert.True(t, errors.Is(wrapped, ErrNotFound))

	assert.Nil(t, WrapError(nil, ErrStoreUnavailable, ErrorCategoryDatabase, "X", "s", "o", true))
}

func TestIsRetryableErrorHeuristics(t *testing.T) {
	assert.True(t, IsRetryableError(errors.New("i/o timeout")))
	assert.False(t, IsRetryableError(errors.New("bad request")))
	assert.False(t, IsRetryableError(nil))
	assert.False(t, IsRetryableError(InvalidInput("s", "o", "bad vin")))
	assert.Equal(t, "INTERNAL", ErrorCode(errors.New("boom")))
}
