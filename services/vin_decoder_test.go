package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fenilmodi00/vin-backend/models"
	"github.com/fenilmodi00/vin-backend/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLimiter struct {
	calls atomic.Int32
	err   error
}

func (l *countingLimiter) Acquire(ctx context.Context) error {
	l.calls.Add(1)
	return l.err
}

const hondaRegistryBody = `{
  "Count": 6,
  "Message": "Results returned successfully",
  "Results": [
    {"Variable": "Make", "Value": "HONDA"},
    {"Variable": "Model", "Value": "Accord"},
    {"Variable": "Model Year", "Value": "2003"},
    {"Variable": "Manufacturer Name", "Value": "AMERICAN HONDA MOTOR CO., INC."},
    {"Variable": "Series", "Value": "  "},
    {"Variable": "Trim", "Value": "EX-V6"},
    {"Variable": "Plant Country", "Value": null}
  ]
}`

func registryServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/"+hondaVIN, r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func newTestDecoder(baseURL string, limiter Limiter) *VinDecoder {
	return NewVinDecoder(baseURL, shared.NewRegistryHTTPClient(5*time.Second), limiter)
}

func TestDecodeKeepsRecognizedAttributes(t *testing.T) {
	server, hits := registryServer(t, http.StatusOK, hondaRegistryBody)
	limiter := &countingLimiter{}

	result, err := newTestDecoder(server.URL+"/", limiter).Decode(context.Background(), hondaVIN)
	require.NoError(t, err)

	assert.Equal(t, OutcomeDecoded, result.Outcome)
	assert.Equal(t, models.DecodedDetails{
		models.AttrMake:             "HONDA",
		models.AttrModel:            "Accord",
		models.AttrModelYear:        "2003",
		models.AttrManufacturerName: "AMERICAN HONDA MOTOR CO., INC.",
	}, result.Details)
	assert.Equal(t, int32(1), limiter.calls.Load())
	assert.Equal(t, int32(1), hits.Load())
}

func TestDecodeWithoutRequiredAttributesIsUndecodable(t *testing.T) {
	server, _ := registryServer(t, http.StatusOK, `{"Count":1,"Results":[{"Variable":"Make","Value":"HONDA"},{"Variable":"Model","Value":""}]}`)

	result, err := newTestDecoder(server.URL, &countingLimiter{}).Decode(context.Background(), hondaVIN)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUndecodable, result.Outcome)
	assert.Empty(t, result.Details)
}

func TestDecodeRegistryFailuresAreLookupFailed(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"server error":    {http.StatusInternalServerError, `oops`},
		"rate limited":    {http.StatusTooManyRequests, ``},
		"malformed json":  {http.StatusOK, `{"Results": [`},
		"missing results": {http.StatusOK, `{"Count": 0}`},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			server, _ := registryServer(t, tc.status, tc.body)

			_, err := newTestDecoder(server.URL, &countingLimiter{}).Decode(context.Background(), hondaVIN)
			require.Error(t, err)
			assert.ErrorIs(t, err, shared.ErrLookupFailed)
			assert.True(t, shared.IsRetryableError(err))
		})
	}
}

func TestDecodeTransportFailureIsLookupFailed(t *testing.T) {
	server, _ := registryServer(t, http.StatusOK, hondaRegistryBody)
	url := server.URL
	server.Close()

	_, err := newTestDecoder(url, &countingLimiter{}).Decode(context.Background(), hondaVIN)
	assert.ErrorIs(t, err, shared.ErrLookupFailed)
}

func TestDecodeStopsWhenLimiterIsCancelled(t *testing.T) {
	server, hits := registryServer(t, http.StatusOK, hondaRegistryBody)
	limiter := &countingLimiter{err: context.Canceled}

	_, err := newTestDecoder(server.URL, limiter).Decode(context.Background(), hondaVIN)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, shared.ErrLookupFailed)
	assert.Equal(t, int32(0), hits.Load())
}

func TestDecodeSharesTokenBucket(t *testing.T) {
	server, hits := registryServer(t, http.StatusOK, hondaRegistryBody)
	bucket := shared.NewTokenBucket(2, time.Hour)
	decoder := newTestDecoder(server.URL, bucket)

	for i := 0; i < 2; i++ {
		_, err := decoder.Decode(context.Background(), hondaVIN)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := decoder.Decode(ctx, hondaVIN)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(2), hits.Load())
}
