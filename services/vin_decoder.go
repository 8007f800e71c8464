package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/fenilmodi00/vin-backend/models"
	"github.com/fenilmodi00/vin-backend/shared"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	vinDecoderTag       = "VinDecoder"
	maxRegistryBodySize = 1 << 20
)

type DecodeOutcome string

const (
	OutcomeDecoded     DecodeOutcome = "decoded"
	OutcomeUndecodable DecodeOutcome = "undecodable"
)

// DecodeResult carries the retained attributes when Outcome is OutcomeDecoded.
type DecodeResult struct {
	Outcome DecodeOutcome
	Details models.DecodedDetails
}

// Decoder looks up a VIN. Registry and transport failures are returned as
// errors matching shared.ErrLookupFailed.
type Decoder interface {
	Decode(ctx context.Context, vin string) (DecodeResult, error)
}

// Limiter gates outbound registry calls.
type Limiter interface {
	Acquire(ctx context.Context) error
}

type registryResponse struct {
	Count   int              `json:"Count"`
	Message string           `json:"Message"`
	Results []registryResult `json:"Results"`
}

type registryResult struct {
	Variable string  `json:"Variable"`
	Value    *string `json:"Value"`
}

// VinDecoder calls the NHTSA vPIC DecodeVin endpoint once per Decode, after
// taking a token from the shared limiter.
type VinDecoder struct {
	BaseURL    string
	HTTPClient *http.Client
	Limiter    Limiter
	tracer     trace.Tracer
}

func NewVinDecoder(baseURL string, httpClient *http.Client, limiter Limiter) *VinDecoder {
	return &VinDecoder{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: httpClient,
		Limiter:    limiter,
		tracer:     otel.Tracer("vin-backend/registry"),
	}
}

func (d *VinDecoder) Decode(ctx context.Context, vin string) (result DecodeResult, err error) {
	ctx, span := d.tracer.Start(ctx, "registry.decode", trace.WithAttributes(attribute.String("vin", vin)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("outcome", string(result.Outcome)))
		}
		span.End()
	}()

	if err := d.Limiter.Acquire(ctx); err != nil {
		return DecodeResult{}, err
	}

	response, err := d.fetch(ctx, vin)
	if err != nil {
		shared.RegistryDecodes.WithLabelValues("lookup_failed").Inc()
		return DecodeResult{}, err
	}

	details := extractDetails(response.Results)
	if !details.HasRequired() {
		shared.RegistryDecodes.WithLabelValues(string(OutcomeUndecodable)).Inc()
		logrus.WithFields(logrus.Fields{
			"component":  vinDecoderTag,
			"vin":        vin,
			"attributes": len(details),
		}).Info("VIN could not be decoded into make, model and model year")
		return DecodeResult{Outcome: OutcomeUndecodable}, nil
	}

	shared.RegistryDecodes.WithLabelValues(string(OutcomeDecoded)).Inc()
	return DecodeResult{Outcome: OutcomeDecoded, Details: details}, nil
}

func (d *VinDecoder) fetch(ctx context.Context, vin string) (*registryResponse, error) {
	endpoint := fmt.Sprintf("%s/%s?format=json", d.BaseURL, url.PathEscape(vin))

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, shared.LookupFailed(vinDecoderTag, "Decode", "failed to build registry request", err)
	}
	shared.SetJSONHeaders(request)

	resp, err := d.HTTPClient.Do(request)
	if err != nil {
		return nil, shared.LookupFailed(vinDecoderTag, "Decode", "registry request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxRegistryBodySize))
		return nil, shared.LookupFailed(vinDecoderTag, "Decode",
			fmt.Sprintf("registry returned HTTP %d", resp.StatusCode), nil).
			WithDetails(map[string]interface{}{"status_code": resp.StatusCode})
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRegistryBodySize))
	if err != nil {
		return nil, shared.LookupFailed(vinDecoderTag, "Decode", "failed to read registry response", err)
	}

	var parsed registryResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, shared.LookupFailed(vinDecoderTag, "Decode", "malformed registry response", err)
	}
	if parsed.Results == nil {
		return nil, shared.LookupFailed(vinDecoderTag, "Decode", "registry response has no Results", nil)
	}

	return &parsed, nil
}

// extractDetails keeps the recognized, non-empty attributes.
func extractDetails(results []registryResult) models.DecodedDetails {
	details := models.DecodedDetails{}
	for _, r := range results {
		if !models.IsRecognizedAttribute(r.Variable) || r.Value == nil {
			continue
		}
		value := strings.TrimSpace(*r.Value)
		if value == "" {
			continue
		}
		details[r.Variable] = value
	}
	return details
}
