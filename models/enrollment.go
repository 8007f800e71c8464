package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// VINLength is the fixed length of a vehicle identification number.
const VINLength = 17

type EnrollmentStatus string

const (
	StatusInProgress EnrollmentStatus = "in_progress"
	StatusSucceeded  EnrollmentStatus = "succeeded"
	StatusFailed     EnrollmentStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed out of the status.
func (s EnrollmentStatus) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

func (s EnrollmentStatus) Valid() bool {
	switch s {
	case StatusInProgress, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

// CanTransitionTo allows only in_progress -> succeeded and in_progress -> failed.
func (s EnrollmentStatus) CanTransitionTo(next EnrollmentStatus) bool {
	return s == StatusInProgress && next.IsTerminal()
}

// Registry attribute names kept from a decode response.
const (
	AttrMake             = "Make"
	AttrModel            = "Model"
	AttrModelYear        = "Model Year"
	AttrManufacturerName = "Manufacturer Name"
	AttrSeries           = "Series"
	AttrVehicleType      = "Vehicle Type"
	AttrPlantCountry     = "Plant Country"
	AttrBodyClass        = "Body Class"
)

var recognizedAttributes = map[string]struct{}{
	AttrMake:             {},
	AttrModel:            {},
	AttrModelYear:        {},
	AttrManufacturerName: {},
	AttrSeries:           {},
	AttrVehicleType:      {},
	AttrPlantCountry:     {},
	AttrBodyClass:        {},
}

// RequiredAttributes must all be present for a decode to count as usable.
var RequiredAttributes = []string{AttrMake, AttrModel, AttrModelYear}

// IsRecognizedAttribute reports whether name is one of the retained registry attributes.
func IsRecognizedAttribute(name string) bool {
	_, ok := recognizedAttributes[name]
	return ok
}

// DecodedDetails holds the registry attributes retained for a VIN.
type DecodedDetails map[string]string

// Validate rejects empty maps and unrecognized attribute names.
func (d DecodedDetails) Validate() error {
	if len(d) == 0 {
		return fmt.Errorf("decoded details must not be empty")
	}
	for key := range d {
		if !IsRecognizedAttribute(key) {
			return fmt.Errorf("unrecognized decoded attribute %q", key)
		}
	}
	return nil
}

// HasRequired reports whether Make, Model and Model Year are all non-empty.
func (d DecodedDetails) HasRequired() bool {
	for _, attr := range RequiredAttributes {
		if strings.TrimSpace(d[attr]) == "" {
			return false
		}
	}
	return true
}

// Clone returns a copy safe to hand to another owner.
func (d DecodedDetails) Clone() DecodedDetails {
	if d == nil {
		return nil
	}
	out := make(DecodedDetails, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Value stores the details as a JSONB document.
func (d DecodedDetails) Value() (driver.Value, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d)
}

// Scan reads a JSONB document back into the map.
func (d *DecodedDetails) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	case nil:
		*d = nil
		return nil
	default:
		return fmt.Errorf("cannot scan %T into DecodedDetails", src)
	}
	out := DecodedDetails{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode details json: %w", err)
	}
	*d = out
	return nil
}

type Enrollment struct {
	ID             uuid.UUID        `json:"id"`
	VIN            string           `json:"vin"`
	DecodedDetails DecodedDetails   `json:"decodedDetails"`
	Status         EnrollmentStatus `json:"status"`
	CreatedAt      time.Time        `json:"createdAt"`
}

// VehicleRecord is the lookup view of a succeeded enrollment.
type VehicleRecord struct {
	VIN            string         `json:"vin"`
	DecodedDetails DecodedDetails `json:"decodedDetails"`
}

// NormalizeVIN trims whitespace and upper-cases the identifier.
func NormalizeVIN(vin string) string {
	return strings.ToUpper(strings.TrimSpace(vin))
}

// ValidateVIN checks the length and character set of an already normalized VIN.
func ValidateVIN(vin string) error {
	if len(vin) != VINLength {
		return fmt.Errorf("vin must be exactly %d characters, got %d", VINLength, len(vin))
	}
	for _, r := range vin {
		if !(r >= 'A' && r <= 'Z') && !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') {
			return fmt.Errorf("vin contains invalid character %q", r)
		}
	}
	return nil
}
