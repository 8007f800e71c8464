// Package cache holds the advisory enrollment cache. Entries are never the
// source of truth and may be dropped at any time.
package cache

import "github.com/google/uuid"

const (
	enrollmentNamespace = "enrollment:"
	vehicleNamespace    = "vehicle:"
)

// Keys builds cache keys under an optional deployment prefix.
type Keys struct {
	Prefix string
}

func (k Keys) Enrollment(id uuid.UUID) string {
	return k.Prefix + enrollmentNamespace + id.String()
}

func (k Keys) Vehicle(vin string) string {
	return k.Prefix + vehicleNamespace + vin
}

// EnrollmentPattern matches every enrollment status key.
func (k Keys) EnrollmentPattern() string {
	return k.Prefix + enrollmentNamespace + "*"
}

func (k Keys) EnrollmentNamespace() string {
	return k.Prefix + enrollmentNamespace
}
