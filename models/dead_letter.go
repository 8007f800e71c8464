package models

import "time"

// Error classes recorded on a dead letter.
const (
	ErrorClassLookupFailed = "lookup_failed"
)

// DeadLetter is published once a VIN exhausts its decode attempts.
type DeadLetter struct {
	VIN        string    `json:"vin"`
	ErrorClass string    `json:"error_class"`
	LastError  string    `json:"last_error"`
	Attempts   int       `json:"attempts"`
	FailedAt   time.Time `json:"failed_at"`
}
