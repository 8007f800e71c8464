package shared

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrorCategory represents different types of errors that can occur
type ErrorCategory string

const (
	ErrorCategoryConfiguration ErrorCategory = "configuration"
	ErrorCategoryNetwork       ErrorCategory = "network"
	ErrorCategoryDatabase      ErrorCategory = "database"
	ErrorCategoryCache         ErrorCategory = "cache"
	ErrorCategoryValidation    ErrorCategory = "validation"
	ErrorCategoryConflict      ErrorCategory = "conflict"
	ErrorCategoryProcessing    ErrorCategory = "processing"
	ErrorCategoryQueue         ErrorCategory = "queue"
)

// Error kinds. Match with errors.Is; every ServiceError carries exactly one.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrDuplicateVIN      = errors.New("duplicate vin")
	ErrDuplicateKey      = errors.New("duplicate enrollment id")
	ErrNotFound          = errors.New("not found")
	ErrEnrollmentPending = errors.New("enrollment pending")
	ErrLookupFailed      = errors.New("registry lookup failed")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrCacheUnavailable  = errors.New("cache unavailable")
	ErrQueueUnavailable  = errors.New("queue unavailable")
)

// ServiceError represents a standardized error with additional context
type ServiceError struct {
	Kind        error         `json:"-"`
	Category    ErrorCategory `json:"category"`
	Code        string        `json:"code"`
	Message     string        `json:"message"`
	Details     interface{}   `json:"details,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
	ServiceName string        `json:"service_name"`
	Operation   string        `json:"operation"`
	Retryable   bool          `json:"retryable"`
	Cause       error         `json:"-"` // Original error, not serialized
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// Is matches the error against its kind so callers can use errors.Is with the sentinels.
func (e *ServiceError) Is(target error) bool {
	return e.Kind != nil && e.Kind == target
}

// NewServiceError creates a new service error
func NewServiceError(kind error, category ErrorCategory, code, message, serviceName, operation string, retryable bool, cause error) *ServiceError {
	return &ServiceError{
		Kind:        kind,
		Category:    category,
		Code:        code,
		Message:     message,
		Timestamp:   time.Now(),
		ServiceName: serviceName,
		Operation:   operation,
		Retryable:   retryable,
		Cause:       cause,
	}
}

// WithDetails adds additional details to the error
func (e *ServiceError) WithDetails(details interface{}) *ServiceError {
	e.Details = details
	return e
}

// IsRetryable returns whether the error is retryable
func (e *ServiceError) IsRetryable() bool {
	return e.Retryable
}

// LogError logs the error with structured fields
func (e *ServiceError) LogError() {
	logrus.WithFields(logrus.Fields{
		"error_category":   e.Category,
		"error_code":       e.Code,
		"error_message":    e.Message,
		"service_name":     e.ServiceName,
		"operation":        e.Operation,
		"retryable":        e.Retryable,
		"timestamp":        e.Timestamp,
		"details":          e.Details,
		"underlying_error": e.Cause,
	}).Error("Service error occurred")
}

func InvalidInput(serviceName, operation, message string) *ServiceError {
	return NewServiceError(ErrInvalidInput, ErrorCategoryValidation, "INVALID_INPUT", message, serviceName, operation, false, nil)
}

func DuplicateVIN(serviceName, operation, vin string) *ServiceError {
	return NewServiceError(ErrDuplicateVIN, ErrorCategoryConflict, "DUPLICATE_VIN",
		fmt.Sprintf("vin %s already has an active or succeeded enrollment", vin), serviceName, operation, false, nil)
}

func DuplicateKey(serviceName, operation string, cause error) *ServiceError {
	return NewServiceError(ErrDuplicateKey, ErrorCategoryConflict, "DUPLICATE_KEY",
		"enrollment id already exists", serviceName, operation, true, cause)
}

func NotFound(serviceName, operation, message string) *ServiceError {
	return NewServiceError(ErrNotFound, ErrorCategoryValidation, "NOT_FOUND", message, serviceName, operation, false, nil)
}

func EnrollmentPending(serviceName, operation, vin string) *ServiceError {
	return NewServiceError(ErrEnrollmentPending, ErrorCategoryConflict, "ENROLLMENT_PENDING",
		fmt.Sprintf("enrollment for vin %s is still in progress", vin), serviceName, operation, true, nil)
}

func LookupFailed(serviceName, operation, message string, cause error) *ServiceError {
	return NewServiceError(ErrLookupFailed, ErrorCategoryNetwork, "LOOKUP_FAILED", message, serviceName, operation, true, cause)
}

func StoreUnavailable(serviceName, operation string, cause error) *ServiceError {
	return NewServiceError(ErrStoreUnavailable, ErrorCategoryDatabase, "STORE_UNAVAILABLE",
		"enrollment store unavailable", serviceName, operation, true, cause)
}

func CacheUnavailable(serviceName, operation string, cause error) *ServiceError {
	return NewServiceError(ErrCacheUnavailable, ErrorCategoryCache, "CACHE_UNAVAILABLE",
		"enrollment cache unavailable", serviceName, operation, true, cause)
}

func QueueUnavailable(serviceName, operation string, cause error) *ServiceError {
	return NewServiceError(ErrQueueUnavailable, ErrorCategoryQueue, "QUEUE_UNAVAILABLE",
		"ingestion queue unavailable", serviceName, operation, true, cause)
}

// ErrorCode returns the code of the first ServiceError in the chain, or INTERNAL.
func ErrorCode(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code
	}
	return "INTERNAL"
}

// WrapError wraps an existing error with service error context
func WrapError(err error, kind error, category ErrorCategory, code, serviceName, operation string, retryable bool) *ServiceError {
	if err == nil {
		return nil
	}

	// If it's already a ServiceError, just update the context
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		serviceErr.ServiceName = serviceName
		serviceErr.Operation = operation
		return serviceErr
	}

	return NewServiceError(kind, category, code, err.Error(), serviceName, operation, retryable, err)
}

// IsRetryableError checks if an error is retryable
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.IsRetryable()
	}

	// Default heuristics for standard errors
	errorMsg := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout", "connection refused", "connection reset",
		"temporary failure", "service unavailable", "too many requests",
		"network", "dns", "socket",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errorMsg, pattern) {
			return true
		}
	}

	return false
}
