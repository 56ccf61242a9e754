// Package apperr defines the error kinds surfaced to API clients and maps
// them onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Error kinds. Domain packages wrap these with fmt.Errorf or return one of
// the typed errors below, which match their kind through errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrDuplicateKey      = errors.New("already exists")
	ErrNotFound          = errors.New("not found")
	ErrMissingCredential = errors.New("API key is required for authentication")
	ErrInvalidCredential = errors.New("invalid API key")
	ErrQuotaExceeded     = errors.New("usage limit reached")
	ErrRateExceeded      = errors.New("too many requests, please try again later")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrUpstream          = errors.New("generation provider failed")
	ErrPayloadTooLarge   = errors.New("request body too large")
)

// ValidationError reports an invalid request field.
type ValidationError struct {
	Field   string
	Message string
}

// Validation returns a ValidationError for field.
func Validation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// QuotaError reports an exhausted daily or monthly limit.
type QuotaError struct {
	Period  string // "daily" or "monthly"
	Limit   int
	ResetAt time.Time
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s usage limit of %d requests reached", e.Period, e.Limit)
}

// Is matches ErrQuotaExceeded.
func (e *QuotaError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// RetryAfter returns the time left until the limit resets, measured from now.
func (e *QuotaError) RetryAfter(now time.Time) time.Duration {
	if e.ResetAt.IsZero() {
		return 0
	}
	return e.ResetAt.Sub(now)
}

// RateExceededError reports a throttled client.
type RateExceededError struct {
	RetryAfter time.Duration
}

func (e *RateExceededError) Error() string {
	return ErrRateExceeded.Error()
}

// Is matches ErrRateExceeded.
func (e *RateExceededError) Is(target error) bool {
	return target == ErrRateExceeded
}

// UpstreamError reports a failed call to the generation provider.
// StatusCode is 0 when no response was received.
type UpstreamError struct {
	StatusCode int
	Message    string // provider supplied message, if any
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("upstream request failed: %v", e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	default:
		return ErrUpstream.Error()
	}
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Is matches ErrUpstream.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

// Seconds rounds d up to whole seconds, never below one.
func Seconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
