package apperr

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"
)

// Response is the uniform error body.
type Response struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Error      string `json:"error,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// Status maps an error onto an HTTP status code.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrDuplicateKey):
		return http.StatusBadRequest
	case errors.Is(err, ErrMissingCredential), errors.Is(err, ErrInvalidCredential):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrQuotaExceeded), errors.Is(err, ErrRateExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-facing message for an error. Internal errors
// get a generic message so that nothing leaks.
func Message(err error) string {
	var (
		validation *ValidationError
		quota      *QuotaError
		upstream   *UpstreamError
	)
	switch {
	case errors.As(err, &validation):
		return validation.Message
	case errors.As(err, &quota):
		return quota.Error()
	case errors.As(err, &upstream) && upstream.Message != "":
		return upstream.Message
	case errors.Is(err, ErrDuplicateKey):
		return "Account with this email already exists"
	case errors.Is(err, ErrMissingCredential):
		return ErrMissingCredential.Error()
	case errors.Is(err, ErrInvalidCredential):
		return "Invalid API key"
	case errors.Is(err, ErrNotFound):
		return "Resource not found"
	case errors.Is(err, ErrPayloadTooLarge):
		return "Request body too large"
	case errors.Is(err, ErrRateExceeded):
		return "Too many requests, please try again later"
	case errors.Is(err, ErrStoreUnavailable):
		return "Service temporarily unavailable"
	case errors.Is(err, ErrUpstream):
		return "Generation provider request failed"
	case errors.Is(err, ErrValidation):
		return "Invalid request"
	default:
		return "Internal server error"
	}
}

// Writer renders errors as JSON. Debug adds the underlying error text to
// the body and must be off in production.
type Writer struct {
	Debug bool
	Now   func() time.Time
}

// Write writes err with its mapped status.
func (w Writer) Write(rw http.ResponseWriter, err error) {
	status := Status(err)
	resp := Response{Message: Message(err)}

	if retry := w.retryAfter(err); retry > 0 {
		resp.RetryAfter = retry
		rw.Header().Set("Retry-After", strconv.Itoa(retry))
	}
	if w.Debug {
		resp.Error = detail(err)
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(resp)
}

func (w Writer) retryAfter(err error) int {
	var (
		rate  *RateExceededError
		quota *QuotaError
	)
	switch {
	case errors.As(err, &rate):
		return Seconds(rate.RetryAfter)
	case errors.As(err, &quota):
		now := time.Now
		if w.Now != nil {
			now = w.Now
		}
		return Seconds(quota.RetryAfter(now()))
	}
	return 0
}

func detail(err error) string {
	var up *UpstreamError
	if errors.As(err, &up) && up.Body != "" {
		return up.Error() + ": " + up.Body
	}
	return err.Error()
}

// Write renders err with production settings.
func Write(rw http.ResponseWriter, err error) {
	Writer{}.Write(rw, err)
}
