// Package handler provides HTTP request handlers.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/fortec/gateway/internal/apperr"
	"github.com/fortec/gateway/internal/middleware"
)

// Handler holds what every endpoint needs to answer and fail uniformly.
type Handler struct {
	logger *slog.Logger
	errs   apperr.Writer
}

// New creates a new Handler instance.
func New(logger *slog.Logger, errs apperr.Writer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, errs: errs}
}

// Root answers GET / with a welcome document.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message":       "Welcome to Fortec AI",
		"documentation": "/docs",
		"status":        "active",
	})
}

// NotFound handles 404 responses.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.errs.Write(w, apperr.ErrNotFound)
}

// MethodNotAllowed handles 405 responses.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, apperr.Response{Message: "Method not allowed"})
}

// fail logs server-side failures and writes the error response.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status := apperr.Status(err); status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			slog.String("request_id", middleware.GetRequestID(r.Context())),
			slog.String("endpoint", r.Method+" "+r.URL.Path),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
	}
	h.errs.Write(w, err)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst as is.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	var maxErr *http.MaxBytesError
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil
	case errors.As(err, &maxErr):
		return apperr.ErrPayloadTooLarge
	default:
		return apperr.Validation("body", "Invalid JSON body")
	}
}
