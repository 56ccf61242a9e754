package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fortec/gateway/internal/apperr"
)

func TestRecoverer(t *testing.T) {
	tests := []struct {
		name      string
		debug     bool
		wantError bool
	}{
		{"production hides detail", false, false},
		{"debug includes detail", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))

			handler := RequestID(Recoverer(logger, apperr.Writer{Debug: tt.debug})(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					panic("nil map write")
				})))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/profile", nil))

			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500", rec.Code)
			}
			body := decodeError(t, rec)
			if body.Success || body.Message != "Internal server error" {
				t.Errorf("body = %+v", body)
			}
			if got := strings.Contains(body.Error, "nil map write"); got != tt.wantError {
				t.Errorf("detail present = %v, want %v", got, tt.wantError)
			}
			if !strings.Contains(buf.String(), "panic recovered") {
				t.Error("panic was not logged")
			}
		})
	}
}
