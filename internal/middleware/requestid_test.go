package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name              string
		existingRequestID string
	}{
		{name: "generates new request ID when not present"},
		{name: "propagates existing request ID", existingRequestID: "existing-req-123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured string
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				captured = GetRequestID(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodPost, "/api/v1/audit/publish", nil)
			if tt.existingRequestID != "" {
				req.Header.Set(HeaderRequestID, tt.existingRequestID)
			}
			w := httptest.NewRecorder()

			RequestID(handler).ServeHTTP(w, req)

			header := w.Header().Get(HeaderRequestID)
			if header == "" {
				t.Fatal("expected X-Request-ID header in response")
			}
			if captured != header {
				t.Errorf("context request ID = %q, header = %q", captured, header)
			}

			if tt.existingRequestID != "" {
				if header != tt.existingRequestID {
					t.Errorf("X-Request-ID = %q, want %q", header, tt.existingRequestID)
				}
				return
			}
			if _, err := uuid.Parse(header); err != nil {
				t.Errorf("generated request ID %q is not a UUID: %v", header, err)
			}
		})
	}
}

func TestGetRequestID(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() = %q, want empty", got)
	}

	ctx := WithRequestID(context.Background(), "msg-42")
	if got := GetRequestID(ctx); got != "msg-42" {
		t.Errorf("GetRequestID() = %q, want %q", got, "msg-42")
	}

	wrong := context.WithValue(context.Background(), RequestIDKey, 42)
	if got := GetRequestID(wrong); got != "" {
		t.Errorf("GetRequestID() with non-string value = %q, want empty", got)
	}
}
