// Package ingress accepts audit events over HTTP and publishes them to the broker.
package ingress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/telhawk-systems/auditflow/internal/logging"
	"github.com/telhawk-systems/auditflow/internal/messaging"
	"github.com/telhawk-systems/auditflow/internal/metrics"
	"github.com/telhawk-systems/auditflow/internal/ratelimit"
	"github.com/telhawk-systems/auditflow/pkg/condition"
)

// Event fields the ingress reads or stamps.
const (
	FieldEventType = "eventType"
	FieldEventID   = "eventId"
	FieldTimestamp = "timestamp"
)

// Options configures a Handler.
type Options struct {
	// Subject is the broker subject (NATS) or topic (Kafka) events go to.
	Subject string

	// MaxEventSize is the largest accepted request body in bytes.
	MaxEventSize int64

	// Schema, when set, must accept every event after stamping.
	Schema *gojsonschema.Schema

	// Limiter defaults to a NoOpRateLimiter.
	Limiter ratelimit.RateLimiter

	Logger *logging.Logger
}

// Handler serves the publish endpoint.
type Handler struct {
	publisher messaging.Publisher
	opts      Options
	logger    *logging.Logger
	now       func() time.Time

	published atomic.Int64
	rejected  atomic.Int64
	failed    atomic.Int64
}

// NewHandler creates a Handler publishing through publisher.
func NewHandler(publisher messaging.Publisher, opts Options) *Handler {
	if opts.Limiter == nil {
		opts.Limiter = &ratelimit.NoOpRateLimiter{}
	}
	if opts.MaxEventSize <= 0 {
		opts.MaxEventSize = 1 << 20
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		publisher: publisher,
		opts:      opts,
		logger:    logger.With(slog.String("component", "ingress")),
		now:       time.Now,
	}
}

// LoadSchema compiles the JSON schema at path.
func LoadSchema(path string) (*gojsonschema.Schema, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve schema path: %w", err)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewReferenceLoader("file://" + filepath.ToSlash(abs)))
	if err != nil {
		return nil, fmt.Errorf("load schema %s: %w", path, err)
	}
	return schema, nil
}

// PublishResponse is the body of a successful publish.
type PublishResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
}

// ErrorResponse is the body of a rejected publish.
type ErrorResponse struct {
	Status  string   `json:"status"`
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// Publish handles POST /api/v1/audit/publish.
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.logger.WithContext(ctx)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.reject(w, "method_not_allowed", http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	clientIP := getClientIP(r)
	allowed, err := h.opts.Limiter.Allow(ctx, clientIP)
	if err != nil {
		// The limiter backend being down must not stop ingestion.
		log.WarnContext(ctx, "Rate limit check failed, allowing request",
			slog.String("client_ip", clientIP), logging.Error(err))
		allowed = true
	}
	if !allowed {
		h.reject(w, "rate_limited", http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxEventSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(w, "too_large", http.StatusRequestEntityTooLarge,
				fmt.Sprintf("event exceeds %d bytes", h.opts.MaxEventSize))
			return
		}
		h.reject(w, "invalid", http.StatusBadRequest, "failed to read request body")
		return
	}
	defer r.Body.Close()

	event, problems := h.prepare(body)
	if problems != nil {
		h.reject(w, "invalid", http.StatusBadRequest, problems[0], problems[1:]...)
		return
	}

	eventID := condition.Text(event[FieldEventID])
	eventType := condition.Text(event[FieldEventType])
	log = log.With(logging.EventID(eventID), logging.EventType(eventType))

	data, err := encode(event)
	if err != nil {
		h.reject(w, "invalid", http.StatusBadRequest, "failed to encode event")
		return
	}

	if h.opts.Schema != nil {
		if details := validateSchema(h.opts.Schema, data); details != nil {
			h.reject(w, "invalid", http.StatusBadRequest, "event does not match schema", details...)
			return
		}
	}

	err = h.publisher.Publish(ctx, &messaging.Message{
		Subject: h.opts.Subject,
		Data:    data,
		Key:     eventID,
		Metadata: map[string]string{
			messaging.MetadataEventID:   eventID,
			messaging.MetadataEventType: eventType,
		},
	})
	if err != nil {
		h.failed.Add(1)
		metrics.IngressEvents.WithLabelValues("failed").Inc()
		log.ErrorContext(ctx, "Failed to publish audit event", logging.Error(err))
		sendError(w, http.StatusInternalServerError, "failed to publish event")
		return
	}

	h.published.Add(1)
	metrics.IngressEvents.WithLabelValues("published").Inc()
	metrics.IngressEventBytes.Add(float64(len(data)))
	log.DebugContext(ctx, "Published audit event", logging.Subject(h.opts.Subject))

	sendJSON(w, http.StatusOK, PublishResponse{Status: "published", EventID: eventID})
}

// prepare parses and stamps the event. It returns the problems that make the
// event unacceptable, or nil.
func (h *Handler) prepare(body []byte) (map[string]any, []string) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, []string{"request body is empty"}
	}

	parsed, err := condition.Parse(body)
	if err != nil {
		return nil, []string{"invalid JSON: " + err.Error()}
	}
	event, ok := parsed.(map[string]any)
	if !ok {
		return nil, []string{"event must be a JSON object"}
	}

	eventType, _ := event[FieldEventType].(string)
	if strings.TrimSpace(eventType) == "" {
		return nil, []string{"eventType is required"}
	}

	if isBlank(event[FieldTimestamp]) {
		event[FieldTimestamp] = h.now().UTC().Format(time.RFC3339Nano)
	}
	if isBlank(event[FieldEventID]) {
		event[FieldEventID] = uuid.NewString()
	}
	return event, nil
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// encode writes the event without HTML escaping so published text matches
// what the client sent.
func encode(event map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(event); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func validateSchema(schema *gojsonschema.Schema, data []byte) []string {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return []string{err.Error()}
	}
	if result.Valid() {
		return nil
	}
	details := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		details = append(details, e.String())
	}
	return details
}

func (h *Handler) reject(w http.ResponseWriter, reason string, status int, message string, details ...string) {
	h.rejected.Add(1)
	metrics.IngressEvents.WithLabelValues(reason).Inc()
	sendJSON(w, status, ErrorResponse{Status: "error", Error: message, Details: details})
}

// Stats is a snapshot of the ingress counters.
type Stats struct {
	Published int64 `json:"published"`
	Rejected  int64 `json:"rejected"`
	Failed    int64 `json:"failed"`
}

// Stats returns the counters accumulated since the handler was created.
func (h *Handler) Stats() Stats {
	return Stats{
		Published: h.published.Load(),
		Rejected:  h.rejected.Load(),
		Failed:    h.failed.Load(),
	}
}

// Ping reports whether the broker accepts connections, when the publisher
// can tell.
func (h *Handler) Ping(ctx context.Context) messaging.HealthStatus {
	checker, ok := h.publisher.(messaging.HealthChecker)
	if !ok {
		return messaging.HealthStatus{Connected: true}
	}
	return messaging.CheckClientHealth(ctx, checker)
}

func sendError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, ErrorResponse{Status: "error", Error: message})
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
