package logging

import (
	"log/slog"
	"time"
)

// Common field names for consistent logging across auditflow processes.
const (
	FieldService     = "service"
	FieldRequestID   = "request_id"
	FieldPipeline    = "pipeline"
	FieldTransformer = "transformer"
	FieldSink        = "sink"
	FieldURL         = "url"
	FieldStatus      = "status"
	FieldDuration    = "duration_ms"
	FieldError       = "error"
	FieldEventID     = "event_id"
	FieldEventType   = "event_type"
	FieldSubject     = "subject"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Pipeline returns a slog attribute for the pipeline name.
func Pipeline(name string) slog.Attr {
	return slog.String(FieldPipeline, name)
}

// Transformer returns a slog attribute for the transformer name.
func Transformer(name string) slog.Attr {
	return slog.String(FieldTransformer, name)
}

// Sink returns a slog attribute for the sink name.
func Sink(name string) slog.Attr {
	return slog.String(FieldSink, name)
}

// URL returns a slog attribute for a destination URL.
func URL(u string) slog.Attr {
	return slog.String(FieldURL, u)
}

// Status returns a slog attribute for the HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for the elapsed time in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Int64(FieldDuration, d.Milliseconds())
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

// EventID returns a slog attribute for an event ID.
func EventID(id string) slog.Attr {
	return slog.String(FieldEventID, id)
}

// EventType returns a slog attribute for an event type.
func EventType(t string) slog.Attr {
	return slog.String(FieldEventType, t)
}

// Subject returns a slog attribute for a broker subject or topic.
func Subject(s string) slog.Attr {
	return slog.String(FieldSubject, s)
}
