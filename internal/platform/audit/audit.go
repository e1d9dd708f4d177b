// Package audit provides a write-only sink for synchronization and conflict
// resolution audit events. Storage and presentation of the audit trail are
// external concerns; this package only guarantees that every recorded event
// reaches the configured sink.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event is one audit trail entry.
type Event struct {
	ID           uuid.UUID `json:"id"`
	Action       string    `json:"action"` // e.g. "sync.inbound", "conflict.resolved"
	PatientID    uuid.UUID `json:"patient_id"`
	Provider     string    `json:"provider,omitempty"`
	ResourceType string    `json:"resource_type,omitempty"`
	ResourceID   string    `json:"resource_id,omitempty"`
	Actor        string    `json:"actor,omitempty"` // "system" for auto-resolution
	Outcome      string    `json:"outcome"`         // "success", "partial", "failure"
	Detail       string    `json:"detail,omitempty"`
	Recorded     time.Time `json:"recorded"`
}

// Sink receives audit events. Implementations must be safe for concurrent
// use. Record failures are surfaced to the caller but must never mutate or
// drop previously recorded events.
type Sink interface {
	Record(ctx context.Context, e Event) error
}

// LogSink writes audit events to a structured logger.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink backed by the given logger.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(_ context.Context, e Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Recorded.IsZero() {
		e.Recorded = time.Now().UTC()
	}
	s.logger.Info().
		Str("audit_id", e.ID.String()).
		Str("action", e.Action).
		Str("patient_id", e.PatientID.String()).
		Str("provider", e.Provider).
		Str("resource_type", e.ResourceType).
		Str("resource_id", e.ResourceID).
		Str("actor", e.Actor).
		Str("outcome", e.Outcome).
		Str("detail", e.Detail).
		Time("recorded", e.Recorded).
		Msg("audit")
	return nil
}

// NopSink discards all events. Used in tests.
type NopSink struct{}

func (NopSink) Record(context.Context, Event) error { return nil }
