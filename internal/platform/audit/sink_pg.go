package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGSink persists audit events to the sync_audit_event table. Events are
// append-only; no update or delete path exists.
type PGSink struct {
	pool *pgxpool.Pool
}

func NewPGSink(pool *pgxpool.Pool) *PGSink {
	return &PGSink{pool: pool}
}

func (s *PGSink) Record(ctx context.Context, e Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Recorded.IsZero() {
		e.Recorded = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_audit_event (id, action, patient_id, provider, resource_type, resource_id, actor, outcome, detail, recorded)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ID, e.Action, e.PatientID, e.Provider, e.ResourceType, e.ResourceID, e.Actor, e.Outcome, e.Detail, e.Recorded)
	return err
}
