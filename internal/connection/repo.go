package connection

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehrsync/ehrsync/internal/canonical"
)

// Repository persists EHR connections.
type Repository interface {
	Create(ctx context.Context, c *EHRConnection) error
	Update(ctx context.Context, c *EHRConnection) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*EHRConnection, error)
	GetByPatientProvider(ctx context.Context, patientID uuid.UUID, provider canonical.Provider) (*EHRConnection, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*EHRConnection, error)
	List(ctx context.Context, limit, offset int) ([]*EHRConnection, int, error)

	// TryBeginSync atomically flips sync_in_progress from false to true.
	// It reports false when another sync already holds the flag, which is
	// how concurrent syncs for the same connection are rejected even
	// across processes.
	TryBeginSync(ctx context.Context, id uuid.UUID) (bool, error)
	// EndSync clears sync_in_progress and records the outcome.
	EndSync(ctx context.Context, id uuid.UUID, status Status, lastError string) error
}
