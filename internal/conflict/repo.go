package conflict

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehrsync/ehrsync/internal/canonical"
)

// Repository persists conflicts and their resolutions.
type Repository interface {
	Save(ctx context.Context, c *DataConflict) error
	Update(ctx context.Context, c *DataConflict) error
	GetByID(ctx context.Context, id uuid.UUID) (*DataConflict, error)
	// GetOpenByField finds the non-terminal conflict for one field of one
	// resource, if any. Detection reuses it instead of stacking duplicates.
	GetOpenByField(ctx context.Context, resourceType canonical.ResourceType, resourceID uuid.UUID, field string) (*DataConflict, error)
	// ListOpenByResource returns DETECTED and PENDING_REVIEW conflicts for
	// one resource.
	ListOpenByResource(ctx context.Context, resourceType canonical.ResourceType, resourceID uuid.UUID) ([]*DataConflict, error)
	// ListByStatus pages conflicts in a given state, newest first.
	ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*DataConflict, int, error)
	// ListOpen pages all DETECTED and PENDING_REVIEW conflicts.
	ListOpen(ctx context.Context, limit, offset int) ([]*DataConflict, int, error)
	SaveResolution(ctx context.Context, r *Resolution) error
	GetResolution(ctx context.Context, conflictID uuid.UUID) (*Resolution, error)
}
