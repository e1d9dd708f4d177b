package connection

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ehrsync/ehrsync/internal/canonical"
)

var (
	// ErrNoConnection is returned for operations against a patient/provider
	// pair that was never initialized or has been removed.
	ErrNoConnection = errors.New("no connection for patient and provider")
	// ErrSyncInProgress is returned when a sync is requested while another
	// sync for the same connection is still running.
	ErrSyncInProgress = errors.New("sync already in progress for this connection")
)

// Service manages connection lifecycle and the sync mutual-exclusion flag.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Initialize creates a connection for the pair, or reactivates an existing
// one. Re-initializing is how a DISCONNECTED or ERROR connection recovers.
func (s *Service) Initialize(ctx context.Context, patientID uuid.UUID, provider canonical.Provider, vendorPatientID, credentialRef string) (*EHRConnection, error) {
	if patientID == uuid.Nil {
		return nil, fmt.Errorf("patient_id is required")
	}
	if !provider.Valid() {
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}

	existing, err := s.repo.GetByPatientProvider(ctx, patientID, provider)
	switch {
	case err == nil:
		existing.Status = StatusActive
		existing.LastError = ""
		if vendorPatientID != "" {
			existing.VendorPatientID = vendorPatientID
		}
		if credentialRef != "" {
			existing.CredentialRef = credentialRef
		}
		if err := s.repo.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("reactivate connection: %w", err)
		}
		return existing, nil
	case errors.Is(err, pgx.ErrNoRows):
		c := &EHRConnection{
			PatientID:       patientID,
			Provider:        provider,
			Status:          StatusActive,
			VendorPatientID: vendorPatientID,
			CredentialRef:   credentialRef,
		}
		if err := s.repo.Create(ctx, c); err != nil {
			return nil, fmt.Errorf("create connection: %w", err)
		}
		return c, nil
	default:
		return nil, err
	}
}

// Get returns the connection for the pair, or ErrNoConnection.
func (s *Service) Get(ctx context.Context, patientID uuid.UUID, provider canonical.Provider) (*EHRConnection, error) {
	c, err := s.repo.GetByPatientProvider(ctx, patientID, provider)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoConnection
	}
	return c, err
}

// GetActive returns the connection only when it is usable for sync calls.
func (s *Service) GetActive(ctx context.Context, patientID uuid.UUID, provider canonical.Provider) (*EHRConnection, error) {
	c, err := s.Get(ctx, patientID, provider)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusActive {
		return nil, fmt.Errorf("connection for %s is %s: %w", provider, c.Status, ErrNoConnection)
	}
	return c, nil
}

// ListByPatient lists all connections for a patient.
func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*EHRConnection, error) {
	return s.repo.ListByPatient(ctx, patientID)
}

// List pages over all connections.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*EHRConnection, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// Disconnect marks the connection DISCONNECTED. The record is kept so the
// vendor patient ID and history survive a later re-initialize.
func (s *Service) Disconnect(ctx context.Context, patientID uuid.UUID, provider canonical.Provider) error {
	c, err := s.Get(ctx, patientID, provider)
	if err != nil {
		return err
	}
	c.Status = StatusDisconnected
	return s.repo.Update(ctx, c)
}

// BeginSync acquires the connection's sync flag. It fails with
// ErrSyncInProgress when another sync holds it.
func (s *Service) BeginSync(ctx context.Context, patientID uuid.UUID, provider canonical.Provider) (*EHRConnection, error) {
	c, err := s.GetActive(ctx, patientID, provider)
	if err != nil {
		return nil, err
	}
	ok, err := s.repo.TryBeginSync(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("acquire sync flag: %w", err)
	}
	if !ok {
		return nil, ErrSyncInProgress
	}
	return c, nil
}

// EndSync releases the sync flag and records the outcome. An empty syncErr
// marks the connection healthy and stamps last_synced_at.
func (s *Service) EndSync(ctx context.Context, connID uuid.UUID, syncErr string) error {
	status := StatusActive
	if syncErr != "" {
		status = StatusError
	}
	return s.repo.EndSync(ctx, connID, status, syncErr)
}

// RecordVendorPatientID stores the vendor-side patient identifier learned
// during an outbound create.
func (s *Service) RecordVendorPatientID(ctx context.Context, connID uuid.UUID, vendorPatientID string) error {
	c, err := s.repo.GetByID(ctx, connID)
	if err != nil {
		return err
	}
	c.VendorPatientID = vendorPatientID
	return s.repo.Update(ctx, c)
}
