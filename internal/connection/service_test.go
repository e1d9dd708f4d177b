package connection

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ehrsync/ehrsync/internal/canonical"
)

type mockRepo struct {
	byID map[uuid.UUID]*EHRConnection
}

func newMockRepo() *mockRepo {
	return &mockRepo{byID: map[uuid.UUID]*EHRConnection{}}
}

func (m *mockRepo) Create(_ context.Context, c *EHRConnection) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	m.byID[c.ID] = c
	return nil
}

func (m *mockRepo) Update(_ context.Context, c *EHRConnection) error {
	m.byID[c.ID] = c
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.byID, id)
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*EHRConnection, error) {
	if c, ok := m.byID[id]; ok {
		return c, nil
	}
	return nil, pgx.ErrNoRows
}

func (m *mockRepo) GetByPatientProvider(_ context.Context, patientID uuid.UUID, provider canonical.Provider) (*EHRConnection, error) {
	for _, c := range m.byID {
		if c.PatientID == patientID && c.Provider == provider {
			return c, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*EHRConnection, error) {
	var out []*EHRConnection
	for _, c := range m.byID {
		if c.PatientID == patientID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockRepo) List(_ context.Context, limit, offset int) ([]*EHRConnection, int, error) {
	var out []*EHRConnection
	for _, c := range m.byID {
		out = append(out, c)
	}
	return out, len(out), nil
}

func (m *mockRepo) TryBeginSync(_ context.Context, id uuid.UUID) (bool, error) {
	c, ok := m.byID[id]
	if !ok {
		return false, pgx.ErrNoRows
	}
	if c.SyncInProgress {
		return false, nil
	}
	c.SyncInProgress = true
	return true, nil
}

func (m *mockRepo) EndSync(_ context.Context, id uuid.UUID, status Status, lastError string) error {
	c, ok := m.byID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	c.SyncInProgress = false
	c.Status = status
	c.LastError = lastError
	return nil
}

func TestInitializeCreatesThenReactivates(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()
	patientID := uuid.New()

	c, err := svc.Initialize(ctx, patientID, canonical.ProviderEpic, "EPIC-42", "vault:epic/prod")
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if c.Status != StatusActive {
		t.Errorf("status = %s, want ACTIVE", c.Status)
	}

	if err := svc.Disconnect(ctx, patientID, canonical.ProviderEpic); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	got, err := svc.Get(ctx, patientID, canonical.ProviderEpic)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusDisconnected {
		t.Errorf("status after disconnect = %s", got.Status)
	}

	re, err := svc.Initialize(ctx, patientID, canonical.ProviderEpic, "", "")
	if err != nil {
		t.Fatalf("re-Initialize: %v", err)
	}
	if re.ID != c.ID {
		t.Error("re-initialize should reuse the existing connection record")
	}
	if re.Status != StatusActive || re.VendorPatientID != "EPIC-42" {
		t.Errorf("reactivated connection = %+v", re)
	}
}

func TestInitializeRejectsUnknownProvider(t *testing.T) {
	svc := NewService(newMockRepo())
	if _, err := svc.Initialize(context.Background(), uuid.New(), "veradigm", "", ""); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestGetMissingReturnsErrNoConnection(t *testing.T) {
	svc := NewService(newMockRepo())
	if _, err := svc.Get(context.Background(), uuid.New(), canonical.ProviderCerner); err != ErrNoConnection {
		t.Errorf("err = %v, want ErrNoConnection", err)
	}
}

func TestBeginSyncRejectsConcurrent(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()
	patientID := uuid.New()

	c, err := svc.Initialize(ctx, patientID, canonical.ProviderCerner, "C-1", "")
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := svc.BeginSync(ctx, patientID, canonical.ProviderCerner); err != nil {
		t.Fatalf("first BeginSync: %v", err)
	}
	if _, err := svc.BeginSync(ctx, patientID, canonical.ProviderCerner); err != ErrSyncInProgress {
		t.Errorf("second BeginSync err = %v, want ErrSyncInProgress", err)
	}

	if err := svc.EndSync(ctx, c.ID, ""); err != nil {
		t.Fatalf("EndSync: %v", err)
	}
	if _, err := svc.BeginSync(ctx, patientID, canonical.ProviderCerner); err != nil {
		t.Errorf("BeginSync after release: %v", err)
	}
}

func TestEndSyncWithErrorMarksConnection(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()
	patientID := uuid.New()

	c, _ := svc.Initialize(ctx, patientID, canonical.ProviderNextgen, "NG-9", "")
	if _, err := svc.BeginSync(ctx, patientID, canonical.ProviderNextgen); err != nil {
		t.Fatalf("BeginSync: %v", err)
	}
	if err := svc.EndSync(ctx, c.ID, "vendor timeout"); err != nil {
		t.Fatalf("EndSync: %v", err)
	}

	got, _ := svc.Get(ctx, patientID, canonical.ProviderNextgen)
	if got.Status != StatusError || got.LastError != "vendor timeout" {
		t.Errorf("connection after failed sync = %+v", got)
	}
	// An ERROR connection is not usable until re-initialized.
	if _, err := svc.BeginSync(ctx, patientID, canonical.ProviderNextgen); err == nil {
		t.Error("BeginSync on ERROR connection should fail")
	}
}
