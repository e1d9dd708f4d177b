package conflict

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/ehrsync/ehrsync/internal/canonical"
)

type memRepo struct {
	conflicts   map[uuid.UUID]*DataConflict
	resolutions map[uuid.UUID]*Resolution
}

func newMemRepo() *memRepo {
	return &memRepo{
		conflicts:   map[uuid.UUID]*DataConflict{},
		resolutions: map[uuid.UUID]*Resolution{},
	}
}

func (m *memRepo) Save(_ context.Context, c *DataConflict) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	cp := *c
	m.conflicts[c.ID] = &cp
	return nil
}

func (m *memRepo) Update(_ context.Context, c *DataConflict) error {
	cp := *c
	m.conflicts[c.ID] = &cp
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*DataConflict, error) {
	if c, ok := m.conflicts[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, pgx.ErrNoRows
}

func (m *memRepo) GetOpenByField(_ context.Context, rt canonical.ResourceType, rid uuid.UUID, field string) (*DataConflict, error) {
	for _, c := range m.conflicts {
		if c.ResourceType == rt && c.ResourceID == rid && c.Field == field && !c.Status.Terminal() {
			cp := *c
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *memRepo) ListOpenByResource(_ context.Context, rt canonical.ResourceType, rid uuid.UUID) ([]*DataConflict, error) {
	var out []*DataConflict
	for _, c := range m.conflicts {
		if c.ResourceType == rt && c.ResourceID == rid && !c.Status.Terminal() {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memRepo) ListByStatus(_ context.Context, status Status, limit, offset int) ([]*DataConflict, int, error) {
	var out []*DataConflict
	for _, c := range m.conflicts {
		if c.Status == status {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (m *memRepo) ListOpen(_ context.Context, limit, offset int) ([]*DataConflict, int, error) {
	var out []*DataConflict
	for _, c := range m.conflicts {
		if !c.Status.Terminal() {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (m *memRepo) SaveResolution(_ context.Context, r *Resolution) error {
	m.resolutions[r.ConflictID] = r
	return nil
}

func (m *memRepo) GetResolution(_ context.Context, conflictID uuid.UUID) (*Resolution, error) {
	if r, ok := m.resolutions[conflictID]; ok {
		return r, nil
	}
	return nil, pgx.ErrNoRows
}

func newTestEngine() (*Engine, *memRepo) {
	repo := newMemRepo()
	return NewEngine(repo, nil, nil, zerolog.Nop()), repo
}

func ts(offsetMinutes int) *time.Time {
	t := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(offsetMinutes) * time.Minute)
	return &t
}

func TestDetectConflictTypes(t *testing.T) {
	eng, _ := newTestEngine()
	rid := uuid.New()

	res, err := eng.DetectConflicts(context.Background(), canonical.ResourcePatient, rid, canonical.ProviderEpic,
		map[string]interface{}{"phone": "555-0101", "city": "Austin", "email": "a@x.com"},
		map[string]interface{}{"phone": "555-0202", "city": "Austin", "state": "TX"},
		DetectOptions{})
	if err != nil {
		t.Fatalf("DetectConflicts: %v", err)
	}
	if !res.HasConflicts {
		t.Fatal("expected conflicts")
	}

	byField := map[string]*DataConflict{}
	for _, c := range res.Conflicts {
		byField[c.Field] = c
	}
	if byField["phone"] == nil || byField["phone"].Type != TypeUpdateUpdate {
		t.Errorf("phone conflict = %+v, want UPDATE_UPDATE", byField["phone"])
	}
	if byField["email"] == nil || byField["email"].Type != TypeUpdateDelete {
		t.Errorf("email conflict = %+v, want UPDATE_DELETE", byField["email"])
	}
	if byField["state"] == nil || byField["state"].Type != TypeDeleteUpdate {
		t.Errorf("state conflict = %+v, want DELETE_UPDATE", byField["state"])
	}
	if _, ok := byField["city"]; ok {
		t.Error("equal fields must not conflict")
	}
	if res.Summary.Total != 3 {
		t.Errorf("summary total = %d, want 3", res.Summary.Total)
	}
}

func TestDetectionSymmetry(t *testing.T) {
	a := map[string]interface{}{"phone": "555-0101", "tags": []interface{}{"x"}}
	b := map[string]interface{}{"phone": "555-0202", "city": "Austin"}

	forward := detect(canonical.ResourcePatient, uuid.New(), canonical.ProviderEpic, a, b, DetectOptions{})
	backward := detect(canonical.ResourcePatient, uuid.New(), canonical.ProviderEpic, b, a, DetectOptions{})
	if (len(forward) > 0) != (len(backward) > 0) {
		t.Errorf("symmetry violated: forward %d conflicts, backward %d", len(forward), len(backward))
	}
	if len(forward) != len(backward) {
		t.Errorf("conflict counts differ: %d vs %d", len(forward), len(backward))
	}
}

func TestDetectIgnoreFields(t *testing.T) {
	got := detect(canonical.ResourcePatient, uuid.New(), canonical.ProviderEpic,
		map[string]interface{}{"updated_at": "a", "phone": "1"},
		map[string]interface{}{"updated_at": "b", "phone": "1"},
		DetectOptions{IgnoreFields: []string{"updated_at"}})
	if len(got) != 0 {
		t.Errorf("ignored field produced conflicts: %+v", got)
	}
}

func TestSeverityClassification(t *testing.T) {
	cases := []struct {
		field     string
		sensitive []string
		want      Severity
	}{
		{"mrn", nil, SeverityCritical},
		{"ssn", nil, SeverityCritical},
		{"patient_ssn_last4", nil, SeverityCritical},
		{"id", nil, SeverityCritical},
		{"dosage", nil, SeverityHigh},
		{"substance", nil, SeverityHigh},
		{"code", nil, SeverityHigh},
		{"first_name", nil, SeverityMedium},
		{"phone", nil, SeverityMedium},
		{"free_text_note", nil, SeverityLow},
		{"free_text_note", []string{"free_text_note"}, SeverityCritical},
	}
	for _, tc := range cases {
		if got := classifySeverity(tc.field, tc.sensitive); got != tc.want {
			t.Errorf("classifySeverity(%q, %v) = %s, want %s", tc.field, tc.sensitive, got, tc.want)
		}
	}
}

func TestLastWriteWinsScenario(t *testing.T) {
	eng, _ := newTestEngine()
	c := &DataConflict{
		ID: uuid.New(), ResourceType: canonical.ResourceObservation, ResourceID: uuid.New(),
		Field: "value", Type: TypeUpdateUpdate, Severity: SeverityHigh, Status: StatusDetected,
		LocalValue: "120/80", RemoteValue: "118/78",
		LocalTimestamp: ts(0), RemoteTimestamp: ts(30),
	}

	res := eng.ResolveConflict(context.Background(), c, StrategyLastWriteWins, ResolveOptions{})
	if !res.Success {
		t.Fatalf("resolution failed: %v", res.Errors)
	}
	if res.ResolvedValue != "118/78" {
		t.Errorf("resolved value = %v, want the later write 118/78", res.ResolvedValue)
	}

	first := eng.ResolveConflict(context.Background(), &DataConflict{
		ID: uuid.New(), Field: "value", Status: StatusDetected,
		LocalValue: "120/80", RemoteValue: "118/78",
		LocalTimestamp: ts(0), RemoteTimestamp: ts(30),
	}, StrategyFirstWriteWins, ResolveOptions{})
	if !first.Success || first.ResolvedValue != "120/80" {
		t.Errorf("first-write-wins = %v (errors %v), want 120/80", first.ResolvedValue, first.Errors)
	}
}

func TestWriteOrderStrategiesNeedTimestamps(t *testing.T) {
	eng, _ := newTestEngine()
	c := &DataConflict{ID: uuid.New(), Field: "value", Status: StatusDetected, LocalValue: "a", RemoteValue: "b"}
	res := eng.ResolveConflict(context.Background(), c, StrategyLastWriteWins, ResolveOptions{})
	if res.Success {
		t.Error("LWW without timestamps should fail")
	}
	if c.Status != StatusDetected {
		t.Errorf("failed resolution moved status to %s", c.Status)
	}
}

func TestMergeDeterminism(t *testing.T) {
	local := []interface{}{"a", "b"}
	remote := []interface{}{"b", "c"}
	merged, err := mergeValues(local, remote, "")
	if err != nil {
		t.Fatalf("mergeValues: %v", err)
	}
	got, ok := merged.([]interface{})
	if !ok || len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("merged = %v, want [a b c]", merged)
	}
}

func TestMergeObjectsLocalPrecedence(t *testing.T) {
	merged, err := mergeValues(
		map[string]interface{}{"a": 1, "b": 2},
		map[string]interface{}{"b": 9, "c": 3},
		"")
	if err != nil {
		t.Fatalf("mergeValues: %v", err)
	}
	m := merged.(map[string]interface{})
	if m["a"] != 1 || m["b"] != 2 || m["c"] != 3 {
		t.Errorf("merged = %v", m)
	}
}

func TestMergePrimitiveHints(t *testing.T) {
	cases := []struct {
		hint MergeHint
		want interface{}
	}{
		{MergePreferLocal, "10"},
		{MergePreferRemote, "20"},
		{MergeConcatenate, "10 20"},
		{MergeNumericAvg, 15.0},
		{MergeNumericMax, 20.0},
		{MergeNumericMin, 10.0},
		{"", "10"},
	}
	for _, tc := range cases {
		got, err := mergeValues("10", "20", tc.hint)
		if err != nil {
			t.Errorf("hint %q: %v", tc.hint, err)
			continue
		}
		if got != tc.want {
			t.Errorf("hint %q = %v, want %v", tc.hint, got, tc.want)
		}
	}
}

func TestManualStrategyAlwaysFails(t *testing.T) {
	eng, _ := newTestEngine()
	c := &DataConflict{ID: uuid.New(), Field: "value", Status: StatusDetected, LocalValue: "a", RemoteValue: "b"}
	res := eng.ResolveConflict(context.Background(), c, StrategyManual, ResolveOptions{})
	if res.Success {
		t.Error("MANUAL must never produce a value")
	}
}

func TestCustomResolverRegistry(t *testing.T) {
	eng, _ := newTestEngine()
	eng.RegisterResolver("prefer-longer", func(c *DataConflict) (interface{}, error) {
		l, _ := c.LocalValue.(string)
		r, _ := c.RemoteValue.(string)
		if len(l) >= len(r) {
			return l, nil
		}
		return r, nil
	})

	c := &DataConflict{ID: uuid.New(), Field: "display", Status: StatusDetected, LocalValue: "short", RemoteValue: "much longer text"}
	res := eng.ResolveConflict(context.Background(), c, StrategyCustom, ResolveOptions{ResolverName: "prefer-longer"})
	if !res.Success || res.ResolvedValue != "much longer text" {
		t.Errorf("custom resolution = %v (errors %v)", res.ResolvedValue, res.Errors)
	}

	missing := eng.ResolveConflict(context.Background(), &DataConflict{ID: uuid.New(), Status: StatusDetected},
		StrategyCustom, ResolveOptions{ResolverName: "nope"})
	if missing.Success {
		t.Error("unregistered resolver name must fail")
	}
}

func TestCriticalNeverAutoResolved(t *testing.T) {
	eng, repo := newTestEngine()
	ctx := context.Background()
	rid := uuid.New()

	_, err := eng.DetectConflicts(ctx, canonical.ResourcePatient, rid, canonical.ProviderCerner,
		map[string]interface{}{"mrn": "MRN001", "phone": "555-0101"},
		map[string]interface{}{"mrn": "MRN002", "phone": "555-0202"},
		DetectOptions{LocalTimestamp: ts(0), RemoteTimestamp: ts(5)})
	if err != nil {
		t.Fatalf("DetectConflicts: %v", err)
	}

	results, err := eng.AutoResolveConflicts(ctx, canonical.ResourcePatient, rid)
	if err != nil {
		t.Fatalf("AutoResolveConflicts: %v", err)
	}
	// Only the phone conflict is eligible.
	if len(results) != 1 || results[0].Field != "phone" || !results[0].Success {
		t.Fatalf("results = %+v", results)
	}

	for _, c := range repo.conflicts {
		switch c.Field {
		case "mrn":
			if c.Status != StatusDetected && c.Status != StatusPendingReview {
				t.Errorf("mrn conflict status = %s, must stay unresolved", c.Status)
			}
		case "phone":
			if c.Status != StatusResolved {
				t.Errorf("phone conflict status = %s, want RESOLVED", c.Status)
			}
		}
	}
}

func TestUnconfiguredPairNotAutoResolvable(t *testing.T) {
	eng, _ := newTestEngine()
	// Observation "value" is deliberately absent from the default table.
	c := &DataConflict{
		ResourceType: canonical.ResourceObservation, Field: "value",
		Severity: SeverityHigh, Status: StatusDetected,
	}
	if eng.IsAutoResolvable(c) {
		t.Error("unconfigured (resourceType, field) pair must not be auto-resolvable")
	}
}

func TestAutoResolveIdempotent(t *testing.T) {
	eng, _ := newTestEngine()
	ctx := context.Background()
	rid := uuid.New()

	_, err := eng.DetectConflicts(ctx, canonical.ResourcePatient, rid, canonical.ProviderEpic,
		map[string]interface{}{"city": "Austin"},
		map[string]interface{}{"city": "Dallas"},
		DetectOptions{LocalTimestamp: ts(0), RemoteTimestamp: ts(5)})
	if err != nil {
		t.Fatalf("DetectConflicts: %v", err)
	}

	first, err := eng.AutoResolveConflicts(ctx, canonical.ResourcePatient, rid)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if len(first) != 1 || !first[0].Success {
		t.Fatalf("first pass results = %+v", first)
	}

	second, err := eng.AutoResolveConflicts(ctx, canonical.ResourcePatient, rid)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("second pass re-resolved %d conflicts", len(second))
	}
}

func TestDetectRefreshesOpenConflict(t *testing.T) {
	eng, repo := newTestEngine()
	ctx := context.Background()
	rid := uuid.New()

	r1, _ := eng.DetectConflicts(ctx, canonical.ResourcePatient, rid, canonical.ProviderEpic,
		map[string]interface{}{"phone": "1"}, map[string]interface{}{"phone": "2"}, DetectOptions{})
	r2, _ := eng.DetectConflicts(ctx, canonical.ResourcePatient, rid, canonical.ProviderEpic,
		map[string]interface{}{"phone": "1"}, map[string]interface{}{"phone": "3"}, DetectOptions{})

	if len(repo.conflicts) != 1 {
		t.Fatalf("repeated detection stored %d conflicts, want 1", len(repo.conflicts))
	}
	if r1.Conflicts[0].ID != r2.Conflicts[0].ID {
		t.Error("open conflict should be refreshed, not replaced")
	}
	if r2.Conflicts[0].RemoteValue != "3" {
		t.Errorf("remote value = %v, want refreshed to 3", r2.Conflicts[0].RemoteValue)
	}
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	eng, repo := newTestEngine()
	ctx := context.Background()

	c := &DataConflict{
		ID: uuid.New(), ResourceType: canonical.ResourcePatient, ResourceID: uuid.New(),
		Field: "city", Status: StatusDetected, LocalValue: "a", RemoteValue: "b",
	}
	if err := repo.Save(ctx, c); err != nil {
		t.Fatal(err)
	}

	if _, err := eng.Ignore(ctx, c.ID, "reviewer", "duplicate feed"); err != nil {
		t.Fatalf("Ignore: %v", err)
	}
	if _, err := eng.Ignore(ctx, c.ID, "reviewer", "again"); err == nil {
		t.Error("ignoring an IGNORED conflict must fail")
	}
	if _, err := eng.MarkPendingReview(ctx, c.ID); err == nil {
		t.Error("reopening an IGNORED conflict must fail")
	}
	res, err := eng.ResolveByID(ctx, c.ID, StrategyLocalWins, ResolveOptions{})
	if err != nil {
		t.Fatalf("ResolveByID: %v", err)
	}
	if res.Success {
		t.Error("resolving an IGNORED conflict must fail")
	}
}

func TestPendingReviewFlow(t *testing.T) {
	eng, repo := newTestEngine()
	ctx := context.Background()

	c := &DataConflict{
		ID: uuid.New(), ResourceType: canonical.ResourceMedication, ResourceID: uuid.New(),
		Field: "dosage", Severity: SeverityHigh, Status: StatusDetected,
		LocalValue: "10mg daily", RemoteValue: "20mg daily",
	}
	if err := repo.Save(ctx, c); err != nil {
		t.Fatal(err)
	}

	if _, err := eng.MarkPendingReview(ctx, c.ID); err != nil {
		t.Fatalf("MarkPendingReview: %v", err)
	}
	res, err := eng.ResolveByID(ctx, c.ID, StrategyRemoteWins, ResolveOptions{ResolvedBy: "dr.lane", Reason: "pharmacy confirmed"})
	if err != nil {
		t.Fatalf("ResolveByID: %v", err)
	}
	if !res.Success || res.ResolvedValue != "20mg daily" {
		t.Fatalf("resolution = %+v", res)
	}

	stored, _ := repo.GetByID(ctx, c.ID)
	if stored.Status != StatusResolved {
		t.Errorf("status = %s", stored.Status)
	}
	saved, err := repo.GetResolution(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetResolution: %v", err)
	}
	if saved.ResolvedBy != "dr.lane" || saved.Strategy != StrategyRemoteWins {
		t.Errorf("resolution record = %+v", saved)
	}
}

func TestDetectTreatsEquivalentTimestampsAsEqual(t *testing.T) {
	local := map[string]interface{}{"birth_date": "1984-02-11T00:00:00Z", "phone": "555-1000"}
	remote := map[string]interface{}{"birth_date": "1984-02-11", "phone": "555-1000"}

	conflicts := detect(canonical.ResourcePatient, uuid.New(), canonical.ProviderEpic, local, remote, DetectOptions{})
	if len(conflicts) != 0 {
		t.Fatalf("expected no conflicts for equivalent timestamps, got %d", len(conflicts))
	}
}

type failingResolutionRepo struct {
	*memRepo
	saveErr error
}

func (f *failingResolutionRepo) SaveResolution(_ context.Context, _ *Resolution) error {
	return f.saveErr
}

func TestResolveConflictFailedWriteLeavesConflictOpen(t *testing.T) {
	repo := &failingResolutionRepo{memRepo: newMemRepo(), saveErr: errors.New("insert rejected")}
	eng := NewEngine(repo, nil, nil, zerolog.Nop())
	ctx := context.Background()

	c := &DataConflict{
		ID: uuid.New(), ResourceType: canonical.ResourcePatient, ResourceID: uuid.New(),
		Provider: canonical.ProviderEpic, Field: "phone", Type: TypeUpdateUpdate,
		Severity: SeverityLow, Status: StatusDetected, LocalValue: "555-0101", RemoteValue: "555-0202",
	}
	if err := repo.Save(ctx, c); err != nil {
		t.Fatal(err)
	}

	res := eng.ResolveConflict(ctx, c, StrategyLocalWins, ResolveOptions{})
	if res.Success {
		t.Fatal("expected resolution to fail")
	}

	stored, err := repo.GetByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != StatusDetected {
		t.Errorf("stored status = %s, want DETECTED", stored.Status)
	}
	if _, err := repo.GetResolution(ctx, c.ID); err != pgx.ErrNoRows {
		t.Errorf("resolution row present after failed attempt: %v", err)
	}
	if c.Status != StatusDetected || c.Resolution != nil {
		t.Errorf("in-memory conflict mutated: status=%s resolution=%v", c.Status, c.Resolution)
	}

	repo.saveErr = nil
	if res := eng.ResolveConflict(ctx, c, StrategyLocalWins, ResolveOptions{}); !res.Success {
		t.Fatalf("retry after transient failure: %v", res.Errors)
	}
}

func TestDetectTreatsNumericSpellingsAsEqual(t *testing.T) {
	local := map[string]interface{}{"value": "98.6", "unit": "degF"}
	remote := map[string]interface{}{"value": 98.6, "unit": "degF"}

	conflicts := detect(canonical.ResourceObservation, uuid.New(), canonical.ProviderEpic, local, remote, DetectOptions{})
	if len(conflicts) != 0 {
		t.Fatalf("expected no conflicts for equivalent numeric spellings, got %d", len(conflicts))
	}

	remote["value"] = 99.1
	conflicts = detect(canonical.ResourceObservation, uuid.New(), canonical.ProviderEpic, local, remote, DetectOptions{})
	if len(conflicts) != 1 || conflicts[0].Field != "value" {
		t.Fatalf("expected one value conflict, got %+v", conflicts)
	}
}
