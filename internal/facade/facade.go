// Package facade is the single entry point callers use to work with vendor
// EHR systems. It owns the adapter registry, serializes sync passes per
// connection, and normalizes vendor failures so nothing vendor-specific
// leaks to its callers.
package facade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehrsync/ehrsync/internal/adapter"
	"github.com/ehrsync/ehrsync/internal/canonical"
	"github.com/ehrsync/ehrsync/internal/conflict"
	"github.com/ehrsync/ehrsync/internal/connection"
	"github.com/ehrsync/ehrsync/internal/platform/webhook"
)

// Direction selects which way a sync pass moves data.
type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
	DirectionFull     Direction = "FULL" // inbound first, then outbound
)

// ParseDirection normalizes a request parameter. Empty defaults to INBOUND.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case "":
		return DirectionInbound, nil
	case DirectionInbound, DirectionOutbound, DirectionFull:
		return Direction(s), nil
	}
	return "", fmt.Errorf("unknown sync direction %q", s)
}

// ErrProviderNotConfigured is returned for providers with no registered
// adapter.
var ErrProviderNotConfigured = errors.New("provider is not configured")

// Facade coordinates connections, adapters, and the conflict engine.
type Facade struct {
	connections *connection.Service
	conflicts   *conflict.Engine
	notifier    *webhook.Notifier
	log         zerolog.Logger

	mu       sync.Mutex
	adapters map[canonical.Provider]*adapter.SyncAdapter
	locks    map[string]*sync.Mutex

	// sem bounds concurrently running sync passes across all connections.
	sem chan struct{}
}

// New builds a facade. maxConcurrent bounds simultaneous sync passes; 0
// falls back to 4.
func New(connections *connection.Service, conflicts *conflict.Engine, notifier *webhook.Notifier, maxConcurrent int, log zerolog.Logger) *Facade {
	if maxConcurrent < 1 {
		maxConcurrent = 4
	}
	return &Facade{
		connections: connections,
		conflicts:   conflicts,
		notifier:    notifier,
		log:         log.With().Str("component", "facade").Logger(),
		adapters:    map[canonical.Provider]*adapter.SyncAdapter{},
		locks:       map[string]*sync.Mutex{},
		sem:         make(chan struct{}, maxConcurrent),
	}
}

// RegisterAdapter adds a vendor adapter to the registry. Registering the
// same provider twice replaces the earlier adapter.
func (f *Facade) RegisterAdapter(a *adapter.SyncAdapter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adapters[a.Provider()] = a
}

// Providers lists the configured vendors.
func (f *Facade) Providers() []canonical.Provider {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]canonical.Provider, 0, len(f.adapters))
	for p := range f.adapters {
		out = append(out, p)
	}
	return out
}

func (f *Facade) adapterFor(provider canonical.Provider) (*adapter.SyncAdapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("%s: %w", provider, ErrProviderNotConfigured)
	}
	return a, nil
}

func (f *Facade) lockFor(patientID uuid.UUID, provider canonical.Provider) *sync.Mutex {
	key := patientID.String() + "/" + string(provider)
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locks[key]
	if !ok {
		l = &sync.Mutex{}
		f.locks[key] = l
	}
	return l
}

// InitializeConnection creates or reactivates the connection for a patient
// and provider. The provider must have a registered adapter.
func (f *Facade) InitializeConnection(ctx context.Context, patientID uuid.UUID, provider canonical.Provider, vendorPatientID, credentialRef string) (*connection.EHRConnection, error) {
	if _, err := f.adapterFor(provider); err != nil {
		return nil, err
	}
	return f.connections.Initialize(ctx, patientID, provider, vendorPatientID, credentialRef)
}

// GetConnectionStatus returns the connection record regardless of state.
func (f *Facade) GetConnectionStatus(ctx context.Context, patientID uuid.UUID, provider canonical.Provider) (*connection.EHRConnection, error) {
	return f.connections.Get(ctx, patientID, provider)
}

// ListConnections returns every connection of a patient.
func (f *Facade) ListConnections(ctx context.Context, patientID uuid.UUID) ([]*connection.EHRConnection, error) {
	return f.connections.ListByPatient(ctx, patientID)
}

// Disconnect deactivates a connection. The record and its sync history
// remain.
func (f *Facade) Disconnect(ctx context.Context, patientID uuid.UUID, provider canonical.Provider) error {
	return f.connections.Disconnect(ctx, patientID, provider)
}

// SearchPatients runs a demographic search against one vendor and returns
// normalized hits.
func (f *Facade) SearchPatients(ctx context.Context, provider canonical.Provider, query string) ([]map[string]interface{}, error) {
	a, err := f.adapterFor(provider)
	if err != nil {
		return nil, err
	}
	return a.SearchVendorPatients(ctx, query)
}

// GetPatient reads the patient's record from the vendor without touching
// local storage.
func (f *Facade) GetPatient(ctx context.Context, patientID uuid.UUID, provider canonical.Provider) (map[string]interface{}, error) {
	items, err := f.fetch(ctx, patientID, provider, canonical.ResourcePatient)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("vendor returned no mappable patient record")
	}
	return items[0], nil
}

// GetEncounters reads the patient's encounters from the vendor.
func (f *Facade) GetEncounters(ctx context.Context, patientID uuid.UUID, provider canonical.Provider) ([]map[string]interface{}, error) {
	return f.fetch(ctx, patientID, provider, canonical.ResourceEncounter)
}

// GetObservations reads the patient's observations from the vendor.
func (f *Facade) GetObservations(ctx context.Context, patientID uuid.UUID, provider canonical.Provider) ([]map[string]interface{}, error) {
	return f.fetch(ctx, patientID, provider, canonical.ResourceObservation)
}

// GetMedications reads the patient's medications from the vendor.
func (f *Facade) GetMedications(ctx context.Context, patientID uuid.UUID, provider canonical.Provider) ([]map[string]interface{}, error) {
	return f.fetch(ctx, patientID, provider, canonical.ResourceMedication)
}

// GetAllergies reads the patient's allergies from the vendor.
func (f *Facade) GetAllergies(ctx context.Context, patientID uuid.UUID, provider canonical.Provider) ([]map[string]interface{}, error) {
	return f.fetch(ctx, patientID, provider, canonical.ResourceAllergy)
}

// GetConditions reads the patient's conditions from the vendor.
func (f *Facade) GetConditions(ctx context.Context, patientID uuid.UUID, provider canonical.Provider) ([]map[string]interface{}, error) {
	return f.fetch(ctx, patientID, provider, canonical.ResourceCondition)
}

func (f *Facade) fetch(ctx context.Context, patientID uuid.UUID, provider canonical.Provider, rt canonical.ResourceType) ([]map[string]interface{}, error) {
	a, err := f.adapterFor(provider)
	if err != nil {
		return nil, err
	}
	conn, err := f.connections.GetActive(ctx, patientID, provider)
	if err != nil {
		return nil, err
	}
	return a.FetchVendorResources(ctx, rt, conn.VendorPatientID)
}

// SyncPatientData runs one sync pass for a connection. Passes for the same
// connection are serialized both in-process and through the connection's
// sync flag; a second caller gets ErrSyncInProgress instead of waiting.
func (f *Facade) SyncPatientData(ctx context.Context, patientID uuid.UUID, provider canonical.Provider, direction Direction) (*adapter.SyncResult, error) {
	a, err := f.adapterFor(provider)
	if err != nil {
		return nil, err
	}

	lock := f.lockFor(patientID, provider)
	if !lock.TryLock() {
		return nil, connection.ErrSyncInProgress
	}
	defer lock.Unlock()

	select {
	case f.sem <- struct{}{}:
		defer func() { <-f.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	conn, err := f.connections.BeginSync(ctx, patientID, provider)
	if err != nil {
		return nil, err
	}

	result := f.runPass(ctx, a, conn, direction)

	var syncErr string
	if !result.Success {
		syncErr = firstError(result.Errors)
	}
	if err := f.connections.EndSync(ctx, conn.ID, syncErr); err != nil {
		f.log.Error().Err(err).Str("connection_id", conn.ID.String()).Msg("failed to release sync flag")
	}

	f.notifySync(ctx, patientID, provider, result)
	return result, nil
}

func (f *Facade) runPass(ctx context.Context, a *adapter.SyncAdapter, conn *connection.EHRConnection, direction Direction) *adapter.SyncResult {
	var results []*adapter.SyncResult
	if direction == DirectionInbound || direction == DirectionFull {
		results = append(results, a.SyncInbound(ctx, conn.PatientID, conn.VendorPatientID))
	}
	if direction == DirectionOutbound || direction == DirectionFull {
		out := a.SyncOutbound(ctx, conn.PatientID, conn.VendorPatientID)
		if out.VendorPatientID != "" && out.VendorPatientID != conn.VendorPatientID {
			if err := f.connections.RecordVendorPatientID(ctx, conn.ID, out.VendorPatientID); err != nil {
				f.log.Error().Err(err).Str("connection_id", conn.ID.String()).Msg("failed to record vendor patient id")
			}
		}
		results = append(results, out)
	}
	return mergeResults(results)
}

func mergeResults(results []*adapter.SyncResult) *adapter.SyncResult {
	if len(results) == 1 {
		return results[0]
	}
	merged := *results[0]
	for _, r := range results[1:] {
		merged.ResourcesProcessed += r.ResourcesProcessed
		merged.ResourcesSucceeded += r.ResourcesSucceeded
		merged.ResourcesFailed += r.ResourcesFailed
		merged.ConflictsDetected += r.ConflictsDetected
		merged.ConflictsResolved += r.ConflictsResolved
		merged.Conflicts = append(merged.Conflicts, r.Conflicts...)
		merged.Errors = append(merged.Errors, r.Errors...)
		merged.Warnings = append(merged.Warnings, r.Warnings...)
		merged.Success = merged.Success && r.Success
		if r.VendorPatientID != "" {
			merged.VendorPatientID = r.VendorPatientID
		}
		if r.FinishedAt.After(merged.FinishedAt) {
			merged.FinishedAt = r.FinishedAt
		}
	}
	merged.Direction = ""
	return &merged
}

func firstError(errs []string) string {
	if len(errs) == 0 {
		return "sync failed"
	}
	return errs[0]
}

func (f *Facade) notifySync(ctx context.Context, patientID uuid.UUID, provider canonical.Provider, result *adapter.SyncResult) {
	if f.notifier == nil || !f.notifier.Enabled() {
		return
	}

	var open []*conflict.DataConflict
	for _, c := range result.Conflicts {
		if !c.Status.Terminal() {
			open = append(open, c)
		}
	}
	if len(open) > 0 {
		payload, err := json.Marshal(open)
		if err == nil {
			f.deliver(ctx, webhook.Event{
				Type:      "conflict.detected",
				PatientID: patientID,
				Provider:  string(provider),
				Payload:   payload,
			})
		}
	}

	eventType := "sync.completed"
	if !result.Success {
		eventType = "sync.failed"
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	f.deliver(ctx, webhook.Event{
		Type:      eventType,
		PatientID: patientID,
		Provider:  string(provider),
		Payload:   payload,
	})
}

func (f *Facade) deliver(ctx context.Context, event webhook.Event) {
	// Delivery failures never fail the sync that triggered them.
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := f.notifier.Notify(ctx, event); err != nil {
		f.log.Warn().Err(err).Str("event_type", event.Type).Msg("notification delivery failed")
	}
}

// ListPendingConflicts pages every open conflict for reviewer queues.
func (f *Facade) ListPendingConflicts(ctx context.Context, limit, offset int) ([]*conflict.DataConflict, int, error) {
	return f.conflicts.ListPending(ctx, limit, offset)
}

// ResolveConflict applies a strategy to one conflict on behalf of a
// reviewer.
func (f *Facade) ResolveConflict(ctx context.Context, id uuid.UUID, strategy conflict.Strategy, opts conflict.ResolveOptions) (conflict.ResolutionResult, error) {
	return f.conflicts.ResolveByID(ctx, id, strategy, opts)
}

// IgnoreConflict closes a conflict without changing data.
func (f *Facade) IgnoreConflict(ctx context.Context, id uuid.UUID, by, reason string) (*conflict.DataConflict, error) {
	return f.conflicts.Ignore(ctx, id, by, reason)
}

// EscalateConflict moves a conflict into the review queue.
func (f *Facade) EscalateConflict(ctx context.Context, id uuid.UUID) (*conflict.DataConflict, error) {
	return f.conflicts.MarkPendingReview(ctx, id)
}
