// Package adapter runs the synchronization flow between the canonical
// store and one vendor connection. A single implementation serves every
// vendor; per-vendor behavior lives in the gateway configuration, the
// field maps, and a small Quirks struct.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehrsync/ehrsync/internal/canonical"
	"github.com/ehrsync/ehrsync/internal/conflict"
	"github.com/ehrsync/ehrsync/internal/gateway"
	"github.com/ehrsync/ehrsync/internal/platform/audit"
	"github.com/ehrsync/ehrsync/internal/transform"
)

// Quirks captures the vendor behaviors the generic flow parameterizes on.
// Everything else a vendor does differently is expressed in its gateway
// config and field maps.
type Quirks struct {
	// PreserveUnmapped keeps vendor-only fields on inbound transforms.
	PreserveUnmapped bool
	// IgnoreFields are excluded from conflict detection for this vendor.
	IgnoreFields []string
	// SensitiveFields force CRITICAL severity during detection.
	SensitiveFields []string
	// DependentTypes restricts which clinical resources the vendor
	// exposes. Empty means all of them.
	DependentTypes []canonical.ResourceType
}

func (q Quirks) dependentTypes() []canonical.ResourceType {
	if len(q.DependentTypes) > 0 {
		return q.DependentTypes
	}
	return canonical.DependentResources()
}

// SyncResult reports the outcome of one sync pass. A pass succeeds when
// every resource it touched succeeded; per-resource failures are isolated
// and counted rather than aborting the pass.
type SyncResult struct {
	Provider           canonical.Provider        `json:"provider"`
	Direction          transform.Direction       `json:"direction"`
	Success            bool                      `json:"success"`
	ResourcesProcessed int                       `json:"resources_processed"`
	ResourcesSucceeded int                       `json:"resources_succeeded"`
	ResourcesFailed    int                       `json:"resources_failed"`
	ConflictsDetected  int                       `json:"conflicts_detected"`
	ConflictsResolved  int                       `json:"conflicts_resolved"`
	Conflicts          []*conflict.DataConflict  `json:"conflicts,omitempty"`
	Errors             []string                  `json:"errors,omitempty"`
	Warnings           []string                  `json:"warnings,omitempty"`
	VendorPatientID    string                    `json:"vendor_patient_id,omitempty"`
	StartedAt          time.Time                 `json:"started_at"`
	FinishedAt         time.Time                 `json:"finished_at"`
}

func (r *SyncResult) fail(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *SyncResult) warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *SyncResult) finish() *SyncResult {
	r.FinishedAt = time.Now().UTC()
	r.Success = len(r.Errors) == 0 && r.ResourcesFailed == 0
	return r
}

// TxRunner wraps a function in a storage transaction. The pass-through
// runner is used in tests.
type TxRunner func(ctx context.Context, fn func(context.Context) error) error

func passthroughTx(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }

// Config wires one SyncAdapter.
type Config struct {
	Provider    canonical.Provider
	Gateway     gateway.Gateway
	Transformer *transform.Service
	Conflicts   *conflict.Engine
	Stores      Stores
	Quirks      Quirks
	Tx          TxRunner
	Audit       audit.Sink
	Log         zerolog.Logger
}

// SyncAdapter moves patient data between the canonical store and one
// vendor. It is safe for concurrent use across distinct patients; the
// facade serializes passes per connection.
type SyncAdapter struct {
	provider    canonical.Provider
	gw          gateway.Gateway
	transformer *transform.Service
	conflicts   *conflict.Engine
	stores      Stores
	handlers    map[canonical.ResourceType]resourceHandler
	quirks      Quirks
	tx          TxRunner
	audit       audit.Sink
	log         zerolog.Logger
}

// New validates the configuration and builds the adapter.
func New(cfg Config) (*SyncAdapter, error) {
	if !cfg.Provider.Valid() {
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if cfg.Transformer == nil {
		return nil, fmt.Errorf("transformer is required")
	}
	if cfg.Conflicts == nil {
		return nil, fmt.Errorf("conflict engine is required")
	}
	if cfg.Stores.Patients == nil {
		return nil, fmt.Errorf("patient store is required")
	}
	if cfg.Tx == nil {
		cfg.Tx = passthroughTx
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.NopSink{}
	}
	return &SyncAdapter{
		provider:    cfg.Provider,
		gw:          cfg.Gateway,
		transformer: cfg.Transformer,
		conflicts:   cfg.Conflicts,
		stores:      cfg.Stores,
		handlers:    cfg.Stores.handlers(),
		quirks:      cfg.Quirks,
		tx:          cfg.Tx,
		audit:       cfg.Audit,
		log:         cfg.Log.With().Str("component", "sync_adapter").Str("provider", string(cfg.Provider)).Logger(),
	}, nil
}

// Provider reports which vendor this adapter serves.
func (a *SyncAdapter) Provider() canonical.Provider { return a.provider }

// SearchVendorPatients runs a demographic search on the vendor side and
// normalizes the hits so callers never see vendor payload shapes.
func (a *SyncAdapter) SearchVendorPatients(ctx context.Context, query string) ([]map[string]interface{}, error) {
	hits, err := a.gw.SearchPatients(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search %s patients: %w", a.provider, err)
	}
	out := make([]map[string]interface{}, 0, len(hits))
	for _, hit := range hits {
		res := a.inboundTransform(hit, canonical.ResourcePatient)
		if !res.Success {
			a.log.Debug().Strs("errors", res.ErrorStrings()).Msg("dropping unmappable search hit")
			continue
		}
		if id := extractVendorID(hit); id != "" {
			res.Data["vendor_patient_id"] = id
		}
		out = append(out, res.Data)
	}
	return out, nil
}

// FetchVendorResources reads one resource collection from the vendor and
// returns the payloads in canonical shape without writing anything.
func (a *SyncAdapter) FetchVendorResources(ctx context.Context, rt canonical.ResourceType, vendorPatientID string) ([]map[string]interface{}, error) {
	payloads, err := a.gw.ListResources(ctx, rt, vendorPatientID)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s: %w", a.provider, rt, err)
	}
	out := make([]map[string]interface{}, 0, len(payloads))
	for _, p := range payloads {
		res := a.inboundTransform(p, rt)
		if !res.Success {
			a.log.Debug().Str("resource_type", string(rt)).Strs("errors", res.ErrorStrings()).Msg("dropping unmappable payload")
			continue
		}
		out = append(out, res.Data)
	}
	return out, nil
}

func (a *SyncAdapter) inboundTransform(payload map[string]interface{}, rt canonical.ResourceType) transform.Result {
	var source interface{} = payload
	if a.gw.Format() == transform.FormatHL7v2 {
		// The proprietary gateway wraps raw HL7 messages; the codec wants
		// them unwrapped.
		source = payload["hl7_message"]
	}
	return a.transformer.Transform(source, transform.Context{
		Provider:     a.provider,
		ResourceType: rt,
		Direction:    transform.DirectionInbound,
		SourceFormat: a.gw.Format(),
		TargetFormat: transform.FormatCanonical,
		Options: transform.Options{
			PreserveUnmapped: a.quirks.PreserveUnmapped,
		},
	})
}

func (a *SyncAdapter) outboundTransform(fields map[string]interface{}, rt canonical.ResourceType) transform.Result {
	return a.transformer.Transform(fields, transform.Context{
		Provider:     a.provider,
		ResourceType: rt,
		Direction:    transform.DirectionOutbound,
		SourceFormat: transform.FormatCanonical,
		TargetFormat: a.gw.Format(),
		Options: transform.Options{
			StrictMode:     true,
			ValidateOutput: true,
		},
	})
}

// extractVendorID pulls the vendor's own identifier out of a raw payload.
// FHIR resources carry "id"; the proprietary vendors use a handful of
// well-known keys. HL7 payloads carry none and fall back to natural keys.
func extractVendorID(payload map[string]interface{}) string {
	for _, key := range []string{"id", "ID", "Id", "person_id", "PatientID", "patient_id", "Mrn", "MRN"} {
		switch v := payload[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

// extractRemoteTimestamp reads the vendor record's own update instant out
// of a raw payload. FHIR resources carry meta.lastUpdated; the proprietary
// vendors use a few well-known keys. Returns nil when the payload carries
// no usable instant.
func extractRemoteTimestamp(payload map[string]interface{}) *time.Time {
	var candidates []interface{}
	if meta, ok := payload["meta"].(map[string]interface{}); ok {
		candidates = append(candidates, meta["lastUpdated"])
	}
	for _, key := range []string{"lastUpdated", "last_updated", "updated_at", "LastModified"} {
		candidates = append(candidates, payload[key])
	}
	for _, v := range candidates {
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func (a *SyncAdapter) recordAudit(ctx context.Context, action string, patientID uuid.UUID, rt canonical.ResourceType, resourceID, outcome, detail string) {
	err := a.audit.Record(ctx, audit.Event{
		Action:       action,
		PatientID:    patientID,
		Provider:     string(a.provider),
		ResourceType: string(rt),
		ResourceID:   resourceID,
		Actor:        "system",
		Outcome:      outcome,
		Detail:       detail,
	})
	if err != nil {
		a.log.Error().Err(err).Str("action", action).Msg("audit record failed")
	}
}
