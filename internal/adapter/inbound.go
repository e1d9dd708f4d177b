package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehrsync/ehrsync/internal/canonical"
	"github.com/ehrsync/ehrsync/internal/conflict"
	"github.com/ehrsync/ehrsync/internal/transform"
)

// SyncInbound pulls the patient and every dependent clinical resource from
// the vendor, detects conflicts against the local store, auto-resolves what
// policy allows, and upserts the canonical records. The patient record is
// synchronized first; dependent resource types then run concurrently with
// isolated failure domains, so one bad medication never aborts the pass.
func (a *SyncAdapter) SyncInbound(ctx context.Context, patientID uuid.UUID, vendorPatientID string) *SyncResult {
	result := &SyncResult{
		Provider:  a.provider,
		Direction: transform.DirectionInbound,
		StartedAt: time.Now().UTC(),
	}
	if vendorPatientID == "" {
		result.fail("no vendor patient identifier on connection")
		return result.finish()
	}

	payload, err := a.gw.GetPatient(ctx, vendorPatientID)
	if err != nil {
		result.fail("fetch patient: %v", err)
		a.recordAudit(ctx, "sync.inbound", patientID, canonical.ResourcePatient, vendorPatientID, "failure", err.Error())
		return result.finish()
	}

	result.ResourcesProcessed++
	if err := a.inboundPatient(ctx, patientID, vendorPatientID, payload, result); err != nil {
		result.ResourcesFailed++
		result.fail("patient: %v", err)
		a.recordAudit(ctx, "sync.inbound", patientID, canonical.ResourcePatient, vendorPatientID, "failure", err.Error())
		return result.finish()
	}
	result.ResourcesSucceeded++

	a.inboundDependents(ctx, patientID, vendorPatientID, result)

	outcome := "success"
	if result.ResourcesFailed > 0 {
		outcome = "partial"
	}
	a.recordAudit(ctx, "sync.inbound", patientID, canonical.ResourcePatient, vendorPatientID, outcome,
		fmt.Sprintf("%d/%d resources, %d conflicts (%d auto-resolved)",
			result.ResourcesSucceeded, result.ResourcesProcessed, result.ConflictsDetected, result.ConflictsResolved))
	return result.finish()
}

func (a *SyncAdapter) inboundPatient(ctx context.Context, patientID uuid.UUID, vendorPatientID string, payload map[string]interface{}, result *SyncResult) error {
	res := a.inboundTransform(payload, canonical.ResourcePatient)
	if !res.Success {
		return fmt.Errorf("transform failed: %v", res.ErrorStrings())
	}
	result.Warnings = append(result.Warnings, res.WarningStrings()...)
	fields := res.Data

	vendorID := extractVendorID(payload)
	if vendorID == "" {
		vendorID = vendorPatientID
	}

	return a.tx(ctx, func(ctx context.Context) error {
		existing, err := a.findPatient(ctx, patientID, vendorID, fields)
		if err != nil {
			return err
		}
		if existing != nil {
			conflicts, resolved, err := a.reconcile(ctx, canonical.ResourcePatient, existing.ID, existing.Fields(), existing.UpdatedAt, fields, extractRemoteTimestamp(payload))
			if err != nil {
				return err
			}
			result.ConflictsDetected += len(conflicts)
			result.ConflictsResolved += resolved
			result.Conflicts = append(result.Conflicts, conflicts...)
		}

		p, err := canonical.PatientFromFields(fields)
		if err != nil {
			return fmt.Errorf("rebuild patient: %w", err)
		}
		p.ProviderIDs = canonical.ProviderIDs{}
		if existing != nil {
			p.ID = existing.ID
			for prov, id := range existing.ProviderIDs {
				p.ProviderIDs[prov] = id
			}
		} else {
			p.ID = patientID
		}
		p.ProviderIDs[a.provider] = vendorID
		if existing != nil {
			return a.stores.Patients.Update(ctx, p)
		}
		return a.stores.Patients.Create(ctx, p)
	})
}

// findPatient locates the local record for an inbound payload. The stored
// vendor mapping wins; the MRN is the fallback linkage for first contact.
func (a *SyncAdapter) findPatient(ctx context.Context, patientID uuid.UUID, vendorID string, fields map[string]interface{}) (*canonical.PatientRecord, error) {
	p, err := a.stores.Patients.GetByProviderID(ctx, a.provider, vendorID)
	if err == nil {
		return p, nil
	}
	if !notFound(err) {
		return nil, err
	}
	if patientID != uuid.Nil {
		p, err = a.stores.Patients.GetByID(ctx, patientID)
		if err == nil {
			return p, nil
		}
		if !notFound(err) {
			return nil, err
		}
	}
	if mrn, ok := fields["mrn"].(string); ok && mrn != "" {
		p, err = a.stores.Patients.GetByMRN(ctx, mrn)
		if err == nil {
			return p, nil
		}
		if !notFound(err) {
			return nil, err
		}
	}
	return nil, nil
}

func (a *SyncAdapter) inboundDependents(ctx context.Context, patientID uuid.UUID, vendorPatientID string, result *SyncResult) {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, rt := range a.quirks.dependentTypes() {
		h, ok := a.handlers[rt]
		if !ok || h == nil {
			continue
		}
		wg.Add(1)
		go func(rt canonical.ResourceType, h resourceHandler) {
			defer wg.Done()
			payloads, err := a.gw.ListResources(ctx, rt, vendorPatientID)
			if err != nil {
				mu.Lock()
				result.fail("%s: fetch: %v", rt, err)
				mu.Unlock()
				return
			}
			for _, payload := range payloads {
				conflicts, resolved, warnings, err := a.inboundResource(ctx, h, patientID, payload)
				mu.Lock()
				result.ResourcesProcessed++
				if err != nil {
					result.ResourcesFailed++
					result.fail("%s: %v", rt, err)
				} else {
					result.ResourcesSucceeded++
				}
				result.ConflictsDetected += len(conflicts)
				result.ConflictsResolved += resolved
				result.Conflicts = append(result.Conflicts, conflicts...)
				result.Warnings = append(result.Warnings, warnings...)
				mu.Unlock()
			}
		}(rt, h)
	}
	wg.Wait()
}

func (a *SyncAdapter) inboundResource(ctx context.Context, h resourceHandler, patientID uuid.UUID, payload map[string]interface{}) ([]*conflict.DataConflict, int, []string, error) {
	res := a.inboundTransform(payload, h.Type())
	if !res.Success {
		return nil, 0, nil, fmt.Errorf("transform failed: %v", res.ErrorStrings())
	}
	fields := res.Data
	vendorID := extractVendorID(payload)

	var (
		conflicts []*conflict.DataConflict
		resolved  int
	)
	err := a.tx(ctx, func(ctx context.Context) error {
		existing, err := h.Find(ctx, patientID, a.provider, vendorID, fields)
		if err != nil && !notFound(err) {
			return err
		}
		if existing != nil {
			conflicts, resolved, err = a.reconcile(ctx, h.Type(), existing.ID, existing.Fields, existing.UpdatedAt, fields, extractRemoteTimestamp(payload))
			if err != nil {
				return err
			}
		}
		_, err = h.Upsert(ctx, patientID, a.provider, vendorID, fields, existing)
		return err
	})
	if err != nil {
		return nil, 0, nil, err
	}
	return conflicts, resolved, res.WarningStrings(), nil
}

// reconcile detects divergence between the local fields and the incoming
// ones, auto-resolves what policy allows, and rewrites the incoming map so
// the upsert honors every outcome: resolved fields carry the winning value,
// unresolved fields keep the local value until a reviewer decides.
// remoteUpdated is the vendor record's own update instant; without it the
// fetch time stands in, which makes recency comparisons favor the remote.
func (a *SyncAdapter) reconcile(ctx context.Context, rt canonical.ResourceType, resourceID uuid.UUID,
	localFields map[string]interface{}, localUpdated time.Time, incoming map[string]interface{},
	remoteUpdated *time.Time) ([]*conflict.DataConflict, int, error) {

	if remoteUpdated == nil {
		now := time.Now().UTC()
		remoteUpdated = &now
	}
	det, err := a.conflicts.DetectConflicts(ctx, rt, resourceID, a.provider, localFields, incoming, conflict.DetectOptions{
		IgnoreFields:    a.quirks.IgnoreFields,
		SensitiveFields: a.quirks.SensitiveFields,
		LocalTimestamp:  &localUpdated,
		RemoteTimestamp: remoteUpdated,
	})
	if err != nil {
		return nil, 0, err
	}
	if !det.HasConflicts {
		return nil, 0, nil
	}

	resolutions, err := a.conflicts.AutoResolveConflicts(ctx, rt, resourceID)
	if err != nil {
		return det.Conflicts, 0, err
	}
	settled := make(map[string]conflict.ResolutionResult, len(resolutions))
	resolved := 0
	for _, r := range resolutions {
		if r.Success {
			settled[r.Field] = r
			resolved++
		}
	}
	for _, c := range det.Conflicts {
		if r, ok := settled[c.Field]; ok {
			// The engine resolved fresh copies loaded from the store;
			// mirror the outcome here so callers never see an
			// auto-resolved conflict reported as still open.
			c.Status = conflict.StatusResolved
			if r.ResolvedValue == nil {
				delete(incoming, c.Field)
			} else {
				incoming[c.Field] = r.ResolvedValue
			}
			continue
		}
		if lv, ok := localFields[c.Field]; ok {
			incoming[c.Field] = lv
		} else {
			delete(incoming, c.Field)
		}
	}
	return det.Conflicts, resolved, nil
}
