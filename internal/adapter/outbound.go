package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehrsync/ehrsync/internal/canonical"
	"github.com/ehrsync/ehrsync/internal/transform"
)

// SyncOutbound pushes the canonical patient record and its dependent
// clinical resources to the vendor. Outbound transforms always run strict;
// a record that cannot be fully mapped is counted as failed and skipped
// rather than written half-built. When the vendor assigns a new identifier
// on create, it is stored back on the canonical record and reported in
// the result so the connection can be updated.
func (a *SyncAdapter) SyncOutbound(ctx context.Context, patientID uuid.UUID, vendorPatientID string) *SyncResult {
	result := &SyncResult{
		Provider:  a.provider,
		Direction: transform.DirectionOutbound,
		StartedAt: time.Now().UTC(),
	}

	p, err := a.stores.Patients.GetByID(ctx, patientID)
	if err != nil {
		result.fail("load patient: %v", err)
		return result.finish()
	}

	vendorID := p.ProviderIDs[a.provider]
	if vendorID == "" {
		vendorID = vendorPatientID
	}

	result.ResourcesProcessed++
	vendorID, err = a.outboundPatient(ctx, p, vendorID, result)
	if err != nil {
		result.ResourcesFailed++
		result.fail("patient: %v", err)
		a.recordAudit(ctx, "sync.outbound", patientID, canonical.ResourcePatient, vendorID, "failure", err.Error())
		return result.finish()
	}
	result.ResourcesSucceeded++
	result.VendorPatientID = vendorID

	a.outboundDependents(ctx, patientID, vendorID, result)

	outcome := "success"
	if result.ResourcesFailed > 0 {
		outcome = "partial"
	}
	a.recordAudit(ctx, "sync.outbound", patientID, canonical.ResourcePatient, vendorID, outcome,
		fmt.Sprintf("%d/%d resources", result.ResourcesSucceeded, result.ResourcesProcessed))
	return result.finish()
}

func (a *SyncAdapter) outboundPatient(ctx context.Context, p *canonical.PatientRecord, vendorID string, result *SyncResult) (string, error) {
	res := a.outboundTransform(p.Fields(), canonical.ResourcePatient)
	if !res.Success {
		return vendorID, fmt.Errorf("transform failed: %v", res.ErrorStrings())
	}
	result.Warnings = append(result.Warnings, res.WarningStrings()...)

	if vendorID != "" {
		if err := a.gw.UpdateResource(ctx, canonical.ResourcePatient, vendorID, res.Data); err != nil {
			return vendorID, err
		}
		return vendorID, nil
	}

	created, err := a.gw.CreateResource(ctx, canonical.ResourcePatient, "", res.Data)
	if err != nil {
		return "", err
	}
	if created != "" {
		err = a.tx(ctx, func(ctx context.Context) error {
			fresh, err := a.stores.Patients.GetByID(ctx, p.ID)
			if err != nil {
				return err
			}
			if fresh.ProviderIDs == nil {
				fresh.ProviderIDs = canonical.ProviderIDs{}
			}
			fresh.ProviderIDs[a.provider] = created
			return a.stores.Patients.Update(ctx, fresh)
		})
		if err != nil {
			return created, fmt.Errorf("store vendor identifier: %w", err)
		}
	}
	return created, nil
}

func (a *SyncAdapter) outboundDependents(ctx context.Context, patientID uuid.UUID, vendorPatientID string, result *SyncResult) {
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
			records, err := h.ListLocal(ctx, patientID)
			if err != nil {
				mu.Lock()
				result.fail("%s: list: %v", rt, err)
				mu.Unlock()
				return
			}
			for _, rec := range records {
				err := a.outboundResource(ctx, h, rec, vendorPatientID)
				mu.Lock()
				result.ResourcesProcessed++
				if err != nil {
					result.ResourcesFailed++
					result.fail("%s: %v", rt, err)
				} else {
					result.ResourcesSucceeded++
				}
				mu.Unlock()
			}
		}(rt, h)
	}
	wg.Wait()
}

func (a *SyncAdapter) outboundResource(ctx context.Context, h resourceHandler, rec *localRecord, vendorPatientID string) error {
	res := a.outboundTransform(rec.Fields, h.Type())
	if !res.Success {
		return fmt.Errorf("transform failed: %v", res.ErrorStrings())
	}

	if vendorID := rec.ProviderIDs[a.provider]; vendorID != "" {
		return a.gw.UpdateResource(ctx, h.Type(), vendorID, res.Data)
	}

	created, err := a.gw.CreateResource(ctx, h.Type(), vendorPatientID, res.Data)
	if err != nil {
		return err
	}
	if created == "" {
		return nil
	}
	return a.tx(ctx, func(ctx context.Context) error {
		return h.SetProviderID(ctx, rec.ID, a.provider, created)
	})
}
