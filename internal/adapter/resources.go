package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ehrsync/ehrsync/internal/canonical"
)

// localRecord is the store-agnostic view the sync flow works with: the
// record's identity, its flat field map, and its per-provider identifiers.
type localRecord struct {
	ID          uuid.UUID
	Fields      map[string]interface{}
	ProviderIDs canonical.ProviderIDs
	UpdatedAt   time.Time
}

// resourceHandler adapts one canonical repository to the generic sync flow.
// Find matches by vendor identifier first, then by the type's natural key.
type resourceHandler interface {
	Type() canonical.ResourceType
	Find(ctx context.Context, patientID uuid.UUID, provider canonical.Provider, vendorID string, fields map[string]interface{}) (*localRecord, error)
	Upsert(ctx context.Context, patientID uuid.UUID, provider canonical.Provider, vendorID string, fields map[string]interface{}, existing *localRecord) (uuid.UUID, error)
	ListLocal(ctx context.Context, patientID uuid.UUID) ([]*localRecord, error)
	SetProviderID(ctx context.Context, id uuid.UUID, provider canonical.Provider, vendorID string) error
}

func notFound(err error) bool { return errors.Is(err, pgx.ErrNoRows) }

// Stores bundles the canonical repositories the adapter writes through.
type Stores struct {
	Patients     canonical.PatientRepository
	Encounters   canonical.EncounterRepository
	Observations canonical.ObservationRepository
	Medications  canonical.MedicationRepository
	Allergies    canonical.AllergyRepository
	Conditions   canonical.ConditionRepository
}

func (s Stores) handlers() map[canonical.ResourceType]resourceHandler {
	out := make(map[canonical.ResourceType]resourceHandler, 5)
	if s.Encounters != nil {
		out[canonical.ResourceEncounter] = &encounterHandler{repo: s.Encounters}
	}
	if s.Observations != nil {
		out[canonical.ResourceObservation] = &observationHandler{repo: s.Observations}
	}
	if s.Medications != nil {
		out[canonical.ResourceMedication] = &medicationHandler{repo: s.Medications}
	}
	if s.Allergies != nil {
		out[canonical.ResourceAllergy] = &allergyHandler{repo: s.Allergies}
	}
	if s.Conditions != nil {
		out[canonical.ResourceCondition] = &conditionHandler{repo: s.Conditions}
	}
	return out
}

// -- Encounter --

type encounterHandler struct{ repo canonical.EncounterRepository }

func (h *encounterHandler) Type() canonical.ResourceType { return canonical.ResourceEncounter }

func (h *encounterHandler) Find(ctx context.Context, patientID uuid.UUID, provider canonical.Provider, vendorID string, fields map[string]interface{}) (*localRecord, error) {
	if vendorID != "" {
		e, err := h.repo.GetByProviderID(ctx, provider, vendorID)
		if err == nil {
			return &localRecord{ID: e.ID, Fields: e.Fields(), ProviderIDs: e.ProviderIDs, UpdatedAt: e.UpdatedAt}, nil
		}
		if !notFound(err) {
			return nil, err
		}
	}
	probe, err := canonical.EncounterFromFields(fields)
	if err != nil {
		return nil, err
	}
	e, err := h.repo.GetByNaturalKey(ctx, patientID, probe.Class, probe.StartedAt)
	if err != nil {
		return nil, err
	}
	return &localRecord{ID: e.ID, Fields: e.Fields(), ProviderIDs: e.ProviderIDs, UpdatedAt: e.UpdatedAt}, nil
}

func (h *encounterHandler) Upsert(ctx context.Context, patientID uuid.UUID, provider canonical.Provider, vendorID string, fields map[string]interface{}, existing *localRecord) (uuid.UUID, error) {
	e, err := canonical.EncounterFromFields(fields)
	if err != nil {
		return uuid.Nil, err
	}
	e.PatientID = patientID
	e.ProviderIDs = canonical.ProviderIDs{}
	if existing != nil {
		e.ID = existing.ID
		for p, id := range existing.ProviderIDs {
			e.ProviderIDs[p] = id
		}
	}
	if vendorID != "" {
		e.ProviderIDs[provider] = vendorID
	}
	if existing != nil {
		return e.ID, h.repo.Update(ctx, e)
	}
	return e.ID, h.repo.Create(ctx, e)
}

func (h *encounterHandler) ListLocal(ctx context.Context, patientID uuid.UUID) ([]*localRecord, error) {
	items, err := h.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	out := make([]*localRecord, 0, len(items))
	for _, e := range items {
		out = append(out, &localRecord{ID: e.ID, Fields: e.Fields(), ProviderIDs: e.ProviderIDs, UpdatedAt: e.UpdatedAt})
	}
	return out, nil
}

func (h *encounterHandler) SetProviderID(ctx context.Context, id uuid.UUID, provider canonical.Provider, vendorID string) error {
	e, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if e.ProviderIDs == nil {
		e.ProviderIDs = canonical.ProviderIDs{}
	}
	e.ProviderIDs[provider] = vendorID
	return h.repo.Update(ctx, e)
}

// -- Observation --

type observationHandler struct{ repo canonical.ObservationRepository }

func (h *observationHandler) Type() canonical.ResourceType { return canonical.ResourceObservation }

func (h *observationHandler) Find(ctx context.Context, patientID uuid.UUID, provider canonical.Provider, vendorID string, fields map[string]interface{}) (*localRecord, error) {
	if vendorID != "" {
		o, err := h.repo.GetByProviderID(ctx, provider, vendorID)
		if err == nil {
			return &localRecord{ID: o.ID, Fields: o.Fields(), ProviderIDs: o.ProviderIDs, UpdatedAt: o.UpdatedAt}, nil
		}
		if !notFound(err) {
			return nil, err
		}
	}
	probe, err := canonical.ObservationFromFields(fields)
	if err != nil {
		return nil, err
	}
	o, err := h.repo.GetByNaturalKey(ctx, patientID, probe.Code, probe.EffectiveAt)
	if err != nil {
		return nil, err
	}
	return &localRecord{ID: o.ID, Fields: o.Fields(), ProviderIDs: o.ProviderIDs, UpdatedAt: o.UpdatedAt}, nil
}

func (h *observationHandler) Upsert(ctx context.Context, patientID uuid.UUID, provider canonical.Provider, vendorID string, fields map[string]interface{}, existing *localRecord) (uuid.UUID, error) {
	o, err := canonical.ObservationFromFields(fields)
	if err != nil {
		return uuid.Nil, err
	}
	o.PatientID = patientID
	o.ProviderIDs = canonical.ProviderIDs{}
	if existing != nil {
		o.ID = existing.ID
		for p, id := range existing.ProviderIDs {
			o.ProviderIDs[p] = id
		}
	}
	if vendorID != "" {
		o.ProviderIDs[provider] = vendorID
	}
	if existing != nil {
		return o.ID, h.repo.Update(ctx, o)
	}
	return o.ID, h.repo.Create(ctx, o)
}

func (h *observationHandler) ListLocal(ctx context.Context, patientID uuid.UUID) ([]*localRecord, error) {
	items, err := h.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	out := make([]*localRecord, 0, len(items))
	for _, o := range items {
		out = append(out, &localRecord{ID: o.ID, Fields: o.Fields(), ProviderIDs: o.ProviderIDs, UpdatedAt: o.UpdatedAt})
	}
	return out, nil
}

func (h *observationHandler) SetProviderID(ctx context.Context, id uuid.UUID, provider canonical.Provider, vendorID string) error {
	o, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if o.ProviderIDs == nil {
		o.ProviderIDs = canonical.ProviderIDs{}
	}
	o.ProviderIDs[provider] = vendorID
	return h.repo.Update(ctx, o)
}

// -- Medication --

type medicationHandler struct{ repo canonical.MedicationRepository }

func (h *medicationHandler) Type() canonical.ResourceType { return canonical.ResourceMedication }

func (h *medicationHandler) Find(ctx context.Context, patientID uuid.UUID, provider canonical.Provider, vendorID string, fields map[string]interface{}) (*localRecord, error) {
	if vendorID != "" {
		m, err := h.repo.GetByProviderID(ctx, provider, vendorID)
		if err == nil {
			return &localRecord{ID: m.ID, Fields: m.Fields(), ProviderIDs: m.ProviderIDs, UpdatedAt: m.UpdatedAt}, nil
		}
		if !notFound(err) {
			return nil, err
		}
	}
	probe, err := canonical.MedicationFromFields(fields)
	if err != nil {
		return nil, err
	}
	m, err := h.repo.GetByNaturalKey(ctx, patientID, probe.Code)
	if err != nil {
		return nil, err
	}
	return &localRecord{ID: m.ID, Fields: m.Fields(), ProviderIDs: m.ProviderIDs, UpdatedAt: m.UpdatedAt}, nil
}

func (h *medicationHandler) Upsert(ctx context.Context, patientID uuid.UUID, provider canonical.Provider, vendorID string, fields map[string]interface{}, existing *localRecord) (uuid.UUID, error) {
	m, err := canonical.MedicationFromFields(fields)
	if err != nil {
		return uuid.Nil, err
	}
	m.PatientID = patientID
	m.ProviderIDs = canonical.ProviderIDs{}
	if existing != nil {
		m.ID = existing.ID
		for p, id := range existing.ProviderIDs {
			m.ProviderIDs[p] = id
		}
	}
	if vendorID != "" {
		m.ProviderIDs[provider] = vendorID
	}
	if existing != nil {
		return m.ID, h.repo.Update(ctx, m)
	}
	return m.ID, h.repo.Create(ctx, m)
}

func (h *medicationHandler) ListLocal(ctx context.Context, patientID uuid.UUID) ([]*localRecord, error) {
	items, err := h.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	out := make([]*localRecord, 0, len(items))
	for _, m := range items {
		out = append(out, &localRecord{ID: m.ID, Fields: m.Fields(), ProviderIDs: m.ProviderIDs, UpdatedAt: m.UpdatedAt})
	}
	return out, nil
}

func (h *medicationHandler) SetProviderID(ctx context.Context, id uuid.UUID, provider canonical.Provider, vendorID string) error {
	m, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if m.ProviderIDs == nil {
		m.ProviderIDs = canonical.ProviderIDs{}
	}
	m.ProviderIDs[provider] = vendorID
	return h.repo.Update(ctx, m)
}

// -- Allergy --

type allergyHandler struct{ repo canonical.AllergyRepository }

func (h *allergyHandler) Type() canonical.ResourceType { return canonical.ResourceAllergy }

func (h *allergyHandler) Find(ctx context.Context, patientID uuid.UUID, provider canonical.Provider, vendorID string, fields map[string]interface{}) (*localRecord, error) {
	if vendorID != "" {
		a, err := h.repo.GetByProviderID(ctx, provider, vendorID)
		if err == nil {
			return &localRecord{ID: a.ID, Fields: a.Fields(), ProviderIDs: a.ProviderIDs, UpdatedAt: a.UpdatedAt}, nil
		}
		if !notFound(err) {
			return nil, err
		}
	}
	probe, err := canonical.AllergyFromFields(fields)
	if err != nil {
		return nil, err
	}
	a, err := h.repo.GetByNaturalKey(ctx, patientID, probe.Substance)
	if err != nil {
		return nil, err
	}
	return &localRecord{ID: a.ID, Fields: a.Fields(), ProviderIDs: a.ProviderIDs, UpdatedAt: a.UpdatedAt}, nil
}

func (h *allergyHandler) Upsert(ctx context.Context, patientID uuid.UUID, provider canonical.Provider, vendorID string, fields map[string]interface{}, existing *localRecord) (uuid.UUID, error) {
	a, err := canonical.AllergyFromFields(fields)
	if err != nil {
		return uuid.Nil, err
	}
	a.PatientID = patientID
	a.ProviderIDs = canonical.ProviderIDs{}
	if existing != nil {
		a.ID = existing.ID
		for p, id := range existing.ProviderIDs {
			a.ProviderIDs[p] = id
		}
	}
	if vendorID != "" {
		a.ProviderIDs[provider] = vendorID
	}
	if existing != nil {
		return a.ID, h.repo.Update(ctx, a)
	}
	return a.ID, h.repo.Create(ctx, a)
}

func (h *allergyHandler) ListLocal(ctx context.Context, patientID uuid.UUID) ([]*localRecord, error) {
	items, err := h.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	out := make([]*localRecord, 0, len(items))
	for _, a := range items {
		out = append(out, &localRecord{ID: a.ID, Fields: a.Fields(), ProviderIDs: a.ProviderIDs, UpdatedAt: a.UpdatedAt})
	}
	return out, nil
}

func (h *allergyHandler) SetProviderID(ctx context.Context, id uuid.UUID, provider canonical.Provider, vendorID string) error {
	a, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if a.ProviderIDs == nil {
		a.ProviderIDs = canonical.ProviderIDs{}
	}
	a.ProviderIDs[provider] = vendorID
	return h.repo.Update(ctx, a)
}

// -- Condition --

type conditionHandler struct{ repo canonical.ConditionRepository }

func (h *conditionHandler) Type() canonical.ResourceType { return canonical.ResourceCondition }

func (h *conditionHandler) Find(ctx context.Context, patientID uuid.UUID, provider canonical.Provider, vendorID string, fields map[string]interface{}) (*localRecord, error) {
	if vendorID != "" {
		c, err := h.repo.GetByProviderID(ctx, provider, vendorID)
		if err == nil {
			return &localRecord{ID: c.ID, Fields: c.Fields(), ProviderIDs: c.ProviderIDs, UpdatedAt: c.UpdatedAt}, nil
		}
		if !notFound(err) {
			return nil, err
		}
	}
	probe, err := canonical.ConditionFromFields(fields)
	if err != nil {
		return nil, err
	}
	c, err := h.repo.GetByNaturalKey(ctx, patientID, probe.Code)
	if err != nil {
		return nil, err
	}
	return &localRecord{ID: c.ID, Fields: c.Fields(), ProviderIDs: c.ProviderIDs, UpdatedAt: c.UpdatedAt}, nil
}

func (h *conditionHandler) Upsert(ctx context.Context, patientID uuid.UUID, provider canonical.Provider, vendorID string, fields map[string]interface{}, existing *localRecord) (uuid.UUID, error) {
	c, err := canonical.ConditionFromFields(fields)
	if err != nil {
		return uuid.Nil, err
	}
	c.PatientID = patientID
	c.ProviderIDs = canonical.ProviderIDs{}
	if existing != nil {
		c.ID = existing.ID
		for p, id := range existing.ProviderIDs {
			c.ProviderIDs[p] = id
		}
	}
	if vendorID != "" {
		c.ProviderIDs[provider] = vendorID
	}
	if existing != nil {
		return c.ID, h.repo.Update(ctx, c)
	}
	return c.ID, h.repo.Create(ctx, c)
}

func (h *conditionHandler) ListLocal(ctx context.Context, patientID uuid.UUID) ([]*localRecord, error) {
	items, err := h.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	out := make([]*localRecord, 0, len(items))
	for _, c := range items {
		out = append(out, &localRecord{ID: c.ID, Fields: c.Fields(), ProviderIDs: c.ProviderIDs, UpdatedAt: c.UpdatedAt})
	}
	return out, nil
}

func (h *conditionHandler) SetProviderID(ctx context.Context, id uuid.UUID, provider canonical.Provider, vendorID string) error {
	c, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if c.ProviderIDs == nil {
		c.ProviderIDs = canonical.ProviderIDs{}
	}
	c.ProviderIDs[provider] = vendorID
	return h.repo.Update(ctx, c)
}
