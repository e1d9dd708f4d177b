package canonical

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PatientRepository persists canonical patient records.
type PatientRepository interface {
	Create(ctx context.Context, p *PatientRecord) error
	Update(ctx context.Context, p *PatientRecord) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*PatientRecord, error)
	GetByMRN(ctx context.Context, mrn string) (*PatientRecord, error)
	GetByProviderID(ctx context.Context, provider Provider, externalID string) (*PatientRecord, error)
	List(ctx context.Context, limit, offset int) ([]*PatientRecord, int, error)
}

// EncounterRepository persists canonical encounters.
type EncounterRepository interface {
	Create(ctx context.Context, e *Encounter) error
	Update(ctx context.Context, e *Encounter) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error)
	GetByProviderID(ctx context.Context, provider Provider, externalID string) (*Encounter, error)
	// GetByNaturalKey matches an encounter with no known provider identifier
	// against class and start time within one patient.
	GetByNaturalKey(ctx context.Context, patientID uuid.UUID, class string, startedAt *time.Time) (*Encounter, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Encounter, error)
}

// ObservationRepository persists canonical observations.
type ObservationRepository interface {
	Create(ctx context.Context, o *Observation) error
	Update(ctx context.Context, o *Observation) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*Observation, error)
	GetByProviderID(ctx context.Context, provider Provider, externalID string) (*Observation, error)
	GetByNaturalKey(ctx context.Context, patientID uuid.UUID, code string, effectiveAt *time.Time) (*Observation, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Observation, error)
}

// MedicationRepository persists canonical medications.
type MedicationRepository interface {
	Create(ctx context.Context, m *Medication) error
	Update(ctx context.Context, m *Medication) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*Medication, error)
	GetByProviderID(ctx context.Context, provider Provider, externalID string) (*Medication, error)
	GetByNaturalKey(ctx context.Context, patientID uuid.UUID, code string) (*Medication, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Medication, error)
}

// AllergyRepository persists canonical allergies.
type AllergyRepository interface {
	Create(ctx context.Context, a *Allergy) error
	Update(ctx context.Context, a *Allergy) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*Allergy, error)
	GetByProviderID(ctx context.Context, provider Provider, externalID string) (*Allergy, error)
	GetByNaturalKey(ctx context.Context, patientID uuid.UUID, substance string) (*Allergy, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Allergy, error)
}

// ConditionRepository persists canonical conditions.
type ConditionRepository interface {
	Create(ctx context.Context, c *Condition) error
	Update(ctx context.Context, c *Condition) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*Condition, error)
	GetByProviderID(ctx context.Context, provider Provider, externalID string) (*Condition, error)
	GetByNaturalKey(ctx context.Context, patientID uuid.UUID, code string) (*Condition, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Condition, error)
}
