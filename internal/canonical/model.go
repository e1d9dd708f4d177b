package canonical

import (
	"time"

	"github.com/google/uuid"
)

// Provider identifies an external EHR vendor.
type Provider string

const (
	ProviderEpic           Provider = "epic"
	ProviderCerner         Provider = "cerner"
	ProviderMeditech       Provider = "meditech"
	ProviderAthenahealth   Provider = "athenahealth"
	ProviderEclinicalworks Provider = "eclinicalworks"
	ProviderAllscripts     Provider = "allscripts"
	ProviderNextgen        Provider = "nextgen"
)

// AllProviders returns every supported provider.
func AllProviders() []Provider {
	return []Provider{
		ProviderEpic, ProviderCerner, ProviderMeditech, ProviderAthenahealth,
		ProviderEclinicalworks, ProviderAllscripts, ProviderNextgen,
	}
}

// Valid reports whether p is a supported provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderEpic, ProviderCerner, ProviderMeditech, ProviderAthenahealth,
		ProviderEclinicalworks, ProviderAllscripts, ProviderNextgen:
		return true
	}
	return false
}

// ResourceType identifies a canonical clinical resource type.
type ResourceType string

const (
	ResourcePatient     ResourceType = "patient"
	ResourceEncounter   ResourceType = "encounter"
	ResourceObservation ResourceType = "observation"
	ResourceMedication  ResourceType = "medication"
	ResourceAllergy     ResourceType = "allergy"
	ResourceCondition   ResourceType = "condition"
)

// DependentResources lists the clinical resources synced after the parent
// patient record, in sync order.
func DependentResources() []ResourceType {
	return []ResourceType{ResourceEncounter, ResourceObservation, ResourceMedication, ResourceAllergy, ResourceCondition}
}

// ProviderIDs maps a provider to the vendor-side identifier of a record.
// Each foreign identifier is unique per provider.
type ProviderIDs map[Provider]string

// PatientRecord is the provider-agnostic patient representation. Exactly one
// canonical record exists per local patient.
type PatientRecord struct {
	ID          uuid.UUID   `db:"id" json:"id"`
	MRN         string      `db:"mrn" json:"mrn"`
	FirstName   string      `db:"first_name" json:"first_name"`
	LastName    string      `db:"last_name" json:"last_name"`
	BirthDate   *time.Time  `db:"birth_date" json:"birth_date,omitempty"`
	Gender      string      `db:"gender" json:"gender,omitempty"`
	AddressLine string      `db:"address_line" json:"address_line,omitempty"`
	City        string      `db:"city" json:"city,omitempty"`
	State       string      `db:"state" json:"state,omitempty"`
	PostalCode  string      `db:"postal_code" json:"postal_code,omitempty"`
	Phone       string      `db:"phone" json:"phone,omitempty"`
	Email       string      `db:"email" json:"email,omitempty"`
	ProviderIDs ProviderIDs `db:"provider_ids" json:"provider_ids,omitempty"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

// Encounter is a canonical clinical encounter.
type Encounter struct {
	ID          uuid.UUID   `db:"id" json:"id"`
	PatientID   uuid.UUID   `db:"patient_id" json:"patient_id"`
	Class       string      `db:"class" json:"class,omitempty"` // ambulatory, inpatient, emergency
	Status      string      `db:"status" json:"status"`
	Reason      string      `db:"reason" json:"reason,omitempty"`
	Location    string      `db:"location" json:"location,omitempty"`
	StartedAt   *time.Time  `db:"started_at" json:"started_at,omitempty"`
	EndedAt     *time.Time  `db:"ended_at" json:"ended_at,omitempty"`
	ProviderIDs ProviderIDs `db:"provider_ids" json:"provider_ids,omitempty"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

// Observation is a canonical clinical observation (vitals, labs).
type Observation struct {
	ID          uuid.UUID   `db:"id" json:"id"`
	PatientID   uuid.UUID   `db:"patient_id" json:"patient_id"`
	Code        string      `db:"code" json:"code"` // LOINC where available
	Display     string      `db:"display" json:"display,omitempty"`
	Value       string      `db:"value" json:"value,omitempty"`
	Unit        string      `db:"unit" json:"unit,omitempty"`
	Status      string      `db:"status" json:"status"`
	EffectiveAt *time.Time  `db:"effective_at" json:"effective_at,omitempty"`
	ProviderIDs ProviderIDs `db:"provider_ids" json:"provider_ids,omitempty"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

// Medication is a canonical medication order or statement.
type Medication struct {
	ID           uuid.UUID   `db:"id" json:"id"`
	PatientID    uuid.UUID   `db:"patient_id" json:"patient_id"`
	Code         string      `db:"code" json:"code"` // RxNorm where available
	Name         string      `db:"name" json:"name"`
	Dosage       string      `db:"dosage" json:"dosage,omitempty"`
	Route        string      `db:"route" json:"route,omitempty"`
	Status       string      `db:"status" json:"status"`
	PrescribedAt *time.Time  `db:"prescribed_at" json:"prescribed_at,omitempty"`
	ProviderIDs  ProviderIDs `db:"provider_ids" json:"provider_ids,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"`
}

// Allergy is a canonical allergy/intolerance entry.
type Allergy struct {
	ID          uuid.UUID   `db:"id" json:"id"`
	PatientID   uuid.UUID   `db:"patient_id" json:"patient_id"`
	Code        string      `db:"code" json:"code,omitempty"`
	Substance   string      `db:"substance" json:"substance"`
	Severity    string      `db:"severity" json:"severity,omitempty"` // mild, moderate, severe
	Reaction    string      `db:"reaction" json:"reaction,omitempty"`
	Status      string      `db:"status" json:"status"`
	RecordedAt  *time.Time  `db:"recorded_at" json:"recorded_at,omitempty"`
	ProviderIDs ProviderIDs `db:"provider_ids" json:"provider_ids,omitempty"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

// Condition is a canonical diagnosis/problem-list entry.
type Condition struct {
	ID          uuid.UUID   `db:"id" json:"id"`
	PatientID   uuid.UUID   `db:"patient_id" json:"patient_id"`
	Code        string      `db:"code" json:"code"` // ICD-10 or SNOMED
	Display     string      `db:"display" json:"display,omitempty"`
	Status      string      `db:"status" json:"status"` // active, resolved
	OnsetAt     *time.Time  `db:"onset_at" json:"onset_at,omitempty"`
	ProviderIDs ProviderIDs `db:"provider_ids" json:"provider_ids,omitempty"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}
