package transform

import (
	"github.com/ehrsync/ehrsync/internal/canonical"
)

type mapKey struct {
	Provider canonical.Provider
	Resource canonical.ResourceType
}

var fhirStructural = []string{"resourceType", "id", "meta", "text", "extension", "identifier", "subject", "patient", "encounter"}

var sexCodes = map[string]string{"M": "male", "F": "female", "O": "other", "U": "unknown"}

// fhirMaps covers the FHIR R4 vendors (Epic, Cerner, athenahealth,
// eClinicalWorks). Paths follow the R4 resource shapes.
func fhirMaps() map[canonical.ResourceType]*FieldMap {
	return map[canonical.ResourceType]*FieldMap{
		canonical.ResourcePatient: {
			Ignore: fhirStructural,
			Rules: []FieldRule{
				{Vendor: "identifier.0.value", Canonical: "mrn", Required: true},
				{Vendor: "name.0.given.0", Canonical: "first_name", Required: true},
				{Vendor: "name.0.family", Canonical: "last_name", Required: true},
				{Vendor: "birthDate", Canonical: "birth_date"},
				{Vendor: "gender", Canonical: "gender"},
				{Vendor: "address.0.line.0", Canonical: "address_line"},
				{Vendor: "address.0.city", Canonical: "city"},
				{Vendor: "address.0.state", Canonical: "state"},
				{Vendor: "address.0.postalCode", Canonical: "postal_code"},
				{Vendor: "telecom.0.value", Canonical: "phone"},
				{Vendor: "telecom.1.value", Canonical: "email"},
			},
		},
		canonical.ResourceEncounter: {
			Ignore: fhirStructural,
			Rules: []FieldRule{
				{Vendor: "class.code", Canonical: "class", Required: true,
					Enum: map[string]string{"AMB": "ambulatory", "IMP": "inpatient", "EMER": "emergency", "VR": "virtual"}},
				{Vendor: "status", Canonical: "status", Required: true},
				{Vendor: "reasonCode.0.text", Canonical: "reason"},
				{Vendor: "location.0.location.display", Canonical: "location"},
				{Vendor: "period.start", Canonical: "started_at"},
				{Vendor: "period.end", Canonical: "ended_at"},
			},
		},
		canonical.ResourceObservation: {
			Ignore: fhirStructural,
			Rules: []FieldRule{
				{Vendor: "code.coding.0.code", Canonical: "code", Required: true},
				{Vendor: "code.coding.0.display", Canonical: "display"},
				{Vendor: "valueQuantity.value", Canonical: "value", Numeric: true},
				{Vendor: "valueQuantity.unit", Canonical: "unit"},
				{Vendor: "status", Canonical: "status", Required: true},
				{Vendor: "effectiveDateTime", Canonical: "effective_at"},
			},
		},
		canonical.ResourceMedication: {
			Ignore: fhirStructural,
			Rules: []FieldRule{
				{Vendor: "medicationCodeableConcept.coding.0.code", Canonical: "code", Required: true},
				{Vendor: "medicationCodeableConcept.coding.0.display", Canonical: "name", Required: true},
				{Vendor: "dosageInstruction.0.text", Canonical: "dosage"},
				{Vendor: "dosageInstruction.0.route.text", Canonical: "route"},
				{Vendor: "status", Canonical: "status", Required: true},
				{Vendor: "authoredOn", Canonical: "prescribed_at"},
			},
		},
		canonical.ResourceAllergy: {
			Ignore: fhirStructural,
			Rules: []FieldRule{
				{Vendor: "code.coding.0.code", Canonical: "code"},
				{Vendor: "code.coding.0.display", Canonical: "substance", Required: true},
				{Vendor: "reaction.0.severity", Canonical: "severity"},
				{Vendor: "reaction.0.manifestation.0.text", Canonical: "reaction"},
				{Vendor: "clinicalStatus.coding.0.code", Canonical: "status", Required: true},
				{Vendor: "recordedDate", Canonical: "recorded_at"},
			},
		},
		canonical.ResourceCondition: {
			Ignore: fhirStructural,
			Rules: []FieldRule{
				{Vendor: "code.coding.0.code", Canonical: "code", Required: true},
				{Vendor: "code.coding.0.display", Canonical: "display"},
				{Vendor: "clinicalStatus.coding.0.code", Canonical: "status", Required: true},
				{Vendor: "onsetDateTime", Canonical: "onset_at"},
			},
		},
	}
}

// meditechMaps covers MEDITECH's JSON shapes. The HL7v2 path bypasses these
// maps; its segment grammar is handled by the HL7 codec directly.
func meditechMaps() map[canonical.ResourceType]*FieldMap {
	return map[canonical.ResourceType]*FieldMap{
		canonical.ResourcePatient: {
			Ignore: []string{"PatientID", "AccountNumber", "Facility"},
			Rules: []FieldRule{
				{Vendor: "Mrn", Canonical: "mrn", Required: true},
				{Vendor: "Name.First", Canonical: "first_name", Required: true},
				{Vendor: "Name.Last", Canonical: "last_name", Required: true},
				{Vendor: "BirthDateTime", Canonical: "birth_date"},
				{Vendor: "Sex", Canonical: "gender", Enum: sexCodes},
				{Vendor: "Address.Street", Canonical: "address_line"},
				{Vendor: "Address.City", Canonical: "city"},
				{Vendor: "Address.State", Canonical: "state"},
				{Vendor: "Address.Zip", Canonical: "postal_code"},
				{Vendor: "HomePhone", Canonical: "phone"},
				{Vendor: "Email", Canonical: "email"},
			},
		},
		canonical.ResourceEncounter: {
			Rules: []FieldRule{
				{Vendor: "VisitType", Canonical: "class", Required: true,
					Enum: map[string]string{"O": "ambulatory", "I": "inpatient", "E": "emergency"}},
				{Vendor: "Status", Canonical: "status", Required: true},
				{Vendor: "ReasonForVisit", Canonical: "reason"},
				{Vendor: "Location", Canonical: "location"},
				{Vendor: "AdmitDateTime", Canonical: "started_at"},
				{Vendor: "DischargeDateTime", Canonical: "ended_at"},
			},
		},
		canonical.ResourceObservation: {
			Rules: []FieldRule{
				{Vendor: "ObservationCode", Canonical: "code", Required: true},
				{Vendor: "ObservationName", Canonical: "display"},
				{Vendor: "Value", Canonical: "value"},
				{Vendor: "Units", Canonical: "unit"},
				{Vendor: "ResultStatus", Canonical: "status", Required: true,
					Enum: map[string]string{"F": "final", "P": "preliminary", "C": "corrected", "X": "cancelled"}},
				{Vendor: "ObservationDateTime", Canonical: "effective_at"},
			},
		},
		canonical.ResourceMedication: {
			Rules: []FieldRule{
				{Vendor: "DrugCode", Canonical: "code", Required: true},
				{Vendor: "DrugName", Canonical: "name", Required: true},
				{Vendor: "Sig", Canonical: "dosage"},
				{Vendor: "Route", Canonical: "route"},
				{Vendor: "OrderStatus", Canonical: "status", Required: true},
				{Vendor: "OrderDateTime", Canonical: "prescribed_at"},
			},
		},
		canonical.ResourceAllergy: {
			Rules: []FieldRule{
				{Vendor: "AllergenCode", Canonical: "code"},
				{Vendor: "AllergenName", Canonical: "substance", Required: true},
				{Vendor: "Severity", Canonical: "severity",
					Enum: map[string]string{"MI": "mild", "MO": "moderate", "SV": "severe"}},
				{Vendor: "Reaction", Canonical: "reaction"},
				{Vendor: "Status", Canonical: "status", Required: true},
				{Vendor: "OnsetDateTime", Canonical: "recorded_at"},
			},
		},
		canonical.ResourceCondition: {
			Rules: []FieldRule{
				{Vendor: "DiagnosisCode", Canonical: "code", Required: true},
				{Vendor: "DiagnosisName", Canonical: "display"},
				{Vendor: "Status", Canonical: "status", Required: true},
				{Vendor: "OnsetDateTime", Canonical: "onset_at"},
			},
		},
	}
}

// allscriptsMaps covers the Unity-style flat JSON Allscripts returns.
func allscriptsMaps() map[canonical.ResourceType]*FieldMap {
	return map[canonical.ResourceType]*FieldMap{
		canonical.ResourcePatient: {
			Ignore: []string{"PatientID", "EntryCode"},
			Rules: []FieldRule{
				{Vendor: "MRN", Canonical: "mrn", Required: true},
				{Vendor: "FirstName", Canonical: "first_name", Required: true},
				{Vendor: "LastName", Canonical: "last_name", Required: true},
				{Vendor: "DOB", Canonical: "birth_date"},
				{Vendor: "Sex", Canonical: "gender", Enum: sexCodes},
				{Vendor: "Address1", Canonical: "address_line"},
				{Vendor: "City", Canonical: "city"},
				{Vendor: "State", Canonical: "state"},
				{Vendor: "Zip", Canonical: "postal_code"},
				{Vendor: "HomePhone", Canonical: "phone"},
				{Vendor: "EmailAddress", Canonical: "email"},
			},
		},
		canonical.ResourceEncounter: {
			Rules: []FieldRule{
				{Vendor: "EncounterType", Canonical: "class", Required: true,
					Enum: map[string]string{"Office Visit": "ambulatory", "Hospital": "inpatient", "ER": "emergency"}},
				{Vendor: "Status", Canonical: "status", Required: true},
				{Vendor: "ChiefComplaint", Canonical: "reason"},
				{Vendor: "Location", Canonical: "location"},
				{Vendor: "EncounterDateTime", Canonical: "started_at"},
				{Vendor: "DischargeDateTime", Canonical: "ended_at"},
			},
		},
		canonical.ResourceObservation: {
			Rules: []FieldRule{
				{Vendor: "ResultCode", Canonical: "code", Required: true},
				{Vendor: "ResultDescription", Canonical: "display"},
				{Vendor: "ResultValue", Canonical: "value"},
				{Vendor: "ResultUnits", Canonical: "unit"},
				{Vendor: "ResultStatus", Canonical: "status", Required: true},
				{Vendor: "ResultDateTime", Canonical: "effective_at"},
			},
		},
		canonical.ResourceMedication: {
			Rules: []FieldRule{
				{Vendor: "NDC", Canonical: "code", Required: true},
				{Vendor: "DrugName", Canonical: "name", Required: true},
				{Vendor: "SigDescription", Canonical: "dosage"},
				{Vendor: "Route", Canonical: "route"},
				{Vendor: "Status", Canonical: "status", Required: true},
				{Vendor: "DatePrescribed", Canonical: "prescribed_at"},
			},
		},
		canonical.ResourceAllergy: {
			Rules: []FieldRule{
				{Vendor: "AllergyCode", Canonical: "code"},
				{Vendor: "AllergenDescription", Canonical: "substance", Required: true},
				{Vendor: "SeverityDescription", Canonical: "severity"},
				{Vendor: "ReactionDescription", Canonical: "reaction"},
				{Vendor: "Status", Canonical: "status", Required: true},
				{Vendor: "OnsetDate", Canonical: "recorded_at"},
			},
		},
		canonical.ResourceCondition: {
			Rules: []FieldRule{
				{Vendor: "ICDCode", Canonical: "code", Required: true},
				{Vendor: "ProblemDescription", Canonical: "display"},
				{Vendor: "Status", Canonical: "status", Required: true},
				{Vendor: "OnsetDate", Canonical: "onset_at"},
			},
		},
	}
}

// nextgenMaps covers NextGen's nested person/clinical JSON.
func nextgenMaps() map[canonical.ResourceType]*FieldMap {
	return map[canonical.ResourceType]*FieldMap{
		canonical.ResourcePatient: {
			Ignore: []string{"person_id", "enterprise_id"},
			Rules: []FieldRule{
				{Vendor: "medical_record_number", Canonical: "mrn", Required: true},
				{Vendor: "person.first_name", Canonical: "first_name", Required: true},
				{Vendor: "person.last_name", Canonical: "last_name", Required: true},
				{Vendor: "person.date_of_birth", Canonical: "birth_date"},
				{Vendor: "person.sex", Canonical: "gender", Enum: sexCodes},
				{Vendor: "person.address_line_1", Canonical: "address_line"},
				{Vendor: "person.city", Canonical: "city"},
				{Vendor: "person.state", Canonical: "state"},
				{Vendor: "person.zip_code", Canonical: "postal_code"},
				{Vendor: "person.home_phone", Canonical: "phone"},
				{Vendor: "person.email_address", Canonical: "email"},
			},
		},
		canonical.ResourceEncounter: {
			Rules: []FieldRule{
				{Vendor: "encounter_type", Canonical: "class", Required: true,
					Enum: map[string]string{"office": "ambulatory", "hospital": "inpatient", "emergency": "emergency"}},
				{Vendor: "status", Canonical: "status", Required: true},
				{Vendor: "reason", Canonical: "reason"},
				{Vendor: "location_name", Canonical: "location"},
				{Vendor: "begin_date_time", Canonical: "started_at"},
				{Vendor: "end_date_time", Canonical: "ended_at"},
			},
		},
		canonical.ResourceObservation: {
			Rules: []FieldRule{
				{Vendor: "loinc_code", Canonical: "code", Required: true},
				{Vendor: "description", Canonical: "display"},
				{Vendor: "observed_value", Canonical: "value"},
				{Vendor: "unit_of_measure", Canonical: "unit"},
				{Vendor: "status", Canonical: "status", Required: true},
				{Vendor: "observation_date", Canonical: "effective_at"},
			},
		},
		canonical.ResourceMedication: {
			Rules: []FieldRule{
				{Vendor: "rxnorm_code", Canonical: "code", Required: true},
				{Vendor: "drug_description", Canonical: "name", Required: true},
				{Vendor: "dosage_instructions", Canonical: "dosage"},
				{Vendor: "route_of_administration", Canonical: "route"},
				{Vendor: "status", Canonical: "status", Required: true},
				{Vendor: "start_date", Canonical: "prescribed_at"},
			},
		},
		canonical.ResourceAllergy: {
			Rules: []FieldRule{
				{Vendor: "allergy_code", Canonical: "code"},
				{Vendor: "allergen_name", Canonical: "substance", Required: true},
				{Vendor: "severity", Canonical: "severity"},
				{Vendor: "reaction_description", Canonical: "reaction"},
				{Vendor: "status", Canonical: "status", Required: true},
				{Vendor: "recorded_date", Canonical: "recorded_at"},
			},
		},
		canonical.ResourceCondition: {
			Rules: []FieldRule{
				{Vendor: "icd10_code", Canonical: "code", Required: true},
				{Vendor: "diagnosis_description", Canonical: "display"},
				{Vendor: "status", Canonical: "status", Required: true},
				{Vendor: "onset_date", Canonical: "onset_at"},
			},
		},
	}
}

// DefaultFieldMaps builds the full (provider, resourceType) mapping table.
// The four FHIR vendors share one set of R4 maps.
func DefaultFieldMaps() map[mapKey]*FieldMap {
	out := map[mapKey]*FieldMap{}

	fhir := fhirMaps()
	for _, p := range []canonical.Provider{
		canonical.ProviderEpic, canonical.ProviderCerner,
		canonical.ProviderAthenahealth, canonical.ProviderEclinicalworks,
	} {
		for rt, fm := range fhir {
			out[mapKey{Provider: p, Resource: rt}] = fm
		}
	}
	for rt, fm := range meditechMaps() {
		out[mapKey{Provider: canonical.ProviderMeditech, Resource: rt}] = fm
	}
	for rt, fm := range allscriptsMaps() {
		out[mapKey{Provider: canonical.ProviderAllscripts, Resource: rt}] = fm
	}
	for rt, fm := range nextgenMaps() {
		out[mapKey{Provider: canonical.ProviderNextgen, Resource: rt}] = fm
	}
	return out
}
