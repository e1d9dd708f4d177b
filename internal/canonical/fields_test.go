package canonical

import (
	"testing"
	"time"
)

func TestPatientFieldsRoundTrip(t *testing.T) {
	bd := time.Date(1984, 3, 12, 0, 0, 0, 0, time.UTC)
	p := &PatientRecord{
		MRN:       "MRN-100",
		FirstName: "Ana",
		LastName:  "Reyes",
		BirthDate: &bd,
		Gender:    "female",
		City:      "Austin",
		Phone:     "555-0101",
	}

	f := p.Fields()
	if f["mrn"] != "MRN-100" {
		t.Errorf("mrn = %v", f["mrn"])
	}
	if f["birth_date"] != "1984-03-12T00:00:00Z" {
		t.Errorf("birth_date = %v", f["birth_date"])
	}
	if _, ok := f["email"]; ok {
		t.Error("empty email should be omitted from field map")
	}

	got, err := PatientFromFields(f)
	if err != nil {
		t.Fatalf("PatientFromFields: %v", err)
	}
	if got.FirstName != "Ana" || got.LastName != "Reyes" || got.City != "Austin" {
		t.Errorf("unexpected patient: %+v", got)
	}
	if got.BirthDate == nil || !got.BirthDate.Equal(bd) {
		t.Errorf("birth date = %v, want %v", got.BirthDate, bd)
	}
}

func TestPatientFromFieldsDateOnly(t *testing.T) {
	p, err := PatientFromFields(map[string]interface{}{"mrn": "M1", "birth_date": "1990-07-04"})
	if err != nil {
		t.Fatalf("PatientFromFields: %v", err)
	}
	want := time.Date(1990, 7, 4, 0, 0, 0, 0, time.UTC)
	if p.BirthDate == nil || !p.BirthDate.Equal(want) {
		t.Errorf("birth date = %v, want %v", p.BirthDate, want)
	}
}

func TestPatientFromFieldsBadDate(t *testing.T) {
	if _, err := PatientFromFields(map[string]interface{}{"birth_date": "12/03/1984"}); err == nil {
		t.Error("expected error for unparseable date")
	}
}

func TestObservationFieldsRoundTrip(t *testing.T) {
	eff := time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)
	o := &Observation{Code: "8867-4", Display: "Heart rate", Value: "72", Unit: "/min", Status: "final", EffectiveAt: &eff}

	got, err := ObservationFromFields(o.Fields())
	if err != nil {
		t.Fatalf("ObservationFromFields: %v", err)
	}
	if got.Code != "8867-4" || got.Value != "72" || got.Unit != "/min" {
		t.Errorf("unexpected observation: %+v", got)
	}
	if got.EffectiveAt == nil || !got.EffectiveAt.Equal(eff) {
		t.Errorf("effective at = %v, want %v", got.EffectiveAt, eff)
	}
}

func TestProviderValid(t *testing.T) {
	for _, p := range AllProviders() {
		if !p.Valid() {
			t.Errorf("provider %s should be valid", p)
		}
	}
	if Provider("veradigm").Valid() {
		t.Error("unknown provider should be invalid")
	}
}

func TestDependentResourcesOrder(t *testing.T) {
	deps := DependentResources()
	if len(deps) != 5 {
		t.Fatalf("expected 5 dependent resource types, got %d", len(deps))
	}
	if deps[0] != ResourceEncounter {
		t.Errorf("encounters must sync first, got %s", deps[0])
	}
}
