package canonical

import (
	"fmt"
	"strconv"
	"time"
)

// Field maps are the flat, provider-agnostic representation exchanged with
// the transformation and conflict layers. Values are strings (timestamps as
// RFC 3339) so field-level comparison is stable across sources. Empty values
// are omitted, which the conflict engine reads as "absent".

func (p *PatientRecord) Fields() map[string]interface{} {
	f := map[string]interface{}{}
	putStr(f, "mrn", p.MRN)
	putStr(f, "first_name", p.FirstName)
	putStr(f, "last_name", p.LastName)
	putTime(f, "birth_date", p.BirthDate)
	putStr(f, "gender", p.Gender)
	putStr(f, "address_line", p.AddressLine)
	putStr(f, "city", p.City)
	putStr(f, "state", p.State)
	putStr(f, "postal_code", p.PostalCode)
	putStr(f, "phone", p.Phone)
	putStr(f, "email", p.Email)
	return f
}

// PatientFromFields builds a PatientRecord from a flat field map.
func PatientFromFields(f map[string]interface{}) (*PatientRecord, error) {
	p := &PatientRecord{}
	p.MRN = str(f, "mrn")
	p.FirstName = str(f, "first_name")
	p.LastName = str(f, "last_name")
	bd, err := timeVal(f, "birth_date")
	if err != nil {
		return nil, err
	}
	p.BirthDate = bd
	p.Gender = str(f, "gender")
	p.AddressLine = str(f, "address_line")
	p.City = str(f, "city")
	p.State = str(f, "state")
	p.PostalCode = str(f, "postal_code")
	p.Phone = str(f, "phone")
	p.Email = str(f, "email")
	return p, nil
}

func (e *Encounter) Fields() map[string]interface{} {
	f := map[string]interface{}{}
	putStr(f, "class", e.Class)
	putStr(f, "status", e.Status)
	putStr(f, "reason", e.Reason)
	putStr(f, "location", e.Location)
	putTime(f, "started_at", e.StartedAt)
	putTime(f, "ended_at", e.EndedAt)
	return f
}

func EncounterFromFields(f map[string]interface{}) (*Encounter, error) {
	e := &Encounter{}
	e.Class = str(f, "class")
	e.Status = str(f, "status")
	e.Reason = str(f, "reason")
	e.Location = str(f, "location")
	var err error
	if e.StartedAt, err = timeVal(f, "started_at"); err != nil {
		return nil, err
	}
	if e.EndedAt, err = timeVal(f, "ended_at"); err != nil {
		return nil, err
	}
	return e, nil
}

func (o *Observation) Fields() map[string]interface{} {
	f := map[string]interface{}{}
	putStr(f, "code", o.Code)
	putStr(f, "display", o.Display)
	putStr(f, "value", o.Value)
	putStr(f, "unit", o.Unit)
	putStr(f, "status", o.Status)
	putTime(f, "effective_at", o.EffectiveAt)
	return f
}

func ObservationFromFields(f map[string]interface{}) (*Observation, error) {
	o := &Observation{}
	o.Code = str(f, "code")
	o.Display = str(f, "display")
	o.Value = str(f, "value")
	o.Unit = str(f, "unit")
	o.Status = str(f, "status")
	var err error
	if o.EffectiveAt, err = timeVal(f, "effective_at"); err != nil {
		return nil, err
	}
	return o, nil
}

func (m *Medication) Fields() map[string]interface{} {
	f := map[string]interface{}{}
	putStr(f, "code", m.Code)
	putStr(f, "name", m.Name)
	putStr(f, "dosage", m.Dosage)
	putStr(f, "route", m.Route)
	putStr(f, "status", m.Status)
	putTime(f, "prescribed_at", m.PrescribedAt)
	return f
}

func MedicationFromFields(f map[string]interface{}) (*Medication, error) {
	m := &Medication{}
	m.Code = str(f, "code")
	m.Name = str(f, "name")
	m.Dosage = str(f, "dosage")
	m.Route = str(f, "route")
	m.Status = str(f, "status")
	var err error
	if m.PrescribedAt, err = timeVal(f, "prescribed_at"); err != nil {
		return nil, err
	}
	return m, nil
}

func (a *Allergy) Fields() map[string]interface{} {
	f := map[string]interface{}{}
	putStr(f, "code", a.Code)
	putStr(f, "substance", a.Substance)
	putStr(f, "severity", a.Severity)
	putStr(f, "reaction", a.Reaction)
	putStr(f, "status", a.Status)
	putTime(f, "recorded_at", a.RecordedAt)
	return f
}

func AllergyFromFields(f map[string]interface{}) (*Allergy, error) {
	a := &Allergy{}
	a.Code = str(f, "code")
	a.Substance = str(f, "substance")
	a.Severity = str(f, "severity")
	a.Reaction = str(f, "reaction")
	a.Status = str(f, "status")
	var err error
	if a.RecordedAt, err = timeVal(f, "recorded_at"); err != nil {
		return nil, err
	}
	return a, nil
}

func (c *Condition) Fields() map[string]interface{} {
	f := map[string]interface{}{}
	putStr(f, "code", c.Code)
	putStr(f, "display", c.Display)
	putStr(f, "status", c.Status)
	putTime(f, "onset_at", c.OnsetAt)
	return f
}

func ConditionFromFields(f map[string]interface{}) (*Condition, error) {
	c := &Condition{}
	c.Code = str(f, "code")
	c.Display = str(f, "display")
	c.Status = str(f, "status")
	var err error
	if c.OnsetAt, err = timeVal(f, "onset_at"); err != nil {
		return nil, err
	}
	return c, nil
}

func putStr(f map[string]interface{}, key, val string) {
	if val != "" {
		f[key] = val
	}
}

func putTime(f map[string]interface{}, key string, t *time.Time) {
	if t != nil && !t.IsZero() {
		f[key] = t.UTC().Format(time.RFC3339)
	}
}

func str(f map[string]interface{}, key string) string {
	switch v := f[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		// %v falls back to scientific notation for large magnitudes;
		// quantity values must round-trip as plain decimals.
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func timeVal(f map[string]interface{}, key string) (*time.Time, error) {
	v, ok := f[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case time.Time:
		u := t.UTC()
		return &u, nil
	case string:
		if t == "" {
			return nil, nil
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				u := parsed.UTC()
				return &u, nil
			}
		}
		return nil, fmt.Errorf("canonical: field %q: unparseable time %q", key, t)
	default:
		return nil, fmt.Errorf("canonical: field %q: unexpected time type %T", key, v)
	}
}
