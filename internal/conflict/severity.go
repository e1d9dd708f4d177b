package conflict

import "strings"

// Identity fields whose divergence could mean two different humans.
var identityFields = map[string]bool{
	"id": true, "mrn": true, "ssn": true, "patient_id": true,
	"medical_record_number": true, "social_security_number": true,
}

// Clinically significant fields. Picking the wrong side changes care.
var clinicalFields = map[string]bool{
	"code": true, "display": true, "value": true, "unit": true,
	"dosage": true, "route": true, "substance": true, "reaction": true,
	"severity": true, "status": true, "name": true,
}

// Demographic fields. Wrong values are correctable without clinical harm.
var demographicFields = map[string]bool{
	"first_name": true, "last_name": true, "birth_date": true, "gender": true,
	"address_line": true, "city": true, "state": true, "postal_code": true,
	"phone": true, "email": true,
}

// classifySeverity ranks a field. Caller-flagged sensitive fields are
// always CRITICAL, ahead of every name-based rule.
func classifySeverity(field string, sensitive []string) Severity {
	for _, s := range sensitive {
		if s == field {
			return SeverityCritical
		}
	}
	lower := strings.ToLower(field)
	if identityFields[lower] || strings.Contains(lower, "ssn") || strings.Contains(lower, "mrn") {
		return SeverityCritical
	}
	if clinicalFields[lower] {
		return SeverityHigh
	}
	if demographicFields[lower] {
		return SeverityMedium
	}
	return SeverityLow
}
