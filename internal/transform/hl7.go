package transform

import (
	"time"

	"github.com/ehrsync/ehrsync/internal/canonical"
	"github.com/ehrsync/ehrsync/internal/platform/hl7v2"
)

var hl7SeverityCodes = map[string]string{"SV": "severe", "MO": "moderate", "MI": "mild"}
var hl7ResultStatus = map[string]string{"F": "final", "P": "preliminary", "C": "corrected", "X": "cancelled"}

// hl7Inbound extracts canonical fields straight from message segments. The
// HL7 segment grammar plays the role the JSON field maps play for the other
// formats.
func hl7Inbound(raw []byte, rt canonical.ResourceType, opts Options, res *Result) map[string]interface{} {
	msg, err := hl7v2.Parse(raw)
	if err != nil {
		res.addError("", "parse HL7 message: %v", err)
		return nil
	}

	out := map[string]interface{}{}
	switch rt {
	case canonical.ResourcePatient:
		if mrn := msg.PatientID(); mrn != "" {
			out["mrn"] = mrn
		} else if opts.StrictMode {
			res.addError("mrn", "PID-3 missing from message")
		} else {
			res.addWarning("mrn", "PID-3 missing from message, continuing without it")
		}
		family, given := msg.PatientName()
		putNonEmpty(out, "last_name", family)
		putNonEmpty(out, "first_name", given)
		if dob := msg.DateOfBirth(); dob != "" {
			if t, err := hl7v2.ParseTimestamp(dob); err == nil {
				out["birth_date"] = t.Format("2006-01-02")
			} else {
				res.addWarning("birth_date", "unparseable PID-7 value %q", dob)
			}
		}
		if sex := msg.Gender(); sex != "" {
			if g, ok := sexCodes[sex]; ok {
				out["gender"] = g
			} else {
				res.addWarning("gender", "unrecognized PID-8 code %q", sex)
			}
		}
		if pid := msg.GetSegment("PID"); pid != nil {
			putNonEmpty(out, "address_line", pid.GetComponent(11, 1))
			putNonEmpty(out, "city", pid.GetComponent(11, 3))
			putNonEmpty(out, "state", pid.GetComponent(11, 4))
			putNonEmpty(out, "postal_code", pid.GetComponent(11, 5))
			putNonEmpty(out, "phone", pid.GetComponent(13, 1))
		}

	case canonical.ResourceObservation:
		obx := msg.GetSegment("OBX")
		if obx == nil {
			res.addError("", "message has no OBX segment")
			return nil
		}
		putNonEmpty(out, "code", obx.GetComponent(3, 1))
		putNonEmpty(out, "display", obx.GetComponent(3, 2))
		putNonEmpty(out, "value", obx.GetField(5))
		putNonEmpty(out, "unit", obx.GetComponent(6, 1))
		if st := obx.GetField(11); st != "" {
			if mapped, ok := hl7ResultStatus[st]; ok {
				out["status"] = mapped
			} else {
				res.addWarning("status", "unrecognized OBX-11 code %q", st)
			}
		}
		if ts := obx.GetField(14); ts != "" {
			if t, err := hl7v2.ParseTimestamp(ts); err == nil {
				out["effective_at"] = t.UTC().Format(time.RFC3339)
			} else {
				res.addWarning("effective_at", "unparseable OBX-14 value %q", ts)
			}
		}

	case canonical.ResourceAllergy:
		al1 := msg.GetSegment("AL1")
		if al1 == nil {
			res.addError("", "message has no AL1 segment")
			return nil
		}
		putNonEmpty(out, "code", al1.GetComponent(3, 1))
		putNonEmpty(out, "substance", al1.GetComponent(3, 2))
		if sev := al1.GetField(4); sev != "" {
			if mapped, ok := hl7SeverityCodes[sev]; ok {
				out["severity"] = mapped
			} else {
				res.addWarning("severity", "unrecognized AL1-4 code %q", sev)
			}
		}
		putNonEmpty(out, "reaction", al1.GetField(5))
		out["status"] = "active"

	default:
		res.addError("", "HL7 exchange does not carry %s resources", rt)
		return nil
	}
	return out
}

// hl7Outbound builds an HL7 message from canonical fields and returns it
// under the "hl7_message" key.
func hl7Outbound(source map[string]interface{}, rt canonical.ResourceType, res *Result) map[string]interface{} {
	switch rt {
	case canonical.ResourcePatient:
		p := patientInfoFromFields(source)
		raw, err := hl7v2.GenerateADT("A08", p)
		if err != nil {
			res.addError("", "generate ADT: %v", err)
			return nil
		}
		return map[string]interface{}{"hl7_message": string(raw)}

	case canonical.ResourceObservation:
		obs := hl7v2.ObservationInfo{
			Code:    str(source, "code"),
			Display: str(source, "display"),
			Value:   str(source, "value"),
			Unit:    str(source, "unit"),
		}
		if ts := str(source, "effective_at"); ts != "" {
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				obs.ObservedAt = t
			}
		}
		raw, err := hl7v2.GenerateORU(hl7v2.PatientInfo{MRN: str(source, "mrn")}, []hl7v2.ObservationInfo{obs}, nil)
		if err != nil {
			res.addError("", "generate ORU: %v", err)
			return nil
		}
		return map[string]interface{}{"hl7_message": string(raw)}

	default:
		res.addError("", "HL7 exchange does not carry %s resources", rt)
		return nil
	}
}

func patientInfoFromFields(source map[string]interface{}) hl7v2.PatientInfo {
	p := hl7v2.PatientInfo{
		MRN:         str(source, "mrn"),
		Family:      str(source, "last_name"),
		Given:       str(source, "first_name"),
		AddressLine: str(source, "address_line"),
		City:        str(source, "city"),
		State:       str(source, "state"),
		PostalCode:  str(source, "postal_code"),
		Phone:       str(source, "phone"),
	}
	if bd := str(source, "birth_date"); bd != "" {
		for _, layout := range []string{"2006-01-02", time.RFC3339} {
			if t, err := time.Parse(layout, bd); err == nil {
				p.BirthDate = t.Format("20060102")
				break
			}
		}
	}
	if g, ok := reverseLookup(sexCodes, str(source, "gender")); ok {
		p.Gender = g
	}
	return p
}

func putNonEmpty(m map[string]interface{}, key, val string) {
	if val != "" {
		m[key] = val
	}
}

func str(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
