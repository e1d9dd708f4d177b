package conflict

import (
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ehrsync/ehrsync/internal/canonical"
)

// detect compares the two field maps and returns one conflict per
// divergent field. Pure computation; persistence happens in the engine.
func detect(resourceType canonical.ResourceType, resourceID uuid.UUID, provider canonical.Provider,
	local, remote map[string]interface{}, opts DetectOptions) []*DataConflict {

	ignored := map[string]bool{}
	for _, f := range opts.IgnoreFields {
		ignored[f] = true
	}

	fields := map[string]bool{}
	for f := range local {
		fields[f] = true
	}
	for f := range remote {
		fields[f] = true
	}
	names := make([]string, 0, len(fields))
	for f := range fields {
		if !ignored[f] {
			names = append(names, f)
		}
	}
	sort.Strings(names)

	now := time.Now().UTC()
	var out []*DataConflict
	for _, field := range names {
		lv, lok := value(local, field)
		rv, rok := value(remote, field)

		var ctype ConflictType
		switch {
		case lok && !rok:
			ctype = TypeUpdateDelete
		case !lok && rok:
			ctype = TypeDeleteUpdate
		case lok && rok && !deepEqual(lv, rv):
			if reflect.TypeOf(lv) != reflect.TypeOf(rv) {
				ctype = TypeFieldMismatch
			} else {
				ctype = TypeUpdateUpdate
			}
		default:
			continue
		}

		out = append(out, &DataConflict{
			ID:              uuid.New(),
			ResourceType:    resourceType,
			ResourceID:      resourceID,
			Provider:        provider,
			Field:           field,
			Type:            ctype,
			Severity:        classifySeverity(field, opts.SensitiveFields),
			Status:          StatusDetected,
			LocalValue:      lv,
			RemoteValue:     rv,
			LocalTimestamp:  opts.LocalTimestamp,
			RemoteTimestamp: opts.RemoteTimestamp,
			LocalVersion:    opts.LocalVersion,
			RemoteVersion:   opts.RemoteVersion,
			DetectedAt:      now,
		})
	}
	return out
}

// value treats an explicit nil the same as an absent key.
func value(m map[string]interface{}, field string) (interface{}, bool) {
	v, ok := m[field]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// deepEqual compares composites structurally and primitives by identity.
// Numeric values of different Go types compare by value, so a JSON-decoded
// float64(5) equals the canonical store's "5". Two strings compare
// literally; "0042" and "42" are distinct identifiers.
func deepEqual(a, b interface{}) bool {
	sa, aIsStr := a.(string)
	sb, bIsStr := b.(string)
	if aIsStr && bIsStr {
		if sa == sb {
			return true
		}
		if at, aok := asTime(a); aok {
			if bt, bok := asTime(b); bok {
				return at.Equal(bt)
			}
		}
		return false
	}
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
	}
	if at, aok := asTime(a); aok {
		if bt, bok := asTime(b); bok {
			return at.Equal(bt)
		}
	}
	return reflect.DeepEqual(a, b)
}

// asTime recognizes the timestamp encodings that reach field maps. Vendors
// send date-only strings where the canonical store keeps full instants;
// both spellings of the same moment must not count as divergence.
func asTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func summarize(conflicts []*DataConflict) Summary {
	s := Summary{
		Total:      len(conflicts),
		BySeverity: map[Severity]int{},
		ByType:     map[ConflictType]int{},
	}
	for _, c := range conflicts {
		s.BySeverity[c.Severity]++
		s.ByType[c.Type]++
	}
	return s
}
