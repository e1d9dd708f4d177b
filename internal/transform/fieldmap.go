package transform

import (
	"fmt"
	"strconv"
)

// FieldRule maps one vendor field to one canonical field.
type FieldRule struct {
	// Vendor is a dotted path into the vendor payload.
	Vendor string
	// Canonical is the flat canonical field name.
	Canonical string
	// Required fields fail the transform in strict mode when absent.
	Required bool
	// Enum translates vendor values to canonical values. Unlisted values
	// pass through with a warning. The reverse mapping drives outbound.
	Enum map[string]string
	// Scale multiplies numeric values inbound (divides outbound), for unit
	// normalization such as pounds to kilograms.
	Scale float64
	// Numeric forces the outbound value to a JSON number. FHIR quantity
	// values reject strings.
	Numeric bool
}

// FieldMap is the per-(provider, resourceType) mapping table.
type FieldMap struct {
	Rules []FieldRule
	// Ignore lists top-level source keys that are structural rather than
	// clinical (resourceType, meta) and excluded from unmapped reporting.
	Ignore []string
}

// applyInbound maps a vendor payload to a flat canonical field map.
func (fm *FieldMap) applyInbound(source map[string]interface{}, opts Options, res *Result) map[string]interface{} {
	out := map[string]interface{}{}
	consumed := map[string]bool{}
	for _, key := range fm.Ignore {
		consumed[key] = true
	}

	for _, rule := range fm.Rules {
		raw, ok := getPath(source, rule.Vendor)
		if !ok {
			if rule.Required {
				if opts.StrictMode {
					res.addError(rule.Canonical, "required field missing from source path %q", rule.Vendor)
				} else {
					res.addWarning(rule.Canonical, "required field missing from source path %q, continuing without it", rule.Vendor)
				}
			}
			continue
		}
		consumed[rootSegment(rule.Vendor)] = true

		// Values keep their source type; numbers must survive the trip
		// as numbers. Only enum translation forces a string.
		val := raw
		if rule.Enum != nil {
			key := stringify(raw)
			if mapped, ok := rule.Enum[key]; ok {
				val = mapped
			} else {
				res.addWarning(rule.Canonical, "unrecognized value %q passed through", key)
				val = key
			}
		}
		if rule.Scale != 0 && rule.Scale != 1 {
			scaled, err := scaleValue(val, rule.Scale)
			if err != nil {
				res.addWarning(rule.Canonical, "value %v is not numeric, unit conversion skipped", val)
			} else {
				val = scaled
			}
		}
		out[rule.Canonical] = val
	}

	if opts.PreserveUnmapped {
		for key, v := range source {
			if !consumed[key] {
				if res.Unmapped == nil {
					res.Unmapped = map[string]interface{}{}
				}
				res.Unmapped[key] = v
				res.addWarning(key, "source field has no canonical mapping, preserved unmapped")
			}
		}
	} else {
		for key := range source {
			if !consumed[key] {
				res.addWarning(key, "source field has no canonical mapping, dropped")
			}
		}
	}
	return out
}

// applyOutbound maps a flat canonical field map to a vendor payload.
func (fm *FieldMap) applyOutbound(source map[string]interface{}, opts Options, res *Result) map[string]interface{} {
	out := map[string]interface{}{}

	for _, rule := range fm.Rules {
		raw, ok := source[rule.Canonical]
		if !ok || raw == nil {
			if rule.Required {
				if opts.StrictMode {
					res.addError(rule.Canonical, "required canonical field missing for vendor path %q", rule.Vendor)
				} else {
					res.addWarning(rule.Canonical, "required canonical field missing for vendor path %q", rule.Vendor)
				}
			}
			continue
		}

		val := raw
		if rule.Enum != nil {
			key := stringify(raw)
			if mapped, ok := reverseLookup(rule.Enum, key); ok {
				val = mapped
			} else {
				res.addWarning(rule.Canonical, "value %q has no vendor equivalent, passed through", key)
				val = key
			}
		}
		if rule.Scale != 0 && rule.Scale != 1 {
			scaled, err := scaleValue(val, 1/rule.Scale)
			if err != nil {
				res.addWarning(rule.Canonical, "value %v is not numeric, unit conversion skipped", val)
			} else {
				val = scaled
			}
		}
		if rule.Numeric {
			if n, ok := toFloat(val); ok {
				val = n
			} else {
				res.addWarning(rule.Canonical, "value %v is not numeric for vendor path %q", val, rule.Vendor)
			}
		}
		setPath(out, rule.Vendor, val)
	}
	return out
}

// validate re-checks that every required rule produced a value on the given
// side of the mapping.
func (fm *FieldMap) validate(data map[string]interface{}, direction Direction, res *Result) {
	for _, rule := range fm.Rules {
		if !rule.Required {
			continue
		}
		if direction == DirectionInbound {
			if _, ok := data[rule.Canonical]; !ok {
				res.addError(rule.Canonical, "output validation: required field absent")
			}
		} else {
			if _, ok := getPath(data, rule.Vendor); !ok {
				res.addError(rule.Canonical, "output validation: vendor path %q absent", rule.Vendor)
			}
		}
	}
}

func rootSegment(path string) string {
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			return path[:i]
		}
	}
	return path
}

func reverseLookup(m map[string]string, val string) (string, bool) {
	for k, v := range m {
		if v == val {
			return k, true
		}
	}
	return "", false
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// scaleValue multiplies a numeric value without changing its type: numbers
// stay numbers, numeric strings stay strings.
func scaleValue(v interface{}, factor float64) (interface{}, error) {
	switch t := v.(type) {
	case float64:
		return t * factor, nil
	case int:
		return float64(t) * factor, nil
	case string:
		n, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil, err
		}
		return strconv.FormatFloat(n*factor, 'f', -1, 64), nil
	}
	return nil, fmt.Errorf("value %v is not numeric", v)
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		n, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
