package conflict

import (
	"fmt"
	"strconv"
	"strings"
)

// ResolverFunc is a pre-registered custom resolver. Resolvers are named and
// installed at startup; no caller-supplied code is ever evaluated.
type ResolverFunc func(c *DataConflict) (interface{}, error)

// applyStrategy computes a resolved value. It never mutates the conflict.
func applyStrategy(c *DataConflict, strategy Strategy, opts ResolveOptions, resolvers map[string]ResolverFunc) (interface{}, error) {
	switch strategy {
	case StrategyLastWriteWins, StrategyFirstWriteWins:
		if c.LocalTimestamp == nil || c.RemoteTimestamp == nil {
			return nil, fmt.Errorf("strategy %s needs both timestamps", strategy)
		}
		remoteLater := c.RemoteTimestamp.After(*c.LocalTimestamp)
		if strategy == StrategyLastWriteWins {
			if remoteLater {
				return c.RemoteValue, nil
			}
			return c.LocalValue, nil
		}
		if remoteLater {
			return c.LocalValue, nil
		}
		return c.RemoteValue, nil

	case StrategyLocalWins:
		return c.LocalValue, nil

	case StrategyRemoteWins:
		return c.RemoteValue, nil

	case StrategyMerge:
		return mergeValues(c.LocalValue, c.RemoteValue, opts.MergeHint)

	case StrategyManual:
		return nil, fmt.Errorf("manual strategy produces no value without human input")

	case StrategyCustom:
		if opts.ResolverName == "" {
			return nil, fmt.Errorf("custom strategy needs a resolver name")
		}
		fn, ok := resolvers[opts.ResolverName]
		if !ok {
			return nil, fmt.Errorf("no resolver registered under %q", opts.ResolverName)
		}
		val, err := fn(c)
		if err != nil {
			return nil, fmt.Errorf("resolver %q: %w", opts.ResolverName, err)
		}
		return val, nil

	default:
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}
}

// mergeValues combines the two sides. Arrays union with local order first
// and novel remote entries appended; objects shallow-merge with local
// precedence; primitives follow the hint, defaulting to local.
func mergeValues(local, remote interface{}, hint MergeHint) (interface{}, error) {
	if la, ok := local.([]interface{}); ok {
		if ra, ok := remote.([]interface{}); ok {
			return mergeArrays(la, ra), nil
		}
	}
	if lm, ok := local.(map[string]interface{}); ok {
		if rm, ok := remote.(map[string]interface{}); ok {
			return mergeObjects(lm, rm), nil
		}
	}
	return mergePrimitives(local, remote, hint)
}

func mergeArrays(local, remote []interface{}) []interface{} {
	out := make([]interface{}, 0, len(local)+len(remote))
	seen := map[string]bool{}
	for _, v := range local {
		key := fmt.Sprintf("%v", v)
		if !seen[key] {
			seen[key] = true
			out = append(out, v)
		}
	}
	for _, v := range remote {
		key := fmt.Sprintf("%v", v)
		if !seen[key] {
			seen[key] = true
			out = append(out, v)
		}
	}
	return out
}

func mergeObjects(local, remote map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(local)+len(remote))
	for k, v := range remote {
		out[k] = v
	}
	for k, v := range local {
		out[k] = v
	}
	return out
}

func mergePrimitives(local, remote interface{}, hint MergeHint) (interface{}, error) {
	switch hint {
	case MergePreferLocal, "":
		if local == nil {
			return remote, nil
		}
		return local, nil
	case MergePreferRemote:
		if remote == nil {
			return local, nil
		}
		return remote, nil
	case MergeConcatenate:
		return strings.TrimSpace(fmt.Sprintf("%v %v", orEmpty(local), orEmpty(remote))), nil
	case MergeNumericAvg, MergeNumericMax, MergeNumericMin:
		lf, lok := toFloat(local)
		rf, rok := toFloat(remote)
		if !lok || !rok {
			return nil, fmt.Errorf("merge hint %s needs numeric values, got %v and %v", hint, local, remote)
		}
		switch hint {
		case MergeNumericAvg:
			return (lf + rf) / 2, nil
		case MergeNumericMax:
			if lf > rf {
				return lf, nil
			}
			return rf, nil
		default:
			if lf < rf {
				return lf, nil
			}
			return rf, nil
		}
	default:
		return nil, fmt.Errorf("unknown merge hint %q", hint)
	}
}

func orEmpty(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func toFloat(v interface{}) (float64, bool) {
	if f, ok := asFloat(v); ok {
		return f, true
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}
