package transform

import (
	"strconv"
	"strings"
)

// getPath walks a dotted path through nested maps and slices. Numeric
// segments index into slices ("name.0.family"). It never panics on shape
// mismatches; a missing or mistyped step reports !ok.
func getPath(src interface{}, path string) (interface{}, bool) {
	cur := src
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// setPath writes a value at a dotted path, creating intermediate maps and
// extending slices as needed. Only index 0 beyond the current length is
// created for slices; paths used by field maps never skip indices.
func setPath(dst map[string]interface{}, path string, value interface{}) {
	segs := strings.Split(path, ".")
	setPathSegs(dst, segs, value)
}

func setPathSegs(dst map[string]interface{}, segs []string, value interface{}) {
	key := segs[0]
	if len(segs) == 1 {
		dst[key] = value
		return
	}

	next := segs[1]
	if idx, err := strconv.Atoi(next); err == nil {
		arr, _ := dst[key].([]interface{})
		for len(arr) <= idx {
			arr = append(arr, map[string]interface{}{})
		}
		dst[key] = arr
		if len(segs) == 2 {
			arr[idx] = value
			return
		}
		elem, ok := arr[idx].(map[string]interface{})
		if !ok {
			elem = map[string]interface{}{}
			arr[idx] = elem
		}
		setPathSegs(elem, segs[2:], value)
		return
	}

	child, ok := dst[key].(map[string]interface{})
	if !ok {
		child = map[string]interface{}{}
		dst[key] = child
	}
	setPathSegs(child, segs[1:], value)
}
