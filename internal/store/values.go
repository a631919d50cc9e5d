package store

import (
	"time"
)

// cloneDoc deep-copies a document so committed state never aliases caller
// memory or snapshots handed to subscribers.
func cloneDoc(d Doc) Doc {
	if d == nil {
		return Doc{}
	}
	out := make(Doc, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Doc:
		return cloneDoc(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	default:
		return v
	}
}

// resolveTimestamps replaces every ServerTimestamp sentinel, at any nesting
// depth, with the commit time.
func resolveTimestamps(v Doc, now time.Time) Doc {
	for k, val := range v {
		v[k] = resolveValue(val, now)
	}
	return v
}

func resolveValue(v any, now time.Time) any {
	if IsServerTimestamp(v) {
		return now
	}
	switch val := v.(type) {
	case Doc:
		return resolveTimestamps(val, now)
	case []any:
		for i, e := range val {
			val[i] = resolveValue(e, now)
		}
		return val
	default:
		return v
	}
}

func matches(doc Doc, filters []Filter) bool {
	for _, f := range filters {
		if !matchFilter(doc, f) {
			return false
		}
	}
	return true
}

func matchFilter(doc Doc, f Filter) bool {
	got, ok := doc[f.Field]
	switch f.Op {
	case OpEqual:
		return ok && compareValues(got, f.Value) == 0
	case OpNotEqual:
		return ok && compareValues(got, f.Value) != 0
	case OpGreater:
		return ok && compareValues(got, f.Value) > 0
	case OpArrayContains:
		if !ok {
			return false
		}
		return sliceContains(got, f.Value)
	default:
		return false
	}
}

func sliceContains(v, want any) bool {
	switch s := v.(type) {
	case []any:
		for _, e := range s {
			if compareValues(e, want) == 0 {
				return true
			}
		}
	case []string:
		for _, e := range s {
			if compareValues(e, want) == 0 {
				return true
			}
		}
	}
	return false
}

// compareValues orders the value types documents actually hold: timestamps,
// strings, bools, and numbers. Mismatched or unknown types compare as equal
// so broken data never panics a query.
func compareValues(a, b any) int {
	if at, ok := asTime(a); ok {
		if bt, ok := asTime(b); ok {
			switch {
			case at.Before(bt):
				return -1
			case at.After(bt):
				return 1
			default:
				return 0
			}
		}
		return 0
	}
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
		return 0
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			default:
				return 0
			}
		}
	case bool:
		if bv, ok := b.(bool); ok {
			if av == bv {
				return 0
			}
			if !av {
				return -1
			}
			return 1
		}
	}
	return 0
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}
