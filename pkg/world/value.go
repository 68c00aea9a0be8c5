package world

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// GetPath walks a dot-delimited path through nested objects and returns the
// value found there. ok is false when any segment is missing or a non-object
// is encountered before the last segment.
func GetPath(d Document, path string) (v any, ok bool) {
	if d == nil || path == "" {
		return nil, false
	}
	cur := any(d)
	for seg := range strings.SplitSeq(path, ".") {
		obj, isObj := cur.(map[string]any)
		if !isObj {
			return nil, false
		}
		cur, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// SetPath assigns value at a dot-delimited path, creating intermediate objects
// as needed. A non-object found on the way is replaced by an object.
func SetPath(d Document, path string, value any) {
	if d == nil || path == "" {
		return
	}
	segs := strings.Split(path, ".")
	cur := d
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = value
}

// Object returns d[key] as an object, or nil.
func Object(d Document, key string) Document {
	if d == nil {
		return nil
	}
	obj, _ := d[key].(map[string]any)
	return obj
}

// EnsureObject returns d[key] as an object, replacing any non-object value
// with a fresh empty object.
func EnsureObject(d Document, key string) Document {
	obj, ok := d[key].(map[string]any)
	if !ok {
		obj = map[string]any{}
		d[key] = obj
	}
	return obj
}

// String returns d[key] when it is a string, or "".
func String(d Document, key string) string {
	if d == nil {
		return ""
	}
	s, _ := d[key].(string)
	return s
}

// Strings returns d[key] as a list of strings. Non-string elements are
// skipped. A single string is returned as a one-element list.
func Strings(d Document, key string) []string {
	if d == nil {
		return nil
	}
	return StringList(d[key])
}

// StringList converts a decoded JSON value into a list of strings.
func StringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	}
	return nil
}

// Number converts a decoded JSON value into a float64.
func Number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// Int converts a decoded JSON value into an int, truncating fractions.
func Int(v any) (int, bool) {
	f, ok := Number(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(f), true
}

// Scalar renders a string or number as text. Other values yield "".
func Scalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	}
	return ""
}

// Truthy mirrors loose boolean checks on decoded JSON values: nil, false,
// zero and "" are false.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	}
	return true
}
