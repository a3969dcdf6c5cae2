// Package jsonutil holds the helpers the task engine applies to dynamic JSON:
// payload sanitizing and nested path lookup.
package jsonutil

// Sanitize drops empty entries from arrays at any depth. An entry is empty when it
// is nil, "" or the string "undefined". Object properties are never removed, only
// their values are cleaned recursively, and objects are modified in place.
// Primitives are returned unchanged. Sanitize(Sanitize(v)) equals Sanitize(v).
func Sanitize(v interface{}) interface{} {
	switch t := v.(type) {
	case []interface{}:
		out := make([]interface{}, 0, len(t))
		for _, el := range t {
			if isEmpty(el) {
				continue
			}
			out = append(out, Sanitize(el))
		}
		return out
	case map[string]interface{}:
		for k, val := range t {
			t[k] = Sanitize(val)
		}
		return t
	default:
		return v
	}
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == "" || t == "undefined"
	}
	return false
}
