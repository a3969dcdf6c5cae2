package jsonutil

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Lookup walks raw JSON along a dot-separated path ("data.task.id"), each segment
// being a literal property name or array index. It reports false when the path is
// empty, when a segment is missing, or as soon as an intermediate value is falsy.
func Lookup(raw []byte, path string) (interface{}, bool) {
	r, ok := lookup(raw, path)
	if !ok {
		return nil, false
	}
	return r.Value(), true
}

// LookupString is Lookup rendered as text: strings verbatim, anything else as raw JSON.
func LookupString(raw []byte, path string) (string, bool) {
	r, ok := lookup(raw, path)
	if !ok {
		return "", false
	}
	if r.Type == gjson.String {
		return r.Str, true
	}
	return strings.TrimSpace(r.Raw), true
}

func lookup(raw []byte, path string) (gjson.Result, bool) {
	if path == "" || len(raw) == 0 {
		return gjson.Result{}, false
	}
	cur := gjson.ParseBytes(raw)
	for _, seg := range strings.Split(path, ".") {
		if seg == "" || !truthyResult(cur) {
			return gjson.Result{}, false
		}
		cur = cur.Get(escapeSegment(seg))
	}
	if !cur.Exists() {
		return gjson.Result{}, false
	}
	return cur, true
}

// Truthy reports whether a decoded JSON value counts as present.
func Truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	}
	return true
}

func truthyResult(r gjson.Result) bool {
	if !r.Exists() {
		return false
	}
	switch r.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.Number:
		return r.Num != 0
	case gjson.String:
		return r.Str != ""
	}
	return true
}

// escapeSegment makes gjson treat seg as a plain key: wildcards, modifiers and
// query characters are backslash-escaped.
func escapeSegment(seg string) string {
	var b strings.Builder
	for _, r := range seg {
		if r < 0x80 && !isPlainKeyChar(byte(r)) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isPlainKeyChar(c byte) bool {
	return c == '_' || c == '-' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
