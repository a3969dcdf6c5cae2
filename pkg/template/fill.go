package template

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/apexai/nexus/pkg/models"
)

// Fill replaces every placeholder of every field with the field's input value.
// The whole placeholder is replaced regardless of its type or options. Absent
// values become the empty string. Textarea values get their newlines escaped
// because the template is a JSON document assembled as text.
func Fill(tmpl string, fields []models.Field, inputs map[string]interface{}) string {
	out := tmpl
	for _, f := range fields {
		value := FormatValue(inputs[f.Key])
		if f.Type == models.TextareaField {
			value = strings.ReplaceAll(value, "\n", `\n`)
		}
		out = placeholderFor(f.Key).ReplaceAllLiteralString(out, value)
	}
	return out
}

// placeholderFor matches {{key}}, {{key:...}} and {{key|...}} but not {{keyother}}.
func placeholderFor(key string) *regexp.Regexp {
	return regexp.MustCompile(`\{\{` + regexp.QuoteMeta(key) + `(?:[:|].*?)?\}\}`)
}

// ApplyDefaults returns a copy of inputs where every field without a value takes
// its default, the way the input form pre-fills them.
func ApplyDefaults(fields []models.Field, inputs map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(inputs)+len(fields))
	for k, v := range inputs {
		out[k] = v
	}
	for _, f := range fields {
		if _, ok := out[f.Key]; ok || f.DefaultValue == "" {
			continue
		}
		out[f.Key] = f.DefaultValue
	}
	return out
}

// FormatValue renders an input value as the text substituted into a template.
func FormatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
