// Package template handles the placeholder syntax of model body templates:
//
//	{{key[:type[:opt1,opt2,...]]][|default]}}
//
// The same template describes the input form (Parse) and the request body (Fill).
package template

import (
	"regexp"
	"strings"

	"github.com/apexai/nexus/pkg/models"
)

var placeholderRe = regexp.MustCompile(`\{\{(.*?)\}\}`)

// Parse returns one Field per placeholder, in source order. Duplicated keys yield
// duplicated fields. Malformed placeholders are parsed best effort; Parse never fails.
func Parse(tmpl string) []models.Field {
	if tmpl == "" {
		return []models.Field{}
	}
	matches := placeholderRe.FindAllStringSubmatch(tmpl, -1)
	fields := make([]models.Field, 0, len(matches))
	for _, m := range matches {
		fields = append(fields, parsePlaceholder(m[1]))
	}
	return fields
}

func parsePlaceholder(inner string) models.Field {
	definition, defaultValue, _ := strings.Cut(inner, "|")

	parts := strings.Split(definition, ":")
	field := models.Field{
		Key:          parts[0],
		Label:        parts[0],
		Type:         models.TextField,
		DefaultValue: defaultValue,
	}
	if len(parts) > 1 && parts[1] != "" {
		field.Type = models.FieldType(parts[1])
	}
	if len(parts) > 2 {
		for _, opt := range strings.Split(strings.Join(parts[2:], ":"), ",") {
			if opt != "" {
				field.Options = append(field.Options, opt)
			}
		}
	}
	return field
}
