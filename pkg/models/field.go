package models

// FieldType drives how a placeholder is rendered in the input form.
type FieldType string

const (
	TextField       FieldType = "text"
	TextareaField   FieldType = "textarea"
	SelectField     FieldType = "select"
	NumberField     FieldType = "number"
	IntegerField    FieldType = "integer"
	BooleanField    FieldType = "boolean"
	FileURLField    FieldType = "file-url"
	FileBase64Field FieldType = "file-base64"
)

// Field is one placeholder parsed out of a body template. It is never persisted.
type Field struct {
	Key          string    `json:"key"`
	Label        string    `json:"label"`
	Type         FieldType `json:"type"`
	Options      []string  `json:"options,omitempty"`
	DefaultValue string    `json:"defaultValue,omitempty"`
}

// IsChoice reports whether the field must be rendered as a closed choice.
func (f Field) IsChoice() bool {
	return len(f.Options) > 0 || f.Type == SelectField
}
