package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// ModelPaths are dot-separated locations inside upstream JSON responses.
type ModelPaths struct {
	TaskID    string `json:"taskId"`
	Status    string `json:"status"`
	OutputURL string `json:"outputUrl"`
}

// Value stores the paths as a JSONB document.
func (p ModelPaths) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan reads the paths from a JSONB column.
func (p *ModelPaths) Scan(src interface{}) error {
	return scanJSON(src, p)
}

// Model describes one remote task type: where to POST, where (optionally) to poll,
// how to read the responses and the body template that drives the input form.
type Model struct {
	ID           string     `json:"id" db:"id"`
	CredentialID string     `json:"credentialId" db:"credential_id" validate:"required"`
	Name         string     `json:"name" db:"name" validate:"required,max=100"`
	CreatePath   string     `json:"createPath" db:"create_path"`
	QueryPath    string     `json:"queryPath,omitempty" db:"query_path"` // empty means the create call returns the output
	Paths        ModelPaths `json:"paths" db:"paths"`
	BodyTemplate string     `json:"bodyTemplate" db:"body_template"`
}

// IsSync reports whether the model finishes on the create response.
func (m Model) IsSync() bool {
	return m.QueryPath == ""
}

func scanJSON(src interface{}, dest interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("cannot scan %T into %T", src, dest)
	}
}
