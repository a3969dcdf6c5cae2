package models

// Credential is an API access profile: a base URL plus the token used against it.
type Credential struct {
	ID      string `json:"id" db:"id"`
	Name    string `json:"name" db:"name" validate:"required,max=100"`
	BaseURL string `json:"baseUrl" db:"base_url" validate:"required,url"`
	Token   string `json:"token,omitempty" db:"token"`
}

// Redacted returns a copy safe to hand to API clients.
func (c Credential) Redacted() Credential {
	if c.Token != "" {
		c.Token = ""
	}
	return c
}
