package service

import "github.com/pkg/errors"

// Configuration errors are returned to the submitter before any network I/O.
// Everything that goes wrong later is recorded on the task instead.
var (
	ErrMissingToken       = errors.New("credential has no token")
	ErrModelNotFound      = errors.New("model not found")
	ErrCredentialNotFound = errors.New("credential not found")
	ErrTaskNotPolling     = errors.New("task is not polling")
	ErrValidation         = errors.New("validation failed")
)
