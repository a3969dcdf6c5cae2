package storage

import (
	"github.com/apexai/nexus/pkg/models"
	"github.com/pkg/errors"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrStatusConflict is returned when a patch's ExpectStatus guard does not hold.
	ErrStatusConflict = errors.New("task status changed")
)

// Store defines the storage operations for Nexus.
type Store interface {
	// Credential operations
	SaveCredential(c models.Credential) error
	GetCredential(id string) (models.Credential, error)
	ListCredentials() ([]models.Credential, error)
	DeleteCredential(id string) error

	// Model operations
	SaveModel(m models.Model) error
	GetModel(id string) (models.Model, error)
	ListModels() ([]models.Model, error)
	DeleteModel(id string) error

	// Task operations. GetTask must always return the latest state.
	InsertTask(t models.Task) error
	GetTask(id string) (models.Task, error)
	ListTasks() ([]models.Task, error)
	UpdateTask(id string, patch models.TaskPatch) (models.Task, error)
	DeleteTask(id string) error
	ClearTasks() error

	Close() error
}
