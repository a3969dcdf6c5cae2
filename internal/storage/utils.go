package storage

import (
	"github.com/apexai/nexus/pkg/storage"
)

var _ storage.Store = (*PostgresStore)(nil)

// InitStore opens the Postgres store, or an in-memory one when no connection
// string is configured.
func InitStore(dbConnStr string) (storage.Store, error) {
	if dbConnStr == "" {
		return storage.NewMemoryStore(), nil
	}
	store, err := NewPostgresStore(dbConnStr)
	if err != nil {
		return nil, err
	}
	return store, nil
}
