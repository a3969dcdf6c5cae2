package storage

import (
	"database/sql"
	"fmt"

	"github.com/apexai/nexus/pkg/models"
	"github.com/apexai/nexus/pkg/storage"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

type PostgresStore struct {
	db DBInterface
}

const taskColumns = "id, model_id, model_name, start_time, end_time, status, inputs, logs, result, summary"

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin() (*PostgresStore, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

// SaveCredential inserts or replaces a credential
func (s *PostgresStore) SaveCredential(c models.Credential) error {
	_, err := s.db.Exec(`
		INSERT INTO credentials (id, name, base_url, token) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, base_url = EXCLUDED.base_url, token = EXCLUDED.token`,
		c.ID, c.Name, c.BaseURL, c.Token)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCredential(id string) (models.Credential, error) {
	var c models.Credential
	err := s.db.Get(&c, "SELECT id, name, base_url, token FROM credentials WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Credential{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Credential{}, err
	}
	return c, nil
}

func (s *PostgresStore) ListCredentials() ([]models.Credential, error) {
	creds := []models.Credential{}
	if err := s.db.Select(&creds, "SELECT id, name, base_url, token FROM credentials ORDER BY name"); err != nil {
		return nil, err
	}
	return creds, nil
}

func (s *PostgresStore) DeleteCredential(id string) error {
	return s.deleteByID("credentials", id)
}

// SaveModel inserts or replaces a model
func (s *PostgresStore) SaveModel(m models.Model) error {
	_, err := s.db.Exec(`
		INSERT INTO models (id, credential_id, name, create_path, query_path, paths, body_template)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			credential_id = EXCLUDED.credential_id,
			name = EXCLUDED.name,
			create_path = EXCLUDED.create_path,
			query_path = EXCLUDED.query_path,
			paths = EXCLUDED.paths,
			body_template = EXCLUDED.body_template`,
		m.ID, m.CredentialID, m.Name, m.CreatePath, m.QueryPath, m.Paths, m.BodyTemplate)
	if err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetModel(id string) (models.Model, error) {
	var m models.Model
	err := s.db.Get(&m, "SELECT * FROM models WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Model{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Model{}, err
	}
	return m, nil
}

func (s *PostgresStore) ListModels() ([]models.Model, error) {
	ms := []models.Model{}
	if err := s.db.Select(&ms, "SELECT * FROM models ORDER BY name"); err != nil {
		return nil, err
	}
	return ms, nil
}

func (s *PostgresStore) DeleteModel(id string) error {
	return s.deleteByID("models", id)
}

// InsertTask creates a new task; the id must be unused
func (s *PostgresStore) InsertTask(t models.Task) error {
	_, err := s.db.Exec(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.ModelID, t.ModelName, t.StartTime, t.EndTime, t.Status, t.Inputs, t.Logs, t.Result, t.Summary)
	if err != nil {
		return fmt.Errorf("insert task %s: %w", t.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetTask(id string) (models.Task, error) {
	return getTask(s.db, "SELECT "+taskColumns+" FROM tasks WHERE id = $1", id)
}

// ListTasks returns tasks newest first
func (s *PostgresStore) ListTasks() ([]models.Task, error) {
	tasks := []models.Task{}
	if err := s.db.Select(&tasks, "SELECT "+taskColumns+" FROM tasks ORDER BY seq DESC"); err != nil {
		return nil, err
	}
	return tasks, nil
}

// UpdateTask locks the row, applies the patch in Go and writes it back in one transaction.
func (s *PostgresStore) UpdateTask(id string, patch models.TaskPatch) (models.Task, error) {
	if _, inTx := s.db.(*sqlx.Tx); inTx {
		return updateTask(s.db, id, patch)
	}
	tx, err := s.Begin()
	if err != nil {
		return models.Task{}, err
	}
	task, err := updateTask(tx.db, id, patch)
	if err != nil {
		_ = tx.Rollback()
		return task, err
	}
	if err := tx.Commit(); err != nil {
		return models.Task{}, fmt.Errorf("update task %s: %w", id, err)
	}
	return task, nil
}

func updateTask(db DBInterface, id string, patch models.TaskPatch) (models.Task, error) {
	task, err := getTask(db, "SELECT "+taskColumns+" FROM tasks WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return models.Task{}, err
	}
	if !patch.Apply(&task) {
		return task, storage.ErrStatusConflict
	}
	_, err = db.Exec(`
		UPDATE tasks SET status = $1, result = $2, end_time = $3, logs = $4
		WHERE id = $5`,
		task.Status, task.Result, task.EndTime, task.Logs, id)
	if err != nil {
		return models.Task{}, fmt.Errorf("update task %s: %w", id, err)
	}
	return task, nil
}

func (s *PostgresStore) DeleteTask(id string) error {
	return s.deleteByID("tasks", id)
}

func (s *PostgresStore) ClearTasks() error {
	_, err := s.db.Exec("DELETE FROM tasks")
	return err
}

func getTask(db DBInterface, query, id string) (models.Task, error) {
	var task models.Task
	err := db.Get(&task, query, id)
	if err == sql.ErrNoRows {
		return models.Task{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Task{}, err
	}
	return task, nil
}

func (s *PostgresStore) deleteByID(table, id string) error {
	res, err := s.db.Exec("DELETE FROM "+table+" WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
