package storage

import (
	"sort"
	"sync"

	"github.com/apexai/nexus/pkg/models"
	"github.com/pkg/errors"
)

// memoryStore implements Store with mutex-guarded maps. Values are copied on the
// way in and out so callers never share state with the store.
type memoryStore struct {
	mu          sync.RWMutex
	credentials map[string]models.Credential
	models      map[string]models.Model
	tasks       map[string]models.Task
	seq         int64
	order       map[string]int64 // insertion sequence, for newest-first listing
}

func NewMemoryStore() Store {
	return &memoryStore{
		credentials: make(map[string]models.Credential),
		models:      make(map[string]models.Model),
		tasks:       make(map[string]models.Task),
		order:       make(map[string]int64),
	}
}

func (m *memoryStore) Close() error {
	return nil
}

func (m *memoryStore) SaveCredential(c models.Credential) error {
	if c.ID == "" {
		return errors.New("credential id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[c.ID] = c
	return nil
}

func (m *memoryStore) GetCredential(id string) (models.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.credentials[id]
	if !ok {
		return models.Credential{}, ErrNotFound
	}
	return c, nil
}

func (m *memoryStore) ListCredentials() ([]models.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Credential, 0, len(m.credentials))
	for _, c := range m.credentials {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memoryStore) DeleteCredential(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.credentials[id]; !ok {
		return ErrNotFound
	}
	delete(m.credentials, id)
	return nil
}

func (m *memoryStore) SaveModel(md models.Model) error {
	if md.ID == "" {
		return errors.New("model id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models[md.ID] = md
	return nil
}

func (m *memoryStore) GetModel(id string) (models.Model, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	md, ok := m.models[id]
	if !ok {
		return models.Model{}, ErrNotFound
	}
	return md, nil
}

func (m *memoryStore) ListModels() ([]models.Model, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Model, 0, len(m.models))
	for _, md := range m.models {
		out = append(out, md)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memoryStore) DeleteModel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.models[id]; !ok {
		return ErrNotFound
	}
	delete(m.models, id)
	return nil
}

func (m *memoryStore) InsertTask(t models.Task) error {
	if t.ID == "" {
		return errors.New("task id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[t.ID]; exists {
		return errors.Errorf("task %s already exists", t.ID)
	}
	m.seq++
	m.order[t.ID] = m.seq
	m.tasks[t.ID] = t.Clone()
	return nil
}

func (m *memoryStore) GetTask(id string) (models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return models.Task{}, ErrNotFound
	}
	return t.Clone(), nil
}

func (m *memoryStore) ListTasks() ([]models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return m.order[out[i].ID] > m.order[out[j].ID] })
	return out, nil
}

// UpdateTask applies the patch under the write lock, so the status guard and the
// write cannot interleave with another update of the same task.
func (m *memoryStore) UpdateTask(id string, patch models.TaskPatch) (models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return models.Task{}, ErrNotFound
	}
	t = t.Clone()
	if !patch.Apply(&t) {
		return t, ErrStatusConflict
	}
	m.tasks[id] = t
	return t.Clone(), nil
}

func (m *memoryStore) DeleteTask(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(m.tasks, id)
	delete(m.order, id)
	return nil
}

func (m *memoryStore) ClearTasks() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = make(map[string]models.Task)
	m.order = make(map[string]int64)
	return nil
}
