package service

import (
	"context"
	"sync"
	"time"

	"github.com/apexai/nexus/pkg/models"
	"github.com/apexai/nexus/pkg/storage"
	"github.com/pkg/errors"
)

type TaskEventType string

const (
	TaskCreated TaskEventType = "created"
	TaskUpdated TaskEventType = "updated"
	TaskDeleted TaskEventType = "deleted"
	TasksClear  TaskEventType = "cleared"
)

// TaskEvent describes one successful change of the task table.
type TaskEvent struct {
	Type TaskEventType `json:"type"`
	Task models.Task   `json:"task"`
}

// TaskNotifier observes the task table, e.g. to stream changes to clients.
// Events arrive in the order the changes were committed. Notify must not
// block and must not change tasks through the TaskService that called it.
type TaskNotifier interface {
	Notify(ev TaskEvent)
}

// TaskService wraps the task operations of a Store with logging and change notification.
type TaskService struct {
	// mu spans each write and its notification so events keep commit order.
	mu        sync.Mutex
	store     storage.Store
	logger    Logger
	notifiers []TaskNotifier
}

func NewTaskService(store storage.Store, logger Logger, notifiers ...TaskNotifier) *TaskService {
	return &TaskService{
		store:     store,
		logger:    logger,
		notifiers: notifiers,
	}
}

func (ts *TaskService) CreateTask(task models.Task) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if err := ts.store.InsertTask(task); err != nil {
		ts.logger.Errorf("Failed to insert task %s: %v", task.ID, err)
		return errors.Wrapf(err, "failed to insert task %s", task.ID)
	}
	ts.notify(TaskEvent{Type: TaskCreated, Task: task})
	return nil
}

func (ts *TaskService) GetTask(id string) (models.Task, error) {
	return ts.store.GetTask(id)
}

func (ts *TaskService) ListTasks() ([]models.Task, error) {
	return ts.store.ListTasks()
}

// UpdateTask applies patch atomically. A refused guard comes back as
// storage.ErrStatusConflict and is not logged as a failure.
func (ts *TaskService) UpdateTask(id string, patch models.TaskPatch) (models.Task, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	task, err := ts.store.UpdateTask(id, patch)
	if errors.Is(err, storage.ErrStatusConflict) {
		ts.logger.Debugf("Skipped update of task %s: status is now '%s'", id, task.Status)
		return task, err
	}
	if err != nil {
		ts.logger.Errorf("Failed to update task %s: %v", id, err)
		return task, err
	}
	ts.notify(TaskEvent{Type: TaskUpdated, Task: task})
	return task, nil
}

func (ts *TaskService) DeleteTask(id string) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if err := ts.store.DeleteTask(id); err != nil {
		return err
	}
	ts.logger.Infof("Deleted task %s", id)
	ts.notify(TaskEvent{Type: TaskDeleted, Task: models.Task{ID: id}})
	return nil
}

func (ts *TaskService) ClearTasks() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if err := ts.store.ClearTasks(); err != nil {
		ts.logger.Errorf("Failed to clear tasks: %v", err)
		return err
	}
	ts.logger.Infof("Cleared all tasks")
	ts.notify(TaskEvent{Type: TasksClear})
	return nil
}

// WaitForTerminal re-reads the task every interval until it leaves the polling state.
func (ts *TaskService) WaitForTerminal(ctx context.Context, id string, interval time.Duration) (models.Task, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		task, err := ts.store.GetTask(id)
		if err != nil {
			return models.Task{}, err
		}
		if task.Status.IsTerminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (ts *TaskService) notify(ev TaskEvent) {
	for _, n := range ts.notifiers {
		n.Notify(ev)
	}
}
