package storage_test

import (
	"sync"
	"testing"
	"time"

	"github.com/apexai/nexus/pkg/models"
	"github.com/apexai/nexus/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTask(id string) models.Task {
	return models.Task{
		ID:        id,
		ModelID:   "m1",
		ModelName: "Model 1",
		StartTime: time.Now(),
		Status:    models.PollingTaskStatus,
		Inputs:    models.Inputs{"prompt": "cat", "tags": []interface{}{"a"}},
		Summary:   "cat",
	}
}

func TestMemoryStore(t *testing.T) {
	t.Run("InsertAndGetTask", func(t *testing.T) {
		store := storage.NewMemoryStore()
		require.NoError(t, store.InsertTask(newTask("t1")))

		got, err := store.GetTask("t1")
		require.NoError(t, err)
		assert.Equal(t, "cat", got.Summary)
		assert.Equal(t, models.PollingTaskStatus, got.Status)
	})

	t.Run("DuplicateInsert", func(t *testing.T) {
		store := storage.NewMemoryStore()
		require.NoError(t, store.InsertTask(newTask("t1")))
		assert.Error(t, store.InsertTask(newTask("t1")))
	})

	t.Run("GetNonExistingTask", func(t *testing.T) {
		store := storage.NewMemoryStore()
		_, err := store.GetTask("nope")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ReturnedTasksAreCopies", func(t *testing.T) {
		store := storage.NewMemoryStore()
		require.NoError(t, store.InsertTask(newTask("t1")))

		got, err := store.GetTask("t1")
		require.NoError(t, err)
		got.Status = models.StoppedTaskStatus
		got.Inputs["prompt"] = "dog"
		got.Inputs["tags"].([]interface{})[0] = "b"

		again, err := store.GetTask("t1")
		require.NoError(t, err)
		assert.Equal(t, models.PollingTaskStatus, again.Status)
		assert.Equal(t, "cat", again.Inputs["prompt"])
		assert.Equal(t, []interface{}{"a"}, again.Inputs["tags"])
	})

	t.Run("UpdateTaskPrependsLogs", func(t *testing.T) {
		store := storage.NewMemoryStore()
		require.NoError(t, store.InsertTask(newTask("t1")))

		_, err := store.UpdateTask("t1", models.TaskPatch{PrependLogs: []models.LogEntry{{Msg: "first", Type: models.InfoLog}}})
		require.NoError(t, err)
		result := "http://x/y.png"
		updated, err := store.UpdateTask("t1", models.TaskPatch{
			Status:      models.StatusPtr(models.SuccessTaskStatus),
			Result:      &result,
			PrependLogs: []models.LogEntry{{Msg: "second", Type: models.SuccessLog}},
		})
		require.NoError(t, err)
		assert.Equal(t, models.SuccessTaskStatus, updated.Status)
		assert.Equal(t, result, updated.Result)
		require.Len(t, updated.Logs, 2)
		assert.Equal(t, "second", updated.Logs[0].Msg)
		assert.Equal(t, "first", updated.Logs[1].Msg)
	})

	t.Run("UpdateTaskGuard", func(t *testing.T) {
		store := storage.NewMemoryStore()
		task := newTask("t1")
		task.Status = models.StoppedTaskStatus
		require.NoError(t, store.InsertTask(task))

		_, err := store.UpdateTask("t1", models.TaskPatch{
			ExpectStatus: models.StatusPtr(models.PollingTaskStatus),
			Status:       models.StatusPtr(models.SuccessTaskStatus),
		})
		assert.ErrorIs(t, err, storage.ErrStatusConflict)

		got, err := store.GetTask("t1")
		require.NoError(t, err)
		assert.Equal(t, models.StoppedTaskStatus, got.Status)
		assert.Empty(t, got.Logs)
	})

	t.Run("ConcurrentGuardedUpdatesWinOnce", func(t *testing.T) {
		store := storage.NewMemoryStore()
		require.NoError(t, store.InsertTask(newTask("t1")))

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.UpdateTask("t1", models.TaskPatch{
					ExpectStatus: models.StatusPtr(models.PollingTaskStatus),
					Status:       models.StatusPtr(models.StoppedTaskStatus),
				})
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("ListTasksNewestFirst", func(t *testing.T) {
		store := storage.NewMemoryStore()
		for _, id := range []string{"a", "b", "c"} {
			require.NoError(t, store.InsertTask(newTask(id)))
		}
		tasks, err := store.ListTasks()
		require.NoError(t, err)
		require.Len(t, tasks, 3)
		assert.Equal(t, "c", tasks[0].ID)
		assert.Equal(t, "a", tasks[2].ID)
	})

	t.Run("DeleteAndClearTasks", func(t *testing.T) {
		store := storage.NewMemoryStore()
		require.NoError(t, store.InsertTask(newTask("a")))
		require.NoError(t, store.InsertTask(newTask("b")))

		require.NoError(t, store.DeleteTask("a"))
		assert.ErrorIs(t, store.DeleteTask("a"), storage.ErrNotFound)

		require.NoError(t, store.ClearTasks())
		tasks, err := store.ListTasks()
		require.NoError(t, err)
		assert.Empty(t, tasks)
	})

	t.Run("Catalog", func(t *testing.T) {
		store := storage.NewMemoryStore()
		cred := models.Credential{ID: "c1", Name: "Ark", BaseURL: "https://api.example.com", Token: "tok"}
		model := models.Model{ID: "m1", CredentialID: "c1", Name: "Seedance", CreatePath: "/tasks"}

		require.NoError(t, store.SaveCredential(cred))
		require.NoError(t, store.SaveModel(model))

		gotCred, err := store.GetCredential("c1")
		require.NoError(t, err)
		assert.Equal(t, cred, gotCred)
		gotModel, err := store.GetModel("m1")
		require.NoError(t, err)
		assert.True(t, gotModel.IsSync())

		creds, err := store.ListCredentials()
		require.NoError(t, err)
		assert.Len(t, creds, 1)
		mods, err := store.ListModels()
		require.NoError(t, err)
		assert.Len(t, mods, 1)

		require.NoError(t, store.DeleteModel("m1"))
		require.NoError(t, store.DeleteCredential("c1"))
		_, err = store.GetModel("m1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = store.GetCredential("c1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}
