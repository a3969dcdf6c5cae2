package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/apexai/nexus/internal/testutil"
	"github.com/apexai/nexus/pkg/models"
	"github.com/apexai/nexus/pkg/proxy"
	"github.com/apexai/nexus/pkg/service"
	"github.com/apexai/nexus/pkg/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProxy records every request and answers with handler.
type fakeProxy struct {
	mu       sync.Mutex
	requests []proxy.Request
	handler  func(req proxy.Request) (*proxy.Response, error)
}

func (f *fakeProxy) Do(ctx context.Context, req proxy.Request) (*proxy.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.handler(req)
}

func (f *fakeProxy) Requests() []proxy.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]proxy.Request(nil), f.requests...)
}

func jsonResponse(status int, body string) *proxy.Response {
	return &proxy.Response{Data: json.RawMessage(body), Status: status, StatusText: http.StatusText(status)}
}

// scripted answers POSTs with create and GETs with polls in order.
func scripted(create *proxy.Response, polls ...func() (*proxy.Response, error)) func(proxy.Request) (*proxy.Response, error) {
	i := 0
	return func(req proxy.Request) (*proxy.Response, error) {
		if req.Method == http.MethodPost {
			return create, nil
		}
		if i >= len(polls) {
			return nil, fmt.Errorf("unexpected poll %d", i)
		}
		p := polls[i]
		i++
		return p()
	}
}

func answer(status int, body string) func() (*proxy.Response, error) {
	return func() (*proxy.Response, error) { return jsonResponse(status, body), nil }
}

type recorder struct {
	mu     sync.Mutex
	events []service.TaskEvent
}

func (r *recorder) Notify(ev service.TaskEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

type harness struct {
	engine    *service.TaskEngine
	store     storage.Store
	scheduler *testutil.ManualScheduler
	proxy     *fakeProxy
	events    *recorder
	cancel    context.CancelFunc
}

func newHarness(t *testing.T, handler func(proxy.Request) (*proxy.Response, error)) *harness {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	seq := 0
	h := &harness{
		store:     storage.NewMemoryStore(),
		scheduler: testutil.NewManualScheduler(),
		proxy:     &fakeProxy{handler: handler},
		events:    &recorder{},
		cancel:    cancel,
	}
	h.engine = service.NewTaskEngine(ctx, h.store, h.proxy, testutil.NopLogger{},
		service.WithScheduler(h.scheduler),
		service.WithNotifier(h.events),
		service.WithBatchDelay(time.Millisecond),
		service.WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("task-%d", seq)
		}),
	)
	return h
}

func (h *harness) task(t *testing.T, id string) models.Task {
	t.Helper()
	task, err := h.store.GetTask(id)
	require.NoError(t, err)
	return task
}

var (
	testCred = models.Credential{ID: "c1", Name: "Ark", BaseURL: "https://api.example.com", Token: "tok"}

	syncModel = models.Model{
		ID:           "m-sync",
		CredentialID: "c1",
		Name:         "Image",
		CreatePath:   "/images",
		Paths:        models.ModelPaths{OutputURL: "data.url"},
		BodyTemplate: `{"prompt":"{{prompt:textarea}}","size":"{{size:select:512,1024|512}}"}`,
	}

	asyncModel = models.Model{
		ID:           "m-async",
		CredentialID: "c1",
		Name:         "Video",
		CreatePath:   "/videos",
		QueryPath:    "/videos/{{task_id}}",
		Paths:        models.ModelPaths{TaskID: "id", Status: "status", OutputURL: "url"},
		BodyTemplate: `{"prompt":"{{prompt}}"}`,
	}
)

func TestTaskEngine_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("MissingToken", func(t *testing.T) {
		h := newHarness(t, scripted(jsonResponse(200, `{}`)))
		cred := testCred
		cred.Token = ""

		_, err := h.engine.Submit(ctx, syncModel, cred, map[string]interface{}{"prompt": "cat"})
		assert.ErrorIs(t, err, service.ErrMissingToken)

		tasks, err := h.store.ListTasks()
		require.NoError(t, err)
		assert.Empty(t, tasks)
		assert.Empty(t, h.proxy.Requests())
	})

	t.Run("TextareaNewlinesEscapedInBody", func(t *testing.T) {
		h := newHarness(t, scripted(jsonResponse(200, `{"data":{"url":"http://x/y.png"}}`)))
		model := syncModel
		model.BodyTemplate = `{"p":"{{prompt:textarea}}"}`

		_, err := h.engine.Submit(ctx, model, testCred, map[string]interface{}{"prompt": "a\nb"})
		require.NoError(t, err)

		reqs := h.proxy.Requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, map[string]interface{}{"p": "a\nb"}, reqs[0].Body)
	})

	t.Run("SyncModelCompletesImmediately", func(t *testing.T) {
		h := newHarness(t, scripted(jsonResponse(200, `{"data":{"url":"http://x/y.png"}}`)))

		id, err := h.engine.Submit(ctx, syncModel, testCred, map[string]interface{}{"prompt": "a cat", "size": "1024"})
		require.NoError(t, err)

		task := h.task(t, id)
		assert.Equal(t, models.SuccessTaskStatus, task.Status)
		assert.Equal(t, "http://x/y.png", task.Result)
		assert.NotNil(t, task.EndTime)
		assert.Equal(t, "a cat", task.Summary)
		assert.Equal(t, "Image", task.ModelName)
		assert.Equal(t, models.SuccessLog, task.Logs[0].Type)
		assert.Empty(t, h.scheduler.Pending())

		reqs := h.proxy.Requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, "https://api.example.com/images", reqs[0].URL)
		assert.Equal(t, http.MethodPost, reqs[0].Method)
		assert.Equal(t, "Bearer tok", reqs[0].Headers["Authorization"])
		assert.Equal(t, map[string]interface{}{"prompt": "a cat", "size": "1024"}, reqs[0].Body)
	})

	t.Run("SyncMissingOutputFails", func(t *testing.T) {
		h := newHarness(t, scripted(jsonResponse(200, `{"data":{"status":"queued"}}`)))

		id, err := h.engine.Submit(ctx, syncModel, testCred, map[string]interface{}{"prompt": "cat"})
		require.NoError(t, err)

		task := h.task(t, id)
		assert.Equal(t, models.FailedTaskStatus, task.Status)
		assert.Equal(t, "No result url in response", task.Logs[0].Msg)
		assert.Empty(t, h.scheduler.Pending())
	})

	t.Run("InvalidTemplateJSONFails", func(t *testing.T) {
		h := newHarness(t, scripted(jsonResponse(200, `{}`)))
		model := syncModel
		model.BodyTemplate = `{"prompt":"{{prompt}}"`

		id, err := h.engine.Submit(ctx, model, testCred, map[string]interface{}{"prompt": "cat"})
		require.NoError(t, err)

		task := h.task(t, id)
		assert.Equal(t, models.FailedTaskStatus, task.Status)
		assert.Contains(t, task.Logs[0].Msg, "not valid JSON")
		assert.Empty(t, h.proxy.Requests())
	})

	t.Run("QuoteInTextBreaksJSON", func(t *testing.T) {
		h := newHarness(t, scripted(jsonResponse(200, `{}`)))

		id, err := h.engine.Submit(ctx, asyncModel, testCred, map[string]interface{}{"prompt": `say "hi"`})
		require.NoError(t, err)
		assert.Equal(t, models.FailedTaskStatus, h.task(t, id).Status)
	})

	t.Run("EmptyValuesAreSanitized", func(t *testing.T) {
		h := newHarness(t, scripted(jsonResponse(200, `{"data":{"url":"u"}}`)))
		model := syncModel
		model.BodyTemplate = `{"prompt":"{{prompt}}","images":["{{a:file-url}}","{{b:file-url}}"]}`

		_, err := h.engine.Submit(ctx, model, testCred, map[string]interface{}{"prompt": "", "a": "http://img"})
		require.NoError(t, err)

		reqs := h.proxy.Requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, map[string]interface{}{"prompt": "", "images": []interface{}{"http://img"}}, reqs[0].Body)
	})

	t.Run("TokenInURL", func(t *testing.T) {
		h := newHarness(t, scripted(jsonResponse(200, `{"data":{"url":"u"}}`)))
		model := syncModel
		model.CreatePath = "/generate?key={{token}}"

		_, err := h.engine.Submit(ctx, model, testCred, map[string]interface{}{"prompt": "cat"})
		require.NoError(t, err)

		reqs := h.proxy.Requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, "https://api.example.com/generate?key=tok", reqs[0].URL)
		assert.NotContains(t, reqs[0].Headers, "Authorization")
	})

	t.Run("NonOKCreateFails", func(t *testing.T) {
		h := newHarness(t, scripted(jsonResponse(401, `{"error":"bad token"}`)))

		id, err := h.engine.Submit(ctx, asyncModel, testCred, map[string]interface{}{"prompt": "cat"})
		require.NoError(t, err)

		task := h.task(t, id)
		assert.Equal(t, models.FailedTaskStatus, task.Status)
		assert.Equal(t, "Create request failed: 401 Unauthorized", task.Logs[0].Msg)
		assert.JSONEq(t, `{"error":"bad token"}`, string(task.Logs[0].Detail))
		assert.Empty(t, h.scheduler.Pending())
	})

	t.Run("TransportErrorOnCreateFails", func(t *testing.T) {
		h := newHarness(t, func(req proxy.Request) (*proxy.Response, error) {
			return nil, errors.New("dial https://api.example.com?key=tok: connection refused")
		})

		id, err := h.engine.Submit(ctx, asyncModel, testCred, map[string]interface{}{"prompt": "cat"})
		require.NoError(t, err)

		task := h.task(t, id)
		assert.Equal(t, models.FailedTaskStatus, task.Status)
		assert.Contains(t, task.Logs[0].Msg, "connection refused")
		assert.NotContains(t, task.Logs[0].Msg, "tok:")
	})

	t.Run("AsyncMissingTaskIDFails", func(t *testing.T) {
		h := newHarness(t, scripted(jsonResponse(200, `{"message":"accepted"}`)))

		id, err := h.engine.Submit(ctx, asyncModel, testCred, map[string]interface{}{"prompt": "cat"})
		require.NoError(t, err)

		task := h.task(t, id)
		assert.Equal(t, models.FailedTaskStatus, task.Status)
		assert.Equal(t, "No task id in create response", task.Logs[0].Msg)
	})

	t.Run("InputsAreSnapshotted", func(t *testing.T) {
		h := newHarness(t, scripted(jsonResponse(200, `{"id":"abc"}`)))
		inputs := map[string]interface{}{"prompt": "cat", "refs": []interface{}{"a"}}

		id, err := h.engine.Submit(ctx, asyncModel, testCred, inputs)
		require.NoError(t, err)
		inputs["prompt"] = "dog"
		inputs["refs"].([]interface{})[0] = "b"

		task := h.task(t, id)
		assert.Equal(t, "cat", task.Inputs["prompt"])
		assert.Equal(t, []interface{}{"a"}, task.Inputs["refs"])
	})

	t.Run("SummaryFallback", func(t *testing.T) {
		h := newHarness(t, scripted(jsonResponse(200, `{"id":"abc"}`)))

		id, err := h.engine.Submit(ctx, asyncModel, testCred, map[string]interface{}{"image": "x"})
		require.NoError(t, err)
		assert.Equal(t, "Nexus task", h.task(t, id).Summary)
	})

	t.Run("NotifierSeesCreationAndUpdates", func(t *testing.T) {
		h := newHarness(t, scripted(jsonResponse(200, `{"data":{"url":"u"}}`)))

		_, err := h.engine.Submit(ctx, syncModel, testCred, map[string]interface{}{"prompt": "cat"})
		require.NoError(t, err)

		h.events.mu.Lock()
		defer h.events.mu.Unlock()
		require.NotEmpty(t, h.events.events)
		assert.Equal(t, service.TaskCreated, h.events.events[0].Type)
		last := h.events.events[len(h.events.events)-1]
		assert.Equal(t, service.TaskUpdated, last.Type)
		assert.Equal(t, models.SuccessTaskStatus, last.Task.Status)
	})
}

func TestTaskEngine_Polling(t *testing.T) {
	ctx := context.Background()

	t.Run("PollsUntilCompleted", func(t *testing.T) {
		h := newHarness(t, scripted(jsonResponse(200, `{"id":"abc"}`),
			answer(200, `{"status":"processing"}`),
			answer(200, `{"status":"completed","url":"http://x/z.mp4"}`),
		))

		id, err := h.engine.Submit(ctx, asyncModel, testCred, map[string]interface{}{"prompt": "cat"})
		require.NoError(t, err)
		assert.Equal(t, models.PollingTaskStatus, h.task(t, id).Status)
		assert.Equal(t, []time.Duration{3 * time.Second}, h.scheduler.Pending())

		_, ran := h.scheduler.RunNext()
		require.True(t, ran)
		assert.Equal(t, models.PollingTaskStatus, h.task(t, id).Status)
		assert.Equal(t, []time.Duration{3 * time.Second}, h.scheduler.Pending())

		reqs := h.proxy.Requests()
		require.Len(t, reqs, 2)
		assert.Equal(t, "https://api.example.com/videos/abc", reqs[1].URL)
		assert.Equal(t, http.MethodGet, reqs[1].Method)
		assert.Equal(t, "Bearer tok", reqs[1].Headers["Authorization"])
		assert.Nil(t, reqs[1].Body)

		_, ran = h.scheduler.RunNext()
		require.True(t, ran)
		task := h.task(t, id)
		assert.Equal(t, models.SuccessTaskStatus, task.Status)
		assert.Equal(t, "http://x/z.mp4", task.Result)
		assert.Empty(t, h.scheduler.Pending())
	})

	t.Run("PollUsesBearerEvenWithTokenInCreateURL", func(t *testing.T) {
		h := newHarness(t, scripted(jsonResponse(200, `{"id":"abc"}`),
			answer(200, `{"url":"http://x/z.mp4"}`),
		))
		model := asyncModel
		model.CreatePath = "/videos?key={{token}}"

		id, err := h.engine.Submit(ctx, model, testCred, map[string]interface{}{"prompt": "cat"})
		require.NoError(t, err)
		h.scheduler.RunNext()

		reqs := h.proxy.Requests()
		require.Len(t, reqs, 2)
		assert.NotContains(t, reqs[0].Headers, "Authorization")
		assert.Equal(t, "Bearer tok", reqs[1].Headers["Authorization"])
		assert.Equal(t, models.SuccessTaskStatus, h.task(t, id).Status)
	})

	t.Run("SuccessStatusWithoutOutputKeepsPolling", func(t *testing.T) {
		h := newHarness(t, scripted(jsonResponse(200, `{"id":"abc"}`),
			answer(200, `{"status":"video_generation_completed"}`),
			answer(200, `{"status":"video_generation_completed","url":"http://x/v.mp4"}`),
		))

		id, err := h.engine.Submit(ctx, asyncModel, testCred, map[string]interface{}{"prompt": "cat"})
		require.NoError(t, err)

		h.scheduler.RunNext()
		assert.Equal(t, models.PollingTaskStatus, h.task(t, id).Status)
		assert.Equal(t, []time.Duration{3 * time.Second}, h.scheduler.Pending())

		h.scheduler.RunNext()
		assert.Equal(t, models.SuccessTaskStatus, h.task(t, id).Status)
	})

	t.Run("FailureStatusEndsPolling", func(t *testing.T) {
		raw := `{"status":"failed","reason":"oom"}`
		h := newHarness(t, scripted(jsonResponse(200, `{"id":"abc"}`), answer(200, raw)))

		id, err := h.engine.Submit(ctx, asyncModel, testCred, map[string]interface{}{"prompt": "cat"})
		require.NoError(t, err)
		h.scheduler.RunNext()

		task := h.task(t, id)
		assert.Equal(t, models.FailedTaskStatus, task.Status)
		assert.Equal(t, models.ErrorLog, task.Logs[0].Type)
		assert.JSONEq(t, raw, string(task.Logs[0].Detail))
		assert.NotNil(t, task.EndTime)
		assert.Empty(t, h.scheduler.Pending())
	})

	t.Run("ErrorStatus", func(t *testing.T) {
		h := newHarness(t, scripted(jsonResponse(200, `{"id":"abc"}`), answer(200, `{"status":"error"}`)))

		id, err := h.engine.Submit(ctx, asyncModel, testCred, map[string]interface{}{"prompt": "cat"})
		require.NoError(t, err)
		h.scheduler.RunNext()
		assert.Equal(t, models.FailedTaskStatus, h.task(t, id).Status)
	})

	t.Run("TransientErrorsAreRetried", func(t *testing.T) {
		h := newHarness(t, scripted(jsonResponse(200, `{"id":"abc"}`),
			func() (*proxy.Response, error) { return nil, errors.New("connection reset") },
			answer(502, `"bad gateway"`),
			answer(200, `{"status":"completed","url":"http://x/z.mp4"}`),
		))

		id, err := h.engine.Submit(ctx, asyncModel, testCred, map[string]interface{}{"prompt": "cat"})
		require.NoError(t, err)

		h.scheduler.RunNext()
		task := h.task(t, id)
		assert.Equal(t, models.PollingTaskStatus, task.Status)
		assert.Equal(t, models.ErrorLog, task.Logs[0].Type)
		assert.Contains(t, task.Logs[0].Msg, "connection reset")
		assert.Equal(t, []time.Duration{5 * time.Second}, h.scheduler.Pending())

		h.scheduler.RunNext()
		assert.Equal(t, models.PollingTaskStatus, h.task(t, id).Status)
		assert.Equal(t, []time.Duration{5 * time.Second}, h.scheduler.Pending())

		h.scheduler.RunNext()
		assert.Equal(t, models.SuccessTaskStatus, h.task(t, id).Status)
	})

	t.Run("CancelStopsPolling", func(t *testing.T) {
		h := newHarness(t, scripted(jsonResponse(200, `{"id":"abc"}`)))

		id, err := h.engine.Submit(ctx, asyncModel, testCred, map[string]interface{}{"prompt": "cat"})
		require.NoError(t, err)

		task, err := h.engine.Cancel(id)
		require.NoError(t, err)
		assert.Equal(t, models.StoppedTaskStatus, task.Status)
		assert.NotNil(t, task.EndTime)

		h.scheduler.RunNext()
		assert.Len(t, h.proxy.Requests(), 1)
		assert.Empty(t, h.scheduler.Pending())
		assert.Equal(t, models.StoppedTaskStatus, h.task(t, id).Status)
	})

	t.Run("CancellationRace", func(t *testing.T) {
		var engine *service.TaskEngine
		var taskID string
		h := newHarness(t, func(req proxy.Request) (*proxy.Response, error) {
			if req.Method == http.MethodPost {
				return jsonResponse(200, `{"id":"abc"}`), nil
			}
			// The user stops the task while the poll request is in flight.
			_, err := engine.Cancel(taskID)
			require.NoError(t, err)
			return jsonResponse(200, `{"status":"completed","url":"http://x/z.mp4"}`), nil
		})
		engine = h.engine

		id, err := h.engine.Submit(ctx, asyncModel, testCred, map[string]interface{}{"prompt": "cat"})
		require.NoError(t, err)
		taskID = id

		h.scheduler.RunNext()
		task := h.task(t, id)
		assert.Equal(t, models.StoppedTaskStatus, task.Status)
		assert.Empty(t, task.Result)
		assert.Empty(t, h.scheduler.Pending())
	})

	t.Run("CancellationRaceWithFailure", func(t *testing.T) {
		var engine *service.TaskEngine
		var taskID string
		h := newHarness(t, func(req proxy.Request) (*proxy.Response, error) {
			if req.Method == http.MethodPost {
				return jsonResponse(200, `{"id":"abc"}`), nil
			}
			_, _ = engine.Cancel(taskID)
			return jsonResponse(200, `{"status":"failed"}`), nil
		})
		engine = h.engine

		id, err := h.engine.Submit(ctx, asyncModel, testCred, map[string]interface{}{"prompt": "cat"})
		require.NoError(t, err)
		taskID = id

		h.scheduler.RunNext()
		assert.Equal(t, models.StoppedTaskStatus, h.task(t, id).Status)
	})

	t.Run("TerminalStatesAreFinal", func(t *testing.T) {
		h := newHarness(t, scripted(jsonResponse(200, `{"data":{"url":"u"}}`)))

		id, err := h.engine.Submit(ctx, syncModel, testCred, map[string]interface{}{"prompt": "cat"})
		require.NoError(t, err)

		_, err = h.engine.Cancel(id)
		assert.ErrorIs(t, err, service.ErrTaskNotPolling)
		assert.Equal(t, models.SuccessTaskStatus, h.task(t, id).Status)
	})

	t.Run("CancelUnknownTask", func(t *testing.T) {
		h := newHarness(t, scripted(jsonResponse(200, `{}`)))
		_, err := h.engine.Cancel("missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("DeletedTaskStopsPolling", func(t *testing.T) {
		h := newHarness(t, scripted(jsonResponse(200, `{"id":"abc"}`)))

		id, err := h.engine.Submit(ctx, asyncModel, testCred, map[string]interface{}{"prompt": "cat"})
		require.NoError(t, err)
		require.NoError(t, h.engine.Tasks().DeleteTask(id))

		h.scheduler.RunNext()
		assert.Len(t, h.proxy.Requests(), 1)
		assert.Empty(t, h.scheduler.Pending())
	})

	t.Run("EngineShutdownStopsPolling", func(t *testing.T) {
		h := newHarness(t, scripted(jsonResponse(200, `{"id":"abc"}`)))

		id, err := h.engine.Submit(ctx, asyncModel, testCred, map[string]interface{}{"prompt": "cat"})
		require.NoError(t, err)
		h.cancel()

		h.scheduler.RunNext()
		assert.Len(t, h.proxy.Requests(), 1)
		assert.Equal(t, models.PollingTaskStatus, h.task(t, id).Status)
	})

	t.Run("IndependentTasksPollIndependently", func(t *testing.T) {
		h := newHarness(t, func(req proxy.Request) (*proxy.Response, error) {
			switch req.URL {
			case "https://api.example.com/videos":
				body := req.Body.(map[string]interface{})
				return jsonResponse(200, fmt.Sprintf(`{"id":%q}`, body["prompt"])), nil
			case "https://api.example.com/videos/one":
				return jsonResponse(200, `{"status":"completed","url":"http://x/1.mp4"}`), nil
			default:
				return jsonResponse(200, `{"status":"processing"}`), nil
			}
		})

		first, err := h.engine.Submit(ctx, asyncModel, testCred, map[string]interface{}{"prompt": "one"})
		require.NoError(t, err)
		second, err := h.engine.Submit(ctx, asyncModel, testCred, map[string]interface{}{"prompt": "two"})
		require.NoError(t, err)
		assert.Len(t, h.scheduler.Pending(), 2)

		h.scheduler.RunNext()
		h.scheduler.RunNext()
		assert.Equal(t, models.SuccessTaskStatus, h.task(t, first).Status)
		assert.Equal(t, models.PollingTaskStatus, h.task(t, second).Status)
		assert.Len(t, h.scheduler.Pending(), 1)
	})
}

func TestTaskEngine_SubmitModel(t *testing.T) {
	ctx := context.Background()

	t.Run("UnknownModel", func(t *testing.T) {
		h := newHarness(t, scripted(jsonResponse(200, `{}`)))
		_, err := h.engine.SubmitModel(ctx, "missing", nil)
		assert.ErrorIs(t, err, service.ErrModelNotFound)
	})

	t.Run("UnknownCredential", func(t *testing.T) {
		h := newHarness(t, scripted(jsonResponse(200, `{}`)))
		require.NoError(t, h.store.SaveModel(asyncModel))

		_, err := h.engine.SubmitModel(ctx, asyncModel.ID, nil)
		assert.ErrorIs(t, err, service.ErrCredentialNotFound)
		assert.Empty(t, h.proxy.Requests())
	})

	t.Run("ResolvesModelAndCredential", func(t *testing.T) {
		h := newHarness(t, scripted(jsonResponse(200, `{"data":{"url":"u"}}`)))
		require.NoError(t, h.store.SaveCredential(testCred))
		require.NoError(t, h.store.SaveModel(syncModel))

		id, err := h.engine.SubmitModel(ctx, syncModel.ID, map[string]interface{}{"prompt": "cat"})
		require.NoError(t, err)
		assert.Equal(t, models.SuccessTaskStatus, h.task(t, id).Status)
	})

	t.Run("Batch", func(t *testing.T) {
		h := newHarness(t, scripted(jsonResponse(200, `{"data":{"url":"u"}}`)))
		require.NoError(t, h.store.SaveCredential(testCred))
		require.NoError(t, h.store.SaveModel(syncModel))

		items, err := h.engine.SubmitBatch(ctx, syncModel.ID, []map[string]interface{}{
			{"prompt": "one"}, {"prompt": "two"}, {"prompt": "three"},
		})
		require.NoError(t, err)
		require.Len(t, items, 3)
		for _, item := range items {
			assert.NotEmpty(t, item.TaskID)
			assert.Empty(t, item.Error)
		}
		tasks, err := h.store.ListTasks()
		require.NoError(t, err)
		assert.Len(t, tasks, 3)
	})

	t.Run("BatchKeepsGoingAfterRejection", func(t *testing.T) {
		h := newHarness(t, scripted(jsonResponse(200, `{}`)))

		items, err := h.engine.SubmitBatch(ctx, "missing", []map[string]interface{}{{}, {}})
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Contains(t, items[0].Error, "model not found")
		assert.Contains(t, items[1].Error, "model not found")
	})

	t.Run("BatchStopsOnCancelledContext", func(t *testing.T) {
		h := newHarness(t, scripted(jsonResponse(200, `{"data":{"url":"u"}}`)))
		require.NoError(t, h.store.SaveCredential(testCred))
		require.NoError(t, h.store.SaveModel(syncModel))
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		items, err := h.engine.SubmitBatch(cctx, syncModel.ID, []map[string]interface{}{{"prompt": "a"}, {"prompt": "b"}})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Len(t, items, 1)
	})
}
