package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/apexai/nexus/pkg/jsonutil"
	"github.com/apexai/nexus/pkg/models"
	"github.com/apexai/nexus/pkg/proxy"
	"github.com/apexai/nexus/pkg/storage"
	"github.com/apexai/nexus/pkg/template"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	DefaultPollInterval  = 3000 * time.Millisecond
	DefaultRetryInterval = 5000 * time.Millisecond
	DefaultBatchDelay    = 100 * time.Millisecond

	tokenPlaceholder  = "{{token}}"
	taskIDPlaceholder = "{{task_id}}"
	defaultSummary    = "Nexus task"
)

// Logger defines the logging interface for the services.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

var (
	successStatuses = map[string]struct{}{
		"completed":                  {},
		"success":                    {},
		"video_generation_completed": {},
	}
	failureStatuses = map[string]struct{}{
		"failed": {},
		"error":  {},
	}
)

// TaskEngine owns the task lifecycle: build the request, submit it through the
// proxy, then either finish on the create response or poll until a terminal state.
//
// Every engine mutation is guarded on the task still being polling, so a task the
// user stopped is never revived by a response that was already in flight.
type TaskEngine struct {
	ctx           context.Context
	store         storage.Store
	tasks         *TaskService
	proxy         proxy.Proxy
	scheduler     Scheduler
	logger        Logger
	notifiers     []TaskNotifier
	pollInterval  time.Duration
	retryInterval time.Duration
	batchDelay    time.Duration
	now           func() time.Time
	newID         func() string
}

type EngineOption func(*TaskEngine)

func WithScheduler(s Scheduler) EngineOption {
	return func(e *TaskEngine) { e.scheduler = s }
}

func WithPollInterval(d time.Duration) EngineOption {
	return func(e *TaskEngine) { e.pollInterval = d }
}

func WithRetryInterval(d time.Duration) EngineOption {
	return func(e *TaskEngine) { e.retryInterval = d }
}

func WithBatchDelay(d time.Duration) EngineOption {
	return func(e *TaskEngine) { e.batchDelay = d }
}

// WithNotifier may be given several times; every notifier sees every change.
func WithNotifier(n TaskNotifier) EngineOption {
	return func(e *TaskEngine) { e.notifiers = append(e.notifiers, n) }
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *TaskEngine) { e.now = now }
}

func WithIDGenerator(newID func() string) EngineOption {
	return func(e *TaskEngine) { e.newID = newID }
}

// NewTaskEngine builds an engine whose poll chains live as long as ctx.
func NewTaskEngine(ctx context.Context, store storage.Store, px proxy.Proxy, logger Logger, opts ...EngineOption) *TaskEngine {
	e := &TaskEngine{
		ctx:           ctx,
		store:         store,
		proxy:         px,
		scheduler:     NewTimerScheduler(),
		logger:        logger,
		pollInterval:  DefaultPollInterval,
		retryInterval: DefaultRetryInterval,
		batchDelay:    DefaultBatchDelay,
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.tasks = NewTaskService(store, logger, e.notifiers...)
	return e
}

// Tasks exposes the task table the engine writes to.
func (e *TaskEngine) Tasks() *TaskService {
	return e.tasks
}

// Submit creates a task for model and starts processing it. The task is stored
// before any network I/O. Submit returns once the create call has been answered:
// the task is then finished (sync models, or failures) or polling (async models).
// Only configuration problems are returned as errors.
func (e *TaskEngine) Submit(ctx context.Context, model models.Model, cred models.Credential, inputs map[string]interface{}) (string, error) {
	if cred.Token == "" {
		return "", errors.Wrapf(ErrMissingToken, "credential '%s'", cred.Name)
	}

	task := models.Task{
		ID:        e.newID(),
		ModelID:   model.ID,
		ModelName: model.Name,
		StartTime: e.now(),
		Status:    models.PollingTaskStatus,
		Inputs:    models.CopyInputs(inputs),
		Summary:   summarize(inputs),
		Logs:      models.TaskLogs{e.entry(models.InfoLog, fmt.Sprintf("Task created for model '%s'", model.Name), nil)},
	}
	if err := e.tasks.CreateTask(task); err != nil {
		return "", err
	}
	e.logger.Infof("Submitted task %s for model '%s'", task.ID, model.Name)

	e.process(ctx, task, model, cred)
	return task.ID, nil
}

// SubmitModel resolves the model and its credential from the store, then submits.
func (e *TaskEngine) SubmitModel(ctx context.Context, modelID string, inputs map[string]interface{}) (string, error) {
	model, err := e.store.GetModel(modelID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", errors.Wrapf(ErrModelNotFound, "model '%s'", modelID)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to load model '%s'", modelID)
	}
	cred, err := e.store.GetCredential(model.CredentialID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", errors.Wrapf(ErrCredentialNotFound, "model '%s' references credential '%s'", model.Name, model.CredentialID)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to load credential '%s'", model.CredentialID)
	}
	return e.Submit(ctx, model, cred, inputs)
}

// BatchItem is the outcome of one submission in a batch.
type BatchItem struct {
	TaskID string `json:"taskId,omitempty"`
	Error  string `json:"error,omitempty"`
}

// SubmitBatch submits every input set in order, pausing the batch delay between
// submissions. One failed submission does not stop the others.
func (e *TaskEngine) SubmitBatch(ctx context.Context, modelID string, inputsList []map[string]interface{}) ([]BatchItem, error) {
	items := make([]BatchItem, 0, len(inputsList))
	for i, inputs := range inputsList {
		if i > 0 {
			select {
			case <-ctx.Done():
				return items, ctx.Err()
			case <-time.After(e.batchDelay):
			}
		}
		id, err := e.SubmitModel(ctx, modelID, inputs)
		if err != nil {
			e.logger.Warnf("Batch item %d for model '%s' rejected: %v", i, modelID, err)
			items = append(items, BatchItem{Error: err.Error()})
			continue
		}
		items = append(items, BatchItem{TaskID: id})
	}
	return items, nil
}

// Cancel stops a polling task. The next poll tick sees the new status and exits.
func (e *TaskEngine) Cancel(taskID string) (models.Task, error) {
	now := e.now()
	task, err := e.tasks.UpdateTask(taskID, models.TaskPatch{
		ExpectStatus: models.StatusPtr(models.PollingTaskStatus),
		Status:       models.StatusPtr(models.StoppedTaskStatus),
		EndTime:      &now,
		PrependLogs:  []models.LogEntry{e.entry(models.InfoLog, "Task stopped by user", nil)},
	})
	if errors.Is(err, storage.ErrStatusConflict) {
		return task, errors.Wrapf(ErrTaskNotPolling, "task %s is %s", taskID, task.Status)
	}
	if err != nil {
		return task, err
	}
	e.logger.Infof("Task %s stopped by user", taskID)
	return task, nil
}

func (e *TaskEngine) process(ctx context.Context, task models.Task, model models.Model, cred models.Credential) {
	fields := template.Parse(model.BodyTemplate)
	body := template.Fill(model.BodyTemplate, fields, task.Inputs)

	var payload interface{}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		e.fail(task.ID, fmt.Sprintf("Request body is not valid JSON: %v", err), rawString(body))
		return
	}
	payload = jsonutil.Sanitize(payload)
	e.debug(task.ID, "Request payload", payload)

	target := cred.BaseURL + model.CreatePath
	headers := map[string]string{"Content-Type": "application/json"}
	url := target
	if strings.Contains(target, tokenPlaceholder) {
		url = strings.ReplaceAll(target, tokenPlaceholder, cred.Token)
	} else {
		headers["Authorization"] = "Bearer " + cred.Token
	}
	if !e.appendLog(task.ID, e.entry(models.InfoLog, "Submitting to "+target, nil)) {
		return
	}

	resp, err := e.proxy.Do(ctx, proxy.Request{
		URL:     url,
		Method:  http.MethodPost,
		Headers: headers,
		Body:    payload,
	})
	if err != nil {
		e.fail(task.ID, "Create request failed: "+redact(err.Error(), cred.Token), nil)
		return
	}
	if !resp.OK() {
		e.fail(task.ID, fmt.Sprintf("Create request failed: %d %s", resp.Status, resp.StatusText), resp.Data)
		return
	}
	e.debug(task.ID, "Create response", resp.Data)

	if model.IsSync() {
		output, ok := presentString(resp.Data, model.Paths.OutputURL)
		if !ok {
			e.fail(task.ID, "No result url in response", resp.Data)
			return
		}
		e.succeed(task.ID, output)
		return
	}

	remoteID, ok := presentString(resp.Data, model.Paths.TaskID)
	if !ok {
		e.fail(task.ID, "No task id in create response", resp.Data)
		return
	}
	if !e.appendLog(task.ID, e.entry(models.InfoLog, "Remote task id: "+remoteID, nil)) {
		return
	}
	e.schedulePoll(pollJob{taskID: task.ID, remoteID: remoteID, model: model, cred: cred}, e.pollInterval)
}

func (e *TaskEngine) succeed(taskID, result string) {
	now := e.now()
	_, err := e.tasks.UpdateTask(taskID, models.TaskPatch{
		ExpectStatus: models.StatusPtr(models.PollingTaskStatus),
		Status:       models.StatusPtr(models.SuccessTaskStatus),
		Result:       &result,
		EndTime:      &now,
		PrependLogs:  []models.LogEntry{e.entry(models.SuccessLog, "Task completed", nil)},
	})
	if err == nil {
		e.logger.Infof("Task %s completed: %s", taskID, result)
	}
}

func (e *TaskEngine) fail(taskID, msg string, detail json.RawMessage) {
	now := e.now()
	_, err := e.tasks.UpdateTask(taskID, models.TaskPatch{
		ExpectStatus: models.StatusPtr(models.PollingTaskStatus),
		Status:       models.StatusPtr(models.FailedTaskStatus),
		EndTime:      &now,
		PrependLogs:  []models.LogEntry{e.entry(models.ErrorLog, msg, detail)},
	})
	if err == nil {
		e.logger.Errorf("Task %s failed: %s", taskID, msg)
	}
}

// appendLog reports false when the task is no longer polling.
func (e *TaskEngine) appendLog(taskID string, entry models.LogEntry) bool {
	_, err := e.tasks.UpdateTask(taskID, models.TaskPatch{
		ExpectStatus: models.StatusPtr(models.PollingTaskStatus),
		PrependLogs:  []models.LogEntry{entry},
	})
	return err == nil
}

func (e *TaskEngine) debug(taskID, msg string, v interface{}) {
	var detail json.RawMessage
	switch t := v.(type) {
	case json.RawMessage:
		detail = t
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return
		}
		detail = b
	}
	e.logger.Debugf("Task %s: %s: %s", taskID, msg, detail)
	e.appendLog(taskID, e.entry(models.DebugLog, msg, detail))
}

func (e *TaskEngine) entry(typ models.LogType, msg string, detail json.RawMessage) models.LogEntry {
	return models.LogEntry{Time: e.now(), Msg: msg, Type: typ, Detail: detail}
}

// presentString resolves path and requires a truthy value.
func presentString(raw []byte, path string) (string, bool) {
	v, ok := jsonutil.Lookup(raw, path)
	if !ok || !jsonutil.Truthy(v) {
		return "", false
	}
	return jsonutil.LookupString(raw, path)
}

func summarize(inputs map[string]interface{}) string {
	if p, ok := inputs["prompt"].(string); ok && strings.TrimSpace(p) != "" {
		return p
	}
	return defaultSummary
}

func rawString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func redact(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, "***")
}
