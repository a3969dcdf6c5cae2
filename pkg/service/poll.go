package service

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/apexai/nexus/pkg/jsonutil"
	"github.com/apexai/nexus/pkg/models"
	"github.com/apexai/nexus/pkg/proxy"
	"github.com/apexai/nexus/pkg/storage"
	"github.com/pkg/errors"
)

type pollJob struct {
	taskID   string
	remoteID string
	model    models.Model
	cred     models.Credential
}

func (e *TaskEngine) schedulePoll(job pollJob, delay time.Duration) {
	e.scheduler.AfterFunc(delay, func() { e.pollOnce(job) })
}

// pollOnce is one step of the polling state machine. It either moves the task to
// a terminal state or schedules the next step; transport errors only delay it.
func (e *TaskEngine) pollOnce(job pollJob) {
	if e.ctx.Err() != nil {
		e.logger.Debugf("Engine stopped, dropping poll of task %s", job.taskID)
		return
	}
	task, err := e.tasks.GetTask(job.taskID)
	if errors.Is(err, storage.ErrNotFound) {
		e.logger.Debugf("Task %s was deleted, polling stops", job.taskID)
		return
	}
	if err != nil {
		e.logger.Errorf("Failed to read task %s before polling: %v", job.taskID, err)
		e.schedulePoll(job, e.retryInterval)
		return
	}
	if task.Status != models.PollingTaskStatus {
		e.logger.Debugf("Task %s is %s, polling stops", job.taskID, task.Status)
		return
	}

	url := job.cred.BaseURL + strings.ReplaceAll(job.model.QueryPath, taskIDPlaceholder, job.remoteID)
	resp, err := e.proxy.Do(e.ctx, proxy.Request{
		URL:     url,
		Method:  http.MethodGet,
		Headers: map[string]string{"Authorization": "Bearer " + job.cred.Token},
	})
	if err != nil {
		e.retry(job, "Poll failed: "+redact(err.Error(), job.cred.Token), nil)
		return
	}
	if !resp.OK() {
		e.retry(job, fmt.Sprintf("Poll failed: %d %s", resp.Status, resp.StatusText), resp.Data)
		return
	}

	status, _ := jsonutil.LookupString(resp.Data, job.model.Paths.Status)
	if output, ok := presentString(resp.Data, job.model.Paths.OutputURL); ok {
		e.succeed(job.taskID, output)
		return
	}
	if _, failed := failureStatuses[status]; failed {
		e.fail(job.taskID, fmt.Sprintf("Remote task %s", status), resp.Data)
		return
	}

	msg := "Status: " + status
	if status == "" {
		msg = "Status: unknown"
	}
	if _, done := successStatuses[status]; done {
		msg = fmt.Sprintf("Remote task reports %s, waiting for output", status)
	}
	if !e.appendLog(job.taskID, e.entry(models.InfoLog, msg, nil)) {
		return
	}
	e.schedulePoll(job, e.pollInterval)
}

func (e *TaskEngine) retry(job pollJob, msg string, detail json.RawMessage) {
	e.logger.Warnf("Task %s: %s", job.taskID, msg)
	entry := e.entry(models.ErrorLog, fmt.Sprintf("%s (retrying in %s)", msg, e.retryInterval), detail)
	if !e.appendLog(job.taskID, entry) {
		return
	}
	e.schedulePoll(job, e.retryInterval)
}
