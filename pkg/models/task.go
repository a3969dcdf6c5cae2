package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/mohae/deepcopy"
)

type TaskStatus string

const (
	PollingTaskStatus TaskStatus = "polling"
	SuccessTaskStatus TaskStatus = "success"
	FailedTaskStatus  TaskStatus = "failed"
	StoppedTaskStatus TaskStatus = "stopped"
)

// IsTerminal reports whether no further transition is possible.
func (s TaskStatus) IsTerminal() bool {
	return s != PollingTaskStatus
}

type LogType string

const (
	InfoLog    LogType = "info"
	SuccessLog LogType = "success"
	ErrorLog   LogType = "error"
	DebugLog   LogType = "debug"
)

// LogEntry is one line of a task's audit trail.
type LogEntry struct {
	Time   time.Time       `json:"time"`
	Msg    string          `json:"msg"`
	Type   LogType         `json:"type"`
	Detail json.RawMessage `json:"detail,omitempty"`
}

// TaskLogs is stored newest first.
type TaskLogs []LogEntry

func (l TaskLogs) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

func (l *TaskLogs) Scan(src interface{}) error {
	return scanJSON(src, l)
}

// Inputs is the frozen snapshot of user values a task was submitted with.
type Inputs map[string]interface{}

func (in Inputs) Value() (driver.Value, error) {
	if in == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(in)
}

func (in *Inputs) Scan(src interface{}) error {
	return scanJSON(src, in)
}

// Task is one run of a Model with concrete inputs.
type Task struct {
	ID        string     `json:"id" db:"id"`
	ModelID   string     `json:"modelId" db:"model_id"`
	ModelName string     `json:"modelName" db:"model_name"`
	StartTime time.Time  `json:"startTime" db:"start_time"`
	EndTime   *time.Time `json:"endTime,omitempty" db:"end_time"`
	Status    TaskStatus `json:"status" db:"status"`
	Inputs    Inputs     `json:"inputs" db:"inputs"`
	Logs      TaskLogs   `json:"logs" db:"logs"`
	Result    string     `json:"result,omitempty" db:"result"`
	Summary   string     `json:"summary" db:"summary"`
}

// TaskPatch is a partial update applied atomically by a store.
type TaskPatch struct {
	// ExpectStatus, when set, refuses the patch unless the stored status matches.
	ExpectStatus *TaskStatus
	Status       *TaskStatus
	Result       *string
	EndTime      *time.Time
	// PrependLogs are added at the head of the log, first element ends up first.
	PrependLogs []LogEntry
}

// Apply mutates t in place. It returns false, leaving t untouched, when the
// ExpectStatus guard does not hold.
func (p TaskPatch) Apply(t *Task) bool {
	if p.ExpectStatus != nil && t.Status != *p.ExpectStatus {
		return false
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Result != nil {
		t.Result = *p.Result
	}
	if p.EndTime != nil {
		end := *p.EndTime
		t.EndTime = &end
	}
	if len(p.PrependLogs) > 0 {
		logs := make(TaskLogs, 0, len(p.PrependLogs)+len(t.Logs))
		logs = append(logs, p.PrependLogs...)
		t.Logs = append(logs, t.Logs...)
	}
	return true
}

// Clone returns a copy that shares no mutable state with t.
func (t Task) Clone() Task {
	c := t
	if t.EndTime != nil {
		end := *t.EndTime
		c.EndTime = &end
	}
	if t.Logs != nil {
		c.Logs = make(TaskLogs, len(t.Logs))
		copy(c.Logs, t.Logs)
	}
	if t.Inputs != nil {
		c.Inputs = CopyInputs(t.Inputs)
	}
	return c
}

// CopyInputs deep-copies user values so the snapshot never aliases caller state.
func CopyInputs(in map[string]interface{}) Inputs {
	if in == nil {
		return Inputs{}
	}
	copied, ok := deepcopy.Copy(in).(map[string]interface{})
	if !ok {
		return Inputs{}
	}
	return Inputs(copied)
}

// StatusPtr is a small helper for building patches.
func StatusPtr(s TaskStatus) *TaskStatus {
	return &s
}
