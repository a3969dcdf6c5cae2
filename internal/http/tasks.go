package http

import (
	"context"
	"net/http"

	"github.com/apexai/nexus/pkg/models"
	"github.com/apexai/nexus/pkg/service"
	"github.com/apexai/nexus/pkg/storage"
	"github.com/apexai/nexus/pkg/template"
	"github.com/pkg/errors"
)

type submitRequest struct {
	ModelID string                 `json:"modelId"`
	Inputs  map[string]interface{} `json:"inputs"`
}

type batchRequest struct {
	ModelID string                   `json:"modelId"`
	Inputs  []map[string]interface{} `json:"inputs"`
}

// submitTask waits for the create call but not for polling. The request context
// is detached so a client hanging up does not abort the upstream submission.
func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	inputs, err := s.withDefaults(req.ModelID, req.Inputs)
	if err != nil {
		fail(w, err)
		return
	}
	id, err := s.engine.SubmitModel(context.WithoutCancel(r.Context()), req.ModelID, inputs)
	if err != nil {
		fail(w, err)
		return
	}
	task, err := s.engine.Tasks().GetTask(id)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	fields, err := s.fieldsFor(req.ModelID)
	if err != nil {
		fail(w, err)
		return
	}
	inputsList := make([]map[string]interface{}, len(req.Inputs))
	for i, in := range req.Inputs {
		inputsList[i] = template.ApplyDefaults(fields, in)
	}
	items, err := s.engine.SubmitBatch(context.WithoutCancel(r.Context()), req.ModelID, inputsList)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) withDefaults(modelID string, inputs map[string]interface{}) (map[string]interface{}, error) {
	fields, err := s.fieldsFor(modelID)
	if err != nil {
		return nil, err
	}
	return template.ApplyDefaults(fields, inputs), nil
}

func (s *Server) fieldsFor(modelID string) ([]models.Field, error) {
	fields, err := s.catalog.ModelFields(modelID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errors.Wrapf(service.ErrModelNotFound, "model '%s'", modelID)
	}
	return fields, err
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.engine.Tasks().ListTasks()
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.engine.Tasks().GetTask(r.PathValue("id"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.engine.Cancel(r.PathValue("id"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Tasks().DeleteTask(r.PathValue("id")); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearTasks(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Tasks().ClearTasks(); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
