package http

import (
	"net/http"

	"github.com/apexai/nexus/internal/log"
	"github.com/apexai/nexus/pkg/models"
	"github.com/apexai/nexus/pkg/service"
	"github.com/apexai/nexus/pkg/storage"
	"github.com/pkg/errors"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, service.ErrModelNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrMissingToken),
		errors.Is(err, service.ErrCredentialNotFound):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrTaskNotPolling):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.GetLogger().Errorf("Request failed: %v", err)
	}
	writeError(w, status, err.Error())
}

func (s *Server) listCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := s.catalog.ListCredentials()
	if err != nil {
		fail(w, err)
		return
	}
	out := make([]models.Credential, 0, len(creds))
	for _, c := range creds {
		out = append(out, c.Redacted())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) saveCredential(w http.ResponseWriter, r *http.Request) {
	var c models.Credential
	if !decodeJSON(w, r, &c) {
		return
	}
	saved, err := s.catalog.SaveCredential(c)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved.Redacted())
}

func (s *Server) deleteCredential(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.DeleteCredential(r.PathValue("id")); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	ms, err := s.catalog.ListModels()
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

func (s *Server) saveModel(w http.ResponseWriter, r *http.Request) {
	var m models.Model
	if !decodeJSON(w, r, &m) {
		return
	}
	saved, err := s.catalog.SaveModel(m)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) getModel(w http.ResponseWriter, r *http.Request) {
	m, err := s.catalog.GetModel(r.PathValue("id"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) deleteModel(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.DeleteModel(r.PathValue("id")); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) modelFields(w http.ResponseWriter, r *http.Request) {
	fields, err := s.catalog.ModelFields(r.PathValue("id"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fields)
}
