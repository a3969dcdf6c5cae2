package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/apexai/nexus/internal/log"
	"github.com/apexai/nexus/pkg/proxy"
	"github.com/apexai/nexus/pkg/service"
)

// Server exposes the catalog, the task engine and the raw proxy over HTTP.
type Server struct {
	engine  *service.TaskEngine
	catalog *service.CatalogService
	proxy   proxy.Proxy
	hub     *Hub
	metrics http.Handler
}

type Option func(*Server)

// WithHub enables GET /api/tasks/events. The hub must also be registered as a
// notifier on the engine.
func WithHub(h *Hub) Option {
	return func(s *Server) { s.hub = h }
}

// WithMetrics serves h at GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

func NewServer(engine *service.TaskEngine, catalog *service.CatalogService, px proxy.Proxy, opts ...Option) *Server {
	s := &Server{engine: engine, catalog: catalog, proxy: px}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes registers every endpoint on a fresh mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", HealthHandler)
	mux.HandleFunc("POST /api/proxy", s.proxyRequest)

	mux.HandleFunc("GET /api/credentials", s.listCredentials)
	mux.HandleFunc("POST /api/credentials", s.saveCredential)
	mux.HandleFunc("DELETE /api/credentials/{id}", s.deleteCredential)

	mux.HandleFunc("GET /api/models", s.listModels)
	mux.HandleFunc("POST /api/models", s.saveModel)
	mux.HandleFunc("GET /api/models/{id}", s.getModel)
	mux.HandleFunc("DELETE /api/models/{id}", s.deleteModel)
	mux.HandleFunc("GET /api/models/{id}/fields", s.modelFields)

	mux.HandleFunc("POST /api/tasks", s.submitTask)
	mux.HandleFunc("POST /api/tasks/batch", s.submitBatch)
	mux.HandleFunc("GET /api/tasks", s.listTasks)
	mux.HandleFunc("DELETE /api/tasks", s.clearTasks)
	mux.HandleFunc("GET /api/tasks/{id}", s.getTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.deleteTask)
	mux.HandleFunc("POST /api/tasks/{id}/cancel", s.cancelTask)

	if s.hub != nil {
		mux.HandleFunc("GET /api/tasks/events", s.hub.ServeSSE)
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// StartServer serves handler on port until ctx is cancelled, then shuts down gracefully.
func StartServer(ctx context.Context, port string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.GetLogger().Infof("Starting Nexus server on :%s", port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.GetLogger().Infof("Shutting down Nexus server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "Nexus server is running")
}

func (s *Server) proxyRequest(w http.ResponseWriter, r *http.Request) {
	var req proxy.Request
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.proxy.Do(r.Context(), req)
	if err != nil {
		log.GetLogger().Warnf("Proxy request to %s failed: %v", req.URL, err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON body: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
