// Package server exposes the HTTP surface: synchronous generation, the
// async job endpoints, document processing, and cache administration.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/quizforge/quizforge/api/schemas"
	"github.com/quizforge/quizforge/internal/cache"
	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/docparse"
	"github.com/quizforge/quizforge/internal/jobs"
	"github.com/quizforge/quizforge/internal/llmerrors"
	"github.com/quizforge/quizforge/internal/orchestrator"
	"github.com/quizforge/quizforge/internal/provider"
)

// Server wires the HTTP handlers to the orchestrator, job queue, document
// registry, and cache.
type Server struct {
	cfg     *config.Config
	orch    *orchestrator.Orchestrator
	manager *provider.Manager
	queue   *jobs.Queue
	parsers *docparse.Registry
	cache   *cache.Cache
	logger  *zap.Logger
	http    *http.Server
}

func New(cfg *config.Config, orch *orchestrator.Orchestrator, manager *provider.Manager,
	queue *jobs.Queue, parsers *docparse.Registry, resultCache *cache.Cache, logger *zap.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		orch:    orch,
		manager: manager,
		queue:   queue,
		parsers: parsers,
		cache:   resultCache,
		logger:  logger.Named("server"),
	}
	s.http = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      s.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// Routes builds the router. Exposed separately so tests can drive the full
// mux without binding a socket.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/generate", s.wrap(s.handleGenerate)).Methods(http.MethodPost)
	r.HandleFunc("/providers", s.wrap(s.handleProviders)).Methods(http.MethodGet)

	r.HandleFunc("/jobs", s.wrap(s.handleCreateJob)).Methods(http.MethodPost)
	r.HandleFunc("/jobs", s.wrap(s.handleListJobs)).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}", s.wrap(s.handleGetJob)).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}/cancel", s.wrap(s.handleCancelJob)).Methods(http.MethodPost)

	r.HandleFunc("/api/debug/process", s.wrap(s.handleProcessDocument)).Methods(http.MethodPost)
	r.HandleFunc("/api/debug/verify-ai", s.wrap(s.handleVerifyAI)).Methods(http.MethodPost)

	r.HandleFunc("/cache/stats", s.wrap(s.handleCacheStats)).Methods(http.MethodGet)
	r.HandleFunc("/cache", s.wrap(s.handleCacheClear)).Methods(http.MethodDelete)

	return r
}

// ListenAndServe runs the server until ctx is cancelled, then drains
// connections within the configured shutdown budget.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	s.logger.Info("HTTP server shutting down")
	return s.http.Shutdown(shutdownCtx)
}

// handlerFunc is an http handler that reports failure instead of writing
// its own error payloads.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// wrap converts errors to the canonical envelope with the status derived
// from the error taxonomy.
func (s *Server) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}
		status := llmerrors.HTTPStatus(err)
		s.logger.Warn("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
		writeJSON(w, status, llmerrors.Envelope(err, r.URL.Path, s.cfg.Development()))
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(r *http.Request, into any) error {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return llmerrors.New(llmerrors.KindInvalidInput, 400,
			fmt.Sprintf("invalid JSON body: %s", err))
	}
	return nil
}

// -- Handlers --

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"time":      time.Now().UTC(),
		"providers": s.manager.ConfiguredNames(),
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) error {
	var req schemas.GenerationRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	set, err := s.orch.Generate(r.Context(), req)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, set)
	return nil
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) error {
	descriptors := s.manager.Descriptors()
	type providerView struct {
		schemas.ProviderDescriptor
		Health schemas.ProviderHealth `json:"health"`
	}
	out := make([]providerView, len(descriptors))
	for i, d := range descriptors {
		out[i] = providerView{ProviderDescriptor: d, Health: s.manager.Health(d.Name)}
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": out})
	return nil
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) error {
	var req schemas.GenerationRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return llmerrors.New(llmerrors.KindInvalidInput, 400, err.Error())
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	job, err := s.queue.Create(r.Context(), data)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusAccepted, job)
	return nil
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) error {
	job, err := s.queue.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, job)
	return nil
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) error {
	status := schemas.JobStatus(r.URL.Query().Get("status"))
	switch status {
	case "", schemas.JobPending, schemas.JobProcessing, schemas.JobCompleted, schemas.JobFailed, schemas.JobCancelled:
	default:
		return llmerrors.New(llmerrors.KindInvalidInput, 400,
			fmt.Sprintf("unknown job status %q", status))
	}
	list, err := s.queue.List(r.Context(), status)
	if err != nil {
		return err
	}
	if list == nil {
		list = []*schemas.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
	return nil
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) error {
	job, err := s.queue.Cancel(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, job)
	return nil
}

func (s *Server) handleProcessDocument(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseMultipartForm(s.cfg.Server.MaxUploadBytes); err != nil {
		return llmerrors.New(llmerrors.KindInvalidInput, 400,
			fmt.Sprintf("invalid multipart upload: %s", err))
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return llmerrors.New(llmerrors.KindInvalidInput, 400, `multipart field "file" is required`)
	}
	defer file.Close()

	pages, err := s.parsers.Parse(r.Context(), header.Filename, file)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"filename": header.Filename,
		"pages":    pages,
	})
	return nil
}

func (s *Server) handleVerifyAI(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Text     string               `json:"text"`
		Images   []schemas.ImageInput `json:"images,omitempty"`
		Provider string               `json:"provider,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.Text == "" {
		return llmerrors.New(llmerrors.KindInvalidInput, 400, "text is required")
	}

	name, response, err := s.orch.VerifyProvider(r.Context(), req.Provider, req.Text, req.Images)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"provider": name,
		"response": response,
	})
	return nil
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) error {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"enabled": s.cache != nil,
		"stats":   s.cache.Stats(r.Context()),
	})
	return nil
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) error {
	if err := s.cache.Clear(r.Context()); err != nil {
		return llmerrors.Wrap(err, "failed to clear cache")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "cache cleared",
	})
	return nil
}
