// Package server exposes the console-facing HTTP API: pipeline CRUD and
// lifecycle actions, connection tests, metrics, DLQ operations, and the
// provider catalog.
package server

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pinotpulse/ingest/internal/engine"
	"github.com/pinotpulse/ingest/internal/metrics"
	"github.com/pinotpulse/ingest/internal/store"
	"github.com/pinotpulse/ingest/pkg/config"
	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/logger"
	"github.com/pinotpulse/ingest/pkg/model"
	"github.com/pinotpulse/ingest/pkg/provider"
	"github.com/pinotpulse/ingest/pkg/vault"
)

// Server wires the engine's services behind the console API.
type Server struct {
	cfg       config.ServerConfig
	store     *store.Store
	vault     vault.Vault
	providers *provider.Registry
	manager   *engine.Manager
	tester    *engine.Tester
	dlq       *engine.DLQService
	agg       *metrics.Aggregator
	logger    *zap.Logger

	httpServer *http.Server
}

// Params carries the server's dependencies.
type Params struct {
	Config     config.ServerConfig
	Store      *store.Store
	Vault      vault.Vault
	Providers  *provider.Registry
	Manager    *engine.Manager
	Tester     *engine.Tester
	DLQ        *engine.DLQService
	Aggregator *metrics.Aggregator
}

// New builds a Server and its router.
func New(p Params) *Server {
	s := &Server{
		cfg:       p.Config,
		store:     p.Store,
		vault:     p.Vault,
		providers: p.Providers,
		manager:   p.Manager,
		tester:    p.Tester,
		dlq:       p.DLQ,
		agg:       p.Aggregator,
		logger:    logger.Get().With(zap.String("component", "server")),
	}
	s.httpServer = &http.Server{
		Addr:         p.Config.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  p.Config.ReadTimeout,
		WriteTimeout: p.Config.WriteTimeout,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/pipelines", s.listPipelines)
	mux.HandleFunc("POST /api/v1/pipelines", s.createPipeline)
	mux.HandleFunc("POST /api/v1/pipelines/test", s.testConfig)
	mux.HandleFunc("GET /api/v1/pipelines/{id}", s.getPipeline)
	mux.HandleFunc("PUT /api/v1/pipelines/{id}", s.updatePipeline)
	mux.HandleFunc("DELETE /api/v1/pipelines/{id}", s.deletePipeline)
	mux.HandleFunc("POST /api/v1/pipelines/{id}/test", s.testPipeline)
	mux.HandleFunc("POST /api/v1/pipelines/{id}/action", s.pipelineAction)
	mux.HandleFunc("POST /api/v1/pipelines/{id}/upload", s.uploadFile)
	mux.HandleFunc("GET /api/v1/pipelines/{id}/metrics", s.pipelineMetrics)
	mux.HandleFunc("GET /api/v1/pipelines/{id}/dlq", s.listDLQ)
	mux.HandleFunc("POST /api/v1/pipelines/{id}/dlq/retry", s.retryAllDLQ)
	mux.HandleFunc("POST /api/v1/pipelines/{id}/dlq/{entry}/retry", s.retryDLQ)
	mux.HandleFunc("POST /api/v1/pipelines/{id}/dlq/{entry}/discard", s.discardDLQ)

	mux.HandleFunc("GET /api/v1/providers", s.listProviders)
	mux.HandleFunc("GET /api/v1/providers/{kind}", s.getProvider)

	mux.HandleFunc("GET /healthz", s.healthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s.logged(mux)
}

// Run serves until the context is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
		errc <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, errors.ErrorTypeInternal, "http server failed")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) logged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path))
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// loadPipeline resolves the {id} path segment as an ID first, then as a
// slug so console links can use either.
func (s *Server) loadPipeline(r *http.Request) (*model.Pipeline, error) {
	ref := r.PathValue("id")
	p, err := s.store.GetPipeline(r.Context(), ref)
	if err == nil {
		return p, nil
	}
	if errors.IsType(err, errors.ErrorTypeNotFound) {
		return s.store.GetPipelineBySlug(r.Context(), ref)
	}
	return nil, err
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.TypeOf(err) {
	case errors.ErrorTypeValidation, errors.ErrorTypeConfig, errors.ErrorTypeData:
		status = http.StatusBadRequest
	case errors.ErrorTypeNotFound:
		status = http.StatusNotFound
	case errors.ErrorTypeConflict:
		status = http.StatusConflict
	case errors.ErrorTypeRateLimit:
		status = http.StatusTooManyRequests
	case errors.ErrorTypeTimeout:
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"type":  string(errors.TypeOf(err)),
	})
}

func decodeBody(r *http.Request, out interface{}) error {
	defer r.Body.Close() //nolint:errcheck
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "malformed request body")
	}
	return nil
}
