// Package api serves the engine's HTTP contract: triggering backup and
// recovery runs, reading the catalog, and alert lifecycle operations.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/drvault/internal/api/handler"
	mw "github.com/edvin/drvault/internal/api/middleware"
	"github.com/edvin/drvault/internal/catalog"
	"github.com/edvin/drvault/internal/config"
	"github.com/edvin/drvault/internal/core"
)

type Server struct {
	router         chi.Router
	logger         zerolog.Logger
	services       *core.Services
	catalogPool    *pgxpool.Pool
	temporalClient temporalclient.Client
	cfg            *config.Config
}

func NewServer(logger zerolog.Logger, catalogPool *pgxpool.Pool, temporalClient temporalclient.Client, cfg *config.Config) *Server {
	services := core.NewServices(catalog.NewServices(catalogPool), temporalClient, core.Options{
		WorkDir:     cfg.WorkDir,
		ConfigPaths: cfg.ConfigBackupPaths,
		RTOTarget:   time.Duration(cfg.RTOTargetMinutes) * time.Minute,
	})

	s := &Server{
		router:         chi.NewRouter(),
		logger:         logger,
		services:       services,
		catalogPool:    catalogPool,
		temporalClient: temporalClient,
		cfg:            cfg,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Route("/v1", func(r chi.Router) {
		backup := handler.NewBackup(s.services.Backup)
		r.Get("/backups", backup.List)
		r.Post("/backups", backup.Trigger)
		r.Get("/backups/{id}", backup.Get)
		r.Post("/backups/{id}/retry", backup.Retry)

		restore := handler.NewRestore(s.services.Restore)
		r.Get("/restores", restore.List)
		r.Post("/restores", restore.Trigger)
		r.Get("/restores/{id}", restore.Get)
		r.Post("/dr", restore.ExecuteDR)

		alert := handler.NewAlert(s.services.Alert)
		r.Get("/alerts", alert.List)
		r.Get("/alerts/{id}", alert.Get)
		r.Post("/alerts/{id}/acknowledge", alert.Acknowledge)
		r.Post("/alerts/{id}/resolve", alert.Resolve)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.catalogPool.Ping(ctx); err != nil {
		checks["catalog_db"] = err.Error()
		healthy = false
	} else {
		checks["catalog_db"] = "ok"
	}

	if _, err := s.temporalClient.CheckHealth(ctx, &temporalclient.CheckHealthRequest{}); err != nil {
		checks["temporal"] = err.Error()
		healthy = false
	} else {
		checks["temporal"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
