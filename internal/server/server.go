package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/app"
	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/cache"
	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/config"
	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/logger"
	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/privacy"
	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/store"
	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/web"
	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/websocket"
)

// Version is reported by /info
var Version = "0.1.0"

// RunLister reads the run ledger
type RunLister interface {
	RecentRuns(ctx context.Context, limit int) ([]*store.RunRecord, error)
	GetRun(ctx context.Context, runID uuid.UUID) (*store.RunRecord, error)
	FileReports(ctx context.Context, runID uuid.UUID) ([]*store.FileRecord, error)
}

// Server exposes the engine over HTTP
type Server struct {
	config    *config.Config
	logger    *logger.Logger
	engine    *privacy.Engine
	redactor  privacy.Redactor
	cache     *cache.RedactionCache
	runs      RunLister
	router    *mux.Router
	server    *http.Server
	wsHub     *websocket.Hub
	limiter   *clientLimiter
	metrics   *metrics
	startedAt time.Time
}

// New creates a server over already built services
func New(cfg *config.Config, services *app.Services, log *logger.Logger) (*Server, error) {
	if services == nil || services.Engine == nil {
		return nil, errors.New("engine is required")
	}

	s := &Server{
		config:    cfg,
		logger:    log.WithComponent("server"),
		engine:    services.Engine,
		redactor:  services.Redactor,
		cache:     services.Cache,
		router:    mux.NewRouter(),
		wsHub:     websocket.NewHub(&cfg.WebSocket, log.Logger),
		metrics:   newMetrics(),
		startedAt: time.Now(),
	}
	if s.redactor == nil {
		s.redactor = services.Engine
	}
	if services.Store != nil {
		s.runs = services.Store
	}
	if cfg.Server.RateLimit.Enabled {
		s.limiter = newClientLimiter(cfg.Server.RateLimit.RequestsPerMinute, cfg.Server.RateLimit.Burst)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.router.HandleFunc("/", web.ServeDashboard).Methods(http.MethodGet, http.MethodHead)
	s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods(http.MethodGet, http.MethodHead)
	s.router.HandleFunc("/ws", s.wsHub.HandleWebSocket).Methods(http.MethodGet)

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/rules", s.handleRules).Methods(http.MethodGet)
	api.Handle("/redact", s.bodyLimit(http.HandlerFunc(s.handleRedact))).Methods(http.MethodPost)
	api.HandleFunc("/runs", s.handleRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", s.handleRun).Methods(http.MethodGet)
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the WebSocket hub for broadcasting events
func (s *Server) Hub() *websocket.Hub {
	return s.wsHub
}

// Start runs the hub and serves HTTP until Stop is called. The hub stops
// when ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting de-identification server",
		zap.Int("port", s.config.Server.Port),
		zap.String("recognizer", s.engine.RecognizerName()),
		zap.String("entity_mode", string(s.engine.Options().Mode)),
		zap.Bool("cache", s.cache != nil),
		zap.Bool("run_ledger", s.runs != nil))

	go s.wsHub.Run(ctx)
	if s.limiter != nil {
		go s.cleanupLimiter(ctx)
	}

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping de-identification server")
	return s.server.Shutdown(ctx)
}

func (s *Server) cleanupLimiter(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.cleanup(time.Hour); n > 0 {
				s.logger.Debug("Removed idle rate limiter entries", zap.Int("removed", n))
			}
		}
	}
}
