// Package api exposes the embedded store over HTTP for local tooling. Every
// table request is authenticated, checked against the access engine and, for
// reads, filtered before it is returned.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"auditdesk/access"
	"auditdesk/config"
	"auditdesk/storage"
)

// rateLimiterEntry holds a rate limiter with last seen time
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// API holds the API server
type API struct {
	router   *mux.Router
	server   *http.Server
	store    *storage.SQLite
	access   *access.Engine
	config   *config.Config
	authOpts storage.AuthOptions
	logger   *zap.SugaredLogger
	validate *validator.Validate

	loginLimiters   map[string]*rateLimiterEntry
	loginLimitersMu sync.Mutex
	stopCh          chan struct{}
	stopOnce        sync.Once
}

// NewAPI creates a new API server
func NewAPI(store *storage.SQLite, engine *access.Engine, cfg *config.Config, logger *zap.SugaredLogger) (*API, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret is required to serve the API (set AUDITDESK_JWT_SECRET)")
	}
	a := &API{
		router:        mux.NewRouter(),
		store:         store,
		access:        engine,
		config:        cfg,
		authOpts:      cfg.AuthOptions(),
		logger:        logger,
		validate:      validator.New(),
		loginLimiters: make(map[string]*rateLimiterEntry),
		stopCh:        make(chan struct{}),
	}
	a.setupRoutes()
	go a.cleanupLoginLimiters()
	return a, nil
}

// setupRoutes sets up the API routes
func (a *API) setupRoutes() {
	a.router.Use(a.requestIDMiddleware)
	a.router.Use(a.metricsMiddleware)

	a.router.HandleFunc("/health", a.healthCheck).Methods(http.MethodGet)
	a.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := a.router.PathPrefix("/api/v1").Subrouter()
	v1.Handle("/auth/login", a.loginRateLimit(http.HandlerFunc(a.login))).Methods(http.MethodPost)
	v1.Handle("/auth/me", a.authMiddleware(http.HandlerFunc(a.me))).Methods(http.MethodGet)

	tables := v1.PathPrefix("/tables").Subrouter()
	tables.Use(a.authMiddleware)
	tables.Use(a.accessMiddleware)
	tables.HandleFunc("/{table}", a.listRows).Methods(http.MethodGet)
	tables.HandleFunc("/{table}", a.createRow).Methods(http.MethodPost)
	tables.HandleFunc("/{table}/{id}", a.getRow).Methods(http.MethodGet)
	tables.HandleFunc("/{table}/{id}", a.updateRow).Methods(http.MethodPatch)
	tables.HandleFunc("/{table}/{id}", a.deleteRow).Methods(http.MethodDelete)
}

// Handler returns the routed handler, for embedding and tests.
func (a *API) Handler() http.Handler {
	return a.router
}

// Start serves on the configured address until Stop is called.
func (a *API) Start() error {
	a.server = &http.Server{
		Addr:              a.config.APIAddr(),
		Handler:           a.router,
		ReadTimeout:       a.config.API.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      a.config.API.WriteTimeout,
	}
	a.logger.Infow("API listening", "addr", a.server.Addr)
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the API server
func (a *API) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}

func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.store.DB.PingContext(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err, a.logger)
		return
	}
	a.respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}
