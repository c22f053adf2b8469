// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

// Package server wires the speciesync service, its storage backend and the
// HTTP surface. SetupServer is shared by the serve command and tests.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ZB1234D/Species-Database-App-123/internal/config"
	"github.com/ZB1234D/Species-Database-App-123/internal/sheet"
	"github.com/ZB1234D/Species-Database-App-123/internal/translate"
	"github.com/ZB1234D/Species-Database-App-123/speciesync"
	"github.com/ZB1234D/Species-Database-App-123/speciesync/memstore"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// ServerConfig holds configuration for the server
type ServerConfig struct {
	Config *config.Config
	Logger *slog.Logger

	// Store overrides the backend selected by Config.Store
	Store speciesync.Store
	// Translator overrides the HTTP translation client
	Translator speciesync.Translator
	// Registry receives the metrics; nil creates a private registry
	Registry *prometheus.Registry
}

// ServerComponents holds the initialized server components
type ServerComponents struct {
	Pool        *pgxpool.Pool // nil unless the postgres backend is used
	Store       speciesync.Store
	SyncService *speciesync.SyncService
	JWTAuth     *speciesync.JWTAuth
	Metrics     *speciesync.PrometheusRecorder
	Registry    *prometheus.Registry
	Handler     http.Handler
	Logger      *slog.Logger
	Config      *config.Config
	cancel      context.CancelFunc
}

// TestServer represents a running test server instance
type TestServer struct {
	*ServerComponents
	HTTPServer *httptest.Server
}

// SetupServer initializes storage, the sync service and the HTTP handler
func SetupServer(sc *ServerConfig) (*ServerComponents, error) {
	if sc == nil {
		sc = &ServerConfig{}
	}
	cfg := sc.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := sc.Logger
	if logger == nil {
		logger = cfg.NewLogger(os.Stdout)
	}

	ctx, cancel := context.WithCancel(context.Background())
	comp := &ServerComponents{Logger: logger, Config: cfg, cancel: cancel}

	store := sc.Store
	if store == nil {
		var err error
		store, err = comp.openStore(ctx, cfg)
		if err != nil {
			comp.Close()
			return nil, err
		}
	}
	comp.Store = store

	reg := sc.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	comp.Registry = reg
	comp.Metrics = speciesync.NewPrometheusRecorder(reg)

	translator := sc.Translator
	if translator == nil && cfg.TranslateURL != "" {
		translator = translate.NewPolicy(
			translate.NewHTTPClient(cfg.TranslateURL, cfg.TranslateAPIKey),
			translate.PolicyConfig{Timeout: cfg.TranslateTimeout.Duration, Pace: cfg.TranslatePace.Duration},
			logger,
		)
	}

	svc, err := speciesync.NewSyncService(store, &sheet.Parser{}, translator, &speciesync.ServiceConfig{
		AppName:         cfg.AppName,
		ChangeThreshold: cfg.ChangeThreshold,
		StageMetrics:    comp.Metrics,
		LogStageTimings: cfg.LogStageTimings,
	}, logger)
	if err != nil {
		comp.Close()
		return nil, err
	}
	comp.SyncService = svc

	if cfg.BootstrapAdmin != "" {
		if err := bootstrapAdmin(ctx, svc, cfg.BootstrapAdmin, logger); err != nil {
			comp.Close()
			return nil, err
		}
	}

	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		jwtSecret = defaultJWTSecret
		logger.Warn("Using default JWT secret - change in production!")
	}
	comp.JWTAuth = speciesync.NewJWTAuth(jwtSecret, logger)

	handlers := speciesync.NewHTTPSyncHandlers(svc, comp.JWTAuth, logger, &speciesync.HandlersConfig{
		TokenTTL:       cfg.TokenTTL.Duration,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", speciesync.HandleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	handlers.Register(mux)

	comp.Handler = Chain(mux, RequestIDMiddleware, LoggingMiddleware(logger), RecoveryMiddleware(logger))
	logger.Info("Server components ready", "app", cfg.AppName, "store", cfg.Store, "atomic", store.Atomic())
	return comp, nil
}

func (sc *ServerComponents) openStore(ctx context.Context, cfg *config.Config) (speciesync.Store, error) {
	if cfg.Store == "memory" {
		sc.Logger.Warn("Using in-memory store; data is lost on restart")
		return memstore.New(&memstore.Options{NonAtomic: cfg.DisableTransactions}), nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	sc.Pool = pool

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	if err := speciesync.MigrateUp(pool, sc.Logger); err != nil {
		return nil, err
	}
	return speciesync.NewPGStore(pool, &speciesync.PGStoreOptions{DisableTransactions: cfg.DisableTransactions}), nil
}

// bootstrapAdmin creates the first admin account when no users exist
func bootstrapAdmin(ctx context.Context, svc *speciesync.SyncService, creds string, logger *slog.Logger) error {
	name, password, _ := strings.Cut(creds, ":")
	users, err := svc.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if len(users) > 0 {
		return nil
	}
	_, err = svc.CreateUser(ctx, speciesync.UserInput{Name: name, Role: speciesync.RoleAdmin, Password: password})
	var conflict *speciesync.ConflictError
	if err != nil && !errors.As(err, &conflict) {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	logger.Info("Bootstrap admin user created", "name", name)
	return nil
}

// Close shuts down the server components and cleans up resources
func (sc *ServerComponents) Close() {
	if sc.SyncService != nil {
		_ = sc.SyncService.Close()
	}
	if sc.Pool != nil {
		sc.Pool.Close()
	}
	if sc.cancel != nil {
		sc.cancel()
	}
}

// NewTestServer creates a new test server instance using the shared server setup
func NewTestServer(sc *ServerConfig) (*TestServer, error) {
	components, err := SetupServer(sc)
	if err != nil {
		return nil, err
	}
	return &TestServer{
		ServerComponents: components,
		HTTPServer:       httptest.NewServer(components.Handler),
	}, nil
}

// Close shuts down the test server and cleans up resources
func (ts *TestServer) Close() {
	if ts.HTTPServer != nil {
		ts.HTTPServer.Close()
	}
	ts.ServerComponents.Close()
}

// URL returns the base URL of the test server
func (ts *TestServer) URL() string {
	return ts.HTTPServer.URL
}

// GenerateToken issues a token for an existing user
func (ts *TestServer) GenerateToken(user *speciesync.UserRecord, ttl time.Duration) (string, error) {
	return ts.JWTAuth.GenerateToken(user, ttl)
}
