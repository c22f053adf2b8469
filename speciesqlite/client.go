// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

// Package speciesqlite keeps a read-only SQLite replica of the species
// dataset in step with a speciesync server.
package speciesqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ZB1234D/Species-Database-App-123/speciesync"
)

// ErrSyncInProgress is returned when Sync is called while another sync runs
var ErrSyncInProgress = errors.New("sync already in progress")

// ErrAuthFailed is returned when the server rejects the client's token
var ErrAuthFailed = errors.New("authentication failed - please login again")

// Client manages the local replica and syncs it from the server
type Client struct {
	DB      *sql.DB
	BaseURL string
	Token   func(context.Context) (string, error) // optional bearer token
	HTTP    *http.Client
	config  *Config
	logger  *slog.Logger
	syncing atomic.Bool
}

// Config holds tuning for the replica client
type Config struct {
	RequestTimeout time.Duration // per HTTP request, default 30s
	MaxRetries     int           // attempts per request, default 3
	BackoffMin     time.Duration // default 1s
	BackoffMax     time.Duration // default 10s
	Logger         *slog.Logger
}

// DefaultConfig returns the default client configuration
func DefaultConfig() *Config {
	return &Config{
		RequestTimeout: 30 * time.Second,
		MaxRetries:     3,
		BackoffMin:     time.Second,
		BackoffMax:     10 * time.Second,
	}
}

// NewClient prepares db as a replica and returns a client for baseURL
func NewClient(db *sql.DB, baseURL string, tok func(context.Context) (string, error), config *Config) (*Client, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 1
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := initializeDatabase(db); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return &Client{
		DB:      db,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   tok,
		HTTP:    &http.Client{},
		config:  config,
		logger:  logger,
	}, nil
}

func speciesTableSQL(table string) string {
	cols := make([]string, 0, len(speciesync.SpeciesColumns))
	for _, c := range speciesync.SpeciesColumns {
		cols = append(cols, c+" TEXT NOT NULL DEFAULT ''")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\tspecies_id INTEGER PRIMARY KEY,\n\t%s\n)", table, strings.Join(cols, ",\n\t"))
}

func initializeDatabase(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	tables := []string{
		speciesTableSQL("species_en"),
		speciesTableSQL("species_tet"),
		`CREATE TABLE IF NOT EXISTS media (
			media_id       INTEGER PRIMARY KEY,
			species_id     INTEGER NOT NULL,
			species_name   TEXT NOT NULL DEFAULT '',
			media_type     TEXT NOT NULL DEFAULT '',
			download_link  TEXT NOT NULL,
			streaming_link TEXT NOT NULL DEFAULT '',
			alt_text       TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS media_species_idx ON media(species_id)`,
		// single row; version is the server version the replica reflects
		`CREATE TABLE IF NOT EXISTS _sync_state (
			id        INTEGER PRIMARY KEY CHECK (id = 1),
			version   INTEGER NOT NULL DEFAULT 0,
			status    TEXT NOT NULL DEFAULT 'idle' CHECK (status IN ('idle','syncing','error')),
			last_sync TEXT,
			error     TEXT
		)`,
		`INSERT OR IGNORE INTO _sync_state (id, version, status) VALUES (1, 0, 'idle')`,
		// a crash mid-sync leaves nothing half-applied, only a stale status
		`UPDATE _sync_state SET status = 'idle' WHERE status = 'syncing'`,
	}
	for _, stmt := range tables {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create replica table: %w", err)
		}
	}
	return nil
}
