// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

package speciesync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// ServiceConfig holds configuration for the sync service
type ServiceConfig struct {
	AppName         string // Application name for logs
	ChangeThreshold int    // Incremental threshold (0 = DefaultChangeThreshold)

	StageMetrics    StageMetricsRecorder // Optional stage timing hook
	LogStageTimings bool                 // Log stage timings at debug level
	Hasher          PasswordHasher       // nil = bcrypt
}

// SyncService is the server core: it owns the coordinator, the planner and
// the bulk ingester over one Store.
type SyncService struct {
	store      Store
	logger     *slog.Logger
	config     *ServiceConfig
	coord      *Coordinator
	planner    *Planner
	ingester   *Ingester
	translator Translator
	hasher     PasswordHasher

	mu     sync.RWMutex
	closed bool
}

// NewSyncService creates the service. parser and translator may be nil, in
// which case sheet uploads and translation are unavailable.
func NewSyncService(store Store, parser SheetParser, translator Translator, config *ServiceConfig, logger *slog.Logger) (*SyncService, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if config == nil {
		config = &ServiceConfig{AppName: "speciesync"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	hasher := config.Hasher
	if hasher == nil {
		hasher = BcryptHasher{}
	}

	s := &SyncService{
		store:      store,
		logger:     logger,
		config:     config,
		translator: translator,
		hasher:     hasher,
	}
	s.coord = NewCoordinator(store, logger, &CoordinatorConfig{
		StageMetrics:    config.StageMetrics,
		LogStageTimings: config.LogStageTimings,
		Hasher:          hasher,
	})
	s.planner = NewPlanner(store, logger, &PlannerConfig{
		Threshold:       config.ChangeThreshold,
		StageMetrics:    config.StageMetrics,
		LogStageTimings: config.LogStageTimings,
	})
	if parser != nil && translator != nil {
		s.ingester = NewIngester(s.coord, parser, translator, logger)
	}
	logger.Debug("Sync service created", "app", config.AppName, "atomic_store", store.Atomic(), "threshold", s.planner.Threshold())
	return s, nil
}

// Close marks the service closed. It is safe to call multiple times.
// The store is not closed; the caller owns its lifecycle.
func (s *SyncService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Debug("Sync service shutdown complete")
	return nil
}

// checkClosed returns ErrServiceClosed if the service has been closed
func (s *SyncService) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrServiceClosed
	}
	return nil
}

// Store returns the underlying store
func (s *SyncService) Store() Store { return s.store }

// Planner returns the sync planner
func (s *SyncService) Planner() *Planner { return s.planner }

// Coordinator returns the mutation coordinator
func (s *SyncService) Coordinator() *Coordinator { return s.coord }

func (s *SyncService) Bundle(ctx context.Context) (*BundleResponse, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	return s.planner.Bundle(ctx)
}

func (s *SyncService) Plan(ctx context.Context, since int64) (*SyncDecision, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	return s.planner.Plan(ctx, since)
}

func (s *SyncService) Incremental(ctx context.Context, since int64) (*IncrementalResponse, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	return s.planner.Incremental(ctx, since)
}

func (s *SyncService) CreateSpecies(ctx context.Context, pair SpeciesPair) (*SpeciesMutation, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	return s.coord.CreateSpecies(ctx, pair.EN, pair.TET)
}

func (s *SyncService) UpdateSpecies(ctx context.Context, id int64, pair SpeciesPair) (*SpeciesMutation, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	return s.coord.UpdateSpecies(ctx, id, pair.EN, pair.TET)
}

func (s *SyncService) DeleteSpecies(ctx context.Context, id int64) (*SpeciesMutation, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	return s.coord.DeleteSpecies(ctx, id)
}

// IngestSheet bulk-loads an uploaded species sheet
func (s *SyncService) IngestSheet(ctx context.Context, filename string, r io.Reader) (*IngestResult, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	if s.ingester == nil {
		return nil, errors.New("sheet ingest is not configured")
	}
	return s.ingester.Ingest(ctx, filename, r)
}

// TranslateTexts translates each text in order. Failed translations come
// back as empty strings.
func (s *SyncService) TranslateTexts(ctx context.Context, texts []string) ([]string, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	if s.translator == nil {
		return nil, errors.New("translation is not configured")
	}
	out := make([]string, len(texts))
	for i, t := range texts {
		tr, err := s.translator.Translate(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = tr
	}
	return out, nil
}

func (s *SyncService) RegisterMedia(ctx context.Context, in MediaInput) (*MediaMutation, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	return s.coord.RegisterMedia(ctx, in)
}

func (s *SyncService) UpdateMedia(ctx context.Context, id int64, patch MediaPatch) (*MediaMutation, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	return s.coord.UpdateMedia(ctx, id, patch)
}

func (s *SyncService) DeleteMedia(ctx context.Context, id int64) (*MediaMutation, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	return s.coord.DeleteMedia(ctx, id)
}

func (s *SyncService) ListMedia(ctx context.Context) ([]MediaRecord, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	return s.store.ListMedia(ctx)
}

func (s *SyncService) GetMedia(ctx context.Context, id int64) (*MediaRecord, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	return s.store.GetMedia(ctx, id)
}

func (s *SyncService) CreateUser(ctx context.Context, in UserInput) (*UserMutation, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	return s.coord.CreateUser(ctx, in)
}

func (s *SyncService) UpdateUser(ctx context.Context, id int64, patch UserPatch) (*UserMutation, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	return s.coord.UpdateUser(ctx, id, patch)
}

func (s *SyncService) DeleteUser(ctx context.Context, id int64) (*UserMutation, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	return s.coord.DeleteUser(ctx, id)
}

func (s *SyncService) ListUsers(ctx context.Context) ([]UserRecord, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	return s.store.ListUsers(ctx)
}

func (s *SyncService) GetUser(ctx context.Context, id int64) (*UserRecord, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	return s.store.GetUser(ctx, id)
}

// Authenticate checks name and password. Unknown names, wrong passwords and
// inactive accounts all yield ErrInvalidCredentials.
func (s *SyncService) Authenticate(ctx context.Context, name, password string) (*UserRecord, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	u, err := s.store.FindUserByName(ctx, strings.TrimSpace(name))
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(u.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}
