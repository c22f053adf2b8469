// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

package speciesync

import (
	"context"
	"log/slog"
	"time"
)

const (
	MetricsOpSpeciesCreate = "species_create"
	MetricsOpSpeciesUpdate = "species_update"
	MetricsOpSpeciesDelete = "species_delete"
	MetricsOpSpeciesBulk   = "species_bulk"
	MetricsOpMedia         = "media"
	MetricsOpUsers         = "users"
	MetricsOpPlan          = "plan"
	MetricsOpIncremental   = "incremental"
	MetricsOpBundle        = "bundle"

	MetricsStageTotal = "total"

	// Mutation stages.
	MetricsStageValidate   = "validate"
	MetricsStageTranslate  = "translate"
	MetricsStageTx         = "tx"
	MetricsStageCompensate = "compensate"
	MetricsStageChangelog  = "changelog"

	// Read stages.
	MetricsStageSnapshot = "snapshot"
)

type StageTiming struct {
	Operation string
	Stage     string
	Duration  time.Duration
	Count     int
	Error     bool
}

type StageMetricsRecorder interface {
	ObserveStage(ctx context.Context, timing StageTiming)
}

type StageMetricsRecorderFunc func(ctx context.Context, timing StageTiming)

func (f StageMetricsRecorderFunc) ObserveStage(ctx context.Context, timing StageTiming) {
	f(ctx, timing)
}

// stageObserver forwards stage timings to an optional recorder and debug log
type stageObserver struct {
	recorder   StageMetricsRecorder
	logTimings bool
	logger     *slog.Logger
}

func (o *stageObserver) enabled() bool {
	return o != nil && (o.recorder != nil || o.logTimings)
}

func (o *stageObserver) start() time.Time {
	if !o.enabled() {
		return time.Time{}
	}
	return time.Now()
}

func (o *stageObserver) observe(ctx context.Context, op, stage string, start time.Time, count int, hadError bool) {
	if start.IsZero() || o == nil {
		return
	}
	timing := StageTiming{
		Operation: op,
		Stage:     stage,
		Duration:  time.Since(start),
		Count:     count,
		Error:     hadError,
	}
	if o.recorder != nil {
		o.recorder.ObserveStage(ctx, timing)
	}
	if o.logTimings && o.logger != nil {
		o.logger.Debug("Stage timing",
			"op", timing.Operation,
			"stage", timing.Stage,
			"duration", timing.Duration,
			"count", timing.Count,
			"error", timing.Error,
		)
	}
}
