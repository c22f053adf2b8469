// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

package speciesync

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder exports stage timings and sync decisions as Prometheus metrics.
type PrometheusRecorder struct {
	stageDuration *prometheus.HistogramVec
	stageItems    *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	rollbacks     *prometheus.CounterVec
}

var _ StageMetricsRecorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder registers the collectors on reg. Pass a fresh registry
// in tests; prometheus.DefaultRegisterer may only be used once per process.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "speciesync_stage_duration_seconds",
			Help:    "Duration of coordinator and planner stages",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"operation", "stage", "error"}),
		stageItems: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speciesync_stage_items_total",
			Help: "Number of rows or entities processed per stage",
		}, []string{"operation", "stage"}),
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speciesync_sync_decisions_total",
			Help: "Sync planner decisions by kind",
		}, []string{"kind"}),
		rollbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speciesync_mutation_rollbacks_total",
			Help: "Failed multi-step mutations by outcome of the rollback",
		}, []string{"operation", "rolled_back"}),
	}
}

func (r *PrometheusRecorder) ObserveStage(_ context.Context, timing StageTiming) {
	r.stageDuration.WithLabelValues(timing.Operation, timing.Stage, strconv.FormatBool(timing.Error)).
		Observe(timing.Duration.Seconds())
	if timing.Count > 0 {
		r.stageItems.WithLabelValues(timing.Operation, timing.Stage).Add(float64(timing.Count))
	}
}

// ObserveDecision counts a planner outcome
func (r *PrometheusRecorder) ObserveDecision(kind DecisionKind) {
	r.decisions.WithLabelValues(string(kind)).Inc()
}

// ObserveMutationFailure counts a failed multi-step mutation
func (r *PrometheusRecorder) ObserveMutationFailure(op string, rolledBack bool) {
	r.rollbacks.WithLabelValues(op, strconv.FormatBool(rolledBack)).Inc()
}
