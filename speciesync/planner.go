// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

package speciesync

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
)

// DecisionObserver is optionally implemented by a StageMetricsRecorder to
// count planner outcomes.
type DecisionObserver interface {
	ObserveDecision(kind DecisionKind)
}

// PlannerConfig configures a Planner
type PlannerConfig struct {
	// Threshold is the largest number of distinct changed entities served
	// incrementally. Zero means DefaultChangeThreshold.
	Threshold       int
	StageMetrics    StageMetricsRecorder
	LogStageTimings bool
}

// Planner decides how a client at a given version catches up and serves the
// matching payloads. It only reads.
type Planner struct {
	store     Store
	threshold int
	logger    *slog.Logger
	stages    *stageObserver
	decisions DecisionObserver
}

// NewPlanner creates a planner over store
func NewPlanner(store Store, logger *slog.Logger, cfg *PlannerConfig) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = &PlannerConfig{}
	}
	p := &Planner{
		store:     store,
		threshold: cfg.Threshold,
		logger:    logger,
		stages:    &stageObserver{recorder: cfg.StageMetrics, logTimings: cfg.LogStageTimings, logger: logger},
	}
	if p.threshold <= 0 {
		p.threshold = DefaultChangeThreshold
	}
	if do, ok := cfg.StageMetrics.(DecisionObserver); ok {
		p.decisions = do
	}
	return p
}

// Threshold returns the effective incremental threshold
func (p *Planner) Threshold() int {
	return p.threshold
}

func validateSince(since int64) error {
	if since < 0 {
		return &ValidationError{Fields: []string{"since_version"}, Message: "since_version must be >= 0"}
	}
	return nil
}

// decide classifies the changelog entries newer than since. Only species and
// media entries count; users entries move latest forward without producing
// rows. An entry with no entity id means the affected rows are unknown, so the
// client must refetch everything.
func decide(entries []ChangelogEntry, since, latest int64, threshold int) *SyncDecision {
	if since > latest {
		return decisionForceBundle(since, latest, 0, ReasonClientAhead)
	}

	versions := make(map[EntityRef]int64)
	bulk := false
	for _, e := range entries {
		if e.EntityType != EntitySpecies && e.EntityType != EntityMedia {
			continue
		}
		if e.EntityID == nil {
			bulk = true
			continue
		}
		ref := EntityRef{EntityType: e.EntityType, EntityID: *e.EntityID}
		if e.Version > versions[ref] {
			versions[ref] = e.Version
		}
	}

	switch {
	case bulk:
		return decisionForceBundle(since, latest, len(versions), ReasonBulkInsert)
	case len(versions) == 0:
		return decisionUpToDate(since, latest)
	case len(versions) > threshold:
		return decisionForceBundle(since, latest, len(versions), ReasonThreshold)
	}

	changed := make([]ChangedEntity, 0, len(versions))
	for ref, v := range versions {
		changed = append(changed, ChangedEntity{EntityRef: ref, Version: v})
	}
	slices.SortFunc(changed, func(a, b ChangedEntity) int {
		if c := cmp.Compare(a.EntityType, b.EntityType); c != 0 {
			return c
		}
		return cmp.Compare(a.EntityID, b.EntityID)
	})
	return decisionIncremental(since, latest, changed)
}

func (p *Planner) planIn(ctx context.Context, t Tables, since int64) (*SyncDecision, error) {
	latest, err := t.LatestVersion(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := t.ChangesSince(ctx, since, 0)
	if err != nil {
		return nil, err
	}
	return decide(entries, since, latest, p.threshold), nil
}

func (p *Planner) observeDecision(d *SyncDecision) {
	if p.decisions != nil {
		p.decisions.ObserveDecision(d.Kind)
	}
	p.logger.Debug("Sync planned",
		"since", d.SinceVersion, "latest", d.LatestVersion, "kind", d.Kind, "count", d.ChangeCount, "reason", d.Reason)
}

// Plan decides how a client at since should catch up
func (p *Planner) Plan(ctx context.Context, since int64) (*SyncDecision, error) {
	if err := validateSince(since); err != nil {
		return nil, err
	}
	start := p.stages.start()
	var d *SyncDecision
	err := p.store.ReadSnapshot(ctx, func(t Tables) error {
		var e error
		d, e = p.planIn(ctx, t, since)
		return e
	})
	p.stages.observe(ctx, MetricsOpPlan, MetricsStageSnapshot, start, 1, err != nil)
	if err != nil {
		return nil, err
	}
	p.observeDecision(d)
	return d, nil
}

// Incremental plans and, when the plan is incremental, returns the current
// full rows of every changed entity read in the same snapshot. Entities that
// no longer exist are reported in Deleted.
func (p *Planner) Incremental(ctx context.Context, since int64) (*IncrementalResponse, error) {
	if err := validateSince(since); err != nil {
		return nil, err
	}
	start := p.stages.start()
	resp := &IncrementalResponse{
		SpeciesEN:  []SpeciesRecord{},
		SpeciesTET: []SpeciesRecord{},
		Media:      []MediaRecord{},
		Deleted:    []Tombstone{},
	}
	var d *SyncDecision
	err := p.store.ReadSnapshot(ctx, func(t Tables) error {
		var err error
		d, err = p.planIn(ctx, t, since)
		if err != nil {
			return err
		}
		resp.LatestVersion = d.LatestVersion
		if d.Kind == DecisionForceBundle {
			resp.ForceBundle = true
			return nil
		}
		if d.Kind != DecisionIncremental {
			return nil
		}
		return p.fillRows(ctx, t, d, resp)
	})
	rows := len(resp.SpeciesEN) + len(resp.SpeciesTET) + len(resp.Media)
	p.stages.observe(ctx, MetricsOpIncremental, MetricsStageSnapshot, start, rows, err != nil)
	if err != nil {
		return nil, err
	}
	p.observeDecision(d)
	return resp, nil
}

func (p *Planner) fillRows(ctx context.Context, t Tables, d *SyncDecision, resp *IncrementalResponse) error {
	var speciesIDs, mediaIDs []int64
	for _, c := range d.Changed {
		switch c.EntityType {
		case EntitySpecies:
			speciesIDs = append(speciesIDs, c.EntityID)
		case EntityMedia:
			mediaIDs = append(mediaIDs, c.EntityID)
		}
	}

	en, err := t.SpeciesByIDs(ctx, LangEnglish, speciesIDs)
	if err != nil {
		return err
	}
	tet, err := t.SpeciesByIDs(ctx, LangTetum, speciesIDs)
	if err != nil {
		return err
	}
	media, err := t.MediaByIDs(ctx, mediaIDs)
	if err != nil {
		return err
	}
	resp.SpeciesEN, resp.SpeciesTET, resp.Media = en, tet, media

	presentSpecies := make(map[int64]bool, len(en)+len(tet))
	for _, r := range en {
		presentSpecies[r.SpeciesID] = true
	}
	for _, r := range tet {
		presentSpecies[r.SpeciesID] = true
	}
	presentMedia := make(map[int64]bool, len(media))
	for _, m := range media {
		presentMedia[m.MediaID] = true
	}
	for _, c := range d.Changed {
		gone := (c.EntityType == EntitySpecies && !presentSpecies[c.EntityID]) ||
			(c.EntityType == EntityMedia && !presentMedia[c.EntityID])
		if gone {
			resp.Deleted = append(resp.Deleted, Tombstone{EntityType: c.EntityType, EntityID: c.EntityID, Version: c.Version})
		}
	}
	return nil
}

// Bundle returns every species and media row with the version they reflect.
// The version is 0 when nothing has been recorded yet.
func (p *Planner) Bundle(ctx context.Context) (*BundleResponse, error) {
	start := p.stages.start()
	resp := &BundleResponse{}
	err := p.store.ReadSnapshot(ctx, func(t Tables) error {
		var err error
		if resp.Version, err = t.LatestVersion(ctx); err != nil {
			return err
		}
		if resp.SpeciesEN, err = t.ListSpecies(ctx, LangEnglish); err != nil {
			return err
		}
		if resp.SpeciesTET, err = t.ListSpecies(ctx, LangTetum); err != nil {
			return err
		}
		if resp.Media, err = t.ListMedia(ctx); err != nil {
			return err
		}
		return nil
	})
	rows := len(resp.SpeciesEN) + len(resp.SpeciesTET) + len(resp.Media)
	p.stages.observe(ctx, MetricsOpBundle, MetricsStageSnapshot, start, rows, err != nil)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(resp.Media, func(a, b MediaRecord) int { return cmp.Compare(a.MediaID, b.MediaID) })
	if resp.SpeciesEN == nil {
		resp.SpeciesEN = []SpeciesRecord{}
	}
	if resp.SpeciesTET == nil {
		resp.SpeciesTET = []SpeciesRecord{}
	}
	if resp.Media == nil {
		resp.Media = []MediaRecord{}
	}
	return resp, nil
}
