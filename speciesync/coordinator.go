// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

package speciesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
)

// MutationFailureObserver is optionally implemented by a StageMetricsRecorder
// to count failed multi-step mutations.
type MutationFailureObserver interface {
	ObserveMutationFailure(op string, rolledBack bool)
}

// CoordinatorConfig holds optional instrumentation for the coordinator
type CoordinatorConfig struct {
	StageMetrics    StageMetricsRecorder
	LogStageTimings bool
	Hasher          PasswordHasher // nil means BcryptHasher with the default cost
}

// Coordinator applies mutations to the entity tables and records each one in
// the changelog. Species mutations touch two tables plus the changelog and are
// all-or-nothing: inside one transaction when the store is atomic, otherwise
// through compensating actions.
type Coordinator struct {
	store    Store
	logger   *slog.Logger
	stages   *stageObserver
	failures MutationFailureObserver
	hasher   PasswordHasher
}

// NewCoordinator creates a coordinator over store
func NewCoordinator(store Store, logger *slog.Logger, cfg *CoordinatorConfig) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = &CoordinatorConfig{}
	}
	c := &Coordinator{
		store:  store,
		logger: logger,
		stages: &stageObserver{recorder: cfg.StageMetrics, logTimings: cfg.LogStageTimings, logger: logger},
		hasher: cfg.Hasher,
	}
	if c.hasher == nil {
		c.hasher = BcryptHasher{}
	}
	if fo, ok := cfg.StageMetrics.(MutationFailureObserver); ok {
		c.failures = fo
	}
	return c
}

// SpeciesPair is one species in both languages
type SpeciesPair struct {
	EN  SpeciesFields
	TET SpeciesFields
}

// SpeciesMutation is the outcome of a successful species mutation
type SpeciesMutation struct {
	SpeciesID int64
	EN        *SpeciesRecord
	TET       *SpeciesRecord
	Entry     *ChangelogEntry
}

// undoStep is one compensating action of the non-atomic path
type undoStep struct {
	name string
	fn   func(ctx context.Context) error
}

// compensate runs undo steps in order after a failed step. Every step is
// attempted even if an earlier one fails. The caller's cancellation does not
// stop compensation.
func (c *Coordinator) compensate(ctx context.Context, op, step string, cause error, undo ...undoStep) *MutationError {
	start := c.stages.start()
	ctx = context.WithoutCancel(ctx)

	var compErrs []error
	for _, u := range undo {
		if err := u.fn(ctx); err != nil {
			c.logger.Error("Compensating action failed",
				"op", op, "failed_step", step, "compensation", u.name, "error", err, "cause", cause)
			compErrs = append(compErrs, fmt.Errorf("%s: %w", u.name, err))
		}
	}
	c.stages.observe(ctx, op, MetricsStageCompensate, start, len(undo), len(compErrs) > 0)

	if len(compErrs) > 0 {
		return c.failed(newRollbackFailure(op, step, cause, compErrs))
	}
	return c.failed(newRolledBack(op, step, cause))
}

func (c *Coordinator) failed(me *MutationError) *MutationError {
	if me.RolledBack {
		c.logger.Warn("Mutation rolled back", "op", me.Op, "step", me.Step, "error", me.Err)
	} else {
		c.logger.Error("Mutation rollback failed; tables may be inconsistent",
			"op", me.Op, "step", me.Step, "error", me.Err, "compensation_errors", len(me.CompensationErrs))
	}
	if c.failures != nil {
		c.failures.ObserveMutationFailure(me.Op, me.RolledBack)
	}
	return me
}

// inTx runs fn in one atomic write unit and converts storage failures into a
// rolled-back MutationError. Request errors pass through unchanged.
func (c *Coordinator) inTx(ctx context.Context, op string, fn func(Tables) error) error {
	start := c.stages.start()
	err := c.store.WithTx(ctx, fn)
	c.stages.observe(ctx, op, MetricsStageTx, start, 1, err != nil)
	if err == nil {
		return nil
	}
	step, cause := splitStep(err)
	if isClientError(cause) {
		return cause
	}
	return c.failed(newRolledBack(op, step, cause))
}

func idPtr(id int64) *int64 {
	return &id
}

// CreateSpecies inserts the English and Tetum rows under one shared id and
// appends a CREATE entry.
func (c *Coordinator) CreateSpecies(ctx context.Context, en, tet SpeciesFields) (*SpeciesMutation, error) {
	const op = MetricsOpSpeciesCreate
	total := c.stages.start()

	en, tet = normalizeSpecies(en), normalizeSpecies(tet)
	if err := validateSpeciesPair(en, tet); err != nil {
		return nil, err
	}

	var res *SpeciesMutation
	var err error
	if c.store.Atomic() {
		res, err = c.createSpeciesAtomic(ctx, en, tet)
	} else {
		res, err = c.createSpeciesSaga(ctx, en, tet)
	}
	c.stages.observe(ctx, op, MetricsStageTotal, total, 1, err != nil)
	if err != nil {
		return nil, err
	}
	c.logger.Info("Species created", "species_id", res.SpeciesID, "version", res.Entry.Version)
	return res, nil
}

func (c *Coordinator) createSpeciesAtomic(ctx context.Context, en, tet SpeciesFields) (*SpeciesMutation, error) {
	res := &SpeciesMutation{}
	err := c.inTx(ctx, MetricsOpSpeciesCreate, func(t Tables) error {
		enRec, err := t.InsertSpecies(ctx, LangEnglish, 0, en)
		if err != nil {
			return atStep("insert species_en", err)
		}
		tetRec, err := t.InsertSpecies(ctx, LangTetum, enRec.SpeciesID, tet)
		if err != nil {
			return atStep("insert species_tet", err)
		}
		entry, err := t.AppendChange(ctx, EntitySpecies, idPtr(enRec.SpeciesID), OpCreate, "")
		if err != nil {
			return atStep("append changelog", err)
		}
		*res = SpeciesMutation{SpeciesID: enRec.SpeciesID, EN: enRec, TET: tetRec, Entry: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Coordinator) createSpeciesSaga(ctx context.Context, en, tet SpeciesFields) (*SpeciesMutation, error) {
	const op = MetricsOpSpeciesCreate

	enRec, err := c.store.InsertSpecies(ctx, LangEnglish, 0, en)
	if err != nil {
		return nil, c.failed(newRolledBack(op, "insert species_en", err))
	}
	id := enRec.SpeciesID
	undoEN := undoStep{"delete species_en " + strconv.FormatInt(id, 10), func(ctx context.Context) error {
		return c.store.DeleteSpecies(ctx, LangEnglish, id)
	}}

	tetRec, err := c.store.InsertSpecies(ctx, LangTetum, id, tet)
	if err != nil {
		return nil, c.compensate(ctx, op, "insert species_tet", err, undoEN)
	}
	undoTET := undoStep{"delete species_tet " + strconv.FormatInt(id, 10), func(ctx context.Context) error {
		return c.store.DeleteSpecies(ctx, LangTetum, id)
	}}

	entry, err := c.store.AppendChange(ctx, EntitySpecies, idPtr(id), OpCreate, "")
	if err != nil {
		return nil, c.compensate(ctx, op, "append changelog", err, undoTET, undoEN)
	}
	return &SpeciesMutation{SpeciesID: id, EN: enRec, TET: tetRec, Entry: entry}, nil
}

// UpdateSpecies replaces both language rows of an existing species and
// appends an UPDATE entry.
func (c *Coordinator) UpdateSpecies(ctx context.Context, id int64, en, tet SpeciesFields) (*SpeciesMutation, error) {
	const op = MetricsOpSpeciesUpdate
	total := c.stages.start()

	en, tet = normalizeSpecies(en), normalizeSpecies(tet)
	if err := validateSpeciesPair(en, tet); err != nil {
		return nil, err
	}

	var res *SpeciesMutation
	var err error
	if c.store.Atomic() {
		res = &SpeciesMutation{SpeciesID: id}
		err = c.inTx(ctx, op, func(t Tables) error {
			enRec, err := t.UpdateSpecies(ctx, LangEnglish, id, en)
			if err != nil {
				return atStep("update species_en", err)
			}
			tetRec, err := t.UpdateSpecies(ctx, LangTetum, id, tet)
			if err != nil {
				return atStep("update species_tet", err)
			}
			entry, err := t.AppendChange(ctx, EntitySpecies, idPtr(id), OpUpdate, "")
			if err != nil {
				return atStep("append changelog", err)
			}
			res.EN, res.TET, res.Entry = enRec, tetRec, entry
			return nil
		})
	} else {
		res, err = c.updateSpeciesSaga(ctx, id, en, tet)
	}
	c.stages.observe(ctx, op, MetricsStageTotal, total, 1, err != nil)
	if err != nil {
		return nil, err
	}
	c.logger.Info("Species updated", "species_id", id, "version", res.Entry.Version)
	return res, nil
}

func (c *Coordinator) updateSpeciesSaga(ctx context.Context, id int64, en, tet SpeciesFields) (*SpeciesMutation, error) {
	const op = MetricsOpSpeciesUpdate

	prevEN, err := c.store.GetSpecies(ctx, LangEnglish, id)
	if err != nil {
		return nil, err
	}
	prevTET, err := c.store.GetSpecies(ctx, LangTetum, id)
	if err != nil {
		return nil, err
	}

	enRec, err := c.store.UpdateSpecies(ctx, LangEnglish, id, en)
	if err != nil {
		if isClientError(err) {
			return nil, err
		}
		return nil, c.failed(newRolledBack(op, "update species_en", err))
	}
	restoreEN := undoStep{"restore species_en " + strconv.FormatInt(id, 10), func(ctx context.Context) error {
		_, err := c.store.UpdateSpecies(ctx, LangEnglish, id, prevEN.SpeciesFields)
		return err
	}}

	tetRec, err := c.store.UpdateSpecies(ctx, LangTetum, id, tet)
	if err != nil {
		return nil, c.compensate(ctx, op, "update species_tet", err, restoreEN)
	}
	restoreTET := undoStep{"restore species_tet " + strconv.FormatInt(id, 10), func(ctx context.Context) error {
		_, err := c.store.UpdateSpecies(ctx, LangTetum, id, prevTET.SpeciesFields)
		return err
	}}

	entry, err := c.store.AppendChange(ctx, EntitySpecies, idPtr(id), OpUpdate, "")
	if err != nil {
		return nil, c.compensate(ctx, op, "append changelog", err, restoreTET, restoreEN)
	}
	return &SpeciesMutation{SpeciesID: id, EN: enRec, TET: tetRec, Entry: entry}, nil
}

// DeleteSpecies removes both language rows and appends a DELETE entry.
func (c *Coordinator) DeleteSpecies(ctx context.Context, id int64) (*SpeciesMutation, error) {
	const op = MetricsOpSpeciesDelete
	total := c.stages.start()

	var res *SpeciesMutation
	var err error
	if c.store.Atomic() {
		res = &SpeciesMutation{SpeciesID: id}
		err = c.inTx(ctx, op, func(t Tables) error {
			if err := t.DeleteSpecies(ctx, LangEnglish, id); err != nil {
				return atStep("delete species_en", err)
			}
			if err := t.DeleteSpecies(ctx, LangTetum, id); err != nil {
				return atStep("delete species_tet", err)
			}
			entry, err := t.AppendChange(ctx, EntitySpecies, idPtr(id), OpDelete, "")
			if err != nil {
				return atStep("append changelog", err)
			}
			res.Entry = entry
			return nil
		})
	} else {
		res, err = c.deleteSpeciesSaga(ctx, id)
	}
	c.stages.observe(ctx, op, MetricsStageTotal, total, 1, err != nil)
	if err != nil {
		return nil, err
	}
	c.logger.Info("Species deleted", "species_id", id, "version", res.Entry.Version)
	return res, nil
}

func (c *Coordinator) deleteSpeciesSaga(ctx context.Context, id int64) (*SpeciesMutation, error) {
	const op = MetricsOpSpeciesDelete

	prevEN, err := c.store.GetSpecies(ctx, LangEnglish, id)
	if err != nil {
		return nil, err
	}
	prevTET, err := c.store.GetSpecies(ctx, LangTetum, id)
	if err != nil {
		return nil, err
	}

	if err := c.store.DeleteSpecies(ctx, LangEnglish, id); err != nil {
		if isClientError(err) {
			return nil, err
		}
		return nil, c.failed(newRolledBack(op, "delete species_en", err))
	}
	reinsertEN := undoStep{"reinsert species_en " + strconv.FormatInt(id, 10), func(ctx context.Context) error {
		_, err := c.store.InsertSpecies(ctx, LangEnglish, id, prevEN.SpeciesFields)
		return err
	}}

	if err := c.store.DeleteSpecies(ctx, LangTetum, id); err != nil {
		return nil, c.compensate(ctx, op, "delete species_tet", err, reinsertEN)
	}
	reinsertTET := undoStep{"reinsert species_tet " + strconv.FormatInt(id, 10), func(ctx context.Context) error {
		_, err := c.store.InsertSpecies(ctx, LangTetum, id, prevTET.SpeciesFields)
		return err
	}}

	entry, err := c.store.AppendChange(ctx, EntitySpecies, idPtr(id), OpDelete, "")
	if err != nil {
		return nil, c.compensate(ctx, op, "append changelog", err, reinsertTET, reinsertEN)
	}
	return &SpeciesMutation{SpeciesID: id, EN: prevEN, TET: prevTET, Entry: entry}, nil
}

// BulkResult is the outcome of a bulk species insert
type BulkResult struct {
	SpeciesIDs []int64
	Entry      *ChangelogEntry
}

// BulkInsertSpecies inserts every pair and appends a single BULK_INSERT entry
// with no entity id. Either all rows land or none do.
func (c *Coordinator) BulkInsertSpecies(ctx context.Context, pairs []SpeciesPair) (*BulkResult, error) {
	const op = MetricsOpSpeciesBulk
	total := c.stages.start()

	if len(pairs) == 0 {
		return nil, &ValidationError{Message: "no rows to insert"}
	}

	vstart := c.stages.start()
	normalized := make([]SpeciesPair, len(pairs))
	var invalid []string
	for i, p := range pairs {
		en, tet := normalizeSpecies(p.EN), normalizeSpecies(p.TET)
		normalized[i] = SpeciesPair{EN: en, TET: tet}
		var ve *ValidationError
		if err := validateSpeciesPair(en, tet); errors.As(err, &ve) {
			for _, f := range ve.Fields {
				invalid = append(invalid, fmt.Sprintf("row %d: %s", i+1, f))
			}
		}
	}
	c.stages.observe(ctx, op, MetricsStageValidate, vstart, len(pairs), len(invalid) > 0)
	if len(invalid) > 0 {
		return nil, &ValidationError{Fields: invalid}
	}

	detail := fmt.Sprintf("%d rows", len(pairs))
	var res *BulkResult
	var err error
	if c.store.Atomic() {
		res = &BulkResult{}
		err = c.inTx(ctx, op, func(t Tables) error {
			ids := make([]int64, 0, len(normalized))
			for i, p := range normalized {
				enRec, err := t.InsertSpecies(ctx, LangEnglish, 0, p.EN)
				if err != nil {
					return atStep(fmt.Sprintf("insert species_en row %d", i+1), err)
				}
				if _, err := t.InsertSpecies(ctx, LangTetum, enRec.SpeciesID, p.TET); err != nil {
					return atStep(fmt.Sprintf("insert species_tet row %d", i+1), err)
				}
				ids = append(ids, enRec.SpeciesID)
			}
			entry, err := t.AppendChange(ctx, EntitySpecies, nil, OpBulkInsert, detail)
			if err != nil {
				return atStep("append changelog", err)
			}
			res.SpeciesIDs, res.Entry = ids, entry
			return nil
		})
	} else {
		res, err = c.bulkInsertSaga(ctx, normalized, detail)
	}
	c.stages.observe(ctx, op, MetricsStageTotal, total, len(pairs), err != nil)
	if err != nil {
		return nil, err
	}
	c.logger.Info("Species bulk inserted", "rows", len(res.SpeciesIDs), "version", res.Entry.Version)
	return res, nil
}

func (c *Coordinator) bulkInsertSaga(ctx context.Context, pairs []SpeciesPair, detail string) (*BulkResult, error) {
	const op = MetricsOpSpeciesBulk
	var undo []undoStep
	ids := make([]int64, 0, len(pairs))

	// undo runs newest first
	push := func(name string, fn func(ctx context.Context) error) {
		undo = append([]undoStep{{name: name, fn: fn}}, undo...)
	}

	for i, p := range pairs {
		enRec, err := c.store.InsertSpecies(ctx, LangEnglish, 0, p.EN)
		if err != nil {
			step := fmt.Sprintf("insert species_en row %d", i+1)
			if len(undo) == 0 {
				return nil, c.failed(newRolledBack(op, step, err))
			}
			return nil, c.compensate(ctx, op, step, err, undo...)
		}
		id := enRec.SpeciesID
		push("delete species_en "+strconv.FormatInt(id, 10), func(ctx context.Context) error {
			return c.store.DeleteSpecies(ctx, LangEnglish, id)
		})
		if _, err := c.store.InsertSpecies(ctx, LangTetum, id, p.TET); err != nil {
			return nil, c.compensate(ctx, op, fmt.Sprintf("insert species_tet row %d", i+1), err, undo...)
		}
		push("delete species_tet "+strconv.FormatInt(id, 10), func(ctx context.Context) error {
			return c.store.DeleteSpecies(ctx, LangTetum, id)
		})
		ids = append(ids, id)
	}

	entry, err := c.store.AppendChange(ctx, EntitySpecies, nil, OpBulkInsert, detail)
	if err != nil {
		return nil, c.compensate(ctx, op, "append changelog", err, undo...)
	}
	return &BulkResult{SpeciesIDs: ids, Entry: entry}, nil
}
