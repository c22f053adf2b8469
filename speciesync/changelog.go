// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

package speciesync

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const changelogColumnList = "id, entity_type, entity_id, operation, version, detail, created_at"

// AppendChange bumps the single-row version counter and inserts the entry in
// the same transaction. The counter row stays locked until commit, so
// concurrent appenders serialize on it and commit in version order; a rollback
// releases the version along with the entry.
func (t *pgTables) AppendChange(ctx context.Context, entityType string, entityID *int64, op Operation, detail string) (*ChangelogEntry, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("append change: unknown operation %q", op)
	}
	if t.inTx {
		return appendChangeTx(ctx, t.q, entityType, entityID, op, detail)
	}
	var entry *ChangelogEntry
	err := pgx.BeginFunc(ctx, t.pool, func(tx pgx.Tx) error {
		var e error
		entry, e = appendChangeTx(ctx, tx, entityType, entityID, op, detail)
		return e
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func appendChangeTx(ctx context.Context, q querier, entityType string, entityID *int64, op Operation, detail string) (*ChangelogEntry, error) {
	var version int64
	if err := q.QueryRow(ctx,
		`UPDATE speciesync_version_counter SET value = value + 1 WHERE id = 1 RETURNING value`,
	).Scan(&version); err != nil {
		return nil, fmt.Errorf("allocate version: %w", err)
	}

	rows, err := q.Query(ctx, `
		INSERT INTO changelog (entity_type, entity_id, operation, version, detail)
		VALUES (@entity_type, @entity_id, @operation, @version, @detail)
		RETURNING `+changelogColumnList, pgx.NamedArgs{
		"entity_type": entityType,
		"entity_id":   entityID,
		"operation":   string(op),
		"version":     version,
		"detail":      detail,
	})
	if err != nil {
		return nil, fmt.Errorf("append change: %w", err)
	}
	entry, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[ChangelogEntry])
	if err != nil {
		return nil, fmt.Errorf("append change: %w", err)
	}
	return &entry, nil
}

func (t *pgTables) ChangesSince(ctx context.Context, since int64, limit int) ([]ChangelogEntry, error) {
	args := pgx.NamedArgs{"since": since}
	sql := `SELECT ` + changelogColumnList + ` FROM changelog WHERE version > @since ORDER BY version`
	if limit > 0 {
		sql += ` LIMIT @limit`
		args["limit"] = limit
	}
	rows, err := t.q.Query(ctx, sql, args)
	if err != nil {
		return nil, fmt.Errorf("changes since %d: %w", since, err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[ChangelogEntry])
	if err != nil {
		return nil, fmt.Errorf("changes since %d: %w", since, err)
	}
	return out, nil
}

func (t *pgTables) LatestVersion(ctx context.Context) (int64, error) {
	var v int64
	if err := t.q.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM changelog`).Scan(&v); err != nil {
		return 0, fmt.Errorf("latest version: %w", err)
	}
	return v, nil
}
