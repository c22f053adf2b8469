// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

package speciesync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStoreOptions tunes PGStore behaviour
type PGStoreOptions struct {
	// DisableTransactions makes WithTx run each statement in autocommit mode.
	// Atomic() then reports false and the coordinator uses compensating actions.
	DisableTransactions bool
}

// PGStore implements Store on PostgreSQL through a pgx pool
type PGStore struct {
	pgTables
	atomic bool
}

var _ Store = (*PGStore)(nil)

// NewPGStore creates a Store over an existing pool. The schema must already be
// migrated (see MigrateUp).
func NewPGStore(pool *pgxpool.Pool, opts *PGStoreOptions) *PGStore {
	atomic := true
	if opts != nil && opts.DisableTransactions {
		atomic = false
	}
	return &PGStore{
		pgTables: pgTables{q: pool, pool: pool},
		atomic:   atomic,
	}
}

// Pool returns the underlying connection pool
func (s *PGStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PGStore) Atomic() bool {
	return s.atomic
}

func (s *PGStore) WithTx(ctx context.Context, fn func(Tables) error) error {
	if !s.atomic {
		return fn(&s.pgTables)
	}
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(&pgTables{q: tx, pool: s.pool, inTx: true})
	})
}

// ReadSnapshot runs fn in a REPEATABLE READ, READ ONLY transaction. A
// serialization or lock failure is retried once.
func (s *PGStore) ReadSnapshot(ctx context.Context, fn func(Tables) error) error {
	run := func() error {
		return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
			return fn(&pgTables{q: tx, pool: s.pool, inTx: true})
		})
	}
	err := run()
	if transientTxFailure(err) {
		err = run()
	}
	return err
}

// SQLSTATE codes after which a read-only snapshot can simply be rerun
var transientSQLStates = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
}

func transientTxFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && transientSQLStates[pgErr.Code]
}

type pgTables struct {
	q    querier
	pool *pgxpool.Pool
	inTx bool
}

var speciesColumnList = strings.Join(SpeciesColumns, ", ")

func speciesArgs(id int64, f SpeciesFields) pgx.NamedArgs {
	args := pgx.NamedArgs{"species_id": id}
	for i, v := range f.Values() {
		args[SpeciesColumns[i]] = v
	}
	return args
}

func speciesPlaceholders() string {
	ph := make([]string, len(SpeciesColumns))
	for i, c := range SpeciesColumns {
		ph[i] = "@" + c
	}
	return strings.Join(ph, ", ")
}

func speciesAssignments() string {
	as := make([]string, len(SpeciesColumns))
	for i, c := range SpeciesColumns {
		as[i] = c + " = @" + c
	}
	return strings.Join(as, ", ")
}

func (t *pgTables) InsertSpecies(ctx context.Context, lang Language, id int64, f SpeciesFields) (*SpeciesRecord, error) {
	idExpr := "@species_id"
	if id == 0 {
		idExpr = "nextval('species_id_seq')"
	}
	sql := fmt.Sprintf(`INSERT INTO %s (species_id, %s) VALUES (%s, %s) RETURNING species_id, %s`,
		lang.Table(), speciesColumnList, idExpr, speciesPlaceholders(), speciesColumnList)
	rows, err := t.q.Query(ctx, sql, speciesArgs(id, f))
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", lang.Table(), err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[SpeciesRecord])
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &ConflictError{Entity: lang.Table(), Key: strconv.FormatInt(id, 10)}
		}
		return nil, fmt.Errorf("insert %s: %w", lang.Table(), err)
	}
	return &rec, nil
}

func (t *pgTables) UpdateSpecies(ctx context.Context, lang Language, id int64, f SpeciesFields) (*SpeciesRecord, error) {
	sql := fmt.Sprintf(`UPDATE %s SET %s WHERE species_id = @species_id RETURNING species_id, %s`,
		lang.Table(), speciesAssignments(), speciesColumnList)
	rows, err := t.q.Query(ctx, sql, speciesArgs(id, f))
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", lang.Table(), err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[SpeciesRecord])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: lang.Table(), Key: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", lang.Table(), err)
	}
	return &rec, nil
}

func (t *pgTables) DeleteSpecies(ctx context.Context, lang Language, id int64) error {
	tag, err := t.q.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE species_id = @id`, lang.Table()), pgx.NamedArgs{"id": id})
	if err != nil {
		return fmt.Errorf("delete %s: %w", lang.Table(), err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: lang.Table(), Key: strconv.FormatInt(id, 10)}
	}
	return nil
}

func (t *pgTables) GetSpecies(ctx context.Context, lang Language, id int64) (*SpeciesRecord, error) {
	rows, err := t.q.Query(ctx, fmt.Sprintf(`SELECT species_id, %s FROM %s WHERE species_id = @id`, speciesColumnList, lang.Table()),
		pgx.NamedArgs{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", lang.Table(), err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[SpeciesRecord])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: lang.Table(), Key: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", lang.Table(), err)
	}
	return &rec, nil
}

func (t *pgTables) ListSpecies(ctx context.Context, lang Language) ([]SpeciesRecord, error) {
	rows, err := t.q.Query(ctx, fmt.Sprintf(`SELECT species_id, %s FROM %s ORDER BY species_id`, speciesColumnList, lang.Table()))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", lang.Table(), err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[SpeciesRecord])
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", lang.Table(), err)
	}
	return out, nil
}

func (t *pgTables) SpeciesByIDs(ctx context.Context, lang Language, ids []int64) ([]SpeciesRecord, error) {
	if len(ids) == 0 {
		return []SpeciesRecord{}, nil
	}
	rows, err := t.q.Query(ctx,
		fmt.Sprintf(`SELECT species_id, %s FROM %s WHERE species_id = ANY(@ids) ORDER BY species_id`, speciesColumnList, lang.Table()),
		pgx.NamedArgs{"ids": ids})
	if err != nil {
		return nil, fmt.Errorf("select %s by ids: %w", lang.Table(), err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[SpeciesRecord])
	if err != nil {
		return nil, fmt.Errorf("select %s by ids: %w", lang.Table(), err)
	}
	return out, nil
}

func (t *pgTables) FindSpeciesByScientificName(ctx context.Context, name string) (*SpeciesRecord, error) {
	rows, err := t.q.Query(ctx,
		fmt.Sprintf(`SELECT species_id, %s FROM species_en WHERE lower(scientific_name) = lower(@name) ORDER BY species_id LIMIT 1`, speciesColumnList),
		pgx.NamedArgs{"name": strings.TrimSpace(name)})
	if err != nil {
		return nil, fmt.Errorf("find species by name: %w", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[SpeciesRecord])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "species", Key: name}
	}
	if err != nil {
		return nil, fmt.Errorf("find species by name: %w", err)
	}
	return &rec, nil
}

const mediaColumnList = "media_id, species_id, species_name, media_type, download_link, streaming_link, alt_text"

func mediaArgs(id int64, f MediaFields) pgx.NamedArgs {
	return pgx.NamedArgs{
		"media_id":       id,
		"species_id":     f.SpeciesID,
		"species_name":   f.SpeciesName,
		"media_type":     f.MediaType,
		"download_link":  f.DownloadLink,
		"streaming_link": f.StreamingLink,
		"alt_text":       f.AltText,
	}
}

func (t *pgTables) InsertMedia(ctx context.Context, f MediaFields) (*MediaRecord, error) {
	rows, err := t.q.Query(ctx, `
		INSERT INTO media (species_id, species_name, media_type, download_link, streaming_link, alt_text)
		VALUES (@species_id, @species_name, @media_type, @download_link, @streaming_link, @alt_text)
		RETURNING `+mediaColumnList, mediaArgs(0, f))
	if err != nil {
		return nil, fmt.Errorf("insert media: %w", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[MediaRecord])
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &ConflictError{Entity: "media", Key: f.DownloadLink}
		}
		return nil, fmt.Errorf("insert media: %w", err)
	}
	return &rec, nil
}

func (t *pgTables) UpdateMedia(ctx context.Context, id int64, f MediaFields) (*MediaRecord, error) {
	rows, err := t.q.Query(ctx, `
		UPDATE media SET species_id = @species_id, species_name = @species_name, media_type = @media_type,
			download_link = @download_link, streaming_link = @streaming_link, alt_text = @alt_text
		WHERE media_id = @media_id
		RETURNING `+mediaColumnList, mediaArgs(id, f))
	if err != nil {
		return nil, fmt.Errorf("update media: %w", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[MediaRecord])
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, &NotFoundError{Entity: "media", Key: strconv.FormatInt(id, 10)}
	case isUniqueViolation(err):
		return nil, &ConflictError{Entity: "media", Key: f.DownloadLink}
	case err != nil:
		return nil, fmt.Errorf("update media: %w", err)
	}
	return &rec, nil
}

func (t *pgTables) DeleteMedia(ctx context.Context, id int64) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM media WHERE media_id = @id`, pgx.NamedArgs{"id": id})
	if err != nil {
		return fmt.Errorf("delete media: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: "media", Key: strconv.FormatInt(id, 10)}
	}
	return nil
}

func (t *pgTables) GetMedia(ctx context.Context, id int64) (*MediaRecord, error) {
	return t.oneMedia(ctx, `SELECT `+mediaColumnList+` FROM media WHERE media_id = @key`, id, strconv.FormatInt(id, 10))
}

func (t *pgTables) FindMediaByLink(ctx context.Context, link string) (*MediaRecord, error) {
	return t.oneMedia(ctx, `SELECT `+mediaColumnList+` FROM media WHERE download_link = @key`, link, link)
}

func (t *pgTables) oneMedia(ctx context.Context, sql string, key any, keyStr string) (*MediaRecord, error) {
	rows, err := t.q.Query(ctx, sql, pgx.NamedArgs{"key": key})
	if err != nil {
		return nil, fmt.Errorf("get media: %w", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[MediaRecord])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "media", Key: keyStr}
	}
	if err != nil {
		return nil, fmt.Errorf("get media: %w", err)
	}
	return &rec, nil
}

func (t *pgTables) ListMedia(ctx context.Context) ([]MediaRecord, error) {
	rows, err := t.q.Query(ctx, `SELECT `+mediaColumnList+` FROM media ORDER BY media_id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[MediaRecord])
	if err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	return out, nil
}

func (t *pgTables) MediaByIDs(ctx context.Context, ids []int64) ([]MediaRecord, error) {
	if len(ids) == 0 {
		return []MediaRecord{}, nil
	}
	rows, err := t.q.Query(ctx, `SELECT `+mediaColumnList+` FROM media WHERE media_id = ANY(@ids) ORDER BY media_id`,
		pgx.NamedArgs{"ids": ids})
	if err != nil {
		return nil, fmt.Errorf("select media by ids: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[MediaRecord])
	if err != nil {
		return nil, fmt.Errorf("select media by ids: %w", err)
	}
	return out, nil
}

const userColumnList = "user_id, name, role, is_active, password_hash, created_at"

func (t *pgTables) InsertUser(ctx context.Context, f UserFields) (*UserRecord, error) {
	rows, err := t.q.Query(ctx, `
		INSERT INTO users (name, role, is_active, password_hash)
		VALUES (@name, @role, @is_active, @password_hash)
		RETURNING `+userColumnList, pgx.NamedArgs{
		"name":          f.Name,
		"role":          f.Role,
		"is_active":     f.IsActive,
		"password_hash": f.PasswordHash,
	})
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[UserRecord])
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &ConflictError{Entity: "user", Key: f.Name}
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &rec, nil
}

func (t *pgTables) UpdateUser(ctx context.Context, id int64, f UserFields) (*UserRecord, error) {
	rows, err := t.q.Query(ctx, `
		UPDATE users SET name = @name, role = @role, is_active = @is_active, password_hash = @password_hash
		WHERE user_id = @user_id
		RETURNING `+userColumnList, pgx.NamedArgs{
		"user_id":       id,
		"name":          f.Name,
		"role":          f.Role,
		"is_active":     f.IsActive,
		"password_hash": f.PasswordHash,
	})
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[UserRecord])
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, &NotFoundError{Entity: "user", Key: strconv.FormatInt(id, 10)}
	case isUniqueViolation(err):
		return nil, &ConflictError{Entity: "user", Key: f.Name}
	case err != nil:
		return nil, fmt.Errorf("update user: %w", err)
	}
	return &rec, nil
}

func (t *pgTables) DeleteUser(ctx context.Context, id int64) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM users WHERE user_id = @id`, pgx.NamedArgs{"id": id})
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: "user", Key: strconv.FormatInt(id, 10)}
	}
	return nil
}

func (t *pgTables) GetUser(ctx context.Context, id int64) (*UserRecord, error) {
	return t.oneUser(ctx, `SELECT `+userColumnList+` FROM users WHERE user_id = @key`, id, strconv.FormatInt(id, 10))
}

func (t *pgTables) FindUserByName(ctx context.Context, name string) (*UserRecord, error) {
	return t.oneUser(ctx, `SELECT `+userColumnList+` FROM users WHERE name = @key`, name, name)
}

func (t *pgTables) oneUser(ctx context.Context, sql string, key any, keyStr string) (*UserRecord, error) {
	rows, err := t.q.Query(ctx, sql, pgx.NamedArgs{"key": key})
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[UserRecord])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "user", Key: keyStr}
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &rec, nil
}

func (t *pgTables) ListUsers(ctx context.Context) ([]UserRecord, error) {
	rows, err := t.q.Query(ctx, `SELECT `+userColumnList+` FROM users ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[UserRecord])
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return out, nil
}

const loginColumnList = "login_id, user_id, login_time, duration_seconds"

func (t *pgTables) RecordLogin(ctx context.Context, userID int64) (*LoginRecord, error) {
	rows, err := t.q.Query(ctx, `
		INSERT INTO logins (user_id) VALUES (@user_id)
		RETURNING `+loginColumnList, pgx.NamedArgs{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("record login: %w", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[LoginRecord])
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.SQLState() == "23503" {
			return nil, &NotFoundError{Entity: "user", Key: strconv.FormatInt(userID, 10)}
		}
		return nil, fmt.Errorf("record login: %w", err)
	}
	return &rec, nil
}

func (t *pgTables) EndSession(ctx context.Context, userID int64) (*LoginRecord, error) {
	rows, err := t.q.Query(ctx, `
		UPDATE logins
		SET duration_seconds = GREATEST(EXTRACT(EPOCH FROM clock_timestamp() - login_time), 0)::double precision
		WHERE login_id = (
			SELECT login_id FROM logins
			WHERE user_id = @user_id AND duration_seconds IS NULL
			ORDER BY login_id DESC
			LIMIT 1
		)
		RETURNING `+loginColumnList, pgx.NamedArgs{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[LoginRecord])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "session", Key: strconv.FormatInt(userID, 10)}
	}
	if err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}
	return &rec, nil
}

func (t *pgTables) ListLogins(ctx context.Context) ([]LoginRecord, error) {
	rows, err := t.q.Query(ctx, `SELECT `+loginColumnList+` FROM logins ORDER BY login_id`)
	if err != nil {
		return nil, fmt.Errorf("list logins: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[LoginRecord])
	if err != nil {
		return nil, fmt.Errorf("list logins: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.SQLState() == "23505"
}
