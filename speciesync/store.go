// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

package speciesync

import (
	"context"
)

// Tables is the row-level storage surface used by the coordinator and planner.
// Get/Find/Update/Delete return *NotFoundError for missing rows.
type Tables interface {
	// InsertSpecies inserts a row into the table for lang. id == 0 allocates a
	// new species id; a non-zero id is used as-is (second language row, restore).
	InsertSpecies(ctx context.Context, lang Language, id int64, f SpeciesFields) (*SpeciesRecord, error)
	UpdateSpecies(ctx context.Context, lang Language, id int64, f SpeciesFields) (*SpeciesRecord, error)
	DeleteSpecies(ctx context.Context, lang Language, id int64) error
	GetSpecies(ctx context.Context, lang Language, id int64) (*SpeciesRecord, error)
	ListSpecies(ctx context.Context, lang Language) ([]SpeciesRecord, error)
	SpeciesByIDs(ctx context.Context, lang Language, ids []int64) ([]SpeciesRecord, error)
	// FindSpeciesByScientificName matches English rows case-insensitively.
	FindSpeciesByScientificName(ctx context.Context, name string) (*SpeciesRecord, error)

	// InsertMedia returns *ConflictError when the download link is taken.
	InsertMedia(ctx context.Context, f MediaFields) (*MediaRecord, error)
	UpdateMedia(ctx context.Context, id int64, f MediaFields) (*MediaRecord, error)
	DeleteMedia(ctx context.Context, id int64) error
	GetMedia(ctx context.Context, id int64) (*MediaRecord, error)
	// ListMedia returns media newest first.
	ListMedia(ctx context.Context) ([]MediaRecord, error)
	MediaByIDs(ctx context.Context, ids []int64) ([]MediaRecord, error)
	FindMediaByLink(ctx context.Context, link string) (*MediaRecord, error)

	InsertUser(ctx context.Context, f UserFields) (*UserRecord, error)
	UpdateUser(ctx context.Context, id int64, f UserFields) (*UserRecord, error)
	DeleteUser(ctx context.Context, id int64) error
	GetUser(ctx context.Context, id int64) (*UserRecord, error)
	FindUserByName(ctx context.Context, name string) (*UserRecord, error)
	ListUsers(ctx context.Context) ([]UserRecord, error)

	// RecordLogin opens a session for userID stamped with the store's clock.
	RecordLogin(ctx context.Context, userID int64) (*LoginRecord, error)
	// EndSession closes the user's newest open session and stores its
	// duration. It returns *NotFoundError when no session is open.
	EndSession(ctx context.Context, userID int64) (*LoginRecord, error)
	// ListLogins returns every session ordered by login id.
	ListLogins(ctx context.Context) ([]LoginRecord, error)

	// AppendChange allocates the next version and records the entry as one
	// atomic step. Versions strictly increase and become visible to readers in
	// version order.
	AppendChange(ctx context.Context, entityType string, entityID *int64, op Operation, detail string) (*ChangelogEntry, error)
	// ChangesSince returns entries with version > since ordered by version.
	// limit <= 0 returns all of them.
	ChangesSince(ctx context.Context, since int64, limit int) ([]ChangelogEntry, error)
	// LatestVersion returns the highest recorded version, or 0 for an empty log.
	LatestVersion(ctx context.Context) (int64, error)
}

// Store is a Tables backend with unit-of-work support
type Store interface {
	Tables

	// Atomic reports whether WithTx gives all-or-nothing semantics across
	// tables. When false the coordinator falls back to compensating actions.
	Atomic() bool
	// WithTx runs fn as one write unit. With an atomic store any error from fn
	// discards every write fn made.
	WithTx(ctx context.Context, fn func(Tables) error) error
	// ReadSnapshot runs fn against a consistent read-only view.
	ReadSnapshot(ctx context.Context, fn func(Tables) error) error
}
