// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

package speciesqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ZB1234D/Species-Database-App-123/speciesync"
)

// SyncStatus is the replica's persisted sync state
type SyncStatus struct {
	Version  int64
	Status   string // idle, syncing or error
	LastSync *time.Time
	Error    string
}

// InProgress reports whether a Sync is running in this process
func (c *Client) InProgress() bool {
	return c.syncing.Load()
}

// Status reads the persisted sync state
func (c *Client) Status(ctx context.Context) (*SyncStatus, error) {
	var (
		st       SyncStatus
		lastSync sql.NullString
		errMsg   sql.NullString
	)
	err := c.DB.QueryRowContext(ctx, `SELECT version, status, last_sync, error FROM _sync_state WHERE id = 1`).
		Scan(&st.Version, &st.Status, &lastSync, &errMsg)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync state: %w", err)
	}
	if lastSync.Valid {
		if t, perr := time.Parse(time.RFC3339Nano, lastSync.String); perr == nil {
			st.LastSync = &t
		}
	}
	st.Error = errMsg.String
	return &st, nil
}

// SpeciesCount returns the number of local species rows for lang
func (c *Client) SpeciesCount(ctx context.Context, lang speciesync.Language) (int, error) {
	var n int
	if err := c.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+lang.Table()).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", lang.Table(), err)
	}
	return n, nil
}

var speciesSelect = "SELECT species_id, " + strings.Join(speciesync.SpeciesColumns, ", ") + " FROM "

func scanSpecies(row interface{ Scan(...any) error }) (*speciesync.SpeciesRecord, error) {
	var r speciesync.SpeciesRecord
	f := &r.SpeciesFields
	err := row.Scan(&r.SpeciesID, &f.ScientificName, &f.CommonName, &f.Etymology, &f.Habitat,
		&f.IdentificationCharacter, &f.LeafType, &f.FruitType, &f.Phenology, &f.SeedGermination, &f.Pest)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Species returns one local species row
func (c *Client) Species(ctx context.Context, lang speciesync.Language, id int64) (*speciesync.SpeciesRecord, error) {
	r, err := scanSpecies(c.DB.QueryRowContext(ctx, speciesSelect+lang.Table()+" WHERE species_id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &speciesync.NotFoundError{Entity: lang.Table(), Key: fmt.Sprint(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read species %d: %w", id, err)
	}
	return r, nil
}

// ListSpecies returns all local species rows for lang ordered by id
func (c *Client) ListSpecies(ctx context.Context, lang speciesync.Language) ([]speciesync.SpeciesRecord, error) {
	rows, err := c.DB.QueryContext(ctx, speciesSelect+lang.Table()+" ORDER BY species_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", lang.Table(), err)
	}
	defer rows.Close()

	var out []speciesync.SpeciesRecord
	for rows.Next() {
		r, err := scanSpecies(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// MediaForSpecies returns local media metadata attached to a species
func (c *Client) MediaForSpecies(ctx context.Context, speciesID int64) ([]speciesync.MediaRecord, error) {
	rows, err := c.DB.QueryContext(ctx, `SELECT media_id, species_id, species_name, media_type, download_link, streaming_link, alt_text
		FROM media WHERE species_id = ? ORDER BY media_id`, speciesID)
	if err != nil {
		return nil, fmt.Errorf("failed to list media: %w", err)
	}
	defer rows.Close()

	var out []speciesync.MediaRecord
	for rows.Next() {
		var m speciesync.MediaRecord
		if err := rows.Scan(&m.MediaID, &m.SpeciesID, &m.SpeciesName, &m.MediaType, &m.DownloadLink, &m.StreamingLink, &m.AltText); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
