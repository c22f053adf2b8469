// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

package speciesqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ZB1234D/Species-Database-App-123/speciesync"
)

// SyncType tells how a Sync call brought the replica up to date
type SyncType string

const (
	SyncNone        SyncType = "none"
	SyncBundle      SyncType = "bundle"
	SyncIncremental SyncType = "incremental"
)

// SyncResult describes one completed Sync
type SyncResult struct {
	Type            SyncType
	Reason          string // why no data was applied, or why a bundle was fetched
	Version         int64
	PreviousVersion int64
	SpeciesEN       int
	SpeciesTET      int
	Media           int
	Deleted         int
}

// httpStatusError is a non-2xx server response
type httpStatusError struct {
	Status int
	Body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.Status, e.Body)
}

// Sync brings the replica up to date. A bundle is fetched when forceBundle is
// set, the replica holds no species, or the server asks for one; otherwise
// only the changed entities are fetched. Each apply runs in one SQLite
// transaction, so a failed sync leaves the previous data and version intact.
func (c *Client) Sync(ctx context.Context, forceBundle bool) (*SyncResult, error) {
	if !c.syncing.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer c.syncing.Store(false)

	res, err := c.sync(ctx, forceBundle)
	if err != nil {
		c.logger.Warn("Replica sync failed", "error", err)
		if serr := c.setStatus(context.WithoutCancel(ctx), "error", err.Error()); serr != nil {
			c.logger.Error("Failed to record sync error", "error", serr)
		}
		return nil, err
	}
	c.logger.Info("Replica sync complete", "type", res.Type, "version", res.Version, "reason", res.Reason)
	return res, nil
}

func (c *Client) sync(ctx context.Context, forceBundle bool) (*SyncResult, error) {
	st, err := c.Status(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.setStatus(ctx, "syncing", ""); err != nil {
		return nil, err
	}

	if forceBundle {
		return c.syncBundle(ctx, st.Version, "forced")
	}
	n, err := c.SpeciesCount(ctx, speciesync.LangEnglish)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return c.syncBundle(ctx, st.Version, "no_local_data")
	}

	var changes speciesync.ChangesResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/api/species/changes?since_version=%d", st.Version), &changes); err != nil {
		return nil, err
	}
	switch {
	case changes.UpToDate:
		if err := c.finish(ctx, nil, st.Version); err != nil {
			return nil, err
		}
		return &SyncResult{Type: SyncNone, Reason: "up_to_date", Version: st.Version, PreviousVersion: st.Version}, nil
	case changes.ForceBundle:
		return c.syncBundle(ctx, st.Version, changes.Reason)
	}

	var inc speciesync.IncrementalResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/api/species/incremental?since_version=%d", st.Version), &inc); err != nil {
		return nil, err
	}
	if inc.ForceBundle {
		return c.syncBundle(ctx, st.Version, "incremental_refused")
	}
	if err := c.applyIncremental(ctx, &inc); err != nil {
		return nil, err
	}
	return &SyncResult{
		Type:            SyncIncremental,
		Version:         inc.LatestVersion,
		PreviousVersion: st.Version,
		SpeciesEN:       len(inc.SpeciesEN),
		SpeciesTET:      len(inc.SpeciesTET),
		Media:           len(inc.Media),
		Deleted:         len(inc.Deleted),
	}, nil
}

func (c *Client) syncBundle(ctx context.Context, prev int64, reason string) (*SyncResult, error) {
	var b speciesync.BundleResponse
	if err := c.getJSON(ctx, "/api/bundle", &b); err != nil {
		return nil, err
	}
	if err := c.applyBundle(ctx, &b); err != nil {
		return nil, err
	}
	return &SyncResult{
		Type:            SyncBundle,
		Reason:          reason,
		Version:         b.Version,
		PreviousVersion: prev,
		SpeciesEN:       len(b.SpeciesEN),
		SpeciesTET:      len(b.SpeciesTET),
		Media:           len(b.Media),
	}, nil
}

// applyBundle replaces every local row and the version in one transaction
func (c *Client) applyBundle(ctx context.Context, b *speciesync.BundleResponse) error {
	return c.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"species_en", "species_tet", "media"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		if err := putSpecies(ctx, tx, "species_en", b.SpeciesEN); err != nil {
			return err
		}
		if err := putSpecies(ctx, tx, "species_tet", b.SpeciesTET); err != nil {
			return err
		}
		if err := putMedia(ctx, tx, b.Media); err != nil {
			return err
		}
		return c.finish(ctx, tx, b.Version)
	})
}

// applyIncremental upserts full rows, removes tombstoned entities and moves
// the version forward in one transaction
func (c *Client) applyIncremental(ctx context.Context, inc *speciesync.IncrementalResponse) error {
	return c.inTx(ctx, func(tx *sql.Tx) error {
		if err := putSpecies(ctx, tx, "species_en", inc.SpeciesEN); err != nil {
			return err
		}
		if err := putSpecies(ctx, tx, "species_tet", inc.SpeciesTET); err != nil {
			return err
		}
		if err := putMedia(ctx, tx, inc.Media); err != nil {
			return err
		}
		for _, d := range inc.Deleted {
			var stmts []string
			switch d.EntityType {
			case speciesync.EntitySpecies:
				stmts = []string{
					`DELETE FROM species_en WHERE species_id = ?`,
					`DELETE FROM species_tet WHERE species_id = ?`,
				}
			case speciesync.EntityMedia:
				stmts = []string{`DELETE FROM media WHERE media_id = ?`}
			default:
				continue
			}
			for _, q := range stmts {
				if _, err := tx.ExecContext(ctx, q, d.EntityID); err != nil {
					return fmt.Errorf("failed to apply tombstone %s/%d: %w", d.EntityType, d.EntityID, err)
				}
			}
		}
		return c.finish(ctx, tx, inc.LatestVersion)
	})
}

func putSpecies(ctx context.Context, tx *sql.Tx, table string, rows []speciesync.SpeciesRecord) error {
	if len(rows) == 0 {
		return nil
	}
	cols := append([]string{"species_id"}, speciesync.SpeciesColumns...)
	q := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (?%s)",
		table, strings.Join(cols, ", "), strings.Repeat(", ?", len(cols)-1))
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("failed to prepare %s upsert: %w", table, err)
	}
	defer stmt.Close()

	for _, r := range rows {
		args := make([]any, 0, len(cols))
		args = append(args, r.SpeciesID)
		for _, v := range r.Values() {
			args = append(args, v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to upsert %s %d: %w", table, r.SpeciesID, err)
		}
	}
	return nil
}

func putMedia(ctx context.Context, tx *sql.Tx, rows []speciesync.MediaRecord) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO media
		(media_id, species_id, species_name, media_type, download_link, streaming_link, alt_text)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare media upsert: %w", err)
	}
	defer stmt.Close()

	for _, m := range rows {
		if _, err := stmt.ExecContext(ctx, m.MediaID, m.SpeciesID, m.SpeciesName, m.MediaType,
			m.DownloadLink, m.StreamingLink, m.AltText); err != nil {
			return fmt.Errorf("failed to upsert media %d: %w", m.MediaID, err)
		}
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// finish records a successful sync at version
func (c *Client) finish(ctx context.Context, tx *sql.Tx, version int64) error {
	var ex execer = c.DB
	if tx != nil {
		ex = tx
	}
	_, err := ex.ExecContext(ctx,
		`UPDATE _sync_state SET version = ?, status = 'idle', last_sync = ?, error = NULL WHERE id = 1`,
		version, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to update sync state: %w", err)
	}
	return nil
}

func (c *Client) setStatus(ctx context.Context, status, msg string) error {
	var errVal any
	if msg != "" {
		errVal = msg
	}
	if _, err := c.DB.ExecContext(ctx, `UPDATE _sync_state SET status = ?, error = ? WHERE id = 1`, status, errVal); err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}
	return nil
}

func (c *Client) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// getJSON fetches path and decodes the body into out, retrying network
// failures and 5xx responses with exponential backoff
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	var lastErr error
	for attempt := 0; attempt < c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := speciesync.Pause(ctx, c.backoff(attempt)); err != nil {
				return err
			}
		}
		err := c.getOnce(ctx, path, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) || ctx.Err() != nil {
			return err
		}
		c.logger.Debug("Retrying replica request", "path", path, "attempt", attempt+1, "error", err)
	}
	return lastErr
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.config.BackoffMin << (attempt - 1)
	if c.config.BackoffMax > 0 && (d > c.config.BackoffMax || d <= 0) {
		d = c.config.BackoffMax
	}
	return d
}

func retryable(err error) bool {
	if errors.Is(err, ErrAuthFailed) {
		return false
	}
	var se *httpStatusError
	if errors.As(err, &se) {
		return se.Status >= 500
	}
	var de *decodeError
	return !errors.As(err, &de)
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "failed to decode response: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func (c *Client) getOnce(ctx context.Context, path string, out any) error {
	rctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(rctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if c.Token != nil {
		token, err := c.Token(ctx)
		if err != nil {
			return fmt.Errorf("failed to get JWT token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrAuthFailed
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &httpStatusError{Status: resp.StatusCode, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &decodeError{err: err}
	}
	return nil
}
