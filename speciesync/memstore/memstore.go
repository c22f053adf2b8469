// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

// Package memstore provides an in-memory speciesync.Store. It backs local
// development and tests, and can simulate a backend without cross-table
// transactions plus injected write failures.
package memstore

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/ZB1234D/Species-Database-App-123/speciesync"
)

// FaultFunc is consulted before every write. A non-nil return fails the
// write with that error. Operation names are "<table>.<verb>", for example
// "species_tet.insert", "media.update" or "changelog.append".
type FaultFunc func(op string) error

// ErrReadOnly is returned by writes attempted inside ReadSnapshot
var ErrReadOnly = errors.New("memstore: write in read-only snapshot")

// Options configures a Store
type Options struct {
	// NonAtomic disables all-or-nothing WithTx, so callers must compensate
	// failed multi-step writes themselves.
	NonAtomic bool
	Fault     FaultFunc
	Now       func() time.Time
}

// Store is a mutex-guarded in-memory speciesync.Store
type Store struct {
	mu     sync.RWMutex
	st     *state
	atomic bool
	fault  FaultFunc
	now    func() time.Time
}

var _ speciesync.Store = (*Store)(nil)

// New creates an empty store
func New(opts *Options) *Store {
	if opts == nil {
		opts = &Options{}
	}
	s := &Store{
		st:     newState(),
		atomic: !opts.NonAtomic,
		fault:  opts.Fault,
		now:    opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// SetFault replaces the fault hook; nil clears it
func (s *Store) SetFault(f FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

// FailOn returns a FaultFunc failing every write named in ops with err
func FailOn(err error, ops ...string) FaultFunc {
	return func(op string) error {
		if slices.Contains(ops, op) {
			return err
		}
		return nil
	}
}

type state struct {
	speciesEN  map[int64]speciesync.SpeciesRecord
	speciesTET map[int64]speciesync.SpeciesRecord
	media      map[int64]speciesync.MediaRecord
	users      map[int64]speciesync.UserRecord
	changelog  []speciesync.ChangelogEntry
	logins     []speciesync.LoginRecord

	nextSpeciesID   int64
	nextMediaID     int64
	nextUserID      int64
	nextChangelogID int64
	nextLoginID     int64
	version         int64
}

func newState() *state {
	return &state{
		speciesEN:  map[int64]speciesync.SpeciesRecord{},
		speciesTET: map[int64]speciesync.SpeciesRecord{},
		media:      map[int64]speciesync.MediaRecord{},
		users:      map[int64]speciesync.UserRecord{},
	}
}

func (st *state) clone() *state {
	c := *st
	c.speciesEN = maps.Clone(st.speciesEN)
	c.speciesTET = maps.Clone(st.speciesTET)
	c.media = maps.Clone(st.media)
	c.users = maps.Clone(st.users)
	c.changelog = slices.Clone(st.changelog)
	c.logins = slices.Clone(st.logins)
	return &c
}

func (s *Store) view(st *state, readOnly bool) *view {
	return &view{st: st, fault: s.fault, now: s.now, readOnly: readOnly}
}

func (s *Store) Atomic() bool {
	return s.atomic
}

// WithTx runs fn on a private copy of the state and publishes it only when
// fn succeeds. Writers are serialized for the duration of fn. In non-atomic
// mode fn runs directly against the store and every write lands immediately.
func (s *Store) WithTx(ctx context.Context, fn func(speciesync.Tables) error) error {
	if !s.atomic {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.st.clone()
	if err := fn(s.view(work, false)); err != nil {
		return err
	}
	s.st = work
	return nil
}

// ReadSnapshot holds the read lock for the duration of fn
func (s *Store) ReadSnapshot(ctx context.Context, fn func(speciesync.Tables) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.view(s.st, true))
}

func (s *Store) write(fn func(v *view) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.view(s.st, false))
}

func (s *Store) read(fn func(v *view) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.view(s.st, true))
}

func (s *Store) InsertSpecies(ctx context.Context, lang speciesync.Language, id int64, f speciesync.SpeciesFields) (rec *speciesync.SpeciesRecord, err error) {
	err = s.write(func(v *view) error { rec, err = v.InsertSpecies(ctx, lang, id, f); return err })
	return rec, err
}

func (s *Store) UpdateSpecies(ctx context.Context, lang speciesync.Language, id int64, f speciesync.SpeciesFields) (rec *speciesync.SpeciesRecord, err error) {
	err = s.write(func(v *view) error { rec, err = v.UpdateSpecies(ctx, lang, id, f); return err })
	return rec, err
}

func (s *Store) DeleteSpecies(ctx context.Context, lang speciesync.Language, id int64) error {
	return s.write(func(v *view) error { return v.DeleteSpecies(ctx, lang, id) })
}

func (s *Store) GetSpecies(ctx context.Context, lang speciesync.Language, id int64) (rec *speciesync.SpeciesRecord, err error) {
	err = s.read(func(v *view) error { rec, err = v.GetSpecies(ctx, lang, id); return err })
	return rec, err
}

func (s *Store) ListSpecies(ctx context.Context, lang speciesync.Language) (out []speciesync.SpeciesRecord, err error) {
	err = s.read(func(v *view) error { out, err = v.ListSpecies(ctx, lang); return err })
	return out, err
}

func (s *Store) SpeciesByIDs(ctx context.Context, lang speciesync.Language, ids []int64) (out []speciesync.SpeciesRecord, err error) {
	err = s.read(func(v *view) error { out, err = v.SpeciesByIDs(ctx, lang, ids); return err })
	return out, err
}

func (s *Store) FindSpeciesByScientificName(ctx context.Context, name string) (rec *speciesync.SpeciesRecord, err error) {
	err = s.read(func(v *view) error { rec, err = v.FindSpeciesByScientificName(ctx, name); return err })
	return rec, err
}

func (s *Store) InsertMedia(ctx context.Context, f speciesync.MediaFields) (rec *speciesync.MediaRecord, err error) {
	err = s.write(func(v *view) error { rec, err = v.InsertMedia(ctx, f); return err })
	return rec, err
}

func (s *Store) UpdateMedia(ctx context.Context, id int64, f speciesync.MediaFields) (rec *speciesync.MediaRecord, err error) {
	err = s.write(func(v *view) error { rec, err = v.UpdateMedia(ctx, id, f); return err })
	return rec, err
}

func (s *Store) DeleteMedia(ctx context.Context, id int64) error {
	return s.write(func(v *view) error { return v.DeleteMedia(ctx, id) })
}

func (s *Store) GetMedia(ctx context.Context, id int64) (rec *speciesync.MediaRecord, err error) {
	err = s.read(func(v *view) error { rec, err = v.GetMedia(ctx, id); return err })
	return rec, err
}

func (s *Store) ListMedia(ctx context.Context) (out []speciesync.MediaRecord, err error) {
	err = s.read(func(v *view) error { out, err = v.ListMedia(ctx); return err })
	return out, err
}

func (s *Store) MediaByIDs(ctx context.Context, ids []int64) (out []speciesync.MediaRecord, err error) {
	err = s.read(func(v *view) error { out, err = v.MediaByIDs(ctx, ids); return err })
	return out, err
}

func (s *Store) FindMediaByLink(ctx context.Context, link string) (rec *speciesync.MediaRecord, err error) {
	err = s.read(func(v *view) error { rec, err = v.FindMediaByLink(ctx, link); return err })
	return rec, err
}

func (s *Store) InsertUser(ctx context.Context, f speciesync.UserFields) (rec *speciesync.UserRecord, err error) {
	err = s.write(func(v *view) error { rec, err = v.InsertUser(ctx, f); return err })
	return rec, err
}

func (s *Store) UpdateUser(ctx context.Context, id int64, f speciesync.UserFields) (rec *speciesync.UserRecord, err error) {
	err = s.write(func(v *view) error { rec, err = v.UpdateUser(ctx, id, f); return err })
	return rec, err
}

func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	return s.write(func(v *view) error { return v.DeleteUser(ctx, id) })
}

func (s *Store) GetUser(ctx context.Context, id int64) (rec *speciesync.UserRecord, err error) {
	err = s.read(func(v *view) error { rec, err = v.GetUser(ctx, id); return err })
	return rec, err
}

func (s *Store) FindUserByName(ctx context.Context, name string) (rec *speciesync.UserRecord, err error) {
	err = s.read(func(v *view) error { rec, err = v.FindUserByName(ctx, name); return err })
	return rec, err
}

func (s *Store) ListUsers(ctx context.Context) (out []speciesync.UserRecord, err error) {
	err = s.read(func(v *view) error { out, err = v.ListUsers(ctx); return err })
	return out, err
}

func (s *Store) RecordLogin(ctx context.Context, userID int64) (rec *speciesync.LoginRecord, err error) {
	err = s.write(func(v *view) error { rec, err = v.RecordLogin(ctx, userID); return err })
	return rec, err
}

func (s *Store) EndSession(ctx context.Context, userID int64) (rec *speciesync.LoginRecord, err error) {
	err = s.write(func(v *view) error { rec, err = v.EndSession(ctx, userID); return err })
	return rec, err
}

func (s *Store) ListLogins(ctx context.Context) (out []speciesync.LoginRecord, err error) {
	err = s.read(func(v *view) error { out, err = v.ListLogins(ctx); return err })
	return out, err
}

func (s *Store) AppendChange(ctx context.Context, entityType string, entityID *int64, op speciesync.Operation, detail string) (e *speciesync.ChangelogEntry, err error) {
	err = s.write(func(v *view) error { e, err = v.AppendChange(ctx, entityType, entityID, op, detail); return err })
	return e, err
}

func (s *Store) ChangesSince(ctx context.Context, since int64, limit int) (out []speciesync.ChangelogEntry, err error) {
	err = s.read(func(v *view) error { out, err = v.ChangesSince(ctx, since, limit); return err })
	return out, err
}

func (s *Store) LatestVersion(ctx context.Context) (v int64, err error) {
	err = s.read(func(vw *view) error { v, err = vw.LatestVersion(ctx); return err })
	return v, err
}
