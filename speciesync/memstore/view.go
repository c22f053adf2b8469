// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ZB1234D/Species-Database-App-123/speciesync"
)

// view implements speciesync.Tables over a state without locking; the owner
// holds the appropriate lock.
type view struct {
	st       *state
	fault    FaultFunc
	now      func() time.Time
	readOnly bool
}

func (v *view) check(op string) error {
	if v.readOnly {
		return ErrReadOnly
	}
	if v.fault != nil {
		if err := v.fault(op); err != nil {
			return err
		}
	}
	return nil
}

func (v *view) species(lang speciesync.Language) map[int64]speciesync.SpeciesRecord {
	if lang == speciesync.LangTetum {
		return v.st.speciesTET
	}
	return v.st.speciesEN
}

func notFound(entity string, id int64) error {
	return &speciesync.NotFoundError{Entity: entity, Key: strconv.FormatInt(id, 10)}
}

func sortedValues[T any](m map[int64]T, id func(T) int64) []T {
	out := make([]T, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b T) int { return cmp.Compare(id(a), id(b)) })
	return out
}

func speciesID(r speciesync.SpeciesRecord) int64 { return r.SpeciesID }
func mediaID(r speciesync.MediaRecord) int64     { return r.MediaID }
func userID(r speciesync.UserRecord) int64       { return r.UserID }

func (v *view) InsertSpecies(_ context.Context, lang speciesync.Language, id int64, f speciesync.SpeciesFields) (*speciesync.SpeciesRecord, error) {
	if err := v.check(lang.Table() + ".insert"); err != nil {
		return nil, err
	}
	rows := v.species(lang)
	if id == 0 {
		v.st.nextSpeciesID++
		id = v.st.nextSpeciesID
	} else if _, exists := rows[id]; exists {
		return nil, &speciesync.ConflictError{Entity: lang.Table(), Key: strconv.FormatInt(id, 10)}
	}
	if id > v.st.nextSpeciesID {
		v.st.nextSpeciesID = id
	}
	rec := speciesync.SpeciesRecord{SpeciesID: id, SpeciesFields: f}
	rows[id] = rec
	return &rec, nil
}

func (v *view) UpdateSpecies(_ context.Context, lang speciesync.Language, id int64, f speciesync.SpeciesFields) (*speciesync.SpeciesRecord, error) {
	if err := v.check(lang.Table() + ".update"); err != nil {
		return nil, err
	}
	rows := v.species(lang)
	if _, ok := rows[id]; !ok {
		return nil, notFound(lang.Table(), id)
	}
	rec := speciesync.SpeciesRecord{SpeciesID: id, SpeciesFields: f}
	rows[id] = rec
	return &rec, nil
}

func (v *view) DeleteSpecies(_ context.Context, lang speciesync.Language, id int64) error {
	if err := v.check(lang.Table() + ".delete"); err != nil {
		return err
	}
	rows := v.species(lang)
	if _, ok := rows[id]; !ok {
		return notFound(lang.Table(), id)
	}
	delete(rows, id)
	return nil
}

func (v *view) GetSpecies(_ context.Context, lang speciesync.Language, id int64) (*speciesync.SpeciesRecord, error) {
	rec, ok := v.species(lang)[id]
	if !ok {
		return nil, notFound(lang.Table(), id)
	}
	return &rec, nil
}

func (v *view) ListSpecies(_ context.Context, lang speciesync.Language) ([]speciesync.SpeciesRecord, error) {
	return sortedValues(v.species(lang), speciesID), nil
}

func (v *view) SpeciesByIDs(_ context.Context, lang speciesync.Language, ids []int64) ([]speciesync.SpeciesRecord, error) {
	rows := v.species(lang)
	out := make([]speciesync.SpeciesRecord, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if rec, ok := rows[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b speciesync.SpeciesRecord) int { return cmp.Compare(a.SpeciesID, b.SpeciesID) })
	return out, nil
}

func (v *view) FindSpeciesByScientificName(_ context.Context, name string) (*speciesync.SpeciesRecord, error) {
	want := strings.TrimSpace(name)
	for _, rec := range sortedValues(v.st.speciesEN, speciesID) {
		if strings.EqualFold(rec.ScientificName, want) {
			return &rec, nil
		}
	}
	return nil, &speciesync.NotFoundError{Entity: "species", Key: name}
}

func (v *view) linkTaken(link string, except int64) bool {
	for id, m := range v.st.media {
		if id != except && m.DownloadLink == link {
			return true
		}
	}
	return false
}

func mediaRecord(id int64, f speciesync.MediaFields) speciesync.MediaRecord {
	return speciesync.MediaRecord{
		MediaID:       id,
		SpeciesID:     f.SpeciesID,
		SpeciesName:   f.SpeciesName,
		MediaType:     f.MediaType,
		DownloadLink:  f.DownloadLink,
		StreamingLink: f.StreamingLink,
		AltText:       f.AltText,
	}
}

func (v *view) InsertMedia(_ context.Context, f speciesync.MediaFields) (*speciesync.MediaRecord, error) {
	if err := v.check("media.insert"); err != nil {
		return nil, err
	}
	if v.linkTaken(f.DownloadLink, 0) {
		return nil, &speciesync.ConflictError{Entity: "media", Key: f.DownloadLink}
	}
	v.st.nextMediaID++
	rec := mediaRecord(v.st.nextMediaID, f)
	v.st.media[rec.MediaID] = rec
	return &rec, nil
}

func (v *view) UpdateMedia(_ context.Context, id int64, f speciesync.MediaFields) (*speciesync.MediaRecord, error) {
	if err := v.check("media.update"); err != nil {
		return nil, err
	}
	if _, ok := v.st.media[id]; !ok {
		return nil, notFound("media", id)
	}
	if v.linkTaken(f.DownloadLink, id) {
		return nil, &speciesync.ConflictError{Entity: "media", Key: f.DownloadLink}
	}
	rec := mediaRecord(id, f)
	v.st.media[id] = rec
	return &rec, nil
}

func (v *view) DeleteMedia(_ context.Context, id int64) error {
	if err := v.check("media.delete"); err != nil {
		return err
	}
	if _, ok := v.st.media[id]; !ok {
		return notFound("media", id)
	}
	delete(v.st.media, id)
	return nil
}

func (v *view) GetMedia(_ context.Context, id int64) (*speciesync.MediaRecord, error) {
	rec, ok := v.st.media[id]
	if !ok {
		return nil, notFound("media", id)
	}
	return &rec, nil
}

func (v *view) ListMedia(_ context.Context) ([]speciesync.MediaRecord, error) {
	out := sortedValues(v.st.media, mediaID)
	slices.Reverse(out)
	return out, nil
}

func (v *view) MediaByIDs(_ context.Context, ids []int64) ([]speciesync.MediaRecord, error) {
	out := make([]speciesync.MediaRecord, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if rec, ok := v.st.media[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b speciesync.MediaRecord) int { return cmp.Compare(a.MediaID, b.MediaID) })
	return out, nil
}

func (v *view) FindMediaByLink(_ context.Context, link string) (*speciesync.MediaRecord, error) {
	for _, rec := range v.st.media {
		if rec.DownloadLink == link {
			return &rec, nil
		}
	}
	return nil, &speciesync.NotFoundError{Entity: "media", Key: link}
}

func (v *view) nameTaken(name string, except int64) bool {
	for id, u := range v.st.users {
		if id != except && u.Name == name {
			return true
		}
	}
	return false
}

func (v *view) InsertUser(_ context.Context, f speciesync.UserFields) (*speciesync.UserRecord, error) {
	if err := v.check("users.insert"); err != nil {
		return nil, err
	}
	if v.nameTaken(f.Name, 0) {
		return nil, &speciesync.ConflictError{Entity: "user", Key: f.Name}
	}
	v.st.nextUserID++
	rec := speciesync.UserRecord{
		UserID:       v.st.nextUserID,
		Name:         f.Name,
		Role:         f.Role,
		IsActive:     f.IsActive,
		PasswordHash: f.PasswordHash,
		CreatedAt:    v.now().UTC(),
	}
	v.st.users[rec.UserID] = rec
	return &rec, nil
}

func (v *view) UpdateUser(_ context.Context, id int64, f speciesync.UserFields) (*speciesync.UserRecord, error) {
	if err := v.check("users.update"); err != nil {
		return nil, err
	}
	cur, ok := v.st.users[id]
	if !ok {
		return nil, notFound("user", id)
	}
	if v.nameTaken(f.Name, id) {
		return nil, &speciesync.ConflictError{Entity: "user", Key: f.Name}
	}
	cur.Name, cur.Role, cur.IsActive, cur.PasswordHash = f.Name, f.Role, f.IsActive, f.PasswordHash
	v.st.users[id] = cur
	return &cur, nil
}

func (v *view) DeleteUser(_ context.Context, id int64) error {
	if err := v.check("users.delete"); err != nil {
		return err
	}
	if _, ok := v.st.users[id]; !ok {
		return notFound("user", id)
	}
	delete(v.st.users, id)
	v.st.logins = slices.DeleteFunc(v.st.logins, func(l speciesync.LoginRecord) bool { return l.UserID == id })
	return nil
}

func (v *view) GetUser(_ context.Context, id int64) (*speciesync.UserRecord, error) {
	rec, ok := v.st.users[id]
	if !ok {
		return nil, notFound("user", id)
	}
	return &rec, nil
}

func (v *view) FindUserByName(_ context.Context, name string) (*speciesync.UserRecord, error) {
	for _, rec := range v.st.users {
		if rec.Name == name {
			return &rec, nil
		}
	}
	return nil, &speciesync.NotFoundError{Entity: "user", Key: name}
}

func (v *view) ListUsers(_ context.Context) ([]speciesync.UserRecord, error) {
	return sortedValues(v.st.users, userID), nil
}

// AppendChange allocates the next version and records the entry together;
// both happen under the owner's write lock.
func (v *view) RecordLogin(_ context.Context, userID int64) (*speciesync.LoginRecord, error) {
	if err := v.check("logins.insert"); err != nil {
		return nil, err
	}
	if _, ok := v.st.users[userID]; !ok {
		return nil, notFound("user", userID)
	}
	v.st.nextLoginID++
	rec := speciesync.LoginRecord{LoginID: v.st.nextLoginID, UserID: userID, LoginTime: v.now().UTC()}
	v.st.logins = append(v.st.logins, rec)
	return &rec, nil
}

func (v *view) EndSession(_ context.Context, userID int64) (*speciesync.LoginRecord, error) {
	if err := v.check("logins.update"); err != nil {
		return nil, err
	}
	for i := len(v.st.logins) - 1; i >= 0; i-- {
		l := v.st.logins[i]
		if l.UserID != userID || l.DurationSeconds != nil {
			continue
		}
		d := max(v.now().Sub(l.LoginTime).Seconds(), 0)
		l.DurationSeconds = &d
		v.st.logins[i] = l
		return &l, nil
	}
	return nil, &speciesync.NotFoundError{Entity: "session", Key: strconv.FormatInt(userID, 10)}
}

func (v *view) ListLogins(_ context.Context) ([]speciesync.LoginRecord, error) {
	return slices.Clone(v.st.logins), nil
}

func (v *view) AppendChange(_ context.Context, entityType string, entityID *int64, op speciesync.Operation, detail string) (*speciesync.ChangelogEntry, error) {
	if err := v.check("changelog.append"); err != nil {
		return nil, err
	}
	if !op.Valid() {
		return nil, fmt.Errorf("append change: unknown operation %q", op)
	}
	var idCopy *int64
	if entityID != nil {
		id := *entityID
		idCopy = &id
	}
	v.st.version++
	v.st.nextChangelogID++
	e := speciesync.ChangelogEntry{
		ID:         v.st.nextChangelogID,
		EntityType: entityType,
		EntityID:   idCopy,
		Operation:  op,
		Version:    v.st.version,
		Detail:     detail,
		CreatedAt:  v.now().UTC(),
	}
	v.st.changelog = append(v.st.changelog, e)
	return &e, nil
}

// ChangesSince relies on the changelog slice being in version order
func (v *view) ChangesSince(_ context.Context, since int64, limit int) ([]speciesync.ChangelogEntry, error) {
	i, _ := slices.BinarySearchFunc(v.st.changelog, since+1, func(e speciesync.ChangelogEntry, t int64) int {
		return cmp.Compare(e.Version, t)
	})
	out := slices.Clone(v.st.changelog[i:])
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []speciesync.ChangelogEntry{}
	}
	return out, nil
}

func (v *view) LatestVersion(_ context.Context) (int64, error) {
	return v.st.version, nil
}
