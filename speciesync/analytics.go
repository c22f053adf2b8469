// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

package speciesync

import (
	"context"
	"math"
	"time"
)

// AnalyticsOverview summarizes dashboard usage and dataset coverage
type AnalyticsOverview struct {
	TotalUsers             int     `json:"total_users"`
	ActiveUsers            int     `json:"active_users"`
	TotalLogins            int     `json:"total_logins"`
	AverageSessionDuration float64 `json:"average_session_duration"`
	TotalSpecies           int     `json:"total_species"`
	SpeciesWithMedia       int     `json:"species_with_media"`
}

// UserActivity is the per-user login summary. Durations are in seconds and
// only count sessions that ended with a logout.
type UserActivity struct {
	UserID          int64      `json:"user_id"`
	Name            string     `json:"name"`
	Role            string     `json:"role"`
	IsActive        bool       `json:"is_active"`
	LoginCount      int        `json:"login_count"`
	TotalDuration   float64    `json:"total_duration"`
	AverageDuration float64    `json:"average_duration"`
	LastLogin       *time.Time `json:"last_login"`
}

type sessionTotals struct {
	logins int
	closed int
	total  float64
	last   time.Time
}

func (st *sessionTotals) add(l LoginRecord) {
	st.logins++
	if l.DurationSeconds != nil {
		st.closed++
		st.total += *l.DurationSeconds
	}
	if l.LoginTime.After(st.last) {
		st.last = l.LoginTime
	}
}

func (st *sessionTotals) average() float64 {
	if st.closed == 0 {
		return 0
	}
	return round2(st.total / float64(st.closed))
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// RecordLogin opens an analytics session for a user who just authenticated
func (s *SyncService) RecordLogin(ctx context.Context, userID int64) (*LoginRecord, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	return s.store.RecordLogin(ctx, userID)
}

// EndSession closes the user's open session and records how long it lasted
func (s *SyncService) EndSession(ctx context.Context, userID int64) (*LoginRecord, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	return s.store.EndSession(ctx, userID)
}

// AnalyticsOverview computes user, session and coverage totals from one
// snapshot.
func (s *SyncService) AnalyticsOverview(ctx context.Context) (*AnalyticsOverview, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	out := &AnalyticsOverview{}
	err := s.store.ReadSnapshot(ctx, func(t Tables) error {
		users, err := t.ListUsers(ctx)
		if err != nil {
			return err
		}
		species, err := t.ListSpecies(ctx, LangEnglish)
		if err != nil {
			return err
		}
		media, err := t.ListMedia(ctx)
		if err != nil {
			return err
		}
		logins, err := t.ListLogins(ctx)
		if err != nil {
			return err
		}

		out.TotalUsers = len(users)
		for _, u := range users {
			if u.IsActive {
				out.ActiveUsers++
			}
		}
		var totals sessionTotals
		for _, l := range logins {
			totals.add(l)
		}
		out.TotalLogins = totals.logins
		out.AverageSessionDuration = totals.average()

		out.TotalSpecies = len(species)
		covered := make(map[int64]struct{}, len(media))
		for _, m := range media {
			covered[m.SpeciesID] = struct{}{}
		}
		out.SpeciesWithMedia = len(covered)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UserAnalytics returns one activity row per user, ordered by user id
func (s *SyncService) UserAnalytics(ctx context.Context) ([]UserActivity, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	var out []UserActivity
	err := s.store.ReadSnapshot(ctx, func(t Tables) error {
		users, err := t.ListUsers(ctx)
		if err != nil {
			return err
		}
		logins, err := t.ListLogins(ctx)
		if err != nil {
			return err
		}
		byUser := make(map[int64]*sessionTotals)
		for _, l := range logins {
			st := byUser[l.UserID]
			if st == nil {
				st = &sessionTotals{}
				byUser[l.UserID] = st
			}
			st.add(l)
		}

		out = make([]UserActivity, 0, len(users))
		for _, u := range users {
			row := UserActivity{UserID: u.UserID, Name: u.Name, Role: u.Role, IsActive: u.IsActive}
			if st := byUser[u.UserID]; st != nil {
				row.LoginCount = st.logins
				row.TotalDuration = round2(st.total)
				row.AverageDuration = st.average()
				last := st.last
				row.LastLogin = &last
			}
			out = append(out, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
