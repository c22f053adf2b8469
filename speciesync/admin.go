// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

package speciesync

import (
	"context"
)

// ListChangelog returns raw changelog entries after since for auditing.
func (s *SyncService) ListChangelog(ctx context.Context, since int64, limit int) (*ChangelogListResponse, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	if err := validateSince(since); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	resp := &ChangelogListResponse{}
	err := s.store.ReadSnapshot(ctx, func(t Tables) error {
		var err error
		if resp.Entries, err = t.ChangesSince(ctx, since, limit); err != nil {
			return err
		}
		resp.LatestVersion, err = t.LatestVersion(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if resp.Entries == nil {
		resp.Entries = []ChangelogEntry{}
	}
	return resp, nil
}
