// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

package speciesync

import (
	"context"
	"errors"
	"strings"
)

// MutationResult describes a single-table mutation. The entity change is
// durable even when ChangelogErr is set; only its changelog entry is missing,
// so clients will not see it until the entity is touched again or they fetch
// a full bundle.
type MutationResult struct {
	EntityID     int64
	Entry        *ChangelogEntry
	ChangelogErr error
}

// MediaInput is the payload for registering media
type MediaInput struct {
	SpeciesName   string `json:"species_name"`
	MediaType     string `json:"media_type"`
	DownloadLink  string `json:"download_link"`
	StreamingLink string `json:"streaming_link"`
	AltText       string `json:"alt_text"`
}

// MediaPatch carries the fields to change; nil fields are left as they are.
// A new download link also becomes the streaming link.
type MediaPatch struct {
	SpeciesName  *string `json:"species_name"`
	MediaType    *string `json:"media_type"`
	DownloadLink *string `json:"download_link"`
	AltText      *string `json:"alt_text"`
}

func (p MediaPatch) empty() bool {
	return p.SpeciesName == nil && p.MediaType == nil && p.DownloadLink == nil && p.AltText == nil
}

// MediaMutation is the outcome of a media mutation
type MediaMutation struct {
	Media *MediaRecord
	MutationResult
}

// recordBestEffort appends a changelog entry for a mutation that has already
// been applied. Failure is logged and returned, never escalated.
func (c *Coordinator) recordBestEffort(ctx context.Context, op, entityType string, id int64, operation Operation) MutationResult {
	start := c.stages.start()
	entry, err := c.store.AppendChange(ctx, entityType, idPtr(id), operation, "")
	c.stages.observe(ctx, op, MetricsStageChangelog, start, 1, err != nil)
	if err != nil {
		c.logger.Warn("Failed to write changelog entry; mutation kept",
			"entity_type", entityType, "entity_id", id, "operation", operation, "error", err)
		return MutationResult{EntityID: id, ChangelogErr: err}
	}
	return MutationResult{EntityID: id, Entry: entry}
}

// resolveSpecies maps a scientific name to its species id
func (c *Coordinator) resolveSpecies(ctx context.Context, name string) (int64, error) {
	rec, err := c.store.FindSpeciesByScientificName(ctx, name)
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return 0, &NotFoundError{Entity: "species", Key: name}
		}
		return 0, err
	}
	return rec.SpeciesID, nil
}

// checkLinkFree returns *ConflictError when link belongs to media other than exceptID
func (c *Coordinator) checkLinkFree(ctx context.Context, link string, exceptID int64) error {
	existing, err := c.store.FindMediaByLink(ctx, link)
	if err == nil {
		if existing.MediaID == exceptID {
			return nil
		}
		return &ConflictError{Entity: "media", Key: link}
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return nil
	}
	return err
}

// RegisterMedia records a media pointer for an existing species.
func (c *Coordinator) RegisterMedia(ctx context.Context, in MediaInput) (*MediaMutation, error) {
	f := MediaFields{
		SpeciesName:   strings.TrimSpace(in.SpeciesName),
		MediaType:     strings.TrimSpace(in.MediaType),
		DownloadLink:  strings.TrimSpace(in.DownloadLink),
		StreamingLink: strings.TrimSpace(in.StreamingLink),
		AltText:       in.AltText,
	}
	if err := validateMedia(f); err != nil {
		return nil, err
	}
	if f.StreamingLink == "" {
		f.StreamingLink = f.DownloadLink
	}

	speciesID, err := c.resolveSpecies(ctx, f.SpeciesName)
	if err != nil {
		return nil, err
	}
	f.SpeciesID = speciesID

	if err := c.checkLinkFree(ctx, f.DownloadLink, 0); err != nil {
		return nil, err
	}

	rec, err := c.store.InsertMedia(ctx, f)
	if err != nil {
		return nil, err
	}
	c.logger.Info("Media registered", "media_id", rec.MediaID, "species_id", rec.SpeciesID)
	return &MediaMutation{Media: rec, MutationResult: c.recordBestEffort(ctx, MetricsOpMedia, EntityMedia, rec.MediaID, OpCreate)}, nil
}

// UpdateMedia applies patch to an existing media record.
func (c *Coordinator) UpdateMedia(ctx context.Context, id int64, patch MediaPatch) (*MediaMutation, error) {
	if patch.empty() {
		return nil, &ValidationError{Message: "no fields given to update"}
	}
	cur, err := c.store.GetMedia(ctx, id)
	if err != nil {
		return nil, err
	}

	f := MediaFields{
		SpeciesID:     cur.SpeciesID,
		SpeciesName:   cur.SpeciesName,
		MediaType:     cur.MediaType,
		DownloadLink:  cur.DownloadLink,
		StreamingLink: cur.StreamingLink,
		AltText:       cur.AltText,
	}
	if patch.MediaType != nil {
		f.MediaType = strings.TrimSpace(*patch.MediaType)
	}
	if patch.DownloadLink != nil {
		f.DownloadLink = strings.TrimSpace(*patch.DownloadLink)
		f.StreamingLink = f.DownloadLink
	}
	if patch.AltText != nil {
		f.AltText = *patch.AltText
	}
	if patch.SpeciesName != nil {
		f.SpeciesName = strings.TrimSpace(*patch.SpeciesName)
	}
	if err := validateMedia(f); err != nil {
		return nil, err
	}
	if patch.SpeciesName != nil {
		speciesID, err := c.resolveSpecies(ctx, f.SpeciesName)
		if err != nil {
			return nil, err
		}
		f.SpeciesID = speciesID
	}
	if f.DownloadLink != cur.DownloadLink {
		if err := c.checkLinkFree(ctx, f.DownloadLink, id); err != nil {
			return nil, err
		}
	}

	rec, err := c.store.UpdateMedia(ctx, id, f)
	if err != nil {
		return nil, err
	}
	return &MediaMutation{Media: rec, MutationResult: c.recordBestEffort(ctx, MetricsOpMedia, EntityMedia, id, OpUpdate)}, nil
}

// DeleteMedia removes a media record. The media file itself is not touched.
func (c *Coordinator) DeleteMedia(ctx context.Context, id int64) (*MediaMutation, error) {
	cur, err := c.store.GetMedia(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.store.DeleteMedia(ctx, id); err != nil {
		return nil, err
	}
	c.logger.Info("Media deleted", "media_id", id, "species_id", cur.SpeciesID)
	return &MediaMutation{Media: cur, MutationResult: c.recordBestEffort(ctx, MetricsOpMedia, EntityMedia, id, OpDelete)}, nil
}
