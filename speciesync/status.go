// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

package speciesync

// DecisionKind is the planner's verdict for a client
type DecisionKind string

const (
	DecisionUpToDate    DecisionKind = "up_to_date"
	DecisionIncremental DecisionKind = "incremental"
	DecisionForceBundle DecisionKind = "force_bundle"
)

// Reasons attached to a forced bundle
const (
	ReasonThreshold   = "threshold"
	ReasonBulkInsert  = "bulk_insert"
	ReasonClientAhead = "client_ahead"
)

// SyncDecision is the outcome of planning a sync from a client's version
type SyncDecision struct {
	Kind          DecisionKind
	SinceVersion  int64
	LatestVersion int64
	// ChangeCount is the number of distinct client-visible entities changed
	ChangeCount int
	// Changed holds those entities with the highest version that touched
	// each, sorted by type then id. Empty for a forced bundle.
	Changed []ChangedEntity
	Reason  string
}

// ChangedEntity is an entity touched since the client's version
type ChangedEntity struct {
	EntityRef
	Version int64
}

func decisionUpToDate(since, latest int64) *SyncDecision {
	return &SyncDecision{Kind: DecisionUpToDate, SinceVersion: since, LatestVersion: latest}
}

func decisionIncremental(since, latest int64, changed []ChangedEntity) *SyncDecision {
	return &SyncDecision{
		Kind:          DecisionIncremental,
		SinceVersion:  since,
		LatestVersion: latest,
		ChangeCount:   len(changed),
		Changed:       changed,
	}
}

func decisionForceBundle(since, latest int64, count int, reason string) *SyncDecision {
	return &SyncDecision{
		Kind:          DecisionForceBundle,
		SinceVersion:  since,
		LatestVersion: latest,
		ChangeCount:   count,
		Reason:        reason,
	}
}

// ChangesResponse renders the decision in the GET /api/species/changes shape
func (d *SyncDecision) ChangesResponse() *ChangesResponse {
	resp := &ChangesResponse{LatestVersion: d.LatestVersion}
	count := d.ChangeCount
	switch d.Kind {
	case DecisionUpToDate:
		resp.UpToDate = true
		resp.RowCount = &count
	case DecisionIncremental:
		resp.RowCount = &count
	case DecisionForceBundle:
		resp.ForceBundle = true
		resp.ChangeCount = &count
		resp.Reason = d.Reason
	}
	return resp
}
