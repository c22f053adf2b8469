// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

package speciesync

// REST/JSON models for HTTP API requests and responses

// ChangesResponse answers GET /api/species/changes. RowCount is set for
// incremental plans and ChangeCount when a bundle is forced, matching what
// existing clients read.
type ChangesResponse struct {
	UpToDate      bool   `json:"up_to_date"`
	ForceBundle   bool   `json:"force_bundle"`
	LatestVersion int64  `json:"latest_version"`
	RowCount      *int   `json:"row_count,omitempty"`
	ChangeCount   *int   `json:"change_count,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// Tombstone reports an entity that changed since the client's version and no
// longer exists
type Tombstone struct {
	EntityType string `json:"entity_type"`
	EntityID   int64  `json:"entity_id"`
	Version    int64  `json:"version"`
}

// IncrementalResponse carries the current full rows of every changed entity
type IncrementalResponse struct {
	LatestVersion int64           `json:"latest_version"`
	SpeciesEN     []SpeciesRecord `json:"species_en"`
	SpeciesTET    []SpeciesRecord `json:"species_tet"`
	Media         []MediaRecord   `json:"media"`
	Deleted       []Tombstone     `json:"deleted"`
	ForceBundle   bool            `json:"force_bundle"`
}

// BundleResponse is the full dataset for a fresh or resetting client
type BundleResponse struct {
	Version    int64           `json:"version"`
	SpeciesEN  []SpeciesRecord `json:"species_en"`
	SpeciesTET []SpeciesRecord `json:"species_tet"`
	Media      []MediaRecord   `json:"media"`
}

// ErrorResponse is the JSON error envelope
type ErrorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
	Entity  string   `json:"entity,omitempty"`
}

// StatusResponse is a plain status acknowledgement
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	// Version is the changelog version of the mutation, absent when the
	// changelog write failed
	Version *int64 `json:"version,omitempty"`
	ID      int64  `json:"id,omitempty"`
}

// UploadSpeciesResponse answers POST /upload-species
type UploadSpeciesResponse struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	RowsInserted int    `json:"rows_inserted"`
	Version      int64  `json:"version"`
}

// LoginRequest is the body of POST /api/auth/login
type LoginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// LoginResponse carries the issued bearer token
type LoginResponse struct {
	Token     string      `json:"token"`
	ExpiresIn int64       `json:"expires_in"`
	User      *UserRecord `json:"user"`
}

// TranslateRequest is the body of POST /translate
type TranslateRequest struct {
	Text []string `json:"text"`
}

// ChangelogListResponse answers GET /api/changelog
type ChangelogListResponse struct {
	Entries       []ChangelogEntry `json:"entries"`
	LatestVersion int64            `json:"latest_version"`
}

// speciesPairFromJSON reads the flat twenty-field species body. English fields
// use the bare column name and Tetum fields carry the _tetum suffix. Values
// that are not strings are treated as absent.
func speciesPairFromJSON(body map[string]any) SpeciesPair {
	en := make(map[string]string, len(SpeciesColumns))
	tet := make(map[string]string, len(SpeciesColumns))
	for _, col := range SpeciesColumns {
		if v, ok := body[col].(string); ok {
			en[col] = v
		}
		if v, ok := body[col+tetumSuffix].(string); ok {
			tet[col] = v
		}
	}
	return SpeciesPair{EN: SpeciesFieldsFromMap(en), TET: SpeciesFieldsFromMap(tet)}
}
