// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

package speciesync

import (
	"strconv"
	"time"
)

// ChangelogEntry is one row of the append-only changelog
type ChangelogEntry struct {
	ID         int64     `db:"id" json:"id"`
	EntityType string    `db:"entity_type" json:"entity_type"`
	EntityID   *int64    `db:"entity_id" json:"entity_id"`
	Operation  Operation `db:"operation" json:"operation"`
	Version    int64     `db:"version" json:"version"`
	Detail     string    `db:"detail" json:"detail,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// SpeciesFields holds the descriptive attributes of a species in one language.
type SpeciesFields struct {
	ScientificName          string `db:"scientific_name" json:"scientific_name"`
	CommonName              string `db:"common_name" json:"common_name"`
	Etymology               string `db:"etymology" json:"etymology"`
	Habitat                 string `db:"habitat" json:"habitat"`
	IdentificationCharacter string `db:"identification_character" json:"identification_character"`
	LeafType                string `db:"leaf_type" json:"leaf_type"`
	FruitType               string `db:"fruit_type" json:"fruit_type"`
	Phenology               string `db:"phenology" json:"phenology"`
	SeedGermination         string `db:"seed_germination" json:"seed_germination"`
	Pest                    string `db:"pest" json:"pest"`
}

// SpeciesColumns lists the species attribute columns in storage order
var SpeciesColumns = []string{
	"scientific_name",
	"common_name",
	"etymology",
	"habitat",
	"identification_character",
	"leaf_type",
	"fruit_type",
	"phenology",
	"seed_germination",
	"pest",
}

// Values returns the field values in SpeciesColumns order
func (f SpeciesFields) Values() []string {
	return []string{
		f.ScientificName,
		f.CommonName,
		f.Etymology,
		f.Habitat,
		f.IdentificationCharacter,
		f.LeafType,
		f.FruitType,
		f.Phenology,
		f.SeedGermination,
		f.Pest,
	}
}

// SpeciesFieldsFromMap builds SpeciesFields from a column-keyed map, ignoring
// unknown keys. Keys are expected to be normalized column names.
func SpeciesFieldsFromMap(m map[string]string) SpeciesFields {
	return SpeciesFields{
		ScientificName:          m["scientific_name"],
		CommonName:              m["common_name"],
		Etymology:               m["etymology"],
		Habitat:                 m["habitat"],
		IdentificationCharacter: m["identification_character"],
		LeafType:                m["leaf_type"],
		FruitType:               m["fruit_type"],
		Phenology:               m["phenology"],
		SeedGermination:         m["seed_germination"],
		Pest:                    m["pest"],
	}
}

// SpeciesRecord is a stored species row. English and Tetum rows for the same
// species share SpeciesID.
type SpeciesRecord struct {
	SpeciesID int64 `db:"species_id" json:"species_id"`
	SpeciesFields
}

// MediaRecord is a pointer to an externally hosted media file for a species.
type MediaRecord struct {
	MediaID       int64  `db:"media_id" json:"media_id"`
	SpeciesID     int64  `db:"species_id" json:"species_id"`
	SpeciesName   string `db:"species_name" json:"species_name"`
	MediaType     string `db:"media_type" json:"media_type"`
	DownloadLink  string `db:"download_link" json:"download_link"`
	StreamingLink string `db:"streaming_link" json:"streaming_link"`
	AltText       string `db:"alt_text" json:"alt_text"`
}

// UserRecord is a dashboard account
type UserRecord struct {
	UserID       int64     `db:"user_id" json:"user_id"`
	Name         string    `db:"name" json:"name"`
	Role         string    `db:"role" json:"role"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// LoginRecord is one dashboard session. DurationSeconds stays nil until the
// user logs out.
type LoginRecord struct {
	LoginID         int64     `db:"login_id" json:"login_id"`
	UserID          int64     `db:"user_id" json:"user_id"`
	LoginTime       time.Time `db:"login_time" json:"login_time"`
	DurationSeconds *float64  `db:"duration_seconds" json:"duration_seconds"`
}

// MediaFields is the mutable part of a media record. SpeciesID is resolved by
// the coordinator from SpeciesName.
type MediaFields struct {
	SpeciesID     int64
	SpeciesName   string
	MediaType     string
	DownloadLink  string
	StreamingLink string
	AltText       string
}

// UserFields is the mutable part of a user record.
type UserFields struct {
	Name         string
	Role         string
	IsActive     bool
	PasswordHash string
}

// EntityRef identifies one changed entity
type EntityRef struct {
	EntityType string `json:"entity_type"`
	EntityID   int64  `json:"entity_id"`
}

func (r EntityRef) String() string {
	return r.EntityType + ":" + strconv.FormatInt(r.EntityID, 10)
}
