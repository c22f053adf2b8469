// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

package speciesync

import (
	"strings"
)

// requiredSpeciesColumns must be non-blank in both languages
var requiredSpeciesColumns = []string{"scientific_name", "common_name", "leaf_type", "fruit_type"}

// tetumSuffix marks Tetum field names in request bodies and error reports
const tetumSuffix = "_tetum"

func normalizeSpecies(f SpeciesFields) SpeciesFields {
	vals := f.Values()
	m := make(map[string]string, len(vals))
	for i, v := range vals {
		m[SpeciesColumns[i]] = strings.TrimSpace(v)
	}
	return SpeciesFieldsFromMap(m)
}

func missingSpeciesFields(f SpeciesFields, suffix string) []string {
	vals := f.Values()
	byName := make(map[string]string, len(vals))
	for i, v := range vals {
		byName[SpeciesColumns[i]] = v
	}
	var missing []string
	for _, col := range requiredSpeciesColumns {
		if strings.TrimSpace(byName[col]) == "" {
			missing = append(missing, col+suffix)
		}
	}
	return missing
}

// validateSpeciesPair checks both language variants and reports every missing
// field at once.
func validateSpeciesPair(en, tet SpeciesFields) error {
	missing := missingSpeciesFields(en, "")
	missing = append(missing, missingSpeciesFields(tet, tetumSuffix)...)
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	return nil
}

func validateMedia(f MediaFields) error {
	var missing []string
	if strings.TrimSpace(f.SpeciesName) == "" {
		missing = append(missing, "species_name")
	}
	if strings.TrimSpace(f.MediaType) == "" {
		missing = append(missing, "media_type")
	}
	if strings.TrimSpace(f.DownloadLink) == "" {
		missing = append(missing, "download_link")
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	return nil
}

func isKnownRole(role string) bool {
	switch role {
	case RoleAdmin, RoleEditor, RoleViewer:
		return true
	}
	return false
}

func validateNewUser(name, role, password string) error {
	var missing []string
	if strings.TrimSpace(name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(role) == "" {
		missing = append(missing, "role")
	}
	if password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	if !isKnownRole(role) {
		return &ValidationError{Fields: []string{"role"}, Message: "unknown role: " + role}
	}
	return nil
}
