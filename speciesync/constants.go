// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

package speciesync

// Operation is the kind of mutation recorded in a changelog entry
type Operation string

// Operation constants for changelog entries
const (
	OpCreate     Operation = "CREATE"
	OpUpdate     Operation = "UPDATE"
	OpDelete     Operation = "DELETE"
	OpBulkInsert Operation = "BULK_INSERT"
)

// Valid reports whether op is one of the known changelog operations
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete, OpBulkInsert:
		return true
	}
	return false
}

// Entity type constants used in changelog entries
const (
	EntitySpecies = "species"
	EntityMedia   = "media"
	EntityUsers   = "users"
)

// Language identifies one of the two species tables
type Language string

// Language constants
const (
	LangEnglish Language = "en"
	LangTetum   Language = "tet"
)

// Table returns the entity table holding rows of this language
func (l Language) Table() string {
	if l == LangTetum {
		return "species_tet"
	}
	return "species_en"
}

// DefaultChangeThreshold is the largest number of distinct changed entities the
// planner serves incrementally; anything above it forces a full bundle fetch.
const DefaultChangeThreshold = 20

// User roles
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// Error codes returned in the HTTP error envelope
const (
	CodeInvalidRequest     = "invalid_request"
	CodeNotFound           = "not_found"
	CodeAlreadyRegistered  = "already_registered"
	CodeMutationRolledBack = "mutation_rolled_back"
	CodeRollbackFailed     = "rollback_failed"
	CodeInternalError      = "internal_error"
	CodeAuthFailed         = "authentication_failed"
	CodeForbidden          = "forbidden"
)
