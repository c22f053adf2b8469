// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

package speciesync

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRollbackFailed marks a multi-step mutation whose compensation did not
	// complete. The affected tables may be inconsistent.
	ErrRollbackFailed = errors.New("rollback failed; tables may be inconsistent")
	// ErrServiceClosed is returned by operations on a closed service
	ErrServiceClosed = errors.New("sync service has been closed")
	// ErrInvalidCredentials is returned by Login for unknown names, wrong
	// passwords and inactive accounts alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ValidationError reports missing or malformed input fields. Nothing has been
// written when it is returned.
type ValidationError struct {
	Fields  []string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// NotFoundError reports a referenced entity that does not exist
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.Key)
}

// ConflictError reports a uniqueness violation such as a duplicate media link
type ConflictError struct {
	Entity string
	Key    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already registered", e.Entity, e.Key)
}

// MutationError reports a multi-step mutation that failed part way.
// RolledBack is true when every applied step was undone; otherwise Err wraps
// ErrRollbackFailed and CompensationErrs lists what could not be undone.
type MutationError struct {
	Op               string
	Step             string
	Err              error
	RolledBack       bool
	CompensationErrs []error
}

func (e *MutationError) Error() string {
	if e.RolledBack {
		return fmt.Sprintf("%s failed at %s and was rolled back: %v", e.Op, e.Step, e.Err)
	}
	msgs := make([]string, 0, len(e.CompensationErrs))
	for _, ce := range e.CompensationErrs {
		msgs = append(msgs, ce.Error())
	}
	return fmt.Sprintf("%s failed at %s (%v); %v: %s", e.Op, e.Step, e.Err, ErrRollbackFailed, strings.Join(msgs, "; "))
}

func (e *MutationError) Unwrap() []error {
	if e.RolledBack {
		return []error{e.Err}
	}
	return []error{e.Err, ErrRollbackFailed}
}

func newRollbackFailure(op, step string, cause error, compErrs []error) *MutationError {
	return &MutationError{Op: op, Step: step, Err: cause, CompensationErrs: compErrs}
}

func newRolledBack(op, step string, cause error) *MutationError {
	return &MutationError{Op: op, Step: step, Err: cause, RolledBack: true}
}

// stepError tags an error with the coordinator step that produced it, so the
// atomic path can report where a transaction failed.
type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string { return e.step + ": " + e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

func atStep(step string, err error) error {
	if err == nil {
		return nil
	}
	return &stepError{step: step, err: err}
}

// splitStep returns the step recorded by atStep and the underlying error
func splitStep(err error) (string, error) {
	var se *stepError
	if errors.As(err, &se) {
		return se.step, se.err
	}
	return "unknown", err
}

// isClientError reports errors caused by the request rather than storage
func isClientError(err error) bool {
	var ve *ValidationError
	var nf *NotFoundError
	var ce *ConflictError
	return errors.As(err, &ve) || errors.As(err, &nf) || errors.As(err, &ce)
}
