// Geoboard - Real-Time Collaborative Map Annotation
// Copyright 2026 Geoboard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geoboard/geoboard

package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across storage and dispatch layers.
var (
	// ErrNotFound indicates the referenced map, feature, comment, or reply
	// does not exist. Not retryable.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates an author mismatch on a mutation. Not retryable.
	ErrUnauthorized = errors.New("unauthorized")
)

// VersionConflictError is returned when an optimistic-concurrency check fails.
// It carries the current stored version so the caller can re-fetch and decide
// whether to retry; the server never retries on the caller's behalf.
type VersionConflictError struct {
	ExpectedVersion int64
	CurrentVersion  int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict: expected %d, current %d", e.ExpectedVersion, e.CurrentVersion)
}

// IsVersionConflict reports whether err is a version conflict and returns the
// current version when it is.
func IsVersionConflict(err error) (int64, bool) {
	var vc *VersionConflictError
	if errors.As(err, &vc) {
		return vc.CurrentVersion, true
	}
	return 0, false
}

// ValidationError is returned for malformed payloads rejected before touching
// storage or room state.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError constructs a field-scoped validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
