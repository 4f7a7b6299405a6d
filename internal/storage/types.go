// Package storage provides composable storage interfaces for the engram
// memory system.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed, which keeps the sqlite
// backend swappable and the service facade testable.
package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates that the referenced episode or webhook does not
	// exist or is soft-deleted.
	ErrNotFound = errors.New("resource not found")

	// ErrValidation indicates malformed input: empty name, unknown filter
	// field, bad operator.
	ErrValidation = errors.New("invalid input")

	// ErrConflict indicates an episode ID collision that survived the retry
	// budget. Statistically this should never happen.
	ErrConflict = errors.New("id conflict")

	// ErrDimensionMismatch indicates an embedding of the wrong length was
	// offered to the embedding cache.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrBadQuery indicates the search operator or filter grammar was violated.
	ErrBadQuery = errors.New("bad search query")

	// ErrStore indicates the underlying engine refused a write
	// (disk full, corruption).
	ErrStore = errors.New("store error")

	// ErrRemoteUnavailable indicates a transient remote libSQL failure. It is
	// never surfaced from the write path; the replicator records and retries.
	ErrRemoteUnavailable = errors.New("remote unavailable")

	// ErrProvider indicates the embedding provider failed. The fast-path
	// episodic embedding falls back to a hash-derived vector where allowed.
	ErrProvider = errors.New("embedding provider error")
)

// PaginatedResult is a typed page of results.
type PaginatedResult[T any] struct {
	Items    []T  `json:"items"`
	Total    int  `json:"total"`
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasMore  bool `json:"has_more"`
}

// ListOptions provides pagination and filtering for episode listings. The
// same filter grammar composes with every search mode.
type ListOptions struct {
	// Page is 1-indexed; Limit defaults to 10 and is capped at 100.
	Page  int
	Limit int

	// SortBy is whitelist-validated by Normalize to prevent SQL injection.
	SortBy    string
	SortOrder string

	// Category filters by exact category match.
	Category string

	// Tags filters to episodes carrying any of the given tags.
	Tags []string

	// CreatedAfter / CreatedBefore bound created_at. Zero means unbounded.
	CreatedAfter  time.Time
	CreatedBefore time.Time

	// MinPriority filters to episodes with priority >= the given value.
	// Nil means no priority filter.
	MinPriority *int

	// Synced filters by replication state when non-nil.
	Synced *bool

	// IncludeDeleted includes tombstoned episodes. Default listings and
	// searches never return them.
	IncludeDeleted bool

	// OnlyDeleted restricts results to tombstoned episodes.
	OnlyDeleted bool
}

// Normalize applies defaults and validates the ListOptions. Must be called
// before the options reach SQL construction.
func (o *ListOptions) Normalize() {
	allowedSortFields := map[string]bool{
		"created_at": true,
		"updated_at": true,
		"id":         true,
		"name":       true,
		"priority":   true,
		"version":    true,
	}

	if !allowedSortFields[o.SortBy] {
		o.SortBy = "created_at"
	}

	if o.SortOrder != "asc" && o.SortOrder != "desc" {
		o.SortOrder = "desc"
	}

	if o.Page < 1 {
		o.Page = 1
	}

	if o.Limit < 1 {
		o.Limit = 10
	}

	if o.Limit > 100 {
		o.Limit = 100
	}
}

// Offset converts Page/Limit into a SQL offset.
func (o *ListOptions) Offset() int {
	return (o.Page - 1) * o.Limit
}
