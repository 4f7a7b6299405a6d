package types

import "time"

// Relation is a directed edge between two episodes. Multiple edges of
// different types between the same pair are allowed; (source, target, type)
// is the uniqueness key. Self-loops are allowed, and endpoints are not
// required to exist so that bulk ingestion tolerates out-of-order inserts.
type Relation struct {
	SourceID     string    `json:"source_id"`
	TargetID     string    `json:"target_id"`
	RelationType string    `json:"relation_type"`
	Strength     float64   `json:"strength"` // clamped to [0, 1]
	CreatedAt    time.Time `json:"created_at"`
}

// DanglingRelation is a relation edge whose source or target episode row is
// missing. Reported by the periodic integrity check.
type DanglingRelation struct {
	Relation      Relation `json:"relation"`
	MissingSource bool     `json:"missing_source"`
	MissingTarget bool     `json:"missing_target"`
}

// IntegrityReport summarises store-level consistency findings.
type IntegrityReport struct {
	CheckedAt        time.Time          `json:"checked_at"`
	Episodes         int                `json:"episodes"`
	Relations        int                `json:"relations"`
	DanglingEdges    []DanglingRelation `json:"dangling_edges,omitempty"`
	OrphanedVersions int                `json:"orphaned_versions"`
}
