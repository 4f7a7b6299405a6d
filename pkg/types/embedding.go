package types

import "time"

// EmbeddingRow is one entry of the content-addressed embedding cache.
// The primary key is the SHA-256 hex digest of the content, so identical
// texts share a single row regardless of provider non-determinism.
type EmbeddingRow struct {
	ContentHash string                 `json:"content_hash"`
	Content     string                 `json:"content"`
	Embedding   []float32              `json:"-"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// SimilarResult is one hit from a semantic search over the embedding cache.
type SimilarResult struct {
	ID         string                 `json:"id"` // content hash
	Content    string                 `json:"content"`
	Similarity float64                `json:"similarity"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}
