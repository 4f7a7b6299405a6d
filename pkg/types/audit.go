package types

import "time"

// AuditEntry is one line of the append-only JSON operation log.
type AuditEntry struct {
	Timestamp time.Time   `json:"timestamp"`
	Operation string      `json:"operation"`
	Details   interface{} `json:"details,omitempty"`
}

// SearchLogEntry records an executed search for informational statistics.
type SearchLogEntry struct {
	Query        string    `json:"query"`
	ResultsCount int       `json:"results_count"`
	Timestamp    time.Time `json:"timestamp"`
}

// Statistics summarises store contents and activity.
type Statistics struct {
	Episodes        int            `json:"episodes"`
	DeletedEpisodes int            `json:"deleted_episodes"`
	Versions        int            `json:"versions"`
	Tags            int            `json:"tags"`
	Relations       int            `json:"relations"`
	Webhooks        int            `json:"webhooks"`
	Searches        int            `json:"searches"`
	Synced          int            `json:"synced"`
	Unsynced        int            `json:"unsynced"`
	Categories      map[string]int `json:"categories,omitempty"`
	DatabaseBytes   int64          `json:"database_bytes"`
}
