package mcp

// buildToolsList returns the canonical list of MCP tool definitions. Every
// tool maps to exactly one service facade operation.
func buildToolsList() []MCPTool {
	str := func(desc string) map[string]interface{} {
		return map[string]interface{}{"type": "string", "description": desc}
	}
	integer := func(desc string) map[string]interface{} {
		return map[string]interface{}{"type": "integer", "description": desc}
	}
	number := func(desc string) map[string]interface{} {
		return map[string]interface{}{"type": "number", "description": desc}
	}
	boolean := func(desc string) map[string]interface{} {
		return map[string]interface{}{"type": "boolean", "description": desc}
	}
	strArray := func(desc string) map[string]interface{} {
		return map[string]interface{}{
			"type":        "array",
			"items":       map[string]interface{}{"type": "string"},
			"description": desc,
		}
	}
	object := func(required []string, props map[string]interface{}) map[string]interface{} {
		schema := map[string]interface{}{"type": "object", "properties": props}
		if len(required) > 0 {
			schema["required"] = required
		}
		return schema
	}

	filterProps := func() map[string]interface{} {
		return map[string]interface{}{
			"category":       str("Filter by exact category"),
			"tags":           strArray("Filter to episodes carrying any of these tags"),
			"created_after":  str("RFC-3339 lower bound for created_at"),
			"created_before": str("RFC-3339 upper bound for created_at"),
			"min_priority":   integer("Filter to episodes with priority >= this value"),
		}
	}

	listProps := filterProps()
	listProps["page"] = integer("1-indexed page (default 1)")
	listProps["limit"] = integer("Page size (default 10, max 100)")
	listProps["sort_by"] = str("Sort field: created_at, updated_at, id, name, priority, version")
	listProps["sort_order"] = str("asc or desc (default desc)")
	listProps["include_deleted"] = boolean("Include tombstoned episodes")
	listProps["only_deleted"] = boolean("Return only tombstoned episodes")

	searchProps := filterProps()
	searchProps["query"] = str("Search query. Supports one inline operator: 'A AND B', 'A OR B', 'NOT A'")
	searchProps["limit"] = integer("Max results (default 10)")
	searchProps["mode"] = str("Ranking mode: keyword, semantic, or hybrid (default)")
	searchProps["operator"] = str("Explicit operator (and/or/not) applied to the query terms; overrides inline operators")

	return []MCPTool{
		{
			Name:        "add_episode",
			Description: "Store a new episode. Returns the episode with its assigned id, version 1, and checksum. Optionally links it to existing episodes.",
			InputSchema: object([]string{"name"}, map[string]interface{}{
				"name":           str("Episode name (required)"),
				"content":        str("Episode body"),
				"metadata":       map[string]interface{}{"type": "object", "description": "Arbitrary key-value metadata"},
				"category":       str("Category label"),
				"tags":           strArray("Tags; duplicates are ignored"),
				"priority":       integer("Priority used by the min_priority filter; never affects ranking"),
				"related_to":     strArray("Episode ids to link with a related_to relation"),
				"sync_to_remote": boolean("Queue the episode for remote replication (default true)"),
			}),
		},
		{
			Name:        "update_episode",
			Description: "Patch an episode. Omitted fields stay unchanged; tags replace the full tag set. A patch that changes nothing is a no-op and does not bump the version.",
			InputSchema: object([]string{"id"}, map[string]interface{}{
				"id":       str("Episode id (required)"),
				"name":     str("New name"),
				"content":  str("New content"),
				"metadata": map[string]interface{}{"type": "object", "description": "Replacement metadata"},
				"category": str("New category"),
				"priority": integer("New priority"),
				"tags":     strArray("Replacement tag set"),
			}),
		},
		{
			Name:        "remove_episode",
			Description: "Soft-delete an episode. History, tags, and relations are retained; restore_episode undoes it.",
			InputSchema: object([]string{"id"}, map[string]interface{}{"id": str("Episode id")}),
		},
		{
			Name:        "restore_episode",
			Description: "Clear an episode's tombstone and make it visible again.",
			InputSchema: object([]string{"id"}, map[string]interface{}{"id": str("Episode id")}),
		},
		// purge_episode stays off the advertised list: it is irreversible
		// and meant for the CLI. Native dispatch still routes it.
		{
			Name:        "list_episodes",
			Description: "List episodes with pagination and filters, newest first by default. Tombstoned episodes are excluded unless requested.",
			InputSchema: object(nil, listProps),
		},
		{
			Name:        "get_episode",
			Description: "Fetch one episode with its relations, bumping its access counter. Optionally include the full version history.",
			InputSchema: object([]string{"id"}, map[string]interface{}{
				"id":               str("Episode id"),
				"include_versions": boolean("Attach the version history, oldest first"),
			}),
		},
		{
			Name:        "search_knowledge",
			Description: "Rank episodes for a query. Keyword matches substrings, semantic ranks by embedding similarity, hybrid (default) combines both. An empty query returns the most recent episodes.",
			InputSchema: object(nil, searchProps),
		},
		{
			Name:        "search_similar",
			Description: "Semantic search over the provider-backed embedding cache (separate from episode search). Returns cached contents ranked by cosine similarity.",
			InputSchema: object([]string{"query"}, map[string]interface{}{
				"query":     str("Text to embed and compare"),
				"limit":     integer("Max results (default 10)"),
				"threshold": number("Minimum similarity in [0,1] (default 0.7)"),
			}),
		},
		{
			Name:        "add_relation",
			Description: "Create or replace a typed directed edge between two episodes. Strength is clamped to [0,1].",
			InputSchema: object([]string{"source_id", "target_id", "relation_type"}, map[string]interface{}{
				"source_id":     str("Source episode id"),
				"target_id":     str("Target episode id"),
				"relation_type": str("Edge type, e.g. related_to, derived_from"),
				"strength":      number("Edge strength in [0,1] (default 1.0)"),
			}),
		},
		{
			Name:        "register_webhook",
			Description: "Register an HTTP endpoint that receives mutation events as JSON posts. Delivery is best-effort and never blocks operations.",
			InputSchema: object([]string{"url"}, map[string]interface{}{
				"url":        str("http(s) endpoint"),
				"event_type": str("Event name to subscribe to, or * for all (default)"),
			}),
		},
		{
			Name:        "list_webhooks",
			Description: "List registered webhooks.",
			InputSchema: object(nil, map[string]interface{}{}),
		},
		{
			Name:        "remove_webhook",
			Description: "Delete a webhook registration.",
			InputSchema: object([]string{"id"}, map[string]interface{}{"id": str("Webhook id")}),
		},
		{
			Name:        "sync_all_to_turso",
			Description: "Schedule every unsynced episode for remote replication. Returns the count scheduled, not delivered.",
			InputSchema: object(nil, map[string]interface{}{}),
		},
		{
			Name:        "get_turso_status",
			Description: "Report replication health: synced/unsynced counts, queue size, and last successful sync time.",
			InputSchema: object(nil, map[string]interface{}{}),
		},
		{
			Name:        "backup_database",
			Description: "Snapshot the database to a verified backup file. An empty path picks a timestamped file under the backup directory.",
			InputSchema: object(nil, map[string]interface{}{"path": str("Destination file path (optional)")}),
		},
		{
			Name:        "restore_database",
			Description: "Replace the live database with a verified backup file.",
			InputSchema: object([]string{"path"}, map[string]interface{}{"path": str("Backup file path")}),
		},
		{
			Name:        "list_backups",
			Description: "List stored backups, newest first.",
			InputSchema: object(nil, map[string]interface{}{}),
		},
		{
			Name:        "get_statistics",
			Description: "Summarise store contents: episode, version, tag, relation, and webhook counts, categories, and database size.",
			InputSchema: object(nil, map[string]interface{}{}),
		},
		{
			Name:        "get_logs",
			Description: "Return the most recent audit log entries.",
			InputSchema: object(nil, map[string]interface{}{"limit": integer("Max entries (default 50)")}),
		},
		{
			Name:        "clear_cache",
			Description: "Drop the search result cache and empty the embedding cache. Vectors are recomputed on demand.",
			InputSchema: object(nil, map[string]interface{}{}),
		},
		{
			Name:        "optimize_database",
			Description: "Run database maintenance: ANALYZE, VACUUM, and a WAL checkpoint.",
			InputSchema: object(nil, map[string]interface{}{}),
		},
		{
			Name:        "check_integrity",
			Description: "Report dangling relations and orphaned version rows.",
			InputSchema: object(nil, map[string]interface{}{}),
		},
		{
			Name:        "get_status",
			Description: "Report process and store health: version, uptime, database path, and replication state.",
			InputSchema: object(nil, map[string]interface{}{}),
		},
	}
}
