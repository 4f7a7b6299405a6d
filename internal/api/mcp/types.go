// Package mcp implements the Model Context Protocol server for engram.
// It exposes the service facade as JSON-RPC 2.0 tools over stdio.
package mcp

import (
	"encoding/json"
	"strings"
)

// AddEpisodeArgs contains arguments for the add_episode tool.
type AddEpisodeArgs struct {
	Name         string                 `json:"name"`                // Episode name (required)
	Content      string                 `json:"content"`             // Episode body
	Metadata     map[string]interface{} `json:"metadata,omitempty"`  // Arbitrary metadata
	Category     string                 `json:"category,omitempty"`  // Category label
	Tags         []string               `json:"tags,omitempty"`      // User-defined tags
	Priority     int                    `json:"priority,omitempty"`  // Filter-only priority
	RelatedTo    []string               `json:"related_to,omitempty"` // Episode ids to link
	SyncToRemote *bool                  `json:"sync_to_remote,omitempty"` // Default true
}

// UnmarshalJSON handles the case where some MCP clients send array fields
// like "tags" as a JSON-encoded string ("[\"a\",\"b\"]") rather than a
// proper JSON array. Both forms are accepted.
func (a *AddEpisodeArgs) UnmarshalJSON(data []byte) error {
	type Alias AddEpisodeArgs
	aux := &struct {
		Tags      json.RawMessage `json:"tags,omitempty"`
		RelatedTo json.RawMessage `json:"related_to,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	a.Tags = flexibleStringList(aux.Tags)
	a.RelatedTo = flexibleStringList(aux.RelatedTo)
	return nil
}

// flexibleStringList decodes a JSON array of strings, a JSON-encoded string
// containing an array, or a comma-separated string. Unrecognised input is
// dropped rather than failing the whole request.
func flexibleStringList(raw json.RawMessage) []string {
	if raw == nil {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		_ = json.Unmarshal([]byte(s), &list)
		return list
	}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			list = append(list, part)
		}
	}
	return list
}

// UpdateEpisodeArgs contains arguments for the update_episode tool. Nil
// fields are left untouched; tags, when present, replace the full tag set.
type UpdateEpisodeArgs struct {
	ID       string                 `json:"id"`
	Name     *string                `json:"name,omitempty"`
	Content  *string                `json:"content,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Category *string                `json:"category,omitempty"`
	Priority *int                   `json:"priority,omitempty"`
	Tags     []string               `json:"tags,omitempty"`
}

// EpisodeIDArgs covers the tools addressing one episode by id.
type EpisodeIDArgs struct {
	ID string `json:"id"`
}

// ListEpisodesArgs contains the list_episodes filters and paging.
type ListEpisodesArgs struct {
	Page           int      `json:"page,omitempty"`
	Limit          int      `json:"limit,omitempty"`
	SortBy         string   `json:"sort_by,omitempty"`
	SortOrder      string   `json:"sort_order,omitempty"`
	Category       string   `json:"category,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	CreatedAfter   string   `json:"created_after,omitempty"`  // RFC-3339
	CreatedBefore  string   `json:"created_before,omitempty"` // RFC-3339
	MinPriority    *int     `json:"min_priority,omitempty"`
	IncludeDeleted bool     `json:"include_deleted,omitempty"`
	OnlyDeleted    bool     `json:"only_deleted,omitempty"`
}

// GetEpisodeArgs contains arguments for the get_episode tool.
type GetEpisodeArgs struct {
	ID              string `json:"id"`
	IncludeVersions bool   `json:"include_versions,omitempty"`
}

// SearchKnowledgeArgs contains arguments for the search_knowledge tool.
type SearchKnowledgeArgs struct {
	Query    string `json:"query"`
	Limit    int    `json:"limit,omitempty"`
	Mode     string `json:"mode,omitempty"`     // keyword, semantic, hybrid (default)
	Operator string `json:"operator,omitempty"` // and, or, not; overrides inline operators

	// The list_episodes filter grammar composes with every mode.
	Category      string   `json:"category,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	CreatedAfter  string   `json:"created_after,omitempty"`
	CreatedBefore string   `json:"created_before,omitempty"`
	MinPriority   *int     `json:"min_priority,omitempty"`
}

// SearchSimilarArgs contains arguments for the search_similar tool, which
// queries the provider-backed embedding cache rather than the episode rows.
type SearchSimilarArgs struct {
	Query     string  `json:"query"`
	Limit     int     `json:"limit,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}

// AddRelationArgs contains arguments for the add_relation tool.
type AddRelationArgs struct {
	SourceID     string  `json:"source_id"`
	TargetID     string  `json:"target_id"`
	RelationType string  `json:"relation_type"`
	Strength     float64 `json:"strength,omitempty"`
}

// RegisterWebhookArgs contains arguments for the register_webhook tool.
type RegisterWebhookArgs struct {
	URL       string `json:"url"`
	EventType string `json:"event_type,omitempty"` // event name or "*" (default)
}

// RemoveWebhookArgs contains arguments for the remove_webhook tool.
type RemoveWebhookArgs struct {
	ID string `json:"id"`
}

// GetLogsArgs contains arguments for the get_logs tool.
type GetLogsArgs struct {
	Limit int `json:"limit,omitempty"`
}

// BackupDatabaseArgs contains arguments for the backup_database tool.
type BackupDatabaseArgs struct {
	Path string `json:"path,omitempty"` // empty picks a timestamped file
}

// RestoreDatabaseArgs contains arguments for the restore_database tool.
type RestoreDatabaseArgs struct {
	Path string `json:"path"`
}

// OpResult is the structured envelope for operations without a richer
// payload. Failures fill ErrorKind and Message with Success=false.
type OpResult struct {
	Success   bool   `json:"success"`
	ErrorKind string `json:"error_kind,omitempty"`
	Message   string `json:"message,omitempty"`
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"` // Must be "2.0"
	Method  string      `json:"method"`  // Method name
	Params  interface{} `json:"params"`  // Method parameters
	ID      interface{} `json:"id"`      // Request ID (string, number, or null)
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`          // Must be "2.0"
	Result  interface{}   `json:"result,omitempty"` // Result (if successful)
	Error   *JSONRPCError `json:"error,omitempty"`  // Error (if failed)
	ID      interface{}   `json:"id"`               // Request ID
}

// JSONRPCError represents a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int         `json:"code"`           // Error code
	Message string      `json:"message"`        // Error message
	Data    interface{} `json:"data,omitempty"` // Additional error data
}

// JSON-RPC error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal JSON-RPC error
	ErrCodeServerError    = -32000 // Server error
)

// ---------------------------------------------------------------------------
// Standard MCP protocol types (initialize / tools/list / tools/call)
// ---------------------------------------------------------------------------

// MCPInitializeParams holds the parameters sent by an MCP client in the
// initialize request.
type MCPInitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities,omitempty"`
	ClientInfo      MCPClientInfo          `json:"clientInfo"`
}

// MCPClientInfo identifies the connecting MCP client.
type MCPClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerInfo identifies this MCP server.
type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerCapabilities describes what this server supports.
type MCPServerCapabilities struct {
	Tools *MCPToolsCapability `json:"tools,omitempty"`
}

// MCPToolsCapability signals that the server exposes tools.
type MCPToolsCapability struct{}

// MCPInitializeResult is the response to the initialize request.
type MCPInitializeResult struct {
	ProtocolVersion string                `json:"protocolVersion"`
	Capabilities    MCPServerCapabilities `json:"capabilities"`
	ServerInfo      MCPServerInfo         `json:"serverInfo"`
}

// MCPTool describes a single tool exposed via the MCP tools/list endpoint.
type MCPTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// MCPToolsListResult is the response to the tools/list request.
type MCPToolsListResult struct {
	Tools []MCPTool `json:"tools"`
}

// MCPToolCallParams holds the parameters sent in a tools/call request.
type MCPToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// MCPToolCallContent is a single content block in a tool call response.
type MCPToolCallContent struct {
	Type string `json:"type"` // always "text" for now
	Text string `json:"text"`
}

// MCPToolCallResult is the response to a tools/call request.
type MCPToolCallResult struct {
	Content []MCPToolCallContent `json:"content"`
	IsError bool                 `json:"isError,omitempty"`
}
