package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/engram-sh/engram/internal/search"
	"github.com/engram-sh/engram/internal/service"
	"github.com/engram-sh/engram/internal/storage"
	"github.com/engram-sh/engram/pkg/types"
)

// Server implements the Model Context Protocol for engram. Every tool maps
// to exactly one service facade operation.
type Server struct {
	svc       *service.Service
	log       *log.Logger
	sessionID string // unique ID generated once per MCP server lifetime
}

// ServerOption is a functional option for configuring a Server.
type ServerOption func(*Server)

// WithLogger overrides the default logger. The MCP transport requires all
// logging on stderr; the binaries pass a stderr logger here.
func WithLogger(logger *log.Logger) ServerOption {
	return func(s *Server) {
		s.log = logger
	}
}

// NewServer creates a new MCP server over the service facade.
func NewServer(svc *service.Service, opts ...ServerOption) *Server {
	s := &Server{
		svc:       svc,
		log:       log.Default(),
		sessionID: uuid.New().String(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log.Printf("session ID: %s", s.sessionID)
	return s
}

// HandleRequest processes a JSON-RPC 2.0 request and returns a response.
// This is the main entry point for MCP protocol handling.
func (s *Server) HandleRequest(ctx context.Context, requestJSON []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return s.errorResponse(nil, ErrCodeParseError, "Parse error", err.Error())
	}

	if req.JSONRPC != "2.0" {
		return s.errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid JSON-RPC version", nil)
	}

	var result interface{}
	var err error

	switch req.Method {
	// Standard MCP protocol methods
	case "initialize":
		result, err = s.handleInitialize(ctx, req.Params)
	case "initialized", "notifications/initialized":
		// Notification; return empty object.
		result = map[string]interface{}{}
	case "tools/list":
		result, err = s.handleToolsList(ctx, req.Params)
	case "tools/call":
		result, err = s.handleToolsCall(ctx, req.Params)

	default:
		// Native JSON-RPC method names mirror the tool names for direct
		// callers that skip the MCP envelope.
		var known bool
		result, err, known = s.dispatchTool(ctx, req.Method, req.Params)
		if !known {
			return s.errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
		}
	}

	if err != nil {
		return s.errorResponse(req.ID, ErrCodeServerError, err.Error(), map[string]interface{}{
			"error_kind": service.ErrorKind(err),
		})
	}
	return s.successResponse(req.ID, result)
}

// handleInitialize handles the MCP initialize handshake.
func (s *Server) handleInitialize(ctx context.Context, params interface{}) (interface{}, error) {
	return MCPInitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities: MCPServerCapabilities{
			Tools: &MCPToolsCapability{},
		},
		ServerInfo: MCPServerInfo{
			Name:    "engram",
			Version: service.Version,
		},
	}, nil
}

// handleToolsList returns the list of all tools this server exposes.
func (s *Server) handleToolsList(ctx context.Context, params interface{}) (interface{}, error) {
	return MCPToolsListResult{Tools: buildToolsList()}, nil
}

// handleToolsCall dispatches a tools/call request and wraps the result in
// the MCP content envelope.
func (s *Server) handleToolsCall(ctx context.Context, params interface{}) (interface{}, error) {
	var p MCPToolCallParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	result, err, known := s.dispatchTool(ctx, p.Name, p.Arguments)
	if !known {
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: fmt.Sprintf("unknown tool: %s", p.Name)}},
			IsError: true,
		}, nil
	}
	if err != nil {
		failure, mErr := json.Marshal(OpResult{
			Success:   false,
			ErrorKind: service.ErrorKind(err),
			Message:   err.Error(),
		})
		if mErr != nil {
			return nil, mErr
		}
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: string(failure)}},
			IsError: true,
		}, nil
	}

	text, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &MCPToolCallResult{
		Content: []MCPToolCallContent{{Type: "text", Text: string(text)}},
	}, nil
}

// dispatchTool routes a tool name to its handler. known=false means the
// name does not map to any tool.
func (s *Server) dispatchTool(ctx context.Context, name string, params interface{}) (result interface{}, err error, known bool) {
	known = true
	switch name {
	case "add_episode":
		result, err = s.handleAddEpisode(ctx, params)
	case "update_episode":
		result, err = s.handleUpdateEpisode(ctx, params)
	case "remove_episode":
		result, err = s.handleRemoveEpisode(ctx, params)
	case "restore_episode":
		result, err = s.handleRestoreEpisode(ctx, params)
	case "purge_episode":
		result, err = s.handlePurgeEpisode(ctx, params)
	case "list_episodes":
		result, err = s.handleListEpisodes(ctx, params)
	case "get_episode":
		result, err = s.handleGetEpisode(ctx, params)
	case "search_knowledge":
		result, err = s.handleSearchKnowledge(ctx, params)
	case "search_similar":
		result, err = s.handleSearchSimilar(ctx, params)
	case "add_relation":
		result, err = s.handleAddRelation(ctx, params)
	case "register_webhook":
		result, err = s.handleRegisterWebhook(ctx, params)
	case "list_webhooks":
		result, err = s.svc.ListWebhooks(ctx)
	case "remove_webhook":
		result, err = s.handleRemoveWebhook(ctx, params)
	case "sync_all_to_turso":
		result, err = s.handleSyncAll(ctx)
	case "get_turso_status":
		result, err = s.svc.TursoStatus(ctx)
	case "backup_database":
		result, err = s.handleBackupDatabase(ctx, params)
	case "restore_database":
		result, err = s.handleRestoreDatabase(ctx, params)
	case "list_backups":
		result, err = s.svc.ListBackups()
	case "get_statistics":
		result, err = s.svc.GetStatistics(ctx)
	case "get_logs":
		result, err = s.handleGetLogs(ctx, params)
	case "clear_cache":
		result, err = s.svc.ClearCache(ctx)
	case "optimize_database":
		result, err = s.handleOptimize(ctx)
	case "check_integrity":
		result, err = s.svc.CheckIntegrity(ctx)
	case "get_status":
		result, err = s.svc.GetStatus(ctx)
	default:
		known = false
	}
	return result, err, known
}

func (s *Server) handleAddEpisode(ctx context.Context, params interface{}) (interface{}, error) {
	var args AddEpisodeArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}

	syncToRemote := true
	if args.SyncToRemote != nil {
		syncToRemote = *args.SyncToRemote
	}
	return s.svc.AddEpisode(ctx, service.AddEpisodeRequest{
		Name:         args.Name,
		Content:      args.Content,
		Metadata:     args.Metadata,
		Category:     args.Category,
		Tags:         args.Tags,
		Priority:     args.Priority,
		RelatedTo:    args.RelatedTo,
		SyncToRemote: syncToRemote,
	})
}

func (s *Server) handleUpdateEpisode(ctx context.Context, params interface{}) (interface{}, error) {
	var args UpdateEpisodeArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if args.ID == "" {
		return nil, fmt.Errorf("%w: id is required", storage.ErrValidation)
	}
	return s.svc.UpdateEpisode(ctx, args.ID, types.EpisodePatch{
		Name:     args.Name,
		Content:  args.Content,
		Metadata: args.Metadata,
		Category: args.Category,
		Priority: args.Priority,
		Tags:     args.Tags,
	})
}

func (s *Server) handleRemoveEpisode(ctx context.Context, params interface{}) (interface{}, error) {
	var args EpisodeIDArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if err := s.svc.RemoveEpisode(ctx, args.ID); err != nil {
		return nil, err
	}
	return OpResult{Success: true, Message: "episode removed"}, nil
}

func (s *Server) handleRestoreEpisode(ctx context.Context, params interface{}) (interface{}, error) {
	var args EpisodeIDArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if err := s.svc.RestoreEpisode(ctx, args.ID); err != nil {
		return nil, err
	}
	return OpResult{Success: true, Message: "episode restored"}, nil
}

func (s *Server) handlePurgeEpisode(ctx context.Context, params interface{}) (interface{}, error) {
	var args EpisodeIDArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if err := s.svc.PurgeEpisode(ctx, args.ID); err != nil {
		return nil, err
	}
	return OpResult{Success: true, Message: "episode purged"}, nil
}

func (s *Server) handleListEpisodes(ctx context.Context, params interface{}) (interface{}, error) {
	var args ListEpisodesArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	opts, err := listOptionsFromArgs(args)
	if err != nil {
		return nil, err
	}
	return s.svc.ListEpisodes(ctx, opts)
}

func (s *Server) handleGetEpisode(ctx context.Context, params interface{}) (interface{}, error) {
	var args GetEpisodeArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.svc.GetEpisode(ctx, args.ID, args.IncludeVersions)
}

func (s *Server) handleSearchKnowledge(ctx context.Context, params interface{}) (interface{}, error) {
	var args SearchKnowledgeArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}

	filters, err := listOptionsFromArgs(ListEpisodesArgs{
		Category:      args.Category,
		Tags:          args.Tags,
		CreatedAfter:  args.CreatedAfter,
		CreatedBefore: args.CreatedBefore,
		MinPriority:   args.MinPriority,
	})
	if err != nil {
		return nil, err
	}
	return s.svc.SearchKnowledge(ctx, search.Request{
		Query:    args.Query,
		Limit:    args.Limit,
		Mode:     search.Mode(args.Mode),
		Operator: args.Operator,
		Filters:  filters,
	})
}

func (s *Server) handleSearchSimilar(ctx context.Context, params interface{}) (interface{}, error) {
	var args SearchSimilarArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.svc.SearchSimilar(ctx, args.Query, args.Limit, args.Threshold)
}

func (s *Server) handleAddRelation(ctx context.Context, params interface{}) (interface{}, error) {
	var args AddRelationArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	strength := args.Strength
	if strength == 0 {
		strength = 1.0
	}
	err := s.svc.AddRelation(ctx, types.Relation{
		SourceID:     args.SourceID,
		TargetID:     args.TargetID,
		RelationType: args.RelationType,
		Strength:     strength,
	})
	if err != nil {
		return nil, err
	}
	return OpResult{Success: true, Message: "relation added"}, nil
}

func (s *Server) handleRegisterWebhook(ctx context.Context, params interface{}) (interface{}, error) {
	var args RegisterWebhookArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.svc.RegisterWebhook(ctx, args.URL, args.EventType)
}

func (s *Server) handleRemoveWebhook(ctx context.Context, params interface{}) (interface{}, error) {
	var args RemoveWebhookArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if err := s.svc.RemoveWebhook(ctx, args.ID); err != nil {
		return nil, err
	}
	return OpResult{Success: true, Message: "webhook removed"}, nil
}

func (s *Server) handleSyncAll(ctx context.Context) (interface{}, error) {
	scheduled, err := s.svc.SyncAllToTurso(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": true, "scheduled": scheduled}, nil
}

func (s *Server) handleBackupDatabase(ctx context.Context, params interface{}) (interface{}, error) {
	var args BackupDatabaseArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.svc.BackupDatabase(args.Path)
}

func (s *Server) handleRestoreDatabase(ctx context.Context, params interface{}) (interface{}, error) {
	var args RestoreDatabaseArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if args.Path == "" {
		return nil, fmt.Errorf("%w: path is required", storage.ErrValidation)
	}
	if err := s.svc.RestoreDatabase(args.Path); err != nil {
		return nil, err
	}
	return OpResult{Success: true, Message: "database restored"}, nil
}

func (s *Server) handleGetLogs(ctx context.Context, params interface{}) (interface{}, error) {
	var args GetLogsArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.svc.GetLogs(args.Limit)
}

func (s *Server) handleOptimize(ctx context.Context) (interface{}, error) {
	if err := s.svc.OptimizeDatabase(ctx); err != nil {
		return nil, err
	}
	return OpResult{Success: true, Message: "database optimized"}, nil
}

// listOptionsFromArgs converts wire filters into storage options, parsing
// the RFC-3339 bounds.
func listOptionsFromArgs(args ListEpisodesArgs) (storage.ListOptions, error) {
	opts := storage.ListOptions{
		Page:           args.Page,
		Limit:          args.Limit,
		SortBy:         args.SortBy,
		SortOrder:      args.SortOrder,
		Category:       args.Category,
		Tags:           args.Tags,
		MinPriority:    args.MinPriority,
		IncludeDeleted: args.IncludeDeleted,
		OnlyDeleted:    args.OnlyDeleted,
	}
	if args.CreatedAfter != "" {
		t, err := time.Parse(time.RFC3339, args.CreatedAfter)
		if err != nil {
			return opts, fmt.Errorf("%w: created_after: %v", storage.ErrValidation, err)
		}
		opts.CreatedAfter = t
	}
	if args.CreatedBefore != "" {
		t, err := time.Parse(time.RFC3339, args.CreatedBefore)
		if err != nil {
			return opts, fmt.Errorf("%w: created_before: %v", storage.ErrValidation, err)
		}
		opts.CreatedBefore = t
	}
	return opts, nil
}

// unmarshalParams unmarshals JSON-RPC parameters into a typed struct.
func unmarshalParams(params interface{}, dest interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrValidation, err)
	}
	return nil
}

// successResponse creates a JSON-RPC success response.
func (s *Server) successResponse(id interface{}, result interface{}) ([]byte, error) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
	return json.Marshal(resp)
}

// errorResponse creates a JSON-RPC error response.
func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) ([]byte, error) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
	return json.Marshal(resp)
}
