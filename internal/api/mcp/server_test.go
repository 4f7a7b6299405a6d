package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engram-sh/engram/internal/embedding"
	"github.com/engram-sh/engram/internal/events"
	"github.com/engram-sh/engram/internal/search"
	"github.com/engram-sh/engram/internal/service"
	"github.com/engram-sh/engram/internal/storage/sqlite"
	"github.com/engram-sh/engram/pkg/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	backend, err := embedding.NewSQLiteBackend(store.DB(), 64)
	require.NoError(t, err)
	cache := embedding.NewCache(backend, embedding.HashProvider{Dim: 64}, 64, store)

	svc := service.New(service.Options{
		Store:  store,
		Cache:  cache,
		Engine: search.NewEngine(store, nil),
		Audit:  events.NewAuditLog(t.TempDir(), nil),
		DBPath: ":memory:",
	})
	return NewServer(svc, WithLogger(log.New(io.Discard, "", 0)))
}

// call sends a JSON-RPC request and decodes the response envelope.
func call(t *testing.T, srv *Server, method string, params interface{}) JSONRPCResponse {
	t.Helper()
	req, err := json.Marshal(JSONRPCRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	require.NoError(t, err)

	raw, err := srv.HandleRequest(context.Background(), req)
	require.NoError(t, err)

	var resp JSONRPCResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp
}

// callResult asserts success and re-decodes the result into dest.
func callResult(t *testing.T, srv *Server, method string, params, dest interface{}) {
	t.Helper()
	resp := call(t, srv, method, params)
	require.Nil(t, resp.Error, "unexpected error: %+v", resp.Error)
	data, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, dest))
}

func TestHandleRequest_Initialize(t *testing.T) {
	srv := newTestServer(t)

	var result MCPInitializeResult
	callResult(t, srv, "initialize", MCPInitializeParams{ProtocolVersion: "2024-11-05"}, &result)

	assert.Equal(t, "2024-11-05", result.ProtocolVersion)
	assert.Equal(t, "engram", result.ServerInfo.Name)
	assert.Equal(t, service.Version, result.ServerInfo.Version)
	assert.NotNil(t, result.Capabilities.Tools)
}

func TestHandleRequest_ToolsList(t *testing.T) {
	srv := newTestServer(t)

	var result MCPToolsListResult
	callResult(t, srv, "tools/list", nil, &result)

	assert.Len(t, result.Tools, 23)
	names := make(map[string]bool, len(result.Tools))
	for _, tool := range result.Tools {
		assert.NotEmpty(t, tool.Description, "tool %s has no description", tool.Name)
		assert.Contains(t, tool.InputSchema, "type")
		names[tool.Name] = true
	}
	for _, name := range []string{"add_episode", "search_knowledge", "sync_all_to_turso", "check_integrity"} {
		assert.True(t, names[name], "missing tool %s", name)
	}

	// Hard delete is a CLI-only operation; it is dispatchable but not
	// advertised to MCP clients.
	assert.False(t, names["purge_episode"])
}

func TestPurgeEpisode_DispatchableButUnlisted(t *testing.T) {
	srv := newTestServer(t)

	var ep types.Episode
	callResult(t, srv, "add_episode", map[string]interface{}{"name": "cli only"}, &ep)

	var result OpResult
	callResult(t, srv, "purge_episode", map[string]interface{}{"id": ep.ID}, &result)
	assert.True(t, result.Success)
}

func TestHandleRequest_InvalidJSON(t *testing.T) {
	srv := newTestServer(t)

	raw, err := srv.HandleRequest(context.Background(), []byte("{not json"))
	require.NoError(t, err)

	var resp JSONRPCResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeParseError, resp.Error.Code)
}

func TestHandleRequest_WrongVersion(t *testing.T) {
	srv := newTestServer(t)

	raw, err := srv.HandleRequest(context.Background(), []byte(`{"jsonrpc":"1.0","method":"tools/list","id":1}`))
	require.NoError(t, err)

	var resp JSONRPCResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidRequest, resp.Error.Code)
}

func TestHandleRequest_MethodNotFound(t *testing.T) {
	srv := newTestServer(t)

	resp := call(t, srv, "no_such_tool", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
}

func TestNativeDispatch_EpisodeRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	var ep types.Episode
	callResult(t, srv, "add_episode", map[string]interface{}{
		"name":     "retro notes",
		"content":  "the deploy took forty minutes",
		"category": "work",
		"tags":     []string{"retro"},
	}, &ep)
	require.NotEmpty(t, ep.ID)
	assert.Equal(t, 1, ep.Version)

	var detail struct {
		Episode types.Episode `json:"episode"`
	}
	callResult(t, srv, "get_episode", map[string]interface{}{"id": ep.ID}, &detail)
	assert.Equal(t, "retro notes", detail.Episode.Name)
	assert.Equal(t, []string{"retro"}, detail.Episode.Tags)

	var removed OpResult
	callResult(t, srv, "remove_episode", map[string]interface{}{"id": ep.ID}, &removed)
	assert.True(t, removed.Success)

	resp := call(t, srv, "get_episode", map[string]interface{}{"id": ep.ID})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeServerError, resp.Error.Code)
	data, ok := resp.Error.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "not_found", data["error_kind"])
}

func TestToolsCall_Envelope(t *testing.T) {
	srv := newTestServer(t)

	var result MCPToolCallResult
	callResult(t, srv, "tools/call", MCPToolCallParams{
		Name:      "add_episode",
		Arguments: map[string]interface{}{"name": "wrapped", "content": "via tools/call"},
	}, &result)

	require.Len(t, result.Content, 1)
	assert.False(t, result.IsError)
	assert.Equal(t, "text", result.Content[0].Type)

	var ep types.Episode
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &ep))
	assert.Equal(t, "wrapped", ep.Name)
}

func TestToolsCall_FailureCarriesErrorKind(t *testing.T) {
	srv := newTestServer(t)

	var result MCPToolCallResult
	callResult(t, srv, "tools/call", MCPToolCallParams{
		Name:      "add_episode",
		Arguments: map[string]interface{}{"name": "   "},
	}, &result)

	require.True(t, result.IsError)
	require.Len(t, result.Content, 1)

	var failure OpResult
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &failure))
	assert.False(t, failure.Success)
	assert.Equal(t, "validation_error", failure.ErrorKind)
}

func TestToolsCall_UnknownTool(t *testing.T) {
	srv := newTestServer(t)

	var result MCPToolCallResult
	callResult(t, srv, "tools/call", MCPToolCallParams{Name: "teleport"}, &result)
	assert.True(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Contains(t, result.Content[0].Text, "unknown tool")
}

func TestSearchKnowledge_Dispatch(t *testing.T) {
	srv := newTestServer(t)

	var ep types.Episode
	callResult(t, srv, "add_episode", map[string]interface{}{
		"name": "fox sighting", "content": "a fox crossed the yard",
	}, &ep)

	var hits []search.Hit
	callResult(t, srv, "search_knowledge", map[string]interface{}{
		"query": "fox", "mode": "keyword",
	}, &hits)
	require.Len(t, hits, 1)
	assert.Equal(t, ep.ID, hits[0].Episode.ID)

	resp := call(t, srv, "search_knowledge", map[string]interface{}{
		"query": "fox", "mode": "fuzzy",
	})
	require.NotNil(t, resp.Error)
	data := resp.Error.Data.(map[string]interface{})
	assert.Equal(t, "bad_query", data["error_kind"])
}

func TestUpdateEpisode_Dispatch(t *testing.T) {
	srv := newTestServer(t)

	var ep types.Episode
	callResult(t, srv, "add_episode", map[string]interface{}{"name": "draft", "content": "v1"}, &ep)

	var result service.UpdateResult
	callResult(t, srv, "update_episode", map[string]interface{}{
		"id": ep.ID, "content": "v2",
	}, &result)
	assert.True(t, result.Changed)
	assert.Equal(t, 2, result.Version)

	resp := call(t, srv, "update_episode", map[string]interface{}{"content": "v3"})
	require.NotNil(t, resp.Error)
	data := resp.Error.Data.(map[string]interface{})
	assert.Equal(t, "validation_error", data["error_kind"])
}

func TestAdminTools_Dispatch(t *testing.T) {
	srv := newTestServer(t)

	var ep types.Episode
	callResult(t, srv, "add_episode", map[string]interface{}{"name": "counted"}, &ep)

	var stats types.Statistics
	callResult(t, srv, "get_statistics", nil, &stats)
	assert.Equal(t, 1, stats.Episodes)

	var status service.StatusReport
	callResult(t, srv, "get_status", nil, &status)
	assert.Equal(t, service.Version, status.Version)
	assert.False(t, status.TursoEnabled)

	var report types.IntegrityReport
	callResult(t, srv, "check_integrity", nil, &report)
	assert.Empty(t, report.DanglingEdges)

	// Replication is not configured in this fixture.
	resp := call(t, srv, "sync_all_to_turso", nil)
	require.NotNil(t, resp.Error)
	data := resp.Error.Data.(map[string]interface{})
	assert.Equal(t, "validation_error", data["error_kind"])
}

func TestFlexibleStringList(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"json array", `["a","b"]`, []string{"a", "b"}},
		{"encoded array", `"[\"a\",\"b\"]"`, []string{"a", "b"}},
		{"comma separated", `"a, b ,c"`, []string{"a", "b", "c"}},
		{"single value", `"solo"`, []string{"solo"}},
		{"empty string", `""`, nil},
		{"number", `42`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := flexibleStringList(json.RawMessage(tt.raw))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAddEpisodeArgs_StringifiedTags(t *testing.T) {
	var args AddEpisodeArgs
	require.NoError(t, json.Unmarshal([]byte(`{"name":"n","tags":"[\"x\",\"y\"]","related_to":"a,b"}`), &args))
	assert.Equal(t, []string{"x", "y"}, args.Tags)
	assert.Equal(t, []string{"a", "b"}, args.RelatedTo)
}
