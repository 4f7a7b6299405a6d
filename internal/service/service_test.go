package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engram-sh/engram/internal/embedding"
	"github.com/engram-sh/engram/internal/events"
	"github.com/engram-sh/engram/internal/search"
	"github.com/engram-sh/engram/internal/storage"
	"github.com/engram-sh/engram/internal/storage/sqlite"
	"github.com/engram-sh/engram/pkg/types"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	backend, err := embedding.NewSQLiteBackend(store.DB(), 64)
	require.NoError(t, err)
	cache := embedding.NewCache(backend, embedding.HashProvider{Dim: 64}, 64, store)

	return New(Options{
		Store:  store,
		Cache:  cache,
		Engine: search.NewEngine(store, nil),
		Audit:  events.NewAuditLog(t.TempDir(), nil),
		DBPath: ":memory:",
	})
}

func addEpisode(t *testing.T, svc *Service, req AddEpisodeRequest) *types.Episode {
	t.Helper()
	ep, err := svc.AddEpisode(context.Background(), req)
	require.NoError(t, err)
	return ep
}

func TestAddEpisode_FullRecord(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	ep := addEpisode(t, svc, AddEpisodeRequest{
		Name:     "architecture review",
		Content:  "switch the queue to at-least-once delivery",
		Category: "work",
		Tags:     []string{"queue", "design"},
		Priority: 7,
		Metadata: map[string]interface{}{"author": "dana"},
	})

	assert.NotEmpty(t, ep.ID)
	assert.Equal(t, 1, ep.Version)
	assert.False(t, ep.SyncedToTurso)

	detail, err := svc.GetEpisode(ctx, ep.ID, true)
	require.NoError(t, err)
	assert.Equal(t, "architecture review", detail.Episode.Name)
	assert.Equal(t, "work", detail.Episode.Category)
	assert.ElementsMatch(t, []string{"queue", "design"}, detail.Episode.Tags)
	assert.Equal(t, "dana", detail.Episode.Metadata["author"])
	require.Len(t, detail.Versions, 1)
	assert.Equal(t, types.ChangeCreated, detail.Versions[0].ChangeType)
}

func TestAddEpisode_Validation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddEpisode(ctx, AddEpisodeRequest{Name: "   "})
	assert.Equal(t, "validation_error", ErrorKind(err))

}

func TestAddEpisode_RelatedToTargetMayNotExistYet(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// Bulk ingestion inserts out of order: the edge lands before its target.
	source := addEpisode(t, svc, AddEpisodeRequest{Name: "early", RelatedTo: []string{"ep_later"}})

	detail, err := svc.GetEpisode(ctx, source.ID, false)
	require.NoError(t, err)
	require.Len(t, detail.Relations, 1)
	assert.Equal(t, "ep_later", detail.Relations[0].TargetID)

	report, err := svc.CheckIntegrity(ctx)
	require.NoError(t, err)
	require.Len(t, report.DanglingEdges, 1)
	assert.True(t, report.DanglingEdges[0].MissingTarget)
}

func TestAddEpisode_RelatedToCreatesEdges(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	target := addEpisode(t, svc, AddEpisodeRequest{Name: "target"})
	source := addEpisode(t, svc, AddEpisodeRequest{Name: "source", RelatedTo: []string{target.ID}})

	detail, err := svc.GetEpisode(ctx, source.ID, false)
	require.NoError(t, err)
	require.Len(t, detail.Relations, 1)
	assert.Equal(t, target.ID, detail.Relations[0].TargetID)
	assert.Equal(t, "related_to", detail.Relations[0].RelationType)
	assert.Equal(t, 1.0, detail.Relations[0].Strength)
}

func TestUpdateEpisode_VersionAndNoOp(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ep := addEpisode(t, svc, AddEpisodeRequest{Name: "draft", Content: "v1"})

	newContent := "v2"
	result, err := svc.UpdateEpisode(ctx, ep.ID, types.EpisodePatch{Content: &newContent})
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, 2, result.Version)

	// Identical patch: no version bump, no audit entry.
	logsBefore, err := svc.GetLogs(100)
	require.NoError(t, err)

	same := "v2"
	result, err = svc.UpdateEpisode(ctx, ep.ID, types.EpisodePatch{Content: &same})
	require.NoError(t, err)
	assert.False(t, result.Changed)
	assert.Equal(t, 2, result.Version)

	logsAfter, err := svc.GetLogs(100)
	require.NoError(t, err)
	assert.Len(t, logsAfter, len(logsBefore), "a no-op update must not be audited")
}

func TestRemoveRestorePurge(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ep := addEpisode(t, svc, AddEpisodeRequest{Name: "cycled"})

	require.NoError(t, svc.RemoveEpisode(ctx, ep.ID))
	_, err := svc.GetEpisode(ctx, ep.ID, false)
	assert.Equal(t, "not_found", ErrorKind(err))

	require.NoError(t, svc.RestoreEpisode(ctx, ep.ID))
	detail, err := svc.GetEpisode(ctx, ep.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 3, detail.Episode.Version)

	require.NoError(t, svc.PurgeEpisode(ctx, ep.ID))
	_, err = svc.GetEpisode(ctx, ep.ID, false)
	assert.Equal(t, "not_found", ErrorKind(err))
	assert.Equal(t, "not_found", ErrorKind(svc.PurgeEpisode(ctx, ep.ID)))
}

func TestRemoveEpisode_RepeatIsSilent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ep := addEpisode(t, svc, AddEpisodeRequest{Name: "twice removed"})

	require.NoError(t, svc.RemoveEpisode(ctx, ep.ID))
	logsAfterFirst, err := svc.GetLogs(100)
	require.NoError(t, err)

	// The store no-ops, so the facade must not audit or replicate again.
	require.NoError(t, svc.RemoveEpisode(ctx, ep.ID))
	logsAfterSecond, err := svc.GetLogs(100)
	require.NoError(t, err)
	assert.Len(t, logsAfterSecond, len(logsAfterFirst))
}

func TestGetEpisode_BumpsAccessCount(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ep := addEpisode(t, svc, AddEpisodeRequest{Name: "popular"})

	detail, err := svc.GetEpisode(ctx, ep.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, detail.Episode.AccessCount)

	detail, err = svc.GetEpisode(ctx, ep.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 2, detail.Episode.AccessCount)
	assert.Equal(t, 1, detail.Episode.Version, "reads must not bump the version")
}

func TestAddRelation_AllowsDanglingEndpoints(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	a := addEpisode(t, svc, AddEpisodeRequest{Name: "a"})
	b := addEpisode(t, svc, AddEpisodeRequest{Name: "b"})

	err := svc.AddRelation(ctx, types.Relation{SourceID: a.ID, TargetID: b.ID, RelationType: "causes", Strength: 0.6})
	require.NoError(t, err)

	// Neither endpoint exists yet. The upsert succeeds and the edge is
	// flagged by the integrity report, not rejected up front.
	err = svc.AddRelation(ctx, types.Relation{SourceID: "ep_future_1", TargetID: "ep_future_2", RelationType: "causes"})
	require.NoError(t, err)

	report, err := svc.CheckIntegrity(ctx)
	require.NoError(t, err)
	require.Len(t, report.DanglingEdges, 1)
	assert.True(t, report.DanglingEdges[0].MissingSource)
	assert.True(t, report.DanglingEdges[0].MissingTarget)

	err = svc.AddRelation(ctx, types.Relation{SourceID: a.ID, TargetID: b.ID})
	assert.Equal(t, "validation_error", ErrorKind(err), "blank relation type still fails")
}

func TestSearchKnowledge_WritesInvalidateCache(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	addEpisode(t, svc, AddEpisodeRequest{Name: "fox one", Content: "a fox"})

	hits, err := svc.SearchKnowledge(ctx, search.Request{Query: "fox", Mode: search.ModeKeyword})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	// The write path drops the cached result, so the second episode shows up.
	addEpisode(t, svc, AddEpisodeRequest{Name: "fox two", Content: "another fox"})
	hits, err = svc.SearchKnowledge(ctx, search.Request{Query: "fox", Mode: search.ModeKeyword})
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestSearchSimilar_UsesEmbeddingCache(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.EmbedContent(ctx, []string{"distributed consensus notes", "sourdough starter schedule"})
	require.NoError(t, err)

	results, err := svc.SearchSimilar(ctx, "distributed consensus notes", 5, 0.9)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "distributed consensus notes", results[0].Content)
}

func TestWebhookLifecycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.RegisterWebhook(ctx, "not a url", "")
	assert.Equal(t, "validation_error", ErrorKind(err))
	_, err = svc.RegisterWebhook(ctx, "ftp://example.com/hook", "")
	assert.Equal(t, "validation_error", ErrorKind(err))

	hook, err := svc.RegisterWebhook(ctx, "https://example.com/hook", "")
	require.NoError(t, err)
	assert.NotEmpty(t, hook.ID)
	assert.Equal(t, "*", hook.EventType)
	assert.True(t, hook.Active)

	hooks, err := svc.ListWebhooks(ctx)
	require.NoError(t, err)
	assert.Len(t, hooks, 1)

	require.NoError(t, svc.RemoveWebhook(ctx, hook.ID))
	assert.Equal(t, "not_found", ErrorKind(svc.RemoveWebhook(ctx, hook.ID)))
}

func TestClearCache(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.EmbedContent(ctx, []string{"cached one", "cached two"})
	require.NoError(t, err)

	result, err := svc.ClearCache(ctx)
	require.NoError(t, err)
	assert.True(t, result.SearchCacheCleared)
	assert.Equal(t, 2, result.EmbeddingsRemoved)

	result, err = svc.ClearCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.EmbeddingsRemoved)
}

func TestGetStatisticsAndStatus(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	addEpisode(t, svc, AddEpisodeRequest{Name: "counted", Category: "work"})

	stats, err := svc.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Episodes)
	assert.Equal(t, 1, stats.Categories["work"])

	status, err := svc.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, Version, status.Version)
	assert.False(t, status.TursoEnabled)
	assert.Equal(t, 1, status.Episodes)
}

func TestSyncAllWithoutReplicator(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.SyncAllToTurso(context.Background())
	assert.Equal(t, "validation_error", ErrorKind(err))

	status, err := svc.TursoStatus(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Enabled)
}

func TestTursoStatus_CountsTombstones(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	ep := addEpisode(t, svc, AddEpisodeRequest{Name: "pending"})
	require.NoError(t, svc.RemoveEpisode(ctx, ep.ID))

	// One unsynced tombstone and zero live episodes must not push the
	// synced count below zero.
	status, err := svc.TursoStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.Synced)
	assert.Equal(t, 1, status.Unsynced)
}

func TestGetLogs_RecordsMutations(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ep := addEpisode(t, svc, AddEpisodeRequest{Name: "logged"})
	require.NoError(t, svc.RemoveEpisode(ctx, ep.ID))

	logs, err := svc.GetLogs(10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "add_episode", logs[0].Operation)
	assert.Equal(t, "remove_episode", logs[1].Operation)
}

func TestOptimizeAndIntegrity(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	addEpisode(t, svc, AddEpisodeRequest{Name: "healthy"})

	require.NoError(t, svc.OptimizeDatabase(ctx))

	report, err := svc.CheckIntegrity(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.DanglingEdges)
	assert.Zero(t, report.OrphanedVersions)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "", ErrorKind(nil))
	assert.Equal(t, "validation_error", ErrorKind(storage.ErrValidation))
	assert.Equal(t, "not_found", ErrorKind(storage.ErrNotFound))
	assert.Equal(t, "bad_query", ErrorKind(storage.ErrBadQuery))
	assert.Equal(t, "remote_unavailable", ErrorKind(storage.ErrRemoteUnavailable))
	assert.Equal(t, "store_error", ErrorKind(context.Canceled))
}
