package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/engram-sh/engram/internal/app"
	"github.com/engram-sh/engram/internal/search"
	"github.com/engram-sh/engram/internal/service"
	"github.com/engram-sh/engram/internal/storage"
	"github.com/engram-sh/engram/pkg/types"
)

func newAddEpisodeCmd() *cobra.Command {
	var (
		name         string
		content      string
		metadataJSON string
		category     string
		tags         []string
		priority     int
		relatedTo    []string
		syncToRemote bool
	)

	cmd := &cobra.Command{
		Use:   "add-episode",
		Short: "Store a new episode",
		RunE: func(cmd *cobra.Command, args []string) error {
			metadata, err := parseMetadata(metadataJSON)
			if err != nil {
				return err
			}
			return runWithApp(func(ctx context.Context, a *app.App) (interface{}, error) {
				return a.Service.AddEpisode(ctx, service.AddEpisodeRequest{
					Name:         name,
					Content:      content,
					Metadata:     metadata,
					Category:     category,
					Tags:         tags,
					Priority:     priority,
					RelatedTo:    relatedTo,
					SyncToRemote: syncToRemote,
				})
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "episode name (required)")
	cmd.Flags().StringVar(&content, "content", "", "episode body")
	cmd.Flags().StringVar(&metadataJSON, "metadata", "", "metadata as a JSON object")
	cmd.Flags().StringVar(&category, "category", "", "category label")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "tags (repeatable or comma-separated)")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority used by the min-priority filter")
	cmd.Flags().StringSliceVar(&relatedTo, "related-to", nil, "episode ids to link")
	cmd.Flags().BoolVar(&syncToRemote, "sync-to-remote", true, "queue the episode for remote replication")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newUpdateEpisodeCmd() *cobra.Command {
	var (
		name         string
		content      string
		metadataJSON string
		category     string
		priority     int
		tags         []string
	)

	cmd := &cobra.Command{
		Use:   "update-episode <id>",
		Short: "Patch an episode; omitted flags stay unchanged",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := types.EpisodePatch{}
			if cmd.Flags().Changed("name") {
				patch.Name = &name
			}
			if cmd.Flags().Changed("content") {
				patch.Content = &content
			}
			if cmd.Flags().Changed("category") {
				patch.Category = &category
			}
			if cmd.Flags().Changed("priority") {
				patch.Priority = &priority
			}
			if cmd.Flags().Changed("tags") {
				patch.Tags = tags
			}
			if cmd.Flags().Changed("metadata") {
				metadata, err := parseMetadata(metadataJSON)
				if err != nil {
					return err
				}
				patch.Metadata = metadata
			}
			return runWithApp(func(ctx context.Context, a *app.App) (interface{}, error) {
				return a.Service.UpdateEpisode(ctx, args[0], patch)
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&content, "content", "", "new content")
	cmd.Flags().StringVar(&metadataJSON, "metadata", "", "replacement metadata as a JSON object")
	cmd.Flags().StringVar(&category, "category", "", "new category")
	cmd.Flags().IntVar(&priority, "priority", 0, "new priority")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "replacement tag set")
	return cmd
}

func newRemoveEpisodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-episode <id>",
		Short: "Soft-delete an episode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(func(ctx context.Context, a *app.App) (interface{}, error) {
				if err := a.Service.RemoveEpisode(ctx, args[0]); err != nil {
					return nil, err
				}
				return okResult("episode removed"), nil
			})
		},
	}
}

func newRestoreEpisodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore-episode <id>",
		Short: "Clear an episode's tombstone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(func(ctx context.Context, a *app.App) (interface{}, error) {
				if err := a.Service.RestoreEpisode(ctx, args[0]); err != nil {
					return nil, err
				}
				return okResult("episode restored"), nil
			})
		},
	}
}

func newPurgeEpisodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-episode <id>",
		Short: "Hard-delete an episode with its history, tags, and relations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(func(ctx context.Context, a *app.App) (interface{}, error) {
				if err := a.Service.PurgeEpisode(ctx, args[0]); err != nil {
					return nil, err
				}
				return okResult("episode purged"), nil
			})
		},
	}
}

// filterFlags are shared by list-episodes and search-knowledge.
type filterFlags struct {
	category      string
	tags          []string
	createdAfter  string
	createdBefore string
	minPriority   int
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.category, "category", "", "filter by exact category")
	cmd.Flags().StringSliceVar(&f.tags, "tags", nil, "filter to episodes carrying any of these tags")
	cmd.Flags().StringVar(&f.createdAfter, "created-after", "", "RFC-3339 lower bound for created_at")
	cmd.Flags().StringVar(&f.createdBefore, "created-before", "", "RFC-3339 upper bound for created_at")
	cmd.Flags().IntVar(&f.minPriority, "min-priority", 0, "filter to episodes with priority >= this value")
}

func (f *filterFlags) options(cmd *cobra.Command) (storage.ListOptions, error) {
	opts := storage.ListOptions{
		Category: f.category,
		Tags:     f.tags,
	}
	if cmd.Flags().Changed("min-priority") {
		opts.MinPriority = &f.minPriority
	}
	if f.createdAfter != "" {
		t, err := time.Parse(time.RFC3339, f.createdAfter)
		if err != nil {
			return opts, fmt.Errorf("%w: created-after: %v", storage.ErrValidation, err)
		}
		opts.CreatedAfter = t
	}
	if f.createdBefore != "" {
		t, err := time.Parse(time.RFC3339, f.createdBefore)
		if err != nil {
			return opts, fmt.Errorf("%w: created-before: %v", storage.ErrValidation, err)
		}
		opts.CreatedBefore = t
	}
	return opts, nil
}

func newListEpisodesCmd() *cobra.Command {
	var (
		filters        filterFlags
		page           int
		limit          int
		sortBy         string
		sortOrder      string
		includeDeleted bool
		onlyDeleted    bool
	)

	cmd := &cobra.Command{
		Use:   "list-episodes",
		Short: "List episodes with pagination and filters",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := filters.options(cmd)
			if err != nil {
				return err
			}
			opts.Page = page
			opts.Limit = limit
			opts.SortBy = sortBy
			opts.SortOrder = sortOrder
			opts.IncludeDeleted = includeDeleted
			opts.OnlyDeleted = onlyDeleted
			return runWithApp(func(ctx context.Context, a *app.App) (interface{}, error) {
				return a.Service.ListEpisodes(ctx, opts)
			})
		},
	}

	filters.register(cmd)
	cmd.Flags().IntVar(&page, "page", 1, "1-indexed page")
	cmd.Flags().IntVar(&limit, "limit", 10, "page size (max 100)")
	cmd.Flags().StringVar(&sortBy, "sort-by", "created_at", "sort field")
	cmd.Flags().StringVar(&sortOrder, "sort-order", "desc", "asc or desc")
	cmd.Flags().BoolVar(&includeDeleted, "include-deleted", false, "include tombstoned episodes")
	cmd.Flags().BoolVar(&onlyDeleted, "only-deleted", false, "return only tombstoned episodes")
	return cmd
}

func newGetEpisodeCmd() *cobra.Command {
	var includeVersions bool

	cmd := &cobra.Command{
		Use:   "get-episode <id>",
		Short: "Fetch one episode with its relations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(func(ctx context.Context, a *app.App) (interface{}, error) {
				return a.Service.GetEpisode(ctx, args[0], includeVersions)
			})
		},
	}

	cmd.Flags().BoolVar(&includeVersions, "include-versions", false, "attach the version history")
	return cmd
}

func newSearchKnowledgeCmd() *cobra.Command {
	var (
		filters  filterFlags
		limit    int
		mode     string
		operator string
	)

	cmd := &cobra.Command{
		Use:   "search-knowledge <query>",
		Short: "Rank episodes for a query (keyword, semantic, or hybrid)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := ""
			if len(args) > 0 {
				query = args[0]
			}
			opts, err := filters.options(cmd)
			if err != nil {
				return err
			}
			return runWithApp(func(ctx context.Context, a *app.App) (interface{}, error) {
				return a.Service.SearchKnowledge(ctx, search.Request{
					Query:    query,
					Limit:    limit,
					Mode:     search.Mode(mode),
					Operator: operator,
					Filters:  opts,
				})
			})
		},
	}

	filters.register(cmd)
	cmd.Flags().IntVar(&limit, "limit", 10, "max results")
	cmd.Flags().StringVar(&mode, "mode", "hybrid", "ranking mode: keyword, semantic, hybrid")
	cmd.Flags().StringVar(&operator, "operator", "", "explicit operator (and/or/not) over the query terms")
	return cmd
}

func newSearchSimilarCmd() *cobra.Command {
	var (
		limit     int
		threshold float64
	)

	cmd := &cobra.Command{
		Use:   "search-similar <query>",
		Short: "Semantic search over the embedding cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(func(ctx context.Context, a *app.App) (interface{}, error) {
				return a.Service.SearchSimilar(ctx, args[0], limit, threshold)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "max results")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "minimum similarity in [0,1] (default 0.7)")
	return cmd
}

func newAddRelationCmd() *cobra.Command {
	var (
		relationType string
		strength     float64
	)

	cmd := &cobra.Command{
		Use:   "add-relation <source-id> <target-id>",
		Short: "Create or replace a typed edge between two episodes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(func(ctx context.Context, a *app.App) (interface{}, error) {
				err := a.Service.AddRelation(ctx, types.Relation{
					SourceID:     args[0],
					TargetID:     args[1],
					RelationType: relationType,
					Strength:     strength,
				})
				if err != nil {
					return nil, err
				}
				return okResult("relation added"), nil
			})
		},
	}

	cmd.Flags().StringVar(&relationType, "relation-type", "related_to", "edge type")
	cmd.Flags().Float64Var(&strength, "strength", 1.0, "edge strength in [0,1]")
	return cmd
}

func parseMetadata(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return nil, nil
	}
	var metadata map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, fmt.Errorf("%w: metadata must be a JSON object: %v", storage.ErrValidation, err)
	}
	return metadata, nil
}
