package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/engram-sh/engram/internal/embedding"
	"github.com/engram-sh/engram/internal/storage"
	"github.com/engram-sh/engram/pkg/types"
)

// idRetryBudget is the number of ID collision retries before Insert gives up
// with ErrConflict. Collisions require two inserts in the same microsecond,
// so exhausting the budget is statistically impossible.
const idRetryBudget = 5

// Insert creates an episode together with its "created" version row and tag
// rows in a single transaction.
func (s *Store) Insert(ctx context.Context, ep *types.Episode) error {
	if ep == nil {
		return storage.ErrValidation
	}
	if strings.TrimSpace(ep.Name) == "" {
		return fmt.Errorf("%w: episode name is required", storage.ErrValidation)
	}

	now := time.Now().UTC()
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = now
	}
	ep.UpdatedAt = ep.CreatedAt
	ep.Version = 1
	ep.Deleted = false
	ep.SyncedToTurso = false
	ep.Checksum = types.ComputeChecksum(ep.Name, ep.Content)
	ep.Embedding = embedding.EpisodeVector(ep.Name, ep.Content)

	metadataJSON, err := marshalMetadata(ep.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin insert: %v", storage.ErrStore, err)
	}
	defer func() { _ = tx.Rollback() }()

	const insertSQL = `
		INSERT INTO episodes (
			id, name, content, metadata, category, priority,
			created_at, updated_at, version, deleted,
			embedding, checksum, synced_to_turso, access_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, 0, ?, ?, 0, 0)
	`

	inserted := false
	for attempt := 0; attempt < idRetryBudget; attempt++ {
		id := generateEpisodeID(attempt)
		_, err = tx.ExecContext(ctx, insertSQL,
			id,
			ep.Name,
			ep.Content,
			nullableBytes(metadataJSON),
			nullableString(ep.Category),
			ep.Priority,
			ep.CreatedAt,
			ep.UpdatedAt,
			embedding.EncodeVector(ep.Embedding),
			ep.Checksum,
		)
		if err == nil {
			ep.ID = id
			inserted = true
			break
		}
		if !isUniqueViolation(err) {
			return fmt.Errorf("%w: insert episode: %v", storage.ErrStore, err)
		}
	}
	if !inserted {
		return fmt.Errorf("%w: episode ID collision after %d attempts", storage.ErrConflict, idRetryBudget)
	}

	if err := insertVersionRow(ctx, tx, ep, types.ChangeCreated, ep.CreatedAt); err != nil {
		return err
	}

	if err := replaceTags(ctx, tx, ep.ID, ep.Tags, false); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit insert: %v", storage.ErrStore, err)
	}
	return nil
}

// Update applies a patch inside a transaction. A patch that leaves the
// checksum unchanged and carries no tag replacement is a no-op: no version
// row, updated_at untouched.
func (s *Store) Update(ctx context.Context, id string, patch types.EpisodePatch) (int, bool, error) {
	if id == "" {
		return 0, false, fmt.Errorf("%w: episode ID is required", storage.ErrValidation)
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return 0, false, fmt.Errorf("%w: episode name cannot be empty", storage.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("%w: begin update: %v", storage.ErrStore, err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := getEpisodeTx(ctx, tx, id, false)
	if err != nil {
		return 0, false, err
	}

	next := *cur
	if patch.Name != nil {
		next.Name = *patch.Name
	}
	if patch.Content != nil {
		next.Content = *patch.Content
	}
	if patch.Metadata != nil {
		next.Metadata = patch.Metadata
	}
	if patch.Category != nil {
		next.Category = *patch.Category
	}
	if patch.Priority != nil {
		next.Priority = *patch.Priority
	}

	next.Checksum = types.ComputeChecksum(next.Name, next.Content)

	metadataChanged := patch.Metadata != nil && !sameMetadata(cur.Metadata, next.Metadata)
	fieldChanged := next.Checksum != cur.Checksum ||
		metadataChanged ||
		next.Category != cur.Category ||
		next.Priority != cur.Priority
	tagsChanged := patch.Tags != nil && !sameTags(cur.Tags, patch.Tags)

	if !fieldChanged && !tagsChanged {
		return cur.Version, false, nil
	}

	now := time.Now().UTC()
	next.Version = cur.Version + 1
	next.UpdatedAt = now
	if next.Checksum != cur.Checksum {
		next.Embedding = embedding.EpisodeVector(next.Name, next.Content)
	}

	metadataJSON, err := marshalMetadata(next.Metadata)
	if err != nil {
		return 0, false, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE episodes
		SET name = ?, content = ?, metadata = ?, category = ?, priority = ?,
		    updated_at = ?, version = ?, embedding = ?, checksum = ?,
		    synced_to_turso = 0
		WHERE id = ?`,
		next.Name,
		next.Content,
		nullableBytes(metadataJSON),
		nullableString(next.Category),
		next.Priority,
		next.UpdatedAt,
		next.Version,
		embedding.EncodeVector(next.Embedding),
		next.Checksum,
		id,
	)
	if err != nil {
		return 0, false, fmt.Errorf("%w: update episode: %v", storage.ErrStore, err)
	}

	if err := insertVersionRow(ctx, tx, &next, types.ChangeUpdated, now); err != nil {
		return 0, false, err
	}

	if patch.Tags != nil {
		if err := replaceTags(ctx, tx, id, patch.Tags, true); err != nil {
			return 0, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("%w: commit update: %v", storage.ErrStore, err)
	}
	return next.Version, true, nil
}

// Get retrieves an episode by ID. Tombstones surface only when
// includeDeleted is true.
func (s *Store) Get(ctx context.Context, id string, includeDeleted bool) (*types.Episode, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: episode ID is required", storage.ErrValidation)
	}

	ep, err := getEpisodeTx(ctx, s.db, id, includeDeleted)
	if err != nil {
		return nil, err
	}
	return ep, nil
}

// List retrieves episodes with pagination and filtering, newest first by
// default.
func (s *Store) List(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.Episode], error) {
	opts.Normalize()

	var conditions []string
	var args []interface{}

	if !opts.IncludeDeleted && !opts.OnlyDeleted {
		conditions = append(conditions, "deleted = 0")
	}
	if opts.OnlyDeleted {
		conditions = append(conditions, "deleted = 1")
	}
	if opts.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, opts.Category)
	}
	if len(opts.Tags) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(opts.Tags)), ",")
		conditions = append(conditions,
			"EXISTS (SELECT 1 FROM tags t WHERE t.episode_id = episodes.id AND t.tag IN ("+placeholders+"))")
		for _, tag := range opts.Tags {
			args = append(args, tag)
		}
	}
	if !opts.CreatedAfter.IsZero() {
		conditions = append(conditions, "created_at > ?")
		args = append(args, opts.CreatedAfter.UTC())
	}
	if !opts.CreatedBefore.IsZero() {
		conditions = append(conditions, "created_at < ?")
		args = append(args, opts.CreatedBefore.UTC())
	}
	if opts.MinPriority != nil {
		conditions = append(conditions, "priority >= ?")
		args = append(args, *opts.MinPriority)
	}
	if opts.Synced != nil {
		if *opts.Synced {
			conditions = append(conditions, "synced_to_turso = 1")
		} else {
			conditions = append(conditions, "synced_to_turso = 0")
		}
	}

	var whereClause string
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	// SortBy/SortOrder are whitelist-validated by Normalize above.
	query := selectEpisodeColumns + " FROM episodes" + whereClause +
		fmt.Sprintf(" ORDER BY %s %s, id ASC", opts.SortBy, opts.SortOrder) +
		" LIMIT ? OFFSET ?"

	rows, err := s.db.QueryContext(ctx, query, append(args, opts.Limit, opts.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("%w: list episodes: %v", storage.ErrStore, err)
	}
	defer rows.Close()

	var episodes []types.Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, *ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate episodes: %v", storage.ErrStore, err)
	}

	for i := range episodes {
		tags, err := s.loadTags(ctx, episodes[i].ID)
		if err != nil {
			return nil, err
		}
		episodes[i].Tags = tags
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM episodes" + whereClause
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("%w: count episodes: %v", storage.ErrStore, err)
	}

	return &storage.PaginatedResult[types.Episode]{
		Items:    episodes,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(episodes) < total,
	}, nil
}

// SoftDelete sets the tombstone, bumps the version, and appends a "deleted"
// version row. Deleting a tombstone is a no-op reported as changed=false.
func (s *Store) SoftDelete(ctx context.Context, id string) (bool, error) {
	return s.setTombstone(ctx, id, true)
}

// Restore clears the tombstone, bumps the version, and appends a "restored"
// version row. Returns ErrNotFound if the episode is not tombstoned.
func (s *Store) Restore(ctx context.Context, id string) error {
	_, err := s.setTombstone(ctx, id, false)
	return err
}

func (s *Store) setTombstone(ctx context.Context, id string, deleted bool) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("%w: episode ID is required", storage.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%w: begin tombstone update: %v", storage.ErrStore, err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := getEpisodeTx(ctx, tx, id, true)
	if err != nil {
		return false, err
	}

	if deleted && cur.Deleted {
		return false, nil // idempotent
	}
	if !deleted && !cur.Deleted {
		return false, fmt.Errorf("%w: episode %s is not deleted", storage.ErrNotFound, id)
	}

	now := time.Now().UTC()
	flag := 0
	change := types.ChangeRestored
	if deleted {
		flag = 1
		change = types.ChangeDeleted
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE episodes
		SET deleted = ?, version = version + 1, updated_at = ?, synced_to_turso = 0
		WHERE id = ?`, flag, now, id)
	if err != nil {
		return false, fmt.Errorf("%w: tombstone update: %v", storage.ErrStore, err)
	}

	cur.Version++
	if err := insertVersionRow(ctx, tx, cur, change, now); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: commit tombstone update: %v", storage.ErrStore, err)
	}
	return true, nil
}

// Purge hard-deletes an episode with its versions, tags, and relations.
func (s *Store) Purge(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: episode ID is required", storage.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin purge: %v", storage.ErrStore, err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, "DELETE FROM episodes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("%w: purge episode: %v", storage.ErrStore, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: purge rows affected: %v", storage.ErrStore, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}

	for _, stmt := range []string{
		"DELETE FROM episode_versions WHERE episode_id = ?",
		"DELETE FROM tags WHERE episode_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("%w: purge cascade: %v", storage.ErrStore, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM relations WHERE source_id = ? OR target_id = ?", id, id); err != nil {
		return fmt.Errorf("%w: purge relations: %v", storage.ErrStore, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit purge: %v", storage.ErrStore, err)
	}
	return nil
}

// Versions returns the full history for an episode, oldest first.
func (s *Store) Versions(ctx context.Context, id string) ([]types.EpisodeVersion, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: episode ID is required", storage.ErrValidation)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT episode_id, version, name, content, metadata, changed_at, change_type
		FROM episode_versions
		WHERE episode_id = ?
		ORDER BY version ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("%w: load versions: %v", storage.ErrStore, err)
	}
	defer rows.Close()

	var versions []types.EpisodeVersion
	for rows.Next() {
		var v types.EpisodeVersion
		var metadataJSON sql.NullString
		var changeType string
		if err := rows.Scan(&v.EpisodeID, &v.Version, &v.Name, &v.Content, &metadataJSON, &v.ChangedAt, &changeType); err != nil {
			return nil, fmt.Errorf("%w: scan version: %v", storage.ErrStore, err)
		}
		v.ChangeType = types.ChangeType(changeType)
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &v.Metadata); err != nil {
				return nil, fmt.Errorf("%w: unmarshal version metadata: %v", storage.ErrStore, err)
			}
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate versions: %v", storage.ErrStore, err)
	}
	return versions, nil
}

// MarkSynced flips the replication flag. Only the replication worker calls
// this, so it does not bump version or updated_at.
func (s *Store) MarkSynced(ctx context.Context, id string, synced bool) error {
	flag := 0
	if synced {
		flag = 1
	}
	result, err := s.db.ExecContext(ctx,
		"UPDATE episodes SET synced_to_turso = ? WHERE id = ?", flag, id)
	if err != nil {
		return fmt.Errorf("%w: mark synced: %v", storage.ErrStore, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: mark synced rows affected: %v", storage.ErrStore, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListUnsynced returns every episode, tombstones included, that has not yet
// been mirrored to the remote database.
func (s *Store) ListUnsynced(ctx context.Context) ([]types.Episode, error) {
	rows, err := s.db.QueryContext(ctx,
		selectEpisodeColumns+" FROM episodes WHERE synced_to_turso = 0 ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("%w: list unsynced: %v", storage.ErrStore, err)
	}
	defer rows.Close()

	var episodes []types.Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, *ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate unsynced: %v", storage.ErrStore, err)
	}
	return episodes, nil
}

// TouchAccess atomically increments access_count and stamps last_accessed_at.
// Informational only; never bumps version.
func (s *Store) TouchAccess(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE episodes
		SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id = ? AND deleted = 0`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("%w: touch access: %v", storage.ErrStore, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: touch access rows affected: %v", storage.ErrStore, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- internals ---

const selectEpisodeColumns = `
	SELECT id, name, content, metadata, category, priority,
	       created_at, updated_at, version, deleted,
	       embedding, checksum, synced_to_turso,
	       access_count, last_accessed_at`

// querier is the subset of *sql.DB / *sql.Tx used by shared read helpers.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func getEpisodeTx(ctx context.Context, q querier, id string, includeDeleted bool) (*types.Episode, error) {
	row := q.QueryRowContext(ctx, selectEpisodeColumns+" FROM episodes WHERE id = ?", id)

	ep, err := scanEpisode(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if ep.Deleted && !includeDeleted {
		return nil, fmt.Errorf("%w: episode %s is deleted", storage.ErrNotFound, id)
	}

	tags, err := loadTagsQ(ctx, q, id)
	if err != nil {
		return nil, err
	}
	ep.Tags = tags
	return ep, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEpisode(row rowScanner) (*types.Episode, error) {
	var ep types.Episode
	var metadataJSON, category sql.NullString
	var embeddingBlob []byte
	var deleted, synced int
	var lastAccessed sql.NullTime

	err := row.Scan(
		&ep.ID,
		&ep.Name,
		&ep.Content,
		&metadataJSON,
		&category,
		&ep.Priority,
		&ep.CreatedAt,
		&ep.UpdatedAt,
		&ep.Version,
		&deleted,
		&embeddingBlob,
		&ep.Checksum,
		&synced,
		&ep.AccessCount,
		&lastAccessed,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan episode: %v", storage.ErrStore, err)
	}

	ep.Deleted = deleted != 0
	ep.SyncedToTurso = synced != 0
	if category.Valid {
		ep.Category = category.String
	}
	if lastAccessed.Valid {
		t := lastAccessed.Time
		ep.LastAccessedAt = &t
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &ep.Metadata); err != nil {
			return nil, fmt.Errorf("%w: unmarshal metadata: %v", storage.ErrStore, err)
		}
	}
	if len(embeddingBlob) > 0 {
		vec, err := embedding.DecodeVector(embeddingBlob, types.FastEmbeddingDim)
		if err != nil {
			return nil, fmt.Errorf("%w: decode embedding: %v", storage.ErrStore, err)
		}
		ep.Embedding = vec
	}
	return &ep, nil
}

func (s *Store) loadTags(ctx context.Context, episodeID string) ([]string, error) {
	return loadTagsQ(ctx, s.db, episodeID)
}

func loadTagsQ(ctx context.Context, q querier, episodeID string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT tag FROM tags WHERE episode_id = ? ORDER BY tag ASC", episodeID)
	if err != nil {
		return nil, fmt.Errorf("%w: load tags: %v", storage.ErrStore, err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("%w: scan tag: %v", storage.ErrStore, err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate tags: %v", storage.ErrStore, err)
	}
	return tags, nil
}

func insertVersionRow(ctx context.Context, tx *sql.Tx, ep *types.Episode, change types.ChangeType, at time.Time) error {
	metadataJSON, err := marshalMetadata(ep.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO episode_versions (episode_id, version, name, content, metadata, changed_at, change_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ep.ID, ep.Version, ep.Name, ep.Content, nullableBytes(metadataJSON), at, string(change))
	if err != nil {
		return fmt.Errorf("%w: insert version row: %v", storage.ErrStore, err)
	}
	return nil
}

// replaceTags writes the tag set for an episode. INSERT OR IGNORE gives set
// semantics: duplicate tags in the input collapse to one row.
func replaceTags(ctx context.Context, tx *sql.Tx, episodeID string, tags []string, clearFirst bool) error {
	if clearFirst {
		if _, err := tx.ExecContext(ctx, "DELETE FROM tags WHERE episode_id = ?", episodeID); err != nil {
			return fmt.Errorf("%w: clear tags: %v", storage.ErrStore, err)
		}
	}
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO tags (episode_id, tag) VALUES (?, ?)", episodeID, tag); err != nil {
			return fmt.Errorf("%w: insert tag: %v", storage.ErrStore, err)
		}
	}
	return nil
}

func marshalMetadata(metadata map[string]interface{}) ([]byte, error) {
	if metadata == nil {
		return nil, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal metadata: %v", storage.ErrValidation, err)
	}
	return data, nil
}

func sameMetadata(a, b map[string]interface{}) bool {
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return string(aj) == string(bj)
}

func sameTags(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	seen := make(map[string]bool, len(b))
	for _, t := range b {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if !set[t] {
			return false
		}
		seen[t] = true
	}
	return len(seen) == len(set)
}

// idClock returns the current microsecond timestamp. Overridden in tests to
// force ID collisions.
var idClock = func() int64 { return time.Now().UnixMicro() }

func generateEpisodeID(attempt int) string {
	base := fmt.Sprintf("ep_%d", idClock())
	if attempt == 0 {
		return base
	}
	return fmt.Sprintf("%s_%d", base, attempt)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}
