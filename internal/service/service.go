// Package service is the transport-agnostic facade over storage, search,
// replication, events, and backup. The MCP server and the CLI both bind to
// this surface and nothing else.
package service

import (
	"errors"
	"log"
	"time"

	"github.com/engram-sh/engram/internal/backup"
	"github.com/engram-sh/engram/internal/embedding"
	"github.com/engram-sh/engram/internal/events"
	"github.com/engram-sh/engram/internal/search"
	"github.com/engram-sh/engram/internal/storage"
	"github.com/engram-sh/engram/internal/turso"
)

// Version is the engram release string reported by get_status.
const Version = "0.4.0"

// Service wires the components together and owns the write-path ordering:
// local commit, then cache invalidation, then audit, then replication
// enqueue, then webhook fire. Everything after the commit is best-effort and
// never fails the operation.
type Service struct {
	store      storage.Store
	cache      *embedding.Cache
	engine     *search.Engine
	replicator *turso.Replicator
	dispatcher *events.Dispatcher
	audit      *events.AuditLog
	notify     *events.ChangeWriter
	backups    *backup.Manager
	log        *log.Logger

	dbPath    string
	startedAt time.Time
}

// Options collects the service dependencies. Store, Engine, and Audit are
// required; the rest degrade gracefully when nil.
type Options struct {
	Store      storage.Store
	Cache      *embedding.Cache
	Engine     *search.Engine
	Replicator *turso.Replicator
	Dispatcher *events.Dispatcher
	Audit      *events.AuditLog
	Notify     *events.ChangeWriter
	Backups    *backup.Manager
	Logger     *log.Logger
	DBPath     string
}

// New assembles the facade.
func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Service{
		store:      opts.Store,
		cache:      opts.Cache,
		engine:     opts.Engine,
		replicator: opts.Replicator,
		dispatcher: opts.Dispatcher,
		audit:      opts.Audit,
		notify:     opts.Notify,
		backups:    opts.Backups,
		log:        opts.Logger,
		dbPath:     opts.DBPath,
		startedAt:  time.Now(),
	}
}

// ErrorKind maps an error to the stable kind string reported in structured
// failure results.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, storage.ErrValidation):
		return "validation_error"
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	case errors.Is(err, storage.ErrConflict):
		return "conflict"
	case errors.Is(err, storage.ErrDimensionMismatch):
		return "dimension_mismatch"
	case errors.Is(err, storage.ErrBadQuery):
		return "bad_query"
	case errors.Is(err, storage.ErrRemoteUnavailable):
		return "remote_unavailable"
	case errors.Is(err, storage.ErrProvider):
		return "provider_error"
	default:
		return "store_error"
	}
}

// afterWrite runs the post-commit side effects shared by every mutation:
// search cache invalidation, cross-process notification, audit, webhook.
// Replication enqueue stays with the callers because only they know the
// operation shape.
func (s *Service) afterWrite(operation, episodeID string, details map[string]interface{}) {
	if s.engine != nil {
		s.engine.InvalidateCache()
	}
	if s.notify != nil {
		if err := s.notify.Notify(operation, episodeID); err != nil {
			s.log.Printf("[service] change notify for %s: %v", operation, err)
		}
	}
	if s.audit != nil {
		s.audit.Record(operation, details)
	}
	if s.dispatcher != nil {
		s.dispatcher.Fire(operation, details)
	}
}

// enqueueReplication snapshots the change for the background worker. A nil
// replicator means replication is not configured.
func (s *Service) enqueueReplication(item turso.Item) {
	if s.replicator != nil {
		s.replicator.Enqueue(item)
	}
}

// OnExternalChange is wired to the cross-process change watcher: another
// process wrote to the shared database, so local caches are stale.
func (s *Service) OnExternalChange(operation, episodeID string) {
	if s.engine != nil {
		s.engine.InvalidateCache()
	}
}

// Close releases the store. Background workers are owned by the binaries and
// stopped there.
func (s *Service) Close() error {
	return s.store.Close()
}
