package turso

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/engram-sh/engram/internal/storage"
	"github.com/engram-sh/engram/pkg/types"
)

const (
	// DefaultBatchSize bounds how many queue items one drain cycle handles.
	DefaultBatchSize = 10

	// DefaultInitialBackoff and DefaultMaxBackoff bound the retry schedule
	// for transient remote failures.
	DefaultInitialBackoff = 1 * time.Second
	DefaultMaxBackoff     = 60 * time.Second
)

// Op classifies a queue item.
type Op string

const (
	// OpUpsert mirrors a create or update with INSERT OR REPLACE.
	OpUpsert Op = "upsert"

	// OpDelete sets the remote tombstone.
	OpDelete Op = "delete"
)

// Item is one pending replication unit: the operation plus a snapshot of the
// episode taken at enqueue time.
type Item struct {
	ID      string
	Op      Op
	Episode types.Episode
}

// Status is the replication health snapshot returned by get_turso_status.
type Status struct {
	Enabled   bool       `json:"enabled"`
	Synced    int        `json:"synced"`
	Unsynced  int        `json:"unsynced"`
	QueueSize int        `json:"queue_size"`
	LastSync  *time.Time `json:"last_sync,omitempty"`
}

// auditor receives permanent-failure records. Satisfied by the audit log.
type auditor interface {
	Record(operation string, details map[string]interface{})
}

type syncStore interface {
	MarkSynced(ctx context.Context, id string, synced bool) error
	ListUnsynced(ctx context.Context) ([]types.Episode, error)
	Statistics(ctx context.Context) (*types.Statistics, error)
}

// Replicator drains an in-memory queue of episode changes to the remote
// endpoint. A single worker preserves FIFO order per episode id; permanent
// failures are audited and dropped, transient failures back off and retry
// without bound. Replication never blocks or fails the local write path.
type Replicator struct {
	client *Client
	store  syncStore
	audit  auditor
	log    *log.Logger

	batchSize      int
	initialBackoff time.Duration
	maxBackoff     time.Duration

	mu       sync.Mutex
	queue    []Item
	lastSync *time.Time

	started bool
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// ReplicatorConfig tunes queue drain behaviour. Zero values take defaults.
type ReplicatorConfig struct {
	BatchSize      int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// NewReplicator builds a replicator. audit may be nil; store must not be.
func NewReplicator(client *Client, store syncStore, audit auditor, cfg ReplicatorConfig, logger *log.Logger) *Replicator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Replicator{
		client:         client,
		store:          store,
		audit:          audit,
		log:            logger,
		batchSize:      cfg.BatchSize,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		wake:           make(chan struct{}, 1),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// Start launches the drain worker and bootstraps the remote schema. A failed
// bootstrap is logged and retried lazily on the first drain.
func (r *Replicator) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	go func() {
		defer close(r.done)

		ctx := context.Background()
		if err := r.client.Bootstrap(ctx); err != nil {
			r.log.Printf("[turso] remote bootstrap deferred: %v", err)
		}
		r.run(ctx)
	}()
}

// Stop shuts the worker down and waits for the in-flight batch to finish.
// Queued items that have not been delivered stay unsynced locally and are
// recovered by sync_all on the next start.
func (r *Replicator) Stop() {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()

	r.once.Do(func() { close(r.stop) })
	if started {
		<-r.done
	}
}

// Enqueue appends one change to the queue. Called by the service after the
// local commit; never blocks.
func (r *Replicator) Enqueue(item Item) {
	r.mu.Lock()
	r.queue = append(r.queue, item)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// SyncAll scans every unsynced row and enqueues it. Returns the number of
// episodes scheduled, not the number delivered.
func (r *Replicator) SyncAll(ctx context.Context) (int, error) {
	episodes, err := r.store.ListUnsynced(ctx)
	if err != nil {
		return 0, err
	}
	for _, ep := range episodes {
		op := OpUpsert
		if ep.Deleted {
			op = OpDelete
		}
		r.Enqueue(Item{ID: ep.ID, Op: op, Episode: ep})
	}
	return len(episodes), nil
}

// Status reports replication health.
func (r *Replicator) Status(ctx context.Context) (*Status, error) {
	stats, err := r.store.Statistics(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	queueSize := len(r.queue)
	lastSync := r.lastSync
	r.mu.Unlock()

	return &Status{
		Enabled:   true,
		Synced:    stats.Synced,
		Unsynced:  stats.Unsynced,
		QueueSize: queueSize,
		LastSync:  lastSync,
	}, nil
}

// run is the drain loop. The worker deliberately runs on a background
// context: caller cancellation must not abandon committed local writes.
func (r *Replicator) run(ctx context.Context) {
	backoff := r.initialBackoff
	for {
		select {
		case <-r.stop:
			return
		case <-r.wake:
		}

		for {
			batch := r.takeBatch()
			if len(batch) == 0 {
				break
			}

			retry := r.deliverBatch(ctx, batch)
			if len(retry) > 0 {
				r.requeueFront(retry)
				select {
				case <-r.stop:
					return
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > r.maxBackoff {
					backoff = r.maxBackoff
				}
				continue
			}
			backoff = r.initialBackoff
		}
	}
}

func (r *Replicator) takeBatch() []Item {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.queue)
	if n == 0 {
		return nil
	}
	if n > r.batchSize {
		n = r.batchSize
	}
	batch := make([]Item, n)
	copy(batch, r.queue[:n])
	r.queue = r.queue[n:]
	return batch
}

func (r *Replicator) requeueFront(items []Item) {
	r.mu.Lock()
	r.queue = append(items, r.queue...)
	r.mu.Unlock()
}

// deliverBatch sends each item. On the first transient failure it returns
// the failed item plus the rest of the batch so per-id order is preserved.
func (r *Replicator) deliverBatch(ctx context.Context, batch []Item) (retry []Item) {
	for i, item := range batch {
		err := r.deliver(ctx, item)
		if err == nil {
			if markErr := r.store.MarkSynced(ctx, item.ID, true); markErr != nil {
				r.log.Printf("[turso] mark synced %s: %v", item.ID, markErr)
			}
			now := time.Now()
			r.mu.Lock()
			r.lastSync = &now
			r.mu.Unlock()
			continue
		}

		if IsPermanent(err) {
			r.log.Printf("[turso] permanent failure for %s, dropping: %v", item.ID, err)
			if r.audit != nil {
				r.audit.Record("turso_sync_failed", map[string]interface{}{
					"episode_id": item.ID,
					"operation":  string(item.Op),
					"error":      err.Error(),
				})
			}
			continue
		}

		if !errors.Is(err, storage.ErrRemoteUnavailable) {
			r.log.Printf("[turso] unexpected delivery error for %s: %v", item.ID, err)
		}
		return batch[i:]
	}
	return nil
}

func (r *Replicator) deliver(ctx context.Context, item Item) error {
	switch item.Op {
	case OpDelete:
		return r.client.Execute(ctx, []Stmt{{
			SQL:  "UPDATE episodes SET deleted = 1, version = ?, updated_at = ? WHERE id = ?",
			Args: []interface{}{item.Episode.Version, item.Episode.UpdatedAt, item.ID},
		}})
	default:
		ep := item.Episode
		var metadataJSON interface{}
		if ep.Metadata != nil {
			b, err := json.Marshal(ep.Metadata)
			if err != nil {
				return &PermanentError{Message: "encode metadata: " + err.Error()}
			}
			metadataJSON = string(b)
		}
		return r.client.Execute(ctx, []Stmt{{
			SQL: `INSERT OR REPLACE INTO episodes
				(id, name, content, metadata, category, priority, created_at, updated_at, version, deleted, checksum)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			Args: []interface{}{
				ep.ID, ep.Name, ep.Content, metadataJSON, ep.Category, ep.Priority,
				ep.CreatedAt, ep.UpdatedAt, ep.Version, ep.Deleted, ep.Checksum,
			},
		}})
	}
}
