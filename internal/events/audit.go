// Package events covers the side channels of a mutation: the append-only
// audit log, webhook delivery, and cross-process change notification.
package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/engram-sh/engram/pkg/types"
)

// AuditFileName is the operation log file under the data directory.
const AuditFileName = "audit.log"

// AuditLog appends one JSON object per mutation to a file that is never
// rewritten in place. It is the canonical source for get_logs and feeds the
// webhook payloads.
type AuditLog struct {
	path string
	mu   sync.Mutex
	log  *log.Logger
}

// NewAuditLog creates an audit log under dataDir.
func NewAuditLog(dataDir string, logger *log.Logger) *AuditLog {
	if logger == nil {
		logger = log.Default()
	}
	return &AuditLog{
		path: filepath.Join(dataDir, AuditFileName),
		log:  logger,
	}
}

// Path returns the log file location.
func (a *AuditLog) Path() string {
	return a.path
}

// Append writes one entry. The timestamp is stamped here when zero.
func (a *AuditLog) Append(entry types.AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0o700); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// Record is the fire-and-forget form used by callers that must never fail on
// audit problems (the replicator, the service write path).
func (a *AuditLog) Record(operation string, details map[string]interface{}) {
	if err := a.Append(types.AuditEntry{Operation: operation, Details: details}); err != nil {
		a.log.Printf("[audit] record %s: %v", operation, err)
	}
}

// Tail returns the most recent limit entries, newest last. A missing file is
// an empty log, not an error.
func (a *AuditLog) Tail(limit int) ([]types.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.Open(a.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var entries []types.AuditEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry types.AuditEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			// A torn final line from a crashed process is skipped, not fatal.
			a.log.Printf("[audit] skipping malformed line: %v", err)
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}
