package events

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// The CLI and the MCP server can run against the same database file at the
// same time. Change files under {dataDir}/changes/ tell the other process to
// drop its search result cache; fsnotify delivers them without polling.

// ChangeEvent is the payload written to a change file.
type ChangeEvent struct {
	Operation string `json:"operation"`
	EpisodeID string `json:"episode_id,omitempty"`
	Time      int64  `json:"time"`
}

// ChangeWriter emits change files to the shared directory.
type ChangeWriter struct {
	dir string
}

// NewChangeWriter creates a writer under {dataDir}/changes/.
func NewChangeWriter(dataDir string) *ChangeWriter {
	return &ChangeWriter{dir: filepath.Join(dataDir, "changes")}
}

// Notify writes one change file. Safe to call concurrently; errors are
// returned but callers treat them as non-fatal.
func (w *ChangeWriter) Notify(operation, episodeID string) error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("notify: mkdir %s: %w", w.dir, err)
	}
	evt := ChangeEvent{
		Operation: operation,
		EpisodeID: episodeID,
		Time:      time.Now().UnixNano(),
	}
	data, _ := json.Marshal(evt)
	filename := fmt.Sprintf("%d-%s.change", evt.Time, sanitizeID(episodeID))
	return os.WriteFile(filepath.Join(w.dir, filename), data, 0o600)
}

// sanitizeID replaces characters unsafe for filenames.
func sanitizeID(id string) string {
	out := make([]byte, len(id))
	for i := 0; i < len(id); i++ {
		if id[i] == '/' || id[i] == ':' {
			out[i] = '_'
		} else {
			out[i] = id[i]
		}
	}
	return string(out)
}

// ChangeWatcher watches the changes directory and dispatches callbacks.
type ChangeWatcher struct {
	dir      string
	callback func(operation, episodeID string)
	watcher  *fsnotify.Watcher
	log      *log.Logger
	done     chan struct{}
}

// NewChangeWatcher creates a watcher for {dataDir}/changes/.
func NewChangeWatcher(dataDir string, callback func(operation, episodeID string), logger *log.Logger) *ChangeWatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &ChangeWatcher{
		dir:      filepath.Join(dataDir, "changes"),
		callback: callback,
		log:      logger,
		done:     make(chan struct{}),
	}
}

// Start drains any existing change files, then watches for new ones.
// Call Stop to clean up.
func (cw *ChangeWatcher) Start() error {
	if err := os.MkdirAll(cw.dir, 0o700); err != nil {
		return err
	}

	cw.drainExisting()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(cw.dir); err != nil {
		_ = w.Close()
		return err
	}
	cw.watcher = w

	go cw.loop()
	return nil
}

// Stop shuts down the watcher. A watcher that never started is a no-op.
func (cw *ChangeWatcher) Stop() {
	if cw.watcher == nil {
		return
	}
	_ = cw.watcher.Close()
	<-cw.done
}

func (cw *ChangeWatcher) loop() {
	defer close(cw.done)
	for {
		select {
		case evt, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&fsnotify.Create != 0 && strings.HasSuffix(evt.Name, ".change") {
				cw.processFile(evt.Name)
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.log.Printf("[notify] watcher error: %v", err)
		}
	}
}

func (cw *ChangeWatcher) drainExisting() {
	entries, err := os.ReadDir(cw.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".change") {
			cw.processFile(filepath.Join(cw.dir, entry.Name()))
		}
	}
}

func (cw *ChangeWatcher) processFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // already consumed by another process
	}
	_ = os.Remove(path)

	var event ChangeEvent
	if err := json.Unmarshal(data, &event); err != nil {
		cw.log.Printf("[notify] invalid change file %s: %v", filepath.Base(path), err)
		return
	}

	if cw.callback != nil {
		cw.callback(event.Operation, event.EpisodeID)
	}
}
