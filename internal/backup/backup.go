// Package backup creates and restores consistent snapshots of the episode
// database with integrity verification.
package backup

import (
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // database/sql driver
)

const backupPrefix = "engram-backup-"

// Info describes one stored backup file.
type Info struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

// Result describes a completed backup.
type Result struct {
	Path     string        `json:"path"`
	Size     int64         `json:"size"`
	Duration time.Duration `json:"duration"`
	Verified bool          `json:"verified"`
}

// Manager snapshots the database into a backup directory. VACUUM INTO gives
// a consistent point-in-time copy even with WAL mode active.
type Manager struct {
	dbPath     string
	backupDir  string
	maxBackups int
	log        *log.Logger
}

// NewManager creates a backup manager. maxBackups <= 0 disables pruning.
func NewManager(dbPath, backupDir string, maxBackups int, logger *log.Logger) (*Manager, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if backupDir == "" {
		return nil, fmt.Errorf("backup directory is required")
	}
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		dbPath:     dbPath,
		backupDir:  backupDir,
		maxBackups: maxBackups,
		log:        logger,
	}, nil
}

// BackupNow snapshots the database to a timestamped file under the backup
// directory, or to destPath when given, and verifies the copy.
func (m *Manager) BackupNow(destPath string) (*Result, error) {
	start := time.Now()

	if _, err := os.Stat(m.dbPath); err != nil {
		return nil, fmt.Errorf("database not found: %w", err)
	}

	if destPath == "" {
		stamp := time.Now().Format("20060102-150405.000000")
		destPath = filepath.Join(m.backupDir, backupPrefix+stamp+".db")
	}

	if err := snapshotSQLite(m.dbPath, destPath); err != nil {
		return nil, err
	}
	if err := verifySQLite(destPath); err != nil {
		_ = os.Remove(destPath)
		return nil, fmt.Errorf("backup verification failed: %w", err)
	}

	info, err := os.Stat(destPath)
	if err != nil {
		return nil, fmt.Errorf("stat backup: %w", err)
	}

	if m.maxBackups > 0 {
		if err := m.prune(); err != nil {
			m.log.Printf("[backup] prune: %v", err)
		}
	}

	return &Result{
		Path:     destPath,
		Size:     info.Size(),
		Duration: time.Since(start),
		Verified: true,
	}, nil
}

// Restore replaces the live database file with a verified backup. The store
// must be closed before calling this.
func (m *Manager) Restore(backupPath string) error {
	if err := verifySQLite(backupPath); err != nil {
		return fmt.Errorf("backup verification failed: %w", err)
	}

	src, err := os.Open(backupPath)
	if err != nil {
		return fmt.Errorf("open backup: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(m.dbPath)
	if err != nil {
		return fmt.Errorf("create target: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy backup: %w", err)
	}
	if err := dst.Sync(); err != nil {
		return fmt.Errorf("sync target: %w", err)
	}

	// Stale WAL sidecars from the replaced database must not shadow the
	// restored file.
	_ = os.Remove(m.dbPath + "-wal")
	_ = os.Remove(m.dbPath + "-shm")

	if err := verifySQLite(m.dbPath); err != nil {
		return fmt.Errorf("restored database verification failed: %w", err)
	}
	return nil
}

// List returns stored backups, newest first.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	var backups []Info
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, ".db") {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, Info{
			Path:      filepath.Join(m.backupDir, name),
			Timestamp: fi.ModTime(),
			Size:      fi.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// prune removes the oldest backups beyond maxBackups.
func (m *Manager) prune() error {
	backups, err := m.List()
	if err != nil {
		return err
	}
	for _, old := range backups[minInt(len(backups), m.maxBackups):] {
		if err := os.Remove(old.Path); err != nil {
			return err
		}
		m.log.Printf("[backup] pruned %s", filepath.Base(old.Path))
	}
	return nil
}

func snapshotSQLite(sourcePath, destPath string) error {
	sourceDB, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", sourcePath))
	if err != nil {
		return fmt.Errorf("open source database: %w", err)
	}
	defer func() { _ = sourceDB.Close() }()

	if err := sourceDB.Ping(); err != nil {
		return fmt.Errorf("ping source database: %w", err)
	}

	if _, err := sourceDB.Exec(fmt.Sprintf("VACUUM INTO '%s'", destPath)); err != nil {
		return fmt.Errorf("vacuum into backup: %w", err)
	}
	return nil
}

func verifySQLite(path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("run integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
