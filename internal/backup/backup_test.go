package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/engram-sh/engram/internal/storage"
	"github.com/engram-sh/engram/internal/storage/sqlite"
	"github.com/engram-sh/engram/pkg/types"
)

// newTestDB creates a populated database file and returns its path.
func newTestDB(t *testing.T, dir string, episodes ...string) string {
	t.Helper()
	dbPath := filepath.Join(dir, "engram.db")
	store, err := sqlite.NewStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	for _, name := range episodes {
		ep := &types.Episode{Name: name, Content: "content of " + name}
		if err := store.Insert(context.Background(), ep); err != nil {
			t.Fatalf("failed to insert %q: %v", name, err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
	return dbPath
}

func TestBackupNow_SnapshotAndVerify(t *testing.T) {
	dir := t.TempDir()
	dbPath := newTestDB(t, dir, "first", "second")

	manager, err := NewManager(dbPath, filepath.Join(dir, "backups"), 10, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	result, err := manager.BackupNow("")
	if err != nil {
		t.Fatalf("BackupNow failed: %v", err)
	}
	if !result.Verified {
		t.Error("expected backup to be verified")
	}
	if result.Size == 0 {
		t.Error("expected non-empty backup")
	}
	if _, err := os.Stat(result.Path); err != nil {
		t.Errorf("backup file missing: %v", err)
	}

	// The snapshot is a readable database with the data intact.
	snap, err := sqlite.NewStore(result.Path)
	if err != nil {
		t.Fatalf("failed to open snapshot: %v", err)
	}
	defer snap.Close()
	stats, err := snap.Statistics(context.Background())
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	if stats.Episodes != 2 {
		t.Errorf("expected 2 episodes in snapshot, got %d", stats.Episodes)
	}
}

func TestBackupNow_ExplicitDestination(t *testing.T) {
	dir := t.TempDir()
	dbPath := newTestDB(t, dir, "only")

	manager, err := NewManager(dbPath, filepath.Join(dir, "backups"), 0, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	dest := filepath.Join(dir, "custom.db")
	result, err := manager.BackupNow(dest)
	if err != nil {
		t.Fatalf("BackupNow failed: %v", err)
	}
	if result.Path != dest {
		t.Errorf("expected backup at %s, got %s", dest, result.Path)
	}
}

func TestRestore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	dbPath := newTestDB(t, dir, "keep-me")

	manager, err := NewManager(dbPath, filepath.Join(dir, "backups"), 10, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	result, err := manager.BackupNow("")
	if err != nil {
		t.Fatalf("BackupNow failed: %v", err)
	}

	// Lose the data after the backup.
	store, err := sqlite.NewStore(dbPath)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	ctx := context.Background()
	ep := &types.Episode{Name: "lost", Content: "added after the backup"}
	if err := store.Insert(ctx, ep); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := manager.Restore(result.Path); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	restored, err := sqlite.NewStore(dbPath)
	if err != nil {
		t.Fatalf("failed to open restored database: %v", err)
	}
	defer restored.Close()
	page, err := restored.List(ctx, storage.ListOptions{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if page.Total != 1 || page.Items[0].Name != "keep-me" {
		t.Errorf("restored database has unexpected contents: %+v", page.Items)
	}
}

func TestRestore_RejectsCorruptBackup(t *testing.T) {
	dir := t.TempDir()
	dbPath := newTestDB(t, dir, "safe")

	manager, err := NewManager(dbPath, filepath.Join(dir, "backups"), 0, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	bogus := filepath.Join(dir, "bogus.db")
	if err := os.WriteFile(bogus, []byte("this is not a database"), 0o600); err != nil {
		t.Fatalf("write bogus file: %v", err)
	}

	if err := manager.Restore(bogus); err == nil {
		t.Fatal("expected restore of a corrupt file to fail")
	}

	// The live database is untouched.
	store, err := sqlite.NewStore(dbPath)
	if err != nil {
		t.Fatalf("live database damaged: %v", err)
	}
	defer store.Close()
}

func TestList_NewestFirstAndPrune(t *testing.T) {
	dir := t.TempDir()
	dbPath := newTestDB(t, dir, "a")

	manager, err := NewManager(dbPath, filepath.Join(dir, "backups"), 2, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	for i := 0; i < 4; i++ {
		if _, err := manager.BackupNow(""); err != nil {
			t.Fatalf("BackupNow %d failed: %v", i, err)
		}
	}

	backups, err := manager.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("expected pruning to keep 2 backups, got %d", len(backups))
	}
	if backups[0].Timestamp.Before(backups[1].Timestamp) {
		t.Error("expected newest backup first")
	}
}
