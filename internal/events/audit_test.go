package events

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/engram-sh/engram/pkg/types"
)

func TestAuditLog_AppendAndTail(t *testing.T) {
	audit := NewAuditLog(t.TempDir(), nil)

	for _, op := range []string{"add_episode", "update_episode", "remove_episode"} {
		if err := audit.Append(types.AuditEntry{
			Operation: op,
			Details:   map[string]interface{}{"episode_id": "ep_1"},
		}); err != nil {
			t.Fatalf("Append %s failed: %v", op, err)
		}
	}

	entries, err := audit.Tail(50)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Operation != "add_episode" || entries[2].Operation != "remove_episode" {
		t.Errorf("entries out of order: %+v", entries)
	}
	if entries[0].Timestamp.IsZero() {
		t.Error("expected timestamp to be stamped on append")
	}
}

func TestAuditLog_TailLimit(t *testing.T) {
	audit := NewAuditLog(t.TempDir(), nil)

	for i := 0; i < 10; i++ {
		audit.Record("op", map[string]interface{}{"n": i})
	}

	entries, err := audit.Tail(3)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	// The tail keeps the newest entries.
	if n := entries[2].Details.(map[string]interface{})["n"].(float64); n != 9 {
		t.Errorf("expected last entry n=9, got %v", n)
	}
}

func TestAuditLog_MissingFileIsEmpty(t *testing.T) {
	audit := NewAuditLog(t.TempDir(), nil)

	entries, err := audit.Tail(10)
	if err != nil {
		t.Fatalf("Tail on missing file failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}

func TestAuditLog_SkipsTornLine(t *testing.T) {
	dir := t.TempDir()
	audit := NewAuditLog(dir, nil)

	audit.Record("first", nil)
	audit.Record("second", nil)

	// Simulate a process killed mid-write: a partial final line.
	f, err := os.OpenFile(filepath.Join(dir, AuditFileName), os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := f.WriteString(`{"operation":"torn`); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	f.Close()

	entries, err := audit.Tail(10)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("torn line must be skipped, got %d entries", len(entries))
	}
	if entries[1].Operation != "second" {
		t.Errorf("unexpected final entry: %+v", entries[1])
	}
}
