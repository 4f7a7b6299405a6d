package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENGRAM_DATA_DIR", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Storage.DBFile != "engram.db" {
		t.Errorf("unexpected db file: %s", cfg.Storage.DBFile)
	}
	if cfg.Embedding.Backend != "sqlite" || cfg.Embedding.Provider != "hash" {
		t.Errorf("unexpected embedding defaults: %+v", cfg.Embedding)
	}
	if cfg.Embedding.Dimension != 384 {
		t.Errorf("expected dimension 384, got %d", cfg.Embedding.Dimension)
	}
	if cfg.Turso.Enabled() {
		t.Error("replication must be disabled without a URL")
	}
	if cfg.Turso.BatchSize != 10 || cfg.Turso.InitialBackoff != time.Second || cfg.Turso.MaxBackoff != time.Minute {
		t.Errorf("unexpected turso defaults: %+v", cfg.Turso)
	}
	if cfg.Search.CacheTTL != 5*time.Minute {
		t.Errorf("expected 5m cache TTL, got %v", cfg.Search.CacheTTL)
	}
	if cfg.Backup.Dir != filepath.Join(cfg.Storage.DataDir, "backups") {
		t.Errorf("backup dir must default under the data dir, got %s", cfg.Backup.Dir)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ENGRAM_DATA_DIR", dir)

	yaml := `
storage:
  db_file: custom.db
embedding:
  provider: ollama
  dimension: 768
turso:
  url: https://db.example.turso.io
  auth_token: tok
search:
  cache_ttl: 30s
`
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.DBFile != "custom.db" {
		t.Errorf("file value not applied: %s", cfg.Storage.DBFile)
	}
	if cfg.Embedding.Provider != "ollama" || cfg.Embedding.Dimension != 768 {
		t.Errorf("embedding overrides not applied: %+v", cfg.Embedding)
	}
	if !cfg.Turso.Enabled() || cfg.Turso.AuthToken != "tok" {
		t.Errorf("turso overrides not applied: %+v", cfg.Turso)
	}
	if cfg.Search.CacheTTL != 30*time.Second {
		t.Errorf("expected 30s TTL, got %v", cfg.Search.CacheTTL)
	}
	// Untouched values keep their defaults.
	if cfg.Turso.BatchSize != 10 {
		t.Errorf("expected default batch size, got %d", cfg.Turso.BatchSize)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ENGRAM_DATA_DIR", dir)

	yaml := "storage:\n  db_file: from-file.db\n"
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("ENGRAM_DB_FILE", "from-env.db")
	t.Setenv("ENGRAM_TURSO_URL", "https://env.example.turso.io")
	t.Setenv("ENGRAM_EMBED_DIMENSION", "512")
	t.Setenv("ENGRAM_SEARCH_CACHE_TTL", "90s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.DBFile != "from-env.db" {
		t.Errorf("environment must win over the file, got %s", cfg.Storage.DBFile)
	}
	if cfg.Turso.URL != "https://env.example.turso.io" {
		t.Errorf("turso URL not applied: %s", cfg.Turso.URL)
	}
	if cfg.Embedding.Dimension != 512 {
		t.Errorf("dimension not applied: %d", cfg.Embedding.Dimension)
	}
	if cfg.Search.CacheTTL != 90*time.Second {
		t.Errorf("TTL not applied: %v", cfg.Search.CacheTTL)
	}
}

func TestLoad_ExplicitConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ENGRAM_DATA_DIR", dir)

	path := filepath.Join(dir, "elsewhere.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  db_file: explicit.db\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ENGRAM_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.DBFile != "explicit.db" {
		t.Errorf("explicit config file not used: %s", cfg.Storage.DBFile)
	}

	// An explicit path that does not exist is an error, unlike the default.
	t.Setenv("ENGRAM_CONFIG", filepath.Join(dir, "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ENGRAM_DATA_DIR", dir)

	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("{not yaml"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(); err == nil {
		t.Error("expected error for malformed config file")
	}
}

func TestDBPath(t *testing.T) {
	cfg := &Config{Storage: StorageConfig{DataDir: "/data", DBFile: "engram.db"}}
	if got := cfg.DBPath(); got != filepath.Join("/data", "engram.db") {
		t.Errorf("unexpected db path: %s", got)
	}
}
