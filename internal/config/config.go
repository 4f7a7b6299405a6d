// Package config loads engram settings from an optional YAML file and
// environment variables with the ENGRAM_ prefix. Environment variables win
// over the file; the file wins over defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the engram binaries read.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Turso     TursoConfig     `yaml:"turso"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Search    SearchConfig    `yaml:"search"`
	Backup    BackupConfig    `yaml:"backup"`
}

// StorageConfig locates the local database.
type StorageConfig struct {
	// DataDir is the root for the database, the audit log, change files,
	// and backups. Default: ~/.engram
	DataDir string `yaml:"data_dir"`

	// DBFile is the database filename inside DataDir.
	DBFile string `yaml:"db_file"`
}

// EmbeddingConfig tunes the provider-backed embedding cache. The inline
// episode embedding is fixed-dimension and not configurable.
type EmbeddingConfig struct {
	// Backend selects the cache store: "sqlite" (default) or "postgres".
	Backend string `yaml:"backend"`

	// PostgresDSN is required when Backend is "postgres".
	PostgresDSN string `yaml:"postgres_dsn"`

	// Provider selects the embedder: "hash" (default, deterministic) or
	// "ollama".
	Provider string `yaml:"provider"`

	// OllamaURL and OllamaModel configure the ollama provider.
	OllamaURL   string `yaml:"ollama_url"`
	OllamaModel string `yaml:"ollama_model"`

	// Dimension is the cache vector dimension.
	Dimension int `yaml:"dimension"`

	// ProviderTimeout bounds one embed call.
	ProviderTimeout time.Duration `yaml:"provider_timeout"`
}

// TursoConfig configures remote replication. Empty URL disables it.
type TursoConfig struct {
	URL       string        `yaml:"url"`
	AuthToken string        `yaml:"auth_token"`
	Timeout   time.Duration `yaml:"timeout"`

	BatchSize      int           `yaml:"batch_size"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// Enabled reports whether replication is configured.
func (c TursoConfig) Enabled() bool {
	return c.URL != ""
}

// WebhookConfig tunes event delivery.
type WebhookConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// SearchConfig tunes the result cache.
type SearchConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// BackupConfig tunes snapshots.
type BackupConfig struct {
	Dir string `yaml:"dir"`

	// MaxBackups caps stored snapshots; 0 keeps everything.
	MaxBackups int `yaml:"max_backups"`
}

// DBPath returns the full database file path.
func (c *Config) DBPath() string {
	return filepath.Join(c.Storage.DataDir, c.Storage.DBFile)
}

// ConfigFileName is the default YAML file looked up inside the data dir.
const ConfigFileName = "engram.yaml"

// Load builds the configuration: defaults, then the YAML file (ENGRAM_CONFIG
// or {data_dir}/engram.yaml when present), then environment overrides.
func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("ENGRAM_CONFIG")
	explicit := path != ""
	if !explicit {
		path = filepath.Join(dataDirFromEnv(), ConfigFileName)
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// No file is the common case.
	default:
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	applyEnv(cfg)
	normalize(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
			DBFile:  "engram.db",
		},
		Embedding: EmbeddingConfig{
			Backend:         "sqlite",
			Provider:        "hash",
			OllamaURL:       "http://localhost:11434",
			OllamaModel:     "nomic-embed-text",
			Dimension:       384,
			ProviderTimeout: 30 * time.Second,
		},
		Turso: TursoConfig{
			Timeout:        10 * time.Second,
			BatchSize:      10,
			InitialBackoff: 1 * time.Second,
			MaxBackoff:     60 * time.Second,
		},
		Webhook: WebhookConfig{
			Timeout: 2 * time.Second,
		},
		Search: SearchConfig{
			CacheTTL: 5 * time.Minute,
		},
		Backup: BackupConfig{
			MaxBackups: 10,
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Storage.DataDir = getEnv("ENGRAM_DATA_DIR", cfg.Storage.DataDir)
	cfg.Storage.DBFile = getEnv("ENGRAM_DB_FILE", cfg.Storage.DBFile)

	cfg.Embedding.Backend = getEnv("ENGRAM_EMBED_BACKEND", cfg.Embedding.Backend)
	cfg.Embedding.PostgresDSN = getEnv("ENGRAM_EMBED_POSTGRES_DSN", cfg.Embedding.PostgresDSN)
	cfg.Embedding.Provider = getEnv("ENGRAM_EMBED_PROVIDER", cfg.Embedding.Provider)
	cfg.Embedding.OllamaURL = getEnv("ENGRAM_OLLAMA_URL", cfg.Embedding.OllamaURL)
	cfg.Embedding.OllamaModel = getEnv("ENGRAM_OLLAMA_MODEL", cfg.Embedding.OllamaModel)
	cfg.Embedding.Dimension = getEnvInt("ENGRAM_EMBED_DIMENSION", cfg.Embedding.Dimension)
	cfg.Embedding.ProviderTimeout = getEnvDuration("ENGRAM_EMBED_TIMEOUT", cfg.Embedding.ProviderTimeout)

	cfg.Turso.URL = getEnv("ENGRAM_TURSO_URL", cfg.Turso.URL)
	cfg.Turso.AuthToken = getEnv("ENGRAM_TURSO_AUTH_TOKEN", cfg.Turso.AuthToken)
	cfg.Turso.Timeout = getEnvDuration("ENGRAM_TURSO_TIMEOUT", cfg.Turso.Timeout)
	cfg.Turso.BatchSize = getEnvInt("ENGRAM_TURSO_BATCH_SIZE", cfg.Turso.BatchSize)
	cfg.Turso.InitialBackoff = getEnvDuration("ENGRAM_TURSO_INITIAL_BACKOFF", cfg.Turso.InitialBackoff)
	cfg.Turso.MaxBackoff = getEnvDuration("ENGRAM_TURSO_MAX_BACKOFF", cfg.Turso.MaxBackoff)

	cfg.Webhook.Timeout = getEnvDuration("ENGRAM_WEBHOOK_TIMEOUT", cfg.Webhook.Timeout)
	cfg.Search.CacheTTL = getEnvDuration("ENGRAM_SEARCH_CACHE_TTL", cfg.Search.CacheTTL)

	cfg.Backup.Dir = getEnv("ENGRAM_BACKUP_DIR", cfg.Backup.Dir)
	cfg.Backup.MaxBackups = getEnvInt("ENGRAM_BACKUP_MAX", cfg.Backup.MaxBackups)
}

func normalize(cfg *Config) {
	if cfg.Backup.Dir == "" {
		cfg.Backup.Dir = filepath.Join(cfg.Storage.DataDir, "backups")
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".engram"
	}
	return filepath.Join(home, ".engram")
}

func dataDirFromEnv() string {
	if dir := os.Getenv("ENGRAM_DATA_DIR"); dir != "" {
		return dir
	}
	return defaultDataDir()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
