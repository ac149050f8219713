package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	// DefaultUserID is the user the CLI acts as when --user is not given.
	DefaultUserID string `json:"default_user_id,omitempty"`

	// RedisURL selects the Redis pub/sub broker for live updates
	// (e.g. redis://localhost:6379/0). Empty means an in-process hub, which
	// only fans out to subscribers inside the same process.
	RedisURL string `json:"redis_url,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`

	// WebhookTimeoutSeconds bounds each outbound webhook/integration request.
	WebhookTimeoutSeconds int `json:"webhook_timeout_seconds,omitempty"`

	// HistoryBufferSize caps the in-memory history buffer of a live session.
	HistoryBufferSize int `json:"history_buffer_size,omitempty"`

	// HistoryLoadLimit is how many history entries a session loads on subscribe.
	HistoryLoadLimit int `json:"history_load_limit,omitempty"`

	// HookCacheTTLSeconds caches each user's active hooks for this long.
	// 0 disables caching, so hook edits take effect on the very next update.
	HookCacheTTLSeconds int `json:"hook_cache_ttl_seconds,omitempty"`

	// IntegrationEndpoints maps an integration service (slack, discord, teams,
	// calendar) to the URL its status payloads are POSTed to. Services without
	// an endpoint are logged only.
	IntegrationEndpoints map[string]string `json:"integration_endpoints,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is locked" errors).
	// 0 means use sql.DB default (unlimited). Only set if you experience contention.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of type names to disable entirely.
	// Known types: "context", "hook". Unknown type names are logged as warnings.
	DisabledTypes []string `json:"disabled_types,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:              "info",
		WebhookTimeoutSeconds: 10,
		HistoryBufferSize:     50,
		HistoryLoadLimit:      20,
	}
}

// WebhookTimeout returns the outbound request timeout as a duration.
func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.WebhookTimeoutSeconds) * time.Second
}

// HookCacheTTL returns the hook cache TTL as a duration.
func (c *Config) HookCacheTTL() time.Duration {
	return time.Duration(c.HookCacheTTLSeconds) * time.Second
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.beacon.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.beacon) and repo (.beacon) directories.
// Repo config is found by walking upward from startDir to find the nearest .beacon/config.json.
// Repo config takes precedence for scalar values; arrays and maps are merged.
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repoConfigPath := FindRepoConfig(startDir)
	repo, err := loadFileRaw(repoConfigPath)
	if err != nil {
		return nil, err
	}

	// Apply defaults, then global, then repo
	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .beacon/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".beacon", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// ApplyEnv loads baseDir/.env (if present) into the process environment and
// applies BEACON_* overrides on top of cfg. Variables already set in the
// environment win over the .env file.
func ApplyEnv(cfg *Config, baseDir string) error {
	envPath := filepath.Join(baseDir, ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return err
		}
	}

	if v := strings.TrimSpace(os.Getenv("BEACON_REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("BEACON_LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("BEACON_USER_ID")); v != "" {
		cfg.DefaultUserID = v
	}
	return nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated;
// map entries from overlay replace base entries with the same key.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.DefaultUserID = pickString(overlay.DefaultUserID, base.DefaultUserID)
	result.RedisURL = pickString(overlay.RedisURL, base.RedisURL)
	result.LogLevel = pickString(overlay.LogLevel, base.LogLevel)

	result.WebhookTimeoutSeconds = pickInt(overlay.WebhookTimeoutSeconds, base.WebhookTimeoutSeconds)
	result.HistoryBufferSize = pickInt(overlay.HistoryBufferSize, base.HistoryBufferSize)
	result.HistoryLoadLimit = pickInt(overlay.HistoryLoadLimit, base.HistoryLoadLimit)
	result.HookCacheTTLSeconds = pickInt(overlay.HookCacheTTLSeconds, base.HookCacheTTLSeconds)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	result.IntegrationEndpoints = mergeStringMap(base.IntegrationEndpoints, overlay.IntegrationEndpoints)

	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	return result
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringMap combines two maps with overlay keys winning. Keys and values
// are trimmed; empty keys are dropped.
func mergeStringMap(a, b map[string]string) map[string]string {
	result := make(map[string]string, len(a)+len(b))
	for _, m := range []map[string]string{a, b} {
		for k, v := range m {
			k = strings.ToLower(strings.TrimSpace(k))
			if k == "" {
				continue
			}
			result[k] = strings.TrimSpace(v)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
