package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/beacon/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 2

// FileName is the database file inside the base directory.
const FileName = "beacon.db"

// Init initializes the SQLite database at baseDir/beacon.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.beacon.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	// Explicit chmod (best-effort, may not work on all platforms)
	_ = os.Chmod(baseDir, 0700)

	// Open database with pragmas in connection string (applies to all connections)
	dbPath := filepath.Join(baseDir, FileName)
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify WAL mode is active
	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations (this creates the file if it doesn't exist)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	// Set file permissions after file exists (best-effort)
	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
// Call after Init if you need to tune pool behavior for contention.
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: Initial schema (v1)
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS context_capsules (
		  id                       TEXT PRIMARY KEY,
		  user_id                  TEXT NOT NULL,
		  availability_status      TEXT NOT NULL,
		  energy_level             INTEGER NOT NULL,
		  timezone                 TEXT NOT NULL,
		  focus_session_active     INTEGER NOT NULL DEFAULT 0,
		  focus_session_duration   INTEGER NOT NULL,
		  focus_session_start_time INTEGER,
		  privacy_scope            TEXT NOT NULL,
		  created_at               INTEGER NOT NULL,
		  updated_at               INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_context_capsules_user_updated
		ON context_capsules(user_id, updated_at DESC);

		CREATE TABLE IF NOT EXISTS context_history (
		  id            TEXT PRIMARY KEY,
		  user_id       TEXT NOT NULL,
		  capsule_id    TEXT NOT NULL,
		  field_changed TEXT NOT NULL,
		  old_value     TEXT,
		  new_value     TEXT,
		  timestamp     INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_context_history_user_ts
		ON context_history(user_id, timestamp DESC);

		CREATE TABLE IF NOT EXISTS action_hooks (
		  id                TEXT PRIMARY KEY,
		  user_id           TEXT NOT NULL,
		  name              TEXT NOT NULL,
		  trigger_condition TEXT NOT NULL,
		  action_type       TEXT NOT NULL,
		  action_config     TEXT NOT NULL,
		  is_active         INTEGER NOT NULL DEFAULT 1,
		  created_at        INTEGER NOT NULL,
		  updated_at        INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_action_hooks_user_active
		ON action_hooks(user_id, is_active, created_at);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Migration 1 -> 2: one capsule per user. Older duplicates are dropped.
	if version < 2 {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migration 2 failed: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`
		DELETE FROM context_capsules WHERE id NOT IN (
		  SELECT id FROM (
		    SELECT id, ROW_NUMBER() OVER (PARTITION BY user_id ORDER BY updated_at DESC, id DESC) AS rn
		    FROM context_capsules
		  ) WHERE rn = 1
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_context_capsules_user
		ON context_capsules(user_id);
		`); err != nil {
			return fmt.Errorf("migration 2 failed: %w", err)
		}
		if _, err := tx.Exec("PRAGMA user_version=2"); err != nil {
			return fmt.Errorf("failed to set user_version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration 2 failed: %w", err)
		}
	}

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
