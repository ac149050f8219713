package db

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/beacon/internal/config"
)

func openTestDB(t *testing.T, baseDir string) *sql.DB {
	t.Helper()
	db, err := Init(baseDir)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sqliteObjectExists(t *testing.T, db *sql.DB, kind, name string) bool {
	t.Helper()
	var got string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type = ? AND name = ?", kind, name).Scan(&got)
	if err == sql.ErrNoRows {
		return false
	}
	require.NoError(t, err)
	return true
}

func TestInit_Schema(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "nested", ".beacon")
	db := openTestDB(t, baseDir)

	_, err := os.Stat(filepath.Join(baseDir, FileName))
	require.NoError(t, err, "database file should be created along with missing parents")

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode))
	require.Equal(t, "wal", journalMode)

	for _, table := range []string{"context_capsules", "context_history", "action_hooks"} {
		require.True(t, sqliteObjectExists(t, db, "table", table), "table %s", table)
	}
	for _, idx := range []string{
		"idx_context_capsules_user_updated",
		"idx_context_capsules_user",
		"idx_context_history_user_ts",
		"idx_action_hooks_user_active",
	} {
		require.True(t, sqliteObjectExists(t, db, "index", idx), "index %s", idx)
	}
}

func TestInit_Reopen(t *testing.T) {
	dir := t.TempDir()

	first, err := Init(dir)
	require.NoError(t, err)
	_, err = first.Exec(`INSERT INTO action_hooks
		(id, user_id, name, trigger_condition, action_type, action_config, is_active, created_at, updated_at)
		VALUES ('h1', 'u1', 'keep me', '{}', 'webhook', '{}', 1, 1, 1)`)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	db := openTestDB(t, dir)
	version, err := GetUserVersion(db)
	require.NoError(t, err)
	require.Equal(t, CurrentSchemaVersion, version)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM action_hooks").Scan(&count))
	require.Equal(t, 1, count, "reopening must not reset data")
}

func TestUserVersion_RoundTrip(t *testing.T) {
	db := openTestDB(t, t.TempDir())

	require.NoError(t, SetUserVersion(db, 42))
	version, err := GetUserVersion(db)
	require.NoError(t, err)
	require.Equal(t, 42, version)
}

func TestConfigurePool(t *testing.T) {
	db := openTestDB(t, t.TempDir())

	ConfigurePool(db, nil)
	ConfigurePool(db, &config.Config{})

	ConfigurePool(db, &config.Config{DBMaxOpenConns: 3, DBMaxIdleConns: 2})
	require.Equal(t, 3, db.Stats().MaxOpenConnections)
}

func TestMigrate_DedupesCapsulesPerUser(t *testing.T) {
	dir := t.TempDir()

	// Rebuild a version 1 database holding duplicate capsules.
	v1, err := Init(dir)
	require.NoError(t, err)
	_, err = v1.Exec("DROP INDEX idx_context_capsules_user")
	require.NoError(t, err)
	for _, row := range []struct {
		id        string
		updatedAt int64
	}{{"old", 1000}, {"new", 3000}, {"mid", 2000}} {
		_, err := v1.Exec(`INSERT INTO context_capsules
			(id, user_id, availability_status, energy_level, timezone, focus_session_active,
			 focus_session_duration, privacy_scope, created_at, updated_at)
			VALUES (?, 'u1', 'available', 75, 'UTC', 0, 25, 'private', 1000, ?)`, row.id, row.updatedAt)
		require.NoError(t, err)
	}
	require.NoError(t, SetUserVersion(v1, 1))
	require.NoError(t, v1.Close())

	db := openTestDB(t, dir)
	require.True(t, sqliteObjectExists(t, db, "index", "idx_context_capsules_user"))

	var ids []string
	rows, err := db.Query("SELECT id FROM context_capsules WHERE user_id = 'u1'")
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var id string
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}
	require.NoError(t, rows.Err())
	require.Equal(t, []string{"new"}, ids, "the most recently updated capsule survives")
}
