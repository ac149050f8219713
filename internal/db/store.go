package db

import (
	"database/sql"
	stderrors "errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	capsulesTable = "context_capsules"
	historyTable  = "context_history"
	hooksTable    = "action_hooks"
)

// Store is the SQLite-backed store for capsules, history and action hooks.
// It satisfies the session store and the automation hook source.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewStore wraps an initialized database (see Init).
func NewStore(database *sql.DB) *Store {
	return &Store{
		db:  sqlx.NewDb(database, "sqlite"),
		now: time.Now,
	}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db.DB
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}

func isNoRows(err error) bool {
	return stderrors.Is(err, sql.ErrNoRows)
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	// SQLite returns "UNIQUE constraint failed: ..." for unique violations
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
