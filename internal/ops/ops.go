// Package ops implements the operations shared by the CLI, MCP and HTTP
// surfaces. Each operation takes an Input struct and returns an Output struct
// or a coded error.
package ops

import (
	"strings"
	"time"

	"github.com/hpungsan/beacon/internal/automation"
	"github.com/hpungsan/beacon/internal/db"
	"github.com/hpungsan/beacon/internal/errors"
)

// Pagination limits
const (
	DefaultListLimit    = 20
	MaxListLimit        = 100
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 200
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// Env bundles the collaborators of hook operations.
type Env struct {
	Store  *db.Store
	Engine *automation.Engine

	// Cache, if set, is invalidated whenever a user's hooks change.
	Cache *automation.CachedHookSource

	// Now overrides the clock (tests).
	Now func() time.Time
}

func (e *Env) nowMillis() int64 {
	if e.Now != nil {
		return e.Now().UnixMilli()
	}
	return time.Now().UnixMilli()
}

func (e *Env) invalidate(userID string) {
	if e.Cache != nil {
		e.Cache.Invalidate(userID)
	}
}

// requireUserID trims and validates a user ID.
func requireUserID(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.NewInvalidRequest("user_id is required")
	}
	return userID, nil
}

// page applies limit defaults and bounds and clamps offset to zero.
func page(limit, offset, def, maxLimit int) (int, int) {
	if limit <= 0 {
		limit = def
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func newPagination(limit, offset, returned, total int) Pagination {
	return Pagination{
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+returned < total,
		Total:   total,
	}
}
