package db

import (
	"context"
	"database/sql"

	"github.com/huandu/go-sqlbuilder"

	"github.com/hpungsan/beacon/internal/capsule"
	"github.com/hpungsan/beacon/internal/errors"
)

var capsuleColumns = []string{
	"id", "user_id", "availability_status", "energy_level", "timezone",
	"focus_session_active", "focus_session_duration", "focus_session_start_time",
	"privacy_scope", "created_at", "updated_at",
}

// fieldColumns maps patchable fields to their columns.
var fieldColumns = map[capsule.Field]string{
	capsule.FieldAvailabilityStatus:    "availability_status",
	capsule.FieldEnergyLevel:           "energy_level",
	capsule.FieldTimezone:              "timezone",
	capsule.FieldFocusSessionActive:    "focus_session_active",
	capsule.FieldFocusSessionDuration:  "focus_session_duration",
	capsule.FieldFocusSessionStartTime: "focus_session_start_time",
	capsule.FieldPrivacyScope:          "privacy_scope",
}

type capsuleRow struct {
	ID                    string        `db:"id"`
	UserID                string        `db:"user_id"`
	AvailabilityStatus    string        `db:"availability_status"`
	EnergyLevel           int           `db:"energy_level"`
	Timezone              string        `db:"timezone"`
	FocusSessionActive    bool          `db:"focus_session_active"`
	FocusSessionDuration  int           `db:"focus_session_duration"`
	FocusSessionStartTime sql.NullInt64 `db:"focus_session_start_time"`
	PrivacyScope          string        `db:"privacy_scope"`
	CreatedAt             int64         `db:"created_at"`
	UpdatedAt             int64         `db:"updated_at"`
}

func (r *capsuleRow) toCapsule() *capsule.Capsule {
	c := &capsule.Capsule{
		ID:                   r.ID,
		UserID:               r.UserID,
		AvailabilityStatus:   capsule.AvailabilityStatus(r.AvailabilityStatus),
		EnergyLevel:          r.EnergyLevel,
		Timezone:             r.Timezone,
		FocusSessionActive:   r.FocusSessionActive,
		FocusSessionDuration: r.FocusSessionDuration,
		PrivacyScope:         capsule.PrivacyScope(r.PrivacyScope),
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
	if r.FocusSessionStartTime.Valid {
		v := r.FocusSessionStartTime.Int64
		c.FocusSessionStartTime = &v
	}
	return c
}

// LatestCapsule returns the most recently updated capsule for userID.
// Returns NOT_FOUND if the user has none.
func (s *Store) LatestCapsule(ctx context.Context, userID string) (*capsule.Capsule, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(capsuleColumns...)
	sb.From(capsulesTable)
	sb.Where(sb.Equal("user_id", userID))
	sb.OrderBy("updated_at DESC")
	sb.Limit(1)

	query, args := sb.Build()
	var row capsuleRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if isNoRows(err) {
			return nil, errors.NewNotFound("capsule", userID)
		}
		return nil, errors.NewInternal(err)
	}
	return row.toCapsule(), nil
}

// CreateCapsule inserts c. An empty ID is assigned before insert.
func (s *Store) CreateCapsule(ctx context.Context, c *capsule.Capsule) error {
	if c.ID == "" {
		c.ID = capsule.NewID()
	}
	var start sql.NullInt64
	if c.FocusSessionStartTime != nil {
		start = sql.NullInt64{Int64: *c.FocusSessionStartTime, Valid: true}
	}

	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto(capsulesTable)
	ib.Cols(capsuleColumns...)
	ib.Values(
		c.ID, c.UserID, string(c.AvailabilityStatus), c.EnergyLevel, c.Timezone,
		c.FocusSessionActive, c.FocusSessionDuration, start,
		string(c.PrivacyScope), c.CreatedAt, c.UpdatedAt,
	)

	query, args := ib.Build()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewConflict("capsule already exists: " + c.ID)
		}
		return errors.NewInternal(err)
	}
	return nil
}

// UpdateCapsule writes the patched fields and updatedAt to capsule id.
// p must have been produced by capsule.Normalize.
func (s *Store) UpdateCapsule(ctx context.Context, id string, p *capsule.Patch, updatedAt int64) error {
	ub := sqlbuilder.SQLite.NewUpdateBuilder()
	ub.Update(capsulesTable)

	assignments := make([]string, 0, p.Len()+1)
	p.Each(func(field capsule.Field, value any) {
		if col, ok := fieldColumns[field]; ok {
			assignments = append(assignments, ub.Assign(col, value))
		}
	})
	assignments = append(assignments, ub.Assign("updated_at", updatedAt))
	ub.Set(assignments...)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.NewInternal(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rows == 0 {
		return errors.NewNotFound("capsule", id)
	}
	return nil
}
