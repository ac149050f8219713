package db

import (
	"context"
	"encoding/json"

	"github.com/huandu/go-sqlbuilder"

	"github.com/hpungsan/beacon/internal/automation"
	"github.com/hpungsan/beacon/internal/capsule"
	"github.com/hpungsan/beacon/internal/errors"
)

var hookColumns = []string{
	"id", "user_id", "name", "trigger_condition", "action_type",
	"action_config", "is_active", "created_at", "updated_at",
}

type hookRow struct {
	ID               string `db:"id"`
	UserID           string `db:"user_id"`
	Name             string `db:"name"`
	TriggerCondition string `db:"trigger_condition"`
	ActionType       string `db:"action_type"`
	ActionConfig     string `db:"action_config"`
	IsActive         bool   `db:"is_active"`
	CreatedAt        int64  `db:"created_at"`
	UpdatedAt        int64  `db:"updated_at"`
}

func (r *hookRow) toHook() (automation.Hook, error) {
	var trigger map[string]any
	if err := json.Unmarshal([]byte(r.TriggerCondition), &trigger); err != nil {
		return automation.Hook{}, err
	}
	var config map[string]any
	if err := json.Unmarshal([]byte(r.ActionConfig), &config); err != nil {
		return automation.Hook{}, err
	}
	if config == nil {
		config = map[string]any{}
	}
	return automation.Hook{
		ID:               r.ID,
		UserID:           r.UserID,
		Name:             r.Name,
		TriggerCondition: automation.ParseCondition(trigger),
		ActionType:       automation.ActionType(r.ActionType),
		ActionConfig:     config,
		IsActive:         r.IsActive,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}, nil
}

func encodeHookJSON(h *automation.Hook) (trigger, config string, err error) {
	t, err := json.Marshal(automation.EncodeCondition(h.TriggerCondition))
	if err != nil {
		return "", "", err
	}
	cfg := h.ActionConfig
	if cfg == nil {
		cfg = map[string]any{}
	}
	c, err := json.Marshal(cfg)
	if err != nil {
		return "", "", err
	}
	return string(t), string(c), nil
}

func toHooks(rows []hookRow) ([]automation.Hook, error) {
	hooks := make([]automation.Hook, 0, len(rows))
	for i := range rows {
		h, err := rows[i].toHook()
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		hooks = append(hooks, h)
	}
	return hooks, nil
}

// InsertHook stores a new hook. An empty ID is assigned before insert.
func (s *Store) InsertHook(ctx context.Context, h *automation.Hook) error {
	if h.ID == "" {
		h.ID = capsule.NewID()
	}
	trigger, config, err := encodeHookJSON(h)
	if err != nil {
		return errors.NewInternal(err)
	}

	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto(hooksTable)
	ib.Cols(hookColumns...)
	ib.Values(h.ID, h.UserID, h.Name, trigger, string(h.ActionType), config, h.IsActive, h.CreatedAt, h.UpdatedAt)

	query, args := ib.Build()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewConflict("hook already exists: " + h.ID)
		}
		return errors.NewInternal(err)
	}
	return nil
}

// GetHook retrieves a hook by ID.
func (s *Store) GetHook(ctx context.Context, id string) (*automation.Hook, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(hookColumns...)
	sb.From(hooksTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var row hookRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if isNoRows(err) {
			return nil, errors.NewNotFound("hook", id)
		}
		return nil, errors.NewInternal(err)
	}
	h, err := row.toHook()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return &h, nil
}

// ListHooks returns a page of a user's hooks, newest first, and the total count.
func (s *Store) ListHooks(ctx context.Context, userID string, activeOnly bool, limit, offset int) ([]automation.Hook, int, error) {
	countSb := sqlbuilder.SQLite.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From(hooksTable)
	countWhere := []string{countSb.Equal("user_id", userID)}
	if activeOnly {
		countWhere = append(countWhere, countSb.Equal("is_active", true))
	}
	countSb.Where(countWhere...)

	countQuery, countArgs := countSb.Build()
	var total int
	if err := s.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(hookColumns...)
	sb.From(hooksTable)
	where := []string{sb.Equal("user_id", userID)}
	if activeOnly {
		where = append(where, sb.Equal("is_active", true))
	}
	sb.Where(where...)
	sb.OrderBy("created_at DESC", "id DESC")
	if limit > 0 {
		sb.Limit(limit)
		if offset > 0 {
			sb.Offset(offset)
		}
	}

	query, args := sb.Build()
	var rows []hookRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	hooks, err := toHooks(rows)
	if err != nil {
		return nil, 0, err
	}
	return hooks, total, nil
}

// ActiveHooks returns the user's active hooks in creation order.
func (s *Store) ActiveHooks(ctx context.Context, userID string) ([]automation.Hook, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(hookColumns...)
	sb.From(hooksTable)
	sb.Where(
		sb.Equal("user_id", userID),
		sb.Equal("is_active", true),
	)
	sb.OrderBy("created_at ASC", "id ASC")

	query, args := sb.Build()
	var rows []hookRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.NewInternal(err)
	}
	return toHooks(rows)
}

// UpdateHook rewrites every mutable column of h (matched by ID).
func (s *Store) UpdateHook(ctx context.Context, h *automation.Hook) error {
	trigger, config, err := encodeHookJSON(h)
	if err != nil {
		return errors.NewInternal(err)
	}

	ub := sqlbuilder.SQLite.NewUpdateBuilder()
	ub.Update(hooksTable)
	ub.Set(
		ub.Assign("name", h.Name),
		ub.Assign("trigger_condition", trigger),
		ub.Assign("action_type", string(h.ActionType)),
		ub.Assign("action_config", config),
		ub.Assign("is_active", h.IsActive),
		ub.Assign("updated_at", h.UpdatedAt),
	)
	ub.Where(ub.Equal("id", h.ID))

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
		return errors.NewNotFound("hook", h.ID)
	}
	return nil
}

// DeleteHook permanently removes a hook.
func (s *Store) DeleteHook(ctx context.Context, id string) error {
	del := sqlbuilder.SQLite.NewDeleteBuilder()
	del.DeleteFrom(hooksTable)
	del.Where(del.Equal("id", id))

	query, args := del.Build()
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.NewInternal(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rows == 0 {
		return errors.NewNotFound("hook", id)
	}
	return nil
}
