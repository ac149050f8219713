package db

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/huandu/go-sqlbuilder"

	"github.com/hpungsan/beacon/internal/capsule"
	"github.com/hpungsan/beacon/internal/errors"
)

var historyColumns = []string{
	"id", "user_id", "capsule_id", "field_changed", "old_value", "new_value", "timestamp",
}

type historyRow struct {
	ID           string         `db:"id"`
	UserID       string         `db:"user_id"`
	CapsuleID    string         `db:"capsule_id"`
	FieldChanged string         `db:"field_changed"`
	OldValue     sql.NullString `db:"old_value"`
	NewValue     sql.NullString `db:"new_value"`
	Timestamp    int64          `db:"timestamp"`
}

func (r *historyRow) toEntry() capsule.HistoryEntry {
	return capsule.HistoryEntry{
		ID:           r.ID,
		UserID:       r.UserID,
		CapsuleID:    r.CapsuleID,
		FieldChanged: r.FieldChanged,
		OldValue:     decodeValue(r.FieldChanged, r.OldValue),
		NewValue:     decodeValue(r.FieldChanged, r.NewValue),
		Timestamp:    r.Timestamp,
	}
}

// encodeValue stores history values as JSON text; nil is NULL.
func encodeValue(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// decodeValue reverses encodeValue. Values of known fields are coerced back to
// their field type so energy levels come back as ints rather than floats.
func decodeValue(field string, ns sql.NullString) any {
	if !ns.Valid {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(ns.String), &v); err != nil {
		return ns.String
	}
	if capsule.IsField(field) {
		if nv, err := capsule.NormalizeValue(capsule.Field(field), v); err == nil {
			return nv
		}
	}
	return v
}

// AppendHistory inserts a history entry. An empty ID is assigned before insert.
func (s *Store) AppendHistory(ctx context.Context, e *capsule.HistoryEntry) error {
	if e.ID == "" {
		e.ID = capsule.NewID()
	}
	oldValue, err := encodeValue(e.OldValue)
	if err != nil {
		return errors.NewInternal(err)
	}
	newValue, err := encodeValue(e.NewValue)
	if err != nil {
		return errors.NewInternal(err)
	}

	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto(historyTable)
	ib.Cols(historyColumns...)
	ib.Values(e.ID, e.UserID, e.CapsuleID, e.FieldChanged, oldValue, newValue, e.Timestamp)

	query, args := ib.Build()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// RecentHistory returns up to limit entries for userID, newest first.
func (s *Store) RecentHistory(ctx context.Context, userID string, limit int) ([]capsule.HistoryEntry, error) {
	entries, _, err := s.ListHistory(ctx, userID, limit, 0)
	return entries, err
}

// ListHistory returns a page of entries for userID, newest first, and the
// total number of entries.
func (s *Store) ListHistory(ctx context.Context, userID string, limit, offset int) ([]capsule.HistoryEntry, int, error) {
	countSb := sqlbuilder.SQLite.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From(historyTable)
	countSb.Where(countSb.Equal("user_id", userID))

	countQuery, countArgs := countSb.Build()
	var total int
	if err := s.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(historyColumns...)
	sb.From(historyTable)
	sb.Where(sb.Equal("user_id", userID))
	// ULIDs break timestamp ties in insertion order
	sb.OrderBy("timestamp DESC", "id DESC")
	if limit > 0 {
		sb.Limit(limit)
		if offset > 0 {
			sb.Offset(offset)
		}
	}

	query, args := sb.Build()
	var rows []historyRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	entries := make([]capsule.HistoryEntry, 0, len(rows))
	for i := range rows {
		entries = append(entries, rows[i].toEntry())
	}
	return entries, total, nil
}

// PurgeHistory permanently deletes entries older than beforeMillis.
// An empty userID purges across all users.
func (s *Store) PurgeHistory(ctx context.Context, userID string, beforeMillis int64) (int, error) {
	del := sqlbuilder.SQLite.NewDeleteBuilder()
	del.DeleteFrom(historyTable)
	where := []string{del.LessThan("timestamp", beforeMillis)}
	if userID != "" {
		where = append(where, del.Equal("user_id", userID))
	}
	del.Where(where...)

	query, args := del.Build()
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return int(rows), nil
}
