package ops

import (
	"context"
	"fmt"
	"time"

	"github.com/hpungsan/beacon/internal/capsule"
	"github.com/hpungsan/beacon/internal/db"
	"github.com/hpungsan/beacon/internal/errors"
	"github.com/hpungsan/beacon/internal/session"
)

// SessionSource hands out subscribed sessions. *session.Manager implements it.
type SessionSource interface {
	Get(ctx context.Context, userID string) (*session.Session, error)
}

// GetContextInput contains parameters for the GetContext operation.
type GetContextInput struct {
	UserID string
}

// GetContextOutput contains the result of the GetContext operation.
type GetContextOutput struct {
	Context *capsule.Capsule `json:"context"`
}

// GetContext returns the user's current capsule.
func GetContext(ctx context.Context, store *db.Store, input GetContextInput) (*GetContextOutput, error) {
	userID, err := requireUserID(input.UserID)
	if err != nil {
		return nil, err
	}
	c, err := store.LatestCapsule(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &GetContextOutput{Context: c}, nil
}

// UpdateContextInput contains parameters for the UpdateContext operation.
type UpdateContextInput struct {
	UserID string
	Patch  *capsule.Patch
}

// UpdateContextOutput contains the result of the UpdateContext operation.
type UpdateContextOutput struct {
	Context      *capsule.Capsule `json:"context"`
	FieldChanged string           `json:"field_changed"`
}

// UpdateContext applies a patch through the user's live session, so the
// change is recorded, broadcast and evaluated against the user's hooks.
func UpdateContext(ctx context.Context, sessions SessionSource, input UpdateContextInput) (*UpdateContextOutput, error) {
	userID, err := requireUserID(input.UserID)
	if err != nil {
		return nil, err
	}
	if input.Patch.Len() == 0 {
		return nil, errors.NewInvalidRequest("at least one context field must be provided")
	}

	s, err := sessions.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.UpdateContext(ctx, input.Patch); err != nil {
		return nil, err
	}

	field, _, _ := input.Patch.First()
	return &UpdateContextOutput{
		Context:      s.Capsule(),
		FieldChanged: string(field),
	}, nil
}

// ListHistoryInput contains parameters for the ListHistory operation.
type ListHistoryInput struct {
	UserID string
	Limit  int // default: 20, max: 200
	Offset int
}

// ListHistoryOutput contains the result of the ListHistory operation.
type ListHistoryOutput struct {
	Items      []capsule.HistoryEntry `json:"items"`
	Pagination Pagination             `json:"pagination"`
	Sort       string                 `json:"sort"`
}

// ListHistory returns a page of the user's context history, newest first.
func ListHistory(ctx context.Context, store *db.Store, input ListHistoryInput) (*ListHistoryOutput, error) {
	userID, err := requireUserID(input.UserID)
	if err != nil {
		return nil, err
	}
	limit, offset := page(input.Limit, input.Offset, DefaultHistoryLimit, MaxHistoryLimit)

	entries, total, err := store.ListHistory(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []capsule.HistoryEntry{}
	}

	return &ListHistoryOutput{
		Items:      entries,
		Pagination: newPagination(limit, offset, len(entries), total),
		Sort:       "timestamp_desc",
	}, nil
}

// PurgeHistoryInput contains parameters for the PurgeHistory operation.
type PurgeHistoryInput struct {
	UserID        string // optional; empty purges every user
	OlderThanDays *int   // optional; nil purges everything
}

// PurgeHistoryOutput contains the result of the PurgeHistory operation.
type PurgeHistoryOutput struct {
	Purged  int    `json:"purged"`
	Message string `json:"message"`
}

// PurgeHistory permanently deletes history entries.
func PurgeHistory(ctx context.Context, store *db.Store, input PurgeHistoryInput, now time.Time) (*PurgeHistoryOutput, error) {
	before := now.UnixMilli() + 1
	if input.OlderThanDays != nil {
		if *input.OlderThanDays < 0 {
			return nil, errors.NewInvalidRequest("older_than_days must not be negative")
		}
		before = now.Add(-time.Duration(*input.OlderThanDays) * 24 * time.Hour).UnixMilli()
	}

	count, err := store.PurgeHistory(ctx, input.UserID, before)
	if err != nil {
		return nil, err
	}

	return &PurgeHistoryOutput{
		Purged:  count,
		Message: formatPurgeMessage(count, input.UserID, input.OlderThanDays),
	}, nil
}

// formatPurgeMessage creates a human-readable message for the purge result.
func formatPurgeMessage(count int, userID string, olderThanDays *int) string {
	if count == 0 {
		return "No history entries to purge"
	}

	entryWord := "entry"
	if count > 1 {
		entryWord = "entries"
	}

	msg := fmt.Sprintf("Permanently deleted %d history %s", count, entryWord)

	if userID != "" {
		msg += fmt.Sprintf(" for user %q", userID)
	}

	if olderThanDays != nil {
		msg += fmt.Sprintf(" (older than %d days)", *olderThanDays)
	}

	return msg
}
