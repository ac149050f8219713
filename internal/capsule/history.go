package capsule

// HistoryEntry is an immutable audit record of one field change.
type HistoryEntry struct {
	ID           string `json:"id"`
	UserID       string `json:"userId"`
	CapsuleID    string `json:"capsuleId"`
	FieldChanged string `json:"fieldChanged"`
	OldValue     any    `json:"oldValue,omitempty"`
	NewValue     any    `json:"newValue,omitempty"`

	// Timestamp is Unix ms
	Timestamp int64 `json:"timestamp"`
}

// PrependBounded returns entries with e at the front, keeping at most limit
// entries (oldest dropped). A non-positive limit keeps everything.
func PrependBounded(entries []HistoryEntry, e HistoryEntry, limit int) []HistoryEntry {
	n := len(entries) + 1
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]HistoryEntry, 0, n)
	out = append(out, e)
	for _, existing := range entries {
		if len(out) == n {
			break
		}
		out = append(out, existing)
	}
	return out
}
