package automation

import (
	"context"
	"encoding/json"
)

// ActionType selects the handler that executes a hook's action.
type ActionType string

const (
	ActionWebhook           ActionType = "webhook"
	ActionNotification      ActionType = "notification"
	ActionIntegrationUpdate ActionType = "integration_update"
)

// Hook is a user-authored automation rule: when TriggerCondition matches an
// update, run ActionType with ActionConfig.
type Hook struct {
	ID               string         `json:"id"`
	UserID           string         `json:"userId"`
	Name             string         `json:"name"`
	TriggerCondition Condition      `json:"-"`
	ActionType       ActionType     `json:"actionType"`
	ActionConfig     map[string]any `json:"actionConfig"`
	IsActive         bool           `json:"isActive"`

	// CreatedAt/UpdatedAt are Unix ms
	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

type hookJSON struct {
	hookAlias
	TriggerCondition map[string]any `json:"triggerCondition"`
}

type hookAlias Hook

// MarshalJSON encodes the trigger in its stored object form.
func (h Hook) MarshalJSON() ([]byte, error) {
	return json.Marshal(hookJSON{
		hookAlias:        hookAlias(h),
		TriggerCondition: EncodeCondition(h.TriggerCondition),
	})
}

// UnmarshalJSON decodes the trigger object with ParseCondition.
func (h *Hook) UnmarshalJSON(data []byte) error {
	var aux hookJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*h = Hook(aux.hookAlias)
	h.TriggerCondition = ParseCondition(aux.TriggerCondition)
	return nil
}

// HookSource loads the active hooks for a user in a stable order.
type HookSource interface {
	ActiveHooks(ctx context.Context, userID string) ([]Hook, error)
}
