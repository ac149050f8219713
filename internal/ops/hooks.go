package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/beacon/internal/automation"
	"github.com/hpungsan/beacon/internal/capsule"
	"github.com/hpungsan/beacon/internal/errors"
)

// MaxHookNameLength bounds hook names.
const MaxHookNameLength = 100

// HookOutput wraps a single hook.
type HookOutput struct {
	Hook *automation.Hook `json:"hook"`
}

// resolveCondition picks the trigger from either a preset name or a raw
// condition object. Exactly one must be given.
func resolveCondition(preset string, raw map[string]any) (automation.Condition, error) {
	preset = strings.TrimSpace(preset)
	switch {
	case preset != "" && raw != nil:
		return nil, errors.NewInvalidRequest("specify either a trigger preset or a trigger condition, not both")
	case preset != "":
		return automation.PresetCondition(preset), nil
	case raw != nil:
		cond := automation.ParseCondition(raw)
		if _, never := cond.(automation.Never); never {
			return nil, errors.NewInvalidRequest("trigger condition must set fieldChanged, or field with operator or value")
		}
		return cond, nil
	}
	return nil, errors.NewInvalidRequest("a trigger preset or trigger condition is required")
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.NewInvalidRequest("hook name is required")
	}
	if len([]rune(name)) > MaxHookNameLength {
		return "", errors.NewInvalidRequest("hook name is too long")
	}
	return name, nil
}

// CreateHookInput contains parameters for the CreateHook operation.
type CreateHookInput struct {
	UserID string
	Name   string

	// Trigger: a preset name (status_change, energy_low, ...) or a raw condition.
	Preset    string
	Condition map[string]any

	ActionType   string
	ActionConfig map[string]any

	// Inactive creates the hook switched off.
	Inactive bool
}

// CreateHook validates and stores a new action hook.
func CreateHook(ctx context.Context, env *Env, input CreateHookInput) (*HookOutput, error) {
	userID, err := requireUserID(input.UserID)
	if err != nil {
		return nil, err
	}
	name, err := validateName(input.Name)
	if err != nil {
		return nil, err
	}
	cond, err := resolveCondition(input.Preset, input.Condition)
	if err != nil {
		return nil, err
	}

	actionType := automation.ActionType(strings.TrimSpace(input.ActionType))
	config := input.ActionConfig
	if config == nil {
		config = map[string]any{}
	}
	if err := env.Engine.Dispatcher().Validate(actionType, config); err != nil {
		return nil, err
	}

	now := env.nowMillis()
	h := &automation.Hook{
		UserID:           userID,
		Name:             name,
		TriggerCondition: cond,
		ActionType:       actionType,
		ActionConfig:     config,
		IsActive:         !input.Inactive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := env.Store.InsertHook(ctx, h); err != nil {
		return nil, err
	}
	env.invalidate(userID)

	return &HookOutput{Hook: h}, nil
}

// ListHooksInput contains parameters for the ListHooks operation.
type ListHooksInput struct {
	UserID     string
	ActiveOnly bool
	Limit      int // default: 20, max: 100
	Offset     int
}

// ListHooksOutput contains the result of the ListHooks operation.
type ListHooksOutput struct {
	Items      []automation.Hook `json:"items"`
	Pagination Pagination        `json:"pagination"`
	Sort       string            `json:"sort"`
}

// ListHooks returns a page of the user's hooks, newest first.
func ListHooks(ctx context.Context, env *Env, input ListHooksInput) (*ListHooksOutput, error) {
	userID, err := requireUserID(input.UserID)
	if err != nil {
		return nil, err
	}
	limit, offset := page(input.Limit, input.Offset, DefaultListLimit, MaxListLimit)

	hooks, total, err := env.Store.ListHooks(ctx, userID, input.ActiveOnly, limit, offset)
	if err != nil {
		return nil, err
	}
	if hooks == nil {
		hooks = []automation.Hook{}
	}

	return &ListHooksOutput{
		Items:      hooks,
		Pagination: newPagination(limit, offset, len(hooks), total),
		Sort:       "created_at_desc",
	}, nil
}

// GetHookInput contains parameters for the GetHook operation.
type GetHookInput struct {
	ID string
}

// GetHook returns one hook.
func GetHook(ctx context.Context, env *Env, input GetHookInput) (*HookOutput, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("hook id is required")
	}
	h, err := env.Store.GetHook(ctx, id)
	if err != nil {
		return nil, err
	}
	return &HookOutput{Hook: h}, nil
}

// ToggleHookInput contains parameters for the ToggleHook operation.
type ToggleHookInput struct {
	ID string

	// Active sets the state explicitly; nil flips it.
	Active *bool
}

// ToggleHook switches a hook on or off.
func ToggleHook(ctx context.Context, env *Env, input ToggleHookInput) (*HookOutput, error) {
	out, err := GetHook(ctx, env, GetHookInput{ID: input.ID})
	if err != nil {
		return nil, err
	}
	h := out.Hook

	if input.Active != nil {
		h.IsActive = *input.Active
	} else {
		h.IsActive = !h.IsActive
	}
	h.UpdatedAt = env.nowMillis()

	if err := env.Store.UpdateHook(ctx, h); err != nil {
		return nil, err
	}
	env.invalidate(h.UserID)
	return &HookOutput{Hook: h}, nil
}

// UpdateHookInput contains parameters for the UpdateHook operation.
// Nil fields are left unchanged.
type UpdateHookInput struct {
	ID string

	Name      *string
	Preset    *string
	Condition map[string]any

	ActionType   *string
	ActionConfig map[string]any
}

// UpdateHook edits a hook's name, trigger or action.
func UpdateHook(ctx context.Context, env *Env, input UpdateHookInput) (*HookOutput, error) {
	if input.Name == nil && input.Preset == nil && input.Condition == nil &&
		input.ActionType == nil && input.ActionConfig == nil {
		return nil, errors.NewInvalidRequest("at least one editable field must be provided")
	}

	out, err := GetHook(ctx, env, GetHookInput{ID: input.ID})
	if err != nil {
		return nil, err
	}
	h := out.Hook

	if input.Name != nil {
		name, err := validateName(*input.Name)
		if err != nil {
			return nil, err
		}
		h.Name = name
	}

	if input.Preset != nil || input.Condition != nil {
		preset := ""
		if input.Preset != nil {
			preset = *input.Preset
		}
		cond, err := resolveCondition(preset, input.Condition)
		if err != nil {
			return nil, err
		}
		h.TriggerCondition = cond
	}

	if input.ActionType != nil {
		h.ActionType = automation.ActionType(strings.TrimSpace(*input.ActionType))
	}
	if input.ActionConfig != nil {
		h.ActionConfig = input.ActionConfig
	}
	if input.ActionType != nil || input.ActionConfig != nil {
		if err := env.Engine.Dispatcher().Validate(h.ActionType, h.ActionConfig); err != nil {
			return nil, err
		}
	}

	h.UpdatedAt = env.nowMillis()
	if err := env.Store.UpdateHook(ctx, h); err != nil {
		return nil, err
	}
	env.invalidate(h.UserID)
	return &HookOutput{Hook: h}, nil
}

// DeleteHookInput contains parameters for the DeleteHook operation.
type DeleteHookInput struct {
	ID string
}

// DeleteHookOutput contains the result of the DeleteHook operation.
type DeleteHookOutput struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id"`
}

// DeleteHook permanently removes a hook.
func DeleteHook(ctx context.Context, env *Env, input DeleteHookInput) (*DeleteHookOutput, error) {
	out, err := GetHook(ctx, env, GetHookInput{ID: input.ID})
	if err != nil {
		return nil, err
	}
	if err := env.Store.DeleteHook(ctx, out.Hook.ID); err != nil {
		return nil, err
	}
	env.invalidate(out.Hook.UserID)
	return &DeleteHookOutput{Deleted: true, ID: out.Hook.ID}, nil
}

// TestHookInput contains parameters for the TestHook operation.
type TestHookInput struct {
	ID string
}

// TestHookOutput contains the result of the TestHook operation.
type TestHookOutput struct {
	HookID     string                `json:"hook_id"`
	ActionType automation.ActionType `json:"action_type"`
	Success    bool                  `json:"success"`
	Error      string                `json:"error,omitempty"`
	ErrorCode  string                `json:"error_code,omitempty"`
}

// TestHook fires a hook's action once against the user's current context,
// ignoring its trigger and active flag. A failing action is reported in the
// output rather than returned as an error.
func TestHook(ctx context.Context, env *Env, input TestHookInput) (*TestHookOutput, error) {
	out, err := GetHook(ctx, env, GetHookInput{ID: input.ID})
	if err != nil {
		return nil, err
	}
	h := out.Hook

	c, err := env.Store.LatestCapsule(ctx, h.UserID)
	if errors.Is(err, errors.ErrNotFound) {
		c = capsule.NewDefault("", h.UserID, env.nowMillis())
	} else if err != nil {
		return nil, err
	}

	result := &TestHookOutput{HookID: h.ID, ActionType: h.ActionType, Success: true}
	if err := env.Engine.Fire(ctx, *h, c); err != nil {
		result.Success = false
		result.Error = err.Error()
		if bErr, ok := errors.As(err); ok {
			result.ErrorCode = string(bErr.Code)
		}
	}
	return result, nil
}
