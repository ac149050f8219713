package ops

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/beacon/internal/automation"
	"github.com/hpungsan/beacon/internal/capsule"
	"github.com/hpungsan/beacon/internal/errors"
)

func TestCreateHook_Presets(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		preset string
		want   automation.Condition
	}{
		{automation.PresetStatusChange, automation.FieldChanged{Field: capsule.FieldAvailabilityStatus}},
		{automation.PresetEnergyLow, automation.FieldCompare{Field: capsule.FieldEnergyLevel, Operator: automation.OpLessThan, Value: 30}},
		{automation.PresetFocusEnd, automation.FieldEquals{Field: capsule.FieldFocusSessionActive, Value: false}},
		{"timezone", automation.FieldChanged{Field: capsule.FieldTimezone}},
	}
	for _, tt := range tests {
		t.Run(tt.preset, func(t *testing.T) {
			out, err := CreateHook(ctx, env.Env, webhookHook("user-1", tt.preset))
			require.NoError(t, err)
			require.NotEmpty(t, out.Hook.ID)
			require.True(t, out.Hook.IsActive)
			require.Equal(t, tt.want, out.Hook.TriggerCondition)

			stored, err := GetHook(ctx, env.Env, GetHookInput{ID: out.Hook.ID})
			require.NoError(t, err)
			require.Equal(t, tt.want, stored.Hook.TriggerCondition)
		})
	}
}

func TestCreateHook_RawCondition(t *testing.T) {
	env := newTestEnv(t)
	out, err := CreateHook(context.Background(), env.Env, CreateHookInput{
		UserID:       "user-1",
		Name:         "very low",
		Condition:    map[string]any{"field": "energyLevel", "operator": "lt", "value": float64(10)},
		ActionType:   "notification",
		ActionConfig: map[string]any{"message": "Energy at {energy}%"},
		Inactive:     true,
	})
	require.NoError(t, err)
	require.False(t, out.Hook.IsActive)
	require.Equal(t, automation.FieldCompare{Field: capsule.FieldEnergyLevel, Operator: automation.OpLessThan, Value: 10}, out.Hook.TriggerCondition)
}

func TestCreateHook_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*CreateHookInput)
		code   errors.ErrorCode
	}{
		{"no user", func(in *CreateHookInput) { in.UserID = "" }, errors.ErrInvalidRequest},
		{"no name", func(in *CreateHookInput) { in.Name = " " }, errors.ErrInvalidRequest},
		{"no trigger", func(in *CreateHookInput) { in.Preset = "" }, errors.ErrInvalidRequest},
		{"both triggers", func(in *CreateHookInput) { in.Condition = map[string]any{"fieldChanged": "timezone"} }, errors.ErrInvalidRequest},
		{"unparseable condition", func(in *CreateHookInput) {
			in.Preset = ""
			in.Condition = map[string]any{"field": "energyLevel"}
		}, errors.ErrInvalidRequest},
		{"unknown action", func(in *CreateHookInput) { in.ActionType = "sms" }, errors.ErrUnrecognizedAction},
		{"bad webhook url", func(in *CreateHookInput) { in.ActionConfig = map[string]any{"url": "ftp://x"} }, errors.ErrInvalidRequest},
		{"bad webhook method", func(in *CreateHookInput) {
			in.ActionConfig = map[string]any{"url": "https://x.example", "method": "GET"}
		}, errors.ErrInvalidRequest},
		{"unknown service", func(in *CreateHookInput) {
			in.ActionType = "integration_update"
			in.ActionConfig = map[string]any{"service": "myspace"}
		}, errors.ErrUnrecognizedAction},
		{"notification without message", func(in *CreateHookInput) {
			in.ActionType = "notification"
			in.ActionConfig = nil
		}, errors.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := webhookHook("user-1", automation.PresetStatusChange)
			tt.mutate(&in)
			_, err := CreateHook(ctx, env.Env, in)
			require.True(t, errors.Is(err, tt.code), "err = %v, want %s", err, tt.code)
		})
	}

	list, err := ListHooks(ctx, env.Env, ListHooksInput{UserID: "user-1"})
	require.NoError(t, err)
	require.Zero(t, list.Pagination.Total, "rejected hooks are not stored")
}

func TestListHooks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var ids []string
	for _, preset := range []string{automation.PresetStatusChange, automation.PresetEnergyLow, automation.PresetFocusStart} {
		out, err := CreateHook(ctx, env.Env, webhookHook("user-1", preset))
		require.NoError(t, err)
		ids = append(ids, out.Hook.ID)
	}
	_, err := ToggleHook(ctx, env.Env, ToggleHookInput{ID: ids[1]})
	require.NoError(t, err)

	all, err := ListHooks(ctx, env.Env, ListHooksInput{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, all.Items, 3)
	require.Equal(t, ids[2], all.Items[0].ID, "newest first")
	require.Equal(t, "created_at_desc", all.Sort)

	active, err := ListHooks(ctx, env.Env, ListHooksInput{UserID: "user-1", ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active.Items, 2)

	paged, err := ListHooks(ctx, env.Env, ListHooksInput{UserID: "user-1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, paged.Items, 1)
	require.True(t, paged.Pagination.HasMore)
}

func TestToggleHook(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	created, err := CreateHook(ctx, env.Env, webhookHook("user-1", automation.PresetStatusChange))
	require.NoError(t, err)

	out, err := ToggleHook(ctx, env.Env, ToggleHookInput{ID: created.Hook.ID})
	require.NoError(t, err)
	require.False(t, out.Hook.IsActive)
	require.Greater(t, out.Hook.UpdatedAt, created.Hook.UpdatedAt)

	on := true
	out, err = ToggleHook(ctx, env.Env, ToggleHookInput{ID: created.Hook.ID, Active: &on})
	require.NoError(t, err)
	require.True(t, out.Hook.IsActive)

	_, err = ToggleHook(ctx, env.Env, ToggleHookInput{ID: "missing"})
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestToggleHook_InvalidatesCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	created, err := CreateHook(ctx, env.Env, webhookHook("user-1", automation.PresetStatusChange))
	require.NoError(t, err)

	hooks, err := env.Cache.ActiveHooks(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, hooks, 1)

	_, err = ToggleHook(ctx, env.Env, ToggleHookInput{ID: created.Hook.ID})
	require.NoError(t, err)

	hooks, err = env.Cache.ActiveHooks(ctx, "user-1")
	require.NoError(t, err)
	require.Empty(t, hooks)
}

func TestUpdateHook(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	created, err := CreateHook(ctx, env.Env, webhookHook("user-1", automation.PresetStatusChange))
	require.NoError(t, err)
	id := created.Hook.ID

	_, err = UpdateHook(ctx, env.Env, UpdateHookInput{ID: id})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	name := "renamed"
	preset := automation.PresetEnergyHigh
	out, err := UpdateHook(ctx, env.Env, UpdateHookInput{ID: id, Name: &name, Preset: &preset})
	require.NoError(t, err)
	require.Equal(t, "renamed", out.Hook.Name)
	require.Equal(t, automation.PresetCondition(automation.PresetEnergyHigh), out.Hook.TriggerCondition)

	notification := "notification"
	_, err = UpdateHook(ctx, env.Env, UpdateHookInput{ID: id, ActionType: &notification})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest), "existing config has no message")

	out, err = UpdateHook(ctx, env.Env, UpdateHookInput{
		ID:           id,
		ActionType:   &notification,
		ActionConfig: map[string]any{"message": "hi"},
	})
	require.NoError(t, err)
	require.Equal(t, automation.ActionNotification, out.Hook.ActionType)

	stored, err := GetHook(ctx, env.Env, GetHookInput{ID: id})
	require.NoError(t, err)
	require.Equal(t, "renamed", stored.Hook.Name)
	require.Equal(t, "hi", stored.Hook.ActionConfig["message"])
}

func TestDeleteHook(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	created, err := CreateHook(ctx, env.Env, webhookHook("user-1", automation.PresetStatusChange))
	require.NoError(t, err)

	out, err := DeleteHook(ctx, env.Env, DeleteHookInput{ID: created.Hook.ID})
	require.NoError(t, err)
	require.True(t, out.Deleted)

	_, err = GetHook(ctx, env.Env, GetHookInput{ID: created.Hook.ID})
	require.True(t, errors.Is(err, errors.ErrNotFound))
	_, err = DeleteHook(ctx, env.Env, DeleteHookInput{ID: created.Hook.ID})
	require.True(t, errors.Is(err, errors.ErrNotFound))
	_, err = DeleteHook(ctx, env.Env, DeleteHookInput{})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestTestHook(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	created, err := CreateHook(ctx, env.Env, webhookHook("user-1", automation.PresetFocusStart))
	require.NoError(t, err)

	out, err := TestHook(ctx, env.Env, TestHookInput{ID: created.Hook.ID})
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Equal(t, 1, env.doer.count(), "fires regardless of trigger, even without a capsule")

	env.doer.status = http.StatusInternalServerError
	out, err = TestHook(ctx, env.Env, TestHookInput{ID: created.Hook.ID})
	require.NoError(t, err)
	require.False(t, out.Success)
	require.Equal(t, string(errors.ErrDispatchFailed), out.ErrorCode)
	require.Contains(t, out.Error, "500")
}
