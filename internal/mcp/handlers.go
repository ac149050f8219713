package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/beacon/internal/capsule"
	"github.com/hpungsan/beacon/internal/config"
	"github.com/hpungsan/beacon/internal/errors"
	"github.com/hpungsan/beacon/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	env      *ops.Env
	sessions ops.SessionSource
	cfg      *config.Config
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(env *ops.Env, sessions ops.SessionSource, cfg *config.Config) *Handlers {
	return &Handlers{env: env, sessions: sessions, cfg: cfg}
}

// userID falls back to the configured default user.
func (h *Handlers) userID(id string) string {
	if strings.TrimSpace(id) == "" && h.cfg != nil {
		return h.cfg.DefaultUserID
	}
	return id
}

// Request types for each tool

// ContextGetRequest represents the arguments for context_get.
type ContextGetRequest struct {
	UserID string `json:"user_id,omitempty"`
}

// ContextUpdateRequest represents the arguments for context_update.
type ContextUpdateRequest struct {
	UserID string         `json:"user_id,omitempty"`
	Fields map[string]any `json:"fields"`
}

// ContextHistoryRequest represents the arguments for context_history.
type ContextHistoryRequest struct {
	UserID string `json:"user_id,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// HookCreateRequest represents the arguments for hook_create.
type HookCreateRequest struct {
	UserID       string         `json:"user_id,omitempty"`
	Name         string         `json:"name"`
	Preset       string         `json:"preset,omitempty"`
	Condition    map[string]any `json:"condition,omitempty"`
	ActionType   string         `json:"action_type"`
	ActionConfig map[string]any `json:"action_config,omitempty"`
	Inactive     bool           `json:"inactive,omitempty"`
}

// HookListRequest represents the arguments for hook_list.
type HookListRequest struct {
	UserID     string `json:"user_id,omitempty"`
	ActiveOnly bool   `json:"active_only,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

// HookToggleRequest represents the arguments for hook_toggle.
type HookToggleRequest struct {
	ID     string `json:"id"`
	Active *bool  `json:"active,omitempty"`
}

// HookIDRequest represents the arguments for hook_delete and hook_test.
type HookIDRequest struct {
	ID string `json:"id"`
}

// patchFromFields builds a patch in canonical field order. Tool arguments
// arrive as an unordered object, so the first changed field is the earliest
// one in capsule.Fields.
func patchFromFields(fields map[string]any) (*capsule.Patch, error) {
	var unknown []string
	for name := range fields {
		if !capsule.IsField(name) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown context fields: %s", strings.Join(unknown, ", ")))
	}

	p := capsule.NewPatch()
	for _, f := range capsule.Fields {
		if v, ok := fields[string(f)]; ok {
			p.Set(f, v)
		}
	}
	return p, nil
}

// Tool handlers

// HandleContextGet handles the context_get tool call.
func (h *Handlers) HandleContextGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ContextGetRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.GetContext(ctx, h.env.Store, ops.GetContextInput{UserID: h.userID(input.UserID)})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleContextUpdate handles the context_update tool call.
func (h *Handlers) HandleContextUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ContextUpdateRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	patch, err := patchFromFields(input.Fields)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.UpdateContext(ctx, h.sessions, ops.UpdateContextInput{
		UserID: h.userID(input.UserID),
		Patch:  patch,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleContextHistory handles the context_history tool call.
func (h *Handlers) HandleContextHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ContextHistoryRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.ListHistory(ctx, h.env.Store, ops.ListHistoryInput{
		UserID: h.userID(input.UserID),
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleHookCreate handles the hook_create tool call.
func (h *Handlers) HandleHookCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[HookCreateRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.CreateHook(ctx, h.env, ops.CreateHookInput{
		UserID:       h.userID(input.UserID),
		Name:         input.Name,
		Preset:       input.Preset,
		Condition:    input.Condition,
		ActionType:   input.ActionType,
		ActionConfig: input.ActionConfig,
		Inactive:     input.Inactive,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleHookList handles the hook_list tool call.
func (h *Handlers) HandleHookList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[HookListRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.ListHooks(ctx, h.env, ops.ListHooksInput{
		UserID:     h.userID(input.UserID),
		ActiveOnly: input.ActiveOnly,
		Limit:      input.Limit,
		Offset:     input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleHookToggle handles the hook_toggle tool call.
func (h *Handlers) HandleHookToggle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[HookToggleRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.ToggleHook(ctx, h.env, ops.ToggleHookInput{ID: input.ID, Active: input.Active})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleHookDelete handles the hook_delete tool call.
func (h *Handlers) HandleHookDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[HookIDRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.DeleteHook(ctx, h.env, ops.DeleteHookInput{ID: input.ID})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleHookTest handles the hook_test tool call.
func (h *Handlers) HandleHookTest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[HookIDRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.TestHook(ctx, h.env, ops.TestHookInput{ID: input.ID})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed to avoid leaking file paths or SQL.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if bErr, ok := errors.As(err); ok {
		message := bErr.Message
		// Keep context added by wrapping callers.
		if full := err.Error(); full != bErr.Error() {
			message = strings.TrimSuffix(full, bErr.Error()) + bErr.Message
		}
		errorObj := map[string]any{
			"code":    bErr.Code,
			"message": message,
			"status":  bErr.Status,
		}
		if bErr.Code != errors.ErrInternal && bErr.Details != nil {
			errorObj["details"] = bErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
