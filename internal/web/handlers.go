package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/beacon/internal/capsule"
	"github.com/hpungsan/beacon/internal/errors"
	"github.com/hpungsan/beacon/internal/ops"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Handlers contains HTTP route handlers for the API.
type Handlers struct {
	env      *ops.Env
	sessions ops.SessionSource
	logger   *zap.Logger
	now      func() time.Time

	closing   chan struct{}
	closeOnce sync.Once
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.env.Store.DB().PingContext(r.Context()); err != nil {
		renderError(w, h.logger, errors.NewInternal(err))
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// HandleGetContext handles GET /users/{id}/context.
func (h *Handlers) HandleGetContext(w http.ResponseWriter, r *http.Request) {
	result, err := ops.GetContext(r.Context(), h.env.Store, ops.GetContextInput{UserID: r.PathValue("id")})
	if err != nil {
		renderError(w, h.logger, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleUpdateContext handles PATCH /users/{id}/context. The body is a JSON
// object of fields; its key order is the patch order.
func (h *Handlers) HandleUpdateContext(w http.ResponseWriter, r *http.Request) {
	patch := capsule.NewPatch()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(patch); err != nil {
		renderError(w, h.logger, errors.NewInvalidRequest("invalid JSON body: "+err.Error()))
		return
	}

	result, err := ops.UpdateContext(r.Context(), h.sessions, ops.UpdateContextInput{
		UserID: r.PathValue("id"),
		Patch:  patch,
	})
	if err != nil {
		renderError(w, h.logger, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleListHistory handles GET /users/{id}/history.
func (h *Handlers) HandleListHistory(w http.ResponseWriter, r *http.Request) {
	result, err := ops.ListHistory(r.Context(), h.env.Store, ops.ListHistoryInput{
		UserID: r.PathValue("id"),
		Limit:  parseIntParam(r, "limit", ops.DefaultHistoryLimit),
		Offset: parseIntParam(r, "offset", 0),
	})
	if err != nil {
		renderError(w, h.logger, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandlePurgeHistory handles DELETE /users/{id}/history. Requires
// confirm=true; older_than_days limits the purge to old entries.
func (h *Handlers) HandlePurgeHistory(w http.ResponseWriter, r *http.Request) {
	if !parseBoolParam(r, "confirm") {
		renderError(w, h.logger, errors.NewInvalidRequest(`confirm parameter must be "true"`))
		return
	}

	input := ops.PurgeHistoryInput{UserID: r.PathValue("id")}
	if days := r.URL.Query().Get("older_than_days"); days != "" {
		d, err := strconv.Atoi(days)
		if err != nil {
			renderError(w, h.logger, errors.NewInvalidRequest("older_than_days must be an integer"))
			return
		}
		input.OlderThanDays = &d
	}

	result, err := ops.PurgeHistory(r.Context(), h.env.Store, input, h.now())
	if err != nil {
		renderError(w, h.logger, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleListHooks handles GET /users/{id}/hooks.
func (h *Handlers) HandleListHooks(w http.ResponseWriter, r *http.Request) {
	result, err := ops.ListHooks(r.Context(), h.env, ops.ListHooksInput{
		UserID:     r.PathValue("id"),
		ActiveOnly: parseBoolParam(r, "active_only"),
		Limit:      parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset:     parseIntParam(r, "offset", 0),
	})
	if err != nil {
		renderError(w, h.logger, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// createHookRequest is the body of POST /users/{id}/hooks.
type createHookRequest struct {
	Name         string         `json:"name"`
	Preset       string         `json:"preset,omitempty"`
	Condition    map[string]any `json:"condition,omitempty"`
	ActionType   string         `json:"action_type"`
	ActionConfig map[string]any `json:"action_config,omitempty"`
	Inactive     bool           `json:"inactive,omitempty"`
}

// HandleCreateHook handles POST /users/{id}/hooks.
func (h *Handlers) HandleCreateHook(w http.ResponseWriter, r *http.Request) {
	var body createHookRequest
	if err := decodeBody(w, r, &body); err != nil {
		renderError(w, h.logger, err)
		return
	}

	result, err := ops.CreateHook(r.Context(), h.env, ops.CreateHookInput{
		UserID:       r.PathValue("id"),
		Name:         body.Name,
		Preset:       body.Preset,
		Condition:    body.Condition,
		ActionType:   body.ActionType,
		ActionConfig: body.ActionConfig,
		Inactive:     body.Inactive,
	})
	if err != nil {
		renderError(w, h.logger, err)
		return
	}
	renderJSON(w, http.StatusCreated, result)
}

// HandleGetHook handles GET /hooks/{id}.
func (h *Handlers) HandleGetHook(w http.ResponseWriter, r *http.Request) {
	result, err := ops.GetHook(r.Context(), h.env, ops.GetHookInput{ID: r.PathValue("id")})
	if err != nil {
		renderError(w, h.logger, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// updateHookRequest is the body of PATCH /hooks/{id}. Absent fields are
// left unchanged.
type updateHookRequest struct {
	Name         *string        `json:"name,omitempty"`
	Preset       *string        `json:"preset,omitempty"`
	Condition    map[string]any `json:"condition,omitempty"`
	ActionType   *string        `json:"action_type,omitempty"`
	ActionConfig map[string]any `json:"action_config,omitempty"`
	Active       *bool          `json:"active,omitempty"`
}

func (b updateHookRequest) editsDefinition() bool {
	return b.Name != nil || b.Preset != nil || b.Condition != nil || b.ActionType != nil || b.ActionConfig != nil
}

// HandleUpdateHook handles PATCH /hooks/{id}.
func (h *Handlers) HandleUpdateHook(w http.ResponseWriter, r *http.Request) {
	var body updateHookRequest
	if err := decodeBody(w, r, &body); err != nil {
		renderError(w, h.logger, err)
		return
	}
	id := r.PathValue("id")

	var result *ops.HookOutput
	var err error
	if body.editsDefinition() || body.Active == nil {
		result, err = ops.UpdateHook(r.Context(), h.env, ops.UpdateHookInput{
			ID:           id,
			Name:         body.Name,
			Preset:       body.Preset,
			Condition:    body.Condition,
			ActionType:   body.ActionType,
			ActionConfig: body.ActionConfig,
		})
		if err != nil {
			renderError(w, h.logger, err)
			return
		}
	}
	if body.Active != nil {
		result, err = ops.ToggleHook(r.Context(), h.env, ops.ToggleHookInput{ID: id, Active: body.Active})
		if err != nil {
			renderError(w, h.logger, err)
			return
		}
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleDeleteHook handles DELETE /hooks/{id}.
func (h *Handlers) HandleDeleteHook(w http.ResponseWriter, r *http.Request) {
	result, err := ops.DeleteHook(r.Context(), h.env, ops.DeleteHookInput{ID: r.PathValue("id")})
	if err != nil {
		renderError(w, h.logger, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleTestHook handles POST /hooks/{id}/test.
func (h *Handlers) HandleTestHook(w http.ResponseWriter, r *http.Request) {
	result, err := ops.TestHook(r.Context(), h.env, ops.TestHookInput{ID: r.PathValue("id")})
	if err != nil {
		renderError(w, h.logger, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}
