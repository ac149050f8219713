package automation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hpungsan/beacon/internal/capsule"
	"github.com/hpungsan/beacon/internal/errors"
	"github.com/hpungsan/beacon/internal/logging"
	"github.com/hpungsan/beacon/internal/metrics"
)

// HookFailure records one hook whose action failed.
type HookFailure struct {
	HookID     string     `json:"hookId"`
	HookName   string     `json:"hookName"`
	ActionType ActionType `json:"actionType"`
	Error      string     `json:"error"`

	Err error `json:"-"`
}

// RunReport summarizes one engine run.
type RunReport struct {
	Evaluated  int           `json:"evaluated"`
	Matched    int           `json:"matched"`
	Dispatched int           `json:"dispatched"`
	Failures   []HookFailure `json:"failures,omitempty"`
}

// Engine evaluates a user's active hooks against an update and dispatches
// the ones that match.
type Engine struct {
	hooks      HookSource
	dispatcher *Dispatcher
	logger     *zap.Logger
}

// NewEngine returns an engine reading hooks from hooks.
func NewEngine(hooks HookSource, dispatcher *Dispatcher, logger *zap.Logger) *Engine {
	return &Engine{
		hooks:      hooks,
		dispatcher: dispatcher,
		logger:     logging.OrNop(logger),
	}
}

// Dispatcher returns the engine's dispatcher.
func (e *Engine) Dispatcher() *Dispatcher {
	return e.dispatcher
}

// Run evaluates every active hook of c.UserID in load order. A failing hook
// never stops the others; failures are logged and listed in the report. The
// returned error is non-nil only when hooks could not be loaded.
func (e *Engine) Run(ctx context.Context, c *capsule.Capsule, patch *capsule.Patch) (*RunReport, error) {
	report := &RunReport{}
	if c == nil {
		return report, nil
	}

	hooks, err := e.hooks.ActiveHooks(ctx, c.UserID)
	if err != nil {
		e.logger.Error("failed to load action hooks",
			zap.String("user_id", c.UserID),
			zap.Error(err))
		return report, err
	}

	for _, h := range hooks {
		if !h.IsActive {
			continue
		}
		report.Evaluated++
		if !Matches(h.TriggerCondition, c, patch) {
			metrics.HookEvaluationsTotal.WithLabelValues("no_match").Inc()
			continue
		}
		metrics.HookEvaluationsTotal.WithLabelValues("match").Inc()
		report.Matched++

		if err := e.Fire(ctx, h, c); err != nil {
			report.Failures = append(report.Failures, HookFailure{
				HookID:     h.ID,
				HookName:   h.Name,
				ActionType: h.ActionType,
				Error:      err.Error(),
				Err:        err,
			})
			continue
		}
		report.Dispatched++
	}

	return report, nil
}

// Fire dispatches h's action against c regardless of its trigger. Panics in
// the action are recovered and returned as DISPATCH_FAILED.
func (e *Engine) Fire(ctx context.Context, h Hook, c *capsule.Capsule) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewDispatchFailed(string(h.ActionType), fmt.Errorf("panic: %v", r))
		}
		status := metrics.StatusSuccess
		if err != nil {
			status = metrics.StatusFailure
			e.logger.Warn("action hook failed",
				zap.String("hook_id", h.ID),
				zap.String("hook_name", h.Name),
				zap.String("action_type", string(h.ActionType)),
				zap.Error(err))
		} else {
			e.logger.Debug("action hook executed",
				zap.String("hook_id", h.ID),
				zap.String("action_type", string(h.ActionType)))
		}
		metrics.HookDispatchesTotal.WithLabelValues(string(h.ActionType), status).Inc()
	}()

	return e.dispatcher.Dispatch(ctx, h.ActionType, h.ActionConfig, c.Clone())
}
