package automation

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/hpungsan/beacon/internal/capsule"
	"github.com/hpungsan/beacon/internal/errors"
	"github.com/hpungsan/beacon/internal/logging"
)

// Action executes one action type against a capsule snapshot.
type Action interface {
	Execute(ctx context.Context, config map[string]any, c *capsule.Capsule) error
}

// Validator is implemented by actions that can check a config up front,
// before a hook is saved.
type Validator interface {
	Validate(config map[string]any) error
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context, config map[string]any, c *capsule.Capsule) error

// Execute calls f.
func (f ActionFunc) Execute(ctx context.Context, config map[string]any, c *capsule.Capsule) error {
	return f(ctx, config, c)
}

// Dispatcher routes an action type to its registered handler.
type Dispatcher struct {
	logger *zap.Logger

	mu      sync.RWMutex
	actions map[ActionType]Action
}

// NewDispatcher returns a dispatcher with no actions registered.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		logger:  logging.OrNop(logger),
		actions: make(map[ActionType]Action),
	}
}

// Register installs (or replaces) the handler for t.
func (d *Dispatcher) Register(t ActionType, a Action) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actions[t] = a
}

// Types returns the registered action types, sorted.
func (d *Dispatcher) Types() []ActionType {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]ActionType, 0, len(d.actions))
	for t := range d.actions {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (d *Dispatcher) lookup(t ActionType) (Action, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.actions[t]
	return a, ok
}

// Validate checks that t is registered and, when the handler supports it,
// that config is usable.
func (d *Dispatcher) Validate(t ActionType, config map[string]any) error {
	a, ok := d.lookup(t)
	if !ok {
		return errors.NewUnrecognizedAction("action type", string(t))
	}
	if v, ok := a.(Validator); ok {
		return v.Validate(config)
	}
	return nil
}

// Dispatch runs the handler for t. Unregistered types are logged and return
// UNRECOGNIZED_ACTION; handler failures are returned as DISPATCH_FAILED.
func (d *Dispatcher) Dispatch(ctx context.Context, t ActionType, config map[string]any, c *capsule.Capsule) error {
	a, ok := d.lookup(t)
	if !ok {
		d.logger.Warn("unknown action type", zap.String("action_type", string(t)))
		return errors.NewUnrecognizedAction("action type", string(t))
	}
	if config == nil {
		config = map[string]any{}
	}
	if err := a.Execute(ctx, config, c); err != nil {
		if _, ok := errors.As(err); ok {
			return err
		}
		return errors.NewDispatchFailed(string(t), err)
	}
	return nil
}

// Deps are the collaborators of the built-in actions.
type Deps struct {
	HTTP                 Doer
	Notifier             Notifier
	IntegrationEndpoints map[string]string
	Logger               *zap.Logger
}

// NewDefaultDispatcher registers webhook, notification and integration_update.
func NewDefaultDispatcher(deps Deps) *Dispatcher {
	d := NewDispatcher(deps.Logger)
	d.Register(ActionWebhook, NewWebhookAction(deps.HTTP))
	notifier := deps.Notifier
	if notifier == nil {
		notifier = NewLogNotifier(deps.Logger)
	}
	d.Register(ActionNotification, NewNotificationAction(notifier))
	d.Register(ActionIntegrationUpdate, NewIntegrationAction(deps.HTTP, deps.IntegrationEndpoints, deps.Logger))
	return d
}

func stringConfig(config map[string]any, key string) (string, error) {
	v, ok := config[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return s, nil
}
