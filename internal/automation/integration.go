package automation

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hpungsan/beacon/internal/capsule"
	"github.com/hpungsan/beacon/internal/errors"
	"github.com/hpungsan/beacon/internal/httpclient"
	"github.com/hpungsan/beacon/internal/logging"
)

// Integration services with built-in formatters.
const (
	ServiceSlack    = "slack"
	ServiceDiscord  = "discord"
	ServiceTeams    = "teams"
	ServiceCalendar = "calendar"
)

// Formatter derives a service's status payload from a capsule.
type Formatter func(c *capsule.Capsule) map[string]any

// StatusLabel is the indicator and label shown for a status.
func StatusLabel(s capsule.AvailabilityStatus) string {
	switch s {
	case capsule.StatusAvailable:
		return "🟢 Available"
	case capsule.StatusFocus:
		return "🔵 Focus Mode"
	case capsule.StatusDND:
		return "🔴 Do Not Disturb"
	case capsule.StatusAway:
		return "🟡 Away"
	}
	return "⚪ Unknown"
}

// EnergyIndicator is ⚡ above 75, 🔋 above 50, 🪫 otherwise.
func EnergyIndicator(level int) string {
	switch {
	case level > 75:
		return "⚡"
	case level > 50:
		return "🔋"
	}
	return "🪫"
}

func formatSlack(c *capsule.Capsule) map[string]any {
	emoji := ":wave:"
	if c.AvailabilityStatus == capsule.StatusFocus {
		emoji = ":brain:"
	}
	return map[string]any{
		"status_text":  fmt.Sprintf("%s %s %d%%", StatusLabel(c.AvailabilityStatus), EnergyIndicator(c.EnergyLevel), c.EnergyLevel),
		"status_emoji": emoji,
	}
}

func formatDiscord(c *capsule.Capsule) map[string]any {
	return map[string]any{
		"activity": fmt.Sprintf("%s - Energy: %d%%", StatusLabel(c.AvailabilityStatus), c.EnergyLevel),
	}
}

func formatTeams(c *capsule.Capsule) map[string]any {
	return map[string]any{
		"availability": string(c.AvailabilityStatus),
		"message":      fmt.Sprintf("Energy: %d%%", c.EnergyLevel),
	}
}

func formatCalendar(c *capsule.Capsule) map[string]any {
	return map[string]any{
		"busy": c.AvailabilityStatus == capsule.StatusFocus || c.AvailabilityStatus == capsule.StatusDND,
	}
}

// IntegrationAction pushes a derived status to a third-party service.
// Config keys: service (required).
type IntegrationAction struct {
	client    Doer
	endpoints map[string]string
	logger    *zap.Logger

	mu       sync.RWMutex
	services map[string]Formatter
}

// NewIntegrationAction returns an action with the built-in services. Payloads
// for a service are POSTed to endpoints[service]; services without an
// endpoint are logged only.
func NewIntegrationAction(client Doer, endpoints map[string]string, logger *zap.Logger) *IntegrationAction {
	a := &IntegrationAction{
		client:    client,
		endpoints: endpoints,
		logger:    logging.OrNop(logger),
		services:  make(map[string]Formatter),
	}
	a.RegisterService(ServiceSlack, formatSlack)
	a.RegisterService(ServiceDiscord, formatDiscord)
	a.RegisterService(ServiceTeams, formatTeams)
	a.RegisterService(ServiceCalendar, formatCalendar)
	return a
}

// RegisterService installs (or replaces) a formatter.
func (a *IntegrationAction) RegisterService(name string, f Formatter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.services[strings.ToLower(name)] = f
}

// Services returns the registered service names, sorted.
func (a *IntegrationAction) Services() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.services))
	for name := range a.services {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (a *IntegrationAction) formatter(config map[string]any) (string, Formatter, error) {
	service, err := stringConfig(config, "service")
	if err != nil {
		return "", nil, errors.NewInvalidRequest(err.Error())
	}
	service = strings.ToLower(strings.TrimSpace(service))
	a.mu.RLock()
	f, ok := a.services[service]
	a.mu.RUnlock()
	if !ok {
		return service, nil, errors.NewUnrecognizedAction("integration service", service)
	}
	return service, f, nil
}

// Validate requires a registered service.
func (a *IntegrationAction) Validate(config map[string]any) error {
	_, _, err := a.formatter(config)
	return err
}

// Payload returns what Execute would send for config and c.
func (a *IntegrationAction) Payload(config map[string]any, c *capsule.Capsule) (string, map[string]any, error) {
	service, f, err := a.formatter(config)
	if err != nil {
		return service, nil, err
	}
	if c == nil {
		c = &capsule.Capsule{}
	}
	payload := f(c)
	payload["service"] = service
	payload["context"] = c
	return service, payload, nil
}

// Execute formats the payload and forwards it to the service endpoint.
func (a *IntegrationAction) Execute(ctx context.Context, config map[string]any, c *capsule.Capsule) error {
	service, payload, err := a.Payload(config, c)
	if err != nil {
		return err
	}

	endpoint := strings.TrimSpace(a.endpoints[service])
	if endpoint == "" || a.client == nil {
		a.logger.Info("integration status update",
			zap.String("service", service),
			zap.Any("payload", payload))
		return nil
	}

	resp, err := a.client.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		URL:    endpoint,
		Headers: map[string]string{
			"Content-Type": "application/json",
			"User-Agent":   UserAgent,
		},
		Body: payload,
	})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("%s endpoint returned status %d", service, resp.StatusCode)
	}
	return nil
}
