package automation

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/hpungsan/beacon/internal/capsule"
	"github.com/hpungsan/beacon/internal/errors"
	"github.com/hpungsan/beacon/internal/httpclient"
)

// UserAgent identifies outbound webhook requests.
const UserAgent = "Beacon-Context-Service/1.0"

// Doer sends outbound HTTP requests.
type Doer = httpclient.Doer

// WebhookPayload is the JSON body POSTed to a webhook.
type WebhookPayload struct {
	Context   *capsule.Capsule `json:"context"`
	Timestamp int64            `json:"timestamp"`
	Event     string           `json:"event"`
	Source    string           `json:"source"`
}

// WebhookAction calls config.url with the current context. Config keys:
// url (required to do anything), method (POST, PUT or PATCH; default POST),
// headers (string map, optional).
type WebhookAction struct {
	client Doer
	now    func() time.Time
}

// NewWebhookAction returns a webhook action using client.
func NewWebhookAction(client Doer) *WebhookAction {
	return &WebhookAction{client: client, now: time.Now}
}

var webhookMethods = map[string]bool{
	http.MethodPost:  true,
	http.MethodPut:   true,
	http.MethodPatch: true,
}

func webhookMethod(config map[string]any) (string, error) {
	m, err := stringConfig(config, "method")
	if err != nil {
		return "", err
	}
	m = strings.ToUpper(strings.TrimSpace(m))
	if m == "" {
		return http.MethodPost, nil
	}
	if !webhookMethods[m] {
		return "", fmt.Errorf("unsupported webhook method %q (use POST, PUT or PATCH)", m)
	}
	return m, nil
}

// Validate requires an http(s) url and a supported method.
func (a *WebhookAction) Validate(config map[string]any) error {
	raw, err := stringConfig(config, "url")
	if err != nil {
		return errors.NewInvalidRequest(err.Error())
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.NewInvalidRequest("webhook url must be an absolute http(s) URL")
	}
	if _, err := webhookMethod(config); err != nil {
		return errors.NewInvalidRequest(err.Error())
	}
	if h, ok := config["headers"]; ok && h != nil {
		if _, err := cast.ToStringMapStringE(h); err != nil {
			return errors.NewInvalidRequest("webhook headers must be a string map")
		}
	}
	return nil
}

// Execute sends the request. Without a url it does nothing.
func (a *WebhookAction) Execute(ctx context.Context, config map[string]any, c *capsule.Capsule) error {
	target, err := stringConfig(config, "url")
	if err != nil {
		return err
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return nil
	}
	if a.client == nil {
		return fmt.Errorf("no HTTP client configured")
	}

	method, err := webhookMethod(config)
	if err != nil {
		return err
	}

	headers := map[string]string{}
	if h, ok := config["headers"]; ok && h != nil {
		custom, err := cast.ToStringMapStringE(h)
		if err != nil {
			return fmt.Errorf("webhook headers must be a string map: %w", err)
		}
		for k, v := range custom {
			headers[k] = v
		}
	}
	headers["Content-Type"] = "application/json"
	headers["User-Agent"] = UserAgent

	resp, err := a.client.Do(ctx, httpclient.Request{
		Method:  method,
		URL:     target,
		Headers: headers,
		Body: WebhookPayload{
			Context:   c,
			Timestamp: a.now().UnixMilli(),
			Event:     "context_changed",
			Source:    "beacon",
		},
	})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
