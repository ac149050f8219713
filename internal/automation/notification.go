package automation

import (
	"bytes"
	"context"
	stderrors "errors"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	"github.com/hpungsan/beacon/internal/capsule"
	"github.com/hpungsan/beacon/internal/channel"
	"github.com/hpungsan/beacon/internal/errors"
	"github.com/hpungsan/beacon/internal/logging"
)

// Notification is a rendered message for a user.
type Notification struct {
	UserID    string           `json:"userId"`
	Text      string           `json:"text"`
	HTML      string           `json:"html,omitempty"`
	Context   *capsule.Capsule `json:"context"`
	Timestamp int64            `json:"timestamp"`
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// RenderMessage substitutes the first {status}, {energy} and {timezone}
// placeholder in template. Missing values render as unknown, 0 and UTC.
func RenderMessage(template string, c *capsule.Capsule) string {
	status, energy, timezone := "unknown", "0", "UTC"
	if c != nil {
		if c.AvailabilityStatus != "" {
			status = string(c.AvailabilityStatus)
		}
		energy = strconv.Itoa(c.EnergyLevel)
		if c.Timezone != "" {
			timezone = c.Timezone
		}
	}
	out := strings.Replace(template, "{status}", status, 1)
	out = strings.Replace(out, "{energy}", energy, 1)
	out = strings.Replace(out, "{timezone}", timezone, 1)
	return out
}

// NotificationAction renders config.message and hands it to a Notifier.
type NotificationAction struct {
	notifier Notifier
	markdown goldmark.Markdown
	now      func() time.Time
}

// NewNotificationAction returns a notification action delivering through n.
func NewNotificationAction(n Notifier) *NotificationAction {
	return &NotificationAction{
		notifier: n,
		markdown: goldmark.New(),
		now:      time.Now,
	}
}

// Validate requires a non-empty message.
func (a *NotificationAction) Validate(config map[string]any) error {
	msg, err := stringConfig(config, "message")
	if err != nil {
		return errors.NewInvalidRequest(err.Error())
	}
	if strings.TrimSpace(msg) == "" {
		return errors.NewInvalidRequest("notification message is required")
	}
	return nil
}

// Execute renders and delivers the message. Without a message it does nothing.
func (a *NotificationAction) Execute(ctx context.Context, config map[string]any, c *capsule.Capsule) error {
	msg, err := stringConfig(config, "message")
	if err != nil {
		return err
	}
	if msg == "" {
		return nil
	}

	text := RenderMessage(msg, c)
	var html bytes.Buffer
	if err := a.markdown.Convert([]byte(text), &html); err != nil {
		return err
	}

	n := Notification{
		Text:      text,
		HTML:      html.String(),
		Context:   c,
		Timestamp: a.now().UnixMilli(),
	}
	if c != nil {
		n.UserID = c.UserID
	}
	return a.notifier.Notify(ctx, n)
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier returns a notifier that logs at info level.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logging.OrNop(logger)}
}

// Notify logs n.
func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	l.logger.Info("context notification",
		zap.String("user_id", n.UserID),
		zap.String("message", n.Text),
		zap.Int64("timestamp", n.Timestamp))
	return nil
}

// ChannelNotifier publishes a notification message on the user's context
// channel so live clients can show it.
type ChannelNotifier struct {
	broker channel.Broker
}

// NewChannelNotifier returns a notifier publishing through broker.
func NewChannelNotifier(broker channel.Broker) *ChannelNotifier {
	return &ChannelNotifier{broker: broker}
}

// Notify joins the user's channel, publishes n and leaves.
func (c *ChannelNotifier) Notify(ctx context.Context, n Notification) error {
	if n.UserID == "" {
		return stderrors.New("notification has no user")
	}
	ch := c.broker.Channel(channel.ContextChannelName(n.UserID))
	if err := ch.Subscribe(ctx, channel.SubscribeOptions{
		UserID:   n.UserID,
		Metadata: map[string]any{"type": "notifier"},
	}); err != nil {
		return err
	}
	defer ch.Unsubscribe(context.WithoutCancel(ctx))
	return ch.Publish(ctx, channel.TypeNotification, n)
}

// MultiNotifier delivers to every notifier and joins their errors.
type MultiNotifier []Notifier

// Notify calls every notifier.
func (m MultiNotifier) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
