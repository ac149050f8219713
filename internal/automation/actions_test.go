package automation

import (
	"context"
	stderrors "errors"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/beacon/internal/capsule"
	"github.com/hpungsan/beacon/internal/channel"
	"github.com/hpungsan/beacon/internal/errors"
	"github.com/hpungsan/beacon/internal/httpclient"
)

// fakeDoer records requests and answers with a fixed status.
type fakeDoer struct {
	mu       sync.Mutex
	requests []httpclient.Request
	status   int
	err      error
}

func (f *fakeDoer) Do(_ context.Context, req httpclient.Request) (*httpclient.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	return &httpclient.Response{StatusCode: status}, nil
}

// memNotifier records notifications.
type memNotifier struct {
	mu    sync.Mutex
	sent  []Notification
	fails error
}

func (m *memNotifier) Notify(_ context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return m.fails
}

func TestWebhook_SendsPayload(t *testing.T) {
	var (
		gotMethod string
		gotHeader http.Header
		gotBody   map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Clone()
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
	}))
	defer srv.Close()

	a := NewWebhookAction(httpclient.NewClient(httpclient.DefaultConfig(), nil))
	a.now = func() time.Time { return time.UnixMilli(4242) }

	c := testCapsule()
	err := a.Execute(context.Background(), map[string]any{
		"url":     srv.URL,
		"method":  "put",
		"headers": map[string]any{"X-Token": "abc", "Content-Type": "text/plain"},
	}, c)
	require.NoError(t, err)

	require.Equal(t, http.MethodPut, gotMethod)
	require.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	require.Equal(t, UserAgent, gotHeader.Get("User-Agent"))
	require.Equal(t, "abc", gotHeader.Get("X-Token"))
	require.Equal(t, "context_changed", gotBody["event"])
	require.Equal(t, "beacon", gotBody["source"])
	require.Equal(t, float64(4242), gotBody["timestamp"])
	ctxBody := gotBody["context"].(map[string]any)
	require.Equal(t, "user-1", ctxBody["userId"])
}

func TestWebhook_NoURLIsNoop(t *testing.T) {
	doer := &fakeDoer{}
	require.NoError(t, NewWebhookAction(doer).Execute(context.Background(), map[string]any{}, testCapsule()))
	require.Empty(t, doer.requests)
}

func TestWebhook_Failures(t *testing.T) {
	c := testCapsule()
	cfg := map[string]any{"url": "https://hooks.example.com/x"}

	err := NewWebhookAction(&fakeDoer{status: http.StatusBadGateway}).Execute(context.Background(), cfg, c)
	require.ErrorContains(t, err, "502")

	err = NewWebhookAction(&fakeDoer{err: stderrors.New("connection refused")}).Execute(context.Background(), cfg, c)
	require.ErrorContains(t, err, "connection refused")

	err = NewWebhookAction(&fakeDoer{}).Execute(context.Background(), map[string]any{"url": "https://x", "method": "DELETE"}, c)
	require.ErrorContains(t, err, "unsupported webhook method")
}

func TestWebhook_Validate(t *testing.T) {
	a := NewWebhookAction(nil)
	require.NoError(t, a.Validate(map[string]any{"url": "https://hooks.example.com/x"}))
	require.NoError(t, a.Validate(map[string]any{"url": "http://localhost:9000", "method": "patch"}))

	for _, cfg := range []map[string]any{
		{},
		{"url": "ftp://example.com"},
		{"url": "/relative"},
		{"url": 42},
		{"url": "https://x", "method": "GET"},
		{"url": "https://x", "headers": "nope"},
	} {
		require.True(t, errors.Is(a.Validate(cfg), errors.ErrInvalidRequest), "config %v", cfg)
	}
}

func TestRenderMessage(t *testing.T) {
	c := testCapsule()
	c.AvailabilityStatus = capsule.StatusFocus
	c.EnergyLevel = 42
	c.Timezone = "Europe/Berlin"

	require.Equal(t, "focus at 42% in Europe/Berlin", RenderMessage("{status} at {energy}% in {timezone}", c))
	require.Equal(t, "focus {status}", RenderMessage("{status} {status}", c), "only the first occurrence is replaced")
	require.Equal(t, "unknown 0 UTC", RenderMessage("{status} {energy} {timezone}", nil))

	c.AvailabilityStatus = ""
	c.Timezone = ""
	require.Equal(t, "unknown UTC", RenderMessage("{status} {timezone}", c))
}

func TestNotification_Execute(t *testing.T) {
	n := &memNotifier{}
	a := NewNotificationAction(n)

	c := testCapsule()
	require.NoError(t, a.Execute(context.Background(), map[string]any{"message": "Now **{status}**"}, c))
	require.Len(t, n.sent, 1)
	require.Equal(t, "Now **available**", n.sent[0].Text)
	require.Contains(t, n.sent[0].HTML, "<strong>available</strong>")
	require.Equal(t, "user-1", n.sent[0].UserID)

	require.NoError(t, a.Execute(context.Background(), map[string]any{}, c), "no message is a no-op")
	require.Len(t, n.sent, 1)

	require.True(t, errors.Is(a.Validate(map[string]any{"message": "  "}), errors.ErrInvalidRequest))
}

func TestChannelNotifier_Publishes(t *testing.T) {
	hub := channel.NewHub(nil)
	defer hub.Close()
	ctx := context.Background()

	listener := hub.Channel(channel.ContextChannelName("user-1"))
	got := make(chan channel.Message, 1)
	listener.OnMessage(func(m channel.Message) { got <- m })
	require.NoError(t, listener.Subscribe(ctx, channel.SubscribeOptions{UserID: "user-1"}))
	defer listener.Unsubscribe(ctx)

	err := NewChannelNotifier(hub).Notify(ctx, Notification{UserID: "user-1", Text: "hello"})
	require.NoError(t, err)

	select {
	case m := <-got:
		require.Equal(t, channel.TypeNotification, m.Type)
		var n Notification
		require.NoError(t, m.Decode(&n))
		require.Equal(t, "hello", n.Text)
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestMultiNotifier_JoinsErrors(t *testing.T) {
	ok := &memNotifier{}
	bad := &memNotifier{fails: stderrors.New("down")}
	err := MultiNotifier{bad, ok}.Notify(context.Background(), Notification{UserID: "u"})
	require.ErrorContains(t, err, "down")
	require.Len(t, ok.sent, 1, "later notifiers still run")
}

func TestIntegration_Formatters(t *testing.T) {
	a := NewIntegrationAction(nil, nil, nil)
	c := testCapsule()
	c.AvailabilityStatus = capsule.StatusFocus
	c.EnergyLevel = 80

	_, slack, err := a.Payload(map[string]any{"service": "slack"}, c)
	require.NoError(t, err)
	require.Equal(t, "🔵 Focus Mode ⚡ 80%", slack["status_text"])
	require.Equal(t, ":brain:", slack["status_emoji"])

	_, discord, err := a.Payload(map[string]any{"service": "Discord"}, c)
	require.NoError(t, err)
	require.Equal(t, "🔵 Focus Mode - Energy: 80%", discord["activity"])

	_, teams, err := a.Payload(map[string]any{"service": "teams"}, c)
	require.NoError(t, err)
	require.Equal(t, "focus", teams["availability"])
	require.Equal(t, "Energy: 80%", teams["message"])

	_, cal, err := a.Payload(map[string]any{"service": "calendar"}, c)
	require.NoError(t, err)
	require.Equal(t, true, cal["busy"])

	c.AvailabilityStatus = capsule.StatusAway
	_, cal, _ = a.Payload(map[string]any{"service": "calendar"}, c)
	require.Equal(t, false, cal["busy"])
}

func TestIndicators(t *testing.T) {
	require.Equal(t, "⚡", EnergyIndicator(76))
	require.Equal(t, "🔋", EnergyIndicator(75))
	require.Equal(t, "🔋", EnergyIndicator(51))
	require.Equal(t, "🪫", EnergyIndicator(50))
	require.Equal(t, "🟢 Available", StatusLabel(capsule.StatusAvailable))
	require.Equal(t, "🔴 Do Not Disturb", StatusLabel(capsule.StatusDND))
	require.Equal(t, "🟡 Away", StatusLabel(capsule.StatusAway))
	require.Equal(t, "⚪ Unknown", StatusLabel("sleeping"))
}

func TestIntegration_UnknownService(t *testing.T) {
	a := NewIntegrationAction(nil, nil, nil)
	err := a.Execute(context.Background(), map[string]any{"service": "myspace"}, testCapsule())
	require.True(t, errors.Is(err, errors.ErrUnrecognizedAction), "err = %v", err)
	require.True(t, errors.Is(a.Validate(map[string]any{}), errors.ErrUnrecognizedAction))
}

func TestIntegration_PostsToEndpoint(t *testing.T) {
	doer := &fakeDoer{}
	a := NewIntegrationAction(doer, map[string]string{"slack": "https://slack.example/status"}, nil)

	require.NoError(t, a.Execute(context.Background(), map[string]any{"service": "slack"}, testCapsule()))
	require.Len(t, doer.requests, 1)
	require.Equal(t, "https://slack.example/status", doer.requests[0].URL)
	require.Equal(t, http.MethodPost, doer.requests[0].Method)

	// No endpoint configured: logged only
	require.NoError(t, a.Execute(context.Background(), map[string]any{"service": "teams"}, testCapsule()))
	require.Len(t, doer.requests, 1)

	doer.status = http.StatusUnauthorized
	require.ErrorContains(t, a.Execute(context.Background(), map[string]any{"service": "slack"}, testCapsule()), "401")
}

func TestDispatcher(t *testing.T) {
	d := NewDefaultDispatcher(Deps{HTTP: &fakeDoer{status: 500}, Notifier: &memNotifier{}})
	require.Equal(t, []ActionType{ActionIntegrationUpdate, ActionNotification, ActionWebhook}, d.Types())

	err := d.Dispatch(context.Background(), "carrier_pigeon", nil, testCapsule())
	require.True(t, errors.Is(err, errors.ErrUnrecognizedAction))
	require.True(t, errors.Is(d.Validate("carrier_pigeon", nil), errors.ErrUnrecognizedAction))

	err = d.Dispatch(context.Background(), ActionWebhook, map[string]any{"url": "https://x"}, testCapsule())
	require.True(t, errors.Is(err, errors.ErrDispatchFailed), "err = %v", err)

	// Handler BeaconErrors pass through unchanged
	err = d.Dispatch(context.Background(), ActionIntegrationUpdate, map[string]any{"service": "fax"}, testCapsule())
	require.True(t, errors.Is(err, errors.ErrUnrecognizedAction))

	require.NoError(t, d.Dispatch(context.Background(), ActionNotification, nil, testCapsule()))
}
