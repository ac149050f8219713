package focus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hpungsan/beacon/internal/capsule"
	"github.com/hpungsan/beacon/internal/channel"
	"github.com/hpungsan/beacon/internal/db"
	"github.com/hpungsan/beacon/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTimer(t *testing.T) *Timer {
	t.Helper()
	timer, err := NewTimer(nil)
	require.NoError(t, err)
	timer.Start()
	t.Cleanup(func() { timer.Stop() })
	return timer
}

// recordingTarget records the patches it receives.
type recordingTarget struct {
	mu      sync.Mutex
	patches []*capsule.Patch
}

func (r *recordingTarget) UpdateContext(_ context.Context, p *capsule.Patch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patches = append(r.patches, p)
	return nil
}

func (r *recordingTarget) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.patches)
}

func focusing(userID string, start time.Time, minutes int) *capsule.Capsule {
	c := capsule.NewDefault("CAP-"+userID, userID, 1000)
	c.FocusSessionActive = true
	c.FocusSessionDuration = minutes
	ms := start.UnixMilli()
	c.FocusSessionStartTime = &ms
	return c
}

func TestEndTime(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_000)
	end, ok := EndTime(focusing("u", start, 25))
	require.True(t, ok)
	require.Equal(t, start.Add(25*time.Minute), end)

	idle := capsule.NewDefault("CAP", "u", 1000)
	_, ok = EndTime(idle)
	require.False(t, ok)

	noStart := focusing("u", start, 25)
	noStart.FocusSessionStartTime = nil
	_, ok = EndTime(noStart)
	require.False(t, ok)

	_, ok = EndTime(nil)
	require.False(t, ok)
}

func TestSync_OverdueEndsImmediately(t *testing.T) {
	timer := newTimer(t)
	target := &recordingTarget{}

	timer.Sync(target, focusing("user-1", time.Now().Add(-time.Hour), 25))

	require.Eventually(t, func() bool { return target.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	_, pending := timer.Scheduled("user-1")
	require.False(t, pending)

	active, _ := target.patches[0].Get(capsule.FieldFocusSessionActive)
	require.Equal(t, false, active)
}

func TestSync_ReplaceAndCancel(t *testing.T) {
	timer := newTimer(t)
	target := &recordingTarget{}
	start := time.Now()

	timer.Sync(target, focusing("user-1", start, 25))
	end, ok := timer.Scheduled("user-1")
	require.True(t, ok)
	require.Equal(t, start.Add(25*time.Minute).UnixMilli(), end.UnixMilli())

	timer.Sync(target, focusing("user-1", start, 50))
	end, ok = timer.Scheduled("user-1")
	require.True(t, ok)
	require.Equal(t, start.Add(50*time.Minute).UnixMilli(), end.UnixMilli())

	timer.Sync(target, capsule.NewDefault("CAP", "user-1", 1000))
	_, ok = timer.Scheduled("user-1")
	require.False(t, ok, "ending focus early cancels the job")
	require.Zero(t, target.count())
}

func TestAttach_EndsFocusThroughSession(t *testing.T) {
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	store := db.NewStore(database)
	t.Cleanup(func() { store.Close() })
	hub := channel.NewHub(nil)
	t.Cleanup(func() { hub.Close() })

	timer := newTimer(t)

	s := session.New(session.Options{Store: store, Broker: hub})
	require.NoError(t, s.Subscribe(context.Background(), "user-1"))
	t.Cleanup(func() { s.Unsubscribe(context.Background()) })

	detach := timer.Attach(s)
	defer detach()

	// A one-minute session that started just under a minute ago.
	started := time.Now().Add(-time.Minute + 100*time.Millisecond).UnixMilli()
	require.NoError(t, s.UpdateContext(context.Background(), capsule.PatchOf(
		capsule.FieldFocusSessionActive, true,
		capsule.FieldFocusSessionDuration, 1,
		capsule.FieldFocusSessionStartTime, started,
	)))
	_, pending := timer.Scheduled("user-1")
	require.True(t, pending)

	require.Eventually(t, func() bool {
		return !s.Capsule().FocusSessionActive
	}, 3*time.Second, 20*time.Millisecond)

	require.Nil(t, s.Capsule().FocusSessionStartTime)
	history := s.History()
	require.Len(t, history, 2)
	require.Equal(t, "focusSessionActive", history[0].FieldChanged)
	require.Equal(t, false, history[0].NewValue)
}
