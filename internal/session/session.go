// Package session keeps one user's live context: the current capsule, a
// bounded history buffer and the channel subscription that mirrors changes
// made elsewhere. Updates made through a Session are persisted, recorded,
// broadcast and handed to the automation engine.
package session

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/hpungsan/beacon/internal/automation"
	"github.com/hpungsan/beacon/internal/capsule"
	"github.com/hpungsan/beacon/internal/channel"
	"github.com/hpungsan/beacon/internal/errors"
	"github.com/hpungsan/beacon/internal/logging"
	"github.com/hpungsan/beacon/internal/metrics"
)

// Defaults for Options.
const (
	DefaultHistoryBufferSize = 50
	DefaultHistoryLoadLimit  = 20
)

// State is the subscription state of a Session.
type State int

const (
	StateIdle State = iota
	StateSubscribing
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateSubscribing:
		return "subscribing"
	case StateSubscribed:
		return "subscribed"
	}
	return "idle"
}

// Store is the persistence a Session needs.
type Store interface {
	LatestCapsule(ctx context.Context, userID string) (*capsule.Capsule, error)
	CreateCapsule(ctx context.Context, c *capsule.Capsule) error
	UpdateCapsule(ctx context.Context, id string, p *capsule.Patch, updatedAt int64) error
	AppendHistory(ctx context.Context, e *capsule.HistoryEntry) error
	RecentHistory(ctx context.Context, userID string, limit int) ([]capsule.HistoryEntry, error)
}

// Options configure a Session. Store and Broker are required.
type Options struct {
	Store  Store
	Broker channel.Broker

	// Engine runs action hooks after each update. Nil disables automation.
	Engine *automation.Engine

	Logger *zap.Logger

	HistoryBufferSize int
	HistoryLoadLimit  int

	// Now overrides the clock (tests).
	Now func() time.Time
}

// Update describes a change to the session's capsule. Remote is set when the
// change arrived over the channel from another subscriber.
type Update struct {
	Capsule *capsule.Capsule      `json:"capsule"`
	Entry   *capsule.HistoryEntry `json:"entry,omitempty"`
	Remote  bool                  `json:"remote"`
}

// Session is one user's live context.
//
// UpdateContext calls are serialized. Channel merges are applied as they
// arrive and are not ordered against local updates.
type Session struct {
	store      Store
	broker     channel.Broker
	engine     *automation.Engine
	logger     *zap.Logger
	bufferSize int
	loadLimit  int
	now        func() time.Time

	// updateMu serializes UpdateContext so a rollback never discards a later update.
	updateMu sync.Mutex

	mu        sync.Mutex
	state     State
	userID    string
	ch        channel.Channel
	connected bool
	current   *capsule.Capsule
	history   []capsule.HistoryEntry
	watchers  map[int]func(Update)
	nextWatch int
}

// New returns an idle session.
func New(opts Options) *Session {
	s := &Session{
		store:      opts.Store,
		broker:     opts.Broker,
		engine:     opts.Engine,
		logger:     logging.OrNop(opts.Logger),
		bufferSize: opts.HistoryBufferSize,
		loadLimit:  opts.HistoryLoadLimit,
		now:        opts.Now,
		watchers:   make(map[int]func(Update)),
	}
	if s.bufferSize <= 0 {
		s.bufferSize = DefaultHistoryBufferSize
	}
	if s.loadLimit <= 0 {
		s.loadLimit = DefaultHistoryLoadLimit
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// State returns the subscription state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UserID returns the subscribed user, or "" when idle.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Connected reports whether the channel is up and has members.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Streaming reports whether the channel handshake is in flight.
func (s *Session) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateSubscribing && s.ch != nil && !s.connected
}

// Capsule returns a copy of the current capsule, or nil before a subscribe
// completes.
func (s *Session) Capsule() *capsule.Capsule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// History returns a copy of the history buffer, newest first.
func (s *Session) History() []capsule.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]capsule.HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// Watch registers fn to be called after every local or remote change. fn runs
// synchronously and must not call UpdateContext. The returned func removes it.
func (s *Session) Watch(fn func(Update)) (cancel func()) {
	s.mu.Lock()
	id := s.nextWatch
	s.nextWatch++
	s.watchers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

func (s *Session) notify(u Update) {
	s.mu.Lock()
	fns := make([]func(Update), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(u)
	}
}

// Subscribe joins userID's context channel and loads the user's capsule
// (creating a default one if none exists) and recent history. Subscribing
// again for the same user is a no-op; a different user is a CONFLICT. On
// failure the session is left idle and SUBSCRIPTION_FAILED is returned.
func (s *Session) Subscribe(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.NewInvalidRequest("user id is required")
	}

	s.mu.Lock()
	if s.state != StateIdle {
		current := s.userID
		s.mu.Unlock()
		if current == userID {
			return nil
		}
		return errors.NewConflict("session is subscribed to user " + current + "; unsubscribe first")
	}
	s.state = StateSubscribing
	s.userID = userID
	s.mu.Unlock()

	ch, err := s.open(ctx, userID)
	if err != nil {
		if ch != nil {
			_ = ch.Unsubscribe(context.WithoutCancel(ctx))
		}
		s.reset()
		s.logger.Warn("context subscription failed",
			zap.String("user_id", userID),
			zap.Error(err))
		return errors.NewSubscriptionFailed(userID, err)
	}

	metrics.LiveSubscriptions.Inc()
	s.logger.Debug("context subscription established", zap.String("user_id", userID))
	return nil
}

// open runs the subscribe steps. The returned channel is non-nil whenever it
// was joined, so the caller can close it on error.
func (s *Session) open(ctx context.Context, userID string) (channel.Channel, error) {
	ch := s.broker.Channel(channel.ContextChannelName(userID))
	ch.OnMessage(s.handleMessage)
	ch.OnPresence(s.handlePresence)

	s.mu.Lock()
	s.ch = ch
	s.mu.Unlock()

	err := ch.Subscribe(ctx, channel.SubscribeOptions{
		UserID: userID,
		Metadata: map[string]any{
			"type":      "context_subscriber",
			"timestamp": s.now().UnixMilli(),
		},
	})
	if err != nil {
		// Subscribe may fail after joining; the caller still leaves.
		return ch, err
	}

	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()

	c, err := s.loadOrCreate(ctx, userID)
	if err != nil {
		return ch, err
	}

	history, err := s.store.RecentHistory(ctx, userID, s.loadLimit)
	if err != nil {
		return ch, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != ch {
		return ch, stderrors.New("unsubscribed while subscribing")
	}
	s.current = c
	s.history = history
	s.state = StateSubscribed
	return ch, nil
}

// loadOrCreate returns the user's capsule, creating a default one if none
// exists. Losing a creation race to another process reads the winner's.
func (s *Session) loadOrCreate(ctx context.Context, userID string) (*capsule.Capsule, error) {
	c, err := s.store.LatestCapsule(ctx, userID)
	if !errors.Is(err, errors.ErrNotFound) {
		return c, err
	}
	c = capsule.NewDefault(capsule.NewID(), userID, s.now().UnixMilli())
	err = s.store.CreateCapsule(ctx, c)
	if errors.Is(err, errors.ErrConflict) {
		return s.store.LatestCapsule(ctx, userID)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Session) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateIdle
	s.userID = ""
	s.ch = nil
	s.connected = false
	s.current = nil
	s.history = nil
}

// Unsubscribe leaves the channel and returns the session to idle. Calling it
// on an idle session does nothing.
func (s *Session) Unsubscribe(ctx context.Context) error {
	s.mu.Lock()
	ch := s.ch
	wasSubscribed := s.state == StateSubscribed
	s.ch = nil
	s.connected = false
	if s.state == StateSubscribed {
		s.state = StateIdle
		s.userID = ""
	}
	s.mu.Unlock()

	if ch == nil {
		return nil
	}
	if wasSubscribed {
		metrics.LiveSubscriptions.Dec()
	}
	// Handlers take s.mu, so the channel is closed without holding it.
	return ch.Unsubscribe(ctx)
}

func (s *Session) handlePresence(count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		return
	}
	s.connected = count > 0
}

// handleMessage merges a context_update published by another subscriber.
func (s *Session) handleMessage(m channel.Message) {
	if m.Type != channel.TypeContextUpdate {
		return
	}
	var payload map[string]any
	if err := m.Decode(&payload); err != nil {
		s.logger.Warn("dropping malformed context update", zap.Error(err))
		return
	}

	patch := capsule.NewPatch()
	for _, field := range capsule.Fields {
		raw, ok := payload[string(field)]
		if !ok {
			continue
		}
		v, err := capsule.NormalizeValue(field, raw)
		if err != nil {
			s.logger.Warn("ignoring invalid field in context update",
				zap.String("field", string(field)),
				zap.Error(err))
			continue
		}
		patch.Set(field, v)
	}

	s.mu.Lock()
	if s.ch == nil {
		s.mu.Unlock()
		return
	}
	if s.current != nil && patch.Len() > 0 {
		s.current = s.current.Apply(patch)
	}

	capsuleID := cast.ToString(payload["id"])
	if capsuleID == "" && s.current != nil {
		capsuleID = s.current.ID
	}
	if capsuleID == "" {
		capsuleID = "current"
	}
	fieldChanged := cast.ToString(payload["fieldChanged"])
	if fieldChanged == "" {
		fieldChanged = "unknown"
	}
	entry := capsule.HistoryEntry{
		ID:           capsule.NewID(),
		UserID:       s.userID,
		CapsuleID:    capsuleID,
		FieldChanged: fieldChanged,
		OldValue:     payload["oldValue"],
		NewValue:     payload["newValue"],
		Timestamp:    s.now().UnixMilli(),
	}
	s.history = capsule.PrependBounded(s.history, entry, s.bufferSize)
	snapshot := s.current.Clone()
	s.mu.Unlock()

	s.notify(Update{Capsule: snapshot, Entry: &entry, Remote: true})
}

// UpdateContext applies patch to the current capsule, persists it, records a
// history entry for the first patched field, broadcasts the change and runs
// action hooks.
//
// Without a loaded capsule it does nothing. An empty or invalid patch is
// INVALID_REQUEST. If persisting, recording or broadcasting fails the local
// capsule is restored and PERSISTENCE_FAILED is returned. Hook failures are
// logged only.
func (s *Session) UpdateContext(ctx context.Context, patch *capsule.Patch) error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	s.mu.Lock()
	prev := s.current
	s.mu.Unlock()
	if prev == nil {
		return nil
	}

	p, err := capsule.Normalize(patch)
	if err != nil {
		metrics.ContextUpdatesTotal.WithLabelValues(metrics.StatusSkipped).Inc()
		return err
	}

	now := s.now().UnixMilli()
	if now <= prev.UpdatedAt {
		now = prev.UpdatedAt + 1
	}
	merged := prev.Apply(p)
	merged.UpdatedAt = now

	s.mu.Lock()
	s.current = merged
	ch := s.ch
	s.mu.Unlock()

	entry, err := s.commit(ctx, ch, prev, merged, p, now)
	if err != nil {
		s.mu.Lock()
		s.current = prev
		s.mu.Unlock()
		metrics.ContextUpdatesTotal.WithLabelValues(metrics.StatusFailure).Inc()
		s.logger.Error("context update rolled back",
			zap.String("user_id", prev.UserID),
			zap.Error(err))
		return err
	}
	metrics.ContextUpdatesTotal.WithLabelValues(metrics.StatusSuccess).Inc()

	snapshot := s.Capsule()
	s.notify(Update{Capsule: snapshot, Entry: entry})

	if s.engine != nil {
		if _, err := s.engine.Run(ctx, snapshot, p); err != nil {
			s.logger.Error("failed to run action hooks",
				zap.String("user_id", snapshot.UserID),
				zap.Error(err))
		}
	}
	return nil
}

// commit runs the persist, record and broadcast steps of an update.
func (s *Session) commit(ctx context.Context, ch channel.Channel, prev, merged *capsule.Capsule, p *capsule.Patch, now int64) (*capsule.HistoryEntry, error) {
	if merged.ID == "" {
		created := merged.Clone()
		if err := s.store.CreateCapsule(ctx, created); err != nil {
			return nil, errors.NewPersistenceFailed("create capsule", err)
		}
		s.mu.Lock()
		if s.current == merged {
			merged.ID = created.ID
		}
		s.mu.Unlock()
	} else if err := s.store.UpdateCapsule(ctx, merged.ID, p, now); err != nil {
		return nil, errors.NewPersistenceFailed("update capsule", err)
	}

	field, newValue, _ := p.First()
	oldValue, _ := prev.Get(field)
	entry := &capsule.HistoryEntry{
		ID:           capsule.NewID(),
		UserID:       merged.UserID,
		CapsuleID:    merged.ID,
		FieldChanged: string(field),
		OldValue:     oldValue,
		NewValue:     newValue,
		Timestamp:    now,
	}
	if err := s.store.AppendHistory(ctx, entry); err != nil {
		return nil, errors.NewPersistenceFailed("record history", err)
	}

	if ch != nil {
		payload := p.Map()
		payload["fieldChanged"] = string(field)
		payload["oldValue"] = oldValue
		payload["newValue"] = newValue
		if err := ch.Publish(ctx, channel.TypeContextUpdate, payload); err != nil {
			return nil, errors.NewPersistenceFailed("broadcast update", err)
		}
	}

	// The buffer only ever holds committed changes.
	s.mu.Lock()
	s.history = capsule.PrependBounded(s.history, *entry, s.bufferSize)
	s.mu.Unlock()
	return entry, nil
}
