package session

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"

	"github.com/hpungsan/beacon/internal/errors"
)

// Manager keeps one subscribed Session per user for long-running servers.
type Manager struct {
	opts Options

	// OnSession, if set, is called once for each newly subscribed session.
	OnSession func(*Session)

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager returns a manager creating sessions with opts.
func NewManager(opts Options) *Manager {
	return &Manager{
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Get returns userID's session, subscribing a new one on first use.
func (m *Manager) Get(ctx context.Context, userID string) (*Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.NewInvalidRequest("user id is required")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.NewSubscriptionFailed(userID, stderrors.New("session manager closed"))
	}
	if s, ok := m.sessions[userID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	s := New(m.opts)
	if err := s.Subscribe(ctx, userID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.sessions[userID]; ok || m.closed {
		m.mu.Unlock()
		// Lost a race with another Get or with Close.
		_ = s.Unsubscribe(context.WithoutCancel(ctx))
		if ok {
			return existing, nil
		}
		return nil, errors.NewSubscriptionFailed(userID, stderrors.New("session manager closed"))
	}
	m.sessions[userID] = s
	m.mu.Unlock()

	if m.OnSession != nil {
		m.OnSession(s)
	}
	return s, nil
}

// Sessions returns the live sessions.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Close unsubscribes every session. Get fails afterwards.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Unsubscribe(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
