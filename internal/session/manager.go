package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Factory builds the session for a named connection profile.
type Factory func(ctx context.Context, profile string) (Session, error)

// Staler is optional. A session reporting Stale is dropped and rebuilt on the
// next fetch.
type Staler interface {
	Stale() bool
}

// Manager hands out one session per connection profile and keeps the active
// one between batches.
type Manager struct {
	factory  Factory
	mu       sync.RWMutex
	profile  string
	sessions map[string]Session
}

func NewManager(factory Factory, profile string) *Manager {
	return &Manager{
		factory:  factory,
		profile:  profile,
		sessions: make(map[string]Session),
	}
}

// Session returns the cached session for the active profile, building a new
// one when none exists or the cached one went stale.
func (m *Manager) Session(ctx context.Context) (Session, error) {
	m.mu.RLock()
	profile := m.profile
	s, ok := m.sessions[profile]
	m.mu.RUnlock()
	if ok && !isStale(s) {
		return s, nil
	}
	if m.factory == nil {
		return nil, errors.New("session factory is not configured")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[profile]; ok {
		if !isStale(s) {
			return s, nil
		}
		closeSession(profile, s)
		delete(m.sessions, profile)
	}
	s, err := m.factory(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("create session for profile %q: %w", profile, err)
	}
	m.sessions[profile] = s
	slog.Info("session created", "profile", profile)
	return s, nil
}

func (m *Manager) Profile() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.profile
}

// SetProfile switches the active profile. The previous profile's session is
// closed so the next batch reconnects.
func (m *Manager) SetProfile(profile string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if profile == m.profile {
		return
	}
	if s, ok := m.sessions[m.profile]; ok {
		closeSession(m.profile, s)
		delete(m.sessions, m.profile)
	}
	m.profile = profile
}

// Reset drops the active profile's session.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[m.profile]; ok {
		closeSession(m.profile, s)
		delete(m.sessions, m.profile)
	}
}

// Close closes every cached session.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for profile, s := range m.sessions {
		closeSession(profile, s)
		delete(m.sessions, profile)
	}
	return nil
}

func isStale(s Session) bool {
	st, ok := s.(Staler)
	return ok && st.Stale()
}

func closeSession(profile string, s Session) {
	c, ok := s.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		slog.Error("close session failed", "profile", profile, "error", err)
	}
}
