// Package session tracks interaction sessions: one session binds a device
// to a stream of user commands and, during batch learning, carries the queue
// of apps still to explore.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"appscout/internal/logging"
)

// ErrNotFound is returned when a session id is unknown or already closed.
var ErrNotFound = errors.New("session not found")

// Session is one device-bound interaction context.
type Session struct {
	ID              string
	DeviceID        string
	UserInstruction string

	mu          sync.Mutex
	active      bool
	createdAt   time.Time
	lastUpdated time.Time

	// Batch learning state: remaining app packages and the cursor into them
	learnQueue []string
	learnIndex int
}

// Active reports whether the session is still open.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Touch refreshes the last-activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastUpdated = time.Now()
	s.mu.Unlock()
}

// SetInstruction replaces the instruction driving the session, for callers
// that reuse a session across commands.
func (s *Session) SetInstruction(instruction string) {
	s.mu.Lock()
	s.UserInstruction = instruction
	s.lastUpdated = time.Now()
	s.mu.Unlock()
}

// LastUpdated returns the last-activity timestamp.
func (s *Session) LastUpdated() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUpdated
}

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// SetLearnQueue installs a batch learning queue and resets the cursor.
func (s *Session) SetLearnQueue(packages []string) {
	s.mu.Lock()
	s.learnQueue = append([]string(nil), packages...)
	s.learnIndex = 0
	s.lastUpdated = time.Now()
	s.mu.Unlock()
	logging.Session("session %s: learn queue set (%d apps)", s.ID, len(packages))
}

// NextLearnTarget pops the next package from the learning queue. Returns
// false when the queue is exhausted or was never set.
func (s *Session) NextLearnTarget() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.learnIndex >= len(s.learnQueue) {
		return "", false
	}
	pkg := s.learnQueue[s.learnIndex]
	s.learnIndex++
	s.lastUpdated = time.Now()
	return pkg, true
}

// LearnProgress reports the batch learning cursor as (current, total).
func (s *Session) LearnProgress() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.learnIndex, len(s.learnQueue)
}

// Config holds session manager settings.
type Config struct {
	MaxSessions int
	IdleTimeout time.Duration
}

// DefaultConfig returns the standard session manager settings.
func DefaultConfig() Config {
	return Config{
		MaxSessions: 100,
		IdleTimeout: 30 * time.Minute,
	}
}

// Manager owns the session table.
type Manager struct {
	config Config

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager.
func NewManager(config Config) *Manager {
	if config.MaxSessions <= 0 {
		config.MaxSessions = DefaultConfig().MaxSessions
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultConfig().IdleTimeout
	}
	return &Manager{
		config:   config,
		sessions: make(map[string]*Session),
	}
}

// Create opens a new session for a device.
func (m *Manager) Create(deviceID, userInstruction string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.config.MaxSessions {
		return nil, fmt.Errorf("session limit reached (%d)", m.config.MaxSessions)
	}

	now := time.Now()
	s := &Session{
		ID:              uuid.NewString(),
		DeviceID:        deviceID,
		UserInstruction: userInstruction,
		active:          true,
		createdAt:       now,
		lastUpdated:     now,
	}
	m.sessions[s.ID] = s

	logging.Session("created session %s for device %s", s.ID, deviceID)
	return s, nil
}

// Get returns an active session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// ForDevice returns the most recently updated session bound to a device.
func (m *Manager) ForDevice(deviceID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *Session
	for _, s := range m.sessions {
		if s.DeviceID != deviceID {
			continue
		}
		if best == nil || s.LastUpdated().After(best.LastUpdated()) {
			best = s
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: no session for device %s", ErrNotFound, deviceID)
	}
	return best, nil
}

// List returns every open session, most recently updated first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastUpdated().After(out[j].LastUpdated())
	})
	return out
}

// Close ends a session and removes it from the table.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
	delete(m.sessions, id)

	logging.Session("closed session %s", id)
	return nil
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CleanupStale closes sessions idle past the configured timeout and returns
// how many were removed.
func (m *Manager) CleanupStale() int {
	cutoff := time.Now().Add(-m.config.IdleTimeout)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if s.LastUpdated().Before(cutoff) {
			s.mu.Lock()
			s.active = false
			s.mu.Unlock()
			delete(m.sessions, id)
			removed++
			logging.Session("expired idle session %s (device %s)", id, s.DeviceID)
		}
	}
	return removed
}

// Janitor sweeps idle sessions every interval until ctx is cancelled.
// Run it on its own goroutine alongside the server.
func (m *Manager) Janitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupStale()
		}
	}
}

// CloseAll ends every session. Used at shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range m.sessions {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
		delete(m.sessions, id)
	}
}
