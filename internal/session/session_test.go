package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGet(t *testing.T) {
	m := NewManager(DefaultConfig())

	s, err := m.Create("device-1", "learn my apps")
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.True(t, s.Active())
	assert.Equal(t, "device-1", s.DeviceID)

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = m.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionLimit(t *testing.T) {
	m := NewManager(Config{MaxSessions: 2, IdleTimeout: time.Minute})

	_, err := m.Create("d", "")
	require.NoError(t, err)
	_, err = m.Create("d", "")
	require.NoError(t, err)
	_, err = m.Create("d", "")
	assert.Error(t, err)
}

func TestCloseSession(t *testing.T) {
	m := NewManager(DefaultConfig())
	s, err := m.Create("device-1", "")
	require.NoError(t, err)

	require.NoError(t, m.Close(s.ID))
	assert.False(t, s.Active())
	_, err = m.Get(s.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, m.Close(s.ID), ErrNotFound)
}

func TestForDevicePicksMostRecent(t *testing.T) {
	m := NewManager(DefaultConfig())

	s1, err := m.Create("device-1", "")
	require.NoError(t, err)
	s2, err := m.Create("device-1", "")
	require.NoError(t, err)
	_, err = m.Create("device-2", "")
	require.NoError(t, err)

	s1.Touch()
	time.Sleep(time.Millisecond)
	s2.Touch()

	got, err := m.ForDevice("device-1")
	require.NoError(t, err)
	assert.Equal(t, s2.ID, got.ID)

	_, err = m.ForDevice("device-9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLearnQueue(t *testing.T) {
	m := NewManager(DefaultConfig())
	s, err := m.Create("device-1", "")
	require.NoError(t, err)

	// No queue set
	_, ok := s.NextLearnTarget()
	assert.False(t, ok)

	s.SetLearnQueue([]string{"com.app.one", "com.app.two"})

	cur, total := s.LearnProgress()
	assert.Equal(t, 0, cur)
	assert.Equal(t, 2, total)

	pkg, ok := s.NextLearnTarget()
	require.True(t, ok)
	assert.Equal(t, "com.app.one", pkg)

	pkg, ok = s.NextLearnTarget()
	require.True(t, ok)
	assert.Equal(t, "com.app.two", pkg)

	_, ok = s.NextLearnTarget()
	assert.False(t, ok)

	cur, total = s.LearnProgress()
	assert.Equal(t, 2, cur)
	assert.Equal(t, 2, total)
}

func TestCleanupStale(t *testing.T) {
	m := NewManager(Config{MaxSessions: 10, IdleTimeout: 10 * time.Millisecond})

	stale, err := m.Create("device-1", "")
	require.NoError(t, err)
	fresh, err := m.Create("device-2", "")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	fresh.Touch()

	removed := m.CleanupStale()
	assert.Equal(t, 1, removed)
	assert.False(t, stale.Active())
	assert.True(t, fresh.Active())
	assert.Equal(t, 1, m.Count())
}

func TestJanitorSweepsIdleSessions(t *testing.T) {
	m := NewManager(Config{MaxSessions: 10, IdleTimeout: 10 * time.Millisecond})

	s, err := m.Create("device-1", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		m.Janitor(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return m.Count() == 0 }, time.Second, 5*time.Millisecond)
	assert.False(t, s.Active())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop on cancel")
	}
}

func TestSetInstruction(t *testing.T) {
	m := NewManager(DefaultConfig())
	s, err := m.Create("device-1", "first command")
	require.NoError(t, err)

	before := s.LastUpdated()
	time.Sleep(time.Millisecond)
	s.SetInstruction("second command")
	assert.Equal(t, "second command", s.UserInstruction)
	assert.True(t, s.LastUpdated().After(before))
}
