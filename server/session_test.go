package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testOrigin = "http://localhost:3000"
	testIP     = "127.0.0.1:12345"
)

// TestAcquire tests first come, first served acquisition
func TestAcquire(t *testing.T) {
	manager := NewSessionManager("", 60*time.Second)

	token, err := manager.Acquire("", testOrigin, testIP)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, manager.Active())

	_, err = manager.Acquire("", "http://localhost:3001", "127.0.0.1:12346")
	assert.ErrorIs(t, err, ErrSessionClaimed)

	manager.Release()
	token, err = manager.Acquire("", testOrigin, testIP)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

// TestAcquireWithAPISecret tests API secret validation
func TestAcquireWithAPISecret(t *testing.T) {
	manager := NewSessionManager("test-secret", 60*time.Second)

	tests := []struct {
		name    string
		secret  string
		wantErr error
	}{
		{"Valid secret", "test-secret", nil},
		{"Invalid secret", "wrong-secret", ErrInvalidSecret},
		{"No secret", "", ErrInvalidSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager.Release()

			token, err := manager.Acquire(tt.secret, testOrigin, testIP)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, token)
		})
	}
}

// TestValidate tests origin and address binding
func TestValidate(t *testing.T) {
	manager := NewSessionManager("", 60*time.Second)

	token, err := manager.Acquire("", testOrigin, testIP)
	require.NoError(t, err)

	tests := []struct {
		name     string
		token    string
		origin   string
		ip       string
		expected bool
	}{
		{"Valid token and binding", token, testOrigin, testIP, true},
		{"Invalid token", "wrong-token", testOrigin, testIP, false},
		{"Wrong origin", token, "http://evil.com", testIP, false},
		{"Wrong IP", token, testOrigin, "192.168.1.1:8080", false},
		{"Empty token", "", testOrigin, testIP, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, manager.Validate(tt.token, tt.origin, tt.ip))
		})
	}
}

// TestReleaseToken tests that a stale owner cannot end a newer session
func TestReleaseToken(t *testing.T) {
	manager := NewSessionManager("", 60*time.Second)

	first, _ := manager.Acquire("", testOrigin, testIP)
	manager.Release()
	second, _ := manager.Acquire("", testOrigin, testIP)

	manager.ReleaseToken(first)
	assert.True(t, manager.Validate(second, testOrigin, testIP), "stale token must keep the current session")

	manager.ReleaseToken(second)
	assert.False(t, manager.Active())
}

// TestRefreshTimeout tests that activity keeps the session alive
func TestRefreshTimeout(t *testing.T) {
	manager := NewSessionManager("", 100*time.Millisecond)

	token, err := manager.Acquire("", testOrigin, testIP)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	manager.RefreshTimeout()
	time.Sleep(50 * time.Millisecond)

	assert.True(t, manager.Validate(token, testOrigin, testIP), "valid after refresh")

	time.Sleep(100 * time.Millisecond)
	assert.False(t, manager.Validate(token, testOrigin, testIP), "invalid after timeout")
}

// TestSessionTimeout tests expiry and the expiry callback
func TestSessionTimeout(t *testing.T) {
	manager := NewSessionManager("", 50*time.Millisecond)
	expired := make(chan struct{}, 1)
	manager.OnExpire(func() { expired <- struct{}{} })

	_, err := manager.Acquire("", testOrigin, testIP)
	require.NoError(t, err)

	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Fatal("OnExpire was not called")
	}

	assert.False(t, manager.Active())
	_, err = manager.Acquire("", testOrigin, testIP)
	assert.NoError(t, err, "a new session can be acquired after timeout")
}

// TestNoTimeout tests that a zero timeout never expires
func TestNoTimeout(t *testing.T) {
	manager := NewSessionManager("", 0)

	token, _ := manager.Acquire("", testOrigin, testIP)
	manager.RefreshTimeout()
	time.Sleep(20 * time.Millisecond)

	assert.True(t, manager.Validate(token, testOrigin, testIP))
}
