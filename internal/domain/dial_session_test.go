package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    SessionStatus
		to      SessionStatus
		allowed bool
	}{
		{name: "queued to running", from: SessionStatusQueued, to: SessionStatusRunning, allowed: true},
		{name: "queued to paused", from: SessionStatusQueued, to: SessionStatusPaused, allowed: true},
		{name: "queued to stopped", from: SessionStatusQueued, to: SessionStatusStopped, allowed: true},
		{name: "running to paused", from: SessionStatusRunning, to: SessionStatusPaused, allowed: true},
		{name: "running to completed", from: SessionStatusRunning, to: SessionStatusCompleted, allowed: true},
		{name: "paused resumes to queued", from: SessionStatusPaused, to: SessionStatusQueued, allowed: true},
		{name: "paused to stopped", from: SessionStatusPaused, to: SessionStatusStopped, allowed: true},
		{name: "paused cannot jump to running", from: SessionStatusPaused, to: SessionStatusRunning, allowed: false},
		{name: "paused cannot complete", from: SessionStatusPaused, to: SessionStatusCompleted, allowed: false},
		{name: "stopped is terminal", from: SessionStatusStopped, to: SessionStatusQueued, allowed: false},
		{name: "completed is terminal", from: SessionStatusCompleted, to: SessionStatusRunning, allowed: false},
		{name: "failed is terminal", from: SessionStatusFailed, to: SessionStatusQueued, allowed: false},
		{name: "running cannot go back to queued", from: SessionStatusRunning, to: SessionStatusQueued, allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestSessionStatusPredicates(t *testing.T) {
	for _, s := range []SessionStatus{SessionStatusQueued, SessionStatusRunning, SessionStatusPaused} {
		assert.True(t, s.IsActive(), string(s))
		assert.False(t, s.IsTerminal(), string(s))
	}
	for _, s := range []SessionStatus{SessionStatusStopped, SessionStatusCompleted, SessionStatusFailed} {
		assert.False(t, s.IsActive(), string(s))
		assert.True(t, s.IsTerminal(), string(s))
	}
}
