package domain

import (
	"time"
)

// SessionStatus represents the lifecycle state of a dial session
type SessionStatus string

const (
	SessionStatusQueued    SessionStatus = "queued"
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusPaused    SessionStatus = "paused"
	SessionStatusStopped   SessionStatus = "stopped"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

// sessionTransitions is the closed set of allowed status transitions.
// Terminal states (stopped, completed, failed) have no exits; a fresh
// start reuses the same row and is handled by the upsert, not here.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusQueued:  {SessionStatusRunning, SessionStatusPaused, SessionStatusStopped, SessionStatusCompleted, SessionStatusFailed},
	SessionStatusRunning: {SessionStatusPaused, SessionStatusStopped, SessionStatusCompleted, SessionStatusFailed},
	SessionStatusPaused:  {SessionStatusQueued, SessionStatusStopped},
}

// CanTransition reports whether a session may move from one status to another.
func CanTransition(from, to SessionStatus) bool {
	for _, allowed := range sessionTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsActive reports whether the session can still place or chain calls.
func (s SessionStatus) IsActive() bool {
	return s == SessionStatusQueued || s == SessionStatusRunning || s == SessionStatusPaused
}

// IsTerminal reports whether the session is in a final state.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusStopped || s == SessionStatusCompleted || s == SessionStatusFailed
}

// StartMode controls how StartOrResume treats an existing session
type StartMode string

const (
	StartModeFresh  StartMode = "fresh"  // reset cursor, overwrite queue and config
	StartModeResume StartMode = "resume" // keep cursor, overwrite config
)

// DialSession is one run of the AI dialer against a lead folder. There is
// at most one row per (tenant, folder); fresh starts overwrite it in place.
type DialSession struct {
	ID          string     `json:"id" gorm:"type:uuid;primaryKey"`
	TenantEmail string     `json:"tenant_email" gorm:"type:varchar(255);not null;uniqueIndex:uni_dial_sessions_tenant_folder;index"`
	FolderID    string     `json:"folder_id" gorm:"type:varchar(255);not null;uniqueIndex:uni_dial_sessions_tenant_folder"`
	LeadQueue   StringList `json:"lead_queue" gorm:"type:jsonb"`
	// Cursor is the index of the last lead handed to the dispatcher, -1
	// before any call has been placed. It only moves forward except on an
	// explicit fresh start.
	Cursor int           `json:"cursor" gorm:"default:-1"`
	Status SessionStatus `json:"status" gorm:"type:varchar(32);index"`

	FromNumber string `json:"from_number" gorm:"type:varchar(32)"`
	ScriptKey  string `json:"script_key" gorm:"type:varchar(128)"`
	VoiceKey   string `json:"voice_key" gorm:"type:varchar(128)"`

	// Chain-advance dedup token: the last kick time and the call that
	// caused it. Claimed via conditional update, never read-modify-write.
	ChainKickedAt    *time.Time `json:"chain_kicked_at"`
	ChainKickCallSID string     `json:"chain_kick_call_sid" gorm:"type:varchar(64)"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName sets the table name for DialSession
func (DialSession) TableName() string {
	return "dial_sessions"
}

// SessionStats aggregates per-call outcomes for a session. The source of
// truth is the call_attempts table; these are computed lazily on reads.
type SessionStats struct {
	Total         int `json:"total"`
	Completed     int `json:"completed"`
	Booked        int `json:"booked"`
	NotInterested int `json:"notInterested"`
	NoAnswers     int `json:"noAnswers"`
}

// SessionSnapshot is the API representation of a session plus its stats
type SessionSnapshot struct {
	DialSession
	Stats SessionStats `json:"stats"`
}
