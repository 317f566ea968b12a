package domain

import (
	"time"
)

// CallOutcome is the disposition assigned to a call attempt
type CallOutcome string

const (
	OutcomeUnknown       CallOutcome = "unknown"
	OutcomeBooked        CallOutcome = "booked"
	OutcomeCallback      CallOutcome = "callback"
	OutcomeNotInterested CallOutcome = "not_interested"
	OutcomeNoAnswer      CallOutcome = "no_answer"
	OutcomeVoicemail     CallOutcome = "voicemail"
	OutcomeDisconnected  CallOutcome = "disconnected"
	OutcomeFailed        CallOutcome = "failed"
)

// OutcomeSource tags which writer set an outcome. Precedence between
// sources decides whether a later writer may act.
type OutcomeSource string

const (
	SourceAgent              OutcomeSource = "agent"
	SourceAMDVoicemail       OutcomeSource = "amd_voicemail"
	SourceCallStatusFallback OutcomeSource = "call_status_fallback"
)

// outcomePriority orders the racing writers. An agent-submitted outcome
// always wins over anything the webhook processor derives on its own.
var outcomePriority = map[OutcomeSource]int{
	SourceAgent:              3,
	SourceAMDVoicemail:       2,
	SourceCallStatusFallback: 1,
}

// ResolveOutcome reports whether a candidate writer is allowed to replace
// the current outcome. Every outcome writer goes through this single
// function so the source-priority rules live in one place.
func ResolveOutcome(current CallOutcome, currentSource OutcomeSource, candidateSource OutcomeSource) bool {
	if current == "" || current == OutcomeUnknown {
		return true
	}
	return outcomePriority[candidateSource] > outcomePriority[currentSource]
}

// IsRealOutcome reports whether an outcome was deliberately assigned by a
// higher-priority writer than the processor's own fallback paths. The
// terminal-status fallback must never touch these.
func IsRealOutcome(outcome CallOutcome, source OutcomeSource) bool {
	if outcome == "" || outcome == OutcomeUnknown || outcome == OutcomeVoicemail {
		return false
	}
	return source != SourceCallStatusFallback && source != SourceAMDVoicemail
}

// Terminal Twilio call statuses. Non-terminal statuses (queued, ringing,
// initiated, in-progress, answered) never trigger fallback or chaining.
var terminalCallStatuses = map[string]bool{
	"completed": true,
	"busy":      true,
	"no-answer": true,
	"failed":    true,
	"canceled":  true,
}

// IsTerminalCallStatus reports whether a provider call status is final.
func IsTerminalCallStatus(status string) bool {
	return terminalCallStatuses[status]
}

// FallbackOutcome maps a terminal provider status plus the answered-by
// classification to a conservative outcome for calls the agent never
// dispositioned.
func FallbackOutcome(callStatus, answeredBy string) CallOutcome {
	if IsMachineAnsweredBy(answeredBy) {
		return OutcomeVoicemail
	}
	switch callStatus {
	case "completed":
		return OutcomeDisconnected
	case "busy", "no-answer":
		return OutcomeNoAnswer
	case "failed", "canceled":
		return OutcomeFailed
	default:
		return OutcomeUnknown
	}
}

// CallAttempt is one outbound telephony call placed as part of a dial
// session. The provider CallSid is the natural key for every idempotency
// lock; rows are created on the first webhook event and never deleted.
type CallAttempt struct {
	CallSID     string `json:"call_sid" gorm:"column:call_sid;type:varchar(64);primaryKey"`
	TenantEmail string `json:"tenant_email" gorm:"type:varchar(255);index"`
	SessionID   string `json:"session_id" gorm:"type:uuid;index"`
	LeadID      string `json:"lead_id" gorm:"type:uuid;index"`

	Status          string `json:"status" gorm:"type:varchar(32)"`
	DurationSeconds int    `json:"duration_seconds"`
	AnsweredBy      string `json:"answered_by" gorm:"type:varchar(32)"`
	RecordingURL    string `json:"recording_url" gorm:"type:text"`
	Transcript      string `json:"transcript" gorm:"type:text"`

	Outcome       CallOutcome   `json:"outcome" gorm:"type:varchar(32);default:unknown"`
	OutcomeSource OutcomeSource `json:"outcome_source" gorm:"type:varchar(32)"`

	// Idempotency locks, each set exactly once via set-if-null. BilledAt
	// may be reset to null only when a ledger write fails after the claim.
	// ChainKickedAt marks that this call already advanced its session, so a
	// redelivered terminal event for the same CallSid can never advance
	// again no matter how late it arrives.
	BilledAt           *time.Time `json:"billed_at"`
	VoicemailHandledAt *time.Time `json:"voicemail_handled_at"`
	ChainKickedAt      *time.Time `json:"chain_kicked_at"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName sets the table name for CallAttempt
func (CallAttempt) TableName() string {
	return "call_attempts"
}
