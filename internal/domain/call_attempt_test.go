package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveOutcome(t *testing.T) {
	tests := []struct {
		name            string
		current         CallOutcome
		currentSource   OutcomeSource
		candidateSource OutcomeSource
		allowed         bool
	}{
		{name: "anything writes over unknown", current: OutcomeUnknown, currentSource: "", candidateSource: SourceCallStatusFallback, allowed: true},
		{name: "anything writes over empty", current: "", currentSource: "", candidateSource: SourceAMDVoicemail, allowed: true},
		{name: "agent over fallback", current: OutcomeNoAnswer, currentSource: SourceCallStatusFallback, candidateSource: SourceAgent, allowed: true},
		{name: "agent over amd voicemail", current: OutcomeVoicemail, currentSource: SourceAMDVoicemail, candidateSource: SourceAgent, allowed: true},
		{name: "fallback never over agent", current: OutcomeBooked, currentSource: SourceAgent, candidateSource: SourceCallStatusFallback, allowed: false},
		{name: "amd never over agent", current: OutcomeBooked, currentSource: SourceAgent, candidateSource: SourceAMDVoicemail, allowed: false},
		{name: "fallback never over amd", current: OutcomeVoicemail, currentSource: SourceAMDVoicemail, candidateSource: SourceCallStatusFallback, allowed: false},
		{name: "amd over fallback", current: OutcomeNoAnswer, currentSource: SourceCallStatusFallback, candidateSource: SourceAMDVoicemail, allowed: true},
		{name: "agent never over agent", current: OutcomeBooked, currentSource: SourceAgent, candidateSource: SourceAgent, allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, ResolveOutcome(tt.current, tt.currentSource, tt.candidateSource))
		})
	}
}

func TestIsRealOutcome(t *testing.T) {
	assert.False(t, IsRealOutcome(OutcomeUnknown, ""))
	assert.False(t, IsRealOutcome("", ""))
	assert.False(t, IsRealOutcome(OutcomeVoicemail, SourceAMDVoicemail))
	assert.False(t, IsRealOutcome(OutcomeNoAnswer, SourceCallStatusFallback))
	assert.True(t, IsRealOutcome(OutcomeBooked, SourceAgent))
	assert.True(t, IsRealOutcome(OutcomeNotInterested, SourceAgent))
}

func TestIsTerminalCallStatus(t *testing.T) {
	for _, status := range []string{"completed", "busy", "no-answer", "failed", "canceled"} {
		assert.True(t, IsTerminalCallStatus(status), status)
	}
	for _, status := range []string{"queued", "initiated", "ringing", "in-progress", "answered", ""} {
		assert.False(t, IsTerminalCallStatus(status), status)
	}
}

func TestFallbackOutcome(t *testing.T) {
	tests := []struct {
		name       string
		callStatus string
		answeredBy string
		expected   CallOutcome
	}{
		{name: "completed human call", callStatus: "completed", answeredBy: "human", expected: OutcomeDisconnected},
		{name: "completed machine call", callStatus: "completed", answeredBy: "machine_end_beep", expected: OutcomeVoicemail},
		{name: "machine start counts as machine here", callStatus: "completed", answeredBy: "machine_start", expected: OutcomeVoicemail},
		{name: "busy", callStatus: "busy", answeredBy: "", expected: OutcomeNoAnswer},
		{name: "no answer", callStatus: "no-answer", answeredBy: "", expected: OutcomeNoAnswer},
		{name: "failed", callStatus: "failed", answeredBy: "", expected: OutcomeFailed},
		{name: "canceled", callStatus: "canceled", answeredBy: "", expected: OutcomeFailed},
		{name: "non-terminal yields unknown", callStatus: "ringing", answeredBy: "", expected: OutcomeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FallbackOutcome(tt.callStatus, tt.answeredBy))
		})
	}
}
