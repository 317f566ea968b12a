package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistoryListContains(t *testing.T) {
	history := HistoryList{
		{Kind: HistoryKindVoicemail, CallSID: "CA1", Detail: "AI dialer reached voicemail"},
		{Kind: HistoryKindCallOutcome, CallSID: "CA1", Detail: "AI dialer call ended"},
		{Kind: HistoryKindAgentNote, CallSID: "CA2", Detail: "Agent marked call booked"},
	}

	assert.True(t, history.Contains("CA1", HistoryKindVoicemail))
	assert.True(t, history.Contains("CA1", HistoryKindCallOutcome))
	assert.True(t, history.Contains("CA2", HistoryKindAgentNote))

	// Same call, different kind is a distinct entry.
	assert.False(t, history.Contains("CA2", HistoryKindVoicemail))
	assert.False(t, history.Contains("CA3", HistoryKindVoicemail))

	var empty HistoryList
	assert.False(t, empty.Contains("CA1", HistoryKindVoicemail))
}
