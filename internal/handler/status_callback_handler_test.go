package handler

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubValidator struct {
	pass    bool
	lastURL string
}

func (v *stubValidator) ValidateSignature(url string, params map[string]string, signature string) bool {
	v.lastURL = url
	return v.pass
}

func statusCallbackRequest(t *testing.T, target string, form url.Values) *http.Request {
	req := httptest.NewRequest("POST", target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestParseStatusEvent(t *testing.T) {
	form := url.Values{
		"CallSid":      {"CA123"},
		"CallStatus":   {"completed"},
		"CallDuration": {"125"},
		"AnsweredBy":   {"machine_end_beep"},
		"RecordingUrl": {"https://api.twilio.com/recordings/RE1"},
	}
	req := statusCallbackRequest(t,
		"/webhooks/twilio/status?tenant=agency%40policyline.io&sessionId=sess-1&leadId=lead-1", form)
	require.NoError(t, req.ParseForm())

	ev := parseStatusEvent(req)
	assert.Equal(t, "CA123", ev.CallSID)
	assert.Equal(t, "completed", ev.CallStatus)
	assert.Equal(t, 125, ev.DurationSeconds)
	assert.Equal(t, "machine_end_beep", ev.AnsweredBy)
	assert.Equal(t, "https://api.twilio.com/recordings/RE1", ev.RecordingURL)
	assert.Equal(t, "agency@policyline.io", ev.TenantEmail)
	assert.Equal(t, "sess-1", ev.SessionID)
	assert.Equal(t, "lead-1", ev.LeadID)
}

func TestParseStatusEventMissingFields(t *testing.T) {
	req := statusCallbackRequest(t, "/webhooks/twilio/status", url.Values{"CallSid": {"CA123"}})
	require.NoError(t, req.ParseForm())

	ev := parseStatusEvent(req)
	assert.Equal(t, "CA123", ev.CallSID)
	assert.Equal(t, 0, ev.DurationSeconds)
	assert.Empty(t, ev.TenantEmail)
}

func TestStatusCallbackMissingCallSidReturns200(t *testing.T) {
	h := NewStatusCallbackHandler(nil, nil, "")

	req := statusCallbackRequest(t, "/webhooks/twilio/status", url.Values{"CallStatus": {"completed"}})
	rec := httptest.NewRecorder()
	h.HandleStatusCallback(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusCallbackRejectsBadSignature(t *testing.T) {
	validator := &stubValidator{pass: false}
	h := NewStatusCallbackHandler(nil, validator, "https://dialer.policyline.io")

	req := statusCallbackRequest(t, "/webhooks/twilio/status?tenant=a%40b.io", url.Values{"CallSid": {"CA123"}})
	req.Header.Set("X-Twilio-Signature", "bogus")
	rec := httptest.NewRecorder()
	h.HandleStatusCallback(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	// Validation runs against the externally visible URL, query included.
	assert.Equal(t, "https://dialer.policyline.io/webhooks/twilio/status?tenant=a%40b.io", validator.lastURL)
}
