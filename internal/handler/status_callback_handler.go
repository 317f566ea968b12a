package handler

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/policyline/dialer-service/internal/services/dialer"
	"github.com/policyline/dialer-service/pkg/logger"
	"go.uber.org/zap"
)

// SignatureValidator checks the provider's webhook signature
type SignatureValidator interface {
	ValidateSignature(url string, params map[string]string, signature string) bool
}

// StatusCallbackHandler receives Twilio call status webhooks. It always
// answers 200 for processing failures: a non-200 would make Twilio retry
// into the same idempotent pipeline while alarming on our side for events
// we already absorbed. Only transport-level problems get another status.
type StatusCallbackHandler struct {
	processor *dialer.Processor
	validator SignatureValidator
	publicURL string
}

// NewStatusCallbackHandler creates a new status callback handler
func NewStatusCallbackHandler(processor *dialer.Processor, validator SignatureValidator, publicURL string) *StatusCallbackHandler {
	return &StatusCallbackHandler{
		processor: processor,
		validator: validator,
		publicURL: publicURL,
	}
}

// SetupRoutes registers the webhook route
func (h *StatusCallbackHandler) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks/twilio/status", h.HandleStatusCallback).Methods("POST")
}

// HandleStatusCallback handles POST /webhooks/twilio/status
func (h *StatusCallbackHandler) HandleStatusCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		logger.Base().Error("failed to parse status callback form", zap.Error(err))
		w.WriteHeader(http.StatusOK)
		return
	}

	if h.validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for key := range r.PostForm {
			params[key] = r.PostForm.Get(key)
		}
		requestURL := h.publicURL
		if requestURL == "" {
			requestURL = "https://" + r.Host + r.URL.RequestURI()
		} else {
			requestURL += r.URL.RequestURI()
		}
		if !h.validator.ValidateSignature(requestURL, params, r.Header.Get("X-Twilio-Signature")) {
			logger.Base().Warn("rejected status callback with bad signature",
				zap.String("remote_addr", r.RemoteAddr))
			w.WriteHeader(http.StatusForbidden)
			return
		}
	}

	ev := parseStatusEvent(r)
	if ev.CallSID == "" {
		logger.Base().Warn("status callback without CallSid, ignoring")
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.processor.Process(r.Context(), ev); err != nil {
		// Absorbed: the pipeline is idempotent and a provider retry would
		// just replay it; alerting happens through logs, not status codes.
		logger.Base().Error("status callback processing failed",
			zap.String("call_sid", ev.CallSID),
			zap.Error(err))
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// parseStatusEvent decodes the form payload plus the attribution query
// parameters the dispatcher appends to the callback URL.
func parseStatusEvent(r *http.Request) dialer.StatusEvent {
	duration, _ := strconv.Atoi(r.PostFormValue("CallDuration"))

	return dialer.StatusEvent{
		CallSID:         r.PostFormValue("CallSid"),
		CallStatus:      r.PostFormValue("CallStatus"),
		DurationSeconds: duration,
		AnsweredBy:      r.PostFormValue("AnsweredBy"),
		RecordingURL:    r.PostFormValue("RecordingUrl"),

		TenantEmail: r.URL.Query().Get("tenant"),
		SessionID:   r.URL.Query().Get("sessionId"),
		LeadID:      r.URL.Query().Get("leadId"),
	}
}
