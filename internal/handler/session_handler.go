package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/policyline/dialer-service/internal/cache"
	"github.com/policyline/dialer-service/internal/domain"
	"github.com/policyline/dialer-service/internal/services/dialer"
	"github.com/policyline/dialer-service/pkg/logger"
	"go.uber.org/zap"
)

// SessionHandler exposes the dial session API to the CRM UI
type SessionHandler struct {
	orchestrator *dialer.Orchestrator
	sessionCache *cache.SessionCache
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(orchestrator *dialer.Orchestrator, sessionCache *cache.SessionCache) *SessionHandler {
	return &SessionHandler{
		orchestrator: orchestrator,
		sessionCache: sessionCache,
	}
}

// SetupRoutes registers the session API routes
func (h *SessionHandler) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/dial-sessions", h.HandleStartOrResume).Methods("POST")
	router.HandleFunc("/dial-sessions", h.HandleControl).Methods("PATCH")
	router.HandleFunc("/dial-sessions/active", h.HandleActiveSession).Methods("GET")
	router.HandleFunc("/dial-sessions", h.HandleSessionByFolder).Methods("GET").Queries("folderId", "{folderId}")
	router.HandleFunc("/calls/outcome", h.HandleAgentOutcome).Methods("POST")
}

// StartSessionRequest is the start/resume request body
type StartSessionRequest struct {
	FolderID   string `json:"folderId"`
	Mode       string `json:"mode"`
	FromNumber string `json:"fromNumber"`
	ScriptKey  string `json:"scriptKey"`
	VoiceKey   string `json:"voiceKey"`
}

// ControlSessionRequest is the stop/pause/resume request body
type ControlSessionRequest struct {
	SessionID string `json:"sessionId"`
	Action    string `json:"action"`
}

// AgentOutcomeRequest is the agent disposition submission body
type AgentOutcomeRequest struct {
	CallSID string `json:"callSid"`
	Outcome string `json:"outcome"`
}

// HandleStartOrResume handles POST /api/dial-sessions
func (h *SessionHandler) HandleStartOrResume(w http.ResponseWriter, r *http.Request) {
	tenant := TenantFromContext(r.Context())

	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FolderID == "" {
		sendError(w, http.StatusBadRequest, "folderId is required")
		return
	}

	mode := domain.StartMode(req.Mode)
	if mode != domain.StartModeResume {
		mode = domain.StartModeFresh
	}

	snapshot, err := h.orchestrator.StartOrResume(r.Context(), tenant, req.FolderID, dialer.SessionConfig{
		FromNumber: req.FromNumber,
		ScriptKey:  req.ScriptKey,
		VoiceKey:   req.VoiceKey,
	}, mode)
	if err != nil {
		if errors.Is(err, dialer.ErrEmptyQueue) {
			sendError(w, http.StatusBadRequest, "EMPTY_QUEUE")
			return
		}
		logger.Base().Error("failed to start dial session",
			zap.String("tenant", tenant),
			zap.String("folder_id", req.FolderID),
			zap.Error(err))
		sendError(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	h.sessionCache.Invalidate(r.Context(), tenant, req.FolderID)
	sendJSON(w, http.StatusOK, snapshot)
}

// HandleControl handles PATCH /api/dial-sessions
func (h *SessionHandler) HandleControl(w http.ResponseWriter, r *http.Request) {
	tenant := TenantFromContext(r.Context())

	var req ControlSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		sendError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	snapshot, err := h.orchestrator.Control(r.Context(), tenant, req.SessionID, dialer.SessionAction(req.Action))
	if err != nil {
		switch {
		case errors.Is(err, dialer.ErrSessionNotFound):
			sendError(w, http.StatusNotFound, "NOT_FOUND")
		case errors.Is(err, dialer.ErrInvalidAction):
			sendError(w, http.StatusBadRequest, "invalid action")
		default:
			logger.Base().Error("failed to control dial session",
				zap.String("session_id", req.SessionID),
				zap.Error(err))
			sendError(w, http.StatusInternalServerError, "failed to control session")
		}
		return
	}

	h.sessionCache.Invalidate(r.Context(), tenant, snapshot.FolderID)
	sendJSON(w, http.StatusOK, snapshot)
}

// HandleSessionByFolder handles GET /api/dial-sessions?folderId=
func (h *SessionHandler) HandleSessionByFolder(w http.ResponseWriter, r *http.Request) {
	tenant := TenantFromContext(r.Context())
	folderID := r.URL.Query().Get("folderId")
	if folderID == "" {
		sendError(w, http.StatusBadRequest, "folderId is required")
		return
	}

	if cached := h.sessionCache.GetByFolder(r.Context(), tenant, folderID); cached != nil {
		sendJSON(w, http.StatusOK, cached)
		return
	}

	snapshot, err := h.orchestrator.SessionByFolder(r.Context(), tenant, folderID)
	if err != nil {
		logger.Base().Error("failed to load session by folder",
			zap.String("folder_id", folderID),
			zap.Error(err))
		sendError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if snapshot == nil {
		sendJSON(w, http.StatusOK, nil)
		return
	}

	h.sessionCache.Put(r.Context(), snapshot)
	sendJSON(w, http.StatusOK, snapshot)
}

// HandleActiveSession handles GET /api/dial-sessions/active
func (h *SessionHandler) HandleActiveSession(w http.ResponseWriter, r *http.Request) {
	tenant := TenantFromContext(r.Context())

	snapshot, err := h.orchestrator.ActiveSession(r.Context(), tenant)
	if err != nil {
		logger.Base().Error("failed to load active session",
			zap.String("tenant", tenant),
			zap.Error(err))
		sendError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	sendJSON(w, http.StatusOK, snapshot)
}

// HandleAgentOutcome handles POST /api/calls/outcome
func (h *SessionHandler) HandleAgentOutcome(w http.ResponseWriter, r *http.Request) {
	tenant := TenantFromContext(r.Context())

	var req AgentOutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CallSID == "" || req.Outcome == "" {
		sendError(w, http.StatusBadRequest, "callSid and outcome are required")
		return
	}

	attempt, err := h.orchestrator.SubmitAgentOutcome(r.Context(), tenant, req.CallSID, domain.CallOutcome(req.Outcome))
	if err != nil {
		if errors.Is(err, dialer.ErrCallNotFound) {
			sendError(w, http.StatusNotFound, "NOT_FOUND")
			return
		}
		logger.Base().Error("failed to submit agent outcome",
			zap.String("call_sid", req.CallSID),
			zap.Error(err))
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, attempt)
}

func sendJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func sendError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
