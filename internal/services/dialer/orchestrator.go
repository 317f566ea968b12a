package dialer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/policyline/dialer-service/internal/domain"
	"github.com/policyline/dialer-service/internal/repository"
	"github.com/policyline/dialer-service/pkg/logger"
	"go.uber.org/zap"
)

var (
	// ErrEmptyQueue is returned when the target folder has no leads
	ErrEmptyQueue = errors.New("folder has no leads to dial")
	// ErrSessionNotFound is returned for unknown or foreign-tenant sessions
	ErrSessionNotFound = errors.New("dial session not found")
	// ErrInvalidAction is returned for unknown control actions
	ErrInvalidAction = errors.New("invalid session action")
)

// SessionAction is a control operation on a running session
type SessionAction string

const (
	ActionStop   SessionAction = "stop"
	ActionPause  SessionAction = "pause"
	ActionResume SessionAction = "resume"
)

// SessionConfig is the dialing configuration captured at start time
type SessionConfig struct {
	FromNumber string
	ScriptKey  string
	VoiceKey   string
}

// Orchestrator creates and controls dial sessions and notifies the voice
// dispatcher to begin placing calls.
type Orchestrator struct {
	repos      repository.RepositoryManager
	dispatcher Dispatcher
}

// NewOrchestrator creates a new session orchestrator
func NewOrchestrator(repos repository.RepositoryManager, dispatcher Dispatcher) *Orchestrator {
	return &Orchestrator{
		repos:      repos,
		dispatcher: dispatcher,
	}
}

// StartOrResume builds the lead queue for a folder and upserts the single
// session row for (tenant, folder). Fresh mode resets the cursor for a new
// run; resume keeps it. The dispatcher kick is asynchronous and
// best-effort: a failed kick leaves the session queued and kickable again.
func (o *Orchestrator) StartOrResume(ctx context.Context, tenantEmail, folderID string, cfg SessionConfig, mode domain.StartMode) (*domain.SessionSnapshot, error) {
	if mode != domain.StartModeFresh && mode != domain.StartModeResume {
		mode = domain.StartModeFresh
	}

	leadIDs, err := o.repos.Lead().IDsByFolder(ctx, tenantEmail, folderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load folder leads: %w", err)
	}
	if len(leadIDs) == 0 {
		return nil, ErrEmptyQueue
	}

	session, err := o.repos.DialSession().Upsert(ctx, &domain.DialSession{
		TenantEmail: tenantEmail,
		FolderID:    folderID,
		LeadQueue:   leadIDs,
		FromNumber:  cfg.FromNumber,
		ScriptKey:   cfg.ScriptKey,
		VoiceKey:    cfg.VoiceKey,
		StartedAt:   time.Now(),
	}, mode)
	if err != nil {
		return nil, err
	}

	// Point the cursor at the first lead before anyone dials. The claim is
	// conditional on cursor < 0, so resumes and redelivered starts keep the
	// cursor a session has already advanced to.
	began, err := o.repos.DialSession().BeginDialing(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to begin dialing: %w", err)
	}
	if began {
		session.Cursor = 0
	}

	logger.Base().Info("dial session started",
		zap.String("session_id", session.ID),
		zap.String("tenant", tenantEmail),
		zap.String("folder_id", folderID),
		zap.String("mode", string(mode)),
		zap.Int("queue_size", len(leadIDs)))

	// Fire-and-forget: the session exists in queued state either way.
	go func() {
		kickCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := o.dispatcher.Kick(kickCtx, KickNotification{
			TenantEmail: tenantEmail,
			SessionID:   session.ID,
			FolderID:    folderID,
			TotalLeads:  len(leadIDs),
		}); err != nil {
			logger.Base().Error("dispatcher kick failed on session start",
				zap.String("session_id", session.ID),
				zap.Error(err))
		}
	}()

	return o.snapshot(ctx, session)
}

// Control applies stop/pause/resume to a session owned by the tenant.
// Transitions out of terminal states are rejected by the conditional
// update; those come back as ErrSessionNotFound-free no-ops with the
// current row so the UI can re-render truth.
func (o *Orchestrator) Control(ctx context.Context, tenantEmail, sessionID string, action SessionAction) (*domain.SessionSnapshot, error) {
	session, err := o.repos.DialSession().GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil || session.TenantEmail != tenantEmail {
		return nil, ErrSessionNotFound
	}

	var target domain.SessionStatus
	switch action {
	case ActionStop:
		target = domain.SessionStatusStopped
	case ActionPause:
		target = domain.SessionStatusPaused
	case ActionResume:
		target = domain.SessionStatusQueued
	default:
		return nil, ErrInvalidAction
	}

	changed, err := o.repos.DialSession().UpdateStatus(ctx, sessionID, tenantEmail, target)
	if err != nil {
		return nil, err
	}
	if !changed {
		logger.Base().Warn("session control had no effect",
			zap.String("session_id", sessionID),
			zap.String("action", string(action)),
			zap.String("status", string(session.Status)))
	}

	session, err = o.repos.DialSession().GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return o.snapshot(ctx, session)
}

// SessionByFolder returns the session snapshot for a folder, or nil
func (o *Orchestrator) SessionByFolder(ctx context.Context, tenantEmail, folderID string) (*domain.SessionSnapshot, error) {
	session, err := o.repos.DialSession().GetByTenantAndFolder(ctx, tenantEmail, folderID)
	if err != nil || session == nil {
		return nil, err
	}
	return o.snapshot(ctx, session)
}

// ActiveSession returns the tenant's current non-terminal session, or nil
func (o *Orchestrator) ActiveSession(ctx context.Context, tenantEmail string) (*domain.SessionSnapshot, error) {
	session, err := o.repos.DialSession().GetActiveByTenant(ctx, tenantEmail)
	if err != nil || session == nil {
		return nil, err
	}
	return o.snapshot(ctx, session)
}

// snapshot attaches lazily aggregated stats to a session row
func (o *Orchestrator) snapshot(ctx context.Context, session *domain.DialSession) (*domain.SessionSnapshot, error) {
	stats, err := o.repos.CallAttempt().SessionStats(ctx, session.ID)
	if err != nil {
		logger.Base().Error("failed to aggregate session stats",
			zap.String("session_id", session.ID),
			zap.Error(err))
		stats = domain.SessionStats{}
	}
	stats.Total = len(session.LeadQueue)
	return &domain.SessionSnapshot{DialSession: *session, Stats: stats}, nil
}
