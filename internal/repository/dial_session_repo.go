package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/policyline/dialer-service/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormDialSessionRepository handles database operations for dial sessions
type GormDialSessionRepository struct {
	db *gorm.DB
}

// NewGormDialSessionRepository creates a new dial session repository
func NewGormDialSessionRepository(db *gorm.DB) *GormDialSessionRepository {
	return &GormDialSessionRepository{db: db}
}

// GetByID retrieves a dial session by ID
func (r *GormDialSessionRepository) GetByID(ctx context.Context, id string) (*domain.DialSession, error) {
	var session domain.DialSession
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get dial session: %w", err)
	}
	return &session, nil
}

// GetByTenantAndFolder retrieves the single session row for a (tenant, folder) pair
func (r *GormDialSessionRepository) GetByTenantAndFolder(ctx context.Context, tenantEmail, folderID string) (*domain.DialSession, error) {
	var session domain.DialSession
	if err := r.db.WithContext(ctx).
		Where("tenant_email = ? AND folder_id = ?", tenantEmail, folderID).
		First(&session).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get dial session: %w", err)
	}
	return &session, nil
}

// GetActiveByTenant retrieves the tenant's most recently started non-terminal session
func (r *GormDialSessionRepository) GetActiveByTenant(ctx context.Context, tenantEmail string) (*domain.DialSession, error) {
	var session domain.DialSession
	if err := r.db.WithContext(ctx).
		Where("tenant_email = ? AND status IN ?", tenantEmail,
			[]domain.SessionStatus{domain.SessionStatusQueued, domain.SessionStatusRunning, domain.SessionStatusPaused}).
		Order("started_at DESC").
		First(&session).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active dial session: %w", err)
	}
	return &session, nil
}

// Upsert creates or overwrites the session for (tenant, folder). The unique
// index makes this the invariant that at most one session row ever exists
// per pair; fresh restarts land on the same row.
func (r *GormDialSessionRepository) Upsert(ctx context.Context, session *domain.DialSession, mode domain.StartMode) (*domain.DialSession, error) {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now()
	}
	session.Status = domain.SessionStatusQueued

	assignments := map[string]interface{}{
		"lead_queue":   session.LeadQueue,
		"status":       domain.SessionStatusQueued,
		"from_number":  session.FromNumber,
		"script_key":   session.ScriptKey,
		"voice_key":    session.VoiceKey,
		"started_at":   session.StartedAt,
		"completed_at": nil,
		"updated_at":   time.Now(),
	}
	if mode == domain.StartModeFresh {
		session.Cursor = -1
		assignments["cursor"] = -1
		assignments["chain_kicked_at"] = nil
		assignments["chain_kick_call_sid"] = ""
	}

	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_email"}, {Name: "folder_id"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(session).Error; err != nil {
		return nil, fmt.Errorf("failed to upsert dial session: %w", err)
	}

	// Re-read so callers see the surviving row's identity after a conflict.
	return r.GetByTenantAndFolder(ctx, session.TenantEmail, session.FolderID)
}

// UpdateStatus applies a status transition only from states that permit it.
// The allowed prior states are encoded in the WHERE clause so concurrent
// writers cannot race a read-then-write.
func (r *GormDialSessionRepository) UpdateStatus(ctx context.Context, id, tenantEmail string, to domain.SessionStatus) (bool, error) {
	froms := allowedFroms(to)
	if len(froms) == 0 {
		return false, nil
	}

	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}
	if to.IsTerminal() {
		updates["completed_at"] = time.Now()
	}

	result := r.db.WithContext(ctx).Model(&domain.DialSession{}).
		Where("id = ? AND tenant_email = ? AND status IN ?", id, tenantEmail, froms).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to update session status: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// BeginDialing moves the cursor from its pre-dial -1 onto the first lead.
// Conditional on cursor < 0 so a redelivered start request cannot rewind a
// session that has already advanced.
func (r *GormDialSessionRepository) BeginDialing(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&domain.DialSession{}).
		Where("id = ? AND cursor < 0 AND status IN ?", id,
			[]domain.SessionStatus{domain.SessionStatusQueued, domain.SessionStatusRunning}).
		Updates(map[string]interface{}{
			"cursor":     0,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to begin dialing: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// MarkCompleted finalizes an exhausted session; a no-op if already terminal
func (r *GormDialSessionRepository) MarkCompleted(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&domain.DialSession{}).
		Where("id = ? AND status IN ?", id,
			[]domain.SessionStatus{domain.SessionStatusQueued, domain.SessionStatusRunning, domain.SessionStatusPaused}).
		Updates(map[string]interface{}{
			"status":       domain.SessionStatusCompleted,
			"completed_at": time.Now(),
			"updated_at":   time.Now(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark session completed: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// MarkFailed records an unrecoverable session error
func (r *GormDialSessionRepository) MarkFailed(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&domain.DialSession{}).
		Where("id = ? AND status IN ?", id,
			[]domain.SessionStatus{domain.SessionStatusQueued, domain.SessionStatusRunning, domain.SessionStatusPaused}).
		Updates(map[string]interface{}{
			"status":       domain.SessionStatusFailed,
			"completed_at": time.Now(),
			"updated_at":   time.Now(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark session failed: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ClaimChainKick claims the chain-advance for callSID. The claim condition
// is evaluated inside one UPDATE: the session must still be dialable, and
// either no kick happened within the cooldown or the last kick was caused
// by a different call (duplicate deliveries of the same terminal event
// carry the same CallSid and lose the claim). The cursor advances in the
// same statement so it can only ever move forward.
func (r *GormDialSessionRepository) ClaimChainKick(ctx context.Context, id, callSID string, cooldown time.Duration) (bool, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&domain.DialSession{}).
		Where("id = ? AND status IN ?", id,
			[]domain.SessionStatus{domain.SessionStatusQueued, domain.SessionStatusRunning}).
		Where("chain_kicked_at IS NULL OR chain_kicked_at < ? OR chain_kick_call_sid <> ?", now.Add(-cooldown), callSID).
		Updates(map[string]interface{}{
			"chain_kicked_at":     now,
			"chain_kick_call_sid": callSID,
			"cursor":              gorm.Expr("cursor + 1"),
			"status":              domain.SessionStatusRunning,
			"updated_at":          now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to claim chain kick: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// allowedFroms inverts the domain transition table for a target status.
func allowedFroms(to domain.SessionStatus) []domain.SessionStatus {
	all := []domain.SessionStatus{
		domain.SessionStatusQueued,
		domain.SessionStatusRunning,
		domain.SessionStatusPaused,
		domain.SessionStatusStopped,
		domain.SessionStatusCompleted,
		domain.SessionStatusFailed,
	}
	var froms []domain.SessionStatus
	for _, from := range all {
		if domain.CanTransition(from, to) {
			froms = append(froms, from)
		}
	}
	return froms
}
