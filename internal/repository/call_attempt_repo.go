package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/policyline/dialer-service/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormCallAttemptRepository handles database operations for call attempts
type GormCallAttemptRepository struct {
	db *gorm.DB
}

// NewGormCallAttemptRepository creates a new call attempt repository
func NewGormCallAttemptRepository(db *gorm.DB) *GormCallAttemptRepository {
	return &GormCallAttemptRepository{db: db}
}

// UpsertFromStatusEvent inserts the attempt on the first event for a CallSid
// and refreshes telemetry on every subsequent one. Identity and lock fields
// are insert-only so out-of-order deliveries cannot clobber them; the
// tenant in particular is backfilled separately via SetTenantIfMissing.
func (r *GormCallAttemptRepository) UpsertFromStatusEvent(ctx context.Context, attempt *domain.CallAttempt) error {
	if attempt.CallSID == "" {
		return fmt.Errorf("call sid cannot be empty")
	}
	if attempt.Outcome == "" {
		attempt.Outcome = domain.OutcomeUnknown
	}

	assignments := map[string]interface{}{
		"status":     attempt.Status,
		"updated_at": time.Now(),
	}
	if attempt.DurationSeconds > 0 {
		assignments["duration_seconds"] = attempt.DurationSeconds
	}
	if attempt.AnsweredBy != "" {
		assignments["answered_by"] = attempt.AnsweredBy
	}
	if attempt.RecordingURL != "" {
		assignments["recording_url"] = attempt.RecordingURL
	}

	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "call_sid"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(attempt).Error; err != nil {
		return fmt.Errorf("failed to upsert call attempt: %w", err)
	}
	return nil
}

// GetBySID retrieves a call attempt by provider call identifier
func (r *GormCallAttemptRepository) GetBySID(ctx context.Context, callSID string) (*domain.CallAttempt, error) {
	var attempt domain.CallAttempt
	if err := r.db.WithContext(ctx).Where("call_sid = ?", callSID).First(&attempt).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get call attempt: %w", err)
	}
	return &attempt, nil
}

// SetTenantIfMissing backfills the owning tenant; never overwrites one
func (r *GormCallAttemptRepository) SetTenantIfMissing(ctx context.Context, callSID, tenantEmail string) error {
	if tenantEmail == "" {
		return nil
	}
	err := r.db.WithContext(ctx).Model(&domain.CallAttempt{}).
		Where("call_sid = ? AND (tenant_email IS NULL OR tenant_email = '')", callSID).
		Updates(map[string]interface{}{"tenant_email": tenantEmail, "updated_at": time.Now()}).Error
	if err != nil {
		return fmt.Errorf("failed to set call attempt tenant: %w", err)
	}
	return nil
}

// SetSessionIfMissing backfills the owning session for events that arrive
// before the dispatcher's attribution write
func (r *GormCallAttemptRepository) SetSessionIfMissing(ctx context.Context, callSID, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	err := r.db.WithContext(ctx).Model(&domain.CallAttempt{}).
		Where("call_sid = ? AND (session_id IS NULL OR session_id = '')", callSID).
		Updates(map[string]interface{}{"session_id": sessionID, "updated_at": time.Now()}).Error
	if err != nil {
		return fmt.Errorf("failed to set call attempt session: %w", err)
	}
	return nil
}

// ClaimVoicemailHandled acquires the one-time voicemail lock (set-if-null)
func (r *GormCallAttemptRepository) ClaimVoicemailHandled(ctx context.Context, callSID string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&domain.CallAttempt{}).
		Where("call_sid = ? AND voicemail_handled_at IS NULL", callSID).
		Updates(map[string]interface{}{"voicemail_handled_at": time.Now(), "updated_at": time.Now()})
	if result.Error != nil {
		return false, fmt.Errorf("failed to claim voicemail lock: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ClaimChainAdvance acquires the one-time chain-advance lock (set-if-null).
// Never released: a CallSid advances its session at most once.
func (r *GormCallAttemptRepository) ClaimChainAdvance(ctx context.Context, callSID string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&domain.CallAttempt{}).
		Where("call_sid = ? AND chain_kicked_at IS NULL", callSID).
		Updates(map[string]interface{}{"chain_kicked_at": time.Now(), "updated_at": time.Now()})
	if result.Error != nil {
		return false, fmt.Errorf("failed to claim chain advance lock: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ClaimBilling acquires the one-time billing lock (set-if-null)
func (r *GormCallAttemptRepository) ClaimBilling(ctx context.Context, callSID string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&domain.CallAttempt{}).
		Where("call_sid = ? AND billed_at IS NULL", callSID).
		Updates(map[string]interface{}{"billed_at": time.Now(), "updated_at": time.Now()})
	if result.Error != nil {
		return false, fmt.Errorf("failed to claim billing lock: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ReleaseBilling resets the billing lock after a failed ledger write
func (r *GormCallAttemptRepository) ReleaseBilling(ctx context.Context, callSID string) error {
	err := r.db.WithContext(ctx).Model(&domain.CallAttempt{}).
		Where("call_sid = ?", callSID).
		Updates(map[string]interface{}{"billed_at": nil, "updated_at": time.Now()}).Error
	if err != nil {
		return fmt.Errorf("failed to release billing lock: %w", err)
	}
	return nil
}

// SetOutcomeIfUnknown writes an outcome only when none has been assigned yet
func (r *GormCallAttemptRepository) SetOutcomeIfUnknown(ctx context.Context, callSID string, outcome domain.CallOutcome, source domain.OutcomeSource) (bool, error) {
	result := r.db.WithContext(ctx).Model(&domain.CallAttempt{}).
		Where("call_sid = ? AND (outcome IS NULL OR outcome = '' OR outcome = ?)", callSID, domain.OutcomeUnknown).
		Updates(map[string]interface{}{
			"outcome":        outcome,
			"outcome_source": source,
			"updated_at":     time.Now(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to set call outcome: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// SetOutcome applies the source-precedence rules: the candidate writes only
// if domain.ResolveOutcome allows it against the value it observed, and the
// final UPDATE is compare-and-set on that observed value so a concurrent
// higher-priority writer cannot be clobbered. Retries a few times on a
// lost race before giving up.
func (r *GormCallAttemptRepository) SetOutcome(ctx context.Context, callSID string, outcome domain.CallOutcome, source domain.OutcomeSource) (bool, error) {
	for i := 0; i < 3; i++ {
		attempt, err := r.GetBySID(ctx, callSID)
		if err != nil {
			return false, err
		}
		if attempt == nil {
			return false, fmt.Errorf("call attempt %s not found", callSID)
		}

		if !domain.ResolveOutcome(attempt.Outcome, attempt.OutcomeSource, source) {
			return false, nil
		}

		result := r.db.WithContext(ctx).Model(&domain.CallAttempt{}).
			Where("call_sid = ? AND outcome = ? AND outcome_source = ?", callSID, attempt.Outcome, attempt.OutcomeSource).
			Updates(map[string]interface{}{
				"outcome":        outcome,
				"outcome_source": source,
				"updated_at":     time.Now(),
			})
		if result.Error != nil {
			return false, fmt.Errorf("failed to set call outcome: %w", result.Error)
		}
		if result.RowsAffected > 0 {
			return true, nil
		}
		// Lost the race; re-read and re-evaluate precedence.
	}
	return false, nil
}

// SessionStats aggregates outcomes for one session's call attempts
func (r *GormCallAttemptRepository) SessionStats(ctx context.Context, sessionID string) (domain.SessionStats, error) {
	var stats domain.SessionStats

	type outcomeCount struct {
		Outcome domain.CallOutcome
		Count   int
	}
	var counts []outcomeCount
	if err := r.db.WithContext(ctx).Model(&domain.CallAttempt{}).
		Select("outcome, count(*) as count").
		Where("session_id = ?", sessionID).
		Group("outcome").
		Find(&counts).Error; err != nil {
		return stats, fmt.Errorf("failed to aggregate session stats: %w", err)
	}

	for _, c := range counts {
		stats.Total += c.Count
		switch c.Outcome {
		case domain.OutcomeBooked:
			stats.Booked += c.Count
		case domain.OutcomeNotInterested:
			stats.NotInterested += c.Count
		case domain.OutcomeNoAnswer, domain.OutcomeVoicemail:
			stats.NoAnswers += c.Count
		}
		if c.Outcome != domain.OutcomeUnknown && c.Outcome != "" {
			stats.Completed += c.Count
		}
	}
	return stats, nil
}
