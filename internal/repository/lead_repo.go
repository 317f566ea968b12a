package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/policyline/dialer-service/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormLeadRepository handles the lead reads/writes the dialer core performs
type GormLeadRepository struct {
	db *gorm.DB
}

// NewGormLeadRepository creates a new lead repository
func NewGormLeadRepository(db *gorm.DB) *GormLeadRepository {
	return &GormLeadRepository{db: db}
}

// IDsByFolder returns the ordered lead identifiers in a folder, scoped to
// the owning tenant. This is the queue a session is started from.
func (r *GormLeadRepository) IDsByFolder(ctx context.Context, tenantEmail, folderID string) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&domain.Lead{}).
		Where("tenant_email = ? AND folder_id = ?", tenantEmail, folderID).
		Order("created_at ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list folder leads: %w", err)
	}
	return ids, nil
}

// GetByID retrieves a lead scoped to its owning tenant
func (r *GormLeadRepository) GetByID(ctx context.Context, tenantEmail, id string) (*domain.Lead, error) {
	var lead domain.Lead
	if err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_email = ?", id, tenantEmail).
		First(&lead).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}
	return &lead, nil
}

// AppendHistory appends a history entry and a notes line in one statement,
// guarded by a JSONB containment check on (call_sid, kind) so webhook
// replays are no-ops. Returns whether the append happened.
func (r *GormLeadRepository) AppendHistory(ctx context.Context, tenantEmail, leadID string, entry domain.HistoryEntry, note string) (bool, error) {
	if entry.At.IsZero() {
		entry.At = time.Now()
	}

	entryJSON, err := json.Marshal([]domain.HistoryEntry{entry})
	if err != nil {
		return false, fmt.Errorf("failed to encode history entry: %w", err)
	}
	probeJSON, err := json.Marshal([]map[string]string{{
		"call_sid": entry.CallSID,
		"kind":     string(entry.Kind),
	}})
	if err != nil {
		return false, fmt.Errorf("failed to encode history probe: %w", err)
	}

	result := r.db.WithContext(ctx).Exec(`
		UPDATE leads
		SET history = COALESCE(history, '[]'::jsonb) || ?::jsonb,
		    notes = CASE WHEN notes IS NULL OR notes = '' THEN ? ELSE notes || E'\n' || ? END,
		    updated_at = ?
		WHERE id = ? AND tenant_email = ?
		  AND NOT COALESCE(history, '[]'::jsonb) @> ?::jsonb`,
		string(entryJSON), note, note, time.Now(), leadID, tenantEmail, string(probeJSON))
	if result.Error != nil {
		return false, fmt.Errorf("failed to append lead history: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// UpsertCallRecord maintains the activity-timeline entry keyed by CallSid
func (r *GormLeadRepository) UpsertCallRecord(ctx context.Context, record *domain.LeadCallRecord) error {
	if record.CallSID == "" {
		return fmt.Errorf("call sid cannot be empty")
	}
	if record.OccurredAt.IsZero() {
		record.OccurredAt = time.Now()
	}

	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "call_sid"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"duration_seconds": record.DurationSeconds,
			"recording_url":    record.RecordingURL,
			"updated_at":       time.Now(),
		}),
	}).Create(record).Error; err != nil {
		return fmt.Errorf("failed to upsert lead call record: %w", err)
	}
	return nil
}
