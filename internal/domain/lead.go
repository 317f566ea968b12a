package domain

import (
	"encoding/json"
	"time"

	"database/sql/driver"
	"fmt"
)

// HistoryKind labels a lead history entry
type HistoryKind string

const (
	HistoryKindVoicemail   HistoryKind = "ai_dial_voicemail"
	HistoryKindCallOutcome HistoryKind = "ai_dial_outcome"
	HistoryKindAgentNote   HistoryKind = "agent_outcome"
)

// HistoryEntry is one line in a lead's CRM timeline. The CallSID tags the
// entry so webhook replays can detect an existing append and skip it.
type HistoryEntry struct {
	Kind    HistoryKind `json:"kind"`
	CallSID string      `json:"call_sid"`
	Detail  string      `json:"detail"`
	At      time.Time   `json:"at"`
}

// HistoryList is a lead's history stored as a JSONB array
type HistoryList []HistoryEntry

// Value implements the driver.Valuer interface for HistoryList
func (h HistoryList) Value() (driver.Value, error) {
	if h == nil {
		return json.Marshal([]HistoryEntry{})
	}
	return json.Marshal([]HistoryEntry(h))
}

// Scan implements the sql.Scanner interface for HistoryList
func (h *HistoryList) Scan(value interface{}) error {
	if value == nil {
		*h = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into HistoryList", value)
	}

	return json.Unmarshal(bytes, h)
}

// Contains reports whether an entry for the given call and kind already exists.
func (h HistoryList) Contains(callSID string, kind HistoryKind) bool {
	for _, e := range h {
		if e.CallSID == callSID && e.Kind == kind {
			return true
		}
	}
	return false
}

// Lead is the slice of the CRM lead record the dialer core touches:
// identity for queue building plus the history/notes it reconciles.
type Lead struct {
	ID          string      `json:"id" gorm:"type:uuid;primaryKey"`
	TenantEmail string      `json:"tenant_email" gorm:"type:varchar(255);not null;index:idx_leads_tenant_folder"`
	FolderID    string      `json:"folder_id" gorm:"type:varchar(255);index:idx_leads_tenant_folder"`
	FirstName   string      `json:"first_name" gorm:"type:varchar(128)"`
	LastName    string      `json:"last_name" gorm:"type:varchar(128)"`
	Phone       string      `json:"phone" gorm:"type:varchar(32)"`
	History     HistoryList `json:"history" gorm:"type:jsonb"`
	Notes       string      `json:"notes" gorm:"type:text"`
	CreatedAt   time.Time   `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time   `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName sets the table name for Lead
func (Lead) TableName() string {
	return "leads"
}

// LeadCallRecord is the tenant-visible call entry on a lead's activity
// timeline, keyed by CallSID so webhook replays upsert instead of duplicate.
type LeadCallRecord struct {
	CallSID         string    `json:"call_sid" gorm:"column:call_sid;type:varchar(64);primaryKey"`
	TenantEmail     string    `json:"tenant_email" gorm:"type:varchar(255);index"`
	LeadID          string    `json:"lead_id" gorm:"type:uuid;index"`
	DurationSeconds int       `json:"duration_seconds"`
	RecordingURL    string    `json:"recording_url" gorm:"type:text"`
	OccurredAt      time.Time `json:"occurred_at"`
	CreatedAt       time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName sets the table name for LeadCallRecord
func (LeadCallRecord) TableName() string {
	return "lead_call_records"
}
