package domain

import (
	"time"
)

// Tenant represents a CRM account billed for dialer usage
type Tenant struct {
	ID                string    `json:"id" gorm:"type:uuid;primaryKey"`
	Email             string    `json:"email" gorm:"type:varchar(255);uniqueIndex:uni_tenants_email;not null"`
	Name              string    `json:"name" gorm:"type:varchar(255)"`
	BalanceCents      int64     `json:"balance_cents"`
	AutoReloadEnabled bool      `json:"auto_reload_enabled" gorm:"default:true"`
	AutoReloadCents   int64     `json:"auto_reload_cents"`
	StripeCustomerID  string    `json:"stripe_customer_id" gorm:"type:varchar(255)"`
	Disabled          bool      `json:"disabled" gorm:"default:false"`
	CreatedAt         time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt         time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName sets the table name for Tenant
func (Tenant) TableName() string {
	return "tenants"
}

// LedgerEntryKind labels a usage ledger row
type LedgerEntryKind string

const (
	LedgerKindUsage  LedgerEntryKind = "usage"
	LedgerKindReload LedgerEntryKind = "reload"
)

// UsageLedgerEntry records minutes billed against a tenant's prepaid
// balance, or an auto-reload credit. Append-only; the at-most-once
// guarantee lives on CallAttempt.BilledAt, not here.
type UsageLedgerEntry struct {
	ID              string          `json:"id" gorm:"type:uuid;primaryKey"`
	TenantEmail     string          `json:"tenant_email" gorm:"type:varchar(255);index"`
	CallSID         string          `json:"call_sid" gorm:"column:call_sid;type:varchar(64);index"`
	Kind            LedgerEntryKind `json:"kind" gorm:"type:varchar(16)"`
	Minutes         int             `json:"minutes"`
	VendorCostCents int64           `json:"vendor_cost_cents"`
	CreatedAt       time.Time       `json:"created_at" gorm:"autoCreateTime"`
}

// TableName sets the table name for UsageLedgerEntry
func (UsageLedgerEntry) TableName() string {
	return "usage_ledger_entries"
}
