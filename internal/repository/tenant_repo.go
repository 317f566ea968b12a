package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/policyline/dialer-service/internal/domain"
	"gorm.io/gorm"
)

// GormTenantRepository handles database operations for tenants
type GormTenantRepository struct {
	db *gorm.DB
}

// NewGormTenantRepository creates a new tenant repository
func NewGormTenantRepository(db *gorm.DB) *GormTenantRepository {
	return &GormTenantRepository{db: db}
}

// GetByEmail retrieves a tenant by email
func (r *GormTenantRepository) GetByEmail(ctx context.Context, email string) (*domain.Tenant, error) {
	var tenant domain.Tenant
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&tenant).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &tenant, nil
}

// AddBalance applies a relative balance change in one statement and returns
// the updated tenant. Negative deltas debit usage, positive ones credit a
// reload; concurrent billing claims for different calls interleave safely.
func (r *GormTenantRepository) AddBalance(ctx context.Context, email string, deltaCents int64) (*domain.Tenant, error) {
	result := r.db.WithContext(ctx).Model(&domain.Tenant{}).
		Where("email = ?", email).
		Updates(map[string]interface{}{
			"balance_cents": gorm.Expr("balance_cents + ?", deltaCents),
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update tenant balance: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("tenant %s not found", email)
	}
	return r.GetByEmail(ctx, email)
}

// GormUsageLedgerRepository appends usage and reload ledger entries
type GormUsageLedgerRepository struct {
	db *gorm.DB
}

// NewGormUsageLedgerRepository creates a new usage ledger repository
func NewGormUsageLedgerRepository(db *gorm.DB) *GormUsageLedgerRepository {
	return &GormUsageLedgerRepository{db: db}
}

// Create appends a ledger entry
func (r *GormUsageLedgerRepository) Create(ctx context.Context, entry *domain.UsageLedgerEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to create ledger entry: %w", err)
	}
	return nil
}

// ListByTenant returns a tenant's most recent ledger entries
func (r *GormUsageLedgerRepository) ListByTenant(ctx context.Context, tenantEmail string, limit int) ([]*domain.UsageLedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []*domain.UsageLedgerEntry
	if err := r.db.WithContext(ctx).
		Where("tenant_email = ?", tenantEmail).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return entries, nil
}
