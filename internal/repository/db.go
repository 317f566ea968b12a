package repository

import (
	"context"
	"time"

	"github.com/policyline/dialer-service/internal/domain"
	"gorm.io/gorm"
)

// DialSessionRepository defines the interface for dial session operations.
// Every mutation that can race with concurrent webhook deliveries is a
// conditional update reporting whether it won, never read-then-write.
type DialSessionRepository interface {
	GetByID(ctx context.Context, id string) (*domain.DialSession, error)
	GetByTenantAndFolder(ctx context.Context, tenantEmail, folderID string) (*domain.DialSession, error)
	GetActiveByTenant(ctx context.Context, tenantEmail string) (*domain.DialSession, error)

	// Upsert creates or overwrites the single session row for
	// (tenant, folder). Fresh mode resets the cursor and chain token;
	// resume keeps them.
	Upsert(ctx context.Context, session *domain.DialSession, mode domain.StartMode) (*domain.DialSession, error)

	// UpdateStatus moves the session to a new status only if the current
	// status permits the transition. Returns false when the row was in a
	// state with no such transition (or is owned by another tenant).
	UpdateStatus(ctx context.Context, id, tenantEmail string, to domain.SessionStatus) (bool, error)

	// BeginDialing moves the cursor from its pre-dial -1 to the first lead
	// when dispatching starts. From then on the cursor is the index of the
	// in-flight lead. A no-op once dialing has begun.
	BeginDialing(ctx context.Context, id string) (bool, error)

	// MarkCompleted finalizes an exhausted session, guarded so repeats are no-ops.
	MarkCompleted(ctx context.Context, id string) (bool, error)

	// MarkFailed records an unrecoverable session error.
	MarkFailed(ctx context.Context, id string) (bool, error)

	// ClaimChainKick atomically claims the right to advance the session to
	// its next lead on behalf of callSID, incrementing the cursor in the
	// same statement. The claim fails when the session is no longer active
	// or when a kick already happened within the cooldown for this call.
	ClaimChainKick(ctx context.Context, id, callSID string, cooldown time.Duration) (bool, error)
}

// CallAttemptRepository defines the interface for call attempt operations
type CallAttemptRepository interface {
	// UpsertFromStatusEvent guarantees a row exists for the CallSid before
	// any later step references it: identity fields are written only on
	// insert, telemetry is refreshed on every event.
	UpsertFromStatusEvent(ctx context.Context, attempt *domain.CallAttempt) error

	GetBySID(ctx context.Context, callSID string) (*domain.CallAttempt, error)

	// SetTenantIfMissing backfills the owning tenant without ever
	// overwriting one that is already known.
	SetTenantIfMissing(ctx context.Context, callSID, tenantEmail string) error
	SetSessionIfMissing(ctx context.Context, callSID, sessionID string) error

	// ClaimVoicemailHandled and ClaimBilling are the one-time locks
	// (set-if-null); true means this caller owns the side effect.
	ClaimVoicemailHandled(ctx context.Context, callSID string) (bool, error)
	ClaimBilling(ctx context.Context, callSID string) (bool, error)

	// ClaimChainAdvance is the per-call one-time lock (set-if-null) on
	// advancing the session chain: each CallSid may advance at most once,
	// ever, regardless of how many times its terminal event is delivered.
	ClaimChainAdvance(ctx context.Context, callSID string) (bool, error)

	// ReleaseBilling resets the billing lock after a failed ledger write so
	// a provider retry can bill correctly. The only lock ever released.
	ReleaseBilling(ctx context.Context, callSID string) error

	// SetOutcomeIfUnknown writes an outcome only when none has been
	// assigned yet; SetOutcome applies the full source-precedence rules.
	SetOutcomeIfUnknown(ctx context.Context, callSID string, outcome domain.CallOutcome, source domain.OutcomeSource) (bool, error)
	SetOutcome(ctx context.Context, callSID string, outcome domain.CallOutcome, source domain.OutcomeSource) (bool, error)

	SessionStats(ctx context.Context, sessionID string) (domain.SessionStats, error)
}

// LeadRepository defines the interface for the slice of lead data the
// dialer touches: queue building and history/notes reconciliation.
type LeadRepository interface {
	IDsByFolder(ctx context.Context, tenantEmail, folderID string) ([]string, error)
	GetByID(ctx context.Context, tenantEmail, id string) (*domain.Lead, error)

	// AppendHistory appends a history entry and notes line unless an entry
	// for the same (callSid, kind) already exists; returns whether the
	// append happened. Atomic, so concurrent replays cannot double-append.
	AppendHistory(ctx context.Context, tenantEmail, leadID string, entry domain.HistoryEntry, note string) (bool, error)

	// UpsertCallRecord maintains the tenant-visible activity timeline entry
	// keyed by CallSid.
	UpsertCallRecord(ctx context.Context, record *domain.LeadCallRecord) error
}

// TenantRepository defines the interface for tenant lookups and balance moves
type TenantRepository interface {
	GetByEmail(ctx context.Context, email string) (*domain.Tenant, error)
	AddBalance(ctx context.Context, email string, deltaCents int64) (*domain.Tenant, error)
}

// UsageLedgerRepository appends usage and reload entries
type UsageLedgerRepository interface {
	Create(ctx context.Context, entry *domain.UsageLedgerEntry) error
	ListByTenant(ctx context.Context, tenantEmail string, limit int) ([]*domain.UsageLedgerEntry, error)
}

// RepositoryManager combines all repositories
type RepositoryManager interface {
	DialSession() DialSessionRepository
	CallAttempt() CallAttemptRepository
	Lead() LeadRepository
	Tenant() TenantRepository
	UsageLedger() UsageLedgerRepository

	// Transaction support
	WithTx(ctx context.Context, fn func(ctx context.Context, repos RepositoryManager) error) error

	// Health check
	Ping(ctx context.Context) error

	// Close connection
	Close() error
}

// GormRepositoryManager implements RepositoryManager using GORM
type GormRepositoryManager struct {
	db              *gorm.DB
	dialSessionRepo *GormDialSessionRepository
	callAttemptRepo *GormCallAttemptRepository
	leadRepo        *GormLeadRepository
	tenantRepo      *GormTenantRepository
	usageLedgerRepo *GormUsageLedgerRepository
}

// NewGormRepositoryManager creates a new GORM repository manager
func NewGormRepositoryManager(db *gorm.DB) *GormRepositoryManager {
	return &GormRepositoryManager{
		db:              db,
		dialSessionRepo: NewGormDialSessionRepository(db),
		callAttemptRepo: NewGormCallAttemptRepository(db),
		leadRepo:        NewGormLeadRepository(db),
		tenantRepo:      NewGormTenantRepository(db),
		usageLedgerRepo: NewGormUsageLedgerRepository(db),
	}
}

// DialSession returns the dial session repository
func (m *GormRepositoryManager) DialSession() DialSessionRepository {
	return m.dialSessionRepo
}

// CallAttempt returns the call attempt repository
func (m *GormRepositoryManager) CallAttempt() CallAttemptRepository {
	return m.callAttemptRepo
}

// Lead returns the lead repository
func (m *GormRepositoryManager) Lead() LeadRepository {
	return m.leadRepo
}

// Tenant returns the tenant repository
func (m *GormRepositoryManager) Tenant() TenantRepository {
	return m.tenantRepo
}

// UsageLedger returns the usage ledger repository
func (m *GormRepositoryManager) UsageLedger() UsageLedgerRepository {
	return m.usageLedgerRepo
}

// WithTx executes a function within a database transaction
func (m *GormRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, repos RepositoryManager) error) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, NewGormRepositoryManager(tx))
	})
}

// Ping checks the database connection
func (m *GormRepositoryManager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (m *GormRepositoryManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
