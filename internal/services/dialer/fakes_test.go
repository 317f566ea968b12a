package dialer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/policyline/dialer-service/internal/domain"
	"github.com/policyline/dialer-service/internal/repository"
)

// fakeRepos is an in-memory repository.RepositoryManager that mirrors the
// conditional-write semantics of the GORM implementations: every claim is
// checked and applied under one lock, and reads hand out copies the way a
// database row scan would.
type fakeRepos struct {
	mu sync.Mutex

	sessions map[string]*domain.DialSession
	attempts map[string]*domain.CallAttempt
	leads    []*domain.Lead
	records  map[string]*domain.LeadCallRecord
	tenants  map[string]*domain.Tenant
	ledger   []*domain.UsageLedgerEntry

	// ledgerFailures makes the next N ledger creates fail
	ledgerFailures int
}

func newFakeRepos() *fakeRepos {
	return &fakeRepos{
		sessions: make(map[string]*domain.DialSession),
		attempts: make(map[string]*domain.CallAttempt),
		records:  make(map[string]*domain.LeadCallRecord),
		tenants:  make(map[string]*domain.Tenant),
	}
}

func (f *fakeRepos) DialSession() repository.DialSessionRepository { return (*fakeSessionRepo)(f) }
func (f *fakeRepos) CallAttempt() repository.CallAttemptRepository { return (*fakeAttemptRepo)(f) }
func (f *fakeRepos) Lead() repository.LeadRepository               { return (*fakeLeadRepo)(f) }
func (f *fakeRepos) Tenant() repository.TenantRepository           { return (*fakeTenantRepo)(f) }
func (f *fakeRepos) UsageLedger() repository.UsageLedgerRepository { return (*fakeLedgerRepo)(f) }

// WithTx runs fn and rolls tenant balances and the ledger back on error,
// matching the transactional billing path.
func (f *fakeRepos) WithTx(ctx context.Context, fn func(ctx context.Context, repos repository.RepositoryManager) error) error {
	f.mu.Lock()
	savedTenants := make(map[string]*domain.Tenant, len(f.tenants))
	for k, v := range f.tenants {
		copied := *v
		savedTenants[k] = &copied
	}
	savedLedgerLen := len(f.ledger)
	f.mu.Unlock()

	if err := fn(ctx, f); err != nil {
		f.mu.Lock()
		f.tenants = savedTenants
		f.ledger = f.ledger[:savedLedgerLen]
		f.mu.Unlock()
		return err
	}
	return nil
}

func (f *fakeRepos) Ping(ctx context.Context) error { return nil }
func (f *fakeRepos) Close() error                   { return nil }

// seedSession inserts a session and returns its ID
func (f *fakeRepos) seedSession(session *domain.DialSession) *domain.DialSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now()
	}
	f.sessions[session.ID] = session
	return session
}

func (f *fakeRepos) seedAttempt(attempt *domain.CallAttempt) *domain.CallAttempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now()
	}
	if attempt.Outcome == "" {
		attempt.Outcome = domain.OutcomeUnknown
	}
	f.attempts[attempt.CallSID] = attempt
	return attempt
}

func (f *fakeRepos) seedLead(lead *domain.Lead) *domain.Lead {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}
	f.leads = append(f.leads, lead)
	return lead
}

func (f *fakeRepos) seedTenant(tenant *domain.Tenant) *domain.Tenant {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tenant.ID == "" {
		tenant.ID = uuid.New().String()
	}
	f.tenants[tenant.Email] = tenant
	return tenant
}

func (f *fakeRepos) sessionByID(id string) *domain.DialSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		copied := *s
		return &copied
	}
	return nil
}

func (f *fakeRepos) attemptBySID(callSID string) *domain.CallAttempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.attempts[callSID]; ok {
		copied := *a
		return &copied
	}
	return nil
}

func (f *fakeRepos) usageEntries(kind domain.LedgerEntryKind) []*domain.UsageLedgerEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.UsageLedgerEntry
	for _, e := range f.ledger {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type fakeSessionRepo fakeRepos

func (r *fakeSessionRepo) GetByID(ctx context.Context, id string) (*domain.DialSession, error) {
	return (*fakeRepos)(r).sessionByID(id), nil
}

func (r *fakeSessionRepo) GetByTenantAndFolder(ctx context.Context, tenantEmail, folderID string) (*domain.DialSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.TenantEmail == tenantEmail && s.FolderID == folderID {
			copied := *s
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeSessionRepo) GetActiveByTenant(ctx context.Context, tenantEmail string) (*domain.DialSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *domain.DialSession
	for _, s := range r.sessions {
		if s.TenantEmail != tenantEmail || !s.Status.IsActive() {
			continue
		}
		if best == nil || s.StartedAt.After(best.StartedAt) {
			best = s
		}
	}
	if best == nil {
		return nil, nil
	}
	copied := *best
	return &copied, nil
}

func (r *fakeSessionRepo) Upsert(ctx context.Context, session *domain.DialSession, mode domain.StartMode) (*domain.DialSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var existing *domain.DialSession
	for _, s := range r.sessions {
		if s.TenantEmail == session.TenantEmail && s.FolderID == session.FolderID {
			existing = s
			break
		}
	}

	if existing == nil {
		existing = &domain.DialSession{
			ID:          uuid.New().String(),
			TenantEmail: session.TenantEmail,
			FolderID:    session.FolderID,
			Cursor:      -1,
			CreatedAt:   time.Now(),
		}
		r.sessions[existing.ID] = existing
	}

	existing.LeadQueue = session.LeadQueue
	existing.Status = domain.SessionStatusQueued
	existing.FromNumber = session.FromNumber
	existing.ScriptKey = session.ScriptKey
	existing.VoiceKey = session.VoiceKey
	existing.StartedAt = session.StartedAt
	existing.CompletedAt = nil
	if mode == domain.StartModeFresh {
		existing.Cursor = -1
		existing.ChainKickedAt = nil
		existing.ChainKickCallSID = ""
	}

	copied := *existing
	return &copied, nil
}

func (r *fakeSessionRepo) UpdateStatus(ctx context.Context, id, tenantEmail string, to domain.SessionStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.TenantEmail != tenantEmail {
		return false, nil
	}
	if !domain.CanTransition(s.Status, to) {
		return false, nil
	}
	s.Status = to
	if to.IsTerminal() {
		now := time.Now()
		s.CompletedAt = &now
	}
	return true, nil
}

func (r *fakeSessionRepo) BeginDialing(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.Cursor >= 0 {
		return false, nil
	}
	if s.Status != domain.SessionStatusQueued && s.Status != domain.SessionStatusRunning {
		return false, nil
	}
	s.Cursor = 0
	return true, nil
}

func (r *fakeSessionRepo) MarkCompleted(ctx context.Context, id string) (bool, error) {
	return r.markTerminal(id, domain.SessionStatusCompleted)
}

func (r *fakeSessionRepo) MarkFailed(ctx context.Context, id string) (bool, error) {
	return r.markTerminal(id, domain.SessionStatusFailed)
}

func (r *fakeSessionRepo) markTerminal(id string, to domain.SessionStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || !s.Status.IsActive() {
		return false, nil
	}
	s.Status = to
	now := time.Now()
	s.CompletedAt = &now
	return true, nil
}

func (r *fakeSessionRepo) ClaimChainKick(ctx context.Context, id, callSID string, cooldown time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false, nil
	}
	if s.Status != domain.SessionStatusQueued && s.Status != domain.SessionStatusRunning {
		return false, nil
	}
	now := time.Now()
	if s.ChainKickedAt != nil && s.ChainKickedAt.After(now.Add(-cooldown)) && s.ChainKickCallSID == callSID {
		return false, nil
	}
	s.ChainKickedAt = &now
	s.ChainKickCallSID = callSID
	s.Cursor++
	s.Status = domain.SessionStatusRunning
	return true, nil
}

type fakeAttemptRepo fakeRepos

func (r *fakeAttemptRepo) UpsertFromStatusEvent(ctx context.Context, attempt *domain.CallAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.attempts[attempt.CallSID]
	if !ok {
		copied := *attempt
		if copied.Outcome == "" {
			copied.Outcome = domain.OutcomeUnknown
		}
		if copied.CreatedAt.IsZero() {
			copied.CreatedAt = time.Now()
		}
		r.attempts[copied.CallSID] = &copied
		return nil
	}
	existing.Status = attempt.Status
	if attempt.DurationSeconds > 0 {
		existing.DurationSeconds = attempt.DurationSeconds
	}
	if attempt.AnsweredBy != "" {
		existing.AnsweredBy = attempt.AnsweredBy
	}
	if attempt.RecordingURL != "" {
		existing.RecordingURL = attempt.RecordingURL
	}
	return nil
}

func (r *fakeAttemptRepo) GetBySID(ctx context.Context, callSID string) (*domain.CallAttempt, error) {
	return (*fakeRepos)(r).attemptBySID(callSID), nil
}

func (r *fakeAttemptRepo) SetTenantIfMissing(ctx context.Context, callSID, tenantEmail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.attempts[callSID]; ok && a.TenantEmail == "" {
		a.TenantEmail = tenantEmail
	}
	return nil
}

func (r *fakeAttemptRepo) SetSessionIfMissing(ctx context.Context, callSID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.attempts[callSID]; ok && a.SessionID == "" {
		a.SessionID = sessionID
	}
	return nil
}

func (r *fakeAttemptRepo) ClaimVoicemailHandled(ctx context.Context, callSID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[callSID]
	if !ok || a.VoicemailHandledAt != nil {
		return false, nil
	}
	now := time.Now()
	a.VoicemailHandledAt = &now
	return true, nil
}

func (r *fakeAttemptRepo) ClaimChainAdvance(ctx context.Context, callSID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[callSID]
	if !ok || a.ChainKickedAt != nil {
		return false, nil
	}
	now := time.Now()
	a.ChainKickedAt = &now
	return true, nil
}

func (r *fakeAttemptRepo) ClaimBilling(ctx context.Context, callSID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[callSID]
	if !ok || a.BilledAt != nil {
		return false, nil
	}
	now := time.Now()
	a.BilledAt = &now
	return true, nil
}

func (r *fakeAttemptRepo) ReleaseBilling(ctx context.Context, callSID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.attempts[callSID]; ok {
		a.BilledAt = nil
	}
	return nil
}

func (r *fakeAttemptRepo) SetOutcomeIfUnknown(ctx context.Context, callSID string, outcome domain.CallOutcome, source domain.OutcomeSource) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[callSID]
	if !ok {
		return false, nil
	}
	if a.Outcome != "" && a.Outcome != domain.OutcomeUnknown {
		return false, nil
	}
	a.Outcome = outcome
	a.OutcomeSource = source
	return true, nil
}

func (r *fakeAttemptRepo) SetOutcome(ctx context.Context, callSID string, outcome domain.CallOutcome, source domain.OutcomeSource) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[callSID]
	if !ok {
		return false, fmt.Errorf("call attempt %s not found", callSID)
	}
	if !domain.ResolveOutcome(a.Outcome, a.OutcomeSource, source) {
		return false, nil
	}
	a.Outcome = outcome
	a.OutcomeSource = source
	return true, nil
}

func (r *fakeAttemptRepo) SessionStats(ctx context.Context, sessionID string) (domain.SessionStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stats domain.SessionStats
	for _, a := range r.attempts {
		if a.SessionID != sessionID {
			continue
		}
		stats.Total++
		switch a.Outcome {
		case domain.OutcomeBooked:
			stats.Booked++
		case domain.OutcomeNotInterested:
			stats.NotInterested++
		case domain.OutcomeNoAnswer, domain.OutcomeVoicemail:
			stats.NoAnswers++
		}
		if a.Outcome != domain.OutcomeUnknown && a.Outcome != "" {
			stats.Completed++
		}
	}
	return stats, nil
}

type fakeLeadRepo fakeRepos

func (r *fakeLeadRepo) IDsByFolder(ctx context.Context, tenantEmail, folderID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, l := range r.leads {
		if l.TenantEmail == tenantEmail && l.FolderID == folderID {
			ids = append(ids, l.ID)
		}
	}
	return ids, nil
}

func (r *fakeLeadRepo) GetByID(ctx context.Context, tenantEmail, id string) (*domain.Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.leads {
		if l.ID == id && l.TenantEmail == tenantEmail {
			copied := *l
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeLeadRepo) AppendHistory(ctx context.Context, tenantEmail, leadID string, entry domain.HistoryEntry, note string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.leads {
		if l.ID != leadID || l.TenantEmail != tenantEmail {
			continue
		}
		if l.History.Contains(entry.CallSID, entry.Kind) {
			return false, nil
		}
		if entry.At.IsZero() {
			entry.At = time.Now()
		}
		l.History = append(l.History, entry)
		if l.Notes == "" {
			l.Notes = note
		} else {
			l.Notes += "\n" + note
		}
		return true, nil
	}
	return false, nil
}

func (r *fakeLeadRepo) UpsertCallRecord(ctx context.Context, record *domain.LeadCallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.records[record.CallSID]; ok {
		existing.DurationSeconds = record.DurationSeconds
		existing.RecordingURL = record.RecordingURL
		return nil
	}
	copied := *record
	r.records[copied.CallSID] = &copied
	return nil
}

type fakeTenantRepo fakeRepos

func (r *fakeTenantRepo) GetByEmail(ctx context.Context, email string) (*domain.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tenants[email]; ok {
		copied := *t
		return &copied, nil
	}
	return nil, nil
}

func (r *fakeTenantRepo) AddBalance(ctx context.Context, email string, deltaCents int64) (*domain.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[email]
	if !ok {
		return nil, fmt.Errorf("tenant %s not found", email)
	}
	t.BalanceCents += deltaCents
	copied := *t
	return &copied, nil
}

type fakeLedgerRepo fakeRepos

func (r *fakeLedgerRepo) Create(ctx context.Context, entry *domain.UsageLedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ledgerFailures > 0 {
		r.ledgerFailures--
		return fmt.Errorf("ledger write refused")
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	copied := *entry
	r.ledger = append(r.ledger, &copied)
	return nil
}

func (r *fakeLedgerRepo) ListByTenant(ctx context.Context, tenantEmail string, limit int) ([]*domain.UsageLedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.UsageLedgerEntry
	for i := len(r.ledger) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if r.ledger[i].TenantEmail == tenantEmail {
			copied := *r.ledger[i]
			out = append(out, &copied)
		}
	}
	return out, nil
}

// fakeDispatcher records chain kicks
type fakeDispatcher struct {
	mu    sync.Mutex
	kicks []KickNotification
	ch    chan KickNotification
	err   error
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{ch: make(chan KickNotification, 16)}
}

func (d *fakeDispatcher) Kick(ctx context.Context, notification KickNotification) error {
	d.mu.Lock()
	d.kicks = append(d.kicks, notification)
	err := d.err
	d.mu.Unlock()
	select {
	case d.ch <- notification:
	default:
	}
	return err
}

func (d *fakeDispatcher) kickCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.kicks)
}

func (d *fakeDispatcher) waitForKick(timeout time.Duration) (KickNotification, bool) {
	select {
	case n := <-d.ch:
		return n, true
	case <-time.After(timeout):
		return KickNotification{}, false
	}
}

// fakeTelephony records hangup requests
type fakeTelephony struct {
	mu      sync.Mutex
	hangups []string
	err     error
}

func (t *fakeTelephony) Hangup(callSID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hangups = append(t.hangups, callSID)
	return t.err
}

func (t *fakeTelephony) hangupCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.hangups)
}

// fakeCharger records auto-reload charges
type fakeCharger struct {
	mu      sync.Mutex
	charges []int64
	err     error
}

func (c *fakeCharger) Charge(ctx context.Context, tenant *domain.Tenant, amountCents int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.charges = append(c.charges, amountCents)
	return nil
}
