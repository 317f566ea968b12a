package dialer

import (
	"context"
	"fmt"
	"time"

	"github.com/policyline/dialer-service/internal/domain"
	"github.com/policyline/dialer-service/internal/repository"
	"github.com/policyline/dialer-service/pkg/logger"
	"go.uber.org/zap"
)

// TelephonyControl is the slice of the telephony provider the processor
// needs: terminating a call the AMD classified as a machine.
type TelephonyControl interface {
	Hangup(callSID string) error
}

// StatusEvent is one provider status callback, already decoded from the
// form payload. Tenant/session/lead attribution rides on query parameters
// the dispatcher appends to the callback URL and may be absent; the
// processor recovers them from the attempt or its session.
type StatusEvent struct {
	CallSID         string
	CallStatus      string
	DurationSeconds int
	AnsweredBy      string
	RecordingURL    string

	TenantEmail string
	SessionID   string
	LeadID      string
}

// Processor ingests provider status callbacks. Deliveries are concurrent,
// duplicated and unordered, so every side effect is gated by an atomic
// conditional write in the repositories; the processor itself holds no
// state between invocations.
type Processor struct {
	repos      repository.RepositoryManager
	dispatcher Dispatcher
	telephony  TelephonyControl
	billing    *BillingService

	minAMDSkipAge time.Duration
	chainCooldown time.Duration

	// now is injectable for deterministic age-guard tests
	now func() time.Time
}

// NewProcessor creates a new status webhook processor
func NewProcessor(repos repository.RepositoryManager, dispatcher Dispatcher, telephony TelephonyControl, billing *BillingService, minAMDSkipAge, chainCooldown time.Duration) *Processor {
	return &Processor{
		repos:         repos,
		dispatcher:    dispatcher,
		telephony:     telephony,
		billing:       billing,
		minAMDSkipAge: minAMDSkipAge,
		chainCooldown: chainCooldown,
		now:           time.Now,
	}
}

// Process runs the full pipeline for one status event. Each step is
// independently idempotent and isolated: a failure in one is logged and
// does not block the later steps. The returned error is for the caller's
// log only; the webhook endpoint answers 200 regardless.
func (p *Processor) Process(ctx context.Context, ev StatusEvent) error {
	if ev.CallSID == "" {
		return fmt.Errorf("status event missing CallSid")
	}

	log := logger.Base().With(
		zap.String("call_sid", ev.CallSID),
		zap.String("call_status", ev.CallStatus))

	// 1. Guarantee the attempt row exists and carries the latest telemetry.
	attempt, err := p.upsertAttempt(ctx, ev)
	if err != nil {
		return err
	}

	// 2. Resolve the owning tenant without ever overwriting a known one.
	tenantEmail := p.resolveTenant(ctx, ev, attempt)
	if tenantEmail != "" && attempt.TenantEmail == "" {
		attempt.TenantEmail = tenantEmail
	}

	// 3. Voicemail fast-skip, gated on high-confidence AMD plus call age.
	p.handleVoicemail(ctx, ev, attempt, log)

	// 4. Usage billing, at most once per CallSid.
	p.handleBilling(ctx, ev, attempt, log)

	// 5. Best-effort activity-timeline sync.
	p.syncLeadActivity(ctx, ev, attempt, log)

	// 6. Terminal fallback outcome for calls the agent never dispositioned.
	p.handleTerminalFallback(ctx, ev, log)

	// 7. Session completion or chain-advance.
	p.handleChain(ctx, ev, attempt, log)

	return nil
}

func (p *Processor) upsertAttempt(ctx context.Context, ev StatusEvent) (*domain.CallAttempt, error) {
	err := p.repos.CallAttempt().UpsertFromStatusEvent(ctx, &domain.CallAttempt{
		CallSID:         ev.CallSID,
		TenantEmail:     ev.TenantEmail,
		SessionID:       ev.SessionID,
		LeadID:          ev.LeadID,
		Status:          ev.CallStatus,
		DurationSeconds: ev.DurationSeconds,
		AnsweredBy:      ev.AnsweredBy,
		RecordingURL:    ev.RecordingURL,
		Outcome:         domain.OutcomeUnknown,
	})
	if err != nil {
		return nil, err
	}

	if ev.SessionID != "" {
		if err := p.repos.CallAttempt().SetSessionIfMissing(ctx, ev.CallSID, ev.SessionID); err != nil {
			logger.Base().Error("failed to backfill session on attempt", zap.String("call_sid", ev.CallSID), zap.Error(err))
		}
	}

	attempt, err := p.repos.CallAttempt().GetBySID(ctx, ev.CallSID)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, fmt.Errorf("call attempt %s vanished after upsert", ev.CallSID)
	}
	return attempt, nil
}

func (p *Processor) resolveTenant(ctx context.Context, ev StatusEvent, attempt *domain.CallAttempt) string {
	tenantEmail := ev.TenantEmail
	if tenantEmail == "" {
		tenantEmail = attempt.TenantEmail
	}
	if tenantEmail == "" && attempt.SessionID != "" {
		session, err := p.repos.DialSession().GetByID(ctx, attempt.SessionID)
		if err != nil {
			logger.Base().Error("failed to load session for tenant recovery",
				zap.String("call_sid", ev.CallSID), zap.Error(err))
		} else if session != nil {
			tenantEmail = session.TenantEmail
		}
	}
	if tenantEmail != "" {
		if err := p.repos.CallAttempt().SetTenantIfMissing(ctx, ev.CallSID, tenantEmail); err != nil {
			logger.Base().Error("failed to backfill tenant on attempt",
				zap.String("call_sid", ev.CallSID), zap.Error(err))
		}
	}
	return tenantEmail
}

// handleVoicemail performs the debounced fast-skip: only an explicit
// end-of-greeting or fax marker past the minimum call age may hang up and
// chain past a lead. "machine_start" alone never does; hanging up on a
// human in the first seconds of a call is worse than paying for a greeting.
func (p *Processor) handleVoicemail(ctx context.Context, ev StatusEvent, attempt *domain.CallAttempt, log *zap.Logger) {
	if domain.ClassifyAnsweredBy(ev.AnsweredBy) != domain.AMDMachineHigh {
		return
	}

	callAge := p.now().Sub(attempt.CreatedAt)
	if callAge < p.minAMDSkipAge {
		log.Info("AMD high-confidence but call too young, skipping fast-skip",
			zap.Duration("call_age", callAge),
			zap.Duration("min_age", p.minAMDSkipAge))
		return
	}

	claimed, err := p.repos.CallAttempt().ClaimVoicemailHandled(ctx, ev.CallSID)
	if err != nil {
		log.Error("failed to claim voicemail lock", zap.Error(err))
		return
	}
	if !claimed {
		return
	}

	log.Info("voicemail detected, fast-skipping", zap.String("answered_by", ev.AnsweredBy))

	if _, err := p.repos.CallAttempt().SetOutcomeIfUnknown(ctx, ev.CallSID, domain.OutcomeVoicemail, domain.SourceAMDVoicemail); err != nil {
		log.Error("failed to set voicemail outcome", zap.Error(err))
	}

	p.appendLeadHistory(ctx, attempt, domain.HistoryEntry{
		Kind:    domain.HistoryKindVoicemail,
		CallSID: ev.CallSID,
		Detail:  fmt.Sprintf("AI dialer reached voicemail (%s)", ev.AnsweredBy),
	}, log)

	if err := p.telephony.Hangup(ev.CallSID); err != nil {
		log.Error("failed to hang up voicemail call", zap.Error(err))
	}

	p.advanceOrComplete(ctx, ev.CallSID, attempt.SessionID, log)
}

func (p *Processor) handleBilling(ctx context.Context, ev StatusEvent, attempt *domain.CallAttempt, log *zap.Logger) {
	if ev.CallStatus != "completed" || ev.DurationSeconds <= 0 {
		return
	}
	if attempt.TenantEmail == "" {
		log.Warn("completed call has no tenant, skipping billing")
		return
	}

	claimed, err := p.repos.CallAttempt().ClaimBilling(ctx, ev.CallSID)
	if err != nil {
		log.Error("failed to claim billing lock", zap.Error(err))
		return
	}
	if !claimed {
		return
	}

	minutes := BillableMinutes(ev.DurationSeconds)
	if err := p.billing.RecordUsage(ctx, attempt.TenantEmail, ev.CallSID, minutes); err != nil {
		log.Error("usage recording failed, releasing billing lock", zap.Error(err))
		// Release so a provider retry can bill correctly. This is the only
		// path that ever undoes an idempotency lock.
		if relErr := p.repos.CallAttempt().ReleaseBilling(ctx, ev.CallSID); relErr != nil {
			log.Error("failed to release billing lock", zap.Error(relErr))
		}
		return
	}

	log.Info("billed call", zap.Int("minutes", minutes), zap.Int("duration_seconds", ev.DurationSeconds))
}

func (p *Processor) syncLeadActivity(ctx context.Context, ev StatusEvent, attempt *domain.CallAttempt, log *zap.Logger) {
	if attempt.LeadID == "" || attempt.TenantEmail == "" {
		return
	}
	err := p.repos.Lead().UpsertCallRecord(ctx, &domain.LeadCallRecord{
		CallSID:         ev.CallSID,
		TenantEmail:     attempt.TenantEmail,
		LeadID:          attempt.LeadID,
		DurationSeconds: ev.DurationSeconds,
		RecordingURL:    ev.RecordingURL,
		OccurredAt:      attempt.CreatedAt,
	})
	if err != nil {
		log.Error("failed to sync lead call record", zap.Error(err))
	}
}

// handleTerminalFallback assigns a conservative outcome when the call ends
// without one. The attempt is re-fetched because an agent submission may
// have landed between step 1 and now; a real agent outcome always wins.
func (p *Processor) handleTerminalFallback(ctx context.Context, ev StatusEvent, log *zap.Logger) {
	if !domain.IsTerminalCallStatus(ev.CallStatus) {
		return
	}

	attempt, err := p.repos.CallAttempt().GetBySID(ctx, ev.CallSID)
	if err != nil || attempt == nil {
		log.Error("failed to re-fetch attempt for fallback", zap.Error(err))
		return
	}

	if domain.IsRealOutcome(attempt.Outcome, attempt.OutcomeSource) {
		return
	}

	outcome := domain.FallbackOutcome(ev.CallStatus, attempt.AnsweredBy)
	if outcome == domain.OutcomeUnknown {
		return
	}

	source := domain.SourceCallStatusFallback
	if outcome == domain.OutcomeVoicemail {
		source = domain.SourceAMDVoicemail
	}

	wrote, err := p.repos.CallAttempt().SetOutcomeIfUnknown(ctx, ev.CallSID, outcome, source)
	if err != nil {
		log.Error("failed to write fallback outcome", zap.Error(err))
		return
	}
	if !wrote {
		return
	}

	log.Info("applied fallback outcome", zap.String("outcome", string(outcome)))

	p.appendLeadHistory(ctx, attempt, domain.HistoryEntry{
		Kind:    domain.HistoryKindCallOutcome,
		CallSID: ev.CallSID,
		Detail:  fmt.Sprintf("AI dialer call ended: %s (%s)", outcome, ev.CallStatus),
	}, log)
}

func (p *Processor) handleChain(ctx context.Context, ev StatusEvent, attempt *domain.CallAttempt, log *zap.Logger) {
	if !domain.IsTerminalCallStatus(ev.CallStatus) {
		return
	}
	if attempt.SessionID == "" {
		return
	}
	p.advanceOrComplete(ctx, ev.CallSID, attempt.SessionID, log)
}

// advanceOrComplete re-loads the session and either finalizes it (queue
// exhausted) or advances the chain and kicks the dispatcher. Advancing
// takes two locks in order: the per-call one-time lock, so one CallSid can
// never move the cursor twice no matter how late a duplicate terminal
// event arrives, then the session-side claim whose cooldown absorbs near-
// simultaneous events from racing calls.
func (p *Processor) advanceOrComplete(ctx context.Context, callSID, sessionID string, log *zap.Logger) {
	session, err := p.repos.DialSession().GetByID(ctx, sessionID)
	if err != nil {
		log.Error("failed to load session for chain-advance", zap.Error(err))
		return
	}
	if session == nil {
		return
	}

	if session.Cursor >= len(session.LeadQueue)-1 {
		completed, err := p.repos.DialSession().MarkCompleted(ctx, sessionID)
		if err != nil {
			log.Error("failed to mark session completed", zap.Error(err))
			return
		}
		if completed {
			log.Info("dial session completed",
				zap.String("session_id", sessionID),
				zap.Int("total_leads", len(session.LeadQueue)))
		}
		return
	}

	if !session.Status.IsActive() || session.Status == domain.SessionStatusPaused {
		log.Info("session no longer dialable, skipping chain-advance",
			zap.String("session_id", sessionID),
			zap.String("status", string(session.Status)))
		return
	}

	advanced, err := p.repos.CallAttempt().ClaimChainAdvance(ctx, callSID)
	if err != nil {
		log.Error("failed to claim per-call chain-advance lock", zap.Error(err))
		return
	}
	if !advanced {
		log.Info("call already advanced the chain, skipping",
			zap.String("session_id", sessionID))
		return
	}

	claimed, err := p.repos.DialSession().ClaimChainKick(ctx, sessionID, callSID, p.chainCooldown)
	if err != nil {
		log.Error("failed to claim chain-advance", zap.Error(err))
		return
	}
	if !claimed {
		log.Info("chain-advance already claimed for this call, skipping",
			zap.String("session_id", sessionID))
		return
	}

	if err := p.dispatcher.Kick(ctx, KickNotification{
		TenantEmail: session.TenantEmail,
		SessionID:   session.ID,
		FolderID:    session.FolderID,
		TotalLeads:  len(session.LeadQueue),
	}); err != nil {
		log.Error("dispatcher chain kick failed", zap.Error(err))
	}
}

func (p *Processor) appendLeadHistory(ctx context.Context, attempt *domain.CallAttempt, entry domain.HistoryEntry, log *zap.Logger) {
	if attempt.LeadID == "" || attempt.TenantEmail == "" {
		return
	}
	appended, err := p.repos.Lead().AppendHistory(ctx, attempt.TenantEmail, attempt.LeadID, entry, entry.Detail)
	if err != nil {
		log.Error("failed to append lead history", zap.Error(err))
		return
	}
	if appended {
		log.Info("appended lead history", zap.String("kind", string(entry.Kind)))
	}
}
