package dialer

import (
	"context"
	"errors"
	"fmt"

	"github.com/policyline/dialer-service/internal/domain"
	"github.com/policyline/dialer-service/pkg/logger"
	"go.uber.org/zap"
)

// ErrCallNotFound is returned for unknown or foreign-tenant call attempts
var ErrCallNotFound = errors.New("call attempt not found")

var agentOutcomes = map[domain.CallOutcome]bool{
	domain.OutcomeBooked:        true,
	domain.OutcomeCallback:      true,
	domain.OutcomeNotInterested: true,
	domain.OutcomeNoAnswer:      true,
	domain.OutcomeVoicemail:     true,
	domain.OutcomeDisconnected:  true,
}

// SubmitAgentOutcome records the disposition the agent chose for a call.
// Agent outcomes take precedence over anything the webhook pipeline wrote
// or will write; the precedence rules live in domain.ResolveOutcome, which
// the repository applies under a compare-and-set.
func (o *Orchestrator) SubmitAgentOutcome(ctx context.Context, tenantEmail, callSID string, outcome domain.CallOutcome) (*domain.CallAttempt, error) {
	if !agentOutcomes[outcome] {
		return nil, fmt.Errorf("invalid outcome %q", outcome)
	}

	attempt, err := o.repos.CallAttempt().GetBySID(ctx, callSID)
	if err != nil {
		return nil, err
	}
	if attempt == nil || attempt.TenantEmail != tenantEmail {
		return nil, ErrCallNotFound
	}

	wrote, err := o.repos.CallAttempt().SetOutcome(ctx, callSID, outcome, domain.SourceAgent)
	if err != nil {
		return nil, err
	}
	if wrote && attempt.LeadID != "" {
		appended, err := o.repos.Lead().AppendHistory(ctx, tenantEmail, attempt.LeadID, domain.HistoryEntry{
			Kind:    domain.HistoryKindAgentNote,
			CallSID: callSID,
			Detail:  fmt.Sprintf("Agent marked call %s", outcome),
		}, fmt.Sprintf("Agent marked call %s", outcome))
		if err != nil {
			logger.Base().Error("failed to append agent outcome history",
				zap.String("call_sid", callSID), zap.Error(err))
		} else if appended {
			logger.Base().Info("agent outcome recorded",
				zap.String("call_sid", callSID),
				zap.String("outcome", string(outcome)))
		}
	}

	return o.repos.CallAttempt().GetBySID(ctx, callSID)
}
