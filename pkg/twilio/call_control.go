package twilio

import (
	"fmt"

	"github.com/policyline/dialer-service/pkg/logger"
	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// CallControlService wraps the Twilio REST client for the call-control
// operations the dialer needs. If credentials are missing the service is
// disabled and hang-up requests become logged no-ops, which keeps local
// development environments working without a Twilio account.
type CallControlService struct {
	client    *twilio.RestClient
	validator twclient.RequestValidator
	enabled   bool
}

// NewCallControlService creates a new Twilio call control service
func NewCallControlService(accountSID, authToken string) *CallControlService {
	if accountSID == "" || authToken == "" {
		logger.Base().Warn("Twilio credentials not provided, call control disabled")
		return &CallControlService{enabled: false}
	}

	return &CallControlService{
		client:    twilio.NewRestClientWithParams(twilio.ClientParams{Username: accountSID, Password: authToken}),
		validator: twclient.NewRequestValidator(authToken),
		enabled:   true,
	}
}

// Enabled reports whether real Twilio calls will be made
func (s *CallControlService) Enabled() bool {
	return s.enabled
}

// Hangup asks Twilio to terminate an in-progress call. Used by the
// voicemail fast-skip so the dialer stops paying for machine greetings.
func (s *CallControlService) Hangup(callSID string) error {
	if !s.enabled {
		logger.Base().Info("Twilio disabled, skipping hangup", zap.String("call_sid", callSID))
		return nil
	}

	params := &api.UpdateCallParams{}
	params.SetStatus("completed")

	if _, err := s.client.Api.UpdateCall(callSID, params); err != nil {
		return fmt.Errorf("failed to hang up call %s: %w", callSID, err)
	}

	logger.Base().Info("Hung up call", zap.String("call_sid", callSID))
	return nil
}

// ValidateSignature checks the X-Twilio-Signature header on an inbound
// webhook against the full request URL and form parameters. Always passes
// when the service is disabled (no auth token to validate with).
func (s *CallControlService) ValidateSignature(url string, params map[string]string, signature string) bool {
	if !s.enabled {
		return true
	}
	return s.validator.Validate(url, params, signature)
}
