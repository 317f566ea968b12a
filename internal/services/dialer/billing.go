package dialer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/policyline/dialer-service/internal/domain"
	"github.com/policyline/dialer-service/internal/repository"
	"github.com/policyline/dialer-service/pkg/logger"
	"go.uber.org/zap"
)

// BillableMinutes rounds a call duration up to whole minutes with a floor
// of one minute. The full call duration is billed, not connected time, and
// the flat per-minute rate applies regardless of AMD outcome.
func BillableMinutes(durationSeconds int) int {
	if durationSeconds <= 0 {
		return 0
	}
	minutes := (durationSeconds + 59) / 60
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

// PaymentCharger triggers the prepaid auto-reload charge. Stripe lives in
// the billing service; this interface is all the core sees of it.
type PaymentCharger interface {
	Charge(ctx context.Context, tenant *domain.Tenant, amountCents int64) error
}

// HTTPPaymentCharger charges through the billing service's reload endpoint
type HTTPPaymentCharger struct {
	baseURL string
	client  *http.Client
}

// NewHTTPPaymentCharger creates a payment charger for the billing service
func NewHTTPPaymentCharger(baseURL string) *HTTPPaymentCharger {
	return &HTTPPaymentCharger{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Charge posts a reload charge request to the billing service
func (c *HTTPPaymentCharger) Charge(ctx context.Context, tenant *domain.Tenant, amountCents int64) error {
	if c.baseURL == "" {
		return fmt.Errorf("billing service not configured")
	}

	payload, err := json.Marshal(map[string]interface{}{
		"tenant":           tenant.Email,
		"stripeCustomerId": tenant.StripeCustomerID,
		"amountCents":      amountCents,
	})
	if err != nil {
		return fmt.Errorf("failed to encode charge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/billing/v1/reload", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create charge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send charge request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("charge request failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// BillingService records dialer usage against a tenant's prepaid balance
// and triggers the fixed-size auto-reload when the balance is exhausted.
// It does not deduplicate; the caller's BilledAt lock guarantees at-most-
// once invocation per CallSid.
type BillingService struct {
	repos              repository.RepositoryManager
	charger            PaymentCharger
	ratePerMinuteCents int64
	autoReloadCents    int64
}

// NewBillingService creates a new billing service
func NewBillingService(repos repository.RepositoryManager, charger PaymentCharger, ratePerMinuteCents, autoReloadCents int64) *BillingService {
	return &BillingService{
		repos:              repos,
		charger:            charger,
		ratePerMinuteCents: ratePerMinuteCents,
		autoReloadCents:    autoReloadCents,
	}
}

// RecordUsage debits the tenant for the given minutes in one transaction:
// ledger entry plus balance decrement. When the balance lands at or below
// zero and auto-reload is enabled, the reload charge and credit run inside
// the same transaction so a crashed reload rolls the usage back too.
func (s *BillingService) RecordUsage(ctx context.Context, tenantEmail, callSID string, minutes int) error {
	if minutes <= 0 {
		return fmt.Errorf("minutes must be positive")
	}

	cost := int64(minutes) * s.ratePerMinuteCents

	return s.repos.WithTx(ctx, func(ctx context.Context, repos repository.RepositoryManager) error {
		if err := repos.UsageLedger().Create(ctx, &domain.UsageLedgerEntry{
			TenantEmail:     tenantEmail,
			CallSID:         callSID,
			Kind:            domain.LedgerKindUsage,
			Minutes:         minutes,
			VendorCostCents: cost,
		}); err != nil {
			return err
		}

		tenant, err := repos.Tenant().AddBalance(ctx, tenantEmail, -cost)
		if err != nil {
			return err
		}

		logger.Base().Info("recorded usage",
			zap.String("tenant", tenantEmail),
			zap.String("call_sid", callSID),
			zap.Int("minutes", minutes),
			zap.Int64("cost_cents", cost),
			zap.Int64("balance_cents", tenant.BalanceCents))

		if tenant.BalanceCents > 0 || !tenant.AutoReloadEnabled {
			return nil
		}

		reload := s.autoReloadCents
		if tenant.AutoReloadCents > 0 {
			reload = tenant.AutoReloadCents
		}

		if err := s.charger.Charge(ctx, tenant, reload); err != nil {
			return fmt.Errorf("auto-reload charge failed: %w", err)
		}
		if err := repos.UsageLedger().Create(ctx, &domain.UsageLedgerEntry{
			TenantEmail:     tenantEmail,
			Kind:            domain.LedgerKindReload,
			VendorCostCents: reload,
		}); err != nil {
			return err
		}
		if _, err := repos.Tenant().AddBalance(ctx, tenantEmail, reload); err != nil {
			return err
		}

		logger.Base().Info("auto-reload applied",
			zap.String("tenant", tenantEmail),
			zap.Int64("reload_cents", reload))
		return nil
	})
}
