package dialer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/policyline/dialer-service/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Dispatcher notifies the external AI voice server to begin or continue
// placing calls for a session. All calls are best-effort: failures are for
// the caller to log, never to surface to the provider or the UI.
type Dispatcher interface {
	Kick(ctx context.Context, notification KickNotification) error
}

// KickNotification is the payload posted to the voice dispatcher
type KickNotification struct {
	TenantEmail string `json:"tenant"`
	SessionID   string `json:"sessionId"`
	FolderID    string `json:"folderId"`
	TotalLeads  int    `json:"totalLeads"`
}

// HTTPDispatcher kicks the voice dispatcher over HTTP. The dispatch URL is
// derived from the configured streaming endpoint of the voice server; kicks
// are rate limited and retried with backoff because a silently lost kick
// stalls a session with no user-visible error.
type HTTPDispatcher struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPDispatcher creates a dispatcher client from the voice server's
// streaming endpoint, e.g. "wss://voice.example.com/media-stream".
func NewHTTPDispatcher(streamEndpoint string) *HTTPDispatcher {
	return &HTTPDispatcher{
		baseURL: deriveBaseURL(streamEndpoint),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
}

// Kick posts the session notification to the dispatcher, retrying
// transient failures up to three times with backoff.
func (d *HTTPDispatcher) Kick(ctx context.Context, notification KickNotification) error {
	if d.baseURL == "" {
		return fmt.Errorf("voice dispatcher endpoint not configured")
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("dispatcher rate limit wait: %w", err)
	}

	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to encode kick notification: %w", err)
	}

	kickURL := d.baseURL + "/dial/next"

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, kickURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create kick request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			lastErr = err
			logger.Base().Warn("dispatcher kick attempt failed",
				zap.Int("attempt", attempt+1),
				zap.String("session_id", notification.SessionID),
				zap.Error(err))
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			logger.Base().Info("dispatcher kicked",
				zap.String("session_id", notification.SessionID),
				zap.String("folder_id", notification.FolderID),
				zap.Int("total_leads", notification.TotalLeads))
			return nil
		}
		lastErr = fmt.Errorf("dispatcher responded %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			break
		}
	}
	return fmt.Errorf("dispatcher kick failed: %w", lastErr)
}

// deriveBaseURL turns the voice server's streaming endpoint into its HTTP
// base URL: ws/wss schemes map to http/https and the path is dropped.
func deriveBaseURL(streamEndpoint string) string {
	if streamEndpoint == "" {
		return ""
	}
	u, err := url.Parse(streamEndpoint)
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(streamEndpoint, "/")
	}
	scheme := u.Scheme
	switch scheme {
	case "ws":
		scheme = "http"
	case "wss":
		scheme = "https"
	case "":
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, u.Host)
}
