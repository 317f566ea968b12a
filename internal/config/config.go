package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the dialer service configuration
type Config struct {
	Port string

	// Twilio credentials. The auth token also validates inbound
	// status-callback signatures when set.
	TwilioAccountSID string
	TwilioAuthToken  string

	// Voice dispatcher. The kick URL is derived from the configured
	// streaming endpoint of the external AI voice server.
	VoiceStreamEndpoint string

	// JWT secret for the session/outcome API
	JWTSecret string

	// Externally visible base URL, used for webhook signature validation
	// behind proxies. Falls back to the request host when empty.
	PublicURL string

	// Voicemail fast-skip: minimum call age before a high-confidence AMD
	// signal may hang up and chain past a lead.
	MinAMDSkipSeconds int

	// Chain-advance cooldown window for deduplicating provider retries.
	ChainKickCooldown time.Duration

	// Billing: flat vendor rate per rounded-up minute, and the fixed
	// auto-reload charge applied when the prepaid balance is exhausted.
	RatePerMinuteCents int64
	AutoReloadCents    int64

	BillingServiceURL string
}

// Load reads configuration from the environment. A .env file is loaded in
// main for local development before this runs.
func Load() *Config {
	return &Config{
		Port: getEnvOrDefault("PORT", "8082"),

		TwilioAccountSID: getEnvOrDefault("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnvOrDefault("TWILIO_AUTH_TOKEN", ""),

		VoiceStreamEndpoint: getEnvOrDefault("VOICE_STREAM_ENDPOINT", ""),

		JWTSecret: getEnvOrDefault("JWT_SECRET", ""),

		PublicURL: getEnvOrDefault("PUBLIC_URL", ""),

		MinAMDSkipSeconds: getEnvAsIntOrDefault("MIN_AMD_SKIP_SECONDS", 6),
		ChainKickCooldown: time.Duration(getEnvAsIntOrDefault("CHAIN_KICK_COOLDOWN_SECONDS", 15)) * time.Second,

		RatePerMinuteCents: int64(getEnvAsIntOrDefault("DIAL_RATE_CENTS_PER_MINUTE", 2)),
		AutoReloadCents:    int64(getEnvAsIntOrDefault("AUTO_RELOAD_CENTS", 1000)),

		BillingServiceURL: getEnvOrDefault("BILLING_SERVICE_URL", ""),
	}
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
