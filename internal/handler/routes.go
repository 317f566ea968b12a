package handler

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/policyline/dialer-service/internal/cache"
	"github.com/policyline/dialer-service/internal/config"
	"github.com/policyline/dialer-service/internal/repository"
	"github.com/policyline/dialer-service/internal/services/dialer"
	"github.com/policyline/dialer-service/pkg/logger"
	"github.com/policyline/dialer-service/pkg/redis"
	"github.com/policyline/dialer-service/pkg/twilio"
	"go.uber.org/zap"
)

// HandlerManager constructs all services and registers their routes
type HandlerManager struct {
	config       *config.Config
	repoManager  repository.RepositoryManager
	orchestrator *dialer.Orchestrator
	processor    *dialer.Processor

	sessionHandler  *SessionHandler
	callbackHandler *StatusCallbackHandler
}

// NewHandlerManager creates the service graph behind the HTTP surface
func NewHandlerManager(cfg *config.Config) (*HandlerManager, error) {
	repoManager, err := repository.NewRepositoryManager()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	// Redis is optional; without it the snapshot cache is a pass-through.
	var redisService redis.RedisServiceInterface
	if host := getRedisHost(); host != "" {
		svc, err := redis.NewRedisService(loadRedisConfig(host))
		if err != nil {
			logger.Base().Warn("redis unavailable, session cache disabled", zap.Error(err))
		} else {
			redisService = svc
		}
	}

	callControl := twilio.NewCallControlService(cfg.TwilioAccountSID, cfg.TwilioAuthToken)
	dispatcher := dialer.NewHTTPDispatcher(cfg.VoiceStreamEndpoint)
	billing := dialer.NewBillingService(repoManager,
		dialer.NewHTTPPaymentCharger(cfg.BillingServiceURL),
		cfg.RatePerMinuteCents, cfg.AutoReloadCents)

	orchestrator := dialer.NewOrchestrator(repoManager, dispatcher)
	processor := dialer.NewProcessor(repoManager, dispatcher, callControl, billing,
		timeSeconds(cfg.MinAMDSkipSeconds), cfg.ChainKickCooldown)

	sessionCache := cache.NewSessionCache(redisService)

	var validator SignatureValidator
	if callControl.Enabled() {
		validator = callControl
	}

	return &HandlerManager{
		config:          cfg,
		repoManager:     repoManager,
		orchestrator:    orchestrator,
		processor:       processor,
		sessionHandler:  NewSessionHandler(orchestrator, sessionCache),
		callbackHandler: NewStatusCallbackHandler(processor, validator, cfg.PublicURL),
	}, nil
}

// SetupAllRoutes registers every route group on the router
func (m *HandlerManager) SetupAllRoutes(router *mux.Router) {
	router.Use(CORSMiddleware)

	// Tenant-authenticated CRM API
	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(LoggingMiddleware)
	apiRouter.Use(TenantAuthMiddleware(m.config.JWTSecret))
	m.sessionHandler.SetupRoutes(apiRouter)

	// Provider webhooks: signature-validated, never JWT
	m.callbackHandler.SetupRoutes(router)

	router.HandleFunc("/health", m.HandleHealth).Methods("GET")

	logger.Base().Info("routes registered")
}

// HandleHealth handles GET /health
func (m *HandlerManager) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := m.repoManager.Ping(r.Context()); err != nil {
		sendError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Close releases held resources
func (m *HandlerManager) Close() error {
	return m.repoManager.Close()
}

func getRedisHost() string {
	return os.Getenv("REDIS_HOST")
}

func loadRedisConfig(host string) *redis.RedisConfig {
	port := os.Getenv("REDIS_PORT")
	if port == "" {
		port = "6379"
	}
	db := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			db = n
		}
	}
	return &redis.RedisConfig{
		Host:     host,
		Port:     port,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
	}
}

func timeSeconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
