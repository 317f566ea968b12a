package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/policyline/dialer-service/internal/domain"
	"github.com/policyline/dialer-service/pkg/logger"
	"github.com/policyline/dialer-service/pkg/redis"
	"go.uber.org/zap"
)

// SessionCacheTTL bounds staleness for the polling GET endpoints. The UI
// polls every few seconds; a short TTL keeps reads off the database while
// webhook-driven invalidation keeps transitions visible quickly.
const SessionCacheTTL = 3 * time.Second

// SessionCache is a read-through cache for session snapshots. Optional: a
// nil redis service disables it and all reads fall through.
type SessionCache struct {
	redisService redis.RedisServiceInterface
}

// NewSessionCache creates a new session snapshot cache
func NewSessionCache(redisService redis.RedisServiceInterface) *SessionCache {
	return &SessionCache{redisService: redisService}
}

func folderKey(tenantEmail, folderID string) string {
	return fmt.Sprintf("%s:%s", tenantEmail, folderID)
}

// GetByFolder returns a cached snapshot or nil on miss
func (c *SessionCache) GetByFolder(ctx context.Context, tenantEmail, folderID string) *domain.SessionSnapshot {
	if c.redisService == nil {
		return nil
	}
	key := c.redisService.GenerateKey(redis.SESSION_SNAPSHOT, folderKey(tenantEmail, folderID))
	val, err := c.redisService.GetValue(ctx, key)
	if err != nil {
		if err != redis.ErrKeyNotExist {
			logger.Base().Warn("session cache read failed", zap.Error(err))
		}
		return nil
	}
	var snapshot domain.SessionSnapshot
	if err := json.Unmarshal([]byte(val), &snapshot); err != nil {
		logger.Base().Warn("session cache entry corrupt, dropping", zap.Error(err))
		_ = c.redisService.DelValue(ctx, key)
		return nil
	}
	return &snapshot
}

// Put stores a snapshot under its (tenant, folder) key
func (c *SessionCache) Put(ctx context.Context, snapshot *domain.SessionSnapshot) {
	if c.redisService == nil || snapshot == nil {
		return
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	key := c.redisService.GenerateKey(redis.SESSION_SNAPSHOT, folderKey(snapshot.TenantEmail, snapshot.FolderID))
	if err := c.redisService.SetValue(ctx, key, string(data), SessionCacheTTL); err != nil {
		logger.Base().Warn("session cache write failed", zap.Error(err))
	}
}

// Invalidate drops the cached snapshot for a (tenant, folder) pair
func (c *SessionCache) Invalidate(ctx context.Context, tenantEmail, folderID string) {
	if c.redisService == nil {
		return
	}
	key := c.redisService.GenerateKey(redis.SESSION_SNAPSHOT, folderKey(tenantEmail, folderID))
	if err := c.redisService.DelValue(ctx, key); err != nil && err != redis.ErrKeyNotExist {
		logger.Base().Warn("session cache invalidation failed", zap.Error(err))
	}
}
