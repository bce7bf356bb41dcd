package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/booth-checkin/internal/models"
	appErrors "github.com/noah-isme/booth-checkin/pkg/errors"
)

// IdentifierSnapshotCacheKey is the cache key of the identifier snapshot.
const IdentifierSnapshotCacheKey = "students:identifiers"

// SnapshotStore keeps JSON payloads with an expiry. repository.CacheRepository
// implements it on Redis.
type SnapshotStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// SnapshotCache shares the identifier snapshot between server instances so a
// fleet of devices refreshing at once does not rescan the students table.
// A nil store disables it; every lookup then misses.
type SnapshotCache struct {
	store   SnapshotStore
	ttl     time.Duration
	metrics *MetricsService
	logger  *zap.Logger
}

// NewSnapshotCache constructs the cache. ttl defaults to ten minutes.
func NewSnapshotCache(store SnapshotStore, ttl time.Duration, metrics *MetricsService, logger *zap.Logger) *SnapshotCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotCache{store: store, ttl: ttl, metrics: metrics, logger: logger}
}

// Enabled reports whether snapshots are cached at all.
func (c *SnapshotCache) Enabled() bool {
	return c != nil && c.store != nil
}

// Load returns the cached snapshot. Store errors are logged and reported as a
// miss so the caller falls back to the database.
func (c *SnapshotCache) Load(ctx context.Context) (*models.IdentifierSnapshot, bool) {
	if !c.Enabled() {
		return nil, false
	}
	start := time.Now()
	var snapshot models.IdentifierSnapshot
	err := c.store.Get(ctx, IdentifierSnapshotCacheKey, &snapshot)
	hit := err == nil && snapshot.Identifiers != nil
	c.metrics.RecordSnapshotCacheLookup(hit, time.Since(start))

	switch {
	case err == nil && !hit:
		c.logger.Warn("cached identifier snapshot has no identifier list, ignoring it")
	case err != nil && !errors.Is(err, appErrors.ErrCacheMiss):
		c.logger.Warn("identifier snapshot cache read failed", zap.Error(err))
	}
	if !hit {
		return nil, false
	}
	return &snapshot, true
}

// Store caches snapshot until the ttl expires.
func (c *SnapshotCache) Store(ctx context.Context, snapshot *models.IdentifierSnapshot) error {
	if !c.Enabled() || snapshot == nil {
		return nil
	}
	start := time.Now()
	err := c.store.Set(ctx, IdentifierSnapshotCacheKey, snapshot, c.ttl)
	c.metrics.ObserveSnapshotCacheWrite(time.Since(start))
	if err != nil {
		c.logger.Warn("identifier snapshot cache write failed", zap.Int("identifiers", len(snapshot.Identifiers)), zap.Error(err))
	}
	return err
}

// Drop removes the cached snapshot so the next lookup rebuilds it.
func (c *SnapshotCache) Drop(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	if err := c.store.Delete(ctx, IdentifierSnapshotCacheKey); err != nil {
		c.logger.Warn("identifier snapshot cache drop failed", zap.Error(err))
		return err
	}
	return nil
}
