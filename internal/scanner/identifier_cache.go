package scanner

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/booth-checkin/internal/models"
)

// Validity is the outcome of checking a badge against the local snapshot.
type Validity int

const (
	// Unknown means the id is well formed but absent from the snapshot. Callers allow the scan.
	Unknown Validity = iota
	// Valid means the id is present in the snapshot.
	Valid
	// Invalid means the id does not have the badge shape.
	Invalid
)

func (v Validity) String() string {
	switch v {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// IdentifierCache holds the last known set of student identifiers.
type IdentifierCache struct {
	source IdentifierSource
	store  IdentifierStore
	logger *zap.Logger
	now    func() time.Time

	mu          sync.RWMutex
	ids         map[string]struct{}
	refreshedAt time.Time
}

// NewIdentifierCache builds an empty cache. store may be nil.
func NewIdentifierCache(source IdentifierSource, store IdentifierStore, logger *zap.Logger) *IdentifierCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentifierCache{
		source: source,
		store:  store,
		logger: logger,
		now:    time.Now,
		ids:    make(map[string]struct{}),
	}
}

// Load restores the snapshot persisted by a previous run.
func (c *IdentifierCache) Load(ctx context.Context) {
	if c.store == nil {
		return
	}
	entries, err := c.store.LoadIdentifiers(ctx)
	if err != nil {
		c.logger.Warn("identifier snapshot not restored", zap.Error(err))
		return
	}
	if len(entries) == 0 {
		return
	}
	ids := make(map[string]struct{}, len(entries))
	var refreshedAt time.Time
	for _, entry := range entries {
		ids[models.NormalizeStudentID(entry.StudentID)] = struct{}{}
		if entry.RefreshedAt.After(refreshedAt) {
			refreshedAt = entry.RefreshedAt
		}
	}
	c.mu.Lock()
	c.ids = ids
	c.refreshedAt = refreshedAt
	c.mu.Unlock()
	c.logger.Info("identifier snapshot restored", zap.Int("count", len(ids)), zap.Time("refreshed_at", refreshedAt))
}

// Refresh replaces the snapshot with the server's. Failures keep the current
// snapshot, as does an empty result while a non-empty snapshot is held.
func (c *IdentifierCache) Refresh(ctx context.Context) {
	snapshot, err := c.source.FetchIdentifiers(ctx)
	if err != nil {
		c.logger.Warn("identifier refresh failed, keeping previous snapshot", zap.Error(err))
		return
	}
	if snapshot == nil {
		c.logger.Warn("identifier refresh returned no snapshot, keeping previous snapshot")
		return
	}

	ids := make(map[string]struct{}, len(snapshot.Identifiers))
	for _, id := range snapshot.Identifiers {
		id = models.NormalizeStudentID(id)
		if id != "" {
			ids[id] = struct{}{}
		}
	}

	c.mu.Lock()
	if len(ids) == 0 && len(c.ids) > 0 {
		c.mu.Unlock()
		c.logger.Warn("identifier refresh returned an empty snapshot, keeping previous snapshot", zap.Int("held", len(c.ids)))
		return
	}
	refreshedAt := c.now().UTC()
	c.ids = ids
	c.refreshedAt = refreshedAt
	c.mu.Unlock()

	if c.store != nil {
		list := make([]string, 0, len(ids))
		for id := range ids {
			list = append(list, id)
		}
		if err := c.store.SaveIdentifiers(ctx, list, refreshedAt); err != nil {
			c.logger.Warn("identifier snapshot not persisted", zap.Error(err))
		}
	}
	c.logger.Info("identifier snapshot refreshed", zap.Int("count", len(ids)))
}

// Validate checks the badge shape first and only then consults the snapshot.
func (c *IdentifierCache) Validate(id string) Validity {
	id = models.NormalizeStudentID(id)
	if !models.ValidStudentID(id) {
		return Invalid
	}
	c.mu.RLock()
	_, ok := c.ids[id]
	c.mu.RUnlock()
	if ok {
		return Valid
	}
	return Unknown
}

// Size returns the number of identifiers held.
func (c *IdentifierCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids)
}

// RefreshedAt returns when the held snapshot was fetched.
func (c *IdentifierCache) RefreshedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshedAt
}
