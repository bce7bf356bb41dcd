package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/booth-checkin/internal/models"
	appErrors "github.com/noah-isme/booth-checkin/pkg/errors"
)

type identifierRepository interface {
	ListIdentifiers(ctx context.Context) ([]string, error)
}

// IdentifierService serves the snapshot of known student identifiers that
// scanning devices use for offline validation.
type IdentifierService struct {
	repo   identifierRepository
	cache  *SnapshotCache
	logger *zap.Logger
	now    func() time.Time
}

// NewIdentifierService constructs the identifier service. cache may be nil.
func NewIdentifierService(repo identifierRepository, cache *SnapshotCache, logger *zap.Logger) *IdentifierService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentifierService{repo: repo, cache: cache, logger: logger, now: time.Now}
}

// Snapshot returns the identifier snapshot, served from cache when possible.
func (s *IdentifierService) Snapshot(ctx context.Context) (*models.IdentifierSnapshot, error) {
	if cached, ok := s.cache.Load(ctx); ok {
		return cached, nil
	}

	ids, err := s.repo.ListIdentifiers(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list student identifiers")
	}
	if ids == nil {
		ids = []string{}
	}
	snapshot := &models.IdentifierSnapshot{Identifiers: ids, GeneratedAt: s.now().UTC()}
	if err := s.cache.Store(ctx, snapshot); err != nil {
		s.logger.Debug("identifier snapshot not cached", zap.Error(err))
	}
	return snapshot, nil
}

// Invalidate drops the cached snapshot so the next call rebuilds it. The
// server calls it on startup; otherwise a roster change shows up once the
// cache ttl expires.
func (s *IdentifierService) Invalidate(ctx context.Context) error {
	return s.cache.Drop(ctx)
}
