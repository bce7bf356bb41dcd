package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/booth-checkin/internal/models"
	"github.com/noah-isme/booth-checkin/internal/repository"
	appErrors "github.com/noah-isme/booth-checkin/pkg/errors"
)

type organizationRepository interface {
	FindByID(ctx context.Context, id string) (*models.Organization, error)
}

// OrganizationService exposes read access to organization visitor aggregates.
type OrganizationService struct {
	repo   organizationRepository
	logger *zap.Logger
}

// NewOrganizationService constructs the organization service.
func NewOrganizationService(repo organizationRepository, logger *zap.Logger) *OrganizationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrganizationService{repo: repo, logger: logger}
}

// Get returns the organization aggregate.
func (s *OrganizationService) Get(ctx context.Context, id string) (*models.Organization, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "organization id is required")
	}
	org, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrOrganizationNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "organization not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load organization")
	}
	if !org.Consistent() {
		s.logger.Error("organization aggregate out of balance",
			zap.String("organization_id", org.ID),
			zap.Int("visitor_count", org.VisitorCount),
			zap.Int("visitors", len(org.Visitors)))
	}
	return org, nil
}
