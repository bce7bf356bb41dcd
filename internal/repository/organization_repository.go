package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/booth-checkin/internal/models"
)

// ErrOrganizationNotFound is returned when no aggregate row exists yet.
var ErrOrganizationNotFound = errors.New("organization not found")

// OrganizationRepository reads organization visitor aggregates.
type OrganizationRepository struct {
	db *sqlx.DB
}

// NewOrganizationRepository constructs the repository.
func NewOrganizationRepository(db *sqlx.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

// FindByID returns the organization aggregate.
func (r *OrganizationRepository) FindByID(ctx context.Context, id string) (*models.Organization, error) {
	const query = `SELECT id, name, visitors, visitor_count, updated_at FROM organizations WHERE id = $1`
	var org models.Organization
	if err := r.db.GetContext(ctx, &org, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("find organization: %w", err)
	}
	return &org, nil
}
