package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/booth-checkin/internal/models"
)

// StudentRepository reads student aggregates. Writes happen only inside
// VisitRepository.Record; rows are created by the registration flow.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// FindByID returns the student aggregate.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT id, email, program, visited_organizations, visit_count, last_visit_at, version, created_at
	FROM students WHERE id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStudentNotFound
		}
		return nil, fmt.Errorf("find student: %w", err)
	}
	return &student, nil
}

// ListIdentifiers returns every known student identifier in ascending order.
func (r *StudentRepository) ListIdentifiers(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT id FROM students ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list student identifiers: %w", err)
	}
	return ids, nil
}
