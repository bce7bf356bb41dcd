package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/booth-checkin/internal/models"
)

var (
	// ErrStudentNotFound is returned when the student row does not exist.
	ErrStudentNotFound = errors.New("student not found")
	// ErrVisitExists is returned when the organization is already in the student's visited set.
	ErrVisitExists = errors.New("visit already recorded")
	// ErrWriteConflict marks a transaction that lost a race and may be retried as a whole.
	ErrWriteConflict = errors.New("write conflict")
)

const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqUniqueViolation      = "23505"

	scansPairConstraint = "scans_student_organization_unique"
)

// VisitRepository commits visits and their aggregates in PostgreSQL.
type VisitRepository struct {
	db *sqlx.DB
}

// NewVisitRepository constructs the repository.
func NewVisitRepository(db *sqlx.DB) *VisitRepository {
	return &VisitRepository{db: db}
}

// Record runs one attempt of the visit transaction at SERIALIZABLE isolation.
// The student row is locked, the duplicate check happens against the locked
// visited set, and the student update is conditional on the version that was
// read. Callers retry the whole call on ErrWriteConflict.
func (r *VisitRepository) Record(ctx context.Context, params models.RecordVisitParams) (*models.VisitRecord, error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, classifyTxError(fmt.Errorf("begin record visit: %w", err))
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const selectStudent = `SELECT id, email, program, visited_organizations, visit_count, last_visit_at, version, created_at
	FROM students WHERE id = $1 FOR UPDATE`
	var student models.Student
	if err := tx.GetContext(ctx, &student, selectStudent, params.StudentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStudentNotFound
		}
		return nil, classifyTxError(fmt.Errorf("load student: %w", err))
	}
	if student.HasVisited(params.OrganizationID) {
		return nil, ErrVisitExists
	}

	scannedAt := params.ScannedAt
	if scannedAt.IsZero() {
		scannedAt = time.Now().UTC()
	}
	sequence := student.VisitCount + 1
	visit := &models.VisitRecord{
		ID:             models.ScanID(student.ID, sequence),
		StudentID:      student.ID,
		OrganizationID: params.OrganizationID,
		Sequence:       sequence,
		ScannedAt:      scannedAt,
		Origin:         models.VisitOriginScanned,
		VisitMeta:      params.Meta,
	}

	const insertScan = `INSERT INTO scans (id, student_id, organization_id, sequence, scanned_at, origin, email, program, booth_number)
	VALUES (:id, :student_id, :organization_id, :sequence, :scanned_at, :origin, :email, :program, :booth_number)`
	if _, err := tx.NamedExecContext(ctx, insertScan, visit); err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			if constraint == scansPairConstraint {
				return nil, ErrVisitExists
			}
			return nil, fmt.Errorf("%w: %v", ErrWriteConflict, err)
		}
		return nil, classifyTxError(fmt.Errorf("insert scan: %w", err))
	}

	const updateStudent = `UPDATE students
	SET visited_organizations = array_append(visited_organizations, $2::text),
	    visit_count = visit_count + 1,
	    last_visit_at = $3,
	    version = version + 1
	WHERE id = $1 AND version = $4`
	result, err := tx.ExecContext(ctx, updateStudent, student.ID, params.OrganizationID, scannedAt, student.Version)
	if err != nil {
		return nil, classifyTxError(fmt.Errorf("update student aggregate: %w", err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check student update rows: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: student %s version %d changed", ErrWriteConflict, student.ID, student.Version)
	}

	const upsertOrganization = `INSERT INTO organizations (id, visitors, visitor_count, updated_at)
	VALUES ($1, ARRAY[$2::text], 1, $3)
	ON CONFLICT (id) DO UPDATE
	SET visitors = array_append(organizations.visitors, $2::text),
	    visitor_count = organizations.visitor_count + 1,
	    updated_at = EXCLUDED.updated_at
	WHERE NOT ($2::text = ANY(organizations.visitors))`
	if _, err := tx.ExecContext(ctx, upsertOrganization, params.OrganizationID, student.ID, scannedAt); err != nil {
		return nil, classifyTxError(fmt.Errorf("update organization aggregate: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return nil, classifyTxError(fmt.Errorf("commit record visit: %w", err))
	}
	committed = true
	return visit, nil
}

// ListByStudent returns a student's visits ordered by sequence.
func (r *VisitRepository) ListByStudent(ctx context.Context, studentID string) ([]models.VisitRecord, error) {
	const query = `SELECT id, student_id, organization_id, sequence, scanned_at, origin, email, program, booth_number
	FROM scans WHERE student_id = $1 ORDER BY sequence ASC`
	var visits []models.VisitRecord
	if err := r.db.SelectContext(ctx, &visits, query, studentID); err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}
	return visits, nil
}

func classifyTxError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqSerializationFailure, pqDeadlockDetected:
			return fmt.Errorf("%w: %v", ErrWriteConflict, err)
		}
	}
	return err
}

func uniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return pqErr.Constraint, true
	}
	return "", false
}
