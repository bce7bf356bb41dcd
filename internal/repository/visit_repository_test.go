package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/booth-checkin/internal/models"
)

func newVisitRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var studentColumns = []string{"id", "email", "program", "visited_organizations", "visit_count", "last_visit_at", "version", "created_at"}

func visitParams(org string) models.RecordVisitParams {
	return models.RecordVisitParams{
		StudentID:      "ab12345",
		OrganizationID: org,
		Meta:           models.VisitMeta{Email: "ab12345@uni.example", Program: "CS", BoothNumber: "12"},
		ScannedAt:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestVisitRepositoryRecordCommits(t *testing.T) {
	db, mock, cleanup := newVisitRepoMock(t)
	defer cleanup()
	repo := NewVisitRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE id = $1 FOR UPDATE")).
		WithArgs("ab12345").
		WillReturnRows(sqlmock.NewRows(studentColumns).
			AddRow("ab12345", "ab12345@uni.example", "CS", "{google-pk}", 1, time.Now(), 3, time.Now()))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scans")).
		WithArgs("ab12345_2", "ab12345", "meta-pk", 2, sqlmock.AnyArg(), "scanned", "ab12345@uni.example", "CS", "12").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE students")).
		WithArgs("ab12345", "meta-pk", sqlmock.AnyArg(), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO organizations")).
		WithArgs("meta-pk", "ab12345", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	visit, err := repo.Record(context.Background(), visitParams("meta-pk"))
	require.NoError(t, err)
	assert.Equal(t, "ab12345_2", visit.ID)
	assert.Equal(t, 2, visit.Sequence)
	assert.Equal(t, models.VisitOriginScanned, visit.Origin)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVisitRepositoryRecordDuplicateWritesNothing(t *testing.T) {
	db, mock, cleanup := newVisitRepoMock(t)
	defer cleanup()
	repo := NewVisitRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("ab12345").
		WillReturnRows(sqlmock.NewRows(studentColumns).
			AddRow("ab12345", "", "", "{google-pk}", 1, nil, 1, time.Now()))
	mock.ExpectRollback()

	_, err := repo.Record(context.Background(), visitParams("google-pk"))
	require.ErrorIs(t, err, ErrVisitExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVisitRepositoryRecordMissingStudent(t *testing.T) {
	db, mock, cleanup := newVisitRepoMock(t)
	defer cleanup()
	repo := NewVisitRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("ab12345").
		WillReturnRows(sqlmock.NewRows(studentColumns))
	mock.ExpectRollback()

	_, err := repo.Record(context.Background(), visitParams("google-pk"))
	require.ErrorIs(t, err, ErrStudentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVisitRepositoryRecordVersionMismatchIsConflict(t *testing.T) {
	db, mock, cleanup := newVisitRepoMock(t)
	defer cleanup()
	repo := NewVisitRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows(studentColumns).
			AddRow("ab12345", "", "", "{}", 0, nil, 0, time.Now()))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scans")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE students")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.Record(context.Background(), visitParams("google-pk"))
	require.ErrorIs(t, err, ErrWriteConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVisitRepositoryRecordSerializationFailureIsConflict(t *testing.T) {
	db, mock, cleanup := newVisitRepoMock(t)
	defer cleanup()
	repo := NewVisitRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows(studentColumns).
			AddRow("ab12345", "", "", "{}", 0, nil, 0, time.Now()))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scans")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE students")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO organizations")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40001", Message: "could not serialize access"})

	_, err := repo.Record(context.Background(), visitParams("google-pk"))
	require.ErrorIs(t, err, ErrWriteConflict)
}

func TestVisitRepositoryRecordPairConstraintIsDuplicate(t *testing.T) {
	db, mock, cleanup := newVisitRepoMock(t)
	defer cleanup()
	repo := NewVisitRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows(studentColumns).
			AddRow("ab12345", "", "", "{}", 0, nil, 0, time.Now()))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scans")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: scansPairConstraint})
	mock.ExpectRollback()

	_, err := repo.Record(context.Background(), visitParams("google-pk"))
	require.ErrorIs(t, err, ErrVisitExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVisitRepositoryRecordBeginFailure(t *testing.T) {
	db, mock, cleanup := newVisitRepoMock(t)
	defer cleanup()
	repo := NewVisitRepository(db)

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	_, err := repo.Record(context.Background(), visitParams("google-pk"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrWriteConflict))
}

func TestVisitRepositoryListByStudent(t *testing.T) {
	db, mock, cleanup := newVisitRepoMock(t)
	defer cleanup()
	repo := NewVisitRepository(db)

	rows := sqlmock.NewRows([]string{"id", "student_id", "organization_id", "sequence", "scanned_at", "origin", "email", "program", "booth_number"}).
		AddRow("ab12345_1", "ab12345", "google-pk", 1, time.Now(), "scanned", "", "", "").
		AddRow("ab12345_2", "ab12345", "meta-pk", 2, time.Now(), "scanned", "", "", "")
	mock.ExpectQuery(regexp.QuoteMeta("FROM scans WHERE student_id = $1 ORDER BY sequence ASC")).
		WithArgs("ab12345").
		WillReturnRows(rows)

	visits, err := repo.ListByStudent(context.Background(), "ab12345")
	require.NoError(t, err)
	require.Len(t, visits, 2)
	assert.Equal(t, "meta-pk", visits[1].OrganizationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
