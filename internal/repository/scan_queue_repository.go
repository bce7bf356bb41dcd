package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/booth-checkin/internal/models"
)

var (
	// ErrQueueEntryNotFound is returned when a local id is unknown.
	ErrQueueEntryNotFound = errors.New("queue entry not found")
	// ErrTransitionRejected is returned when an entry is not in any of the expected source states.
	ErrTransitionRejected = errors.New("queue transition rejected")
)

const queueColumns = `position, local_id, student_id, organization_id, email, program, booth_number,
	status, attempts, next_attempt_at, last_error, scan_id, created_at, updated_at`

// ScanQueueRepository persists the device-local scan queue in SQLite.
type ScanQueueRepository struct {
	db *sqlx.DB
}

// NewScanQueueRepository constructs the repository over a migrated SQLite handle.
func NewScanQueueRepository(db *sqlx.DB) *ScanQueueRepository {
	return &ScanQueueRepository{db: db}
}

// Append stores a new entry and fills its position.
func (r *ScanQueueRepository) Append(ctx context.Context, scan *models.QueuedScan) error {
	const query = `INSERT INTO scan_queue
	(local_id, student_id, organization_id, email, program, booth_number, status, attempts, next_attempt_at, last_error, scan_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := r.db.ExecContext(ctx, query,
		scan.LocalID, scan.StudentID, scan.OrganizationID, scan.Email, scan.Program, scan.BoothNumber,
		scan.Status, scan.Attempts, scan.NextAttemptAt, scan.LastError, scan.ScanID,
		scan.CreatedAt.UTC(), scan.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("append queued scan: %w", err)
	}
	position, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("read queued scan position: %w", err)
	}
	scan.Position = position
	return nil
}

// Get returns one entry by local id.
func (r *ScanQueueRepository) Get(ctx context.Context, localID string) (*models.QueuedScan, error) {
	var scan models.QueuedScan
	query := `SELECT ` + queueColumns + ` FROM scan_queue WHERE local_id = ?`
	if err := r.db.GetContext(ctx, &scan, query, localID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQueueEntryNotFound
		}
		return nil, fmt.Errorf("get queued scan: %w", err)
	}
	return &scan, nil
}

// List returns entries in enqueue order, optionally filtered by status.
func (r *ScanQueueRepository) List(ctx context.Context, statuses ...models.QueueStatus) ([]models.QueuedScan, error) {
	where, args := statusFilter(statuses)
	query := `SELECT ` + queueColumns + ` FROM scan_queue` + where + ` ORDER BY position ASC`
	var scans []models.QueuedScan
	if err := r.db.SelectContext(ctx, &scans, query, args...); err != nil {
		return nil, fmt.Errorf("list queued scans: %w", err)
	}
	return scans, nil
}

// Count returns the number of entries in the given statuses.
func (r *ScanQueueRepository) Count(ctx context.Context, statuses ...models.QueueStatus) (int, error) {
	where, args := statusFilter(statuses)
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM scan_queue`+where, args...); err != nil {
		return 0, fmt.Errorf("count queued scans: %w", err)
	}
	return count, nil
}

// UpdateStatus applies a transition atomically: the row changes only when its
// current status is one of update.From.
func (r *ScanQueueRepository) UpdateStatus(ctx context.Context, update models.QueueStatusUpdate) error {
	if !update.To.Valid() {
		return fmt.Errorf("invalid queue status %q", update.To)
	}
	at := update.At
	if at.IsZero() {
		at = time.Now()
	}

	setParts := []string{"status = ?", "updated_at = ?"}
	args := []interface{}{update.To, at.UTC()}
	if update.Attempts != nil {
		setParts = append(setParts, "attempts = ?")
		args = append(args, *update.Attempts)
	} else if update.IncrementAttempts {
		setParts = append(setParts, "attempts = attempts + 1")
	}
	if update.NextAttemptAt != nil {
		setParts = append(setParts, "next_attempt_at = ?")
		args = append(args, update.NextAttemptAt.UTC())
	} else if update.To != models.QueueStatusPending {
		setParts = append(setParts, "next_attempt_at = NULL")
	}
	if update.LastError != nil {
		setParts = append(setParts, "last_error = ?")
		args = append(args, *update.LastError)
	}
	if update.ScanID != nil {
		setParts = append(setParts, "scan_id = ?")
		args = append(args, *update.ScanID)
	}

	query := fmt.Sprintf("UPDATE scan_queue SET %s WHERE local_id = ?", strings.Join(setParts, ", "))
	args = append(args, update.LocalID)
	if len(update.From) > 0 {
		placeholders := make([]string, len(update.From))
		for i, status := range update.From {
			placeholders[i] = "?"
			args = append(args, status)
		}
		query += fmt.Sprintf(" AND status IN (%s)", strings.Join(placeholders, ","))
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update queued scan status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check queued scan update rows: %w", err)
	}
	if rows == 0 {
		if _, err := r.Get(ctx, update.LocalID); err != nil {
			return err
		}
		return ErrTransitionRejected
	}
	return nil
}

// DeleteByStatus removes entries in the given statuses and reports how many went.
func (r *ScanQueueRepository) DeleteByStatus(ctx context.Context, statuses ...models.QueueStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, fmt.Errorf("delete queued scans requires at least one status")
	}
	where, args := statusFilter(statuses)
	result, err := r.db.ExecContext(ctx, `DELETE FROM scan_queue`+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete queued scans: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check queued scan delete rows: %w", err)
	}
	return int(rows), nil
}

// ResetStale moves entries stuck in syncing since before the cutoff back to pending.
func (r *ScanQueueRepository) ResetStale(ctx context.Context, cutoff time.Time) (int, error) {
	const query = `UPDATE scan_queue SET status = ?, updated_at = ?
	WHERE status = ? AND updated_at < ?`
	result, err := r.db.ExecContext(ctx, query, models.QueueStatusPending, time.Now().UTC(), models.QueueStatusSyncing, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("reset stale queued scans: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check stale reset rows: %w", err)
	}
	return int(rows), nil
}

// PruneSynced drops archived synced entries last touched before the cutoff.
func (r *ScanQueueRepository) PruneSynced(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM scan_queue WHERE status = ? AND updated_at < ?`, models.QueueStatusSynced, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune synced scans: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check prune rows: %w", err)
	}
	return int(rows), nil
}

// SaveIdentifiers replaces the persisted identifier snapshot in one transaction.
func (r *ScanQueueRepository) SaveIdentifiers(ctx context.Context, ids []string, refreshedAt time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save identifiers: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `DELETE FROM identifier_cache`); err != nil {
		return fmt.Errorf("clear identifier cache: %w", err)
	}
	stmt, err := tx.PreparexContext(ctx, `INSERT OR IGNORE INTO identifier_cache (student_id, refreshed_at) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare identifier insert: %w", err)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id, refreshedAt.UTC()); err != nil {
			return fmt.Errorf("insert identifier %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit identifiers: %w", err)
	}
	commit = true
	return nil
}

// LoadIdentifiers returns the persisted identifier snapshot.
func (r *ScanQueueRepository) LoadIdentifiers(ctx context.Context) ([]models.IdentifierCacheEntry, error) {
	var entries []models.IdentifierCacheEntry
	if err := r.db.SelectContext(ctx, &entries, `SELECT student_id, refreshed_at FROM identifier_cache ORDER BY student_id`); err != nil {
		return nil, fmt.Errorf("load identifiers: %w", err)
	}
	return entries, nil
}

func statusFilter(statuses []models.QueueStatus) (string, []interface{}) {
	if len(statuses) == 0 {
		return "", nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, status := range statuses {
		placeholders[i] = "?"
		args[i] = status
	}
	return fmt.Sprintf(" WHERE status IN (%s)", strings.Join(placeholders, ",")), args
}
