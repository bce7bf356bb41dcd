package scanner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/booth-checkin/internal/dto"
	"github.com/noah-isme/booth-checkin/internal/models"
	appErrors "github.com/noah-isme/booth-checkin/pkg/errors"
)

// ScanQueue is the durable, ordered queue of scans awaiting server confirmation.
type ScanQueue struct {
	store  QueueStore
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// NewScanQueue builds a queue over the given store.
func NewScanQueue(store QueueStore, logger *zap.Logger) *ScanQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScanQueue{store: store, logger: logger, now: time.Now, newID: uuid.NewString}
}

// Enqueue persists a pending entry and returns its local id. The scan is on
// disk when Enqueue returns; any storage failure is a queue corruption error.
func (q *ScanQueue) Enqueue(ctx context.Context, req dto.ScanRequest) (string, error) {
	now := q.now().UTC()
	scan := &models.QueuedScan{
		LocalID:        q.newID(),
		StudentID:      models.NormalizeStudentID(req.StudentID),
		OrganizationID: strings.TrimSpace(req.OrganizationID),
		Status:         models.QueueStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
		VisitMeta:      req.Meta,
	}
	if err := q.store.Append(ctx, scan); err != nil {
		q.logger.Error("scan could not be queued",
			zap.String("student_id", scan.StudentID),
			zap.String("organization_id", scan.OrganizationID),
			zap.Error(err))
		return "", corruption(err, "scan could not be stored locally, record it manually")
	}
	q.logger.Debug("scan queued", zap.String("local_id", scan.LocalID), zap.Int64("position", scan.Position))
	return scan.LocalID, nil
}

// ListPending returns pending entries in enqueue order.
func (q *ScanQueue) ListPending(ctx context.Context) ([]models.QueuedScan, error) {
	scans, err := q.store.List(ctx, models.QueueStatusPending)
	if err != nil {
		return nil, corruption(err, "local scan queue unreadable")
	}
	return scans, nil
}

// ListFailed returns entries that need operator attention.
func (q *ScanQueue) ListFailed(ctx context.Context) ([]models.QueuedScan, error) {
	scans, err := q.store.List(ctx, models.QueueStatusFailed)
	if err != nil {
		return nil, corruption(err, "local scan queue unreadable")
	}
	return scans, nil
}

// Get returns one entry.
func (q *ScanQueue) Get(ctx context.Context, localID string) (*models.QueuedScan, error) {
	return q.store.Get(ctx, localID)
}

// Count returns the number of entries not yet confirmed or failed.
func (q *ScanQueue) Count(ctx context.Context) (int, error) {
	count, err := q.store.Count(ctx, models.QueueStatusPending, models.QueueStatusSyncing)
	if err != nil {
		return 0, corruption(err, "local scan queue unreadable")
	}
	return count, nil
}

// MarkSyncing claims a pending entry for sending and counts the attempt.
func (q *ScanQueue) MarkSyncing(ctx context.Context, localID string) error {
	return q.store.UpdateStatus(ctx, models.QueueStatusUpdate{
		LocalID:           localID,
		From:              []models.QueueStatus{models.QueueStatusPending},
		To:                models.QueueStatusSyncing,
		IncrementAttempts: true,
		At:                q.now(),
	})
}

// MarkSynced archives an entry the server has confirmed.
func (q *ScanQueue) MarkSynced(ctx context.Context, localID, scanID string) error {
	empty := ""
	return q.store.UpdateStatus(ctx, models.QueueStatusUpdate{
		LocalID:   localID,
		From:      []models.QueueStatus{models.QueueStatusPending, models.QueueStatusSyncing},
		To:        models.QueueStatusSynced,
		ScanID:    &scanID,
		LastError: &empty,
		At:        q.now(),
	})
}

// MarkFailed parks an entry for manual review. It is never retried automatically.
func (q *ScanQueue) MarkFailed(ctx context.Context, localID, reason string) error {
	return q.store.UpdateStatus(ctx, models.QueueStatusUpdate{
		LocalID:   localID,
		From:      []models.QueueStatus{models.QueueStatusPending, models.QueueStatusSyncing},
		To:        models.QueueStatusFailed,
		LastError: &reason,
		At:        q.now(),
	})
}

// MarkRetry returns a syncing entry to pending, not to be sent before next.
func (q *ScanQueue) MarkRetry(ctx context.Context, localID, reason string, next time.Time) error {
	return q.store.UpdateStatus(ctx, models.QueueStatusUpdate{
		LocalID:       localID,
		From:          []models.QueueStatus{models.QueueStatusSyncing},
		To:            models.QueueStatusPending,
		NextAttemptAt: &next,
		LastError:     &reason,
		At:            q.now(),
	})
}

// RetryFailed moves failed entries back to pending with a fresh attempt
// budget. With no ids every failed entry is retried.
func (q *ScanQueue) RetryFailed(ctx context.Context, localIDs ...string) (int, error) {
	if len(localIDs) == 0 {
		failed, err := q.ListFailed(ctx)
		if err != nil {
			return 0, err
		}
		for _, scan := range failed {
			localIDs = append(localIDs, scan.LocalID)
		}
	}

	now := q.now()
	zero := 0
	retried := 0
	for _, id := range localIDs {
		err := q.store.UpdateStatus(ctx, models.QueueStatusUpdate{
			LocalID:       id,
			From:          []models.QueueStatus{models.QueueStatusFailed},
			To:            models.QueueStatusPending,
			Attempts:      &zero,
			NextAttemptAt: &now,
			At:            now,
		})
		if err != nil {
			return retried, fmt.Errorf("retry %s: %w", id, err)
		}
		retried++
	}
	return retried, nil
}

// Clear removes pending and failed entries. Entries being sent stay so their
// in-flight call can still be confirmed.
func (q *ScanQueue) Clear(ctx context.Context) (int, error) {
	removed, err := q.store.DeleteByStatus(ctx, models.QueueStatusPending, models.QueueStatusFailed)
	if err != nil {
		return 0, corruption(err, "local scan queue could not be cleared")
	}
	q.logger.Info("scan queue cleared", zap.Int("removed", removed))
	return removed, nil
}

// Recover returns entries stuck in syncing for longer than staleAfter to pending.
func (q *ScanQueue) Recover(ctx context.Context, staleAfter time.Duration) (int, error) {
	reset, err := q.store.ResetStale(ctx, q.now().Add(-staleAfter))
	if err != nil {
		return 0, corruption(err, "local scan queue could not be recovered")
	}
	if reset > 0 {
		q.logger.Warn("reclaimed interrupted scans", zap.Int("count", reset))
	}
	return reset, nil
}

// Prune drops archived synced entries older than olderThan.
func (q *ScanQueue) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	pruned, err := q.store.PruneSynced(ctx, q.now().Add(-olderThan))
	if err != nil {
		return 0, corruption(err, "local scan queue could not be pruned")
	}
	return pruned, nil
}

func corruption(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrQueueCorruption.Code, appErrors.ErrQueueCorruption.Status, message)
}
