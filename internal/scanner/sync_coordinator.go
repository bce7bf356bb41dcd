package scanner

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/booth-checkin/internal/dto"
	"github.com/noah-isme/booth-checkin/internal/models"
	"github.com/noah-isme/booth-checkin/internal/repository"
	appErrors "github.com/noah-isme/booth-checkin/pkg/errors"
	"github.com/noah-isme/booth-checkin/pkg/jobs"
)

var errStudentHalted = errors.New("student halted for this pass")

// SyncConfig tunes retries and parallelism of sync passes.
type SyncConfig struct {
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	RequestTimeout time.Duration
	Concurrency    int
	// StaleAfter is how long an entry may stay syncing before a pass
	// treats the send as interrupted. It must exceed RequestTimeout.
	StaleAfter     time.Duration
}

// SyncCoordinator drains the scan queue into the server.
type SyncCoordinator struct {
	queue    *ScanQueue
	recorder VisitRecorder
	cfg      SyncConfig
	logger   *zap.Logger
	pool     *jobs.Pool
	group    singleflight.Group
	now      func() time.Time
	onOnline func(ctx context.Context)
}

type passStats struct {
	synced atomic.Int64
	failed atomic.Int64
}

type syncJob struct {
	scan  models.QueuedScan
	stats *passStats
}

// NewSyncCoordinator builds a coordinator.
func NewSyncCoordinator(queue *ScanQueue, recorder VisitRecorder, cfg SyncConfig, logger *zap.Logger) *SyncCoordinator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = cfg.BackoffBase
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.StaleAfter <= cfg.RequestTimeout {
		cfg.StaleAfter = max(2*time.Minute, 2*cfg.RequestTimeout)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SyncCoordinator{queue: queue, recorder: recorder, cfg: cfg, logger: logger, now: time.Now}
	s.pool = jobs.NewPool("scan-sync", s.handle, jobs.PoolConfig{Workers: cfg.Concurrency, Logger: logger})
	return s
}

// OnOnline registers a hook run before the sync triggered by an online transition.
func (s *SyncCoordinator) OnOnline(fn func(ctx context.Context)) {
	s.onOnline = fn
}

// SyncAll runs one sync pass. Calls that overlap a running pass wait for it
// and receive its result instead of starting another.
func (s *SyncCoordinator) SyncAll(ctx context.Context) (dto.SyncResult, error) {
	v, err, shared := s.group.Do("sync", func() (interface{}, error) {
		return s.syncPass(ctx)
	})
	if shared {
		s.logger.Debug("joined in-flight sync pass")
	}
	result, _ := v.(dto.SyncResult)
	return result, err
}

// Run consumes connectivity events until ctx is done or the channel closes.
func (s *SyncCoordinator) Run(ctx context.Context, events <-chan ConnectivityEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if !event.Online {
				s.logger.Info("offline, scans will be held locally")
				continue
			}
			if event.Reason == ReasonTransition && s.onOnline != nil {
				s.onOnline(ctx)
			}
			result, err := s.SyncAll(ctx)
			if err != nil {
				s.logger.Error("sync pass failed", zap.String("reason", string(event.Reason)), zap.Error(err))
				continue
			}
			if result.Synced > 0 || result.Failed > 0 {
				s.logger.Info("sync pass finished",
					zap.String("reason", string(event.Reason)),
					zap.Int("synced", result.Synced),
					zap.Int("failed", result.Failed))
			}
		}
	}
}

func (s *SyncCoordinator) syncPass(ctx context.Context) (dto.SyncResult, error) {
	if _, err := s.queue.Recover(ctx, s.cfg.StaleAfter); err != nil {
		return dto.SyncResult{}, err
	}
	pending, err := s.queue.ListPending(ctx)
	if err != nil {
		return dto.SyncResult{}, err
	}

	stats := &passStats{}
	now := s.now()
	index := make(map[string]int)
	blocked := make(map[string]bool)
	var batches []jobs.Batch
	for _, scan := range pending {
		if blocked[scan.StudentID] {
			continue
		}
		if !scan.Due(now) {
			// later entries of the student wait too, keeping sequence numbers in scan order
			blocked[scan.StudentID] = true
			continue
		}
		i, ok := index[scan.StudentID]
		if !ok {
			i = len(batches)
			index[scan.StudentID] = i
			batches = append(batches, jobs.Batch{Key: scan.StudentID})
		}
		batches[i].Jobs = append(batches[i].Jobs, jobs.Job{
			ID:       scan.LocalID,
			Type:     "record_visit",
			Payload:  syncJob{scan: scan, stats: stats},
			Attempt:  scan.Attempts + 1,
			Enqueued: scan.CreatedAt,
		})
	}

	run := s.pool.Run(ctx, batches)
	result := dto.SyncResult{Synced: int(stats.synced.Load()), Failed: int(stats.failed.Load())}
	s.logger.Debug("sync pass",
		zap.Int("students", run.Batches),
		zap.Int("processed", run.Jobs),
		zap.Int("halted", run.Halted),
		zap.Int("synced", result.Synced),
		zap.Int("failed", result.Failed))
	return result, nil
}

func (s *SyncCoordinator) handle(ctx context.Context, job jobs.Job) error {
	payload := job.Payload.(syncJob)
	scan := payload.scan
	log := s.logger.With(zap.String("local_id", scan.LocalID), zap.String("student_id", scan.StudentID), zap.String("organization_id", scan.OrganizationID))

	if err := s.queue.MarkSyncing(ctx, scan.LocalID); err != nil {
		if errors.Is(err, repository.ErrTransitionRejected) || errors.Is(err, repository.ErrQueueEntryNotFound) {
			log.Debug("entry no longer pending, skipped", zap.Error(err))
			return nil
		}
		log.Error("entry could not be claimed", zap.Error(err))
		return errStudentHalted
	}
	attempts := scan.Attempts + 1

	reqCtx, cancel := context.WithTimeout(withRequestID(ctx, scan.LocalID), s.cfg.RequestTimeout)
	res, err := s.recorder.RecordVisit(reqCtx, dto.RecordVisitRequest{
		StudentID:      scan.StudentID,
		OrganizationID: scan.OrganizationID,
		Email:          scan.Email,
		Program:        scan.Program,
		BoothNumber:    scan.BoothNumber,
	})
	cancel()

	switch {
	case err == nil:
		if markErr := s.queue.MarkSynced(ctx, scan.LocalID, res.ScanID); markErr != nil {
			log.Error("confirmed scan not archived", zap.String("scan_id", res.ScanID), zap.Error(markErr))
			return errStudentHalted
		}
		payload.stats.synced.Add(1)
		log.Debug("scan synced", zap.String("scan_id", res.ScanID))
		return nil

	case errors.Is(err, appErrors.ErrDuplicateVisit):
		if markErr := s.queue.MarkSynced(ctx, scan.LocalID, ""); markErr != nil {
			log.Error("duplicate scan not archived", zap.Error(markErr))
			return errStudentHalted
		}
		payload.stats.synced.Add(1)
		log.Debug("scan already recorded on server")
		return nil

	case errors.Is(err, appErrors.ErrNotFound), errors.Is(err, appErrors.ErrValidation):
		if markErr := s.queue.MarkFailed(ctx, scan.LocalID, err.Error()); markErr != nil {
			log.Error("rejected scan not marked failed", zap.Error(markErr))
			return errStudentHalted
		}
		payload.stats.failed.Add(1)
		log.Warn("scan rejected by server, needs attention", zap.Error(err))
		return nil
	}

	if attempts >= s.cfg.MaxAttempts {
		if markErr := s.queue.MarkFailed(ctx, scan.LocalID, err.Error()); markErr != nil {
			log.Error("exhausted scan not marked failed", zap.Error(markErr))
			return errStudentHalted
		}
		payload.stats.failed.Add(1)
		log.Warn("scan gave up after max attempts", zap.Int("attempts", attempts), zap.Error(err))
		return errStudentHalted
	}

	next := s.now().Add(s.backoff(attempts))
	if markErr := s.queue.MarkRetry(ctx, scan.LocalID, err.Error(), next); markErr != nil {
		log.Error("scan not returned to pending", zap.Error(markErr))
		return errStudentHalted
	}
	log.Info("scan will be retried", zap.Int("attempts", attempts), zap.Time("next_attempt_at", next), zap.Error(err))
	return errStudentHalted
}

// backoff is base * 2^(attempts-1), capped at BackoffMax.
func (s *SyncCoordinator) backoff(attempts int) time.Duration {
	d := s.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= s.cfg.BackoffMax {
			return s.cfg.BackoffMax
		}
	}
	return d
}
