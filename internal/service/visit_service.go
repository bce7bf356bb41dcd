package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/booth-checkin/internal/dto"
	"github.com/noah-isme/booth-checkin/internal/models"
	"github.com/noah-isme/booth-checkin/internal/repository"
	appErrors "github.com/noah-isme/booth-checkin/pkg/errors"
)

type visitRepository interface {
	Record(ctx context.Context, params models.RecordVisitParams) (*models.VisitRecord, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.VisitRecord, error)
}

// VisitServiceConfig tunes the optimistic transaction loop.
type VisitServiceConfig struct {
	MaxTxRetries int
	RetryBackoff time.Duration
}

// VisitService records booth visits exactly once per student and organization.
type VisitService struct {
	repo      visitRepository
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	config    VisitServiceConfig
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

const studentIDTag = "studentid"

func registerStudentIDTag(validate *validator.Validate, tag string) error {
	err := validate.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		return models.ValidStudentID(fl.Field().String())
	})
	if err != nil {
		return fmt.Errorf("register %q validation: %w", tag, err)
	}
	return nil
}

// NewVisitService constructs the visit service and registers the studentid validation tag.
func NewVisitService(repo visitRepository, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger, cfg VisitServiceConfig) (*VisitService, error) {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxTxRetries < 0 {
		cfg.MaxTxRetries = 0
	}
	if err := registerStudentIDTag(validate, studentIDTag); err != nil {
		return nil, err
	}
	return &VisitService{
		repo:      repo,
		validator: validate,
		metrics:   metrics,
		logger:    logger,
		config:    cfg,
		sleep:     sleepContext,
		now:       time.Now,
	}, nil
}

// RecordVisit validates the request and commits the visit. A lost race for the
// student row re-runs the whole transaction; once the retry budget is spent
// the caller receives a transient error and may try again later.
func (s *VisitService) RecordVisit(ctx context.Context, req dto.RecordVisitRequest) (*dto.RecordVisitResponse, error) {
	start := s.now()
	req.StudentID = models.NormalizeStudentID(req.StudentID)
	req.OrganizationID = strings.TrimSpace(req.OrganizationID)
	req.Email = strings.TrimSpace(req.Email)

	if err := s.validator.Struct(req); err != nil {
		s.observe(VisitOutcomeInvalid, start)
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid visit payload")
	}

	params := models.RecordVisitParams{
		StudentID:      req.StudentID,
		OrganizationID: req.OrganizationID,
		Meta:           req.Meta(),
	}

	var lastErr error
	for attempt := 0; attempt <= s.config.MaxTxRetries; attempt++ {
		if attempt > 0 {
			s.metrics.RecordTxRetry()
			if err := s.sleep(ctx, s.backoff(attempt)); err != nil {
				lastErr = err
				break
			}
		}

		params.ScannedAt = s.now().UTC()
		visit, err := s.repo.Record(ctx, params)
		switch {
		case err == nil:
			s.observe(VisitOutcomeRecorded, start)
			s.logger.Info("visit recorded",
				zap.String("scan_id", visit.ID),
				zap.String("student_id", visit.StudentID),
				zap.String("organization_id", visit.OrganizationID),
				zap.Int("attempts", attempt+1))
			return &dto.RecordVisitResponse{ScanID: visit.ID}, nil
		case errors.Is(err, repository.ErrStudentNotFound):
			s.observe(VisitOutcomeNotFound, start)
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		case errors.Is(err, repository.ErrVisitExists):
			s.observe(VisitOutcomeDuplicate, start)
			return nil, appErrors.Clone(appErrors.ErrDuplicateVisit, "student already visited this organization")
		case errors.Is(err, repository.ErrWriteConflict):
			lastErr = err
			s.logger.Debug("visit transaction conflict",
				zap.String("student_id", params.StudentID),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			s.observe(VisitOutcomeTransient, start)
			return nil, appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "visit request interrupted")
		default:
			s.observe(VisitOutcomeError, start)
			s.logger.Error("record visit failed", zap.String("student_id", params.StudentID), zap.Error(err))
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record visit")
		}
	}

	s.observe(VisitOutcomeTransient, start)
	s.logger.Warn("visit transaction retries exhausted",
		zap.String("student_id", params.StudentID),
		zap.String("organization_id", params.OrganizationID),
		zap.Error(lastErr))
	return nil, appErrors.Wrap(lastErr, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "visit could not be committed, retry later")
}

// ListVisits returns the visits of a student ordered by sequence.
func (s *VisitService) ListVisits(ctx context.Context, studentID string) ([]models.VisitRecord, error) {
	visits, err := s.repo.ListByStudent(ctx, models.NormalizeStudentID(studentID))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list visits")
	}
	return visits, nil
}

func (s *VisitService) observe(outcome string, start time.Time) {
	s.metrics.RecordVisitOutcome(outcome, s.now().Sub(start))
}

// backoff grows linearly with the attempt and adds up to 50% jitter.
func (s *VisitService) backoff(attempt int) time.Duration {
	base := s.config.RetryBackoff
	if base <= 0 {
		return 0
	}
	d := base * time.Duration(attempt)
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
