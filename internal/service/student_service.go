package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/booth-checkin/internal/dto"
	"github.com/noah-isme/booth-checkin/internal/models"
	"github.com/noah-isme/booth-checkin/internal/repository"
	appErrors "github.com/noah-isme/booth-checkin/pkg/errors"
)

type studentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type visitLister interface {
	ListVisits(ctx context.Context, studentID string) ([]models.VisitRecord, error)
}

// StudentService exposes read access to student aggregates.
type StudentService struct {
	repo   studentRepository
	visits visitLister
	logger *zap.Logger
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, visits visitLister, logger *zap.Logger) *StudentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, visits: visits, logger: logger}
}

// Get returns the student aggregate with its visits.
func (s *StudentService) Get(ctx context.Context, id string) (*dto.StudentDetail, error) {
	id = models.NormalizeStudentID(id)
	if !models.ValidStudentID(id) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid student id")
	}
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrStudentNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.Consistent() {
		s.logger.Error("student aggregate out of balance",
			zap.String("student_id", student.ID),
			zap.Int("visit_count", student.VisitCount),
			zap.Int("visited", len(student.VisitedOrganizations)))
	}
	detail := &dto.StudentDetail{Student: *student, Visits: []models.VisitRecord{}}
	if s.visits != nil {
		visits, err := s.visits.ListVisits(ctx, id)
		if err != nil {
			return nil, err
		}
		if visits != nil {
			detail.Visits = visits
		}
	}
	return detail, nil
}
