package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/booth-checkin/internal/dto"
	"github.com/noah-isme/booth-checkin/internal/models"
	"github.com/noah-isme/booth-checkin/internal/repository"
	appErrors "github.com/noah-isme/booth-checkin/pkg/errors"
)

// memVisitStore mimics the transactional store: reads happen outside the
// lock and commits are conditional on the student version.
type memVisitStore struct {
	mu        sync.Mutex
	students  map[string]*models.Student
	orgs      map[string]*models.Organization
	visits    map[string]models.VisitRecord
	conflicts int
	failWith  error
	calls     int
}

func newMemVisitStore(studentIDs ...string) *memVisitStore {
	store := &memVisitStore{
		students: make(map[string]*models.Student),
		orgs:     make(map[string]*models.Organization),
		visits:   make(map[string]models.VisitRecord),
	}
	for _, id := range studentIDs {
		store.students[id] = &models.Student{ID: id, VisitedOrganizations: pq.StringArray{}}
	}
	return store
}

func (m *memVisitStore) Record(ctx context.Context, params models.RecordVisitParams) (*models.VisitRecord, error) {
	m.mu.Lock()
	m.calls++
	if m.failWith != nil {
		m.mu.Unlock()
		return nil, m.failWith
	}
	if m.conflicts > 0 {
		m.conflicts--
		m.mu.Unlock()
		return nil, repository.ErrWriteConflict
	}
	current, ok := m.students[params.StudentID]
	if !ok {
		m.mu.Unlock()
		return nil, repository.ErrStudentNotFound
	}
	read := *current
	read.VisitedOrganizations = append(pq.StringArray{}, current.VisitedOrganizations...)
	m.mu.Unlock()

	runtime.Gosched()

	if read.HasVisited(params.OrganizationID) {
		return nil, repository.ErrVisitExists
	}
	sequence := read.VisitCount + 1
	visit := models.VisitRecord{
		ID:             models.ScanID(read.ID, sequence),
		StudentID:      read.ID,
		OrganizationID: params.OrganizationID,
		Sequence:       sequence,
		ScannedAt:      params.ScannedAt,
		Origin:         models.VisitOriginScanned,
		VisitMeta:      params.Meta,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	current = m.students[params.StudentID]
	if current.Version != read.Version {
		return nil, repository.ErrWriteConflict
	}
	m.visits[visit.ID] = visit
	current.VisitedOrganizations = append(current.VisitedOrganizations, params.OrganizationID)
	current.VisitCount++
	current.Version++
	scannedAt := params.ScannedAt
	current.LastVisitAt = &scannedAt

	org, ok := m.orgs[params.OrganizationID]
	if !ok {
		org = &models.Organization{ID: params.OrganizationID, Visitors: pq.StringArray{}}
		m.orgs[params.OrganizationID] = org
	}
	org.Visitors = append(org.Visitors, read.ID)
	org.VisitorCount++
	return &visit, nil
}

func (m *memVisitStore) ListByStudent(ctx context.Context, studentID string) ([]models.VisitRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var visits []models.VisitRecord
	for seq := 1; ; seq++ {
		visit, ok := m.visits[models.ScanID(studentID, seq)]
		if !ok {
			break
		}
		visits = append(visits, visit)
	}
	return visits, nil
}

func (m *memVisitStore) visitsFor(studentID, orgID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, visit := range m.visits {
		if visit.StudentID == studentID && visit.OrganizationID == orgID {
			count++
		}
	}
	return count
}

func newTestVisitService(t *testing.T, store *memVisitStore, retries int) *VisitService {
	t.Helper()
	svc, err := NewVisitService(store, validator.New(), NewMetricsService(), zap.NewNop(), VisitServiceConfig{MaxTxRetries: retries})
	require.NoError(t, err)
	svc.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return svc
}

func visitRequest(studentID, orgID string) dto.RecordVisitRequest {
	return dto.RecordVisitRequest{StudentID: studentID, OrganizationID: orgID, Email: studentID + "@uni.example", BoothNumber: "B7"}
}

func TestVisitServiceRecordVisitFirstScan(t *testing.T) {
	store := newMemVisitStore("ab12345")
	svc := newTestVisitService(t, store, 3)

	res, err := svc.RecordVisit(context.Background(), visitRequest("AB12345", " google-pk "))
	require.NoError(t, err)
	assert.Equal(t, "ab12345_1", res.ScanID)

	student := store.students["ab12345"]
	assert.Equal(t, 1, student.VisitCount)
	assert.True(t, student.Consistent())
	assert.Equal(t, 1, store.orgs["google-pk"].VisitorCount)
	assert.Equal(t, "B7", store.visits["ab12345_1"].BoothNumber)
}

func TestVisitServiceRecordVisitIsIdempotent(t *testing.T) {
	store := newMemVisitStore("ab12345")
	svc := newTestVisitService(t, store, 3)

	_, err := svc.RecordVisit(context.Background(), visitRequest("ab12345", "google-pk"))
	require.NoError(t, err)

	_, err = svc.RecordVisit(context.Background(), visitRequest("ab12345", "google-pk"))
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrDuplicateVisit)

	assert.Equal(t, 1, store.visitsFor("ab12345", "google-pk"))
	assert.Equal(t, 1, store.students["ab12345"].VisitCount)
	assert.Equal(t, 1, store.orgs["google-pk"].VisitorCount)
}

func TestVisitServiceRecordVisitUnknownStudent(t *testing.T) {
	store := newMemVisitStore()
	svc := newTestVisitService(t, store, 3)

	_, err := svc.RecordVisit(context.Background(), visitRequest("zz99999", "google-pk"))
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	assert.Equal(t, 1, store.calls)
}

func TestVisitServiceRecordVisitValidation(t *testing.T) {
	store := newMemVisitStore("ab12345")
	svc := newTestVisitService(t, store, 3)

	cases := []dto.RecordVisitRequest{
		{StudentID: "abc123", OrganizationID: "google-pk"},
		{StudentID: "ab12345", OrganizationID: "  "},
		{StudentID: "ab12345", OrganizationID: "google-pk", Email: "not-an-email"},
	}
	for _, req := range cases {
		_, err := svc.RecordVisit(context.Background(), req)
		require.Error(t, err)
		assert.ErrorIs(t, err, appErrors.ErrValidation)
	}
	assert.Zero(t, store.calls)
}

func TestVisitServiceRetriesWriteConflicts(t *testing.T) {
	store := newMemVisitStore("ab12345")
	store.conflicts = 2
	svc := newTestVisitService(t, store, 3)

	res, err := svc.RecordVisit(context.Background(), visitRequest("ab12345", "google-pk"))
	require.NoError(t, err)
	assert.Equal(t, "ab12345_1", res.ScanID)
	assert.Equal(t, 3, store.calls)
	assert.Equal(t, uint64(2), svc.metrics.Snapshot().TxRetries)
}

func TestVisitServiceExhaustedRetriesAreTransient(t *testing.T) {
	store := newMemVisitStore("ab12345")
	store.conflicts = 10
	svc := newTestVisitService(t, store, 2)

	_, err := svc.RecordVisit(context.Background(), visitRequest("ab12345", "google-pk"))
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrTransient)
	assert.True(t, appErrors.Retryable(err))
	assert.Equal(t, 3, store.calls)
	assert.Zero(t, store.students["ab12345"].VisitCount)
}

func TestVisitServiceStoreFailureIsInternal(t *testing.T) {
	store := newMemVisitStore("ab12345")
	store.failWith = errors.New("connection reset")
	svc := newTestVisitService(t, store, 2)

	_, err := svc.RecordVisit(context.Background(), visitRequest("ab12345", "google-pk"))
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrInternal)
	assert.Equal(t, 1, store.calls)
}

func TestVisitServiceConcurrentSamePairCommitsOnce(t *testing.T) {
	store := newMemVisitStore("ab12345")
	svc := newTestVisitService(t, store, 50)

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		successes  int
		duplicates int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordVisit(context.Background(), visitRequest("ab12345", "google-pk"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, appErrors.ErrDuplicateVisit):
				duplicates++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 15, duplicates)
	assert.Equal(t, 1, store.visitsFor("ab12345", "google-pk"))
	assert.Equal(t, 1, store.orgs["google-pk"].VisitorCount)
}

func TestVisitServiceConcurrentOrganizationsKeepSequenceDense(t *testing.T) {
	store := newMemVisitStore("ab12345")
	svc := newTestVisitService(t, store, 50)

	const orgs = 12
	var wg sync.WaitGroup
	for i := 0; i < orgs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.RecordVisit(context.Background(), visitRequest("ab12345", fmt.Sprintf("org-%d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	visits, err := svc.ListVisits(context.Background(), "ab12345")
	require.NoError(t, err)
	require.Len(t, visits, orgs)
	for i, visit := range visits {
		assert.Equal(t, i+1, visit.Sequence)
		assert.Equal(t, models.ScanID("ab12345", i+1), visit.ID)
	}

	student := store.students["ab12345"]
	assert.Equal(t, orgs, student.VisitCount)
	assert.True(t, student.Consistent())
	for _, org := range store.orgs {
		assert.True(t, org.Consistent())
	}
}

func TestVisitServiceCancelledContextIsTransient(t *testing.T) {
	store := newMemVisitStore("ab12345")
	store.conflicts = 1
	svc := newTestVisitService(t, store, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.RecordVisit(ctx, visitRequest("ab12345", "google-pk"))
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrTransient)
}

func TestVisitServiceBackoffStaysWithinBounds(t *testing.T) {
	svc, err := NewVisitService(newMemVisitStore(), nil, nil, nil, VisitServiceConfig{MaxTxRetries: 3, RetryBackoff: 20 * time.Millisecond})
	require.NoError(t, err)
	for attempt := 1; attempt <= 3; attempt++ {
		d := svc.backoff(attempt)
		full := 20 * time.Millisecond * time.Duration(attempt)
		assert.GreaterOrEqual(t, d, full/2)
		assert.LessOrEqual(t, d, full)
	}
	svc.config.RetryBackoff = 0
	assert.Zero(t, svc.backoff(2))
}

func TestVisitServiceStudentIDTagRegistration(t *testing.T) {
	validate := validator.New()
	_, err := NewVisitService(newMemVisitStore(), validate, nil, nil, VisitServiceConfig{})
	require.NoError(t, err)
	assert.NoError(t, validate.Var("ab12345", studentIDTag))
	assert.Error(t, validate.Var("hello", studentIDTag))

	err = registerStudentIDTag(validator.New(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "register")
}
