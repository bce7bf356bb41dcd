package scanner

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/booth-checkin/internal/dto"
	"github.com/noah-isme/booth-checkin/internal/models"
	"github.com/noah-isme/booth-checkin/internal/repository"
	appErrors "github.com/noah-isme/booth-checkin/pkg/errors"
)

// memQueueStore is an in-memory QueueStore with the same transition rules as
// the SQLite repository.
type memQueueStore struct {
	mu         sync.Mutex
	next       int64
	entries    map[string]*models.QueuedScan
	failAppend error
	failList   error
}

func newMemQueueStore() *memQueueStore {
	return &memQueueStore{entries: make(map[string]*models.QueuedScan)}
}

func (m *memQueueStore) Append(ctx context.Context, scan *models.QueuedScan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppend != nil {
		return m.failAppend
	}
	if _, exists := m.entries[scan.LocalID]; exists {
		return errors.New("duplicate local id")
	}
	m.next++
	scan.Position = m.next
	stored := *scan
	m.entries[scan.LocalID] = &stored
	return nil
}

func (m *memQueueStore) Get(ctx context.Context, localID string) (*models.QueuedScan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[localID]
	if !ok {
		return nil, repository.ErrQueueEntryNotFound
	}
	copied := *entry
	return &copied, nil
}

func (m *memQueueStore) List(ctx context.Context, statuses ...models.QueueStatus) ([]models.QueuedScan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failList != nil {
		return nil, m.failList
	}
	var out []models.QueuedScan
	for _, entry := range m.entries {
		if matches(entry.Status, statuses) {
			out = append(out, *entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *memQueueStore) Count(ctx context.Context, statuses ...models.QueueStatus) (int, error) {
	list, err := m.List(ctx, statuses...)
	return len(list), err
}

func (m *memQueueStore) UpdateStatus(ctx context.Context, update models.QueueStatusUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[update.LocalID]
	if !ok {
		return repository.ErrQueueEntryNotFound
	}
	if len(update.From) > 0 && !matches(entry.Status, update.From) {
		return repository.ErrTransitionRejected
	}
	entry.Status = update.To
	entry.UpdatedAt = update.At
	if update.Attempts != nil {
		entry.Attempts = *update.Attempts
	} else if update.IncrementAttempts {
		entry.Attempts++
	}
	if update.NextAttemptAt != nil {
		next := *update.NextAttemptAt
		entry.NextAttemptAt = &next
	} else if update.To != models.QueueStatusPending {
		entry.NextAttemptAt = nil
	}
	if update.LastError != nil {
		entry.LastError = *update.LastError
	}
	if update.ScanID != nil {
		entry.ScanID = *update.ScanID
	}
	return nil
}

func (m *memQueueStore) DeleteByStatus(ctx context.Context, statuses ...models.QueueStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, entry := range m.entries {
		if matches(entry.Status, statuses) {
			delete(m.entries, id)
			removed++
		}
	}
	return removed, nil
}

func (m *memQueueStore) ResetStale(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reset := 0
	for _, entry := range m.entries {
		if entry.Status == models.QueueStatusSyncing && entry.UpdatedAt.Before(cutoff) {
			entry.Status = models.QueueStatusPending
			reset++
		}
	}
	return reset, nil
}

func (m *memQueueStore) PruneSynced(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pruned := 0
	for id, entry := range m.entries {
		if entry.Status == models.QueueStatusSynced && entry.UpdatedAt.Before(cutoff) {
			delete(m.entries, id)
			pruned++
		}
	}
	return pruned, nil
}

func (m *memQueueStore) status(localID string) models.QueueStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.entries[localID]; ok {
		return entry.Status
	}
	return ""
}

func matches(status models.QueueStatus, statuses []models.QueueStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

// fakeServer is an in-memory RecordVisit endpoint with failure injection.
type fakeServer struct {
	mu       sync.Mutex
	students map[string][]string
	orgs     map[string][]string
	scans    map[string]string
	calls    int

	offline bool
	// transientBefore fails the next n calls before touching state.
	transientBefore int
	// lostResponses commits the next n calls and then reports a transient error.
	lostResponses int
	onCall        func(req dto.RecordVisitRequest)
}

func newFakeServer(studentIDs ...string) *fakeServer {
	s := &fakeServer{students: make(map[string][]string), orgs: make(map[string][]string), scans: make(map[string]string)}
	for _, id := range studentIDs {
		s.students[id] = []string{}
	}
	return s
}

func (s *fakeServer) RecordVisit(ctx context.Context, req dto.RecordVisitRequest) (*dto.RecordVisitResponse, error) {
	s.mu.Lock()
	s.calls++
	hook := s.onCall
	s.mu.Unlock()
	if hook != nil {
		hook(req)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return nil, appErrors.Clone(appErrors.ErrTransient, "server unreachable")
	}
	if s.transientBefore > 0 {
		s.transientBefore--
		return nil, appErrors.Clone(appErrors.ErrTransient, "connection reset")
	}
	visited, ok := s.students[req.StudentID]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	for _, org := range visited {
		if org == req.OrganizationID {
			return nil, appErrors.Clone(appErrors.ErrDuplicateVisit, "already visited")
		}
	}
	visited = append(visited, req.OrganizationID)
	s.students[req.StudentID] = visited
	s.orgs[req.OrganizationID] = append(s.orgs[req.OrganizationID], req.StudentID)
	scanID := models.ScanID(req.StudentID, len(visited))
	s.scans[scanID] = req.OrganizationID

	if s.lostResponses > 0 {
		s.lostResponses--
		return nil, appErrors.Clone(appErrors.ErrTransient, "response lost")
	}
	return &dto.RecordVisitResponse{ScanID: scanID}, nil
}

func (s *fakeServer) visitCount(studentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.students[studentID])
}

func (s *fakeServer) visitorCount(orgID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orgs[orgID])
}

func (s *fakeServer) scanOrg(scanID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scans[scanID]
}

type fakeSource struct {
	snapshot *models.IdentifierSnapshot
	err      error
	calls    int
}

func (f *fakeSource) FetchIdentifiers(ctx context.Context) (*models.IdentifierSnapshot, error) {
	f.calls++
	return f.snapshot, f.err
}

type memIdentifierStore struct {
	ids []string
	at  time.Time
}

func (m *memIdentifierStore) SaveIdentifiers(ctx context.Context, ids []string, refreshedAt time.Time) error {
	m.ids = append([]string(nil), ids...)
	m.at = refreshedAt
	return nil
}

func (m *memIdentifierStore) LoadIdentifiers(ctx context.Context) ([]models.IdentifierCacheEntry, error) {
	entries := make([]models.IdentifierCacheEntry, 0, len(m.ids))
	for _, id := range m.ids {
		entries = append(entries, models.IdentifierCacheEntry{StudentID: id, RefreshedAt: m.at})
	}
	return entries, nil
}

type fakeProber struct {
	mu  sync.Mutex
	err error
}

func (p *fakeProber) Probe(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *fakeProber) set(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
