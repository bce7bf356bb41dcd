package scanner

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/booth-checkin/internal/dto"
	"github.com/noah-isme/booth-checkin/internal/models"
	appErrors "github.com/noah-isme/booth-checkin/pkg/errors"
)

// LiveStatus is what staff see after a live scan.
type LiveStatus string

const (
	LiveRecorded       LiveStatus = "recorded"
	LiveAlreadyVisited LiveStatus = "already_visited"
	LiveQueued         LiveStatus = "queued"
)

// LiveOutcome describes the result of ScanLive.
type LiveOutcome struct {
	Status   LiveStatus `json:"status"`
	ScanID   string     `json:"scanId,omitempty"`
	LocalID  string     `json:"localId,omitempty"`
	Validity Validity   `json:"-"`
}

// AgentConfig holds the device-level settings of an Agent.
type AgentConfig struct {
	BoothNumber    string
	RequestTimeout time.Duration
	StaleAfter     time.Duration
	PruneAfter     time.Duration
}

// Agent is the surface the scanning UI and staff tools use.
type Agent struct {
	cache       *IdentifierCache
	queue       *ScanQueue
	coordinator *SyncCoordinator
	monitor     *ConnectivityMonitor
	recorder    VisitRecorder
	cfg         AgentConfig
	logger      *zap.Logger
}

// NewAgent wires the device components together.
func NewAgent(cache *IdentifierCache, queue *ScanQueue, coordinator *SyncCoordinator, monitor *ConnectivityMonitor, recorder VisitRecorder, cfg AgentConfig, logger *zap.Logger) *Agent {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Agent{cache: cache, queue: queue, coordinator: coordinator, monitor: monitor, recorder: recorder, cfg: cfg, logger: logger}
	coordinator.OnOnline(cache.Refresh)
	return a
}

// Start restores local state left by a previous run: the identifier snapshot
// is reloaded, interrupted sends go back to pending and old archives are pruned.
func (a *Agent) Start(ctx context.Context) error {
	a.cache.Load(ctx)
	if _, err := a.queue.Recover(ctx, a.cfg.StaleAfter); err != nil {
		return err
	}
	if a.cfg.PruneAfter > 0 {
		pruned, err := a.queue.Prune(ctx, a.cfg.PruneAfter)
		if err != nil {
			return err
		}
		if pruned > 0 {
			a.logger.Info("pruned archived scans", zap.Int("count", pruned))
		}
	}
	return nil
}

// Run drives connectivity probing and synchronisation until ctx is done.
func (a *Agent) Run(ctx context.Context) {
	events := a.monitor.Subscribe(1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.coordinator.Run(ctx, events)
	}()
	a.monitor.Run(ctx)
	<-done
}

// QueueScan validates the badge shape and stores the scan for syncing.
// Unknown identifiers are queued too; the server has the final word.
func (a *Agent) QueueScan(ctx context.Context, req dto.ScanRequest) (string, error) {
	req, validity, err := a.prepare(req)
	if err != nil {
		return "", err
	}
	localID, err := a.queue.Enqueue(ctx, req)
	if err != nil {
		return "", err
	}
	a.logger.Info("scan queued",
		zap.String("local_id", localID),
		zap.String("student_id", req.StudentID),
		zap.String("organization_id", req.OrganizationID),
		zap.Stringer("validity", validity))
	a.monitor.Nudge()
	return localID, nil
}

// ScanLive records the visit right away when the server is reachable so staff
// get "already visited" feedback. Otherwise, or on a transient failure, the
// scan is queued.
func (a *Agent) ScanLive(ctx context.Context, req dto.ScanRequest) (LiveOutcome, error) {
	req, validity, err := a.prepare(req)
	if err != nil {
		return LiveOutcome{}, err
	}

	if a.monitor.Online() {
		reqCtx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
		res, err := a.recorder.RecordVisit(reqCtx, dto.RecordVisitRequest{
			StudentID:      req.StudentID,
			OrganizationID: req.OrganizationID,
			Email:          req.Meta.Email,
			Program:        req.Meta.Program,
			BoothNumber:    req.Meta.BoothNumber,
		})
		cancel()
		switch {
		case err == nil:
			return LiveOutcome{Status: LiveRecorded, ScanID: res.ScanID, Validity: validity}, nil
		case errors.Is(err, appErrors.ErrDuplicateVisit):
			return LiveOutcome{Status: LiveAlreadyVisited, Validity: validity}, nil
		case errors.Is(err, appErrors.ErrNotFound), errors.Is(err, appErrors.ErrValidation):
			return LiveOutcome{Validity: validity}, err
		default:
			a.logger.Info("live scan not confirmed, queueing", zap.String("student_id", req.StudentID), zap.Error(err))
		}
	}

	localID, err := a.queue.Enqueue(ctx, req)
	if err != nil {
		return LiveOutcome{Validity: validity}, err
	}
	a.monitor.Nudge()
	return LiveOutcome{Status: LiveQueued, LocalID: localID, Validity: validity}, nil
}

// SyncPendingScans runs a sync pass now.
func (a *Agent) SyncPendingScans(ctx context.Context) (dto.SyncResult, error) {
	return a.coordinator.SyncAll(ctx)
}

// GetPendingCount returns how many scans still await confirmation.
func (a *Agent) GetPendingCount(ctx context.Context) (int, error) {
	return a.queue.Count(ctx)
}

// RefreshIdentifiers refreshes the identifier snapshot. Failures are logged only.
func (a *Agent) RefreshIdentifiers(ctx context.Context) {
	a.cache.Refresh(ctx)
}

// ValidateIdentifier checks a badge against the local snapshot.
func (a *Agent) ValidateIdentifier(id string) Validity {
	return a.cache.Validate(id)
}

// IdentifierStats reports the size and age of the identifier snapshot.
func (a *Agent) IdentifierStats() (int, time.Time) {
	return a.cache.Size(), a.cache.RefreshedAt()
}

// ListFailed returns scans needing manual attention.
func (a *Agent) ListFailed(ctx context.Context) ([]models.QueuedScan, error) {
	return a.queue.ListFailed(ctx)
}

// RetryFailed requeues failed scans; with no ids all of them.
func (a *Agent) RetryFailed(ctx context.Context, localIDs ...string) (int, error) {
	n, err := a.queue.RetryFailed(ctx, localIDs...)
	if n > 0 {
		a.monitor.Nudge()
	}
	return n, err
}

// ClearQueue drops pending and failed scans. In-flight sends still complete.
func (a *Agent) ClearQueue(ctx context.Context) (int, error) {
	return a.queue.Clear(ctx)
}

func (a *Agent) prepare(req dto.ScanRequest) (dto.ScanRequest, Validity, error) {
	req.StudentID = models.NormalizeStudentID(req.StudentID)
	req.OrganizationID = strings.TrimSpace(req.OrganizationID)
	validity := a.cache.Validate(req.StudentID)
	if validity == Invalid {
		return req, validity, appErrors.Clone(appErrors.ErrValidation, "badge is not a student identifier")
	}
	if req.OrganizationID == "" {
		return req, validity, appErrors.Clone(appErrors.ErrValidation, "organization id is required")
	}
	if req.Meta.BoothNumber == "" {
		req.Meta.BoothNumber = a.cfg.BoothNumber
	}
	return req, validity, nil
}
