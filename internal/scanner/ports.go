package scanner

import (
	"context"
	"time"

	"github.com/noah-isme/booth-checkin/internal/dto"
	"github.com/noah-isme/booth-checkin/internal/models"
)

// QueueStore is the persistence port behind ScanQueue. Implementations return
// repository.ErrQueueEntryNotFound for unknown ids and
// repository.ErrTransitionRejected when the From guard does not match.
type QueueStore interface {
	Append(ctx context.Context, scan *models.QueuedScan) error
	Get(ctx context.Context, localID string) (*models.QueuedScan, error)
	List(ctx context.Context, statuses ...models.QueueStatus) ([]models.QueuedScan, error)
	Count(ctx context.Context, statuses ...models.QueueStatus) (int, error)
	UpdateStatus(ctx context.Context, update models.QueueStatusUpdate) error
	DeleteByStatus(ctx context.Context, statuses ...models.QueueStatus) (int, error)
	ResetStale(ctx context.Context, cutoff time.Time) (int, error)
	PruneSynced(ctx context.Context, cutoff time.Time) (int, error)
}

// IdentifierStore persists the identifier snapshot across restarts.
type IdentifierStore interface {
	SaveIdentifiers(ctx context.Context, ids []string, refreshedAt time.Time) error
	LoadIdentifiers(ctx context.Context) ([]models.IdentifierCacheEntry, error)
}

// IdentifierSource fetches the authoritative identifier snapshot.
type IdentifierSource interface {
	FetchIdentifiers(ctx context.Context) (*models.IdentifierSnapshot, error)
}

// VisitRecorder submits one visit to the server.
type VisitRecorder interface {
	RecordVisit(ctx context.Context, req dto.RecordVisitRequest) (*dto.RecordVisitResponse, error)
}

// Prober checks whether the server is reachable.
type Prober interface {
	Probe(ctx context.Context) error
}
