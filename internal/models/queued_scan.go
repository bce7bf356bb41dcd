package models

import "time"

// QueueStatus is the lifecycle state of a device-local queued scan.
type QueueStatus string

const (
	QueueStatusPending QueueStatus = "pending"
	QueueStatusSyncing QueueStatus = "syncing"
	QueueStatusSynced  QueueStatus = "synced"
	QueueStatusFailed  QueueStatus = "failed"
)

// Valid reports whether the status is known.
func (s QueueStatus) Valid() bool {
	switch s {
	case QueueStatusPending, QueueStatusSyncing, QueueStatusSynced, QueueStatusFailed:
		return true
	}
	return false
}

// QueuedScan is a scan recorded on a device but not yet confirmed by the server.
type QueuedScan struct {
	Position       int64       `db:"position" json:"-"`
	LocalID        string      `db:"local_id" json:"localId"`
	StudentID      string      `db:"student_id" json:"studentId"`
	OrganizationID string      `db:"organization_id" json:"organizationId"`
	Status         QueueStatus `db:"status" json:"status"`
	Attempts       int         `db:"attempts" json:"attempts"`
	NextAttemptAt  *time.Time  `db:"next_attempt_at" json:"nextAttemptAt,omitempty"`
	LastError      string      `db:"last_error" json:"lastError,omitempty"`
	ScanID         string      `db:"scan_id" json:"scanId,omitempty"`
	CreatedAt      time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updatedAt"`
	VisitMeta
}

// Due reports whether the entry's backoff window has elapsed.
func (q *QueuedScan) Due(now time.Time) bool {
	return q.NextAttemptAt == nil || !q.NextAttemptAt.After(now)
}

// QueueStatusUpdate describes one atomic status transition. The transition
// only applies when the stored status is one of From. Attempts overrides the
// counter; IncrementAttempts bumps it in place.
type QueueStatusUpdate struct {
	LocalID           string
	From              []QueueStatus
	To                QueueStatus
	Attempts          *int
	IncrementAttempts bool
	NextAttemptAt     *time.Time
	LastError         *string
	ScanID            *string
	At                time.Time
}

// IdentifierCacheEntry is one advisory entry of the device identifier cache.
type IdentifierCacheEntry struct {
	StudentID   string    `db:"student_id" json:"studentId"`
	RefreshedAt time.Time `db:"refreshed_at" json:"refreshedAt"`
}
