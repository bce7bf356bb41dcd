package models

import (
	"time"

	"github.com/lib/pq"
)

// Organization is the server-side aggregate of students who visited a booth.
type Organization struct {
	ID           string         `db:"id" json:"id"`
	Name         string         `db:"name" json:"name"`
	Visitors     pq.StringArray `db:"visitors" json:"visitors"`
	VisitorCount int            `db:"visitor_count" json:"visitorCount"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updatedAt"`
}

// Consistent reports whether the visitor counter matches the visitor set.
func (o *Organization) Consistent() bool {
	return o.VisitorCount == len(o.Visitors)
}
