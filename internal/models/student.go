package models

import (
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Student is the server-side aggregate of a registered student's booth visits.
type Student struct {
	ID                   string         `db:"id" json:"id"`
	Email                string         `db:"email" json:"email"`
	Program              string         `db:"program" json:"program"`
	VisitedOrganizations pq.StringArray `db:"visited_organizations" json:"visitedOrganizations"`
	VisitCount           int            `db:"visit_count" json:"visitCount"`
	LastVisitAt          *time.Time     `db:"last_visit_at" json:"lastVisitAt,omitempty"`
	Version              int64          `db:"version" json:"-"`
	CreatedAt            time.Time      `db:"created_at" json:"createdAt"`
}

// HasVisited reports whether the organization is already in the visited set.
func (s *Student) HasVisited(organizationID string) bool {
	for _, id := range s.VisitedOrganizations {
		if id == organizationID {
			return true
		}
	}
	return false
}

// Consistent reports whether the visit counter matches the visited set.
func (s *Student) Consistent() bool {
	return s.VisitCount == len(s.VisitedOrganizations)
}

// IdentifierSnapshot is the list of known student identifiers handed to
// scanning devices for offline validation.
type IdentifierSnapshot struct {
	Identifiers []string  `json:"identifiers"`
	GeneratedAt time.Time `json:"generatedAt"`
}

var studentIDPattern = regexp.MustCompile(`^[a-z]{2}[0-9]{4,5}$`)

// NormalizeStudentID trims and lower-cases a student identifier.
func NormalizeStudentID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// ValidStudentID reports whether id has the fixed badge shape: two letters
// followed by four or five digits, case-insensitive.
func ValidStudentID(id string) bool {
	return studentIDPattern.MatchString(NormalizeStudentID(id))
}
