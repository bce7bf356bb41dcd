package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// VisitOriginScanned marks visits recorded through a QR scan.
const VisitOriginScanned = "scanned"

// VisitMeta carries contact details supplied by the registration collaborator.
type VisitMeta struct {
	Email       string `db:"email" json:"email,omitempty"`
	Program     string `db:"program" json:"program,omitempty"`
	BoothNumber string `db:"booth_number" json:"boothNumber,omitempty"`
}

// VisitRecord is the immutable fact that a student was credited at a booth.
type VisitRecord struct {
	ID             string    `db:"id" json:"id"`
	StudentID      string    `db:"student_id" json:"studentId"`
	OrganizationID string    `db:"organization_id" json:"organizationId"`
	Sequence       int       `db:"sequence" json:"sequence"`
	ScannedAt      time.Time `db:"scanned_at" json:"scannedAt"`
	Origin         string    `db:"origin" json:"origin"`
	VisitMeta
}

// ScanID derives the visit identifier "{studentId}_{sequence}".
func ScanID(studentID string, sequence int) string {
	return fmt.Sprintf("%s_%d", studentID, sequence)
}

// ParseScanID splits a visit identifier into student and sequence.
func ParseScanID(scanID string) (string, int, error) {
	idx := strings.LastIndex(scanID, "_")
	if idx <= 0 || idx == len(scanID)-1 {
		return "", 0, fmt.Errorf("malformed scan id %q", scanID)
	}
	seq, err := strconv.Atoi(scanID[idx+1:])
	if err != nil || seq <= 0 {
		return "", 0, fmt.Errorf("malformed scan id %q", scanID)
	}
	return scanID[:idx], seq, nil
}

// RecordVisitParams is the input of one RecordVisit transaction.
type RecordVisitParams struct {
	StudentID      string
	OrganizationID string
	Meta           VisitMeta
	ScannedAt      time.Time
}
