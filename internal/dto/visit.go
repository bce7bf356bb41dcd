package dto

import "github.com/noah-isme/booth-checkin/internal/models"

// RecordVisitRequest is the payload of POST /visits.
type RecordVisitRequest struct {
	StudentID      string `json:"studentId" validate:"required,studentid"`
	OrganizationID string `json:"organizationId" validate:"required,max=128"`
	Email          string `json:"email" validate:"omitempty,email"`
	Program        string `json:"program" validate:"omitempty,max=128"`
	BoothNumber    string `json:"boothNumber" validate:"omitempty,max=32"`
}

// Meta extracts the contact metadata of the request.
func (r RecordVisitRequest) Meta() models.VisitMeta {
	return models.VisitMeta{Email: r.Email, Program: r.Program, BoothNumber: r.BoothNumber}
}

// RecordVisitResponse is returned once a visit is committed.
type RecordVisitResponse struct {
	ScanID string `json:"scanId"`
}

// ScanRequest is what a scanning device captures for one QR scan.
type ScanRequest struct {
	StudentID      string
	OrganizationID string
	Meta           models.VisitMeta
}

// SyncResult summarises one sync pass.
type SyncResult struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}
