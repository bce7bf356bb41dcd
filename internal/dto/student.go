package dto

import "github.com/noah-isme/booth-checkin/internal/models"

// StudentDetail is the student aggregate together with its visits.
type StudentDetail struct {
	models.Student
	Visits []models.VisitRecord `json:"visits"`
}
