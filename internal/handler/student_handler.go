package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/booth-checkin/internal/dto"
	"github.com/noah-isme/booth-checkin/internal/models"
	"github.com/noah-isme/booth-checkin/pkg/response"
)

type studentReader interface {
	Get(ctx context.Context, id string) (*dto.StudentDetail, error)
}

type identifierSnapshotter interface {
	Snapshot(ctx context.Context) (*models.IdentifierSnapshot, error)
}

// StudentHandler exposes student endpoints.
type StudentHandler struct {
	students    studentReader
	identifiers identifierSnapshotter
}

// NewStudentHandler constructs StudentHandler.
func NewStudentHandler(students studentReader, identifiers identifierSnapshotter) *StudentHandler {
	return &StudentHandler{students: students, identifiers: identifiers}
}

// Get godoc
// @Summary Get student visit aggregate
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{id} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	student, err := h.students.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student)
}

// Identifiers godoc
// @Summary Snapshot of known student identifiers
// @Description Used by scanning devices to validate badges while offline.
// @Tags Students
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /students/identifiers [get]
func (h *StudentHandler) Identifiers(c *gin.Context) {
	snapshot, err := h.identifiers.Snapshot(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snapshot, map[string]interface{}{"count": len(snapshot.Identifiers)})
}
