package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/booth-checkin/internal/dto"
	"github.com/noah-isme/booth-checkin/internal/models"
	appErrors "github.com/noah-isme/booth-checkin/pkg/errors"
	"github.com/noah-isme/booth-checkin/pkg/response"
)

type visitRecorder interface {
	RecordVisit(ctx context.Context, req dto.RecordVisitRequest) (*dto.RecordVisitResponse, error)
}

// VisitHandler exposes the visit recording endpoint.
type VisitHandler struct {
	visits visitRecorder
}

// NewVisitHandler constructs VisitHandler.
func NewVisitHandler(visits visitRecorder) *VisitHandler {
	return &VisitHandler{visits: visits}
}

// Record godoc
// @Summary Record a booth visit
// @Description Credits a student at an organization exactly once. Repeating the call returns 409 DUPLICATE_VISIT.
// @Tags Visits
// @Accept json
// @Produce json
// @Param payload body dto.RecordVisitRequest true "Visit payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /visits [post]
func (h *VisitHandler) Record(c *gin.Context) {
	var req dto.RecordVisitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if claims := claimsFromContext(c); claims != nil && claims.Role == models.RoleStudent &&
		models.NormalizeStudentID(claims.UserID) != models.NormalizeStudentID(req.StudentID) {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "students may only record their own visits"))
		return
	}
	res, err := h.visits.RecordVisit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}
