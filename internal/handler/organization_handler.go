package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/booth-checkin/internal/models"
	"github.com/noah-isme/booth-checkin/pkg/response"
)

type organizationReader interface {
	Get(ctx context.Context, id string) (*models.Organization, error)
}

// OrganizationHandler exposes organization visitor aggregates.
type OrganizationHandler struct {
	organizations organizationReader
}

// NewOrganizationHandler constructs OrganizationHandler.
func NewOrganizationHandler(organizations organizationReader) *OrganizationHandler {
	return &OrganizationHandler{organizations: organizations}
}

// Get godoc
// @Summary Get organization visitor aggregate
// @Tags Organizations
// @Produce json
// @Param id path string true "Organization ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /organizations/{id} [get]
func (h *OrganizationHandler) Get(c *gin.Context) {
	org, err := h.organizations.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, org)
}
