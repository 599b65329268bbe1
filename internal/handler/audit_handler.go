package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/safecircle-api/internal/dto"
	"github.com/noah-isme/safecircle-api/internal/models"
	appErrors "github.com/noah-isme/safecircle-api/pkg/errors"
	"github.com/noah-isme/safecircle-api/pkg/response"
)

type auditQuerier interface {
	Query(ctx context.Context, subjectID string, query dto.AuditQuery) ([]models.AuditLog, error)
}

// AuditHandler serves the caller's own audit records.
type AuditHandler struct {
	service auditQuerier
}

// NewAuditHandler constructs the handler.
func NewAuditHandler(svc auditQuerier) *AuditHandler {
	return &AuditHandler{service: svc}
}

// List godoc
// @Summary Audit records
// @Description Filter by correlationId, or by resource with an optional resourceId
// @Tags Audit
// @Produce json
// @Param correlationId query string false "Request correlation id"
// @Param resource query string false "Resource type"
// @Param resourceId query string false "Resource id"
// @Param limit query int false "Max records"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /audit [get]
func (h *AuditHandler) List(c *gin.Context) {
	subjectID, ok := requireSubject(c)
	if !ok {
		return
	}
	var query dto.AuditQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation, "invalid audit query"))
		return
	}

	logs, err := h.service.Query(c.Request.Context(), subjectID, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, map[string]any{"count": len(logs)})
}
