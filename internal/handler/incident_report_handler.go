package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/safecircle-api/internal/service"
	appErrors "github.com/noah-isme/safecircle-api/pkg/errors"
	"github.com/noah-isme/safecircle-api/pkg/response"
)

type incidentExporter interface {
	Export(ctx context.Context, subjectID, format string, limit int) (*service.IncidentReport, error)
}

// IncidentReportHandler serves SOS history downloads.
type IncidentReportHandler struct {
	service incidentExporter
}

// NewIncidentReportHandler constructs the handler.
func NewIncidentReportHandler(svc incidentExporter) *IncidentReportHandler {
	return &IncidentReportHandler{service: svc}
}

// Export godoc
// @Summary Export SOS history
// @Tags SOS
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf"
// @Param limit query int false "Max events"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /sos/history/export [get]
func (h *IncidentReportHandler) Export(c *gin.Context) {
	subjectID, ok := requireSubject(c)
	if !ok {
		return
	}
	var query struct {
		Format string `form:"format"`
		Limit  int    `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil || query.Limit < 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid export query"))
		return
	}

	report, err := h.service.Export(c.Request.Context(), subjectID, query.Format, query.Limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename))
	c.Data(http.StatusOK, report.ContentType, report.Content)
}
