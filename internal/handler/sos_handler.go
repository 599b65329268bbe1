package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/safecircle-api/internal/dto"
	"github.com/noah-isme/safecircle-api/internal/models"
	appErrors "github.com/noah-isme/safecircle-api/pkg/errors"
	"github.com/noah-isme/safecircle-api/pkg/response"
)

// IdempotencyKeyHeader lets clients supply the trigger key out of band.
const IdempotencyKeyHeader = "Idempotency-Key"

type sosService interface {
	Trigger(ctx context.Context, subjectID string, req dto.TriggerSOSRequest) (*models.SOSEvent, bool, error)
	Cancel(ctx context.Context, subjectID string, req dto.CancelSOSRequest) (*models.SOSEvent, error)
	Resolve(ctx context.Context, subjectID string) (*models.SOSEvent, error)
	GetActive(ctx context.Context, subjectID string) (*models.SOSEvent, error)
	History(ctx context.Context, subjectID string, limit int) ([]models.SOSEvent, error)
	CircleStatus(ctx context.Context, subjectID string) ([]models.CircleStatusEntry, error)
}

// SOSHandler exposes the safety event lifecycle for the authenticated subject.
type SOSHandler struct {
	service sosService
}

// NewSOSHandler constructs the handler.
func NewSOSHandler(svc sosService) *SOSHandler {
	return &SOSHandler{service: svc}
}

// Trigger godoc
// @Summary Trigger SOS
// @Description Raise an alert and notify the emergency circle. Replays with the same idempotency key return the original event with 200.
// @Tags SOS
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "Idempotency key"
// @Param payload body dto.TriggerSOSRequest true "Location"
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sos/trigger [post]
func (h *SOSHandler) Trigger(c *gin.Context) {
	subjectID, ok := requireSubject(c)
	if !ok {
		return
	}
	var req dto.TriggerSOSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation, "invalid SOS trigger payload"))
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader))
	}

	event, created, err := h.service.Trigger(c.Request.Context(), subjectID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if created {
		response.Created(c, event)
		return
	}
	response.JSON(c, http.StatusOK, event, map[string]any{"replayed": true})
}

// Cancel godoc
// @Summary Cancel SOS
// @Tags SOS
// @Accept json
// @Produce json
// @Param payload body dto.CancelSOSRequest false "Reason"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sos/cancel [post]
func (h *SOSHandler) Cancel(c *gin.Context) {
	subjectID, ok := requireSubject(c)
	if !ok {
		return
	}
	var req dto.CancelSOSRequest
	// The reason is optional, so an empty body (chunked included) is accepted.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation, "invalid SOS cancel payload"))
			return
		}
	}

	event, err := h.service.Cancel(c.Request.Context(), subjectID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, event)
}

// Resolve godoc
// @Summary Resolve SOS
// @Tags SOS
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sos/resolve [post]
func (h *SOSHandler) Resolve(c *gin.Context) {
	subjectID, ok := requireSubject(c)
	if !ok {
		return
	}
	event, err := h.service.Resolve(c.Request.Context(), subjectID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, event)
}

// Active godoc
// @Summary Active SOS
// @Description Returns the active alert, or data null when none
// @Tags SOS
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /sos/active [get]
func (h *SOSHandler) Active(c *gin.Context) {
	subjectID, ok := requireSubject(c)
	if !ok {
		return
	}
	event, err := h.service.GetActive(c.Request.Context(), subjectID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, event, map[string]any{"active": event != nil})
}

// History godoc
// @Summary SOS history
// @Tags SOS
// @Produce json
// @Param limit query int false "Max events"
// @Success 200 {object} response.Envelope
// @Router /sos/history [get]
func (h *SOSHandler) History(c *gin.Context) {
	subjectID, ok := requireSubject(c)
	if !ok {
		return
	}
	var query dto.SOSHistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil || query.Limit < 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be a positive integer"))
		return
	}

	events, err := h.service.History(c.Request.Context(), subjectID, query.Limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, events, map[string]any{"count": len(events)})
}

// CircleStatus godoc
// @Summary Circle status
// @Description Linked contacts that currently have an active alert
// @Tags SOS
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /sos/circle-status [get]
func (h *SOSHandler) CircleStatus(c *gin.Context) {
	subjectID, ok := requireSubject(c)
	if !ok {
		return
	}
	entries, err := h.service.CircleStatus(c.Request.Context(), subjectID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries)
}
