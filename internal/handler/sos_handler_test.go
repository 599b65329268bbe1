package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/safecircle-api/internal/dto"
	"github.com/noah-isme/safecircle-api/internal/middleware"
	"github.com/noah-isme/safecircle-api/internal/models"
	appErrors "github.com/noah-isme/safecircle-api/pkg/errors"
)

type fakeSOSService struct {
	event       *models.SOSEvent
	created     bool
	err         error
	lastTrigger dto.TriggerSOSRequest
	lastCancel  dto.CancelSOSRequest
	lastLimit   int
	lastSubject string
	history     []models.SOSEvent
	circle      []models.CircleStatusEntry
}

func (f *fakeSOSService) Trigger(_ context.Context, subjectID string, req dto.TriggerSOSRequest) (*models.SOSEvent, bool, error) {
	f.lastSubject = subjectID
	f.lastTrigger = req
	return f.event, f.created, f.err
}

func (f *fakeSOSService) Cancel(_ context.Context, subjectID string, req dto.CancelSOSRequest) (*models.SOSEvent, error) {
	f.lastSubject = subjectID
	f.lastCancel = req
	return f.event, f.err
}

func (f *fakeSOSService) Resolve(_ context.Context, subjectID string) (*models.SOSEvent, error) {
	f.lastSubject = subjectID
	return f.event, f.err
}

func (f *fakeSOSService) GetActive(_ context.Context, subjectID string) (*models.SOSEvent, error) {
	f.lastSubject = subjectID
	return f.event, f.err
}

func (f *fakeSOSService) History(_ context.Context, subjectID string, limit int) ([]models.SOSEvent, error) {
	f.lastSubject = subjectID
	f.lastLimit = limit
	return f.history, f.err
}

func (f *fakeSOSService) CircleStatus(_ context.Context, subjectID string) ([]models.CircleStatusEntry, error) {
	f.lastSubject = subjectID
	return f.circle, f.err
}

func withSubject(c *gin.Context, subjectID string) {
	c.Set(middleware.ContextUserKey, &models.AccessClaims{
		Type:             models.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{Subject: subjectID},
	})
}

func newTestContext(method, target, body string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	c.Request = req
	return c, rec
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code      string                 `json:"code"`
		Message   string                 `json:"message"`
		Retryable bool                   `json:"retryable"`
		Details   map[string]interface{} `json:"details"`
	} `json:"error"`
	Meta map[string]interface{} `json:"meta"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func activeEvent() *models.SOSEvent {
	return &models.SOSEvent{ID: "ev-1", SubjectID: "subject-a", Status: models.SOSStatusActive, TriggeredAt: time.Now().UTC()}
}

func TestSOSHandlerTriggerCreated(t *testing.T) {
	svc := &fakeSOSService{event: activeEvent(), created: true}
	h := NewSOSHandler(svc)

	c, rec := newTestContext(http.MethodPost, "/sos/trigger", `{"latitude":1.5,"longitude":2.5}`)
	c.Request.Header.Set(IdempotencyKeyHeader, "  key-1 ")
	withSubject(c, "subject-a")
	h.Trigger(c)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "subject-a", svc.lastSubject)
	assert.Equal(t, "key-1", svc.lastTrigger.IdempotencyKey)
	require.NotNil(t, svc.lastTrigger.Latitude)
	assert.Equal(t, 1.5, *svc.lastTrigger.Latitude)
}

func TestSOSHandlerTriggerBodyKeyWins(t *testing.T) {
	svc := &fakeSOSService{event: activeEvent()}
	h := NewSOSHandler(svc)

	c, rec := newTestContext(http.MethodPost, "/sos/trigger", `{"latitude":1,"longitude":2,"idempotencyKey":"body-key"}`)
	c.Request.Header.Set(IdempotencyKeyHeader, "header-key")
	withSubject(c, "subject-a")
	h.Trigger(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "body-key", svc.lastTrigger.IdempotencyKey)
	assert.Equal(t, true, decode(t, rec).Meta["replayed"])
}

func TestSOSHandlerTriggerConflict(t *testing.T) {
	svc := &fakeSOSService{err: appErrors.ErrSOSAlreadyActive.WithDetails(map[string]interface{}{"eventId": "ev-1"})}
	h := NewSOSHandler(svc)

	c, rec := newTestContext(http.MethodPost, "/sos/trigger", `{"latitude":1,"longitude":2}`)
	withSubject(c, "subject-a")
	h.Trigger(c)

	assert.Equal(t, http.StatusConflict, rec.Code)
	env := decode(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, "SOS_ALREADY_ACTIVE", env.Error.Code)
	assert.Equal(t, "ev-1", env.Error.Details["eventId"])
}

func TestSOSHandlerTriggerBadJSON(t *testing.T) {
	h := NewSOSHandler(&fakeSOSService{})
	c, rec := newTestContext(http.MethodPost, "/sos/trigger", `{"latitude":`)
	withSubject(c, "subject-a")
	h.Trigger(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSOSHandlerRequiresSubject(t *testing.T) {
	h := NewSOSHandler(&fakeSOSService{})
	c, rec := newTestContext(http.MethodPost, "/sos/resolve", "")
	h.Resolve(c)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSOSHandlerCancel(t *testing.T) {
	svc := &fakeSOSService{event: activeEvent()}
	h := NewSOSHandler(svc)

	c, rec := newTestContext(http.MethodPost, "/sos/cancel", `{"reason":"false alarm"}`)
	withSubject(c, "subject-a")
	h.Cancel(c)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "false alarm", svc.lastCancel.Reason)

	c, rec = newTestContext(http.MethodPost, "/sos/cancel", "")
	withSubject(c, "subject-a")
	h.Cancel(c)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, svc.lastCancel.Reason)
}

func TestSOSHandlerCancelChunkedEmptyBody(t *testing.T) {
	svc := &fakeSOSService{event: activeEvent()}
	h := NewSOSHandler(svc)

	c, rec := newTestContext(http.MethodPost, "/sos/cancel", "")
	c.Request.Header.Set("Content-Type", "application/json")
	c.Request.ContentLength = -1
	withSubject(c, "subject-a")
	h.Cancel(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, svc.lastCancel.Reason)
}

func TestSOSHandlerCancelMalformedBody(t *testing.T) {
	h := NewSOSHandler(&fakeSOSService{event: activeEvent()})

	c, rec := newTestContext(http.MethodPost, "/sos/cancel", `{"reason":`)
	withSubject(c, "subject-a")
	h.Cancel(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode(t, rec).Error.Code)
}

func TestSOSHandlerResolveNotActive(t *testing.T) {
	h := NewSOSHandler(&fakeSOSService{err: appErrors.ErrSOSNotActive})
	c, rec := newTestContext(http.MethodPost, "/sos/resolve", "")
	withSubject(c, "subject-a")
	h.Resolve(c)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "SOS_NOT_ACTIVE", decode(t, rec).Error.Code)
}

func TestSOSHandlerActiveNone(t *testing.T) {
	h := NewSOSHandler(&fakeSOSService{})
	c, rec := newTestContext(http.MethodGet, "/sos/active", "")
	withSubject(c, "subject-a")
	h.Active(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, "null", string(env.Data))
	assert.Equal(t, false, env.Meta["active"])
}

func TestSOSHandlerHistory(t *testing.T) {
	svc := &fakeSOSService{history: []models.SOSEvent{*activeEvent()}}
	h := NewSOSHandler(svc)

	c, rec := newTestContext(http.MethodGet, "/sos/history?limit=5", "")
	withSubject(c, "subject-a")
	h.History(c)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, svc.lastLimit)
	assert.Equal(t, float64(1), decode(t, rec).Meta["count"])

	c, rec = newTestContext(http.MethodGet, "/sos/history?limit=abc", "")
	withSubject(c, "subject-a")
	h.History(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSOSHandlerCircleStatusInternalErrorIsGeneric(t *testing.T) {
	h := NewSOSHandler(&fakeSOSService{err: appErrors.Wrap(assert.AnError, appErrors.ErrInternal, "failed to load circle status")})
	c, rec := newTestContext(http.MethodGet, "/sos/circle-status", "")
	withSubject(c, "subject-a")
	h.CircleStatus(c)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, "INTERNAL_ERROR", env.Error.Code)
	assert.Equal(t, appErrors.ErrInternal.Message, env.Error.Message)
	assert.True(t, env.Error.Retryable)
}
