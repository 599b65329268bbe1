package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/safecircle-api/internal/dto"
	"github.com/noah-isme/safecircle-api/internal/models"
	"github.com/noah-isme/safecircle-api/internal/realtime"
	"github.com/noah-isme/safecircle-api/internal/repository"
	appErrors "github.com/noah-isme/safecircle-api/pkg/errors"
)

type sosRepository interface {
	Create(ctx context.Context, event *models.SOSEvent) error
	FindByIdempotencyKey(ctx context.Context, key string) (*models.SOSEvent, error)
	FindActive(ctx context.Context, subjectID string) (*models.SOSEvent, error)
	History(ctx context.Context, subjectID string, limit int) ([]models.SOSEvent, error)
	FindActiveBySubjects(ctx context.Context, subjectIDs []string) ([]models.SOSEvent, error)
	Transition(ctx context.Context, t models.SOSTransition) (*models.SOSEvent, error)
}

type contactDirectory interface {
	FindPrimaryContacts(ctx context.Context, ownerID string) ([]models.EmergencyContact, error)
	FindLinkedContacts(ctx context.Context, subjectID string) ([]models.LinkedContact, error)
}

type circleNotifier interface {
	Notify(recipientIDs []string, event string, payload interface{})
}

type auditRecorder interface {
	RecordAsync(ctx context.Context, entry models.AuditLog)
}

// SOSConfig bounds history queries.
type SOSConfig struct {
	HistoryDefaultLimit int
	HistoryMaxLimit     int
}

// SOSService owns the safety event state machine.
type SOSService struct {
	repo      sosRepository
	contacts  contactDirectory
	notifier  circleNotifier
	audit     auditRecorder
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	config    SOSConfig
	now       func() time.Time
}

// NewSOSService constructs the lifecycle manager.
func NewSOSService(repo sosRepository, contacts contactDirectory, notifier circleNotifier, audit auditRecorder, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger, cfg SOSConfig) *SOSService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.HistoryDefaultLimit <= 0 {
		cfg.HistoryDefaultLimit = 20
	}
	if cfg.HistoryMaxLimit < cfg.HistoryDefaultLimit {
		cfg.HistoryMaxLimit = cfg.HistoryDefaultLimit
	}
	return &SOSService{
		repo:      repo,
		contacts:  contacts,
		notifier:  notifier,
		audit:     audit,
		validator: validate,
		metrics:   metrics,
		logger:    logger,
		config:    cfg,
		now:       time.Now,
	}
}

type sosNotification struct {
	EventID     string           `json:"eventId"`
	SubjectID   string           `json:"subjectId"`
	Status      models.SOSStatus `json:"status"`
	Latitude    float64          `json:"latitude"`
	Longitude   float64          `json:"longitude"`
	TriggeredAt time.Time        `json:"triggeredAt"`
	EndedAt     *time.Time       `json:"endedAt,omitempty"`
}

// Trigger raises an alert for subjectID. With an idempotency key, repeated
// calls return the event first created with that key and created is false.
func (s *SOSService) Trigger(ctx context.Context, subjectID string, req dto.TriggerSOSRequest) (event *models.SOSEvent, created bool, err error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	defer func() {
		s.logAction(string(models.SOSActionTriggered), subjectID, event, created, err)
	}()

	if err := s.validator.Struct(req); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrValidation, "invalid SOS trigger payload")
	}
	key := req.IdempotencyKey

	if key != "" {
		existing, err := s.repo.FindByIdempotencyKey(ctx, key)
		if err == nil {
			return s.replay(subjectID, existing)
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, false, appErrors.Wrap(err, appErrors.ErrInternal, "failed to look up idempotency key")
		}
	}

	active, err := s.repo.FindActive(ctx, subjectID)
	if err == nil {
		// A same-key request may have committed after the key lookup above.
		if key != "" && active.IdempotencyKey != nil && *active.IdempotencyKey == key {
			return s.replay(subjectID, active)
		}
		return nil, false, alreadyActive(active)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal, "failed to check active SOS")
	}

	recipients, err := s.recipients(ctx, subjectID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal, "failed to resolve emergency contacts")
	}

	now := s.now().UTC()
	candidate := &models.SOSEvent{
		ID:                 uuid.NewString(),
		SubjectID:          subjectID,
		Status:             models.SOSStatusActive,
		Latitude:           *req.Latitude,
		Longitude:          *req.Longitude,
		TriggeredAt:        now,
		NotifiedRecipients: recipients,
		AuditTrail:         models.AuditTrail{{Action: models.SOSActionTriggered, Timestamp: now}},
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if key != "" {
		candidate.IdempotencyKey = &key
	}

	if err := s.repo.Create(ctx, candidate); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateIdempotencyKey):
			existing, rerr := s.repo.FindByIdempotencyKey(ctx, key)
			if rerr != nil {
				return nil, false, appErrors.Wrap(rerr, appErrors.ErrInternal, "failed to re-read SOS by idempotency key")
			}
			return s.replay(subjectID, existing)
		case errors.Is(err, repository.ErrActiveEventExists):
			// A concurrent request with the same key may have won the
			// one-active index before reaching the key index.
			if key != "" {
				if existing, rerr := s.repo.FindByIdempotencyKey(ctx, key); rerr == nil {
					return s.replay(subjectID, existing)
				}
			}
			return nil, false, appErrors.ErrSOSAlreadyActive
		default:
			return nil, false, appErrors.Wrap(err, appErrors.ErrInternal, "failed to create SOS")
		}
	}

	s.afterCommit(ctx, candidate, models.SOSActionTriggered)
	return candidate, true, nil
}

// Cancel ends the subject's active alert as cancelled.
func (s *SOSService) Cancel(ctx context.Context, subjectID string, req dto.CancelSOSRequest) (*models.SOSEvent, error) {
	if err := s.validator.Struct(req); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrValidation, "invalid SOS cancel payload")
		s.logAction(string(models.SOSActionCancelled), subjectID, nil, false, err)
		return nil, err
	}
	var reason *string
	if trimmed := strings.TrimSpace(req.Reason); trimmed != "" {
		reason = &trimmed
	}
	return s.transition(ctx, subjectID, models.SOSStatusCancelled, models.SOSActionCancelled, reason)
}

// Resolve ends the subject's active alert as resolved.
func (s *SOSService) Resolve(ctx context.Context, subjectID string) (*models.SOSEvent, error) {
	return s.transition(ctx, subjectID, models.SOSStatusResolved, models.SOSActionResolved, nil)
}

// GetActive returns the subject's active alert or nil.
func (s *SOSService) GetActive(ctx context.Context, subjectID string) (*models.SOSEvent, error) {
	event, err := s.repo.FindActive(ctx, subjectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to load active SOS")
	}
	return event, nil
}

// History lists the subject's alerts, most recent first.
func (s *SOSService) History(ctx context.Context, subjectID string, limit int) ([]models.SOSEvent, error) {
	if limit <= 0 {
		limit = s.config.HistoryDefaultLimit
	}
	if limit > s.config.HistoryMaxLimit {
		limit = s.config.HistoryMaxLimit
	}
	events, err := s.repo.History(ctx, subjectID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to load SOS history")
	}
	if events == nil {
		events = []models.SOSEvent{}
	}
	return events, nil
}

// CircleStatus reports which linked contacts currently have an active alert.
func (s *SOSService) CircleStatus(ctx context.Context, subjectID string) ([]models.CircleStatusEntry, error) {
	linked, err := s.contacts.FindLinkedContacts(ctx, subjectID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to load linked contacts")
	}
	entries := []models.CircleStatusEntry{}
	if len(linked) == 0 {
		return entries, nil
	}

	ids := make([]string, 0, len(linked))
	for _, c := range linked {
		ids = append(ids, c.UserID)
	}
	active, err := s.repo.FindActiveBySubjects(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to load circle status")
	}
	bySubject := make(map[string]models.SOSEvent, len(active))
	for _, ev := range active {
		bySubject[ev.SubjectID] = ev
	}

	for _, c := range linked {
		ev, ok := bySubject[c.UserID]
		if !ok {
			continue
		}
		entries = append(entries, models.CircleStatusEntry{
			ContactID:   c.UserID,
			Name:        c.Name,
			TriggeredAt: ev.TriggeredAt,
			Latitude:    ev.Latitude,
			Longitude:   ev.Longitude,
		})
	}
	return entries, nil
}

func (s *SOSService) transition(ctx context.Context, subjectID string, to models.SOSStatus, action models.SOSAction, reason *string) (event *models.SOSEvent, err error) {
	defer func() {
		s.logAction(string(action), subjectID, event, event != nil, err)
	}()

	event, err = s.repo.Transition(ctx, models.SOSTransition{
		SubjectID: subjectID,
		To:        to,
		Action:    action,
		At:        s.now().UTC(),
		Reason:    reason,
	})
	if err != nil {
		if errors.Is(err, repository.ErrEventNotActive) {
			return nil, appErrors.ErrSOSNotActive
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to update SOS")
	}

	s.afterCommit(ctx, event, action)
	return event, nil
}

func (s *SOSService) replay(subjectID string, existing *models.SOSEvent) (*models.SOSEvent, bool, error) {
	if existing.SubjectID != subjectID {
		return nil, false, appErrors.ErrIdempotencyKey
	}
	return existing, false, nil
}

func (s *SOSService) recipients(ctx context.Context, subjectID string) (models.RecipientSnapshot, error) {
	contacts, err := s.contacts.FindPrimaryContacts(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	snapshot := make(models.RecipientSnapshot, 0, len(contacts))
	seen := make(map[string]struct{}, len(contacts))
	for _, c := range contacts {
		if c.ContactUserID == nil || *c.ContactUserID == subjectID {
			continue
		}
		if _, dup := seen[*c.ContactUserID]; dup {
			continue
		}
		seen[*c.ContactUserID] = struct{}{}
		snapshot = append(snapshot, models.Recipient{SubjectID: *c.ContactUserID, Name: c.Name})
	}
	return snapshot, nil
}

// afterCommit runs only once the event is durable. Neither step can fail the action.
func (s *SOSService) afterCommit(ctx context.Context, event *models.SOSEvent, action models.SOSAction) {
	payload := sosNotification{
		EventID:     event.ID,
		SubjectID:   event.SubjectID,
		Status:      event.Status,
		Latitude:    event.Latitude,
		Longitude:   event.Longitude,
		TriggeredAt: event.TriggeredAt,
	}

	var (
		name        string
		auditAction string
	)
	switch action {
	case models.SOSActionCancelled:
		name, auditAction = realtime.EventSOSCancelled, models.AuditActionSOSCancelled
		payload.EndedAt = event.CancelledAt
	case models.SOSActionResolved:
		name, auditAction = realtime.EventSOSResolved, models.AuditActionSOSResolved
		payload.EndedAt = event.ResolvedAt
	default:
		name, auditAction = realtime.EventSOSTriggered, models.AuditActionSOSTriggered
	}

	s.notifier.Notify(event.NotifiedRecipients.IDs(), name, payload)

	details := models.AuditDetails{
		"status":     string(event.Status),
		"recipients": strconv.Itoa(len(event.NotifiedRecipients)),
	}
	if action == models.SOSActionCancelled && event.CancelReason != nil {
		details["reason"] = *event.CancelReason
	}
	resourceID := event.ID
	s.audit.RecordAsync(ctx, models.AuditLog{
		SubjectID:  event.SubjectID,
		Action:     auditAction,
		Resource:   models.AuditResourceSafetyEvent,
		ResourceID: &resourceID,
		Details:    details,
	})
}

// logAction always logs at warn: every SOS action is safety critical.
func (s *SOSService) logAction(action, subjectID string, event *models.SOSEvent, created bool, err error) {
	fields := []zap.Field{
		zap.String("action", action),
		zap.String("subject_id", subjectID),
	}
	if event != nil {
		fields = append(fields, zap.String("event_id", event.ID), zap.String("status", string(event.Status)))
	}

	outcome := OutcomeSuccess
	switch {
	case err != nil:
		appErr := appErrors.FromError(err)
		switch appErr.Kind {
		case appErrors.KindConflict, appErrors.KindInvalidState:
			outcome = OutcomeConflict
		case appErrors.KindInternal:
			outcome = OutcomeError
		default:
			outcome = OutcomeRejected
		}
		fields = append(fields, zap.String("code", appErr.Code), zap.Error(err))
	case event != nil && !created:
		outcome = OutcomeReplayed
	}
	fields = append(fields, zap.String("outcome", outcome))

	s.metrics.RecordSOSAction(action, outcome)
	s.logger.Warn("sos action", fields...)
}

func alreadyActive(active *models.SOSEvent) error {
	return appErrors.ErrSOSAlreadyActive.WithDetails(map[string]interface{}{"eventId": active.ID})
}
