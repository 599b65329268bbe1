package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/safecircle-api/internal/dto"
	"github.com/noah-isme/safecircle-api/internal/models"
	"github.com/noah-isme/safecircle-api/pkg/auditsink"
	appErrors "github.com/noah-isme/safecircle-api/pkg/errors"
	"github.com/noah-isme/safecircle-api/pkg/jobs"
	"github.com/noah-isme/safecircle-api/pkg/middleware/requestid"
)

const auditQueueName = "audit-record"

type auditRepository interface {
	Append(ctx context.Context, entry *models.AuditLog) error
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, error)
}

// AuditMirror receives a copy of every persisted audit record.
type AuditMirror interface {
	Write(ctx context.Context, msg auditsink.Message) error
}

// AuditService appends immutable audit records and answers audit queries.
type AuditService struct {
	repo      auditRepository
	mirror    AuditMirror
	queue     *jobs.Queue
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// NewAuditService constructs the recorder. mirror may be nil.
func NewAuditService(repo auditRepository, mirror AuditMirror, validate *validator.Validate, cfg jobs.QueueConfig, metrics *MetricsService, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	cfg.Logger = logger
	svc := &AuditService{repo: repo, mirror: mirror, validator: validate, metrics: metrics, logger: logger, now: time.Now}
	svc.queue = jobs.NewQueue(auditQueueName, svc.process, cfg)
	return svc
}

// Start launches the background writers used by RecordAsync.
func (s *AuditService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains pending records.
func (s *AuditService) Stop() {
	s.queue.Stop()
}

// Record persists entry synchronously and then mirrors it.
func (s *AuditService) Record(ctx context.Context, entry models.AuditLog) error {
	s.prepare(ctx, &entry)
	if err := s.repo.Append(ctx, &entry); err != nil {
		return err
	}
	s.mirrorEntry(ctx, entry)
	return nil
}

// RecordAsync queues entry for persistence. The request id on ctx becomes
// the correlation id; ctx is not used by the background write.
func (s *AuditService) RecordAsync(ctx context.Context, entry models.AuditLog) {
	s.prepare(ctx, &entry)
	if err := s.queue.Enqueue(jobs.Job{ID: entry.ID, Type: entry.Action, Payload: entry}); err != nil {
		s.metrics.RecordJobDropped(auditQueueName)
		s.logger.Error("audit record dropped",
			zap.String("action", entry.Action),
			zap.String("subject_id", entry.SubjectID),
			zap.String("correlation_id", entry.CorrelationID),
			zap.Error(err),
		)
	}
}

// Query lists the subject's audit records, optionally narrowed to a
// correlation id or a resource.
func (s *AuditService) Query(ctx context.Context, subjectID string, query dto.AuditQuery) ([]models.AuditLog, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation, "invalid audit query")
	}
	if query.CorrelationID != "" && query.Resource != "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "filter by correlationId or resource, not both")
	}
	if query.ResourceID != "" && query.Resource == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "resourceId requires resource")
	}

	logs, err := s.repo.List(ctx, models.AuditFilter{
		SubjectID:     subjectID,
		CorrelationID: query.CorrelationID,
		Resource:      query.Resource,
		ResourceID:    query.ResourceID,
		Limit:         query.Limit,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to query audit logs")
	}
	if logs == nil {
		logs = []models.AuditLog{}
	}
	return logs, nil
}

func (s *AuditService) prepare(ctx context.Context, entry *models.AuditLog) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	if entry.CorrelationID == "" {
		entry.CorrelationID = requestid.FromContext(ctx)
	}
}

func (s *AuditService) process(ctx context.Context, job jobs.Job) error {
	entry, ok := job.Payload.(models.AuditLog)
	if !ok {
		s.logger.Error("unexpected audit payload", zap.String("job_id", job.ID))
		return nil
	}
	if err := s.repo.Append(ctx, &entry); err != nil {
		return err
	}
	s.mirrorEntry(ctx, entry)
	return nil
}

func (s *AuditService) mirrorEntry(ctx context.Context, entry models.AuditLog) {
	if s.mirror == nil {
		return
	}
	payload := map[string]string{
		"id":         entry.ID,
		"subject_id": entry.SubjectID,
		"resource":   entry.Resource,
	}
	if entry.ResourceID != nil {
		payload["resource_id"] = *entry.ResourceID
	}
	for k, v := range entry.Details {
		payload["detail_"+k] = v
	}
	err := s.mirror.Write(ctx, auditsink.Message{
		Key:           entry.SubjectID,
		Action:        entry.Action,
		CorrelationID: entry.CorrelationID,
		OccurredAt:    entry.CreatedAt,
		Payload:       payload,
	})
	if err != nil {
		s.logger.Warn("audit mirror write failed", zap.String("audit_id", entry.ID), zap.Error(err))
	}
}
