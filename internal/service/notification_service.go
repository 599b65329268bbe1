package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/safecircle-api/internal/realtime"
	"github.com/noah-isme/safecircle-api/pkg/jobs"
)

const notificationQueueName = "circle-notify"

type notificationJob struct {
	Recipients []string
	Event      string
	Payload    interface{}
}

// NotificationService fans circle events out to recipients in the background.
// Callers never wait on delivery and never see its failures.
type NotificationService struct {
	channel realtime.Channel
	queue   *jobs.Queue
	metrics *MetricsService
	logger  *zap.Logger
}

// NewNotificationService wires a fan-out queue in front of channel.
func NewNotificationService(channel realtime.Channel, cfg jobs.QueueConfig, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Logger = logger
	svc := &NotificationService{channel: channel, metrics: metrics, logger: logger}
	svc.queue = jobs.NewQueue(notificationQueueName, svc.deliver, cfg)
	return svc
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains pending deliveries and stops the workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Notify schedules delivery of event to recipientIDs and returns immediately.
func (s *NotificationService) Notify(recipientIDs []string, event string, payload interface{}) {
	if len(recipientIDs) == 0 {
		return
	}
	recipients := append([]string(nil), recipientIDs...)
	err := s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    event,
		Payload: notificationJob{Recipients: recipients, Event: event, Payload: payload},
	})
	if err != nil {
		s.metrics.RecordNotification(OutcomeDropped)
		s.metrics.RecordJobDropped(notificationQueueName)
		s.logger.Error("circle notification dropped",
			zap.String("event", event),
			zap.Int("recipients", len(recipients)),
			zap.Bool("queue_full", errors.Is(err, jobs.ErrQueueFull)),
			zap.Error(err),
		)
	}
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(notificationJob)
	if !ok {
		s.logger.Error("unexpected notification payload", zap.String("job_id", job.ID))
		return nil
	}
	if err := s.channel.EmitToSubjects(ctx, payload.Recipients, payload.Event, payload.Payload); err != nil {
		s.metrics.RecordNotification(OutcomeError)
		s.logger.Error("circle notification delivery failed",
			zap.String("job_id", job.ID),
			zap.String("event", payload.Event),
			zap.Int("attempt", job.Attempt+1),
			zap.Error(err),
		)
		return err
	}
	s.metrics.RecordNotification(OutcomeSuccess)
	return nil
}
