package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisChannel publishes one message per recipient on "<prefix><subjectID>".
type RedisChannel struct {
	client publisher
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// NewRedisChannel builds a channel backed by Redis pub/sub.
func NewRedisChannel(client *redis.Client, prefix string, logger *zap.Logger) *RedisChannel {
	return newRedisChannel(client, prefix, logger)
}

func newRedisChannel(client publisher, prefix string, logger *zap.Logger) *RedisChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisChannel{client: client, prefix: prefix, logger: logger, now: time.Now}
}

// EmitToSubjects publishes to every recipient and keeps going past failures.
func (c *RedisChannel) EmitToSubjects(ctx context.Context, subjectIDs []string, event string, payload interface{}) error {
	if len(subjectIDs) == 0 {
		return nil
	}
	body, err := json.Marshal(Message{Event: event, Payload: payload, SentAt: c.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode realtime message: %w", err)
	}

	var errs []error
	delivered := 0
	for _, id := range subjectIDs {
		receivers, err := c.client.Publish(ctx, c.prefix+id, body).Result()
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s to %s: %w", event, id, err))
			continue
		}
		delivered++
		if receivers == 0 {
			c.logger.Debug("realtime subject offline", zap.String("event", event), zap.String("subject_id", id))
		}
	}
	c.logger.Debug("realtime event published",
		zap.String("event", event),
		zap.Int("recipients", len(subjectIDs)),
		zap.Int("delivered", delivered),
	)
	return errors.Join(errs...)
}
