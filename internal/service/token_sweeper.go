package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type staleTokenStore interface {
	DeleteStale(ctx context.Context, expiredBefore, revokedBefore time.Time) (int64, error)
}

// TokenSweeper periodically hard-deletes expired and long-revoked refresh
// tokens. It runs independently of request handling.
type TokenSweeper struct {
	store     staleTokenStore
	interval  time.Duration
	retention time.Duration
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTokenSweeper constructs a sweeper. Revoked tokens are kept for retention
// so replays within that window still revoke their family.
func NewTokenSweeper(store staleTokenStore, interval, retention time.Duration, metrics *MetricsService, logger *zap.Logger) *TokenSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if retention < 0 {
		retention = 0
	}
	return &TokenSweeper{store: store, interval: interval, retention: retention, metrics: metrics, logger: logger, now: time.Now}
}

// Start runs Sweep on every tick until Stop or ctx cancellation.
func (s *TokenSweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
					s.logger.Error("refresh token sweep failed", zap.Error(err))
				}
			}
		}
	}(s.done)
	s.logger.Info("refresh token sweeper started", zap.Duration("interval", s.interval))
}

// Stop halts the loop and waits for an in-flight sweep.
func (s *TokenSweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Sweep deletes stale tokens once and returns how many were removed.
func (s *TokenSweeper) Sweep(ctx context.Context) (int64, error) {
	now := s.now().UTC()
	n, err := s.store.DeleteStale(ctx, now, now.Add(-s.retention))
	if err != nil {
		return 0, err
	}
	s.metrics.RecordTokensSwept(n)
	if n > 0 {
		s.logger.Info("refresh tokens swept", zap.Int64("deleted", n))
	}
	return n, nil
}
