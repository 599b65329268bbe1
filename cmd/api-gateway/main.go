package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/safecircle-api/api/swagger"
	"github.com/noah-isme/safecircle-api/internal/handler"
	"github.com/noah-isme/safecircle-api/internal/realtime"
	"github.com/noah-isme/safecircle-api/internal/repository"
	"github.com/noah-isme/safecircle-api/internal/service"
	"github.com/noah-isme/safecircle-api/pkg/auditsink"
	"github.com/noah-isme/safecircle-api/pkg/cache"
	"github.com/noah-isme/safecircle-api/pkg/config"
	"github.com/noah-isme/safecircle-api/pkg/database"
	"github.com/noah-isme/safecircle-api/pkg/jobs"
	"github.com/noah-isme/safecircle-api/pkg/logger"
	"github.com/noah-isme/safecircle-api/pkg/ratelimit"
)

// @title SafeCircle API
// @version 1.0.0
// @description Personal safety alerts, emergency circle notifications and session management
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, circle notifications will only be logged", zap.Error(err))
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	metrics := service.NewMetricsService()
	validate := validator.New()

	var channel realtime.Channel = realtime.NewLogChannel(logr)
	if redisClient != nil {
		channel = realtime.NewRedisChannel(redisClient, cfg.Realtime.ChannelPrefix, logr)
	}

	var mirror service.AuditMirror
	if len(cfg.Audit.KafkaBrokers) > 0 {
		sink, err := auditsink.NewKafkaSink(auditsink.KafkaConfig{Brokers: cfg.Audit.KafkaBrokers, Topic: cfg.Audit.KafkaTopic}, logr)
		if err != nil {
			logr.Fatal("failed to configure audit mirror", zap.Error(err))
		}
		defer sink.Close() //nolint:errcheck
		mirror = sink
	}

	userRepo := repository.NewUserRepository(db)
	contactRepo := repository.NewContactRepository(db)
	sosRepo := repository.NewSOSRepository(db)
	tokenRepo := repository.NewRefreshTokenRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	queueCfg := jobs.QueueConfig{
		Workers:    cfg.Notify.Workers,
		BufferSize: cfg.Notify.BufferSize,
		MaxRetries: cfg.Notify.MaxRetries,
		RetryDelay: cfg.Notify.RetryDelay,
	}
	notifications := service.NewNotificationService(channel, queueCfg, metrics, logr.Named("notify"))
	auditSvc := service.NewAuditService(auditRepo, mirror, validate, queueCfg, metrics, logr.Named("audit"))
	tokenSvc := service.NewTokenService(tokenRepo, auditSvc, metrics, logr.Named("token"), service.TokenConfig{
		AccessSecret:  cfg.JWT.Secret,
		AccessTTL:     cfg.JWT.Expiration,
		RefreshSecret: cfg.JWT.RefreshSecret,
		RefreshTTL:    cfg.JWT.RefreshExpiration,
		Issuer:        cfg.JWT.Issuer,
	})
	authSvc := service.NewAuthService(userRepo, tokenSvc, auditSvc, validate, logr.Named("auth"))
	sosSvc := service.NewSOSService(sosRepo, contactRepo, notifications, auditSvc, validate, metrics, logr.Named("sos"), service.SOSConfig{
		HistoryDefaultLimit: cfg.SOS.HistoryDefaultLimit,
		HistoryMaxLimit:     cfg.SOS.HistoryMaxLimit,
	})
	sweeper := service.NewTokenSweeper(tokenRepo, cfg.JWT.GCInterval, cfg.JWT.RevokedRetention, metrics, logr.Named("sweeper"))

	notifications.Start(ctx)
	auditSvc.Start(ctx)
	sweeper.Start(ctx)

	limiterCfg := ratelimit.Config{Rate: cfg.RateLimit.RequestsPerSecond, Burst: cfg.RateLimit.Burst}
	authLimiter := ratelimit.New(limiterCfg)
	defer authLimiter.Stop()
	triggerLimiter := ratelimit.New(limiterCfg)
	defer triggerLimiter.Stop()

	checks := map[string]handler.Pinger{"postgres": db}
	if redisClient != nil {
		checks["redis"] = pingRedis(redisClient)
	}

	router := newRouter(cfg, logr, routerDeps{
		tokens:         tokenSvc,
		auth:           handler.NewAuthHandler(authSvc),
		sos:            handler.NewSOSHandler(sosSvc),
		reports:        handler.NewIncidentReportHandler(service.NewIncidentReportService(sosSvc)),
		audit:          handler.NewAuditHandler(auditSvc),
		metrics:        handler.NewMetricsHandler(metrics, checks),
		metricsSvc:     metrics,
		authLimiter:    authLimiter,
		triggerLimiter: triggerLimiter,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}

	sweeper.Stop()
	notifications.Stop()
	auditSvc.Stop()
}

func pingRedis(client *redis.Client) handler.PingFunc {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
