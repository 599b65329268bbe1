package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/safecircle-api/internal/handler"
	"github.com/noah-isme/safecircle-api/internal/middleware"
	"github.com/noah-isme/safecircle-api/internal/service"
	"github.com/noah-isme/safecircle-api/pkg/config"
	"github.com/noah-isme/safecircle-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/safecircle-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/safecircle-api/pkg/middleware/requestid"
	"github.com/noah-isme/safecircle-api/pkg/ratelimit"
)

type routerDeps struct {
	tokens         *service.TokenService
	auth           *handler.AuthHandler
	sos            *handler.SOSHandler
	reports        *handler.IncidentReportHandler
	audit          *handler.AuditHandler
	metrics        *handler.MetricsHandler
	metricsSvc     *service.MetricsService
	authLimiter    *ratelimit.Limiter
	triggerLimiter *ratelimit.Limiter
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.metricsSvc, "/metrics", "/health", "/ready"))

	r.GET("/health", deps.metrics.Health)
	r.GET("/ready", deps.metrics.Ready)
	r.GET("/metrics", deps.metrics.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	requireAuth := middleware.JWT(deps.tokens)

	auth := api.Group("/auth", deps.authLimiter.Middleware(ratelimit.ByClientIP))
	auth.POST("/login", deps.auth.Login)
	auth.POST("/refresh", deps.auth.Refresh)
	auth.POST("/logout", requireAuth, deps.auth.Logout)

	sos := api.Group("/sos", requireAuth)
	sos.POST("/trigger", deps.triggerLimiter.Middleware(middleware.SubjectID), deps.sos.Trigger)
	sos.POST("/cancel", deps.sos.Cancel)
	sos.POST("/resolve", deps.sos.Resolve)
	sos.GET("/active", deps.sos.Active)
	sos.GET("/history", deps.sos.History)
	sos.GET("/history/export", deps.reports.Export)
	sos.GET("/circle-status", deps.sos.CircleStatus)

	api.GET("/audit", requireAuth, deps.audit.List)

	return r
}
