package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/sentryscan/controller/internal/auth"
	"github.com/sentryscan/controller/internal/cache"
	"github.com/sentryscan/controller/internal/configsvc"
	"github.com/sentryscan/controller/internal/coordinator"
	"github.com/sentryscan/controller/internal/db"
	"github.com/sentryscan/controller/internal/dispatcher"
	"github.com/sentryscan/controller/internal/ingestor"
	"github.com/sentryscan/controller/internal/metrics"
	"github.com/sentryscan/controller/internal/middleware"
	"github.com/sentryscan/controller/internal/registry"
)

// gzipDefaultLevel matches compress/gzip.DefaultCompression without
// importing the constant into this file's namespace.
const gzipDefaultLevel = -1

// Dependencies collects every collaborator the three HTTP surfaces need.
// Built once at startup in cmd/controller and handed to NewRouter.
type Dependencies struct {
	DB          *db.Database
	Cache       *cache.Cache
	Registry    *registry.Registry
	Coordinator *coordinator.Coordinator
	Dispatcher  *dispatcher.Dispatcher
	Ingestor    *ingestor.Ingestor
	Config      *configsvc.Service
	JWTManager  *auth.JWTManager
	AdminKeys   *auth.AdminKeyStore
}

// NewRouter assembles the Gin engine: ambient middleware first, then the
// three surfaces, each under its own auth requirement.
func NewRouter(deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.StructuredLogger())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.GzipWithExclusions(gzipDefaultLevel, []string{"/health", "/metrics"}))
	r.Use(middleware.Timeout(middleware.DefaultTimeoutConfig()))
	r.Use(middleware.AllowedHTTPMethods())
	r.Use(middleware.DefaultSizeLimiter())
	r.Use(middleware.NewInputValidator().Middleware())

	ipLimiter := middleware.NewRateLimiter(50, 100)
	r.Use(ipLimiter.Middleware())

	health := NewHealthHandler(deps.DB, deps.Cache)
	r.GET("/health/alive", health.Alive)
	r.GET("/health/ready", health.Ready)
	r.GET("/health/started", health.Started)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	scanner := NewScannerHandler(deps.Coordinator)
	scannerGroup := r.Group("/scans")
	scannerGroup.Use(auth.OptionalScannerToken(deps.JWTManager))
	{
		// Registered before the :id routes so "preferences" is never
		// swallowed as a scan ID.
		scannerGroup.GET("/preferences", scanner.Preferences)
		scannerGroup.POST("", scanner.CreateScan)
		scannerGroup.POST("/:id", scanner.ScanAction)
		scannerGroup.GET("/:id/status", scanner.Status)
		scannerGroup.GET("/:id/results", scanner.Results)
		scannerGroup.DELETE("/:id", scanner.Delete)
	}

	admin := NewAdminHandler(deps.Registry, deps.Config)
	adminGroup := r.Group("/api/v1/admin")
	adminGroup.Use(auth.RequireAdminKey(deps.AdminKeys))
	adminGroup.Use(middleware.NewAuditLogger(deps.DB, false).Middleware())
	{
		adminGroup.GET("/agents", admin.ListAgents)
		adminGroup.PATCH("/agents", admin.UpdateAgents)
		adminGroup.POST("/agents/delete", admin.DeleteAgents)
		adminGroup.GET("/scan-agent-config", admin.GetConfig)
		adminGroup.PUT("/scan-agent-config", admin.PutConfig)
	}

	agentHandler := NewAgentHandler(deps.Registry, deps.Dispatcher, deps.Ingestor, deps.Config, deps.JWTManager)
	agentAuth := middleware.NewAgentAuth(deps.JWTManager, deps.Registry)
	agentRateLimiter := middleware.NewAgentRateLimiter(3600, 120)

	agentGroup := r.Group("/api/v1/agents")
	agentGroup.POST("/heartbeat", agentHandler.Heartbeat)

	authedAgentGroup := r.Group("/api/v1/agents")
	authedAgentGroup.Use(agentAuth.RequireAgentToken())
	authedAgentGroup.Use(agentRateLimiter.Middleware())
	{
		authedAgentGroup.GET("/jobs", agentHandler.Jobs)
		authedAgentGroup.GET("/config", agentHandler.Config)
		authedAgentGroup.POST("/jobs/:id/results", agentHandler.SubmitResults)
		authedAgentGroup.POST("/jobs/:id/complete", agentHandler.CompleteJob)
	}

	return r
}
