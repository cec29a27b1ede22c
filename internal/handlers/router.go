package handlers

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"prototype-versions-backend/internal/blob"
	"prototype-versions-backend/internal/logger"
	"prototype-versions-backend/internal/middleware"
	"prototype-versions-backend/internal/registry"
	"prototype-versions-backend/internal/services"
)

type RouterConfig struct {
	ServiceName     string
	JWTSecret       string
	MaxArchiveBytes int64

	Store     registry.Store
	Blobs     blob.Store
	Submitter VersionSubmitter
	Resolver  ServableResolver
	Access    services.AccessEvaluator
	DB        Pinger
	Log       *logger.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.RequestLogger(cfg.Log))
	router.Use(middleware.Recovery(cfg.Log))

	prototypesHandler := NewPrototypesHandler(cfg.Store)
	uploadHandler := NewUploadHandler(cfg.Submitter, cfg.MaxArchiveBytes)
	statusHandler := NewStatusHandler(cfg.Store)
	filesHandler := NewFilesHandler(cfg.Store, cfg.Blobs)
	servableHandler := NewServableHandler(cfg.Resolver)
	accessHandler := NewAccessHandler(cfg.Access)

	// Health check (no auth)
	router.GET("/health", HealthHandler(cfg.DB))

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(cfg.JWTSecret))

	// Prototypes
	api.POST("/prototypes", prototypesHandler.CreatePrototype)
	api.GET("/prototypes/:prototype_id", prototypesHandler.GetPrototype)
	api.GET("/prototypes/:prototype_id/servable", servableHandler.GetServable)

	// Versions
	api.POST("/prototypes/:prototype_id/versions", uploadHandler.CreateVersion)
	api.GET("/prototypes/:prototype_id/versions", statusHandler.ListVersions)
	api.GET("/prototypes/:prototype_id/versions/:version_id", statusHandler.GetVersion)
	api.GET("/prototypes/:prototype_id/versions/:version_id/files", filesHandler.GetFiles)

	api.GET("/me/versioning", accessHandler.GetVersioningAccess)

	return router
}
