// Package api provides HTTP routing for the certificate delivery service.
// It wires handlers and middleware into the app API, the certificate upload
// API and the operational endpoints.
package api

import (
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/api/handlers"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/api/middleware"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/config"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Services are the collaborators the routes are served from
type Services struct {
	Delivery *service.DeliveryService
	Push     *service.PushRegistry
	DB       handlers.Pinger
	// Upload guards the upload API. Nil leaves it open, for local use only.
	Upload middleware.TokenValidator
}

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, svc *Services, logger *zap.Logger) *gin.Engine {
	// Set Gin mode
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORSMiddleware(cfg))

	appHandler := handlers.NewAppHandler(svc.Delivery, svc.Push, logger.With(zap.String("component", "app_api")))
	cgsHandler := handlers.NewCGSHandler(svc.Delivery, logger.With(zap.String("component", "cgs_api")))
	healthHandler := handlers.NewHealthHandler(svc.DB, logger)

	// App routes, authenticated by payload signatures
	app := router.Group("/app/delivery/v1")
	{
		app.GET("", appHandler.Hello)
		app.POST("/covidcert/register", appHandler.Register)
		app.POST("/covidcert", appHandler.Fetch)
		app.POST("/covidcert/complete", appHandler.Complete)
		app.POST("/push/register", appHandler.RegisterPush)
	}

	// Upload routes for the certificate generation service
	cgs := router.Group("/cgs/delivery/v1")
	if svc.Upload != nil {
		cgs.Use(middleware.AuthMiddleware(svc.Upload, logger))
	} else {
		logger.Warn("Upload API is not authenticated, JWT validation is disabled")
	}
	{
		cgs.GET("", cgsHandler.Hello)
		cgs.POST("/covidcert", cgsHandler.Upload)
	}

	router.GET("/actuator/health", healthHandler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
