package router

import (
	"github.com/NomadCrew/nomad-crew-proximity/config"
	"github.com/NomadCrew/nomad-crew-proximity/handlers"
	"github.com/NomadCrew/nomad-crew-proximity/internal/websocket"
	"github.com/NomadCrew/nomad-crew-proximity/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Dependencies struct holds all dependencies required for setting up routes.
type Dependencies struct {
	Config           *config.Config
	HealthHandler    *handlers.HealthHandler
	ProximityHandler *handlers.ProximityHandler
	DeviceHandler    *handlers.DeviceHandler
	StreamHandler    *websocket.Handler
}

// SetupRouter configures and returns the Gin engine of the local control API.
func SetupRouter(deps Dependencies) *gin.Engine {
	if deps.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	// Global Middleware
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.SecurityHeadersMiddleware(&deps.Config.Server))
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(&deps.Config.Server))

	// Health and Metrics Routes
	r.GET("/health", deps.HealthHandler.DetailedHealth)
	r.GET("/health/liveness", deps.HealthHandler.LivenessCheck)
	r.GET("/health/readiness", deps.HealthHandler.ReadinessCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Swagger documentation
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := r.Group("/v1")
	{
		proximityRoutes := v1.Group("/proximity")
		{
			proximityRoutes.GET("/state", deps.ProximityHandler.GetStateHandler)
			proximityRoutes.GET("/ws", deps.StreamHandler.HandleStream)
			proximityRoutes.POST("/refresh", deps.ProximityHandler.RefreshHandler)
		}

		v1.PUT("/festival", deps.ProximityHandler.SelectFestivalHandler)
		v1.POST("/permissions/request", deps.ProximityHandler.RequestPermissionsHandler)

		sessionRoutes := v1.Group("/sessions")
		{
			sessionRoutes.POST("", deps.ProximityHandler.StartSharingHandler)
			sessionRoutes.DELETE("/current", deps.ProximityHandler.StopSharingHandler)
		}

		trackingRoutes := v1.Group("/tracking")
		{
			trackingRoutes.POST("/local", deps.ProximityHandler.StartLocalTrackingHandler)
			trackingRoutes.DELETE("/local", deps.ProximityHandler.StopLocalTrackingHandler)
		}

		// Inbound side of the host bridge
		deviceRoutes := v1.Group("/device")
		{
			deviceRoutes.PUT("/permissions", deps.DeviceHandler.SetPermissionsHandler)
			deviceRoutes.POST("/fixes", deps.DeviceHandler.PushFixesHandler)
		}
	}

	return r
}
