package router

import (
	"github.com/cuongbtq/timestamp-worker/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	healthHandler := handler.NewHealthHandler(deps)
	adHandler := handler.NewAdHandler(deps)
	blobHandler := handler.NewBlobHandler(deps)

	r.GET("/health", healthHandler.Health)

	// Public blob access, the address stored in ads.image_url
	r.GET("/blobs/:container/*name", blobHandler.ServeBlob)
	r.HEAD("/blobs/:container/*name", blobHandler.ServeBlob)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		ads := v1.Group("/ads")
		{
			// GET /api/v1/ads/:ad_id - Get ad details
			ads.GET("/:ad_id", adHandler.GetAd)

			// POST /api/v1/ads/:ad_id/timestamp - Queue the ad image for timestamping
			ads.POST("/:ad_id/timestamp", adHandler.EnqueueTimestamp)
		}
	}

	return r
}
