package routes

import (
	"github.com/gin-gonic/gin"

	"stock_sync_backend/controllers"
	"stock_sync_backend/providers"
	"stock_sync_backend/services"
)

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, syncService *services.SyncService, quoteService *services.QuoteService,
	manager *providers.Manager, limiters map[string]*providers.RateLimiter) {

	syncController := controllers.NewSyncController(syncService, quoteService, manager, limiters)

	// API v1 group
	api := router.Group("/api/v1")
	{
		sync := api.Group("/sync")
		{
			sync.POST("/stocks", syncController.TriggerStockSync)
			sync.GET("/status/:job", syncController.GetSyncStatus)
		}

		quotes := api.Group("/quotes")
		{
			quotes.POST("/backfill", syncController.TriggerQuoteBackfill)
			quotes.GET("/status", syncController.GetQuoteStatus)
		}

		api.GET("/providers", syncController.GetProviders)
	}
}
