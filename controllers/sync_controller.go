package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"stock_sync_backend/providers"
	"stock_sync_backend/services"
)

// SyncController handles sync and quote related requests
type SyncController struct {
	syncService  *services.SyncService
	quoteService *services.QuoteService
	manager      *providers.Manager
	limiters     map[string]*providers.RateLimiter
}

// NewSyncController creates a new sync controller
func NewSyncController(syncService *services.SyncService, quoteService *services.QuoteService,
	manager *providers.Manager, limiters map[string]*providers.RateLimiter) *SyncController {
	return &SyncController{
		syncService:  syncService,
		quoteService: quoteService,
		manager:      manager,
		limiters:     limiters,
	}
}

// TriggerStockSync starts a full stock basics sync
// POST /api/v1/sync/stocks?force=true&sources=tushare,eastmoney
func (sc *SyncController) TriggerStockSync(c *gin.Context) {
	force, _ := strconv.ParseBool(c.DefaultQuery("force", "false"))

	var sources []string
	if raw := c.Query("sources"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				sources = append(sources, name)
			}
		}
	}

	run, err := sc.syncService.RunFullSync(c.Request.Context(), force, sources)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": run})
}

// GetSyncStatus returns the persisted status of a sync job
// GET /api/v1/sync/status/:job
func (sc *SyncController) GetSyncStatus(c *gin.Context) {
	jobKey := c.Param("job")
	run, err := sc.syncService.GetStatus(c.Request.Context(), jobKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load sync status"})
		return
	}

	payload := gin.H{"data": run}
	if jobKey == services.StockSyncJobKey {
		payload["orchestrator_state"] = sc.syncService.State()
	}
	c.JSON(http.StatusOK, payload)
}

// TriggerQuoteBackfill runs the quote staleness check and backfill
// POST /api/v1/quotes/backfill
func (sc *SyncController) TriggerQuoteBackfill(c *gin.Context) {
	sc.quoteService.BackfillIfNeeded(c.Request.Context())

	run, err := sc.syncService.GetStatus(c.Request.Context(), services.QuoteBackfillJobKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load backfill status"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": run})
}

// GetQuoteStatus reports how fresh the stored quote data is
// GET /api/v1/quotes/status
func (sc *SyncController) GetQuoteStatus(c *gin.Context) {
	status, err := sc.quoteService.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load quote status"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": status})
}

// GetProviders lists the configured data sources with their rate budgets
// GET /api/v1/providers
func (sc *SyncController) GetProviders(c *gin.Context) {
	type providerInfo struct {
		providers.Descriptor
		RateLimiter *providers.RateLimiterStats `json:"rate_limiter,omitempty"`
	}

	infos := make([]providerInfo, 0)
	for _, desc := range sc.manager.Descriptors() {
		info := providerInfo{Descriptor: desc}
		if limiter, ok := sc.limiters[desc.Name]; ok {
			stats := limiter.Stats()
			info.RateLimiter = &stats
		}
		infos = append(infos, info)
	}
	c.JSON(http.StatusOK, gin.H{"data": infos})
}
