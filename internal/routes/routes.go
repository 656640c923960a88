package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"fee-reconciliation-backend/internal/config"
	handler "fee-reconciliation-backend/internal/handlers"
	"fee-reconciliation-backend/internal/repository"
	service "fee-reconciliation-backend/internal/services/reconciliation"
)

func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config) {
	store := repository.NewStore(db)
	ledger := repository.NewLedgerRepository(db)

	reconService := service.NewService(store, ledger, cfg.Reconciliation())
	scheduler := service.NewScheduler(store, ledger, cfg.Reconciliation())

	var notifyLimiter *rate.Limiter
	if cfg.NotifyRateLimit > 0 {
		notifyLimiter = rate.NewLimiter(rate.Limit(cfg.NotifyRateLimit), cfg.NotifyBurst)
	}

	Mount(r, handler.NewReconciliationHandler(reconService, scheduler), notifyLimiter)
}

// Mount attaches the API routes served by h. notifyLimiter, when set,
// throttles the notification intake endpoint.
func Mount(r *gin.Engine, h *handler.ReconciliationHandler, notifyLimiter *rate.Limiter) {
	api := r.Group("/api")

	// Health check
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Statement import
	recon := api.Group("/reconciliation")
	recon.POST("/import", h.Import)
	recon.POST("/upload", h.Upload)
	recon.GET("/batches/:batchId", h.GetImportBatch)

	api.POST("/notifications", handler.RateLimit(notifyLimiter), h.Notify)

	// Transaction-level routes
	tx := api.Group("/transactions")
	tx.GET("", h.ListTransactions)
	tx.POST("/:id/match", h.ManualMatchTransaction)
	tx.POST("/:id/ignore", h.IgnoreTransaction)
	tx.GET("/:id/suggestions", h.Suggestions)
	tx.GET("/:id/audit", h.AuditTrail)

	api.POST("/scheduler/run", h.RunScheduler)
}
