package handler

import (
	"voucherledger/internal/config"
	"voucherledger/internal/infrastructure/lock"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SetupRouter wires middleware and the API routes.
func SetupRouter(db *gorm.DB, locks lock.Provider, cfg *config.Config, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	h := NewHandler(db, locks, cfg, logger)

	api := r.Group("/api/v1")
	{
		voucher := api.Group("/voucher")
		{
			voucher.POST("/issue", h.IssueVoucher)
			voucher.POST("/redeem", h.Redeem)
			voucher.POST("/cancel", h.CancelVoucher)
			voucher.GET("/detail", h.GetVoucher)
			voucher.GET("/transactions", h.ListTransactions)
		}

		invoice := api.Group("/invoice")
		{
			invoice.POST("/generate", h.GenerateInvoices)
			invoice.POST("/approve", h.ApproveInvoice)
			invoice.POST("/pay", h.RecordPayment)
			invoice.POST("/cancel", h.CancelInvoice)
			invoice.GET("/list", h.ListInvoices)
		}

		policy := api.Group("/policy")
		{
			policy.GET("/list", h.ListPolicies)
			policy.POST("/set", h.SetPolicy)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
