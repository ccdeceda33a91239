package handler

import (
	"github.com/gin-gonic/gin"
)

func SetupRouter(h *Handler, jwtSecret, mode string) *gin.Engine {
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)

	r := gin.New()
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1", JWTAuthMiddleware(jwtSecret))
	{
		accounts := api.Group("/accounts")
		{
			accounts.POST("", h.OpenAccount)
			accounts.GET("/:id", h.GetAccount)
			accounts.GET("/:id/transactions", h.ListTransactions)
			accounts.PUT("/:id/status", AdminOnlyMiddleware(), h.ChangeAccountStatus)
		}

		ledger := api.Group("/ledger")
		{
			ledger.POST("/deposit", h.Deposit)
			ledger.POST("/withdraw", h.Withdraw)
			ledger.POST("/transfer", h.Transfer)
			ledger.POST("/reverse", AdminOnlyMiddleware(), h.Reverse)
			ledger.GET("/transactions/:reference", h.GetTransaction)
			ledger.GET("/fee", h.QuoteFee)
		}

		codes := api.Group("/codes")
		{
			codes.POST("", AdminOnlyMiddleware(), h.GenerateCode)
			codes.GET("/:code/check", h.CheckCode)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
