package handler

import (
	"net/http"

	"github.com/eaglebank/transaction-core/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type Handlers struct {
	Transactions *TransactionHandler
	Atm          *AtmHandler
	Review       *ReviewHandler
	Verify       *VerifyHandler
}

// NewRouter mounts every route. Transfers and reviewer routes need a bearer
// token; ATM routes authenticate by card and PIN.
func NewRouter(h Handlers, jwtSecret []byte, log *logrus.Entry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	v1.GET("/transactions/:transactionId", h.Transactions.GetTransaction)
	v1.GET("/transactions/:transactionId/confirmation", h.Transactions.GetConfirmation)
	v1.POST("/verify-transaction-auto", h.Verify.VerifyTransactionAuto)

	atm := v1.Group("/atm")
	atm.POST("/withdrawals", h.Atm.Withdraw)
	atm.POST("/deposits", h.Atm.Deposit)
	atm.POST("/transactions/:transactionId/free", h.Atm.Free)

	authed := v1.Group("")
	authed.Use(middleware.AuthMiddleware(jwtSecret))
	authed.POST("/transfers", h.Transactions.CreateTransfer)

	aml := authed.Group("/aml")
	aml.Use(middleware.RequireRole(middleware.RoleAML))
	aml.GET("/flags", h.Review.ListFlags)
	aml.GET("/flags/:transactionId", h.Review.GetFlag)
	aml.POST("/transactions/:transactionId/accept", h.Review.Accept)
	aml.POST("/transactions/:transactionId/reject", h.Review.Reject)

	return r
}
