package handler

import (
	"context"
	"net/http"

	"github.com/eaglebank/transaction-core/internal/cqrs"
	"github.com/eaglebank/transaction-core/internal/middleware"
	"github.com/eaglebank/transaction-core/internal/verify"
	"github.com/gin-gonic/gin"
)

type AutoVerifier interface {
	AutoVerify(ctx context.Context, cmd cqrs.AutoVerifyCommand) (*verify.Result, error)
}

// VerifyHandler answers the downstream verification call made by workers.
type VerifyHandler struct {
	verifier AutoVerifier
}

func NewVerifyHandler(verifier AutoVerifier) *VerifyHandler {
	return &VerifyHandler{verifier: verifier}
}

func (h *VerifyHandler) VerifyTransactionAuto(c *gin.Context) {
	var req verify.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "transaction_id is required")
		return
	}

	res, err := h.verifier.AutoVerify(c.Request.Context(), cqrs.AutoVerifyCommand{TransactionID: req.TransactionID})
	if err != nil {
		middleware.RespondWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
