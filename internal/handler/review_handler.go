package handler

import (
	"context"
	"net/http"

	"github.com/eaglebank/transaction-core/internal/cqrs"
	"github.com/eaglebank/transaction-core/internal/middleware"
	"github.com/eaglebank/transaction-core/internal/models"
	"github.com/eaglebank/transaction-core/internal/query"
	"github.com/gin-gonic/gin"
)

type ReviewCommander interface {
	Accept(ctx context.Context, cmd cqrs.ReviewCommand) (*models.Transaction, error)
	Reject(ctx context.Context, cmd cqrs.ReviewCommand) (*models.Transaction, error)
}

type FlagQuerier interface {
	ListFlags(ctx context.Context, q cqrs.ListFlagsQuery) ([]models.RiskFlag, error)
	GetFlag(ctx context.Context, q cqrs.GetFlagQuery) (*query.FlagDetail, error)
}

// ReviewHandler serves the AML reviewer endpoints.
type ReviewHandler struct {
	commands ReviewCommander
	queries  FlagQuerier
}

type ListFlagsRequest struct {
	Status string `form:"status" validate:"omitempty,oneof=pending reviewed all"`
}

type ListFlagsResponse struct {
	Flags []models.RiskFlag `json:"flags"`
}

func NewReviewHandler(commands ReviewCommander, queries FlagQuerier) *ReviewHandler {
	return &ReviewHandler{commands: commands, queries: queries}
}

func (h *ReviewHandler) ListFlags(c *gin.Context) {
	var req ListFlagsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid query")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	flags, err := h.queries.ListFlags(c.Request.Context(), cqrs.ListFlagsQuery{Status: req.Status})
	if err != nil {
		middleware.RespondWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, ListFlagsResponse{Flags: flags})
}

func (h *ReviewHandler) GetFlag(c *gin.Context) {
	id, ok := transactionParam(c)
	if !ok {
		return
	}
	detail, err := h.queries.GetFlag(c.Request.Context(), cqrs.GetFlagQuery{
		TransactionID: id,
	})
	if err != nil {
		middleware.RespondWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *ReviewHandler) Accept(c *gin.Context) {
	h.decide(c, h.commands.Accept)
}

func (h *ReviewHandler) Reject(c *gin.Context) {
	h.decide(c, h.commands.Reject)
}

func (h *ReviewHandler) decide(c *gin.Context, fn func(context.Context, cqrs.ReviewCommand) (*models.Transaction, error)) {
	id, ok := transactionParam(c)
	if !ok {
		return
	}
	reviewerID, _ := middleware.GetUserID(c)
	txn, err := fn(c.Request.Context(), cqrs.ReviewCommand{
		TransactionID: id,
		ReviewerID:    reviewerID,
	})
	if err != nil {
		middleware.RespondWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn.ToView())
}
