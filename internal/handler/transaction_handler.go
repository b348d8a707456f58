package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/eaglebank/transaction-core/internal/cqrs"
	"github.com/eaglebank/transaction-core/internal/middleware"
	"github.com/eaglebank/transaction-core/internal/models"
	"github.com/eaglebank/transaction-core/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// TransactionCommander defines the write-side operations used by the handlers.
type TransactionCommander interface {
	CreateTransfer(ctx context.Context, cmd cqrs.CreateTransferCommand) (*models.Transaction, error)
	CreateTransferAsync(ctx context.Context, cmd cqrs.CreateTransferCommand) (string, error)
	AtmOperation(ctx context.Context, cmd cqrs.AtmOperationCommand) (*models.Transaction, error)
	Free(ctx context.Context, cmd cqrs.FreeTransactionCommand) (*models.Transaction, error)
}

// TransactionQuerier defines the read-side operations used by the handlers.
type TransactionQuerier interface {
	GetTransaction(ctx context.Context, q cqrs.GetTransactionQuery) (*models.TransactionView, error)
	GetConfirmation(ctx context.Context, q cqrs.GetConfirmationQuery) (*models.Confirmation, error)
}

type TransactionHandler struct {
	commands TransactionCommander
	queries  TransactionQuerier
}

type CreateTransferRequest struct {
	SenderAccountNumber   string      `json:"senderAccountNumber" validate:"required"`
	ReceiverAccountNumber string      `json:"receiverAccountNumber" validate:"required"`
	Amount                json.Number `json:"amount" validate:"required,decimal_gt0"`
}

// AcceptedResponse is returned while the transaction is still being worked on.
type AcceptedResponse struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	Message       string `json:"message"`
}

func NewTransactionHandler(commands TransactionCommander, queries TransactionQuerier) *TransactionHandler {
	return &TransactionHandler{commands: commands, queries: queries}
}

func (h *TransactionHandler) CreateTransfer(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var req CreateTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	cmd := cqrs.CreateTransferCommand{
		UserID:                userID,
		SenderAccountNumber:   req.SenderAccountNumber,
		ReceiverAccountNumber: req.ReceiverAccountNumber,
		Amount:                decimal.RequireFromString(req.Amount.String()),
	}

	if c.Query("async") == "true" {
		id, err := h.commands.CreateTransferAsync(c.Request.Context(), cmd)
		if err != nil {
			middleware.RespondWithDomainError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, AcceptedResponse{
			TransactionID: id,
			Status:        models.OutcomeProcessing,
			Message:       "Transfer accepted for processing",
		})
		return
	}

	txn, err := h.commands.CreateTransfer(c.Request.Context(), cmd)
	if err != nil {
		middleware.RespondWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, AcceptedResponse{
		TransactionID: txn.ID,
		Status:        models.OutcomeProcessing,
		Message:       "Transaction created. Risk screening in progress",
	})
}

// transactionParam reads the :transactionId path parameter. Ids that could
// not have been issued get a 404 without touching the store.
func transactionParam(c *gin.Context) (string, bool) {
	id := c.Param("transactionId")
	if !utils.ValidateTransactionID(id) {
		middleware.RespondWithDomainError(c, fmt.Errorf("transaction %q: %w", id, models.ErrResourceNotFound))
		return "", false
	}
	return id, true
}

func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	id, ok := transactionParam(c)
	if !ok {
		return
	}
	view, err := h.queries.GetTransaction(c.Request.Context(), cqrs.GetTransactionQuery{
		TransactionID: id,
	})
	if err != nil {
		middleware.RespondWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *TransactionHandler) GetConfirmation(c *gin.Context) {
	id, ok := transactionParam(c)
	if !ok {
		return
	}
	confirmation, err := h.queries.GetConfirmation(c.Request.Context(), cqrs.GetConfirmationQuery{
		TransactionID: id,
	})
	if err != nil {
		middleware.RespondWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, confirmation)
}
