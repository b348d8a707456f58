package handler

import (
	"encoding/json"
	"net/http"

	"github.com/eaglebank/transaction-core/internal/cqrs"
	"github.com/eaglebank/transaction-core/internal/middleware"
	"github.com/eaglebank/transaction-core/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// AtmHandler serves card-authenticated ATM flows. The card and PIN take the
// place of a bearer token.
type AtmHandler struct {
	commands TransactionCommander
}

type AtmOperationRequest struct {
	CardID string      `json:"cardId" validate:"required"`
	PIN    string      `json:"pin" validate:"required,numeric,len=4"`
	AtmID  string      `json:"atmId"`
	Amount json.Number `json:"amount" validate:"required,decimal_gt0"`
}

func NewAtmHandler(commands TransactionCommander) *AtmHandler {
	return &AtmHandler{commands: commands}
}

func (h *AtmHandler) Withdraw(c *gin.Context) {
	h.operate(c, models.TypeWithdrawal)
}

func (h *AtmHandler) Deposit(c *gin.Context) {
	h.operate(c, models.TypeDeposit)
}

func (h *AtmHandler) operate(c *gin.Context, txType string) {
	var req AtmOperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	txn, err := h.commands.AtmOperation(c.Request.Context(), cqrs.AtmOperationCommand{
		Type:     txType,
		CardID:   req.CardID,
		PIN:      req.PIN,
		DeviceID: req.AtmID,
		Amount:   decimal.RequireFromString(req.Amount.String()),
	})
	if err != nil {
		middleware.RespondWithDomainError(c, err)
		return
	}

	message := "Operation accepted. Waiting for the ATM"
	if txn.DeviceID == "" {
		message = "Operation accepted. Waiting for a free ATM"
	}
	c.JSON(http.StatusAccepted, AcceptedResponse{
		TransactionID: txn.ID,
		Status:        models.OutcomeProcessing,
		Message:       message,
	})
}

// Free cancels an ATM flow that has not been picked up yet and releases its
// resources.
func (h *AtmHandler) Free(c *gin.Context) {
	id, ok := transactionParam(c)
	if !ok {
		return
	}
	txn, err := h.commands.Free(c.Request.Context(), cqrs.FreeTransactionCommand{
		TransactionID: id,
	})
	if err != nil {
		middleware.RespondWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn.ToView())
}
