package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionView is the read-optimised projection of a transaction served to
// polling clients and cached in Redis.
type TransactionView struct {
	ID              string          `json:"id"`
	FromAccountID   string          `json:"fromAccountId,omitempty"`
	ToAccountID     string          `json:"toAccountId,omitempty"`
	ExternalAccount string          `json:"externalAccount,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Type            string          `json:"type"`
	Status          Status          `json:"status"`
	DeviceID        string          `json:"deviceId,omitempty"`
	CreatedAt       time.Time       `json:"createdTimestamp"`
	UpdatedAt       time.Time       `json:"updatedTimestamp"`
}

// Confirmation is the short text summary of a transaction's outcome keyed by
// transaction id.
type Confirmation struct {
	TransactionID string    `json:"transactionId"`
	Status        Status    `json:"status"`
	Outcome       string    `json:"outcome"`
	Message       string    `json:"message"`
	UpdatedAt     time.Time `json:"updatedTimestamp"`
}

// ToView converts the write model to the read view model.
func (t *Transaction) ToView() *TransactionView {
	return &TransactionView{
		ID:              t.ID,
		FromAccountID:   t.FromAccountID,
		ToAccountID:     t.ToAccountID,
		ExternalAccount: t.ExternalAccount,
		Amount:          t.Amount,
		Type:            t.Type,
		Status:          t.Status,
		DeviceID:        t.DeviceID,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

func ConfirmationKey(transactionID string) string { return "confirmation:" + transactionID }

func TransactionViewKey(transactionID string) string { return "transaction:view:" + transactionID }

// NewConfirmation summarises t. An empty message gets a default per status.
func NewConfirmation(t *Transaction, message string) *Confirmation {
	if message == "" {
		switch t.Status {
		case StatusCompleted:
			message = "Transaction completed"
		case StatusFailed:
			message = "Transaction failed"
		case StatusBlocked:
			message = "Transaction held for manual review"
		default:
			message = "Transaction is being processed"
		}
	}
	return &Confirmation{
		TransactionID: t.ID,
		Status:        t.Status,
		Outcome:       t.Status.Outcome(),
		Message:       message,
		UpdatedAt:     t.UpdatedAt,
	}
}
