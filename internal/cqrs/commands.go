package cqrs

import "github.com/shopspring/decimal"

// CreateTransferCommand moves money from one of the caller's accounts to an
// account number. TransactionID is set when the id was issued ahead of a
// deferred create.
type CreateTransferCommand struct {
	TransactionID         string          `json:"transactionId,omitempty"`
	UserID                string          `json:"userId"`
	SenderAccountNumber   string          `json:"senderAccountNumber"`
	ReceiverAccountNumber string          `json:"receiverAccountNumber"`
	Amount                decimal.Decimal `json:"amount"`
}

// AtmOperationCommand is a card-authenticated withdrawal or deposit. An empty
// DeviceID lets the system pick a free ATM.
type AtmOperationCommand struct {
	Type     string
	CardID   string
	PIN      string
	DeviceID string
	Amount   decimal.Decimal
}

type FreeTransactionCommand struct {
	TransactionID string
}

type ReviewCommand struct {
	TransactionID string
	ReviewerID    string
}

type AutoVerifyCommand struct {
	TransactionID string
}
