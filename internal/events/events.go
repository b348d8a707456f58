package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	TransactionCreated = "transaction.created"
	TransactionUpdated = "transaction.updated"
	RiskFlagCreated    = "riskflag.created"
	RiskFlagReviewed   = "riskflag.reviewed"
)

// Stream names
const (
	TransactionEventsStream = "transaction.events"
)

// Base event structure
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

type TransactionCreatedEvent struct {
	TransactionID string          `json:"transactionId"`
	Type          string          `json:"type"`
	FromAccountID string          `json:"fromAccountId,omitempty"`
	ToAccountID   string          `json:"toAccountId,omitempty"`
	DeviceID      string          `json:"deviceId,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
}

type TransactionUpdatedEvent struct {
	TransactionID string `json:"transactionId"`
	From          string `json:"from"`
	To            string `json:"to"`
	Reason        string `json:"reason,omitempty"`
}

type RiskFlagCreatedEvent struct {
	FlagID        string `json:"flagId"`
	TransactionID string `json:"transactionId"`
	Reasoning     string `json:"reasoning"`
}

type RiskFlagReviewedEvent struct {
	FlagID        string `json:"flagId"`
	TransactionID string `json:"transactionId"`
	Decision      string `json:"decision"`
	ReviewerID    string `json:"reviewerId"`
}
