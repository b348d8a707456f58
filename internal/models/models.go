package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Resource statuses shared by accounts and ATM devices. The value mirrors
// lock ownership for observability only; it is never used for exclusion.
const (
	ResourceActive = "active"
	ResourceBusy   = "busy"
)

// Amounts are stored as NUMERIC(18,2).
const AmountScale = 2

var maxAmount = decimal.New(1, 16)

// ValidAmount reports whether d is a positive amount the ledger can store
// exactly: at most two decimal places and within NUMERIC(18,2).
func ValidAmount(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Truncate(AmountScale)) && d.LessThan(maxAmount)
}

// Transaction types
const (
	TypeDeposit    = "deposit"
	TypeWithdrawal = "withdrawal"
	TypeTransfer   = "transfer"
)

type Account struct {
	ID            string          `json:"id"`
	AccountNumber string          `json:"accountNumber"`
	UserID        string          `json:"-"`
	Balance       decimal.Decimal `json:"balance"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"createdTimestamp"`
	UpdatedAt     time.Time       `json:"updatedTimestamp"`
}

type AtmDevice struct {
	ID        string    `json:"id"`
	Location  string    `json:"location"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedTimestamp"`
}

// Card authenticates at-ATM actions. PINHash is a bcrypt hash and is never
// serialised.
type Card struct {
	ID        string `json:"id"`
	AccountID string `json:"accountId"`
	PINHash   string `json:"-"`
}

// Transaction is the ledger record of a money movement. FromAccountID,
// ToAccountID and DeviceID are empty when not applicable. ExternalAccount
// holds the counterparty account number of a transfer leaving the bank.
type Transaction struct {
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

// AccountIDs returns the internal accounts touched by the transaction.
func (t *Transaction) AccountIDs() []string {
	var ids []string
	if t.FromAccountID != "" {
		ids = append(ids, t.FromAccountID)
	}
	if t.ToAccountID != "" && t.ToAccountID != t.FromAccountID {
		ids = append(ids, t.ToAccountID)
	}
	return ids
}

// SubjectAccountID is the account whose history the risk rules inspect:
// the source for transfers and withdrawals, the destination for deposits.
func (t *Transaction) SubjectAccountID() string {
	if t.Type == TypeDeposit {
		return t.ToAccountID
	}
	return t.FromAccountID
}

// Risk flag review decisions
const (
	DecisionAccepted = "accepted"
	DecisionRejected = "rejected"
)

// RiskFlag records why a transaction was blocked and the reviewer's verdict.
type RiskFlag struct {
	ID            string     `json:"id"`
	TransactionID string     `json:"transactionId"`
	Reasoning     string     `json:"reasoning"`
	Decision      string     `json:"decision,omitempty"`
	ReviewerID    string     `json:"reviewerId,omitempty"`
	ReviewedAt    *time.Time `json:"reviewedTimestamp,omitempty"`
	CreatedAt     time.Time  `json:"createdTimestamp"`
}

func (f *RiskFlag) Reviewed() bool {
	return f.Decision != ""
}
