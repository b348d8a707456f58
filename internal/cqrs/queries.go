package cqrs

// ---------- Transaction queries ----------

// GetTransactionQuery fetches a single transaction view.
type GetTransactionQuery struct {
	TransactionID string
}

// GetConfirmationQuery fetches the outcome summary of a transaction.
type GetConfirmationQuery struct {
	TransactionID string
}

// ---------- Risk flag queries ----------

// ListFlagsQuery lists risk flags; Status is pending, reviewed or all.
type ListFlagsQuery struct {
	Status string
}

// GetFlagQuery fetches the flag raised against a transaction together with
// the sender's top counterparties.
type GetFlagQuery struct {
	TransactionID string
}
