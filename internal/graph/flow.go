package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/eaglebank/transaction-core/internal/models"
)

const mergeInternalTransfer = `
MERGE (from:Account {id: $fromId})
MERGE (to:Account {id: $toId})
MERGE (from)-[s:SENT {transactionId: $transactionId}]->(to)
SET s.amount = $amount, s.at = $at
`

const mergeExternalTransfer = `
MERGE (from:Account {id: $fromId})
MERGE (to:External {accountNumber: $external})
MERGE (from)-[s:SENT {transactionId: $transactionId}]->(to)
SET s.amount = $amount, s.at = $at
`

const counterpartiesQuery = `
MATCH (a:Account {id: $accountId})-[s:SENT]-(other)
RETURN coalesce(other.id, other.accountNumber) AS counterparty,
       count(s) AS transfers,
       sum(toFloat(s.amount)) AS total
ORDER BY total DESC
LIMIT $limit
`

// Counterparty summarises money moved between an account and one peer.
type Counterparty struct {
	ID        string  `json:"id"`
	Transfers int64   `json:"transfers"`
	Total     float64 `json:"total"`
}

// FlowRecorder projects settled transfers into the graph as SENT edges.
type FlowRecorder struct {
	client Client
}

func NewFlowRecorder(client Client) *FlowRecorder {
	return &FlowRecorder{client: client}
}

// RecordTransfer merges the edge for a completed transfer. Replays are no-ops
// because the edge is keyed by transaction id.
func (r *FlowRecorder) RecordTransfer(ctx context.Context, txn *models.Transaction) error {
	if txn.Type != models.TypeTransfer || txn.FromAccountID == "" {
		return nil
	}
	params := map[string]any{
		"fromId":        txn.FromAccountID,
		"transactionId": txn.ID,
		"amount":        txn.Amount.String(),
		"at":            txn.UpdatedAt.UTC().Format(time.RFC3339),
	}
	cypher := mergeInternalTransfer
	if txn.ToAccountID != "" {
		params["toId"] = txn.ToAccountID
	} else {
		cypher = mergeExternalTransfer
		params["external"] = txn.ExternalAccount
	}

	if _, err := r.client.ExecuteWrite(ctx, cypher, params); err != nil {
		return fmt.Errorf("failed to record transfer %s: %w", txn.ID, err)
	}
	return nil
}

// Counterparties lists the peers an account has exchanged the most money with.
func (r *FlowRecorder) Counterparties(ctx context.Context, accountID string, limit int) ([]Counterparty, error) {
	res, err := r.client.ExecuteRead(ctx, counterpartiesQuery, map[string]any{
		"accountId": accountID,
		"limit":     int64(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load counterparties: %w", err)
	}

	out := make([]Counterparty, 0, len(res.Records))
	for _, rec := range res.Records {
		out = append(out, Counterparty{
			ID:        rec.String("counterparty"),
			Transfers: rec.Int64("transfers"),
			Total:     rec.Float64("total"),
		})
	}
	return out, nil
}
