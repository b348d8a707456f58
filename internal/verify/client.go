package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/eaglebank/transaction-core/internal/models"
	"github.com/shopspring/decimal"
)

// Verification answers
const (
	ResultCompleted = "completed"
	ResultPending   = "pending"
)

type Request struct {
	TransactionID string `json:"transaction_id" binding:"required"`
}

type Result struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Client calls the downstream verification collaborator.
type Client struct {
	http *http.Client
	url  string
}

func NewClient(url string, timeout time.Duration) *Client {
	return &Client{http: &http.Client{Timeout: timeout}, url: url}
}

// Verify posts the transaction id and decodes the answer. Transport failures
// and non-200 responses are reported as ErrDownstreamUnavailable.
func (c *Client) Verify(ctx context.Context, transactionID string) (*Result, error) {
	body, err := json.Marshal(Request{TransactionID: transactionID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal verification request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build verification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrDownstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: verifier returned %d", models.ErrDownstreamUnavailable, resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: undecodable verifier response: %v", models.ErrDownstreamUnavailable, err)
	}
	switch result.Status {
	case ResultCompleted, ResultPending:
		return &result, nil
	default:
		return nil, fmt.Errorf("%w: unexpected verifier status %q", models.ErrDownstreamUnavailable, result.Status)
	}
}

// AutoVerify is the automatic verification policy served to ATM flows. Only
// transactions under screening or already approved are verified; amounts above
// the ceiling are left pending for a human.
func AutoVerify(txn *models.Transaction, ceiling decimal.Decimal) (*Result, error) {
	if txn.Status != models.StatusProcessingRisk && txn.Status != models.StatusApproved {
		return nil, fmt.Errorf("%w: transaction %s is %s", models.ErrForbidden, txn.ID, txn.Status)
	}
	if txn.Amount.LessThanOrEqual(ceiling) {
		return &Result{Status: ResultCompleted, Message: "Transaction verified"}, nil
	}
	return &Result{Status: ResultPending, Message: "Transaction requires manual verification"}, nil
}
