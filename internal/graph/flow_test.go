package graph

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/eaglebank/transaction-core/internal/config"
	"github.com/eaglebank/transaction-core/internal/models"
	"github.com/shopspring/decimal"
)

func TestRecordTransfer(t *testing.T) {
	client := NewMemoryClient()
	rec := NewFlowRecorder(client)
	ctx := context.Background()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	internal := &models.Transaction{ID: "tan-1", FromAccountID: "acc-1", ToAccountID: "acc-2",
		Amount: decimal.NewFromInt(250), Type: models.TypeTransfer, UpdatedAt: at}
	external := &models.Transaction{ID: "tan-2", FromAccountID: "acc-1", ExternalAccount: "99887766",
		Amount: decimal.NewFromInt(10), Type: models.TypeTransfer, UpdatedAt: at}
	withdrawal := &models.Transaction{ID: "tan-3", FromAccountID: "acc-1", Type: models.TypeWithdrawal}

	for _, txn := range []*models.Transaction{internal, external, withdrawal} {
		if err := rec.RecordTransfer(ctx, txn); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	writes := client.Writes()
	if len(writes) != 2 {
		t.Fatalf("expected two writes, got %d", len(writes))
	}
	if writes[0].Params["toId"] != "acc-2" || writes[0].Params["amount"] != "250" || writes[0].Params["at"] != "2026-01-02T03:04:05Z" {
		t.Errorf("unexpected internal params %v", writes[0].Params)
	}
	if !strings.Contains(writes[1].Cypher, ":External") || writes[1].Params["external"] != "99887766" {
		t.Errorf("unexpected external write %+v", writes[1])
	}
}

func TestRecordTransferError(t *testing.T) {
	boom := errors.New("bolt down")
	rec := NewFlowRecorder(NewMemoryClient().WithError(boom))
	err := rec.RecordTransfer(context.Background(), &models.Transaction{ID: "tan-1", FromAccountID: "acc-1", ToAccountID: "acc-2", Type: models.TypeTransfer})
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped driver error, got %v", err)
	}
}

func TestCounterparties(t *testing.T) {
	client := NewMemoryClient()
	client.PushReadResult(Result{Records: []Record{
		{"counterparty": "acc-2", "transfers": int64(3), "total": 900.0},
		{"counterparty": "99887766", "transfers": int64(1), "total": 10.0},
	}})

	peers, err := NewFlowRecorder(client).Counterparties(context.Background(), "acc-1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(peers) != 2 || peers[0].ID != "acc-2" || peers[0].Transfers != 3 || peers[0].Total != 900 {
		t.Errorf("unexpected counterparties %+v", peers)
	}
}

func TestNewNeo4jClientDisabledWithoutURI(t *testing.T) {
	client, err := NewNeo4jClient(context.Background(), config.GraphConfig{Database: "neo4j"})
	if !errors.Is(err, ErrGraphDisabled) {
		t.Errorf("expected ErrGraphDisabled, got %v", err)
	}
	if client != nil {
		t.Errorf("expected no client, got %T", client)
	}
}

func TestRecordAccessors(t *testing.T) {
	rec := Record{"id": "acc-1", "driverCount": int64(4), "pushedCount": 2, "total": 12.5, "wholeTotal": int64(7)}
	tests := []struct {
		name string
		got  any
		want any
	}{
		{"string", rec.String("id"), "acc-1"},
		{"string - wrong type", rec.String("total"), ""},
		{"string - missing", rec.String("nope"), ""},
		{"int64 from driver", rec.Int64("driverCount"), int64(4)},
		{"int64 from int", rec.Int64("pushedCount"), int64(2)},
		{"int64 - wrong type", rec.Int64("id"), int64(0)},
		{"float64", rec.Float64("total"), 12.5},
		{"float64 from integer sum", rec.Float64("wholeTotal"), 7.0},
		{"float64 - missing", rec.Float64("nope"), 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("[%s] expected %v got %v", tt.name, tt.want, tt.got)
			}
		})
	}
}
