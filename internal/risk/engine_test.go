package risk

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/eaglebank/transaction-core/internal/config"
	"github.com/eaglebank/transaction-core/internal/models"
	"github.com/shopspring/decimal"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func entries(n int, txType string, amount int64, start time.Time, step time.Duration) []HistoryEntry {
	out := make([]HistoryEntry, n)
	for i := range out {
		out[i] = HistoryEntry{
			TransactionID: "tan-h",
			Amount:        d(amount),
			Type:          txType,
			Timestamp:     start.Add(time.Duration(i) * step),
		}
	}
	return out
}

func TestAssessTransfer(t *testing.T) {
	engine := NewEngine(DefaultThresholds())

	tests := []struct {
		name    string
		amount  int64
		history []HistoryEntry
		want    []Rule
	}{
		{
			name:   "small transfer with no history",
			amount: 100,
			want:   nil,
		},
		{
			name:   "exactly the large threshold does not fire",
			amount: 10000,
			want:   nil,
		},
		{
			name:   "large transfer",
			amount: 15000,
			want:   []Rule{RuleLargeTransaction},
		},
		{
			name:    "five in the window including subject does not fire",
			amount:  10,
			history: entries(4, models.TypeTransfer, 10, now.Add(-40*time.Second), 5*time.Second),
			want:    nil,
		},
		{
			name:    "sixth in the window fires",
			amount:  10,
			history: entries(5, models.TypeTransfer, 10, now.Add(-40*time.Second), 5*time.Second),
			want:    []Rule{RuleRapidTransactions},
		},
		{
			name:    "rapid window excludes older entries",
			amount:  10,
			history: entries(5, models.TypeTransfer, 10, now.Add(-10*time.Minute), 5*time.Second),
			want:    nil,
		},
		{
			name:    "amount anomaly against stable history",
			amount:  500,
			history: entries(6, models.TypeTransfer, 100, now.Add(-20*24*time.Hour), 3*24*time.Hour),
			want:    []Rule{RuleAmountAnomaly},
		},
		{
			name:    "anomaly needs enough samples",
			amount:  500,
			history: entries(4, models.TypeTransfer, 100, now.Add(-20*24*time.Hour), 4*24*time.Hour),
			want:    nil,
		},
		{
			name:    "later transactions are not anomaly samples",
			amount:  500,
			history: entries(6, models.TypeTransfer, 100, now.Add(time.Hour), time.Hour),
			want:    nil,
		},
		{
			name:    "only earlier transactions count as samples",
			amount:  500,
			history: append(
				entries(4, models.TypeTransfer, 100, now.Add(-20*24*time.Hour), 4*24*time.Hour),
				entries(3, models.TypeTransfer, 100, now.Add(time.Hour), time.Hour)...,
			),
			want: nil,
		},
		{
			name:   "frequency spike",
			amount: 100,
			history: append(
				entries(3, models.TypeTransfer, 100, now.Add(-30*24*time.Hour), 5*24*time.Hour),
				entries(5, models.TypeTransfer, 100, now.Add(-6*24*time.Hour), 24*time.Hour)...,
			),
			want: []Rule{RuleFrequencySpike},
		},
		{
			name:    "no spike without a baseline",
			amount:  100,
			history: entries(5, models.TypeTransfer, 100, now.Add(-6*24*time.Hour), 24*time.Hour),
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject := Subject{TransactionID: "tan-s", Type: models.TypeTransfer, Amount: d(tt.amount), Timestamp: now}
			got, err := engine.Assess(subject, tt.history)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestAssessAtm(t *testing.T) {
	engine := NewEngine(DefaultThresholds())

	located := func(loc string, txType string, amount int64, ago time.Duration) HistoryEntry {
		return HistoryEntry{TransactionID: "tan-h", Amount: d(amount), Type: txType, Timestamp: now.Add(-ago), Location: loc}
	}

	tests := []struct {
		name     string
		txType   string
		amount   int64
		location string
		history  []HistoryEntry
		want     []Rule
	}{
		{
			name:     "two locations is fine",
			txType:   models.TypeWithdrawal,
			amount:   100,
			location: "Paris",
			history:  []HistoryEntry{located("Lyon", models.TypeWithdrawal, 100, 10*time.Minute)},
		},
		{
			name:     "three locations fires",
			txType:   models.TypeWithdrawal,
			amount:   100,
			location: "Paris",
			history: []HistoryEntry{
				located("Lyon", models.TypeWithdrawal, 100, 10*time.Minute),
				located("Nice", models.TypeWithdrawal, 100, 20*time.Minute),
			},
			want: []Rule{RuleMultipleLocations},
		},
		{
			name:     "other types and old entries are ignored for locations",
			txType:   models.TypeWithdrawal,
			amount:   100,
			location: "Paris",
			history: []HistoryEntry{
				located("Lyon", models.TypeDeposit, 100, 10*time.Minute),
				located("Nice", models.TypeWithdrawal, 100, 2*time.Hour),
			},
		},
		{
			name:     "smurfing reaches the aggregate",
			txType:   models.TypeDeposit,
			amount:   1900,
			location: "Paris",
			history: []HistoryEntry{
				located("Paris", models.TypeDeposit, 1900, 5*time.Minute),
				located("Paris", models.TypeDeposit, 1900, 10*time.Minute),
				located("Paris", models.TypeDeposit, 1900, 15*time.Minute),
				located("Paris", models.TypeDeposit, 1900, 20*time.Minute),
				located("Paris", models.TypeDeposit, 500, 25*time.Minute),
			},
			want: []Rule{RuleSmurfing},
		},
		{
			name:     "deposits at or above the cap do not count",
			txType:   models.TypeDeposit,
			amount:   1000,
			location: "Paris",
			history: []HistoryEntry{
				located("Paris", models.TypeDeposit, 5000, 5*time.Minute),
				located("Paris", models.TypeDeposit, 5000, 10*time.Minute),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject := Subject{Type: tt.txType, Amount: d(tt.amount), Timestamp: now, Location: tt.location}
			got, err := engine.Assess(subject, tt.history)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestAssessUnsupportedType(t *testing.T) {
	engine := NewEngine(DefaultThresholds())
	_, err := engine.Assess(Subject{Type: "refund", Amount: d(1), Timestamp: now}, nil)
	if !errors.Is(err, models.ErrUnsupportedTransactionType) {
		t.Errorf("expected unsupported type error, got %v", err)
	}
}

func TestDecide(t *testing.T) {
	engine := NewEngine(DefaultThresholds())

	tests := []struct {
		name          string
		amount        int64
		rules         []Rule
		wantStatus    models.Status
		wantReasoning string
	}{
		{"clean transaction approved", 500, nil, models.StatusApproved, ""},
		{"fired rules block", 15000, []Rule{RuleLargeTransaction, RuleAmountAnomaly}, models.StatusBlocked, "is_large_transaction,is_amount_anomaly"},
		{"ceiling itself is approved", 20000, nil, models.StatusApproved, ""},
		{"above ceiling parks for review", 20001, nil, models.StatusBlocked, "requires_manual_review"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := engine.Decide(Subject{Amount: d(tt.amount)}, tt.rules)
			if dec.Status != tt.wantStatus || dec.Reasoning != tt.wantReasoning {
				t.Errorf("expected %s/%q, got %s/%q", tt.wantStatus, tt.wantReasoning, dec.Status, dec.Reasoning)
			}
		})
	}
}

func TestReasoningHelpers(t *testing.T) {
	rules := ParseReasoning("is_large_transaction, is_rapid_transactions")
	if len(rules) != 2 || rules[1] != RuleRapidTransactions {
		t.Fatalf("unexpected parse %v", rules)
	}
	added := NewRules(rules, []Rule{RuleLargeTransaction, RuleAmountAnomaly})
	if !reflect.DeepEqual(added, []Rule{RuleAmountAnomaly}) {
		t.Errorf("expected only the new rule, got %v", added)
	}
	if ParseReasoning("") != nil {
		t.Error("expected nil for empty reasoning")
	}
}

func TestThresholdsFromConfig(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	th, err := ThresholdsFromConfig(cfg.Risk)
	if err != nil {
		t.Fatal(err)
	}
	def := DefaultThresholds()
	if !th.LargeAmount.Equal(def.LargeAmount) || !th.AutoApprovalCeiling.Equal(def.AutoApprovalCeiling) ||
		th.RapidMaxCount != def.RapidMaxCount || th.SpikeBaselineWindow != def.SpikeBaselineWindow {
		t.Errorf("config thresholds diverge from defaults: %+v", th)
	}

	cfg.Risk.SmurfingCap = "x"
	if _, err := ThresholdsFromConfig(cfg.Risk); err == nil {
		t.Error("expected parse error")
	}
}
