package risk

import (
	"time"

	"github.com/eaglebank/transaction-core/internal/config"
	"github.com/shopspring/decimal"
)

// Rule names are persisted verbatim in RiskFlag reasoning.
type Rule string

const (
	RuleLargeTransaction  Rule = "is_large_transaction"
	RuleRapidTransactions Rule = "is_rapid_transactions"
	RuleAmountAnomaly     Rule = "is_amount_anomaly"
	RuleFrequencySpike    Rule = "is_frequency_spike"
	RuleMultipleLocations Rule = "is_multiple_locations"
	RuleSmurfing          Rule = "is_smurfing"

	// Pseudo-rules recorded when a transaction is parked without a rule firing.
	RuleManualReview       Rule = "requires_manual_review"
	RuleManualVerification Rule = "requires_manual_verification"
)

// Subject is the transaction being screened.
type Subject struct {
	TransactionID string
	AccountID     string
	Type          string
	Amount        decimal.Decimal
	Timestamp     time.Time
	Location      string
}

// HistoryEntry is a prior transaction of the subject's account. Location is
// the ATM device location, empty for transfers.
type HistoryEntry struct {
	TransactionID string
	Amount        decimal.Decimal
	Type          string
	Timestamp     time.Time
	Location      string
}

// Thresholds parameterise every rule.
type Thresholds struct {
	LargeAmount         decimal.Decimal
	RapidWindow         time.Duration
	RapidMaxCount       int
	AnomalyK            float64
	AnomalyMinSamples   int
	SpikeRecentWindow   time.Duration
	SpikeBaselineWindow time.Duration
	SpikeFactor         float64
	LocationWindow      time.Duration
	LocationMaxDistinct int
	SmurfingWindow      time.Duration
	SmurfingCap         decimal.Decimal
	SmurfingAggregate   decimal.Decimal
	AutoApprovalCeiling decimal.Decimal
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		LargeAmount:         decimal.NewFromInt(10000),
		RapidWindow:         time.Minute,
		RapidMaxCount:       5,
		AnomalyK:            3,
		AnomalyMinSamples:   5,
		SpikeRecentWindow:   7 * 24 * time.Hour,
		SpikeBaselineWindow: 30 * 24 * time.Hour,
		SpikeFactor:         2,
		LocationWindow:      30 * time.Minute,
		LocationMaxDistinct: 2,
		SmurfingWindow:      60 * time.Minute,
		SmurfingCap:         decimal.NewFromInt(2000),
		SmurfingAggregate:   decimal.NewFromInt(10000),
		AutoApprovalCeiling: decimal.NewFromInt(20000),
	}
}

// ThresholdsFromConfig converts validated configuration into Thresholds.
func ThresholdsFromConfig(cfg config.RiskConfig) (Thresholds, error) {
	t := Thresholds{
		RapidWindow:         cfg.RapidWindow,
		RapidMaxCount:       cfg.RapidMaxCount,
		AnomalyK:            cfg.AnomalyK,
		AnomalyMinSamples:   cfg.AnomalyMinSamples,
		SpikeRecentWindow:   cfg.SpikeRecentWindow,
		SpikeBaselineWindow: cfg.SpikeBaselineWindow,
		SpikeFactor:         cfg.SpikeFactor,
		LocationWindow:      cfg.LocationWindow,
		LocationMaxDistinct: cfg.LocationMaxDistinct,
		SmurfingWindow:      cfg.SmurfingWindow,
	}
	var err error
	if t.LargeAmount, err = decimal.NewFromString(cfg.LargeAmount); err != nil {
		return t, err
	}
	if t.SmurfingCap, err = decimal.NewFromString(cfg.SmurfingCap); err != nil {
		return t, err
	}
	if t.SmurfingAggregate, err = decimal.NewFromString(cfg.SmurfingAggregate); err != nil {
		return t, err
	}
	if t.AutoApprovalCeiling, err = decimal.NewFromString(cfg.AutoApprovalCeiling); err != nil {
		return t, err
	}
	return t, nil
}

// within returns entries with timestamps in [from, to].
func within(history []HistoryEntry, from, to time.Time) []HistoryEntry {
	var out []HistoryEntry
	for _, e := range history {
		if e.Timestamp.Before(from) || e.Timestamp.After(to) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func ofType(history []HistoryEntry, txType string) []HistoryEntry {
	var out []HistoryEntry
	for _, e := range history {
		if e.Type == txType {
			out = append(out, e)
		}
	}
	return out
}
