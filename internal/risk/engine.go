package risk

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/eaglebank/transaction-core/internal/models"
	"github.com/shopspring/decimal"
)

type Engine struct {
	th Thresholds
}

func NewEngine(th Thresholds) *Engine {
	return &Engine{th: th}
}

// Thresholds returns the engine's active thresholds.
func (e *Engine) Thresholds() Thresholds { return e.th }

// Assess returns the rules subject triggers given the account's prior
// transactions. history must not contain the subject itself.
func (e *Engine) Assess(subject Subject, history []HistoryEntry) ([]Rule, error) {
	switch subject.Type {
	case models.TypeTransfer:
		return e.assessTransfer(subject, history), nil
	case models.TypeDeposit, models.TypeWithdrawal:
		return e.assessAtm(subject, ofType(history, subject.Type)), nil
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnsupportedTransactionType, subject.Type)
	}
}

func (e *Engine) assessTransfer(s Subject, history []HistoryEntry) []Rule {
	var rules []Rule
	if s.Amount.GreaterThan(e.th.LargeAmount) {
		rules = append(rules, RuleLargeTransaction)
	}
	if e.rapid(s, history) {
		rules = append(rules, RuleRapidTransactions)
	}
	if e.anomaly(s, history) {
		rules = append(rules, RuleAmountAnomaly)
	}
	if e.spike(s, history) {
		rules = append(rules, RuleFrequencySpike)
	}
	return rules
}

func (e *Engine) assessAtm(s Subject, sameType []HistoryEntry) []Rule {
	var rules []Rule
	if e.multipleLocations(s, sameType) {
		rules = append(rules, RuleMultipleLocations)
	}
	if e.smurfing(s, sameType) {
		rules = append(rules, RuleSmurfing)
	}
	return rules
}

func (e *Engine) rapid(s Subject, history []HistoryEntry) bool {
	recent := within(history, s.Timestamp.Add(-e.th.RapidWindow), s.Timestamp)
	return len(recent)+1 > e.th.RapidMaxCount
}

// anomaly compares against mean + k*sigma of prior positive amounts, using the
// population standard deviation. Transactions made after the subject are not
// samples, which matters when a blocked transfer is screened again.
func (e *Engine) anomaly(s Subject, history []HistoryEntry) bool {
	var samples []float64
	for _, h := range within(history, time.Time{}, s.Timestamp) {
		if h.Amount.IsPositive() {
			samples = append(samples, h.Amount.InexactFloat64())
		}
	}
	if len(samples) < e.th.AnomalyMinSamples || len(samples) == 0 {
		return false
	}

	var sum float64
	for _, v := range samples {
		sum += v
	}
	mean := sum / float64(len(samples))

	var sq float64
	for _, v := range samples {
		sq += (v - mean) * (v - mean)
	}
	sigma := math.Sqrt(sq / float64(len(samples)))

	return s.Amount.InexactFloat64() > mean+e.th.AnomalyK*sigma
}

// spike compares the daily rate of the recent window (subject included) with
// the daily rate of the baseline window immediately preceding it.
func (e *Engine) spike(s Subject, history []HistoryEntry) bool {
	recentStart := s.Timestamp.Add(-e.th.SpikeRecentWindow)
	baselineStart := recentStart.Add(-e.th.SpikeBaselineWindow)

	var recent, baseline int
	for _, h := range history {
		switch {
		case h.Timestamp.After(recentStart) && !h.Timestamp.After(s.Timestamp):
			recent++
		case h.Timestamp.After(baselineStart) && !h.Timestamp.After(recentStart):
			baseline++
		}
	}
	if baseline == 0 {
		return false
	}
	recent++

	recentRate := float64(recent) / e.th.SpikeRecentWindow.Hours() * 24
	baselineRate := float64(baseline) / e.th.SpikeBaselineWindow.Hours() * 24
	return recentRate > e.th.SpikeFactor*baselineRate
}

func (e *Engine) multipleLocations(s Subject, sameType []HistoryEntry) bool {
	locations := make(map[string]struct{})
	if s.Location != "" {
		locations[s.Location] = struct{}{}
	}
	for _, h := range within(sameType, s.Timestamp.Add(-e.th.LocationWindow), s.Timestamp) {
		if h.Location != "" {
			locations[h.Location] = struct{}{}
		}
	}
	return len(locations) > e.th.LocationMaxDistinct
}

func (e *Engine) smurfing(s Subject, sameType []HistoryEntry) bool {
	total := decimal.Zero
	if s.Amount.LessThan(e.th.SmurfingCap) {
		total = total.Add(s.Amount)
	}
	for _, h := range within(sameType, s.Timestamp.Add(-e.th.SmurfingWindow), s.Timestamp) {
		if h.Amount.LessThan(e.th.SmurfingCap) {
			total = total.Add(h.Amount)
		}
	}
	return total.GreaterThanOrEqual(e.th.SmurfingAggregate)
}

// Decision is the routing outcome of a screening.
type Decision struct {
	Status    models.Status
	Rules     []Rule
	Reasoning string
}

// Blocked reports whether the transaction must wait for a reviewer.
func (d Decision) Blocked() bool { return d.Status == models.StatusBlocked }

// Decide routes a screened transaction: any fired rule blocks it, and amounts
// above the automatic-approval ceiling are parked for manual review even when
// nothing fired.
func (e *Engine) Decide(subject Subject, rules []Rule) Decision {
	if len(rules) > 0 {
		return Decision{Status: models.StatusBlocked, Rules: rules, Reasoning: Reasoning(rules)}
	}
	if subject.Amount.GreaterThan(e.th.AutoApprovalCeiling) {
		rules = []Rule{RuleManualReview}
		return Decision{Status: models.StatusBlocked, Rules: rules, Reasoning: Reasoning(rules)}
	}
	return Decision{Status: models.StatusApproved}
}

// Reasoning joins rule names with commas.
func Reasoning(rules []Rule) string {
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = string(r)
	}
	return strings.Join(names, ",")
}

// ParseReasoning splits stored reasoning back into rules.
func ParseReasoning(reasoning string) []Rule {
	if reasoning == "" {
		return nil
	}
	parts := strings.Split(reasoning, ",")
	rules := make([]Rule, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			rules = append(rules, Rule(p))
		}
	}
	return rules
}

// NewRules returns the rules in current that are absent from previous.
func NewRules(previous, current []Rule) []Rule {
	seen := make(map[Rule]struct{}, len(previous))
	for _, r := range previous {
		seen[r] = struct{}{}
	}
	var out []Rule
	for _, r := range current {
		if _, ok := seen[r]; !ok {
			out = append(out, r)
		}
	}
	return out
}
