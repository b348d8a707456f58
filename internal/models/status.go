package models

import "fmt"

// Status is a transaction's position in the settlement state machine.
type Status string

const (
	StatusPending        Status = "pending"
	StatusProcessingRisk Status = "processing_risk"
	StatusApproved       Status = "approved"
	StatusBlocked        Status = "blocked"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
)

var transitions = map[Status][]Status{
	StatusPending:        {StatusProcessingRisk, StatusFailed},
	StatusProcessingRisk: {StatusApproved, StatusBlocked, StatusFailed},
	StatusApproved:       {StatusCompleted, StatusFailed},
	StatusBlocked:        {StatusApproved, StatusFailed},
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition wrapped with both states when
// from -> to is not allowed.
func CheckTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Outcomes reported to polling clients.
const (
	OutcomeProcessing   = "processing"
	OutcomeSuccess      = "success"
	OutcomeFailure      = "failure"
	OutcomeManualReview = "pending-manual-review"
)

// Outcome maps a status onto the coarse answer shown to the caller.
func (s Status) Outcome() string {
	switch s {
	case StatusCompleted:
		return OutcomeSuccess
	case StatusFailed:
		return OutcomeFailure
	case StatusBlocked:
		return OutcomeManualReview
	default:
		return OutcomeProcessing
	}
}
