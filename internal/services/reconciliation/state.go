package reconciliation

import (
	"fxwallet/internal/models"
	"fxwallet/internal/providers"
)

var transitions = map[string][]string{
	models.StatePending:        {models.StateRequiresAction, models.StateCompleted, models.StateFailed},
	models.StateRequiresAction: {models.StateCompleted, models.StateFailed},
}

// CanTransition reports whether a transaction may move from one state to
// another. Nothing leaves a terminal state.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TargetState is the state an outcome drives a transaction to, or "" when
// the outcome changes nothing.
func TargetState(outcome providers.Outcome) string {
	switch outcome {
	case providers.OutcomeSucceeded:
		return models.StateCompleted
	case providers.OutcomeFailed:
		return models.StateFailed
	case providers.OutcomeRequiresAction:
		return models.StateRequiresAction
	}
	return ""
}
