package execution

import "github.com/opsdesk/opsdesk/internal/models"

var transitions = map[models.ExecutionStatus][]models.ExecutionStatus{
	models.ExecutionStatusPending: {models.ExecutionStatusRunning},
	models.ExecutionStatusRunning: {models.ExecutionStatusCompleted, models.ExecutionStatusFailed},
}

// CanTransition reports whether an execution may move from one status to another.
func CanTransition(from, to models.ExecutionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// EventStatusFor maps a terminal execution status onto its source event.
func EventStatusFor(status models.ExecutionStatus) models.AutomationStatus {
	if status == models.ExecutionStatusCompleted {
		return models.AutomationStatusCompleted
	}
	return models.AutomationStatusFailed
}
