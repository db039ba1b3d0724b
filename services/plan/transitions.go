package plan

import (
	"fmt"

	"github.com/upb/grc-control-plane/models"
	"github.com/upb/grc-control-plane/services"
)

// planTransitions lists the legal outgoing plan statuses. Completed and
// Cancelled have no entry and are therefore terminal.
var planTransitions = map[models.PlanStatus][]models.PlanStatus{
	models.PlanStatusDraft:  {models.PlanStatusActive, models.PlanStatusCancelled},
	models.PlanStatusActive: {models.PlanStatusPaused, models.PlanStatusCompleted, models.PlanStatusCancelled},
	models.PlanStatusPaused: {models.PlanStatusActive, models.PlanStatusCancelled},
}

// phaseTransitions lists the phase status changes allowed without force
var phaseTransitions = map[models.PhaseStatus][]models.PhaseStatus{
	models.PhaseStatusPending:    {models.PhaseStatusInProgress, models.PhaseStatusCompleted, models.PhaseStatusSkipped},
	models.PhaseStatusInProgress: {models.PhaseStatusCompleted, models.PhaseStatusSkipped},
}

// AllowedTransitions returns the statuses a plan in from may move to
func AllowedTransitions(from models.PlanStatus) []models.PlanStatus {
	return append([]models.PlanStatus(nil), planTransitions[from]...)
}

// CanTransition reports whether from -> to is in the plan transition table
func CanTransition(from, to models.PlanStatus) bool {
	for _, s := range planTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func isValidPlanStatus(s models.PlanStatus) bool {
	for _, known := range models.AllPlanStatuses() {
		if s == known {
			return true
		}
	}
	return false
}

func invalidPlanTransition(from, to models.PlanStatus) error {
	allowed := make([]string, 0, len(planTransitions[from]))
	for _, s := range planTransitions[from] {
		allowed = append(allowed, string(s))
	}
	return services.NewDomainError(services.ErrorTypeInvalidTransition,
		fmt.Sprintf("plan cannot move from %s to %s", from, to), nil).
		WithDetail("from", string(from)).
		WithDetail("to", string(to)).
		WithDetail("allowed", allowed)
}

// phaseChange is the evaluation of one requested phase update against the current state
type phaseChange struct {
	regression      bool // progress goes down
	incomplete      bool // Completed with progress below 100
	reopen          bool // leaves Completed or Skipped
	outsideSchedule bool // any other transition not in the table
}

// needsForce reports whether the change can only be applied with force
func (c phaseChange) needsForce() bool {
	return c.regression || c.incomplete || c.reopen || c.outsideSchedule
}

// evaluatePhaseChange checks a requested status and progress against the
// current phase. Range errors are returned regardless of force. Without force a
// progress regression is reported before an illegal status transition.
func evaluatePhaseChange(current *models.Phase, status models.PhaseStatus, progress int, force bool) (phaseChange, error) {
	if progress < 0 || progress > 100 {
		return phaseChange{}, services.NewDomainError(services.ErrorTypeInvalidProgress,
			fmt.Sprintf("progress %d is outside 0..100", progress), nil).
			WithDetail("progress", progress)
	}

	change := phaseChange{
		regression: progress < current.Progress,
		incomplete: status == models.PhaseStatusCompleted && progress != 100,
	}
	if status != current.Status {
		if current.Status.IsDone() {
			change.reopen = true
		} else if !containsPhaseStatus(phaseTransitions[current.Status], status) {
			change.outsideSchedule = true
		}
	}
	if force {
		return change, nil
	}

	if change.regression {
		return change, services.NewDomainError(services.ErrorTypeInvalidProgress,
			fmt.Sprintf("progress cannot go from %d down to %d without force", current.Progress, progress), nil).
			WithDetail("current_progress", current.Progress).
			WithDetail("progress", progress)
	}
	if change.reopen || change.outsideSchedule {
		return change, services.NewDomainError(services.ErrorTypeInvalidTransition,
			fmt.Sprintf("phase cannot move from %s to %s without force", current.Status, status), nil).
			WithDetail("from", string(current.Status)).
			WithDetail("to", string(status))
	}
	if change.incomplete {
		return change, services.NewDomainError(services.ErrorTypeInvalidProgress,
			fmt.Sprintf("a completed phase needs progress 100, got %d", progress), nil).
			WithDetail("progress", progress)
	}
	return change, nil
}

func containsPhaseStatus(set []models.PhaseStatus, s models.PhaseStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
