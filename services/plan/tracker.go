package plan

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/grc-control-plane/models"
	"github.com/upb/grc-control-plane/services"
	"github.com/upb/grc-control-plane/services/tenant"
	"go.uber.org/zap"
)

// UpdatePhaseRequest represents a phase status and progress update
type UpdatePhaseRequest struct {
	PhaseID         uuid.UUID          `validate:"required"`
	Status          models.PhaseStatus `validate:"required,oneof=Pending InProgress Completed Skipped"`
	Progress        int
	ActorID         string
	Force           bool
	ExpectedVersion *int64 // when set, the phase must still be at this version
}

// PhaseTracker applies phase updates and completes the plan once every phase is done
type PhaseTracker struct {
	orchestrator *Orchestrator
	logger       *zap.Logger
}

// NewPhaseTracker creates a new PhaseTracker sharing the orchestrator's collaborators
func NewPhaseTracker(orchestrator *Orchestrator, logger *zap.Logger) *PhaseTracker {
	if logger == nil {
		logger = orchestrator.logger
	}
	return &PhaseTracker{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// UpdatePhase validates and saves a phase update. When the update leaves every
// phase of an Active plan Completed or Skipped, the plan is moved to Completed.
// A failed cascade is logged and audited but does not undo the phase update.
func (t *PhaseTracker) UpdatePhase(ctx context.Context, req UpdatePhaseRequest) (updated *models.Phase, err error) {
	forced := false
	defer func() {
		t.orchestrator.metrics.ObservePhaseUpdate(req.Status, forced, outcomeOf(err))
	}()

	if err := validateRequest(req); err != nil {
		return nil, err
	}

	o := t.orchestrator
	principal, err := o.principals.ResolveActing(ctx, req.ActorID)
	if err != nil {
		return nil, err
	}

	phase, err := o.phases.GetByID(ctx, principal.TenantID, req.PhaseID)
	if err != nil {
		return nil, err
	}
	if req.ExpectedVersion != nil && *req.ExpectedVersion != phase.Version {
		return nil, services.NewDomainError(services.ErrorTypeConflict, "phase was modified concurrently", nil).
			WithDetail("id", phase.ID.String()).
			WithDetail("expected_version", *req.ExpectedVersion).
			WithDetail("current_version", phase.Version)
	}

	plan, err := o.plans.GetByID(ctx, principal.TenantID, phase.PlanID)
	if err != nil {
		return nil, err
	}
	if plan.Status.IsTerminal() {
		return nil, services.NewDomainError(services.ErrorTypeInvalidTransition,
			fmt.Sprintf("phases of a %s plan cannot change", plan.Status), nil).
			WithDetail("plan_status", string(plan.Status))
	}

	change, err := evaluatePhaseChange(phase, req.Status, req.Progress, req.Force)
	if err != nil {
		return nil, err
	}

	pctx := principal.PolicyContext(models.ActionUpdatePhase, models.EntityTypePhase, plan.Classification, plan.Owner)
	if err := o.gate(ctx, pctx, phaseSnapshot(plan, phase)); err != nil {
		return nil, err
	}

	forced = req.Force && change.needsForce()
	now := time.Now().UTC()
	updated = phase.Clone()
	updated.Status = req.Status
	updated.Progress = req.Progress
	updated.ForceOverride = forced
	updated.UpdatedAt = now
	updated.UpdatedBy = principal.ActorID
	if req.Status == models.PhaseStatusInProgress && updated.ActualStartDate == nil {
		updated.ActualStartDate = &now
	}
	if req.Status == models.PhaseStatusCompleted && updated.ActualEndDate == nil {
		updated.ActualEndDate = &now
	}

	if err := o.phases.Update(ctx, updated, phase.Version); err != nil {
		return nil, err
	}

	if forced {
		t.logger.Warn("phase updated with force override",
			zap.String("phase_id", updated.ID.String()),
			zap.String("plan_id", plan.ID.String()),
			zap.String("tenant_id", plan.TenantID.String()),
			zap.String("from_status", string(phase.Status)),
			zap.String("to_status", string(updated.Status)),
			zap.Int("from_progress", phase.Progress),
			zap.Int("to_progress", updated.Progress),
			zap.String("actor_id", principal.ActorID))
	} else {
		t.logger.Info("phase updated",
			zap.String("phase_id", updated.ID.String()),
			zap.String("plan_id", plan.ID.String()),
			zap.String("status", string(updated.Status)),
			zap.Int("progress", updated.Progress),
			zap.Int64("version", updated.Version))
	}
	o.audit(func() error {
		return o.auditor.LogPhaseUpdated(ctx, plan, updated, phase.Status, phase.Progress, principal.ActorID)
	})

	if updated.Status.IsDone() && plan.Status == models.PlanStatusActive {
		t.cascade(ctx, principal, plan)
	}

	return updated, nil
}

// cascade completes the plan when all of its phases are done. The plan is
// re-read on every attempt so a concurrent save is retried, not overwritten.
func (t *PhaseTracker) cascade(ctx context.Context, principal tenant.Principal, plan *models.Plan) {
	o := t.orchestrator
	completed := false

	err := RetryOnConflict(ctx, o.config.ConflictRetries, o.config.RetryBaseDelay, func(ctx context.Context) error {
		current, err := o.plans.GetByID(ctx, principal.TenantID, plan.ID)
		if err != nil {
			return err
		}
		if current.Status != models.PlanStatusActive {
			return nil
		}

		phases, err := o.phases.ListByPlan(ctx, principal.TenantID, plan.ID)
		if err != nil {
			return err
		}
		for _, ph := range phases {
			if !ph.Status.IsDone() {
				return nil
			}
		}

		if _, err := o.transition(ctx, principal, current, models.PlanStatusCompleted); err != nil {
			return err
		}
		completed = true
		return nil
	})

	switch {
	case err != nil:
		o.metrics.ObserveCascade("failed")
		t.logger.Error("plan completion cascade failed",
			zap.String("plan_id", plan.ID.String()),
			zap.String("tenant_id", plan.TenantID.String()),
			zap.String("actor_id", principal.ActorID),
			zap.Error(err))
		o.audit(func() error { return o.auditor.LogCascadeFailed(ctx, plan, principal.ActorID, err) })
	case completed:
		o.metrics.ObserveCascade("completed")
		t.logger.Info("plan completed by phase cascade",
			zap.String("plan_id", plan.ID.String()),
			zap.String("tenant_id", plan.TenantID.String()))
	}
}

// phaseSnapshot is the policy view of a phase. Ownership follows the parent plan.
func phaseSnapshot(plan *models.Plan, phase *models.Phase) models.EntitySnapshot {
	return models.EntitySnapshot{
		EntityType: models.EntityTypePhase,
		EntityID:   phase.ID,
		TenantID:   phase.TenantID,
		Owner:      plan.Owner,
		Attributes: map[string]string{
			"plan_id":    plan.ID.String(),
			"phase_code": phase.PhaseCode,
			"status":     string(phase.Status),
		},
	}
}
