package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/grc-control-plane/models"
	"github.com/upb/grc-control-plane/repositories"
	"github.com/upb/grc-control-plane/services"
	"github.com/upb/grc-control-plane/services/tenant"
	"github.com/upb/grc-control-plane/utils"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// PolicyGate evaluates a policy context against an entity snapshot
type PolicyGate interface {
	Enforce(pctx models.PolicyContext, snap models.EntitySnapshot) error
}

// PrincipalResolver resolves the acting tenant and actor of a request
type PrincipalResolver interface {
	Resolve(ctx context.Context) (tenant.Principal, error)
	ResolveActing(ctx context.Context, actorID string) (tenant.Principal, error)
}

// ScopeDeriver supplies the ordered applicability scope used to template new plans
type ScopeDeriver interface {
	DeriveScope(ctx context.Context, tenantID uuid.UUID, planType models.PlanType) ([]models.ScopeItem, error)
}

// Auditor records plan lifecycle events. Implementations must not block.
type Auditor interface {
	LogPlanCreated(ctx context.Context, plan *models.Plan, actorID string) error
	LogPlanStatusUpdated(ctx context.Context, plan *models.Plan, from models.PlanStatus, actorID string) error
	LogCascadeFailed(ctx context.Context, plan *models.Plan, actorID string, cause error) error
	LogPhaseUpdated(ctx context.Context, plan *models.Plan, phase *models.Phase, from models.PhaseStatus, fromProgress int, actorID string) error
	LogPolicyViolation(ctx context.Context, pctx models.PolicyContext, entityID uuid.UUID, violations []models.PolicyViolation) error
}

// Recorder receives plan metrics. Implementations must be safe for concurrent use.
type Recorder interface {
	ObservePlanCreated(planType models.PlanType, phases int)
	ObserveTransition(from, to models.PlanStatus, outcome string)
	ObservePhaseUpdate(status models.PhaseStatus, forced bool, outcome string)
	ObserveCascade(outcome string)
}

// Config holds the tunables of the orchestrator
type Config struct {
	ConflictRetries int           // attempts for the cascade plan save
	RetryBaseDelay  time.Duration // first backoff between attempts
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		ConflictRetries: 3,
		RetryBaseDelay:  10 * time.Millisecond,
	}
}

// Dependencies are the collaborators of the orchestrator. Scopes, Auditor and
// Metrics are optional.
type Dependencies struct {
	Plans      repositories.PlanRepository
	Phases     repositories.PhaseRepository
	Policy     PolicyGate
	Principals PrincipalResolver
	Scopes     ScopeDeriver
	Auditor    Auditor
	Metrics    Recorder
	Logger     *zap.Logger
}

// CreatePlanRequest represents a plan creation request
type CreatePlanRequest struct {
	TenantID       uuid.UUID             // defaults to the caller's tenant
	PlanCode       string                `validate:"required,max=64,code"`
	Name           string                `validate:"required,max=255"`
	Description    string                `validate:"max=2000"`
	PlanType       models.PlanType       `validate:"omitempty,oneof=QUICKSCAN FULL REMEDIATION ASSESSMENT"`
	Classification models.Classification `validate:"omitempty,oneof=Public Internal Confidential Restricted"`
	Owner          string                `validate:"max=255"`
	DerivedScope   []models.ScopeItem    `validate:"dive"`
	StartDate      time.Time
	TargetEndDate  time.Time
	ActorID        string // must match the authenticated caller when set
}

// Orchestrator creates plans and drives the plan status state machine
type Orchestrator struct {
	plans      repositories.PlanRepository
	phases     repositories.PhaseRepository
	policy     PolicyGate
	principals PrincipalResolver
	scopes     ScopeDeriver
	auditor    Auditor
	metrics    Recorder
	config     Config
	logger     *zap.Logger
}

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(deps Dependencies, config Config) *Orchestrator {
	if deps.Auditor == nil {
		deps.Auditor = nopAuditor{}
	}
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if config.ConflictRetries < 1 {
		config.ConflictRetries = DefaultConfig().ConflictRetries
	}

	return &Orchestrator{
		plans:      deps.Plans,
		phases:     deps.Phases,
		policy:     deps.Policy,
		principals: deps.Principals,
		scopes:     deps.Scopes,
		auditor:    deps.Auditor,
		metrics:    deps.Metrics,
		config:     config,
		logger:     deps.Logger,
	}
}

// CreatePlan creates a Draft plan with one Pending phase per distinct scope item.
// The plan and its phases are stored atomically.
func (o *Orchestrator) CreatePlan(ctx context.Context, req CreatePlanRequest) (*models.Plan, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	principal, err := o.principals.ResolveActing(ctx, req.ActorID)
	if err != nil {
		return nil, err
	}

	tenantID := req.TenantID
	if tenantID == uuid.Nil {
		tenantID = principal.TenantID
	}
	planType := req.PlanType
	if planType == "" {
		planType = models.PlanTypeAssessment
	}

	plan := models.NewPlan(tenantID, req.PlanCode, req.Name, planType, principal.ActorID)
	plan.Description = req.Description
	plan.Classification = req.Classification
	if plan.Classification == "" {
		plan.Classification = models.DefaultClassification
	}
	plan.Owner = req.Owner
	plan.StartDate, plan.TargetEndDate = planWindow(req.StartDate, req.TargetEndDate)

	// Tenant isolation rejects a request for a tenant other than the caller's
	if err := o.enforce(ctx, principal, models.ActionCreate, plan); err != nil {
		return nil, err
	}

	scope := distinctScope(req.DerivedScope)
	if len(scope) > 0 {
		snapshot, err := json.Marshal(scope)
		if err != nil {
			return nil, services.WrapInternal("failed to encode scope snapshot", err)
		}
		plan.ScopeSnapshot = snapshot
	}

	phases := buildPhases(plan, scope, principal.ActorID)
	plan.PhaseIDs = phaseIDs(phases)

	if err := o.plans.Create(ctx, plan, phases); err != nil {
		if services.IsDuplicatePlanCodeError(err) {
			o.logger.Info("plan code already exists",
				zap.String("tenant_id", tenantID.String()),
				zap.String("plan_code", req.PlanCode))
		}
		return nil, err
	}

	o.metrics.ObservePlanCreated(plan.PlanType, len(phases))
	o.audit(func() error { return o.auditor.LogPlanCreated(ctx, plan, principal.ActorID) })
	o.logger.Info("plan created",
		zap.String("plan_id", plan.ID.String()),
		zap.String("tenant_id", tenantID.String()),
		zap.String("plan_code", plan.PlanCode),
		zap.String("plan_type", string(plan.PlanType)),
		zap.Int("phases", len(phases)),
		zap.String("actor_id", principal.ActorID))

	return plan, nil
}

// CreatePlanFromScope derives the scope of the caller's tenant and creates the plan from it.
// A scope already present on the request is replaced.
func (o *Orchestrator) CreatePlanFromScope(ctx context.Context, req CreatePlanRequest) (*models.Plan, error) {
	if o.scopes == nil {
		return nil, services.WrapInternal("scope derivation is not configured", nil)
	}

	principal, err := o.principals.ResolveActing(ctx, req.ActorID)
	if err != nil {
		return nil, err
	}
	tenantID := req.TenantID
	if tenantID == uuid.Nil {
		tenantID = principal.TenantID
	}

	scope, err := o.scopes.DeriveScope(ctx, tenantID, req.PlanType)
	if err != nil {
		return nil, services.WrapInternal("failed to derive scope", err)
	}
	req.DerivedScope = scope
	return o.CreatePlan(ctx, req)
}

// GetPlan retrieves a plan of the caller's tenant
func (o *Orchestrator) GetPlan(ctx context.Context, planID uuid.UUID) (*models.Plan, error) {
	principal, err := o.principals.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	return o.plans.GetByID(ctx, principal.TenantID, planID)
}

// ListPlanPhases retrieves the phases of a plan in sequence order
func (o *Orchestrator) ListPlanPhases(ctx context.Context, planID uuid.UUID) ([]*models.Phase, error) {
	principal, err := o.principals.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	return o.phases.ListByPlan(ctx, principal.TenantID, planID)
}

// ListTenantPlans retrieves the plans of the caller's tenant, newest first
func (o *Orchestrator) ListTenantPlans(ctx context.Context, limit, offset int) ([]*models.Plan, error) {
	principal, err := o.principals.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return o.plans.ListByTenant(ctx, principal.TenantID, limit, offset)
}

// UpdatePlanStatus moves a plan through the status state machine. The change is
// gated by the UpdateStatus policy and saved against the version that was read.
func (o *Orchestrator) UpdatePlanStatus(ctx context.Context, planID uuid.UUID, newStatus models.PlanStatus, actorID string) (*models.Plan, error) {
	if !isValidPlanStatus(newStatus) {
		return nil, services.NewDomainError(services.ErrorTypeValidation,
			fmt.Sprintf("unknown plan status %q", newStatus), nil).
			WithDetail("status", string(newStatus))
	}

	principal, err := o.principals.ResolveActing(ctx, actorID)
	if err != nil {
		return nil, err
	}

	plan, err := o.plans.GetByID(ctx, principal.TenantID, planID)
	if err != nil {
		return nil, err
	}

	return o.transition(ctx, principal, plan, newStatus)
}

func (o *Orchestrator) transition(ctx context.Context, principal tenant.Principal, plan *models.Plan, to models.PlanStatus) (updated *models.Plan, err error) {
	from := plan.Status
	defer func() {
		o.metrics.ObserveTransition(from, to, outcomeOf(err))
	}()

	if !CanTransition(from, to) {
		return nil, invalidPlanTransition(from, to)
	}

	if to == models.PlanStatusCompleted {
		if err := o.ensurePhasesDone(ctx, plan); err != nil {
			return nil, err
		}
	}

	if err := o.enforce(ctx, principal, models.ActionUpdateStatus, plan); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	updated = plan.Clone()
	updated.Status = to
	updated.UpdatedAt = now
	updated.UpdatedBy = principal.ActorID
	if to == models.PlanStatusActive && updated.ActualStartDate == nil {
		updated.ActualStartDate = &now
	}
	if to == models.PlanStatusCompleted && updated.ActualEndDate == nil {
		updated.ActualEndDate = &now
	}

	if err := o.plans.Update(ctx, updated, plan.Version); err != nil {
		return nil, err
	}

	o.audit(func() error { return o.auditor.LogPlanStatusUpdated(ctx, updated, from, principal.ActorID) })
	o.logger.Info("plan status updated",
		zap.String("plan_id", updated.ID.String()),
		zap.String("tenant_id", updated.TenantID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int64("version", updated.Version),
		zap.String("actor_id", principal.ActorID))

	return updated, nil
}

// ensurePhasesDone fails unless every phase of plan is Completed or Skipped
func (o *Orchestrator) ensurePhasesDone(ctx context.Context, plan *models.Plan) error {
	phases, err := o.phases.ListByPlan(ctx, plan.TenantID, plan.ID)
	if err != nil {
		return err
	}

	var open []string
	for _, ph := range phases {
		if !ph.Status.IsDone() {
			open = append(open, ph.PhaseCode)
		}
	}
	if len(open) > 0 {
		return services.NewDomainError(services.ErrorTypeInvalidTransition,
			fmt.Sprintf("plan has %d phase(s) that are not completed or skipped", len(open)), nil).
			WithDetail("from", string(plan.Status)).
			WithDetail("to", string(models.PlanStatusCompleted)).
			WithDetail("open_phases", open)
	}
	return nil
}

// enforce runs the policy gate for action on plan and audits a denial
func (o *Orchestrator) enforce(ctx context.Context, principal tenant.Principal, action models.Action, plan *models.Plan) error {
	pctx := principal.PolicyContext(action, models.EntityTypePlan, plan.Classification, plan.Owner)
	return o.gate(ctx, pctx, plan.Snapshot())
}

func (o *Orchestrator) gate(ctx context.Context, pctx models.PolicyContext, snap models.EntitySnapshot) error {
	err := o.policy.Enforce(pctx, snap)
	if err != nil && services.IsPolicyViolationError(err) {
		violations := services.GetViolations(err)
		o.audit(func() error { return o.auditor.LogPolicyViolation(ctx, pctx, snap.EntityID, violations) })
	}
	return err
}

// audit runs fn and logs a failure. Audit problems never fail the operation.
func (o *Orchestrator) audit(fn func() error) {
	if err := fn(); err != nil {
		o.logger.Warn("failed to queue audit event", zap.Error(err))
	}
}

func validateRequest(req interface{}) error {
	if err := utils.ValidateStruct(req); err != nil {
		derr := services.NewDomainError(services.ErrorTypeValidation, "invalid request", err)
		if fields := utils.GetValidationFields(err); fields != nil {
			derr.WithDetail("fields", fields)
		}
		return derr
	}
	return nil
}

// outcomeOf labels the result of an operation for metrics
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "applied"
	case services.IsConflictError(err):
		return "conflict"
	case services.IsPolicyViolationError(err):
		return "denied"
	case services.IsInvalidTransitionError(err), services.IsInvalidProgressError(err), services.IsValidationError(err):
		return "rejected"
	default:
		return "error"
	}
}

type nopAuditor struct{}

func (nopAuditor) LogPlanCreated(context.Context, *models.Plan, string) error { return nil }
func (nopAuditor) LogPlanStatusUpdated(context.Context, *models.Plan, models.PlanStatus, string) error {
	return nil
}
func (nopAuditor) LogCascadeFailed(context.Context, *models.Plan, string, error) error { return nil }
func (nopAuditor) LogPhaseUpdated(context.Context, *models.Plan, *models.Phase, models.PhaseStatus, int, string) error {
	return nil
}
func (nopAuditor) LogPolicyViolation(context.Context, models.PolicyContext, uuid.UUID, []models.PolicyViolation) error {
	return nil
}

type nopRecorder struct{}

func (nopRecorder) ObservePlanCreated(models.PlanType, int) {}
func (nopRecorder) ObserveTransition(models.PlanStatus, models.PlanStatus, string) {}
func (nopRecorder) ObservePhaseUpdate(models.PhaseStatus, bool, string) {}
func (nopRecorder) ObserveCascade(string) {}
