package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/upb/grc-control-plane/models"
	"github.com/upb/grc-control-plane/repositories"
	"github.com/upb/grc-control-plane/services"
)

type codeKey struct {
	tenantID uuid.UUID
	code     string
}

// Store is an in-process entity store. Writes compare and set the version
// under one mutex, so it offers the same conflict semantics as the SQL store.
type Store struct {
	mu     sync.RWMutex
	plans  map[uuid.UUID]*models.Plan
	codes  map[codeKey]uuid.UUID
	phases map[uuid.UUID]*models.Phase
	audit  []*models.AuditLog
}

// NewStore creates an empty Store
func NewStore() *Store {
	return &Store{
		plans:  make(map[uuid.UUID]*models.Plan),
		codes:  make(map[codeKey]uuid.UUID),
		phases: make(map[uuid.UUID]*models.Phase),
	}
}

// Repositories returns repository views over the store
func (s *Store) Repositories() *repositories.Repositories {
	return &repositories.Repositories{
		Plans:     &PlanRepository{store: s},
		Phases:    &PhaseRepository{store: s},
		AuditLogs: &AuditRepository{store: s},
	}
}

// Ping reports the store as always ready
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func planNotFound(id uuid.UUID) error {
	return services.NewDomainError(services.ErrorTypeNotFound, "plan not found", nil).
		WithDetail("plan_id", id.String())
}

func phaseNotFound(id uuid.UUID) error {
	return services.NewDomainError(services.ErrorTypeNotFound, "phase not found", nil).
		WithDetail("phase_id", id.String())
}

func versionConflict(entity string, id uuid.UUID, expected, actual int64) error {
	return services.NewDomainError(services.ErrorTypeConflict, entity+" was modified concurrently", nil).
		WithDetail("id", id.String()).
		WithDetail("expected_version", expected).
		WithDetail("current_version", actual)
}

// PlanRepository implements repositories.PlanRepository over a Store
type PlanRepository struct {
	store *Store
}

// Create stores the plan and its phases, or nothing when the code is taken
func (r *PlanRepository) Create(ctx context.Context, plan *models.Plan, phases []*models.Phase) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	key := codeKey{tenantID: plan.TenantID, code: plan.PlanCode}
	if _, exists := s.codes[key]; exists {
		return services.NewDomainError(services.ErrorTypeDuplicatePlanCode, "plan code already exists for tenant", nil).
			WithDetail("plan_code", plan.PlanCode)
	}

	stored := plan.Clone()
	stored.PhaseIDs = make([]uuid.UUID, 0, len(phases))
	for _, ph := range phases {
		stored.PhaseIDs = append(stored.PhaseIDs, ph.ID)
		s.phases[ph.ID] = ph.Clone()
	}
	s.plans[plan.ID] = stored
	s.codes[key] = plan.ID
	plan.PhaseIDs = append([]uuid.UUID(nil), stored.PhaseIDs...)
	return nil
}

// GetByID retrieves a plan by ID
func (r *PlanRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	p, ok := r.store.plans[id]
	if !ok || p.TenantID != tenantID {
		return nil, planNotFound(id)
	}
	return p.Clone(), nil
}

// GetByCode retrieves a plan by its tenant-unique code
func (r *PlanRepository) GetByCode(ctx context.Context, tenantID uuid.UUID, planCode string) (*models.Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	id, ok := r.store.codes[codeKey{tenantID: tenantID, code: planCode}]
	if !ok {
		return nil, services.NewDomainError(services.ErrorTypeNotFound, "plan not found", nil).
			WithDetail("plan_code", planCode)
	}
	return r.store.plans[id].Clone(), nil
}

// ListByTenant retrieves the plans of a tenant, newest first
func (r *PlanRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var plans []*models.Plan
	for _, p := range r.store.plans {
		if p.TenantID == tenantID {
			plans = append(plans, p.Clone())
		}
	}
	sort.Slice(plans, func(i, j int) bool {
		if plans[i].CreatedAt.Equal(plans[j].CreatedAt) {
			return plans[i].PlanCode < plans[j].PlanCode
		}
		return plans[i].CreatedAt.After(plans[j].CreatedAt)
	})

	if offset >= len(plans) {
		return []*models.Plan{}, nil
	}
	plans = plans[offset:]
	if limit > 0 && limit < len(plans) {
		plans = plans[:limit]
	}
	return plans, nil
}

// Update saves the plan if its stored version equals expectedVersion
func (r *PlanRepository) Update(ctx context.Context, plan *models.Plan, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	current, ok := r.store.plans[plan.ID]
	if !ok || current.TenantID != plan.TenantID {
		return planNotFound(plan.ID)
	}
	if current.Version != expectedVersion {
		return versionConflict("plan", plan.ID, expectedVersion, current.Version)
	}

	plan.Version = expectedVersion + 1
	stored := plan.Clone()
	// Code and phase list are fixed at creation.
	stored.PlanCode = current.PlanCode
	stored.PhaseIDs = current.PhaseIDs
	r.store.plans[plan.ID] = stored
	return nil
}

// PhaseRepository implements repositories.PhaseRepository over a Store
type PhaseRepository struct {
	store *Store
}

// GetByID retrieves a phase by ID
func (r *PhaseRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Phase, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	ph, ok := r.store.phases[id]
	if !ok || ph.TenantID != tenantID {
		return nil, phaseNotFound(id)
	}
	return ph.Clone(), nil
}

// ListByPlan retrieves the phases of a plan ordered by sequence
func (r *PhaseRepository) ListByPlan(ctx context.Context, tenantID, planID uuid.UUID) ([]*models.Phase, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	p, ok := r.store.plans[planID]
	if !ok || p.TenantID != tenantID {
		return nil, planNotFound(planID)
	}
	phases := make([]*models.Phase, 0, len(p.PhaseIDs))
	for _, id := range p.PhaseIDs {
		phases = append(phases, r.store.phases[id].Clone())
	}
	sort.Slice(phases, func(i, j int) bool { return phases[i].Sequence < phases[j].Sequence })
	return phases, nil
}

// Update saves the phase if its stored version equals expectedVersion
func (r *PhaseRepository) Update(ctx context.Context, phase *models.Phase, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	current, ok := r.store.phases[phase.ID]
	if !ok || current.TenantID != phase.TenantID {
		return phaseNotFound(phase.ID)
	}
	if current.Version != expectedVersion {
		return versionConflict("phase", phase.ID, expectedVersion, current.Version)
	}

	phase.Version = expectedVersion + 1
	stored := phase.Clone()
	stored.PlanID = current.PlanID
	stored.Sequence = current.Sequence
	r.store.phases[phase.ID] = stored
	return nil
}

// AuditRepository implements repositories.AuditRepository over a Store
type AuditRepository struct {
	store *Store
}

// Insert appends an audit log entry
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	entry := *log
	r.store.audit = append(r.store.audit, &entry)
	return nil
}

// ListByResource retrieves audit logs for one resource, newest first
func (r *AuditRepository) ListByResource(ctx context.Context, tenantID, resourceID uuid.UUID, limit, offset int) ([]*models.AuditLog, error) {
	logs := r.filter(tenantID, func(l *models.AuditLog) bool {
		return l.ResourceID != nil && *l.ResourceID == resourceID
	})
	sort.SliceStable(logs, func(i, j int) bool { return logs[i].Timestamp.After(logs[j].Timestamp) })

	if offset >= len(logs) {
		return []*models.AuditLog{}, nil
	}
	logs = logs[offset:]
	if limit > 0 && limit < len(logs) {
		logs = logs[:limit]
	}
	return logs, ctx.Err()
}

// ListByCorrelation retrieves audit logs sharing a correlation id, oldest first
func (r *AuditRepository) ListByCorrelation(ctx context.Context, tenantID, correlationID uuid.UUID) ([]*models.AuditLog, error) {
	logs := r.filter(tenantID, func(l *models.AuditLog) bool {
		return l.CorrelationID != nil && *l.CorrelationID == correlationID
	})
	sort.SliceStable(logs, func(i, j int) bool { return logs[i].Timestamp.Before(logs[j].Timestamp) })
	return logs, ctx.Err()
}

func (r *AuditRepository) filter(tenantID uuid.UUID, match func(*models.AuditLog) bool) []*models.AuditLog {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var logs []*models.AuditLog
	for _, l := range r.store.audit {
		if l.TenantID == tenantID && match(l) {
			entry := *l
			logs = append(logs, &entry)
		}
	}
	return logs
}
