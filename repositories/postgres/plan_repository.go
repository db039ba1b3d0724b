package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/upb/grc-control-plane/models"
	"github.com/upb/grc-control-plane/repositories"
	"github.com/upb/grc-control-plane/services"
	"go.uber.org/zap"
)

const planColumns = `id, tenant_id, plan_code, name, description, plan_type, status,
		       classification, owner, version, correlation_id, scope_snapshot,
		       start_date, target_end_date, actual_start_date, actual_end_date,
		       created_at, created_by, updated_at, updated_by`

// planCodeConstraint is the unique constraint on (tenant_id, plan_code)
const planCodeConstraint = "plans_tenant_code_key"

// PlanRepository implements the repositories.PlanRepository interface
type PlanRepository struct {
	db     *DB
	txm    *TransactionManager
	logger *zap.Logger
}

// NewPlanRepository creates a new plan repository
func NewPlanRepository(db *DB, txm *TransactionManager, logger *zap.Logger) *PlanRepository {
	return &PlanRepository{
		db:     db,
		txm:    txm,
		logger: logger,
	}
}

// Create inserts the plan and its phases in one transaction
func (r *PlanRepository) Create(ctx context.Context, plan *models.Plan, phases []*models.Phase) error {
	err := r.txm.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		executor := GetExecutor(ctx, r.db)

		_, err := executor.ExecContext(ctx, `
			INSERT INTO plans (
				id, tenant_id, plan_code, name, description, plan_type, status,
				classification, owner, version, correlation_id, scope_snapshot,
				start_date, target_end_date, actual_start_date, actual_end_date,
				created_at, created_by, updated_at, updated_by
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20
			)`,
			plan.ID,
			plan.TenantID,
			plan.PlanCode,
			plan.Name,
			plan.Description,
			plan.PlanType,
			plan.Status,
			plan.Classification,
			plan.Owner,
			plan.Version,
			plan.CorrelationID,
			nullJSON(plan.ScopeSnapshot),
			plan.StartDate,
			plan.TargetEndDate,
			plan.ActualStartDate,
			plan.ActualEndDate,
			plan.CreatedAt,
			plan.CreatedBy,
			plan.UpdatedAt,
			plan.UpdatedBy,
		)
		if err != nil {
			if isUniqueViolation(err, planCodeConstraint) {
				return services.NewDomainError(services.ErrorTypeDuplicatePlanCode, "plan code already exists for tenant", err).
					WithDetail("plan_code", plan.PlanCode)
			}
			return storageError("failed to create plan", err)
		}

		for _, ph := range phases {
			if err := insertPhase(ctx, executor, ph); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	plan.PhaseIDs = make([]uuid.UUID, len(phases))
	for i, ph := range phases {
		plan.PhaseIDs[i] = ph.ID
	}

	r.logger.Debug("plan created",
		zap.String("id", plan.ID.String()),
		zap.String("plan_code", plan.PlanCode),
		zap.Int("phases", len(phases)))
	return nil
}

// GetByID retrieves a plan by ID
func (r *PlanRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Plan, error) {
	query := `SELECT ` + planColumns + `
		FROM plans
		WHERE tenant_id = $1 AND id = $2`

	plan, err := scanPlan(GetExecutor(ctx, r.db).QueryRowContext(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("plan", id)
		}
		return nil, storageError("failed to get plan", err)
	}
	if err := r.loadPhaseIDs(ctx, tenantID, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// GetByCode retrieves a plan by its tenant-unique code
func (r *PlanRepository) GetByCode(ctx context.Context, tenantID uuid.UUID, planCode string) (*models.Plan, error) {
	query := `SELECT ` + planColumns + `
		FROM plans
		WHERE tenant_id = $1 AND plan_code = $2`

	plan, err := scanPlan(GetExecutor(ctx, r.db).QueryRowContext(ctx, query, tenantID, planCode))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, services.NewDomainError(services.ErrorTypeNotFound, "plan not found", nil).
				WithDetail("plan_code", planCode)
		}
		return nil, storageError("failed to get plan", err)
	}
	if err := r.loadPhaseIDs(ctx, tenantID, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// ListByTenant retrieves the plans of a tenant, newest first
func (r *PlanRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.Plan, error) {
	query := `SELECT ` + planColumns + `
		FROM plans
		WHERE tenant_id = $1
		ORDER BY created_at DESC, plan_code
		LIMIT $2 OFFSET $3`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, storageError("failed to list plans", err)
	}
	defer rows.Close()

	plans := []*models.Plan{}
	byID := make(map[uuid.UUID]*models.Plan)
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, storageError("failed to scan plan", err)
		}
		plans = append(plans, plan)
		byID[plan.ID] = plan
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("error iterating plan rows", err)
	}
	if len(plans) == 0 {
		return plans, nil
	}

	ids := make([]uuid.UUID, len(plans))
	for i, p := range plans {
		ids[i] = p.ID
	}
	phaseRows, err := executor.QueryContext(ctx, `
		SELECT plan_id, id
		FROM plan_phases
		WHERE tenant_id = $1 AND plan_id = ANY($2)
		ORDER BY plan_id, sequence`,
		tenantID, pq.Array(ids))
	if err != nil {
		return nil, storageError("failed to list plan phases", err)
	}
	defer phaseRows.Close()

	for phaseRows.Next() {
		var planID, phaseID uuid.UUID
		if err := phaseRows.Scan(&planID, &phaseID); err != nil {
			return nil, storageError("failed to scan phase id", err)
		}
		if p, ok := byID[planID]; ok {
			p.PhaseIDs = append(p.PhaseIDs, phaseID)
		}
	}
	if err := phaseRows.Err(); err != nil {
		return nil, storageError("error iterating phase rows", err)
	}
	return plans, nil
}

// Update saves mutable plan fields when the stored version equals expectedVersion
func (r *PlanRepository) Update(ctx context.Context, plan *models.Plan, expectedVersion int64) error {
	query := `
		UPDATE plans
		SET name = $3, description = $4, status = $5, classification = $6, owner = $7,
		    target_end_date = $8, actual_start_date = $9, actual_end_date = $10,
		    updated_at = $11, updated_by = $12, version = version + 1
		WHERE tenant_id = $1 AND id = $2 AND version = $13
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		plan.TenantID,
		plan.ID,
		plan.Name,
		plan.Description,
		plan.Status,
		plan.Classification,
		plan.Owner,
		plan.TargetEndDate,
		plan.ActualStartDate,
		plan.ActualEndDate,
		plan.UpdatedAt,
		plan.UpdatedBy,
		expectedVersion,
	)
	if err != nil {
		return storageError("failed to update plan", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return storageError("failed to read update result", err)
	}
	if affected == 0 {
		return versionCheck(ctx, executor, "plan", `SELECT version FROM plans WHERE tenant_id = $1 AND id = $2`, plan.TenantID, plan.ID, expectedVersion)
	}

	plan.Version = expectedVersion + 1
	r.logger.Debug("plan updated",
		zap.String("id", plan.ID.String()),
		zap.String("status", string(plan.Status)),
		zap.Int64("version", plan.Version))
	return nil
}

func (r *PlanRepository) loadPhaseIDs(ctx context.Context, tenantID uuid.UUID, plan *models.Plan) error {
	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, `
		SELECT id
		FROM plan_phases
		WHERE tenant_id = $1 AND plan_id = $2
		ORDER BY sequence`,
		tenantID, plan.ID)
	if err != nil {
		return storageError("failed to load phase ids", err)
	}
	defer rows.Close()

	plan.PhaseIDs = []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return storageError("failed to scan phase id", err)
		}
		plan.PhaseIDs = append(plan.PhaseIDs, id)
	}
	if err := rows.Err(); err != nil {
		return storageError("error iterating phase rows", err)
	}
	return nil
}

// versionCheck tells a missing row apart from a stale version after a
// version-checked update matched nothing
func versionCheck(ctx context.Context, executor Executor, entity, query string, tenantID, id uuid.UUID, expected int64) error {
	var current int64
	err := executor.QueryRowContext(ctx, query, tenantID, id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound(entity, id)
		}
		return storageError("failed to read "+entity+" version", err)
	}
	return versionConflict(entity, id, expected, current)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPlan(row rowScanner) (*models.Plan, error) {
	plan := &models.Plan{}
	var scope []byte
	err := row.Scan(
		&plan.ID,
		&plan.TenantID,
		&plan.PlanCode,
		&plan.Name,
		&plan.Description,
		&plan.PlanType,
		&plan.Status,
		&plan.Classification,
		&plan.Owner,
		&plan.Version,
		&plan.CorrelationID,
		&scope,
		&plan.StartDate,
		&plan.TargetEndDate,
		&plan.ActualStartDate,
		&plan.ActualEndDate,
		&plan.CreatedAt,
		&plan.CreatedBy,
		&plan.UpdatedAt,
		&plan.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}
	if len(scope) > 0 {
		plan.ScopeSnapshot = scope
	}
	return plan, nil
}
