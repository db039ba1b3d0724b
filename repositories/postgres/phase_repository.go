package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/upb/grc-control-plane/models"
	"go.uber.org/zap"
)

const phaseColumns = `id, plan_id, tenant_id, sequence, phase_code, name, status, progress,
		       force_override, version, planned_start_date, planned_end_date,
		       actual_start_date, actual_end_date, created_at, created_by, updated_at, updated_by`

// PhaseRepository implements the repositories.PhaseRepository interface
type PhaseRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPhaseRepository creates a new phase repository
func NewPhaseRepository(db *DB, logger *zap.Logger) *PhaseRepository {
	return &PhaseRepository{
		db:     db,
		logger: logger,
	}
}

func insertPhase(ctx context.Context, executor Executor, ph *models.Phase) error {
	_, err := executor.ExecContext(ctx, `
		INSERT INTO plan_phases (
			id, plan_id, tenant_id, sequence, phase_code, name, status, progress,
			force_override, version, planned_start_date, planned_end_date,
			actual_start_date, actual_end_date, created_at, created_by, updated_at, updated_by
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18
		)`,
		ph.ID,
		ph.PlanID,
		ph.TenantID,
		ph.Sequence,
		ph.PhaseCode,
		ph.Name,
		ph.Status,
		ph.Progress,
		ph.ForceOverride,
		ph.Version,
		ph.PlannedStartDate,
		ph.PlannedEndDate,
		ph.ActualStartDate,
		ph.ActualEndDate,
		ph.CreatedAt,
		ph.CreatedBy,
		ph.UpdatedAt,
		ph.UpdatedBy,
	)
	if err != nil {
		return storageError("failed to create phase "+ph.PhaseCode, err)
	}
	return nil
}

// GetByID retrieves a phase by ID
func (r *PhaseRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Phase, error) {
	query := `SELECT ` + phaseColumns + `
		FROM plan_phases
		WHERE tenant_id = $1 AND id = $2`

	phase, err := scanPhase(GetExecutor(ctx, r.db).QueryRowContext(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("phase", id)
		}
		return nil, storageError("failed to get phase", err)
	}
	return phase, nil
}

// ListByPlan retrieves the phases of a plan ordered by sequence.
// A plan that does not exist in the tenant is reported as not found.
func (r *PhaseRepository) ListByPlan(ctx context.Context, tenantID, planID uuid.UUID) ([]*models.Phase, error) {
	executor := GetExecutor(ctx, r.db)

	var exists bool
	err := executor.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM plans WHERE tenant_id = $1 AND id = $2)`,
		tenantID, planID).Scan(&exists)
	if err != nil {
		return nil, storageError("failed to check plan", err)
	}
	if !exists {
		return nil, notFound("plan", planID)
	}

	query := `SELECT ` + phaseColumns + `
		FROM plan_phases
		WHERE tenant_id = $1 AND plan_id = $2
		ORDER BY sequence`

	rows, err := executor.QueryContext(ctx, query, tenantID, planID)
	if err != nil {
		return nil, storageError("failed to list phases", err)
	}
	defer rows.Close()

	phases := []*models.Phase{}
	for rows.Next() {
		phase, err := scanPhase(rows)
		if err != nil {
			return nil, storageError("failed to scan phase", err)
		}
		phases = append(phases, phase)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("error iterating phase rows", err)
	}
	return phases, nil
}

// Update saves mutable phase fields when the stored version equals expectedVersion
func (r *PhaseRepository) Update(ctx context.Context, phase *models.Phase, expectedVersion int64) error {
	query := `
		UPDATE plan_phases
		SET status = $3, progress = $4, force_override = $5,
		    actual_start_date = $6, actual_end_date = $7,
		    updated_at = $8, updated_by = $9, version = version + 1
		WHERE tenant_id = $1 AND id = $2 AND version = $10
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		phase.TenantID,
		phase.ID,
		phase.Status,
		phase.Progress,
		phase.ForceOverride,
		phase.ActualStartDate,
		phase.ActualEndDate,
		phase.UpdatedAt,
		phase.UpdatedBy,
		expectedVersion,
	)
	if err != nil {
		return storageError("failed to update phase", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return storageError("failed to read update result", err)
	}
	if affected == 0 {
		return versionCheck(ctx, executor, "phase", `SELECT version FROM plan_phases WHERE tenant_id = $1 AND id = $2`, phase.TenantID, phase.ID, expectedVersion)
	}

	phase.Version = expectedVersion + 1
	r.logger.Debug("phase updated",
		zap.String("id", phase.ID.String()),
		zap.String("status", string(phase.Status)),
		zap.Int("progress", phase.Progress),
		zap.Int64("version", phase.Version))
	return nil
}

func scanPhase(row rowScanner) (*models.Phase, error) {
	phase := &models.Phase{}
	err := row.Scan(
		&phase.ID,
		&phase.PlanID,
		&phase.TenantID,
		&phase.Sequence,
		&phase.PhaseCode,
		&phase.Name,
		&phase.Status,
		&phase.Progress,
		&phase.ForceOverride,
		&phase.Version,
		&phase.PlannedStartDate,
		&phase.PlannedEndDate,
		&phase.ActualStartDate,
		&phase.ActualEndDate,
		&phase.CreatedAt,
		&phase.CreatedBy,
		&phase.UpdatedAt,
		&phase.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}
	return phase, nil
}
