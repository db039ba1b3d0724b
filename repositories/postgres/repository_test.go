package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/grc-control-plane/models"
	"github.com/upb/grc-control-plane/repositories"
	"github.com/upb/grc-control-plane/services"
	"go.uber.org/zap"
)

var (
	planColumnNames = []string{
		"id", "tenant_id", "plan_code", "name", "description", "plan_type", "status",
		"classification", "owner", "version", "correlation_id", "scope_snapshot",
		"start_date", "target_end_date", "actual_start_date", "actual_end_date",
		"created_at", "created_by", "updated_at", "updated_by",
	}
	phaseColumnNames = []string{
		"id", "plan_id", "tenant_id", "sequence", "phase_code", "name", "status", "progress",
		"force_override", "version", "planned_start_date", "planned_end_date",
		"actual_start_date", "actual_end_date", "created_at", "created_by", "updated_at", "updated_by",
	}
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return WrapDB(sqlDB, zap.NewNop()), mock
}

func newMockRepositories(t *testing.T) (*repositories.Repositories, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return NewRepositoryFactoryFromDB(db, zap.NewNop()).NewRepositories(), mock
}

func testPlan(tenantID uuid.UUID) (*models.Plan, []*models.Phase) {
	plan := models.NewPlan(tenantID, "P-100", "Assessment 2026", models.PlanTypeFull, "alice")
	plan.Classification = models.ClassificationRestricted
	plan.Owner = "alice"
	plan.StartDate = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	plan.TargetEndDate = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	phases := []*models.Phase{
		models.NewPhase(plan, 0, "PHASE_A", "A", "alice"),
		models.NewPhase(plan, 1, "PHASE_B", "B", "alice"),
	}
	return plan, phases
}

func planRow(p *models.Plan) *sqlmock.Rows {
	return sqlmock.NewRows(planColumnNames).AddRow(
		p.ID.String(), p.TenantID.String(), p.PlanCode, p.Name, p.Description,
		string(p.PlanType), string(p.Status), string(p.Classification), p.Owner,
		p.Version, p.CorrelationID.String(), []byte(`[{"kind":"baseline","code":"A"}]`),
		p.StartDate, p.TargetEndDate, nil, nil,
		p.CreatedAt, p.CreatedBy, p.UpdatedAt, p.UpdatedBy,
	)
}

func phaseRow(rows *sqlmock.Rows, ph *models.Phase) *sqlmock.Rows {
	return rows.AddRow(
		ph.ID.String(), ph.PlanID.String(), ph.TenantID.String(), int64(ph.Sequence),
		ph.PhaseCode, ph.Name, string(ph.Status), int64(ph.Progress), ph.ForceOverride,
		ph.Version, ph.PlannedStartDate, ph.PlannedEndDate, nil, nil,
		ph.CreatedAt, ph.CreatedBy, ph.UpdatedAt, ph.UpdatedBy,
	)
}

func TestPlanRepository_CreateCommitsPlanAndPhases(t *testing.T) {
	repos, mock := newMockRepositories(t)
	plan, phases := testPlan(uuid.New())

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO plans").
		WithArgs(plan.ID, plan.TenantID, "P-100", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), nil,
			sqlmock.AnyArg(), sqlmock.AnyArg(), nil, nil, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO plan_phases").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO plan_phases").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repos.Plans.Create(context.Background(), plan, phases))
	assert.Equal(t, []uuid.UUID{phases[0].ID, phases[1].ID}, plan.PhaseIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanRepository_CreateDuplicateCodeRollsBack(t *testing.T) {
	repos, mock := newMockRepositories(t)
	plan, phases := testPlan(uuid.New())

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO plans").
		WillReturnError(&pq.Error{Code: "23505", Constraint: planCodeConstraint})
	mock.ExpectRollback()

	err := repos.Plans.Create(context.Background(), plan, phases)
	require.Error(t, err)
	assert.True(t, services.IsDuplicatePlanCodeError(err))
	assert.Equal(t, "P-100", services.GetErrorDetails(err)["plan_code"])
	assert.Empty(t, plan.PhaseIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanRepository_CreatePhaseFailureRollsBack(t *testing.T) {
	repos, mock := newMockRepositories(t)
	plan, phases := testPlan(uuid.New())

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO plans").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO plan_phases").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := repos.Plans.Create(context.Background(), plan, phases)
	require.Error(t, err)
	assert.True(t, services.IsInternalError(err))
	assert.Contains(t, err.Error(), "PHASE_A")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanRepository_GetByID(t *testing.T) {
	repos, mock := newMockRepositories(t)
	tenantID := uuid.New()
	plan, phases := testPlan(tenantID)

	mock.ExpectQuery(regexp.QuoteMeta("FROM plans WHERE tenant_id = $1 AND id = $2")).
		WithArgs(tenantID, plan.ID).
		WillReturnRows(planRow(plan))
	mock.ExpectQuery("SELECT id FROM plan_phases").
		WithArgs(tenantID, plan.ID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(phases[0].ID.String()).AddRow(phases[1].ID.String()))

	got, err := repos.Plans.GetByID(context.Background(), tenantID, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.ID, got.ID)
	assert.Equal(t, models.PlanStatusDraft, got.Status)
	assert.Equal(t, models.ClassificationRestricted, got.Classification)
	assert.Equal(t, []uuid.UUID{phases[0].ID, phases[1].ID}, got.PhaseIDs)
	assert.JSONEq(t, `[{"kind":"baseline","code":"A"}]`, string(got.ScopeSnapshot))
	assert.Nil(t, got.ActualStartDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanRepository_GetByIDOtherTenantIsNotFound(t *testing.T) {
	repos, mock := newMockRepositories(t)
	id := uuid.New()

	mock.ExpectQuery("FROM plans").WillReturnRows(sqlmock.NewRows(planColumnNames))

	_, err := repos.Plans.GetByID(context.Background(), uuid.New(), id)
	require.Error(t, err)
	assert.True(t, services.IsNotFoundError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanRepository_Update(t *testing.T) {
	tenantID := uuid.New()
	plan, _ := testPlan(tenantID)
	versionQuery := regexp.QuoteMeta("SELECT version FROM plans WHERE tenant_id = $1 AND id = $2")

	t.Run("saves when version matches", func(t *testing.T) {
		repos, mock := newMockRepositories(t)
		p := plan.Clone()
		p.Status = models.PlanStatusActive

		mock.ExpectExec("UPDATE plans SET").
			WithArgs(tenantID, p.ID, p.Name, p.Description, "Active", "Restricted", "alice",
				sqlmock.AnyArg(), nil, nil, sqlmock.AnyArg(), sqlmock.AnyArg(), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repos.Plans.Update(context.Background(), p, 1))
		assert.Equal(t, int64(2), p.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale version is a conflict", func(t *testing.T) {
		repos, mock := newMockRepositories(t)
		p := plan.Clone()

		mock.ExpectExec("UPDATE plans SET").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(versionQuery).
			WithArgs(tenantID, p.ID).
			WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(3)))

		err := repos.Plans.Update(context.Background(), p, 1)
		require.Error(t, err)
		assert.True(t, services.IsConflictError(err))
		assert.Equal(t, int64(3), services.GetErrorDetails(err)["current_version"])
		assert.Equal(t, int64(1), p.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row is not found", func(t *testing.T) {
		repos, mock := newMockRepositories(t)

		mock.ExpectExec("UPDATE plans SET").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(versionQuery).WillReturnRows(sqlmock.NewRows([]string{"version"}))

		err := repos.Plans.Update(context.Background(), plan.Clone(), 1)
		assert.True(t, services.IsNotFoundError(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPlanRepository_ListByTenant(t *testing.T) {
	repos, mock := newMockRepositories(t)
	tenantID := uuid.New()
	first, firstPhases := testPlan(tenantID)
	second, _ := testPlan(tenantID)
	second.PlanCode = "P-101"

	rows := planRow(first)
	rows.AddRow(
		second.ID.String(), tenantID.String(), second.PlanCode, second.Name, "",
		"FULL", "Draft", "Restricted", "alice", int64(1), second.CorrelationID.String(), nil,
		second.StartDate, second.TargetEndDate, nil, nil,
		second.CreatedAt, "alice", second.UpdatedAt, "alice",
	)
	mock.ExpectQuery("FROM plans WHERE tenant_id").
		WithArgs(tenantID, 20, 0).
		WillReturnRows(rows)
	mock.ExpectQuery("SELECT plan_id, id FROM plan_phases").
		WithArgs(tenantID, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"plan_id", "id"}).
			AddRow(first.ID.String(), firstPhases[0].ID.String()).
			AddRow(first.ID.String(), firstPhases[1].ID.String()))

	plans, err := repos.Plans.ListByTenant(context.Background(), tenantID, 20, 0)
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Len(t, plans[0].PhaseIDs, 2)
	assert.Empty(t, plans[1].PhaseIDs)
	assert.Nil(t, plans[1].ScopeSnapshot)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPhaseRepository_ListByPlan(t *testing.T) {
	tenantID := uuid.New()
	plan, phases := testPlan(tenantID)

	t.Run("ordered by sequence", func(t *testing.T) {
		repos, mock := newMockRepositories(t)
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(tenantID, plan.ID).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		rows := sqlmock.NewRows(phaseColumnNames)
		phaseRow(rows, phases[0])
		phaseRow(rows, phases[1])
		mock.ExpectQuery("FROM plan_phases WHERE tenant_id").WillReturnRows(rows)

		got, err := repos.Phases.ListByPlan(context.Background(), tenantID, plan.ID)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "PHASE_A", got[0].PhaseCode)
		assert.Equal(t, models.PhaseStatusPending, got[1].Status)
		assert.Equal(t, 1, got[1].Sequence)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown plan", func(t *testing.T) {
		repos, mock := newMockRepositories(t)
		mock.ExpectQuery("SELECT EXISTS").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		_, err := repos.Phases.ListByPlan(context.Background(), tenantID, plan.ID)
		assert.True(t, services.IsNotFoundError(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPhaseRepository_GetAndUpdate(t *testing.T) {
	repos, mock := newMockRepositories(t)
	tenantID := uuid.New()
	_, phases := testPlan(tenantID)
	ph := phases[0]

	mock.ExpectQuery(regexp.QuoteMeta("FROM plan_phases WHERE tenant_id = $1 AND id = $2")).
		WithArgs(tenantID, ph.ID).
		WillReturnRows(phaseRow(sqlmock.NewRows(phaseColumnNames), ph))

	got, err := repos.Phases.GetByID(context.Background(), tenantID, ph.ID)
	require.NoError(t, err)
	assert.Equal(t, ph.ID, got.ID)

	got.Status = models.PhaseStatusCompleted
	got.Progress = 100
	mock.ExpectExec("UPDATE plan_phases SET").
		WithArgs(tenantID, ph.ID, "Completed", 100, false, nil, nil, sqlmock.AnyArg(), sqlmock.AnyArg(), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM plan_phases").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(2)))

	err = repos.Phases.Update(context.Background(), got, 1)
	require.Error(t, err)
	assert.True(t, services.IsConflictError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_InsertAndList(t *testing.T) {
	repos, mock := newMockRepositories(t)
	tenantID := uuid.New()
	correlation := uuid.New()
	resource := uuid.New()

	log := models.NewAuditLog(tenantID, models.AuditActionPlanCreated, models.EntityTypePlan).
		WithActor("alice").
		WithResource(resource).
		WithCorrelation(correlation).
		WithDetails(map[string]string{"plan_code": "P-100"})

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(log.ID, tenantID, "alice", "plan_created", "Plan", sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repos.AuditLogs.Insert(context.Background(), log))

	mock.ExpectQuery("FROM audit_logs WHERE tenant_id = .+ AND correlation_id").
		WithArgs(tenantID, correlation).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "actor_id", "action", "resource_type", "resource_id",
			"correlation_id", "details", "request_id", "timestamp",
		}).AddRow(
			log.ID.String(), tenantID.String(), "alice", "plan_created", "Plan", resource.String(),
			correlation.String(), []byte(`{"plan_code":"P-100"}`), nil, log.Timestamp,
		))

	logs, err := repos.AuditLogs.ListByCorrelation(context.Background(), tenantID, correlation)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "alice", logs[0].ActorID)
	require.NotNil(t, logs[0].ResourceID)
	assert.Equal(t, resource, *logs[0].ResourceID)
	assert.Empty(t, logs[0].RequestID)
	assert.JSONEq(t, `{"plan_code":"P-100"}`, string(logs[0].Details))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionManager_JoinsOuterTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	txm := NewTransactionManager(db, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := txm.InTransaction(context.Background(), func(ctx context.Context, outer repositories.Transaction) error {
		return txm.InTransaction(ctx, func(ctx context.Context, inner repositories.Transaction) error {
			assert.Same(t, outer, inner)
			_, err := GetExecutor(ctx, db).ExecContext(ctx, "INSERT INTO audit_logs DEFAULT VALUES")
			return err
		})
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()
	err = txm.InTransaction(context.Background(), func(context.Context, repositories.Transaction) error {
		return errors.New("boom")
	})
	assert.EqualError(t, err, "boom")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDB_HealthCheck(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer sqlDB.Close()
	db := WrapDB(sqlDB, zap.NewNop())

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	assert.NoError(t, db.HealthCheck(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("down"))
	assert.ErrorContains(t, db.HealthCheck(context.Background()), "database health check failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}
