package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/grc-control-plane/models"
	"github.com/upb/grc-control-plane/services/tenant"
	"go.uber.org/zap"
)

// MockAuditRepository is a mock implementation of AuditRepository
type MockAuditRepository struct {
	mock.Mock
	mu           sync.Mutex
	insertedLogs []*models.AuditLog
}

func (m *MockAuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	args := m.Called(ctx, log)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertedLogs = append(m.insertedLogs, log)
	return args.Error(0)
}

func (m *MockAuditRepository) ListByResource(ctx context.Context, tenantID, resourceID uuid.UUID, limit, offset int) ([]*models.AuditLog, error) {
	args := m.Called(ctx, tenantID, resourceID, limit, offset)
	if logs := args.Get(0); logs != nil {
		return logs.([]*models.AuditLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) ListByCorrelation(ctx context.Context, tenantID, correlationID uuid.UUID) ([]*models.AuditLog, error) {
	args := m.Called(ctx, tenantID, correlationID)
	if logs := args.Get(0); logs != nil {
		return logs.([]*models.AuditLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) GetInsertedLogs() []*models.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.AuditLog(nil), m.insertedLogs...)
}

func startService(t *testing.T, repo *MockAuditRepository, config Config) *AuditService {
	t.Helper()
	service := NewAuditService(repo, zap.NewNop(), config)
	require.NoError(t, service.Start())
	return service
}

func waitForLogs(t *testing.T, repo *MockAuditRepository, n int) []*models.AuditLog {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(repo.GetInsertedLogs()) >= n
	}, 2*time.Second, 10*time.Millisecond)
	return repo.GetInsertedLogs()
}

func decodeDetails(t *testing.T, log *models.AuditLog) map[string]interface{} {
	t.Helper()
	var details map[string]interface{}
	require.NoError(t, json.Unmarshal(log.Details, &details))
	return details
}

func testPlan() *models.Plan {
	plan := models.NewPlan(uuid.New(), "P-100", "Annual assessment", models.PlanTypeFull, "alice")
	plan.Classification = models.ClassificationRestricted
	plan.PhaseIDs = []uuid.UUID{uuid.New(), uuid.New()}
	return plan
}

func TestAuditService_StartStop(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	config := Config{
		BufferSize:  10,
		WorkerCount: 2,
	}

	service := NewAuditService(mockRepo, zap.NewNop(), config)

	err := service.Start()
	require.NoError(t, err)

	stats := service.GetStats()
	assert.True(t, stats.Started)
	assert.Equal(t, 2, stats.WorkerCount)
	assert.Equal(t, 10, stats.BufferSize)

	// Cannot start again
	assert.Error(t, service.Start())

	require.NoError(t, service.Stop(5*time.Second))
	assert.False(t, service.GetStats().Started)

	// Stopped service rejects events and a second stop
	assert.Error(t, service.LogEvent(&AuditEvent{Log: models.NewAuditLog(uuid.New(), models.AuditActionPlanCreated, models.EntityTypePlan)}))
	assert.Error(t, service.Stop(time.Second))
}

func TestAuditService_LogEventBeforeStart(t *testing.T) {
	service := NewAuditService(new(MockAuditRepository), zap.NewNop(), DefaultConfig())

	err := service.LogEvent(&AuditEvent{Log: models.NewAuditLog(uuid.New(), models.AuditActionPlanCreated, models.EntityTypePlan)})
	assert.Error(t, err)
	assert.Error(t, service.LogEventBlocking(context.Background(), &AuditEvent{Log: models.NewAuditLog(uuid.New(), models.AuditActionPlanCreated, models.EntityTypePlan)}))
}

func TestAuditService_LogEventBlocking(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)
	service := startService(t, mockRepo, Config{BufferSize: 100, WorkerCount: 2})
	defer service.Stop(5 * time.Second)

	tenantID := uuid.New()
	err := service.LogEventBlocking(context.Background(), &AuditEvent{
		Log:      models.NewAuditLog(tenantID, models.AuditActionPlanStatusUpdated, models.EntityTypePlan),
		Priority: 1,
	})
	require.NoError(t, err)

	logs := waitForLogs(t, mockRepo, 1)
	assert.Equal(t, tenantID, logs[0].TenantID)
}

func TestAuditService_ConcurrentLogging(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)
	service := startService(t, mockRepo, Config{BufferSize: 1000, WorkerCount: 5})
	defer service.Stop(5 * time.Second)

	tenantID := uuid.New()
	goroutineCount := 10
	eventsPerGoroutine := 10
	var wg sync.WaitGroup

	for i := 0; i < goroutineCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				log := models.NewAuditLog(tenantID, models.AuditActionPhaseUpdated, models.EntityTypePhase)
				assert.NoError(t, service.LogEvent(&AuditEvent{Log: log, Priority: 1}))
			}
		}()
	}
	wg.Wait()

	logs := waitForLogs(t, mockRepo, goroutineCount*eventsPerGoroutine)
	assert.Len(t, logs, goroutineCount*eventsPerGoroutine)
}

func TestAuditService_StopDrainsBufferedEvents(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		time.Sleep(5 * time.Millisecond)
	})
	service := startService(t, mockRepo, Config{BufferSize: 50, WorkerCount: 1})

	for i := 0; i < 20; i++ {
		require.NoError(t, service.LogEvent(&AuditEvent{Log: models.NewAuditLog(uuid.New(), models.AuditActionPhaseUpdated, models.EntityTypePhase)}))
	}
	require.NoError(t, service.Stop(5*time.Second))

	assert.Len(t, mockRepo.GetInsertedLogs(), 20)
}

func TestAuditService_LogPlanCreated(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)
	service := startService(t, mockRepo, DefaultConfig())
	defer service.Stop(5 * time.Second)

	plan := testPlan()
	ctx := tenant.WithRequestID(context.Background(), "req-42")
	require.NoError(t, service.LogPlanCreated(ctx, plan, "alice"))

	logs := waitForLogs(t, mockRepo, 1)
	log := logs[0]
	assert.Equal(t, models.AuditActionPlanCreated, log.Action)
	assert.Equal(t, plan.TenantID, log.TenantID)
	assert.Equal(t, "alice", log.ActorID)
	assert.Equal(t, "req-42", log.RequestID)
	require.NotNil(t, log.ResourceID)
	assert.Equal(t, plan.ID, *log.ResourceID)
	require.NotNil(t, log.CorrelationID)
	assert.Equal(t, plan.CorrelationID, *log.CorrelationID)

	details := decodeDetails(t, log)
	assert.Equal(t, "P-100", details["plan_code"])
	assert.Equal(t, float64(2), details["phases"])
	assert.Equal(t, "Restricted", details["classification"])
}

func TestAuditService_LogPlanStatusUpdatedAndCascadeFailed(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)
	service := startService(t, mockRepo, Config{BufferSize: 10, WorkerCount: 1})
	defer service.Stop(5 * time.Second)

	plan := testPlan()
	plan.Status = models.PlanStatusActive
	plan.Version = 2
	require.NoError(t, service.LogPlanStatusUpdated(context.Background(), plan, models.PlanStatusDraft, "alice"))
	require.NoError(t, service.LogCascadeFailed(context.Background(), plan, "bob", errors.New("conflict")))

	logs := waitForLogs(t, mockRepo, 2)
	byAction := map[models.AuditAction]*models.AuditLog{}
	for _, l := range logs {
		byAction[l.Action] = l
	}

	status := decodeDetails(t, byAction[models.AuditActionPlanStatusUpdated])
	assert.Equal(t, "Draft", status["from"])
	assert.Equal(t, "Active", status["to"])

	cascade := byAction[models.AuditActionPlanCascadeFailed]
	require.NotNil(t, cascade)
	assert.Equal(t, "bob", cascade.ActorID)
	assert.Equal(t, "conflict", decodeDetails(t, cascade)["error"])
}

func TestAuditService_LogPhaseUpdated(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)
	service := startService(t, mockRepo, Config{BufferSize: 10, WorkerCount: 1})
	defer service.Stop(5 * time.Second)

	plan := testPlan()
	phase := models.NewPhase(plan, 0, "PHASE_A", "A", "alice")
	phase.Status = models.PhaseStatusInProgress
	phase.Progress = 40
	require.NoError(t, service.LogPhaseUpdated(context.Background(), plan, phase, models.PhaseStatusPending, 0, "alice"))

	forced := phase.Clone()
	forced.Progress = 10
	forced.ForceOverride = true
	require.NoError(t, service.LogPhaseUpdated(context.Background(), plan, forced, models.PhaseStatusInProgress, 40, "alice"))

	logs := waitForLogs(t, mockRepo, 2)
	actions := []models.AuditAction{logs[0].Action, logs[1].Action}
	assert.ElementsMatch(t, []models.AuditAction{models.AuditActionPhaseUpdated, models.AuditActionPhaseForceOverride}, actions)
	for _, l := range logs {
		assert.Equal(t, models.EntityTypePhase, l.ResourceType)
		require.NotNil(t, l.CorrelationID)
		assert.Equal(t, plan.CorrelationID, *l.CorrelationID)
	}
}

func TestAuditService_LogPolicyViolationAndReload(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)
	service := startService(t, mockRepo, Config{BufferSize: 10, WorkerCount: 1})
	defer service.Stop(5 * time.Second)

	pctx := models.PolicyContext{
		Action:         models.ActionUpdateStatus,
		EntityType:     models.EntityTypePlan,
		TenantID:       uuid.New(),
		ActorID:        "bob",
		Classification: models.ClassificationRestricted,
	}
	entityID := uuid.New()
	require.NoError(t, service.LogPolicyViolation(context.Background(), pctx, entityID, []models.PolicyViolation{
		{RuleID: "role-gate.updatestatus.restricted", Severity: models.SeverityBlocking},
	}))
	require.NoError(t, service.LogRulesReloaded("2026-10", 10))

	logs := waitForLogs(t, mockRepo, 2)
	for _, l := range logs {
		switch l.Action {
		case models.AuditActionPolicyViolation:
			assert.Equal(t, pctx.TenantID, l.TenantID)
			require.NotNil(t, l.ResourceID)
			assert.Equal(t, entityID, *l.ResourceID)
			assert.Equal(t, []interface{}{"role-gate.updatestatus.restricted"}, decodeDetails(t, l)["rule_ids"])
		case models.AuditActionRulesReloaded:
			assert.Equal(t, uuid.Nil, l.TenantID)
			assert.Equal(t, "2026-10", decodeDetails(t, l)["version"])
		default:
			t.Fatalf("unexpected action %s", l.Action)
		}
	}
}

func TestAuditService_BufferFull(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	release := make(chan struct{})
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		<-release
	})
	service := startService(t, mockRepo, Config{BufferSize: 5, WorkerCount: 1})

	successCount := 0
	for i := 0; i < 20; i++ {
		log := models.NewAuditLog(uuid.New(), models.AuditActionPhaseUpdated, models.EntityTypePhase)
		if service.LogEvent(&AuditEvent{Log: log, Priority: 1}) == nil {
			successCount++
		}
	}

	// one event held by the worker plus a full buffer
	assert.LessOrEqual(t, successCount, 6)
	assert.GreaterOrEqual(t, successCount, 5)

	close(release)
	require.NoError(t, service.Stop(5*time.Second))
}

func TestAuditService_StopTimeout(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	release := make(chan struct{})
	defer close(release)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		<-release
	})
	service := startService(t, mockRepo, Config{BufferSize: 100, WorkerCount: 1})

	require.NoError(t, service.LogEvent(&AuditEvent{Log: models.NewAuditLog(uuid.New(), models.AuditActionPhaseUpdated, models.EntityTypePhase)}))
	require.Eventually(t, func() bool { return service.GetStats().PendingEvents == 0 }, time.Second, 5*time.Millisecond)

	err := service.Stop(50 * time.Millisecond)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, 10000, config.BufferSize)
	assert.Equal(t, 5, config.WorkerCount)
}
