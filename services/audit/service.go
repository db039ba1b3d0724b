package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/grc-control-plane/models"
	"github.com/upb/grc-control-plane/repositories"
	"github.com/upb/grc-control-plane/services/tenant"
	"go.uber.org/zap"
)

// AuditEvent represents an event to be audited
type AuditEvent struct {
	Log      *models.AuditLog
	Priority int // Higher priority events are processed first (for future enhancements)
}

// AuditService handles asynchronous audit logging
type AuditService struct {
	auditRepo   repositories.AuditRepository
	logger      *zap.Logger
	eventChan   chan *AuditEvent
	quit        chan struct{}
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	stopped     bool
	mu          sync.Mutex
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  10000,
		WorkerCount: 5,
	}
}

// NewAuditService creates a new AuditService instance
func NewAuditService(auditRepo repositories.AuditRepository, logger *zap.Logger, config Config) *AuditService {
	ctx, cancel := context.WithCancel(context.Background())

	return &AuditService{
		auditRepo:   auditRepo,
		logger:      logger,
		eventChan:   make(chan *AuditEvent, config.BufferSize),
		quit:        make(chan struct{}),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop gracefully stops the audit service.
// Waits for all pending events to be processed.
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	s.stopped = true
	// Workers drain what is buffered, then exit
	close(s.quit)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		s.cancel()
		return nil
	case <-time.After(timeout):
		s.cancel()
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// LogEvent queues an event without blocking. A full buffer drops the event.
func (s *AuditService) LogEvent(event *AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.stopped {
		return fmt.Errorf("audit service not started")
	}

	select {
	case s.eventChan <- event:
		return nil
	default:
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("action", string(event.Log.Action)),
			zap.String("tenant_id", event.Log.TenantID.String()))
		return fmt.Errorf("audit event buffer full")
	}
}

// LogEventBlocking waits until the event is queued or ctx is cancelled
func (s *AuditService) LogEventBlocking(ctx context.Context, event *AuditEvent) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	s.mu.Unlock()

	select {
	case s.eventChan <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.quit:
		return fmt.Errorf("audit service stopped")
	}
}

// worker processes events from the channel
func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))
	defer s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))

	for {
		select {
		case event := <-s.eventChan:
			s.handle(id, event)
		case <-s.quit:
			for {
				select {
				case event := <-s.eventChan:
					s.handle(id, event)
				default:
					return
				}
			}
		}
	}
}

func (s *AuditService) handle(workerID int, event *AuditEvent) {
	if err := s.processEvent(event); err != nil {
		s.logger.Error("failed to process audit event",
			zap.Int("worker_id", workerID),
			zap.Error(err),
			zap.String("action", string(event.Log.Action)),
			zap.String("tenant_id", event.Log.TenantID.String()))
	}
}

// processEvent processes a single audit event
func (s *AuditService) processEvent(event *AuditEvent) error {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	if err := s.auditRepo.Insert(ctx, event.Log); err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started && !s.stopped,
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
}

// Convenience methods for logging plan lifecycle events

func (s *AuditService) planEvent(ctx context.Context, plan *models.Plan, action models.AuditAction, actorID string, priority int, details map[string]interface{}) error {
	log := models.NewAuditLog(plan.TenantID, action, models.EntityTypePlan).
		WithActor(actorID).
		WithResource(plan.ID).
		WithCorrelation(plan.CorrelationID).
		WithRequest(tenant.GetRequestIDFromContext(ctx))
	details["plan_code"] = plan.PlanCode
	log.WithDetails(details)

	return s.LogEvent(&AuditEvent{Log: log, Priority: priority})
}

// LogPlanCreated logs the creation of a plan with its phase count
func (s *AuditService) LogPlanCreated(ctx context.Context, plan *models.Plan, actorID string) error {
	return s.planEvent(ctx, plan, models.AuditActionPlanCreated, actorID, 1, map[string]interface{}{
		"plan_type":      plan.PlanType,
		"classification": plan.Classification,
		"phases":         len(plan.PhaseIDs),
	})
}

// LogPlanStatusUpdated logs a plan status transition
func (s *AuditService) LogPlanStatusUpdated(ctx context.Context, plan *models.Plan, from models.PlanStatus, actorID string) error {
	return s.planEvent(ctx, plan, models.AuditActionPlanStatusUpdated, actorID, 1, map[string]interface{}{
		"from":    from,
		"to":      plan.Status,
		"version": plan.Version,
	})
}

// LogCascadeFailed logs a plan that could not be completed after its last phase finished
func (s *AuditService) LogCascadeFailed(ctx context.Context, plan *models.Plan, actorID string, cause error) error {
	return s.planEvent(ctx, plan, models.AuditActionPlanCascadeFailed, actorID, 2, map[string]interface{}{
		"status": plan.Status,
		"error":  cause.Error(),
	})
}

// LogPhaseUpdated logs a phase update. Updates that used force are recorded
// as force overrides with a higher priority.
func (s *AuditService) LogPhaseUpdated(ctx context.Context, plan *models.Plan, phase *models.Phase, from models.PhaseStatus, fromProgress int, actorID string) error {
	action := models.AuditActionPhaseUpdated
	priority := 1
	if phase.ForceOverride {
		action = models.AuditActionPhaseForceOverride
		priority = 2
	}

	log := models.NewAuditLog(phase.TenantID, action, models.EntityTypePhase).
		WithActor(actorID).
		WithResource(phase.ID).
		WithCorrelation(plan.CorrelationID).
		WithRequest(tenant.GetRequestIDFromContext(ctx)).
		WithDetails(map[string]interface{}{
			"plan_id":       plan.ID,
			"phase_code":    phase.PhaseCode,
			"from_status":   from,
			"to_status":     phase.Status,
			"from_progress": fromProgress,
			"to_progress":   phase.Progress,
			"version":       phase.Version,
		})

	return s.LogEvent(&AuditEvent{Log: log, Priority: priority})
}

// LogPolicyViolation logs a rejected enforcement call
func (s *AuditService) LogPolicyViolation(ctx context.Context, pctx models.PolicyContext, entityID uuid.UUID, violations []models.PolicyViolation) error {
	ruleIDs := make([]string, len(violations))
	for i, v := range violations {
		ruleIDs[i] = v.RuleID
	}

	log := models.NewAuditLog(pctx.TenantID, models.AuditActionPolicyViolation, pctx.EntityType).
		WithActor(pctx.ActorID).
		WithRequest(tenant.GetRequestIDFromContext(ctx)).
		WithDetails(map[string]interface{}{
			"action":         pctx.Action,
			"classification": pctx.Classification,
			"rule_ids":       ruleIDs,
		})
	if entityID != uuid.Nil {
		log.WithResource(entityID)
	}

	return s.LogEvent(&AuditEvent{Log: log, Priority: 2})
}

// LogRulesReloaded logs a policy rule set swap. Rule sets are not tenant
// scoped, so the entry carries the nil tenant.
func (s *AuditService) LogRulesReloaded(version string, rules int) error {
	log := models.NewAuditLog(uuid.Nil, models.AuditActionRulesReloaded, "RuleSet").
		WithDetails(map[string]interface{}{
			"version": version,
			"rules":   rules,
		})

	return s.LogEvent(&AuditEvent{Log: log, Priority: 1})
}
