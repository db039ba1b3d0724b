package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/upb/grc-control-plane/models"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// PlanRepository handles plan data operations. Every read and write is
// scoped by tenant; a plan of another tenant is reported as not found.
type PlanRepository interface {
	// Create stores a plan together with its phases in one atomic step.
	// An existing (tenant, plan code) pair fails with a duplicate plan code error
	// and leaves nothing behind.
	Create(ctx context.Context, plan *models.Plan, phases []*models.Phase) error

	// GetByID retrieves a plan by ID, with PhaseIDs ordered by sequence
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Plan, error)

	// GetByCode retrieves a plan by its tenant-unique code
	GetByCode(ctx context.Context, tenantID uuid.UUID, planCode string) (*models.Plan, error)

	// ListByTenant retrieves the plans of a tenant, newest first
	ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.Plan, error)

	// Update saves plan if the stored version still equals expectedVersion.
	// On success plan.Version is advanced; otherwise a conflict error is returned.
	Update(ctx context.Context, plan *models.Plan, expectedVersion int64) error
}

// PhaseRepository handles phase data operations
type PhaseRepository interface {
	// GetByID retrieves a phase by ID
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Phase, error)

	// ListByPlan retrieves the phases of a plan ordered by sequence
	ListByPlan(ctx context.Context, tenantID, planID uuid.UUID) ([]*models.Phase, error)

	// Update saves phase if the stored version still equals expectedVersion.
	// On success phase.Version is advanced; otherwise a conflict error is returned.
	Update(ctx context.Context, phase *models.Phase, expectedVersion int64) error
}

// AuditRepository handles audit log data operations
type AuditRepository interface {
	// Insert inserts a new audit log entry
	Insert(ctx context.Context, log *models.AuditLog) error

	// ListByResource retrieves audit logs for one resource with pagination
	ListByResource(ctx context.Context, tenantID, resourceID uuid.UUID, limit, offset int) ([]*models.AuditLog, error)

	// ListByCorrelation retrieves every audit log sharing a correlation id, oldest first
	ListByCorrelation(ctx context.Context, tenantID, correlationID uuid.UUID) ([]*models.AuditLog, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Plans     PlanRepository
	Phases    PhaseRepository
	AuditLogs AuditRepository
}
