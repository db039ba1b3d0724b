package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/upb/grc-control-plane/models"
	"go.uber.org/zap"
)

const auditColumns = `id, tenant_id, actor_id, action, resource_type, resource_id,
		       correlation_id, details, request_id, timestamp`

// AuditRepository implements the repositories.AuditRepository interface
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new audit log entry
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (
			id, tenant_id, actor_id, action, resource_type, resource_id,
			correlation_id, details, request_id, timestamp
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		log.ID,
		log.TenantID,
		log.ActorID,
		log.Action,
		log.ResourceType,
		log.ResourceID,
		log.CorrelationID,
		nullJSON(log.Details),
		log.RequestID,
		log.Timestamp,
	)
	if err != nil {
		return storageError("failed to insert audit log", err)
	}

	r.logger.Debug("audit log inserted", zap.String("id", log.ID.String()), zap.String("action", string(log.Action)))
	return nil
}

// ListByResource retrieves audit logs for one resource, newest first
func (r *AuditRepository) ListByResource(ctx context.Context, tenantID, resourceID uuid.UUID, limit, offset int) ([]*models.AuditLog, error) {
	query := `SELECT ` + auditColumns + `
		FROM audit_logs
		WHERE tenant_id = $1 AND resource_id = $2
		ORDER BY timestamp DESC
		LIMIT $3 OFFSET $4`

	return r.queryAuditLogs(ctx, query, tenantID, resourceID, limit, offset)
}

// ListByCorrelation retrieves audit logs sharing a correlation id, oldest first
func (r *AuditRepository) ListByCorrelation(ctx context.Context, tenantID, correlationID uuid.UUID) ([]*models.AuditLog, error) {
	query := `SELECT ` + auditColumns + `
		FROM audit_logs
		WHERE tenant_id = $1 AND correlation_id = $2
		ORDER BY timestamp ASC`

	return r.queryAuditLogs(ctx, query, tenantID, correlationID)
}

// queryAuditLogs is a helper method to query multiple audit logs
func (r *AuditRepository) queryAuditLogs(ctx context.Context, query string, args ...interface{}) ([]*models.AuditLog, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError("failed to query audit logs", err)
	}
	defer rows.Close()

	logs := []*models.AuditLog{}
	for rows.Next() {
		log := &models.AuditLog{}
		var actorID, requestID *string
		var details []byte
		err := rows.Scan(
			&log.ID,
			&log.TenantID,
			&actorID,
			&log.Action,
			&log.ResourceType,
			&log.ResourceID,
			&log.CorrelationID,
			&details,
			&requestID,
			&log.Timestamp,
		)
		if err != nil {
			return nil, storageError("failed to scan audit log", err)
		}
		if actorID != nil {
			log.ActorID = *actorID
		}
		if requestID != nil {
			log.RequestID = *requestID
		}
		if len(details) > 0 {
			log.Details = details
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, storageError("error iterating audit log rows", err)
	}

	return logs, nil
}
