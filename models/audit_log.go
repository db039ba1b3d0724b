package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited
type AuditAction string

const (
	AuditActionPlanCreated        AuditAction = "plan_created"
	AuditActionPlanStatusUpdated  AuditAction = "plan_status_updated"
	AuditActionPlanCascadeFailed  AuditAction = "plan_cascade_failed"
	AuditActionPhaseUpdated       AuditAction = "phase_updated"
	AuditActionPhaseForceOverride AuditAction = "phase_force_override"
	AuditActionPolicyViolation    AuditAction = "policy_violation"
	AuditActionRulesReloaded      AuditAction = "policy_rules_reloaded"
)

// AuditLog represents an audit trail entry
type AuditLog struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	TenantID      uuid.UUID       `json:"tenant_id" db:"tenant_id"`
	ActorID       string          `json:"actor_id,omitempty" db:"actor_id"`
	Action        AuditAction     `json:"action" db:"action"`
	ResourceType  string          `json:"resource_type" db:"resource_type"` // Plan, Phase, ...
	ResourceID    *uuid.UUID      `json:"resource_id,omitempty" db:"resource_id"`
	CorrelationID *uuid.UUID      `json:"correlation_id,omitempty" db:"correlation_id"`
	Details       json.RawMessage `json:"details" db:"details"` // JSONB for flexible metadata
	RequestID     string          `json:"request_id,omitempty" db:"request_id"`
	Timestamp     time.Time       `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "audit_logs"
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(tenantID uuid.UUID, action AuditAction, resourceType string) *AuditLog {
	return &AuditLog{
		ID:           uuid.New(),
		TenantID:     tenantID,
		Action:       action,
		ResourceType: resourceType,
		Timestamp:    time.Now().UTC(),
	}
}

// WithActor sets the acting principal
func (a *AuditLog) WithActor(actorID string) *AuditLog {
	a.ActorID = actorID
	return a
}

// WithResource sets the resource ID
func (a *AuditLog) WithResource(resourceID uuid.UUID) *AuditLog {
	a.ResourceID = &resourceID
	return a
}

// WithCorrelation links the entry to a plan's correlation id
func (a *AuditLog) WithCorrelation(correlationID uuid.UUID) *AuditLog {
	if correlationID != uuid.Nil {
		a.CorrelationID = &correlationID
	}
	return a
}

// WithDetails sets the details
func (a *AuditLog) WithDetails(details interface{}) *AuditLog {
	if data, err := json.Marshal(details); err == nil {
		a.Details = data
	}
	return a
}

// WithRequest sets the request id
func (a *AuditLog) WithRequest(requestID string) *AuditLog {
	a.RequestID = requestID
	return a
}
