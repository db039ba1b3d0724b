package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EntityTypePlan and EntityTypePhase are the entity type names used in policy contexts
const (
	EntityTypePlan  = "Plan"
	EntityTypePhase = "Phase"
)

// PlanStatus represents the lifecycle status of a plan
type PlanStatus string

const (
	PlanStatusDraft     PlanStatus = "Draft"
	PlanStatusActive    PlanStatus = "Active"
	PlanStatusPaused    PlanStatus = "Paused"
	PlanStatusCompleted PlanStatus = "Completed"
	PlanStatusCancelled PlanStatus = "Cancelled"
)

// AllPlanStatuses lists every plan status in lifecycle order
func AllPlanStatuses() []PlanStatus {
	return []PlanStatus{
		PlanStatusDraft,
		PlanStatusActive,
		PlanStatusPaused,
		PlanStatusCompleted,
		PlanStatusCancelled,
	}
}

// IsTerminal returns true for statuses with no outgoing transitions
func (s PlanStatus) IsTerminal() bool {
	return s == PlanStatusCompleted || s == PlanStatusCancelled
}

// PlanType selects the default phase template when no scope is derived
type PlanType string

const (
	PlanTypeQuickScan   PlanType = "QUICKSCAN"
	PlanTypeFull        PlanType = "FULL"
	PlanTypeRemediation PlanType = "REMEDIATION"
	PlanTypeAssessment  PlanType = "ASSESSMENT"
)

// Plan is a tenant-scoped unit of staged compliance work
type Plan struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	TenantID        uuid.UUID       `json:"tenant_id" db:"tenant_id"`
	PlanCode        string          `json:"plan_code" db:"plan_code"`
	Name            string          `json:"name" db:"name"`
	Description     string          `json:"description,omitempty" db:"description"`
	PlanType        PlanType        `json:"plan_type" db:"plan_type"`
	Status          PlanStatus      `json:"status" db:"status"`
	Classification  Classification  `json:"classification" db:"classification"`
	Owner           string          `json:"owner,omitempty" db:"owner"`
	PhaseIDs        []uuid.UUID     `json:"phase_ids" db:"-"` // Ordered by phase sequence
	Version         int64           `json:"version" db:"version"`
	CorrelationID   uuid.UUID       `json:"correlation_id" db:"correlation_id"`
	ScopeSnapshot   json.RawMessage `json:"scope_snapshot,omitempty" db:"scope_snapshot"`
	StartDate       time.Time       `json:"start_date" db:"start_date"`
	TargetEndDate   time.Time       `json:"target_end_date" db:"target_end_date"`
	ActualStartDate *time.Time      `json:"actual_start_date,omitempty" db:"actual_start_date"`
	ActualEndDate   *time.Time      `json:"actual_end_date,omitempty" db:"actual_end_date"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	CreatedBy       string          `json:"created_by" db:"created_by"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
	UpdatedBy       string          `json:"updated_by" db:"updated_by"`
}

// TableName returns the table name for the Plan model
func (Plan) TableName() string {
	return "plans"
}

// NewPlan creates a Draft plan at version 1
func NewPlan(tenantID uuid.UUID, planCode, name string, planType PlanType, createdBy string) *Plan {
	now := time.Now().UTC()
	return &Plan{
		ID:            uuid.New(),
		TenantID:      tenantID,
		PlanCode:      planCode,
		Name:          name,
		PlanType:      planType,
		Status:        PlanStatusDraft,
		Version:       1,
		CorrelationID: uuid.New(),
		CreatedAt:     now,
		CreatedBy:     createdBy,
		UpdatedAt:     now,
		UpdatedBy:     createdBy,
	}
}

// Snapshot returns the policy view of the plan
func (p *Plan) Snapshot() EntitySnapshot {
	return EntitySnapshot{
		EntityType: EntityTypePlan,
		EntityID:   p.ID,
		TenantID:   p.TenantID,
		Owner:      p.Owner,
		Attributes: map[string]string{
			"plan_code": p.PlanCode,
			"status":    string(p.Status),
		},
	}
}

// Clone returns a deep copy so callers can mutate without touching stored state
func (p *Plan) Clone() *Plan {
	c := *p
	c.PhaseIDs = append([]uuid.UUID(nil), p.PhaseIDs...)
	if p.ScopeSnapshot != nil {
		c.ScopeSnapshot = append(json.RawMessage(nil), p.ScopeSnapshot...)
	}
	if p.ActualStartDate != nil {
		t := *p.ActualStartDate
		c.ActualStartDate = &t
	}
	if p.ActualEndDate != nil {
		t := *p.ActualEndDate
		c.ActualEndDate = &t
	}
	return &c
}

// ScopeItem is one element of the derived applicability scope of a tenant
type ScopeItem struct {
	Kind string `json:"kind" validate:"required"` // baseline, package, template
	Code string `json:"code" validate:"required"`
	Name string `json:"name"`
}

// Key identifies a scope item for de-duplication
func (s ScopeItem) Key() string {
	return s.Kind + "/" + s.Code
}
