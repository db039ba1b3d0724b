package models

import (
	"time"

	"github.com/google/uuid"
)

// PhaseStatus represents the status of a single plan phase
type PhaseStatus string

const (
	PhaseStatusPending    PhaseStatus = "Pending"
	PhaseStatusInProgress PhaseStatus = "InProgress"
	PhaseStatusCompleted  PhaseStatus = "Completed"
	PhaseStatusSkipped    PhaseStatus = "Skipped"
)

// IsDone returns true when the phase no longer blocks plan completion
func (s PhaseStatus) IsDone() bool {
	return s == PhaseStatusCompleted || s == PhaseStatusSkipped
}

// IsValid reports whether s is a known phase status
func (s PhaseStatus) IsValid() bool {
	switch s {
	case PhaseStatusPending, PhaseStatusInProgress, PhaseStatusCompleted, PhaseStatusSkipped:
		return true
	}
	return false
}

// Phase is one ordered step of a plan
type Phase struct {
	ID               uuid.UUID   `json:"id" db:"id"`
	PlanID           uuid.UUID   `json:"plan_id" db:"plan_id"`
	TenantID         uuid.UUID   `json:"tenant_id" db:"tenant_id"`
	Sequence         int         `json:"sequence" db:"sequence"`
	PhaseCode        string      `json:"phase_code" db:"phase_code"`
	Name             string      `json:"name" db:"name"`
	Status           PhaseStatus `json:"status" db:"status"`
	Progress         int         `json:"progress" db:"progress"` // 0-100
	ForceOverride    bool        `json:"force_override" db:"force_override"`
	Version          int64       `json:"version" db:"version"`
	PlannedStartDate time.Time   `json:"planned_start_date" db:"planned_start_date"`
	PlannedEndDate   time.Time   `json:"planned_end_date" db:"planned_end_date"`
	ActualStartDate  *time.Time  `json:"actual_start_date,omitempty" db:"actual_start_date"`
	ActualEndDate    *time.Time  `json:"actual_end_date,omitempty" db:"actual_end_date"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
	CreatedBy        string      `json:"created_by" db:"created_by"`
	UpdatedAt        time.Time   `json:"updated_at" db:"updated_at"`
	UpdatedBy        string      `json:"updated_by" db:"updated_by"`
}

// TableName returns the table name for the Phase model
func (Phase) TableName() string {
	return "plan_phases"
}

// NewPhase creates a Pending phase with zero progress at version 1
func NewPhase(plan *Plan, sequence int, phaseCode, name string, createdBy string) *Phase {
	now := time.Now().UTC()
	return &Phase{
		ID:        uuid.New(),
		PlanID:    plan.ID,
		TenantID:  plan.TenantID,
		Sequence:  sequence,
		PhaseCode: phaseCode,
		Name:      name,
		Status:    PhaseStatusPending,
		Version:   1,
		CreatedAt: now,
		CreatedBy: createdBy,
		UpdatedAt: now,
		UpdatedBy: createdBy,
	}
}

// Clone returns a deep copy of the phase
func (p *Phase) Clone() *Phase {
	c := *p
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
