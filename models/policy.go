package models

import (
	"strings"

	"github.com/google/uuid"
)

// Action is the verb a policy decision is made for
type Action string

const (
	ActionCreate       Action = "Create"
	ActionUpdate       Action = "Update"
	ActionDelete       Action = "Delete"
	ActionClose        Action = "Close"
	ActionUpdateStatus Action = "UpdateStatus"
	ActionUpdatePhase  Action = "UpdatePhase"
	ActionApprove      Action = "Approve"
	ActionPublish      Action = "Publish"
	ActionAccept       Action = "Accept"
	ActionAssess       Action = "Assess"
)

// Classification tiers entity sensitivity. The zero value means unclassified.
type Classification string

const (
	ClassificationPublic       Classification = "Public"
	ClassificationInternal     Classification = "Internal"
	ClassificationConfidential Classification = "Confidential"
	ClassificationRestricted   Classification = "Restricted"
)

// DefaultClassification applies to entities created without a classification
const DefaultClassification = ClassificationInternal

// ParseClassification accepts any casing of a known classification.
func ParseClassification(s string) (Classification, bool) {
	for _, c := range []Classification{
		ClassificationPublic,
		ClassificationInternal,
		ClassificationConfidential,
		ClassificationRestricted,
	} {
		if strings.EqualFold(s, string(c)) {
			return c, true
		}
	}
	return "", false
}

// Severity of a policy violation
type Severity string

const (
	SeverityWarning  Severity = "Warning"
	SeverityBlocking Severity = "Blocking"
)

// Rank orders severities so Blocking sorts before Warning.
func (s Severity) Rank() int {
	if s == SeverityBlocking {
		return 0
	}
	return 1
}

// PolicyContext is the input of one enforcement decision. It is passed by
// value and never modified by the engine.
type PolicyContext struct {
	Action         Action         `json:"action"`
	EntityType     string         `json:"entity_type"`
	TenantID       uuid.UUID      `json:"tenant_id"`
	ActorID        string         `json:"actor_id"`
	ActorRole      UserRole       `json:"actor_role"`
	Classification Classification `json:"classification,omitempty"`
	Owner          string         `json:"owner,omitempty"`
}

// HasTenant reports whether the context carries a resolved tenant.
func (c PolicyContext) HasTenant() bool {
	return c.TenantID != uuid.Nil
}

// EntitySnapshot is the state of the entity the action targets
type EntitySnapshot struct {
	EntityType string            `json:"entity_type"`
	EntityID   uuid.UUID         `json:"entity_id"`
	TenantID   uuid.UUID         `json:"tenant_id"`
	Owner      string            `json:"owner,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// PolicyViolation is a single failed rule
type PolicyViolation struct {
	RuleID          string   `json:"rule_id"`
	Message         string   `json:"message"`
	RemediationHint string   `json:"remediation_hint"`
	Severity        Severity `json:"severity"`
}

// IsBlocking returns true if the violation fails the enforcement call
func (v PolicyViolation) IsBlocking() bool {
	return v.Severity == SeverityBlocking
}
