package policy

import (
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/google/uuid"
	"github.com/upb/grc-control-plane/models"
)

// Rule ids of the built-in families
const (
	RuleTenantIsolation      = "tenant.isolation"
	RuleTenantContextMissing = "tenant.context-missing"
	RuleOwnership            = "ownership.owner-or-elevated"
	RuleClassificationSet    = "classification.required"
	RuleOwnerRequired        = "classification.owner-required"
	RuleOwnerRecommended     = "classification.owner-recommended"

	roleGatePrefix = "role-gate."
)

// roleGateModel matches a role subject against a gate rule id
const roleGateModel = `
[request_definition]
r = sub, obj

[policy_definition]
p = sub, obj

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && r.obj == p.obj
`

// BuildRuleSet constructs the built-in rule families from cfg.
// Tenant isolation is always present regardless of configuration.
func BuildRuleSet(cfg RuleConfig) (*RuleSet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rule config: %w", err)
	}

	rules := []Rule{
		TenantIsolationRule(),
		OwnershipRule(cfg.OwnershipActions, cfg.ElevatedRoles),
		ClassificationSetRule(),
	}
	if len(cfg.OwnerRequired) > 0 {
		rules = append(rules, OwnerRequiredRule(cfg.OwnerRequired))
	}
	if len(cfg.OwnerRecommended) > 0 {
		rules = append(rules, OwnerRecommendedRule(cfg.OwnerRecommended))
	}

	gates, err := RoleGateRules(cfg.RoleGates, cfg.ElevatedRoles)
	if err != nil {
		return nil, err
	}
	rules = append(rules, gates...)

	return NewRuleSet(cfg.Version, rules...)
}

// TenantIsolationRule fails whenever the context tenant differs from the entity tenant
func TenantIsolationRule() Rule {
	return Rule{
		ID:              RuleTenantIsolation,
		Severity:        models.SeverityBlocking,
		RemediationHint: "Switch to the workspace of the tenant that owns this record, or ask a platform admin to move it",
		Check: func(pctx models.PolicyContext, snap models.EntitySnapshot) string {
			if snap.TenantID == uuid.Nil {
				return "entity is not bound to a tenant"
			}
			if pctx.TenantID != snap.TenantID {
				return fmt.Sprintf("%s %s belongs to another tenant", snap.EntityType, snap.EntityID)
			}
			return ""
		},
	}
}

// missingTenantViolation is added by the engine itself and cannot be removed by a reload
func missingTenantViolation() models.PolicyViolation {
	return models.PolicyViolation{
		RuleID:          RuleTenantContextMissing,
		Message:         "missing tenant context",
		RemediationHint: "Sign in again or select a tenant workspace before retrying",
		Severity:        models.SeverityBlocking,
	}
}

// OwnershipRule requires the actor to own the entity or hold an elevated role.
// The stored owner of the snapshot is authoritative; the owner carried by the
// request is only used when the entity has none recorded.
func OwnershipRule(actions []models.Action, elevated []models.UserRole) Rule {
	actionSet := make(map[models.Action]bool, len(actions))
	for _, a := range actions {
		actionSet[a] = true
	}
	elevatedSet := roleSet(elevated)

	return Rule{
		ID:              RuleOwnership,
		Severity:        models.SeverityBlocking,
		RemediationHint: fmt.Sprintf("Ask the record owner or a user with one of the roles [%s] to perform this action", joinRoles(elevated)),
		Check: func(pctx models.PolicyContext, snap models.EntitySnapshot) string {
			if !actionSet[pctx.Action] {
				return ""
			}
			if elevatedSet[pctx.ActorRole] {
				return ""
			}
			owner := snap.Owner
			if owner == "" {
				owner = pctx.Owner
			}
			if owner == "" {
				return fmt.Sprintf("%s on an unowned %s requires an elevated role", pctx.Action, pctx.EntityType)
			}
			if pctx.ActorID != owner {
				return fmt.Sprintf("%s on %s is limited to its owner", pctx.Action, pctx.EntityType)
			}
			return ""
		},
	}
}

// ClassificationSetRule requires every new entity to be classified
func ClassificationSetRule() Rule {
	return Rule{
		ID:              RuleClassificationSet,
		Severity:        models.SeverityBlocking,
		RemediationHint: "Set a data classification (Public, Internal, Confidential or Restricted) before saving",
		Check: func(pctx models.PolicyContext, _ models.EntitySnapshot) string {
			if pctx.Action != models.ActionCreate {
				return ""
			}
			if _, ok := models.ParseClassification(string(pctx.Classification)); !ok {
				return fmt.Sprintf("%s has no data classification", pctx.EntityType)
			}
			return ""
		},
	}
}

// OwnerRequiredRule requires an owner on Create for the given classifications
func OwnerRequiredRule(classifications []models.Classification) Rule {
	return Rule{
		ID:              RuleOwnerRequired,
		Classifications: classifications,
		Severity:        models.SeverityBlocking,
		RemediationHint: "Assign a data owner before creating a record at this classification",
		Check: func(pctx models.PolicyContext, _ models.EntitySnapshot) string {
			if pctx.Action != models.ActionCreate || pctx.Owner != "" {
				return ""
			}
			return fmt.Sprintf("%s %s data must have an owner", pctx.Classification, pctx.EntityType)
		},
	}
}

// OwnerRecommendedRule warns on Create without owner for the given classifications
func OwnerRecommendedRule(classifications []models.Classification) Rule {
	return Rule{
		ID:              RuleOwnerRecommended,
		Classifications: classifications,
		Severity:        models.SeverityWarning,
		RemediationHint: "Consider assigning a data owner",
		Check: func(pctx models.PolicyContext, _ models.EntitySnapshot) string {
			if pctx.Action != models.ActionCreate || pctx.Owner != "" {
				return ""
			}
			return fmt.Sprintf("%s %s has no owner", pctx.Classification, pctx.EntityType)
		},
	}
}

// RoleGateRules builds one rule per gate. The allow-lists are held in a casbin
// enforcer whose objects are the gate rule ids and whose subjects are "role:<role>".
func RoleGateRules(gates []RoleGate, elevated []models.UserRole) ([]Rule, error) {
	if len(gates) == 0 {
		return nil, nil
	}

	m, err := model.NewModelFromString(roleGateModel)
	if err != nil {
		return nil, fmt.Errorf("failed to build role gate model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to build role gate enforcer: %w", err)
	}

	rules := make([]Rule, 0, len(gates))
	for _, g := range gates {
		roles := g.Roles
		if len(roles) == 0 {
			roles = elevated
		}
		id := g.ruleID()
		for _, role := range roles {
			if _, err := enforcer.AddPolicy(subjectFromRole(role), id); err != nil {
				return nil, fmt.Errorf("failed to add role gate %s: %w", id, err)
			}
		}

		hint := g.RemediationHint
		if hint == "" {
			hint = fmt.Sprintf("%s requires one of the roles [%s]", g.Action, joinRoles(roles))
		}
		action := g.Action
		rules = append(rules, Rule{
			ID:              id,
			EntityTypes:     g.EntityTypes,
			Classifications: g.Classifications,
			Severity:        models.SeverityBlocking,
			RemediationHint: hint,
			Check: func(pctx models.PolicyContext, _ models.EntitySnapshot) string {
				if pctx.Action != action {
					return ""
				}
				allowed, err := enforcer.Enforce(subjectFromRole(pctx.ActorRole), id)
				if err != nil {
					return fmt.Sprintf("role check for %s failed: %v", action, err)
				}
				if !allowed {
					return fmt.Sprintf("role %q may not %s this %s", pctx.ActorRole, action, pctx.EntityType)
				}
				return ""
			},
		})
	}
	return rules, nil
}

func (g RoleGate) ruleID() string {
	var b strings.Builder
	b.WriteString(roleGatePrefix)
	b.WriteString(strings.ToLower(string(g.Action)))
	for _, et := range g.EntityTypes {
		b.WriteString(".")
		b.WriteString(strings.ToLower(et))
	}
	for _, cls := range g.Classifications {
		b.WriteString(".")
		b.WriteString(strings.ToLower(string(cls)))
	}
	return b.String()
}

func subjectFromRole(role models.UserRole) string {
	slug := strings.TrimSpace(strings.ToLower(string(role)))
	if slug == "" {
		slug = "anonymous"
	}
	return "role:" + slug
}

func roleSet(roles []models.UserRole) map[models.UserRole]bool {
	set := make(map[models.UserRole]bool, len(roles))
	for _, r := range roles {
		set[r] = true
	}
	return set
}

func joinRoles(roles []models.UserRole) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}
