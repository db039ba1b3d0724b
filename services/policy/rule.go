package policy

import (
	"fmt"
	"sort"
	"time"

	"github.com/upb/grc-control-plane/models"
)

// Predicate returns a violation message when the rule fails, or "" when it passes
type Predicate func(pctx models.PolicyContext, snap models.EntitySnapshot) string

// Rule is a single policy predicate together with its applicability filter
type Rule struct {
	ID              string
	EntityTypes     []string                // empty = every entity type
	Classifications []models.Classification // empty = every classification
	Severity        models.Severity
	RemediationHint string
	Check           Predicate
}

// Applies reports whether the rule is selected for the context
func (r Rule) Applies(pctx models.PolicyContext) bool {
	if len(r.EntityTypes) > 0 && !containsString(r.EntityTypes, pctx.EntityType) {
		return false
	}
	if len(r.Classifications) > 0 && !containsClassification(r.Classifications, pctx.Classification) {
		return false
	}
	return true
}

// Evaluate runs the predicate and returns the violation if it fails
func (r Rule) Evaluate(pctx models.PolicyContext, snap models.EntitySnapshot) (models.PolicyViolation, bool) {
	msg := r.Check(pctx, snap)
	if msg == "" {
		return models.PolicyViolation{}, false
	}
	return models.PolicyViolation{
		RuleID:          r.ID,
		Message:         msg,
		RemediationHint: r.RemediationHint,
		Severity:        r.Severity,
	}, true
}

func (r Rule) clone() Rule {
	r.EntityTypes = append([]string(nil), r.EntityTypes...)
	r.Classifications = append([]models.Classification(nil), r.Classifications...)
	return r
}

// RuleSet is an immutable, id-ordered snapshot of rules. It is never
// modified after construction; reloads build a new RuleSet.
type RuleSet struct {
	version  string
	rules    []Rule
	loadedAt time.Time
}

// NewRuleSet validates and orders rules by id
func NewRuleSet(version string, rules ...Rule) (*RuleSet, error) {
	seen := make(map[string]bool, len(rules))
	sorted := make([]Rule, 0, len(rules))

	for _, r := range rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rule id is required")
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate rule id: %s", r.ID)
		}
		if r.Check == nil {
			return nil, fmt.Errorf("rule %s has no predicate", r.ID)
		}
		if r.Severity != models.SeverityBlocking && r.Severity != models.SeverityWarning {
			return nil, fmt.Errorf("rule %s has invalid severity %q", r.ID, r.Severity)
		}
		if r.RemediationHint == "" {
			return nil, fmt.Errorf("rule %s has no remediation hint", r.ID)
		}
		seen[r.ID] = true
		sorted = append(sorted, r.clone())
	}

	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})

	return &RuleSet{
		version:  version,
		rules:    sorted,
		loadedAt: time.Now().UTC(),
	}, nil
}

// Select returns the rules applicable to pctx in rule-id order
func (rs *RuleSet) Select(pctx models.PolicyContext) []Rule {
	selected := make([]Rule, 0, len(rs.rules))
	for _, r := range rs.rules {
		if r.Applies(pctx) {
			selected = append(selected, r)
		}
	}
	return selected
}

// Rules returns a copy of all rules in id order
func (rs *RuleSet) Rules() []Rule {
	out := make([]Rule, len(rs.rules))
	for i, r := range rs.rules {
		out[i] = r.clone()
	}
	return out
}

// Version returns the version label of the rule configuration
func (rs *RuleSet) Version() string {
	return rs.version
}

// LoadedAt returns when the snapshot was built
func (rs *RuleSet) LoadedAt() time.Time {
	return rs.loadedAt
}

// Len returns the number of rules
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsClassification(set []models.Classification, v models.Classification) bool {
	for _, c := range set {
		if c == v {
			return true
		}
	}
	return false
}
