package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/upb/grc-control-plane/models"
	"gopkg.in/yaml.v3"
)

// RuleConfig holds the parameters of the built-in rule families.
// It carries data only (roles, actions, classifications); the predicates are fixed in code.
type RuleConfig struct {
	Version          string                  `yaml:"version"`
	ElevatedRoles    []models.UserRole       `yaml:"elevated_roles"`
	OwnershipActions []models.Action         `yaml:"ownership_actions"`
	OwnerRequired    []models.Classification `yaml:"owner_required"`
	OwnerRecommended []models.Classification `yaml:"owner_recommended"`
	RoleGates        []RoleGate              `yaml:"role_gates"`
}

// RoleGate restricts an action to an allow-list of roles
type RoleGate struct {
	Action          models.Action           `yaml:"action"`
	EntityTypes     []string                `yaml:"entity_types"`
	Classifications []models.Classification `yaml:"classifications"`
	Roles           []models.UserRole       `yaml:"roles"` // empty = elevated roles
	RemediationHint string                  `yaml:"remediation_hint"`
}

// DefaultRuleConfig returns the rule parameters used when no rules file is configured
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		Version:          "builtin",
		ElevatedRoles:    models.DefaultElevatedRoles(),
		OwnershipActions: []models.Action{models.ActionUpdate, models.ActionDelete, models.ActionClose},
		OwnerRequired:    []models.Classification{models.ClassificationRestricted, models.ClassificationConfidential},
		OwnerRecommended: []models.Classification{models.ClassificationInternal},
		RoleGates: []RoleGate{
			{Action: models.ActionClose},
			{Action: models.ActionApprove},
			{Action: models.ActionPublish},
			{
				Action:          models.ActionUpdateStatus,
				Classifications: []models.Classification{models.ClassificationRestricted},
				RemediationHint: "Restricted plans can only change status through a tenant admin or compliance officer",
			},
			{
				Action:          models.ActionUpdatePhase,
				Classifications: []models.Classification{models.ClassificationRestricted},
				RemediationHint: "Restricted plan phases can only be updated through a tenant admin or compliance officer",
			},
		},
	}
}

// LoadRuleConfig reads rule parameters from a YAML file
func LoadRuleConfig(path string) (RuleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleConfig{}, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRuleConfig(data)
}

// ParseRuleConfig decodes and validates YAML rule parameters. Unknown keys are rejected
// so a typo cannot silently disable a rule.
func ParseRuleConfig(data []byte) (RuleConfig, error) {
	var cfg RuleConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return RuleConfig{}, fmt.Errorf("failed to parse rules file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return RuleConfig{}, err
	}
	return cfg, nil
}

// Validate checks the parameters before a rule set is built from them
func (c RuleConfig) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("rules version is required")
	}
	if len(c.ElevatedRoles) == 0 {
		return fmt.Errorf("at least one elevated role is required")
	}
	for _, cls := range append(append([]models.Classification(nil), c.OwnerRequired...), c.OwnerRecommended...) {
		if _, ok := models.ParseClassification(string(cls)); !ok {
			return fmt.Errorf("unknown classification %q", cls)
		}
	}

	seen := make(map[string]bool, len(c.RoleGates))
	for i, g := range c.RoleGates {
		if g.Action == "" {
			return fmt.Errorf("role gate %d: action is required", i)
		}
		for _, cls := range g.Classifications {
			if _, ok := models.ParseClassification(string(cls)); !ok {
				return fmt.Errorf("role gate %d: unknown classification %q", i, cls)
			}
		}
		id := g.ruleID()
		if seen[id] {
			return fmt.Errorf("role gate %d: duplicate gate %s", i, id)
		}
		seen[id] = true
	}
	return nil
}
