package plan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/upb/grc-control-plane/models"
	"gopkg.in/yaml.v3"
)

// ScopeCatalog is a file-backed ScopeDeriver. Tenant entries take precedence
// over the plan-type entries; a plan type with no entry derives an empty scope,
// which makes CreatePlan fall back to the plan-type template.
type ScopeCatalog struct {
	PlanTypes map[models.PlanType][]models.ScopeItem            `yaml:"plan_types"`
	Tenants   map[string]map[models.PlanType][]models.ScopeItem `yaml:"tenants"`
}

// LoadScopeCatalog reads a scope catalog from a YAML file
func LoadScopeCatalog(path string) (*ScopeCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scope catalog: %w", err)
	}
	return ParseScopeCatalog(data)
}

// ParseScopeCatalog decodes and validates a YAML scope catalog
func ParseScopeCatalog(data []byte) (*ScopeCatalog, error) {
	var c ScopeCatalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse scope catalog: %w", err)
	}

	for tenantKey, byType := range c.Tenants {
		if _, err := uuid.Parse(tenantKey); err != nil {
			return nil, fmt.Errorf("scope catalog tenant %q is not a uuid", tenantKey)
		}
		for planType, items := range byType {
			if err := validateScope(items); err != nil {
				return nil, fmt.Errorf("tenant %s %s: %w", tenantKey, planType, err)
			}
		}
	}
	for planType, items := range c.PlanTypes {
		if err := validateScope(items); err != nil {
			return nil, fmt.Errorf("%s: %w", planType, err)
		}
	}
	return &c, nil
}

func validateScope(items []models.ScopeItem) error {
	for i, item := range items {
		if item.Kind == "" || item.Code == "" {
			return fmt.Errorf("scope item %d needs kind and code", i)
		}
	}
	return nil
}

// DeriveScope implements ScopeDeriver
func (c *ScopeCatalog) DeriveScope(_ context.Context, tenantID uuid.UUID, planType models.PlanType) ([]models.ScopeItem, error) {
	if planType == "" {
		planType = models.PlanTypeAssessment
	}
	items, ok := c.Tenants[tenantID.String()][planType]
	if !ok {
		items = c.PlanTypes[planType]
	}
	return append([]models.ScopeItem(nil), items...), nil
}
