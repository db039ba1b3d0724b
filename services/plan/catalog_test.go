package plan

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/grc-control-plane/models"
)

const catalogYAML = `
plan_types:
  FULL:
    - {kind: baseline, code: ISO27001, name: ISO 27001}
    - {kind: package, code: PCI}
  ASSESSMENT:
    - {kind: template, code: SELF}
tenants:
  "6f1c2d3e-0000-4000-8000-000000000001":
    FULL:
      - {kind: baseline, code: NIST-CSF}
`

func TestScopeCatalog_DeriveScope(t *testing.T) {
	c, err := ParseScopeCatalog([]byte(catalogYAML))
	require.NoError(t, err)

	special := uuid.MustParse("6f1c2d3e-0000-4000-8000-000000000001")
	ctx := context.Background()

	scope, err := c.DeriveScope(ctx, uuid.New(), models.PlanTypeFull)
	require.NoError(t, err)
	assert.Equal(t, []models.ScopeItem{
		{Kind: "baseline", Code: "ISO27001", Name: "ISO 27001"},
		{Kind: "package", Code: "PCI"},
	}, scope)

	scope, err = c.DeriveScope(ctx, special, models.PlanTypeFull)
	require.NoError(t, err)
	assert.Equal(t, []models.ScopeItem{{Kind: "baseline", Code: "NIST-CSF"}}, scope)

	scope, err = c.DeriveScope(ctx, special, "")
	require.NoError(t, err)
	assert.Equal(t, []models.ScopeItem{{Kind: "template", Code: "SELF"}}, scope)

	scope, err = c.DeriveScope(ctx, uuid.New(), models.PlanTypeQuickScan)
	require.NoError(t, err)
	assert.Empty(t, scope)
}

func TestScopeCatalog_ReturnsCopy(t *testing.T) {
	c, err := ParseScopeCatalog([]byte(catalogYAML))
	require.NoError(t, err)

	scope, _ := c.DeriveScope(context.Background(), uuid.New(), models.PlanTypeFull)
	scope[0].Code = "CHANGED"

	again, _ := c.DeriveScope(context.Background(), uuid.New(), models.PlanTypeFull)
	assert.Equal(t, "ISO27001", again[0].Code)
}

func TestParseScopeCatalog_Errors(t *testing.T) {
	tests := map[string]string{
		"unknown key":     "plan_type:\n  FULL: []\n",
		"missing code":    "plan_types:\n  FULL:\n    - {kind: baseline}\n",
		"bad tenant":      "tenants:\n  acme:\n    FULL: []\n",
		"malformed yaml":  "plan_types: [",
		"tenant bad item": "tenants:\n  \"6f1c2d3e-0000-4000-8000-000000000001\":\n    FULL:\n      - {code: X}\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseScopeCatalog([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadScopeCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scopes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0o600))

	c, err := LoadScopeCatalog(path)
	require.NoError(t, err)
	assert.Len(t, c.PlanTypes, 2)

	_, err = LoadScopeCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestCreatePlanFromScope_Catalog(t *testing.T) {
	c, err := ParseScopeCatalog([]byte(catalogYAML))
	require.NoError(t, err)

	f := newFixture(t)
	f.orch.scopes = c

	plan, err := f.orch.CreatePlanFromScope(f.admin(), CreatePlanRequest{
		PlanCode:       "CAT-1",
		Name:           "catalog plan",
		PlanType:       models.PlanTypeFull,
		Classification: models.ClassificationInternal,
		Owner:          "alice",
	})
	require.NoError(t, err)

	phases, err := f.orch.ListPlanPhases(f.admin(), plan.ID)
	require.NoError(t, err)
	require.Len(t, phases, 2)
	assert.Equal(t, "PHASE_ISO27001", phases[0].PhaseCode)
	assert.Equal(t, "PHASE_PCI", phases[1].PhaseCode)
}
