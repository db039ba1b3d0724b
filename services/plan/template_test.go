package plan

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/grc-control-plane/models"
)

func templatePlan(planType models.PlanType) *models.Plan {
	plan := models.NewPlan(uuid.New(), "T-1", "template", planType, "alice")
	plan.StartDate = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	plan.TargetEndDate = time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	return plan
}

func phaseCodes(phases []*models.Phase) []string {
	codes := make([]string, len(phases))
	for i, ph := range phases {
		codes[i] = ph.PhaseCode
	}
	return codes
}

func TestBuildPhases_DefaultTemplates(t *testing.T) {
	tests := []struct {
		planType models.PlanType
		codes    []string
	}{
		{models.PlanTypeQuickScan, []string{"PHASE_QUICK_SCAN"}},
		{models.PlanTypeFull, []string{"PHASE_DETAILED_ASSESSMENT", "PHASE_REMEDIATION"}},
		{models.PlanTypeRemediation, []string{"PHASE_REMEDIATION_EXECUTION", "PHASE_REMEDIATION_VALIDATION"}},
		{models.PlanTypeAssessment, []string{"PHASE_ASSESSMENT"}},
		{"CUSTOM", []string{"PHASE_ASSESSMENT"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.planType), func(t *testing.T) {
			plan := templatePlan(tt.planType)
			phases := buildPhases(plan, nil, "alice")
			assert.Equal(t, tt.codes, phaseCodes(phases))
			for i, ph := range phases {
				assert.Equal(t, i, ph.Sequence)
				assert.Equal(t, plan.ID, ph.PlanID)
				assert.Equal(t, plan.TenantID, ph.TenantID)
				assert.Equal(t, models.PhaseStatusPending, ph.Status)
			}
			assert.Equal(t, plan.StartDate, phases[0].PlannedStartDate)
			assert.Equal(t, plan.TargetEndDate, phases[len(phases)-1].PlannedEndDate)
		})
	}
}

func TestBuildPhases_FullTemplateReservesRemediationWeek(t *testing.T) {
	plan := templatePlan(models.PlanTypeFull)
	phases := buildPhases(plan, nil, "alice")
	require.Len(t, phases, 2)

	cut := plan.TargetEndDate.AddDate(0, 0, -7)
	assert.Equal(t, cut, phases[0].PlannedEndDate)
	assert.Equal(t, cut, phases[1].PlannedStartDate)
}

func TestBuildPhases_ShortWindowDoesNotInvertDates(t *testing.T) {
	plan := templatePlan(models.PlanTypeRemediation)
	plan.TargetEndDate = plan.StartDate.AddDate(0, 0, 1)

	phases := buildPhases(plan, nil, "alice")
	for _, ph := range phases {
		assert.False(t, ph.PlannedEndDate.Before(ph.PlannedStartDate), ph.PhaseCode)
	}
}

func TestBuildPhases_FromScope(t *testing.T) {
	plan := templatePlan(models.PlanTypeFull)
	scope := []models.ScopeItem{
		{Kind: "baseline", Code: "iso27001", Name: "ISO 27001"},
		{Kind: "package", Code: "pci"},
		{Kind: "baseline", Code: "ISO27001", Name: "duplicate"},
		{Kind: "template", Code: "iso27001", Name: "Same code, other kind"},
	}

	phases := buildPhases(plan, scope, "alice")
	assert.Equal(t, []string{"PHASE_ISO27001", "PHASE_PCI", "PHASE_ISO27001"}, phaseCodes(phases))
	assert.Equal(t, "ISO 27001", phases[0].Name)
	assert.Equal(t, "pci", phases[1].Name)

	for i := 1; i < len(phases); i++ {
		assert.Equal(t, phases[i-1].PlannedEndDate, phases[i].PlannedStartDate)
	}
	assert.Equal(t, plan.StartDate, phases[0].PlannedStartDate)
	assert.Equal(t, plan.TargetEndDate, phases[2].PlannedEndDate)
	assert.Equal(t, 10*24*time.Hour, phases[0].PlannedEndDate.Sub(phases[0].PlannedStartDate))
}

func TestPlanWindow(t *testing.T) {
	start, end := planWindow(time.Time{}, time.Time{})
	assert.False(t, start.IsZero())
	assert.Equal(t, defaultPlanDuration, end.Sub(start))

	s := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	start, end = planWindow(s, s.Add(-time.Hour))
	assert.Equal(t, s, start)
	assert.Equal(t, s.Add(defaultPlanDuration), end)
}
