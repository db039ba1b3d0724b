package plan

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/grc-control-plane/models"
)

const (
	phaseCodePrefix = "PHASE_"

	// defaultPlanDuration is used when a plan is created without a target end date
	defaultPlanDuration = 30 * 24 * time.Hour
)

// phaseTemplate is one default phase. tailDays reserves that many days at the
// end of the plan window for the phases that follow it.
type phaseTemplate struct {
	code     string
	name     string
	tailDays int
}

// defaultTemplates are the phases of a plan created without a derived scope
var defaultTemplates = map[models.PlanType][]phaseTemplate{
	models.PlanTypeQuickScan: {
		{code: "PHASE_QUICK_SCAN", name: "Quick Scan"},
	},
	models.PlanTypeFull: {
		{code: "PHASE_DETAILED_ASSESSMENT", name: "Detailed Assessment", tailDays: 7},
		{code: "PHASE_REMEDIATION", name: "Remediation Planning"},
	},
	models.PlanTypeRemediation: {
		{code: "PHASE_REMEDIATION_EXECUTION", name: "Remediation Execution", tailDays: 3},
		{code: "PHASE_REMEDIATION_VALIDATION", name: "Remediation Validation"},
	},
	models.PlanTypeAssessment: {
		{code: "PHASE_ASSESSMENT", name: "Assessment"},
	},
}

// buildPhases generates the ordered phases of plan. A non-empty scope yields
// one phase per distinct scope item in input order; an empty scope falls back
// to the default template of the plan type.
func buildPhases(plan *models.Plan, scope []models.ScopeItem, actorID string) []*models.Phase {
	items := distinctScope(scope)
	if len(items) == 0 {
		return templatePhases(plan, actorID)
	}

	windows := splitEvenly(plan.StartDate, plan.TargetEndDate, len(items))
	phases := make([]*models.Phase, len(items))
	for i, item := range items {
		name := item.Name
		if name == "" {
			name = item.Code
		}
		ph := models.NewPhase(plan, i, phaseCodePrefix+strings.ToUpper(item.Code), name, actorID)
		ph.PlannedStartDate = windows[i][0]
		ph.PlannedEndDate = windows[i][1]
		phases[i] = ph
	}
	return phases
}

func templatePhases(plan *models.Plan, actorID string) []*models.Phase {
	tmpl, ok := defaultTemplates[plan.PlanType]
	if !ok {
		tmpl = defaultTemplates[models.PlanTypeAssessment]
	}

	phases := make([]*models.Phase, len(tmpl))
	start := plan.StartDate
	for i, t := range tmpl {
		end := plan.TargetEndDate.AddDate(0, 0, -t.tailDays)
		if i == len(tmpl)-1 || end.Before(start) {
			end = plan.TargetEndDate
		}
		ph := models.NewPhase(plan, i, t.code, t.name, actorID)
		ph.PlannedStartDate = start
		ph.PlannedEndDate = end
		phases[i] = ph
		start = end
	}
	return phases
}

// distinctScope drops repeated scope items, keeping the first occurrence
func distinctScope(scope []models.ScopeItem) []models.ScopeItem {
	seen := make(map[string]bool, len(scope))
	out := make([]models.ScopeItem, 0, len(scope))
	for _, item := range scope {
		key := strings.ToLower(item.Key())
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}

// splitEvenly cuts [start, end] into n consecutive windows. The last window
// absorbs any rounding so it always ends exactly at end.
func splitEvenly(start, end time.Time, n int) [][2]time.Time {
	windows := make([][2]time.Time, n)
	step := end.Sub(start) / time.Duration(n)
	cur := start
	for i := 0; i < n; i++ {
		next := cur.Add(step)
		if i == n-1 {
			next = end
		}
		windows[i] = [2]time.Time{cur, next}
		cur = next
	}
	return windows
}

// planWindow fills in the default start and target end dates
func planWindow(start, end time.Time) (time.Time, time.Time) {
	if start.IsZero() {
		start = time.Now().UTC().Truncate(24 * time.Hour)
	}
	if end.IsZero() || !end.After(start) {
		end = start.Add(defaultPlanDuration)
	}
	return start, end
}

func phaseIDs(phases []*models.Phase) []uuid.UUID {
	ids := make([]uuid.UUID, len(phases))
	for i, ph := range phases {
		ids[i] = ph.ID
	}
	return ids
}
