package policy

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/upb/grc-control-plane/models"
	"github.com/upb/grc-control-plane/services"
	"go.uber.org/zap"
)

// Recorder receives evaluation metrics. Implementations must be safe for concurrent use.
type Recorder interface {
	ObserveEvaluation(entityType string, action models.Action, allowed bool, duration time.Duration)
	ObserveViolation(ruleID string, severity models.Severity)
	ObserveReload(version string, rules int, err error)
}

type nopRecorder struct{}

func (nopRecorder) ObserveEvaluation(string, models.Action, bool, time.Duration) {}
func (nopRecorder) ObserveViolation(string, models.Severity) {}
func (nopRecorder) ObserveReload(string, int, error) {}

// Outcome is the result of evaluating every applicable rule once
type Outcome struct {
	Violations     []models.PolicyViolation // ordered by severity, then rule id
	Evaluated      int
	RuleSetVersion string
}

// Allowed reports whether no Blocking violation was produced
func (o Outcome) Allowed() bool {
	for _, v := range o.Violations {
		if v.IsBlocking() {
			return false
		}
	}
	return true
}

// Blocking returns the Blocking violations
func (o Outcome) Blocking() []models.PolicyViolation {
	return o.filter(models.SeverityBlocking)
}

// Warnings returns the Warning violations
func (o Outcome) Warnings() []models.PolicyViolation {
	return o.filter(models.SeverityWarning)
}

func (o Outcome) filter(sev models.Severity) []models.PolicyViolation {
	var out []models.PolicyViolation
	for _, v := range o.Violations {
		if v.Severity == sev {
			out = append(out, v)
		}
	}
	return out
}

// Engine evaluates policy contexts against the current rule set snapshot.
// It performs no I/O; the snapshot is swapped atomically on Reload.
type Engine struct {
	rules    atomic.Pointer[RuleSet]
	reporter *Reporter
	recorder Recorder
	logger   *zap.Logger
}

// NewEngine creates a new Engine. rs may be nil, in which case every call fails
// with an internal error until Reload is called.
func NewEngine(rs *RuleSet, recorder Recorder, logger *zap.Logger) *Engine {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	e := &Engine{
		reporter: NewReporter(recorder, logger),
		recorder: recorder,
		logger:   logger,
	}
	if rs != nil {
		e.rules.Store(rs)
	}
	return e
}

// Reload swaps the rule set. Evaluations already running keep the snapshot they started with.
func (e *Engine) Reload(rs *RuleSet) error {
	if rs == nil {
		err := fmt.Errorf("cannot reload an empty rule set")
		e.recorder.ObserveReload("", 0, err)
		return err
	}
	prev := e.rules.Swap(rs)

	prevVersion := ""
	if prev != nil {
		prevVersion = prev.Version()
	}
	e.recorder.ObserveReload(rs.Version(), rs.Len(), nil)
	e.logger.Info("policy rule set reloaded",
		zap.String("version", rs.Version()),
		zap.String("previous_version", prevVersion),
		zap.Int("rules", rs.Len()))
	return nil
}

// RuleSet returns the current snapshot, or nil if none is loaded
func (e *Engine) RuleSet() *RuleSet {
	return e.rules.Load()
}

// Evaluate runs every applicable rule without short-circuiting and returns all
// violations, Warnings included, whether or not the call is allowed.
func (e *Engine) Evaluate(pctx models.PolicyContext, snap models.EntitySnapshot) (Outcome, error) {
	rs := e.rules.Load()
	if rs == nil {
		return Outcome{}, services.ErrRulesNotLoaded
	}

	start := time.Now()
	selected := rs.Select(pctx)
	violations := make([]models.PolicyViolation, 0, 2)

	if !pctx.HasTenant() {
		violations = append(violations, missingTenantViolation())
	}
	for _, r := range selected {
		if v, failed := r.Evaluate(pctx, snap); failed {
			violations = append(violations, v)
		}
	}
	sortViolations(violations)

	outcome := Outcome{
		Violations:     violations,
		Evaluated:      len(selected),
		RuleSetVersion: rs.Version(),
	}
	e.recorder.ObserveEvaluation(pctx.EntityType, pctx.Action, outcome.Allowed(), time.Since(start))

	e.logger.Debug("policy evaluated",
		zap.String("action", string(pctx.Action)),
		zap.String("entity_type", pctx.EntityType),
		zap.String("tenant_id", pctx.TenantID.String()),
		zap.Int("rules_evaluated", outcome.Evaluated),
		zap.Int("violations", len(violations)),
		zap.String("rule_set_version", outcome.RuleSetVersion))

	return outcome, nil
}

// Enforce returns nil when no Blocking violation exists. Otherwise it returns a
// policy violation error carrying the full violation set; Warnings on a passing
// call are dropped.
func (e *Engine) Enforce(pctx models.PolicyContext, snap models.EntitySnapshot) error {
	outcome, err := e.Evaluate(pctx, snap)
	if err != nil {
		return err
	}
	return e.reporter.Report(pctx, outcome)
}

func sortViolations(violations []models.PolicyViolation) {
	sort.SliceStable(violations, func(i, j int) bool {
		ri, rj := violations[i].Severity.Rank(), violations[j].Severity.Rank()
		if ri != rj {
			return ri < rj
		}
		return violations[i].RuleID < violations[j].RuleID
	})
}
