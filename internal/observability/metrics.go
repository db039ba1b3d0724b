package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/upb/grc-control-plane/models"
)

// Metrics owns the registry and the metric groups of the process
type Metrics struct {
	registry *prometheus.Registry
	Policy   *PolicyMetrics
	Plans    *PlanMetrics
}

// NewMetrics creates and registers every metric group. A nil registry gets a
// fresh one that also carries the Go runtime and process collectors.
func NewMetrics(namespace string, registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	if namespace == "" {
		namespace = "grc"
	}

	return &Metrics{
		registry: registry,
		Policy:   NewPolicyMetrics(namespace, registry),
		Plans:    NewPlanMetrics(namespace, registry),
	}
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// PolicyMetrics tracks policy evaluation. It implements policy.Recorder.
//
// Metrics:
//   - grc_policy_evaluations_total: evaluations by entity type, action and result
//   - grc_policy_evaluation_duration_seconds: evaluation latency by entity type
//   - grc_policy_violations_total: violations by rule and severity
//   - grc_policy_reloads_total: rule set reloads by result
//   - grc_policy_rules: rules in the active rule set
type PolicyMetrics struct {
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	violationsTotal    *prometheus.CounterVec
	reloadsTotal       *prometheus.CounterVec
	rules              prometheus.Gauge
}

// NewPolicyMetrics creates and registers policy metrics with the provided registry
func NewPolicyMetrics(namespace string, registry *prometheus.Registry) *PolicyMetrics {
	pm := &PolicyMetrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "policy",
				Name:      "evaluations_total",
				Help:      "Total number of policy evaluations",
			},
			[]string{"entity_type", "action", "result"},
		),

		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "policy",
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of policy evaluation in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.000001, 2, 15), // 1µs to 16ms
			},
			[]string{"entity_type"},
		),

		violationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "policy",
				Name:      "violations_total",
				Help:      "Total number of policy violations by rule",
			},
			[]string{"rule_id", "severity"},
		),

		reloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "policy",
				Name:      "reloads_total",
				Help:      "Total number of rule set reloads",
			},
			[]string{"result"},
		),

		rules: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "policy",
				Name:      "rules",
				Help:      "Number of rules in the active rule set",
			},
		),
	}

	registry.MustRegister(
		pm.evaluationsTotal,
		pm.evaluationDuration,
		pm.violationsTotal,
		pm.reloadsTotal,
		pm.rules,
	)

	return pm
}

// ObserveEvaluation records one Evaluate call
func (pm *PolicyMetrics) ObserveEvaluation(entityType string, action models.Action, allowed bool, duration time.Duration) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	pm.evaluationsTotal.WithLabelValues(entityType, string(action), result).Inc()
	pm.evaluationDuration.WithLabelValues(entityType).Observe(duration.Seconds())
}

// ObserveViolation records one reported violation
func (pm *PolicyMetrics) ObserveViolation(ruleID string, severity models.Severity) {
	pm.violationsTotal.WithLabelValues(ruleID, string(severity)).Inc()
}

// ObserveReload records a rule set reload attempt
func (pm *PolicyMetrics) ObserveReload(_ string, rules int, err error) {
	if err != nil {
		pm.reloadsTotal.WithLabelValues("error").Inc()
		return
	}
	pm.reloadsTotal.WithLabelValues("success").Inc()
	pm.rules.Set(float64(rules))
}

// PlanMetrics tracks the plan lifecycle. It implements plan.Recorder.
//
// Metrics:
//   - grc_plan_created_total: plans created by type
//   - grc_plan_phases_created_total: phases created with new plans
//   - grc_plan_transitions_total: plan status changes by from, to and outcome
//   - grc_plan_phase_updates_total: phase updates by status, force and outcome
//   - grc_plan_cascades_total: completion cascades by outcome
type PlanMetrics struct {
	createdTotal       *prometheus.CounterVec
	phasesCreatedTotal prometheus.Counter
	transitionsTotal   *prometheus.CounterVec
	phaseUpdatesTotal  *prometheus.CounterVec
	cascadesTotal      *prometheus.CounterVec
}

// NewPlanMetrics creates and registers plan metrics with the provided registry
func NewPlanMetrics(namespace string, registry *prometheus.Registry) *PlanMetrics {
	pm := &PlanMetrics{
		createdTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "plan",
				Name:      "created_total",
				Help:      "Total number of plans created",
			},
			[]string{"plan_type"},
		),

		phasesCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "plan",
				Name:      "phases_created_total",
				Help:      "Total number of phases created with new plans",
			},
		),

		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "plan",
				Name:      "transitions_total",
				Help:      "Total number of plan status transition attempts",
			},
			[]string{"from", "to", "outcome"},
		),

		phaseUpdatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "plan",
				Name:      "phase_updates_total",
				Help:      "Total number of phase update attempts",
			},
			[]string{"status", "forced", "outcome"},
		),

		cascadesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "plan",
				Name:      "cascades_total",
				Help:      "Total number of plan completion cascades",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		pm.createdTotal,
		pm.phasesCreatedTotal,
		pm.transitionsTotal,
		pm.phaseUpdatesTotal,
		pm.cascadesTotal,
	)

	return pm
}

// ObservePlanCreated records a created plan and its phases
func (pm *PlanMetrics) ObservePlanCreated(planType models.PlanType, phases int) {
	pm.createdTotal.WithLabelValues(string(planType)).Inc()
	pm.phasesCreatedTotal.Add(float64(phases))
}

// ObserveTransition records a plan status change attempt
func (pm *PlanMetrics) ObserveTransition(from, to models.PlanStatus, outcome string) {
	pm.transitionsTotal.WithLabelValues(string(from), string(to), outcome).Inc()
}

// ObservePhaseUpdate records a phase update attempt
func (pm *PlanMetrics) ObservePhaseUpdate(status models.PhaseStatus, forced bool, outcome string) {
	pm.phaseUpdatesTotal.WithLabelValues(string(status), strconv.FormatBool(forced), outcome).Inc()
}

// ObserveCascade records the result of a completion cascade
func (pm *PlanMetrics) ObserveCascade(outcome string) {
	pm.cascadesTotal.WithLabelValues(outcome).Inc()
}
