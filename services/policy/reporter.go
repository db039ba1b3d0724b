package policy

import (
	"fmt"

	"github.com/upb/grc-control-plane/models"
	"github.com/upb/grc-control-plane/services"
	"go.uber.org/zap"
)

// Reporter turns an evaluation outcome into the failure value returned to callers
type Reporter struct {
	recorder Recorder
	logger   *zap.Logger
}

// NewReporter creates a new Reporter
func NewReporter(recorder Recorder, logger *zap.Logger) *Reporter {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Reporter{
		recorder: recorder,
		logger:   logger,
	}
}

// Report returns nil for an allowed outcome. Otherwise the returned error carries
// every violation in outcome order, with the remediation hints of the Blocking ones.
func (r *Reporter) Report(pctx models.PolicyContext, outcome Outcome) error {
	for _, v := range outcome.Violations {
		r.recorder.ObserveViolation(v.RuleID, v.Severity)
	}
	if outcome.Allowed() {
		return nil
	}

	blocking := outcome.Blocking()
	ruleIDs := make([]string, 0, len(outcome.Violations))
	hints := make([]string, 0, len(blocking))
	for _, v := range outcome.Violations {
		ruleIDs = append(ruleIDs, v.RuleID)
	}
	for _, v := range blocking {
		hints = append(hints, v.RemediationHint)
	}

	msg := blocking[0].Message
	if len(blocking) > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, len(blocking)-1)
	}

	r.logger.Warn("policy enforcement denied",
		zap.String("action", string(pctx.Action)),
		zap.String("entity_type", pctx.EntityType),
		zap.String("tenant_id", pctx.TenantID.String()),
		zap.String("actor_id", pctx.ActorID),
		zap.Strings("rule_ids", ruleIDs))

	return services.NewPolicyViolationError(msg, outcome.Violations).
		WithDetail("remediation_hints", hints).
		WithDetail("rule_set_version", outcome.RuleSetVersion)
}

// Violations extracts the violation set from an error returned by Enforce
func Violations(err error) []models.PolicyViolation {
	return services.GetViolations(err)
}
