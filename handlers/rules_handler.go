package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/upb/grc-control-plane/models"
	"github.com/upb/grc-control-plane/services"
	"github.com/upb/grc-control-plane/services/policy"
	"github.com/upb/grc-control-plane/utils"
	"go.uber.org/zap"
)

// RuleEvaluator is the part of the policy engine the rules endpoints use
type RuleEvaluator interface {
	RuleSource
	Evaluate(pctx models.PolicyContext, snap models.EntitySnapshot) (policy.Outcome, error)
}

// RuleView describes one loaded rule
type RuleView struct {
	ID              string                  `json:"id"`
	Severity        models.Severity         `json:"severity"`
	EntityTypes     []string                `json:"entity_types,omitempty"`
	Classifications []models.Classification `json:"classifications,omitempty"`
	RemediationHint string                  `json:"remediation_hint"`
}

// RuleSetResponse describes the loaded rule set
type RuleSetResponse struct {
	Version  string     `json:"version"`
	LoadedAt string     `json:"loaded_at"`
	Count    int        `json:"count"`
	Rules    []RuleView `json:"rules"`
}

// EvaluateRequest is the body of a dry-run evaluation
type EvaluateRequest struct {
	Context  models.PolicyContext  `json:"context"`
	Snapshot models.EntitySnapshot `json:"snapshot"`
}

// EvaluateResponse reports every violation of a dry-run, Warnings included
type EvaluateResponse struct {
	Allowed        bool                     `json:"allowed"`
	Evaluated      int                      `json:"evaluated"`
	RuleSetVersion string                   `json:"rule_set_version"`
	Violations     []models.PolicyViolation `json:"violations"`
}

// RulesHandler exposes the loaded policy rule set
type RulesHandler struct {
	engine RuleEvaluator
	logger *zap.Logger
}

// NewRulesHandler creates a new RulesHandler
func NewRulesHandler(engine RuleEvaluator, logger *zap.Logger) *RulesHandler {
	return &RulesHandler{
		engine: engine,
		logger: logger,
	}
}

// HandleList handles GET /rules
func (h *RulesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	rs := h.engine.RuleSet()
	if rs == nil {
		HandleServiceError(w, services.ErrRulesNotLoaded, h.logger)
		return
	}

	rules := rs.Rules()
	views := make([]RuleView, 0, len(rules))
	for _, rule := range rules {
		views = append(views, RuleView{
			ID:              rule.ID,
			Severity:        rule.Severity,
			EntityTypes:     rule.EntityTypes,
			Classifications: rule.Classifications,
			RemediationHint: rule.RemediationHint,
		})
	}

	_ = utils.WriteOK(w, RuleSetResponse{
		Version:  rs.Version(),
		LoadedAt: rs.LoadedAt().Format(time.RFC3339),
		Count:    len(views),
		Rules:    views,
	})
}

// HandleEvaluate handles POST /rules/evaluate
// Runs the engine without enforcing; nothing is persisted or audited.
func (h *RulesHandler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if req.Context.Action == "" || req.Context.EntityType == "" {
		HandleServiceError(w, services.NewDomainError(services.ErrorTypeValidation,
			"context.action and context.entity_type are required", nil), h.logger)
		return
	}

	outcome, err := h.engine.Evaluate(req.Context, req.Snapshot)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	violations := outcome.Violations
	if violations == nil {
		violations = []models.PolicyViolation{}
	}
	_ = utils.WriteOK(w, EvaluateResponse{
		Allowed:        outcome.Allowed(),
		Evaluated:      outcome.Evaluated,
		RuleSetVersion: outcome.RuleSetVersion,
		Violations:     violations,
	})
}
