package policy

import (
	"context"

	"github.com/upb/grc-control-plane/models"
	"github.com/upb/grc-control-plane/services/tenant"
	"go.uber.org/zap"
)

// PrincipalResolver resolves the acting tenant and actor of a request
type PrincipalResolver interface {
	Resolve(ctx context.Context) (tenant.Principal, error)
}

// Enforcer builds policy contexts from the request principal and delegates to the Engine
type Enforcer struct {
	engine     *Engine
	principals PrincipalResolver
	logger     *zap.Logger
}

// NewEnforcer creates a new Enforcer
func NewEnforcer(engine *Engine, principals PrincipalResolver, logger *zap.Logger) *Enforcer {
	return &Enforcer{
		engine:     engine,
		principals: principals,
		logger:     logger,
	}
}

// EnforceCreate checks a Create of entityType
func (e *Enforcer) EnforceCreate(ctx context.Context, entityType string, snap models.EntitySnapshot, classification models.Classification, owner string) error {
	return e.EnforceAction(ctx, models.ActionCreate, entityType, snap, classification, owner)
}

// EnforceUpdate checks an Update of entityType
func (e *Enforcer) EnforceUpdate(ctx context.Context, entityType string, snap models.EntitySnapshot, classification models.Classification, owner string) error {
	return e.EnforceAction(ctx, models.ActionUpdate, entityType, snap, classification, owner)
}

// EnforceDelete checks a Delete of entityType
func (e *Enforcer) EnforceDelete(ctx context.Context, entityType string, snap models.EntitySnapshot, classification models.Classification, owner string) error {
	return e.EnforceAction(ctx, models.ActionDelete, entityType, snap, classification, owner)
}

// EnforceAction checks any action, including custom verbs such as Close or Approve.
// When the principal cannot be resolved the context is left without a tenant, which
// the engine always rejects.
func (e *Enforcer) EnforceAction(ctx context.Context, action models.Action, entityType string, snap models.EntitySnapshot, classification models.Classification, owner string) error {
	principal, err := e.principals.Resolve(ctx)
	if err != nil {
		e.logger.Warn("enforcing without principal",
			zap.String("action", string(action)),
			zap.String("entity_type", entityType),
			zap.Error(err))
		principal = tenant.Principal{}
	}

	if snap.EntityType == "" {
		snap.EntityType = entityType
	}
	return e.engine.Enforce(principal.PolicyContext(action, entityType, classification, owner), snap)
}

// Engine returns the underlying engine
func (e *Enforcer) Engine() *Engine {
	return e.engine
}
