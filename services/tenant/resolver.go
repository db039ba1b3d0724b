package tenant

import (
	"context"

	"github.com/google/uuid"
	"github.com/upb/grc-control-plane/models"
	"github.com/upb/grc-control-plane/services"
	"go.uber.org/zap"
)

// Principal is the acting tenant and actor of one operation
type Principal struct {
	TenantID uuid.UUID
	ActorID  string
	Role     models.UserRole
}

// ActorResolver supplies the actor id and role of the authenticated caller
type ActorResolver interface {
	ResolveActor(ctx context.Context) (actorID string, role models.UserRole, ok bool)
}

// rolePrecedence picks the most privileged role when the caller holds several
var rolePrecedence = []models.UserRole{
	models.RolePlatformAdmin,
	models.RoleTenantAdmin,
	models.RoleComplianceOfficer,
	models.RoleRiskManager,
	models.RoleAuditor,
	models.RoleMember,
	models.RoleViewer,
}

// ClaimsActorResolver resolves the actor from the claims stored in the context
type ClaimsActorResolver struct{}

// ResolveActor implements ActorResolver. Unknown role names are ignored,
// so a caller without a recognised role resolves with an empty role.
func (ClaimsActorResolver) ResolveActor(ctx context.Context) (string, models.UserRole, bool) {
	claims := GetClaimsFromContext(ctx)
	if claims == nil || claims.Sub == "" {
		return "", "", false
	}

	held := make(map[models.UserRole]bool, len(claims.Roles))
	for _, r := range claims.Roles {
		held[models.UserRole(r)] = true
	}
	for _, r := range rolePrecedence {
		if held[r] {
			return claims.Sub, r, true
		}
	}
	return claims.Sub, "", true
}

// Resolver resolves the acting principal and fails closed when any part is absent
type Resolver struct {
	actors ActorResolver
	logger *zap.Logger
}

// NewResolver creates a new Resolver. A nil ActorResolver defaults to ClaimsActorResolver.
func NewResolver(actors ActorResolver, logger *zap.Logger) *Resolver {
	if actors == nil {
		actors = ClaimsActorResolver{}
	}
	return &Resolver{
		actors: actors,
		logger: logger,
	}
}

// Resolve returns the principal for ctx. The tenant comes from the value set by
// the authentication layer, falling back to the tenant claim; it is never defaulted.
func (r *Resolver) Resolve(ctx context.Context) (Principal, error) {
	tenantID := GetTenantIDFromContext(ctx)
	if tenantID == uuid.Nil {
		if claims := GetClaimsFromContext(ctx); claims != nil && claims.TenantID != "" {
			if parsed, err := uuid.Parse(claims.TenantID); err == nil {
				tenantID = parsed
			}
		}
	}
	if tenantID == uuid.Nil {
		r.logger.Warn("tenant context missing",
			zap.String("request_id", GetRequestIDFromContext(ctx)))
		return Principal{}, services.NewDomainError(services.ErrorTypeMissingContext, "tenant context missing", nil)
	}

	actorID, role, ok := r.actors.ResolveActor(ctx)
	if !ok || actorID == "" {
		r.logger.Warn("actor context missing",
			zap.String("tenant_id", tenantID.String()),
			zap.String("request_id", GetRequestIDFromContext(ctx)))
		return Principal{}, services.NewDomainError(services.ErrorTypeMissingContext, "actor context missing", nil).
			WithDetail("tenant_id", tenantID.String())
	}

	return Principal{TenantID: tenantID, ActorID: actorID, Role: role}, nil
}

// ResolveActing resolves the principal and checks that an explicitly supplied
// actor id names the authenticated caller. An empty actorID means "the caller".
func (r *Resolver) ResolveActing(ctx context.Context, actorID string) (Principal, error) {
	principal, err := r.Resolve(ctx)
	if err != nil {
		return Principal{}, err
	}
	if actorID != "" && actorID != principal.ActorID {
		r.logger.Warn("actor does not match authenticated principal",
			zap.String("tenant_id", principal.TenantID.String()),
			zap.String("actor_id", actorID),
			zap.String("principal", principal.ActorID))
		return Principal{}, services.NewDomainError(services.ErrorTypeMissingContext, "actor does not match authenticated principal", nil).
			WithDetail("actor_id", actorID)
	}
	return principal, nil
}

// PolicyContext builds the policy input for principal p. An empty classification
// becomes models.DefaultClassification.
func (p Principal) PolicyContext(action models.Action, entityType string, classification models.Classification, owner string) models.PolicyContext {
	if classification == "" {
		classification = models.DefaultClassification
	}
	return models.PolicyContext{
		Action:         action,
		EntityType:     entityType,
		TenantID:       p.TenantID,
		ActorID:        p.ActorID,
		ActorRole:      p.Role,
		Classification: classification,
		Owner:          owner,
	}
}
