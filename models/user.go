package models

// UserRole represents the role of an actor within a tenant
type UserRole string

const (
	RolePlatformAdmin     UserRole = "platform_admin"
	RoleTenantAdmin       UserRole = "tenant_admin"
	RoleComplianceOfficer UserRole = "compliance_officer"
	RoleRiskManager       UserRole = "risk_manager"
	RoleAuditor           UserRole = "auditor"
	RoleMember            UserRole = "member"
	RoleViewer            UserRole = "viewer"
)

// DefaultElevatedRoles are the roles allowed to act on entities they do not own
func DefaultElevatedRoles() []UserRole {
	return []UserRole{RolePlatformAdmin, RoleTenantAdmin, RoleComplianceOfficer}
}

// IsAdmin returns true for tenant and platform administrators
func (r UserRole) IsAdmin() bool {
	return r == RolePlatformAdmin || r == RoleTenantAdmin
}
