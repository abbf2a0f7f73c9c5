package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOwner          = "owner"
	RoleAgent          = "agent"
	RolePortalCustomer = "portal_customer"
	RoleSuperAdmin     = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }
