package auth

// Permission names one capability checked by the API router.
type Permission string

const (
	PermDeviceRead     Permission = "device:read"
	PermDeviceDelete   Permission = "device:delete"
	PermCommandRead    Permission = "command:read"
	PermCommandSubmit  Permission = "command:submit"
	PermTelemetryWrite Permission = "telemetry:write"
	PermConfigWrite    Permission = "config:write"
	PermSyncTrigger    Permission = "sync:trigger"
)

// Roles are strictly layered: each one holds everything the role below it
// holds.
var (
	viewerPerms   = []Permission{PermDeviceRead, PermCommandRead}
	operatorPerms = append(append([]Permission(nil), viewerPerms...),
		PermCommandSubmit, PermTelemetryWrite, PermConfigWrite, PermSyncTrigger)
	adminPerms = append(append([]Permission(nil), operatorPerms...), PermDeviceDelete)

	rolePermissions = map[Role][]Permission{
		RoleViewer:   viewerPerms,
		RoleOperator: operatorPerms,
		RoleAdmin:    adminPerms,
	}
)

// HasPermission reports whether role grants perm. Unknown roles grant
// nothing.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns a copy of role's permissions, or nil for an
// unknown role.
func PermissionsForRole(role Role) []Permission {
	perms, ok := rolePermissions[role]
	if !ok {
		return nil
	}
	return append([]Permission(nil), perms...)
}
