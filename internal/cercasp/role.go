package cercasp

import (
	"fmt"
	"strings"
)

// Role is the authorization level attached to an Identity.
type Role string

const (
	RoleFounder     Role = "FOUNDER"
	RoleCoordinator Role = "COORDINATOR"
	RoleStaff       Role = "STAFF"
	RoleViewer      Role = "VIEWER"
)

// Permission is a "<domain>:<action>" string such as "patients:read".
type Permission string

const (
	PermissionAll Permission = "all"

	PermissionPatientsRead  Permission = "patients:read"
	PermissionPatientsWrite Permission = "patients:write"
	PermissionMedicalRead   Permission = "medical:read"
	PermissionMedicalWrite  Permission = "medical:write"
	PermissionFinanceRead   Permission = "finance:read"
	PermissionFinanceWrite  Permission = "finance:write"
)

var rolePermissions = map[Role][]Permission{
	RoleFounder: {PermissionAll},
	RoleCoordinator: {
		PermissionPatientsRead, PermissionPatientsWrite,
		PermissionMedicalRead, PermissionMedicalWrite,
		PermissionFinanceRead, PermissionFinanceWrite,
	},
	RoleStaff:  {PermissionPatientsRead, PermissionMedicalRead, PermissionMedicalWrite},
	RoleViewer: {PermissionPatientsRead},
}

var roleDisplayNames = map[Role]string{
	RoleFounder:     "Fundador",
	RoleCoordinator: "Coordinador",
	RoleStaff:       "Personal",
	RoleViewer:      "Observador",
}

// ParseRole converts a case-insensitive role name into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := rolePermissions[r]; !ok {
		return "", fmt.Errorf("unknown role: %q", s)
	}
	return r, nil
}

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	_, ok := rolePermissions[r]
	return ok
}

// DisplayName returns the Spanish label shown to staff.
func (r Role) DisplayName() string {
	if name, ok := roleDisplayNames[r]; ok {
		return name
	}
	return "Desconocido"
}

// Permissions returns a copy of the permission set granted to r.
// Unknown roles get an empty set.
func (r Role) Permissions() []Permission {
	perms := rolePermissions[r]
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// Grants reports whether r carries "all" or exactly p.
func (r Role) Grants(p Permission) bool {
	for _, granted := range rolePermissions[r] {
		if granted == PermissionAll || granted == p {
			return true
		}
	}
	return false
}

// ReadPermission returns "<domain>:read".
func ReadPermission(domain string) Permission {
	return Permission(domain + ":read")
}

// WritePermission returns "<domain>:write".
func WritePermission(domain string) Permission {
	return Permission(domain + ":write")
}
