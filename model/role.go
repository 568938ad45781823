package model

import "strings"

// Role is a canonical ClamFlow user role. The backend and older UI modules
// spell roles either in Title Case ("QC Lead") or snake_case ("qc_lead");
// ParseRole folds both spellings onto one value.
type Role string

// Canonical roles, in hierarchy order.
const (
	RoleUnknown         Role = ""
	RoleSuperAdmin      Role = "Super Admin"
	RoleAdmin           Role = "Admin"
	RoleProductionLead  Role = "Production Lead"
	RoleQCLead          Role = "QC Lead"
	RoleStaffLead       Role = "Staff Lead"
	RoleQCStaff         Role = "QC Staff"
	RoleProductionStaff Role = "Production Staff"
	RoleSecurityGuard   Role = "Security Guard"
)

// AllRoles lists the canonical roles in hierarchy order.
var AllRoles = []Role{
	RoleSuperAdmin,
	RoleAdmin,
	RoleProductionLead,
	RoleQCLead,
	RoleStaffLead,
	RoleQCStaff,
	RoleProductionStaff,
	RoleSecurityGuard,
}

var roleAliases = map[string]Role{
	"super_admin":      RoleSuperAdmin,
	"superadmin":       RoleSuperAdmin,
	"admin":            RoleAdmin,
	"production_lead":  RoleProductionLead,
	"qc_lead":          RoleQCLead,
	"staff_lead":       RoleStaffLead,
	"qc_staff":         RoleQCStaff,
	"station_qa":       RoleQCStaff,
	"production_staff": RoleProductionStaff,
	"security_guard":   RoleSecurityGuard,
}

// ParseRole maps any known spelling of a role to its canonical value.
// Matching is case-insensitive and treats spaces, hyphens and underscores
// alike. Unknown strings return RoleUnknown.
func ParseRole(s string) Role {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	if r, ok := roleAliases[key]; ok {
		return r
	}
	return RoleUnknown
}

// Slug returns the snake_case spelling of the role ("qc_lead").
func (r Role) Slug() string {
	return strings.ReplaceAll(strings.ToLower(string(r)), " ", "_")
}

// Valid reports whether r is one of the canonical roles.
func (r Role) Valid() bool {
	return r.Level() > 0
}

// Level returns the role's hierarchy level, 1 for Super Admin through 8 for
// Security Guard. Unknown roles return 0.
func (r Role) Level() int {
	for i, known := range AllRoles {
		if r == known {
			return i + 1
		}
	}
	return 0
}

// String implements fmt.Stringer.
func (r Role) String() string {
	if r == RoleUnknown {
		return "unknown"
	}
	return string(r)
}
