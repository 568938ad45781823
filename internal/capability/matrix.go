// Package capability holds the ClamFlow role matrix: which dashboard modules
// a role may open, which forms it may approve, which administrative flags it
// carries, and which stations each QC staff member signs off.
package capability

import (
	"sync"

	"github.com/clamflow/clamflow-bff/model"
)

// Dashboard modules gated by role.
const (
	ModuleSuperAdmin      = "super_admin"
	ModuleAdminPanel      = "admin_panel"
	ModuleProductionForms = "production_forms"
	ModuleQualityControl  = "quality_control"
	ModuleHRManagement    = "hr_management"
	ModuleGateControl     = "gate_control"
	ModuleReports         = "reports"
)

// Modules lists every known dashboard module.
var Modules = []string{
	ModuleSuperAdmin,
	ModuleAdminPanel,
	ModuleProductionForms,
	ModuleQualityControl,
	ModuleHRManagement,
	ModuleGateControl,
	ModuleReports,
}

// ApprovableForms lists every form type that has an approver allow-list.
var ApprovableForms = []model.FormType{
	model.FormTypeWeightNote,
	model.FormTypePPC,
	model.FormTypeFP,
	model.FormTypeDepuration,
	model.FormTypePPCProductionLead,
	model.FormTypeFPQCLead,
}

// Matrix maps canonical roles to capability sets and QC staff to their
// assigned stations. It is safe for concurrent use.
type Matrix struct {
	mu    sync.RWMutex
	roles map[model.Role]model.CapabilitySet
	staff []model.QCStaffOption
}

// NewMatrix creates a matrix from explicit role capabilities and QC staff.
func NewMatrix(roles map[model.Role][]string, staff []model.QCStaffOption) *Matrix {
	m := &Matrix{}
	m.replace(roles, staff)
	return m
}

// DefaultMatrix returns the plant's built-in role matrix.
func DefaultMatrix() *Matrix {
	return NewMatrix(defaultRoles(), DefaultQCStaff())
}

func (m *Matrix) replace(roles map[model.Role][]string, staff []model.QCStaffOption) {
	compiled := make(map[model.Role]model.CapabilitySet, len(roles))
	for role, caps := range roles {
		set := make(model.CapabilitySet, len(caps))
		for _, c := range caps {
			set[c] = true
		}
		compiled[role] = set
	}
	m.mu.Lock()
	m.roles = compiled
	m.staff = staff
	m.mu.Unlock()
}

// ResolveCapabilities returns a copy of the role's capability set. Unknown
// roles resolve to an empty set.
func (m *Matrix) ResolveCapabilities(role model.Role) (model.CapabilitySet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(model.CapabilitySet, len(m.roles[role]))
	for c, ok := range m.roles[role] {
		out[c] = ok
	}
	return out, nil
}

func (m *Matrix) has(role model.Role, capability string) bool {
	if !role.Valid() {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.roles[role].Has(capability)
}

// CanAccessModule reports whether the role may open the dashboard module.
// Unknown modules and unknown roles are denied.
func (m *Matrix) CanAccessModule(role model.Role, module string) bool {
	if !knownModule(module) {
		return false
	}
	return m.has(role, model.ModuleCapability(module))
}

// CanAccessAnyModule reports whether the role may open at least one of the
// modules. Unknown modules are ignored.
func (m *Matrix) CanAccessAnyModule(role model.Role, modules ...string) bool {
	if !role.Valid() {
		return false
	}
	caps := make([]string, 0, len(modules))
	for _, mod := range modules {
		if knownModule(mod) {
			caps = append(caps, model.ModuleCapability(mod))
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.roles[role].HasAny(caps...)
}

// CanApproveForm reports whether the role is on the approver allow-list for
// the form type.
func (m *Matrix) CanApproveForm(role model.Role, formType model.FormType) bool {
	if !knownForm(formType) {
		return false
	}
	return m.has(role, model.FormApprovalCapability(formType))
}

// HasPermission reports whether the role carries the administrative flag.
func (m *Matrix) HasPermission(role model.Role, flag string) bool {
	if !knownPermission(flag) {
		return false
	}
	return m.has(role, model.PermissionCapability(flag))
}

// Permissions returns the role's administrative flags.
func (m *Matrix) Permissions(role model.Role) model.RolePermissions {
	return model.RolePermissions{
		CanCreateUsers:       m.HasPermission(role, model.PermCreateUsers),
		CanEditUsers:         m.HasPermission(role, model.PermEditUsers),
		CanDeleteUsers:       m.HasPermission(role, model.PermDeleteUsers),
		CanViewAuditLogs:     m.HasPermission(role, model.PermViewAuditLogs),
		CanManageSystem:      m.HasPermission(role, model.PermManageSystem),
		CanApproveOnboarding: m.HasPermission(role, model.PermApproveOnboarding),
		CanAccessReports:     m.HasPermission(role, model.PermAccessReports),
		CanManageHardware:    m.HasPermission(role, model.PermManageHardware),
	}
}

// AccessibleModules returns the modules the role may open, in display order.
func (m *Matrix) AccessibleModules(role model.Role) []string {
	var out []string
	for _, mod := range Modules {
		if m.CanAccessModule(role, mod) {
			out = append(out, mod)
		}
	}
	return out
}

// HasHierarchyLevel reports whether role sits at or above required in the
// role hierarchy. Unknown roles never qualify.
func HasHierarchyLevel(role, required model.Role) bool {
	if !role.Valid() || !required.Valid() {
		return false
	}
	return role.Level() <= required.Level()
}

func knownModule(module string) bool {
	for _, m := range Modules {
		if m == module {
			return true
		}
	}
	return false
}

func knownForm(ft model.FormType) bool {
	for _, f := range ApprovableForms {
		if f == ft {
			return true
		}
	}
	return false
}

func knownPermission(flag string) bool {
	for _, p := range model.AllPermissions {
		if p == flag {
			return true
		}
	}
	return false
}

func defaultRoles() map[model.Role][]string {
	mod := model.ModuleCapability
	form := model.FormApprovalCapability
	perm := model.PermissionCapability

	return map[model.Role][]string{
		model.RoleSuperAdmin: {"*"},
		model.RoleAdmin: {
			mod(ModuleAdminPanel), mod(ModuleProductionForms), mod(ModuleQualityControl),
			mod(ModuleHRManagement), mod(ModuleGateControl), mod(ModuleReports),
			model.CapFormApprovePrefix + "*",
			perm(model.PermCreateUsers), perm(model.PermEditUsers), perm(model.PermViewAuditLogs),
			perm(model.PermApproveOnboarding), perm(model.PermAccessReports), perm(model.PermManageHardware),
		},
		model.RoleProductionLead: {
			mod(ModuleProductionForms), mod(ModuleQualityControl), mod(ModuleGateControl), mod(ModuleReports),
			form(model.FormTypePPC), form(model.FormTypePPCProductionLead),
			perm(model.PermAccessReports),
		},
		model.RoleQCLead: {
			mod(ModuleQualityControl), mod(ModuleReports),
			form(model.FormTypeWeightNote), form(model.FormTypePPC), form(model.FormTypeFP),
			form(model.FormTypeDepuration), form(model.FormTypeFPQCLead),
			perm(model.PermAccessReports),
		},
		model.RoleStaffLead: {
			mod(ModuleHRManagement), mod(ModuleReports),
			perm(model.PermApproveOnboarding), perm(model.PermAccessReports),
		},
		model.RoleQCStaff: {
			mod(ModuleQualityControl),
			form(model.FormTypeWeightNote), form(model.FormTypePPC), form(model.FormTypeFP),
		},
		model.RoleProductionStaff: {
			mod(ModuleProductionForms),
		},
		model.RoleSecurityGuard: {
			mod(ModuleGateControl),
		},
	}
}
