package model

import (
	"sort"
	"strings"
)

// Capability namespaces used by the role matrix.
const (
	CapModulePrefix      = "module:"
	CapFormApprovePrefix = "form:approve:"
	CapPermissionPrefix  = "permission:"
)

// ModuleCapability returns the capability string for accessing a dashboard
// module, e.g. "module:quality_control".
func ModuleCapability(module string) string {
	return CapModulePrefix + module
}

// FormApprovalCapability returns the capability string for approving a form
// type, e.g. "form:approve:weight_note".
func FormApprovalCapability(formType FormType) string {
	return CapFormApprovePrefix + string(formType)
}

// PermissionCapability returns the capability string for a permission flag,
// e.g. "permission:canCreateUsers".
func PermissionCapability(flag string) string {
	return CapPermissionPrefix + flag
}

// CapabilitySet is a set of capabilities granted to a role. Each key is a
// capability string (e.g. "module:reports") and may include wildcards
// (e.g. "module:*").
type CapabilitySet map[string]bool

// Has returns true if the set contains the exact capability or a wildcard
// that matches it.
func (cs CapabilitySet) Has(cap string) bool {
	if cs[cap] {
		return true
	}
	for pattern := range cs {
		if matchWildcard(pattern, cap) {
			return true
		}
	}
	return false
}

// HasAny returns true if the set matches at least one of the given
// capabilities.
func (cs CapabilitySet) HasAny(caps ...string) bool {
	for _, cap := range caps {
		if cs.Has(cap) {
			return true
		}
	}
	return false
}

// Sorted returns the granted capabilities in lexical order.
func (cs CapabilitySet) Sorted() []string {
	out := make([]string, 0, len(cs))
	for cap, ok := range cs {
		if ok {
			out = append(out, cap)
		}
	}
	sort.Strings(out)
	return out
}

// matchWildcard returns true if pattern (which may end in "*") matches cap.
//
//	"*"             matches anything
//	"module:*"      matches "module:reports"
//	"form:approve:*" matches "form:approve:fp_form"
//	"module:reports" does NOT match "module:reports:x" (exact only)
func matchWildcard(pattern, cap string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.HasSuffix(pattern, ":*") {
		return false
	}
	prefix := pattern[:len(pattern)-1]
	return strings.HasPrefix(cap, prefix)
}

// CapabilityResolver resolves the capability set for a request context.
type CapabilityResolver interface {
	// Resolve returns all capabilities for the request's role.
	Resolve(rctx *RequestContext) (CapabilitySet, error)

	// Invalidate drops any cached capabilities for the given role.
	Invalidate(role Role)
}
