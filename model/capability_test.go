package model

import (
	"testing"
)

func TestCapabilitySet_Has_exact(t *testing.T) {
	cs := CapabilitySet{
		"module:reports":       true,
		"form:approve:fp_form": true,
	}
	if !cs.Has("module:reports") {
		t.Error("Has(module:reports) = false, want true")
	}
	if cs.Has("module:super_admin") {
		t.Error("Has(module:super_admin) = true, want false")
	}
}

func TestCapabilitySet_Has_wildcard_star(t *testing.T) {
	cs := CapabilitySet{"*": true}
	if !cs.Has("module:reports") {
		t.Error("wildcard * should match module:reports")
	}
	if !cs.Has("anything") {
		t.Error("wildcard * should match anything")
	}
}

func TestCapabilitySet_Has_wildcard_namespace(t *testing.T) {
	cs := CapabilitySet{"form:approve:*": true}
	if !cs.Has("form:approve:weight_note") {
		t.Error("form:approve:* should match form:approve:weight_note")
	}
	if cs.Has("module:reports") {
		t.Error("form:approve:* should not match module:reports")
	}
}

func TestCapabilitySet_Has_nil(t *testing.T) {
	var cs CapabilitySet
	if cs.Has("module:reports") {
		t.Error("nil set should not match anything")
	}
}

func TestCapabilitySet_HasAny(t *testing.T) {
	cs := CapabilitySet{"module:reports": true}
	if !cs.HasAny("module:admin_panel", "module:reports") {
		t.Error("HasAny should be true when at least one present")
	}
	if cs.HasAny() {
		t.Error("HasAny with no args should be false")
	}
}

func TestCapabilitySet_Sorted(t *testing.T) {
	cs := CapabilitySet{"module:reports": true, "form:approve:fp_form": true, "module:hidden": false}
	got := cs.Sorted()
	if len(got) != 2 || got[0] != "form:approve:fp_form" || got[1] != "module:reports" {
		t.Errorf("Sorted() = %v, want [form:approve:fp_form module:reports]", got)
	}
}

func TestMatchWildcard(t *testing.T) {
	tests := []struct {
		pattern string
		cap     string
		want    bool
	}{
		{"*", "module:reports", true},
		{"module:*", "module:reports", true},
		{"module:*", "permission:canManageSystem", false},
		{"form:approve:*", "form:approve:depuration_form", true},
		{"module:reports", "module:reports", false},
		{"module", "module:reports", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"_vs_"+tt.cap, func(t *testing.T) {
			if got := matchWildcard(tt.pattern, tt.cap); got != tt.want {
				t.Errorf("matchWildcard(%q, %q) = %v, want %v", tt.pattern, tt.cap, got, tt.want)
			}
		})
	}
}

func TestCapabilityHelpers(t *testing.T) {
	if got := ModuleCapability("reports"); got != "module:reports" {
		t.Errorf("ModuleCapability() = %q", got)
	}
	if got := FormApprovalCapability(FormTypeFP); got != "form:approve:fp_form" {
		t.Errorf("FormApprovalCapability() = %q", got)
	}
	if got := PermissionCapability("canManageHardware"); got != "permission:canManageHardware" {
		t.Errorf("PermissionCapability() = %q", got)
	}
}
