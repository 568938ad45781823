package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// User mirrors the backend's user record. The role is the only
// authorization key. Timestamps are kept as the backend formats them.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FullName  string `json:"full_name"`
	Role      string `json:"role"`
	Station   string `json:"station,omitempty"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
	LastLogin string `json:"last_login,omitempty"`
}

// UnmarshalJSON accepts numeric user ids.
func (u *User) UnmarshalJSON(b []byte) error {
	type alias User
	aux := struct {
		ID any `json:"id"`
		*alias
	}{alias: (*alias)(u)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	switch v := aux.ID.(type) {
	case string:
		u.ID = v
	case float64:
		u.ID = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return nil
}

// CanonicalRole returns the user's role folded to its canonical value.
func (u User) CanonicalRole() Role {
	return ParseRole(u.Role)
}

// RolePermissions are the per-role administrative permission flags.
type RolePermissions struct {
	CanCreateUsers       bool `json:"canCreateUsers"`
	CanEditUsers         bool `json:"canEditUsers"`
	CanDeleteUsers       bool `json:"canDeleteUsers"`
	CanViewAuditLogs     bool `json:"canViewAuditLogs"`
	CanManageSystem      bool `json:"canManageSystem"`
	CanApproveOnboarding bool `json:"canApproveOnboarding"`
	CanAccessReports     bool `json:"canAccessReports"`
	CanManageHardware    bool `json:"canManageHardware"`
}

// Permission flag names, matching the JSON keys of RolePermissions.
const (
	PermCreateUsers       = "canCreateUsers"
	PermEditUsers         = "canEditUsers"
	PermDeleteUsers       = "canDeleteUsers"
	PermViewAuditLogs     = "canViewAuditLogs"
	PermManageSystem      = "canManageSystem"
	PermApproveOnboarding = "canApproveOnboarding"
	PermAccessReports     = "canAccessReports"
	PermManageHardware    = "canManageHardware"
)

// AllPermissions lists every permission flag.
var AllPermissions = []string{
	PermCreateUsers,
	PermEditUsers,
	PermDeleteUsers,
	PermViewAuditLogs,
	PermManageSystem,
	PermApproveOnboarding,
	PermAccessReports,
	PermManageHardware,
}

// Session is a logged-in BFF session holding the backend bearer token.
type Session struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	User      User      `json:"user"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at the given time.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
