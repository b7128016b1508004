package models

import "time"

// Organization is the tenant boundary: members, roles, projects and tasks all hang off it.
type Organization struct {
	ID          string                    `json:"id"`
	Name        string                    `json:"name"`
	Members     map[string]MemberInfo     `json:"members"`
	CustomRoles map[string]RoleDefinition `json:"custom_roles,omitempty"`
	Features    Features                  `json:"features"`
	CreatedAt   time.Time                 `json:"created_at"`
	UpdatedAt   time.Time                 `json:"updated_at"`
}

// Built-in organization roles. Custom roles may not reuse these ids.
const (
	RoleOwner   = "owner"
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleMember  = "member"
	RoleViewer  = "viewer"
)

// MemberInfo is a user's membership record inside an organization
type MemberInfo struct {
	Role                string               `json:"role"`
	PermissionOverrides *PermissionOverrides `json:"permission_overrides,omitempty"`
	JoinedAt            time.Time            `json:"joined_at"`
}

// PermissionOverrides are member-specific grants and revocations layered over roles.
type PermissionOverrides struct {
	Granted PermissionSet `json:"granted,omitempty"`
	Revoked PermissionSet `json:"revoked,omitempty"`
}

// RoleDefinition is a named bundle of permissions.
type RoleDefinition struct {
	ID          string        `json:"id" yaml:"id"`
	Name        string        `json:"name" yaml:"name"`
	Permissions PermissionSet `json:"permissions" yaml:"permissions"`
}

// Features holds organization-level capability toggles.
// Both default to enabled; the fields store the "disabled" side so a zero value means on.
type Features struct {
	TimeTrackingDisabled bool `json:"time_tracking_disabled,omitempty"`
	PollsDisabled        bool `json:"polls_disabled,omitempty"`
}

// Feature names accepted by SetFeature.
const (
	FeatureTimeTracking = "time_tracking"
	FeaturePolls        = "polls"
)

// Member returns the membership for userID, if any.
func (o *Organization) Member(userID string) (MemberInfo, bool) {
	if o == nil || o.Members == nil {
		return MemberInfo{}, false
	}
	m, ok := o.Members[userID]
	return m, ok
}

// CountRole counts members holding the given organization role.
func (o *Organization) CountRole(role string) int {
	n := 0
	for _, m := range o.Members {
		if m.Role == role {
			n++
		}
	}
	return n
}

// Project groups tasks inside an organization and can scope member roles.
type Project struct {
	ID             string            `json:"id"`
	OrganizationID string            `json:"organization_id"`
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	ProjectRoles   map[string]string `json:"project_roles,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}
