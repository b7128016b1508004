package models

import "sort"

// Permission names a single capability a member may hold.
type Permission string

const (
	PermViewTask       Permission = "VIEW_TASK"
	PermCreateTask     Permission = "CREATE_TASK"
	PermEditTask       Permission = "EDIT_TASK"
	PermDeleteTask     Permission = "DELETE_TASK"
	PermAssignTask     Permission = "ASSIGN_TASK"
	PermCommentTask    Permission = "COMMENT_TASK"
	PermTrackTime      Permission = "TRACK_TIME"
	PermVotePoll       Permission = "VOTE_POLL"
	PermManagePoll     Permission = "MANAGE_POLL"
	PermManageProject  Permission = "MANAGE_PROJECT"
	PermManageMembers  Permission = "MANAGE_MEMBERS"
	PermManageRoles    Permission = "MANAGE_ROLES"
	PermManageSettings Permission = "MANAGE_SETTINGS"
	PermViewReports    Permission = "VIEW_REPORTS"
)

// AllPermissions lists every permission the system knows about.
var AllPermissions = PermissionSet{
	PermViewTask, PermCreateTask, PermEditTask, PermDeleteTask, PermAssignTask,
	PermCommentTask, PermTrackTime, PermVotePoll, PermManagePoll,
	PermManageProject, PermManageMembers, PermManageRoles, PermManageSettings,
	PermViewReports,
}

// Valid reports whether p is a known permission.
func (p Permission) Valid() bool {
	return AllPermissions.Has(p)
}

// PermissionSet is a set of permissions kept as a slice so it serializes naturally.
type PermissionSet []Permission

// Has reports whether p is in the set.
func (s PermissionSet) Has(p Permission) bool {
	for _, v := range s {
		if v == p {
			return true
		}
	}
	return false
}

// With returns a copy of the set including p.
func (s PermissionSet) With(p Permission) PermissionSet {
	if s.Has(p) {
		return s
	}
	out := append(PermissionSet{}, s...)
	out = append(out, p)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Without returns a copy of the set excluding p.
func (s PermissionSet) Without(p Permission) PermissionSet {
	out := make(PermissionSet, 0, len(s))
	for _, v := range s {
		if v != p {
			out = append(out, v)
		}
	}
	return out
}
