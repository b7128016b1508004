package access

import (
	"os"
	"path/filepath"
	"testing"

	"taskboard-backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()

	tests := []struct {
		role  string
		perm  models.Permission
		grant bool
	}{
		{models.RoleOwner, models.PermManageRoles, true},
		{models.RoleAdmin, models.PermManageSettings, true},
		{models.RoleManager, models.PermDeleteTask, true},
		{models.RoleManager, models.PermManageProject, true},
		{models.RoleManager, models.PermManageMembers, false},
		{models.RoleMember, models.PermViewTask, true},
		{models.RoleMember, models.PermEditTask, false},
		{models.RoleMember, models.PermTrackTime, true},
		{models.RoleViewer, models.PermViewTask, true},
		{models.RoleViewer, models.PermCommentTask, false},
	}
	for _, tt := range tests {
		t.Run(tt.role+"/"+string(tt.perm), func(t *testing.T) {
			assert.Equal(t, tt.grant, c.Grants(nil, tt.role, tt.perm))
		})
	}
	assert.Len(t, c.Roles(), 5)
}

func TestCatalog_BuiltinShadowsCustom(t *testing.T) {
	c := DefaultCatalog()
	org := &models.Organization{CustomRoles: map[string]models.RoleDefinition{
		models.RoleViewer: {ID: models.RoleViewer, Permissions: models.AllPermissions},
		"qa":              {ID: "qa", Permissions: models.PermissionSet{models.PermEditTask}},
	}}

	assert.False(t, c.Grants(org, models.RoleViewer, models.PermEditTask))
	assert.True(t, c.Grants(org, "qa", models.PermEditTask))
	assert.False(t, c.Grants(org, "unknown", models.PermViewTask))
}

func TestParseCatalog(t *testing.T) {
	data := []byte(`
roles:
  - id: contractor
    name: Contractor
    permissions: [VIEW_TASK, TRACK_TIME]
statuses:
  - name: Backlog
    class: pending
`)
	c, err := ParseCatalog(data)
	require.NoError(t, err)
	assert.True(t, c.IsReserved("contractor"))
	assert.True(t, c.Grants(nil, "contractor", models.PermTrackTime))
	assert.False(t, c.Grants(nil, "contractor", models.PermEditTask))

	_, err = ParseCatalog([]byte("roles:\n  - id: owner\n    permissions: [VIEW_TASK]\n"))
	assert.Error(t, err)

	_, err = ParseCatalog([]byte("roles:\n  - id: x\n    permissions: [FLY]\n"))
	assert.Error(t, err)

	_, err = ParseCatalog([]byte("roles: ["))
	assert.Error(t, err)
}

func TestLoadCatalog(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)
	assert.True(t, c.IsReserved(models.RoleOwner))

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("roles:\n  - id: auditor\n    permissions: [VIEW_REPORTS]\n"), 0o600))
	c, err = LoadCatalog(path)
	require.NoError(t, err)
	assert.True(t, c.Grants(nil, "auditor", models.PermViewReports))

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
