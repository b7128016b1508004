package access

import (
	"fmt"
	"os"
	"sort"

	"taskboard-backend/pkg/models"

	"gopkg.in/yaml.v3"
)

var taskPermissions = models.PermissionSet{
	models.PermViewTask, models.PermCreateTask, models.PermEditTask, models.PermDeleteTask,
	models.PermAssignTask, models.PermCommentTask, models.PermTrackTime,
	models.PermVotePoll, models.PermManagePoll,
}

func builtinRoles() []models.RoleDefinition {
	manager := append(models.PermissionSet{}, taskPermissions...)
	manager = append(manager, models.PermManageProject, models.PermViewReports)

	return []models.RoleDefinition{
		{ID: models.RoleOwner, Name: "Owner", Permissions: append(models.PermissionSet{}, models.AllPermissions...)},
		{ID: models.RoleAdmin, Name: "Admin", Permissions: append(models.PermissionSet{}, models.AllPermissions...)},
		{ID: models.RoleManager, Name: "Manager", Permissions: manager},
		{ID: models.RoleMember, Name: "Member", Permissions: models.PermissionSet{
			models.PermViewTask, models.PermCreateTask, models.PermCommentTask,
			models.PermTrackTime, models.PermVotePoll,
		}},
		{ID: models.RoleViewer, Name: "Viewer", Permissions: models.PermissionSet{models.PermViewTask}},
	}
}

// Catalog maps role ids to permission sets. Roles held by the catalog are
// immutable and reserved; organizations add their own roles on top.
type Catalog struct {
	roles map[string]models.RoleDefinition
}

// DefaultCatalog returns the built-in roles.
func DefaultCatalog() *Catalog {
	c := &Catalog{roles: make(map[string]models.RoleDefinition)}
	for _, r := range builtinRoles() {
		c.roles[r.ID] = r
	}
	return c
}

// catalogFile is the role section of the deployment catalog file.
type catalogFile struct {
	Roles []models.RoleDefinition `yaml:"roles"`
}

// ParseCatalog returns the built-in roles plus the deployment roles declared in data.
// Deployment roles may not redefine a built-in id.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse role catalog: %w", err)
	}

	c := DefaultCatalog()
	for _, r := range file.Roles {
		if r.ID == "" {
			return nil, fmt.Errorf("role catalog: role without id")
		}
		if _, exists := c.roles[r.ID]; exists {
			return nil, fmt.Errorf("role catalog: role %q is already defined", r.ID)
		}
		if err := ValidatePermissions(r.Permissions); err != nil {
			return nil, fmt.Errorf("role catalog: role %q: %w", r.ID, err)
		}
		if r.Name == "" {
			r.Name = r.ID
		}
		c.roles[r.ID] = r
	}
	return c, nil
}

// LoadCatalog reads a catalog file. An empty path yields the default catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read role catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ValidatePermissions rejects unknown permission names.
func ValidatePermissions(perms models.PermissionSet) error {
	for _, p := range perms {
		if !p.Valid() {
			return fmt.Errorf("unknown permission %q", p)
		}
	}
	return nil
}

// IsReserved reports whether id names a catalog role.
func (c *Catalog) IsReserved(id string) bool {
	_, ok := c.roles[id]
	return ok
}

// Role looks id up in the catalog first and then in the organization's custom roles.
func (c *Catalog) Role(org *models.Organization, id string) (models.RoleDefinition, bool) {
	if r, ok := c.roles[id]; ok {
		return r, true
	}
	if org != nil {
		if r, ok := org.CustomRoles[id]; ok {
			return r, true
		}
	}
	return models.RoleDefinition{}, false
}

// Grants reports whether role id grants perm in the context of org.
func (c *Catalog) Grants(org *models.Organization, id string, perm models.Permission) bool {
	r, ok := c.Role(org, id)
	return ok && r.Permissions.Has(perm)
}

// Roles lists the catalog roles sorted by id.
func (c *Catalog) Roles() []models.RoleDefinition {
	out := make([]models.RoleDefinition, 0, len(c.roles))
	for _, r := range c.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
