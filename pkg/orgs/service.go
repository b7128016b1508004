// Package orgs administers organizations: membership, roles, overrides,
// feature toggles and projects. Every write drops the resolver's cached copy.
package orgs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"taskboard-backend/pkg/access"
	"taskboard-backend/pkg/database"
	"taskboard-backend/pkg/models"
	"taskboard-backend/pkg/workflow"

	"github.com/google/uuid"
)

// Authorizer is the part of the permission resolver the service needs.
type Authorizer interface {
	Require(ctx context.Context, actorID, orgID string, perm models.Permission, scope *access.Scope) error
	Invalidate(orgID, projectID string)
}

// Service is safe for concurrent use.
type Service struct {
	store   database.OrgStore
	access  Authorizer
	catalog *access.Catalog
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDs replaces the uuid generator.
func WithIDs(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService builds a Service. A nil catalog means access.DefaultCatalog.
func NewService(store database.OrgStore, authz Authorizer, catalog *access.Catalog, opts ...Option) *Service {
	if catalog == nil {
		catalog = access.DefaultCatalog()
	}
	s := &Service{
		store:   store,
		access:  authz,
		catalog: catalog,
		logger:  slog.Default(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", workflow.ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// CreateOrganization creates an organization with actorID as its only owner.
func (s *Service) CreateOrganization(ctx context.Context, actorID, name string) (*models.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalidf("organization name is required")
	}
	if actorID == "" {
		return nil, invalidf("creator is required")
	}
	now := s.now()
	org := &models.Organization{
		ID:        s.newID(),
		Name:      name,
		Members:   map[string]models.MemberInfo{actorID: {Role: models.RoleOwner, JoinedAt: now}},
		CreatedAt: now,
	}
	if err := s.store.CreateOrganization(ctx, org); err != nil {
		return nil, err
	}
	s.logger.Info("organization created", "org", org.ID, "owner", actorID)
	return org, nil
}

// GetOrganization returns orgID to one of its members.
func (s *Service) GetOrganization(ctx context.Context, orgID, actorID string) (*models.Organization, error) {
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("organization %s: %w", orgID, access.ErrPermissionDenied)
		}
		return nil, err
	}
	if _, ok := org.Member(actorID); !ok {
		return nil, fmt.Errorf("%s is not a member of %s: %w", actorID, orgID, access.ErrPermissionDenied)
	}
	return org, nil
}

// update runs fn after perm is granted and drops the cached organization.
func (s *Service) update(ctx context.Context, orgID, actorID string, perm models.Permission, fn func(org *models.Organization) error) (*models.Organization, error) {
	if err := s.access.Require(ctx, actorID, orgID, perm, nil); err != nil {
		return nil, err
	}
	org, err := s.store.UpdateOrganization(ctx, orgID, fn)
	if err != nil {
		return nil, err
	}
	s.access.Invalidate(orgID, "")
	return org, nil
}

// SetMemberRole adds userID with role or changes an existing member's role.
// Only owners hand out or take away the owner role, and the last owner keeps it.
func (s *Service) SetMemberRole(ctx context.Context, orgID, actorID, userID, role string) (*models.Organization, error) {
	if userID == "" {
		return nil, invalidf("user id is required")
	}
	return s.update(ctx, orgID, actorID, models.PermManageMembers, func(org *models.Organization) error {
		if _, ok := s.catalog.Role(org, role); !ok {
			return invalidf("unknown role %q", role)
		}
		current, exists := org.Member(userID)
		touchesOwner := role == models.RoleOwner || (exists && current.Role == models.RoleOwner)
		if touchesOwner {
			if actor, _ := org.Member(actorID); actor.Role != models.RoleOwner {
				return fmt.Errorf("only owners change the owner role: %w", access.ErrPermissionDenied)
			}
		}
		if exists && current.Role == models.RoleOwner && role != models.RoleOwner && org.CountRole(models.RoleOwner) == 1 {
			return invalidf("the last owner cannot be demoted")
		}
		if org.Members == nil {
			org.Members = make(map[string]models.MemberInfo)
		}
		if !exists {
			current.JoinedAt = s.now()
		}
		current.Role = role
		org.Members[userID] = current
		return nil
	})
}

// RemoveMember drops userID from the organization.
func (s *Service) RemoveMember(ctx context.Context, orgID, actorID, userID string) (*models.Organization, error) {
	return s.update(ctx, orgID, actorID, models.PermManageMembers, func(org *models.Organization) error {
		current, ok := org.Member(userID)
		if !ok {
			return fmt.Errorf("member %s: %w", userID, database.ErrNotFound)
		}
		if current.Role == models.RoleOwner {
			if actor, _ := org.Member(actorID); actor.Role != models.RoleOwner {
				return fmt.Errorf("only owners remove owners: %w", access.ErrPermissionDenied)
			}
			if org.CountRole(models.RoleOwner) == 1 {
				return invalidf("the last owner cannot be removed")
			}
		}
		delete(org.Members, userID)
		return nil
	})
}

// SetOverrides replaces userID's member-specific grants and revocations.
// Only owners set overrides on an owner, and the last owner keeps MANAGE_MEMBERS.
func (s *Service) SetOverrides(ctx context.Context, orgID, actorID, userID string, overrides models.PermissionOverrides) (*models.Organization, error) {
	if err := access.ValidatePermissions(overrides.Granted); err != nil {
		return nil, invalidf("%v", err)
	}
	if err := access.ValidatePermissions(overrides.Revoked); err != nil {
		return nil, invalidf("%v", err)
	}
	return s.update(ctx, orgID, actorID, models.PermManageMembers, func(org *models.Organization) error {
		current, ok := org.Member(userID)
		if !ok {
			return fmt.Errorf("member %s: %w", userID, database.ErrNotFound)
		}
		if current.Role == models.RoleOwner {
			if actor, _ := org.Member(actorID); actor.Role != models.RoleOwner {
				return fmt.Errorf("only owners change an owner's overrides: %w", access.ErrPermissionDenied)
			}
			if overrides.Revoked.Has(models.PermManageMembers) && org.CountRole(models.RoleOwner) == 1 {
				return invalidf("the last owner cannot lose %s", models.PermManageMembers)
			}
		}
		if len(overrides.Granted) == 0 && len(overrides.Revoked) == 0 {
			current.PermissionOverrides = nil
		} else {
			o := overrides
			current.PermissionOverrides = &o
		}
		org.Members[userID] = current
		return nil
	})
}

// DefineRole creates or replaces a custom role. Catalog role ids are reserved.
func (s *Service) DefineRole(ctx context.Context, orgID, actorID string, role models.RoleDefinition) (*models.Organization, error) {
	role.ID = strings.TrimSpace(role.ID)
	if role.ID == "" {
		return nil, invalidf("role id is required")
	}
	if s.catalog.IsReserved(role.ID) {
		return nil, invalidf("role id %q is reserved", role.ID)
	}
	if err := access.ValidatePermissions(role.Permissions); err != nil {
		return nil, invalidf("%v", err)
	}
	if role.Name == "" {
		role.Name = role.ID
	}
	return s.update(ctx, orgID, actorID, models.PermManageRoles, func(org *models.Organization) error {
		if org.CustomRoles == nil {
			org.CustomRoles = make(map[string]models.RoleDefinition)
		}
		org.CustomRoles[role.ID] = role
		return nil
	})
}

// DeleteRole removes a custom role that no member holds.
func (s *Service) DeleteRole(ctx context.Context, orgID, actorID, roleID string) (*models.Organization, error) {
	if s.catalog.IsReserved(roleID) {
		return nil, invalidf("role id %q is reserved", roleID)
	}
	return s.update(ctx, orgID, actorID, models.PermManageRoles, func(org *models.Organization) error {
		if _, ok := org.CustomRoles[roleID]; !ok {
			return fmt.Errorf("role %s: %w", roleID, database.ErrNotFound)
		}
		if n := org.CountRole(roleID); n > 0 {
			return invalidf("role %q is held by %d members", roleID, n)
		}
		delete(org.CustomRoles, roleID)
		return nil
	})
}

// SetFeature switches an organization feature on or off.
func (s *Service) SetFeature(ctx context.Context, orgID, actorID, feature string, enabled bool) (*models.Organization, error) {
	switch feature {
	case models.FeatureTimeTracking, models.FeaturePolls:
	default:
		return nil, invalidf("unknown feature %q", feature)
	}
	return s.update(ctx, orgID, actorID, models.PermManageSettings, func(org *models.Organization) error {
		switch feature {
		case models.FeatureTimeTracking:
			org.Features.TimeTrackingDisabled = !enabled
		case models.FeaturePolls:
			org.Features.PollsDisabled = !enabled
		}
		return nil
	})
}

// CreateProject adds a project to orgID.
func (s *Service) CreateProject(ctx context.Context, orgID, actorID, name, description string) (*models.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalidf("project name is required")
	}
	if err := s.access.Require(ctx, actorID, orgID, models.PermManageProject, nil); err != nil {
		return nil, err
	}
	now := s.now()
	project := &models.Project{
		ID:             s.newID(),
		OrganizationID: orgID,
		Name:           name,
		Description:    strings.TrimSpace(description),
		CreatedAt:      now,
	}
	if err := s.store.CreateProject(ctx, project); err != nil {
		return nil, err
	}
	return project, nil
}

// SetProjectRole gives userID a role inside one project. An empty role removes the entry.
func (s *Service) SetProjectRole(ctx context.Context, projectID, actorID, userID, role string) (*models.Project, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	scope := &access.Scope{ProjectID: projectID}
	if err := s.access.Require(ctx, actorID, project.OrganizationID, models.PermManageProject, scope); err != nil {
		return nil, err
	}
	org, err := s.store.GetOrganization(ctx, project.OrganizationID)
	if err != nil {
		return nil, err
	}
	if _, ok := org.Member(userID); !ok {
		return nil, invalidf("%s is not a member of the organization", userID)
	}
	if role != "" {
		if _, ok := s.catalog.Role(org, role); !ok {
			return nil, invalidf("unknown role %q", role)
		}
	}

	updated, err := s.store.UpdateProject(ctx, projectID, func(p *models.Project) error {
		if role == "" {
			delete(p.ProjectRoles, userID)
			return nil
		}
		if p.ProjectRoles == nil {
			p.ProjectRoles = make(map[string]string)
		}
		p.ProjectRoles[userID] = role
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.access.Invalidate("", projectID)
	return updated, nil
}
