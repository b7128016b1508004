// Package access decides whether a member may perform an action in an organization.
package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"taskboard-backend/pkg/database"
	"taskboard-backend/pkg/metrics"
	"taskboard-backend/pkg/models"
)

// ErrPermissionDenied is returned by Require when the resolver denies.
var ErrPermissionDenied = errors.New("permission denied")

// Decision is the verdict of a single strategy.
type Decision int

const (
	Abstain Decision = iota
	Allow
	Deny
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "abstain"
	}
}

// Layer names reported by Decide.
const (
	LayerRevoked     = "revoked_override"
	LayerGranted     = "granted_override"
	LayerProjectRole = "project_role"
	LayerOrgRole     = "org_role"
	LayerUnknownOrg  = "unknown_organization"
	LayerNoDecision  = "no_decision"
)

// Scope narrows a check to a project.
type Scope struct {
	ProjectID string
}

// Subject is everything a strategy may look at. Project is nil when the
// check has no project scope or the project could not be found.
type Subject struct {
	ActorID      string
	Permission   models.Permission
	Organization *models.Organization
	Member       models.MemberInfo
	IsMember     bool
	Project      *models.Project
}

// Strategy is one layer of the resolution order.
type Strategy interface {
	Name() string
	Decide(s *Subject) Decision
}

// StrategyFunc adapts a function into a Strategy.
type StrategyFunc struct {
	Label string
	Fn    func(s *Subject) Decision
}

func (f StrategyFunc) Name() string               { return f.Label }
func (f StrategyFunc) Decide(s *Subject) Decision { return f.Fn(s) }

// RevokedOverride denies when the member's overrides revoke the permission.
func RevokedOverride() Strategy {
	return StrategyFunc{Label: LayerRevoked, Fn: func(s *Subject) Decision {
		if s.IsMember && s.Member.PermissionOverrides != nil && s.Member.PermissionOverrides.Revoked.Has(s.Permission) {
			return Deny
		}
		return Abstain
	}}
}

// GrantedOverride allows when the member's overrides grant the permission.
func GrantedOverride() Strategy {
	return StrategyFunc{Label: LayerGranted, Fn: func(s *Subject) Decision {
		if s.IsMember && s.Member.PermissionOverrides != nil && s.Member.PermissionOverrides.Granted.Has(s.Permission) {
			return Allow
		}
		return Abstain
	}}
}

// ProjectRole allows when the actor's project role grants the permission.
// It never denies.
func ProjectRole(catalog *Catalog) Strategy {
	return StrategyFunc{Label: LayerProjectRole, Fn: func(s *Subject) Decision {
		if s.Project == nil {
			return Abstain
		}
		roleID, ok := s.Project.ProjectRoles[s.ActorID]
		if !ok {
			return Abstain
		}
		if catalog.Grants(s.Organization, roleID, s.Permission) {
			return Allow
		}
		return Abstain
	}}
}

// OrgRole decides from the member's organization role. A missing membership
// or unknown role denies.
func OrgRole(catalog *Catalog) Strategy {
	return StrategyFunc{Label: LayerOrgRole, Fn: func(s *Subject) Decision {
		if !s.IsMember {
			return Deny
		}
		if catalog.Grants(s.Organization, s.Member.Role, s.Permission) {
			return Allow
		}
		return Deny
	}}
}

// DefaultStrategies is the standard resolution order.
func DefaultStrategies(catalog *Catalog) []Strategy {
	return []Strategy{
		RevokedOverride(),
		GrantedOverride(),
		ProjectRole(catalog),
		OrgRole(catalog),
	}
}

// OrgReader is the read side of the organization store.
type OrgReader interface {
	GetOrganization(ctx context.Context, id string) (*models.Organization, error)
	GetProject(ctx context.Context, id string) (*models.Project, error)
}

// Outcome is the result of Decide.
type Outcome struct {
	Allowed bool
	Layer   string
}

// Options configures a Resolver.
type Options struct {
	CacheTTL   time.Duration
	Strategies []Strategy
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// Resolver evaluates strategies in order; the first non-abstaining one wins.
type Resolver struct {
	store      OrgReader
	catalog    *Catalog
	strategies []Strategy
	cache      *ttlCache
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewResolver creates a resolver over store. A nil catalog means DefaultCatalog.
func NewResolver(store OrgReader, catalog *Catalog, opts Options) *Resolver {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	strategies := opts.Strategies
	if len(strategies) == 0 {
		strategies = DefaultStrategies(catalog)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:      store,
		catalog:    catalog,
		strategies: strategies,
		cache:      newTTLCache(opts.CacheTTL, opts.Now),
		logger:     logger,
		metrics:    opts.Metrics,
	}
}

// Catalog returns the role catalog the resolver uses.
func (r *Resolver) Catalog() *Catalog {
	return r.catalog
}

// Organization loads an organization through the cache. The result is shared
// and must not be modified.
func (r *Resolver) Organization(ctx context.Context, orgID string) (*models.Organization, error) {
	v, err := r.cache.get(ctx, "org:"+orgID, func(ctx context.Context) (any, error) {
		return r.store.GetOrganization(ctx, orgID)
	}, isNotFound)
	if err != nil {
		return nil, storeErr(err)
	}
	return v.(*models.Organization), nil
}

// Project loads a project through the cache. The result is shared and must not be modified.
func (r *Resolver) Project(ctx context.Context, projectID string) (*models.Project, error) {
	v, err := r.cache.get(ctx, "project:"+projectID, func(ctx context.Context) (any, error) {
		return r.store.GetProject(ctx, projectID)
	}, isNotFound)
	if err != nil {
		return nil, storeErr(err)
	}
	return v.(*models.Project), nil
}

// Invalidate drops cached copies of an organization or project after a write.
func (r *Resolver) Invalidate(orgID, projectID string) {
	if orgID != "" {
		r.cache.invalidate("org:" + orgID)
	}
	if projectID != "" {
		r.cache.invalidate("project:" + projectID)
	}
}

// Decide resolves perm for actorID in orgID and reports the deciding layer.
// Unknown organizations deny without error. Unknown projects are ignored.
func (r *Resolver) Decide(ctx context.Context, actorID, orgID string, perm models.Permission, scope *Scope) (Outcome, error) {
	org, err := r.Organization(ctx, orgID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return r.finish(actorID, orgID, perm, Outcome{Layer: LayerUnknownOrg}), nil
		}
		return Outcome{}, err
	}

	subject := &Subject{ActorID: actorID, Permission: perm, Organization: org}
	subject.Member, subject.IsMember = org.Member(actorID)

	if scope != nil && scope.ProjectID != "" {
		project, err := r.Project(ctx, scope.ProjectID)
		switch {
		case err == nil && project.OrganizationID == orgID:
			subject.Project = project
		case err == nil, errors.Is(err, database.ErrNotFound):
			// foreign or missing project: fall back to organization rules
		default:
			return Outcome{}, err
		}
	}

	for _, s := range r.strategies {
		switch s.Decide(subject) {
		case Allow:
			return r.finish(actorID, orgID, perm, Outcome{Allowed: true, Layer: s.Name()}), nil
		case Deny:
			return r.finish(actorID, orgID, perm, Outcome{Allowed: false, Layer: s.Name()}), nil
		}
	}
	return r.finish(actorID, orgID, perm, Outcome{Layer: LayerNoDecision}), nil
}

func (r *Resolver) finish(actorID, orgID string, perm models.Permission, out Outcome) Outcome {
	r.metrics.ObserveDecision(out.Layer, out.Allowed)
	r.logger.Debug("permission resolved",
		"actor", actorID, "org", orgID, "permission", perm,
		"allowed", out.Allowed, "layer", out.Layer)
	return out
}

// Resolve reports whether actorID holds perm.
func (r *Resolver) Resolve(ctx context.Context, actorID, orgID string, perm models.Permission, scope *Scope) (bool, error) {
	out, err := r.Decide(ctx, actorID, orgID, perm, scope)
	return out.Allowed, err
}

// Require returns ErrPermissionDenied unless actorID holds perm.
func (r *Resolver) Require(ctx context.Context, actorID, orgID string, perm models.Permission, scope *Scope) error {
	out, err := r.Decide(ctx, actorID, orgID, perm, scope)
	if err != nil {
		return err
	}
	if !out.Allowed {
		return fmt.Errorf("%s requires %s: %w", actorID, perm, ErrPermissionDenied)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, database.ErrNotFound)
}

// storeErr makes sure every non-not-found fault reads as a store failure.
func storeErr(err error) error {
	if errors.Is(err, database.ErrNotFound) || errors.Is(err, database.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", database.ErrStoreUnavailable, err)
}
