// Package server wires the stores, the permission resolver, the workflow
// engine and the HTTP routes into one application.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"taskboard-backend/pkg/access"
	"taskboard-backend/pkg/advisor"
	"taskboard-backend/pkg/config"
	"taskboard-backend/pkg/database"
	"taskboard-backend/pkg/metrics"
	"taskboard-backend/pkg/notify"
	"taskboard-backend/pkg/orgs"
	"taskboard-backend/pkg/utils"
	"taskboard-backend/pkg/workflow"

	"github.com/nats-io/nats.go"
)

// App holds the wired components of one process.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	DB       database.DatabaseInterface
	Catalog  *access.Catalog
	Resolver *access.Resolver
	Engine   *workflow.Engine
	Orgs     *orgs.Service
	Advisor  advisor.Service
	Tokens   *utils.JWTService

	// nc is set when the app opened its own event connection.
	nc *nats.Conn
}

// natsConner is implemented by stores that already hold a NATS connection.
type natsConner interface {
	Conn() *nats.Conn
}

// LoadCatalogs reads the role and status catalogs from path. An empty path
// yields the built-in catalogs.
func LoadCatalogs(path string) (*access.Catalog, *workflow.StatusCatalog, error) {
	if path == "" {
		return access.DefaultCatalog(), workflow.DefaultStatuses(), nil
	}
	roles, err := access.LoadCatalog(path)
	if err != nil {
		return nil, nil, err
	}
	statuses, err := workflow.LoadStatusCatalog(path)
	if err != nil {
		return nil, nil, err
	}
	return roles, statuses, nil
}

// NewApp builds an App over db. m may be nil to run without instrumentation.
func NewApp(ctx context.Context, cfg *config.Config, db database.DatabaseInterface, logger *slog.Logger, m *metrics.Metrics) (*App, error) {
	if db == nil {
		return nil, errors.New("server: store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	roles, statuses, err := LoadCatalogs(cfg.CatalogFile)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	app := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
		DB:      db,
		Catalog: roles,
		Tokens:  utils.NewJWTService(cfg.JWTSecret),
	}

	notifiers := notify.MultiNotifier{notify.NewLogNotifier(logger)}
	var webhooks notify.MultiWebhooks
	if nc := app.eventConn(ctx, db); nc != nil {
		pub := notify.NewNATSPublisher(nc, cfg.EventsSubjectPrefix)
		notifiers = append(notifiers, pub)
		webhooks = append(webhooks, pub)
	}
	if cfg.WebhookURL != "" {
		webhooks = append(webhooks, notify.NewHTTPWebhooks(cfg.WebhookURL, cfg.WebhookSecret, cfg.WebhookTimeout, logger))
	}
	if len(webhooks) == 0 {
		webhooks = append(webhooks, notify.NewLogNotifier(logger))
	}

	app.Resolver = access.NewResolver(db, roles, access.Options{
		CacheTTL: cfg.PermissionCacheTTL,
		Logger:   logger,
		Metrics:  m,
	})

	app.Engine, err = workflow.New(workflow.Config{
		Tasks:       db,
		Access:      app.Resolver,
		Statuses:    statuses,
		Notifier:    notifiers,
		Webhooks:    webhooks,
		Logger:      logger,
		Metrics:     m,
		MaxAttempts: cfg.MaxConflictAttempts,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Orgs = orgs.NewService(db, app.Resolver, roles, orgs.WithLogger(logger))

	if cfg.AdvisorURL != "" {
		app.Advisor = advisor.NewClient(cfg.AdvisorURL, cfg.AdvisorAPIKey, 0)
	} else {
		app.Advisor = advisor.Nop{}
	}
	return app, nil
}

// eventConn returns the connection events are published on, or nil when no
// NATS server is configured. A failed dial only disables event publishing.
func (a *App) eventConn(ctx context.Context, db database.DatabaseInterface) *nats.Conn {
	if c, ok := db.(natsConner); ok && c.Conn() != nil {
		return c.Conn()
	}
	if a.Config.NATSURL == "" {
		return nil
	}
	nc, err := nats.Connect(a.Config.NATSURL, nats.Name("taskboard-events"))
	if err != nil {
		a.Logger.WarnContext(ctx, "event publishing disabled", "error", err)
		return nil
	}
	a.nc = nc
	return nc
}

// Close releases connections the app opened itself. The store belongs to the caller.
func (a *App) Close() {
	if a.nc != nil {
		a.nc.Close()
		a.nc = nil
	}
}
