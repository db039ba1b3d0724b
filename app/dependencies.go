package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/upb/grc-control-plane/config"
	"github.com/upb/grc-control-plane/handlers"
	"github.com/upb/grc-control-plane/internal/observability"
	"github.com/upb/grc-control-plane/repositories"
	"github.com/upb/grc-control-plane/repositories/memory"
	"github.com/upb/grc-control-plane/repositories/postgres"
	"github.com/upb/grc-control-plane/routes"
	"github.com/upb/grc-control-plane/services/audit"
	"github.com/upb/grc-control-plane/services/plan"
	"github.com/upb/grc-control-plane/services/policy"
	"github.com/upb/grc-control-plane/services/tenant"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics // nil when metrics are disabled
	DB      *sql.DB                // nil with the memory store

	// Repository Factory (postgres store only)
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Repos *repositories.Repositories

	// Policy
	Engine   *policy.Engine
	Watcher  *policy.Watcher // nil unless the rules file is watched
	Enforcer *policy.Enforcer

	// Services
	Principals   *tenant.Resolver
	Audit        *audit.AuditService
	Orchestrator *plan.Orchestrator
	Tracker      *plan.PhaseTracker
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if cfg.Observability.MetricsEnabled {
		deps.Metrics = observability.NewMetrics(cfg.Observability.MetricsNamespace, nil)
	}

	// Initialize the entity store
	if err := deps.initStore(ctx, cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	// Start the audit pipeline before anything can emit events
	if err := deps.initAudit(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize audit service: %w", err)
	}

	// Initialize the policy engine and the optional rules watcher
	if err := deps.initPolicy(ctx, cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	// Initialize plan services
	if err := deps.initPlans(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize plan services: %w", err)
	}

	logger.Info("all dependencies initialized successfully",
		zap.String("store", cfg.Store.Driver),
		zap.String("rule_set_version", deps.Engine.RuleSet().Version()))
	return deps, nil
}

// initStore opens the configured EntityStore
func (d *Dependencies) initStore(ctx context.Context, cfg *config.Config) error {
	switch cfg.Store.Driver {
	case config.StorePostgres:
		factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
		if err != nil {
			return fmt.Errorf("failed to create repository factory: %w", err)
		}
		d.RepoFactory = factory
		d.DB = factory.GetDB().DB

		if cfg.Store.InitSchema {
			if err := factory.InitSchema(ctx); err != nil {
				return fmt.Errorf("failed to initialize schema: %w", err)
			}
		}
		d.Repos = factory.NewRepositories()

	case config.StoreMemory:
		d.Repos = memory.NewStore().Repositories()
		d.Logger.Warn("using the in-memory store, data is lost on restart")

	default:
		return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	d.Logger.Info("entity store initialized", zap.String("driver", cfg.Store.Driver))
	return nil
}

// initAudit starts the asynchronous audit service
func (d *Dependencies) initAudit(cfg *config.Config) error {
	d.Audit = audit.NewAuditService(d.Repos.AuditLogs, d.Logger, audit.Config{
		BufferSize:  cfg.Audit.BufferSize,
		WorkerCount: cfg.Audit.WorkerCount,
	})
	return d.Audit.Start()
}

// initPolicy loads the rule set, builds the engine and starts the watcher
func (d *Dependencies) initPolicy(ctx context.Context, cfg *config.Config) error {
	var (
		rs  *policy.RuleSet
		err error
	)
	if cfg.Policy.RulesPath != "" {
		rs, err = policy.LoadRuleSet(cfg.Policy.RulesPath)
	} else {
		rs, err = policy.BuildRuleSet(policy.DefaultRuleConfig())
	}
	if err != nil {
		return err
	}

	var recorder policy.Recorder
	if d.Metrics != nil {
		recorder = d.Metrics.Policy
	}
	d.Engine = policy.NewEngine(rs, recorder, d.Logger)
	if d.Metrics != nil {
		d.Metrics.Policy.ObserveReload(rs.Version(), rs.Len(), nil)
	}

	d.Principals = tenant.NewResolver(nil, d.Logger)
	d.Enforcer = policy.NewEnforcer(d.Engine, d.Principals, d.Logger)

	if cfg.Policy.WatchRules {
		d.Watcher = policy.NewWatcher(cfg.Policy.RulesPath, d.Engine, cfg.Policy.ReloadDebounce, d.Logger, func(rs *policy.RuleSet) {
			if err := d.Audit.LogRulesReloaded(rs.Version(), rs.Len()); err != nil {
				d.Logger.Warn("failed to audit rules reload", zap.Error(err))
			}
		})
		if err := d.Watcher.Start(ctx); err != nil {
			return err
		}
	}

	d.Logger.Info("policy engine initialized",
		zap.String("version", rs.Version()),
		zap.Int("rules", rs.Len()),
		zap.Bool("watching", cfg.Policy.WatchRules))
	return nil
}

// initPlans wires the orchestrator and phase tracker
func (d *Dependencies) initPlans(cfg *config.Config) error {
	planDeps := plan.Dependencies{
		Plans:      d.Repos.Plans,
		Phases:     d.Repos.Phases,
		Policy:     d.Engine,
		Principals: d.Principals,
		Auditor:    d.Audit,
		Logger:     d.Logger,
	}
	if d.Metrics != nil {
		planDeps.Metrics = d.Metrics.Plans
	}
	if cfg.Plan.ScopeCatalogPath != "" {
		catalog, err := plan.LoadScopeCatalog(cfg.Plan.ScopeCatalogPath)
		if err != nil {
			return err
		}
		planDeps.Scopes = catalog
	}

	d.Orchestrator = plan.NewOrchestrator(planDeps, plan.Config{
		ConflictRetries: cfg.Plan.ConflictRetries,
		RetryBaseDelay:  cfg.Plan.RetryBaseDelay,
	})
	d.Tracker = plan.NewPhaseTracker(d.Orchestrator, d.Logger)
	return nil
}

// OpsHandlers builds the handlers of the ops HTTP listener
func (d *Dependencies) OpsHandlers() routes.Handlers {
	h := routes.Handlers{
		Health: handlers.NewHealthHandler(d.DB, d.Engine, d.Logger),
		Rules:  handlers.NewRulesHandler(d.Engine, d.Logger),
	}
	if d.Metrics != nil {
		h.Metrics = d.Metrics.Handler()
	}
	return h
}

// Close gracefully shuts down all dependencies. Buffered audit events are
// flushed before the store is closed.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Watcher != nil {
		if err := d.Watcher.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop rules watcher: %w", err))
		}
	}

	if d.Audit != nil {
		timeout := d.Config.Audit.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		if err := d.Audit.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		} else {
			d.Logger.Info("audit service stopped")
		}
	}

	// Close database connection
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
