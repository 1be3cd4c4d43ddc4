package modules

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"nexaauth.io/provisioner/internal/config"
	"nexaauth.io/provisioner/internal/governance/audit"
	"nexaauth.io/provisioner/internal/infrastructure"
	"nexaauth.io/provisioner/internal/keycloak"
	"nexaauth.io/provisioner/internal/pkg/worker"
)

const poolDrainTimeout = 10 * time.Second

// Infrastructure holds shared cross-cutting dependencies for all modules.
// It is a provider, not a Module.
type Infrastructure struct {
	Config      *config.Config
	DB          *infrastructure.Database // nil when no audit database is configured
	Pool        *worker.Pool
	Keycloak    *keycloak.Client
	Tokens      *keycloak.TokenSource
	AuditLogger *audit.Logger
	Registry    *prometheus.Registry
}

// NewInfrastructure initializes the optional database, the worker pool and
// the Keycloak admin client.
func NewInfrastructure(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	var db *infrastructure.Database
	if cfg.Database.Enabled() {
		var err error
		db, err = infrastructure.NewDatabase(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("init database: %w", err)
		}
		if cfg.Database.AutoMigrate {
			if err := db.AutoMigrate(ctx); err != nil {
				db.Close()
				return nil, fmt.Errorf("auto-migrate: %w", err)
			}
		}
	}

	pool, err := worker.NewPool("keycloak", cfg.Worker.PoolSize)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, fmt.Errorf("init worker pool: %w", err)
	}

	kcCfg := KeycloakConfig(cfg.Keycloak)

	// Role creation fans out on the pool only when enabled.
	var rolePool *worker.Pool
	if cfg.Provisioning.ParallelRoles {
		rolePool = pool
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	infra := &Infrastructure{
		Config:   cfg,
		DB:       db,
		Pool:     pool,
		Keycloak: keycloak.NewClient(kcCfg, rolePool),
		Tokens:   keycloak.NewTokenSource(kcCfg),
		Registry: registry,
	}
	if db != nil {
		infra.AuditLogger = audit.NewLogger(db.Pool)
	} else {
		infra.AuditLogger = audit.NewLogger(nil)
	}
	return infra, nil
}

// KeycloakConfig maps the file configuration onto the admin client config.
func KeycloakConfig(c config.KeycloakConfig) keycloak.Config {
	return keycloak.Config{
		ServerURL:      c.ServerURL,
		Realm:          c.Realm,
		AdminUser:      c.AdminUser,
		AdminPassword:  c.AdminPassword,
		AdminClientID:  c.AdminClientID,
		RequestTimeout: c.RequestTimeout,
		Discovery:      c.Discovery,
	}
}

// Close releases infra resources in reverse dependency order.
func (i *Infrastructure) Close() {
	if i == nil {
		return
	}
	if i.Pool != nil {
		i.Pool.Shutdown(poolDrainTimeout)
	}
	if i.DB != nil {
		i.DB.Close()
	}
}
