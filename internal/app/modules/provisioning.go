package modules

import (
	"context"

	"nexaauth.io/provisioner/internal/api/handlers"
	"nexaauth.io/provisioner/internal/provisioning"
)

// ProvisioningModule wires the tenant provisioning workflow.
type ProvisioningModule struct {
	service *provisioning.Service
}

// NewProvisioningModule builds the workflow service on top of infra.
func NewProvisioningModule(infra *Infrastructure) *ProvisioningModule {
	cfg := infra.Config.Provisioning
	svc := provisioning.NewService(provisioning.Deps{
		Tokens:  infra.Tokens,
		API:     infra.Keycloak,
		Metrics: provisioning.NewMetrics(infra.Registry),
		Audit:   infra.AuditLogger,
	}, provisioning.Options{
		StageTimeout:        cfg.StageTimeout,
		DefaultRoles:        cfg.DefaultRoles,
		AdminRole:           cfg.AdminRole,
		DefaultUserPassword: cfg.DefaultUserPassword,
	})
	return &ProvisioningModule{service: svc}
}

// Service returns the workflow service.
func (m *ProvisioningModule) Service() *provisioning.Service { return m.service }

func (m *ProvisioningModule) Name() string { return "provisioning" }

func (m *ProvisioningModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	deps.Provisioner = m.service
}

func (m *ProvisioningModule) Shutdown(context.Context) error { return nil }
