package modules

import (
	"nexaauth.io/provisioner/internal/api/handlers"
)

// NewServerDeps builds base server deps then lets each module contribute explicit wiring.
func NewServerDeps(infra *Infrastructure, mods []Module) handlers.ServerDeps {
	deps := handlers.ServerDeps{
		Checks: []handlers.HealthCheck{
			{Name: "keycloak", Check: infra.Keycloak.Ping},
		},
	}
	if infra.DB != nil {
		deps.Checks = append(deps.Checks, handlers.HealthCheck{Name: "database", Check: infra.DB.Ping})
	}

	for _, mod := range mods {
		if mod == nil {
			continue
		}
		mod.ContributeServerDeps(&deps)
	}
	return deps
}
