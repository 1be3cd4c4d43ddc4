// Package app is the composition root. Bootstrap stays orchestration-only;
// dependencies are built by the modules package.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"nexaauth.io/provisioner/internal/api/handlers"
	"nexaauth.io/provisioner/internal/app/modules"
	"nexaauth.io/provisioner/internal/config"
	"nexaauth.io/provisioner/internal/provisioning"
)

// Application holds composed application dependencies.
type Application struct {
	Config      *config.Config
	Router      *gin.Engine
	Infra       *modules.Infrastructure
	Provisioner *provisioning.Service
	Modules     []modules.Module
}

// Bootstrap initializes all dependencies using module-oriented manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	infra, err := modules.NewInfrastructure(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}

	provisioningModule := modules.NewProvisioningModule(infra)
	allModules := []modules.Module{provisioningModule}

	serverDeps := modules.NewServerDeps(infra, allModules)
	server := handlers.NewServer(serverDeps)

	return &Application{
		Config:      cfg,
		Router:      newRouter(cfg, server, infra.Registry),
		Infra:       infra,
		Provisioner: provisioningModule.Service(),
		Modules:     allModules,
	}, nil
}
