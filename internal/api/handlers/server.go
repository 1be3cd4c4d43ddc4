// Package handlers implements the HTTP control surface of the provisioner.
//
// Routes are registered by RegisterRoutes; errors are attached with c.Error
// and rendered by middleware.ErrorHandler.
package handlers

import (
	"context"
	"encoding/json"

	"github.com/gin-gonic/gin"

	"nexaauth.io/provisioner/internal/provisioning"
)

// Provisioner is the workflow surface the handlers drive.
type Provisioner interface {
	Provision(ctx context.Context, id provisioning.Identity) (*provisioning.Result, error)
	ProvisionExisting(ctx context.Context, id provisioning.Identity) (*provisioning.Result, error)
	ProvisionWithUser(ctx context.Context, id provisioning.Identity) (*provisioning.Result, error)
	ProvisionByEmail(ctx context.Context, email string) (*provisioning.Result, error)

	UserDetails(ctx context.Context, userID string) (json.RawMessage, error)
	UserOrganizations(ctx context.Context, userID string) (json.RawMessage, error)
	UserClientRoles(ctx context.Context, userID string) (json.RawMessage, error)
}

// HealthCheck is one readiness check.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server holds the handler dependencies.
type Server struct {
	provisioner Provisioner
	checks      []HealthCheck
}

// ServerDeps holds all dependencies for creating a Server.
type ServerDeps struct {
	Provisioner Provisioner
	Checks      []HealthCheck
}

// NewServer creates a new Server with all dependencies.
func NewServer(deps ServerDeps) *Server {
	return &Server{
		provisioner: deps.Provisioner,
		checks:      deps.Checks,
	}
}

// RegisterRoutes mounts every handler on r.
func (s *Server) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health", s.GetHealth)
	r.GET("/health/ready", s.GetReadiness)

	r.POST("/register", s.Register)
	r.POST("/register-google", s.RegisterGoogle)
	r.POST("/register-google-idp", s.RegisterGoogleIdP)
	r.POST("/register-existing-google-user", s.RegisterExistingGoogleUser)
	r.POST("/test-register", s.TestRegister)

	r.GET("/user/:id", s.GetUser)
	r.GET("/user/:id/organizations", s.GetUserOrganizations)
	r.GET("/user/:id/clients", s.GetUserClients)
}
