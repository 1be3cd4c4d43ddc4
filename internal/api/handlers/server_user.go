package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "nexaauth.io/provisioner/internal/pkg/errors"
)

// GetUser handles GET /user/:id.
func (s *Server) GetUser(c *gin.Context) {
	s.passThrough(c, s.provisioner.UserDetails, "Failed to get user info")
}

// GetUserOrganizations handles GET /user/:id/organizations.
func (s *Server) GetUserOrganizations(c *gin.Context) {
	s.passThrough(c, s.provisioner.UserOrganizations, "Failed to get user organizations")
}

// GetUserClients handles GET /user/:id/clients.
func (s *Server) GetUserClients(c *gin.Context) {
	s.passThrough(c, s.provisioner.UserClientRoles, "Failed to get user clients")
}

// passThrough relays the Keycloak payload unchanged. Every failure,
// including an unknown user, is a 500.
func (s *Server) passThrough(c *gin.Context, read func(ctx context.Context, userID string) (json.RawMessage, error), summary string) {
	raw, err := read(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeKeycloakRequest, summary, http.StatusInternalServerError))
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}
