package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"nexaauth.io/provisioner/internal/keycloak"
	apperrors "nexaauth.io/provisioner/internal/pkg/errors"
	"nexaauth.io/provisioner/internal/provisioning"
)

const (
	msgMissingFields = "Missing required fields: keycloakId and email are required"
	msgMissingEmail  = "Missing required field: email is required"
)

// RegisterRequest is the body of the registration endpoints.
type RegisterRequest struct {
	KeycloakID string `json:"keycloakId"`
	Email      string `json:"email"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
}

func (r RegisterRequest) identity() provisioning.Identity {
	return provisioning.Identity{
		SubjectID: strings.TrimSpace(r.KeycloakID),
		Email:     strings.TrimSpace(r.Email),
		FirstName: r.FirstName,
		LastName:  r.LastName,
	}
}

// ExistingUserRequest is the body of POST /register-existing-google-user.
type ExistingUserRequest struct {
	Email string `json:"email"`
}

// bindJSON decodes the body into dst. An empty body leaves dst zero so the
// handler can report the missing fields.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeMalformedBody, "Invalid request body", http.StatusBadRequest))
		return false
	}
	return true
}

// bindIdentity binds a RegisterRequest and checks the required fields.
func bindIdentity(c *gin.Context) (provisioning.Identity, bool) {
	var req RegisterRequest
	if !bindJSON(c, &req) {
		return provisioning.Identity{}, false
	}
	id := req.identity()
	if id.SubjectID == "" || id.Email == "" {
		var missing []string
		if id.SubjectID == "" {
			missing = append(missing, "keycloakId")
		}
		if id.Email == "" {
			missing = append(missing, "email")
		}
		_ = c.Error(apperrors.MissingFields(msgMissingFields, missing...))
		return provisioning.Identity{}, false
	}
	return id, true
}

// workflowError maps an error returned by the workflow to an AppError.
// summary is the endpoint-specific error title.
func workflowError(err error, summary string) *apperrors.AppError {
	switch {
	case errors.Is(err, provisioning.ErrValidation):
		return apperrors.Wrap(err, apperrors.CodeValidationFailed, msgMissingFields, http.StatusBadRequest)
	case errors.Is(err, keycloak.ErrAuthFailure):
		return apperrors.Wrap(err, apperrors.CodeKeycloakAuthFailed, summary, http.StatusInternalServerError)
	default:
		return apperrors.Wrap(err, apperrors.CodeRegistrationFailed, summary, http.StatusInternalServerError)
	}
}

// Register handles POST /register.
func (s *Server) Register(c *gin.Context) {
	id, ok := bindIdentity(c)
	if !ok {
		return
	}

	res, err := s.provisioner.Provision(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(workflowError(err, "Registration failed"))
		return
	}
	c.JSON(http.StatusCreated, res)
}

// RegisterGoogle handles POST /register-google. The user must already
// exist in Keycloak.
func (s *Server) RegisterGoogle(c *gin.Context) {
	id, ok := bindIdentity(c)
	if !ok {
		return
	}

	res, err := s.provisioner.ProvisionExisting(c.Request.Context(), id)
	if errors.Is(err, provisioning.ErrUserNotFound) {
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeUserNotFound, "User does not exist in Keycloak", http.StatusNotFound).
			WithDetail("Please ensure user is created in Keycloak first"))
		return
	}
	if err != nil {
		_ = c.Error(workflowError(err, "Google OAuth registration failed"))
		return
	}
	c.JSON(http.StatusCreated, res)
}

// RegisterGoogleIdP handles POST /register-google-idp. The user is created
// when absent.
func (s *Server) RegisterGoogleIdP(c *gin.Context) {
	id, ok := bindIdentity(c)
	if !ok {
		return
	}
	s.provisionWithUser(c, id, "Google Identity Provider registration failed")
}

// RegisterExistingGoogleUser handles POST /register-existing-google-user.
func (s *Server) RegisterExistingGoogleUser(c *gin.Context) {
	var req ExistingUserRequest
	if !bindJSON(c, &req) {
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		_ = c.Error(apperrors.MissingFields(msgMissingEmail, "email"))
		return
	}

	res, err := s.provisioner.ProvisionByEmail(c.Request.Context(), email)
	if errors.Is(err, provisioning.ErrUserNotFound) {
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeUserNotFound, "Google IDP user not found", http.StatusNotFound).
			WithDetail(fmt.Sprintf("No user found with email: %s. Please login through Google first.", email)))
		return
	}
	if err != nil {
		_ = c.Error(workflowError(err, "Existing Google IDP user registration failed"))
		return
	}
	c.JSON(http.StatusCreated, res)
}

// TestRegister handles POST /test-register with a synthetic identity.
func (s *Server) TestRegister(c *gin.Context) {
	id := provisioning.Identity{
		SubjectID: uuid.NewString(),
		Email:     fmt.Sprintf("test-%d@example.com", time.Now().UnixMilli()),
		FirstName: "Test User",
		LastName:  "Smith Jr.",
	}
	s.provisionWithUser(c, id, "Test registration failed")
}

func (s *Server) provisionWithUser(c *gin.Context, id provisioning.Identity, summary string) {
	res, err := s.provisioner.ProvisionWithUser(c.Request.Context(), id)
	if errors.Is(err, provisioning.ErrUserCreateFailed) {
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeUserCreateFailed, "Failed to create user in Keycloak", http.StatusInternalServerError).
			WithDetail("Could not create user in Keycloak"))
		return
	}
	if err != nil {
		_ = c.Error(workflowError(err, summary))
		return
	}
	c.JSON(http.StatusCreated, res)
}
