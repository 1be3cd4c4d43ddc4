package keycloak

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// UserExists reports whether userID is a user of the realm. A 404 is
// (false, nil). Any other failure is also reported as false, with the error
// returned so callers can log why the check was inconclusive.
func (c *Client) UserExists(ctx context.Context, token, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	err := c.getJSON(ctx, token, c.adminPath("users", userID), nil, nil)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("check user %q: %w", userID, err)
	}
}

// FindUserByEmail returns the first user whose email matches, or ErrNotFound.
func (c *Client) FindUserByEmail(ctx context.Context, token, email string) (*User, error) {
	var users []User
	if err := c.getJSON(ctx, token, c.adminPath("users"), url.Values{"email": {email}}, &users); err != nil {
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("user with email %q: %w", email, ErrNotFound)
	}
	return &users[0], nil
}

// CreateUser creates a user. A conflict means the user already exists and
// counts as success.
func (c *Client) CreateUser(ctx context.Context, token string, user NewUser) error {
	resp, err := c.sendJSON(ctx, token, http.MethodPost, c.adminPath("users"), user)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	if resp.ok() || resp.Status == http.StatusConflict {
		return nil
	}
	return fmt.Errorf("create user: %w", resp.apiError())
}

// GetUser returns the raw user representation.
func (c *Client) GetUser(ctx context.Context, token, userID string) (json.RawMessage, error) {
	return c.getRaw(ctx, token, c.adminPath("users", userID))
}

// UserOrganizations returns the raw list of organizations userID belongs to.
func (c *Client) UserOrganizations(ctx context.Context, token, userID string) (json.RawMessage, error) {
	return c.getRaw(ctx, token, c.adminPath("users", userID, "organizations"))
}

// UserClientRoleMappings returns the raw client role mappings of userID.
func (c *Client) UserClientRoleMappings(ctx context.Context, token, userID string) (json.RawMessage, error) {
	return c.getRaw(ctx, token, c.adminPath("users", userID, "role-mappings", "clients"))
}
