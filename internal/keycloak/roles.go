package keycloak

import (
	"context"
	"fmt"
	"net/http"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"nexaauth.io/provisioner/internal/pkg/logger"
)

// RoleDescription is the description given to a newly created client role.
func RoleDescription(name string) string {
	return name + " role for organization"
}

// CreateRole creates a client role. An existing role with the same name is
// left untouched and counts as success.
func (c *Client) CreateRole(ctx context.Context, token, clientUUID, name string) error {
	resp, err := c.sendJSON(ctx, token, http.MethodPost, c.adminPath("clients", clientUUID, "roles"), Role{
		Name:        name,
		Description: RoleDescription(name),
	})
	if err != nil {
		return fmt.Errorf("create role %q: %w", name, err)
	}

	switch {
	case resp.ok():
		logger.FromContext(ctx).Debug("Client role created",
			zap.String("client_uuid", clientUUID),
			zap.String("role", name),
		)
		return nil
	case resp.Status == http.StatusConflict:
		logger.FromContext(ctx).Debug("Client role already exists",
			zap.String("client_uuid", clientUUID),
			zap.String("role", name),
		)
		return nil
	default:
		return fmt.Errorf("create role %q: %w", name, resp.apiError())
	}
}

// EnsureRoles creates every role independently and returns the failures
// keyed by role name. An empty map means all roles exist. Duplicate names
// are created once. With a worker pool configured the roles are created
// concurrently.
func (c *Client) EnsureRoles(ctx context.Context, token, clientUUID string, names []string) map[string]error {
	names = lo.Uniq(names)

	batch := c.pool.NewBatch(ctx)
	for _, name := range names {
		name := name
		batch.Go(func(ctx context.Context) error {
			return c.CreateRole(ctx, token, clientUUID, name)
		})
	}

	failures := make(map[string]error)
	for i, err := range batch.Wait() {
		if err != nil {
			failures[names[i]] = err
			logger.FromContext(ctx).Warn("Failed to create client role",
				zap.String("client_uuid", clientUUID),
				zap.String("role", names[i]),
				zap.Error(err),
			)
		}
	}
	return failures
}

// GetClientRole fetches a client role by name.
func (c *Client) GetClientRole(ctx context.Context, token, clientUUID, name string) (Role, error) {
	var role Role
	if err := c.getJSON(ctx, token, c.adminPath("clients", clientUUID, "roles", name), nil, &role); err != nil {
		return Role{}, fmt.Errorf("get role %q: %w", name, err)
	}
	return role, nil
}

// AssignClientRole maps a client role onto a user.
func (c *Client) AssignClientRole(ctx context.Context, token, userID, clientUUID string, role Role) error {
	mapping := []Role{{
		ID:          role.ID,
		Name:        role.Name,
		ContainerID: clientUUID,
		ClientRole:  true,
	}}

	resp, err := c.sendJSON(ctx, token, http.MethodPost,
		c.adminPath("users", userID, "role-mappings", "clients", clientUUID), mapping)
	if err != nil {
		return fmt.Errorf("assign role %q: %w", role.Name, err)
	}
	if !resp.ok() {
		return fmt.Errorf("assign role %q: %w", role.Name, resp.apiError())
	}
	return nil
}
