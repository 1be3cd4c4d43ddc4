package keycloak

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"nexaauth.io/provisioner/internal/pkg/logger"
)

// NewTenantOrganization builds the organization representation for name.
func NewTenantOrganization(name, domain string) Organization {
	return Organization{
		Name:    name,
		Domains: []string{domain},
		Attributes: map[string][]string{
			"description": {"Organization: " + name},
			"type":        {"organization"},
		},
	}
}

// EnsureOrganization creates the organization, or returns the id of the
// existing organization whose name is exactly name.
func (c *Client) EnsureOrganization(ctx context.Context, token, name, domain string) (string, error) {
	rep := NewTenantOrganization(name, domain)

	id, outcome, err := Reconcile(ctx, Reconciler[string]{
		Kind: "organization",
		Create: func(ctx context.Context) (*Response, error) {
			return c.sendJSON(ctx, token, http.MethodPost, c.adminPath("organizations"), rep)
		},
		Created: createdID,
		Lookup: func(ctx context.Context) ([]string, error) {
			org, ok, err := c.FindOrganization(ctx, token, name)
			if err != nil || !ok {
				return nil, err
			}
			return []string{org.ID}, nil
		},
	})
	if err != nil {
		return "", err
	}

	logger.FromContext(ctx).Info("Organization ensured",
		zap.String("org_name", name),
		zap.String("org_id", id),
		zap.Stringer("outcome", outcome),
	)
	return id, nil
}

// FindOrganization searches organizations by name and returns the exact match.
func (c *Client) FindOrganization(ctx context.Context, token, name string) (OrganizationSummary, bool, error) {
	var found []OrganizationSummary
	if err := c.getJSON(ctx, token, c.adminPath("organizations"), url.Values{"search": {name}}, &found); err != nil {
		return OrganizationSummary{}, false, fmt.Errorf("search organization %q: %w", name, err)
	}
	org, ok := lo.Find(found, func(o OrganizationSummary) bool {
		return o.Name == name
	})
	return org, ok, nil
}

// AddMember adds userID to the organization. The request body is the bare
// user id. An existing membership counts as success.
func (c *Client) AddMember(ctx context.Context, token, orgID, userID string) error {
	resp, err := c.send(ctx, token, http.MethodPost, c.adminPath("organizations", orgID, "members"),
		nil, strings.NewReader(userID), "application/json")
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	if resp.ok() || resp.Status == http.StatusConflict {
		return nil
	}
	return fmt.Errorf("add member: %w", resp.apiError())
}
