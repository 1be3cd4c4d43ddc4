package keycloak

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"nexaauth.io/provisioner/internal/pkg/logger"
)

// clientAttributes disables SAML and consent features a tenant OIDC client never uses.
var clientAttributes = map[string]string{
	"saml.assertion.signature":                   "false",
	"saml.force.post.binding":                    "false",
	"saml.multivalued.roles":                     "false",
	"saml.encrypt":                               "false",
	"saml.server.signature":                      "false",
	"saml.server.signature.keyinfo.ext":          "false",
	"exclude.session.state.from.auth.response":   "false",
	"saml_force_name_id_format":                  "false",
	"saml.client.signature":                      "false",
	"tls.client.certificate.bound.access.tokens": "false",
	"saml.authnstatement":                        "false",
	"display.on.consent.screen":                  "false",
	"saml.onetimeuse.condition":                  "false",
	"user.info.response.signature.alg":           "RS256",
}

// NewTenantClient builds the confidential client representation for clientID.
func NewTenantClient(clientID, secret string) ClientRepresentation {
	attrs := make(map[string]string, len(clientAttributes))
	for k, v := range clientAttributes {
		attrs[k] = v
	}
	return ClientRepresentation{
		ClientID:                  clientID,
		Enabled:                   true,
		Protocol:                  "openid-connect",
		Secret:                    secret,
		ServiceAccountsEnabled:    false,
		StandardFlowEnabled:       true,
		ImplicitFlowEnabled:       false,
		DirectAccessGrantsEnabled: true,
		PublicClient:              false,
		RedirectURIs:              []string{"*"},
		WebOrigins:                []string{"*"},
		Attributes:                attrs,
	}
}

// GenerateSecret returns the locally generated secret for a new client.
func GenerateSecret(clientID string, now time.Time) string {
	return fmt.Sprintf("%s-secret-%d", clientID, now.UnixMilli())
}

// PlaceholderSecret is returned for clients that already existed.
func PlaceholderSecret(clientID string) string {
	return clientID + "-secret-existing"
}

// EnsureClient creates the tenant client, or returns the existing client with
// the same clientId. In the latter case the secret is a placeholder and
// ClientInfo.Recovered is set.
func (c *Client) EnsureClient(ctx context.Context, token, clientID string) (ClientInfo, error) {
	secret := GenerateSecret(clientID, time.Now())
	rep := NewTenantClient(clientID, secret)

	info, outcome, err := Reconcile(ctx, Reconciler[ClientInfo]{
		Kind: "client",
		Create: func(ctx context.Context) (*Response, error) {
			return c.sendJSON(ctx, token, http.MethodPost, c.adminPath("clients"), rep)
		},
		Created: func(resp *Response) (ClientInfo, error) {
			id, err := createdID(resp)
			if err != nil {
				return ClientInfo{}, err
			}
			return ClientInfo{ClientID: clientID, ClientUUID: id, ClientSecret: secret}, nil
		},
		Lookup: func(ctx context.Context) ([]ClientInfo, error) {
			found, err := c.FindClients(ctx, token, clientID)
			if err != nil {
				return nil, err
			}
			out := make([]ClientInfo, 0, len(found))
			for _, f := range found {
				out = append(out, ClientInfo{
					ClientID:     f.ClientID,
					ClientUUID:   f.ID,
					ClientSecret: PlaceholderSecret(f.ClientID),
					Recovered:    true,
				})
			}
			return out, nil
		},
	})
	if err != nil {
		return ClientInfo{}, err
	}

	log := logger.FromContext(ctx)
	if outcome == OutcomeConflictResolved {
		log.Warn("Client already exists; returning placeholder secret",
			zap.String("client_id", info.ClientID),
			zap.String("client_uuid", info.ClientUUID),
		)
	} else {
		log.Info("Client created",
			zap.String("client_id", info.ClientID),
			zap.String("client_uuid", info.ClientUUID),
		)
	}
	return info, nil
}

// FindClients lists clients whose clientId equals clientID.
func (c *Client) FindClients(ctx context.Context, token, clientID string) ([]ClientRepresentation, error) {
	var found []ClientRepresentation
	if err := c.getJSON(ctx, token, c.adminPath("clients"), url.Values{"clientId": {clientID}}, &found); err != nil {
		return nil, fmt.Errorf("find client %q: %w", clientID, err)
	}
	return found, nil
}
