package keycloak

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"nexaauth.io/provisioner/internal/pkg/logger"
)

// masterRealm holds the admin accounts used for the password grant.
const masterRealm = "master"

// TokenSource obtains admin access tokens with a resource-owner password grant
// against the master realm. Tokens are never cached: every AdminToken call
// performs a fresh grant.
type TokenSource struct {
	cfg  Config
	http *http.Client

	mu       sync.Mutex
	endpoint oauth2.Endpoint
}

// NewTokenSource creates a TokenSource. With cfg.Discovery off, the token
// endpoint is the well-known Keycloak path and no network call is made here.
func NewTokenSource(cfg Config) *TokenSource {
	ts := &TokenSource{cfg: cfg, http: cfg.httpClient()}
	if !cfg.Discovery {
		ts.endpoint = oauth2.Endpoint{
			TokenURL:  cfg.baseURL() + "/realms/" + masterRealm + "/protocol/openid-connect/token",
			AuthStyle: oauth2.AuthStyleInParams,
		}
	}
	return ts
}

// AdminToken performs the password grant and returns the raw access token.
// Every failure wraps ErrAuthFailure.
func (ts *TokenSource) AdminToken(ctx context.Context) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, ts.http)

	endpoint, err := ts.tokenEndpoint(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthFailure, err)
	}

	oc := &oauth2.Config{
		ClientID: ts.cfg.AdminClientID,
		Endpoint: endpoint,
	}
	tok, err := oc.PasswordCredentialsToken(ctx, ts.cfg.AdminUser, ts.cfg.AdminPassword)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to obtain Keycloak admin token",
			zap.String("token_url", endpoint.TokenURL),
			zap.Error(err),
		)
		return "", fmt.Errorf("%w: %v", ErrAuthFailure, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrAuthFailure)
	}
	return tok.AccessToken, nil
}

// tokenEndpoint resolves the endpoint once via OIDC discovery when enabled.
// Failed discovery is retried on the next call.
func (ts *TokenSource) tokenEndpoint(ctx context.Context) (oauth2.Endpoint, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.endpoint.TokenURL != "" {
		return ts.endpoint, nil
	}

	issuer := ts.cfg.baseURL() + "/realms/" + masterRealm
	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, ts.http), issuer)
	if err != nil {
		return oauth2.Endpoint{}, fmt.Errorf("discover %s: %w", issuer, err)
	}

	endpoint := provider.Endpoint()
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	ts.endpoint = endpoint

	logger.FromContext(ctx).Info("Resolved Keycloak token endpoint via discovery",
		zap.String("issuer", issuer),
		zap.String("token_url", endpoint.TokenURL),
	)
	return endpoint, nil
}
