package keycloak

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nexaauth.io/provisioner/internal/pkg/logger"
	"nexaauth.io/provisioner/internal/pkg/worker"
	"nexaauth.io/provisioner/internal/testutil"
)

const testRealm = "nexaauth"

func TestMain(m *testing.M) {
	if err := logger.Init("error", "json"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func configFor(fk *testutil.FakeKeycloak) Config {
	return Config{
		ServerURL:      fk.URL(),
		Realm:          fk.Realm,
		AdminUser:      fk.AdminUser,
		AdminPassword:  fk.AdminPassword,
		AdminClientID:  "admin-cli",
		RequestTimeout: 5 * time.Second,
	}
}

// newFixture starts a fake server and returns a client, a valid admin token
// and the fake itself.
func newFixture(t *testing.T) (*Client, string, *testutil.FakeKeycloak) {
	t.Helper()

	fk := testutil.NewFakeKeycloak(t, testRealm)
	cfg := configFor(fk)

	pool, err := worker.NewPool("keycloak-test", 4)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Shutdown(time.Second) })

	token, err := NewTokenSource(cfg).AdminToken(context.Background())
	require.NoError(t, err)

	return NewClient(cfg, pool), token, fk
}

func TestStatusCode(t *testing.T) {
	require.Equal(t, 0, StatusCode(nil))
	require.Equal(t, http.StatusTeapot, StatusCode(&APIError{Status: http.StatusTeapot}))
}

func TestAPIError_IsNotFound(t *testing.T) {
	err := &APIError{Method: http.MethodGet, Path: "/x", Status: http.StatusNotFound}
	require.ErrorIs(t, err, ErrNotFound)

	err = &APIError{Method: http.MethodGet, Path: "/x", Status: http.StatusInternalServerError, Body: "boom"}
	require.NotErrorIs(t, err, ErrNotFound)
	require.Contains(t, err.Error(), "status 500: boom")
}

func TestAdminPath_EscapesSegments(t *testing.T) {
	c := NewClient(Config{ServerURL: "http://kc", Realm: "my realm"}, nil)
	require.Equal(t, "/admin/realms/my%20realm/clients/a%2Fb/roles", c.adminPath("clients", "a/b", "roles"))
}

func TestPing(t *testing.T) {
	c, _, fk := newFixture(t)
	require.NoError(t, c.Ping(context.Background()))

	other := NewClient(Config{ServerURL: fk.URL(), Realm: "missing"}, nil)
	require.Error(t, other.Ping(context.Background()))
}
