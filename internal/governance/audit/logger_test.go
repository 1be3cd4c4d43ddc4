package audit

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexaauth.io/provisioner/internal/infrastructure"
	"nexaauth.io/provisioner/internal/pkg/logger"
	"nexaauth.io/provisioner/internal/testutil"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error", "json"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func TestGenerateAuditID(t *testing.T) {
	a, b := generateAuditID(), generateAuditID()
	assert.True(t, strings.HasPrefix(a, "audit-"))
	assert.NotEqual(t, a, b)
}

func TestLogAction_WithoutDatabase(t *testing.T) {
	l := NewLogger(nil)
	require.NoError(t, l.LogAction(context.Background(), "tenant.provision", "tenant", "client-a-b", "kc-1", nil))

	records, err := l.ListByActor(context.Background(), "kc-1", 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLogAction_Postgres(t *testing.T) {
	pool := testutil.OpenPGXPool(t, "audit")
	ctx := context.Background()
	require.NoError(t, infrastructure.Migrate(ctx, pool))
	// Migrations are idempotent.
	require.NoError(t, infrastructure.Migrate(ctx, pool))

	l := NewLogger(pool)
	require.NoError(t, l.LogAction(ctx, "tenant.provision", "tenant", "client-example-jane", "kc-1", map[string]interface{}{
		"organization_id": "org-1",
		"failed_stages":   []string{"membership"},
	}))
	require.NoError(t, l.LogAction(ctx, "tenant.provision_with_user", "tenant", "client-example-jane", "kc-1", nil))
	require.NoError(t, l.LogAction(ctx, "tenant.provision", "tenant", "client-other", "kc-2", nil))

	records, err := l.ListByActor(ctx, "kc-1", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	for _, r := range records {
		assert.Equal(t, "kc-1", r.Actor)
		assert.Equal(t, "client-example-jane", r.ResourceID)
		assert.False(t, r.CreatedAt.IsZero())
	}

	var withDetails *Record
	for i := range records {
		if records[i].Action == "tenant.provision" {
			withDetails = &records[i]
		}
	}
	require.NotNil(t, withDetails)
	assert.Equal(t, "org-1", withDetails.Details["organization_id"])
	assert.Equal(t, []interface{}{"membership"}, withDetails.Details["failed_stages"])
}
