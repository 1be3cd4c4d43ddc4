package openapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	doc, err := Load()
	require.NoError(t, err)

	for _, path := range []string{
		"/register",
		"/register-google",
		"/register-google-idp",
		"/register-existing-google-user",
		"/test-register",
		"/user/{id}",
		"/user/{id}/organizations",
		"/user/{id}/clients",
		"/health",
		"/health/ready",
	} {
		assert.NotNil(t, doc.Paths.Find(path), path)
	}
}

func TestDocumentEmbedded(t *testing.T) {
	assert.Contains(t, string(Document()), "openapi: 3.0.3")
}
