package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestNormalizeValidationPath(t *testing.T) {
	testCases := []struct {
		name     string
		basePath string
		path     string
		want     string
	}{
		{name: "strip prefix", basePath: "/api", path: "/api/register", want: "/register"},
		{name: "root path", basePath: "/api", path: "/api", want: "/"},
		{name: "no match", basePath: "/api", path: "/health", want: "/health"},
		{name: "empty base", basePath: "", path: "/user/u-1", want: "/user/u-1"},
		{name: "slashed base", basePath: " /api/ ", path: "/api/register", want: "/register"},
		{name: "sibling prefix", basePath: "/api", path: "/apis/register", want: "/apis/register"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := normalizeValidationPath(normalizeBasePath(tc.basePath), tc.path)
			if got != tc.want {
				t.Fatalf("normalizeValidationPath mismatch: got %q want %q", got, tc.want)
			}
		})
	}
}

func validResult() gin.H {
	return gin.H{
		"success": true,
		"message": "User, organization, and client created successfully",
		"data": gin.H{
			"keycloakId":       "kc-1",
			"email":            "x@y.com",
			"clientId":         "client-y-x",
			"clientUuid":       "uuid-1",
			"clientSecret":     "client-y-x-secret-1",
			"organizationName": "org-y-x",
			"organizationId":   nil,
			"domain":           "org-y-x.org",
		},
		"stages": gin.H{
			"client":       gin.H{"status": "succeeded"},
			"organization": gin.H{"status": "failed", "error": "status 500"},
		},
	}
}

func newValidatedRouter(validateResponses bool) *gin.Engine {
	router := gin.New()
	router.Use(MustOpenAPIValidator(ValidatorOptions{ValidateResponses: validateResponses}))
	return router
}

func TestOpenAPIValidatorRejectsMistypedRegistration(t *testing.T) {
	router := newValidatedRouter(false)
	called := false
	router.POST("/register", func(c *gin.Context) {
		called = true
		c.JSON(http.StatusCreated, validResult())
	})

	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewBufferString(`{"keycloakId":"kc-1","email":42}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for mistyped body, got %d", resp.Code)
	}
	if called {
		t.Fatal("handler must not run for an invalid request")
	}
	var body map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["code"] != "OPENAPI_REQUEST_INVALID" || body["error"] == "" {
		t.Fatalf("unexpected error body: %v", body)
	}
}

func TestOpenAPIValidatorLeavesMissingFieldsToHandler(t *testing.T) {
	router := newValidatedRouter(false)
	router.POST("/register", func(c *gin.Context) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields: keycloakId and email are required"})
	})

	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest || !bytes.Contains(resp.Body.Bytes(), []byte("Missing required fields")) {
		t.Fatalf("expected handler's 400, got %d body=%s", resp.Code, resp.Body.String())
	}
}

func TestOpenAPIValidatorAcceptsValidRegistration(t *testing.T) {
	router := newValidatedRouter(true)
	router.POST("/register", func(c *gin.Context) {
		c.JSON(http.StatusCreated, validResult())
	})

	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewBufferString(`{"keycloakId":"kc-1","email":"x@y.com"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", resp.Code, resp.Body.String())
	}
}

func TestOpenAPIValidatorReplacesNonConformingResponse(t *testing.T) {
	router := newValidatedRouter(true)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for response missing timestamp, got %d", resp.Code)
	}
	if !bytes.Contains(resp.Body.Bytes(), []byte("OPENAPI_RESPONSE_INVALID")) {
		t.Fatalf("unexpected body: %s", resp.Body.String())
	}
}

func TestOpenAPIValidatorResponseValidationDisabled(t *testing.T) {
	router := newValidatedRouter(false)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 with response validation off, got %d", resp.Code)
	}
}

func TestOpenAPIValidatorHealthConforms(t *testing.T) {
	router := newValidatedRouter(true)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK", "timestamp": time.Now().UTC().Format(time.RFC3339Nano)})
	})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", resp.Code, resp.Body.String())
	}
}

func TestOpenAPIValidatorPassesUnknownPaths(t *testing.T) {
	router := newValidatedRouter(true)
	router.GET("/metrics", func(c *gin.Context) {
		c.String(http.StatusOK, "# HELP up\n")
	})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected pass-through for undocumented path, got %d", resp.Code)
	}
}

func TestOpenAPIValidatorPassThroughPayload(t *testing.T) {
	router := newValidatedRouter(true)
	router.GET("/user/:id/organizations", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json", []byte(`[{"id":"o-1","name":"org-a-b"}]`))
	})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/user/u-1/organizations", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", resp.Code, resp.Body.String())
	}
}

func TestOpenAPIValidatorAcceptsNullNames(t *testing.T) {
	router := newValidatedRouter(false)
	var got struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	}
	router.POST("/register", func(c *gin.Context) {
		if err := c.ShouldBindJSON(&got); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, validResult())
	})

	req := httptest.NewRequest(http.MethodPost, "/register",
		bytes.NewBufferString(`{"keycloakId":"kc-1","email":"x@y.com","firstName":null,"lastName":null}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 for null names, got %d body=%s", resp.Code, resp.Body.String())
	}
	if got.FirstName != "" || got.LastName != "" {
		t.Fatalf("null names should bind as empty, got %+v", got)
	}
}

func TestOpenAPIValidatorHandsBodyToHandler(t *testing.T) {
	router := newValidatedRouter(true)
	var email string
	router.POST("/register", func(c *gin.Context) {
		var body struct {
			Email string `json:"email"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		email = body.Email
		c.JSON(http.StatusCreated, validResult())
	})

	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewBufferString(`{"keycloakId":"kc-1","email":"x@y.com"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", resp.Code, resp.Body.String())
	}
	if email != "x@y.com" {
		t.Fatalf("handler read email %q after validation", email)
	}
}

func TestOpenAPIValidatorStripsMountPrefix(t *testing.T) {
	router := gin.New()
	router.Use(MustOpenAPIValidator(ValidatorOptions{BasePath: "/api/"}))
	called := false
	router.POST("/api/register", func(c *gin.Context) {
		called = true
		c.JSON(http.StatusCreated, validResult())
	})

	req := httptest.NewRequest(http.MethodPost, "/api/register", bytes.NewBufferString(`{"keycloakId":"kc-1","email":42}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest || called {
		t.Fatalf("mounted route should be checked, got %d called=%v", resp.Code, called)
	}
	if !bytes.Contains(resp.Body.Bytes(), []byte(CodeRequestInvalid)) {
		t.Fatalf("unexpected body: %s", resp.Body.String())
	}
}
