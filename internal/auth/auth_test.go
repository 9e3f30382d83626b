package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	oidc "github.com/coreos/go-oidc"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NoOpLogger for testing
type NoOpLogger struct{}

func (l *NoOpLogger) Debug(msg string, args ...any) {}
func (l *NoOpLogger) Info(msg string, args ...any)  {}
func (l *NoOpLogger) Error(msg string, args ...any) {}

// MockKeySet satisfies oidc.KeySet to bypass signature verification
type MockKeySet struct{}

func (m *MockKeySet) VerifySignature(ctx context.Context, jwtToken string) ([]byte, error) {
	parts := strings.Split(jwtToken, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed jwt")
	}
	return base64.RawURLEncoding.DecodeString(parts[1])
}

const (
	testIssuer   = "https://test-issuer"
	testClientID = "test-client"
)

func newVerifierAuth() *Auth {
	verifier := oidc.NewVerifier(testIssuer, &MockKeySet{}, &oidc.Config{
		ClientID:             testClientID,
		SkipExpiryCheck:      false,
		SupportedSigningAlgs: []string{"RS256"},
	})
	return &Auth{verifier: verifier, logger: &NoOpLogger{}}
}

func makeToken(t *testing.T, payload map[string]any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return header + "." + base64.RawURLEncoding.EncodeToString(body) + ".sig"
}

func invoke(a *Auth, req *http.Request) (echo.Context, *httptest.ResponseRecorder, error) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	handler := a.Middleware()(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	return c, rec, handler(c)
}

func TestMiddlewareBypass(t *testing.T) {
	a := &Auth{logger: &NoOpLogger{}, bypass: true}
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	c, _, err := invoke(a, req)
	require.NoError(t, err)
	assert.Equal(t, DevActorID, ActorID(c))
	assert.Equal(t, []string{"admin"}, c.Get(ActorRolesKey))
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	a := newVerifierAuth()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	_, _, err := invoke(a, req)
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestMiddlewareAcceptsValidToken(t *testing.T) {
	a := newVerifierAuth()
	token := makeToken(t, map[string]any{
		"iss":   testIssuer,
		"aud":   testClientID,
		"sub":   "user-1",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"roles": []string{"audit_steward"},
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	c, _, err := invoke(a, req)
	require.NoError(t, err)
	assert.Equal(t, "user-1", ActorID(c))
	assert.Equal(t, []string{"audit_steward"}, c.Get(ActorRolesKey))
}

func TestMiddlewareFallsBackToGroups(t *testing.T) {
	a := newVerifierAuth()
	token := makeToken(t, map[string]any{
		"iss":    testIssuer,
		"aud":    testClientID,
		"sub":    "user-2",
		"exp":    time.Now().Add(time.Hour).Unix(),
		"groups": []string{"admin"},
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	c, _, err := invoke(a, req)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin"}, c.Get(ActorRolesKey))
}

func TestMiddlewareRejectsExpiredToken(t *testing.T) {
	a := newVerifierAuth()
	token := makeToken(t, map[string]any{
		"iss": testIssuer,
		"aud": testClientID,
		"sub": "user-3",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	_, _, err := invoke(a, req)
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestRequireRoles(t *testing.T) {
	e := echo.New()
	handler := RequireRoles("admin", "audit_steward")(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	run := func(roles []string) error {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		c := e.NewContext(req, httptest.NewRecorder())
		if roles != nil {
			c.Set(ActorRolesKey, roles)
		}
		return handler(c)
	}

	assert.NoError(t, run([]string{"audit_steward"}))
	assert.NoError(t, run([]string{"viewer", "admin"}))

	err := run([]string{"viewer"})
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusForbidden, httpErr.Code)

	err = run(nil)
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusForbidden, httpErr.Code)
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, bearerToken(req))

	req.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, bearerToken(req))

	req.Header.Set("Authorization", "Bearer tok-123")
	assert.Equal(t, "tok-123", bearerToken(req))
}
