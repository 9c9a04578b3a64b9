package middleware

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/config"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

func userApp(cfg *config.Config) *fiber.App {
	app := fiber.New()
	app.Get("/me", UserAuth(cfg), func(c *fiber.Ctx) error {
		return c.SendString(UserID(c))
	})
	return app
}

func doRequest(t *testing.T, app *fiber.App, req *testRequest) (int, string) {
	t.Helper()
	r := httptest.NewRequest(req.method, req.target, nil)
	for k, v := range req.headers {
		r.Header.Set(k, v)
	}
	resp, err := app.Test(r)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

type testRequest struct {
	method  string
	target  string
	headers map[string]string
}

func TestUserAuth_HeaderModeWithoutSecret(t *testing.T) {
	app := userApp(&config.Config{})

	status, text := doRequest(t, app, &testRequest{method: "GET", target: "/me", headers: map[string]string{"X-User-ID": "alice"}})
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "alice", text)

	status, text = doRequest(t, app, &testRequest{method: "GET", target: "/me?user_id=bob"})
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "bob", text)

	status, _ = doRequest(t, app, &testRequest{method: "GET", target: "/me"})
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestUserAuth_JWTMode(t *testing.T) {
	cfg := &config.Config{}
	cfg.Auth.JWTSecret = "s3cret"
	app := userApp(cfg)

	valid := signToken(t, "s3cret", jwt.MapClaims{"sub": "alice", "exp": time.Now().Add(time.Hour).Unix()})
	status, text := doRequest(t, app, &testRequest{method: "GET", target: "/me", headers: map[string]string{"Authorization": "Bearer " + valid}})
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "alice", text)

	status, text = doRequest(t, app, &testRequest{method: "GET", target: "/me?token=" + valid})
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "alice", text)

	tests := map[string]string{
		"wrong secret": signToken(t, "other", jwt.MapClaims{"sub": "alice"}),
		"expired":      signToken(t, "s3cret", jwt.MapClaims{"sub": "alice", "exp": time.Now().Add(-time.Hour).Unix()}),
		"no subject":   signToken(t, "s3cret", jwt.MapClaims{"role": "user"}),
		"garbage":      "not-a-token",
	}
	for name, token := range tests {
		status, _ := doRequest(t, app, &testRequest{method: "GET", target: "/me", headers: map[string]string{"Authorization": "Bearer " + token}})
		assert.Equal(t, fiber.StatusUnauthorized, status, name)
	}

	// header identity is ignored once a secret is configured
	status, _ = doRequest(t, app, &testRequest{method: "GET", target: "/me", headers: map[string]string{"X-User-ID": "alice"}})
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestAdminAuth(t *testing.T) {
	cfg := &config.Config{}
	cfg.Auth.AdminAPIKey = "key"
	app := fiber.New()
	app.Get("/admin", AdminAuth(cfg), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	status, _ := doRequest(t, app, &testRequest{method: "GET", target: "/admin", headers: map[string]string{"X-Admin-Token": "key"}})
	assert.Equal(t, fiber.StatusNoContent, status)

	status, _ = doRequest(t, app, &testRequest{method: "GET", target: "/admin", headers: map[string]string{"Authorization": "Bearer key"}})
	assert.Equal(t, fiber.StatusNoContent, status)

	status, _ = doRequest(t, app, &testRequest{method: "GET", target: "/admin", headers: map[string]string{"X-Admin-Token": "nope"}})
	assert.Equal(t, fiber.StatusUnauthorized, status)

	open := fiber.New()
	open.Get("/admin", AdminAuth(&config.Config{}), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })
	status, _ = doRequest(t, open, &testRequest{method: "GET", target: "/admin"})
	assert.Equal(t, fiber.StatusNoContent, status)
}
