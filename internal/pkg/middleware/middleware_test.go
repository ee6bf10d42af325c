package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ManuelReschke/HostPayouts/docs"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func okHandler(c *fiber.Ctx) error {
	return c.SendString("ok")
}

func TestAdminAPIKeyAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	app := fiber.New()
	app.Get("/admin", AdminAPIKeyAuth(string(hash)), func(c *fiber.Ctx) error {
		assert.Equal(t, true, c.Locals(KeyAdminAuthenticated))
		return c.SendString("ok")
	})

	tests := []struct {
		name   string
		header string
		value  string
		status int
	}{
		{"missing", "", "", fiber.StatusUnauthorized},
		{"wrong key", "X-API-Key", "nope", fiber.StatusUnauthorized},
		{"x-api-key", "X-API-Key", "s3cret", fiber.StatusOK},
		{"bearer", "Authorization", "Bearer s3cret", fiber.StatusOK},
		{"bearer lowercase", "Authorization", "bearer  s3cret ", fiber.StatusOK},
		{"basic is not accepted", "Authorization", "Basic s3cret", fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestAdminAPIKeyAuth_DisabledWithoutHash(t *testing.T) {
	app := fiber.New()
	app.Get("/admin", AdminAPIKeyAuth(""), okHandler)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("X-API-Key", "anything")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestHashAPIKey(t *testing.T) {
	hash, err := HashAPIKey("operator-key")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("operator-key")))
}

func TestOpenAPIRequestValidator(t *testing.T) {
	doc, err := docs.Load(context.Background())
	require.NoError(t, err)
	validator, err := OpenAPIRequestValidator(doc)
	require.NoError(t, err)

	app := fiber.New()
	app.Use(validator)
	app.Get("/api/v1/admin/batches", okHandler)
	app.Get("/api/v1/admin/batches/:id", okHandler)
	app.Put("/api/v1/admin/settings", okHandler)
	app.Get("/not-described", okHandler)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		status int
	}{
		{"valid query", http.MethodGet, "/api/v1/admin/batches?limit=10&status=completed", "", fiber.StatusOK},
		{"limit too large", http.MethodGet, "/api/v1/admin/batches?limit=5000", "", fiber.StatusBadRequest},
		{"unknown status", http.MethodGet, "/api/v1/admin/batches?status=done", "", fiber.StatusBadRequest},
		{"non numeric id", http.MethodGet, "/api/v1/admin/batches/abc", "", fiber.StatusBadRequest},
		{"valid settings", http.MethodPut, "/api/v1/admin/settings", `{"settlement_delay_days": 3}`, fiber.StatusOK},
		{"settings out of range", http.MethodPut, "/api/v1/admin/settings", `{"settlement_window_days": 0}`, fiber.StatusBadRequest},
		{"unknown setting", http.MethodPut, "/api/v1/admin/settings", `{"payout_everything": true}`, fiber.StatusBadRequest},
		{"undescribed route", http.MethodGet, "/not-described?limit=5000", "", fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req := httptest.NewRequest(tt.method, tt.target, body)
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}
