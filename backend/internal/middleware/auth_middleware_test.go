package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/user/agentdesk/backend/internal/models"
)

type keyTable map[string]models.Agent

func (k keyTable) Authenticate(key string) (models.Agent, error) {
	a, ok := k[key]
	if !ok {
		return models.Agent{}, &models.AuthError{Reason: models.AuthInvalidKey}
	}
	if a.Status == models.AgentSuspended {
		return models.Agent{}, &models.AuthError{Reason: models.AuthSuspended}
	}
	return a, nil
}

func TestAPIKey(t *testing.T) {
	good := models.Agent{ID: uuid.New(), Status: models.AgentActive}
	other := models.Agent{ID: uuid.New(), Status: models.AgentActive}
	keys := keyTable{"good": good, "other": other, "frozen": {ID: uuid.New(), Status: models.AgentSuspended}}

	app := fiber.New()
	app.Get("/", APIKey(keys), func(c *fiber.Ctx) error {
		a, _ := AgentFrom(c)
		return c.SendString(a.ID.String())
	})

	tests := []struct {
		name   string
		apiKey string
		auth   string
		status int
		agent  uuid.UUID
	}{
		{"x-api-key", "good", "", fiber.StatusOK, good.ID},
		{"bearer", "", "Bearer good", fiber.StatusOK, good.ID},
		{"x-api-key wins over bearer", "good", "Bearer other", fiber.StatusOK, good.ID},
		{"unknown key", "nope", "", fiber.StatusUnauthorized, uuid.Nil},
		{"suspended", "frozen", "", fiber.StatusUnauthorized, uuid.Nil},
		{"malformed bearer", "", "Token good", fiber.StatusUnauthorized, uuid.Nil},
		{"no credentials", "", "", fiber.StatusUnauthorized, uuid.Nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.apiKey != "" {
				req.Header.Set("x-api-key", tt.apiKey)
			}
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			resp, err := app.Test(req, -1)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if tt.agent != uuid.Nil {
				body, _ := io.ReadAll(resp.Body)
				if got := string(body); got != tt.agent.String() {
					t.Fatalf("agent = %s, want %s", got, tt.agent)
				}
			}
		})
	}
}

func TestAdminOnly(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		auth   string
		status int
	}{
		{"disabled without token", "", "Bearer anything", fiber.StatusNotFound},
		{"missing header", "s3cret", "", fiber.StatusUnauthorized},
		{"wrong token", "s3cret", "Bearer guess", fiber.StatusUnauthorized},
		{"correct token", "s3cret", "Bearer s3cret", fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/admin", AdminOnly(tt.token), func(c *fiber.Ctx) error {
				return c.SendStatus(fiber.StatusOK)
			})
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			resp, err := app.Test(req, -1)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}
}
