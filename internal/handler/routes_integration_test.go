package handler

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/worklog-auth/internal/middleware"
	"github.com/noah-isme/worklog-auth/internal/models"
	"github.com/noah-isme/worklog-auth/internal/service"
)

func TestRoutesIntegration(t *testing.T) {
	router := buildRouter()

	t.Run("login is public", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString(`{"email":"user@example.com","password":"pw"}`))
		req.Header.Set("Content-Type", "application/json")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
	})

	t.Run("me unauthorized", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
		resp := performRequest(router, req)
		require.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("me success", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
		req.Header.Set("X-Test-User", "42")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Contains(t, resp.Body.String(), `"id":42`)
	})

	t.Run("forced logout forbidden", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, "/api/v1/users/42/logout", nil)
		req.Header.Set("X-Test-User", "7")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusForbidden, resp.Code)
	})

	t.Run("forced logout as admin", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, "/api/v1/users/42/logout", nil)
		req.Header.Set("X-Test-User", "7")
		req.Header.Set("X-Test-Role", models.RoleAdmin)
		resp := performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
	})

	t.Run("api keys require auth", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/api/v1/api-keys", nil)
		resp := performRequest(router, req)
		require.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("api key delete by name", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodDelete, "/api/v1/api-keys/name/ci", nil)
		req.Header.Set("X-Test-User", "42")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
	})
}

func buildRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	identify := func(c *gin.Context) {
		if raw := c.GetHeader("X-Test-User"); raw != "" {
			id, _ := strconv.ParseInt(raw, 10, 64)
			roles := models.NewRoleSet("user")
			if role := c.GetHeader("X-Test-Role"); role != "" {
				roles[role] = struct{}{}
			}
			middleware.SetIdentity(c, &models.Identity{UserID: id, Roles: roles, Credential: models.CredentialSession})
		}
		c.Next()
	}

	identity := &models.Identity{UserID: 42, Roles: models.NewRoleSet("user"), Credential: models.CredentialSession}
	authSvc := &authServiceMock{loginResult: &service.AuthResult{Identity: identity, Token: &models.IssuedToken{Token: "signed"}}}
	Routes{
		Auth:         NewAuthHandler(authSvc, middleware.TokenTransport{}),
		APIKeys:      NewAPIKeyHandler(&apiKeyServiceMock{}),
		Authenticate: identify,
	}.Register(router.Group("/api/v1"))

	return router
}

func performRequest(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}
