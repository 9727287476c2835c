package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/worklog-auth/internal/middleware"
	"github.com/noah-isme/worklog-auth/internal/models"
	"github.com/noah-isme/worklog-auth/internal/service"
	appErrors "github.com/noah-isme/worklog-auth/pkg/errors"
)

type authServiceMock struct {
	loginReq    models.LoginRequest
	loginResult *service.AuthResult
	loginErr    error

	logoutCaller *models.Identity
	logoutTarget *int64
	logoutClear  bool
	logoutErr    error
}

func (m *authServiceMock) LoginWithPassword(ctx context.Context, req models.LoginRequest) (*service.AuthResult, error) {
	m.loginReq = req
	return m.loginResult, m.loginErr
}

func (m *authServiceMock) Logout(ctx context.Context, caller *models.Identity, target *int64) (bool, error) {
	m.logoutCaller = caller
	m.logoutTarget = target
	return m.logoutClear, m.logoutErr
}

func jsonRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestAuthHandlerLoginSetsToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	identity := &models.Identity{UserID: 42, Roles: models.NewRoleSet("user"), Credential: models.CredentialSession}
	svc := &authServiceMock{loginResult: &service.AuthResult{Identity: identity, Token: &models.IssuedToken{Token: "signed"}}}
	h := NewAuthHandler(svc, middleware.TokenTransport{UseCookies: true})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest(t, http.MethodPost, "/auth/login", map[string]string{"email": "user@example.com", "password": "pw"})
	c.Request.Header.Set("User-Agent", "test-agent")
	c.Set(middleware.ContextClientIPKey, "10.0.0.5")

	h.Login(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "signed", w.Header().Get(middleware.HeaderSetAuthToken))
	assert.Contains(t, w.Header().Get("Set-Cookie"), "token=signed")
	assert.Equal(t, "10.0.0.5", svc.loginReq.IP)
	assert.Equal(t, "test-agent", svc.loginReq.UserAgent)
	assert.Equal(t, "user@example.com", svc.loginReq.Email)

	var body struct {
		Data models.LoginResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(42), body.Data.User.UserID)
	assert.Equal(t, []string{"user"}, body.Data.User.Roles.Names())
	assert.Same(t, identity, middleware.IdentityFrom(c))
}

func TestAuthHandlerLoginCooldown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &authServiceMock{loginErr: appErrors.Cooldown(60 * time.Second)}
	h := NewAuthHandler(svc, middleware.TokenTransport{UseCookies: true})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest(t, http.MethodPost, "/auth/login", map[string]string{"email": "user@example.com", "password": "pw"})

	h.Login(c)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Empty(t, w.Header().Get(middleware.HeaderSetAuthToken))
}

func TestAuthHandlerLoginInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewAuthHandler(&authServiceMock{}, middleware.TokenTransport{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader([]byte(`{`)))
	c.Request.Header.Set("Content-Type", "application/json")

	h.Login(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthHandlerLogoutClearsToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &authServiceMock{logoutClear: true}
	h := NewAuthHandler(svc, middleware.TokenTransport{UseCookies: true})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	caller := &models.Identity{UserID: 42, SessionID: 9}
	c.Set(middleware.ContextUserKey, caller)

	h.Logout(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Same(t, caller, svc.logoutCaller)
	assert.Nil(t, svc.logoutTarget)
	assert.Equal(t, service.LogoutSentinel, w.Header().Get(middleware.HeaderSetAuthToken))
	assert.Contains(t, w.Header().Get("Set-Cookie"), "Max-Age=0")
}

func TestAuthHandlerLogoutRequiresIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewAuthHandler(&authServiceMock{}, middleware.TokenTransport{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)

	h.Logout(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandlerLogoutUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &authServiceMock{}
	h := NewAuthHandler(svc, middleware.TokenTransport{UseCookies: true})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/users/42/logout", nil)
	c.Params = gin.Params{{Key: "id", Value: "42"}}
	c.Set(middleware.ContextUserKey, &models.Identity{UserID: 1, Roles: models.NewRoleSet(models.RoleAdmin)})

	h.LogoutUser(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.logoutTarget)
	assert.Equal(t, int64(42), *svc.logoutTarget)
	assert.Empty(t, w.Header().Get(middleware.HeaderSetAuthToken))
}

func TestAuthHandlerLogoutUserBadID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewAuthHandler(&authServiceMock{}, middleware.TokenTransport{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/users/abc/logout", nil)
	c.Params = gin.Params{{Key: "id", Value: "abc"}}
	c.Set(middleware.ContextUserKey, &models.Identity{UserID: 1})

	h.LogoutUser(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthHandlerMe(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewAuthHandler(&authServiceMock{}, middleware.TokenTransport{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	c.Set(middleware.ContextUserKey, &models.Identity{UserID: 42, APIKeyID: 3, Roles: models.NewRoleSet("user"), Credential: models.CredentialAPIKey})

	h.Me(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"id":42,"api_key_id":3,"roles":["user"],"email_verified":false,"credential":"api_key"}}`, w.Body.String())
}
