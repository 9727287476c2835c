package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/worklog-auth/internal/middleware"
	"github.com/noah-isme/worklog-auth/internal/models"
	"github.com/noah-isme/worklog-auth/internal/service"
	appErrors "github.com/noah-isme/worklog-auth/pkg/errors"
	"github.com/noah-isme/worklog-auth/pkg/response"
)

type authService interface {
	LoginWithPassword(ctx context.Context, req models.LoginRequest) (*service.AuthResult, error)
	Logout(ctx context.Context, caller *models.Identity, target *int64) (bool, error)
}

// MessageResponse is returned by endpoints without a resource to show.
type MessageResponse struct {
	Message string `json:"message"`
}

// AuthHandler wires HTTP endpoints to the auth service.
type AuthHandler struct {
	service authService
	tokens  middleware.TokenTransport
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(svc authService, tokens middleware.TokenTransport) *AuthHandler {
	return &AuthHandler{service: svc, tokens: tokens}
}

// Login godoc
// @Summary Authenticate user
// @Description Check email and password, open a session and return the access token in the X-Set-Auth-Token header and token cookie
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}
	req.IP = middleware.ClientIPFrom(c)
	req.UserAgent = c.GetHeader("User-Agent")

	res, err := h.service.LoginWithPassword(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.tokens.Issue(c, res.Token.Token)
	middleware.SetIdentity(c, res.Identity)
	response.JSON(c, http.StatusOK, models.LoginResponse{Message: "logged in", User: res.Identity}, nil)
}

// Logout godoc
// @Summary Logout current session
// @Description End the session behind the current token and clear the client token
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	identity, err := identityFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	clearToken, err := h.service.Logout(c.Request.Context(), identity, nil)
	if err != nil {
		response.Error(c, err)
		return
	}
	if clearToken {
		h.tokens.Clear(c)
	}

	response.JSON(c, http.StatusOK, MessageResponse{Message: "logged out"}, nil)
}

// LogoutUser godoc
// @Summary Logout every session of a user
// @Description Delete all sessions of the user and reject every token issued to them so far
// @Tags Authentication
// @Produce json
// @Param id path int true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /users/{id}/logout [post]
func (h *AuthHandler) LogoutUser(c *gin.Context) {
	identity, err := identityFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	target, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}

	clearToken, err := h.service.Logout(c.Request.Context(), identity, &target)
	if err != nil {
		response.Error(c, err)
		return
	}
	if clearToken {
		h.tokens.Clear(c)
	}

	response.JSON(c, http.StatusOK, MessageResponse{Message: "user logged out"}, nil)
}

// Me godoc
// @Summary Current identity
// @Description Return the identity behind the current token or API key
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	identity, err := identityFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, identity, nil)
}
