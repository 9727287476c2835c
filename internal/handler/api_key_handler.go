package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/worklog-auth/internal/dto"
	"github.com/noah-isme/worklog-auth/internal/models"
	appErrors "github.com/noah-isme/worklog-auth/pkg/errors"
	"github.com/noah-isme/worklog-auth/pkg/response"
)

type apiKeyService interface {
	List(ctx context.Context, userID int64) ([]models.APIKey, error)
	Create(ctx context.Context, userID int64, req dto.CreateAPIKeyRequest) (*models.CreatedAPIKey, error)
	Update(ctx context.Context, userID, id int64, req dto.UpdateAPIKeyRequest) (*models.APIKey, error)
	Delete(ctx context.Context, userID, id int64) error
	DeleteByName(ctx context.Context, userID int64, name string) error
}

// APIKeyHandler lets users manage their own API keys.
type APIKeyHandler struct {
	service apiKeyService
}

// NewAPIKeyHandler constructs the handler.
func NewAPIKeyHandler(svc apiKeyService) *APIKeyHandler {
	return &APIKeyHandler{service: svc}
}

// List godoc
// @Summary List API keys
// @Tags API Keys
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /api-keys [get]
func (h *APIKeyHandler) List(c *gin.Context) {
	identity, err := identityFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	keys, err := h.service.List(c.Request.Context(), identity.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, keys, nil)
}

// Create godoc
// @Summary Create API key
// @Description The plaintext key is only returned by this call
// @Tags API Keys
// @Accept json
// @Produce json
// @Param payload body dto.CreateAPIKeyRequest true "API key payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /api-keys [post]
func (h *APIKeyHandler) Create(c *gin.Context) {
	identity, err := identityFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid api key payload"))
		return
	}

	created, err := h.service.Create(c.Request.Context(), identity.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// Update godoc
// @Summary Update API key
// @Tags API Keys
// @Accept json
// @Produce json
// @Param id path int true "API key ID"
// @Param payload body dto.UpdateAPIKeyRequest true "Changes"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /api-keys/{id} [patch]
func (h *APIKeyHandler) Update(c *gin.Context) {
	identity, err := identityFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	id, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.UpdateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid api key payload"))
		return
	}

	key, err := h.service.Update(c.Request.Context(), identity.UserID, id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, key, nil)
}

// Delete godoc
// @Summary Delete API key
// @Tags API Keys
// @Produce json
// @Param id path int true "API key ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /api-keys/{id} [delete]
func (h *APIKeyHandler) Delete(c *gin.Context) {
	identity, err := identityFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	id, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.service.Delete(c.Request.Context(), identity.UserID, id); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, MessageResponse{Message: "api key deleted"}, nil)
}

// DeleteByName godoc
// @Summary Delete API key by name
// @Tags API Keys
// @Produce json
// @Param name path string true "API key name"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /api-keys/name/{name} [delete]
func (h *APIKeyHandler) DeleteByName(c *gin.Context) {
	identity, err := identityFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.service.DeleteByName(c.Request.Context(), identity.UserID, c.Param("name")); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, MessageResponse{Message: "api key deleted"}, nil)
}
