package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/worklog-auth/internal/middleware"
	"github.com/noah-isme/worklog-auth/internal/models"
	appErrors "github.com/noah-isme/worklog-auth/pkg/errors"
)

func identityFromContext(c *gin.Context) (*models.Identity, error) {
	identity := middleware.IdentityFrom(c)
	if identity == nil {
		return nil, appErrors.ErrUnauthorized
	}
	return identity, nil
}

func idParam(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, name+" must be a positive integer")
	}
	return id, nil
}
