package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/worklog-auth/internal/models"
	appErrors "github.com/noah-isme/worklog-auth/pkg/errors"
	"github.com/noah-isme/worklog-auth/pkg/response"
)

// RequireRoles admits identities holding at least one of roles.
func RequireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := IdentityFrom(c)
		if identity == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if !models.HasAnyRole(identity, roles...) {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
