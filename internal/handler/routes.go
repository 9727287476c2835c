package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/worklog-auth/internal/middleware"
	"github.com/noah-isme/worklog-auth/internal/models"
)

// Routes groups the handlers mounted under the API prefix.
type Routes struct {
	Auth    *AuthHandler
	APIKeys *APIKeyHandler
	// Authenticate attaches the caller's identity; see middleware.Authenticate.
	Authenticate gin.HandlerFunc
}

// Register mounts every API route on group.
func (r Routes) Register(group *gin.RouterGroup) {
	group.POST("/auth/login", r.Auth.Login)

	secured := group.Group("", r.Authenticate, middleware.RequireAuth())
	secured.POST("/auth/logout", r.Auth.Logout)
	secured.GET("/auth/me", r.Auth.Me)
	secured.POST("/users/:id/logout", middleware.RequireRoles(models.RoleAdmin), r.Auth.LogoutUser)

	keys := secured.Group("/api-keys")
	keys.GET("", r.APIKeys.List)
	keys.POST("", r.APIKeys.Create)
	keys.PATCH("/:id", r.APIKeys.Update)
	keys.DELETE("/:id", r.APIKeys.Delete)
	keys.DELETE("/name/:name", r.APIKeys.DeleteByName)
}
