package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/clinic-outcomes-api/internal/middleware"
	"github.com/noah-isme/clinic-outcomes-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// actorFromContext returns the caller id and role. Unauthenticated deployments act as an anonymous admin.
func actorFromContext(c *gin.Context) (string, models.UserRole) {
	claims := claimsFromContext(c)
	if claims == nil {
		return "", models.RoleAdmin
	}
	return claims.UserID, claims.Role
}
