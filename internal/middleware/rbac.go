package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/fix-delete-modules/internal/models"
	appErrors "github.com/noah-isme/fix-delete-modules/pkg/errors"
	"github.com/noah-isme/fix-delete-modules/pkg/response"
)

// RequireRoles enforces that the authenticated operator holds one of the roles.
func RequireRoles(roles ...models.OperatorRole) gin.HandlerFunc {
	allowed := make(map[models.OperatorRole]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
