package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/hostel-permit-api/internal/models"
	appErrors "github.com/noah-isme/hostel-permit-api/pkg/errors"
	"github.com/noah-isme/hostel-permit-api/pkg/response"
)

// RequireRoles admits callers holding one of roles. Admins always pass.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles)+1)
	allowed[models.RoleAdmin] = struct{}{}
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "role "+string(claims.Role)+" may not use this endpoint"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// ApproverRoles lists every account role that takes part in routing.
var ApproverRoles = []models.UserRole{models.RoleFloorIncharge, models.RoleHostelIncharge, models.RoleWarden}
