package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/hostel-permit-api/internal/middleware"
	"github.com/noah-isme/hostel-permit-api/internal/models"
	appErrors "github.com/noah-isme/hostel-permit-api/pkg/errors"
	"github.com/noah-isme/hostel-permit-api/pkg/response"
)

// caller returns the authenticated claims or writes 401.
func caller(c *gin.Context) (*models.JWTClaims, bool) {
	claims, ok := middleware.Claims(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, false
	}
	return claims, true
}
