package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/clinical-iam/internal/middleware"
	"github.com/noah-isme/clinical-iam/internal/models"
	appErrors "github.com/noah-isme/clinical-iam/pkg/errors"
	"github.com/noah-isme/clinical-iam/pkg/response"
)

func requestMeta(c *gin.Context) models.RequestMeta {
	return models.RequestMeta{IP: c.ClientIP(), Device: c.GetHeader("User-Agent")}
}

// currentUser writes 401 and returns false when no user is authenticated.
func currentUser(c *gin.Context) (*models.JWTClaims, bool) {
	claims, ok := middleware.UserClaims(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
	}
	return claims, ok
}

func currentAdmin(c *gin.Context) (*models.JWTClaims, bool) {
	claims, ok := middleware.AdminClaims(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
	}
	return claims, ok
}

func bindJSON(c *gin.Context, dest interface{}, message string) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message))
		return false
	}
	return true
}
