package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/clinical-iam/internal/models"
	appErrors "github.com/noah-isme/clinical-iam/pkg/errors"
	"github.com/noah-isme/clinical-iam/pkg/logger"
	"github.com/noah-isme/clinical-iam/pkg/response"
)

// ContextUserKey is the gin context key storing end-user JWT claims.
const ContextUserKey = "currentUser"

// ContextAdminKey is the gin context key storing operator JWT claims.
const ContextAdminKey = "currentAdmin"

// TokenValidator verifies access tokens for one surface.
type TokenValidator interface {
	ValidateAccessToken(token, kind string) (*models.JWTClaims, error)
}

// JWT protects user surface routes by requiring a valid user access token.
func JWT(validator TokenValidator) gin.HandlerFunc {
	return authenticate(validator, models.KindUser, ContextUserKey)
}

// AdminJWT protects admin surface routes. User tokens are rejected here.
func AdminJWT(validator TokenValidator) gin.HandlerFunc {
	return authenticate(validator, models.KindAdmin, ContextAdminKey)
}

func authenticate(validator TokenValidator, kind, key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			response.Abort(c, err)
			return
		}

		claims, err := validator.ValidateAccessToken(token, kind)
		if err != nil {
			response.Abort(c, err)
			return
		}

		c.Set(key, claims)
		c.Set(logger.PrincipalFields, []zap.Field{
			zap.String("principal_id", claims.PrincipalID),
			zap.String("principal_kind", claims.Kind),
		})
		c.Next()
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", appErrors.ErrUnauthorized
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}

// UserClaims returns the authenticated end user, if any.
func UserClaims(c *gin.Context) (*models.JWTClaims, bool) {
	return claimsAt(c, ContextUserKey)
}

// AdminClaims returns the authenticated operator, if any.
func AdminClaims(c *gin.Context) (*models.JWTClaims, bool) {
	return claimsAt(c, ContextAdminKey)
}

func claimsAt(c *gin.Context, key string) (*models.JWTClaims, bool) {
	value, ok := c.Get(key)
	if !ok {
		return nil, false
	}
	claims, ok := value.(*models.JWTClaims)
	return claims, ok && claims != nil
}
