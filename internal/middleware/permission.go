package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/clinical-iam/pkg/errors"
	"github.com/noah-isme/clinical-iam/pkg/response"
)

// PermissionChecker decides route level permissions against live account
// state rather than the snapshot in the access token.
type PermissionChecker interface {
	Permitted(ctx context.Context, principalID, permission string) (bool, error)
}

// RequirePermission allows the request only when the authenticated user is
// APPROVED and currently holds permission.
func RequirePermission(checker PermissionChecker, permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := UserClaims(c)
		if !ok {
			response.Abort(c, appErrors.ErrUnauthorized)
			return
		}

		allowed, err := checker.Permitted(c.Request.Context(), claims.PrincipalID, permission)
		if err != nil {
			response.Abort(c, err)
			return
		}
		if !allowed {
			response.Abort(c, appErrors.Clone(appErrors.ErrPermissionDenied, "missing permission "+permission))
			return
		}
		c.Next()
	}
}
