package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/clinical-iam/pkg/errors"
	"github.com/noah-isme/clinical-iam/pkg/response"
)

// RecordAuthorizer decides access to clinical records.
type RecordAuthorizer interface {
	Authorize(ctx context.Context, principalID, permission string, ownerID *string) (bool, error)
}

// ClinicalAccess guards clinical record routes. ownerParam names the path
// parameter carrying the user id that owns the record; an empty name or value
// means the record has no owning user.
func ClinicalAccess(gate RecordAuthorizer, permission, ownerParam string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := UserClaims(c)
		if !ok {
			response.Abort(c, appErrors.ErrUnauthorized)
			return
		}

		var owner *string
		if ownerParam != "" {
			if value := c.Param(ownerParam); value != "" {
				owner = &value
			}
		}

		allowed, err := gate.Authorize(c.Request.Context(), claims.PrincipalID, permission, owner)
		if err != nil {
			response.Abort(c, err)
			return
		}
		if !allowed {
			response.Abort(c, appErrors.ErrPermissionDenied)
			return
		}
		c.Next()
	}
}
