package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/clinical-iam/internal/models"
	"github.com/noah-isme/clinical-iam/internal/service"
)

// EventRecorder appends audit rows.
type EventRecorder interface {
	Record(ctx context.Context, req service.RecordRequest) error
}

// AdminAudit records an audit row after a successful admin surface request.
// Mutations are audited by the services themselves; this covers admin reads.
func AdminAudit(recorder EventRecorder, logger *zap.Logger, action string) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Status() >= 400 {
			return
		}
		claims, ok := AdminClaims(c)
		if !ok {
			return
		}

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		err := recorder.Record(c.Request.Context(), service.RecordRequest{
			Kind:     models.RecordAudit,
			Action:   action,
			Resource: "admin_user:" + claims.PrincipalID + "/" + c.Request.Method + " " + route,
			IP:       c.ClientIP(),
		})
		if err != nil {
			logger.Warn("failed to audit admin request", zap.String("route", route), zap.Error(err))
		}
	}
}
