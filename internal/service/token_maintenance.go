package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/clinical-iam/internal/models"
)

// TokenMaintenance purges expired refresh tokens of both principal kinds.
type TokenMaintenance struct {
	users    *TokenService[models.UserPrincipal]
	admins   *TokenService[models.AdminPrincipal]
	recorder eventRecorder
	logger   *zap.Logger
}

// NewTokenMaintenance constructs a TokenMaintenance.
func NewTokenMaintenance(users *TokenService[models.UserPrincipal], admins *TokenService[models.AdminPrincipal], recorder eventRecorder, logger *zap.Logger) *TokenMaintenance {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenMaintenance{users: users, admins: admins, recorder: recorder, logger: logger}
}

// PurgeExpired removes expired tokens from both stores. It attempts both even
// when the first fails.
func (m *TokenMaintenance) PurgeExpired(ctx context.Context) (userTokens, adminTokens int64, err error) {
	userTokens, userErr := m.users.PurgeExpired(ctx)
	adminTokens, adminErr := m.admins.PurgeExpired(ctx)
	if userErr != nil {
		return userTokens, adminTokens, userErr
	}
	if adminErr != nil {
		return userTokens, adminTokens, adminErr
	}

	m.logger.Info("expired refresh tokens purged", zap.Int64("user_tokens", userTokens), zap.Int64("admin_tokens", adminTokens))
	if userTokens+adminTokens > 0 {
		recordQuietly(ctx, m.recorder, m.logger, RecordRequest{
			Kind:     models.RecordAudit,
			Action:   models.AuditActionTokenPurge,
			Resource: fmt.Sprintf("refresh_tokens:%d admin_refresh_tokens:%d", userTokens, adminTokens),
		})
	}
	return userTokens, adminTokens, nil
}
