package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/clinical-iam/internal/models"
	"github.com/noah-isme/clinical-iam/internal/repository"
	appErrors "github.com/noah-isme/clinical-iam/pkg/errors"
)

const (
	refreshTokenBytes = 32
	tokenIssueRetries = 3
)

type tokenRepository[K models.PrincipalKind] interface {
	Create(ctx context.Context, token *models.RefreshToken[K]) error
	Find(ctx context.Context, token string) (*models.RefreshToken[K], error)
	Delete(ctx context.Context, token, principalID string) (bool, error)
	DeleteExpired(ctx context.Context, token string) error
	DeleteByPrincipal(ctx context.Context, principalID string) (int64, error)
	CountActive(ctx context.Context, principalID string, now time.Time) (int, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
	Replace(ctx context.Context, oldToken string, fresh *models.RefreshToken[K], now time.Time) (*models.RefreshToken[K], error)
}

// TokenConfig configures a TokenService.
type TokenConfig struct {
	TTL          time.Duration
	StoreTimeout time.Duration
}

// TokenService manages refresh tokens for principals of kind K. Services for
// different kinds share no storage, so a token issued by one never validates
// against another.
type TokenService[K models.PrincipalKind] struct {
	repo     tokenRepository[K]
	cfg      TokenConfig
	metrics  *MetricsService
	logger   *zap.Logger
	now      func() time.Time
	generate func() (string, error)
}

// NewTokenService constructs a TokenService for kind K.
func NewTokenService[K models.PrincipalKind](repo tokenRepository[K], cfg TokenConfig, metrics *MetricsService, logger *zap.Logger) *TokenService[K] {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	return &TokenService[K]{
		repo:     repo,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
		generate: generateOpaqueToken,
	}
}

// Kind names the principal kind served.
func (s *TokenService[K]) Kind() string {
	var kind K
	return kind.Kind()
}

// Issue stores a new token for principalID valid for ttl, or the configured
// TTL when ttl is not positive. A value collision is retried with a fresh value.
func (s *TokenService[K]) Issue(ctx context.Context, principalID string, ttl time.Duration) (*models.IssuedToken, error) {
	if ttl <= 0 {
		ttl = s.cfg.TTL
	}
	storeCtx, cancel := withStoreTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	for attempt := 0; attempt < tokenIssueRetries; attempt++ {
		token, err := s.newToken(principalID, ttl)
		if err != nil {
			return nil, err
		}
		err = s.repo.Create(storeCtx, token)
		if err == nil {
			s.observe("issue", "ok")
			return &models.IssuedToken{Token: token.Token, ExpiresAt: token.ExpiresAt, PrincipalID: principalID}, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			s.observe("issue", "error")
			return nil, storeError(err, "failed to persist refresh token")
		}
	}
	s.observe("issue", "collision")
	return nil, appErrors.Clone(appErrors.ErrInternal, "could not allocate a unique refresh token")
}

// Validate returns the principal owning token. An expired token is deleted
// before TokenExpired is returned.
func (s *TokenService[K]) Validate(ctx context.Context, token string) (string, error) {
	storeCtx, cancel := withStoreTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	stored, err := s.repo.Find(storeCtx, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.observe("validate", "not_found")
			return "", appErrors.Clone(appErrors.ErrTokenNotFound, "")
		}
		return "", storeError(err, "failed to load refresh token")
	}

	if stored.Expired(s.now()) {
		if err := s.repo.DeleteExpired(storeCtx, token); err != nil {
			s.logger.Warn("failed to delete expired refresh token", zap.String("kind", s.Kind()), zap.Error(err))
		}
		s.observe("validate", "expired")
		return "", appErrors.Clone(appErrors.ErrTokenExpired, "")
	}
	s.observe("validate", "ok")
	return stored.PrincipalID, nil
}

// Rotate consumes oldToken and issues its replacement in one transaction.
// Two concurrent rotations of the same token never both succeed; the loser
// gets TokenNotFound. If rotation fails the old token either stays the only
// valid token or, when it was consumed, the principal is logged out.
func (s *TokenService[K]) Rotate(ctx context.Context, oldToken string) (*models.IssuedToken, error) {
	storeCtx, cancel := withStoreTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	for attempt := 0; attempt < tokenIssueRetries; attempt++ {
		fresh, err := s.newToken("", s.cfg.TTL)
		if err != nil {
			return nil, err
		}
		_, err = s.repo.Replace(storeCtx, oldToken, fresh, s.now())
		switch {
		case err == nil:
			s.observe("rotate", "ok")
			return &models.IssuedToken{Token: fresh.Token, ExpiresAt: fresh.ExpiresAt, PrincipalID: fresh.PrincipalID}, nil
		case errors.Is(err, sql.ErrNoRows):
			s.observe("rotate", "not_found")
			return nil, appErrors.Clone(appErrors.ErrTokenNotFound, "")
		case errors.Is(err, repository.ErrExpired):
			s.observe("rotate", "expired")
			return nil, appErrors.Clone(appErrors.ErrTokenExpired, "")
		case errors.Is(err, repository.ErrDuplicate):
			continue
		default:
			s.observe("rotate", "error")
			return nil, storeError(err, "failed to rotate refresh token")
		}
	}
	s.observe("rotate", "collision")
	return nil, appErrors.Clone(appErrors.ErrInternal, "could not allocate a unique refresh token")
}

// Revoke deletes one token held by principalID.
func (s *TokenService[K]) Revoke(ctx context.Context, token, principalID string) error {
	storeCtx, cancel := withStoreTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	removed, err := s.repo.Delete(storeCtx, token, principalID)
	if err != nil {
		return storeError(err, "failed to revoke refresh token")
	}
	if !removed {
		s.observe("revoke", "not_found")
		return appErrors.Clone(appErrors.ErrTokenNotFound, "")
	}
	s.observe("revoke", "ok")
	return nil
}

// RevokeAll deletes every token of principalID and returns how many went.
func (s *TokenService[K]) RevokeAll(ctx context.Context, principalID string) (int64, error) {
	storeCtx, cancel := withStoreTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	removed, err := s.repo.DeleteByPrincipal(storeCtx, principalID)
	if err != nil {
		s.observe("revoke_all", "error")
		return 0, storeError(err, "failed to revoke refresh tokens")
	}
	s.observe("revoke_all", "ok")
	return removed, nil
}

// CountActive returns how many unexpired refresh tokens principalID holds.
func (s *TokenService[K]) CountActive(ctx context.Context, principalID string) (int, error) {
	storeCtx, cancel := withStoreTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	total, err := s.repo.CountActive(storeCtx, principalID, s.now())
	if err != nil {
		s.observe("count", "error")
		return 0, storeError(err, "failed to count refresh tokens")
	}
	return total, nil
}

// PurgeExpired eagerly removes every expired token.
func (s *TokenService[K]) PurgeExpired(ctx context.Context) (int64, error) {
	storeCtx, cancel := withStoreTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	removed, err := s.repo.PurgeExpired(storeCtx, s.now())
	if err != nil {
		return 0, storeError(err, "failed to purge refresh tokens")
	}
	return removed, nil
}

func (s *TokenService[K]) newToken(principalID string, ttl time.Duration) (*models.RefreshToken[K], error) {
	value, err := s.generate()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}
	now := s.now().UTC()
	return &models.RefreshToken[K]{
		PrincipalID: principalID,
		Token:       value,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}, nil
}

func (s *TokenService[K]) observe(op, outcome string) {
	s.metrics.RecordTokenOperation(s.Kind(), op, outcome)
}

func generateOpaqueToken() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
