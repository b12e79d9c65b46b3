package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/noah-isme/clinical-iam/internal/models"
	appErrors "github.com/noah-isme/clinical-iam/pkg/errors"
)

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
}

type authAdminRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.AdminUser, error)
	FindByID(ctx context.Context, id string) (*models.AdminUser, error)
}

type accountSuspender interface {
	Suspend(ctx context.Context, userID, approverID string) (*models.User, error)
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	AccessTokenSecret      string
	Issuer                 string
	AccessTokenExpiry      time.Duration
	AdminAccessTokenExpiry time.Duration
	StoreTimeout           time.Duration
}

// AuthDeps groups the collaborators of AuthService.
type AuthDeps struct {
	Users       authUserRepository
	Admins      authAdminRepository
	Roles       roleFinder
	Credentials *CredentialStore
	Permissions permissionSource
	Accounts    accountSuspender
	UserTokens  *TokenService[models.UserPrincipal]
	AdminTokens *TokenService[models.AdminPrincipal]
	Recorder    eventRecorder
	Alerts      alertNotifier
	Metrics     *MetricsService
	Validator   *validator.Validate
	Logger      *zap.Logger
}

// AuthService composes credentials, account status, permissions and refresh
// tokens into the login, refresh and logout flows of both surfaces.
type AuthService struct {
	AuthDeps
	config AuthConfig
	now    func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(deps AuthDeps, config AuthConfig) *AuthService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if deps.Credentials == nil {
		deps.Credentials = NewCredentialStore(0)
	}
	if config.AccessTokenExpiry <= 0 {
		config.AccessTokenExpiry = 15 * time.Minute
	}
	if config.AdminAccessTokenExpiry <= 0 {
		config.AdminAccessTokenExpiry = config.AccessTokenExpiry
	}
	return &AuthService{AuthDeps: deps, config: config, now: time.Now}
}

// Login authenticates an end user. Unknown email, wrong password and an
// account that is not APPROVED all fail without issuing anything.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.Validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.findUserByEmail(ctx, req.Email)
	if err != nil {
		s.Metrics.RecordLogin(models.KindUser, "error")
		return nil, err
	}

	hash := ""
	if user != nil {
		hash = user.PasswordHash
	}
	if !s.Credentials.Verify(hash, req.Password) {
		s.Metrics.RecordLogin(models.KindUser, "invalid_credentials")
		if user != nil {
			s.recordActivity(ctx, user.ID, models.ActivityLoginFailed, "auth", models.RequestMeta{IP: req.IP, Device: req.Device})
		}
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	if user.Status != models.AccountApproved {
		s.Metrics.RecordLogin(models.KindUser, "not_approved")
		return nil, appErrors.Clone(appErrors.ErrAccountNotApproved, fmt.Sprintf("account is %s", strings.ToLower(string(user.Status))))
	}

	session, err := s.userSession(ctx, user)
	if err != nil {
		s.Metrics.RecordLogin(models.KindUser, "error")
		return nil, err
	}

	refresh, err := s.UserTokens.Issue(ctx, user.ID, 0)
	if err != nil {
		s.Metrics.RecordLogin(models.KindUser, "error")
		return nil, err
	}

	s.Metrics.RecordLogin(models.KindUser, "success")
	s.recordActivity(ctx, user.ID, models.ActivityLogin, "auth", models.RequestMeta{IP: req.IP, Device: req.Device})
	return session.response(refresh), nil
}

// AdminLogin authenticates an operator against the admin store only.
func (s *AuthService) AdminLogin(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.Validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	storeCtx, cancel := withStoreTimeout(ctx, s.config.StoreTimeout)
	admin, err := s.Admins.FindByEmail(storeCtx, normalizeEmail(req.Email))
	cancel()
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.Metrics.RecordLogin(models.KindAdmin, "error")
		return nil, storeError(err, "failed to fetch admin")
	}

	hash := ""
	if admin != nil {
		hash = admin.PasswordHash
	}
	if !s.Credentials.Verify(hash, req.Password) {
		s.Metrics.RecordLogin(models.KindAdmin, "invalid_credentials")
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	session, err := s.adminSession(admin)
	if err != nil {
		s.Metrics.RecordLogin(models.KindAdmin, "error")
		return nil, err
	}
	refresh, err := s.AdminTokens.Issue(ctx, admin.ID, 0)
	if err != nil {
		s.Metrics.RecordLogin(models.KindAdmin, "error")
		return nil, err
	}

	s.Metrics.RecordLogin(models.KindAdmin, "success")
	s.recordAdminAudit(ctx, admin.ID, models.AuditActionAdminLogin, "", req.IP)
	return session.response(refresh), nil
}

// Refresh rotates a user refresh token and mints a new access token. The
// account must still be APPROVED; otherwise every token of the user is
// revoked and the call fails.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshTokenRequest) (*models.LoginResponse, error) {
	if err := s.Validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	refresh, err := s.UserTokens.Rotate(ctx, req.RefreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.findUserByID(ctx, refresh.PrincipalID)
	if err != nil {
		return nil, err
	}
	if user == nil || user.Status != models.AccountApproved {
		if _, revokeErr := s.UserTokens.RevokeAll(ctx, refresh.PrincipalID); revokeErr != nil {
			s.Logger.Warn("failed to revoke tokens of unapproved account", zap.String("user_id", refresh.PrincipalID), zap.Error(revokeErr))
		}
		return nil, appErrors.Clone(appErrors.ErrAccountNotApproved, "")
	}

	session, err := s.userSession(ctx, user)
	if err != nil {
		return nil, err
	}

	s.recordActivity(ctx, user.ID, models.ActivityRefresh, "auth", models.RequestMeta{IP: req.IP, Device: req.Device})
	return session.response(refresh), nil
}

// AdminRefresh rotates an admin refresh token.
func (s *AuthService) AdminRefresh(ctx context.Context, req models.RefreshTokenRequest) (*models.LoginResponse, error) {
	if err := s.Validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	refresh, err := s.AdminTokens.Rotate(ctx, req.RefreshToken)
	if err != nil {
		return nil, err
	}

	storeCtx, cancel := withStoreTimeout(ctx, s.config.StoreTimeout)
	admin, err := s.Admins.FindByID(storeCtx, refresh.PrincipalID)
	cancel()
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "admin no longer exists")
		}
		return nil, storeError(err, "failed to load admin")
	}

	session, err := s.adminSession(admin)
	if err != nil {
		return nil, err
	}
	s.recordAdminAudit(ctx, admin.ID, models.AuditActionAdminRefresh, "", req.IP)
	return session.response(refresh), nil
}

// Logout revokes a single user refresh token held by userID.
func (s *AuthService) Logout(ctx context.Context, userID, refreshToken string, meta models.RequestMeta) error {
	if err := s.UserTokens.Revoke(ctx, refreshToken, userID); err != nil {
		return err
	}
	s.recordActivity(ctx, userID, models.ActivityLogout, "auth", meta)
	return nil
}

// LogoutAll revokes every refresh token of userID.
func (s *AuthService) LogoutAll(ctx context.Context, userID string, meta models.RequestMeta) (int64, error) {
	removed, err := s.UserTokens.RevokeAll(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.recordActivity(ctx, userID, models.ActivityLogoutAll, "auth", meta)
	return removed, nil
}

// ActiveSessions counts the unexpired refresh tokens userID holds.
func (s *AuthService) ActiveSessions(ctx context.Context, userID string) (int, error) {
	return s.UserTokens.CountActive(ctx, userID)
}

// AdminLogout revokes a single admin refresh token held by adminID.
func (s *AuthService) AdminLogout(ctx context.Context, adminID, refreshToken string, meta models.RequestMeta) error {
	if err := s.AdminTokens.Revoke(ctx, refreshToken, adminID); err != nil {
		return err
	}
	s.recordAdminAudit(ctx, adminID, models.AuditActionAdminLogout, "", meta.IP)
	return nil
}

// ChangePassword replaces the password of userID and revokes all of the
// user's refresh tokens.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest, meta models.RequestMeta) error {
	if err := s.Validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change password payload")
	}

	user, err := s.findUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}
	if !s.Credentials.Verify(user.PasswordHash, req.OldPassword) {
		return appErrors.Clone(appErrors.ErrForbidden, "old password does not match")
	}

	newHash, err := s.Credentials.Hash(req.NewPassword)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	storeCtx, cancel := withStoreTimeout(ctx, s.config.StoreTimeout)
	err = s.Users.UpdatePassword(storeCtx, userID, newHash, s.now().UTC())
	cancel()
	if err != nil {
		return storeError(err, "failed to update password")
	}

	if _, err := s.UserTokens.RevokeAll(ctx, userID); err != nil {
		s.Logger.Warn("failed to revoke refresh tokens after password change", zap.String("user_id", userID), zap.Error(err))
	}
	s.recordActivity(ctx, userID, models.ActivityPasswordChange, "auth", meta)
	return nil
}

// SuspendUser suspends an account and revokes its refresh tokens so the
// suspension holds at the next refresh rather than the next login.
func (s *AuthService) SuspendUser(ctx context.Context, userID, approverID string) (*models.User, error) {
	user, err := s.Accounts.Suspend(ctx, userID, approverID)
	if err != nil {
		return nil, err
	}
	removed, err := s.UserTokens.RevokeAll(ctx, userID)
	if err != nil {
		// Refresh re-checks status, so a suspended user still cannot renew.
		s.Logger.Warn("failed to revoke refresh tokens of suspended user", zap.String("user_id", userID), zap.Error(err))
		return user, nil
	}
	s.Logger.Info("revoked refresh tokens of suspended user", zap.String("user_id", userID), zap.Int64("tokens", removed))
	return user, nil
}

// ValidateAccessToken parses an access token and checks it was minted for
// the surface identified by kind.
func (s *AuthService) ValidateAccessToken(tokenString, kind string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.AccessTokenSecret), nil
	}, jwt.WithIssuer(s.config.Issuer))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	if claims.Kind != kind {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "token not valid for this surface")
	}
	return claims, nil
}

// session is a signed access token plus the principal it describes.
type session struct {
	accessToken string
	expiresIn   time.Duration
	issuedAt    time.Time
	principal   models.PrincipalInfo
}

func (ss *session) response(refresh *models.IssuedToken) *models.LoginResponse {
	return &models.LoginResponse{
		AccessToken:      ss.accessToken,
		RefreshToken:     refresh.Token,
		RefreshExpiresAt: refresh.ExpiresAt,
		ExpiresIn:        int64(ss.expiresIn.Seconds()),
		Principal:        ss.principal,
		IssuedAt:         ss.issuedAt,
	}
}

func (s *AuthService) userSession(ctx context.Context, user *models.User) (*session, error) {
	perms, err := s.Permissions.EffectivePermissions(ctx, user.RoleID)
	if err != nil {
		return nil, err
	}

	storeCtx, cancel := withStoreTimeout(ctx, s.config.StoreTimeout)
	role, err := s.Roles.FindRoleByID(storeCtx, user.RoleID)
	cancel()
	if err != nil {
		return nil, storeError(err, "failed to load role")
	}

	claims := &models.JWTClaims{
		PrincipalID: user.ID,
		Kind:        models.KindUser,
		Email:       user.Email,
		RoleID:      role.ID,
		Role:        role.Name,
		Permissions: perms.Names(),
	}
	return s.sign(claims, s.config.AccessTokenExpiry)
}

func (s *AuthService) adminSession(admin *models.AdminUser) (*session, error) {
	claims := &models.JWTClaims{
		PrincipalID: admin.ID,
		Kind:        models.KindAdmin,
		Email:       admin.Email,
	}
	return s.sign(claims, s.config.AdminAccessTokenExpiry)
}

func (s *AuthService) sign(claims *models.JWTClaims, ttl time.Duration) (*session, error) {
	issuedAt := s.now().UTC()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    s.config.Issuer,
		Subject:   claims.PrincipalID,
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		NotBefore: jwt.NewNumericDate(issuedAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.AccessTokenSecret))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}
	return &session{
		accessToken: signed,
		expiresIn:   ttl,
		issuedAt:    issuedAt,
		principal: models.PrincipalInfo{
			ID:          claims.PrincipalID,
			Kind:        claims.Kind,
			Email:       claims.Email,
			Role:        claims.Role,
			Permissions: claims.Permissions,
		},
	}, nil
}

// findUserByEmail returns nil without error when the email is unknown.
func (s *AuthService) findUserByEmail(ctx context.Context, email string) (*models.User, error) {
	storeCtx, cancel := withStoreTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	user, err := s.Users.FindByEmail(storeCtx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storeError(err, "failed to fetch user")
	}
	return user, nil
}

// findUserByID returns nil without error when the user is gone.
func (s *AuthService) findUserByID(ctx context.Context, id string) (*models.User, error) {
	storeCtx, cancel := withStoreTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	user, err := s.Users.FindByID(storeCtx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storeError(err, "failed to load user")
	}
	return user, nil
}

func (s *AuthService) recordActivity(ctx context.Context, userID, action, resource string, meta models.RequestMeta) {
	recordQuietly(ctx, s.Recorder, s.Logger, RecordRequest{
		Kind:        models.RecordActivity,
		PrincipalID: &userID,
		Action:      action,
		Resource:    resource,
		IP:          meta.IP,
		Device:      meta.Device,
	})
	if s.Alerts != nil {
		s.Alerts.Notify(ctx, userID)
	}
}

func (s *AuthService) recordAdminAudit(ctx context.Context, adminID, action, resource, ip string) {
	recordQuietly(ctx, s.Recorder, s.Logger, RecordRequest{
		Kind:     models.RecordAudit,
		Action:   action,
		Resource: adminResource(adminID, resource),
		IP:       ip,
	})
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
