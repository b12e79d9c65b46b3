package service

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/clinical-iam/internal/models"
	appErrors "github.com/noah-isme/clinical-iam/pkg/errors"
)

func TestRegisterApproveLoginRotate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addUser(t, "approver-1", "approver@clinic.test", approverRoleID, models.AccountApproved)

	user, err := h.accounts.SignUp(ctx, models.RegisterRequest{Email: "Doc@Clinic.test", Password: "password123", RoleID: doctorRoleID}, models.RequestMeta{IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, models.AccountPending, user.Status)
	assert.Equal(t, "doc@clinic.test", user.Email)

	_, err = h.auth.Login(ctx, models.LoginRequest{Email: "doc@clinic.test", Password: "password123"})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrAccountNotApproved)
	assert.Equal(t, 0, h.userTokens.count(user.ID))

	_, err = h.accounts.Approve(ctx, user.ID, "approver-1")
	require.NoError(t, err)

	resp, err := h.auth.Login(ctx, models.LoginRequest{Email: "doc@clinic.test", Password: "password123", IP: "10.0.0.1", Device: "ios"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, []string{models.PermissionPatientRead, models.PermissionPrescriptionRead}, resp.Principal.Permissions)
	assert.Equal(t, "doctor", resp.Principal.Role)

	claims, err := h.auth.ValidateAccessToken(resp.AccessToken, models.KindUser)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.PrincipalID)
	assert.True(t, claims.HasPermission(models.PermissionPatientRead))

	rotated, err := h.auth.Refresh(ctx, models.RefreshTokenRequest{RefreshToken: resp.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, resp.RefreshToken, rotated.RefreshToken)

	_, err = h.auth.Refresh(ctx, models.RefreshTokenRequest{RefreshToken: resp.RefreshToken})
	assert.ErrorIs(t, err, appErrors.ErrTokenNotFound)
	assert.Equal(t, 1, h.userTokens.count(user.ID))

	assert.Equal(t, []string{models.AuditActionRegister, models.AuditActionApprove}, h.audit.actions())
	assert.Equal(t, []string{models.ActivityLogin, models.ActivityRefresh}, h.audit.activityActions(user.ID))
}

func TestLoginFailuresLookIdenticalPublicly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addUser(t, "u-approved", "ok@clinic.test", doctorRoleID, models.AccountApproved)
	h.addUser(t, "u-pending", "pending@clinic.test", doctorRoleID, models.AccountPending)

	_, unknown := h.auth.Login(ctx, models.LoginRequest{Email: "ghost@clinic.test", Password: "password123"})
	_, wrong := h.auth.Login(ctx, models.LoginRequest{Email: "ok@clinic.test", Password: "not-the-password"})
	_, pending := h.auth.Login(ctx, models.LoginRequest{Email: "pending@clinic.test", Password: "password123"})

	assert.ErrorIs(t, unknown, appErrors.ErrInvalidCredentials)
	assert.ErrorIs(t, wrong, appErrors.ErrInvalidCredentials)
	assert.ErrorIs(t, pending, appErrors.ErrAccountNotApproved)

	public := appErrors.Public(unknown)
	assert.Equal(t, public, appErrors.Public(wrong))
	assert.Equal(t, public, appErrors.Public(pending))
}

func TestFailedLoginRecordsActivityAndNotifies(t *testing.T) {
	h := newHarness(t)
	notifier := new(mockNotifier)
	notifier.On("Notify", "u-1").Return().Once()
	h.auth.Alerts = notifier
	h.addUser(t, "u-1", "a@clinic.test", doctorRoleID, models.AccountApproved)

	_, err := h.auth.Login(context.Background(), models.LoginRequest{Email: "a@clinic.test", Password: "wrong-password", IP: "1.1.1.1"})
	require.Error(t, err)

	assert.Equal(t, []string{models.ActivityLoginFailed}, h.audit.activityActions("u-1"))
	notifier.AssertExpectations(t)
}

func TestUnknownEmailDoesNotNotify(t *testing.T) {
	h := newHarness(t)
	notifier := new(mockNotifier)
	h.auth.Alerts = notifier

	_, err := h.auth.Login(context.Background(), models.LoginRequest{Email: "nobody@clinic.test", Password: "password123"})
	require.Error(t, err)
	notifier.AssertNotCalled(t, "Notify", mock.Anything)
}

func TestSuspendUserRevokesAllTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addUser(t, "u-1", "a@clinic.test", doctorRoleID, models.AccountApproved)

	first, err := h.auth.Login(ctx, models.LoginRequest{Email: "a@clinic.test", Password: "password123"})
	require.NoError(t, err)
	_, err = h.auth.Login(ctx, models.LoginRequest{Email: "a@clinic.test", Password: "password123"})
	require.NoError(t, err)
	require.Equal(t, 2, h.userTokens.count("u-1"))

	user, err := h.auth.SuspendUser(ctx, "u-1", "approver-1")
	require.NoError(t, err)
	assert.Equal(t, models.AccountSuspended, user.Status)
	assert.Equal(t, 0, h.userTokens.count("u-1"))

	_, err = h.auth.Refresh(ctx, models.RefreshTokenRequest{RefreshToken: first.RefreshToken})
	assert.ErrorIs(t, err, appErrors.ErrTokenNotFound)
}

func TestRefreshRevokesWhenAccountNoLongerApproved(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addUser(t, "u-1", "a@clinic.test", doctorRoleID, models.AccountApproved)

	resp, err := h.auth.Login(ctx, models.LoginRequest{Email: "a@clinic.test", Password: "password123"})
	require.NoError(t, err)

	// Suspended without going through SuspendUser, so the token survives.
	_, err = h.accounts.Suspend(ctx, "u-1", "approver-1")
	require.NoError(t, err)
	require.Equal(t, 1, h.userTokens.count("u-1"))

	_, err = h.auth.Refresh(ctx, models.RefreshTokenRequest{RefreshToken: resp.RefreshToken})
	assert.ErrorIs(t, err, appErrors.ErrAccountNotApproved)
	assert.Equal(t, 0, h.userTokens.count("u-1"))
}

func TestAdminAndUserSurfacesAreDisjoint(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addUser(t, "shared-id", "same@clinic.test", doctorRoleID, models.AccountApproved)
	h.addAdmin(t, "shared-id", "same@clinic.test")

	// A user password never authenticates the admin surface.
	_, err := h.auth.AdminLogin(ctx, models.LoginRequest{Email: "same@clinic.test", Password: "password123"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)

	admin, err := h.auth.AdminLogin(ctx, models.LoginRequest{Email: "same@clinic.test", Password: "admin-password"})
	require.NoError(t, err)
	user, err := h.auth.Login(ctx, models.LoginRequest{Email: "same@clinic.test", Password: "password123"})
	require.NoError(t, err)

	_, err = h.auth.Refresh(ctx, models.RefreshTokenRequest{RefreshToken: admin.RefreshToken})
	assert.ErrorIs(t, err, appErrors.ErrTokenNotFound)
	_, err = h.auth.AdminRefresh(ctx, models.RefreshTokenRequest{RefreshToken: user.RefreshToken})
	assert.ErrorIs(t, err, appErrors.ErrTokenNotFound)

	_, err = h.auth.ValidateAccessToken(admin.AccessToken, models.KindUser)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
	_, err = h.auth.ValidateAccessToken(user.AccessToken, models.KindAdmin)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	claims, err := h.auth.ValidateAccessToken(admin.AccessToken, models.KindAdmin)
	require.NoError(t, err)
	assert.Empty(t, claims.Permissions)

	rotated, err := h.auth.AdminRefresh(ctx, models.RefreshTokenRequest{RefreshToken: admin.RefreshToken})
	require.NoError(t, err)
	require.NoError(t, h.auth.AdminLogout(ctx, "shared-id", rotated.RefreshToken, models.RequestMeta{}))
	assert.Equal(t, 0, h.adminTokens.count("shared-id"))
	assert.Equal(t, 1, h.userTokens.count("shared-id"))

	assert.Equal(t, []string{models.AuditActionAdminLogin, models.AuditActionAdminRefresh, models.AuditActionAdminLogout}, h.audit.actions())
	for _, entry := range h.audit.audits {
		assert.Nil(t, entry.UserID)
		assert.Contains(t, entry.Resource, "admin_user:shared-id")
	}
}

func TestValidateAccessTokenRejectsForeignIssuerAndExpiry(t *testing.T) {
	h := newHarness(t)

	foreign := &models.JWTClaims{PrincipalID: "u-1", Kind: models.KindUser, RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, foreign).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = h.auth.ValidateAccessToken(signed, models.KindUser)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	expired := &models.JWTClaims{PrincipalID: "u-1", Kind: models.KindUser, RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    testIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}
	signed, err = jwt.NewWithClaims(jwt.SigningMethodHS256, expired).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = h.auth.ValidateAccessToken(signed, models.KindUser)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestLogoutAndChangePassword(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addUser(t, "u-1", "a@clinic.test", doctorRoleID, models.AccountApproved)
	h.addUser(t, "u-2", "b@clinic.test", doctorRoleID, models.AccountApproved)

	first, err := h.auth.Login(ctx, models.LoginRequest{Email: "a@clinic.test", Password: "password123"})
	require.NoError(t, err)
	_, err = h.auth.Login(ctx, models.LoginRequest{Email: "a@clinic.test", Password: "password123"})
	require.NoError(t, err)

	// Another user's token cannot be revoked.
	err = h.auth.Logout(ctx, "u-2", first.RefreshToken, models.RequestMeta{})
	assert.ErrorIs(t, err, appErrors.ErrTokenNotFound)

	require.NoError(t, h.auth.Logout(ctx, "u-1", first.RefreshToken, models.RequestMeta{}))
	assert.Equal(t, 1, h.userTokens.count("u-1"))

	err = h.auth.ChangePassword(ctx, "u-1", models.ChangePasswordRequest{OldPassword: "nope", NewPassword: "brand-new-pass"}, models.RequestMeta{})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	require.NoError(t, h.auth.ChangePassword(ctx, "u-1", models.ChangePasswordRequest{OldPassword: "password123", NewPassword: "brand-new-pass"}, models.RequestMeta{}))
	assert.Equal(t, 0, h.userTokens.count("u-1"))

	_, err = h.auth.Login(ctx, models.LoginRequest{Email: "a@clinic.test", Password: "password123"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
	_, err = h.auth.Login(ctx, models.LoginRequest{Email: "a@clinic.test", Password: "brand-new-pass"})
	assert.NoError(t, err)

	removed, err := h.auth.LogoutAll(ctx, "u-1", models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestLoginValidatesPayload(t *testing.T) {
	h := newHarness(t)
	_, err := h.auth.Login(context.Background(), models.LoginRequest{Email: "not-an-email", Password: "x"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}
