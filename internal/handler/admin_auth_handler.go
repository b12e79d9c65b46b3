package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/clinical-iam/internal/models"
	"github.com/noah-isme/clinical-iam/pkg/response"
)

type adminAuthService interface {
	AdminLogin(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error)
	AdminRefresh(ctx context.Context, req models.RefreshTokenRequest) (*models.LoginResponse, error)
	AdminLogout(ctx context.Context, adminID, refreshToken string, meta models.RequestMeta) error
}

// AdminAuthHandler is the administrator authentication surface. Its tokens
// are never accepted on the user surface and vice versa.
type AdminAuthHandler struct {
	service adminAuthService
}

// NewAdminAuthHandler constructs an AdminAuthHandler.
func NewAdminAuthHandler(svc adminAuthService) *AdminAuthHandler {
	return &AdminAuthHandler{service: svc}
}

// Login godoc
// @Summary Authenticate administrator
// @Tags Admin Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /admin/auth/login [post]
func (h *AdminAuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if !bindJSON(c, &req, "invalid login payload") {
		return
	}
	meta := requestMeta(c)
	req.IP, req.Device = meta.IP, meta.Device

	res, err := h.service.AdminLogin(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Refresh godoc
// @Summary Refresh administrator token
// @Tags Admin Authentication
// @Accept json
// @Produce json
// @Param payload body models.RefreshTokenRequest true "Refresh payload"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /admin/auth/refresh [post]
func (h *AdminAuthHandler) Refresh(c *gin.Context) {
	var req models.RefreshTokenRequest
	if !bindJSON(c, &req, "invalid refresh payload") {
		return
	}
	meta := requestMeta(c)
	req.IP, req.Device = meta.IP, meta.Device

	res, err := h.service.AdminRefresh(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Logout godoc
// @Summary Logout administrator session
// @Tags Admin Authentication
// @Accept json
// @Param payload body models.LogoutRequest true "Refresh token"
// @Success 204
// @Router /admin/auth/logout [post]
func (h *AdminAuthHandler) Logout(c *gin.Context) {
	claims, ok := currentAdmin(c)
	if !ok {
		return
	}
	var req models.LogoutRequest
	if !bindJSON(c, &req, "refresh token required") {
		return
	}
	if err := h.service.AdminLogout(c.Request.Context(), claims.PrincipalID, req.RefreshToken, requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
