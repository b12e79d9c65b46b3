package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/clinical-iam/internal/models"
	"github.com/noah-isme/clinical-iam/pkg/response"
)

type roleService interface {
	ListRoles(ctx context.Context) ([]models.Role, error)
	CreateRole(ctx context.Context, adminID string, req models.CreateRoleRequest) (*models.Role, error)
	UpdateRole(ctx context.Context, adminID, roleID string, req models.UpdateRoleRequest) (*models.Role, error)
	DeleteRole(ctx context.Context, adminID, roleID string) error
	ListPermissions(ctx context.Context) ([]models.Permission, error)
	CreatePermission(ctx context.Context, adminID string, req models.CreatePermissionRequest) (*models.Permission, error)
	Grant(ctx context.Context, adminID, roleID, permissionID string) error
	Revoke(ctx context.Context, adminID, roleID, permissionID string) error
}

// RoleHandler manages the role and permission catalogue.
type RoleHandler struct {
	roles roleService
}

// NewRoleHandler constructs a RoleHandler.
func NewRoleHandler(roles roleService) *RoleHandler {
	return &RoleHandler{roles: roles}
}

// ListRoles godoc
// @Summary List roles
// @Tags Roles
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/roles [get]
func (h *RoleHandler) ListRoles(c *gin.Context) {
	roles, err := h.roles.ListRoles(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roles, nil)
}

// CreateRole godoc
// @Summary Create role
// @Tags Roles
// @Accept json
// @Produce json
// @Param payload body models.CreateRoleRequest true "Role"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/roles [post]
func (h *RoleHandler) CreateRole(c *gin.Context) {
	claims, ok := currentAdmin(c)
	if !ok {
		return
	}
	var req models.CreateRoleRequest
	if !bindJSON(c, &req, "invalid role payload") {
		return
	}
	role, err := h.roles.CreateRole(c.Request.Context(), claims.PrincipalID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, role)
}

// UpdateRole godoc
// @Summary Update role
// @Tags Roles
// @Accept json
// @Produce json
// @Param id path string true "Role ID"
// @Param payload body models.UpdateRoleRequest true "Changes"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/roles/{id} [put]
func (h *RoleHandler) UpdateRole(c *gin.Context) {
	claims, ok := currentAdmin(c)
	if !ok {
		return
	}
	var req models.UpdateRoleRequest
	if !bindJSON(c, &req, "invalid role payload") {
		return
	}
	role, err := h.roles.UpdateRole(c.Request.Context(), claims.PrincipalID, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, role, nil)
}

// DeleteRole godoc
// @Summary Delete role
// @Description Fails with 409 while any user holds the role
// @Tags Roles
// @Param id path string true "Role ID"
// @Success 204
// @Failure 409 {object} response.Envelope
// @Router /admin/roles/{id} [delete]
func (h *RoleHandler) DeleteRole(c *gin.Context) {
	claims, ok := currentAdmin(c)
	if !ok {
		return
	}
	if err := h.roles.DeleteRole(c.Request.Context(), claims.PrincipalID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListPermissions godoc
// @Summary List permissions
// @Tags Roles
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/permissions [get]
func (h *RoleHandler) ListPermissions(c *gin.Context) {
	perms, err := h.roles.ListPermissions(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, perms, nil)
}

// CreatePermission godoc
// @Summary Create permission
// @Tags Roles
// @Accept json
// @Produce json
// @Param payload body models.CreatePermissionRequest true "Permission"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/permissions [post]
func (h *RoleHandler) CreatePermission(c *gin.Context) {
	claims, ok := currentAdmin(c)
	if !ok {
		return
	}
	var req models.CreatePermissionRequest
	if !bindJSON(c, &req, "invalid permission payload") {
		return
	}
	perm, err := h.roles.CreatePermission(c.Request.Context(), claims.PrincipalID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, perm)
}

// Grant godoc
// @Summary Grant permission to role
// @Tags Roles
// @Param id path string true "Role ID"
// @Param permissionId path string true "Permission ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /admin/roles/{id}/permissions/{permissionId} [put]
func (h *RoleHandler) Grant(c *gin.Context) {
	h.edge(c, h.roles.Grant)
}

// Revoke godoc
// @Summary Revoke permission from role
// @Tags Roles
// @Param id path string true "Role ID"
// @Param permissionId path string true "Permission ID"
// @Success 204
// @Router /admin/roles/{id}/permissions/{permissionId} [delete]
func (h *RoleHandler) Revoke(c *gin.Context) {
	h.edge(c, h.roles.Revoke)
}

func (h *RoleHandler) edge(c *gin.Context, apply func(ctx context.Context, adminID, roleID, permissionID string) error) {
	claims, ok := currentAdmin(c)
	if !ok {
		return
	}
	if err := apply(c.Request.Context(), claims.PrincipalID, c.Param("id"), c.Param("permissionId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
