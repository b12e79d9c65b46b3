package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/clinical-iam/internal/models"
	"github.com/noah-isme/clinical-iam/internal/repository"
	appErrors "github.com/noah-isme/clinical-iam/pkg/errors"
)

type roleRepository interface {
	FindRoleByID(ctx context.Context, id string) (*models.Role, error)
	ListRoles(ctx context.Context) ([]models.Role, error)
	CreateRole(ctx context.Context, role *models.Role) error
	UpdateRole(ctx context.Context, role *models.Role) error
	DeleteRole(ctx context.Context, id string) error
	FindPermissionByID(ctx context.Context, id string) (*models.Permission, error)
	ListPermissions(ctx context.Context) ([]models.Permission, error)
	CreatePermission(ctx context.Context, perm *models.Permission) error
	Grant(ctx context.Context, edge models.RolePermission) error
	Revoke(ctx context.Context, edge models.RolePermission) (bool, error)
}

type roleUsageCounter interface {
	CountByRole(ctx context.Context, roleID string) (int, error)
}

type permissionInvalidator interface {
	Invalidate(ctx context.Context, roleID string)
}

// RoleService provisions roles, permissions and grants from the admin
// surface. Every mutation drops the cached permission set of the role.
type RoleService struct {
	repo         roleRepository
	users        roleUsageCounter
	cache        permissionInvalidator
	recorder     eventRecorder
	validator    *validator.Validate
	logger       *zap.Logger
	storeTimeout time.Duration
}

// NewRoleService constructs a RoleService.
func NewRoleService(repo roleRepository, users roleUsageCounter, cache permissionInvalidator, recorder eventRecorder, validate *validator.Validate, logger *zap.Logger, storeTimeout time.Duration) *RoleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &RoleService{repo: repo, users: users, cache: cache, recorder: recorder, validator: validate, logger: logger, storeTimeout: storeTimeout}
}

// ListRoles returns all roles.
func (s *RoleService) ListRoles(ctx context.Context) ([]models.Role, error) {
	ctx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()
	roles, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, storeError(err, "failed to list roles")
	}
	return roles, nil
}

// CreateRole provisions a role.
func (s *RoleService) CreateRole(ctx context.Context, adminID string, req models.CreateRoleRequest) (*models.Role, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid role payload")
	}
	role := &models.Role{Name: strings.TrimSpace(req.Name), Description: req.Description}

	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.repo.CreateRole(storeCtx, role); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "role name already exists")
		}
		return nil, storeError(err, "failed to create role")
	}
	s.audit(ctx, adminID, models.AuditActionRoleCreate, "role:"+role.ID)
	return role, nil
}

// UpdateRole changes the name or description of a role.
func (s *RoleService) UpdateRole(ctx context.Context, adminID, roleID string, req models.UpdateRoleRequest) (*models.Role, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid role payload")
	}

	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	role, err := s.findRole(storeCtx, roleID)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		role.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		role.Description = *req.Description
	}
	if err := s.repo.UpdateRole(storeCtx, role); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "role name already exists")
		}
		return nil, storeError(err, "failed to update role")
	}
	s.cache.Invalidate(ctx, roleID)
	s.audit(ctx, adminID, models.AuditActionRoleUpdate, "role:"+roleID)
	return role, nil
}

// DeleteRole removes a role and its grants. Roles still assigned to users
// cannot be deleted.
func (s *RoleService) DeleteRole(ctx context.Context, adminID, roleID string) error {
	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	inUse, err := s.users.CountByRole(storeCtx, roleID)
	if err != nil {
		return storeError(err, "failed to check role usage")
	}
	if inUse > 0 {
		return appErrors.Clone(appErrors.ErrConflict, "role in use")
	}

	if err := s.repo.DeleteRole(storeCtx, roleID); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return appErrors.Clone(appErrors.ErrNotFound, "role not found")
		case errors.Is(err, repository.ErrReferenced):
			return appErrors.Clone(appErrors.ErrConflict, "role in use")
		}
		return storeError(err, "failed to delete role")
	}
	s.cache.Invalidate(ctx, roleID)
	s.audit(ctx, adminID, models.AuditActionRoleDelete, "role:"+roleID)
	return nil
}

// ListPermissions returns all permissions.
func (s *RoleService) ListPermissions(ctx context.Context) ([]models.Permission, error) {
	ctx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()
	perms, err := s.repo.ListPermissions(ctx)
	if err != nil {
		return nil, storeError(err, "failed to list permissions")
	}
	return perms, nil
}

// CreatePermission provisions a permission.
func (s *RoleService) CreatePermission(ctx context.Context, adminID string, req models.CreatePermissionRequest) (*models.Permission, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid permission payload")
	}
	perm := &models.Permission{Name: strings.TrimSpace(req.Name), Description: req.Description}

	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.repo.CreatePermission(storeCtx, perm); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "permission name already exists")
		}
		return nil, storeError(err, "failed to create permission")
	}
	s.audit(ctx, adminID, models.AuditActionPermissionCreate, "permission:"+perm.ID)
	return perm, nil
}

// Grant adds permissionID to roleID.
func (s *RoleService) Grant(ctx context.Context, adminID, roleID, permissionID string) error {
	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	if _, err := s.findRole(storeCtx, roleID); err != nil {
		return err
	}
	if _, err := s.repo.FindPermissionByID(storeCtx, permissionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "permission not found")
		}
		return storeError(err, "failed to load permission")
	}
	if err := s.repo.Grant(storeCtx, models.RolePermission{RoleID: roleID, PermissionID: permissionID}); err != nil {
		return storeError(err, "failed to grant permission")
	}
	s.cache.Invalidate(ctx, roleID)
	s.audit(ctx, adminID, models.AuditActionPermissionGrant, "role:"+roleID+"/permission:"+permissionID)
	return nil
}

// Revoke removes permissionID from roleID.
func (s *RoleService) Revoke(ctx context.Context, adminID, roleID, permissionID string) error {
	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	removed, err := s.repo.Revoke(storeCtx, models.RolePermission{RoleID: roleID, PermissionID: permissionID})
	if err != nil {
		return storeError(err, "failed to revoke permission")
	}
	if !removed {
		return appErrors.Clone(appErrors.ErrNotFound, "grant not found")
	}
	s.cache.Invalidate(ctx, roleID)
	s.audit(ctx, adminID, models.AuditActionPermissionRevoke, "role:"+roleID+"/permission:"+permissionID)
	return nil
}

func (s *RoleService) findRole(ctx context.Context, roleID string) (*models.Role, error) {
	role, err := s.repo.FindRoleByID(ctx, roleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "role not found")
		}
		return nil, storeError(err, "failed to load role")
	}
	return role, nil
}

func (s *RoleService) audit(ctx context.Context, adminID, action, resource string) {
	recordQuietly(ctx, s.recorder, s.logger, RecordRequest{
		Kind:     models.RecordAudit,
		Action:   action,
		Resource: adminResource(adminID, resource),
	})
}
