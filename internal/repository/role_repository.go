package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/clinical-iam/internal/models"
	"github.com/noah-isme/clinical-iam/pkg/database"
)

// RoleRepository manages roles, permissions and the grants between them.
type RoleRepository struct {
	db *sqlx.DB
}

// NewRoleRepository creates a new instance of RoleRepository.
func NewRoleRepository(db *sqlx.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// PermissionNames returns the names granted to a role, sorted. A role with no
// grants yields an empty slice.
func (r *RoleRepository) PermissionNames(ctx context.Context, roleID string) ([]string, error) {
	const query = `SELECT p.name FROM permissions p JOIN role_permissions rp ON rp.permission_id = p.id WHERE rp.role_id = $1 ORDER BY p.name`
	names := []string{}
	if err := r.db.SelectContext(ctx, &names, query, roleID); err != nil {
		return nil, fmt.Errorf("list role permissions: %w", err)
	}
	return names, nil
}

// FindRoleByID returns a role by identifier.
func (r *RoleRepository) FindRoleByID(ctx context.Context, id string) (*models.Role, error) {
	const query = `SELECT id, name, description, created_at, updated_at FROM roles WHERE id = $1`
	var role models.Role
	if err := r.db.GetContext(ctx, &role, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find role: %w", err)
	}
	return &role, nil
}

// ListRoles returns every role ordered by name.
func (r *RoleRepository) ListRoles(ctx context.Context) ([]models.Role, error) {
	const query = `SELECT id, name, description, created_at, updated_at FROM roles ORDER BY name`
	var roles []models.Role
	if err := r.db.SelectContext(ctx, &roles, query); err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}

// CreateRole inserts a role. A taken name surfaces as ErrDuplicate.
func (r *RoleRepository) CreateRole(ctx context.Context, role *models.Role) error {
	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now
	const query = `INSERT INTO roles (id, name, description, created_at, updated_at) VALUES (:id, :name, :description, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, role); err != nil {
		return fmt.Errorf("create role: %w", translate(err))
	}
	return nil
}

// UpdateRole updates role attributes.
func (r *RoleRepository) UpdateRole(ctx context.Context, role *models.Role) error {
	role.UpdatedAt = time.Now().UTC()
	const query = `UPDATE roles SET name = :name, description = :description, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, role); err != nil {
		return fmt.Errorf("update role: %w", translate(err))
	}
	return nil
}

// DeleteRole removes a role together with its grants. A role still referenced
// by users fails with ErrReferenced and nothing is removed.
func (r *RoleRepository) DeleteRole(ctx context.Context, id string) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, id); err != nil {
			return fmt.Errorf("delete role grants: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete role: %w", translate(err))
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}

// FindPermissionByID returns a permission by identifier.
func (r *RoleRepository) FindPermissionByID(ctx context.Context, id string) (*models.Permission, error) {
	const query = `SELECT id, name, description, created_at, updated_at FROM permissions WHERE id = $1`
	var perm models.Permission
	if err := r.db.GetContext(ctx, &perm, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find permission: %w", err)
	}
	return &perm, nil
}

// ListPermissions returns every permission ordered by name.
func (r *RoleRepository) ListPermissions(ctx context.Context) ([]models.Permission, error) {
	const query = `SELECT id, name, description, created_at, updated_at FROM permissions ORDER BY name`
	var perms []models.Permission
	if err := r.db.SelectContext(ctx, &perms, query); err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	return perms, nil
}

// CreatePermission inserts a permission. A taken name surfaces as ErrDuplicate.
func (r *RoleRepository) CreatePermission(ctx context.Context, perm *models.Permission) error {
	if perm.ID == "" {
		perm.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	perm.CreatedAt = now
	perm.UpdatedAt = now
	const query = `INSERT INTO permissions (id, name, description, created_at, updated_at) VALUES (:id, :name, :description, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, perm); err != nil {
		return fmt.Errorf("create permission: %w", translate(err))
	}
	return nil
}

// Grant adds the (role, permission) edge. Granting twice is a no-op.
func (r *RoleRepository) Grant(ctx context.Context, edge models.RolePermission) error {
	const query = `INSERT INTO role_permissions (role_id, permission_id) VALUES (:role_id, :permission_id) ON CONFLICT (role_id, permission_id) DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, query, edge); err != nil {
		return fmt.Errorf("grant permission: %w", translate(err))
	}
	return nil
}

// Revoke removes the (role, permission) edge and reports whether it existed.
func (r *RoleRepository) Revoke(ctx context.Context, edge models.RolePermission) (bool, error) {
	const query = `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`
	res, err := r.db.ExecContext(ctx, query, edge.RoleID, edge.PermissionID)
	if err != nil {
		return false, fmt.Errorf("revoke permission: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke permission: %w", err)
	}
	return affected > 0, nil
}
