package models

import "time"

// Role groups permissions; every user references exactly one role.
type Role struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Permission is an atomic capability such as "patient:read".
type Permission struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// RolePermission is the (role, permission) edge.
type RolePermission struct {
	RoleID       string `db:"role_id" json:"role_id"`
	PermissionID string `db:"permission_id" json:"permission_id"`
}

// Well-known permission names checked by this service itself.
const (
	PermissionAccountApprove    = "account:approve"
	PermissionAlertManage       = "alert:manage"
	PermissionPatientRead       = "patient:read"
	PermissionPatientWrite      = "patient:write"
	PermissionPrescriptionRead  = "prescription:read"
	PermissionPrescriptionWrite = "prescription:write"
	PermissionLabReportRead     = "lab_report:read"
	PermissionLabReportWrite    = "lab_report:write"
)

// CreateRoleRequest provisions a role.
type CreateRoleRequest struct {
	Name        string `json:"name" validate:"required,max=64"`
	Description string `json:"description" validate:"max=255"`
}

// UpdateRoleRequest changes role attributes.
type UpdateRoleRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=64"`
	Description *string `json:"description" validate:"omitempty,max=255"`
}

// CreatePermissionRequest provisions a permission.
type CreatePermissionRequest struct {
	Name        string `json:"name" validate:"required,max=128"`
	Description string `json:"description" validate:"max=255"`
}
