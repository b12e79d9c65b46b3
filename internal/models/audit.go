package models

import "time"

// Audit actions written to audit_logs.
const (
	AuditActionRegister         = "REGISTER"
	AuditActionApprove          = "APPROVE"
	AuditActionReject           = "REJECT"
	AuditActionSuspend          = "SUSPEND"
	AuditActionAdminLogin       = "ADMIN_LOGIN"
	AuditActionAdminLogout      = "ADMIN_LOGOUT"
	AuditActionAdminRefresh     = "ADMIN_REFRESH"
	AuditActionRoleCreate       = "ROLE_CREATE"
	AuditActionRoleUpdate       = "ROLE_UPDATE"
	AuditActionRoleDelete       = "ROLE_DELETE"
	AuditActionPermissionCreate = "PERMISSION_CREATE"
	AuditActionPermissionGrant  = "PERMISSION_GRANT"
	AuditActionPermissionRevoke = "PERMISSION_REVOKE"
	AuditActionAlertResolve     = "ALERT_RESOLVE"
	AuditActionAuditExport      = "AUDIT_EXPORT"
	AuditActionTokenPurge       = "TOKEN_PURGE"
	AuditActionAdminRead        = "ADMIN_READ"
)

// Activity actions written to user_activity_logs.
const (
	ActivityLogin          = "LOGIN"
	ActivityLoginFailed    = "LOGIN_FAILED"
	ActivityLogout         = "LOGOUT"
	ActivityLogoutAll      = "LOGOUT_ALL"
	ActivityRefresh        = "REFRESH"
	ActivityPasswordChange = "PASSWORD_CHANGE"
	ActivityRecordAccess   = "RECORD_ACCESS"
	ActivityAccessDenied   = "ACCESS_DENIED"
)

// RecordKind selects the sink of a recorded event.
type RecordKind string

const (
	RecordAudit    RecordKind = "audit"
	RecordActivity RecordKind = "activity"
)

// AuditLog is an append-only record of an administrative or system action.
// UserID is nil for system and admin-initiated actions.
type AuditLog struct {
	ID        string    `db:"id" json:"id"`
	UserID    *string   `db:"user_id" json:"user_id,omitempty"`
	Action    string    `db:"action" json:"action"`
	Resource  string    `db:"resource" json:"resource"`
	IP        *string   `db:"ip" json:"ip,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// UserActivityLog is an append-only record of an end-user action.
type UserActivityLog struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Action    string    `db:"action" json:"action"`
	Resource  string    `db:"resource" json:"resource"`
	IP        string    `db:"ip" json:"ip"`
	Device    string    `db:"device" json:"device"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AuditFilter narrows audit log listings and exports.
type AuditFilter struct {
	UserID *string
	Action string
	From   *time.Time
	To     *time.Time
	Limit  int
}
