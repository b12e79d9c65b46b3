package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/clinical-iam/internal/models"
)

const maxAuditPage = 5000

// AuditRepository appends to and reads the audit and activity logs. Rows are
// never updated or deleted.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new instance of AuditRepository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// CreateAudit appends an audit log row.
func (r *AuditRepository) CreateAudit(ctx context.Context, entry *models.AuditLog) error {
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, ip, created_at) VALUES (:id, :user_id, :action, :resource, :ip, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// CreateActivity appends a user activity row.
func (r *AuditRepository) CreateActivity(ctx context.Context, entry *models.UserActivityLog) error {
	const query = `INSERT INTO user_activity_logs (id, user_id, action, resource, ip, device, created_at) VALUES (:id, :user_id, :action, :resource, :ip, :device, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("create activity log: %w", err)
	}
	return nil
}

// ListAudit returns audit rows matching the filter, oldest first.
func (r *AuditRepository) ListAudit(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, error) {
	query := `SELECT id, user_id, action, resource, ip, created_at FROM audit_logs WHERE 1=1`
	var args []interface{}

	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if filter.Action != "" {
		args = append(args, filter.Action)
		query += fmt.Sprintf(" AND action = $%d", len(args))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}

	limit := filter.Limit
	if limit <= 0 || limit > maxAuditPage {
		limit = maxAuditPage
	}
	query += fmt.Sprintf(" ORDER BY created_at ASC, id ASC LIMIT %d", limit)

	var logs []models.AuditLog
	if err := r.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return logs, nil
}

// ListActivity returns up to limit activity rows for a user at or after
// since, newest first.
func (r *AuditRepository) ListActivity(ctx context.Context, userID string, since time.Time, limit int) ([]models.UserActivityLog, error) {
	const query = `SELECT id, user_id, action, resource, ip, device, created_at FROM user_activity_logs WHERE user_id = $1 AND created_at >= $2 ORDER BY created_at DESC, id DESC LIMIT $3`
	var logs []models.UserActivityLog
	if err := r.db.SelectContext(ctx, &logs, query, userID, since, limit); err != nil {
		return nil, fmt.Errorf("list activity logs: %w", err)
	}
	return logs, nil
}
