package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/clinical-iam/internal/models"
)

// AlertRepository persists security alerts. The table carries a partial
// unique index on (user_id, reason) WHERE NOT resolved.
type AlertRepository struct {
	db *sqlx.DB
}

// NewAlertRepository creates a new instance of AlertRepository.
func NewAlertRepository(db *sqlx.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// FindByID returns an alert by identifier.
func (r *AlertRepository) FindByID(ctx context.Context, id string) (*models.SecurityAlert, error) {
	const query = `SELECT id, user_id, risk_score, reason, resolved, created_at FROM security_alerts WHERE id = $1`
	var alert models.SecurityAlert
	if err := r.db.GetContext(ctx, &alert, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find security alert: %w", err)
	}
	return &alert, nil
}

// FindUnresolved returns the open alert for (userID, reason) if any.
func (r *AlertRepository) FindUnresolved(ctx context.Context, userID, reason string) (*models.SecurityAlert, error) {
	const query = `SELECT id, user_id, risk_score, reason, resolved, created_at FROM security_alerts WHERE user_id = $1 AND reason = $2 AND resolved = FALSE LIMIT 1`
	var alert models.SecurityAlert
	if err := r.db.GetContext(ctx, &alert, query, userID, reason); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find unresolved alert: %w", err)
	}
	return &alert, nil
}

// Create inserts an unresolved alert. A concurrent open alert with the same
// (user, reason) surfaces as ErrDuplicate.
func (r *AlertRepository) Create(ctx context.Context, alert *models.SecurityAlert) error {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	alert.Resolved = false
	const query = `INSERT INTO security_alerts (id, user_id, risk_score, reason, resolved, created_at) VALUES (:id, :user_id, :risk_score, :reason, :resolved, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, alert); err != nil {
		return fmt.Errorf("create security alert: %w", translate(err))
	}
	return nil
}

// MarkResolved flips resolved to true and reports whether this call did it.
func (r *AlertRepository) MarkResolved(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE security_alerts SET resolved = TRUE WHERE id = $1 AND resolved = FALSE`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("resolve security alert: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve security alert: %w", err)
	}
	return affected == 1, nil
}

// List returns alerts matching the filter, newest first.
func (r *AlertRepository) List(ctx context.Context, filter models.AlertFilter) ([]models.SecurityAlert, error) {
	query := `SELECT id, user_id, risk_score, reason, resolved, created_at FROM security_alerts WHERE 1=1`
	var args []interface{}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if filter.UnresolvedOnly {
		query += " AND resolved = FALSE"
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", limit)

	var alerts []models.SecurityAlert
	if err := r.db.SelectContext(ctx, &alerts, query, args...); err != nil {
		return nil, fmt.Errorf("list security alerts: %w", err)
	}
	return alerts, nil
}
