package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/clinical-iam/internal/models"
)

func TestCreateActivity(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectExec("INSERT INTO user_activity_logs").WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CreateActivity(context.Background(), &models.UserActivityLog{ID: "01H", UserID: "u1", Action: models.ActivityLogin, CreatedAt: time.Now()})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAuditFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, action, resource, ip, created_at FROM audit_logs WHERE 1=1 AND action = $1 AND created_at >= $2 ORDER BY created_at ASC, id ASC LIMIT 10")).
		WithArgs("APPROVE", from).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "action", "resource", "ip", "created_at"}).AddRow("01H", "admin", "APPROVE", "u1", nil, now))

	logs, err := repo.ListAudit(context.Background(), models.AuditFilter{Action: "APPROVE", From: &from, Limit: 10})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "u1", logs[0].Resource)
	assert.Nil(t, logs[0].IP)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListActivityWindow(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	since := time.Now().Add(-time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("FROM user_activity_logs WHERE user_id = $1 AND created_at >= $2 ORDER BY created_at DESC, id DESC LIMIT $3")).
		WithArgs("u1", since, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "action", "resource", "ip", "device", "created_at"}).
			AddRow("2", "u1", "LOGIN_FAILED", "auth", "10.0.0.1", "cli", time.Now()).
			AddRow("1", "u1", "LOGIN_FAILED", "auth", "10.0.0.2", "cli", since))

	logs, err := repo.ListActivity(context.Background(), "u1", since, 50)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}
